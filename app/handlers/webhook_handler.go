package handlers

import (
	"github.com/gofiber/fiber/v3"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
)

// WebhookHandlerInterface defines the contract for webhook handlers
type WebhookHandlerInterface interface {
	PaymentCallback(c fiber.Ctx) error
	DeliveryCallback(c fiber.Ctx) error
}

// WebhookHandler receives signed callbacks. The raw body is verified, so it must not be
// re-encoded before reaching the flow.
type WebhookHandler struct {
	baseHandler
	webhookFlow businessflow.WebhookFlow
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(webhookFlow businessflow.WebhookFlow, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		baseHandler: newBaseHandler(logger, "webhook_handler"),
		webhookFlow: webhookFlow,
	}
}

// PaymentCallback credits a confirmed top-up
// @Summary Payment gateway callback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Signature header string true "Hex HMAC-SHA256 of the body"
// @Success 200 {object} dto.APIResponse{data=dto.PaymentWebhookResponse}
// @Failure 401 {object} dto.APIResponse "Invalid signature"
// @Router /api/v1/webhooks/payment [post]
func (h *WebhookHandler) PaymentCallback(c fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := h.webhookFlow.HandlePayment(ctx, c.Body(), c.Get(utils.PaymentSignatureHeader))
	if err != nil {
		return h.flowError(c, err, "Payment callback failed", "PAYMENT_WEBHOOK_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Payment callback processed", resp)
}

// DeliveryCallback records message delivery statuses
// @Summary WhatsApp delivery status callback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Hub-Signature-256 header string true "sha256=<hex HMAC-SHA256 of the body>"
// @Success 200 {object} dto.APIResponse{data=dto.DeliveryWebhookResponse}
// @Failure 401 {object} dto.APIResponse "Invalid signature"
// @Router /api/v1/webhooks/whatsapp [post]
func (h *WebhookHandler) DeliveryCallback(c fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := h.webhookFlow.HandleDelivery(ctx, c.Body(), c.Get(utils.DeliverySignatureHeader))
	if err != nil {
		return h.flowError(c, err, "Delivery callback failed", "DELIVERY_WEBHOOK_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Delivery callback processed", resp)
}
