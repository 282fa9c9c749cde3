package businessflow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/wablast/blast-core/app/dto"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
	"go.uber.org/zap"
)

// Gateway statuses that confirm money was received
var paymentSuccessStatuses = map[string]struct{}{
	"success":    {},
	"paid":       {},
	"settlement": {},
	"capture":    {},
}

// WebhookFlow ingests signed callbacks from the payment gateway and the WhatsApp provider
type WebhookFlow interface {
	HandlePayment(ctx context.Context, body []byte, signature string) (*dto.PaymentWebhookResponse, error)
	HandleDelivery(ctx context.Context, body []byte, signature string) (*dto.DeliveryWebhookResponse, error)
}

// WebhookFlowImpl implements WebhookFlow
type WebhookFlowImpl struct {
	uow            repository.UnitOfWork
	guard          IdempotencyGuard
	ledger         LedgerFlow
	targetRepo     repository.CampaignTargetRepository
	adminTargets   repository.AdminTargetRepository
	publisher      EventPublisher
	paymentSecret  []byte
	deliverySecret []byte
	validate       *validator.Validate
	logger         *zap.Logger
}

// NewWebhookFlow creates a new webhook flow instance
func NewWebhookFlow(
	uow repository.UnitOfWork,
	guard IdempotencyGuard,
	ledger LedgerFlow,
	targetRepo repository.CampaignTargetRepository,
	adminTargets repository.AdminTargetRepository,
	publisher EventPublisher,
	paymentSecret, deliverySecret string,
	logger *zap.Logger,
) *WebhookFlowImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookFlowImpl{
		uow:            uow,
		guard:          guard,
		ledger:         ledger,
		targetRepo:     targetRepo,
		adminTargets:   adminTargets,
		publisher:      publisher,
		paymentSecret:  []byte(paymentSecret),
		deliverySecret: []byte(deliverySecret),
		validate:       validator.New(),
		logger:         logger.Named("webhook"),
	}
}

// SignBody returns the hex HMAC-SHA256 of body
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature with the HMAC of body in constant time.
// A "sha256=" prefix, as sent by the WhatsApp provider, is accepted.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(SignBody(secret, body))
	return hmac.Equal(got, want)
}

// HandlePayment credits a confirmed top-up exactly once per order id
func (w *WebhookFlowImpl) HandlePayment(ctx context.Context, body []byte, signature string) (*dto.PaymentWebhookResponse, error) {
	if !VerifySignature(w.paymentSecret, body, signature) {
		webhookEventsTotal.WithLabelValues("payment", "invalid_signature").Inc()
		w.logger.Warn("payment webhook rejected: invalid signature")
		return nil, ErrSignatureInvalid
	}

	var req dto.PaymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		webhookEventsTotal.WithLabelValues("payment", "invalid_payload").Inc()
		return nil, NewBusinessError("PAYMENT_WEBHOOK_INVALID", "Malformed payment payload", ErrInvalidPayload)
	}
	if err := w.validate.Struct(&req); err != nil {
		webhookEventsTotal.WithLabelValues("payment", "invalid_payload").Inc()
		return nil, NewBusinessError("PAYMENT_WEBHOOK_INVALID", "Invalid payment payload", errors.Join(ErrInvalidPayload, err))
	}

	resp := &dto.PaymentWebhookResponse{OrderID: req.OrderID}

	if _, ok := paymentSuccessStatuses[strings.ToLower(req.Status)]; !ok {
		webhookEventsTotal.WithLabelValues("payment", "not_settled").Inc()
		w.logger.Info("payment webhook acknowledged without credit",
			zap.String("order_id", req.OrderID),
			zap.String("status", req.Status),
		)
		return resp, nil
	}

	if w.guard.KnownReplay(ctx, req.OrderID) {
		return w.duplicatePayment(resp, req), nil
	}

	var wallet *models.Wallet
	err := w.uow.Do(ctx, func(txCtx context.Context) error {
		isNew, err := w.guard.RecordIfNew(txCtx, req.OrderID, models.ProcessedEventSourcePayment, &req.KlienID)
		if err != nil {
			return err
		}
		if !isNew {
			return ErrAlreadyProcessed
		}
		wallet, err = w.ledger.Credit(txCtx, req.KlienID, req.Amount, req.OrderID)
		return err
	})
	if err != nil {
		if IsAlreadyProcessed(err) {
			w.guard.Remember(ctx, req.OrderID)
			return w.duplicatePayment(resp, req), nil
		}
		webhookEventsTotal.WithLabelValues("payment", "error").Inc()
		w.logger.Error("payment webhook failed",
			zap.String("order_id", req.OrderID),
			zap.Uint("klien_id", req.KlienID),
			zap.Error(err),
		)
		return nil, err
	}

	w.guard.Remember(ctx, req.OrderID)
	webhookEventsTotal.WithLabelValues("payment", "credited").Inc()
	w.logger.Info("wallet credited",
		zap.String("order_id", req.OrderID),
		zap.Uint("klien_id", req.KlienID),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("available", wallet.Available),
	)
	publishAll(ctx, w.publisher, w.logger, NewDomainEvent(EventWalletCredited, req.KlienID, map[string]any{
		"order_id":  req.OrderID,
		"amount":    req.Amount,
		"available": wallet.Available,
	}))

	resp.Credited = true
	resp.Available = wallet.Available
	return resp, nil
}

func (w *WebhookFlowImpl) duplicatePayment(resp *dto.PaymentWebhookResponse, req dto.PaymentWebhookRequest) *dto.PaymentWebhookResponse {
	webhookEventsTotal.WithLabelValues("payment", "duplicate").Inc()
	w.logger.Info("payment webhook already processed",
		zap.String("order_id", req.OrderID),
		zap.Uint("klien_id", req.KlienID),
		zap.Error(ErrAlreadyProcessed),
	)
	resp.Duplicate = true
	return resp
}

// HandleDelivery records provider status updates. Money is never touched here: a message
// is charged when the provider accepts it, whatever its later delivery status.
func (w *WebhookFlowImpl) HandleDelivery(ctx context.Context, body []byte, signature string) (*dto.DeliveryWebhookResponse, error) {
	if !VerifySignature(w.deliverySecret, body, signature) {
		webhookEventsTotal.WithLabelValues("delivery", "invalid_signature").Inc()
		w.logger.Warn("delivery webhook rejected: invalid signature")
		return nil, ErrSignatureInvalid
	}

	var req dto.DeliveryWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		webhookEventsTotal.WithLabelValues("delivery", "invalid_payload").Inc()
		return nil, NewBusinessError("DELIVERY_WEBHOOK_INVALID", "Malformed delivery payload", ErrInvalidPayload)
	}
	if err := w.validate.Struct(&req); err != nil {
		webhookEventsTotal.WithLabelValues("delivery", "invalid_payload").Inc()
		return nil, NewBusinessError("DELIVERY_WEBHOOK_INVALID", "Invalid delivery payload", errors.Join(ErrInvalidPayload, err))
	}

	resp := &dto.DeliveryWebhookResponse{}
	for _, entry := range req.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				outcome, err := w.applyDeliveryStatus(ctx, st)
				if err != nil {
					webhookEventsTotal.WithLabelValues("delivery", "error").Inc()
					w.logger.Error("delivery status failed",
						zap.String("message_id", st.ID),
						zap.String("status", st.Status),
						zap.Error(err),
					)
					return nil, err
				}
				webhookEventsTotal.WithLabelValues("delivery", outcome).Inc()
				switch outcome {
				case "applied":
					resp.Applied++
				case "duplicate":
					resp.Duplicates++
				default:
					resp.Unknown++
				}
			}
		}
	}
	return resp, nil
}

func (w *WebhookFlowImpl) applyDeliveryStatus(ctx context.Context, st dto.DeliveryWebhookStatus) (string, error) {
	ref := st.ID + ":" + st.Status
	if w.guard.KnownReplay(ctx, ref) {
		return "duplicate", nil
	}

	outcome := "applied"
	err := w.uow.Do(ctx, func(txCtx context.Context) error {
		target, err := w.adminTargets.ByProviderMessageID(txCtx, st.ID)
		if err != nil {
			return err
		}
		var klienID *uint
		if target != nil {
			klienID = &target.KlienID
		}

		isNew, err := w.guard.RecordIfNew(txCtx, ref, models.ProcessedEventSourceDelivery, klienID)
		if err != nil {
			return err
		}
		if !isNew {
			outcome = "duplicate"
			return nil
		}
		if target == nil {
			outcome = "unknown"
			return nil
		}

		status := models.DeliveryStatus(st.Status)
		if target.DeliveryStatus == nil || status.Rank() > target.DeliveryStatus.Rank() {
			target.DeliveryStatus = &status
		}
		if st.Pricing != nil && st.Pricing.Category != "" {
			category := st.Pricing.Category
			target.PricingCategory = &category
		}
		if status == models.DeliveryStatusFailed && len(st.Errors) > 0 {
			reason := st.Errors[0].Title
			target.FailureReason = &reason
		}
		return w.targetRepo.Update(txCtx, target)
	})
	if err != nil {
		return "", err
	}

	w.guard.Remember(ctx, ref)
	return outcome, nil
}
