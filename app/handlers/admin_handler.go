package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/wablast/blast-core/app/dto"
	businessflow "github.com/wablast/blast-core/business_flow"
	"go.uber.org/zap"
)

// AdminHandlerInterface defines the contract for platform admin handlers
type AdminHandlerInterface interface {
	ProvisionWallet(c fiber.Ctx) error
	GetWallet(c fiber.Ctx) error
	ReconcileWallet(c fiber.Ctx) error
	ListStaleCampaigns(c fiber.Ctx) error
	FailCampaign(c fiber.Ctx) error
	OverrideCampaignPrice(c fiber.Ctx) error
}

// AdminHandler serves operator endpoints that cross tenants
type AdminHandler struct {
	baseHandler
	ledger     businessflow.LedgerFlow
	campaigns  businessflow.CampaignFlow
	staleAfter time.Duration
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(ledger businessflow.LedgerFlow, campaigns businessflow.CampaignFlow, staleAfter time.Duration, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		baseHandler: newBaseHandler(logger, "admin_handler"),
		ledger:      ledger,
		campaigns:   campaigns,
		staleAfter:  staleAfter,
	}
}

// ProvisionWallet opens a wallet for a klien; calling it again returns the existing wallet
// @Summary Provision wallet
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body dto.ProvisionWalletRequest true "Wallet"
// @Success 201 {object} dto.APIResponse{data=dto.WalletResponse}
// @Router /api/v1/admin/wallets [post]
func (h *AdminHandler) ProvisionWallet(c fiber.Ctx) error {
	var req dto.ProvisionWalletRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	wallet, err := h.ledger.ProvisionWallet(ctx, req.KlienID, req.WarningThreshold, req.MinimumThreshold)
	if err != nil {
		return h.flowError(c, err, "Failed to provision wallet", "WALLET_PROVISION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Wallet provisioned", toWalletResponse(wallet))
}

// GetWallet returns any klien's wallet
// @Summary Get klien wallet
// @Tags Admin
// @Produce json
// @Param klien_id path int true "Klien ID"
// @Success 200 {object} dto.APIResponse{data=dto.WalletResponse}
// @Router /api/v1/admin/wallets/{klien_id} [get]
func (h *AdminHandler) GetWallet(c fiber.Ctx) error {
	klienID, ok, err := h.idParam(c, "klien_id")
	if !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	wallet, err := h.ledger.Balance(ctx, klienID)
	if err != nil {
		return h.flowError(c, err, "Failed to read wallet", "WALLET_READ_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Wallet retrieved successfully", toWalletResponse(wallet))
}

// ReconcileWallet replays a wallet's ledger and reports drift
// @Summary Reconcile wallet
// @Tags Admin
// @Produce json
// @Param klien_id path int true "Klien ID"
// @Success 200 {object} dto.APIResponse{data=dto.ReconcileResponse}
// @Router /api/v1/admin/wallets/{klien_id}/reconcile [post]
func (h *AdminHandler) ReconcileWallet(c fiber.Ctx) error {
	klienID, ok, err := h.idParam(c, "klien_id")
	if !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	report, err := h.ledger.Reconcile(ctx, klienID)
	if err != nil {
		return h.flowError(c, err, "Reconciliation failed", "RECONCILE_FAILED")
	}
	message := "Wallet is consistent with its ledger"
	if !report.Consistent {
		message = "Wallet does not match its ledger"
		h.logger.Warn("wallet drift detected", zap.Uint("klien_id", klienID), zap.Strings("mismatches", report.Mismatches))
	}
	return h.SuccessResponse(c, fiber.StatusOK, message, toReconcileResponse(report))
}

// ListStaleCampaigns lists running campaigns with no recent dispatch activity
// @Summary Stale running campaigns
// @Tags Admin
// @Produce json
// @Success 200 {object} dto.APIResponse{data=[]dto.StaleCampaignResponse}
// @Router /api/v1/admin/campaigns/stale [get]
func (h *AdminHandler) ListStaleCampaigns(c fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	campaigns, err := h.campaigns.StaleRunning(ctx, h.staleAfter)
	if err != nil {
		return h.flowError(c, err, "Failed to list stale campaigns", "STALE_LIST_FAILED")
	}

	items := make([]dto.StaleCampaignResponse, 0, len(campaigns))
	for _, campaign := range campaigns {
		item := dto.StaleCampaignResponse{
			ID:      campaign.ID,
			KlienID: campaign.KlienID,
			Name:    campaign.Name,
		}
		if campaign.LastDispatchAt != nil {
			item.LastDispatchAt = campaign.LastDispatchAt.UTC().Format(time.RFC3339)
		}
		if done := campaign.SentCount + campaign.FailedCount; done < campaign.TotalTargets {
			item.PendingCount = campaign.TotalTargets - done
		}
		items = append(items, item)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Stale campaigns retrieved", items)
}

// FailCampaign marks a campaign failed and releases its remaining hold
// @Summary Fail campaign
// @Tags Admin
// @Accept json
// @Produce json
// @Param klien_id path int true "Klien ID"
// @Param id path int true "Campaign ID"
// @Param request body dto.FailCampaignRequest true "Cause"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Router /api/v1/admin/kliens/{klien_id}/campaigns/{id}/fail [post]
func (h *AdminHandler) FailCampaign(c fiber.Ctx) error {
	klienID, ok, err := h.idParam(c, "klien_id")
	if !ok {
		return err
	}
	campaignID, ok, err := h.idParam(c, "id")
	if !ok {
		return err
	}

	var req dto.FailCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	campaign, err := h.campaigns.Fail(ctx, klienID, campaignID, req.Cause)
	if err != nil {
		return h.flowError(c, err, "Failed to fail campaign", "CAMPAIGN_FAIL_FAILED")
	}
	h.logger.Info("campaign failed by admin", zap.Uint("klien_id", klienID), zap.Uint("campaign_id", campaignID), zap.String("cause", req.Cause))
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign marked as failed", toCampaignResponse(campaign))
}

// OverrideCampaignPrice fixes the price of a campaign that has not started
// @Summary Override campaign price
// @Tags Admin
// @Accept json
// @Produce json
// @Param klien_id path int true "Klien ID"
// @Param id path int true "Campaign ID"
// @Param request body dto.OverridePriceRequest true "Price"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Router /api/v1/admin/kliens/{klien_id}/campaigns/{id}/price [put]
func (h *AdminHandler) OverrideCampaignPrice(c fiber.Ctx) error {
	klienID, ok, err := h.idParam(c, "klien_id")
	if !ok {
		return err
	}
	campaignID, ok, err := h.idParam(c, "id")
	if !ok {
		return err
	}

	var req dto.OverridePriceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	campaign, err := h.campaigns.OverridePrice(ctx, klienID, campaignID, req.PricePerMessage)
	if err != nil {
		return h.flowError(c, err, "Failed to override campaign price", "PRICE_OVERRIDE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign price updated", toCampaignResponse(campaign))
}

func toReconcileResponse(r *businessflow.ReconcileReport) dto.ReconcileResponse {
	return dto.ReconcileResponse{
		KlienID:          r.KlienID,
		WalletID:         r.WalletID,
		TransactionCount: r.TransactionCount,
		Consistent:       r.Consistent,
		Expected:         toBalanceSnapshot(r.Expected),
		Actual:           toBalanceSnapshot(r.Actual),
		Mismatches:       r.Mismatches,
		BrokenChainAt:    r.BrokenChainAt,
	}
}
