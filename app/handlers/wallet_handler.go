package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/wablast/blast-core/app/dto"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
)

const defaultStatementPageSize = 20

// WalletHandlerInterface defines the contract for wallet handlers
type WalletHandlerInterface interface {
	GetBalance(c fiber.Ctx) error
	CheckBalance(c fiber.Ctx) error
	GetStatement(c fiber.Ctx) error
	ExportStatement(c fiber.Ctx) error
}

// WalletHandler serves the klien's own wallet
type WalletHandler struct {
	baseHandler
	ledger businessflow.LedgerFlow
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(ledger businessflow.LedgerFlow, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		baseHandler: newBaseHandler(logger, "wallet_handler"),
		ledger:      ledger,
	}
}

// GetBalance returns the caller's wallet
// @Summary Wallet balance
// @Tags Wallet
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.WalletResponse}
// @Failure 404 {object} dto.APIResponse "Wallet not found"
// @Router /api/v1/wallet [get]
func (h *WalletHandler) GetBalance(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
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

// CheckBalance answers whether the wallet covers an amount right now
// @Summary Check balance
// @Tags Wallet
// @Produce json
// @Param amount query int true "Amount in rupiah"
// @Success 200 {object} dto.APIResponse{data=dto.CheckBalanceResponse}
// @Router /api/v1/wallet/check [get]
func (h *WalletHandler) CheckBalance(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}

	var req dto.CheckBalanceRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.ledger.CheckSufficient(ctx, klienID, req.Amount)
	if err != nil {
		return h.flowError(c, err, "Balance check failed", "BALANCE_CHECK_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Balance checked", dto.CheckBalanceResponse{
		Sufficient: result.Sufficient,
		Required:   result.Required,
		Available:  result.Available,
		Shortage:   result.Shortage,
	})
}

// GetStatement returns one page of ledger transactions, newest first
// @Summary Wallet statement
// @Tags Wallet
// @Produce json
// @Param from query string false "Start (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "End, exclusive (RFC3339 or YYYY-MM-DD)"
// @Param kind query string false "topup, hold, debit or release"
// @Param campaign_id query int false "Campaign"
// @Param page query int false "Page (default 1)"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Success 200 {object} dto.APIResponse{data=dto.StatementResponse}
// @Router /api/v1/wallet/statement [get]
func (h *WalletHandler) GetStatement(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}
	query, ok, err := h.statementQuery(c)
	if !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	page, err := h.ledger.Statement(ctx, klienID, query)
	if err != nil {
		return h.flowError(c, err, "Failed to read statement", "STATEMENT_FAILED")
	}

	items := make([]dto.LedgerTransactionResponse, 0, len(page.Items))
	for _, tx := range page.Items {
		items = append(items, toLedgerTransactionResponse(tx))
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Statement retrieved successfully", dto.StatementResponse{
		Wallet:     toWalletResponse(&page.Wallet),
		Items:      items,
		Pagination: paginationInfo(page.Page, page.Size, page.Total),
	})
}

// ExportStatement downloads the filtered statement as xlsx
// @Summary Export wallet statement
// @Tags Wallet
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {string} string "Excel file"
// @Router /api/v1/wallet/statement/export [get]
func (h *WalletHandler) ExportStatement(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}
	query, ok, err := h.statementQuery(c)
	if !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	filename, data, err := h.ledger.ExportStatement(ctx, klienID, query)
	if err != nil {
		return h.flowError(c, err, "Failed to generate Excel", "DOWNLOAD_FAILED")
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// statementQuery parses the statement filters or writes 400
func (h *WalletHandler) statementQuery(c fiber.Ctx) (businessflow.StatementQuery, bool, error) {
	var req dto.StatementRequest
	if err := c.Bind().Query(&req); err != nil {
		return businessflow.StatementQuery{}, false, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return businessflow.StatementQuery{}, false, err
	}

	query := businessflow.StatementQuery{
		Page: businessflow.Page{Page: req.Page, PageSize: req.PageSize},
	}
	if query.Page.Page == 0 {
		query.Page.Page = 1
	}
	if query.Page.PageSize == 0 {
		query.Page.PageSize = defaultStatementPageSize
	}
	for _, d := range []struct {
		raw string
		dst **time.Time
	}{{req.From, &query.From}, {req.To, &query.To}} {
		if d.raw == "" {
			continue
		}
		t, err := parseDate(d.raw)
		if err != nil {
			return businessflow.StatementQuery{}, false, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid date", "INVALID_DATE", d.raw)
		}
		*d.dst = &t
	}
	if req.Kind != "" {
		kind := models.LedgerTransactionKind(req.Kind)
		query.Kind = &kind
	}
	if req.CampaignID != 0 {
		query.CampaignID = &req.CampaignID
	}
	return query, true, nil
}

// parseDate accepts RFC3339 or a calendar day in Jakarta time
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, utils.JakartaLocation())
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func toWalletResponse(w *models.Wallet) dto.WalletResponse {
	return dto.WalletResponse{
		KlienID:          w.KlienID,
		Currency:         utils.RupiahCurrency,
		Available:        w.Available,
		Held:             w.Held,
		TotalTopup:       w.TotalTopup,
		TotalSpent:       w.TotalSpent,
		WarningThreshold: w.WarningThreshold,
		MinimumThreshold: w.MinimumThreshold,
		UpdatedAt:        w.UpdatedAt,
	}
}

func toBalanceSnapshot(s models.BalanceState) dto.BalanceSnapshot {
	return dto.BalanceSnapshot{
		Available:  s.Available,
		Held:       s.Held,
		TotalTopup: s.TotalTopup,
		TotalSpent: s.TotalSpent,
	}
}

func toLedgerTransactionResponse(tx *models.LedgerTransaction) dto.LedgerTransactionResponse {
	return dto.LedgerTransactionResponse{
		ID:            tx.ID,
		UUID:          tx.UUID.String(),
		Kind:          string(tx.Kind),
		Amount:        tx.Amount,
		CampaignID:    tx.CampaignID,
		ExternalRef:   tx.ExternalRef,
		Reason:        tx.Reason,
		BalanceBefore: toBalanceSnapshot(tx.BalanceBefore),
		BalanceAfter:  toBalanceSnapshot(tx.BalanceAfter),
		CreatedAt:     tx.CreatedAt,
	}
}
