package dto

import "time"

// WalletResponse is a klien's wallet balances in rupiah
type WalletResponse struct {
	KlienID          uint      `json:"klien_id"`
	Currency         string    `json:"currency"`
	Available        uint64    `json:"available"`
	Held             uint64    `json:"held"`
	TotalTopup       uint64    `json:"total_topup"`
	TotalSpent       uint64    `json:"total_spent"`
	WarningThreshold uint64    `json:"warning_threshold"`
	MinimumThreshold uint64    `json:"minimum_threshold"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CheckBalanceRequest asks whether the wallet covers an amount
type CheckBalanceRequest struct {
	Amount uint64 `query:"amount" validate:"required,gt=0"`
}

// CheckBalanceResponse answers a balance check
type CheckBalanceResponse struct {
	Sufficient bool   `json:"sufficient"`
	Required   uint64 `json:"required"`
	Available  uint64 `json:"available"`
	Shortage   uint64 `json:"shortage"`
}

// StatementRequest filters the wallet statement. Dates are RFC3339 or YYYY-MM-DD.
type StatementRequest struct {
	From       string `query:"from"`
	To         string `query:"to"`
	Kind       string `query:"kind" validate:"omitempty,oneof=topup hold debit release"`
	CampaignID uint   `query:"campaign_id"`
	Page       int    `query:"page" validate:"omitempty,min=1"`
	PageSize   int    `query:"page_size" validate:"omitempty,min=1,max=100"`
}

// BalanceSnapshot is the wallet state before or after a transaction
type BalanceSnapshot struct {
	Available  uint64 `json:"available"`
	Held       uint64 `json:"held"`
	TotalTopup uint64 `json:"total_topup"`
	TotalSpent uint64 `json:"total_spent"`
}

// LedgerTransactionResponse is one statement line
type LedgerTransactionResponse struct {
	ID            uint            `json:"id"`
	UUID          string          `json:"uuid"`
	Kind          string          `json:"kind"`
	Amount        uint64          `json:"amount"`
	CampaignID    *uint           `json:"campaign_id,omitempty"`
	ExternalRef   *string         `json:"external_ref,omitempty"`
	Reason        string          `json:"reason"`
	BalanceBefore BalanceSnapshot `json:"balance_before"`
	BalanceAfter  BalanceSnapshot `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StatementResponse is one page of the wallet statement
type StatementResponse struct {
	Wallet     WalletResponse              `json:"wallet"`
	Items      []LedgerTransactionResponse `json:"items"`
	Pagination PaginationInfo              `json:"pagination"`
}

// PaginationInfo describes a page of results
type PaginationInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// InsufficientBalanceDetails is returned with 402 responses
type InsufficientBalanceDetails struct {
	Required  uint64 `json:"required"`
	Available uint64 `json:"available"`
	Shortage  uint64 `json:"shortage"`
}
