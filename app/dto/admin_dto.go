package dto

// ProvisionWalletRequest opens a wallet for a new klien
type ProvisionWalletRequest struct {
	KlienID          uint   `json:"klien_id" validate:"required"`
	WarningThreshold uint64 `json:"warning_threshold"`
	MinimumThreshold uint64 `json:"minimum_threshold" validate:"ltefield=WarningThreshold"`
}

// FailCampaignRequest marks a campaign as failed
type FailCampaignRequest struct {
	Cause string `json:"cause" validate:"required,max=500"`
}

// OverridePriceRequest fixes a campaign's price per message, in rupiah
type OverridePriceRequest struct {
	PricePerMessage uint64 `json:"price_per_message" validate:"required,gt=0,max=1000000"`
}

// ReconcileResponse compares a wallet with the replay of its ledger
type ReconcileResponse struct {
	KlienID          uint            `json:"klien_id"`
	WalletID         uint            `json:"wallet_id"`
	TransactionCount int             `json:"transaction_count"`
	Consistent       bool            `json:"consistent"`
	Expected         BalanceSnapshot `json:"expected"`
	Actual           BalanceSnapshot `json:"actual"`
	Mismatches       []string        `json:"mismatches,omitempty"`
	BrokenChainAt    *uint           `json:"broken_chain_at,omitempty"`
}

// StaleCampaignResponse is a running campaign with no recent dispatch activity
type StaleCampaignResponse struct {
	ID             uint   `json:"id"`
	KlienID        uint   `json:"klien_id"`
	Name           string `json:"name"`
	LastDispatchAt string `json:"last_dispatch_at,omitempty"`
	PendingCount   uint64 `json:"pending_count"`
}
