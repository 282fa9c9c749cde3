package utils

import (
	"time"
)

// Dispatch constants
const (
	// DefaultDispatchBatchSize is the number of targets claimed per batch
	DefaultDispatchBatchSize = 50

	// DefaultClaimLeaseTTL is how long a claimed target stays reserved for its worker
	DefaultClaimLeaseTTL = 5 * time.Minute

	// DefaultStaleRunningAfter flags running campaigns with no dispatch activity
	DefaultStaleRunningAfter = 30 * time.Minute

	// PauseReasonBalanceExhausted is recorded when a campaign stops for lack of funds
	PauseReasonBalanceExhausted = "saldo habis"
)

// Money constants
const (
	// RupiahCurrency is the only currency wallets are kept in
	RupiahCurrency = "IDR"

	// MaxPricePerMessage caps any per-message price, from the price book or an admin override
	MaxPricePerMessage uint64 = 1_000_000
)

// Webhook header names
const (
	PaymentSignatureHeader  = "X-Signature"
	DeliverySignatureHeader = "X-Hub-Signature-256"
)

// Cache key prefixes
const (
	ProcessedEventCachePrefix = "processed_event:"
	ProcessedEventCacheTTL    = 72 * time.Hour
)
