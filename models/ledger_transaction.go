package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerTransactionKind represents the type of balance change
type LedgerTransactionKind string

const (
	LedgerKindTopup   LedgerTransactionKind = "topup"   // available += amount, total_topup += amount
	LedgerKindHold    LedgerTransactionKind = "hold"    // available -= amount, held += amount
	LedgerKindDebit   LedgerTransactionKind = "debit"   // held -= amount, total_spent += amount
	LedgerKindRelease LedgerTransactionKind = "release" // held -= amount, available += amount
)

// Valid checks if the kind is one of the known ledger kinds
func (k LedgerTransactionKind) Valid() bool {
	switch k {
	case LedgerKindTopup, LedgerKindHold, LedgerKindDebit, LedgerKindRelease:
		return true
	default:
		return false
	}
}

// LedgerTransaction is an append-only record of one wallet balance change.
// Rows are never updated or deleted.
type LedgerTransaction struct {
	ID       uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID     uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	WalletID uint      `gorm:"not null;index" json:"wallet_id"`
	KlienID  uint      `gorm:"column:klien_id;not null;index" json:"klien_id"`

	Kind   LedgerTransactionKind `gorm:"type:varchar(16);not null;index" json:"kind"`
	Amount uint64                `gorm:"not null" json:"amount"`

	BalanceBefore BalanceState `gorm:"type:jsonb;not null" json:"balance_before"`
	BalanceAfter  BalanceState `gorm:"type:jsonb;not null" json:"balance_after"`

	CampaignID  *uint   `gorm:"index" json:"campaign_id,omitempty"`
	ExternalRef *string `gorm:"type:varchar(255);index" json:"external_ref,omitempty"`
	Reason      string  `gorm:"type:varchar(255)" json:"reason"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName specifies the table name for GORM
func (LedgerTransaction) TableName() string {
	return "ledger_transactions"
}

// BeforeCreate ensures UUID is set
func (t *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	return nil
}

// LedgerTransactionFilter represents filter criteria for ledger transaction queries.
// KlienID is always applied by the repository and is not part of the filter.
type LedgerTransactionFilter struct {
	Kind          *LedgerTransactionKind `json:"kind,omitempty"`
	CampaignID    *uint                  `json:"campaign_id,omitempty"`
	ExternalRef   *string                `json:"external_ref,omitempty"`
	CreatedAfter  *time.Time             `json:"created_after,omitempty"`
	CreatedBefore *time.Time             `json:"created_before,omitempty"`
}
