package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BalanceState is the set of balances a ledger transaction records before and after it runs
type BalanceState struct {
	Available  uint64 `json:"available"`
	Held       uint64 `json:"held"`
	TotalTopup uint64 `json:"total_topup"`
	TotalSpent uint64 `json:"total_spent"`
}

// Value implements the driver.Valuer interface for BalanceState
func (b BalanceState) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements the sql.Scanner interface for BalanceState
func (b *BalanceState) Scan(value any) error {
	if value == nil {
		*b = BalanceState{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into BalanceState", value)
	}

	return json.Unmarshal(bytes, b)
}

// Wallet is the per-klien balance row. It is only mutated through ledger operations;
// every mutation produces a new Wallet value and exactly one LedgerTransaction.
type Wallet struct {
	ID      uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	KlienID uint      `gorm:"column:klien_id;not null;uniqueIndex:uk_wallets_klien_id" json:"klien_id"`

	Available  uint64 `gorm:"not null;default:0" json:"available"`
	Held       uint64 `gorm:"not null;default:0" json:"held"`
	TotalTopup uint64 `gorm:"not null;default:0" json:"total_topup"`
	TotalSpent uint64 `gorm:"not null;default:0" json:"total_spent"`

	// Notification thresholds, in rupiah
	WarningThreshold uint64 `gorm:"not null;default:0" json:"warning_threshold"`
	MinimumThreshold uint64 `gorm:"not null;default:0" json:"minimum_threshold"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Wallet) TableName() string {
	return "wallets"
}

// BeforeCreate ensures UUID is set
func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.UUID == uuid.Nil {
		w.UUID = uuid.New()
	}
	return nil
}

// State returns the balance portion of the wallet
func (w Wallet) State() BalanceState {
	return BalanceState{
		Available:  w.Available,
		Held:       w.Held,
		TotalTopup: w.TotalTopup,
		TotalSpent: w.TotalSpent,
	}
}

// WithState returns a copy of the wallet carrying the given balances
func (w Wallet) WithState(s BalanceState) Wallet {
	w.Available = s.Available
	w.Held = s.Held
	w.TotalTopup = s.TotalTopup
	w.TotalSpent = s.TotalSpent
	return w
}

// IsArchived reports whether the wallet was archived together with its klien
func (w Wallet) IsArchived() bool {
	return w.ArchivedAt != nil
}
