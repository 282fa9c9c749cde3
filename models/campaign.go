package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusReady     CampaignStatus = "ready"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusReady, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed,
		CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed || s == CampaignStatusCancelled
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// TemplateSnapshot is the frozen copy of a template taken when the campaign selected it.
// Payloads are built from this copy only, never from the live template row.
type TemplateSnapshot struct {
	TemplateID      uint      `json:"template_id"`
	Name            string    `json:"name"`
	Language        string    `json:"language"`
	Category        string    `json:"category"`
	Body            string    `json:"body"`
	Placeholders    []int     `json:"placeholders"`
	VariablesSchema string    `json:"variables_schema,omitempty"`
	CapturedAt      time.Time `json:"captured_at"`
}

// IsZero reports whether no template has been frozen yet
func (s TemplateSnapshot) IsZero() bool {
	return s.TemplateID == 0 && s.Body == ""
}

// Value implements the driver.Valuer interface for TemplateSnapshot
func (s TemplateSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for TemplateSnapshot
func (s *TemplateSnapshot) Scan(value any) error {
	if value == nil {
		*s = TemplateSnapshot{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TemplateSnapshot", value)
	}

	return json.Unmarshal(bytes, s)
}

// Campaign represents a bulk WhatsApp send owned by one klien
type Campaign struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	UUID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	KlienID uint      `gorm:"column:klien_id;not null;index:idx_campaigns_klien_status,priority:1" json:"klien_id"`
	Name    string    `gorm:"type:varchar(255);not null" json:"name"`

	Status CampaignStatus `gorm:"type:varchar(16);not null;default:'draft';index:idx_campaigns_klien_status,priority:2" json:"status"`

	PricePerMessage uint64 `gorm:"not null;default:0" json:"price_per_message"`
	HeldAmount      uint64 `gorm:"not null;default:0" json:"held_amount"`
	DebitedAmount   uint64 `gorm:"not null;default:0" json:"debited_amount"`
	ReleasedAmount  uint64 `gorm:"not null;default:0" json:"released_amount"`

	// PriceOverridden is set when an admin fixed the price instead of the price book
	PriceOverridden bool `gorm:"not null;default:false" json:"price_overridden"`

	// AvailableAtStart is the wallet's available balance right after the campaign's own
	// hold (or at resume); a later drop to zero is somebody else's spending
	AvailableAtStart uint64 `gorm:"not null;default:0" json:"available_at_start"`

	TemplateID       *uint            `json:"template_id,omitempty"`
	TemplateSnapshot TemplateSnapshot `gorm:"type:jsonb;not null;default:'{}'" json:"template_snapshot"`

	TotalTargets uint64 `gorm:"not null;default:0" json:"total_targets"`
	SentCount    uint64 `gorm:"not null;default:0" json:"sent_count"`
	FailedCount  uint64 `gorm:"not null;default:0" json:"failed_count"`

	PauseReason   *string `gorm:"type:text" json:"pause_reason,omitempty"`
	FailureReason *string `gorm:"type:text" json:"failure_reason,omitempty"`

	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastDispatchAt *time.Time `gorm:"index" json:"last_dispatch_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate ensures UUID is set
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	return nil
}

// RemainingHold is the part of the campaign hold that was neither debited nor released
func (c Campaign) RemainingHold() uint64 {
	settled := c.DebitedAmount + c.ReleasedAmount
	if settled >= c.HeldAmount {
		return 0
	}
	return c.HeldAmount - settled
}

// CampaignFilter represents filter criteria for campaign listings inside one klien
type CampaignFilter struct {
	Status        *CampaignStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time      `json:"created_after,omitempty"`
	CreatedBefore *time.Time      `json:"created_before,omitempty"`
}
