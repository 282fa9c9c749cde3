package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TargetStatus represents the dispatch state of one recipient
type TargetStatus string

const (
	TargetStatusPending TargetStatus = "pending"
	// TargetStatusSending marks a target whose provider call is in flight; it is never claimed again
	TargetStatusSending TargetStatus = "sending"
	TargetStatusSent    TargetStatus = "sent"
	TargetStatusFailed  TargetStatus = "failed"
)

// Valid checks if the status is valid
func (s TargetStatus) Valid() bool {
	switch s {
	case TargetStatusPending, TargetStatusSending, TargetStatusSent, TargetStatusFailed:
		return true
	default:
		return false
	}
}

// DeliveryStatus is the last status reported by the provider's delivery webhook
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Rank orders delivery statuses so late, out-of-order callbacks never move a target backwards
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryStatusSent:
		return 1
	case DeliveryStatusDelivered:
		return 2
	case DeliveryStatusRead:
		return 3
	case DeliveryStatusFailed:
		return 4
	default:
		return 0
	}
}

// TargetVariables maps placeholder numbers ("1", "2", ...) to their values
type TargetVariables map[string]string

// Value implements the driver.Valuer interface for TargetVariables
func (v TargetVariables) Value() (driver.Value, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(v))
}

// Scan implements the sql.Scanner interface for TargetVariables
func (v *TargetVariables) Scan(value any) error {
	if value == nil {
		*v = TargetVariables{}
		return nil
	}

	var bytes []byte
	switch val := value.(type) {
	case []byte:
		bytes = val
	case string:
		bytes = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into TargetVariables", value)
	}

	out := map[string]string{}
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*v = out
	return nil
}

// BuiltPayload is the provider-ready message frozen at campaign start
type BuiltPayload struct {
	To           string   `json:"to"`
	TemplateName string   `json:"template_name"`
	Language     string   `json:"language"`
	Parameters   []string `json:"parameters"`
	RenderedBody string   `json:"rendered_body"`
}

// IsZero reports whether the payload has not been built yet
func (p BuiltPayload) IsZero() bool {
	return p.To == "" && p.TemplateName == "" && p.RenderedBody == ""
}

// Value implements the driver.Valuer interface for BuiltPayload
func (p BuiltPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for BuiltPayload
func (p *BuiltPayload) Scan(value any) error {
	if value == nil {
		*p = BuiltPayload{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into BuiltPayload", value)
	}

	return json.Unmarshal(bytes, p)
}

// CampaignTarget is one recipient of a campaign
type CampaignTarget struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	CampaignID uint `gorm:"not null;index:idx_targets_campaign_status,priority:1" json:"campaign_id"`
	KlienID    uint `gorm:"column:klien_id;not null;index" json:"klien_id"`

	Phone  string       `gorm:"type:varchar(32);not null" json:"phone"`
	Status TargetStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_targets_campaign_status,priority:2" json:"status"`

	Variables    TargetVariables `gorm:"type:jsonb;not null;default:'{}'" json:"variables"`
	BuiltPayload BuiltPayload    `gorm:"type:jsonb;not null;default:'{}'" json:"built_payload"`

	ProviderMessageID *string `gorm:"type:varchar(128);uniqueIndex:uk_targets_provider_message_id" json:"provider_message_id,omitempty"`
	FailureReason     *string `gorm:"type:text" json:"failure_reason,omitempty"`
	Debited           bool    `gorm:"not null;default:false" json:"debited"`

	DeliveryStatus  *DeliveryStatus `gorm:"type:varchar(16)" json:"delivery_status,omitempty"`
	PricingCategory *string         `gorm:"type:varchar(32)" json:"pricing_category,omitempty"`

	// Batch lease; a target is claimed while ClaimToken is set and ClaimedAt is recent
	ClaimToken *uuid.UUID `gorm:"type:uuid;index" json:"-"`
	ClaimedAt  *time.Time `json:"-"`

	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (CampaignTarget) TableName() string {
	return "campaign_targets"
}
