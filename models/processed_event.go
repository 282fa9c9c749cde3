package models

import "time"

// ProcessedEventSource identifies which webhook produced an external reference
type ProcessedEventSource string

const (
	ProcessedEventSourcePayment  ProcessedEventSource = "payment"
	ProcessedEventSourceDelivery ProcessedEventSource = "delivery"
)

// ProcessedEvent marks an external event as applied. The unique external_ref is the
// idempotency gate for every webhook-driven mutation.
type ProcessedEvent struct {
	ID          uint                 `gorm:"primaryKey" json:"id"`
	ExternalRef string               `gorm:"type:varchar(255);not null;uniqueIndex:uk_processed_events_external_ref" json:"external_ref"`
	Source      ProcessedEventSource `gorm:"type:varchar(16);not null" json:"source"`
	KlienID     *uint                `gorm:"column:klien_id;index" json:"klien_id,omitempty"`
	CreatedAt   time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName specifies the table name for GORM
func (ProcessedEvent) TableName() string {
	return "processed_events"
}
