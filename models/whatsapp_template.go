package models

import "time"

// Template statuses as written by the template approval service
const (
	TemplateStatusPending  = "pending"
	TemplateStatusApproved = "approved"
	TemplateStatusRejected = "rejected"
)

// WhatsAppTemplate is owned by the template collaborator. This service only reads it,
// once, when a campaign selects it.
type WhatsAppTemplate struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	KlienID         uint      `gorm:"column:klien_id;not null;index" json:"klien_id"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	Language        string    `gorm:"type:varchar(16);not null;default:'id'" json:"language"`
	Category        string    `gorm:"type:varchar(32);not null" json:"category"`
	Status          string    `gorm:"type:varchar(16);not null" json:"status"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
	Body            string    `gorm:"type:text;not null" json:"body"`
	VariablesSchema string    `gorm:"type:text" json:"variables_schema,omitempty"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (WhatsAppTemplate) TableName() string {
	return "whatsapp_templates"
}
