package dto

import "time"

// CreateCampaignRequest creates a draft campaign. The price per message comes from the
// template category once a template is selected.
type CreateCampaignRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// TargetRequest is one recipient with its placeholder values
type TargetRequest struct {
	Phone     string            `json:"phone" validate:"required,e164"`
	Variables map[string]string `json:"variables"`
}

// AddTargetsRequest appends recipients to a draft campaign
type AddTargetsRequest struct {
	Targets []TargetRequest `json:"targets" validate:"required,min=1,max=10000,dive"`
}

// SelectTemplateRequest attaches an approved template
type SelectTemplateRequest struct {
	TemplateID uint `json:"template_id" validate:"required"`
}

// PauseCampaignRequest pauses a running campaign
type PauseCampaignRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// ListCampaignsRequest filters the klien's campaigns
type ListCampaignsRequest struct {
	Status   string `query:"status" validate:"omitempty,oneof=draft ready running paused completed failed cancelled"`
	Page     int    `query:"page" validate:"omitempty,min=1"`
	PageSize int    `query:"page_size" validate:"omitempty,min=1,max=100"`
}

// CampaignTemplateResponse is the template frozen at start
type CampaignTemplateResponse struct {
	TemplateID uint      `json:"template_id"`
	Name       string    `json:"name"`
	Language   string    `json:"language"`
	Category   string    `json:"category"`
	Body       string    `json:"body"`
	CapturedAt time.Time `json:"captured_at"`
}

// CampaignResponse is a campaign with its money and progress counters
type CampaignResponse struct {
	ID              uint                      `json:"id"`
	UUID            string                    `json:"uuid"`
	Name            string                    `json:"name"`
	Status          string                    `json:"status"`
	PricePerMessage uint64                    `json:"price_per_message"`
	HeldAmount      uint64                    `json:"held_amount"`
	DebitedAmount   uint64                    `json:"debited_amount"`
	ReleasedAmount  uint64                    `json:"released_amount"`
	RemainingHold   uint64                    `json:"remaining_hold"`
	TemplateID      *uint                     `json:"template_id,omitempty"`
	Template        *CampaignTemplateResponse `json:"template,omitempty"`
	TotalTargets    uint64                    `json:"total_targets"`
	SentCount       uint64                    `json:"sent_count"`
	FailedCount     uint64                    `json:"failed_count"`
	PendingCount    uint64                    `json:"pending_count"`
	PauseReason     *string                   `json:"pause_reason,omitempty"`
	FailureReason   *string                   `json:"failure_reason,omitempty"`
	StartedAt       *time.Time                `json:"started_at,omitempty"`
	LastDispatchAt  *time.Time                `json:"last_dispatch_at,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// ListCampaignsResponse is one page of campaigns
type ListCampaignsResponse struct {
	Items      []CampaignResponse `json:"items"`
	Pagination PaginationInfo     `json:"pagination"`
}
