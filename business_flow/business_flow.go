// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
)

const RequestIDKey = "X-Request-ID"

// Domain event types published after the unit of work that produced them commits
const (
	EventCampaignStarted   = "campaign.started"
	EventCampaignPaused    = "campaign.paused"
	EventCampaignResumed   = "campaign.resumed"
	EventCampaignCompleted = "campaign.completed"
	EventCampaignCancelled = "campaign.cancelled"
	EventCampaignFailed    = "campaign.failed"
	EventWalletCredited    = "wallet.credited"
	EventWalletLowBalance  = "wallet.low_balance"
	EventWalletBelowMin    = "wallet.below_minimum"
)

// DomainEvent is a fact other services may react to
type DomainEvent struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	KlienID    uint           `json:"klien_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewDomainEvent stamps a new event
func NewDomainEvent(eventType string, klienID uint, payload map[string]any) DomainEvent {
	return DomainEvent{
		ID:         uuid.New(),
		Type:       eventType,
		KlienID:    klienID,
		OccurredAt: utils.UTCNow(),
		Payload:    payload,
	}
}

// EventPublisher delivers domain events. Publishing is best effort: a failed publish is
// logged and never undoes the committed change.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// publishAll sends events that belong to an already committed unit of work
func publishAll(ctx context.Context, publisher EventPublisher, logger *zap.Logger, events ...DomainEvent) {
	if publisher == nil {
		return
	}
	for _, ev := range events {
		if err := publisher.Publish(ctx, ev); err != nil {
			logger.Warn("failed to publish domain event",
				zap.String("type", ev.Type),
				zap.Uint("klien_id", ev.KlienID),
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// Page describes 1-based pagination input
type Page struct {
	Page     int
	PageSize int
}

func (p Page) validate() error {
	if p.Page < 1 {
		return ErrInvalidPage
	}
	if p.PageSize < 1 || p.PageSize > 100 {
		return ErrInvalidPageSize
	}
	return nil
}

func (p Page) offset() int {
	return (p.Page - 1) * p.PageSize
}
