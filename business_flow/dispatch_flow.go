package businessflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
)

// MessageSender is the WhatsApp provider send API
type MessageSender interface {
	// Send submits one message and returns the provider's message id
	Send(ctx context.Context, payload models.BuiltPayload) (string, error)
}

// Batch is a set of targets leased to one worker
type Batch struct {
	Token    uuid.UUID
	Campaign *models.Campaign
	Targets  []*models.CampaignTarget
}

// DispatchResult describes what happened to one target
type DispatchResult struct {
	TargetID          uint
	// Skipped is set when another worker already finished the target
	Skipped           bool
	Sent              bool
	Charged           bool
	ProviderMessageID string
	FailureReason     string
}

// MustStop is the dispatcher's decision before claiming a batch
type MustStop string

const (
	MustStopNone     MustStop = ""
	MustStopComplete MustStop = "complete"
	MustStopPause    MustStop = "pause"
)

// RunSummary totals one dispatcher pass over a campaign
type RunSummary struct {
	Batches int
	Sent    int
	Failed  int
	Stopped MustStop
}

// DispatchFlow sends the targets of running campaigns and charges per accepted message
type DispatchFlow interface {
	PullBatch(ctx context.Context, klienID, campaignID uint, size int) (*Batch, error)
	DispatchOne(ctx context.Context, campaign *models.Campaign, target *models.CampaignTarget) (*DispatchResult, error)
	CheckMustStop(ctx context.Context, campaign *models.Campaign) (MustStop, error)
	RunCampaign(ctx context.Context, klienID, campaignID uint, batchSize, maxBatches int) (*RunSummary, error)
}

// DispatchFlowImpl implements DispatchFlow
type DispatchFlowImpl struct {
	uow          repository.UnitOfWork
	campaignRepo repository.CampaignRepository
	targetRepo   repository.CampaignTargetRepository
	campaigns    CampaignFlow
	ledger       LedgerFlow
	sender       MessageSender
	publisher    EventPublisher
	leaseTTL     time.Duration
	logger       *zap.Logger
}

// NewDispatchFlow creates a new dispatch flow instance
func NewDispatchFlow(
	uow repository.UnitOfWork,
	campaignRepo repository.CampaignRepository,
	targetRepo repository.CampaignTargetRepository,
	campaigns CampaignFlow,
	ledger LedgerFlow,
	sender MessageSender,
	publisher EventPublisher,
	leaseTTL time.Duration,
	logger *zap.Logger,
) *DispatchFlowImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	if leaseTTL <= 0 {
		leaseTTL = utils.DefaultClaimLeaseTTL
	}
	return &DispatchFlowImpl{
		uow:          uow,
		campaignRepo: campaignRepo,
		targetRepo:   targetRepo,
		campaigns:    campaigns,
		ledger:       ledger,
		sender:       sender,
		publisher:    publisher,
		leaseTTL:     leaseTTL,
		logger:       logger.Named("dispatch"),
	}
}

// PullBatch leases the next pending targets of a running campaign, oldest first
func (d *DispatchFlowImpl) PullBatch(ctx context.Context, klienID, campaignID uint, size int) (*Batch, error) {
	if size <= 0 {
		size = utils.DefaultDispatchBatchSize
	}

	batch := &Batch{Token: uuid.New()}
	err := d.uow.Do(ctx, func(txCtx context.Context) error {
		c, err := d.campaignRepo.ByID(txCtx, klienID, campaignID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}
		if c.Status != models.CampaignStatusRunning {
			return fmt.Errorf("%w: campaign %d is %s", ErrCampaignNotRunning, c.ID, c.Status)
		}
		batch.Campaign = c

		targets, err := d.targetRepo.ClaimPending(txCtx, klienID, campaignID, size, batch.Token, utils.UTCNow(), d.leaseTTL)
		if err != nil {
			return err
		}
		batch.Targets = targets
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// DispatchOne sends one leased target. The target moves to sending only while the batch's
// claim still holds, so a batch that outlived its lease never repeats a send. An accepted
// message is marked sent and debited in a single unit of work; a rejected one is marked
// failed and never touches the ledger.
func (d *DispatchFlowImpl) DispatchOne(ctx context.Context, campaign *models.Campaign, target *models.CampaignTarget) (*DispatchResult, error) {
	result := &DispatchResult{TargetID: target.ID}
	if target.ClaimToken == nil {
		result.Skipped = true
		return result, nil
	}

	marked, err := d.targetRepo.MarkSending(ctx, campaign.KlienID, target.ID, *target.ClaimToken, utils.UTCNow())
	if err != nil {
		return result, err
	}
	if !marked {
		d.logger.Debug("target lease lost or already handled",
			zap.Uint("campaign_id", campaign.ID),
			zap.Uint("target_id", target.ID),
		)
		result.Skipped = true
		return result, nil
	}

	payload := target.BuiltPayload
	if payload.IsZero() {
		built, err := BuildPayload(campaign.TemplateSnapshot, target)
		if err != nil {
			result.FailureReason = err.Error()
			return result, d.recordFailure(ctx, campaign, target, result.FailureReason)
		}
		payload = built
	}

	messageID, sendErr := d.sender.Send(ctx, payload)
	if sendErr != nil || messageID == "" {
		if sendErr == nil {
			sendErr = errors.New("empty provider message id")
		}
		result.FailureReason = fmt.Errorf("%w: %v", ErrProviderSendFailure, sendErr).Error()
		d.logger.Warn("provider rejected message",
			zap.Uint("klien_id", campaign.KlienID),
			zap.Uint("campaign_id", campaign.ID),
			zap.Uint("target_id", target.ID),
			zap.Error(sendErr),
		)
		return result, d.recordFailure(ctx, campaign, target, result.FailureReason)
	}

	result.Sent = true
	result.ProviderMessageID = messageID

	charged, wallet, err := d.recordSent(ctx, campaign, target, messageID, true)
	if err != nil && IsInsufficientHeld(err) {
		// The message is out; keep it recorded as sent even though it could not be charged
		d.logger.Error("sent message could not be debited",
			zap.Uint("klien_id", campaign.KlienID),
			zap.Uint("campaign_id", campaign.ID),
			zap.Uint("target_id", target.ID),
			zap.String("provider_message_id", messageID),
			zap.Error(err),
		)
		charged, wallet, err = d.recordSent(ctx, campaign, target, messageID, false)
	}
	if err != nil {
		return result, err
	}
	result.Charged = charged
	if wallet != nil {
		publishAll(ctx, d.publisher, d.logger, lowBalanceEvents(wallet)...)
	}
	return result, nil
}

// recordSent marks the target sent and, when charge is set and the campaign still holds
// enough, debits one message price
func (d *DispatchFlowImpl) recordSent(ctx context.Context, campaign *models.Campaign, target *models.CampaignTarget, messageID string, charge bool) (bool, *models.Wallet, error) {
	var (
		charged bool
		wallet  *models.Wallet
	)
	err := d.uow.Do(ctx, func(txCtx context.Context) error {
		c, err := d.campaignRepo.LockByID(txCtx, campaign.KlienID, campaign.ID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}
		t, err := d.targetRepo.ByID(txCtx, campaign.KlienID, target.ID)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTargetNotFound
		}
		if t.Status != models.TargetStatusSending {
			return nil
		}

		now := utils.UTCNow()
		// A cancelled or failed campaign already released its hold; sends still in flight
		// at that moment are recorded but not charged against other campaigns' holds.
		if charge && c.RemainingHold() >= c.PricePerMessage && c.PricePerMessage > 0 {
			wallet, err = d.ledger.Debit(txCtx, c.KlienID, c.PricePerMessage, c.ID)
			if err != nil {
				return err
			}
			c.DebitedAmount += c.PricePerMessage
			charged = true
		}

		t.Status = models.TargetStatusSent
		t.ProviderMessageID = &messageID
		t.Debited = charged
		t.SentAt = &now
		t.ClaimToken = nil
		t.ClaimedAt = nil
		if err := d.targetRepo.Update(txCtx, t); err != nil {
			return err
		}

		c.SentCount++
		c.LastDispatchAt = &now
		if err := d.campaignRepo.Update(txCtx, c); err != nil {
			return err
		}
		*campaign = *c
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	if charge && !charged {
		d.logger.Warn("sent message not charged, campaign hold already settled",
			zap.Uint("campaign_id", campaign.ID),
			zap.Uint("target_id", target.ID),
		)
	}
	return charged, wallet, nil
}

// recordFailure marks the target failed without any ledger call
func (d *DispatchFlowImpl) recordFailure(ctx context.Context, campaign *models.Campaign, target *models.CampaignTarget, reason string) error {
	return d.uow.Do(ctx, func(txCtx context.Context) error {
		c, err := d.campaignRepo.LockByID(txCtx, campaign.KlienID, campaign.ID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}
		t, err := d.targetRepo.ByID(txCtx, campaign.KlienID, target.ID)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTargetNotFound
		}
		if t.Status != models.TargetStatusSending {
			return nil
		}

		now := utils.UTCNow()
		t.Status = models.TargetStatusFailed
		t.FailureReason = &reason
		t.ClaimToken = nil
		t.ClaimedAt = nil
		if err := d.targetRepo.Update(txCtx, t); err != nil {
			return err
		}

		c.FailedCount++
		c.LastDispatchAt = &now
		if err := d.campaignRepo.Update(txCtx, c); err != nil {
			return err
		}
		*campaign = *c
		return nil
	})
}

// CheckMustStop decides whether the campaign should complete or pause before the next batch.
// It completes when no target is pending or in flight. It pauses when targets are pending and
// the klien's available balance dropped to zero after the campaign started, e.g. because
// another campaign's hold took the rest. A campaign whose own hold emptied the wallet keeps going.
func (d *DispatchFlowImpl) CheckMustStop(ctx context.Context, campaign *models.Campaign) (MustStop, error) {
	pending, err := d.targetRepo.CountByStatus(ctx, campaign.KlienID, campaign.ID, models.TargetStatusPending)
	if err != nil {
		return MustStopNone, err
	}
	if pending == 0 {
		sending, err := d.targetRepo.CountByStatus(ctx, campaign.KlienID, campaign.ID, models.TargetStatusSending)
		if err != nil {
			return MustStopNone, err
		}
		if sending > 0 {
			return MustStopNone, nil
		}
		return MustStopComplete, nil
	}

	wallet, err := d.ledger.Balance(ctx, campaign.KlienID)
	if err != nil {
		return MustStopNone, err
	}
	if wallet.Available == 0 && campaign.AvailableAtStart > 0 {
		return MustStopPause, nil
	}
	return MustStopNone, nil
}

// RunCampaign processes up to maxBatches batches of one campaign. Status is re-read before
// every batch so a pause or cancel takes effect at the next batch boundary.
func (d *DispatchFlowImpl) RunCampaign(ctx context.Context, klienID, campaignID uint, batchSize, maxBatches int) (*RunSummary, error) {
	summary := &RunSummary{}
	if maxBatches <= 0 {
		maxBatches = 1
	}

	for summary.Batches < maxBatches {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		campaign, err := d.campaignRepo.ByID(ctx, klienID, campaignID)
		if err != nil {
			return summary, err
		}
		if campaign == nil {
			return summary, ErrCampaignNotFound
		}
		if campaign.Status != models.CampaignStatusRunning {
			return summary, nil
		}

		decision, err := d.CheckMustStop(ctx, campaign)
		if err != nil {
			return summary, err
		}
		switch decision {
		case MustStopComplete:
			if _, err := d.campaigns.Complete(ctx, klienID, campaignID); err != nil && !IsInvalidTransition(err) {
				return summary, err
			}
			summary.Stopped = decision
			return summary, nil
		case MustStopPause:
			if _, err := d.campaigns.Pause(ctx, klienID, campaignID, utils.PauseReasonBalanceExhausted); err != nil && !IsInvalidTransition(err) {
				return summary, err
			}
			summary.Stopped = decision
			return summary, nil
		}

		batch, err := d.PullBatch(ctx, klienID, campaignID, batchSize)
		if err != nil {
			if IsCampaignNotRunning(err) {
				return summary, nil
			}
			return summary, err
		}
		if len(batch.Targets) == 0 {
			// Remaining targets are leased by another worker
			return summary, nil
		}
		summary.Batches++

		for _, t := range batch.Targets {
			res, err := d.DispatchOne(ctx, batch.Campaign, t)
			if err != nil {
				return summary, err
			}
			if res.Skipped {
				continue
			}
			if res.Sent {
				summary.Sent++
			} else {
				summary.Failed++
			}
		}
	}

	return summary, nil
}
