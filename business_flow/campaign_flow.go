package businessflow

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wablast/blast-core/models"
	"github.com/wablast/blast-core/repository"
	"github.com/wablast/blast-core/utils"
	"go.uber.org/zap"
)

// TemplateProvider is the template service as seen by campaigns. It is read once per
// SelectTemplate; the campaign keeps its own frozen copy afterwards.
type TemplateProvider interface {
	GetTemplate(ctx context.Context, klienID, templateID uint) (*models.WhatsAppTemplate, error)
}

// TargetInput is one recipient to add to a draft campaign
type TargetInput struct {
	Phone     string            `json:"phone" validate:"required,e164"`
	Variables map[string]string `json:"variables"`
}

// CampaignPage is one page of a klien's campaigns
type CampaignPage struct {
	Items []*models.Campaign
	Total int64
	Page  int
	Size  int
}

// CampaignFlow drives a campaign through draft → ready → running → completed and the
// pause, cancel and fail branches. Every transition locks the campaign row.
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, klienID uint, name string) (*models.Campaign, error)
	OverridePrice(ctx context.Context, klienID, campaignID uint, pricePerMessage uint64) (*models.Campaign, error)
	AddTargets(ctx context.Context, klienID, campaignID uint, targets []TargetInput) (*models.Campaign, error)
	SelectTemplate(ctx context.Context, klienID, campaignID, templateID uint) (*models.Campaign, error)
	Start(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error)
	Pause(ctx context.Context, klienID, campaignID uint, reason string) (*models.Campaign, error)
	Resume(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error)
	Complete(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error)
	Cancel(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error)
	Fail(ctx context.Context, klienID, campaignID uint, cause string) (*models.Campaign, error)
	Get(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error)
	List(ctx context.Context, klienID uint, status *models.CampaignStatus, page Page) (*CampaignPage, error)
	StaleRunning(ctx context.Context, olderThan time.Duration) ([]*models.Campaign, error)
}

// CampaignFlowImpl implements CampaignFlow
type CampaignFlowImpl struct {
	uow          repository.UnitOfWork
	campaignRepo repository.CampaignRepository
	adminRepo    repository.AdminCampaignRepository
	targetRepo   repository.CampaignTargetRepository
	ledger       LedgerFlow
	templates    TemplateProvider
	prices       *PriceBook
	publisher    EventPublisher
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	uow repository.UnitOfWork,
	campaignRepo repository.CampaignRepository,
	adminRepo repository.AdminCampaignRepository,
	targetRepo repository.CampaignTargetRepository,
	ledger LedgerFlow,
	templates TemplateProvider,
	prices *PriceBook,
	publisher EventPublisher,
	logger *zap.Logger,
) *CampaignFlowImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignFlowImpl{
		uow:          uow,
		campaignRepo: campaignRepo,
		adminRepo:    adminRepo,
		targetRepo:   targetRepo,
		ledger:       ledger,
		templates:    templates,
		prices:       prices,
		publisher:    publisher,
		validate:     validator.New(),
		logger:       logger.Named("campaign"),
	}
}

// transition locks the campaign, runs fn and persists the campaign in one unit of work.
// Events returned by fn are published once the unit of work committed.
func (f *CampaignFlowImpl) transition(
	ctx context.Context,
	klienID, campaignID uint,
	fn func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error),
) (*models.Campaign, error) {
	var (
		campaign *models.Campaign
		events   []DomainEvent
	)
	err := f.uow.Do(ctx, func(txCtx context.Context) error {
		c, err := f.campaignRepo.LockByID(txCtx, klienID, campaignID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}

		events, err = fn(txCtx, c)
		if err != nil {
			return err
		}
		if err := f.campaignRepo.Update(txCtx, c); err != nil {
			return err
		}
		campaign = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	campaignTransitionsTotal.WithLabelValues(campaign.Status.String()).Inc()
	publishAll(ctx, f.publisher, f.logger, events...)
	return campaign, nil
}

func requireStatus(c *models.Campaign, action string, allowed ...models.CampaignStatus) error {
	for _, s := range allowed {
		if c.Status == s {
			return nil
		}
	}
	return &TransitionError{From: c.Status.String(), Action: action}
}

func campaignEvent(eventType string, c *models.Campaign, extra map[string]any) DomainEvent {
	payload := map[string]any{
		"campaign_id":     c.ID,
		"campaign_uuid":   c.UUID.String(),
		"status":          c.Status.String(),
		"held_amount":     c.HeldAmount,
		"debited_amount":  c.DebitedAmount,
		"released_amount": c.ReleasedAmount,
		"sent_count":      c.SentCount,
		"failed_count":    c.FailedCount,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return NewDomainEvent(eventType, c.KlienID, payload)
}

// CreateCampaign creates a draft campaign. Its price is set from the price book when a
// template is selected.
func (f *CampaignFlowImpl) CreateCampaign(ctx context.Context, klienID uint, name string) (*models.Campaign, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewBusinessError("CREATE_CAMPAIGN_FAILED", "Campaign name is required", ErrCampaignNameMissing)
	}

	now := utils.UTCNow()
	campaign := &models.Campaign{
		KlienID:   klienID,
		Name:      name,
		Status:    models.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CREATE_CAMPAIGN_FAILED", "Failed to create campaign", err)
	}

	f.logger.Info("campaign created", zap.Uint("klien_id", klienID), zap.Uint("campaign_id", campaign.ID))
	return campaign, nil
}

// OverridePrice fixes the per-message price of a campaign that has not started. It is an
// operator action; the price book no longer applies to the campaign afterwards.
func (f *CampaignFlowImpl) OverridePrice(ctx context.Context, klienID, campaignID uint, pricePerMessage uint64) (*models.Campaign, error) {
	if pricePerMessage == 0 || pricePerMessage > utils.MaxPricePerMessage {
		return nil, NewBusinessErrorf("OVERRIDE_PRICE_FAILED", "Price per message must be between 1 and %d", ErrInvalidAmount, utils.MaxPricePerMessage)
	}
	campaign, err := f.transition(ctx, klienID, campaignID, func(_ context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "reprice", models.CampaignStatusDraft, models.CampaignStatusReady); err != nil {
			return nil, err
		}
		c.PricePerMessage = pricePerMessage
		c.PriceOverridden = true
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	f.logger.Info("campaign price overridden",
		zap.Uint("klien_id", klienID),
		zap.Uint("campaign_id", campaignID),
		zap.Uint64("price_per_message", pricePerMessage),
	)
	return campaign, nil
}

// AddTargets appends recipients to a campaign that has not started
func (f *CampaignFlowImpl) AddTargets(ctx context.Context, klienID, campaignID uint, targets []TargetInput) (*models.Campaign, error) {
	if len(targets) == 0 {
		return nil, NewBusinessError("ADD_TARGETS_FAILED", "At least one target is required", ErrNoTargets)
	}
	for i, t := range targets {
		if err := f.validate.Struct(t); err != nil {
			return nil, NewBusinessErrorf("ADD_TARGETS_FAILED", "Target %d has an invalid phone number %q", ErrInvalidPhone, i, t.Phone)
		}
	}

	return f.transition(ctx, klienID, campaignID, func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "add targets to", models.CampaignStatusDraft, models.CampaignStatusReady); err != nil {
			return nil, err
		}

		now := utils.UTCNow()
		rows := make([]*models.CampaignTarget, 0, len(targets))
		for _, t := range targets {
			vars := models.TargetVariables{}
			for k, v := range t.Variables {
				vars[k] = v
			}
			rows = append(rows, &models.CampaignTarget{
				CampaignID: c.ID,
				KlienID:    c.KlienID,
				Phone:      t.Phone,
				Status:     models.TargetStatusPending,
				Variables:  vars,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		if err := f.targetRepo.SaveBatch(txCtx, rows); err != nil {
			return nil, err
		}

		c.TotalTargets += uint64(len(rows))
		return nil, nil
	})
}

// SelectTemplate freezes the template the campaign will send
func (f *CampaignFlowImpl) SelectTemplate(ctx context.Context, klienID, campaignID, templateID uint) (*models.Campaign, error) {
	return f.transition(ctx, klienID, campaignID, func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "select a template for", models.CampaignStatusDraft, models.CampaignStatusReady); err != nil {
			return nil, err
		}

		tmpl, err := f.templates.GetTemplate(txCtx, klienID, templateID)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, ErrTemplateNotFound
		}
		if tmpl.Status != models.TemplateStatusApproved || !tmpl.IsActive {
			return nil, fmt.Errorf("%w: template %d is %s", ErrTemplateNotApproved, tmpl.ID, tmpl.Status)
		}

		if !c.PriceOverridden {
			price, err := f.prices.PricePerMessage(tmpl.Category)
			if err != nil {
				return nil, err
			}
			c.PricePerMessage = price
		}

		c.TemplateID = &tmpl.ID
		c.TemplateSnapshot = NewTemplateSnapshot(tmpl, utils.UTCNow())
		c.Status = models.CampaignStatusReady
		return nil, nil
	})
}

// Start validates every target, freezes their payloads and holds the full campaign cost
func (f *CampaignFlowImpl) Start(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error) {
	var wallet *models.Wallet
	campaign, err := f.transition(ctx, klienID, campaignID, func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "start", models.CampaignStatusReady); err != nil {
			return nil, err
		}
		if c.TemplateSnapshot.IsZero() {
			return nil, ErrTemplateNotSelected
		}

		pending := models.TargetStatusPending
		targets, err := f.targetRepo.ListByCampaign(txCtx, klienID, c.ID, &pending)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, ErrNoTargets
		}

		schema, err := compileVariablesSchema(c.TemplateSnapshot)
		if err != nil {
			return nil, err
		}
		var issues []TargetVariableIssue
		for _, t := range targets {
			missing := missingPlaceholders(c.TemplateSnapshot, t.Variables)
			violations, err := schema.violations(t.Variables)
			if err != nil {
				return nil, err
			}
			if len(missing) > 0 || len(violations) > 0 {
				issues = append(issues, TargetVariableIssue{
					TargetID:            t.ID,
					Phone:               t.Phone,
					MissingPlaceholders: missing,
					SchemaViolations:    violations,
				})
			}
		}
		if len(issues) > 0 {
			return nil, &VariablesIncompleteError{Targets: issues}
		}

		if c.PricePerMessage == 0 || c.PricePerMessage > utils.MaxPricePerMessage {
			return nil, NewBusinessErrorf("START_CAMPAIGN_FAILED", "Price per message %d is out of range", ErrInvalidAmount, c.PricePerMessage)
		}
		hi, cost := bits.Mul64(uint64(len(targets)), c.PricePerMessage)
		if hi != 0 || cost > math.MaxInt64 {
			return nil, NewBusinessErrorf("START_CAMPAIGN_FAILED", "Cost of %d targets at %d per message is out of range", ErrBalanceOverflow, len(targets), c.PricePerMessage)
		}
		check, err := f.ledger.CheckSufficient(txCtx, klienID, cost)
		if err != nil {
			return nil, err
		}
		if !check.Sufficient {
			return nil, newInsufficientBalance(cost, check.Available)
		}

		for _, t := range targets {
			payload, err := BuildPayload(c.TemplateSnapshot, t)
			if err != nil {
				return nil, err
			}
			t.BuiltPayload = payload
			if err := f.targetRepo.Update(txCtx, t); err != nil {
				return nil, err
			}
		}

		wallet, err = f.ledger.Hold(txCtx, klienID, cost, c.ID)
		if err != nil {
			return nil, err
		}

		now := utils.UTCNow()
		c.TotalTargets = uint64(len(targets))
		c.HeldAmount = cost
		c.AvailableAtStart = wallet.Available
		c.StartedAt = &now
		c.PauseReason = nil
		c.Status = models.CampaignStatusRunning
		return []DomainEvent{campaignEvent(EventCampaignStarted, c, nil)}, nil
	})
	if err != nil {
		if ib, ok := AsInsufficientBalance(err); ok {
			f.logger.Info("campaign start rejected for insufficient balance",
				zap.Uint("klien_id", klienID),
				zap.Uint("campaign_id", campaignID),
				zap.Uint64("required", ib.Required),
				zap.Uint64("shortage", ib.Shortage),
			)
		}
		return nil, err
	}

	publishAll(ctx, f.publisher, f.logger, lowBalanceEvents(wallet)...)
	f.logger.Info("campaign started",
		zap.Uint("klien_id", klienID),
		zap.Uint("campaign_id", campaign.ID),
		zap.Uint64("targets", campaign.TotalTargets),
		zap.Uint64("held", campaign.HeldAmount),
	)
	return campaign, nil
}

// Pause stops dispatching; the hold stays in place
func (f *CampaignFlowImpl) Pause(ctx context.Context, klienID, campaignID uint, reason string) (*models.Campaign, error) {
	return f.transition(ctx, klienID, campaignID, func(_ context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "pause", models.CampaignStatusRunning); err != nil {
			return nil, err
		}
		c.Status = models.CampaignStatusPaused
		if reason != "" {
			c.PauseReason = &reason
		}
		return []DomainEvent{campaignEvent(EventCampaignPaused, c, map[string]any{"reason": reason})}, nil
	})
}

// Resume puts a paused campaign back in the dispatch queue. A campaign paused for lack of
// funds resumes only once the wallet has available balance again.
func (f *CampaignFlowImpl) Resume(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error) {
	return f.transition(ctx, klienID, campaignID, func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "resume", models.CampaignStatusPaused); err != nil {
			return nil, err
		}
		wallet, err := f.ledger.Balance(txCtx, klienID)
		if err != nil {
			return nil, err
		}
		if wallet.Available == 0 && c.PauseReason != nil && *c.PauseReason == utils.PauseReasonBalanceExhausted {
			return nil, newInsufficientBalance(c.PricePerMessage, 0)
		}
		c.AvailableAtStart = wallet.Available
		c.Status = models.CampaignStatusRunning
		c.PauseReason = nil
		return []DomainEvent{campaignEvent(EventCampaignResumed, c, nil)}, nil
	})
}

// Complete finishes a running campaign with no pending targets and releases what was not spent
func (f *CampaignFlowImpl) Complete(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error) {
	return f.transition(ctx, klienID, campaignID, func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "complete", models.CampaignStatusRunning); err != nil {
			return nil, err
		}
		pending, err := f.targetRepo.CountByStatus(txCtx, klienID, c.ID, models.TargetStatusPending)
		if err != nil {
			return nil, err
		}
		if pending > 0 {
			return nil, fmt.Errorf("%w: %d targets still pending", ErrInvalidTransition, pending)
		}
		sending, err := f.targetRepo.CountByStatus(txCtx, klienID, c.ID, models.TargetStatusSending)
		if err != nil {
			return nil, err
		}
		if sending > 0 {
			return nil, fmt.Errorf("%w: %d targets still sending", ErrInvalidTransition, sending)
		}

		released, err := f.releaseRemaining(txCtx, c, "campaign completed")
		if err != nil {
			return nil, err
		}
		now := utils.UTCNow()
		c.Status = models.CampaignStatusCompleted
		c.CompletedAt = &now
		return []DomainEvent{campaignEvent(EventCampaignCompleted, c, map[string]any{"released": released})}, nil
	})
}

// Cancel stops a campaign for good and releases its undebited hold
func (f *CampaignFlowImpl) Cancel(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error) {
	return f.transition(ctx, klienID, campaignID, func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if err := requireStatus(c, "cancel",
			models.CampaignStatusDraft, models.CampaignStatusReady,
			models.CampaignStatusRunning, models.CampaignStatusPaused,
		); err != nil {
			return nil, err
		}
		released, err := f.releaseRemaining(txCtx, c, "campaign cancelled")
		if err != nil {
			return nil, err
		}
		now := utils.UTCNow()
		c.Status = models.CampaignStatusCancelled
		c.CompletedAt = &now
		return []DomainEvent{campaignEvent(EventCampaignCancelled, c, map[string]any{"released": released})}, nil
	})
}

// Fail marks a campaign failed from any non-terminal state and releases its undebited hold
func (f *CampaignFlowImpl) Fail(ctx context.Context, klienID, campaignID uint, cause string) (*models.Campaign, error) {
	return f.transition(ctx, klienID, campaignID, func(txCtx context.Context, c *models.Campaign) ([]DomainEvent, error) {
		if c.Status.IsTerminal() {
			return nil, &TransitionError{From: c.Status.String(), Action: "fail"}
		}
		released, err := f.releaseRemaining(txCtx, c, "campaign failed")
		if err != nil {
			return nil, err
		}
		now := utils.UTCNow()
		c.Status = models.CampaignStatusFailed
		c.FailureReason = &cause
		c.CompletedAt = &now
		return []DomainEvent{campaignEvent(EventCampaignFailed, c, map[string]any{"released": released, "cause": cause})}, nil
	})
}

// releaseRemaining returns the part of the hold that was neither debited nor released
func (f *CampaignFlowImpl) releaseRemaining(txCtx context.Context, c *models.Campaign, reason string) (uint64, error) {
	remaining := c.RemainingHold()
	if remaining == 0 {
		return 0, nil
	}
	if _, err := f.ledger.Release(txCtx, c.KlienID, remaining, c.ID, reason); err != nil {
		return 0, err
	}
	c.ReleasedAmount += remaining
	return remaining, nil
}

// Get returns one campaign of the klien
func (f *CampaignFlowImpl) Get(ctx context.Context, klienID, campaignID uint) (*models.Campaign, error) {
	c, err := f.campaignRepo.ByID(ctx, klienID, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	return c, nil
}

// List returns a page of the klien's campaigns
func (f *CampaignFlowImpl) List(ctx context.Context, klienID uint, status *models.CampaignStatus, page Page) (*CampaignPage, error) {
	if err := page.validate(); err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Invalid pagination", err)
	}
	filter := models.CampaignFilter{Status: status}

	total, err := f.campaignRepo.CountByKlienID(ctx, klienID, filter)
	if err != nil {
		return nil, err
	}
	items, err := f.campaignRepo.ListByKlienID(ctx, klienID, filter, page.PageSize, page.offset())
	if err != nil {
		return nil, err
	}
	return &CampaignPage{Items: items, Total: total, Page: page.Page, Size: page.PageSize}, nil
}

// StaleRunning lists running campaigns of any klien without dispatch activity for olderThan
func (f *CampaignFlowImpl) StaleRunning(ctx context.Context, olderThan time.Duration) ([]*models.Campaign, error) {
	if olderThan <= 0 {
		olderThan = utils.DefaultStaleRunningAfter
	}
	return f.adminRepo.ListStaleRunning(ctx, utils.UTCNow().Add(-olderThan))
}
