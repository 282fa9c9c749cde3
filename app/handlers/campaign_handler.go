package handlers

import (
	"github.com/gofiber/fiber/v3"
	"github.com/wablast/blast-core/app/dto"
	businessflow "github.com/wablast/blast-core/business_flow"
	"github.com/wablast/blast-core/models"
	"go.uber.org/zap"
)

const defaultCampaignPageSize = 20

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	AddTargets(c fiber.Ctx) error
	SelectTemplate(c fiber.Ctx) error
	StartCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	baseHandler
	campaignFlow businessflow.CampaignFlow
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		baseHandler:  newBaseHandler(logger, "campaign_handler"),
		campaignFlow: campaignFlow,
	}
}

// CreateCampaign creates a draft campaign
// @Summary Create Campaign
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body dto.CreateCampaignRequest true "Campaign creation data"
// @Success 201 {object} dto.APIResponse{data=dto.CampaignResponse} "Campaign created successfully"
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}

	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	campaign, err := h.campaignFlow.CreateCampaign(ctx, klienID, req.Name)
	if err != nil {
		return h.flowError(c, err, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", toCampaignResponse(campaign))
}

// AddTargets appends recipients to a draft campaign
// @Summary Add campaign targets
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param id path int true "Campaign ID"
// @Param request body dto.AddTargetsRequest true "Targets"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Failure 409 {object} dto.APIResponse "Campaign is not a draft"
// @Router /api/v1/campaigns/{id}/targets [post]
func (h *CampaignHandler) AddTargets(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}
	campaignID, ok, err := h.idParam(c, "id")
	if !ok {
		return err
	}

	var req dto.AddTargetsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	inputs := make([]businessflow.TargetInput, 0, len(req.Targets))
	for _, t := range req.Targets {
		inputs = append(inputs, businessflow.TargetInput{Phone: t.Phone, Variables: t.Variables})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	campaign, err := h.campaignFlow.AddTargets(ctx, klienID, campaignID, inputs)
	if err != nil {
		return h.flowError(c, err, "Failed to add targets", "ADD_TARGETS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Targets added successfully", toCampaignResponse(campaign))
}

// SelectTemplate attaches an approved template to a draft campaign
// @Summary Select campaign template
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param id path int true "Campaign ID"
// @Param request body dto.SelectTemplateRequest true "Template"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Failure 422 {object} dto.APIResponse "Template not approved"
// @Router /api/v1/campaigns/{id}/template [put]
func (h *CampaignHandler) SelectTemplate(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}
	campaignID, ok, err := h.idParam(c, "id")
	if !ok {
		return err
	}

	var req dto.SelectTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	campaign, err := h.campaignFlow.SelectTemplate(ctx, klienID, campaignID, req.TemplateID)
	if err != nil {
		return h.flowError(c, err, "Failed to select template", "SELECT_TEMPLATE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Template selected successfully", toCampaignResponse(campaign))
}

// StartCampaign holds the full cost and queues the campaign for dispatch
// @Summary Start campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Failure 402 {object} dto.APIResponse{error=dto.ErrorDetail{details=dto.InsufficientBalanceDetails}} "Insufficient balance"
// @Failure 422 {object} dto.APIResponse "Target variables incomplete"
// @Router /api/v1/campaigns/{id}/start [post]
func (h *CampaignHandler) StartCampaign(c fiber.Ctx) error {
	return h.transition(c, "Campaign started", "CAMPAIGN_START_FAILED", func(c fiber.Ctx, klienID, campaignID uint) (*models.Campaign, error) {
		ctx, cancel := requestContext(c)
		defer cancel()
		return h.campaignFlow.Start(ctx, klienID, campaignID)
	})
}

// PauseCampaign stops dispatch and keeps the remaining hold
// @Summary Pause campaign
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param id path int true "Campaign ID"
// @Param request body dto.PauseCampaignRequest false "Reason"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Router /api/v1/campaigns/{id}/pause [post]
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	var req dto.PauseCampaignRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if ok, err := h.validate(c, &req); !ok {
			return err
		}
	}
	if req.Reason == "" {
		req.Reason = "paused by klien"
	}
	return h.transition(c, "Campaign paused", "CAMPAIGN_PAUSE_FAILED", func(c fiber.Ctx, klienID, campaignID uint) (*models.Campaign, error) {
		ctx, cancel := requestContext(c)
		defer cancel()
		return h.campaignFlow.Pause(ctx, klienID, campaignID, req.Reason)
	})
}

// ResumeCampaign resumes a paused campaign, topping up the hold when needed
// @Summary Resume campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Failure 402 {object} dto.APIResponse "Insufficient balance"
// @Router /api/v1/campaigns/{id}/resume [post]
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	return h.transition(c, "Campaign resumed", "CAMPAIGN_RESUME_FAILED", func(c fiber.Ctx, klienID, campaignID uint) (*models.Campaign, error) {
		ctx, cancel := requestContext(c)
		defer cancel()
		return h.campaignFlow.Resume(ctx, klienID, campaignID)
	})
}

// CancelCampaign cancels the campaign and releases the unspent hold
// @Summary Cancel campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Failure 409 {object} dto.APIResponse "Campaign already finished"
// @Router /api/v1/campaigns/{id}/cancel [post]
func (h *CampaignHandler) CancelCampaign(c fiber.Ctx) error {
	return h.transition(c, "Campaign cancelled", "CAMPAIGN_CANCEL_FAILED", func(c fiber.Ctx, klienID, campaignID uint) (*models.Campaign, error) {
		ctx, cancel := requestContext(c)
		defer cancel()
		return h.campaignFlow.Cancel(ctx, klienID, campaignID)
	})
}

// GetCampaign returns one campaign
// @Summary Get campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignResponse}
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	return h.transition(c, "Campaign retrieved successfully", "CAMPAIGN_READ_FAILED", func(c fiber.Ctx, klienID, campaignID uint) (*models.Campaign, error) {
		ctx, cancel := requestContext(c)
		defer cancel()
		return h.campaignFlow.Get(ctx, klienID, campaignID)
	})
}

// ListCampaigns lists the klien's campaigns, newest first
// @Summary List campaigns
// @Tags Campaigns
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page (default 1)"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignsResponse}
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}

	var req dto.ListCampaignsRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	page := businessflow.Page{Page: req.Page, PageSize: req.PageSize}
	if page.Page == 0 {
		page.Page = 1
	}
	if page.PageSize == 0 {
		page.PageSize = defaultCampaignPageSize
	}
	var status *models.CampaignStatus
	if req.Status != "" {
		s := models.CampaignStatus(req.Status)
		status = &s
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.campaignFlow.List(ctx, klienID, status, page)
	if err != nil {
		return h.flowError(c, err, "Failed to list campaigns", "CAMPAIGN_LIST_FAILED")
	}

	items := make([]dto.CampaignResponse, 0, len(result.Items))
	for _, campaign := range result.Items {
		items = append(items, toCampaignResponse(campaign))
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", dto.ListCampaignsResponse{
		Items:      items,
		Pagination: paginationInfo(result.Page, result.Size, result.Total),
	})
}

// transition runs a single-campaign operation for the caller's tenant
func (h *CampaignHandler) transition(c fiber.Ctx, successMessage, failureCode string, op func(c fiber.Ctx, klienID, campaignID uint) (*models.Campaign, error)) error {
	klienID, ok, err := h.klienID(c)
	if !ok {
		return err
	}
	campaignID, ok, err := h.idParam(c, "id")
	if !ok {
		return err
	}

	campaign, err := op(c, klienID, campaignID)
	if err != nil {
		return h.flowError(c, err, "Campaign operation failed", failureCode)
	}
	return h.SuccessResponse(c, fiber.StatusOK, successMessage, toCampaignResponse(campaign))
}

func toCampaignResponse(campaign *models.Campaign) dto.CampaignResponse {
	resp := dto.CampaignResponse{
		ID:              campaign.ID,
		UUID:            campaign.UUID.String(),
		Name:            campaign.Name,
		Status:          string(campaign.Status),
		PricePerMessage: campaign.PricePerMessage,
		HeldAmount:      campaign.HeldAmount,
		DebitedAmount:   campaign.DebitedAmount,
		ReleasedAmount:  campaign.ReleasedAmount,
		RemainingHold:   campaign.RemainingHold(),
		TemplateID:      campaign.TemplateID,
		TotalTargets:    campaign.TotalTargets,
		SentCount:       campaign.SentCount,
		FailedCount:     campaign.FailedCount,
		PauseReason:     campaign.PauseReason,
		FailureReason:   campaign.FailureReason,
		StartedAt:       campaign.StartedAt,
		LastDispatchAt:  campaign.LastDispatchAt,
		CompletedAt:     campaign.CompletedAt,
		CreatedAt:       campaign.CreatedAt,
		UpdatedAt:       campaign.UpdatedAt,
	}
	if done := campaign.SentCount + campaign.FailedCount; done < campaign.TotalTargets {
		resp.PendingCount = campaign.TotalTargets - done
	}
	if s := campaign.TemplateSnapshot; !s.IsZero() {
		resp.Template = &dto.CampaignTemplateResponse{
			TemplateID: s.TemplateID,
			Name:       s.Name,
			Language:   s.Language,
			Category:   s.Category,
			Body:       s.Body,
			CapturedAt: s.CapturedAt,
		}
	}
	return resp
}
