// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/wablast/blast-core/app/dto"
	"github.com/wablast/blast-core/app/middleware"
	businessflow "github.com/wablast/blast-core/business_flow"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// baseHandler carries what every handler needs
type baseHandler struct {
	validator *validator.Validate
	logger    *zap.Logger
}

func newBaseHandler(logger *zap.Logger, name string) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{
		validator: validator.New(),
		logger:    logger.Named(name),
	}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes the 400 response on failure. It returns
// true when the request may proceed.
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var validationErrors []string
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		for _, fe := range fieldErrors {
			validationErrors = append(validationErrors, getValidationErrorMessage(fe))
		}
	} else {
		validationErrors = append(validationErrors, err.Error())
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
}

// klienID returns the caller's tenant or writes 401
func (h *baseHandler) klienID(c fiber.Ctx) (uint, bool, error) {
	klienID, ok := middleware.GetKlienIDFromContext(c)
	if !ok {
		return 0, false, h.ErrorResponse(c, fiber.StatusUnauthorized, "Klien ID not found in token", "MISSING_KLIEN_ID", nil)
	}
	return klienID, true, nil
}

// idParam parses a positive numeric path parameter or writes 400
func (h *baseHandler) idParam(c fiber.Ctx, name string) (uint, bool, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false, h.ErrorResponse(c, fiber.StatusBadRequest, fmt.Sprintf("Invalid %s", name), "INVALID_PATH_PARAMETER", raw)
	}
	return uint(id), true, nil
}

// requestContext derives the flow context from the request with a deadline
func requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx := c.Context()
	if requestID := c.Get(businessflow.RequestIDKey); requestID != "" {
		ctx = context.WithValue(ctx, businessflow.RequestIDKey, requestID)
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}

// flowError maps business flow errors to HTTP responses
func (h *baseHandler) flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	code := fallbackCode
	message := fallbackMessage
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		code = be.Code
		message = be.Message
	}

	if ib, ok := businessflow.AsInsufficientBalance(err); ok {
		return h.ErrorResponse(c, fiber.StatusPaymentRequired, "Insufficient wallet balance", "INSUFFICIENT_BALANCE", dto.InsufficientBalanceDetails{
			Required:  ib.Required,
			Available: ib.Available,
			Shortage:  ib.Shortage,
		})
	}
	if vi, ok := businessflow.AsVariablesIncomplete(err); ok {
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Target variables are incomplete", "VARIABLES_INCOMPLETE", vi.Targets)
	}

	switch {
	case businessflow.IsCampaignNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	case businessflow.IsTemplateNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Template not found", "TEMPLATE_NOT_FOUND", nil)
	case businessflow.IsWalletNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Wallet not found", "WALLET_NOT_FOUND", nil)
	case errors.Is(err, businessflow.ErrTargetNotFound):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign target not found", "TARGET_NOT_FOUND", nil)
	case businessflow.IsInvalidTransition(err), businessflow.IsCampaignNotRunning(err):
		return h.ErrorResponse(c, fiber.StatusConflict, err.Error(), "INVALID_TRANSITION", nil)
	case businessflow.IsSignatureInvalid(err):
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid signature", "SIGNATURE_INVALID", nil)
	case errors.Is(err, businessflow.ErrInvalidPayload):
		return h.ErrorResponse(c, fiber.StatusBadRequest, message, code, nil)
	case businessflow.IsTemplateNotApproved(err),
		businessflow.IsNoTargets(err),
		businessflow.IsVariableMissing(err),
		businessflow.IsInvalidAmount(err),
		errors.Is(err, businessflow.ErrBalanceOverflow),
		errors.Is(err, businessflow.ErrTemplateNotSelected),
		errors.Is(err, businessflow.ErrInvalidPhone),
		errors.Is(err, businessflow.ErrCampaignNameMissing),
		errors.Is(err, businessflow.ErrPriceCategoryUnknown),
		errors.Is(err, businessflow.ErrInvalidDateRange),
		errors.Is(err, businessflow.ErrInvalidPage),
		errors.Is(err, businessflow.ErrInvalidPageSize),
		errors.Is(err, businessflow.ErrStatementTooLarge):
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, message, code, err.Error())
	}

	h.logger.Error(fallbackMessage, zap.String("path", c.Path()), zap.Error(err))
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "e164":
		return err.Field() + " must be an E.164 phone number like +6281234567890"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

func paginationInfo(page, size int, total int64) dto.PaginationInfo {
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return dto.PaginationInfo{Page: page, PageSize: size, Total: total, TotalPages: totalPages}
}
