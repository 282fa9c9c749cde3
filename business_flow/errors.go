// Package businessflow contains the wallet ledger, campaign lifecycle, dispatch and webhook use cases
package businessflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Business flow error constants
var (
	// Wallet ledger errors
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrWalletArchived       = errors.New("wallet is archived")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHeld     = errors.New("insufficient held balance")
	ErrBalanceOverflow      = errors.New("balance overflow")
	ErrInvalidDateRange     = errors.New("start date cannot be after end date")
	ErrInvalidPage          = errors.New("page must be at least 1")
	ErrInvalidPageSize      = errors.New("page size must be between 1 and 100")
	ErrStatementTooLarge    = errors.New("statement too large to export")
	ErrReconcileMismatch    = errors.New("ledger replay does not match wallet balances")
	ErrPriceCategoryUnknown = errors.New("no price configured for template category")

	// Campaign errors
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrCampaignNotRunning  = errors.New("campaign is not running")
	ErrInvalidTransition   = errors.New("invalid campaign state transition")
	ErrTemplateNotFound    = errors.New("template not found")
	ErrTemplateNotApproved = errors.New("template is not approved")
	ErrTemplateNotSelected = errors.New("campaign has no template selected")
	ErrNoTargets           = errors.New("campaign has no targets")
	ErrVariablesIncomplete = errors.New("target variables are incomplete")
	ErrVariableMissing     = errors.New("template variable missing")
	ErrInvalidPhone        = errors.New("phone number must be in E.164 format")
	ErrCampaignNameMissing = errors.New("campaign name is required")
	ErrTargetNotFound      = errors.New("campaign target not found")

	// Dispatch errors
	ErrProviderSendFailure = errors.New("provider send failed")

	// Webhook errors
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrAlreadyProcessed = errors.New("event already processed")
	ErrInvalidPayload   = errors.New("webhook payload invalid")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// InsufficientBalanceError carries the shortage of a failed hold or start
type InsufficientBalanceError struct {
	Required  uint64
	Available uint64
	Shortage  uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d, shortage %d", e.Required, e.Available, e.Shortage)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func newInsufficientBalance(required, available uint64) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Required:  required,
		Available: available,
		Shortage:  required - available,
	}
}

// TargetVariableIssue lists what is wrong with one target's variables
type TargetVariableIssue struct {
	TargetID            uint     `json:"target_id"`
	Phone               string   `json:"phone"`
	MissingPlaceholders []int    `json:"missing_placeholders,omitempty"`
	SchemaViolations    []string `json:"schema_violations,omitempty"`
}

// VariablesIncompleteError lists every target that cannot be rendered
type VariablesIncompleteError struct {
	Targets []TargetVariableIssue
}

func (e *VariablesIncompleteError) Error() string {
	ids := make([]string, 0, len(e.Targets))
	for _, t := range e.Targets {
		ids = append(ids, fmt.Sprintf("%d", t.TargetID))
	}
	sort.Strings(ids)
	return fmt.Sprintf("target variables are incomplete for %d target(s): %s", len(e.Targets), strings.Join(ids, ","))
}

func (e *VariablesIncompleteError) Is(target error) bool {
	return target == ErrVariablesIncomplete
}

// TransitionError names the rejected transition
type TransitionError struct {
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a campaign in status %s", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// AsInsufficientBalance extracts the shortage details from err
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var ib *InsufficientBalanceError
	if errors.As(err, &ib) {
		return ib, true
	}
	return nil, false
}

// AsVariablesIncomplete extracts the per-target issues from err
func AsVariablesIncomplete(err error) (*VariablesIncompleteError, bool) {
	var vi *VariablesIncompleteError
	if errors.As(err, &vi) {
		return vi, true
	}
	return nil, false
}

func IsWalletNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound)
}

func IsInvalidAmount(err error) bool {
	return errors.Is(err, ErrInvalidAmount)
}

func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

func IsInsufficientHeld(err error) bool {
	return errors.Is(err, ErrInsufficientHeld)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignNotRunning(err error) bool {
	return errors.Is(err, ErrCampaignNotRunning)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsTemplateNotApproved(err error) bool {
	return errors.Is(err, ErrTemplateNotApproved)
}

func IsNoTargets(err error) bool {
	return errors.Is(err, ErrNoTargets)
}

func IsVariablesIncomplete(err error) bool {
	return errors.Is(err, ErrVariablesIncomplete)
}

func IsVariableMissing(err error) bool {
	return errors.Is(err, ErrVariableMissing)
}

func IsProviderSendFailure(err error) bool {
	return errors.Is(err, ErrProviderSendFailure)
}

func IsSignatureInvalid(err error) bool {
	return errors.Is(err, ErrSignatureInvalid)
}

func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}
