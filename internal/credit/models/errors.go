package models

import (
	"errors"
	"fmt"

	dErrors "credits/pkg/domain-errors"
)

// ErrorKind enumerates the ledger's failure modes.
type ErrorKind string

const (
	KindAccountNotFound         ErrorKind = "account_not_found"
	KindAccountInactive         ErrorKind = "account_inactive"
	KindInvalidCreditType       ErrorKind = "invalid_credit_type"
	KindInvalidPolicy           ErrorKind = "invalid_policy"
	KindInsufficientCredits     ErrorKind = "insufficient_credits"
	KindCampaignNotFound        ErrorKind = "campaign_not_found"
	KindCampaignInactive        ErrorKind = "campaign_inactive"
	KindCampaignBudgetExhausted ErrorKind = "campaign_budget_exhausted"
	KindAllocationFailed        ErrorKind = "allocation_failed"
	KindConsumptionFailed       ErrorKind = "consumption_failed"
	KindTransferFailed          ErrorKind = "transfer_failed"
	KindNonTransferableType     ErrorKind = "non_transferable_type"
	KindInvalidTransfer         ErrorKind = "invalid_transfer"
	KindUserValidationFailed    ErrorKind = "user_validation_failed"
	KindValidation              ErrorKind = "validation"
)

// LedgerError is the single error type returned by the credit service.
// Only the fields relevant to Kind are populated.
type LedgerError struct {
	Kind      ErrorKind
	Reason    string
	Available int64
	Required  int64
	Budget    int64
	Allocated int64
	Err       error
}

func (e *LedgerError) Error() string {
	var msg string
	switch e.Kind {
	case KindInsufficientCredits:
		msg = fmt.Sprintf("insufficient credits: available %d, required %d", e.Available, e.Required)
	case KindCampaignBudgetExhausted:
		msg = fmt.Sprintf("campaign budget exhausted: budget %d, allocated %d", e.Budget, e.Allocated)
	default:
		msg = string(e.Kind)
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, models.ErrInsufficientCredits).
func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// DomainCode maps the kind onto the shared HTTP error classes.
func (e *LedgerError) DomainCode() dErrors.Code {
	switch e.Kind {
	case KindInvalidCreditType, KindInvalidPolicy, KindValidation, KindInvalidTransfer,
		KindNonTransferableType, KindUserValidationFailed:
		return dErrors.CodeValidation
	case KindAccountNotFound, KindCampaignNotFound:
		return dErrors.CodeNotFound
	case KindInsufficientCredits, KindCampaignBudgetExhausted:
		return dErrors.CodeConflict
	case KindAccountInactive, KindCampaignInactive:
		return dErrors.CodeForbidden
	default:
		return dErrors.CodeInternal
	}
}

// ErrorDetails exposes the numeric context of balance and budget failures.
func (e *LedgerError) ErrorDetails() map[string]any {
	d := map[string]any{"kind": string(e.Kind)}
	switch e.Kind {
	case KindInsufficientCredits:
		d["available"] = e.Available
		d["required"] = e.Required
	case KindCampaignBudgetExhausted:
		d["budget"] = e.Budget
		d["allocated"] = e.Allocated
	}
	return d
}

// Sentinels for errors.Is checks.
var (
	ErrAccountNotFound         = &LedgerError{Kind: KindAccountNotFound}
	ErrAccountInactive         = &LedgerError{Kind: KindAccountInactive}
	ErrInvalidCreditType       = &LedgerError{Kind: KindInvalidCreditType}
	ErrInvalidPolicy           = &LedgerError{Kind: KindInvalidPolicy}
	ErrInsufficientCredits     = &LedgerError{Kind: KindInsufficientCredits}
	ErrCampaignNotFound        = &LedgerError{Kind: KindCampaignNotFound}
	ErrCampaignInactive        = &LedgerError{Kind: KindCampaignInactive}
	ErrCampaignBudgetExhausted = &LedgerError{Kind: KindCampaignBudgetExhausted}
	ErrAllocationFailed        = &LedgerError{Kind: KindAllocationFailed}
	ErrConsumptionFailed       = &LedgerError{Kind: KindConsumptionFailed}
	ErrTransferFailed          = &LedgerError{Kind: KindTransferFailed}
	ErrNonTransferableType     = &LedgerError{Kind: KindNonTransferableType}
	ErrInvalidTransfer         = &LedgerError{Kind: KindInvalidTransfer}
	ErrUserValidationFailed    = &LedgerError{Kind: KindUserValidationFailed}
	ErrValidation              = &LedgerError{Kind: KindValidation}
)

// KindOf returns the ledger kind of err, or "" when err is not a ledger error.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func AccountNotFound(reason string) error {
	return &LedgerError{Kind: KindAccountNotFound, Reason: reason}
}

func AccountInactive(reason string) error {
	return &LedgerError{Kind: KindAccountInactive, Reason: reason}
}

func InvalidCreditType(value string) error {
	return &LedgerError{Kind: KindInvalidCreditType, Reason: fmt.Sprintf("unknown credit type %q", value)}
}

func InvalidPolicy(value string) error {
	return &LedgerError{Kind: KindInvalidPolicy, Reason: fmt.Sprintf("unknown expiration policy %q", value)}
}

func InsufficientCredits(available, required int64) error {
	return &LedgerError{Kind: KindInsufficientCredits, Available: available, Required: required}
}

func CampaignNotFound(reason string) error {
	return &LedgerError{Kind: KindCampaignNotFound, Reason: reason}
}

func CampaignInactive(reason string) error {
	return &LedgerError{Kind: KindCampaignInactive, Reason: reason}
}

func CampaignBudgetExhausted(budget, allocated int64) error {
	return &LedgerError{Kind: KindCampaignBudgetExhausted, Budget: budget, Allocated: allocated}
}

func AllocationFailed(reason string, err error) error {
	return &LedgerError{Kind: KindAllocationFailed, Reason: reason, Err: err}
}

func ConsumptionFailed(reason string, err error) error {
	return &LedgerError{Kind: KindConsumptionFailed, Reason: reason, Err: err}
}

func TransferFailed(reason string, err error) error {
	return &LedgerError{Kind: KindTransferFailed, Reason: reason, Err: err}
}

func NonTransferableType(t CreditType) error {
	return &LedgerError{Kind: KindNonTransferableType, Reason: fmt.Sprintf("%s credits cannot be transferred", t)}
}

func InvalidTransfer(reason string) error {
	return &LedgerError{Kind: KindInvalidTransfer, Reason: reason}
}

func UserValidationFailed(reason string) error {
	return &LedgerError{Kind: KindUserValidationFailed, Reason: reason}
}

func Validation(reason string) error {
	return &LedgerError{Kind: KindValidation, Reason: reason}
}
