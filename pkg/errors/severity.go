// Package errors provides severity-aware error types.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// TariffError is a structured error with context.
type TariffError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	PlanID      string   `json:"plan_id,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Err         error    `json:"-"`
}

func (e *TariffError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
	if e.PlanID != "" {
		msg += fmt.Sprintf(" (plan: %s)", e.PlanID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TariffError) Unwrap() error { return e.Err }

// Error codes
const (
	ErrCodeInvalidProfile     = "INVALID_PROFILE"
	ErrCodeCalculationFailed  = "CALCULATION_FAILED"
	ErrCodePlanRejected       = "PLAN_REJECTED"
	ErrCodeHistoryUnavailable = "HISTORY_UNAVAILABLE"
	ErrCodeNotifyFailed       = "NOTIFY_FAILED"
	ErrCodeNoEligiblePlans    = "NO_ELIGIBLE_PLANS"
)

// HasCode reports whether err (or anything it wraps) is a TariffError with code.
func HasCode(err error, code string) bool {
	var te *TariffError
	if stderrors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// NewInvalidProfileError creates an error for a usage profile that fails validation.
func NewInvalidProfileError(profile, reason string) *TariffError {
	return &TariffError{
		Code:        ErrCodeInvalidProfile,
		Message:     fmt.Sprintf("usage profile %q: %s", profile, reason),
		Severity:    SeverityWarning,
		Recoverable: true,
	}
}

// NewCalculationError creates an error for a plan that could not be priced.
func NewCalculationError(planID, reason string) *TariffError {
	return &TariffError{
		Code:        ErrCodeCalculationFailed,
		Message:     reason,
		Severity:    SeverityWarning,
		PlanID:      planID,
		Recoverable: true,
	}
}

// NewPlanRejectedError creates an error for a source record that cannot become a plan.
func NewPlanRejectedError(planID, reason string) *TariffError {
	return &TariffError{
		Code:        ErrCodePlanRejected,
		Message:     reason,
		Severity:    SeverityInfo,
		PlanID:      planID,
		Recoverable: true,
	}
}

// NewHistoryError wraps a persistence failure. History failures abort the run.
func NewHistoryError(op string, err error) *TariffError {
	return &TariffError{
		Code:        ErrCodeHistoryUnavailable,
		Message:     op,
		Severity:    SeverityFatal,
		Recoverable: false,
		Err:         err,
	}
}

// NewNotifyError wraps a delivery failure.
func NewNotifyError(channel string, err error) *TariffError {
	return &TariffError{
		Code:        ErrCodeNotifyFailed,
		Message:     fmt.Sprintf("delivery via %s failed", channel),
		Severity:    SeverityError,
		Recoverable: true,
		Err:         err,
	}
}

// NewNoEligiblePlansError is returned when filtering leaves nothing to price.
func NewNoEligiblePlansError(loaded int) *TariffError {
	return &TariffError{
		Code:        ErrCodeNoEligiblePlans,
		Message:     fmt.Sprintf("no eligible plans after filtering %d loaded", loaded),
		Severity:    SeverityFatal,
		Recoverable: false,
	}
}
