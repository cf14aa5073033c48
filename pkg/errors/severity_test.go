package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTariffErrorMessage(t *testing.T) {
	err := NewCalculationError("AGL-1", "missing peak rate")
	assert.Equal(t, "[warning] CALCULATION_FAILED: missing peak rate (plan: AGL-1)", err.Error())

	cause := stderrors.New("disk full")
	herr := NewHistoryError("save snapshot", cause)
	assert.Equal(t, "[fatal] HISTORY_UNAVAILABLE: save snapshot: disk full", herr.Error())
	assert.ErrorIs(t, herr, cause)
	assert.False(t, herr.Recoverable)
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("run failed: %w", NewNoEligiblePlansError(12))

	assert.True(t, HasCode(wrapped, ErrCodeNoEligiblePlans))
	assert.False(t, HasCode(wrapped, ErrCodeInvalidProfile))
	assert.False(t, HasCode(stderrors.New("plain"), ErrCodeNoEligiblePlans))
	assert.False(t, HasCode(nil, ErrCodeNoEligiblePlans))
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "info", SeverityInfo.String())
	assert.Equal(t, "unknown", Severity(42).String())
}
