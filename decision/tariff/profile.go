package tariff

import (
	"fmt"

	"github.com/shopspring/decimal"

	terrors "tariff-cost/pkg/errors"
)

var (
	hundred          = decimal.NewFromInt(100)
	percentTolerance = decimal.RequireFromString("0.1")
)

// UsageProfile is a household's assumed consumption for one 91-day quarter.
// QuarterlyConsumptionKWh is grid consumption already net of solar self-consumption.
type UsageProfile struct {
	Name                    string          `json:"name"`
	QuarterlyConsumptionKWh decimal.Decimal `json:"quarterly_consumption_kwh"`
	PeakPercent             decimal.Decimal `json:"peak_percent"`
	ShoulderPercent         decimal.Decimal `json:"shoulder_percent"`
	OffPeakPercent          decimal.Decimal `json:"off_peak_percent"`
	SolarExportKWh          decimal.Decimal `json:"solar_export_kwh"`
}

// PercentTotal is the sum of the three TOU shares.
func (u UsageProfile) PercentTotal() decimal.Decimal {
	return u.PeakPercent.Add(u.ShoulderPercent).Add(u.OffPeakPercent)
}

// Validate checks the profile before it is priced.
func (u UsageProfile) Validate() error {
	if !u.QuarterlyConsumptionKWh.IsPositive() {
		return terrors.NewInvalidProfileError(u.Name,
			fmt.Sprintf("quarterly consumption must be positive, got %s", u.QuarterlyConsumptionKWh))
	}
	for name, pct := range map[string]decimal.Decimal{
		"peak":     u.PeakPercent,
		"shoulder": u.ShoulderPercent,
		"off-peak": u.OffPeakPercent,
	} {
		if pct.IsNegative() {
			return terrors.NewInvalidProfileError(u.Name,
				fmt.Sprintf("%s percent must not be negative, got %s", name, pct))
		}
	}
	total := u.PercentTotal()
	if total.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		return terrors.NewInvalidProfileError(u.Name,
			fmt.Sprintf("TOU percentages sum to %s, not 100", total))
	}
	if u.SolarExportKWh.IsNegative() {
		return terrors.NewInvalidProfileError(u.Name,
			fmt.Sprintf("solar export must not be negative, got %s", u.SolarExportKWh))
	}
	return nil
}
