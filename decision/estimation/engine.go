// Package estimation provides the Tariff Cost Engine
// Prices a plan's supply, usage, membership and solar lines for a quarterly usage profile
package estimation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tariff-cost/decision/tariff"
	terrors "tariff-cost/pkg/errors"
	"tariff-cost/pkg/units"
)

var hundred = decimal.NewFromInt(100)

// CostBreakdown is the quarterly bill for one plan under one usage profile.
// All amounts are dollars rounded half-up to cents.
type CostBreakdown struct {
	SupplyCharge  decimal.Decimal `json:"supply_charge"`
	UsageCharge   decimal.Decimal `json:"usage_charge"`
	MembershipFee decimal.Decimal `json:"membership_fee"`
	SolarCredit   decimal.Decimal `json:"solar_credit"`
	BaseCost      decimal.Decimal `json:"base_cost"`

	DiscountApplied bool            `json:"discount_applied"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountSavings decimal.Decimal `json:"discount_savings"`

	TotalCost   decimal.Decimal `json:"total_cost"`
	MonthlyCost decimal.Decimal `json:"monthly_cost"`
	AnnualCost  decimal.Decimal `json:"annual_cost"`
}

// Quote is a cost breakdown tagged with the identity of the plan it prices.
type Quote struct {
	PlanID   string        `json:"plan_id"`
	PlanName string        `json:"plan_name"`
	Retailer string        `json:"retailer_name"`
	Cost     CostBreakdown `json:"cost"`
}

// Calculator prices plans. It holds no state and is safe for concurrent use.
type Calculator struct{}

// NewCalculator creates a new calculator
func NewCalculator() *Calculator { return &Calculator{} }

// Quote prices a plan and attaches its identity.
func (c *Calculator) Quote(plan *tariff.Plan, profile tariff.UsageProfile) (*Quote, error) {
	cost, err := c.Calculate(plan, profile)
	if err != nil {
		return nil, err
	}
	return &Quote{
		PlanID:   plan.ID,
		PlanName: plan.Name,
		Retailer: plan.Retailer,
		Cost:     cost,
	}, nil
}

// Calculate computes the quarterly cost of plan for profile.
// An invalid profile yields an INVALID_PROFILE error and no breakdown.
func (c *Calculator) Calculate(plan *tariff.Plan, profile tariff.UsageProfile) (result CostBreakdown, err error) {
	if plan == nil {
		return CostBreakdown{}, terrors.NewCalculationError("", "nil plan")
	}
	if err := profile.Validate(); err != nil {
		return CostBreakdown{}, err
	}

	// decimal division by zero panics; surface it as a per-plan failure
	defer func() {
		if r := recover(); r != nil {
			result = CostBreakdown{}
			err = terrors.NewCalculationError(plan.ID, fmt.Sprint(r))
		}
	}()

	supply := c.supplyCharge(plan)
	membership := c.membershipFee(plan)
	usage := c.usageCharge(plan, profile)
	solar := c.solarCredit(plan, profile)

	base := decimal.Max(decimal.Zero, supply.Add(usage).Add(membership).Sub(solar))

	result = CostBreakdown{
		SupplyCharge:    supply,
		UsageCharge:     usage,
		MembershipFee:   membership,
		SolarCredit:     solar,
		BaseCost:        base,
		DiscountPercent: decimal.Zero,
		DiscountSavings: decimal.Zero,
		TotalCost:       base,
	}

	if d := DetectGuaranteedDiscount(plan); d.Guaranteed {
		multiplier := decimal.NewFromInt(1).Sub(d.Percent.Div(hundred))
		total := units.RoundMoney(base.Mul(multiplier))
		result.DiscountApplied = true
		result.DiscountPercent = d.Percent
		result.DiscountSavings = base.Sub(total)
		result.TotalCost = total
	}

	result.TotalCost = decimal.Max(decimal.Zero, result.TotalCost)
	result.MonthlyCost = units.QuarterlyToMonthly(result.TotalCost)
	result.AnnualCost = units.QuarterlyToAnnual(result.TotalCost)
	return result, nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (c *Calculator) supplyCharge(plan *tariff.Plan) decimal.Decimal {
	if plan.DailySupplyCharge == nil {
		return decimal.Zero
	}
	return units.CentsToDollars(units.DailyToQuarterly(*plan.DailySupplyCharge))
}

// membershipFee never infers a quarterly amount from a non-annual term.
func (c *Calculator) membershipFee(plan *tariff.Plan) decimal.Decimal {
	if plan.MembershipFeeQuarterly != nil && !plan.MembershipFeeQuarterly.IsZero() {
		return units.RoundMoney(*plan.MembershipFeeQuarterly)
	}
	fee := plan.MembershipFee
	if fee != nil && fee.Term == tariff.FeeTermAnnual && !fee.Amount.IsZero() {
		return units.AnnualToQuarterly(fee.Amount)
	}
	return decimal.Zero
}

func (c *Calculator) usageCharge(plan *tariff.Plan, profile tariff.UsageProfile) decimal.Decimal {
	consumption := profile.QuarterlyConsumptionKWh
	total := decimal.Zero
	for _, tier := range []struct {
		rate    *decimal.Decimal
		percent decimal.Decimal
	}{
		{plan.PeakRate, profile.PeakPercent},
		{plan.ShoulderRate, profile.ShoulderPercent},
		{plan.OffPeakRate, profile.OffPeakPercent},
	} {
		if !tariff.Positive(tier.rate) {
			continue
		}
		share := units.PercentOf(consumption, tier.percent)
		total = total.Add(share.Mul(*tier.rate))
	}
	return units.CentsToDollars(total)
}

func (c *Calculator) solarCredit(plan *tariff.Plan, profile tariff.UsageProfile) decimal.Decimal {
	if !profile.SolarExportKWh.IsPositive() || !tariff.Positive(plan.SolarFeedInRate) {
		return decimal.Zero
	}
	return units.CentsToDollars(profile.SolarExportKWh.Mul(*plan.SolarFeedInRate))
}
