// Package tariff defines the normalized plan and usage records priced by the engine.
package tariff

import (
	"time"

	"github.com/shopspring/decimal"

	"tariff-cost/pkg/units"
)

// QuarterDays is the fixed length of a billing quarter.
const QuarterDays = units.DaysPerQuarter

// FeeTerm is the billing period of a periodic fee.
type FeeTerm string

const (
	FeeTermAnnual    FeeTerm = "A"
	FeeTermMonthly   FeeTerm = "M"
	FeeTermQuarterly FeeTerm = "Q"
	FeeTermOther     FeeTerm = "O"
)

// DiscountType distinguishes unconditional from conditional discounts.
type DiscountType string

const (
	DiscountGuaranteed  DiscountType = "G"
	DiscountConditional DiscountType = "C"
	DiscountOther       DiscountType = "O"
)

// TOU period codes carried by detailed time blocks.
const (
	PeriodPeak     = "P"
	PeriodShoulder = "S"
	PeriodOffPeak  = "OP"
)

// Plan is one retailer tariff offer. Rates are in minor currency units (cents);
// a nil rate means the registry did not supply it.
type Plan struct {
	// Identity
	ID         string `json:"plan_id"`
	Name       string `json:"plan_name"`
	Retailer   string `json:"retailer_name"`
	TariffType string `json:"tariff_type,omitempty"`

	EffectiveDate time.Time `json:"effective_date,omitempty"`

	// Time-of-use rates (c/kWh)
	PeakRate     *decimal.Decimal `json:"peak_cost"`
	ShoulderRate *decimal.Decimal `json:"shoulder_cost"`
	OffPeakRate  *decimal.Decimal `json:"off_peak_cost"`

	// c/day
	DailySupplyCharge *decimal.Decimal `json:"daily_supply_charge"`

	// c/kWh exported
	SolarFeedInRate *decimal.Decimal `json:"solar_feed_in_rate_r"`

	// Dollars per quarter when the source already derived it
	MembershipFeeQuarterly *decimal.Decimal `json:"membership_fee_quarterly,omitempty"`
	MembershipFee          *Fee             `json:"membership_fee,omitempty"`

	Discounts DiscountInfo `json:"discounts"`

	HasDemandCharge bool        `json:"has_demand_charge"`
	TimeBlocks      []TimeBlock `json:"time_blocks,omitempty"`
}

// Fee is a raw periodic fee record, amount in dollars.
type Fee struct {
	Term   FeeTerm         `json:"term"`
	Amount decimal.Decimal `json:"amount"`
}

// DiscountInfo carries the registry's discount metadata for a plan.
type DiscountInfo struct {
	HasDiscounts bool            `json:"has_discounts"`
	Reference    *ReferenceCosts `json:"reference,omitempty"`
	Entries      []Discount      `json:"entries,omitempty"`
}

// ReferenceCosts are the registry's quarterly estimates for its reference usage tier.
type ReferenceCosts struct {
	NoDiscounts        decimal.Decimal `json:"no_discounts"`
	AllDiscounts       decimal.Decimal `json:"all_discounts"`
	GuaranteedDiscount decimal.Decimal `json:"guaranteed_discount"`
}

// Discount is one structured discount entry.
type Discount struct {
	Name string       `json:"name"`
	Type DiscountType `json:"type"`
}

// TimeBlock is a named TOU window declared by the plan.
type TimeBlock struct {
	Name   string `json:"name"`
	Period string `json:"time_of_use_period"`
}

// HasConditionalDiscount reports whether any discount entry is tagged conditional.
func (d DiscountInfo) HasConditionalDiscount() bool {
	for _, e := range d.Entries {
		if e.Type == DiscountConditional {
			return true
		}
	}
	return false
}

// HasShoulderBlock reports whether the plan declares a shoulder time block.
// Only the structured period code is consulted; block names are free text.
func (p *Plan) HasShoulderBlock() bool {
	for _, b := range p.TimeBlocks {
		if b.Period == PeriodShoulder {
			return true
		}
	}
	return false
}

// Positive reports whether an optional rate is present and greater than zero.
func Positive(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}

// Dec is a convenience for building optional rates in code and tests.
func Dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
