package estimation

import (
	"github.com/shopspring/decimal"

	"tariff-cost/decision/tariff"
)

// GuaranteedDiscount is the outcome of discount detection for one plan.
type GuaranteedDiscount struct {
	Guaranteed bool
	// Percent off the base cost, e.g. 7.5 for 7.5%.
	Percent decimal.Decimal
	// Reason explains a negative result; empty when guaranteed.
	Reason string
}

// DetectGuaranteedDiscount decides whether a plan's discounts apply unconditionally.
//
// The registry's reference-tier estimates must show all-discounts equal to
// guaranteed-discount and strictly below no-discount. An explicit conditional
// entry in the discount list overrides the numeric test. Only the percentage
// is carried over; the reference-tier dollar figures are a different scale.
func DetectGuaranteedDiscount(plan *tariff.Plan) GuaranteedDiscount {
	info := plan.Discounts
	if !info.HasDiscounts {
		return GuaranteedDiscount{Percent: decimal.Zero, Reason: "no discounts"}
	}
	ref := info.Reference
	if ref == nil {
		return GuaranteedDiscount{Percent: decimal.Zero, Reason: "no reference costs"}
	}
	if !ref.NoDiscounts.IsPositive() {
		return GuaranteedDiscount{Percent: decimal.Zero, Reason: "no-discount reference is not positive"}
	}
	if !ref.AllDiscounts.Equal(ref.GuaranteedDiscount) {
		return GuaranteedDiscount{Percent: decimal.Zero, Reason: "some discounts are conditional"}
	}
	if !ref.AllDiscounts.LessThan(ref.NoDiscounts) {
		return GuaranteedDiscount{Percent: decimal.Zero, Reason: "discounts do not reduce the reference cost"}
	}
	if info.HasConditionalDiscount() {
		return GuaranteedDiscount{Percent: decimal.Zero, Reason: "conditional discount entry present"}
	}

	percent := ref.NoDiscounts.Sub(ref.GuaranteedDiscount).Div(ref.NoDiscounts).Mul(hundred)
	return GuaranteedDiscount{Guaranteed: true, Percent: percent}
}
