// Package units provides canonical unit types and billing period conversions.
package units

import "github.com/shopspring/decimal"

// Unit represents a measurable quantity.
type Unit string

const (
	// Energy units
	UnitKWh Unit = "kWh"

	// Money units
	UnitCents   Unit = "c"
	UnitDollars Unit = "$"

	// Rate units
	UnitCentsPerKWh Unit = "c/kWh"
	UnitCentsPerDay Unit = "c/day"
)

// Billing period assumptions.
const (
	DaysPerQuarter   = 91
	MonthsPerQuarter = 3
	QuartersPerYear  = 4
)

// MoneyPlaces is the precision every monetary step is rounded to.
const MoneyPlaces = 2

var (
	hundred          = decimal.NewFromInt(100)
	daysPerQuarter   = decimal.NewFromInt(DaysPerQuarter)
	monthsPerQuarter = decimal.NewFromInt(MonthsPerQuarter)
	quartersPerYear  = decimal.NewFromInt(QuartersPerYear)
)

// RoundMoney rounds half away from zero to whole cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// CentsToDollars converts cents to dollars rounded to cents.
func CentsToDollars(cents decimal.Decimal) decimal.Decimal {
	return RoundMoney(cents.Div(hundred))
}

// DailyToQuarterly scales a per-day amount to a quarter. The result is not rounded.
func DailyToQuarterly(daily decimal.Decimal) decimal.Decimal {
	return daily.Mul(daysPerQuarter)
}

// QuarterlyToMonthly calculates the monthly amount from a quarterly one.
func QuarterlyToMonthly(quarterly decimal.Decimal) decimal.Decimal {
	return RoundMoney(quarterly.Div(monthsPerQuarter))
}

// QuarterlyToAnnual calculates the annual amount from a quarterly one.
func QuarterlyToAnnual(quarterly decimal.Decimal) decimal.Decimal {
	return RoundMoney(quarterly.Mul(quartersPerYear))
}

// AnnualToQuarterly calculates the quarterly share of an annual amount.
func AnnualToQuarterly(annual decimal.Decimal) decimal.Decimal {
	return RoundMoney(annual.Div(quartersPerYear))
}

// PercentOf returns pct percent of total, unrounded.
func PercentOf(total, pct decimal.Decimal) decimal.Decimal {
	return total.Mul(pct).Div(hundred)
}
