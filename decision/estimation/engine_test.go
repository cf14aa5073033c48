package estimation

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariff-cost/decision/tariff"
	terrors "tariff-cost/pkg/errors"
)

func usage(consumption, peak, shoulder, offPeak, export string) tariff.UsageProfile {
	return tariff.UsageProfile{
		Name:                    "commuter",
		QuarterlyConsumptionKWh: decimal.RequireFromString(consumption),
		PeakPercent:             decimal.RequireFromString(peak),
		ShoulderPercent:         decimal.RequireFromString(shoulder),
		OffPeakPercent:          decimal.RequireFromString(offPeak),
		SolarExportKWh:          decimal.RequireFromString(export),
	}
}

func freeShoulderPlan() *tariff.Plan {
	return &tariff.Plan{
		ID:                "FREE-SHOULDER",
		Name:              "Free Middle",
		Retailer:          "Sunny Energy",
		DailySupplyCharge: tariff.Dec("127.69"),
		PeakRate:          tariff.Dec("54.19"),
		ShoulderRate:      tariff.Dec("0"),
		OffPeakRate:       tariff.Dec("35.21"),
	}
}

func assertMoney(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, expected, actual.StringFixed(2), msgAndArgs...)
}

func TestCalculateFreeShoulderExample(t *testing.T) {
	calc := NewCalculator()

	cost, err := calc.Calculate(freeShoulderPlan(), usage("1600", "28", "14", "58", "0"))
	require.NoError(t, err)

	// 127.69c x 91 days = $116.1979
	assertMoney(t, "116.20", cost.SupplyCharge)
	// 448kWh x 54.19c + 224kWh x 0c + 928kWh x 35.21c
	assertMoney(t, "569.52", cost.UsageCharge)
	assertMoney(t, "0.00", cost.MembershipFee)
	assertMoney(t, "0.00", cost.SolarCredit)
	assertMoney(t, "685.72", cost.BaseCost)
	assert.False(t, cost.DiscountApplied)
	assertMoney(t, "685.72", cost.TotalCost)
	assertMoney(t, "228.57", cost.MonthlyCost)
	assertMoney(t, "2742.88", cost.AnnualCost)
}

func TestCalculateNullShoulderContributesNothing(t *testing.T) {
	calc := NewCalculator()
	twoRate := &tariff.Plan{
		ID:                "TWO-RATE",
		DailySupplyCharge: tariff.Dec("100"),
		PeakRate:          tariff.Dec("50"),
		OffPeakRate:       tariff.Dec("20"),
	}
	profile := usage("1000", "40", "20", "40", "0")

	cost, err := calc.Calculate(twoRate, profile)
	require.NoError(t, err)

	// 400kWh x 50c + 400kWh x 20c; the 200kWh shoulder share is unpriced
	assertMoney(t, "280.00", cost.UsageCharge)
	assertMoney(t, "91.00", cost.SupplyCharge)
	assertMoney(t, "371.00", cost.TotalCost)

	zeroShoulder := *twoRate
	zeroShoulder.ShoulderRate = tariff.Dec("0")
	same, err := calc.Calculate(&zeroShoulder, profile)
	require.NoError(t, err)
	assert.True(t, same.UsageCharge.Equal(cost.UsageCharge))
}

func TestCalculateSolarAndMembership(t *testing.T) {
	calc := NewCalculator()
	profile := usage("1000", "50", "0", "50", "500")

	t.Run("solar credit and precomputed membership", func(t *testing.T) {
		plan := &tariff.Plan{
			ID:                     "SOLAR",
			DailySupplyCharge:      tariff.Dec("100"),
			PeakRate:               tariff.Dec("30"),
			OffPeakRate:            tariff.Dec("20"),
			SolarFeedInRate:        tariff.Dec("5"),
			MembershipFeeQuarterly: tariff.Dec("10"),
		}
		cost, err := calc.Calculate(plan, profile)
		require.NoError(t, err)
		assertMoney(t, "25.00", cost.SolarCredit)
		assertMoney(t, "10.00", cost.MembershipFee)
		// 91 + 250 + 10 - 25
		assertMoney(t, "326.00", cost.TotalCost)
	})

	t.Run("annual membership fee is quartered", func(t *testing.T) {
		plan := &tariff.Plan{
			ID:                "ANNUAL",
			DailySupplyCharge: tariff.Dec("100"),
			PeakRate:          tariff.Dec("30"),
			OffPeakRate:       tariff.Dec("20"),
			MembershipFee:     &tariff.Fee{Term: tariff.FeeTermAnnual, Amount: decimal.RequireFromString("59.90")},
		}
		cost, err := calc.Calculate(plan, profile)
		require.NoError(t, err)
		// 14.975 rounds half-up
		assertMoney(t, "14.98", cost.MembershipFee)
	})

	t.Run("non-annual fee term is never inferred", func(t *testing.T) {
		plan := &tariff.Plan{
			ID:                "MONTHLY",
			DailySupplyCharge: tariff.Dec("100"),
			PeakRate:          tariff.Dec("30"),
			OffPeakRate:       tariff.Dec("20"),
			MembershipFee:     &tariff.Fee{Term: tariff.FeeTermMonthly, Amount: decimal.NewFromInt(20)},
		}
		cost, err := calc.Calculate(plan, profile)
		require.NoError(t, err)
		assertMoney(t, "0.00", cost.MembershipFee)
	})

	t.Run("no feed-in rate means no credit", func(t *testing.T) {
		plan := &tariff.Plan{
			ID:                "NO-FIT",
			DailySupplyCharge: tariff.Dec("100"),
			PeakRate:          tariff.Dec("30"),
			OffPeakRate:       tariff.Dec("20"),
		}
		cost, err := calc.Calculate(plan, profile)
		require.NoError(t, err)
		assertMoney(t, "0.00", cost.SolarCredit)
	})
}

func TestCalculateFloorsAtZero(t *testing.T) {
	plan := &tariff.Plan{
		ID:                "GENEROUS-FIT",
		DailySupplyCharge: tariff.Dec("10"),
		PeakRate:          tariff.Dec("10"),
		OffPeakRate:       tariff.Dec("10"),
		SolarFeedInRate:   tariff.Dec("50"),
	}
	cost, err := NewCalculator().Calculate(plan, usage("100", "50", "0", "50", "5000"))
	require.NoError(t, err)

	assertMoney(t, "2500.00", cost.SolarCredit)
	assertMoney(t, "0.00", cost.BaseCost)
	assertMoney(t, "0.00", cost.TotalCost)
	assertMoney(t, "0.00", cost.MonthlyCost)
}

func TestCalculateGuaranteedDiscount(t *testing.T) {
	calc := NewCalculator()
	profile := usage("1600", "28", "14", "58", "0")

	discounted := freeShoulderPlan()
	discounted.Discounts = tariff.DiscountInfo{
		HasDiscounts: true,
		Reference: &tariff.ReferenceCosts{
			NoDiscounts:        decimal.NewFromInt(1000),
			AllDiscounts:       decimal.NewFromInt(900),
			GuaranteedDiscount: decimal.NewFromInt(900),
		},
		Entries: []tariff.Discount{{Name: "Always on", Type: tariff.DiscountGuaranteed}},
	}

	cost, err := calc.Calculate(discounted, profile)
	require.NoError(t, err)
	assert.True(t, cost.DiscountApplied)
	assert.Equal(t, "10", cost.DiscountPercent.String())
	assertMoney(t, "685.72", cost.BaseCost)
	// 685.72 x 0.9 = 617.148
	assertMoney(t, "617.15", cost.TotalCost)
	assertMoney(t, "68.57", cost.DiscountSavings)

	t.Run("conditional entry revokes the numeric match", func(t *testing.T) {
		conditional := *discounted
		conditional.Discounts.Entries = []tariff.Discount{
			{Name: "Always on", Type: tariff.DiscountGuaranteed},
			{Name: "Pay on time", Type: tariff.DiscountConditional},
		}
		cost, err := calc.Calculate(&conditional, profile)
		require.NoError(t, err)
		assert.False(t, cost.DiscountApplied)
		assertMoney(t, "685.72", cost.TotalCost)
		assertMoney(t, "0.00", cost.DiscountSavings)
	})
}

func TestDetectGuaranteedDiscount(t *testing.T) {
	ref := func(no, all, guaranteed int64) *tariff.ReferenceCosts {
		return &tariff.ReferenceCosts{
			NoDiscounts:        decimal.NewFromInt(no),
			AllDiscounts:       decimal.NewFromInt(all),
			GuaranteedDiscount: decimal.NewFromInt(guaranteed),
		}
	}

	tests := []struct {
		name     string
		info     tariff.DiscountInfo
		expected bool
	}{
		{"no discount flag", tariff.DiscountInfo{Reference: ref(1000, 900, 900)}, false},
		{"missing reference", tariff.DiscountInfo{HasDiscounts: true}, false},
		{"guaranteed", tariff.DiscountInfo{HasDiscounts: true, Reference: ref(1000, 900, 900)}, true},
		{"partly conditional", tariff.DiscountInfo{HasDiscounts: true, Reference: ref(1000, 850, 900)}, false},
		{"no reduction", tariff.DiscountInfo{HasDiscounts: true, Reference: ref(1000, 1000, 1000)}, false},
		{"zero baseline", tariff.DiscountInfo{HasDiscounts: true, Reference: ref(0, 0, 0)}, false},
		{"tagged conditional", tariff.DiscountInfo{
			HasDiscounts: true,
			Reference:    ref(1000, 900, 900),
			Entries:      []tariff.Discount{{Type: tariff.DiscountConditional}},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectGuaranteedDiscount(&tariff.Plan{Discounts: tt.info})
			assert.Equal(t, tt.expected, got.Guaranteed)
			if !tt.expected {
				assert.True(t, got.Percent.IsZero())
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	calc := NewCalculator()
	plan := freeShoulderPlan()
	plan.SolarFeedInRate = tariff.Dec("6.7")
	profile := usage("1365", "33.3", "33.3", "33.4", "812.5")

	first, err := calc.Calculate(plan, profile)
	require.NoError(t, err)
	second, err := calc.Calculate(plan, profile)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCalculateIsMonotonicInEachRate(t *testing.T) {
	calc := NewCalculator()
	profile := usage("1600", "28", "14", "58", "0")
	base := &tariff.Plan{
		ID:                "BASE",
		DailySupplyCharge: tariff.Dec("100"),
		PeakRate:          tariff.Dec("40"),
		ShoulderRate:      tariff.Dec("30"),
		OffPeakRate:       tariff.Dec("20"),
	}
	baseline, err := calc.Calculate(base, profile)
	require.NoError(t, err)

	bump := map[string]func(p *tariff.Plan){
		"supply":   func(p *tariff.Plan) { p.DailySupplyCharge = tariff.Dec("100.01") },
		"peak":     func(p *tariff.Plan) { p.PeakRate = tariff.Dec("45") },
		"shoulder": func(p *tariff.Plan) { p.ShoulderRate = tariff.Dec("31") },
		"off-peak": func(p *tariff.Plan) { p.OffPeakRate = tariff.Dec("20.5") },
	}
	for name, apply := range bump {
		t.Run(name, func(t *testing.T) {
			raised := *base
			apply(&raised)
			cost, err := calc.Calculate(&raised, profile)
			require.NoError(t, err)
			assert.True(t, cost.TotalCost.GreaterThanOrEqual(baseline.TotalCost),
				"%s: %s < %s", name, cost.TotalCost, baseline.TotalCost)
		})
	}
}

func TestCalculateRejectsInvalidProfile(t *testing.T) {
	calc := NewCalculator()

	_, err := calc.Calculate(freeShoulderPlan(), usage("1600", "28", "14", "58.2", "0"))
	require.Error(t, err)
	assert.True(t, terrors.HasCode(err, terrors.ErrCodeInvalidProfile))

	q, err := calc.Quote(freeShoulderPlan(), usage("0", "28", "14", "58", "0"))
	assert.Nil(t, q)
	assert.Error(t, err)
}

func TestQuoteCarriesIdentity(t *testing.T) {
	q, err := NewCalculator().Quote(freeShoulderPlan(), usage("1600", "28", "14", "58", "0"))
	require.NoError(t, err)
	assert.Equal(t, "FREE-SHOULDER", q.PlanID)
	assert.Equal(t, "Free Middle", q.PlanName)
	assert.Equal(t, "Sunny Energy", q.Retailer)
	assertMoney(t, "685.72", q.Cost.TotalCost)
}
