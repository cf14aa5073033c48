package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariff-cost/decision/tariff"
)

func validPlan() *tariff.Plan {
	return &tariff.Plan{
		ID:                "AGL-TOU",
		Retailer:          "AGL",
		DailySupplyCharge: tariff.Dec("110.5"),
		PeakRate:          tariff.Dec("45.1"),
		ShoulderRate:      tariff.Dec("30.2"),
		OffPeakRate:       tariff.Dec("22.3"),
	}
}

func TestEvaluate(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name   string
		mutate func(p *tariff.Plan)
		ruleID string
	}{
		{"valid plan", func(p *tariff.Plan) {}, ""},
		{"demand charge", func(p *tariff.Plan) { p.HasDemandCharge = true }, "demand_charge"},
		{"missing supply", func(p *tariff.Plan) { p.DailySupplyCharge = nil }, "supply_charge"},
		{"zero supply", func(p *tariff.Plan) { p.DailySupplyCharge = tariff.Dec("0") }, "supply_charge"},
		{"missing peak", func(p *tariff.Plan) { p.PeakRate = nil }, "peak_rate"},
		{"negative off-peak", func(p *tariff.Plan) { p.OffPeakRate = tariff.Dec("-1") }, "off_peak_rate"},
		{"null shoulder is a two-rate plan", func(p *tariff.Plan) { p.ShoulderRate = nil }, ""},
		{"zero shoulder without a shoulder block", func(p *tariff.Plan) {
			p.ShoulderRate = tariff.Dec("0")
			p.TimeBlocks = []tariff.TimeBlock{{Name: "Peak", Period: tariff.PeriodPeak}}
		}, ""},
		{"zero shoulder with a shoulder block", func(p *tariff.Plan) {
			p.ShoulderRate = tariff.Dec("0")
			p.TimeBlocks = []tariff.TimeBlock{
				{Name: "Peak", Period: tariff.PeriodPeak},
				{Name: "Daytime", Period: tariff.PeriodShoulder},
			}
		}, "zero_shoulder"},
		{"demand charge wins over cheap rates", func(p *tariff.Plan) {
			p.HasDemandCharge = true
			p.PeakRate = tariff.Dec("0.01")
		}, "demand_charge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := validPlan()
			tt.mutate(plan)
			v := engine.Evaluate(plan)
			if tt.ruleID == "" {
				assert.True(t, v.Eligible(), v.Reason)
				assert.Empty(t, v.Reason)
				return
			}
			assert.False(t, v.Eligible())
			assert.Equal(t, tt.ruleID, v.RuleID)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestEvaluateNilPlan(t *testing.T) {
	v := NewEngine().Evaluate(nil)
	assert.False(t, v.Eligible())
}

func TestDisable(t *testing.T) {
	engine := NewEngine()
	require.NoError(t, engine.Disable("zero_shoulder"))

	plan := validPlan()
	plan.ShoulderRate = tariff.Dec("0")
	plan.TimeBlocks = []tariff.TimeBlock{{Period: tariff.PeriodShoulder}}

	assert.True(t, engine.Evaluate(plan).Eligible())
	for _, r := range engine.Rules() {
		assert.Equal(t, r.ID != "zero_shoulder", r.Enabled, r.ID)
	}
}

func TestDisableUnknownRule(t *testing.T) {
	engine := NewEngine()
	err := engine.Disable("zero-shoulder", "demand_charge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero-shoulder")
	assert.Contains(t, err.Error(), "zero_shoulder")

	plan := validPlan()
	plan.HasDemandCharge = true
	assert.True(t, engine.Evaluate(plan).Eligible(), "known IDs are still disabled")
}

func TestRuleIDsMatchTypes(t *testing.T) {
	for _, r := range NewEngine().Rules() {
		assert.Equal(t, string(r.Type), r.ID)
	}
}
