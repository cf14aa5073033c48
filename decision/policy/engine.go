// Package policy provides the Plan Eligibility Engine
// Evaluates disqualification rules against plan records before they are priced
package policy

import (
	"fmt"
	"strings"

	"tariff-cost/decision/tariff"
)

// RuleType defines the type of rule
type RuleType string

const (
	RuleTypeDemandCharge RuleType = "demand_charge"
	RuleTypeSupplyCharge RuleType = "supply_charge"
	RuleTypePeakRate     RuleType = "peak_rate"
	RuleTypeOffPeakRate  RuleType = "off_peak_rate"
	RuleTypeZeroShoulder RuleType = "zero_shoulder"
)

// Decision is the rule evaluation outcome
type Decision string

const (
	DecisionEligible     Decision = "eligible"
	DecisionDisqualified Decision = "disqualified"
)

// Rule defines one disqualification check
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        RuleType `json:"type"`
	Enabled     bool     `json:"enabled"`
}

// Verdict is the outcome for a single plan
type Verdict struct {
	Decision Decision `json:"decision"`
	RuleID   string   `json:"rule_id,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Eligible reports whether the plan may be priced.
func (v Verdict) Eligible() bool { return v.Decision == DecisionEligible }

// Engine evaluates eligibility rules against plans
type Engine struct {
	rules []Rule
}

// NewEngine creates a new eligibility engine with the default rules
func NewEngine() *Engine {
	return &Engine{rules: defaultRules()}
}

// Disable turns off the rules with the given IDs. Known IDs are disabled even
// when the call returns an error listing the unknown ones.
func (e *Engine) Disable(ids ...string) error {
	var unknown []string
	for _, id := range ids {
		found := false
		for i := range e.rules {
			if e.rules[i].ID == id {
				e.rules[i].Enabled = false
				found = true
			}
		}
		if !found {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown eligibility rule(s) %s (known: %s)",
			strings.Join(unknown, ", "), strings.Join(e.ruleIDs(), ", "))
	}
	return nil
}

func (e *Engine) ruleIDs() []string {
	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID
	}
	return ids
}

// Rules returns a copy of the configured rules.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs the rules in order and stops at the first that disqualifies the plan.
func (e *Engine) Evaluate(plan *tariff.Plan) Verdict {
	if plan == nil {
		return Verdict{Decision: DecisionDisqualified, Reason: "missing plan record"}
	}
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if reason, hit := e.evaluateRule(rule, plan); hit {
			return Verdict{Decision: DecisionDisqualified, RuleID: rule.ID, Reason: reason}
		}
	}
	return Verdict{Decision: DecisionEligible}
}

func (e *Engine) evaluateRule(r Rule, plan *tariff.Plan) (string, bool) {
	switch r.Type {
	case RuleTypeDemandCharge:
		if plan.HasDemandCharge {
			return "Has demand charges", true
		}

	case RuleTypeSupplyCharge:
		if !tariff.Positive(plan.DailySupplyCharge) {
			return "Missing or invalid supply charge", true
		}

	case RuleTypePeakRate:
		if !tariff.Positive(plan.PeakRate) {
			return "Missing or invalid peak rate", true
		}

	case RuleTypeOffPeakRate:
		if !tariff.Positive(plan.OffPeakRate) {
			return "Missing or invalid off-peak rate", true
		}

	case RuleTypeZeroShoulder:
		// A nil shoulder is a legitimate two-rate plan. A zero shoulder is only
		// suspicious when the plan also declares a shoulder block.
		if plan.ShoulderRate != nil && plan.ShoulderRate.IsZero() && plan.HasShoulderBlock() {
			return fmt.Sprintf("Shoulder rate is 0 but %d time block(s) declare a shoulder period",
				countShoulderBlocks(plan)), true
		}
	}

	return "", false
}

func countShoulderBlocks(plan *tariff.Plan) int {
	n := 0
	for _, b := range plan.TimeBlocks {
		if b.Period == tariff.PeriodShoulder {
			n++
		}
	}
	return n
}

func defaultRules() []Rule {
	return []Rule{
		{
			ID:          string(RuleTypeDemandCharge),
			Name:        "No Demand Charges",
			Description: "Plans billing peak instantaneous draw are outside the TOU model",
			Type:        RuleTypeDemandCharge,
			Enabled:     true,
		},
		{
			ID:          string(RuleTypeSupplyCharge),
			Name:        "Supply Charge Required",
			Description: "Daily supply charge must be present and positive",
			Type:        RuleTypeSupplyCharge,
			Enabled:     true,
		},
		{
			ID:          string(RuleTypePeakRate),
			Name:        "Peak Rate Required",
			Description: "Peak rate must be present and positive",
			Type:        RuleTypePeakRate,
			Enabled:     true,
		},
		{
			ID:          string(RuleTypeOffPeakRate),
			Name:        "Off-Peak Rate Required",
			Description: "Off-peak rate must be present and positive",
			Type:        RuleTypeOffPeakRate,
			Enabled:     true,
		},
		{
			ID:          string(RuleTypeZeroShoulder),
			Name:        "No Zero-Priced Shoulder Block",
			Description: "A declared shoulder block priced at exactly 0 is treated as bad data",
			Type:        RuleTypeZeroShoulder,
			Enabled:     true,
		},
	}
}
