package comparison

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tariff-cost/db/history"
	"tariff-cost/decision/estimation"
	"tariff-cost/decision/tariff"
	"tariff-cost/pkg/units"
)

// PlanCost identifies a plan and its quarterly total
type PlanCost struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Retailer string          `json:"retailer,omitempty"`
	Cost     decimal.Decimal `json:"cost"`
}

// BaselineSaving compares a selected plan with a reference retailer's cheapest plan this month
type BaselineSaving struct {
	Retailer         string          `json:"retailer"`
	PlanID           string          `json:"plan_id"`
	PlanName         string          `json:"plan_name"`
	PlanCost         decimal.Decimal `json:"plan_cost"`
	QuarterlySavings decimal.Decimal `json:"quarterly_savings"`
	AnnualSavings    decimal.Decimal `json:"annual_savings"`
}

// Opportunity signals that this month's cheapest plan for a (profile, category)
// is strictly cheaper than last month's.
type Opportunity struct {
	Profile  string `json:"profile_name"`
	Category string `json:"category"`

	Current  PlanCost `json:"current_plan"`
	Previous PlanCost `json:"previous_plan"`

	QuarterlySavings decimal.Decimal `json:"quarterly_savings"`
	AnnualSavings    decimal.Decimal `json:"annual_savings"`
	IsNewPlan        bool            `json:"is_new_plan"`

	Baselines []BaselineSaving `json:"baseline_comparison,omitempty"`
	Details   estimation.Quote `json:"current_plan_details"`

	DetectedAt time.Time `json:"detected_at"`
}

// IsAbsolute reports whether the opportunity tracks the cheapest plan across all retailers
func (o Opportunity) IsAbsolute() bool {
	return history.CategoryKey(o.Category) == history.AbsoluteCheapest
}

// ProfileResult is the comparison outcome for one usage profile
type ProfileResult struct {
	Profile string       `json:"profile_name"`
	Pricing PricingStats `json:"pricing"`

	Cheapest  map[string]*estimation.Quote `json:"cheapest_plans,omitempty"`
	Absolute  *estimation.Quote            `json:"absolute_cheapest,omitempty"`
	Baselines map[string]*estimation.Quote `json:"baseline_plans,omitempty"`

	Opportunities []Opportunity `json:"savings_opportunities"`
}

// =============================================================================
// MONTH-OVER-MONTH DETECTION
// =============================================================================

// DetectOpportunity compares current with last month's snapshot for (profile, category)
// and records current as this month's snapshot.
//
// No prior snapshot is the first observation and yields no opportunity. A prior
// snapshot yields one only when current is strictly cheaper. A nil current means
// the category had no priced plan this month; nothing is read or written.
// Store failures are returned as-is and should abort the run.
func (e *Engine) DetectOpportunity(ctx context.Context, profile, category string, current *estimation.Quote) (*Opportunity, error) {
	if current == nil {
		return nil, nil
	}
	now := e.now()

	previous, err := history.GetSnapshot(ctx, e.store, now, profile, category, 1)
	if err != nil {
		return nil, err
	}

	snap := history.NewSnapshot(*current, e.runID, now)
	if err := history.SaveSnapshot(ctx, e.store, now, profile, category, snap); err != nil {
		return nil, err
	}

	log := e.logger.With(zap.String("profile", profile), zap.String("category", category))

	if previous == nil {
		log.Info("first observation", zap.String("plan_id", current.PlanID), zap.String("total", current.Cost.TotalCost.StringFixed(2)))
		return nil, nil
	}

	cur := current.Cost.TotalCost
	if !cur.LessThan(previous.TotalCost) {
		log.Debug("no improvement",
			zap.String("previous", previous.TotalCost.StringFixed(2)),
			zap.String("current", cur.StringFixed(2)),
		)
		return nil, nil
	}

	quarterly := previous.TotalCost.Sub(cur)
	opp := &Opportunity{
		Profile:  profile,
		Category: category,
		Current: PlanCost{
			ID:       current.PlanID,
			Name:     current.PlanName,
			Retailer: current.Retailer,
			Cost:     cur,
		},
		Previous: PlanCost{
			ID:       previous.PlanID,
			Name:     previous.PlanName,
			Retailer: previous.Retailer,
			Cost:     previous.TotalCost,
		},
		QuarterlySavings: quarterly,
		AnnualSavings:    units.QuarterlyToAnnual(quarterly),
		IsNewPlan:        current.PlanID != previous.PlanID,
		Details:          *current,
		DetectedAt:       now,
	}

	log.Info("savings opportunity",
		zap.String("plan_id", current.PlanID),
		zap.Bool("new_plan", opp.IsNewPlan),
		zap.String("quarterly", quarterly.StringFixed(2)),
		zap.String("annual", opp.AnnualSavings.StringFixed(2)),
	)
	return opp, nil
}

// CompareBaselines computes the savings of current against each configured
// baseline retailer's cheapest plan, in configuration order. Missing baselines are skipped.
func (e *Engine) CompareBaselines(current estimation.Quote, baselines map[string]*estimation.Quote) []BaselineSaving {
	var out []BaselineSaving
	for _, retailer := range e.cfg.BaselineRetailers {
		b := baselines[retailer]
		if b == nil {
			continue
		}
		quarterly := b.Cost.TotalCost.Sub(current.Cost.TotalCost)
		out = append(out, BaselineSaving{
			Retailer:         retailer,
			PlanID:           b.PlanID,
			PlanName:         b.PlanName,
			PlanCost:         b.Cost.TotalCost,
			QuarterlySavings: quarterly,
			AnnualSavings:    units.QuarterlyToAnnual(quarterly),
		})
	}
	return out
}

// Compare prices plans for profile and runs detection for every tracked retailer
// and, when enabled, for the absolute cheapest plan.
func (e *Engine) Compare(ctx context.Context, profile tariff.UsageProfile, plans []tariff.Plan) (*ProfileResult, error) {
	quotes, stats, err := e.PriceAll(ctx, plans, profile)
	if err != nil {
		return nil, err
	}
	e.logger.Info("priced plans",
		zap.String("profile", profile.Name),
		zap.Int("priced", stats.Priced),
		zap.Int("failed", stats.Failed),
	)

	result := &ProfileResult{
		Profile:       profile.Name,
		Pricing:       stats,
		Opportunities: []Opportunity{},
	}

	if len(e.cfg.TrackedRetailers) > 0 {
		result.Cheapest = CheapestPerCategory(quotes, e.cfg.TrackedRetailers)
		for _, retailer := range e.cfg.TrackedRetailers {
			current := result.Cheapest[retailer]
			if current == nil {
				e.logger.Warn("no plans found for retailer",
					zap.String("profile", profile.Name),
					zap.String("retailer", retailer),
				)
				continue
			}
			opp, err := e.DetectOpportunity(ctx, profile.Name, retailer, current)
			if err != nil {
				return nil, err
			}
			if opp != nil {
				result.Opportunities = append(result.Opportunities, *opp)
			}
		}
	}

	if e.cfg.TrackAbsoluteCheapest {
		result.Absolute = CheapestOverall(quotes)
		result.Baselines = CheapestPerCategory(quotes, e.cfg.BaselineRetailers)
		opp, err := e.DetectOpportunity(ctx, profile.Name, history.AbsoluteCheapest, result.Absolute)
		if err != nil {
			return nil, err
		}
		if opp != nil {
			opp.Baselines = e.CompareBaselines(*result.Absolute, result.Baselines)
			result.Opportunities = append(result.Opportunities, *opp)
		}
	}

	return result, nil
}
