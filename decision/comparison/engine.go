// Package comparison provides the Comparison Engine
// Filters and prices the plan collection, picks the cheapest plan per category and detects month-over-month savings
package comparison

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tariff-cost/db/history"
	"tariff-cost/decision/estimation"
	"tariff-cost/decision/policy"
	"tariff-cost/decision/tariff"
	terrors "tariff-cost/pkg/errors"
)

// DefaultWorkers bounds the pricing fan-out when no limit is configured
const DefaultWorkers = 8

// PlanSource supplies the raw plan collection
type PlanSource interface {
	LoadPlans(ctx context.Context) ([]tariff.Plan, error)
}

// Config controls filtering and tracking
type Config struct {
	// EffectiveFrom drops plans effective before this date. Zero disables the cutoff.
	EffectiveFrom time.Time
	// Excluded plan IDs are dropped before eligibility rules run
	Excluded []string

	TrackedRetailers      []string
	BaselineRetailers     []string
	TrackAbsoluteCheapest bool

	Workers int
}

// FilterStats counts why plans were dropped
type FilterStats struct {
	Loaded       int            `json:"loaded"`
	MissingDate  int            `json:"missing_effective_date"`
	TooOld       int            `json:"effective_before_cutoff"`
	Excluded     int            `json:"excluded"`
	Disqualified map[string]int `json:"disqualified"`
	Eligible     int            `json:"eligible"`
}

// PricingStats counts pricing outcomes for one profile
type PricingStats struct {
	Priced int `json:"priced"`
	Failed int `json:"failed"`
}

// Engine orchestrates filtering, pricing and history comparison
type Engine struct {
	source      PlanSource
	calculator  *estimation.Calculator
	eligibility *policy.Engine
	store       history.Store
	logger      *zap.Logger
	cfg         Config
	excluded    map[string]bool
	runID       uuid.UUID
	now         func() time.Time
}

// NewEngine creates a new comparison engine
func NewEngine(
	source PlanSource,
	calculator *estimation.Calculator,
	eligibility *policy.Engine,
	store history.Store,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	excluded := make(map[string]bool, len(cfg.Excluded))
	for _, id := range cfg.Excluded {
		excluded[strings.TrimSpace(id)] = true
	}
	return &Engine{
		source:      source,
		calculator:  calculator,
		eligibility: eligibility,
		store:       store,
		logger:      logger,
		cfg:         cfg,
		excluded:    excluded,
		runID:       uuid.New(),
		now:         time.Now,
	}
}

// WithClock overrides the clock used to resolve the current month
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRunID sets the batch identifier stamped on saved snapshots
func (e *Engine) WithRunID(id uuid.UUID) *Engine {
	e.runID = id
	return e
}

// RunID returns the batch identifier
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Config returns the engine configuration
func (e *Engine) Config() Config { return e.cfg }

// =============================================================================
// FILTERING & PRICING
// =============================================================================

// LoadAndFilter loads the collection and keeps plans passing the date cutoff,
// the exclusion list and the eligibility rules.
func (e *Engine) LoadAndFilter(ctx context.Context) ([]tariff.Plan, FilterStats, error) {
	stats := FilterStats{Disqualified: make(map[string]int)}

	plans, err := e.source.LoadPlans(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to load plans: %w", err)
	}
	stats.Loaded = len(plans)

	eligible := make([]tariff.Plan, 0, len(plans))
	for i := range plans {
		plan := &plans[i]

		if !e.cfg.EffectiveFrom.IsZero() {
			if plan.EffectiveDate.IsZero() {
				stats.MissingDate++
				continue
			}
			if plan.EffectiveDate.Before(e.cfg.EffectiveFrom) {
				stats.TooOld++
				continue
			}
		}

		if e.excluded[plan.ID] {
			stats.Excluded++
			continue
		}

		if v := e.eligibility.Evaluate(plan); !v.Eligible() {
			stats.Disqualified[v.RuleID]++
			e.logger.Debug("plan disqualified",
				zap.String("plan_id", plan.ID),
				zap.String("rule", v.RuleID),
				zap.String("reason", v.Reason),
			)
			continue
		}

		eligible = append(eligible, *plan)
	}
	stats.Eligible = len(eligible)

	e.logger.Info("filtered plans",
		zap.Int("loaded", stats.Loaded),
		zap.Int("missing_date", stats.MissingDate),
		zap.Int("too_old", stats.TooOld),
		zap.Int("excluded", stats.Excluded),
		zap.Any("disqualified", stats.Disqualified),
		zap.Int("eligible", stats.Eligible),
	)

	if len(eligible) == 0 {
		return nil, stats, terrors.NewNoEligiblePlansError(stats.Loaded)
	}
	return eligible, stats, nil
}

// PriceAll quotes every plan for profile. Plans that fail to price are dropped and counted.
// An invalid profile fails the whole call with INVALID_PROFILE.
func (e *Engine) PriceAll(ctx context.Context, plans []tariff.Plan, profile tariff.UsageProfile) ([]estimation.Quote, PricingStats, error) {
	var stats PricingStats
	if err := profile.Validate(); err != nil {
		return nil, stats, err
	}

	slots := make([]*estimation.Quote, len(plans))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range plans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			q, err := e.calculator.Quote(&plans[i], profile)
			if err != nil {
				failed.Add(1)
				e.logger.Debug("pricing failed",
					zap.String("plan_id", plans[i].ID),
					zap.String("profile", profile.Name),
					zap.Error(err),
				)
				return nil
			}
			slots[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	quotes := make([]estimation.Quote, 0, len(plans))
	for _, q := range slots {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	stats.Priced = len(quotes)
	stats.Failed = int(failed.Load())
	return quotes, stats, nil
}

// =============================================================================
// SELECTION
// =============================================================================

// CheapestPerCategory returns the cheapest quote whose retailer contains each
// category name, case-insensitively. Categories without a match map to nil.
func CheapestPerCategory(quotes []estimation.Quote, categories []string) map[string]*estimation.Quote {
	out := make(map[string]*estimation.Quote, len(categories))
	for _, category := range categories {
		needle := strings.ToLower(strings.TrimSpace(category))
		out[category] = cheapest(quotes, func(q *estimation.Quote) bool {
			return needle != "" && strings.Contains(strings.ToLower(q.Retailer), needle)
		})
	}
	return out
}

// CheapestOverall returns the cheapest quote, or nil when there are none.
func CheapestOverall(quotes []estimation.Quote) *estimation.Quote {
	return cheapest(quotes, func(*estimation.Quote) bool { return true })
}

// SortByCost orders quotes by total cost, then plan ID
func SortByCost(quotes []estimation.Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if c := quotes[i].Cost.TotalCost.Cmp(quotes[j].Cost.TotalCost); c != 0 {
			return c < 0
		}
		return quotes[i].PlanID < quotes[j].PlanID
	})
}

// cheapest picks the minimum total cost; equal totals resolve to the lower plan ID.
func cheapest(quotes []estimation.Quote, match func(*estimation.Quote) bool) *estimation.Quote {
	var best *estimation.Quote
	for i := range quotes {
		q := &quotes[i]
		if !match(q) {
			continue
		}
		if best == nil {
			best = q
			continue
		}
		switch q.Cost.TotalCost.Cmp(best.Cost.TotalCost) {
		case -1:
			best = q
		case 0:
			if q.PlanID < best.PlanID {
				best = q
			}
		}
	}
	if best == nil {
		return nil
	}
	picked := *best
	return &picked
}
