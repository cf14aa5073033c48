// Package report provides the Monthly Report Runner
// Runs one comparison batch across all usage profiles, dispatches alerts and writes the run summary
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tariff-cost/db/history"
	"tariff-cost/decision/comparison"
	"tariff-cost/decision/estimation"
	"tariff-cost/decision/tariff"
	"tariff-cost/notify"
	terrors "tariff-cost/pkg/errors"
)

// OverallCategory labels the absolute cheapest plan in monthly summaries
const OverallCategory = "Overall"

// Options controls a single run
type Options struct {
	// DryRun renders alerts to the log instead of delivering them
	DryRun bool
	// SendSummaries sends one monthly summary per profile after the alerts
	SendSummaries bool

	ReportsDir      string
	MetricsFile     string
	RetentionMonths int
}

// Summary is the outcome of one run. It is written as report_YYYY-MM.json.
type Summary struct {
	Status    string    `json:"status"`
	RunID     uuid.UUID `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	DryRun    bool      `json:"dry_run"`

	TotalPlansAnalyzed int                    `json:"total_plans_analyzed"`
	Filter             comparison.FilterStats `json:"filter"`

	ProfilesAnalyzed   int      `json:"profiles_analyzed"`
	ProfilesSkipped    []string `json:"profiles_skipped,omitempty"`
	TotalOpportunities int      `json:"total_opportunities"`
	AlertsSent         int      `json:"alerts_sent"`
	AlertsFailed       int      `json:"alerts_failed"`
	MonthsPurged       int      `json:"months_purged"`

	Profiles map[string]*ProfileSummary `json:"profiles"`

	DurationMS int64  `json:"duration_ms"`
	ReportFile string `json:"-"`
}

// ProfileSummary is the per-profile part of a Summary
type ProfileSummary struct {
	OpportunitiesFound int                      `json:"opportunities_found"`
	AlertsSent         int                      `json:"alerts_sent"`
	AlertsFailed       int                      `json:"alerts_failed"`
	Pricing            comparison.PricingStats  `json:"pricing"`
	CheapestPlans      map[string]CheapestPlan  `json:"cheapest_plans"`
	Opportunities      []comparison.Opportunity `json:"opportunities,omitempty"`
}

// CheapestPlan is the selected plan for one category
type CheapestPlan struct {
	PlanID   string          `json:"plan_id"`
	PlanName string          `json:"plan_name"`
	Retailer string          `json:"retailer_name"`
	Cost     decimal.Decimal `json:"cost"`
}

// Runner executes report runs
type Runner struct {
	engine   *comparison.Engine
	store    history.Store
	notifier notify.Notifier
	profiles []tariff.UsageProfile
	metrics  *Metrics
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewRunner creates a runner. A nil notifier logs alerts; nil metrics allocates a private registry.
func NewRunner(
	engine *comparison.Engine,
	store history.Store,
	notifier notify.Notifier,
	profiles []tariff.UsageProfile,
	metrics *Metrics,
	logger *zap.Logger,
	opts Options,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if opts.RetentionMonths <= 0 {
		opts.RetentionMonths = history.DefaultRetentionMonths
	}
	return &Runner{
		engine:   engine,
		store:    store,
		notifier: notifier,
		profiles: profiles,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock overrides the clock used for timestamps, purge cutoffs and the report file name
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Metrics returns the runner's collectors
func (r *Runner) Metrics() *Metrics { return r.metrics }

// =============================================================================
// RUN
// =============================================================================

// Run loads and filters the plan collection once, compares every profile and
// dispatches the resulting opportunities. Input and history failures abort the
// run; delivery failures are counted and never undo saved snapshots.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := r.now()
	log := r.logger.With(zap.String("run_id", r.engine.RunID().String()))
	log.Info("starting monthly report",
		zap.Bool("dry_run", r.opts.DryRun),
		zap.Int("profiles", len(r.profiles)),
		zap.String("channel", r.notifier.Name()),
	)

	summary, err := r.run(ctx, log, start)
	end := r.now()
	r.metrics.finish(start, end, err == nil)
	r.writeMetrics(log)
	if err != nil {
		log.Error("monthly report failed", zap.Error(err))
		return nil, err
	}

	summary.DurationMS = end.Sub(start).Milliseconds()
	// Snapshots and alerts are already committed at this point.
	if err := r.writeReport(summary); err != nil {
		log.Error("report file not written", zap.Error(err))
	}

	log.Info("monthly report complete",
		zap.Int("plans", summary.TotalPlansAnalyzed),
		zap.Int("profiles", summary.ProfilesAnalyzed),
		zap.Int("opportunities", summary.TotalOpportunities),
		zap.Int("alerts_sent", summary.AlertsSent),
		zap.Int("alerts_failed", summary.AlertsFailed),
		zap.String("report_file", summary.ReportFile),
	)
	return summary, nil
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, start time.Time) (*Summary, error) {
	plans, fstats, err := r.engine.LoadAndFilter(ctx)
	r.recordFilter(fstats)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Status:             "success",
		RunID:              r.engine.RunID(),
		Timestamp:          start,
		DryRun:             r.opts.DryRun,
		TotalPlansAnalyzed: fstats.Eligible,
		Filter:             fstats,
		Profiles:           make(map[string]*ProfileSummary, len(r.profiles)),
	}

	for _, profile := range r.profiles {
		result, err := r.engine.Compare(ctx, profile, plans)
		if err != nil {
			if terrors.HasCode(err, terrors.ErrCodeInvalidProfile) {
				log.Warn("skipping profile", zap.String("profile", profile.Name), zap.Error(err))
				summary.ProfilesSkipped = append(summary.ProfilesSkipped, profile.Name)
				continue
			}
			return nil, fmt.Errorf("failed to compare profile %s: %w", profile.Name, err)
		}

		ps := r.profileSummary(result)
		r.dispatch(ctx, log, result, ps)
		if r.opts.SendSummaries && !r.opts.DryRun {
			r.sendSummary(ctx, log, result)
		}

		summary.Profiles[profile.Name] = ps
		summary.ProfilesAnalyzed++
		summary.TotalOpportunities += ps.OpportunitiesFound
		summary.AlertsSent += ps.AlertsSent
		summary.AlertsFailed += ps.AlertsFailed
	}

	purged, err := history.PurgeOlderThan(ctx, r.store, start, r.opts.RetentionMonths)
	if err != nil {
		return nil, err
	}
	summary.MonthsPurged = purged
	r.metrics.MonthsPurged.Add(float64(purged))
	if purged > 0 {
		log.Info("purged history", zap.Int("months", purged), zap.Int("keep_months", r.opts.RetentionMonths))
	}

	return summary, nil
}

// dispatch delivers each opportunity. One failed delivery does not stop the rest.
func (r *Runner) dispatch(ctx context.Context, log *zap.Logger, result *comparison.ProfileResult, ps *ProfileSummary) {
	channel := r.notifier.Name()
	for i, opp := range result.Opportunities {
		r.metrics.Opportunities.WithLabelValues(opp.Profile, opp.Category).Inc()

		if r.opts.DryRun {
			log.Info("dry run: alert not sent",
				zap.Int("alert", i+1),
				zap.String("profile", opp.Profile),
				zap.String("message", notify.FormatSavingsAlert(opp)),
			)
			r.metrics.Alerts.WithLabelValues(channel, "dry_run").Inc()
			continue
		}

		if err := r.notifier.Notify(ctx, opp); err != nil {
			log.Warn("failed to deliver alert",
				zap.String("profile", opp.Profile),
				zap.String("category", opp.Category),
				zap.Error(err),
			)
			ps.AlertsFailed++
			r.metrics.Alerts.WithLabelValues(channel, "failed").Inc()
			continue
		}
		ps.AlertsSent++
		r.metrics.Alerts.WithLabelValues(channel, "sent").Inc()
	}
}

func (r *Runner) sendSummary(ctx context.Context, log *zap.Logger, result *comparison.ProfileResult) {
	categories := append([]string(nil), r.engine.Config().TrackedRetailers...)
	cheapest := make(map[string]*estimation.Quote, len(result.Cheapest)+1)
	for k, v := range result.Cheapest {
		cheapest[k] = v
	}
	var baselines []comparison.BaselineSaving
	if result.Absolute != nil {
		categories = append(categories, OverallCategory)
		cheapest[OverallCategory] = result.Absolute
		baselines = r.engine.CompareBaselines(*result.Absolute, result.Baselines)
	}

	text := notify.FormatMonthlySummary(result.Profile, categories, cheapest, baselines)
	if err := r.notifier.SendText(ctx, text); err != nil {
		log.Warn("failed to deliver summary", zap.String("profile", result.Profile), zap.Error(err))
	}
}

func (r *Runner) profileSummary(result *comparison.ProfileResult) *ProfileSummary {
	ps := &ProfileSummary{
		OpportunitiesFound: len(result.Opportunities),
		Pricing:            result.Pricing,
		CheapestPlans:      make(map[string]CheapestPlan),
		Opportunities:      result.Opportunities,
	}
	r.metrics.PricingFailures.WithLabelValues(result.Profile).Set(float64(result.Pricing.Failed))

	add := func(category string, q *estimation.Quote) {
		if q == nil {
			return
		}
		ps.CheapestPlans[category] = CheapestPlan{
			PlanID:   q.PlanID,
			PlanName: q.PlanName,
			Retailer: q.Retailer,
			Cost:     q.Cost.TotalCost,
		}
		r.metrics.CheapestCost.WithLabelValues(result.Profile, category).Set(q.Cost.TotalCost.InexactFloat64())
	}
	for category, q := range result.Cheapest {
		add(category, q)
	}
	add(history.AbsoluteCheapest, result.Absolute)
	return ps
}

func (r *Runner) recordFilter(stats comparison.FilterStats) {
	r.metrics.PlansLoaded.Set(float64(stats.Loaded))
	r.metrics.PlansEligible.Set(float64(stats.Eligible))
	r.metrics.PlansDisqualified.Reset()
	for rule, n := range stats.Disqualified {
		r.metrics.PlansDisqualified.WithLabelValues(rule).Set(float64(n))
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

// ReportFileName is the summary file name for the month containing t
func ReportFileName(t time.Time) string {
	return fmt.Sprintf("report_%s.json", t.Format("2006-01"))
}

func (r *Runner) writeReport(summary *Summary) error {
	if r.opts.ReportsDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.opts.ReportsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports dir: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(r.opts.ReportsDir, ReportFileName(summary.Timestamp))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	summary.ReportFile = path
	return nil
}

func (r *Runner) writeMetrics(log *zap.Logger) {
	if r.opts.MetricsFile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.opts.MetricsFile); err != nil {
		log.Warn("metrics not written", zap.Error(err))
	}
}
