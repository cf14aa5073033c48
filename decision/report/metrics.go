package report

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gauges and counters describing report runs.
// Each Metrics owns its registry so tests and the HTTP server never share global state.
type Metrics struct {
	registry *prometheus.Registry

	PlansLoaded       prometheus.Gauge
	PlansEligible     prometheus.Gauge
	PlansDisqualified *prometheus.GaugeVec
	PricingFailures   *prometheus.GaugeVec
	CheapestCost      *prometheus.GaugeVec
	Opportunities     *prometheus.CounterVec
	Alerts            *prometheus.CounterVec
	MonthsPurged      prometheus.Counter
	LastRunTimestamp  prometheus.Gauge
	LastRunSuccess    prometheus.Gauge
	RunDuration       prometheus.Histogram
}

// NewMetrics registers every collector on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PlansLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tariffcost_plans_loaded",
			Help: "Plans read from the plan collection in the last run",
		}),
		PlansEligible: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tariffcost_plans_eligible",
			Help: "Plans that passed every filter in the last run",
		}),
		PlansDisqualified: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tariffcost_plans_disqualified",
			Help: "Plans dropped by an eligibility rule in the last run",
		}, []string{"rule"}),
		PricingFailures: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tariffcost_pricing_failures",
			Help: "Plans that could not be priced for a profile in the last run",
		}, []string{"profile"}),
		CheapestCost: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tariffcost_cheapest_quarterly_cost_dollars",
			Help: "Quarterly cost of the cheapest plan per profile and category",
		}, []string{"profile", "category"}),
		Opportunities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffcost_opportunities_total",
			Help: "Savings opportunities detected",
		}, []string{"profile", "category"}),
		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffcost_alerts_total",
			Help: "Alert deliveries by channel and result",
		}, []string{"channel", "result"}),
		MonthsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "tariffcost_history_months_purged_total",
			Help: "History months removed by retention",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tariffcost_last_run_timestamp_seconds",
			Help: "Unix time the last report run finished",
		}),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tariffcost_last_run_success",
			Help: "1 if the last report run completed, 0 otherwise",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tariffcost_run_duration_seconds",
			Help:    "Report run latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the registry for promhttp
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// finish records the outcome of a run
func (m *Metrics) finish(start, end time.Time, ok bool) {
	m.RunDuration.Observe(end.Sub(start).Seconds())
	m.LastRunTimestamp.Set(float64(end.Unix()))
	if ok {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
}

// WriteTextfile writes the registry in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
