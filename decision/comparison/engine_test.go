package comparison

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tariff-cost/db/history"
	"tariff-cost/decision/estimation"
	"tariff-cost/decision/policy"
	"tariff-cost/decision/tariff"
	terrors "tariff-cost/pkg/errors"
)

// =============================================================================
// FAKES
// =============================================================================

type staticSource struct {
	plans []tariff.Plan
	err   error
}

func (s staticSource) LoadPlans(context.Context) ([]tariff.Plan, error) {
	return append([]tariff.Plan(nil), s.plans...), s.err
}

type memoryStore struct {
	data    map[history.Key]history.Snapshot
	puts    int
	failGet error
	failPut error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[history.Key]history.Snapshot)}
}

func normalize(k history.Key) history.Key {
	k.Category = history.CategoryKey(k.Category)
	return k
}

func (m *memoryStore) Put(_ context.Context, key history.Key, snap history.Snapshot) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.puts++
	m.data[normalize(key)] = snap
	return nil
}

func (m *memoryStore) Get(_ context.Context, key history.Key) (*history.Snapshot, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	snap, ok := m.data[normalize(key)]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *memoryStore) PurgeBefore(context.Context, history.Month) (int, error) { return 0, nil }

func (m *memoryStore) ProfileHistory(context.Context, string, history.Month) ([]history.Record, error) {
	return nil, nil
}

func (m *memoryStore) Stats(context.Context) (*history.Stats, error) { return &history.Stats{}, nil }

func (m *memoryStore) Ping(context.Context) error { return nil }

// =============================================================================
// FIXTURES
// =============================================================================

var (
	june = time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
	july = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
)

func testProfile() tariff.UsageProfile {
	return tariff.UsageProfile{
		Name:                    "family",
		QuarterlyConsumptionKWh: decimal.NewFromInt(1000),
		PeakPercent:             decimal.NewFromInt(40),
		ShoulderPercent:         decimal.NewFromInt(20),
		OffPeakPercent:          decimal.NewFromInt(40),
	}
}

func testPlan(id, retailer, supply, peak, offPeak string) tariff.Plan {
	return tariff.Plan{
		ID:                id,
		Name:              id + " saver",
		Retailer:          retailer,
		EffectiveDate:     time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC),
		DailySupplyCharge: tariff.Dec(supply),
		PeakRate:          tariff.Dec(peak),
		OffPeakRate:       tariff.Dec(offPeak),
	}
}

func testQuote(id, retailer, total string) *estimation.Quote {
	return &estimation.Quote{
		PlanID:   id,
		PlanName: id + " saver",
		Retailer: retailer,
		Cost:     estimation.CostBreakdown{TotalCost: decimal.RequireFromString(total)},
	}
}

func newTestEngine(source PlanSource, store history.Store, cfg Config, now time.Time) *Engine {
	return NewEngine(source, estimation.NewCalculator(), policy.NewEngine(), store, zap.NewNop(), cfg).
		WithClock(func() time.Time { return now })
}

// =============================================================================
// FILTERING & PRICING
// =============================================================================

func TestLoadAndFilter(t *testing.T) {
	old := testPlan("OLD", "AGL", "100", "40", "20")
	old.EffectiveDate = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	undated := testPlan("UNDATED", "AGL", "100", "40", "20")
	undated.EffectiveDate = time.Time{}
	demand := testPlan("DEMAND", "AGL", "100", "40", "20")
	demand.HasDemandCharge = true
	noPeak := testPlan("NOPEAK", "AGL", "100", "40", "20")
	noPeak.PeakRate = nil

	source := staticSource{plans: []tariff.Plan{
		testPlan("OK1", "AGL", "100", "40", "20"),
		old, undated, demand, noPeak,
		testPlan("AGL360486MRE33", "AGL", "100", "40", "20"),
		testPlan("OK2", "Origin Energy", "90", "41", "21"),
	}}
	cfg := Config{
		EffectiveFrom: time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC),
		Excluded:      []string{"AGL360486MRE33"},
	}
	engine := newTestEngine(source, newMemoryStore(), cfg, july)

	plans, stats, err := engine.LoadAndFilter(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "OK1", plans[0].ID)
	assert.Equal(t, "OK2", plans[1].ID)

	assert.Equal(t, 7, stats.Loaded)
	assert.Equal(t, 1, stats.MissingDate)
	assert.Equal(t, 1, stats.TooOld)
	assert.Equal(t, 1, stats.Excluded)
	assert.Equal(t, map[string]int{"demand_charge": 1, "peak_rate": 1}, stats.Disqualified)
	assert.Equal(t, 2, stats.Eligible)
}

func TestLoadAndFilterWithoutCutoffKeepsUndatedPlans(t *testing.T) {
	undated := testPlan("UNDATED", "AGL", "100", "40", "20")
	undated.EffectiveDate = time.Time{}
	engine := newTestEngine(staticSource{plans: []tariff.Plan{undated}}, newMemoryStore(), Config{}, july)

	plans, _, err := engine.LoadAndFilter(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestLoadAndFilterErrors(t *testing.T) {
	ctx := context.Background()

	engine := newTestEngine(staticSource{err: errors.New("disk on fire")}, newMemoryStore(), Config{}, july)
	_, _, err := engine.LoadAndFilter(ctx)
	assert.ErrorContains(t, err, "disk on fire")

	demand := testPlan("DEMAND", "AGL", "100", "40", "20")
	demand.HasDemandCharge = true
	engine = newTestEngine(staticSource{plans: []tariff.Plan{demand}}, newMemoryStore(), Config{}, july)
	_, stats, err := engine.LoadAndFilter(ctx)
	require.Error(t, err)
	assert.True(t, terrors.HasCode(err, terrors.ErrCodeNoEligiblePlans))
	assert.Equal(t, 1, stats.Disqualified["demand_charge"])
}

func TestPriceAll(t *testing.T) {
	plans := make([]tariff.Plan, 0, 50)
	for i := 0; i < 50; i++ {
		plans = append(plans, testPlan(string(rune('A'+i%26))+"-plan", "AGL", "100", "40", "20"))
	}
	engine := newTestEngine(staticSource{}, newMemoryStore(), Config{Workers: 4}, july)

	quotes, stats, err := engine.PriceAll(context.Background(), plans, testProfile())
	require.NoError(t, err)
	assert.Len(t, quotes, 50)
	assert.Equal(t, 50, stats.Priced)
	assert.Zero(t, stats.Failed)
	for i, q := range quotes {
		assert.Equal(t, plans[i].ID, q.PlanID)
	}
}

func TestPriceAllInvalidProfile(t *testing.T) {
	engine := newTestEngine(staticSource{}, newMemoryStore(), Config{}, july)
	profile := testProfile()
	profile.PeakPercent = decimal.NewFromInt(90)

	_, _, err := engine.PriceAll(context.Background(), []tariff.Plan{testPlan("A", "AGL", "1", "1", "1")}, profile)
	require.Error(t, err)
	assert.True(t, terrors.HasCode(err, terrors.ErrCodeInvalidProfile))
}

func TestPriceAllCancelled(t *testing.T) {
	engine := newTestEngine(staticSource{}, newMemoryStore(), Config{}, july)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := engine.PriceAll(ctx, []tariff.Plan{testPlan("A", "AGL", "1", "1", "1")}, testProfile())
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// SELECTION
// =============================================================================

func TestCheapestPerCategory(t *testing.T) {
	quotes := []estimation.Quote{
		*testQuote("AGL-2", "AGL", "410.00"),
		*testQuote("AGL-1", "agl", "400.00"),
		*testQuote("ORI-1", "Origin Energy", "390.00"),
		*testQuote("ORI-0", "Origin Energy", "390.00"),
	}

	got := CheapestPerCategory(quotes, []string{"AGL", "origin", "Red Energy"})
	require.NotNil(t, got["AGL"])
	assert.Equal(t, "AGL-1", got["AGL"].PlanID)
	require.NotNil(t, got["origin"])
	assert.Equal(t, "ORI-0", got["origin"].PlanID, "ties resolve to the lower plan ID")
	assert.Contains(t, got, "Red Energy")
	assert.Nil(t, got["Red Energy"])

	assert.Equal(t, "ORI-0", CheapestOverall(quotes).PlanID)
	assert.Nil(t, CheapestOverall(nil))

	SortByCost(quotes)
	ids := make([]string, len(quotes))
	for i, q := range quotes {
		ids[i] = q.PlanID
	}
	assert.Equal(t, []string{"ORI-0", "ORI-1", "AGL-1", "AGL-2"}, ids)
}

func TestDemandChargePlanNeverSelected(t *testing.T) {
	demand := testPlan("DEMAND", "AGL", "1", "0.01", "0.01")
	demand.HasDemandCharge = true
	source := staticSource{plans: []tariff.Plan{
		demand,
		testPlan("AGL-NORMAL", "AGL", "100", "40", "20"),
		testPlan("ORI-NORMAL", "Origin Energy", "100", "42", "22"),
	}}
	engine := newTestEngine(source, newMemoryStore(), Config{}, july)

	plans, _, err := engine.LoadAndFilter(context.Background())
	require.NoError(t, err)
	quotes, _, err := engine.PriceAll(context.Background(), plans, testProfile())
	require.NoError(t, err)

	assert.Equal(t, "AGL-NORMAL", CheapestOverall(quotes).PlanID)
	assert.Equal(t, "AGL-NORMAL", CheapestPerCategory(quotes, []string{"AGL"})["AGL"].PlanID)
	for _, q := range quotes {
		assert.NotEqual(t, "DEMAND", q.PlanID)
	}
}
