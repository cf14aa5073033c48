// Package history persists the monthly cheapest-plan snapshots used as the
// baseline for month-over-month comparisons
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tariff-cost/decision/estimation"
)

// AbsoluteCheapest is the reserved category for the cheapest plan across all retailers.
// Its file key is "absolute_cheapest_cheapest", the layout older history files already use.
const AbsoluteCheapest = "absolute_cheapest"

// DefaultRetentionMonths is how long snapshots are kept when no window is configured.
const DefaultRetentionMonths = 24

// Month identifies a calendar month. Its String form "2006-01" is the storage key.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a "YYYY-MM" key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month key %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// AddMonths returns the month n months after m (n may be negative).
func (m Month) AddMonths(n int) Month {
	return MonthOf(time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0))
}

// Before reports whether m is earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Key addresses one snapshot.
type Key struct {
	Month    Month
	Profile  string
	Category string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Month, k.Profile, CategoryKey(k.Category))
}

// CategoryKey normalizes a retailer name or reserved category for storage.
func CategoryKey(category string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(category)), " ", "_")
}

// Snapshot is the persisted cheapest plan for a (month, profile, category).
type Snapshot struct {
	PlanID   string `json:"plan_id"`
	PlanName string `json:"plan_name"`
	Retailer string `json:"retailer_name"`

	TotalCost   decimal.Decimal `json:"total_cost"`
	BaseCost    decimal.Decimal `json:"base_cost"`
	MonthlyCost decimal.Decimal `json:"monthly_cost"`
	AnnualCost  decimal.Decimal `json:"annual_cost"`

	DiscountInfo DiscountInfo `json:"discount_info"`
	Breakdown    Breakdown    `json:"breakdown"`

	RunID   uuid.UUID `json:"run_id"`
	SavedAt time.Time `json:"saved_at"`
}

// savedAtLayouts are tried in order. Older history files carry zone-less
// local timestamps with microseconds.
var savedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts RFC 3339 saved_at values as well as zone-less local ones.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type plain Snapshot
	aux := struct {
		*plain
		SavedAt string `json:"saved_at"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.SavedAt = time.Time{}
	if aux.SavedAt == "" {
		return nil
	}
	for _, layout := range savedAtLayouts {
		if t, err := time.ParseInLocation(layout, aux.SavedAt, time.Local); err == nil {
			s.SavedAt = t
			return nil
		}
	}
	return fmt.Errorf("invalid saved_at %q", aux.SavedAt)
}

// DiscountInfo records whether a guaranteed discount was applied.
type DiscountInfo struct {
	Applied bool            `json:"applied"`
	Percent decimal.Decimal `json:"percent"`
	Savings decimal.Decimal `json:"savings"`
}

// Breakdown records the bill lines behind a snapshot's total.
type Breakdown struct {
	SupplyCharge  decimal.Decimal `json:"supply_charge"`
	UsageCharge   decimal.Decimal `json:"usage_charge"`
	MembershipFee decimal.Decimal `json:"membership_fee"`
	SolarCredit   decimal.Decimal `json:"solar_credit"`
}

// NewSnapshot builds a snapshot from a priced plan.
func NewSnapshot(q estimation.Quote, runID uuid.UUID, savedAt time.Time) Snapshot {
	c := q.Cost
	return Snapshot{
		PlanID:      q.PlanID,
		PlanName:    q.PlanName,
		Retailer:    q.Retailer,
		TotalCost:   c.TotalCost,
		BaseCost:    c.BaseCost,
		MonthlyCost: c.MonthlyCost,
		AnnualCost:  c.AnnualCost,
		DiscountInfo: DiscountInfo{
			Applied: c.DiscountApplied,
			Percent: c.DiscountPercent,
			Savings: c.DiscountSavings,
		},
		Breakdown: Breakdown{
			SupplyCharge:  c.SupplyCharge,
			UsageCharge:   c.UsageCharge,
			MembershipFee: c.MembershipFee,
			SolarCredit:   c.SolarCredit,
		},
		RunID:   runID,
		SavedAt: savedAt,
	}
}

// Record pairs a snapshot with its key.
type Record struct {
	Key      Key
	Snapshot Snapshot
}

// Stats summarizes the stored history.
type Stats struct {
	TotalMonths     int      `json:"total_months"`
	TotalSnapshots  int      `json:"total_snapshots"`
	ProfilesTracked []string `json:"profiles_tracked"`
	Location        string   `json:"location"`
	SizeBytes       int64    `json:"size_bytes"`
}

// Store persists snapshots. Put overwrites an existing key. Get returns
// (nil, nil) when nothing was recorded for the key.
type Store interface {
	Put(ctx context.Context, key Key, snap Snapshot) error
	Get(ctx context.Context, key Key) (*Snapshot, error)
	PurgeBefore(ctx context.Context, cutoff Month) (int, error)
	ProfileHistory(ctx context.Context, profile string, from Month) ([]Record, error)
	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
}

// =============================================================================
// RELATIVE-MONTH OPERATIONS
// =============================================================================

// SaveSnapshot records snap for the month containing now.
func SaveSnapshot(ctx context.Context, s Store, now time.Time, profile, category string, snap Snapshot) error {
	return s.Put(ctx, Key{Month: MonthOf(now), Profile: profile, Category: category}, snap)
}

// GetSnapshot returns the snapshot recorded monthsAgo months before now, or nil.
func GetSnapshot(ctx context.Context, s Store, now time.Time, profile, category string, monthsAgo int) (*Snapshot, error) {
	return s.Get(ctx, Key{Month: MonthOf(now).AddMonths(-monthsAgo), Profile: profile, Category: category})
}

// PurgeOlderThan removes whole months older than keepMonths before now.
func PurgeOlderThan(ctx context.Context, s Store, now time.Time, keepMonths int) (int, error) {
	if keepMonths <= 0 {
		keepMonths = DefaultRetentionMonths
	}
	return s.PurgeBefore(ctx, MonthOf(now).AddMonths(-keepMonths))
}

// RecentHistory returns a profile's snapshots for the last months months, including the current one.
func RecentHistory(ctx context.Context, s Store, now time.Time, profile string, months int) ([]Record, error) {
	if months <= 0 {
		months = 12
	}
	return s.ProfileHistory(ctx, profile, MonthOf(now).AddMonths(-(months - 1)))
}
