// Package ingestion provides the plan sources feeding the comparison pipeline
// Decodes the registry plan collection into normalized plan records
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tariff-cost/decision/tariff"
	terrors "tariff-cost/pkg/errors"
)

// Batch is the result of decoding one plan collection
type Batch struct {
	Plans    []tariff.Plan
	Skipped  int
	Rejected []error
	// Generated is the collection's own timestamp when present
	Generated string
}

// FileSource reads plan records from a JSON file.
// Accepts {"metadata": {...}, "plans": {"TOU": [...], ...}} or a flat array.
type FileSource struct {
	path   string
	logger *zap.Logger
}

// NewFileSource creates a source for path
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, logger: logger}
}

// Path returns the file being read
func (s *FileSource) Path() string { return s.path }

// LoadPlans returns every decodable plan; malformed records are logged and skipped
func (s *FileSource) LoadPlans(ctx context.Context) ([]tariff.Plan, error) {
	batch, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return batch.Plans, nil
}

// Load reads and decodes the file
func (s *FileSource) Load(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	batch, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}

	for _, rej := range batch.Rejected {
		s.logger.Debug("skipping plan record", zap.Error(rej))
	}
	s.logger.Info("loaded plans",
		zap.String("path", s.path),
		zap.Int("plans", len(batch.Plans)),
		zap.Int("skipped", batch.Skipped),
	)
	return batch, nil
}

// Decode parses a plan collection document
func Decode(data []byte) (*Batch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plan collection")
	}

	var records []json.RawMessage
	batch := &Batch{}

	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
	case '{':
		var doc collection
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.Plans == nil {
			return nil, fmt.Errorf("missing \"plans\" object")
		}
		batch.Generated = doc.Metadata.Generated
		// deterministic order across tariff groups
		groups := make([]string, 0, len(doc.Plans))
		for g := range doc.Plans {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			var group []json.RawMessage
			if err := json.Unmarshal(doc.Plans[g], &group); err != nil {
				// non-list entries under "plans" are ignored
				continue
			}
			records = append(records, group...)
		}
	default:
		return nil, fmt.Errorf("unexpected JSON structure")
	}

	for i, rec := range records {
		plan, err := decodeRecord(rec)
		if err != nil {
			batch.Skipped++
			batch.Rejected = append(batch.Rejected, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		batch.Plans = append(batch.Plans, plan)
	}
	return batch, nil
}

// =============================================================================
// RECORD DECODING
// =============================================================================

type collection struct {
	Metadata struct {
		Generated string `json:"generated_at"`
	} `json:"metadata"`
	Plans map[string]json.RawMessage `json:"plans"`
}

// rawPlan mirrors the extracted registry record
type rawPlan struct {
	PlanID     string `json:"plan_id"`
	PlanName   string `json:"plan_name"`
	Retailer   string `json:"retailer_name"`
	TariffType string `json:"tariff_type"`

	PeakCost          *decimal.Decimal `json:"peak_cost"`
	ShoulderCost      *decimal.Decimal `json:"shoulder_cost"`
	OffPeakCost       *decimal.Decimal `json:"off_peak_cost"`
	DailySupplyCharge *decimal.Decimal `json:"daily_supply_charge"`
	SolarFeedInRate   *decimal.Decimal `json:"solar_feed_in_rate_r"`

	MembershipFeeQuarterly *decimal.Decimal `json:"membership_fee_quarterly"`
	Fees                   struct {
		MembershipFee *rawFee `json:"membership_fee"`
	} `json:"fees"`

	TimeBlocks []struct {
		Name   string `json:"name"`
		Period string `json:"time_of_use_period"`
	} `json:"detailed_time_blocks"`

	Raw struct {
		HasDiscounts bool `json:"has_discounts"`
	} `json:"raw_plan_data"`

	Complete struct {
		Main struct {
			PCR struct {
				Costs struct {
					Electricity struct {
						Large struct {
							Quarterly *rawReference `json:"quarterly"`
						} `json:"large"`
					} `json:"electricity"`
				} `json:"costs"`
			} `json:"pcr"`
			PlanData struct {
				Contract []struct {
					TariffPeriod []struct {
						DemandCharge json.RawMessage `json:"demandCharge"`
					} `json:"tariffPeriod"`
				} `json:"contract"`
			} `json:"planData"`
		} `json:"main_api_response"`
		Detailed struct {
			EffectiveDate string `json:"effectiveDate"`
			PlanData      struct {
				EffectiveDate string `json:"effectiveDate"`
			} `json:"planData"`
			Data struct {
				PlanData struct {
					EffectiveDate string `json:"effectiveDate"`
					Contract      []struct {
						Discount []struct {
							Name string `json:"name"`
							Type string `json:"type"`
						} `json:"discount"`
					} `json:"contract"`
				} `json:"planData"`
			} `json:"data"`
		} `json:"detailed_api_response"`
	} `json:"raw_plan_data_complete"`
}

type rawFee struct {
	Term   string          `json:"feeTerm"`
	Amount decimal.Decimal `json:"amount"`
}

type rawReference struct {
	NoDiscounts        decimal.Decimal `json:"noDiscounts"`
	AllDiscounts       decimal.Decimal `json:"allDiscounts"`
	GuaranteedDiscount decimal.Decimal `json:"guaranteedDiscount"`
}

func decodeRecord(data json.RawMessage) (tariff.Plan, error) {
	var raw rawPlan
	if err := json.Unmarshal(data, &raw); err != nil {
		return tariff.Plan{}, terrors.NewPlanRejectedError("", err.Error())
	}
	if strings.TrimSpace(raw.PlanID) == "" {
		return tariff.Plan{}, terrors.NewPlanRejectedError("", "missing plan_id")
	}
	if strings.TrimSpace(raw.Retailer) == "" {
		return tariff.Plan{}, terrors.NewPlanRejectedError(raw.PlanID, "missing retailer_name")
	}

	plan := tariff.Plan{
		ID:                     raw.PlanID,
		Name:                   raw.PlanName,
		Retailer:               raw.Retailer,
		TariffType:             raw.TariffType,
		EffectiveDate:          raw.effectiveDate(),
		PeakRate:               raw.PeakCost,
		ShoulderRate:           raw.ShoulderCost,
		OffPeakRate:            raw.OffPeakCost,
		DailySupplyCharge:      raw.DailySupplyCharge,
		SolarFeedInRate:        raw.SolarFeedInRate,
		MembershipFeeQuarterly: raw.MembershipFeeQuarterly,
		HasDemandCharge:        raw.hasDemandCharge(),
	}

	if f := raw.Fees.MembershipFee; f != nil {
		plan.MembershipFee = &tariff.Fee{Term: feeTerm(f.Term), Amount: f.Amount}
	}

	for _, b := range raw.TimeBlocks {
		plan.TimeBlocks = append(plan.TimeBlocks, tariff.TimeBlock{Name: b.Name, Period: strings.ToUpper(strings.TrimSpace(b.Period))})
	}

	plan.Discounts.HasDiscounts = raw.Raw.HasDiscounts
	if ref := raw.Complete.Main.PCR.Costs.Electricity.Large.Quarterly; ref != nil {
		plan.Discounts.Reference = &tariff.ReferenceCosts{
			NoDiscounts:        ref.NoDiscounts,
			AllDiscounts:       ref.AllDiscounts,
			GuaranteedDiscount: ref.GuaranteedDiscount,
		}
	}
	for _, c := range raw.Complete.Detailed.Data.PlanData.Contract {
		for _, d := range c.Discount {
			plan.Discounts.Entries = append(plan.Discounts.Entries, tariff.Discount{Name: d.Name, Type: discountType(d.Type)})
		}
	}

	return plan, nil
}

// effectiveDate checks the detailed response's nested, plan-level and top-level fields in that order
func (r *rawPlan) effectiveDate() time.Time {
	d := r.Complete.Detailed
	for _, s := range []string{d.Data.PlanData.EffectiveDate, d.PlanData.EffectiveDate, d.EffectiveDate} {
		if t, ok := parseDate(s); ok {
			return t
		}
	}
	return time.Time{}
}

func (r *rawPlan) hasDemandCharge() bool {
	for _, c := range r.Complete.Main.PlanData.Contract {
		for _, p := range c.TariffPeriod {
			if present(p.DemandCharge) {
				return true
			}
		}
	}
	return false
}

// present reports whether a raw JSON value is non-empty: not null, false, a
// zero number (0, 0.0, -0e1), "", [] or {}.
func present(v json.RawMessage) bool {
	s := string(bytes.TrimSpace(v))
	switch s {
	case "", "null", "false", `""`, "[]", "{}":
		return false
	}
	if s[0] == '-' || (s[0] >= '0' && s[0] <= '9') {
		if n, err := decimal.NewFromString(s); err == nil {
			return !n.IsZero()
		}
	}
	return true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02") {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func feeTerm(s string) tariff.FeeTerm {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "ANNUAL":
		return tariff.FeeTermAnnual
	case "M", "MONTHLY":
		return tariff.FeeTermMonthly
	case "Q", "QUARTERLY":
		return tariff.FeeTermQuarterly
	default:
		return tariff.FeeTermOther
	}
}

func discountType(s string) tariff.DiscountType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CONDITIONAL":
		return tariff.DiscountConditional
	case "G", "GUARANTEED":
		return tariff.DiscountGuaranteed
	default:
		return tariff.DiscountOther
	}
}
