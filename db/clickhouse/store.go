// Package clickhouse provides ClickHouse implementation of the snapshot history store
// Snapshots land in a ReplacingMergeTree keyed by (month, profile, category) so re-runs overwrite
package clickhouse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tariff-cost/db/history"
	terrors "tariff-cost/pkg/errors"
)

const table = "plan_snapshots"

const schema = `
	CREATE TABLE IF NOT EXISTS plan_snapshots (
		month            String,
		profile          String,
		category         String,
		plan_id          String,
		plan_name        String,
		retailer         String,
		total_cost       Decimal(12, 2),
		annual_cost      Decimal(12, 2),
		discount_applied UInt8,
		payload          String,
		hash             String,
		run_id           UUID,
		saved_at         DateTime64(3)
	) ENGINE = ReplacingMergeTree(saved_at)
	ORDER BY (month, profile, category)
`

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "tariffcost",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Store implements history.Store using ClickHouse
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
}

var _ history.Store = (*Store)(nil)

// NewStore creates a new ClickHouse history store
func NewStore(cfg *Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg}, nil
}

// EnsureSchema creates the snapshot table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, schema); err != nil {
		return terrors.NewHistoryError("create table", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// =============================================================================
// SNAPSHOT OPERATIONS
// =============================================================================

// Put inserts a snapshot row. Older rows for the same key are collapsed by the engine.
func (s *Store) Put(ctx context.Context, key history.Key, snap history.Snapshot) error {
	r, err := encodeRow(key, snap)
	if err != nil {
		return terrors.NewHistoryError("encode", err)
	}
	query := `
		INSERT INTO plan_snapshots (
			month, profile, category, plan_id, plan_name, retailer,
			total_cost, annual_cost, discount_applied, payload, hash, run_id, saved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if err := s.conn.Exec(ctx, query,
		r.Month, r.Profile, r.Category, r.PlanID, r.PlanName, r.Retailer,
		r.TotalCost, r.AnnualCost, r.DiscountApplied, r.Payload, r.Hash, r.RunID, r.SavedAt,
	); err != nil {
		return terrors.NewHistoryError("insert snapshot", err)
	}
	return nil
}

// Get retrieves the snapshot for a key
func (s *Store) Get(ctx context.Context, key history.Key) (*history.Snapshot, error) {
	query := `
		SELECT payload
		FROM plan_snapshots FINAL
		WHERE month = ? AND profile = ? AND category = ?
		LIMIT 1
	`
	row := s.conn.QueryRow(ctx, query, key.Month.String(), key.Profile, history.CategoryKey(key.Category))

	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, terrors.NewHistoryError("get snapshot", err)
	}
	snap, err := decodePayload(payload)
	if err != nil {
		return nil, terrors.NewHistoryError("decode snapshot", err)
	}
	return snap, nil
}

// PurgeBefore deletes every month earlier than cutoff and returns how many months were removed
func (s *Store) PurgeBefore(ctx context.Context, cutoff history.Month) (int, error) {
	row := s.conn.QueryRow(ctx, `SELECT uniqExact(month) FROM plan_snapshots FINAL WHERE month < ?`, cutoff.String())
	var months uint64
	if err := row.Scan(&months); err != nil {
		return 0, terrors.NewHistoryError("count expired months", err)
	}
	if months == 0 {
		return 0, nil
	}

	// month keys are zero-padded so string order is calendar order
	syncCtx := clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	if err := s.conn.Exec(syncCtx, `ALTER TABLE plan_snapshots DELETE WHERE month < ?`, cutoff.String()); err != nil {
		return 0, terrors.NewHistoryError("purge", err)
	}
	return int(months), nil
}

// ProfileHistory lists a profile's snapshots from the given month onwards
func (s *Store) ProfileHistory(ctx context.Context, profile string, from history.Month) ([]history.Record, error) {
	query := `
		SELECT month, category, payload
		FROM plan_snapshots FINAL
		WHERE profile = ? AND month >= ?
		ORDER BY month, category
	`
	rows, err := s.conn.Query(ctx, query, profile, from.String())
	if err != nil {
		return nil, terrors.NewHistoryError("list snapshots", err)
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		var monthKey, category, payload string
		if err := rows.Scan(&monthKey, &category, &payload); err != nil {
			return nil, terrors.NewHistoryError("scan snapshot", err)
		}
		m, err := history.ParseMonth(monthKey)
		if err != nil {
			continue
		}
		snap, err := decodePayload(payload)
		if err != nil {
			return nil, terrors.NewHistoryError("decode snapshot", err)
		}
		records = append(records, history.Record{
			Key:      history.Key{Month: m, Profile: profile, Category: category},
			Snapshot: *snap,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, terrors.NewHistoryError("list snapshots", err)
	}
	return records, nil
}

// Stats summarizes the stored snapshots
func (s *Store) Stats(ctx context.Context) (*history.Stats, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT uniqExact(month), count(), groupUniqArray(profile)
		FROM plan_snapshots FINAL
	`)
	var months, total uint64
	var profiles []string
	if err := row.Scan(&months, &total, &profiles); err != nil {
		return nil, terrors.NewHistoryError("stats", err)
	}
	sort.Strings(profiles)

	stats := &history.Stats{
		TotalMonths:     int(months),
		TotalSnapshots:  int(total),
		ProfilesTracked: profiles,
		Location:        s.location(),
	}

	sizeRow := s.conn.QueryRow(ctx, `
		SELECT sum(bytes_on_disk)
		FROM system.parts
		WHERE database = currentDatabase() AND table = ? AND active
	`, table)
	var size uint64
	if err := sizeRow.Scan(&size); err == nil {
		stats.SizeBytes = int64(size)
	}
	return stats, nil
}

func (s *Store) location() string {
	if s.cfg == nil {
		return "clickhouse://" + table
	}
	return fmt.Sprintf("clickhouse://%s:%d/%s.%s", s.cfg.Host, s.cfg.Port, s.cfg.Database, table)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// snapshotRow is the column projection of one snapshot
type snapshotRow struct {
	Month           string
	Profile         string
	Category        string
	PlanID          string
	PlanName        string
	Retailer        string
	TotalCost       decimal.Decimal
	AnnualCost      decimal.Decimal
	DiscountApplied uint8
	Payload         string
	Hash            string
	RunID           uuid.UUID
	SavedAt         time.Time
}

func encodeRow(key history.Key, snap history.Snapshot) (snapshotRow, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return snapshotRow{
		Month:           key.Month.String(),
		Profile:         key.Profile,
		Category:        history.CategoryKey(key.Category),
		PlanID:          snap.PlanID,
		PlanName:        snap.PlanName,
		Retailer:        snap.Retailer,
		TotalCost:       snap.TotalCost,
		AnnualCost:      snap.AnnualCost,
		DiscountApplied: boolToUInt8(snap.DiscountInfo.Applied),
		Payload:         string(payload),
		Hash:            hashPayload(payload),
		RunID:           snap.RunID,
		SavedAt:         snap.SavedAt,
	}, nil
}

func decodePayload(payload string) (*history.Snapshot, error) {
	var snap history.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func hashPayload(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
