package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tariff-cost/db/history"
)

// HistoryImporter copies snapshot history between stores, e.g. from the
// JSON file into ClickHouse when switching backends
type HistoryImporter struct {
	dst    history.Store
	logger *zap.Logger
}

// NewHistoryImporter creates an importer writing into dst
func NewHistoryImporter(dst history.Store, logger *zap.Logger) *HistoryImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryImporter{dst: dst, logger: logger}
}

// ImportResult tracks the result of one import
type ImportResult struct {
	Profiles     int
	Snapshots    int
	Duration     time.Duration
	Success      bool
	ErrorMessage string
}

// Import copies every snapshot for every profile in src. Existing keys in dst are overwritten.
func (i *HistoryImporter) Import(ctx context.Context, src history.Store) (*ImportResult, error) {
	startTime := time.Now()
	result := &ImportResult{}

	stats, err := src.Stats(ctx)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to read source stats: %v", err)
		return result, err
	}

	var epoch history.Month
	for _, profile := range stats.ProfilesTracked {
		records, err := src.ProfileHistory(ctx, profile, epoch)
		if err != nil {
			result.ErrorMessage = fmt.Sprintf("failed to read history for %s: %v", profile, err)
			return result, err
		}
		for _, rec := range records {
			if err := i.dst.Put(ctx, rec.Key, rec.Snapshot); err != nil {
				result.ErrorMessage = fmt.Sprintf("failed to write %s: %v", rec.Key, err)
				return result, err
			}
			result.Snapshots++
		}
		result.Profiles++
		i.logger.Debug("imported profile history",
			zap.String("profile", profile),
			zap.Int("snapshots", len(records)),
		)
	}

	result.Success = true
	result.Duration = time.Since(startTime)
	i.logger.Info("history import complete",
		zap.Int("profiles", result.Profiles),
		zap.Int("snapshots", result.Snapshots),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
