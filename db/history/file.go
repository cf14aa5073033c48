package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	terrors "tariff-cost/pkg/errors"
)

const categorySuffix = "_cheapest"

// document is the on-disk layout: month -> profile -> "<category>_cheapest" -> snapshot.
type document map[string]map[string]map[string]Snapshot

// FileStore keeps the full history in a single JSON document.
// Writes replace the file atomically. It is safe for use by one process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. A missing file is created
// empty on first use.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Put(ctx context.Context, key Key, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	month := key.Month.String()
	if doc[month] == nil {
		doc[month] = make(map[string]map[string]Snapshot)
	}
	if doc[month][key.Profile] == nil {
		doc[month][key.Profile] = make(map[string]Snapshot)
	}
	doc[month][key.Profile][fileCategory(key.Category)] = snap
	return s.save(doc)
}

func (s *FileStore) Get(ctx context.Context, key Key) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	snap, ok := doc[key.Month.String()][key.Profile][fileCategory(key.Category)]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *FileStore) PurgeBefore(ctx context.Context, cutoff Month) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for key := range doc {
		m, err := ParseMonth(key)
		if err != nil {
			continue
		}
		if m.Before(cutoff) {
			delete(doc, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(doc)
}

func (s *FileStore) ProfileHistory(ctx context.Context, profile string, from Month) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var records []Record
	for monthKey, profiles := range doc {
		m, err := ParseMonth(monthKey)
		if err != nil || m.Before(from) {
			continue
		}
		for cat, snap := range profiles[profile] {
			records = append(records, Record{
				Key:      Key{Month: m, Profile: profile, Category: strings.TrimSuffix(cat, categorySuffix)},
				Snapshot: snap,
			})
		}
	}
	sortRecords(records)
	return records, nil
}

func (s *FileStore) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	stats := &Stats{TotalMonths: len(doc), Location: s.path}
	profiles := make(map[string]bool)
	for _, byProfile := range doc {
		for profile, cats := range byProfile {
			profiles[profile] = true
			stats.TotalSnapshots += len(cats)
		}
	}
	for p := range profiles {
		stats.ProfilesTracked = append(stats.ProfilesTracked, p)
	}
	sort.Strings(stats.ProfilesTracked)
	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}

// Ping verifies the history file is readable, creating it when missing.
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.load()
	return err
}

// =============================================================================
// FILE I/O
// =============================================================================

func (s *FileStore) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := make(document)
		if err := s.save(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, terrors.NewHistoryError("read", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return make(document), nil
	}
	doc := make(document)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, terrors.NewHistoryError("decode", fmt.Errorf("%s: %w", s.path, err))
	}
	return doc, nil
}

func (s *FileStore) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return terrors.NewHistoryError("encode", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return terrors.NewHistoryError("mkdir", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return terrors.NewHistoryError("create", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return terrors.NewHistoryError("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return terrors.NewHistoryError("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return terrors.NewHistoryError("close", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return terrors.NewHistoryError("rename", err)
	}
	return nil
}

func fileCategory(category string) string {
	return CategoryKey(category) + categorySuffix
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Key, records[j].Key
		if a.Month != b.Month {
			return a.Month.Before(b.Month)
		}
		return a.Category < b.Category
	})
}
