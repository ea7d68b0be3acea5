// internal/adapters/redis_adapter/snapshot.go
package redis_a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
)

// Snapshot keys per entity kind; each payload key has a companion
// timestamp key recording when the snapshot was taken.
const (
	KeyMedicines = "snapshot:medicines"
	KeyAisles    = "snapshot:aisles"
	KeyHistory   = "snapshot:history"

	tsSuffix = ":ts"
)

// DefaultSnapshotMaxAge is the freshness window for offline reads.
const DefaultSnapshotMaxAge = 5 * time.Minute

// Snapshot persists the last successfully fetched collections so the app
// can serve data across restarts without a network round trip.
type Snapshot struct {
	kv     ports.KeyValueStore
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Statically assert that *Snapshot implements the SnapshotCache interface.
var _ ports.SnapshotCache = (*Snapshot)(nil)

// NewSnapshot creates a snapshot cache over a key-value store.
func NewSnapshot(kv ports.KeyValueStore, maxAge time.Duration, logger *slog.Logger) *Snapshot {
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	return &Snapshot{
		kv:     kv,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "snapshot_cache")),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock, for tests exercising staleness.
func (s *Snapshot) SetNowFunc(now func() time.Time) {
	s.now = now
}

func saveSnapshot[T any](ctx context.Context, s *Snapshot, key string, items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.kv.SetBytes(ctx, key, data); err != nil {
		return fmt.Errorf("persist snapshot %s: %w", key, err)
	}

	ts := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.kv.SetBytes(ctx, key+tsSuffix, []byte(ts)); err != nil {
		return fmt.Errorf("persist snapshot timestamp %s: %w", key, err)
	}

	s.logger.DebugContext(ctx, "snapshot saved",
		slog.String("key", key),
		slog.Int("items", len(items)))

	return nil
}

// loadSnapshot returns the cached items and whether the entry is fresh
// enough to use. A missing or stale entry reports ok=false without error.
func loadSnapshot[T any](ctx context.Context, s *Snapshot, key string) ([]T, bool, error) {
	age, ok, err := s.age(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok || age > s.maxAge {
		return nil, false, nil
	}

	data, err := s.kv.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read snapshot %s: %w", key, err)
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}

	return items, true, nil
}

func (s *Snapshot) age(ctx context.Context, key string) (time.Duration, bool, error) {
	raw, err := s.kv.GetBytes(ctx, key+tsSuffix)
	if err != nil {
		if errors.Is(err, ErrKeyMiss) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read snapshot timestamp %s: %w", key, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return 0, false, fmt.Errorf("parse snapshot timestamp %s: %w", key, err)
	}

	return s.now().Sub(ts), true, nil
}

// SaveMedicines persists the medicine collection snapshot
func (s *Snapshot) SaveMedicines(ctx context.Context, items []domain.Medicine) error {
	return saveSnapshot(ctx, s, KeyMedicines, items)
}

// CachedMedicines returns the medicine snapshot if it is still fresh
func (s *Snapshot) CachedMedicines(ctx context.Context) ([]domain.Medicine, bool, error) {
	return loadSnapshot[domain.Medicine](ctx, s, KeyMedicines)
}

// SaveAisles persists the aisle collection snapshot
func (s *Snapshot) SaveAisles(ctx context.Context, items []domain.Aisle) error {
	return saveSnapshot(ctx, s, KeyAisles, items)
}

// CachedAisles returns the aisle snapshot if it is still fresh
func (s *Snapshot) CachedAisles(ctx context.Context) ([]domain.Aisle, bool, error) {
	return loadSnapshot[domain.Aisle](ctx, s, KeyAisles)
}

// SaveHistory persists the history collection snapshot
func (s *Snapshot) SaveHistory(ctx context.Context, items []domain.HistoryEntry) error {
	return saveSnapshot(ctx, s, KeyHistory, items)
}

// CachedHistory returns the history snapshot if it is still fresh
func (s *Snapshot) CachedHistory(ctx context.Context) ([]domain.HistoryEntry, bool, error) {
	return loadSnapshot[domain.HistoryEntry](ctx, s, KeyHistory)
}

// Clear removes all snapshots and their timestamps
func (s *Snapshot) Clear(ctx context.Context) error {
	keys := []string{
		KeyMedicines, KeyMedicines + tsSuffix,
		KeyAisles, KeyAisles + tsSuffix,
		KeyHistory, KeyHistory + tsSuffix,
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot cache cleared")
	return nil
}

// ClearExpired removes only snapshots older than the freshness window
func (s *Snapshot) ClearExpired(ctx context.Context) error {
	for _, key := range []string{KeyMedicines, KeyAisles, KeyHistory} {
		age, ok, err := s.age(ctx, key)
		if err != nil {
			return err
		}
		if !ok || age <= s.maxAge {
			continue
		}
		if err := s.kv.Delete(ctx, key, key+tsSuffix); err != nil {
			return fmt.Errorf("clear expired snapshot %s: %w", key, err)
		}
		s.logger.DebugContext(ctx, "expired snapshot cleared",
			slog.String("key", key),
			slog.Duration("age", age))
	}
	return nil
}

// Info reports per-kind item counts and snapshot ages. IsOffline is left
// false; connectivity state belongs to the sync service, which overlays
// it before reporting.
func (s *Snapshot) Info(ctx context.Context) (ports.CacheInfo, error) {
	info := ports.CacheInfo{
		Counts: make(map[string]int),
		Ages:   make(map[string]time.Duration),
	}

	kinds := map[string]string{
		"medicines": KeyMedicines,
		"aisles":    KeyAisles,
		"history":   KeyHistory,
	}

	for name, key := range kinds {
		age, ok, err := s.age(ctx, key)
		if err != nil {
			return ports.CacheInfo{}, err
		}
		if !ok {
			continue
		}
		info.Ages[name] = age

		data, err := s.kv.GetBytes(ctx, key)
		if err != nil {
			if errors.Is(err, ErrKeyMiss) {
				continue
			}
			return ports.CacheInfo{}, fmt.Errorf("read snapshot %s: %w", key, err)
		}

		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return ports.CacheInfo{}, fmt.Errorf("decode snapshot %s: %w", key, err)
		}
		info.Counts[name] = len(items)
	}

	return info, nil
}
