// internal/core/ports/cache.go
package ports

import (
	"context"
	"time"

	"github.com/tbellec/medistock-be/internal/core/domain"
)

// CacheInfo reports the state of the offline snapshot cache per entity
// type, for observability surfaces.
type CacheInfo struct {
	Counts    map[string]int           `json:"counts"`
	Ages      map[string]time.Duration `json:"ages"`
	IsOffline bool                     `json:"is_offline"`
}

// KeyValueStore is the local persistence consumed by the offline snapshot
// cache. Values are versioned by a companion timestamp key.
type KeyValueStore interface {
	SetBytes(ctx context.Context, key string, value []byte) error
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// SnapshotCache persists the last successfully fetched collection per
// entity type, surviving process restarts. Cached reads return ok=false
// once the entry is older than the configured max age; callers must treat
// that as "no usable cache", not "no data exists".
type SnapshotCache interface {
	SaveMedicines(ctx context.Context, items []domain.Medicine) error
	CachedMedicines(ctx context.Context) ([]domain.Medicine, bool, error)
	SaveAisles(ctx context.Context, items []domain.Aisle) error
	CachedAisles(ctx context.Context) ([]domain.Aisle, bool, error)
	SaveHistory(ctx context.Context, items []domain.HistoryEntry) error
	CachedHistory(ctx context.Context) ([]domain.HistoryEntry, bool, error)

	Clear(ctx context.Context) error
	ClearExpired(ctx context.Context) error
	Info(ctx context.Context) (CacheInfo, error)
}
