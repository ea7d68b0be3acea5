// internal/core/ports/repositories.go
package ports

import (
	"context"
	"time"

	"github.com/tbellec/medistock-be/internal/core/domain"
)

// ListenerHandle owns an active push subscription. Closing it is safe to
// repeat.
type ListenerHandle interface {
	Close() error
}

// MedicineRepository owns validation, CRUD and pagination cursor state for
// medicines. All reads are scoped to the current owner.
type MedicineRepository interface {
	GetAll(ctx context.Context) ([]domain.Medicine, error)
	GetPaginated(ctx context.Context, limit int, refresh bool) ([]domain.Medicine, error)
	Save(ctx context.Context, med domain.Medicine) (domain.Medicine, error)
	Delete(ctx context.Context, med domain.Medicine) error
	AdjustQuantity(ctx context.Context, id string, delta int) (domain.Medicine, error)
	CreateListener(ctx context.Context, callback func([]domain.Medicine)) (ListenerHandle, error)
}

// AisleRepository owns validation, CRUD and pagination cursor state for
// aisles.
type AisleRepository interface {
	GetAll(ctx context.Context) ([]domain.Aisle, error)
	GetPaginated(ctx context.Context, limit int, refresh bool) ([]domain.Aisle, error)
	Save(ctx context.Context, aisle domain.Aisle) (domain.Aisle, error)
	Delete(ctx context.Context, aisle domain.Aisle) error
	CreateListener(ctx context.Context, callback func([]domain.Aisle)) (ListenerHandle, error)
}

// HistoryRepository is append-mostly: entries are recorded by the write
// coordinator and only removed through retention pruning.
type HistoryRepository interface {
	GetAll(ctx context.Context) ([]domain.HistoryEntry, error)
	GetRecent(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	GetPaginated(ctx context.Context, limit int, refresh bool) ([]domain.HistoryEntry, error)
	Record(ctx context.Context, entry domain.HistoryEntry) error
	PruneOlderThan(ctx context.Context, retention time.Duration) (int, error)
	CreateListener(ctx context.Context, callback func([]domain.HistoryEntry)) (ListenerHandle, error)
}
