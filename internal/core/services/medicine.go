// internal/core/services/medicine.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
)

// MedicineService handles medicine reads, writes and pagination cursors.
// Cursor state lives here, not in callers: sequential GetPaginated calls
// walk the collection, refresh restarts it.
type MedicineService struct {
	store     ports.DocumentStore
	writer    *WriteCoordinator
	cache     *querycache.Cache
	snapshots ports.SnapshotCache
	identity  ports.IdentityProvider
	logger    *slog.Logger

	mu        sync.Mutex
	cursor    *ports.Cursor
	exhausted bool
}

// Statically assert that *MedicineService implements the MedicineRepository interface.
var _ ports.MedicineRepository = (*MedicineService)(nil)

// NewMedicineService creates a new medicine service
func NewMedicineService(
	store ports.DocumentStore,
	writer *WriteCoordinator,
	cache *querycache.Cache,
	snapshots ports.SnapshotCache,
	identity ports.IdentityProvider,
	logger *slog.Logger,
) *MedicineService {
	return &MedicineService{
		store:     store,
		writer:    writer,
		cache:     cache,
		snapshots: snapshots,
		identity:  identity,
		logger:    logger.With(slog.String("service", "medicine")),
	}
}

func (s *MedicineService) ownerQuery(ctx context.Context) ports.Query {
	return ports.Query{
		Filters: []ports.Filter{
			ports.Where("owner_id", ports.OpEq, s.identity.CurrentOwnerID(ctx)),
		},
		OrderBy: ports.OrderBy{Field: "name"},
	}
}

func decodeMedicines(docs []ports.Document) ([]domain.Medicine, error) {
	meds := make([]domain.Medicine, 0, len(docs))
	for _, doc := range docs {
		var med domain.Medicine
		if err := doc.Decode(&med); err != nil {
			return nil, fmt.Errorf("decode medicine %s: %w", doc.ID, err)
		}
		meds = append(meds, med)
	}
	return meds, nil
}

// GetAll returns the full medicine collection for the current owner. A
// failed fetch falls back to the offline snapshot when one is fresh
// enough; a successful fetch reseeds it.
func (s *MedicineService) GetAll(ctx context.Context) ([]domain.Medicine, error) {
	owner := s.identity.CurrentOwnerID(ctx)
	key := querycache.BuildKey(querycache.PrefixMedicines, owner, "all")

	meds, err := querycache.Do(ctx, s.cache, key, func(ctx context.Context) ([]domain.Medicine, error) {
		docs, err := s.store.Query(ctx, ports.CollectionMedicines, s.ownerQuery(ctx))
		if err != nil {
			return nil, err
		}
		return decodeMedicines(docs)
	})
	if err != nil {
		if cached, ok, cerr := s.snapshots.CachedMedicines(ctx); cerr == nil && ok {
			s.logger.WarnContext(ctx, "serving medicines from offline snapshot",
				slog.String("error", err.Error()))
			return cached, nil
		}
		return nil, fmt.Errorf("failed to load medicines: %w", err)
	}

	if err := s.snapshots.SaveMedicines(ctx, meds); err != nil {
		s.logger.WarnContext(ctx, "failed to persist medicine snapshot",
			slog.String("error", err.Error()))
	}

	return meds, nil
}

// GetPaginated returns the next page of medicines ordered by name. With
// refresh the cursor restarts and cached pages are dropped. Once the
// collection is exhausted, further calls return an empty page without any
// store round trip until the next refresh.
func (s *MedicineService) GetPaginated(ctx context.Context, limit int, refresh bool) ([]domain.Medicine, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "must be positive")
	}

	owner := s.identity.CurrentOwnerID(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if refresh {
		s.cursor = nil
		s.exhausted = false
		s.cache.InvalidatePrefix(querycache.PrefixMedicines)
	}
	if s.exhausted {
		return []domain.Medicine{}, nil
	}

	pos := "start"
	if s.cursor != nil {
		pos = s.cursor.ID
	}
	key := querycache.BuildKey(querycache.PrefixMedicines, owner, "page", pos, strconv.Itoa(limit))

	cursor := s.cursor
	page, err := querycache.Do(ctx, s.cache, key, func(ctx context.Context) ([]domain.Medicine, error) {
		q := s.ownerQuery(ctx)
		q.Limit = limit
		q.StartAfter = cursor

		docs, err := s.store.Query(ctx, ports.CollectionMedicines, q)
		if err != nil {
			return nil, err
		}
		return decodeMedicines(docs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load medicine page: %w", err)
	}

	if len(page) < limit {
		s.exhausted = true
	}
	if len(page) > 0 {
		last := page[len(page)-1]
		s.cursor = &ports.Cursor{Value: last.Name, ID: last.ID}
	}

	return page, nil
}

// Save validates and persists a medicine along with its audit entry. The
// referenced aisle must exist.
func (s *MedicineService) Save(ctx context.Context, med domain.Medicine) (domain.Medicine, error) {
	if err := med.Validate(); err != nil {
		return domain.Medicine{}, err
	}

	action := domain.ActionUpdated
	if med.IsNew() {
		action = domain.ActionCreated
	}
	med.PrepareForStorage()

	if _, err := s.store.Get(ctx, ports.CollectionAisles, med.AisleID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Medicine{}, domain.NewValidationError("aisle_id", "aisle does not exist")
		}
		return domain.Medicine{}, fmt.Errorf("failed to check aisle: %w", err)
	}

	saved, err := s.writer.SaveMedicine(ctx, med, action)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.cache.InvalidatePrefix(querycache.PrefixMedicines)
	s.cache.InvalidatePrefix(querycache.PrefixHistory)

	return saved, nil
}

// Delete removes a medicine and invalidates cached reads.
func (s *MedicineService) Delete(ctx context.Context, med domain.Medicine) error {
	if med.IsNew() {
		return domain.NewValidationError("id", "is required")
	}

	if err := s.writer.DeleteMedicine(ctx, med); err != nil {
		return err
	}

	s.cache.InvalidatePrefix(querycache.PrefixMedicines)
	s.cache.InvalidatePrefix(querycache.PrefixHistory)

	return nil
}

// AdjustQuantity applies a signed stock delta and returns the updated
// medicine.
func (s *MedicineService) AdjustQuantity(ctx context.Context, id string, delta int) (domain.Medicine, error) {
	if id == "" {
		return domain.Medicine{}, domain.NewValidationError("id", "is required")
	}
	if delta == 0 {
		return domain.Medicine{}, domain.NewValidationError("delta", "must be non-zero")
	}

	updated, err := s.writer.AdjustQuantity(ctx, id, delta)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.cache.InvalidatePrefix(querycache.PrefixMedicines)
	s.cache.InvalidatePrefix(querycache.PrefixHistory)

	return updated, nil
}

// medicineListener adapts a store subscription to the typed callback.
type medicineListener struct {
	sub  ports.Subscription
	done chan struct{}
}

func (l *medicineListener) Close() error {
	err := l.sub.Close()
	<-l.done
	return err
}

// CreateListener opens a push subscription on the owner's medicines. Every
// push delivers the full current collection; each one reseeds the offline
// snapshot and drops cached query results so reads converge on the pushed
// state.
func (s *MedicineService) CreateListener(ctx context.Context, callback func([]domain.Medicine)) (ports.ListenerHandle, error) {
	sub, err := s.store.Subscribe(ctx, ports.CollectionMedicines, s.ownerQuery(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to medicines: %w", err)
	}

	l := &medicineListener{sub: sub, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		for docs := range sub.Updates() {
			// A malformed document must not sink the whole push.
			meds := make([]domain.Medicine, 0, len(docs))
			for _, doc := range docs {
				var med domain.Medicine
				if err := doc.Decode(&med); err != nil {
					s.logger.Warn("skipping undecodable pushed medicine",
						slog.String("id", doc.ID),
						slog.String("error", err.Error()))
					continue
				}
				meds = append(meds, med)
			}

			s.cache.InvalidatePrefix(querycache.PrefixMedicines)
			if err := s.snapshots.SaveMedicines(context.Background(), meds); err != nil {
				s.logger.Warn("failed to persist pushed medicine snapshot",
					slog.String("error", err.Error()))
			}

			callback(meds)
		}
	}()

	return l, nil
}
