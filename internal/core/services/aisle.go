// internal/core/services/aisle.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
)

// AisleService handles aisle reads, writes and pagination cursors. Aisle
// names are unique per owner, compared case-insensitively.
type AisleService struct {
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

// Statically assert that *AisleService implements the AisleRepository interface.
var _ ports.AisleRepository = (*AisleService)(nil)

// NewAisleService creates a new aisle service
func NewAisleService(
	store ports.DocumentStore,
	writer *WriteCoordinator,
	cache *querycache.Cache,
	snapshots ports.SnapshotCache,
	identity ports.IdentityProvider,
	logger *slog.Logger,
) *AisleService {
	return &AisleService{
		store:     store,
		writer:    writer,
		cache:     cache,
		snapshots: snapshots,
		identity:  identity,
		logger:    logger.With(slog.String("service", "aisle")),
	}
}

func (s *AisleService) ownerQuery(ctx context.Context) ports.Query {
	return ports.Query{
		Filters: []ports.Filter{
			ports.Where("owner_id", ports.OpEq, s.identity.CurrentOwnerID(ctx)),
		},
		OrderBy: ports.OrderBy{Field: "name"},
	}
}

func decodeAisles(docs []ports.Document) ([]domain.Aisle, error) {
	aisles := make([]domain.Aisle, 0, len(docs))
	for _, doc := range docs {
		var aisle domain.Aisle
		if err := doc.Decode(&aisle); err != nil {
			return nil, fmt.Errorf("decode aisle %s: %w", doc.ID, err)
		}
		aisles = append(aisles, aisle)
	}
	return aisles, nil
}

// GetAll returns the full aisle collection for the current owner, falling
// back to the offline snapshot when the store is unreachable.
func (s *AisleService) GetAll(ctx context.Context) ([]domain.Aisle, error) {
	owner := s.identity.CurrentOwnerID(ctx)
	key := querycache.BuildKey(querycache.PrefixAisles, owner, "all")

	aisles, err := querycache.Do(ctx, s.cache, key, func(ctx context.Context) ([]domain.Aisle, error) {
		docs, err := s.store.Query(ctx, ports.CollectionAisles, s.ownerQuery(ctx))
		if err != nil {
			return nil, err
		}
		return decodeAisles(docs)
	})
	if err != nil {
		if cached, ok, cerr := s.snapshots.CachedAisles(ctx); cerr == nil && ok {
			s.logger.WarnContext(ctx, "serving aisles from offline snapshot",
				slog.String("error", err.Error()))
			return cached, nil
		}
		return nil, fmt.Errorf("failed to load aisles: %w", err)
	}

	if err := s.snapshots.SaveAisles(ctx, aisles); err != nil {
		s.logger.WarnContext(ctx, "failed to persist aisle snapshot",
			slog.String("error", err.Error()))
	}

	return aisles, nil
}

// GetPaginated returns the next page of aisles ordered by name.
func (s *AisleService) GetPaginated(ctx context.Context, limit int, refresh bool) ([]domain.Aisle, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "must be positive")
	}

	owner := s.identity.CurrentOwnerID(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if refresh {
		s.cursor = nil
		s.exhausted = false
		s.cache.InvalidatePrefix(querycache.PrefixAisles)
	}
	if s.exhausted {
		return []domain.Aisle{}, nil
	}

	pos := "start"
	if s.cursor != nil {
		pos = s.cursor.ID
	}
	key := querycache.BuildKey(querycache.PrefixAisles, owner, "page", pos, strconv.Itoa(limit))

	cursor := s.cursor
	page, err := querycache.Do(ctx, s.cache, key, func(ctx context.Context) ([]domain.Aisle, error) {
		q := s.ownerQuery(ctx)
		q.Limit = limit
		q.StartAfter = cursor

		docs, err := s.store.Query(ctx, ports.CollectionAisles, q)
		if err != nil {
			return nil, err
		}
		return decodeAisles(docs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load aisle page: %w", err)
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

// Save validates and persists an aisle. The name must not collide with
// another aisle of the same owner, ignoring case and surrounding
// whitespace.
func (s *AisleService) Save(ctx context.Context, aisle domain.Aisle) (domain.Aisle, error) {
	if err := aisle.Validate(); err != nil {
		return domain.Aisle{}, err
	}

	// Uniqueness is checked against the live collection, not the cache.
	docs, err := s.store.Query(ctx, ports.CollectionAisles, s.ownerQuery(ctx))
	if err != nil {
		return domain.Aisle{}, fmt.Errorf("failed to check aisle names: %w", err)
	}
	existing, err := decodeAisles(docs)
	if err != nil {
		return domain.Aisle{}, err
	}
	for i := range existing {
		if existing[i].ID != aisle.ID && existing[i].NameEquals(aisle.Name) {
			return domain.Aisle{}, fmt.Errorf("aisle %q: %w", aisle.Name, domain.ErrDuplicateName)
		}
	}

	action := domain.ActionUpdated
	if aisle.IsNew() {
		action = domain.ActionCreated
	}
	aisle.PrepareForStorage()

	saved, err := s.writer.SaveAisle(ctx, aisle, action)
	if err != nil {
		return domain.Aisle{}, err
	}

	s.cache.InvalidatePrefix(querycache.PrefixAisles)
	s.cache.InvalidatePrefix(querycache.PrefixHistory)

	return saved, nil
}

// Delete removes an aisle. Deletion is refused while any medicine still
// references it.
func (s *AisleService) Delete(ctx context.Context, aisle domain.Aisle) error {
	if aisle.IsNew() {
		return domain.NewValidationError("id", "is required")
	}

	count, err := s.store.Count(ctx, ports.CollectionMedicines, []ports.Filter{
		ports.Where("aisle_id", ports.OpEq, aisle.ID),
	})
	if err != nil {
		return fmt.Errorf("failed to check aisle usage: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("aisle %q has %d medicines: %w", aisle.Name, count, domain.ErrAisleNotEmpty)
	}

	if err := s.writer.DeleteAisle(ctx, aisle); err != nil {
		return err
	}

	s.cache.InvalidatePrefix(querycache.PrefixAisles)
	s.cache.InvalidatePrefix(querycache.PrefixHistory)

	return nil
}

type aisleListener struct {
	sub  ports.Subscription
	done chan struct{}
}

func (l *aisleListener) Close() error {
	err := l.sub.Close()
	<-l.done
	return err
}

// CreateListener opens a push subscription on the owner's aisles.
func (s *AisleService) CreateListener(ctx context.Context, callback func([]domain.Aisle)) (ports.ListenerHandle, error) {
	sub, err := s.store.Subscribe(ctx, ports.CollectionAisles, s.ownerQuery(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to aisles: %w", err)
	}

	l := &aisleListener{sub: sub, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		for docs := range sub.Updates() {
			// A malformed document must not sink the whole push.
			aisles := make([]domain.Aisle, 0, len(docs))
			for _, doc := range docs {
				var aisle domain.Aisle
				if err := doc.Decode(&aisle); err != nil {
					s.logger.Warn("skipping undecodable pushed aisle",
						slog.String("id", doc.ID),
						slog.String("error", err.Error()))
					continue
				}
				aisles = append(aisles, aisle)
			}

			s.cache.InvalidatePrefix(querycache.PrefixAisles)
			if err := s.snapshots.SaveAisles(context.Background(), aisles); err != nil {
				s.logger.Warn("failed to persist pushed aisle snapshot",
					slog.String("error", err.Error()))
			}

			callback(aisles)
		}
	}()

	return l, nil
}
