// internal/core/services/history.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
)

// HistoryService reads and records audit entries, newest first.
type HistoryService struct {
	store     ports.DocumentStore
	cache     *querycache.Cache
	snapshots ports.SnapshotCache
	identity  ports.IdentityProvider
	logger    *slog.Logger

	mu        sync.Mutex
	cursor    *ports.Cursor
	exhausted bool
}

// Statically assert that *HistoryService implements the HistoryRepository interface.
var _ ports.HistoryRepository = (*HistoryService)(nil)

// NewHistoryService creates a new history service
func NewHistoryService(
	store ports.DocumentStore,
	cache *querycache.Cache,
	snapshots ports.SnapshotCache,
	identity ports.IdentityProvider,
	logger *slog.Logger,
) *HistoryService {
	return &HistoryService{
		store:     store,
		cache:     cache,
		snapshots: snapshots,
		identity:  identity,
		logger:    logger.With(slog.String("service", "history")),
	}
}

func (s *HistoryService) ownerQuery(ctx context.Context) ports.Query {
	return ports.Query{
		Filters: []ports.Filter{
			ports.Where("owner_id", ports.OpEq, s.identity.CurrentOwnerID(ctx)),
		},
		OrderBy: ports.OrderBy{Field: "timestamp", Desc: true},
	}
}

func decodeHistory(docs []ports.Document) ([]domain.HistoryEntry, error) {
	entries := make([]domain.HistoryEntry, 0, len(docs))
	for _, doc := range docs {
		var entry domain.HistoryEntry
		if err := doc.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode history entry %s: %w", doc.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetAll returns every history entry for the current owner, newest first,
// falling back to the offline snapshot when the store is unreachable.
func (s *HistoryService) GetAll(ctx context.Context) ([]domain.HistoryEntry, error) {
	owner := s.identity.CurrentOwnerID(ctx)
	key := querycache.BuildKey(querycache.PrefixHistory, owner, "all")

	entries, err := querycache.Do(ctx, s.cache, key, func(ctx context.Context) ([]domain.HistoryEntry, error) {
		docs, err := s.store.Query(ctx, ports.CollectionHistory, s.ownerQuery(ctx))
		if err != nil {
			return nil, err
		}
		return decodeHistory(docs)
	})
	if err != nil {
		if cached, ok, cerr := s.snapshots.CachedHistory(ctx); cerr == nil && ok {
			s.logger.WarnContext(ctx, "serving history from offline snapshot",
				slog.String("error", err.Error()))
			return cached, nil
		}
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	if err := s.snapshots.SaveHistory(ctx, entries); err != nil {
		s.logger.WarnContext(ctx, "failed to persist history snapshot",
			slog.String("error", err.Error()))
	}

	return entries, nil
}

// GetRecent returns the newest entries, capped at limit.
func (s *HistoryService) GetRecent(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "must be positive")
	}

	owner := s.identity.CurrentOwnerID(ctx)
	key := querycache.BuildKey(querycache.PrefixHistory, owner, "recent", strconv.Itoa(limit))

	entries, err := querycache.Do(ctx, s.cache, key, func(ctx context.Context) ([]domain.HistoryEntry, error) {
		q := s.ownerQuery(ctx)
		q.Limit = limit

		docs, err := s.store.Query(ctx, ports.CollectionHistory, q)
		if err != nil {
			return nil, err
		}
		return decodeHistory(docs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load recent history: %w", err)
	}

	return entries, nil
}

// GetPaginated returns the next page of history entries, newest first.
func (s *HistoryService) GetPaginated(ctx context.Context, limit int, refresh bool) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "must be positive")
	}

	owner := s.identity.CurrentOwnerID(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if refresh {
		s.cursor = nil
		s.exhausted = false
		s.cache.InvalidatePrefix(querycache.PrefixHistory)
	}
	if s.exhausted {
		return []domain.HistoryEntry{}, nil
	}

	pos := "start"
	if s.cursor != nil {
		pos = s.cursor.ID
	}
	key := querycache.BuildKey(querycache.PrefixHistory, owner, "page", pos, strconv.Itoa(limit))

	cursor := s.cursor
	page, err := querycache.Do(ctx, s.cache, key, func(ctx context.Context) ([]domain.HistoryEntry, error) {
		q := s.ownerQuery(ctx)
		q.Limit = limit
		q.StartAfter = cursor

		docs, err := s.store.Query(ctx, ports.CollectionHistory, q)
		if err != nil {
			return nil, err
		}
		return decodeHistory(docs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history page: %w", err)
	}

	if len(page) < limit {
		s.exhausted = true
	}
	if len(page) > 0 {
		last := page[len(page)-1]
		s.cursor = &ports.Cursor{
			Value: last.Timestamp.UTC().Format(time.RFC3339Nano),
			ID:    last.ID,
		}
	}

	return page, nil
}

// Record appends a history entry outside any entity transaction. The write
// coordinator uses transactions for entries coupled to entity mutations;
// this path exists for standalone bookkeeping.
func (s *HistoryService) Record(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.OwnerID == "" {
		entry.OwnerID = s.identity.CurrentOwnerID(ctx)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	if err := s.store.Set(ctx, ports.CollectionHistory, entry.ID, entry); err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}

	s.cache.InvalidatePrefix(querycache.PrefixHistory)

	return nil
}

// PruneOlderThan deletes entries past the retention window and reports how
// many were removed.
func (s *HistoryService) PruneOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, domain.NewValidationError("retention", "must be positive")
	}

	cutoff := time.Now().UTC().Add(-retention)
	q := ports.Query{
		Filters: []ports.Filter{
			ports.Where("owner_id", ports.OpEq, s.identity.CurrentOwnerID(ctx)),
			ports.Where("timestamp", ports.OpLt, cutoff.Format(time.RFC3339Nano)),
		},
	}

	docs, err := s.store.Query(ctx, ports.CollectionHistory, q)
	if err != nil {
		return 0, fmt.Errorf("failed to find prunable history: %w", err)
	}

	pruned := 0
	for _, doc := range docs {
		if err := s.store.Delete(ctx, ports.CollectionHistory, doc.ID); err != nil {
			return pruned, fmt.Errorf("failed to prune history entry %s: %w", doc.ID, err)
		}
		pruned++
	}

	if pruned > 0 {
		s.cache.InvalidatePrefix(querycache.PrefixHistory)
		s.logger.InfoContext(ctx, "history pruned",
			slog.Int("entries", pruned),
			slog.Time("cutoff", cutoff))
	}

	return pruned, nil
}

type historyListener struct {
	sub  ports.Subscription
	done chan struct{}
}

func (l *historyListener) Close() error {
	err := l.sub.Close()
	<-l.done
	return err
}

// CreateListener opens a push subscription on the owner's history.
func (s *HistoryService) CreateListener(ctx context.Context, callback func([]domain.HistoryEntry)) (ports.ListenerHandle, error) {
	sub, err := s.store.Subscribe(ctx, ports.CollectionHistory, s.ownerQuery(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to history: %w", err)
	}

	l := &historyListener{sub: sub, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		for docs := range sub.Updates() {
			// A malformed document must not sink the whole push.
			entries := make([]domain.HistoryEntry, 0, len(docs))
			for _, doc := range docs {
				var entry domain.HistoryEntry
				if err := doc.Decode(&entry); err != nil {
					s.logger.Warn("skipping undecodable pushed history entry",
						slog.String("id", doc.ID),
						slog.String("error", err.Error()))
					continue
				}
				entries = append(entries, entry)
			}

			s.cache.InvalidatePrefix(querycache.PrefixHistory)
			if err := s.snapshots.SaveHistory(context.Background(), entries); err != nil {
				s.logger.Warn("failed to persist pushed history snapshot",
					slog.String("error", err.Error()))
			}

			callback(entries)
		}
	}()

	return l, nil
}
