// internal/core/services/sync.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
)

// SyncTier selects how much data a synchronization pass refreshes.
type SyncTier string

const (
	// TierQuick refreshes medicines only, for app-resume moments.
	TierQuick SyncTier = "quick"
	// TierEssential refreshes medicines and aisles, the background cadence.
	TierEssential SyncTier = "essential"
	// TierFull refreshes everything and runs maintenance.
	TierFull SyncTier = "full"
)

// fullSyncHistoryLimit caps how much history a full sync pulls down. The
// mobile client only ever shows recent activity, so older entries are left
// to on-demand pagination.
const fullSyncHistoryLimit = 100

// expiryHorizon is how far ahead a sync pass looks when counting medicines
// as expiring soon.
const expiryHorizon = 30 * 24 * time.Hour

// SyncStatus is the observable state of the sync layer.
type SyncStatus struct {
	IsActive       bool             `json:"is_active"`
	IsInBackground bool             `json:"is_in_background"`
	LastSyncTime   *time.Time       `json:"last_sync_time,omitempty"`
	CriticalStock  int              `json:"critical_stock"`
	ExpiringSoon   int              `json:"expiring_soon"`
	Cache          ports.CacheInfo  `json:"cache"`
	Optimization   querycache.Stats `json:"optimization"`
}

// SyncService refreshes local state from the document store in tiers. Any
// entity kind with a live push listener is skipped: pushes already keep it
// fresh, so polling it again would only burn reads.
type SyncService struct {
	medicines        ports.MedicineRepository
	aisles           ports.AisleRepository
	history          ports.HistoryRepository
	listeners        *ListenerManager
	snapshots        ports.SnapshotCache
	cache            *querycache.Cache
	historyRetention time.Duration
	logger           *slog.Logger

	mu            sync.Mutex
	lastSync      *time.Time
	active        bool
	inBackground  bool
	offline       bool
	criticalStock int
	expiringSoon  int
}

// NewSyncService creates a sync service
func NewSyncService(
	medicines ports.MedicineRepository,
	aisles ports.AisleRepository,
	history ports.HistoryRepository,
	listeners *ListenerManager,
	snapshots ports.SnapshotCache,
	cache *querycache.Cache,
	historyRetention time.Duration,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		medicines:        medicines,
		aisles:           aisles,
		history:          history,
		listeners:        listeners,
		snapshots:        snapshots,
		cache:            cache,
		historyRetention: historyRetention,
		logger:           logger.With(slog.String("service", "sync")),
	}
}

// Sync runs one synchronization pass at the given tier.
func (s *SyncService) Sync(ctx context.Context, tier SyncTier) error {
	switch tier {
	case TierQuick:
		return s.SyncQuick(ctx)
	case TierEssential:
		return s.SyncEssential(ctx)
	case TierFull:
		return s.SyncFull(ctx)
	default:
		return fmt.Errorf("unknown sync tier %q", tier)
	}
}

// SyncQuick refreshes medicines only: the become-active pass whose job is
// surfacing critical-stock items as fast as possible.
func (s *SyncService) SyncQuick(ctx context.Context) error {
	if err := s.refreshMedicines(ctx); err != nil {
		return s.failed(ctx, TierQuick, err)
	}
	s.completed(ctx, TierQuick)
	return nil
}

// SyncEssential refreshes medicines and aisles.
func (s *SyncService) SyncEssential(ctx context.Context) error {
	if err := s.refreshMedicines(ctx); err != nil {
		return s.failed(ctx, TierEssential, err)
	}
	if err := s.refreshAisles(ctx); err != nil {
		return s.failed(ctx, TierEssential, err)
	}
	s.completed(ctx, TierEssential)
	return nil
}

// SyncFull refreshes every collection and runs maintenance: expired
// snapshots are dropped and history past retention is pruned.
func (s *SyncService) SyncFull(ctx context.Context) error {
	if err := s.refreshMedicines(ctx); err != nil {
		return s.failed(ctx, TierFull, err)
	}
	if err := s.refreshAisles(ctx); err != nil {
		return s.failed(ctx, TierFull, err)
	}
	if err := s.refreshHistory(ctx); err != nil {
		return s.failed(ctx, TierFull, err)
	}

	if err := s.snapshots.ClearExpired(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to clear expired snapshots",
			slog.String("error", err.Error()))
	}
	if s.historyRetention > 0 {
		if _, err := s.history.PruneOlderThan(ctx, s.historyRetention); err != nil {
			s.logger.WarnContext(ctx, "failed to prune history",
				slog.String("error", err.Error()))
		}
	}

	s.completed(ctx, TierFull)
	return nil
}

func (s *SyncService) refreshMedicines(ctx context.Context) error {
	if s.listeners.IsListening(KindMedicines) {
		s.logger.DebugContext(ctx, "skipping medicine refresh, push listener active")
		return nil
	}
	s.cache.InvalidatePrefix(querycache.PrefixMedicines)
	meds, err := s.medicines.GetAll(ctx)
	if err != nil {
		return err
	}
	s.reportStock(ctx, meds)
	return nil
}

// reportStock classifies a freshly loaded medicine set: critical-stock
// items are what the quick tier exists for, expiring ones feed the status
// surface. Counts stick until the next refresh that actually polls.
func (s *SyncService) reportStock(ctx context.Context, meds []domain.Medicine) {
	now := time.Now().UTC()
	critical, expiring := 0, 0
	for i := range meds {
		if meds[i].StockLevel() == domain.StockCritical {
			critical++
		}
		if meds[i].IsExpired(now) || meds[i].ExpiresWithin(now, expiryHorizon) {
			expiring++
		}
	}

	s.mu.Lock()
	s.criticalStock = critical
	s.expiringSoon = expiring
	s.mu.Unlock()

	if critical > 0 || expiring > 0 {
		s.logger.WarnContext(ctx, "stock needs attention",
			slog.Int("critical_stock", critical),
			slog.Int("expiring_soon", expiring))
	}
}

func (s *SyncService) refreshAisles(ctx context.Context) error {
	if s.listeners.IsListening(KindAisles) {
		s.logger.DebugContext(ctx, "skipping aisle refresh, push listener active")
		return nil
	}
	s.cache.InvalidatePrefix(querycache.PrefixAisles)
	_, err := s.aisles.GetAll(ctx)
	return err
}

func (s *SyncService) refreshHistory(ctx context.Context) error {
	if s.listeners.IsListening(KindHistory) {
		s.logger.DebugContext(ctx, "skipping history refresh, push listener active")
		return nil
	}
	s.cache.InvalidatePrefix(querycache.PrefixHistory)
	entries, err := s.history.GetRecent(ctx, fullSyncHistoryLimit)
	if err != nil {
		return err
	}
	if err := s.snapshots.SaveHistory(ctx, entries); err != nil {
		s.logger.WarnContext(ctx, "failed to persist history snapshot",
			slog.String("error", err.Error()))
	}
	return nil
}

func (s *SyncService) completed(ctx context.Context, tier SyncTier) {
	now := time.Now().UTC()

	s.mu.Lock()
	s.lastSync = &now
	s.offline = false
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "sync completed", slog.String("tier", string(tier)))
}

func (s *SyncService) failed(ctx context.Context, tier SyncTier, err error) error {
	if domain.IsTransient(err) {
		s.mu.Lock()
		s.offline = true
		s.mu.Unlock()
	}

	s.logger.WarnContext(ctx, "sync failed",
		slog.String("tier", string(tier)),
		slog.String("error", err.Error()))

	return fmt.Errorf("%s sync: %w", tier, err)
}

// SetActive records whether the app is in the foreground and interactive.
func (s *SyncService) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// SetBackground records whether the app has been backgrounded.
func (s *SyncService) SetBackground(background bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inBackground = background
}

// Status reports the current sync state, offline snapshot contents and
// query cache statistics.
func (s *SyncService) Status(ctx context.Context) (SyncStatus, error) {
	info, err := s.snapshots.Info(ctx)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("failed to read cache info: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info.IsOffline = s.offline

	return SyncStatus{
		IsActive:       s.active,
		IsInBackground: s.inBackground,
		LastSyncTime:   s.lastSync,
		CriticalStock:  s.criticalStock,
		ExpiringSoon:   s.expiringSoon,
		Cache:          info,
		Optimization:   s.cache.Stats(),
	}, nil
}
