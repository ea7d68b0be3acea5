// internal/core/services/scheduler.go
package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TaskEnqueuer hands sync work to the background queue. Keeping it an
// interface here lets tests intercept scheduling without a broker.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, tier SyncTier) error
}

// DefaultBackgroundInterval spaces out background essential syncs.
const DefaultBackgroundInterval = 30 * time.Second

// SyncScheduler maps app lifecycle transitions to queued sync work.
// Backgrounding starts a periodic essential sync; returning to the
// foreground stops it; becoming active triggers an immediate quick sync.
type SyncScheduler struct {
	enqueuer TaskEnqueuer
	sync     *SyncService
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSyncScheduler creates a sync scheduler
func NewSyncScheduler(enqueuer TaskEnqueuer, syncSvc *SyncService, interval time.Duration, logger *slog.Logger) *SyncScheduler {
	if interval <= 0 {
		interval = DefaultBackgroundInterval
	}
	return &SyncScheduler{
		enqueuer: enqueuer,
		sync:     syncSvc,
		interval: interval,
		logger:   logger.With(slog.String("service", "sync_scheduler")),
	}
}

func (s *SyncScheduler) enqueue(ctx context.Context, tier SyncTier) {
	if err := s.enqueuer.Enqueue(ctx, tier); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue sync task",
			slog.String("tier", string(tier)),
			slog.String("error", err.Error()))
	}
}

// EnterBackground starts the periodic essential sync. Calling it while
// already backgrounded is a no-op.
func (s *SyncScheduler) EnterBackground(ctx context.Context) {
	s.sync.SetBackground(true)
	s.sync.SetActive(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.enqueue(tickCtx, TierEssential)
			}
		}
	}()

	s.logger.InfoContext(ctx, "background sync started",
		slog.Duration("interval", s.interval))
}

// EnterForeground stops the periodic background sync.
func (s *SyncScheduler) EnterForeground(ctx context.Context) {
	s.sync.SetBackground(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil

	s.logger.InfoContext(ctx, "background sync stopped")
}

// BecomeActive marks the app interactive and triggers an immediate quick
// sync so the visible data is fresh.
func (s *SyncScheduler) BecomeActive(ctx context.Context) {
	s.sync.SetActive(true)
	s.enqueue(ctx, TierQuick)
}

// ResignActive marks the app no longer interactive.
func (s *SyncScheduler) ResignActive(ctx context.Context) {
	s.sync.SetActive(false)
}

// ForceSyncNow queues a full sync regardless of lifecycle state.
func (s *SyncScheduler) ForceSyncNow(ctx context.Context) {
	s.enqueue(ctx, TierFull)
}

// Stop shuts the scheduler down, stopping any background ticker.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
