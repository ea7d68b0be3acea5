// internal/workers/sync_processor.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tbellec/medistock-be/internal/core/services"
)

const (
	TypeSyncQuick     = "sync:quick"
	TypeSyncEssential = "sync:essential"
	TypeSyncFull      = "sync:full"
)

// SyncJobPayload represents the payload for sync jobs
type SyncJobPayload struct {
	Tier       services.SyncTier `json:"tier"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// SyncProcessor runs queued synchronization passes
type SyncProcessor struct {
	sync   *services.SyncService
	logger *slog.Logger
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(syncSvc *services.SyncService, logger *slog.Logger) *SyncProcessor {
	return &SyncProcessor{
		sync:   syncSvc,
		logger: logger.With(slog.String("processor", "sync")),
	}
}

// ProcessSync executes the sync tier carried by the task payload.
func (p *SyncProcessor) ProcessSync(ctx context.Context, t *asynq.Task) error {
	start := time.Now()

	var payload SyncJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	p.logger.InfoContext(ctx, "processing sync task",
		slog.String("tier", string(payload.Tier)),
		slog.Duration("queue_latency", time.Since(payload.EnqueuedAt)))

	if err := p.sync.Sync(ctx, payload.Tier); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "sync task completed",
		slog.String("tier", string(payload.Tier)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// taskTypeFor maps a sync tier to its asynq task type.
func taskTypeFor(tier services.SyncTier) (string, error) {
	switch tier {
	case services.TierQuick:
		return TypeSyncQuick, nil
	case services.TierEssential:
		return TypeSyncEssential, nil
	case services.TierFull:
		return TypeSyncFull, nil
	default:
		return "", fmt.Errorf("unknown sync tier %q", tier)
	}
}

// queueFor routes urgent tiers to faster queues. A quick sync backs an
// app-resume moment; a full sync is maintenance and can wait.
func queueFor(tier services.SyncTier) string {
	switch tier {
	case services.TierQuick:
		return "critical"
	case services.TierFull:
		return "low"
	default:
		return "default"
	}
}

// AsynqEnqueuer hands sync tiers to the task queue. A sync pass is
// idempotent, so failed tasks are not retried; the next lifecycle event
// or background tick replaces them.
type AsynqEnqueuer struct {
	client *asynq.Client
	logger *slog.Logger
}

var _ services.TaskEnqueuer = (*AsynqEnqueuer)(nil)

// NewAsynqEnqueuer creates a new asynq-backed enqueuer
func NewAsynqEnqueuer(client *asynq.Client, logger *slog.Logger) *AsynqEnqueuer {
	return &AsynqEnqueuer{
		client: client,
		logger: logger.With(slog.String("component", "sync_enqueuer")),
	}
}

// Enqueue queues one sync pass at the given tier.
func (e *AsynqEnqueuer) Enqueue(ctx context.Context, tier services.SyncTier) error {
	taskType, err := taskTypeFor(tier)
	if err != nil {
		return err
	}

	b, err := json.Marshal(SyncJobPayload{Tier: tier, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal sync payload: %w", err)
	}

	task := asynq.NewTask(taskType, b)
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(queueFor(tier)),
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s sync: %w", tier, err)
	}

	e.logger.DebugContext(ctx, "sync task enqueued",
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
		slog.String("tier", string(tier)))

	return nil
}
