// internal/core/services/listener.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
)

// ListenerKind identifies a real-time subscription per entity type.
type ListenerKind string

const (
	KindMedicines ListenerKind = "medicines"
	KindAisles    ListenerKind = "aisles"
	KindHistory   ListenerKind = "history"
)

// ListenerManager owns at most one live subscription per entity kind.
// Starting an already-active kind is a no-op, so callers never stack
// duplicate listeners. While a kind is listening, polling refreshes for it
// are suppressed.
type ListenerManager struct {
	medicines ports.MedicineRepository
	aisles    ports.AisleRepository
	history   ports.HistoryRepository
	logger    *slog.Logger

	mu      sync.Mutex
	handles map[ListenerKind]ports.ListenerHandle
}

// NewListenerManager creates a listener manager
func NewListenerManager(
	medicines ports.MedicineRepository,
	aisles ports.AisleRepository,
	history ports.HistoryRepository,
	logger *slog.Logger,
) *ListenerManager {
	return &ListenerManager{
		medicines: medicines,
		aisles:    aisles,
		history:   history,
		logger:    logger.With(slog.String("service", "listener_manager")),
		handles:   make(map[ListenerKind]ports.ListenerHandle),
	}
}

// IsListening reports whether a live subscription exists for kind.
func (m *ListenerManager) IsListening(kind ListenerKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[kind]
	return ok
}

// ActiveKinds returns the kinds with a live subscription.
func (m *ListenerManager) ActiveKinds() []ListenerKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make([]ListenerKind, 0, len(m.handles))
	for kind := range m.handles {
		kinds = append(kinds, kind)
	}
	return kinds
}

func (m *ListenerManager) start(kind ListenerKind, open func() (ports.ListenerHandle, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[kind]; ok {
		m.logger.Debug("listener already active", slog.String("kind", string(kind)))
		return nil
	}

	handle, err := open()
	if err != nil {
		return fmt.Errorf("failed to start %s listener: %w", kind, err)
	}
	m.handles[kind] = handle

	m.logger.Info("listener started", slog.String("kind", string(kind)))
	return nil
}

// StartMedicines opens the medicine subscription; callback receives the
// full current collection on every push.
func (m *ListenerManager) StartMedicines(ctx context.Context, callback func([]domain.Medicine)) error {
	return m.start(KindMedicines, func() (ports.ListenerHandle, error) {
		return m.medicines.CreateListener(ctx, callback)
	})
}

// StartAisles opens the aisle subscription.
func (m *ListenerManager) StartAisles(ctx context.Context, callback func([]domain.Aisle)) error {
	return m.start(KindAisles, func() (ports.ListenerHandle, error) {
		return m.aisles.CreateListener(ctx, callback)
	})
}

// StartHistory opens the history subscription.
func (m *ListenerManager) StartHistory(ctx context.Context, callback func([]domain.HistoryEntry)) error {
	return m.start(KindHistory, func() (ports.ListenerHandle, error) {
		return m.history.CreateListener(ctx, callback)
	})
}

// Stop closes the subscription for kind, if any.
func (m *ListenerManager) Stop(kind ListenerKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.handles[kind]
	if !ok {
		return
	}
	delete(m.handles, kind)

	if err := handle.Close(); err != nil {
		m.logger.Warn("failed to close listener",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
	m.logger.Info("listener stopped", slog.String("kind", string(kind)))
}

// StopAll closes every active subscription.
func (m *ListenerManager) StopAll() {
	for _, kind := range []ListenerKind{KindMedicines, KindAisles, KindHistory} {
		m.Stop(kind)
	}
}
