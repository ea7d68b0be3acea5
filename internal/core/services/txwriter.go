// internal/core/services/txwriter.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
)

// WriteCoordinator funnels every mutation through the document store's
// transaction primitive so an entity write and its audit entry commit or
// fail as one unit. Entity deletions are the exception: their audit entry
// is recorded after the transaction, best effort.
type WriteCoordinator struct {
	store    ports.DocumentStore
	identity ports.IdentityProvider
	logger   *slog.Logger
}

// NewWriteCoordinator creates a write coordinator
func NewWriteCoordinator(store ports.DocumentStore, identity ports.IdentityProvider, logger *slog.Logger) *WriteCoordinator {
	return &WriteCoordinator{
		store:    store,
		identity: identity,
		logger:   logger.With(slog.String("service", "write_coordinator")),
	}
}

// SaveMedicine persists a medicine together with a history entry for the
// given action, atomically.
func (w *WriteCoordinator) SaveMedicine(ctx context.Context, med domain.Medicine, action string) (domain.Medicine, error) {
	owner := w.identity.CurrentOwnerID(ctx)
	med.OwnerID = owner

	entry := domain.NewHistoryEntry(owner, med.ID, action, fmt.Sprintf("%s: %s", med.Name, action))

	err := w.store.RunTransaction(ctx, func(tx ports.StoreTx) error {
		if err := tx.Set(ctx, ports.CollectionMedicines, med.ID, med); err != nil {
			return err
		}
		return tx.Set(ctx, ports.CollectionHistory, entry.ID, entry)
	})
	if err != nil {
		return domain.Medicine{}, fmt.Errorf("failed to save medicine: %w", err)
	}

	w.logger.InfoContext(ctx, "medicine saved",
		slog.String("id", med.ID),
		slog.String("action", action))

	return med, nil
}

// DeleteMedicine removes a medicine. The deletion itself is transactional;
// the audit entry is written afterwards and its failure only logs, so a
// successful delete is never rolled back over bookkeeping.
func (w *WriteCoordinator) DeleteMedicine(ctx context.Context, med domain.Medicine) error {
	err := w.store.RunTransaction(ctx, func(tx ports.StoreTx) error {
		return tx.Delete(ctx, ports.CollectionMedicines, med.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete medicine: %w", err)
	}

	owner := w.identity.CurrentOwnerID(ctx)
	entry := domain.NewHistoryEntry(owner, med.ID, domain.ActionDeleted, fmt.Sprintf("%s: deleted", med.Name))
	if err := w.store.Set(ctx, ports.CollectionHistory, entry.ID, entry); err != nil {
		w.logger.WarnContext(ctx, "failed to record deletion history",
			slog.String("medicine_id", med.ID),
			slog.String("error", err.Error()))
	}

	w.logger.InfoContext(ctx, "medicine deleted", slog.String("id", med.ID))
	return nil
}

// AdjustQuantity applies a signed delta to a medicine's stock inside a
// transaction, recording the adjustment in the same unit. The read and the
// write share the transaction so concurrent adjustments cannot lose
// updates. Quantities are not clamped; negative stock is visible data.
func (w *WriteCoordinator) AdjustQuantity(ctx context.Context, id string, delta int) (domain.Medicine, error) {
	owner := w.identity.CurrentOwnerID(ctx)

	var updated domain.Medicine
	err := w.store.RunTransaction(ctx, func(tx ports.StoreTx) error {
		doc, err := tx.Get(ctx, ports.CollectionMedicines, id)
		if err != nil {
			return err
		}

		var med domain.Medicine
		if err := doc.Decode(&med); err != nil {
			return fmt.Errorf("decode medicine %s: %w", id, err)
		}

		before := med.CurrentQuantity
		med.CurrentQuantity = before + delta
		med.UpdatedAt = time.Now().UTC()

		if err := tx.Update(ctx, ports.CollectionMedicines, id, map[string]any{
			"current_quantity": med.CurrentQuantity,
			"updated_at":       med.UpdatedAt,
		}); err != nil {
			return err
		}

		entry := domain.NewHistoryEntry(owner, id, domain.ActionAdjusted,
			domain.FormatAdjustment(med.Name, before, med.CurrentQuantity))
		if err := tx.Set(ctx, ports.CollectionHistory, entry.ID, entry); err != nil {
			return err
		}

		updated = med
		return nil
	})
	if err != nil {
		return domain.Medicine{}, fmt.Errorf("failed to adjust quantity: %w", err)
	}

	w.logger.InfoContext(ctx, "quantity adjusted",
		slog.String("id", id),
		slog.Int("delta", delta),
		slog.Int("quantity", updated.CurrentQuantity))

	return updated, nil
}

// SaveAisle persists an aisle together with a history entry for the given
// action, atomically. The entry's MedicineID stays empty; aisle actions
// are identified by their details line.
func (w *WriteCoordinator) SaveAisle(ctx context.Context, aisle domain.Aisle, action string) (domain.Aisle, error) {
	owner := w.identity.CurrentOwnerID(ctx)
	aisle.OwnerID = owner

	entry := domain.NewHistoryEntry(owner, "", action, fmt.Sprintf("aisle %s: %s", aisle.Name, action))

	err := w.store.RunTransaction(ctx, func(tx ports.StoreTx) error {
		if err := tx.Set(ctx, ports.CollectionAisles, aisle.ID, aisle); err != nil {
			return err
		}
		return tx.Set(ctx, ports.CollectionHistory, entry.ID, entry)
	})
	if err != nil {
		return domain.Aisle{}, fmt.Errorf("failed to save aisle: %w", err)
	}

	w.logger.InfoContext(ctx, "aisle saved",
		slog.String("id", aisle.ID),
		slog.String("action", action))
	return aisle, nil
}

// DeleteAisle removes an aisle. Like DeleteMedicine, the audit entry is
// written after the transaction, best effort.
func (w *WriteCoordinator) DeleteAisle(ctx context.Context, aisle domain.Aisle) error {
	err := w.store.RunTransaction(ctx, func(tx ports.StoreTx) error {
		return tx.Delete(ctx, ports.CollectionAisles, aisle.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete aisle: %w", err)
	}

	owner := w.identity.CurrentOwnerID(ctx)
	entry := domain.NewHistoryEntry(owner, "", domain.ActionDeleted, fmt.Sprintf("aisle %s: deleted", aisle.Name))
	if err := w.store.Set(ctx, ports.CollectionHistory, entry.ID, entry); err != nil {
		w.logger.WarnContext(ctx, "failed to record aisle deletion history",
			slog.String("aisle_id", aisle.ID),
			slog.String("error", err.Error()))
	}

	w.logger.InfoContext(ctx, "aisle deleted", slog.String("id", aisle.ID))
	return nil
}
