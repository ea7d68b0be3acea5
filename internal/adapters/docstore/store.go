// internal/adapters/docstore/store.go
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
)

// NotifyChannel is the Postgres channel document triggers publish on; the
// payload is the mutated collection name.
const NotifyChannel = "documents_changed"

// PostgresStore implements ports.DocumentStore on a single JSONB-backed
// documents table.
type PostgresStore struct {
	db     *Database
	logger *slog.Logger
}

// Statically assert that *PostgresStore implements the DocumentStore port.
var _ ports.DocumentStore = (*PostgresStore)(nil)

// NewPostgresStore creates a document store on top of db.
func NewPostgresStore(db *Database, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.With(slog.String("component", "docstore")),
	}
}

func sqlOp(op ports.FilterOp) string {
	switch op {
	case ports.OpEq:
		return "="
	case ports.OpLt:
		return "<"
	case ports.OpLte:
		return "<="
	case ports.OpGt:
		return ">"
	case ports.OpGte:
		return ">="
	default:
		return "="
	}
}

// mapStoreErr translates driver-level failures into the domain taxonomy.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientError{Err: err}
	}
	return err
}

// queryableFields whitelists the document fields SQL may reference. Field
// names are interpolated into the JSONB accessor, so anything outside this
// set is rejected rather than quoted.
var queryableFields = map[string]bool{
	"id":               true,
	"owner_id":         true,
	"name":             true,
	"aisle_id":         true,
	"medicine_id":      true,
	"action":           true,
	"timestamp":        true,
	"current_quantity": true,
	"expiry_date":      true,
}

func checkFields(q ports.Query) error {
	for _, f := range q.Filters {
		if !queryableFields[f.Field] {
			return fmt.Errorf("field %q is not queryable", f.Field)
		}
	}
	if q.OrderBy.Field != "" && !queryableFields[q.OrderBy.Field] {
		return fmt.Errorf("field %q is not orderable", q.OrderBy.Field)
	}
	return nil
}

func buildSelect(collection string, q ports.Query) squirrel.SelectBuilder {
	qb := squirrel.Select("id", "data").
		From("documents").
		Where(squirrel.Eq{"collection": collection}).
		PlaceholderFormat(squirrel.Dollar)

	for _, f := range q.Filters {
		qb = qb.Where(fmt.Sprintf("(data->>'%s') %s ?", f.Field, sqlOp(f.Op)), f.Value)
	}

	if q.OrderBy.Field != "" {
		dir := "ASC"
		cmp := ">"
		if q.OrderBy.Desc {
			dir = "DESC"
			cmp = "<"
		}
		if q.StartAfter != nil {
			qb = qb.Where(
				fmt.Sprintf("((data->>'%s'), id) %s (?, ?)", q.OrderBy.Field, cmp),
				q.StartAfter.Value, q.StartAfter.ID,
			)
		}
		qb = qb.OrderBy(
			fmt.Sprintf("(data->>'%s') %s", q.OrderBy.Field, dir),
			fmt.Sprintf("id %s", dir),
		)
	} else {
		qb = qb.OrderBy("id ASC")
	}

	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}
	return qb
}

// Query returns the ordered, filtered, paginated documents of a collection.
func (s *PostgresStore) Query(ctx context.Context, collection string, q ports.Query) ([]ports.Document, error) {
	if err := checkFields(q); err != nil {
		return nil, err
	}
	sqlQuery, args, err := buildSelect(collection, q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", mapStoreErr(err))
	}
	defer rows.Close()

	var docs []ports.Document
	for rows.Next() {
		var doc ports.Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", mapStoreErr(err))
	}

	return docs, nil
}

// Get retrieves a single document or domain.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*ports.Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 AND id = $2`

	doc := &ports.Document{}
	err := s.db.QueryRow(ctx, query, collection, id).Scan(&doc.ID, &doc.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", mapStoreErr(err))
	}
	return doc, nil
}

// Set upserts the JSON encoding of data under id.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	if _, err := s.db.Exec(ctx, query, collection, id, raw); err != nil {
		return fmt.Errorf("failed to set document: %w", mapStoreErr(err))
	}

	s.logger.DebugContext(ctx, "document set",
		slog.String("collection", collection),
		slog.String("id", id))

	return nil
}

// Update merges fields into an existing document.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	query := `
		UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2`

	tag, err := s.db.Exec(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", mapStoreErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a document; deleting an absent id is not an error.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND id = $2`

	if _, err := s.db.Exec(ctx, query, collection, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", mapStoreErr(err))
	}
	return nil
}

// Count returns the number of documents matching the filters.
func (s *PostgresStore) Count(ctx context.Context, collection string, filters []ports.Filter) (int64, error) {
	if err := checkFields(ports.Query{Filters: filters}); err != nil {
		return 0, err
	}
	qb := squirrel.Select("COUNT(*)").
		From("documents").
		Where(squirrel.Eq{"collection": collection}).
		PlaceholderFormat(squirrel.Dollar)
	for _, f := range filters {
		qb = qb.Where(fmt.Sprintf("(data->>'%s') %s ?", f.Field, sqlOp(f.Op)), f.Value)
	}

	sqlQuery, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int64
	if err := s.db.QueryRow(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", mapStoreErr(err))
	}
	return count, nil
}

// pgTx adapts pgx.Tx to the StoreTx port. Reads lock the selected row so
// read-modify-write sequences inside the transaction cannot lose updates
// to concurrent adjustments.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (*ports.Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`

	doc := &ports.Document{}
	err := t.tx.QueryRow(ctx, query, collection, id).Scan(&doc.ID, &doc.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document in tx: %w", mapStoreErr(err))
	}
	return doc, nil
}

func (t *pgTx) Set(ctx context.Context, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	if _, err := t.tx.Exec(ctx, query, collection, id, raw); err != nil {
		return fmt.Errorf("failed to set document in tx: %w", mapStoreErr(err))
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	query := `
		UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2`

	tag, err := t.tx.Exec(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update document in tx: %w", mapStoreErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND id = $2`

	if _, err := t.tx.Exec(ctx, query, collection, id); err != nil {
		return fmt.Errorf("failed to delete document in tx: %w", mapStoreErr(err))
	}
	return nil
}

// RunTransaction runs fn atomically; any error aborts the whole unit and
// surfaces as a TransactionAbortError wrapping the cause.
func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(tx ports.StoreTx) error) error {
	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	if err != nil {
		return &domain.TransactionAbortError{Op: "apply", Err: mapStoreErr(err)}
	}
	return nil
}

// pgSubscription re-queries the full filtered set on every notification,
// honoring the full-snapshot-per-push contract.
type pgSubscription struct {
	cancel context.CancelFunc
	ch     chan []ports.Document
	done   chan struct{}
}

func (sub *pgSubscription) Updates() <-chan []ports.Document { return sub.ch }

func (sub *pgSubscription) Close() error {
	sub.cancel()
	<-sub.done
	return nil
}

// Subscribe opens a LISTEN-backed push subscription. The initial snapshot
// is delivered immediately; each relevant notification triggers a fresh
// full query of the subscribed set.
func (s *PostgresStore) Subscribe(ctx context.Context, collection string, q ports.Query) (ports.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())

	conn, err := s.db.Listen(subCtx, NotifyChannel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe: %w", mapStoreErr(err))
	}

	sub := &pgSubscription{
		cancel: cancel,
		ch:     make(chan []ports.Document, 16),
		done:   make(chan struct{}),
	}

	initial, err := s.Query(ctx, collection, q)
	if err != nil {
		conn.Release()
		cancel()
		return nil, err
	}
	sub.ch <- initial

	go func() {
		defer close(sub.done)
		defer close(sub.ch)
		defer conn.Release()

		for {
			notification, err := s.db.WaitForNotification(subCtx, conn)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				s.logger.Warn("subscription interrupted",
					slog.String("collection", collection),
					slog.String("error", err.Error()))
				return
			}
			if notification.Payload != "" && notification.Payload != collection {
				continue
			}

			snapshot, err := s.Query(subCtx, collection, q)
			if err != nil {
				s.logger.Warn("failed to refresh subscription snapshot",
					slog.String("collection", collection),
					slog.String("error", err.Error()))
				continue
			}
			select {
			case sub.ch <- snapshot:
			default:
				// Slow consumer; it will catch up on the next change.
			}
		}
	}()

	return sub, nil
}
