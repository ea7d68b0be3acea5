// internal/adapters/docstore/memory.go
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
)

// FailFunc lets tests inject failures per operation. Returning a non-nil
// error makes the matching store call fail with it.
type FailFunc func(op, collection, id string) error

// MemoryStore is an in-memory ports.DocumentStore used by unit tests and
// local development. It honors the same ordering, pagination and
// transaction semantics as the Postgres adapter.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	subscribers []*memorySubscription
	failFn      FailFunc

	queries int
}

// Statically assert that *MemoryStore implements the DocumentStore port.
var _ ports.DocumentStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]json.RawMessage),
	}
}

// FailWith installs a failure hook; pass nil to clear it.
func (s *MemoryStore) FailWith(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// QueryCount reports how many Query calls reached the store. Tests use it
// to verify caching and listener suppression.
func (s *MemoryStore) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func (s *MemoryStore) fail(op, collection, id string) error {
	if s.failFn == nil {
		return nil
	}
	return s.failFn(op, collection, id)
}

func (s *MemoryStore) collection(name string) map[string]json.RawMessage {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]json.RawMessage)
		s.collections[name] = c
	}
	return c
}

// Query returns the ordered, filtered, paginated documents of a collection.
func (s *MemoryStore) Query(ctx context.Context, collection string, q ports.Query) ([]ports.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries++
	if err := s.fail("query", collection, ""); err != nil {
		return nil, err
	}
	return s.queryLocked(collection, q), nil
}

func (s *MemoryStore) queryLocked(collection string, q ports.Query) []ports.Document {
	var docs []ports.Document
	for id, data := range s.collection(collection) {
		doc := ports.Document{ID: id, Data: data}
		if matchesFilters(doc, q.Filters) {
			docs = append(docs, doc)
		}
	}

	if q.OrderBy.Field != "" {
		sort.Slice(docs, func(i, j int) bool {
			c := compareField(docs[i], docs[j], q.OrderBy.Field)
			if c == 0 {
				c = compareStrings(docs[i].ID, docs[j].ID)
			}
			if q.OrderBy.Desc {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}

	if q.StartAfter != nil && q.OrderBy.Field != "" {
		idx := 0
		for i, d := range docs {
			c := compareValue(fieldValue(d, q.OrderBy.Field), q.StartAfter.Value)
			if q.OrderBy.Desc {
				c = -c
			}
			if c < 0 || (c == 0 && d.ID <= q.StartAfter.ID) {
				idx = i + 1
			}
		}
		docs = docs[idx:]
	}

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

// Get retrieves a single document or domain.ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*ports.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("get", collection, id); err != nil {
		return nil, err
	}
	data, ok := s.collection(collection)[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ports.Document{ID: id, Data: data}, nil
}

// Set stores the JSON encoding of data under id.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, data any) error {
	s.mu.Lock()
	if err := s.fail("set", collection, id); err != nil {
		s.mu.Unlock()
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode document: %w", err)
	}
	s.collection(collection)[id] = raw
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

// Update merges fields into an existing document.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	if err := s.fail("update", collection, id); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.updateLocked(collection, id, fields); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemoryStore) updateLocked(collection, id string, fields map[string]any) error {
	raw, ok := s.collection(collection)[id]
	if !ok {
		return domain.ErrNotFound
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	for k, v := range fields {
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	s.collection(collection)[id] = merged
	return nil
}

// Delete removes a document; deleting an absent id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if err := s.fail("delete", collection, id); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.collection(collection), id)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

// Count returns the number of documents matching the filters.
func (s *MemoryStore) Count(ctx context.Context, collection string, filters []ports.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("count", collection, ""); err != nil {
		return 0, err
	}
	var n int64
	for id, data := range s.collection(collection) {
		if matchesFilters(ports.Document{ID: id, Data: data}, filters) {
			n++
		}
	}
	return n, nil
}

// memoryTx buffers writes so a failing transaction leaves the store
// untouched. Reads see the pre-transaction state plus pending writes.
type memoryTx struct {
	store   *MemoryStore
	writes  []func() error
	pending map[string]map[string]json.RawMessage
	deleted map[string]map[string]bool
	touched map[string]bool
}

func (tx *memoryTx) pendingIn(collection string) map[string]json.RawMessage {
	c, ok := tx.pending[collection]
	if !ok {
		c = make(map[string]json.RawMessage)
		tx.pending[collection] = c
	}
	return c
}

func (tx *memoryTx) Get(ctx context.Context, collection, id string) (*ports.Document, error) {
	if err := tx.store.fail("tx.get", collection, id); err != nil {
		return nil, err
	}
	if tx.deleted[collection][id] {
		return nil, domain.ErrNotFound
	}
	if raw, ok := tx.pendingIn(collection)[id]; ok {
		return &ports.Document{ID: id, Data: raw}, nil
	}
	raw, ok := tx.store.collection(collection)[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ports.Document{ID: id, Data: raw}, nil
}

func (tx *memoryTx) Set(ctx context.Context, collection, id string, data any) error {
	if err := tx.store.fail("tx.set", collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tx.pendingIn(collection)[id] = raw
	tx.touched[collection] = true
	tx.writes = append(tx.writes, func() error {
		tx.store.collection(collection)[id] = raw
		return nil
	})
	return nil
}

func (tx *memoryTx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := tx.store.fail("tx.update", collection, id); err != nil {
		return err
	}
	doc, err := tx.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	for k, v := range fields {
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tx.pendingIn(collection)[id] = merged
	tx.touched[collection] = true
	tx.writes = append(tx.writes, func() error {
		tx.store.collection(collection)[id] = merged
		return nil
	})
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, collection, id string) error {
	if err := tx.store.fail("tx.delete", collection, id); err != nil {
		return err
	}
	if tx.deleted[collection] == nil {
		tx.deleted[collection] = make(map[string]bool)
	}
	tx.deleted[collection][id] = true
	delete(tx.pendingIn(collection), id)
	tx.touched[collection] = true
	tx.writes = append(tx.writes, func() error {
		delete(tx.store.collection(collection), id)
		return nil
	})
	return nil
}

// RunTransaction executes fn against a buffered view; writes apply only if
// fn returns nil. A failing fn aborts the whole unit.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx ports.StoreTx) error) error {
	s.mu.Lock()
	if err := s.fail("transaction", "", ""); err != nil {
		s.mu.Unlock()
		return &domain.TransactionAbortError{Op: "begin", Err: err}
	}

	tx := &memoryTx{
		store:   s,
		pending: make(map[string]map[string]json.RawMessage),
		deleted: make(map[string]map[string]bool),
		touched: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return &domain.TransactionAbortError{Op: "apply", Err: err}
	}
	for _, apply := range tx.writes {
		if err := apply(); err != nil {
			s.mu.Unlock()
			return &domain.TransactionAbortError{Op: "commit", Err: err}
		}
	}
	s.mu.Unlock()

	for collection := range tx.touched {
		s.notify(collection)
	}
	return nil
}

// memorySubscription pushes the full current result set on every change.
type memorySubscription struct {
	store      *MemoryStore
	collection string
	query      ports.Query
	ch         chan []ports.Document
	closed     bool
}

func (sub *memorySubscription) Updates() <-chan []ports.Document { return sub.ch }

func (sub *memorySubscription) Close() error {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()

	if sub.closed {
		return nil
	}
	sub.closed = true
	close(sub.ch)
	for i, other := range sub.store.subscribers {
		if other == sub {
			sub.store.subscribers = append(sub.store.subscribers[:i], sub.store.subscribers[i+1:]...)
			break
		}
	}
	return nil
}

// Subscribe registers a push subscription; the initial snapshot is
// delivered immediately.
func (s *MemoryStore) Subscribe(ctx context.Context, collection string, q ports.Query) (ports.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("subscribe", collection, ""); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		store:      s,
		collection: collection,
		query:      q,
		ch:         make(chan []ports.Document, 16),
	}
	s.subscribers = append(s.subscribers, sub)
	sub.ch <- s.queryLocked(collection, q)
	return sub, nil
}

func (s *MemoryStore) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscribers {
		if sub.closed || sub.collection != collection {
			continue
		}
		snapshot := s.queryLocked(collection, sub.query)
		select {
		case sub.ch <- snapshot:
		default:
			// Slow consumer; it will catch up on the next change.
		}
	}
}

// Field helpers shared with query evaluation.

func fieldValue(doc ports.Document, field string) any {
	var m map[string]any
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		return nil
	}
	return m[field]
}

func matchesFilters(doc ports.Document, filters []ports.Filter) bool {
	for _, f := range filters {
		c := compareValue(fieldValue(doc, f.Field), f.Value)
		switch f.Op {
		case ports.OpEq:
			if c != 0 {
				return false
			}
		case ports.OpLt:
			if c >= 0 {
				return false
			}
		case ports.OpLte:
			if c > 0 {
				return false
			}
		case ports.OpGt:
			if c <= 0 {
				return false
			}
		case ports.OpGte:
			if c < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareField(a, b ports.Document, field string) int {
	av, bv := fieldValue(a, field), fieldValue(b, field)
	if an, ok := av.(float64); ok {
		if bn, ok := bv.(float64); ok {
			return compareFloats(an, bn)
		}
	}
	return compareStrings(stringify(av), stringify(bv))
}

func compareValue(v any, target string) int {
	if n, ok := v.(float64); ok {
		if t, err := strconv.ParseFloat(target, 64); err == nil {
			return compareFloats(n, t)
		}
	}
	return compareStrings(stringify(v), target)
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
