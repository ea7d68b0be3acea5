// internal/core/ports/document_store.go
package ports

import (
	"context"
	"encoding/json"
)

// Collection names used by the sync layer.
const (
	CollectionMedicines = "medicines"
	CollectionAisles    = "aisles"
	CollectionHistory   = "history"
)

// Document is a raw store document: an id plus its JSON payload.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document payload into dest.
func (d Document) Decode(dest any) error {
	return json.Unmarshal(d.Data, dest)
}

// FilterOp enumerates supported filter comparisons.
type FilterOp string

const (
	OpEq  FilterOp = "=="
	OpLt  FilterOp = "<"
	OpLte FilterOp = "<="
	OpGt  FilterOp = ">"
	OpGte FilterOp = ">="
)

// Filter constrains a query on a single document field.
type Filter struct {
	Field string
	Op    FilterOp
	Value string
}

// Where builds a filter comparing a document field against a value.
func Where(field string, op FilterOp, value string) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// OrderBy names the field documents are ordered on.
type OrderBy struct {
	Field string
	Desc  bool
}

// Cursor is an opaque pagination marker referencing the last item of the
// previously fetched page. Value holds the order field's encoded value.
type Cursor struct {
	Value string
	ID    string
}

// Query describes an ordered, optionally paginated collection read.
type Query struct {
	Filters    []Filter
	OrderBy    OrderBy
	Limit      int
	StartAfter *Cursor
}

// StoreTx exposes the operations available inside a store transaction.
// Reads performed through it see a consistent snapshot, and all writes
// commit or abort as one unit.
type StoreTx interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// Subscription delivers the entire current result set of the subscribed
// query on every change, not a delta.
type Subscription interface {
	Updates() <-chan []Document
	Close() error
}

// DocumentStore is the remote document database consumed by the sync layer:
// collection-scoped CRUD, compound-field queries, ordered paginated reads,
// count aggregation, multi-document transactions and push subscriptions.
type DocumentStore interface {
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Count(ctx context.Context, collection string, filters []Filter) (int64, error)
	RunTransaction(ctx context.Context, fn func(tx StoreTx) error) error
	Subscribe(ctx context.Context, collection string, q Query) (Subscription, error)
}
