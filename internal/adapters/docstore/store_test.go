// internal/adapters/docstore/store_test.go
package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbellec/medistock-be/internal/core/ports"
)

func TestCheckFields(t *testing.T) {
	t.Run("accepts_known_fields", func(t *testing.T) {
		q := ports.Query{
			Filters: []ports.Filter{
				ports.Where("owner_id", ports.OpEq, "u1"),
				ports.Where("timestamp", ports.OpLt, "2026-01-01T00:00:00Z"),
			},
			OrderBy: ports.OrderBy{Field: "name"},
		}
		assert.NoError(t, checkFields(q))
	})

	t.Run("rejects_unknown_filter_field", func(t *testing.T) {
		q := ports.Query{
			Filters: []ports.Filter{
				ports.Where("data->>'x') = '' OR ('1", ports.OpEq, "1"),
			},
		}
		err := checkFields(q)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not queryable")
	})

	t.Run("rejects_unknown_order_field", func(t *testing.T) {
		q := ports.Query{OrderBy: ports.OrderBy{Field: "secret"}}
		err := checkFields(q)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not orderable")
	})
}
