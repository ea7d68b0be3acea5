// internal/core/domain/history.go
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// History action labels
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionAdjusted = "stock_adjusted"
)

// deltaPattern matches the machine-extractable delta embedded in a history
// entry's details, e.g. "stock 50 -> 40 (delta -10)".
var deltaPattern = regexp.MustCompile(`\(delta ([+-]?\d+)\)`)

// HistoryEntry is an append-only audit record. Entries are never mutated or
// deleted individually; only bulk retention pruning removes them.
type HistoryEntry struct {
	ID         string    `json:"id"`
	MedicineID string    `json:"medicine_id,omitempty"`
	OwnerID    string    `json:"owner_id"`
	Action     string    `json:"action"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewHistoryEntry builds an entry stamped with the current time.
func NewHistoryEntry(ownerID, medicineID, action, details string) HistoryEntry {
	return HistoryEntry{
		ID:         uuid.NewString(),
		MedicineID: medicineID,
		OwnerID:    ownerID,
		Action:     action,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
}

// Validate performs local domain validation.
func (h *HistoryEntry) Validate() error {
	if h.OwnerID == "" {
		return NewValidationError("owner_id", "is required")
	}
	if h.Action == "" {
		return NewValidationError("action", "is required")
	}
	return nil
}

// FormatAdjustment renders quantity-adjustment details so the delta stays
// machine-extractable via ParseDelta.
func FormatAdjustment(name string, before, after int) string {
	return fmt.Sprintf("%s: stock %d -> %d (delta %+d)", name, before, after, after-before)
}

// ParseDelta extracts the quantity delta embedded in details. The second
// return value is false when details carry no delta.
func ParseDelta(details string) (int, bool) {
	m := deltaPattern.FindStringSubmatch(details)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
