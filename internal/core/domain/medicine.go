// internal/core/domain/medicine.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// StockLevel classifies a medicine's current quantity against its thresholds.
type StockLevel string

// Stock level constants
const (
	StockNormal   StockLevel = "normal"
	StockWarning  StockLevel = "warning"
	StockCritical StockLevel = "critical"
)

// MaxNameLength bounds free-text name fields on all entities.
const MaxNameLength = 100

// Medicine represents a tracked medicine. An empty ID means the entity has
// not been persisted yet.
type Medicine struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Dosage            string     `json:"dosage,omitempty"`
	Unit              string     `json:"unit,omitempty"`
	CurrentQuantity   int        `json:"current_quantity"`
	MaxQuantity       int        `json:"max_quantity"`
	WarningThreshold  int        `json:"warning_threshold"`
	CriticalThreshold int        `json:"critical_threshold"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	AisleID           string     `json:"aisle_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsNew reports whether the medicine has been persisted yet.
func (m *Medicine) IsNew() bool {
	return m.ID == ""
}

// Validate performs local domain validation. It never touches the network;
// referential checks (aisle existence) belong to the repository.
func (m *Medicine) Validate() error {
	if m.Name == "" {
		return NewValidationError("name", "is required")
	}
	if len(m.Name) > MaxNameLength {
		return NewValidationError("name", "exceeds maximum length")
	}
	if m.MaxQuantity < 0 {
		return NewValidationError("max_quantity", "cannot be negative")
	}
	if m.WarningThreshold < 0 {
		return NewValidationError("warning_threshold", "cannot be negative")
	}
	if m.CriticalThreshold < 0 {
		return NewValidationError("critical_threshold", "cannot be negative")
	}
	if m.AisleID == "" {
		return NewValidationError("aisle_id", "is required")
	}
	return nil
}

// PrepareForStorage assigns an id and timestamps before a write.
func (m *Medicine) PrepareForStorage() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

// StockLevel classifies the current quantity. Adjustments may legitimately
// drive CurrentQuantity negative; anything at or below the critical
// threshold, including negative values, reports StockCritical.
func (m *Medicine) StockLevel() StockLevel {
	switch {
	case m.CurrentQuantity <= m.CriticalThreshold:
		return StockCritical
	case m.CurrentQuantity <= m.WarningThreshold:
		return StockWarning
	default:
		return StockNormal
	}
}

// IsExpired reports whether the medicine's expiry date has passed.
func (m *Medicine) IsExpired(now time.Time) bool {
	return m.ExpiryDate != nil && m.ExpiryDate.Before(now)
}

// ExpiresWithin reports whether the medicine expires within d from now.
func (m *Medicine) ExpiresWithin(now time.Time, d time.Duration) bool {
	return m.ExpiryDate != nil && m.ExpiryDate.Before(now.Add(d)) && !m.ExpiryDate.Before(now)
}
