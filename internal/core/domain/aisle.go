// internal/core/domain/aisle.go
package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Aisle represents a storage aisle grouping medicines. Aisle names are
// unique per owner, compared case-insensitively.
type Aisle struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsNew reports whether the aisle has been persisted yet.
func (a *Aisle) IsNew() bool {
	return a.ID == ""
}

// Validate performs local domain validation.
func (a *Aisle) Validate() error {
	if a.Name == "" {
		return NewValidationError("name", "is required")
	}
	if len(a.Name) > MaxNameLength {
		return NewValidationError("name", "exceeds maximum length")
	}
	if a.Color != "" && !colorPattern.MatchString(a.Color) {
		return NewValidationError("color", "must be a hex color like #RRGGBB")
	}
	return nil
}

// PrepareForStorage assigns an id and timestamps before a write.
func (a *Aisle) PrepareForStorage() {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// NameEquals compares aisle names the way uniqueness is enforced:
// case-insensitively, ignoring surrounding whitespace.
func (a *Aisle) NameEquals(name string) bool {
	return strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(name))
}
