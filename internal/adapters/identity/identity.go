// internal/adapters/identity/identity.go
package identity

import (
	"context"

	"github.com/tbellec/medistock-be/internal/core/ports"
)

// Static supplies a fixed owner id for the lifetime of the process,
// matching single-account deployments.
type Static struct {
	ownerID string
}

// Statically assert that *Static implements the IdentityProvider interface.
var _ ports.IdentityProvider = (*Static)(nil)

// NewStatic creates a provider for the given owner. An empty owner falls
// back to the anonymous sentinel.
func NewStatic(ownerID string) *Static {
	if ownerID == "" {
		ownerID = ports.AnonymousOwner
	}
	return &Static{ownerID: ownerID}
}

// CurrentOwnerID returns the configured owner id.
func (s *Static) CurrentOwnerID(ctx context.Context) string {
	return s.ownerID
}
