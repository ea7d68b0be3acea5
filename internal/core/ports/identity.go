// internal/core/ports/identity.go
package ports

import "context"

// AnonymousOwner is the sentinel owner id used when no identity is
// available. Queries scoped to it only ever see anonymous data.
const AnonymousOwner = "anonymous"

// IdentityProvider supplies the owner id that scopes every query. The sync
// layer treats it as a pure read and never mutates it.
type IdentityProvider interface {
	CurrentOwnerID(ctx context.Context) string
}
