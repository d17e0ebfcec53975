// Package registry maintains the bijective mapping between Discord
// identities and local accounts. Implementations must enforce the
// one-to-one invariant at the storage layer with an atomic write, not an
// application-level check-then-write.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/wikiforge/discordauth/discord"
)

// ErrNotFound is returned by lookups that match no link.
var ErrNotFound = errors.New("link not found")

// ErrAlreadyLinkedElsewhere is returned by Link when the Discord identity is
// already bound to a different local account.
var ErrAlreadyLinkedElsewhere = errors.New("discord account already linked to another user")

// LinkedAccount is the persisted association between a Discord identity and
// a local account. At any instant an external ID maps to at most one local
// user, and a local user holds at most one active link.
type LinkedAccount struct {
	LocalUserID      string
	ExternalID       string
	ExternalUsername string
	LinkedAt         time.Time
}

// Registry stores identity links.
type Registry interface {
	// FindByExternalID resolves the link holding the Discord ID.
	// Returns ErrNotFound when the identity is unlinked.
	FindByExternalID(ctx context.Context, externalID string) (*LinkedAccount, error)

	// FindByUserID resolves the link held by the local account.
	// Returns ErrNotFound when the account has no link.
	FindByUserID(ctx context.Context, localUserID string) (*LinkedAccount, error)

	// Link binds identity to localUserID. Re-linking the same pair is an
	// idempotent update that refreshes the cached username. Binding an
	// identity already held by a different local user fails with
	// ErrAlreadyLinkedElsewhere and leaves the existing link untouched.
	Link(ctx context.Context, localUserID string, identity *discord.Identity) (*LinkedAccount, error)

	// Unlink removes the local account's link, if any.
	Unlink(ctx context.Context, localUserID string) error

	// List returns all links in a stable order (by local user ID).
	List(ctx context.Context) ([]LinkedAccount, error)
}
