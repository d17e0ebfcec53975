// Package discordauth binds Discord identities to local accounts and gates
// access on continued membership in a Discord guild. The root package holds
// the shared types, the error taxonomy, and the collaborator ports; behavior
// lives in the subpackages (discord, state, policy, registry, flow, reconcile).
package discordauth

import (
	"context"
	"errors"
)

// User is a local account managed by the host application. The host owns
// creation, lookup, and persistence; this library only reads and annotates it.
type User struct {
	// ID is the host-assigned account identifier.
	ID string

	// Name is the account's username.
	Name string

	// Email is the account's email address, if any.
	Email string
}

// ErrAccountNotFound is returned by AccountStore lookups when no account
// matches. It is a sentinel so callers can distinguish "absent" from failure.
var ErrAccountNotFound = errors.New("account not found")

// SessionStore is a per-session key-value store provided by the host.
// The state manager uses it to persist CSRF tokens across the redirect
// boundary; implementations must scope keys to the calling session.
type SessionStore interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// AccountStore exposes the host's local-account mechanics.
type AccountStore interface {
	// Create makes a new account with the given username.
	Create(ctx context.Context, username string) (*User, error)

	// FindByName looks up an account by username.
	// Returns ErrAccountNotFound when no account exists.
	FindByName(ctx context.Context, username string) (*User, error)

	// FindByID looks up an account by its identifier.
	// Returns ErrAccountNotFound when no account exists.
	FindByID(ctx context.Context, id string) (*User, error)

	// SetOption stores a per-user preference or annotation.
	SetOption(ctx context.Context, user *User, key, value string) error

	// Save persists pending changes to the account.
	Save(ctx context.Context, user *User) error

	// ListUsers returns all local accounts.
	ListUsers(ctx context.Context) ([]User, error)
}

// GroupStore manages the host's user-group membership.
type GroupStore interface {
	// AddToGroup places user into the named group.
	AddToGroup(ctx context.Context, user *User, group string) error

	// RemoveFromGroup removes user from the named group.
	RemoveFromGroup(ctx context.Context, user *User, group string) error

	// GroupsOf returns the groups user currently belongs to.
	GroupsOf(ctx context.Context, user *User) ([]string, error)
}

// Enforcer applies the host's block or suspension mechanism. The
// reconciliation engine only recommends; the decision to call
// ApplyRestriction rests with the operator.
type Enforcer interface {
	// ApplyRestriction blocks or suspends the account.
	ApplyRestriction(ctx context.Context, user *User, reason string) error

	// IsRestricted reports whether a restriction is already in place.
	IsRestricted(ctx context.Context, user *User) (bool, error)
}
