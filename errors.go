package discordauth

import (
	"errors"
	"fmt"
)

// FlowErrorKind identifies the terminal failure of an authentication or
// linking flow. Every external-call failure is converted into one of these
// at the boundary; no raw transport fault reaches the flow caller.
type FlowErrorKind string

const (
	// KindInvalidState means the CSRF state token was missing, already
	// consumed, expired, or did not match.
	KindInvalidState FlowErrorKind = "invalid_state"

	// KindTokenExchange means the authorization code could not be exchanged
	// for an access token. Codes are single-use, so this is never retried.
	KindTokenExchange FlowErrorKind = "token_exchange_failed"

	// KindProfileFetch means the Discord profile could not be fetched.
	KindProfileFetch FlowErrorKind = "profile_fetch_failed"

	// KindMembershipFetch means the guild membership lookup failed for a
	// reason other than the user not being a member.
	KindMembershipFetch FlowErrorKind = "membership_fetch_failed"

	// KindNotAMember means the user is not a member of the gating guild.
	KindNotAMember FlowErrorKind = "not_a_member"

	// KindNoRoleMatch means the user is a member but holds none of the
	// allowed roles.
	KindNoRoleMatch FlowErrorKind = "no_role_match"

	// KindLinkConflict means the Discord account is already linked to a
	// different local account.
	KindLinkConflict FlowErrorKind = "link_conflict"

	// KindInvalidUsername means the chosen username is empty or contains
	// disallowed characters.
	KindInvalidUsername FlowErrorKind = "invalid_username"

	// KindUsernameTaken means the chosen username already belongs to an
	// existing local account.
	KindUsernameTaken FlowErrorKind = "username_taken"

	// KindCreateFailed means the local account could not be created or the
	// link could not be written.
	KindCreateFailed FlowErrorKind = "account_creation_failed"

	// KindNoLinkedAccount means no local account is linked to the Discord
	// identity and auto-creation is disabled.
	KindNoLinkedAccount FlowErrorKind = "no_linked_account"
)

// FlowError is a terminal flow failure with a machine-readable kind.
type FlowError struct {
	Kind    FlowErrorKind
	Message string
	Err     error // underlying cause, if any
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError creates a flow error wrapping an optional cause.
func NewFlowError(kind FlowErrorKind, message string, cause error) *FlowError {
	return &FlowError{Kind: kind, Message: message, Err: cause}
}

// IsKind reports whether err is, or wraps, a *FlowError of the given kind.
func IsKind(err error, kind FlowErrorKind) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Kind == kind
}
