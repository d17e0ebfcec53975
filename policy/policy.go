// Package policy decides whether a guild membership grants access. It is
// pure: no I/O, deterministic, safe to call from any goroutine.
package policy

import "github.com/wikiforge/discordauth/discord"

// DenyReason explains a negative decision.
type DenyReason string

const (
	// ReasonNotAMember means the user does not belong to the guild.
	ReasonNotAMember DenyReason = "not_a_member"

	// ReasonNoRoleMatch means the user belongs to the guild but holds none
	// of the allowed roles.
	ReasonNoRoleMatch DenyReason = "no_role_match"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  DenyReason // set only when Allowed is false
}

// Evaluate applies the access rule. A non-member is always denied. When the
// allowed-role set is empty, membership alone grants access. Otherwise the
// user needs at least one of the allowed roles (logical OR, not AND).
func Evaluate(membership *discord.Membership, allowedRoles []string) Decision {
	if membership == nil || !membership.IsMember {
		return Decision{Reason: ReasonNotAMember}
	}

	if len(allowedRoles) == 0 {
		return Decision{Allowed: true}
	}

	held := make(map[string]struct{}, len(membership.Roles))
	for _, role := range membership.Roles {
		held[role] = struct{}{}
	}
	for _, role := range allowedRoles {
		if _, ok := held[role]; ok {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: ReasonNoRoleMatch}
}
