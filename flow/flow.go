// Package flow drives the end-to-end authentication and account-linking
// flows: state generation, the provider callback, authorization policy,
// identity linking, and username selection for first-time sign-ins.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"

	"github.com/wikiforge/discordauth"
	"github.com/wikiforge/discordauth/discord"
	"github.com/wikiforge/discordauth/instrumentation"
	"github.com/wikiforge/discordauth/policy"
	"github.com/wikiforge/discordauth/registry"
	"github.com/wikiforge/discordauth/security"
	"github.com/wikiforge/discordauth/state"
)

// Scopes requested per purpose. Login needs guild membership visibility,
// linking only needs the identity.
var (
	loginScopes = []string{"identify", "guilds.members.read"}
	linkScopes  = []string{"identify"}
)

// Option key under which the provider-side username is cached on the local
// account.
const usernameOption = "discord_username"

// ProviderClient is the slice of the provider API the flow depends on.
type ProviderClient interface {
	AuthorizationURL(state string, scopes []string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, accessToken string) (*discord.Identity, error)
	FetchMembership(ctx context.Context, cred discord.Credential, guildID string) (*discord.Membership, error)
}

// Config carries the flow's policy inputs.
type Config struct {
	// GuildID identifies the guild whose membership gates login.
	GuildID string

	// AllowedRoles restricts login to members holding at least one of
	// these role IDs. Empty means membership alone suffices.
	AllowedRoles []string

	// AutoCreateAccounts permits first-time sign-ins to create a local
	// account. When false, an unlinked identity is rejected.
	AutoCreateAccounts bool
}

// Status is the terminal shape of a flow continuation.
type Status string

const (
	// StatusAuthenticated means a linked local account was resolved.
	StatusAuthenticated Status = "authenticated"

	// StatusUsernameSelection means the identity is authorized but has no
	// local account yet; the caller must collect a username.
	StatusUsernameSelection Status = "username_selection"

	// StatusLinked means an existing account gained an identity link.
	StatusLinked Status = "linked"

	// StatusFailed means the flow ended with a classified failure.
	StatusFailed Status = "failed"
)

// Pending carries everything needed to finish a first-time sign-in once the
// user has chosen a username. It stays valid across rejected submissions.
type Pending struct {
	Identity          discord.Identity
	Membership        discord.Membership
	SuggestedUsername string
}

// Outcome is the result of a flow continuation. Failure holds the
// classified error when Status is StatusFailed, or the rejection reason on
// a resubmittable username selection.
type Outcome struct {
	Status     Status
	User       *discordauth.User
	NewAccount bool
	Pending    *Pending
	Failure    *discordauth.FlowError
}

// Flow orchestrates login and linking against a provider, a link registry,
// and the host's account store.
type Flow struct {
	provider ProviderClient
	states   *state.Manager
	links    registry.Registry
	accounts discordauth.AccountStore
	cfg      Config
	logger   *slog.Logger

	auditor *security.Auditor
	metrics *instrumentation.Metrics
}

// New creates a flow. The auditor and metrics are optional and attached via
// the setters.
func New(provider ProviderClient, states *state.Manager, links registry.Registry, accounts discordauth.AccountStore, cfg Config, logger *slog.Logger) (*Flow, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider client is required")
	}
	if states == nil {
		return nil, fmt.Errorf("state manager is required")
	}
	if links == nil {
		return nil, fmt.Errorf("link registry is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("guild id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		provider: provider,
		states:   states,
		links:    links,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// SetAuditor attaches a security audit logger.
func (f *Flow) SetAuditor(a *security.Auditor) { f.auditor = a }

// SetMetrics attaches flow metrics.
func (f *Flow) SetMetrics(m *instrumentation.Metrics) { f.metrics = m }

// Begin mints a single-use state token for the purpose and returns the
// provider authorization URL the caller should redirect to.
func (f *Flow) Begin(ctx context.Context, session discordauth.SessionStore, purpose state.Purpose) (string, error) {
	token, err := f.states.Generate(ctx, session, purpose)
	if err != nil {
		return "", fmt.Errorf("begin %s flow: %w", purpose, err)
	}

	scopes := loginScopes
	if purpose == state.PurposeLink {
		scopes = linkScopes
	}

	if f.metrics != nil {
		f.metrics.FlowStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrPurpose, string(purpose)),
		))
	}
	return f.provider.AuthorizationURL(token, scopes), nil
}

// ContinueLogin processes the provider callback for a login attempt. The
// returned error is reserved for context cancellation; every flow-level
// failure is classified in the outcome.
func (f *Flow) ContinueLogin(ctx context.Context, session discordauth.SessionStore, code, suppliedState string) (*Outcome, error) {
	ok, err := f.states.Validate(ctx, session, state.PurposeLogin, suppliedState)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("state validation failed", "error", err)
		ok = false
	}
	if !ok {
		return f.fail(ctx, state.PurposeLogin, discordauth.KindInvalidState, "state token missing, expired, or mismatched", nil), nil
	}
	if code == "" {
		return f.fail(ctx, state.PurposeLogin, discordauth.KindInvalidState, "authorization code missing from callback", nil), nil
	}

	token, err := f.provider.ExchangeCode(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.fail(ctx, state.PurposeLogin, discordauth.KindTokenExchange, "authorization code exchange failed", err), nil
	}

	identity, err := f.provider.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.fail(ctx, state.PurposeLogin, discordauth.KindProfileFetch, "identity profile fetch failed", err), nil
	}

	membership, err := f.provider.FetchMembership(ctx, discord.UserToken(token.AccessToken), f.cfg.GuildID)
	if err != nil {
		if errors.Is(err, discord.ErrNotMember) {
			membership = &discord.Membership{IsMember: false}
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return f.fail(ctx, state.PurposeLogin, discordauth.KindMembershipFetch, "guild membership fetch failed", err), nil
		}
	}

	decision := policy.Evaluate(membership, f.cfg.AllowedRoles)
	if !decision.Allowed {
		kind := discordauth.KindNotAMember
		if decision.Reason == policy.ReasonNoRoleMatch {
			kind = discordauth.KindNoRoleMatch
		}
		if f.auditor != nil {
			f.auditor.LogAccessDenied(identity.ID, string(decision.Reason))
		}
		return f.fail(ctx, state.PurposeLogin, kind, "authorization policy denied access", nil), nil
	}

	// Resolve an existing link before considering account creation.
	link, err := f.links.FindByExternalID(ctx, identity.ID)
	switch {
	case err == nil:
		user, err := f.accounts.FindByID(ctx, link.LocalUserID)
		if err != nil {
			if errors.Is(err, discordauth.ErrAccountNotFound) {
				// The linked account vanished out from under the link.
				// Drop the dangling row so the identity is actually free
				// again, then treat it as unlinked.
				f.logger.Warn("removing link to missing account",
					"local_user_id", link.LocalUserID)
				if err := f.links.Unlink(ctx, link.LocalUserID); err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					return f.fail(ctx, state.PurposeLogin, discordauth.KindCreateFailed, "dangling link removal failed", err), nil
				}
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return f.fail(ctx, state.PurposeLogin, discordauth.KindCreateFailed, "linked account lookup failed", err), nil
		}
		f.succeed(ctx, state.PurposeLogin)
		return &Outcome{Status: StatusAuthenticated, User: user}, nil
	case errors.Is(err, registry.ErrNotFound):
		// First-time sign-in, handled below.
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.fail(ctx, state.PurposeLogin, discordauth.KindCreateFailed, "link lookup failed", err), nil
	}

	if !f.cfg.AutoCreateAccounts {
		return f.fail(ctx, state.PurposeLogin, discordauth.KindNoLinkedAccount, "identity has no linked account and account creation is disabled", nil), nil
	}

	return &Outcome{
		Status: StatusUsernameSelection,
		Pending: &Pending{
			Identity:          *identity,
			Membership:        *membership,
			SuggestedUsername: SuggestUsername(identity),
		},
	}, nil
}

// CompleteUsernameSelection finishes a first-time sign-in: it validates the
// chosen username, creates the local account, and links the identity.
// Rejections over the username keep the pending state resubmittable; any
// failure past account creation is terminal.
func (f *Flow) CompleteUsernameSelection(ctx context.Context, pending *Pending, username string) (*Outcome, error) {
	if pending == nil {
		return nil, fmt.Errorf("no pending sign-in")
	}

	name, reason := validateUsername(username)
	if reason != "" {
		return f.rejectUsername(pending, discordauth.KindInvalidUsername, reason), nil
	}

	_, err := f.accounts.FindByName(ctx, name)
	switch {
	case err == nil:
		return f.rejectUsername(pending, discordauth.KindUsernameTaken, "username is already taken"), nil
	case errors.Is(err, discordauth.ErrAccountNotFound):
		// Available.
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.fail(ctx, state.PurposeLogin, discordauth.KindCreateFailed, "username availability check failed", err), nil
	}

	user, err := f.accounts.Create(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.fail(ctx, state.PurposeLogin, discordauth.KindCreateFailed, "account creation failed", err), nil
	}
	user.Email = pending.Identity.Email

	if outcome := f.link(ctx, state.PurposeLogin, user.ID, &pending.Identity); outcome != nil {
		return outcome, nil
	}

	f.cacheProviderUsername(ctx, user, &pending.Identity)
	f.succeed(ctx, state.PurposeLogin)
	return &Outcome{Status: StatusAuthenticated, User: user, NewAccount: true}, nil
}

// ContinueLink processes the provider callback for an account-linking
// attempt by an already-authenticated local user.
func (f *Flow) ContinueLink(ctx context.Context, session discordauth.SessionStore, localUserID, code, suppliedState string) (*Outcome, error) {
	user, err := f.accounts.FindByID(ctx, localUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve linking user: %w", err)
	}

	ok, err := f.states.Validate(ctx, session, state.PurposeLink, suppliedState)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("state validation failed", "error", err)
		ok = false
	}
	if !ok {
		return f.fail(ctx, state.PurposeLink, discordauth.KindInvalidState, "state token missing, expired, or mismatched", nil), nil
	}
	if code == "" {
		return f.fail(ctx, state.PurposeLink, discordauth.KindInvalidState, "authorization code missing from callback", nil), nil
	}

	token, err := f.provider.ExchangeCode(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.fail(ctx, state.PurposeLink, discordauth.KindTokenExchange, "authorization code exchange failed", err), nil
	}

	identity, err := f.provider.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.fail(ctx, state.PurposeLink, discordauth.KindProfileFetch, "identity profile fetch failed", err), nil
	}

	if outcome := f.link(ctx, state.PurposeLink, user.ID, identity); outcome != nil {
		return outcome, nil
	}

	f.cacheProviderUsername(ctx, user, identity)
	f.succeed(ctx, state.PurposeLink)
	return &Outcome{Status: StatusLinked, User: user}, nil
}

// Unlink removes the identity link for a local user.
func (f *Flow) Unlink(ctx context.Context, localUserID string) error {
	if err := f.links.Unlink(ctx, localUserID); err != nil {
		return fmt.Errorf("unlink %s: %w", localUserID, err)
	}
	if f.auditor != nil {
		f.auditor.LogLinkRemoved(localUserID)
	}
	if f.metrics != nil {
		f.metrics.LinksRemoved.Add(ctx, 1)
	}
	return nil
}

// link writes the identity link and classifies conflicts. A nil return
// means the link was written.
func (f *Flow) link(ctx context.Context, purpose state.Purpose, localUserID string, identity *discord.Identity) *Outcome {
	_, err := f.links.Link(ctx, localUserID, identity)
	if err == nil {
		if f.auditor != nil {
			f.auditor.LogLinkCreated(localUserID, identity.ID)
		}
		if f.metrics != nil {
			f.metrics.LinksCreated.Add(ctx, 1)
		}
		return nil
	}
	if errors.Is(err, registry.ErrAlreadyLinkedElsewhere) {
		if f.auditor != nil {
			f.auditor.LogLinkConflict(localUserID, identity.ID)
		}
		if f.metrics != nil {
			f.metrics.LinkConflicts.Add(ctx, 1)
		}
		return f.fail(ctx, purpose, discordauth.KindLinkConflict, "identity is already linked to a different account", err)
	}
	return f.fail(ctx, purpose, discordauth.KindCreateFailed, "identity link write failed", err)
}

// cacheProviderUsername stores the provider-side username on the account.
// Failures are logged and swallowed: the link itself already succeeded.
func (f *Flow) cacheProviderUsername(ctx context.Context, user *discordauth.User, identity *discord.Identity) {
	if err := f.accounts.SetOption(ctx, user, usernameOption, identity.Username); err != nil {
		f.logger.Warn("caching provider username failed", "local_user_id", user.ID, "error", err)
		return
	}
	if err := f.accounts.Save(ctx, user); err != nil {
		f.logger.Warn("saving account options failed", "local_user_id", user.ID, "error", err)
	}
}

func (f *Flow) rejectUsername(pending *Pending, kind discordauth.FlowErrorKind, reason string) *Outcome {
	return &Outcome{
		Status:  StatusUsernameSelection,
		Pending: pending,
		Failure: discordauth.NewFlowError(kind, reason, nil),
	}
}

func (f *Flow) fail(ctx context.Context, purpose state.Purpose, kind discordauth.FlowErrorKind, message string, cause error) *Outcome {
	f.logger.Warn("flow failed",
		"purpose", purpose,
		"kind", kind,
		"error", cause,
	)
	if f.auditor != nil {
		f.auditor.LogFlowFailure(string(purpose), string(kind))
	}
	if f.metrics != nil {
		f.metrics.FlowCompleted.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrPurpose, string(purpose)),
			attribute.String(instrumentation.AttrOutcome, "failed"),
			attribute.String(instrumentation.AttrFailureKind, string(kind)),
		))
	}
	return &Outcome{
		Status:  StatusFailed,
		Failure: discordauth.NewFlowError(kind, message, cause),
	}
}

func (f *Flow) succeed(ctx context.Context, purpose state.Purpose) {
	if f.metrics != nil {
		f.metrics.FlowCompleted.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrPurpose, string(purpose)),
			attribute.String(instrumentation.AttrOutcome, "success"),
		))
	}
}
