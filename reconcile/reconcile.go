// Package reconcile re-checks every linked account's guild membership
// against the authorization policy in bulk. A run produces a report of
// accounts that no longer qualify; applying restrictions is a separate,
// explicit Enforce step.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wikiforge/discordauth"
	"github.com/wikiforge/discordauth/discord"
	"github.com/wikiforge/discordauth/instrumentation"
	"github.com/wikiforge/discordauth/policy"
	"github.com/wikiforge/discordauth/registry"
	"github.com/wikiforge/discordauth/security"
)

// MembershipFetcher is the provider call a reconciliation run needs.
type MembershipFetcher interface {
	FetchMembership(ctx context.Context, cred discord.Credential, guildID string) (*discord.Membership, error)
}

// Config carries a run's policy and pacing inputs.
type Config struct {
	// GuildID identifies the guild whose membership is re-checked.
	GuildID string

	// AllowedRoles restricts access to members holding at least one of
	// these role IDs. Empty means membership alone suffices.
	AllowedRoles []string

	// BotToken authenticates the bulk membership lookups. Bot credentials
	// avoid depending on every user's access token still being valid.
	BotToken string

	// RequestsPerSecond caps the provider call rate. Zero applies
	// DefaultRequestsPerSecond.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Zero applies DefaultBurst.
	Burst int

	// Workers bounds concurrent membership lookups. Zero or one runs
	// sequentially.
	Workers int
}

// Default pacing, conservative against Discord's global rate limit.
const (
	DefaultRequestsPerSecond = 5
	DefaultBurst             = 5
)

// Result is the verdict for one linked account.
type Result struct {
	LocalUserID      string
	ExternalID       string
	ExternalUsername string

	// HasAccess reports whether the account still satisfies the policy.
	HasAccess bool

	// Reason explains a negative verdict.
	Reason string

	// Err is set when the membership lookup failed. The verdict is then
	// inconclusive, not actionable.
	Err error

	// AlreadyRestricted reports whether the host already restricts the
	// account. Only populated when an Enforcer is attached.
	AlreadyRestricted bool
}

// Report is the outcome of one reconciliation run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	// Results holds one entry per linked account, in registry order.
	Results []Result

	// Unlinked lists local accounts with no identity link. Populated only
	// when an account store is attached.
	Unlinked []discordauth.User
}

// Actionable returns the results an operator should act on: conclusive
// negative verdicts that are not already restricted.
func (r *Report) Actionable() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err == nil && !res.HasAccess && !res.AlreadyRestricted {
			out = append(out, res)
		}
	}
	return out
}

// Reconciler runs batch membership checks over the link registry.
type Reconciler struct {
	links    registry.Registry
	provider MembershipFetcher
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger

	accounts discordauth.AccountStore
	enforcer discordauth.Enforcer
	auditor  *security.Auditor
	metrics  *instrumentation.Metrics
}

// New creates a reconciler. The account store, enforcer, auditor, and
// metrics are optional and attached via the setters.
func New(links registry.Registry, provider MembershipFetcher, cfg Config, logger *slog.Logger) (*Reconciler, error) {
	if links == nil {
		return nil, fmt.Errorf("link registry is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("membership fetcher is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("guild id is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		links:    links,
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:   logger,
	}, nil
}

// SetAccounts attaches an account store, enabling the unlinked-accounts
// section of the report.
func (r *Reconciler) SetAccounts(s discordauth.AccountStore) { r.accounts = s }

// SetEnforcer attaches the host's restriction mechanism so verdicts can
// note accounts that are already restricted.
func (r *Reconciler) SetEnforcer(e discordauth.Enforcer) { r.enforcer = e }

// SetAuditor attaches a security audit logger.
func (r *Reconciler) SetAuditor(a *security.Auditor) { r.auditor = a }

// SetMetrics attaches reconciliation metrics.
func (r *Reconciler) SetMetrics(m *instrumentation.Metrics) { r.metrics = m }

// Run checks every linked account once and returns the report. Individual
// lookup failures are recorded per account; only context cancellation and
// registry errors abort the run.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}

	links, err := r.links.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	r.logger.Info("reconciliation run started",
		"run_id", report.RunID,
		"linked_accounts", len(links),
		"workers", r.cfg.Workers,
	)

	report.Results = make([]Result, len(links))
	if r.cfg.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Workers)
		for i := range links {
			g.Go(func() error {
				return r.checkOne(gctx, links[i], &report.Results[i])
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range links {
			if err := r.checkOne(ctx, links[i], &report.Results[i]); err != nil {
				return nil, err
			}
		}
	}

	if r.accounts != nil {
		unlinked, err := r.findUnlinked(ctx, links)
		if err != nil {
			return nil, err
		}
		report.Unlinked = unlinked
	}

	report.Duration = time.Since(started)
	r.finishRun(ctx, report)
	return report, nil
}

// checkOne fetches one account's membership and records the verdict.
// Returned errors are context cancellations only.
func (r *Reconciler) checkOne(ctx context.Context, link registry.LinkedAccount, out *Result) error {
	out.LocalUserID = link.LocalUserID
	out.ExternalID = link.ExternalID
	out.ExternalUsername = link.ExternalUsername

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	fetchStart := time.Now()
	membership, err := r.provider.FetchMembership(ctx, discord.BotToken(r.cfg.BotToken, link.ExternalID), r.cfg.GuildID)
	r.recordFetch(ctx, time.Since(fetchStart), err)
	switch {
	case err == nil:
	case errors.Is(err, discord.ErrNotMember):
		membership = &discord.Membership{IsMember: false}
	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("membership lookup failed",
			"local_user_id", link.LocalUserID,
			"error", err,
		)
		out.Err = err
		return nil
	}

	decision := policy.Evaluate(membership, r.cfg.AllowedRoles)
	out.HasAccess = decision.Allowed
	out.Reason = string(decision.Reason)

	if !decision.Allowed && r.enforcer != nil {
		restricted, err := r.enforcer.IsRestricted(ctx, &discordauth.User{ID: link.LocalUserID})
		if err != nil {
			r.logger.Warn("restriction lookup failed",
				"local_user_id", link.LocalUserID,
				"error", err,
			)
		} else {
			out.AlreadyRestricted = restricted
		}
	}
	return nil
}

// Enforce applies the host's restriction mechanism to every actionable
// result in the report. Inconclusive and already-restricted accounts are
// never touched. Requires an attached Enforcer; the first failed restriction
// aborts the pass, returning how many were applied before it.
func (r *Reconciler) Enforce(ctx context.Context, report *Report) (int, error) {
	if r.enforcer == nil {
		return 0, fmt.Errorf("no enforcer attached")
	}

	applied := 0
	for _, res := range report.Actionable() {
		reason := fmt.Sprintf("guild membership check failed: %s", res.Reason)
		if err := r.enforcer.ApplyRestriction(ctx, &discordauth.User{ID: res.LocalUserID}, reason); err != nil {
			return applied, fmt.Errorf("restrict %s: %w", res.LocalUserID, err)
		}
		applied++

		r.logger.Info("restriction applied",
			"run_id", report.RunID,
			"local_user_id", res.LocalUserID,
			"reason", res.Reason,
		)
		if r.auditor != nil {
			r.auditor.LogEvent(security.Event{
				Type:        "restriction_applied",
				LocalUserID: res.LocalUserID,
				ExternalID:  res.ExternalID,
				Details:     map[string]any{"run_id": report.RunID, "reason": res.Reason},
			})
		}
	}
	return applied, nil
}

// findUnlinked lists local accounts that hold no identity link.
func (r *Reconciler) findUnlinked(ctx context.Context, links []registry.LinkedAccount) ([]discordauth.User, error) {
	users, err := r.accounts.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	linked := make(map[string]struct{}, len(links))
	for _, l := range links {
		linked[l.LocalUserID] = struct{}{}
	}

	var unlinked []discordauth.User
	for _, u := range users {
		if _, ok := linked[u.ID]; !ok {
			unlinked = append(unlinked, u)
		}
	}
	return unlinked, nil
}

func (r *Reconciler) recordFetch(ctx context.Context, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(instrumentation.AttrProviderOperation, "fetch membership"),
	)
	r.metrics.ProviderAPICallsTotal.Add(ctx, 1, attrs)
	r.metrics.ProviderAPIDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if err != nil && !errors.Is(err, discord.ErrNotMember) {
		r.metrics.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrProviderOperation, "fetch membership"),
			attribute.String(instrumentation.AttrProviderStatus, statusClass(err)),
		))
	}
}

// statusClass buckets a provider failure for metric attributes.
func statusClass(err error) string {
	if errors.Is(err, discord.ErrTimeout) {
		return "timeout"
	}
	var apiErr *discord.APIError
	if errors.As(err, &apiErr) && apiErr.Status > 0 {
		return fmt.Sprintf("%dxx", apiErr.Status/100)
	}
	return "transport"
}

func (r *Reconciler) finishRun(ctx context.Context, report *Report) {
	actionable := len(report.Actionable())

	r.logger.Info("reconciliation run finished",
		"run_id", report.RunID,
		"checked", len(report.Results),
		"actionable", actionable,
		"unlinked", len(report.Unlinked),
		"duration", report.Duration,
	)
	if r.auditor != nil {
		r.auditor.LogReconciliationRun(report.RunID, len(report.Results), actionable, len(report.Unlinked))
	}
	if r.metrics != nil {
		r.metrics.ReconcileRunsTotal.Add(ctx, 1)
		r.metrics.ReconcileAccountsChecked.Add(ctx, int64(len(report.Results)))
		r.metrics.ReconcileActionable.Add(ctx, int64(actionable), metric.WithAttributes(
			attribute.String(instrumentation.AttrReconcileOutcome, "revoke_recommended"),
		))
		r.metrics.ReconcileRunDuration.Record(ctx, float64(report.Duration.Microseconds())/1000)
	}
}
