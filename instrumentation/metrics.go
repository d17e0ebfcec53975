package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Attribute keys for metrics and spans. Never attach actual credential
// values (access tokens, authorization codes, bot tokens) to observability
// data; only metadata such as purpose, outcome, and operation names.
const (
	AttrPurpose           = "auth.purpose"        // login or link
	AttrOutcome           = "auth.outcome"        // terminal flow outcome
	AttrFailureKind       = "auth.failure_kind"   // FlowError kind on failure
	AttrProviderOperation = "provider.operation"  // Discord API operation
	AttrProviderStatus    = "provider.status"     // failure class: 4xx, 5xx, timeout, transport
	AttrReconcileOutcome  = "reconcile.outcome"   // per-account verdict
)

// Metrics holds all metric instruments for the library.
type Metrics struct {
	// Flow metrics
	FlowStarted   metric.Int64Counter
	FlowCompleted metric.Int64Counter

	// Provider metrics
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIErrors     metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram

	// Link registry metrics
	LinksCreated  metric.Int64Counter
	LinksRemoved  metric.Int64Counter
	LinkConflicts metric.Int64Counter

	// Reconciliation metrics
	ReconcileRunsTotal       metric.Int64Counter
	ReconcileAccountsChecked metric.Int64Counter
	ReconcileActionable      metric.Int64Counter
	ReconcileRunDuration     metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	flowMeter := inst.Meter("flow")
	providerMeter := inst.Meter("discord")
	reconcileMeter := inst.Meter("reconcile")

	var err error
	m.FlowStarted, err = flowMeter.Int64Counter(
		"discordauth.flow.started",
		metric.WithDescription("Number of authentication flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.started counter: %w", err)
	}

	m.FlowCompleted, err = flowMeter.Int64Counter(
		"discordauth.flow.completed",
		metric.WithDescription("Number of flows reaching a terminal outcome"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.completed counter: %w", err)
	}

	m.ProviderAPICallsTotal, err = providerMeter.Int64Counter(
		"discordauth.provider.api.calls",
		metric.WithDescription("Total Discord API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.calls counter: %w", err)
	}

	m.ProviderAPIErrors, err = providerMeter.Int64Counter(
		"discordauth.provider.api.errors",
		metric.WithDescription("Discord API calls that failed"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.errors counter: %w", err)
	}

	m.ProviderAPIDuration, err = providerMeter.Float64Histogram(
		"discordauth.provider.api.duration",
		metric.WithDescription("Discord API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.LinksCreated, err = flowMeter.Int64Counter(
		"discordauth.links.created",
		metric.WithDescription("Identity links created or refreshed"),
		metric.WithUnit("{link}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create links.created counter: %w", err)
	}

	m.LinksRemoved, err = flowMeter.Int64Counter(
		"discordauth.links.removed",
		metric.WithDescription("Identity links removed"),
		metric.WithUnit("{link}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create links.removed counter: %w", err)
	}

	m.LinkConflicts, err = flowMeter.Int64Counter(
		"discordauth.links.conflicts",
		metric.WithDescription("Link attempts rejected because the identity is bound elsewhere"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create links.conflicts counter: %w", err)
	}

	m.ReconcileRunsTotal, err = reconcileMeter.Int64Counter(
		"discordauth.reconcile.runs",
		metric.WithDescription("Reconciliation batches executed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile.runs counter: %w", err)
	}

	m.ReconcileAccountsChecked, err = reconcileMeter.Int64Counter(
		"discordauth.reconcile.accounts.checked",
		metric.WithDescription("Linked accounts audited during reconciliation"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile.accounts.checked counter: %w", err)
	}

	m.ReconcileActionable, err = reconcileMeter.Int64Counter(
		"discordauth.reconcile.accounts.actionable",
		metric.WithDescription("Accounts failing policy and not yet enforced"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile.accounts.actionable counter: %w", err)
	}

	m.ReconcileRunDuration, err = reconcileMeter.Float64Histogram(
		"discordauth.reconcile.run.duration",
		metric.WithDescription("Reconciliation batch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile.run.duration histogram: %w", err)
	}

	return m, nil
}
