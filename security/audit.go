// Package security provides the audit log for authentication, linking, and
// reconciliation events. Sensitive identifiers are hashed before logging.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type        string
	LocalUserID string
	ExternalID  string
	Details     map[string]any
	Timestamp   time.Time
}

// LogEvent logs a security event with hashed identifiers.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_id", uuid.NewString(),
		"event_type", event.Type,
		"local_user_id", event.LocalUserID,
		"external_id_hash", hashForLogging(event.ExternalID),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogFlowFailure logs a terminal authentication-flow failure.
func (a *Auditor) LogFlowFailure(purpose, reason string) {
	a.LogEvent(Event{
		Type: "flow_failure",
		Details: map[string]any{
			"purpose": purpose,
			"reason":  reason,
		},
	})
}

// LogAccessDenied logs a policy denial during login.
func (a *Auditor) LogAccessDenied(externalID, reason string) {
	a.LogEvent(Event{
		Type:       "access_denied",
		ExternalID: externalID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogLinkCreated logs a new or refreshed identity link.
func (a *Auditor) LogLinkCreated(localUserID, externalID string) {
	a.LogEvent(Event{
		Type:        "link_created",
		LocalUserID: localUserID,
		ExternalID:  externalID,
	})
}

// LogLinkRemoved logs an unlink.
func (a *Auditor) LogLinkRemoved(localUserID string) {
	a.LogEvent(Event{
		Type:        "link_removed",
		LocalUserID: localUserID,
	})
}

// LogLinkConflict logs an attempt to bind an identity already held by a
// different local account.
func (a *Auditor) LogLinkConflict(localUserID, externalID string) {
	a.LogEvent(Event{
		Type:        "link_conflict",
		LocalUserID: localUserID,
		ExternalID:  externalID,
	})
}

// LogReconciliationRun logs a completed reconciliation batch.
func (a *Auditor) LogReconciliationRun(runID string, checked, actionable, unlinked int) {
	a.LogEvent(Event{
		Type: "reconciliation_run",
		Details: map[string]any{
			"run_id":     runID,
			"checked":    checked,
			"actionable": actionable,
			"unlinked":   unlinked,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
