package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/wikiforge/discordauth"
)

// VerifiedGroup is the local user group mirroring a conclusive positive
// verdict.
const VerifiedGroup = "discord-verified"

// Verifier projects reconciliation verdicts onto the host's group store:
// accounts that still qualify carry VerifiedGroup, accounts that
// conclusively do not are taken out of it.
type Verifier struct {
	groups   discordauth.GroupStore
	accounts discordauth.AccountStore
	logger   *slog.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(groups discordauth.GroupStore, accounts discordauth.AccountStore, logger *slog.Logger) (*Verifier, error) {
	if groups == nil {
		return nil, fmt.Errorf("group store is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{groups: groups, accounts: accounts, logger: logger}, nil
}

// Apply syncs VerifiedGroup membership with a run's verdicts. Inconclusive
// results leave the group untouched. Unlinked accounts lose the group. The
// first account whose sync fails aborts the pass.
func (v *Verifier) Apply(ctx context.Context, report *Report) error {
	for _, res := range report.Results {
		if res.Err != nil {
			continue
		}
		if err := v.setVerified(ctx, res.LocalUserID, res.HasAccess); err != nil {
			return err
		}
	}
	for _, u := range report.Unlinked {
		if err := v.setVerified(ctx, u.ID, false); err != nil {
			return err
		}
	}
	return nil
}

// MarkVerified places the account in VerifiedGroup.
func (v *Verifier) MarkVerified(ctx context.Context, localUserID string) error {
	return v.setVerified(ctx, localUserID, true)
}

// MarkUnverified removes the account from VerifiedGroup.
func (v *Verifier) MarkUnverified(ctx context.Context, localUserID string) error {
	return v.setVerified(ctx, localUserID, false)
}

func (v *Verifier) setVerified(ctx context.Context, localUserID string, verified bool) error {
	user, err := v.accounts.FindByID(ctx, localUserID)
	if err != nil {
		return fmt.Errorf("resolve account %s: %w", localUserID, err)
	}

	groups, err := v.groups.GroupsOf(ctx, user)
	if err != nil {
		return fmt.Errorf("list groups of %s: %w", localUserID, err)
	}
	inGroup := slices.Contains(groups, VerifiedGroup)

	switch {
	case verified && !inGroup:
		if err := v.groups.AddToGroup(ctx, user, VerifiedGroup); err != nil {
			return fmt.Errorf("add %s to %s: %w", localUserID, VerifiedGroup, err)
		}
		v.logger.Info("account verified", "local_user_id", localUserID)
	case !verified && inGroup:
		if err := v.groups.RemoveFromGroup(ctx, user, VerifiedGroup); err != nil {
			return fmt.Errorf("remove %s from %s: %w", localUserID, VerifiedGroup, err)
		}
		v.logger.Info("account verification removed", "local_user_id", localUserID)
	}
	return nil
}
