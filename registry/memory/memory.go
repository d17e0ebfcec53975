// Package memory provides an in-memory link registry. It is suitable for
// development, testing, and single-instance deployments.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wikiforge/discordauth/discord"
	"github.com/wikiforge/discordauth/registry"
)

// Store is an in-memory implementation of registry.Registry. The single
// mutex makes the check-and-write in Link atomic, which is what upholds the
// bijective invariant under concurrent linking attempts.
type Store struct {
	mu         sync.RWMutex
	byExternal map[string]*registry.LinkedAccount // external ID -> link
	byUser     map[string]*registry.LinkedAccount // local user ID -> link
	logger     *slog.Logger
}

// Compile-time interface check.
var _ registry.Registry = (*Store)(nil)

// New creates an empty in-memory registry.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		byExternal: make(map[string]*registry.LinkedAccount),
		byUser:     make(map[string]*registry.LinkedAccount),
		logger:     logger,
	}
}

// FindByExternalID resolves the link holding the Discord ID.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*registry.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byExternal[externalID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	copied := *link
	return &copied, nil
}

// FindByUserID resolves the link held by the local account.
func (s *Store) FindByUserID(ctx context.Context, localUserID string) (*registry.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byUser[localUserID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	copied := *link
	return &copied, nil
}

// Link binds identity to localUserID, enforcing the one-to-one invariant.
func (s *Store) Link(ctx context.Context, localUserID string, identity *discord.Identity) (*registry.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byExternal[identity.ID]; ok {
		if existing.LocalUserID != localUserID {
			return nil, registry.ErrAlreadyLinkedElsewhere
		}
		// Same pair: idempotent update of the cached username.
		existing.ExternalUsername = identity.Username
		copied := *existing
		return &copied, nil
	}

	// A user replacing their own link drops the old external ID first.
	if previous, ok := s.byUser[localUserID]; ok {
		delete(s.byExternal, previous.ExternalID)
	}

	link := &registry.LinkedAccount{
		LocalUserID:      localUserID,
		ExternalID:       identity.ID,
		ExternalUsername: identity.Username,
		LinkedAt:         time.Now(),
	}
	s.byExternal[identity.ID] = link
	s.byUser[localUserID] = link

	copied := *link
	return &copied, nil
}

// Unlink removes the local account's link, if any.
func (s *Store) Unlink(ctx context.Context, localUserID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byUser[localUserID]
	if !ok {
		return nil
	}
	delete(s.byUser, localUserID)
	delete(s.byExternal, link.ExternalID)
	return nil
}

// List returns all links ordered by local user ID.
func (s *Store) List(ctx context.Context) ([]registry.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := make([]registry.LinkedAccount, 0, len(s.byUser))
	for _, link := range s.byUser {
		links = append(links, *link)
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].LocalUserID < links[j].LocalUserID
	})
	return links, nil
}
