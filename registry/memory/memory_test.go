package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/wikiforge/discordauth/discord"
	"github.com/wikiforge/discordauth/registry"
)

func identity(id, username string) *discord.Identity {
	return &discord.Identity{ID: id, Username: username}
}

func TestLinkAndFind(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	link, err := s.Link(ctx, "user-1", identity("ext-1", "alice"))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if link.LinkedAt.IsZero() {
		t.Error("LinkedAt should be set")
	}

	byExt, err := s.FindByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if byExt.LocalUserID != "user-1" || byExt.ExternalUsername != "alice" {
		t.Errorf("unexpected link %+v", byExt)
	}

	byUser, err := s.FindByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("FindByUserID: %v", err)
	}
	if byUser.ExternalID != "ext-1" {
		t.Errorf("ExternalID = %q, want ext-1", byUser.ExternalID)
	}
}

func TestFindNotFound(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.FindByExternalID(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("FindByExternalID error = %v, want ErrNotFound", err)
	}
	if _, err := s.FindByUserID(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("FindByUserID error = %v, want ErrNotFound", err)
	}
}

func TestLinkConflict(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.Link(ctx, "user-1", identity("ext-1", "alice")); err != nil {
		t.Fatalf("Link: %v", err)
	}

	_, err := s.Link(ctx, "user-2", identity("ext-1", "alice"))
	if !errors.Is(err, registry.ErrAlreadyLinkedElsewhere) {
		t.Fatalf("Link error = %v, want ErrAlreadyLinkedElsewhere", err)
	}

	// The existing link is untouched.
	link, err := s.FindByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if link.LocalUserID != "user-1" {
		t.Errorf("LocalUserID = %q, want user-1", link.LocalUserID)
	}
}

func TestRelinkSamePairRefreshesUsername(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	first, err := s.Link(ctx, "user-1", identity("ext-1", "alice"))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	second, err := s.Link(ctx, "user-1", identity("ext-1", "alice_renamed"))
	if err != nil {
		t.Fatalf("re-Link: %v", err)
	}
	if second.ExternalUsername != "alice_renamed" {
		t.Errorf("ExternalUsername = %q, want alice_renamed", second.ExternalUsername)
	}
	if !second.LinkedAt.Equal(first.LinkedAt) {
		t.Errorf("re-link should preserve LinkedAt, got %v want %v", second.LinkedAt, first.LinkedAt)
	}
}

func TestRelinkReplacesOwnIdentity(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.Link(ctx, "user-1", identity("ext-1", "alice")); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := s.Link(ctx, "user-1", identity("ext-2", "alice2")); err != nil {
		t.Fatalf("replacement Link: %v", err)
	}

	// The old identity is free again.
	if _, err := s.FindByExternalID(ctx, "ext-1"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("old identity should be unlinked, got %v", err)
	}
	if _, err := s.Link(ctx, "user-2", identity("ext-1", "bob")); err != nil {
		t.Errorf("old identity should be linkable by another user: %v", err)
	}
}

func TestUnlink(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.Link(ctx, "user-1", identity("ext-1", "alice")); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := s.Unlink(ctx, "user-1"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	if _, err := s.FindByUserID(ctx, "user-1"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("link should be gone, got %v", err)
	}
	if _, err := s.FindByExternalID(ctx, "ext-1"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("external index entry should be gone, got %v", err)
	}

	// Unlinking an unlinked user is a no-op.
	if err := s.Unlink(ctx, "user-1"); err != nil {
		t.Errorf("repeat Unlink: %v", err)
	}
}

func TestListOrder(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	for _, pair := range [][2]string{{"user-3", "ext-3"}, {"user-1", "ext-1"}, {"user-2", "ext-2"}} {
		if _, err := s.Link(ctx, pair[0], identity(pair[1], "u")); err != nil {
			t.Fatalf("Link %s: %v", pair[0], err)
		}
	}

	links, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("len = %d, want 3", len(links))
	}
	for i, want := range []string{"user-1", "user-2", "user-3"} {
		if links[i].LocalUserID != want {
			t.Errorf("links[%d] = %q, want %q", i, links[i].LocalUserID, want)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Link(ctx, "user-1", identity("ext-1", "alice")); !errors.Is(err, context.Canceled) {
		t.Errorf("Link error = %v, want context.Canceled", err)
	}
	if _, err := s.List(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("List error = %v, want context.Canceled", err)
	}
}
