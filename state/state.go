// Package state issues and validates single-use CSRF state tokens for the
// OAuth redirect boundary. Tokens are purpose-scoped: a token minted for
// login cannot validate a link callback, and vice versa.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/wikiforge/discordauth"
)

// Purpose namespaces a state token. Distinct purposes use disjoint session
// slots, preventing cross-purpose replay.
type Purpose string

const (
	// PurposeLogin is a token minted for the login flow.
	PurposeLogin Purpose = "login"

	// PurposeLink is a token minted for the account-linking flow.
	PurposeLink Purpose = "link"
)

// Session keys per purpose. The names match what the reference deployment
// stored, so sessions survive a rollout.
const (
	loginSessionKey = "discord_auth_state"
	linkSessionKey  = "discord_link_state"
)

// DefaultTTL is how long a minted state token stays valid.
const DefaultTTL = 10 * time.Minute

// storedState is the persisted form of a minted token. Only the bcrypt hash
// is stored; the raw token exists solely in the redirect round-trip.
type storedState struct {
	Hash      []byte    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager mints and single-use-validates CSRF state tokens. The caller's
// session store is passed per call: the manager itself is long-lived while
// sessions are bound to individual requests.
type Manager struct {
	ttl    time.Duration
	logger *slog.Logger
}

// NewManager creates a state manager.
func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ttl: ttl, logger: logger}
}

// Generate mints a cryptographically random state token for the given
// purpose and stores its hash in the session. The raw token is returned to
// be carried through the provider redirect.
func (m *Manager) Generate(ctx context.Context, session discordauth.SessionStore, purpose Purpose) (string, error) {
	token := oauth2.GenerateVerifier()

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash state token: %w", err)
	}

	stored, err := json.Marshal(storedState{Hash: hash, CreatedAt: time.Now()})
	if err != nil {
		return "", fmt.Errorf("encode state token: %w", err)
	}

	if err := session.Set(ctx, sessionKey(purpose), string(stored)); err != nil {
		return "", fmt.Errorf("persist state token: %w", err)
	}
	return token, nil
}

// Validate checks a supplied token against the stored slot for the purpose.
// The slot is removed before the outcome is reported, regardless of success,
// so a token can never validate twice. The comparison is constant-time by
// construction (bcrypt digest comparison).
func (m *Manager) Validate(ctx context.Context, session discordauth.SessionStore, purpose Purpose, supplied string) (bool, error) {
	key := sessionKey(purpose)

	raw, present, err := session.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read state token: %w", err)
	}
	if !present {
		return false, nil
	}

	// Single use: consume the slot before any comparison result escapes.
	if err := session.Remove(ctx, key); err != nil {
		return false, fmt.Errorf("consume state token: %w", err)
	}

	if supplied == "" {
		return false, nil
	}

	var stored storedState
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		m.logger.Warn("discarding malformed state slot", "purpose", purpose)
		return false, nil
	}

	if time.Since(stored.CreatedAt) > m.ttl {
		return false, nil
	}

	return bcrypt.CompareHashAndPassword(stored.Hash, []byte(supplied)) == nil, nil
}

func sessionKey(purpose Purpose) string {
	if purpose == PurposeLink {
		return linkSessionKey
	}
	return loginSessionKey
}
