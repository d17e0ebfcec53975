package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Discord API endpoints. The REST base is versioned; the OAuth endpoints are
// the ones Discord documents for the authorization-code grant.
const (
	defaultAPIBaseURL = "https://discord.com/api/v10"
	defaultAuthURL    = "https://discord.com/api/oauth2/authorize"
	defaultTokenURL   = "https://discord.com/api/oauth2/token"

	// DefaultRequestTimeout bounds every outbound Discord API call.
	DefaultRequestTimeout = 10 * time.Second
)

// Identity is an immutable snapshot of a Discord user's profile, fetched
// fresh per flow run and never persisted beyond what the link registry keeps.
type Identity struct {
	// ID is the Discord snowflake identifier.
	ID string

	// Username is the Discord username.
	Username string

	// Discriminator is the legacy four-digit tag. Discord reports "0" for
	// accounts migrated to unique usernames.
	Discriminator string

	// Email is the account email, present only with the email scope.
	Email string
}

// Membership describes a user's standing in a guild at the moment of the
// lookup. It is ephemeral and fetched fresh on each check.
type Membership struct {
	// Roles are the role IDs the user holds in the guild.
	Roles []string

	// IsMember reports whether the user belongs to the guild at all.
	IsMember bool
}

// Credential selects the trust mode for a membership lookup. The two modes
// share response shape but differ in endpoint and authority, so the variant
// is tagged rather than duplicating near-identical request logic.
type Credential struct {
	kind      credentialKind
	token     string
	subjectID string
}

type credentialKind int

const (
	credentialUser credentialKind = iota
	credentialBot
)

// SubjectID returns the Discord user ID a bot credential targets. Empty for
// user-token credentials, which always query the token's own user.
func (c Credential) SubjectID() string {
	return c.subjectID
}

// UserToken is a bearer access token querying the authenticated user's own
// membership. Requires the guilds.members.read scope.
func UserToken(accessToken string) Credential {
	return Credential{kind: credentialUser, token: accessToken}
}

// BotToken is a privileged bot credential querying an arbitrary member by
// Discord user ID. Used only by the reconciliation engine.
func BotToken(botToken, subjectID string) Credential {
	return Credential{kind: credentialBot, token: botToken, subjectID: subjectID}
}

// Config holds Discord application credentials and client settings.
type Config struct {
	// ClientID is the Discord application client ID (required).
	ClientID string

	// ClientSecret is the Discord application client secret (required).
	ClientSecret string

	// RedirectURL is the OAuth callback URL. Required for the
	// authorization flows, unused for bot-token membership lookups.
	RedirectURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout bounds each Discord API call (default: 10s).
	RequestTimeout time.Duration

	// APIBaseURL overrides the Discord REST base URL. Used in tests.
	APIBaseURL string

	// Endpoint overrides the OAuth2 endpoint pair. Used in tests.
	Endpoint *oauth2.Endpoint
}

// Client calls the Discord OAuth2 and REST APIs. All calls are time-bounded
// and translate transport failures into typed errors.
type Client struct {
	oauth          *oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
	apiBaseURL     string
}

// NewClient creates a Discord API client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	endpoint := oauth2.Endpoint{AuthURL: defaultAuthURL, TokenURL: defaultTokenURL}
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
		},
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
		apiBaseURL:     apiBaseURL,
	}, nil
}

// AuthorizationURL builds the provider authorization URL for the given CSRF
// state and scope set. Parameters: client_id, redirect_uri,
// response_type=code, scope, state.
func (c *Client) AuthorizationURL(state string, scopes []string) string {
	cfg := *c.oauth
	cfg.Scopes = make([]string, len(scopes))
	copy(cfg.Scopes, scopes)
	return cfg.AuthCodeURL(state)
}

// ensureContextTimeout ensures the context has a deadline, adding one if
// needed. If the context already carries a deadline, the caller's bound wins.
func (c *Client) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// ExchangeCode exchanges an authorization code for an access token. The POST
// carries client_id, client_secret, grant_type=authorization_code, code, and
// redirect_uri. Authorization codes are single-use, so a failed exchange is
// never retried.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, translateError("exchange code", err)
	}
	return token, nil
}

// FetchProfile fetches the authenticated user's profile with a bearer user
// token.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*Identity, error) {
	var profile struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
		Email         string `json:"email"`
	}
	err := c.getJSON(ctx, "fetch profile", c.apiBaseURL+"/users/@me", "Bearer "+accessToken, &profile)
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, &APIError{Operation: "fetch profile", Err: fmt.Errorf("response missing user id")}
	}
	return &Identity{
		ID:            profile.ID,
		Username:      profile.Username,
		Discriminator: profile.Discriminator,
		Email:         profile.Email,
	}, nil
}

// FetchMembership fetches guild membership in the trust mode selected by
// cred. Returns ErrNotMember when the subject does not belong to the guild.
func (c *Client) FetchMembership(ctx context.Context, cred Credential, guildID string) (*Membership, error) {
	var endpoint, authorization string
	switch cred.kind {
	case credentialBot:
		endpoint = fmt.Sprintf("%s/guilds/%s/members/%s", c.apiBaseURL, guildID, cred.subjectID)
		authorization = "Bot " + cred.token
	default:
		endpoint = fmt.Sprintf("%s/users/@me/guilds/%s/member", c.apiBaseURL, guildID)
		authorization = "Bearer " + cred.token
	}

	var member struct {
		Roles []string `json:"roles"`
	}
	if err := c.getJSON(ctx, "fetch membership", endpoint, authorization, &member); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrNotMember
		}
		return nil, err
	}

	return &Membership{Roles: member.Roles, IsMember: true}, nil
}

// getJSON performs an authorized GET and decodes the JSON response body.
func (c *Client) getJSON(ctx context.Context, operation, url, authorization string, out any) error {
	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &APIError{Operation: operation, Err: err}
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return translateError(operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Operation: operation, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Operation: operation, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// translateError converts transport faults into the package's typed errors.
// Deadline overruns become ErrTimeout so callers can tell a slow provider
// from a broken one.
func translateError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, ErrTimeout)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &APIError{Operation: operation, Status: retrieveErr.Response.StatusCode, Err: err}
	}
	return &APIError{Operation: operation, Err: err}
}
