package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://wiki.example.com/callback",
		APIBaseURL:   server.URL,
		Endpoint: &oauth2.Endpoint{
			AuthURL:  server.URL + "/oauth2/authorize",
			TokenURL: server.URL + "/oauth2/token",
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing client id", Config{ClientSecret: "s"}},
		{"missing client secret", Config{ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(&tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAuthorizationURL(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	raw := client.AuthorizationURL("state-token", []string{"identify", "guilds.members.read"})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}

	q := u.Query()
	if got := q.Get("client_id"); got != "client-id" {
		t.Errorf("client_id = %q", got)
	}
	if got := q.Get("state"); got != "state-token" {
		t.Errorf("state = %q", got)
	}
	if got := q.Get("response_type"); got != "code" {
		t.Errorf("response_type = %q", got)
	}
	if got := q.Get("scope"); got != "identify guilds.members.read" {
		t.Errorf("scope = %q", got)
	}
	if got := q.Get("redirect_uri"); got != "https://wiki.example.com/callback" {
		t.Errorf("redirect_uri = %q", got)
	}
}

func TestExchangeCode(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.Form.Get("code"); got != "auth-code" {
			t.Errorf("code = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-token","token_type":"Bearer","expires_in":3600}`)
	})

	token, err := client.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if token.AccessToken != "access-token" {
		t.Errorf("AccessToken = %q", token.AccessToken)
	}
}

func TestExchangeCodeRejection(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	_, err := client.ExchangeCode(context.Background(), "bad-code")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", apiErr.Status)
	}
}

func TestFetchProfile(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"100","username":"alice","discriminator":"0","email":"alice@example.com"}`)
	})

	identity, err := client.FetchProfile(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if identity.ID != "100" || identity.Username != "alice" || identity.Email != "alice@example.com" {
		t.Errorf("unexpected identity %+v", identity)
	}
}

func TestFetchProfileMissingID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"username":"alice"}`)
	})

	_, err := client.FetchProfile(context.Background(), "user-token")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
}

func TestFetchMembershipUserToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me/guilds/guild-1/member" {
			t.Errorf("path = %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"roles":["r1","r2"]}`)
	})

	membership, err := client.FetchMembership(context.Background(), UserToken("user-token"), "guild-1")
	if err != nil {
		t.Fatalf("FetchMembership: %v", err)
	}
	if !membership.IsMember {
		t.Error("IsMember = false, want true")
	}
	if len(membership.Roles) != 2 || membership.Roles[0] != "r1" {
		t.Errorf("Roles = %v", membership.Roles)
	}
}

func TestFetchMembershipBotToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/guilds/guild-1/members/100" {
			t.Errorf("path = %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bot bot-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"roles":[]}`)
	})

	membership, err := client.FetchMembership(context.Background(), BotToken("bot-token", "100"), "guild-1")
	if err != nil {
		t.Fatalf("FetchMembership: %v", err)
	}
	if !membership.IsMember {
		t.Error("IsMember = false, want true")
	}
	if len(membership.Roles) != 0 {
		t.Errorf("Roles = %v, want empty", membership.Roles)
	}
}

func TestFetchMembershipNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.FetchMembership(context.Background(), UserToken("user-token"), "guild-1")
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("error = %v, want ErrNotMember", err)
	}
}

func TestFetchMembershipServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchMembership(context.Background(), UserToken("user-token"), "guild-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
	if errors.Is(err, ErrNotMember) {
		t.Error("server error must not read as non-membership")
	}
}

func TestFetchProfileTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchProfile(ctx, "user-token")
	<-started
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Operation: "fetch profile", Status: 429}
	if !strings.Contains(err.Error(), "fetch profile") || !strings.Contains(err.Error(), "429") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
