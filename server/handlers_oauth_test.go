package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/banter/oauth"
	"github.com/onnwee/banter/testutil"
	"github.com/onnwee/banter/twitchapi"
)

func newTestOAuth(t *testing.T, mock *testutil.MockTwitchServer) *twitchapi.OAuthClient {
	t.Helper()
	c, err := twitchapi.NewOAuthClient(twitchapi.OAuthConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:8080/auth/twitch/callback",
		Scopes:       twitchapi.ParseScopes("openid chat:read chat:edit"),
		AuthURL:      mock.AuthURL(),
		TokenURL:     mock.TokenURL(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// startLogin hits /auth/twitch/start and returns the state from the redirect.
func startLogin(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := do(t, h, http.MethodGet, "/auth/twitch/start", nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("start status = %d, body=%s", rr.Code, rr.Body.String())
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	st := loc.Query().Get("state")
	if st == "" {
		t.Fatalf("redirect without state: %s", loc)
	}
	return st
}

func TestOAuthNotConfigured(t *testing.T) {
	h := newTestMux(t, newTestDeps())
	if rr := do(t, h, http.MethodGet, "/auth/twitch/start", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("start without oauth = %d", rr.Code)
	}
}

func TestOAuthLoginFlow(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("user-access", "user-refresh", idToken("Viewer"), 14400)

	d := newTestDeps()
	d.Store = oauth.NewMemoryStore(nil)
	d.OAuth = newTestOAuth(t, mock)
	h := newTestMux(t, d)

	st := startLogin(t, h)
	rr := do(t, h, http.MethodGet, "/auth/twitch/callback?code=abc&state="+st, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"username":"Viewer"`) {
		t.Errorf("callback body = %s", rr.Body.String())
	}

	creds, err := d.Store.Load(context.Background())
	if err != nil || creds == nil {
		t.Fatalf("stored credentials = %v, %v", creds, err)
	}
	if creds.AccessToken != "user-access" || creds.RefreshToken != "user-refresh" {
		t.Errorf("stored %+v", creds)
	}

	// A state is single use.
	rr = do(t, h, http.MethodGet, "/auth/twitch/callback?code=abc&state="+st, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("replayed state = %d, want 400", rr.Code)
	}
}

func TestOAuthCallbackRejects(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	d := newTestDeps()
	d.OAuth = newTestOAuth(t, mock)
	h := newTestMux(t, d)

	tests := []struct {
		name  string
		query string
	}{
		{"missing code", "?state=x"},
		{"unknown state", "?code=abc&state=nope"},
		{"provider error", "?error=access_denied&state=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodGet, "/auth/twitch/callback"+tt.query, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestOAuthCallbackWithoutIDToken(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("user-access", "user-refresh", "", 14400)

	d := newTestDeps()
	d.Store = oauth.NewMemoryStore(nil)
	d.OAuth = newTestOAuth(t, mock)
	h := newTestMux(t, d)

	rr := do(t, h, http.MethodGet, "/auth/twitch/callback?code=abc&state="+startLogin(t, h), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rr.Code, rr.Body.String())
	}
	if c, _ := d.Store.Load(context.Background()); c != nil {
		t.Error("credentials without an id_token must not be stored")
	}
}

func TestOAuthExchangeFailure(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenError(http.StatusBadRequest, "Invalid authorization code")

	d := newTestDeps()
	d.OAuth = newTestOAuth(t, mock)
	h := newTestMux(t, d)

	rr := do(t, h, http.MethodGet, "/auth/twitch/callback?code=bad&state="+startLogin(t, h), nil)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
}

func TestLogout(t *testing.T) {
	d := newTestDeps()
	fc := d.Chat.(*fakeChat)
	h := newTestMux(t, d)

	rr := do(t, h, http.MethodPost, "/auth/logout", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rr.Code)
	}
	if fc.disconnects != 1 {
		t.Errorf("logout should disconnect chat, disconnects = %d", fc.disconnects)
	}
	if c, _ := d.Store.Load(context.Background()); c != nil {
		t.Errorf("credentials still stored: %+v", c)
	}
}

func TestOAuthStateStoreLimit(t *testing.T) {
	h := NewHandlers(newTestDeps())
	farFuture := time.Now().Add(time.Hour)
	for i := 0; i < maxOAuthStates; i++ {
		h.stateStore[fmt.Sprintf("state-%d", i)] = farFuture
	}
	if h.addOAuthState("one-more", farFuture) {
		t.Error("addOAuthState should refuse when full")
	}
	if h.consumeOAuthState("missing") {
		t.Error("unknown state accepted")
	}
}
