package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks the Twitch Helix API and
// the id.twitch.tv token endpoint.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu         sync.Mutex
	tokenForms []url.Values
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to configure a HelixClient with.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the mocked OAuth token endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// AuthURL is the mocked authorize endpoint.
func (m *MockTwitchServer) AuthURL() string { return m.URL + "/oauth2/authorize" }

// TokenRequests returns the form bodies posted to the token endpoint so far.
func (m *MockTwitchServer) TokenRequests() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.tokenForms...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("login") != login {
			writeJSON(w, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, map[string]any{
			"data": []map[string]string{{"id": userID, "login": login}},
		})
	}
}

// MockBadge is one badge version served by the badge endpoints.
type MockBadge struct {
	SetID, Version, URL1x, URL2x string
}

func badgeBody(badges []MockBadge) map[string]any {
	sets := map[string][]map[string]string{}
	var order []string
	for _, b := range badges {
		if _, ok := sets[b.SetID]; !ok {
			order = append(order, b.SetID)
		}
		sets[b.SetID] = append(sets[b.SetID], map[string]string{
			"id": b.Version, "image_url_1x": b.URL1x, "image_url_2x": b.URL2x,
		})
	}
	data := make([]map[string]any, 0, len(order))
	for _, id := range order {
		data = append(data, map[string]any{"set_id": id, "versions": sets[id]})
	}
	return map[string]any{"data": data}
}

// MockGlobalBadges adds a handler for /helix/chat/badges/global.
func (m *MockTwitchServer) MockGlobalBadges(badges []MockBadge) {
	m.Handlers["/helix/chat/badges/global"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, badgeBody(badges))
	}
}

// MockChannelBadges adds a handler for /helix/chat/badges for one broadcaster.
func (m *MockTwitchServer) MockChannelBadges(broadcasterID string, badges []MockBadge) {
	m.Handlers["/helix/chat/badges"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broadcaster_id") != broadcasterID {
			http.Error(w, `{"error":"Bad Request"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, badgeBody(badges))
	}
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint. It
// answers every grant with the given tokens; idToken and refreshToken are
// omitted from the response when empty.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken, idToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.tokenForms = append(m.tokenForms, r.PostForm)
		m.mu.Unlock()

		resp := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
			"scope":        []string{"openid", "chat:read", "chat:edit"},
		}
		if refreshToken != "" {
			resp["refresh_token"] = refreshToken
		}
		if idToken != "" {
			resp["id_token"] = idToken
		}
		writeJSON(w, resp)
	}
}

// MockOAuthTokenError makes the token endpoint reject every grant.
func (m *MockTwitchServer) MockOAuthTokenError(status int, message string) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "message": message}) //nolint:errcheck // test mock response
	}
}
