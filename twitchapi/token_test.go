package twitchapi

import (
	"testing"

	"github.com/onnwee/banter/testutil"
)

func TestAppTokenSource_Cached(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token-123", "", "", 3600)

	ts, err := NewAppTokenSource("test-client", "test-secret", mock.TokenURL(), nil)
	if err != nil {
		t.Fatalf("NewAppTokenSource() error = %v", err)
	}

	tok1, err := ts.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok1.AccessToken != "app-token-123" {
		t.Errorf("Token() = %s, want app-token-123", tok1.AccessToken)
	}
	tok2, err := ts.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok2.AccessToken != tok1.AccessToken {
		t.Errorf("cached token = %s, want %s", tok2.AccessToken, tok1.AccessToken)
	}

	reqs := mock.TokenRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 token request (cached), got %d", len(reqs))
	}
	if reqs[0].Get("grant_type") != "client_credentials" {
		t.Errorf("grant_type = %s", reqs[0].Get("grant_type"))
	}
}

func TestAppTokenSource_MissingCredentials(t *testing.T) {
	if _, err := NewAppTokenSource("", "secret", "", nil); err == nil {
		t.Error("NewAppTokenSource() without client id should fail")
	}
	if _, err := NewAppTokenSource("id", "", "", nil); err == nil {
		t.Error("NewAppTokenSource() without secret should fail")
	}
}
