package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func makeIDToken(payload string) string {
	return "eyJhbGciOiJSUzI1NiJ9." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".c2ln"
}

func TestPreferredUsername(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"valid", makeIDToken(`{"aud":"x","preferred_username":"Streamer"}`), "Streamer", false},
		{"padded payload", "h." + base64.URLEncoding.EncodeToString([]byte(`{"preferred_username":"ab"}`)) + ".s", "ab", false},
		{"single segment", "notajwt", "", true},
		{"empty payload", "a..c", "", true},
		{"bad base64", "a.!!!.c", "", true},
		{"not json", "a." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".c", "", true},
		{"claim missing", makeIDToken(`{"sub":"123"}`), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PreferredUsername(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedIdentity) {
					t.Errorf("PreferredUsername() error = %v, want ErrMalformedIdentity", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PreferredUsername() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PreferredUsername() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCurrentUser(t *testing.T) {
	ctx := context.Background()

	if _, err := CurrentUser(ctx, NewMemoryStore(nil)); !errors.Is(err, ErrNoSession) {
		t.Errorf("empty store: error = %v, want ErrNoSession", err)
	}
	if _, err := CurrentUser(ctx, NewMemoryStore(&Credentials{AccessToken: "a"})); !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("no id token: error = %v, want ErrMissingIdentity", err)
	}
	store := NewMemoryStore(&Credentials{AccessToken: "a", IDToken: makeIDToken(`{"preferred_username":"viewer"}`)})
	got, err := CurrentUser(ctx, store)
	if err != nil || got != "viewer" {
		t.Errorf("CurrentUser() = %q, %v", got, err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	if c, err := s.Load(ctx); c != nil || err != nil {
		t.Fatalf("Load() on empty store = %v, %v", c, err)
	}
	if err := s.Save(ctx, &Credentials{}); err == nil {
		t.Error("Save() of empty credentials should fail")
	}
	if err := s.Save(ctx, &Credentials{AccessToken: "tok"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	c, _ := s.Load(ctx)
	c.AccessToken = "mutated"
	again, _ := s.Load(ctx)
	if again.AccessToken != "tok" {
		t.Error("Load() must return a copy")
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c, _ := s.Load(ctx); c != nil {
		t.Error("Load() after Delete() should be nil")
	}
}
