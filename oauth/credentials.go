// Package oauth holds the user's Twitch credentials: the Credentials type,
// the Store abstraction that persists them, identity resolution from the
// OIDC id_token, and a background refresher that renews the access token
// before it expires.
package oauth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoSession is returned when no credentials are stored.
var ErrNoSession = errors.New("no stored session")

// Credentials are the tokens obtained from the identity provider.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Scope        []string  `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// ExpiresWithin reports whether the access token expires within d. Tokens
// without a known expiry never do.
func (c *Credentials) ExpiresWithin(d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(c.ExpiresAt) <= d
}

// Store persists a single set of credentials. Load returns (nil, nil) when
// nothing is stored.
type Store interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, c *Credentials) error
	Delete(ctx context.Context) error
}

// LoadRequired is Load that turns an empty store into ErrNoSession.
func LoadRequired(ctx context.Context, s Store) (*Credentials, error) {
	c, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil || c.AccessToken == "" {
		return nil, ErrNoSession
	}
	return c, nil
}

// MemoryStore is an in-process Store, used for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewMemoryStore returns a MemoryStore seeded with c, which may be nil.
func NewMemoryStore(c *Credentials) *MemoryStore {
	s := &MemoryStore{}
	if c != nil {
		cp := *c
		s.creds = &cp
	}
	return s
}

func (s *MemoryStore) Load(_ context.Context) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return nil, nil
	}
	cp := *s.creds
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Credentials) error {
	if c == nil || c.AccessToken == "" {
		return errors.New("refusing to save empty credentials")
	}
	cp := *c
	s.mu.Lock()
	s.creds = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()
	return nil
}
