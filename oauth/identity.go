package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingIdentity means the stored credentials carry no id_token.
	ErrMissingIdentity = errors.New("no id_token in stored session")
	// ErrMalformedIdentity means the id_token could not be decoded or lacks
	// preferred_username.
	ErrMalformedIdentity = errors.New("malformed id_token")
)

// PreferredUsername extracts the preferred_username claim from a compact
// JWT. The signature is not verified: the token came straight from the
// identity provider's token endpoint over TLS.
func PreferredUsername(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("%w: missing payload segment", ErrMalformedIdentity)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	var claims struct {
		PreferredUsername string `json:"preferred_username"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	if claims.PreferredUsername == "" {
		return "", fmt.Errorf("%w: preferred_username not found", ErrMalformedIdentity)
	}
	return claims.PreferredUsername, nil
}

// CurrentUser resolves the login name of the stored session.
func CurrentUser(ctx context.Context, s Store) (string, error) {
	c, err := LoadRequired(ctx, s)
	if err != nil {
		return "", err
	}
	return c.Username()
}

// Username returns the preferred_username carried by the id_token.
func (c *Credentials) Username() (string, error) {
	if c.IDToken == "" {
		return "", ErrMissingIdentity
	}
	return PreferredUsername(c.IDToken)
}
