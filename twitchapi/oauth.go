package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"github.com/onnwee/banter/oauth"
)

// idTokenClaims asks the identity provider to include preferred_username in
// the id_token, which the chat handshake uses as NICK.
const idTokenClaims = `{"id_token":{"preferred_username":null}}`

// OAuthConfig describes the registered application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// AuthURL and TokenURL override the production endpoints (tests).
	AuthURL  string
	TokenURL string
}

// OAuthClient runs the authorization-code and refresh-token grants.
type OAuthClient struct {
	cfg        oauth2.Config
	HTTPClient *http.Client
}

// NewOAuthClient validates c and returns a client for it.
func NewOAuthClient(c OAuthConfig) (*OAuthClient, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return nil, errors.New("missing clientID or redirectURI")
	}
	ep := twitch.Endpoint
	ep.AuthStyle = oauth2.AuthStyleInParams
	if c.AuthURL != "" {
		ep.AuthURL = c.AuthURL
	}
	if c.TokenURL != "" {
		ep.TokenURL = c.TokenURL
	}
	return &OAuthClient{cfg: oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint:     ep,
	}}, nil
}

// ParseScopes accepts space or comma separated scopes.
func ParseScopes(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}

// AuthorizeURL builds the user authorization URL for the code grant.
func (c *OAuthClient) AuthorizeURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("claims", idTokenClaims))
}

func (c *OAuthClient) ctx(ctx context.Context) context.Context {
	if c.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}
	return ctx
}

// Exchange trades an authorization code for credentials, including the
// id_token when the openid scope was granted.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*oauth.Credentials, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	if c.cfg.ClientSecret == "" {
		return nil, errors.New("missing client secret for auth code exchange")
	}
	tok, err := c.cfg.Exchange(c.ctx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	return credentialsFromToken(tok), nil
}

// Refresh trades a refresh token for new credentials. It satisfies
// oauth.RefreshFunc.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*oauth.Credentials, error) {
	if refreshToken == "" || c.cfg.ClientSecret == "" {
		return nil, errors.New("missing clientSecret/refreshToken")
	}
	src := c.cfg.TokenSource(c.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	return credentialsFromToken(tok), nil
}

func credentialsFromToken(tok *oauth2.Token) *oauth.Credentials {
	c := &oauth.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = ComputeExpiry(0)
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		c.IDToken = id
	}
	// Twitch returns scope as a JSON array.
	switch v := tok.Extra("scope").(type) {
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				c.Scope = append(c.Scope, str)
			}
		}
	case string:
		c.Scope = strings.Fields(v)
	}
	return c
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
