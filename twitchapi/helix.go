// Package twitchapi talks to Twitch: the OAuth2 code and refresh grants for
// the chat user, an app access token for Helix, user id lookup, and the chat
// badge catalogue.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

const defaultHelixBaseURL = "https://api.twitch.tv/helix"

// ErrUserNotFound is returned by GetUserID for unknown logins.
var ErrUserNotFound = errors.New("user not found")

// HelixClient is a minimal Helix client authenticated with an app token.
type HelixClient struct {
	ClientID   string
	Tokens     oauth2.TokenSource
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	if hc.Tokens == nil {
		return errors.New("helix client has no token source")
	}
	tok, err := hc.Tokens.Token()
	if err != nil {
		return fmt.Errorf("app token: %w", err)
	}
	base := hc.BaseURL
	if base == "" {
		base = defaultHelixBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", ErrUserNotFound
	}
	return body.Data[0].ID, nil
}

// BadgeVersion is one image set of a chat badge.
type BadgeVersion struct {
	ID         string `json:"id"`
	ImageURL1x string `json:"image_url_1x"`
	ImageURL2x string `json:"image_url_2x"`
	ImageURL4x string `json:"image_url_4x"`
}

// BadgeSet groups the versions of a badge, e.g. subscriber months.
type BadgeSet struct {
	SetID    string         `json:"set_id"`
	Versions []BadgeVersion `json:"versions"`
}

// GlobalBadges lists the badges available in every channel.
func (hc *HelixClient) GlobalBadges(ctx context.Context) ([]BadgeSet, error) {
	var body struct {
		Data []BadgeSet `json:"data"`
	}
	if err := hc.get(ctx, "/chat/badges/global", nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ChannelBadges lists the badges specific to a broadcaster.
func (hc *HelixClient) ChannelBadges(ctx context.Context, broadcasterID string) ([]BadgeSet, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	var body struct {
		Data []BadgeSet `json:"data"`
	}
	if err := hc.get(ctx, "/chat/badges", url.Values{"broadcaster_id": {broadcasterID}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
