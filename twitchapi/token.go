package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/twitch"
)

// NewAppTokenSource returns a cached Twitch app access (client credentials)
// token source, refreshed one minute before expiry. tokenURL and hc may be
// empty/nil for production.
//
// NOTE: an app token cannot be used for chat; chat requires the user's token.
func NewAppTokenSource(clientID, clientSecret, tokenURL string, hc *http.Client) (oauth2.TokenSource, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("missing client id/secret for twitch app token")
	}
	if tokenURL == "" {
		tokenURL = twitch.Endpoint.TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.Background()
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), 60*time.Second), nil
}
