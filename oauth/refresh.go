package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/banter/telemetry"
)

// RefreshFunc exchanges a refresh token for new credentials.
type RefreshFunc func(ctx context.Context, refreshToken string) (*Credentials, error)

// ErrNoRefreshToken is returned by Refresh when the stored session cannot be renewed.
var ErrNoRefreshToken = errors.New("stored session has no refresh token")

// Refresh renews the stored credentials with fn and saves the result. Fields
// the provider omits on refresh (refresh token, id_token, scope) are carried
// over from the stored session.
func Refresh(ctx context.Context, s Store, fn RefreshFunc) (*Credentials, error) {
	cur, err := LoadRequired(ctx, s)
	if err != nil {
		return nil, err
	}
	if cur.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	next, err := fn(ctx, cur.RefreshToken)
	if err != nil {
		return nil, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = cur.IDToken
	}
	if len(next.Scope) == 0 {
		next.Scope = cur.Scope
	}
	if err := s.Save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// StartRefresher launches a goroutine that periodically checks the stored
// credentials and refreshes them once their remaining lifetime drops to
// window or below.
func StartRefresher(ctx context.Context, s Store, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: scheduling jitter only
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if err := refreshIfDue(ctx, s, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("component", "oauth_refresh"), slog.Any("err", err))
			}
			// ±20% jitter around the interval.
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: scheduling jitter only
			next := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			if next < interval/2 {
				next = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()
}

func refreshIfDue(ctx context.Context, s Store, window time.Duration, fn RefreshFunc) error {
	cur, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if cur == nil || cur.RefreshToken == "" || !cur.ExpiresWithin(window) {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err = telemetry.TimeRefresh(func() error {
		_, err := Refresh(rctx, s, fn)
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("token refreshed", slog.String("component", "oauth_refresh"))
	return nil
}
