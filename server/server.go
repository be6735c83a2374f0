// Package server exposes the HTTP API the chat front end talks to: chat
// commands, the live event stream, the Twitch login flow, badge lookups,
// health and metrics. It injects correlation IDs into request contexts for
// consistent logging and applies CORS and optional bearer-token auth.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/banter/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, d Deps) http.Handler {
	h := NewHandlers(d)
	limiter := newIPRateLimiter(rateLimiterConfig{requestsPerIP: d.AuthRateLimit, window: d.AuthRateWindow})
	go limiter.run(ctx)
	limited := func(fn http.HandlerFunc) http.Handler { return rateLimitMiddleware(fn, limiter) }
	auth := &authConfig{token: d.APIToken}
	if auth.token == "" {
		slog.Warn("API_TOKEN not configured - chat command endpoints are UNPROTECTED")
	}
	protect := func(fn http.HandlerFunc) http.Handler { return apiAuth(fn, auth) }

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)

	mux.Handle("GET /auth/twitch/start", limited(h.HandleTwitchOAuthStart))
	mux.Handle("GET /auth/twitch/callback", limited(h.HandleTwitchOAuthCallback))
	mux.Handle("POST /auth/logout", protect(h.HandleLogout))

	mux.Handle("GET /user", protect(h.HandleUser))
	mux.Handle("POST /chat/connect", protect(h.HandleChatConnect))
	mux.Handle("POST /chat/disconnect", protect(h.HandleChatDisconnect))
	mux.Handle("POST /chat/send", protect(h.HandleChatSend))
	mux.Handle("GET /chat/status", protect(h.HandleChatStatus))
	mux.Handle("GET /chat/events", protect(h.HandleChatEvents))

	mux.HandleFunc("GET /badges", h.HandleBadges)
	mux.Handle("POST /badges/reload", protect(h.HandleBadgesReload))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.statusCode))
		if rec.statusCode >= 400 {
			telemetry.RecordError(span, fmt.Errorf("HTTP %d", rec.statusCode))
		} else {
			telemetry.SetSpanSuccess(span)
		}
	})
	return withCORSConfig(handler, newCORSConfig(d.CORSAllowedOrigins))
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: /chat/events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
		// Request contexts end with ctx so open event streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
