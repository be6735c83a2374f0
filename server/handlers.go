package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/banter/chat"
	"github.com/onnwee/banter/oauth"
	"github.com/onnwee/banter/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// ChatService is the command surface of chat.Supervisor.
type ChatService interface {
	Connect(ctx context.Context, channel string) error
	Disconnect()
	Send(ctx context.Context, text string) error
	CurrentUser(ctx context.Context) (string, error)
	Snapshot() chat.Snapshot
}

// Authorizer runs the Twitch authorization-code flow.
type Authorizer interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Credentials, error)
}

// UserLookup resolves a channel login to a broadcaster id.
type UserLookup interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators the handlers use. OAuth, Badges, Users and DB
// may be nil when the corresponding feature is not configured.
type Deps struct {
	Chat   ChatService
	Store  oauth.Store
	Events *Broker
	OAuth  Authorizer
	Badges *twitchapi.BadgeCache
	Users  UserLookup
	DB     Pinger

	APIToken           string
	CORSAllowedOrigins []string
	AuthRateLimit      int
	AuthRateWindow     time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	if d.Events == nil {
		d.Events = NewBroker(0)
	}
	return &Handlers{Deps: d, stateStore: make(map[string]time.Time)}
}

// addOAuthState records state until it expires. It reports false when the
// store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		now := time.Now()
		for s, exp := range h.stateStore {
			if now.After(exp) {
				delete(h.stateStore, s)
			}
		}
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was valid.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// statusFor maps caller-facing errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrAlreadyConnected), errors.Is(err, chat.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, chat.ErrNoSession), errors.Is(err, chat.ErrMissingIdentity), errors.Is(err, chat.ErrMalformedIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrInvalidChannel), errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrOutboundFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, twitchapi.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as {"error": "..."} with the mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody reads a small JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
