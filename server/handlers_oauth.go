package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusServiceUnavailable)
		return
	}
	st := uuid.NewString()
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending logins", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, h.OAuth.AuthorizeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the credentials.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		http.Error(w, "oauth not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	creds, err := h.OAuth.Exchange(ctx, code)
	if err != nil {
		slog.Error("twitch code exchange failed", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	// Without a usable id_token chat cannot log in, so refuse to store it.
	username, err := creds.Username()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Store.Save(ctx, creds); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("twitch login stored", slog.String("user", username))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "username": username, "scopes": creds.Scope})
}

// HandleLogout leaves chat and deletes the stored credentials.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.Chat.Disconnect()
	if err := h.Store.Delete(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
