package server

import (
	"net/http"
	"strings"
	"time"
)

// HandleBadges resolves ?ids=moderator,subscriber/12 to image URLs. Unknown
// ids are left out of the response.
func (h *Handlers) HandleBadges(w http.ResponseWriter, r *http.Request) {
	if h.Badges == nil {
		http.Error(w, "badges not configured", http.StatusServiceUnavailable)
		return
	}
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	writeJSON(w, http.StatusOK, h.Badges.Resolve(ids))
}

// HandleBadgesReload reloads the cache for {"channel": "..."}, or for the
// joined channel when the body names none.
func (h *Handlers) HandleBadgesReload(w http.ResponseWriter, r *http.Request) {
	if h.Badges == nil || h.Users == nil {
		http.Error(w, "badges not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Channel string `json:"channel"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	login := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(body.Channel)), "#")
	if login == "" {
		login = strings.TrimPrefix(h.Chat.Snapshot().Channel, "#")
	}

	ctx := r.Context()
	var broadcasterID string
	if login != "" {
		id, err := h.Users.GetUserID(ctx, login)
		if err != nil {
			writeError(w, r, err)
			return
		}
		broadcasterID = id
	}
	if err := h.Badges.Load(ctx, broadcasterID); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	bid, at := h.Badges.Loaded()
	writeJSON(w, http.StatusOK, map[string]any{
		"broadcaster_id": bid,
		"badges":         h.Badges.Len(),
		"loaded_at":      at.Format(time.RFC3339),
	})
}
