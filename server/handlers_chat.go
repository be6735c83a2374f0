package server

import (
	"net/http"
)

// HandleUser returns the login name of the stored session.
func (h *Handlers) HandleUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Chat.CurrentUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": user})
}

// HandleChatConnect joins {"channel": "..."} and starts the reconnect loop.
func (h *Handlers) HandleChatConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channel string `json:"channel"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.Chat.Connect(r.Context(), body.Channel); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Chat.Snapshot())
}

// HandleChatDisconnect leaves the channel. It succeeds when not connected.
func (h *Handlers) HandleChatDisconnect(w http.ResponseWriter, r *http.Request) {
	h.Chat.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnecting"})
}

// HandleChatSend queues {"text": "..."} for the joined channel.
func (h *Handlers) HandleChatSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.Chat.Send(r.Context(), body.Text); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChatStatus reports the Supervisor state.
func (h *Handlers) HandleChatStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Chat.Snapshot())
}
