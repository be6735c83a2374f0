package irc

import (
	"strconv"
	"strings"
	"time"
)

// UnknownUser is the username used for PRIVMSG lines without a prefix.
const UnknownUser = "?"

// ChatMessage is a PRIVMSG line prepared for display. Optional fields are
// nil when the corresponding tag is missing or empty.
type ChatMessage struct {
	Channel     string   `json:"channel"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Text        string   `json:"text"`
	Color       *string  `json:"color"`
	Badges      []string `json:"badges"`
	Emotes      *string  `json:"emotes"`
	ID          *string  `json:"id"`
	Timestamp   *string  `json:"ts"`
}

// ParseMessage builds a ChatMessage from the pieces of a PRIVMSG line. It
// reports false for any other command and for params lacking the " :"
// separator between channel and text.
func ParseMessage(prefix, command, params string, tags Tags) (ChatMessage, bool) {
	if command != "PRIVMSG" {
		return ChatMessage{}, false
	}
	sep := strings.Index(params, " :")
	if sep < 0 {
		return ChatMessage{}, false
	}

	username := UnknownUser
	if prefix != "" {
		username = Nick(prefix)
	}

	m := ChatMessage{
		Channel:     strings.TrimSpace(params[:sep]),
		Username:    username,
		DisplayName: username,
		Text:        params[sep+2:],
		Color:       optionalTag(tags, "color"),
		Badges:      badgeNames(tags["badges"]),
		Emotes:      optionalTag(tags, "emotes"),
		ID:          optionalTag(tags, "id"),
		Timestamp:   optionalTag(tags, "tmi-sent-ts"),
	}
	if dn := optionalTag(tags, "display-name"); dn != nil {
		m.DisplayName = *dn
	}
	return m, true
}

// ChatMessage specialises l into a ChatMessage when it is a PRIVMSG.
func (l Line) ChatMessage() (ChatMessage, bool) {
	return ParseMessage(l.Prefix, l.Command, l.Params, l.Tags)
}

// SentAt decodes the tmi-sent-ts tag (milliseconds since the epoch).
func (m ChatMessage) SentAt() (time.Time, bool) {
	if m.Timestamp == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(*m.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func optionalTag(tags Tags, key string) *string {
	v, ok := tags.Get(key)
	if !ok || v == "" {
		return nil
	}
	return &v
}

// badgeNames turns "broadcaster/1,subscriber/12" into [broadcaster subscriber].
func badgeNames(raw string) []string {
	out := make([]string, 0, strings.Count(raw, ",")+1)
	for len(raw) > 0 {
		var b string
		if i := strings.IndexByte(raw, ','); i >= 0 {
			b, raw = raw[:i], raw[i+1:]
		} else {
			b, raw = raw, ""
		}
		if b == "" {
			continue
		}
		if i := strings.IndexByte(b, '/'); i >= 0 {
			b = b[:i]
		}
		out = append(out, b)
	}
	return out
}
