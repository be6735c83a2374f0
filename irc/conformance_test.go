package irc

import (
	"testing"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// The parser must agree with go-twitch-irc on the fields both expose.
func TestParseMessageMatchesGoTwitchIRC(t *testing.T) {
	lines := []string{
		"@badges=moderator/1;color=#8A2BE2;display-name=ModUser;id=11111111-2222-3333-4444-555555555555;tmi-sent-ts=1700000000000;user-id=42 :moduser!moduser@moduser.tmi.twitch.tv PRIVMSG #somechannel :keep it civil",
		"@badges=;color=;display-name=viewer;id=aaaa;tmi-sent-ts=1700000000001;user-id=7 :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #somechannel :hello :) how are you",
	}
	for _, raw := range lines {
		l, err := ParseLine(raw)
		if err != nil {
			t.Fatalf("ParseLine(%q) error = %v", raw, err)
		}
		ours, ok := l.ChatMessage()
		if !ok {
			t.Fatalf("ChatMessage() ok = false for %q", raw)
		}
		ref, ok := twitch.ParseMessage(raw).(*twitch.PrivateMessage)
		if !ok {
			t.Fatalf("go-twitch-irc did not parse %q as a PRIVMSG", raw)
		}
		if ours.Channel != "#"+ref.Channel {
			t.Errorf("channel = %q, go-twitch-irc = %q", ours.Channel, ref.Channel)
		}
		if ours.Username != ref.User.Name {
			t.Errorf("username = %q, go-twitch-irc = %q", ours.Username, ref.User.Name)
		}
		if ours.DisplayName != ref.User.DisplayName {
			t.Errorf("display name = %q, go-twitch-irc = %q", ours.DisplayName, ref.User.DisplayName)
		}
		if ours.Text != ref.Message {
			t.Errorf("text = %q, go-twitch-irc = %q", ours.Text, ref.Message)
		}
		if ours.ID == nil || *ours.ID != ref.ID {
			t.Errorf("id = %v, go-twitch-irc = %q", ours.ID, ref.ID)
		}
	}
}
