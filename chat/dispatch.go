package chat

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/onnwee/banter/irc"
	"github.com/onnwee/banter/telemetry"
)

// loginFailures are NOTICE texts Twitch sends before closing a connection
// whose PASS was rejected.
var loginFailures = []string{
	"Login authentication failed",
	"Login unsuccessful",
	"Improperly formatted auth",
}

// dispatcher maps inbound lines to side effects. It runs inline in the
// session reader and never blocks.
type dispatcher struct {
	emit    Emitter
	out     *Outbound
	running *atomic.Bool
	log     *slog.Logger

	// welcomed is set once the server sent 001.
	welcomed bool
}

// handle processes one line. The only error it returns is ErrAuthFailed.
func (d *dispatcher) handle(raw string) error {
	line, err := irc.ParseLine(raw)
	if err != nil {
		telemetry.Inc(telemetry.ChatMalformedLines)
		d.log.Debug("dropping malformed line", slog.String("line", raw), slog.Any("err", err))
		return nil
	}
	telemetry.IncLine(line.Command)

	switch line.Command {
	case "PING":
		if err := d.out.TryEnqueue("PONG " + line.Params); err != nil {
			d.log.Warn("failed to queue PONG", slog.Any("err", err))
		}
	case "PRIVMSG":
		if msg, ok := line.ChatMessage(); ok {
			d.emit.Emit(Event{Type: EventMessage, Payload: msg})
		}
	case "USERNOTICE":
		d.emit.Emit(Event{Type: EventUserNotice, Payload: line.Tags.Decoded()})
	case "CLEARCHAT", "CLEARMSG":
		d.emit.Emit(Event{Type: EventClearChat, Payload: line.Raw})
	case "RECONNECT":
		d.log.Info("server requested reconnect, stopping")
		d.running.Store(false)
	case "001":
		d.welcomed = true
		d.emit.Emit(Event{Type: EventReady})
	case "NOTICE":
		for _, f := range loginFailures {
			if strings.Contains(line.Params, f) {
				return ErrAuthFailed
			}
		}
	}
	return nil
}
