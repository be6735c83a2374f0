package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/banter/irc"
	"github.com/onnwee/banter/oauth"
	"github.com/onnwee/banter/telemetry"
)

// sessionResult reports how far a session got.
type sessionResult struct {
	streamed time.Duration // zero if the handshake never completed
	welcomed bool          // server sent 001
}

// handshake returns the login sequence in the order the server expects it.
func handshake(token, username, channel string) []string {
	return []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS oauth:" + token,
		"NICK " + username,
		"JOIN " + channel,
	}
}

// runSession dials, logs in and streams until the session ends. A nil error
// means the running flag was cleared (Disconnect or RECONNECT).
func (s *Supervisor) runSession(ctx context.Context, creds *oauth.Credentials, username, channel string) (res sessionResult, err error) {
	id := uuid.NewString()
	log := s.log.With(slog.String("session_id", id), slog.String("channel", channel))
	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.session",
		attribute.String("session_id", id), attribute.String("channel", channel))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		telemetry.SessionEnded(endReason(err), res.streamed)
	}()
	telemetry.Inc(telemetry.ChatSessionsStarted)

	conn, err := s.dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		return res, fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}
	for _, line := range handshake(creds.AccessToken, username, channel) {
		if err := ctx.Err(); err != nil {
			conn.Close()
			return res, err
		}
		if err := conn.WriteFrame(line); err != nil {
			conn.Close()
			return res, fmt.Errorf("%w: handshake: %v", ErrTransport, err)
		}
	}
	telemetry.AddEvent(ctx, "handshake_sent")

	out := NewOutbound(s.cfg.OutboundCapacity)
	s.publish(out)
	defer s.unpublish(out)
	start := time.Now()
	defer func() { res.streamed = time.Since(start) }()

	s.emit.Emit(statusEvent(StatusConnected))
	telemetry.SetChatConnected(true)
	defer telemetry.SetChatConnected(false)
	log.Info("chat session streaming")

	d := &dispatcher{emit: s.emit, out: out, running: &s.running, log: log}
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	g.Go(func() error {
		defer out.Close()
		return s.readLoop(gctx, conn, d, log)
	})
	g.Go(func() error {
		defer conn.Close()
		for {
			line, ok := out.next(gctx)
			if !ok {
				return nil
			}
			if err := conn.WriteFrame(line); err != nil {
				return fmt.Errorf("%w: write: %v", ErrTransport, err)
			}
		}
	})
	err = g.Wait()
	res.welcomed = d.welcomed
	if err != nil {
		log.Warn("chat session ended", slog.Any("err", err))
	} else {
		log.Info("chat session stopped")
	}
	return res, err
}

func (s *Supervisor) readLoop(ctx context.Context, conn Conn, d *dispatcher, log *slog.Logger) error {
	var buf irc.LineBuffer
	defer func() {
		if tail := buf.Pending(); tail != "" {
			log.Debug("session ended mid-line", slog.Int("pending_bytes", len(tail)))
		}
	}()
	for {
		if !s.running.Load() {
			return nil
		}
		frame, err := conn.ReadFrame(s.cfg.IdleTimeout)
		if err != nil {
			if !s.running.Load() || ctx.Err() != nil {
				return nil
			}
			return mapReadError(err)
		}
		dropped := buf.Dropped()
		for _, line := range buf.Feed(frame) {
			if err := d.handle(line); err != nil {
				return err
			}
		}
		if buf.Dropped() > dropped {
			telemetry.Inc(telemetry.ChatMalformedLines)
			log.Warn("discarded oversized partial line", slog.Int("limit", irc.MaxPendingBytes))
		}
	}
}

func (s *Supervisor) publish(out *Outbound) {
	s.mu.Lock()
	s.out = out
	s.mu.Unlock()
}

// unpublish clears the handle only if it still belongs to this session.
func (s *Supervisor) unpublish(out *Outbound) {
	s.mu.Lock()
	if s.out == out {
		s.out = nil
	}
	s.mu.Unlock()
}
