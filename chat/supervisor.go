package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/banter/oauth"
	"github.com/onnwee/banter/telemetry"
)

// Config tunes the Supervisor. Zero fields take the defaults below.
type Config struct {
	URL              string
	IdleTimeout      time.Duration // 360s
	ReconnectBackoff time.Duration // 3s
	SendTimeout      time.Duration // 2s
	DisconnectGrace  time.Duration // 2s
	OutboundCapacity int           // 64
	MaxAuthFailures  int           // 3
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 360 * time.Second
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 3 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 2 * time.Second
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 2 * time.Second
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = DefaultOutboundCapacity
	}
	if c.MaxAuthFailures <= 0 {
		c.MaxAuthFailures = 3
	}
	return c
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithRefresh makes the loop try a token refresh after a login failure.
func WithRefresh(fn oauth.RefreshFunc) Option {
	return func(s *Supervisor) { s.refresh = fn }
}

// Supervisor owns the chat connection state and its reconnect loop.
type Supervisor struct {
	cfg     Config
	store   oauth.Store
	dialer  Dialer
	emit    Emitter
	log     *slog.Logger
	refresh oauth.RefreshFunc

	running atomic.Bool

	mu       sync.Mutex
	out      *Outbound
	channel  string
	cancel   context.CancelFunc
	loopDone chan struct{}
	lastErr  error
}

// NewSupervisor returns an idle Supervisor. A nil emitter discards events.
func NewSupervisor(cfg Config, store oauth.Store, dialer Dialer, emitter Emitter, opts ...Option) *Supervisor {
	if emitter == nil {
		emitter = discardEmitter{}
	}
	if dialer == nil {
		dialer = WSDialer{}
	}
	s := &Supervisor{
		cfg:    cfg.withDefaults(),
		store:  store,
		dialer: dialer,
		emit:   emitter,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "chat"))
	return s
}

// NormalizeChannel lowercases name and adds the leading '#'.
func NormalizeChannel(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimLeft(name, "#")
	if name == "" || strings.ContainsAny(name, " \t\r\n,:") {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	return "#" + name, nil
}

// Connect joins channel and keeps the connection alive in the background
// until Disconnect. It returns once the loop has started, not once the
// socket is live.
func (s *Supervisor) Connect(ctx context.Context, channel string) error {
	if s.running.Load() {
		return ErrAlreadyConnected
	}
	ch, err := NormalizeChannel(channel)
	if err != nil {
		return err
	}
	if _, _, err := s.identity(ctx); err != nil {
		return err
	}

	// A previous loop may still be winding down after Disconnect.
	s.mu.Lock()
	prev := s.loopDone
	s.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopDone != prev || !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.channel = ch
	s.cancel = cancel
	s.loopDone = done
	s.lastErr = nil
	go s.loop(loopCtx, cancel, ch, done)
	s.log.Info("chat connect requested", slog.String("channel", ch))
	return nil
}

// Disconnect stops the loop: it parts the channel if a session is live and
// cancels the loop after the grace period. It never blocks and is a no-op
// when not connected.
func (s *Supervisor) Disconnect() {
	if !s.running.Swap(false) {
		return
	}
	s.mu.Lock()
	out, ch, cancel := s.out, s.channel, s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	if out == nil {
		cancel()
		return
	}
	if err := out.TryEnqueue("PART " + ch); err != nil {
		s.log.Warn("failed to queue PART", slog.String("channel", ch), slog.Any("err", err))
	}
	out.Close()
	time.AfterFunc(s.cfg.DisconnectGrace, cancel)
}

// Send queues a chat message for the joined channel. Line breaks in text
// become spaces.
func (s *Supervisor) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	out, ch := s.out, s.channel
	s.mu.Unlock()
	if out == nil || ch == "" {
		return ErrNotConnected
	}
	text = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(text)
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	switch err := out.Enqueue(sctx, "PRIVMSG "+ch+" :"+text); {
	case err == nil:
		telemetry.Inc(telemetry.ChatMessagesSent)
		return nil
	case errors.Is(err, ErrOutboundClosed):
		return ErrNotConnected
	case errors.Is(err, context.DeadlineExceeded):
		return ErrOutboundFull
	default:
		return err
	}
}

// CurrentUser is the login name of the stored session.
func (s *Supervisor) CurrentUser(ctx context.Context) (string, error) {
	return oauth.CurrentUser(ctx, s.store)
}

// Running reports whether the reconnect loop is supposed to be running.
func (s *Supervisor) Running() bool { return s.running.Load() }

// Connected reports whether a session is streaming.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out != nil
}

// Done is closed when the current loop exits. With no loop it is closed.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopDone == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return s.loopDone
}

// Snapshot is a point-in-time view of the Supervisor.
type Snapshot struct {
	Running   bool   `json:"running"`
	Connected bool   `json:"connected"`
	Channel   string `json:"channel,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Snapshot returns the current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Running: s.running.Load(), Connected: s.out != nil, Channel: s.channel}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Close disconnects and waits for the loop to exit or ctx to end.
func (s *Supervisor) Close(ctx context.Context) error {
	s.Disconnect()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// identity loads the credentials and resolves the chat username.
func (s *Supervisor) identity(ctx context.Context) (*oauth.Credentials, string, error) {
	creds, err := oauth.LoadRequired(ctx, s.store)
	if err != nil {
		return nil, "", err
	}
	username, err := creds.Username()
	if err != nil {
		return nil, "", err
	}
	return creds, strings.ToLower(username), nil
}

func (s *Supervisor) loop(ctx context.Context, cancel context.CancelFunc, channel string, done chan struct{}) {
	log := s.log.With(slog.String("channel", channel))
	defer func() {
		cancel()
		s.mu.Lock()
		s.out = nil
		s.channel = ""
		s.cancel = nil
		s.mu.Unlock()
		s.running.Store(false)
		s.emit.Emit(statusEvent(StatusDisconnected))
		log.Info("chat loop stopped")
		close(done)
	}()

	authFailures := 0
	for s.running.Load() {
		s.emit.Emit(statusEvent(StatusConnecting))

		// Credentials are read per attempt so a refresh or re-login is picked up.
		creds, username, err := s.identity(ctx)
		if err != nil {
			s.setLastErr(err)
			log.Error("cannot start chat session", slog.Any("err", err))
			return
		}

		res, err := s.runSession(ctx, creds, username, channel)
		if err == nil {
			return
		}
		s.setLastErr(err)
		if res.welcomed {
			authFailures = 0
		}
		if errors.Is(err, ErrAuthFailed) {
			authFailures++
			if authFailures >= s.cfg.MaxAuthFailures {
				log.Error("giving up after repeated login failures", slog.Int("attempts", authFailures))
				return
			}
			s.tryRefresh(ctx, log)
		}
		if !s.running.Load() || ctx.Err() != nil {
			return
		}

		s.emit.Emit(statusEvent(StatusReconnecting))
		telemetry.Inc(telemetry.ChatReconnects)
		log.Info("reconnecting", slog.Duration("backoff", s.cfg.ReconnectBackoff), slog.String("class", Classify(err).String()))
		t := time.NewTimer(s.cfg.ReconnectBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Supervisor) tryRefresh(ctx context.Context, log *slog.Logger) {
	if s.refresh == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err := telemetry.TimeRefresh(func() error {
		_, err := oauth.Refresh(rctx, s.store, s.refresh)
		return err
	})
	if err != nil {
		log.Warn("token refresh after login failure failed", slog.Any("err", err))
		return
	}
	log.Info("token refreshed after login failure")
}

func (s *Supervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
