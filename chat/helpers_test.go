package chat

import (
	"context"
	"encoding/base64"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/banter/oauth"
)

// fakeConn is an in-memory Conn. Frames pushed on frames are returned by
// ReadFrame; written lines are recorded.
type fakeConn struct {
	frames chan string
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan string, 32), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame(timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return "", net.ErrClosed
	case <-t.C:
		return "", ErrIdleTimeout
	}
}

func (c *fakeConn) WriteFrame(frame string) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, frame)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns. With gate set, Dial waits for it to close.
type fakeDialer struct {
	dialed chan *fakeConn
	gate   chan struct{}
	err    error

	mu    sync.Mutex
	count int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.dialed <- c
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) statuses() []Status {
	var out []Status
	for _, e := range r.ofType(EventStatus) {
		out = append(out, e.Payload.(Status))
	}
	return out
}

func (r *recorder) hasStatus(s Status) bool {
	for _, got := range r.statuses() {
		if got == s {
			return true
		}
	}
	return false
}

func idToken(username string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"preferred_username":"` + username + `"}`))
	return "eyJhbGciOiJSUzI1NiJ9." + payload + ".c2ln"
}

func testCreds() *oauth.Credentials {
	return &oauth.Credentials{AccessToken: "tok123", RefreshToken: "ref456", IDToken: idToken("Viewer")}
}

func testConfig() Config {
	return Config{
		URL:              "ws://fake",
		IdleTimeout:      2 * time.Second,
		ReconnectBackoff: 20 * time.Millisecond,
		SendTimeout:      100 * time.Millisecond,
		DisconnectGrace:  100 * time.Millisecond,
		MaxAuthFailures:  3,
	}
}

type harness struct {
	sup    *Supervisor
	dialer *fakeDialer
	events *recorder
	store  *oauth.MemoryStore
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{dialer: newFakeDialer(), events: &recorder{}, store: oauth.NewMemoryStore(testCreds())}
	h.sup = NewSupervisor(cfg, h.store, h.dialer, h.events, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, h.sup.Close(ctx))
	})
	return h
}

// streaming connects, takes the dialed conn and waits for the handshake.
func (h *harness) streaming(t *testing.T, channel string) *fakeConn {
	t.Helper()
	require.NoError(t, h.sup.Connect(context.Background(), channel))
	c := h.dialer.next(t)
	waitWritten(t, c, 4)
	require.Eventually(t, func() bool {
		return h.sup.Connected() && h.events.hasStatus(StatusConnected)
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func waitWritten(t *testing.T, c *fakeConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Written()) >= n }, 2*time.Second, 5*time.Millisecond,
		"want %d written lines, have %v", n, c.Written())
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor loop did not stop")
	}
}
