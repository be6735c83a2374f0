package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// FakeChatServer is a WebSocket server speaking enough of the Twitch chat
// protocol for client tests: it records every line clients send, answers NICK
// with the 001 welcome, and lets the test push lines or drop connections.
type FakeChatServer struct {
	*httptest.Server

	// Reply, if set, is consulted for every received line; the lines it
	// returns are sent back on the same connection. It replaces the default
	// welcome on NICK.
	Reply func(line string) []string

	mu       sync.Mutex
	received []string
	conns    []*fakeChatConn
	handlers sync.WaitGroup
}

type fakeChatConn struct {
	net.Conn
	wmu sync.Mutex
}

func (c *fakeChatConn) send(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if !strings.HasSuffix(line, "\r\n") {
		line += "\r\n"
	}
	return wsutil.WriteServerText(c.Conn, []byte(line))
}

// NewFakeChatServer starts a server and closes it when the test ends.
func NewFakeChatServer(t *testing.T) *FakeChatServer {
	t.Helper()
	f := &FakeChatServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// URL is the ws:// address clients dial.
func (f *FakeChatServer) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

func (f *FakeChatServer) serve(w http.ResponseWriter, r *http.Request) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	c := &fakeChatConn{Conn: raw}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.handlers.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.handlers.Done()
		defer c.Close()
		for {
			data, err := wsutil.ReadClientText(c)
			if err != nil {
				return
			}
			for _, line := range strings.Split(strings.TrimRight(string(data), "\r\n"), "\r\n") {
				if line == "" {
					continue
				}
				f.mu.Lock()
				f.received = append(f.received, line)
				f.mu.Unlock()
				for _, reply := range f.replies(line) {
					if err := c.send(reply); err != nil {
						return
					}
				}
			}
		}
	}()
}

func (f *FakeChatServer) replies(line string) []string {
	if f.Reply != nil {
		return f.Reply(line)
	}
	if nick, ok := strings.CutPrefix(line, "NICK "); ok {
		return []string{":tmi.twitch.tv 001 " + nick + " :Welcome, GLHF!"}
	}
	return nil
}

// Received returns every line received so far, across connections.
func (f *FakeChatServer) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

// Connections is the number of WebSocket connections accepted so far.
func (f *FakeChatServer) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Send writes line to the most recent connection.
func (f *FakeChatServer) Send(line string) error {
	f.mu.Lock()
	if len(f.conns) == 0 {
		f.mu.Unlock()
		return net.ErrClosed
	}
	c := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	return c.send(line)
}

// DropConnections closes every open connection without a close frame.
func (f *FakeChatServer) DropConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
}

// Close drops all connections, waits for their handlers, and stops the server.
func (f *FakeChatServer) Close() {
	f.DropConnections()
	f.handlers.Wait()
	f.Server.Close()
}
