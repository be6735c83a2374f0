package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the Twitch chat WebSocket endpoint.
const DefaultURL = "wss://irc-ws.chat.twitch.tv:443"

// Conn is one chat socket. ReadFrame and WriteFrame may be called
// concurrently with each other and with Close; Close unblocks a pending read.
type Conn interface {
	// ReadFrame returns the next text frame, failing if none arrives within timeout.
	ReadFrame(timeout time.Duration) (string, error)
	WriteFrame(frame string) error
	Close() error
}

// Dialer opens chat sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials chat over WebSocket with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial connects to url.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	hs := d.HandshakeTimeout
	if hs <= 0 {
		hs = 10 * time.Second
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: hs,
	}
	c, resp, err := wd.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	wt := d.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	return &wsConn{c: c, writeTimeout: wt}, nil
}

type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (w *wsConn) ReadFrame(timeout time.Duration) (string, error) {
	for {
		if err := w.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (w *wsConn) WriteFrame(frame string) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.c.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.c.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Close sends a close frame (best effort) and closes the socket.
func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.closeErr = w.c.Close()
	})
	return w.closeErr
}

// mapReadError sorts a read failure into the session error taxonomy.
func mapReadError(err error) error {
	if errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrConnClosed) || errors.Is(err, ErrTransport) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrIdleTimeout
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return fmt.Errorf("%w: read: %v", ErrTransport, err)
}
