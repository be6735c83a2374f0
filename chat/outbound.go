package chat

import (
	"context"
	"sync"

	"github.com/onnwee/banter/telemetry"
)

// DefaultOutboundCapacity is the queue size used when none is configured.
const DefaultOutboundCapacity = 64

// Outbound is the bounded queue of protocol lines a session writes to its
// socket. Any goroutine may enqueue; only the session writer drains it.
//
// The line channel is never closed, so a producer racing with Close cannot
// panic; Close only signals the writer to drain what is buffered and stop.
type Outbound struct {
	lines chan string
	done  chan struct{}
	once  sync.Once
}

// NewOutbound returns an open queue holding up to capacity lines.
func NewOutbound(capacity int) *Outbound {
	if capacity <= 0 {
		capacity = DefaultOutboundCapacity
	}
	return &Outbound{lines: make(chan string, capacity), done: make(chan struct{})}
}

// TryEnqueue queues line without blocking.
func (o *Outbound) TryEnqueue(line string) error {
	select {
	case <-o.done:
		return ErrOutboundClosed
	default:
	}
	select {
	case o.lines <- line:
		return nil
	default:
		telemetry.Inc(telemetry.ChatOutboundDropped)
		return ErrOutboundFull
	}
}

// Enqueue queues line, waiting for room until ctx is done or the queue closes.
func (o *Outbound) Enqueue(ctx context.Context, line string) error {
	select {
	case <-o.done:
		return ErrOutboundClosed
	default:
	}
	select {
	case o.lines <- line:
		return nil
	case <-o.done:
		return ErrOutboundClosed
	case <-ctx.Done():
		telemetry.Inc(telemetry.ChatOutboundDropped)
		return ctx.Err()
	}
}

// Close stops the queue. It is safe to call more than once.
func (o *Outbound) Close() { o.once.Do(func() { close(o.done) }) }

// Done is closed by Close.
func (o *Outbound) Done() <-chan struct{} { return o.done }

// Len is the number of buffered lines.
func (o *Outbound) Len() int { return len(o.lines) }

// next returns the next line for the writer. After Close it keeps returning
// buffered lines until the queue is empty; ok is false once there is nothing
// left to write or ctx is done.
func (o *Outbound) next(ctx context.Context) (line string, ok bool) {
	select {
	case line = <-o.lines:
		return line, true
	case <-ctx.Done():
		return "", false
	case <-o.done:
		select {
		case line = <-o.lines:
			return line, true
		default:
			return "", false
		}
	}
}
