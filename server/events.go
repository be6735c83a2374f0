package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/banter/chat"
	"github.com/onnwee/banter/telemetry"
)

const (
	defaultSubscriberBuffer = 256
	sseKeepAlive            = 15 * time.Second
)

// Broker fans chat events out to event-stream subscribers. It implements
// chat.Emitter: Emit never blocks, and a subscriber whose buffer is full
// misses the event.
type Broker struct {
	buffer int

	mu   sync.Mutex
	subs map[chan chat.Event]struct{}
}

// NewBroker returns a Broker giving each subscriber buffer slots.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{buffer: buffer, subs: make(map[chan chat.Event]struct{})}
}

// Emit delivers e to every subscriber with room for it.
func (b *Broker) Emit(e chat.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			telemetry.Inc(telemetry.EventsDropped)
		}
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and must
// be called exactly once.
func (b *Broker) Subscribe() (<-chan chat.Event, func()) {
	ch := make(chan chat.Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	if telemetry.EventSubscribers != nil {
		telemetry.EventSubscribers.Inc()
	}
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		if telemetry.EventSubscribers != nil {
			telemetry.EventSubscribers.Dec()
		}
	}
}

// Subscribers is the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// HandleChatEvents streams chat events as Server-Sent Events. Each event is
// written as "event: <type>" with its JSON payload as data.
func (h *Handlers) HandleChatEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, unsubscribe := h.Events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Open with the current state so clients need not poll /chat/status.
	if err := writeSSE(w, 0, "snapshot", h.Chat.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	ctx := r.Context()
	var id uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case e := <-events:
			id++
			if err := writeSSE(w, id, string(e.Type), e.Payload); err != nil {
				slog.Warn("failed to write SSE event", slog.Any("err", err))
				return
			}
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, id uint64, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
