package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOutboundTryEnqueueFull(t *testing.T) {
	o := NewOutbound(2)
	if err := o.TryEnqueue("a"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := o.TryEnqueue("b"); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := o.TryEnqueue("c"); !errors.Is(err, ErrOutboundFull) {
		t.Fatalf("expected ErrOutboundFull, got %v", err)
	}
	if o.Len() != 2 {
		t.Errorf("Len = %d, want 2", o.Len())
	}
}

func TestOutboundClosedRejects(t *testing.T) {
	o := NewOutbound(4)
	o.Close()
	o.Close()
	if err := o.TryEnqueue("a"); !errors.Is(err, ErrOutboundClosed) {
		t.Errorf("TryEnqueue after Close: %v", err)
	}
	if err := o.Enqueue(context.Background(), "a"); !errors.Is(err, ErrOutboundClosed) {
		t.Errorf("Enqueue after Close: %v", err)
	}
	select {
	case <-o.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestOutboundEnqueueWaitsForRoom(t *testing.T) {
	o := NewOutbound(1)
	if err := o.TryEnqueue("first"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Enqueue(ctx, "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- o.Enqueue(context.Background(), "third") }()
	if line, ok := o.next(context.Background()); !ok || line != "first" {
		t.Fatalf("next = %q, %v", line, ok)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Enqueue after drain: %v", err)
	}
	if line, ok := o.next(context.Background()); !ok || line != "third" {
		t.Fatalf("next = %q, %v", line, ok)
	}
}

func TestOutboundEnqueueUnblockedByClose(t *testing.T) {
	o := NewOutbound(1)
	_ = o.TryEnqueue("fill")
	errc := make(chan error, 1)
	go func() { errc <- o.Enqueue(context.Background(), "blocked") }()
	time.Sleep(10 * time.Millisecond)
	o.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrOutboundClosed) {
			t.Errorf("expected ErrOutboundClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not return after Close")
	}
}

func TestOutboundNextDrainsAfterClose(t *testing.T) {
	o := NewOutbound(4)
	_ = o.TryEnqueue("PART #chan")
	_ = o.TryEnqueue("PONG :x")
	o.Close()

	var got []string
	for {
		line, ok := o.next(context.Background())
		if !ok {
			break
		}
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "PART #chan" || got[1] != "PONG :x" {
		t.Errorf("drained %v", got)
	}
}

func TestOutboundNextStopsOnContext(t *testing.T) {
	o := NewOutbound(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := o.next(ctx); ok {
		t.Error("next should report false on a cancelled context")
	}
}

func TestOutboundConcurrentProducersAndClose(t *testing.T) {
	o := NewOutbound(8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = o.TryEnqueue("x")
			}
		}()
	}
	o.Close()
	wg.Wait()
	for {
		if _, ok := o.next(context.Background()); !ok {
			break
		}
	}
	if o.Len() != 0 {
		t.Errorf("Len after drain = %d", o.Len())
	}
}
