package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSearcher answers from a channel so tests control response timing.
type fakeSearcher struct {
	responses chan string
	stops     atomic.Int32
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{responses: make(chan string, 8)}
}

func (f *fakeSearcher) BestMove(ctx context.Context, fen string) (string, error) {
	select {
	case mv := <-f.responses:
		return mv, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeSearcher) Stop() { f.stops.Add(1) }

func TestRequestMoveHappyPath(t *testing.T) {
	fs := newFakeSearcher()
	fs.responses <- "E2E4"
	b := NewBroker(fs, time.Second)

	mv, err := b.RequestMove(context.Background(), "startpos")
	if err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	if mv != "e2e4" {
		t.Fatalf("move = %q, want e2e4", mv)
	}
}

func TestRequestMovePromotionShape(t *testing.T) {
	fs := newFakeSearcher()
	fs.responses <- "b7a8q"
	b := NewBroker(fs, time.Second)

	mv, err := b.RequestMove(context.Background(), "fen")
	if err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	if mv != "b7a8q" {
		t.Fatalf("move = %q, want b7a8q", mv)
	}
}

func TestRequestMoveRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"(none)", "0000", "e2e4x", "info depth 20", ""} {
		fs := newFakeSearcher()
		fs.responses <- bad
		b := NewBroker(fs, time.Second)

		mv, err := b.RequestMove(context.Background(), "fen")
		if !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("response %q: err = %v, want ErrInvalidResponse", bad, err)
		}
		if mv != "" {
			t.Fatalf("response %q: move = %q, want empty", bad, mv)
		}
	}
}

func TestRequestMoveTimeoutResolvesOnce(t *testing.T) {
	fs := newFakeSearcher()
	b := NewBroker(fs, 30*time.Millisecond)

	mv, err := b.RequestMove(context.Background(), "fen")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if mv != "" {
		t.Fatalf("move = %q, want empty", mv)
	}

	// A response arriving after the timeout must not leak into the next
	// request's answer.
	fs.responses <- "e7e5"
	mv, err = b.RequestMove(context.Background(), "fen")
	if err != nil {
		t.Fatalf("second RequestMove: %v", err)
	}
	if mv != "e7e5" {
		t.Fatalf("second move = %q, want e7e5", mv)
	}
}

func TestRequestMoveSupersedes(t *testing.T) {
	fs := newFakeSearcher()
	b := NewBroker(fs, 2*time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	firstErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := b.RequestMove(context.Background(), "first")
		firstErr <- err
	}()

	// Wait until the first request occupies the slot.
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		occupied := b.cur != nil
		b.mu.Unlock()
		if occupied {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first request never registered")
		}
		time.Sleep(time.Millisecond)
	}

	fs.responses <- "g1f3"
	mv, err := b.RequestMove(context.Background(), "second")
	if err != nil {
		t.Fatalf("second RequestMove: %v", err)
	}
	if mv != "g1f3" {
		t.Fatalf("second move = %q, want g1f3", mv)
	}

	wg.Wait()
	if err := <-firstErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first err = %v, want ErrSuperseded", err)
	}
}

func TestStopCurrentResolvesWaiter(t *testing.T) {
	fs := newFakeSearcher()
	b := NewBroker(fs, 2*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.RequestMove(context.Background(), "fen")
		errCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		occupied := b.cur != nil
		b.mu.Unlock()
		if occupied {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("request never registered")
		}
		time.Sleep(time.Millisecond)
	}

	b.StopCurrent()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("err = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by StopCurrent")
	}
	if fs.stops.Load() == 0 {
		t.Fatal("searcher Stop not called")
	}
}

func TestRequestMoveNilSearcher(t *testing.T) {
	b := NewBroker(nil, time.Second)
	if _, err := b.RequestMove(context.Background(), "fen"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if b.Available() {
		t.Fatal("Available() = true for nil searcher")
	}
}

func TestRequestMoveCallerCancel(t *testing.T) {
	fs := newFakeSearcher()
	b := NewBroker(fs, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.RequestMove(ctx, "fen"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
