package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedEngine speaks just enough UCI over pipes to stand in for a real
// subprocess. Each queued reply answers one "go"; a reply prefixed "hold:"
// is withheld until the engine receives "stop".
type scriptedEngine struct {
	out     io.Writer
	replies chan string

	mu      sync.Mutex
	goCount int
}

func (s *scriptedEngine) run(commands io.Reader) {
	var held string
	holding := false
	sc := bufio.NewScanner(commands)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "uci":
			fmt.Fprint(s.out, "id name scripted\nuciok\n")
		case line == "isready":
			fmt.Fprint(s.out, "readyok\n")
		case strings.HasPrefix(line, "go"):
			s.mu.Lock()
			s.goCount++
			s.mu.Unlock()
			mv := <-s.replies
			if rest, ok := strings.CutPrefix(mv, "hold:"); ok {
				held = rest
				holding = true
			} else {
				fmt.Fprintf(s.out, "bestmove %s\n", mv)
			}
		case line == "stop":
			if holding {
				fmt.Fprintf(s.out, "bestmove %s\n", held)
				holding = false
			}
		}
	}
}

func (s *scriptedEngine) goes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goCount
}

func newPipedEngine(t *testing.T, moveTime int) (*UCIEngine, *scriptedEngine) {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	t.Cleanup(func() {
		_ = cmdW.Close()
		_ = outW.Close()
	})

	fake := &scriptedEngine{out: outW, replies: make(chan string, 8)}
	go fake.run(cmdR)

	e := &UCIEngine{
		stdin:    cmdW,
		lines:    make(chan string, lineQueueSize),
		moveTime: moveTime,
	}
	go e.readLoop(bufio.NewReader(outR))
	return e, fake
}

func TestBestMovePipes(t *testing.T) {
	e, fake := newPipedEngine(t, 10)
	fake.replies <- "e2e4"

	mv, err := e.BestMove(context.Background(), "startpos")
	if err != nil {
		t.Fatalf("BestMove: %v", err)
	}
	if mv != "e2e4" {
		t.Fatalf("move = %q, want e2e4", mv)
	}
}

func TestAbandonedSearchDoesNotLeakIntoNext(t *testing.T) {
	e, fake := newPipedEngine(t, 10)
	b := NewBroker(e, 50*time.Millisecond)

	// The first search answers only after a stop arrives, so the broker
	// times out while the engine still owes a bestmove.
	fake.replies <- "hold:a2a3"
	if _, err := b.RequestMove(context.Background(), "startpos"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first request err = %v, want ErrTimeout", err)
	}

	// The stale bestmove must be flushed and discarded, not served as the
	// second request's answer or left to starve it.
	fake.replies <- "e2e4"
	mv, err := b.RequestMove(context.Background(), "startpos")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if mv != "e2e4" {
		t.Fatalf("second move = %q, want e2e4", mv)
	}
	if n := fake.goes(); n != 2 {
		t.Fatalf("engine saw %d go commands, want 2", n)
	}
}

func TestInitializeHandshake(t *testing.T) {
	e, fake := newPipedEngine(t, 10)
	if err := e.initialize(context.Background(), Options{Threads: 2, HashMB: 32}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	fake.replies <- "g1f3"
	mv, err := e.BestMove(context.Background(), "")
	if err != nil {
		t.Fatalf("BestMove after handshake: %v", err)
	}
	if mv != "g1f3" {
		t.Fatalf("move = %q, want g1f3", mv)
	}
}
