// Package engine talks to the external move-calculation process (a UCI
// engine such as Stockfish) and brokers requests against it: one in-flight
// search at a time, with timeout and single-resolution semantics.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	readyTimeout  = 4 * time.Second
	lineQueueSize = 256
)

// Options configure the engine subprocess.
type Options struct {
	Threads        int
	HashMB         int
	SkillLevel     int
	MoveTimeMillis int
}

// UCIEngine drives one engine subprocess over stdin/stdout. A single reader
// goroutine owns stdout for the life of the process and feeds lines into a
// channel, so an abandoned search can never race a later one on the pipe.
type UCIEngine struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	lines    chan string
	moveTime int

	mu     sync.Mutex // guards stdin writes
	search sync.Mutex // one search at a time
	stale  int        // bestmove lines owed by abandoned searches, under search
}

// NewUCIEngine starts the binary and runs the uci/isready handshake.
func NewUCIEngine(ctx context.Context, binaryPath string, opt Options) (*UCIEngine, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &UCIEngine{
		cmd:      cmd,
		stdin:    stdin,
		lines:    make(chan string, lineQueueSize),
		moveTime: opt.MoveTimeMillis,
	}
	if e.moveTime <= 0 {
		e.moveTime = 2000
	}
	go e.readLoop(bufio.NewReader(stdoutPipe))

	if err := e.initialize(ctx, opt); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// readLoop is the only reader of the engine's stdout. It exits, closing the
// line channel, when the pipe breaks.
func (e *UCIEngine) readLoop(r *bufio.Reader) {
	defer close(e.lines)
	for {
		line, err := r.ReadString('\n')
		if s := strings.TrimSpace(line); s != "" {
			e.lines <- s
		}
		if err != nil {
			return
		}
	}
}

func (e *UCIEngine) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := e.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	hash := opt.HashMB
	if hash <= 0 {
		hash = 64
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", hash),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
	}
	for _, c := range cmds {
		if err := e.send(c); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}

	if err := e.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// BestMove searches the position and returns the engine's move in UCI
// notation. Returns whatever the engine printed after "bestmove"; the broker
// validates its shape before trusting it.
func (e *UCIEngine) BestMove(ctx context.Context, fen string) (string, error) {
	e.search.Lock()
	defer e.search.Unlock()

	if err := e.drainStale(ctx); err != nil {
		return "", fmt.Errorf("drain prior search: %w", err)
	}

	var pos string
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		pos = "position startpos\n"
	} else {
		pos = "position fen " + strings.TrimSpace(fen) + "\n"
	}
	if err := e.send(pos); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	if err := e.send(fmt.Sprintf("go movetime %d\n", e.moveTime)); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	for {
		line, err := e.readLine(ctx)
		if err != nil {
			// The engine still owes a bestmove for this go; the next
			// search drains it before issuing its own.
			e.stale++
			return "", fmt.Errorf("read line: %w", err)
		}
		if strings.HasPrefix(line, "bestmove") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				return parts[1], nil
			}
			return "", fmt.Errorf("malformed bestmove line: %q", line)
		}
	}
}

// drainStale disposes of bestmove lines owed by searches whose caller gave
// up. A stop is sent per owed search to flush a still-running one; stop on an
// idle engine is a no-op. Caller holds e.search.
func (e *UCIEngine) drainStale(ctx context.Context) error {
	for e.stale > 0 {
		if err := e.send("stop\n"); err != nil {
			return err
		}
		for {
			line, err := e.readLine(ctx)
			if err != nil {
				return err
			}
			if strings.HasPrefix(line, "bestmove") {
				e.stale--
				break
			}
		}
	}
	return nil
}

// Stop aborts the current search; the engine answers with a bestmove for
// whatever it has, which the in-flight read consumes.
func (e *UCIEngine) Stop() {
	_ = e.send("stop\n")
}

func (e *UCIEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stdin != nil {
		e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	if e.cmd != nil {
		return e.cmd.Wait()
	}
	return nil
}

func (e *UCIEngine) send(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := io.WriteString(e.stdin, msg)
	return err
}

func (e *UCIEngine) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *UCIEngine) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-e.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}
