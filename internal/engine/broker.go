package engine

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jykim-dev/chesslink/internal/obslog"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	// ErrUnavailable means no engine was configured at startup.
	ErrUnavailable = staticErr("engine unavailable")
	// ErrTimeout means the engine did not answer within the broker deadline.
	ErrTimeout = staticErr("engine timed out")
	// ErrInvalidResponse means the engine answered with something that is
	// not a move, e.g. "(none)" from a checkmated position.
	ErrInvalidResponse = staticErr("engine returned no usable move")
	// ErrSuperseded means a newer request replaced this one.
	ErrSuperseded = staticErr("engine request superseded")
	// ErrStopped means the search was stopped on request.
	ErrStopped = staticErr("engine search stopped")
)

var moveShape = regexp.MustCompile(`(?i)^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Searcher is the engine surface the broker needs. *UCIEngine satisfies it.
type Searcher interface {
	BestMove(ctx context.Context, fen string) (string, error)
	Stop()
}

type resolution struct {
	move string
	err  error
}

// pending is a single request slot. It resolves exactly once: whichever of
// the engine response, the timeout, a superseding request, or an explicit
// stop arrives first wins, and every later signal is dropped.
type pending struct {
	mu       sync.Mutex
	resolved bool
	done     chan resolution
	cancel   context.CancelFunc
}

func newPending(cancel context.CancelFunc) *pending {
	return &pending{done: make(chan resolution, 1), cancel: cancel}
}

func (p *pending) resolve(move string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.resolved = true
	p.done <- resolution{move: move, err: err}
	p.cancel()
}

// Broker serializes engine move requests. At most one request is live at a
// time; a new request supersedes the previous caller rather than queueing
// behind it, and a timed-out request leaves the broker immediately usable.
type Broker struct {
	searcher Searcher
	timeout  time.Duration

	mu  sync.Mutex
	cur *pending
}

// NewBroker wraps a searcher. searcher may be nil when no engine binary is
// configured; requests then fail fast with ErrUnavailable.
func NewBroker(searcher Searcher, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Broker{searcher: searcher, timeout: timeout}
}

// Available reports whether an engine is wired in.
func (b *Broker) Available() bool { return b.searcher != nil }

// RequestMove asks the engine for the best move in the given position and
// blocks until this request resolves. The returned move is lowercase UCI.
func (b *Broker) RequestMove(ctx context.Context, fen string) (string, error) {
	if b.searcher == nil {
		return "", ErrUnavailable
	}

	sctx, cancel := context.WithCancel(context.Background())
	p := newPending(cancel)

	b.mu.Lock()
	if prev := b.cur; prev != nil {
		prev.resolve("", ErrSuperseded)
	}
	b.cur = p
	b.mu.Unlock()

	go func() {
		mv, err := b.searcher.BestMove(sctx, fen)
		if err != nil {
			p.resolve("", err)
			return
		}
		mv = strings.ToLower(strings.TrimSpace(mv))
		if !moveShape.MatchString(mv) {
			p.resolve("", ErrInvalidResponse)
			return
		}
		p.resolve(mv, nil)
	}()

	timer := time.AfterFunc(b.timeout, func() {
		p.resolve("", ErrTimeout)
	})
	defer timer.Stop()

	var res resolution
	select {
	case res = <-p.done:
	case <-ctx.Done():
		p.resolve("", ctx.Err())
		res = <-p.done
	}

	b.mu.Lock()
	if b.cur == p {
		b.cur = nil
	}
	b.mu.Unlock()

	if res.err != nil {
		obslog.L().Warn("engine_request", zap.Error(res.err))
	} else {
		obslog.L().Info("engine_request", zap.String("move", res.move))
	}
	return res.move, res.err
}

// StopCurrent aborts the in-flight request, if any. The waiting caller gets
// ErrStopped.
func (b *Broker) StopCurrent() {
	b.mu.Lock()
	p := b.cur
	b.mu.Unlock()
	if p != nil {
		p.resolve("", ErrStopped)
	}
	if b.searcher != nil {
		b.searcher.Stop()
	}
}
