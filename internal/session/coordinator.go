package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jykim-dev/chesslink/internal/board"
	"github.com/jykim-dev/chesslink/internal/obslog"
	"github.com/jykim-dev/chesslink/internal/store"
)

const persistTimeout = 5 * time.Second

// Coordinator validates and applies moves against live session state. The
// registry entry is updated synchronously before the store write begins, so
// a concurrent request computing turn or legality is never stale relative to
// same-process moves.
type Coordinator struct {
	reg     *Registry
	store   *store.Store
	archive *Archive // optional
}

func NewCoordinator(reg *Registry, st *store.Store, archive *Archive) *Coordinator {
	return &Coordinator{reg: reg, store: st, archive: archive}
}

// SubmitMove applies mv for the given connection. The turn check runs before
// any engine mutation so illegal-turn attempts never perturb state.
func (c *Coordinator) SubmitMove(code, connID string, mv board.Move) (*MoveOutcome, error) {
	e := c.reg.Get(code)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	b := e.bindingFor(connID)
	if b == nil {
		e.mu.Unlock()
		return nil, ErrNotParticipant
	}
	switch e.Status {
	case StatusCompleted, StatusAbandoned:
		e.mu.Unlock()
		return nil, ErrGameOver
	case StatusWaiting:
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	if e.Board.Turn() != b.Color {
		e.mu.Unlock()
		return nil, ErrNotYourTurn
	}
	res := e.Board.ApplyMove(mv)
	if res == nil {
		e.mu.Unlock()
		return nil, ErrIllegalMove
	}

	e.DrawOffer = nil
	e.MovesUCI = append(e.MovesUCI, res.UCI)
	e.MovesSAN = append(e.MovesSAN, res.SAN)
	e.LastActivity = time.Now()

	outcome := &MoveOutcome{UCI: res.UCI, SAN: res.SAN, FEN: res.FEN}
	if term := e.Board.Terminal(); term.Over() {
		e.Status = StatusCompleted
		if term.Checkmate {
			e.Result = winnerResult(e.Board.Winner())
		} else {
			e.Result = ResultDraw
		}
		outcome.Terminal = &EndInfo{Code: code, Result: e.Result, Reason: terminalReason(term)}
	}
	rec, seq := snapshotLocked(e)
	e.mu.Unlock()

	obslog.L().Info("move",
		zap.String("game_id", code),
		zap.String("conn_id", connID),
		zap.String("uci", res.UCI),
		zap.String("status", rec.Status),
		zap.String("winner", rec.Winner),
	)

	reason := ""
	if outcome.Terminal != nil {
		reason = outcome.Terminal.Reason
	}
	persistAsync(c.store, c.archive, e, rec, seq, reason)
	return outcome, nil
}

func terminalReason(t board.Terminal) string {
	switch {
	case t.Checkmate:
		return "checkmate"
	case t.Stalemate:
		return "stalemate"
	case t.InsufficientMaterial:
		return "insufficient_material"
	case t.ThreefoldRepetition:
		return "threefold_repetition"
	default:
		return "draw"
	}
}

// snapshotLocked builds the durable record from an entry and stamps it with
// a fresh sequence number. Caller holds e.mu.
func snapshotLocked(e *Entry) (*store.Record, uint64) {
	players := make([]store.PlayerRef, 0, len(e.Participants))
	for _, b := range e.Participants {
		players = append(players, store.PlayerRef{
			ConnectionRef: b.ConnID,
			Color:         string(b.Color),
			Platform:      b.Platform,
		})
	}
	e.seq++
	return &store.Record{
		GameID:       e.Code,
		FEN:          e.Board.FEN(),
		Players:      players,
		Status:       string(e.Status),
		LastActivity: e.LastActivity,
		Winner:       string(e.Result),
		MovesUCI:     append([]string(nil), e.MovesUCI...),
		MovesSAN:     append([]string(nil), e.MovesSAN...),
	}, e.seq
}

// persistAsync mirrors a registry snapshot into the store. Failures are
// logged, never surfaced to the caller: the registry is already
// authoritative for subsequent same-process reads. Snapshots carry a
// sequence number so a write that was scheduled late cannot clobber a newer
// one. A non-empty reason marks a finished game and additionally archives it
// when a repository is wired.
func persistAsync(st *store.Store, ar *Archive, e *Entry, rec *store.Record, seq uint64, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		e.persistMu.Lock()
		if seq > e.persistedSeq {
			if err := st.Save(ctx, rec); err != nil {
				obslog.L().Error("store_save_error", zap.String("game_id", rec.GameID), zap.Error(err))
			} else {
				e.persistedSeq = seq
			}
		}
		e.persistMu.Unlock()
		if reason != "" && ar != nil {
			if err := ar.SaveResult(ctx, rec, reason); err != nil {
				obslog.L().Error("archive_save_error", zap.String("game_id", rec.GameID), zap.Error(err))
			}
		}
	}()
}
