package session

import (
	"context"
	"crypto/rand"
	"time"

	"go.uber.org/zap"

	"github.com/jykim-dev/chesslink/internal/board"
	"github.com/jykim-dev/chesslink/internal/obslog"
	"github.com/jykim-dev/chesslink/internal/store"
)

const codeAttempts = 5

// Lifecycle drives session state transitions: creation, joining, resignation,
// draw negotiation, disconnect cleanup, and the retention sweep.
type Lifecycle struct {
	reg     *Registry
	store   *store.Store
	archive *Archive // optional

	grace     time.Duration
	retention time.Duration
}

func NewLifecycle(reg *Registry, st *store.Store, archive *Archive, grace, retention time.Duration) *Lifecycle {
	if grace <= 0 {
		grace = defaultGrace
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Lifecycle{reg: reg, store: st, archive: archive, grace: grace, retention: retention}
}

// CreateSession allocates a fresh code, claims it in the store, and installs
// the creator as white. Colliding codes are regenerated, up to codeAttempts
// fresh codes before giving up.
func (l *Lifecycle) CreateSession(ctx context.Context, connID, platform string) (*CreateInfo, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := genCode()
		if err != nil {
			return nil, err
		}
		claimed, err := l.store.Claim(ctx, code)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		creator := &Binding{ConnID: connID, Code: code, Color: board.White, Platform: platform}
		e, err := l.reg.Create(code, creator)
		if err == ErrDuplicateCode {
			continue
		}
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		rec, seq := snapshotLocked(e)
		e.mu.Unlock()
		persistAsync(l.store, nil, e, rec, seq, "")
		obslog.L().Info("session_create",
			zap.String("game_id", code),
			zap.String("conn_id", connID),
			zap.String("platform", platform),
		)
		return &CreateInfo{Code: code, Color: board.White}, nil
	}
	return nil, ErrCodeExhausted
}

// JoinSession seats the second participant with the remaining color and
// flips the session to active.
func (l *Lifecycle) JoinSession(ctx context.Context, code, connID, platform string) (*JoinInfo, error) {
	e, b, err := l.reg.Bind(code, connID, platform)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.Status == StatusWaiting && len(e.Participants) == 2 {
		e.Status = StatusActive
	}
	e.LastActivity = time.Now()
	opponentPlatform := ""
	for _, p := range e.Participants {
		if p.ConnID != connID {
			opponentPlatform = p.Platform
		}
	}
	info := &JoinInfo{
		Code:             code,
		Color:            b.Color,
		FEN:              e.Board.FEN(),
		OpponentPlatform: opponentPlatform,
		Platform:         platform,
	}
	rec, seq := snapshotLocked(e)
	e.mu.Unlock()

	persistAsync(l.store, nil, e, rec, seq, "")
	obslog.L().Info("session_join",
		zap.String("game_id", code),
		zap.String("conn_id", connID),
		zap.String("color", string(b.Color)),
		zap.String("platform", platform),
	)
	return info, nil
}

// Resign completes the session with the opposite color winning.
func (l *Lifecycle) Resign(connID string) (*EndInfo, error) {
	e, b := l.reg.Resolve(connID)
	if e == nil || b == nil {
		return nil, ErrNotParticipant
	}

	e.mu.Lock()
	if e.Status == StatusCompleted || e.Status == StatusAbandoned {
		e.mu.Unlock()
		return nil, ErrGameOver
	}
	if e.Status != StatusActive {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	e.Status = StatusCompleted
	e.Result = winnerResult(b.Color.Opponent())
	e.DrawOffer = nil
	e.LastActivity = time.Now()
	end := &EndInfo{Code: e.Code, Result: e.Result, Reason: "resignation"}
	rec, seq := snapshotLocked(e)
	e.mu.Unlock()

	persistAsync(l.store, l.archive, e, rec, seq, end.Reason)
	obslog.L().Info("resign",
		zap.String("game_id", end.Code),
		zap.String("conn_id", connID),
		zap.String("winner", string(end.Result)),
	)
	return end, nil
}

// OfferDraw records a pending draw offer by the caller's color.
func (l *Lifecycle) OfferDraw(connID string) (*DrawInfo, error) {
	e, b := l.reg.Resolve(connID)
	if e == nil || b == nil {
		return nil, ErrNotParticipant
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status == StatusCompleted || e.Status == StatusAbandoned {
		return nil, ErrGameOver
	}
	if e.Status != StatusActive {
		return nil, ErrNotStarted
	}
	if e.DrawOffer != nil {
		return nil, ErrDrawPending
	}
	e.DrawOffer = &DrawOffer{By: b.Color}
	return &DrawInfo{Code: e.Code, From: b.Color}, nil
}

// AcceptDraw completes the session as a draw. Only the opponent of the
// offering color may accept, and only while the offer is still pending.
func (l *Lifecycle) AcceptDraw(connID string) (*EndInfo, error) {
	e, b := l.reg.Resolve(connID)
	if e == nil || b == nil {
		return nil, ErrNotParticipant
	}

	e.mu.Lock()
	if e.Status == StatusCompleted || e.Status == StatusAbandoned {
		e.mu.Unlock()
		return nil, ErrGameOver
	}
	if e.DrawOffer == nil || e.DrawOffer.By == b.Color {
		e.mu.Unlock()
		return nil, ErrNoDrawOffer
	}
	e.Status = StatusCompleted
	e.Result = ResultDraw
	e.DrawOffer = nil
	e.LastActivity = time.Now()
	end := &EndInfo{Code: e.Code, Result: ResultDraw, Reason: "agreement"}
	rec, seq := snapshotLocked(e)
	e.mu.Unlock()

	persistAsync(l.store, l.archive, e, rec, seq, end.Reason)
	obslog.L().Info("draw_accept", zap.String("game_id", end.Code), zap.String("conn_id", connID))
	return end, nil
}

// DeclineDraw clears a pending offer.
func (l *Lifecycle) DeclineDraw(connID string) (*DrawInfo, error) {
	e, b := l.reg.Resolve(connID)
	if e == nil || b == nil {
		return nil, ErrNotParticipant
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DrawOffer == nil {
		return nil, ErrNoDrawOffer
	}
	e.DrawOffer = nil
	return &DrawInfo{Code: e.Code, From: b.Color}, nil
}

// HandleDisconnect unbinds the connection immediately; a later reconnection
// is a fresh join, never seat resumption. Eviction of the registry entry is
// deferred by the grace window and only happens if nobody is bound by then.
// Duplicate disconnects are no-ops.
func (l *Lifecycle) HandleDisconnect(connID string) (*DisconnectInfo, bool) {
	code, remaining, ok := l.reg.Unbind(connID)
	if !ok {
		return nil, false
	}
	obslog.L().Info("session_disconnect",
		zap.String("game_id", code),
		zap.String("conn_id", connID),
		zap.Int("remaining", remaining),
	)
	time.AfterFunc(l.grace, func() {
		if l.reg.EvictIfEmpty(code) {
			obslog.L().Info("session_evict", zap.String("game_id", code))
		}
	})
	return &DisconnectInfo{Code: code, Remaining: remaining}, true
}

// Sweep marks store records still active but idle past the retention window
// as abandoned, mirroring the change into any live registry entry.
func (l *Lifecycle) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-l.retention)
	stale, err := l.store.StaleActive(ctx, cutoff)
	if err != nil {
		obslog.L().Error("sweep_error", zap.Error(err))
		return
	}
	for _, rec := range stale {
		if e := l.reg.Get(rec.GameID); e != nil {
			// Live entry: mutate it and persist a fresh snapshot through
			// the sequence guard, so a concurrently persisting move is
			// never clobbered with the sweep's stale copy.
			e.mu.Lock()
			if e.Status == StatusActive {
				e.Status = StatusAbandoned
			}
			snap, seq := snapshotLocked(e)
			e.mu.Unlock()
			persistAsync(l.store, nil, e, snap, seq, "")
		} else {
			rec.Status = string(StatusAbandoned)
			if err := l.store.Save(ctx, rec); err != nil {
				obslog.L().Error("sweep_save_error", zap.String("game_id", rec.GameID), zap.Error(err))
				continue
			}
		}
		obslog.L().Info("session_abandon", zap.String("game_id", rec.GameID))
	}
}

// RunSweeper runs Sweep on a fixed interval until ctx is done.
func (l *Lifecycle) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(ctx)
		}
	}
}

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// genCode returns a 6-character uppercase alphanumeric session code.
func genCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeLetters[int(b[i])%len(codeLetters)]
	}
	return string(b), nil
}
