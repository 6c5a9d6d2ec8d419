// Package session holds the live multiplayer state: the registry of running
// games, the move coordinator, and the lifecycle manager that drives
// create/join/resign/draw/disconnect transitions.
package session

import (
	"time"

	"github.com/jykim-dev/chesslink/internal/board"
)

// Status is a session lifecycle state. Transitions are monotonic:
// waiting → active → {completed, abandoned}.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Result is the outcome of a completed session.
type Result string

const (
	ResultWhite Result = "white"
	ResultBlack Result = "black"
	ResultDraw  Result = "draw"
)

func winnerResult(c board.Color) Result {
	if c == board.White {
		return ResultWhite
	}
	return ResultBlack
}

// Binding associates one live connection with a session seat. It is
// immutable after creation and destroyed when the connection closes.
type Binding struct {
	ConnID   string
	Code     string
	Color    board.Color
	Platform string
}

// DrawOffer records a pending draw offer. Cleared on accept, decline, or any
// subsequent move.
type DrawOffer struct {
	By board.Color
}

// EndInfo describes a terminal transition for broadcast.
type EndInfo struct {
	Code   string
	Result Result
	Reason string
}

// CreateInfo is returned to the creator of a fresh session.
type CreateInfo struct {
	Code  string
	Color board.Color
}

// JoinInfo is returned to the second participant.
type JoinInfo struct {
	Code             string
	Color            board.Color
	FEN              string
	OpponentPlatform string
	Platform         string
}

// DrawInfo identifies a draw offer or decline for broadcast.
type DrawInfo struct {
	Code string
	From board.Color
}

// DisconnectInfo reports an unbind for opponent notification.
type DisconnectInfo struct {
	Code      string
	Remaining int
}

// MoveOutcome is the result of an accepted move.
type MoveOutcome struct {
	UCI      string
	SAN      string
	FEN      string
	Terminal *EndInfo // nil while the game continues
}

const (
	defaultGrace     = 30 * time.Second
	defaultRetention = 24 * time.Hour
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

func errf(s string) error { return staticErr(s) }

var (
	ErrNotFound       = errf("session not found")
	ErrDuplicateCode  = errf("session code already in use")
	ErrFull           = errf("session already has two participants")
	ErrAlreadyBound   = errf("connection already bound to a session")
	ErrNotParticipant = errf("connection is not a participant of this session")
	ErrNotStarted     = errf("session is not active yet")
	ErrNotYourTurn    = errf("not your turn")
	ErrIllegalMove    = errf("illegal move")
	ErrGameOver       = errf("game is already over")
	ErrNoDrawOffer    = errf("no pending draw offer")
	ErrDrawPending    = errf("draw offer already pending")
	ErrCodeExhausted  = errf("could not allocate a session code")
)
