// Package board wraps the chess rules engine behind the narrow surface the
// session layer needs: load/serialize a position, apply a move, enumerate
// legal destinations, and report turn and terminal state. Callers that want
// to probe a move without committing must Clone first.
package board

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the canonical initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Move is a square-pair move request with an optional promotion piece.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the move in engine notation (e2e4, e7e8q).
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// ParseUCI splits a wire move like "e2e4" or "e7e8q" into a Move. Shape only;
// legality is checked when the move is applied.
func ParseUCI(s string) (Move, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 4 || len(s) > 5 {
		return Move{}, false
	}
	ok := func(sq string) bool {
		return sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
	}
	if !ok(s[0:2]) || !ok(s[2:4]) {
		return Move{}, false
	}
	mv := Move{From: s[0:2], To: s[2:4]}
	if len(s) == 5 {
		switch s[4] {
		case 'q', 'r', 'b', 'n':
			mv.Promotion = s[4:5]
		default:
			return Move{}, false
		}
	}
	return mv, true
}

// MoveResult describes a successfully applied move.
type MoveResult struct {
	UCI string
	SAN string
	FEN string
}

// Terminal holds the end-of-game flags after the last applied move.
type Terminal struct {
	Checkmate            bool
	Stalemate            bool
	InsufficientMaterial bool
	ThreefoldRepetition  bool
	Draw                 bool
}

// Over reports whether any terminal condition holds.
func (t Terminal) Over() bool {
	return t.Checkmate || t.Draw
}

// Board is a live position. It is not safe for concurrent use; the session
// registry serializes access per game.
type Board struct {
	game *nchess.Game
}

// Load builds a Board from a FEN string. Empty or "startpos" yields the
// initial position.
func Load(fen string) (*Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return &Board{game: nchess.NewGame()}, nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &Board{game: nchess.NewGame(option)}, nil
}

// Replay rebuilds a board by applying UCI moves from the initial position.
func Replay(moves []string) (*Board, error) {
	b := &Board{game: nchess.NewGame()}
	for _, mv := range moves {
		if err := b.game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %q: %w", mv, err)
		}
	}
	return b, nil
}

// Clone returns an independent copy of the board.
func (b *Board) Clone() *Board {
	return &Board{game: b.game.Clone()}
}

// FEN serializes the current position.
func (b *Board) FEN() string {
	return b.game.FEN()
}

// Turn returns the side to move.
func (b *Board) Turn() Color {
	if b.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// ApplyMove applies mv and returns its result, or nil when the move is
// illegal in the current position. It never panics across the boundary.
func (b *Board) ApplyMove(mv Move) *MoveResult {
	uci := mv.UCI()
	if uci == "" {
		return nil
	}
	pos := b.game.Position()
	decoded, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
	if err := b.game.Move(decoded, nil); err != nil {
		return nil
	}
	return &MoveResult{UCI: uci, SAN: san, FEN: b.game.FEN()}
}

// LegalDestinations lists the target squares reachable from square in the
// current position. Unknown or empty squares yield an empty list.
func (b *Board) LegalDestinations(square string) []string {
	square = strings.ToLower(strings.TrimSpace(square))
	if square == "" {
		return nil
	}
	var out []string
	for _, mv := range b.game.ValidMoves() {
		if mv.S1().String() == square {
			out = append(out, mv.S2().String())
		}
	}
	return out
}

// Terminal inspects the game outcome and returns the terminal flags.
func (b *Board) Terminal() Terminal {
	var t Terminal
	switch b.game.Outcome() {
	case nchess.NoOutcome:
		// Repetition is claim-based in the rules engine: Outcome stays
		// open until a draw is claimed, so check eligibility directly and
		// treat the third occurrence as final.
		for _, m := range b.game.EligibleDraws() {
			if m == nchess.ThreefoldRepetition {
				t.ThreefoldRepetition = true
				t.Draw = true
			}
		}
		return t
	case nchess.Draw:
		t.Draw = true
	default:
		// decided game; method below distinguishes checkmate
	}
	switch b.game.Method() {
	case nchess.Checkmate:
		t.Checkmate = true
	case nchess.Stalemate:
		t.Stalemate = true
		t.Draw = true
	case nchess.InsufficientMaterial:
		t.InsufficientMaterial = true
		t.Draw = true
	case nchess.ThreefoldRepetition:
		t.ThreefoldRepetition = true
		t.Draw = true
	}
	return t
}

// Winner returns the winning color after checkmate: the side that just moved.
func (b *Board) Winner() Color {
	return b.Turn().Opponent()
}
