package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/jykim-dev/chesslink/internal/store"
)

// Archive persists completed games into Postgres for later retrieval. It is
// optional; a nil Archive disables archiving.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SaveResult upserts a finished game by its id. reason is the termination
// method (checkmate, resignation, agreement, ...).
func (a *Archive) SaveResult(ctx context.Context, rec *store.Record, reason string) error {
	if a == nil || a.db == nil || rec == nil {
		return nil
	}
	pgnResult := mapResultToPGN(rec.Winner)
	pgn := buildPGN(rec, pgnResult, reason)
	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)

	q := `INSERT INTO games (
	    game_id, fen, result, result_method, moves_uci, moves_san, pgn, ended_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	  ON CONFLICT (game_id) DO UPDATE SET
	    fen=EXCLUDED.fen,
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    ended_at=EXCLUDED.ended_at`

	_, err := a.db.ExecContext(ctx, q,
		rec.GameID, rec.FEN, rec.Winner, strings.TrimSpace(reason),
		string(movesUCIRaw), string(movesSANRaw), pgn, rec.LastActivity,
	)
	return err
}

func mapResultToPGN(winner string) string {
	switch strings.ToLower(strings.TrimSpace(winner)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(rec *store.Record, pgnResult, reason string) string {
	var b strings.Builder
	date := rec.LastActivity
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"chesslink\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	if strings.TrimSpace(reason) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", strings.ToLower(reason)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(rec.MovesSAN[i])))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}
