package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	url := fmt.Sprintf("redis://%s/0", mr.Addr())
	s, err := Open(context.Background(), url, time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := &Record{
		GameID: "ABC123",
		FEN:    "startpos",
		Players: []PlayerRef{
			{ConnectionRef: "c1", Color: "white", Platform: "web"},
		},
		Status:       "waiting",
		LastActivity: time.Now().UTC().Truncate(time.Second),
		MovesUCI:     []string{},
		MovesSAN:     []string{},
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "ABC123")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.GameID != rec.GameID || got.Status != rec.Status || len(got.Players) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Load(context.Background(), "NOPE99")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing record, got %+v", got)
	}
}

func TestClaim(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "DUP111")
	if err != nil || !ok {
		t.Fatalf("first Claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.Claim(ctx, "DUP111")
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim of same code to fail")
	}
	// a claimed-but-never-saved code reads as absent
	got, err := s.Load(ctx, "DUP111")
	if err != nil || got != nil {
		t.Fatalf("expected placeholder to read as nil, got %+v err=%v", got, err)
	}
}

func TestSaveSetsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	rec := &Record{GameID: "TTL000", FEN: "startpos", Status: "waiting", LastActivity: time.Now()}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("game:TTL000"); ttl <= 0 {
		t.Fatalf("expected positive TTL, got %v", ttl)
	}
}

func TestStaleActive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	recs := []*Record{
		{GameID: "OLD001", Status: "active", LastActivity: now.Add(-2 * time.Hour)},
		{GameID: "NEW001", Status: "active", LastActivity: now},
		{GameID: "DONE01", Status: "completed", LastActivity: now.Add(-2 * time.Hour)},
	}
	for _, r := range recs {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save %s: %v", r.GameID, err)
		}
	}
	stale, err := s.StaleActive(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StaleActive: %v", err)
	}
	if len(stale) != 1 || stale[0].GameID != "OLD001" {
		t.Fatalf("expected only OLD001 stale, got %+v", stale)
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	rec := &Record{GameID: "DEL001", Status: "waiting", LastActivity: time.Now()}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, "DEL001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := s.Load(ctx, "DEL001")
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}
