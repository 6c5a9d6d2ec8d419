// Package store persists session records in redis as JSON documents with a
// TTL-based retention window. The in-memory registry is the fast path; this
// store is the durable mirror and is only read to rehydrate or sweep.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "game:"

// PlayerRef is the persisted participant binding.
type PlayerRef struct {
	ConnectionRef string `json:"connection_ref"`
	Color         string `json:"color"`
	Platform      string `json:"platform,omitempty"`
}

// Record is the durable shape of one session.
type Record struct {
	GameID       string      `json:"game_id"`
	FEN          string      `json:"fen"`
	Players      []PlayerRef `json:"players"`
	Status       string      `json:"status"`
	LastActivity time.Time   `json:"last_activity"`
	Winner       string      `json:"winner,omitempty"`
	MovesUCI     []string    `json:"moves_uci"`
	MovesSAN     []string    `json:"moves_san"`
}

// Store wraps the redis client with the session key layout.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds a Store over an existing client. ttl bounds how long an
// inactive record survives; every save refreshes it.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Open connects to redisURL and pings the server. Callers treat a ping
// failure as fatal: serving without durable sessions is unsafe.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, ttl), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func key(code string) string { return keyPrefix + strings.TrimSpace(code) }

// Claim reserves code with a placeholder document. It returns false when the
// code is already taken, which the lifecycle manager treats as a collision
// and retries with a fresh code.
func (s *Store) Claim(ctx context.Context, code string) (bool, error) {
	return s.rdb.SetNX(ctx, key(code), []byte("{}"), s.ttl).Result()
}

// Save writes the record and refreshes its TTL so an active game never
// expires under its players.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(rec.GameID), raw, s.ttl).Err()
}

// Load returns the record for code, or nil when absent or expired.
func (s *Store) Load(ctx context.Context, code string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, key(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.GameID == "" {
		// placeholder from Claim that never got its first Save
		return nil, nil
	}
	return &rec, nil
}

// Delete evicts the record.
func (s *Store) Delete(ctx context.Context, code string) error {
	return s.rdb.Del(ctx, key(code)).Err()
}

// StaleActive lists records still marked active whose last activity is older
// than cutoff. Used by the retention sweep.
func (s *Store) StaleActive(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	var out []*Record
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		code := strings.TrimPrefix(iter.Val(), keyPrefix)
		rec, err := s.Load(ctx, code)
		if err != nil || rec == nil {
			continue
		}
		if rec.Status == "active" && rec.LastActivity.Before(cutoff) {
			out = append(out, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
