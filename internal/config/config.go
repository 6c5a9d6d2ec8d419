// Package config loads server settings from an optional YAML file plus
// environment variables. Env vars always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	StockfishPath    string `yaml:"stockfish_path"`
	EngineThreads    int    `yaml:"engine_threads"`
	EngineHashMB     int    `yaml:"engine_hash_mb"`
	EngineSkillLevel int    `yaml:"engine_skill_level"`
	EngineMoveTimeMS int    `yaml:"engine_move_time_ms"`

	EngineTimeout   time.Duration `yaml:"engine_timeout"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`
	StaleRetention  time.Duration `yaml:"stale_retention"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// Load builds the config from defaults, then the YAML file named by
// CHESSLINK_CONFIG (if set), then individual env vars.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8080",
		EngineThreads:    1,
		EngineHashMB:     64,
		EngineSkillLevel: 10,
		EngineMoveTimeMS: 2000,
		EngineTimeout:    5 * time.Second,
		SessionTTL:       24 * time.Hour,
		DisconnectGrace:  30 * time.Second,
		StaleRetention:   24 * time.Hour,
		SweepInterval:    time.Hour,
	}

	if path := strings.TrimSpace(os.Getenv("CHESSLINK_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		cfg.StockfishPath = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_HASH_MB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineHashMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SKILL_LEVEL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.EngineSkillLevel = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_MOVE_TIME_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineMoveTimeMS = n
		}
	}

	overrideDuration(&cfg.EngineTimeout, "ENGINE_TIMEOUT")
	overrideDuration(&cfg.SessionTTL, "SESSION_TTL")
	overrideDuration(&cfg.DisconnectGrace, "DISCONNECT_GRACE")
	overrideDuration(&cfg.StaleRetention, "STALE_RETENTION")
	overrideDuration(&cfg.SweepInterval, "SWEEP_INTERVAL")

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	return cfg, nil
}

func overrideDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
