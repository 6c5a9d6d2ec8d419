package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("CHESSLINK_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without REDIS_URL")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "listen_addr: \":9000\"\nredis_url: redis://file:6379\nengine_skill_level: 3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHESSLINK_CONFIG", path)
	t.Setenv("REDIS_URL", "redis://env:6379")
	t.Setenv("DISCONNECT_GRACE", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("ListenAddr = %q, want :9000", cfg.ListenAddr)
	}
	if cfg.RedisURL != "redis://env:6379" {
		t.Fatalf("RedisURL = %q, env should win", cfg.RedisURL)
	}
	if cfg.EngineSkillLevel != 3 {
		t.Fatalf("EngineSkillLevel = %d, want 3", cfg.EngineSkillLevel)
	}
	if cfg.DisconnectGrace != 45*time.Second {
		t.Fatalf("DisconnectGrace = %v, want 45s", cfg.DisconnectGrace)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHESSLINK_CONFIG", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("DISCONNECT_GRACE", "")
	t.Setenv("ENGINE_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DisconnectGrace != 30*time.Second {
		t.Fatalf("DisconnectGrace = %v, want 30s", cfg.DisconnectGrace)
	}
	if cfg.EngineTimeout != 5*time.Second {
		t.Fatalf("EngineTimeout = %v, want 5s", cfg.EngineTimeout)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
}
