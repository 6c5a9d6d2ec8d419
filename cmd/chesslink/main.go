package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/jykim-dev/chesslink/internal/config"
	"github.com/jykim-dev/chesslink/internal/engine"
	"github.com/jykim-dev/chesslink/internal/gateway"
	"github.com/jykim-dev/chesslink/internal/obslog"
	"github.com/jykim-dev/chesslink/internal/session"
	"github.com/jykim-dev/chesslink/internal/store"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	st, err := store.Open(rootCtx, cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	defer st.Close()

	// Game archive is optional: without DATABASE_URL finished games only
	// live in redis until their TTL runs out.
	var archive *session.Archive
	if cfg.DatabaseURL != "" {
		archive, err = session.NewArchive(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer archive.Close()
	}

	// Engine is optional too; requestAIMove fails fast when absent.
	var searcher engine.Searcher
	if cfg.StockfishPath != "" {
		uciEngine, err := engine.NewUCIEngine(rootCtx, cfg.StockfishPath, engine.Options{
			Threads:        cfg.EngineThreads,
			HashMB:         cfg.EngineHashMB,
			SkillLevel:     cfg.EngineSkillLevel,
			MoveTimeMillis: cfg.EngineMoveTimeMS,
		})
		if err != nil {
			log.Fatalf("engine init error: %v", err)
		}
		defer uciEngine.Close()
		searcher = uciEngine
	}
	broker := engine.NewBroker(searcher, cfg.EngineTimeout)

	reg := session.NewRegistry()
	life := session.NewLifecycle(reg, st, archive, cfg.DisconnectGrace, cfg.StaleRetention)
	coord := session.NewCoordinator(reg, st, archive)
	gw := gateway.New(life, coord, reg, broker, cfg.AllowedOrigins)

	go life.RunSweeper(rootCtx, cfg.SweepInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.ServeWS)
	mux.HandleFunc("/healthz", gateway.Healthz)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Bool("engine", broker.Available()),
			zap.Bool("archive", archive != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("shutting down")

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
