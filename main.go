package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridmemory/assets"
	"github.com/robalobadob/gridmemory/internal/config"
	"github.com/robalobadob/gridmemory/internal/database"
	"github.com/robalobadob/gridmemory/internal/httpserver"
	"github.com/robalobadob/gridmemory/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)
	if cfg.InsecureSecret() {
		log.Warn().Msg("JWT_SECRET not set; using development secret")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer db.Close()
	if err := database.Migrate(db, assets.Migrations); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	sessions := store.NewMemoryStore()
	srv := httpserver.New(cfg, sessions, db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepIdle(ctx, sessions, cfg.SessionTTL)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting gridmemory server")
		if err := srv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	// Hijacked WebSocket connections outlive http.Server.Shutdown; closing
	// every session drops them.
	n := sessions.Sweep(shutdownCtx, time.Now().Add(time.Hour))
	log.Info().Int("sessions", n).Msg("stopped")
}

func setupLogging(cfg config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if !cfg.Production {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// sweepIdle drops sessions nobody has touched for ttl.
func sweepIdle(ctx context.Context, sessions store.Store, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := sessions.Sweep(ctx, now.Add(-ttl)); n > 0 {
				log.Info().Int("swept", n).Int("live", sessions.Len()).Msg("idle sessions closed")
			}
		}
	}
}
