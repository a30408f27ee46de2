package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xelth-com/odoopricesync/internal/audit"
	"github.com/xelth-com/odoopricesync/internal/buildinfo"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/config"
	"github.com/xelth-com/odoopricesync/internal/database"
	"github.com/xelth-com/odoopricesync/internal/dispatch"
	"github.com/xelth-com/odoopricesync/internal/handlers"
	"github.com/xelth-com/odoopricesync/internal/middleware"
	"github.com/xelth-com/odoopricesync/internal/services/odoo"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.SetupLogger(cfg.Log)

	info := buildinfo.Get()
	log.Info().Str("version", info.Version).Str("commit", info.CommitHash).Msg("starting odoo price sync")

	// 2. Initialize database (embedded vs external is detected automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	// db.Close() is called in the shutdown path below

	// 3. Schema
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}
	log.Info().Msg("schema synchronized")

	// 4. Dispatch queue, catalog and sync service
	queue, err := dispatch.New(cfg.Dispatch)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Dispatch.Driver).Msg("failed to create dispatch queue")
	}

	store := catalog.NewStore(db.DB, queue, cfg.Odoo.Currency)
	recorder := audit.NewRecorder(db.DB)

	client, err := odoo.NewSyncClient(cfg.Odoo, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create odoo client")
	}

	svc := odoo.NewSyncService(client, store, recorder,
		odoo.WithPullInterval(time.Duration(cfg.Odoo.PullInterval)*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue.Start(ctx, svc.HandlePush)
	svc.Start(ctx)
	log.Info().Str("client", client.Name()).Str("dispatch", cfg.Dispatch.Driver).Msg("sync service started")

	// 5. HTTP router
	router := handlers.NewRouter(handlers.Deps{
		Store:     store,
		Sync:      svc,
		Audit:     recorder,
		Dispatch:  cfg.Dispatch.Driver,
		JWTSecret: cfg.JWTSecret,
	})
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is not set, /api is unauthenticated")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.CaseInsensitiveMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.NodeEnv).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	sig := <-shutdown
	log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop the scheduled pull, then the workers
	svc.Stop()
	cancel()
	if err := queue.Close(); err != nil {
		log.Error().Err(err).Msg("dispatch queue close error")
	}

	// Close database (this also stops embedded PostgreSQL)
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
	}

	log.Info().Msg("shutdown complete")
}
