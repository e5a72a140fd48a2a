/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Configure logging
  3. Initialize SQLite store
  4. Wire the ledger, points engine, referral directory and scanner
  5. Start the sweep scheduler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meridian/loyalty-engine/api"
	"github.com/meridian/loyalty-engine/config"
	"github.com/meridian/loyalty-engine/expiry"
	"github.com/meridian/loyalty-engine/ledger"
	"github.com/meridian/loyalty-engine/points"
	"github.com/meridian/loyalty-engine/referral"
	"github.com/meridian/loyalty-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	// Initialize store
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	// Wire domain components
	locks := ledger.NewLocks(cfg.LockTimeout)
	led := ledger.New(db)

	directory := referral.NewDirectory(db, referral.DirectoryConfig{
		CodeValidityDays: cfg.ReferralCodeValidDays,
		BaseURL:          cfg.BaseURL,
	}, log.Logger)
	commissions := referral.NewCommissions(db, directory, cfg.CommissionRate, log.Logger)

	engine := points.NewEngine(led, locks, directory, points.Config{
		ExpiryDays:   cfg.PointsExpiryDays,
		ReminderDays: cfg.ExpiringReminderDays,
	}, log.Logger)

	scanner := expiry.NewScanner(led, locks, expiry.LogNotifier{Log: log.Logger}, log.Logger)

	scheduler := api.NewSweepScheduler(scanner, cfg.SweepInterval, log.Logger)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP wiring
	handler := api.NewHandler(engine, directory, commissions, db, scanner, log.Logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	})
}
