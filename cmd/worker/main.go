package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/intranet-sync/internal/app"
	"github.com/dvloznov/intranet-sync/internal/config"
	"github.com/dvloznov/intranet-sync/internal/jobs"
	"github.com/dvloznov/intranet-sync/internal/jobs/inmemory"
	"github.com/dvloznov/intranet-sync/internal/logger"
)

func main() {
	cfg := config.LoadConfig()

	schedule := flag.Duration("schedule", cfg.Sync.Schedule, "Interval between scheduled syncs (or set SYNC_SCHEDULE)")
	months := flag.Int("months", cfg.Sync.DefaultMonths, "Look-back window of scheduled syncs in months")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSONLogs()})

	if *schedule <= 0 {
		log.Fatal().Dur("schedule", *schedule).Msg("-schedule must be a positive duration")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	services, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	worker := jobs.NewSyncWorker(services.Syncer, jobQueue, cfg.Sync.MaxContinues)
	if err := jobQueue.Start(ctx, worker.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler := jobs.NewScheduler(jobQueue, *schedule, *months)
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Scheduler stopped")
		}
	}()

	log.Info().Dur("schedule", *schedule).Int("months", *months).Msg("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	services.Syncer.Registry().CancelAll()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
