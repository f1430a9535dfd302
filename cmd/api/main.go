package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/intranet-sync/internal/api/handlers"
	"github.com/dvloznov/intranet-sync/internal/api/middleware"
	"github.com/dvloznov/intranet-sync/internal/app"
	"github.com/dvloznov/intranet-sync/internal/auth"
	"github.com/dvloznov/intranet-sync/internal/config"
	"github.com/dvloznov/intranet-sync/internal/jobs"
	"github.com/dvloznov/intranet-sync/internal/jobs/inmemory"
	"github.com/dvloznov/intranet-sync/internal/logger"
)

func main() {
	cfg := config.LoadConfig()

	port := flag.Int("port", cfg.Server.Port, "HTTP server port (or set SERVER_PORT)")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSONLogs()})
	ctx := logger.WithContext(context.Background(), log)

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("No JWT_SECRET configured - every authenticated endpoint will answer 401")
	}
	if cfg.ADVBox.APIToken == "" {
		log.Warn().Msg("No ADVBOX_API_TOKEN configured - financial sync will fail")
	}

	services, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Close()

	// Background sync runs share the process with the HTTP server.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	worker := jobs.NewSyncWorker(services.Syncer, jobQueue, cfg.Sync.MaxContinues)
	if err := jobQueue.Start(workerCtx, worker.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}
	log.Info().Msg("Job worker started")

	mux := http.NewServeMux()
	handlers.Routes{
		Sync:    handlers.NewSyncHandler(services.Syncer, jobQueue, log),
		Webhook: handlers.NewWebhookHandler(services.Processor, cfg.ZAPI.ClientToken, log),
		Jobs:    handlers.NewJobsHandler(jobStore, log),
	}.Register(mux)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer))(mux),
				),
			),
		),
	)

	// The sync budget must fit inside the write timeout.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Sync.Budget + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Str("store", cfg.Store.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// An in-flight sync saves its offset when cancelled.
	services.Syncer.Registry().CancelAll()
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
