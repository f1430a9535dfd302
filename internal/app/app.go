// Package app wires configuration into the services shared by the api,
// worker and cli binaries.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/intranet-sync/internal/advboxsync"
	"github.com/dvloznov/intranet-sync/internal/config"
	"github.com/dvloznov/intranet-sync/internal/gcsarchive"
	infraBQ "github.com/dvloznov/intranet-sync/internal/infra/bigquery"
	"github.com/dvloznov/intranet-sync/internal/infra/postgres"
	"github.com/dvloznov/intranet-sync/internal/logger"
	"github.com/dvloznov/intranet-sync/internal/store"
	"github.com/dvloznov/intranet-sync/internal/store/memory"
	"github.com/dvloznov/intranet-sync/internal/zapi"
)

// App holds the long-lived services built from a Config.
type App struct {
	Config    *config.Config
	Store     store.Store
	Syncer    *advboxsync.Syncer
	Processor *zapi.Processor

	closers []func() error
}

// New opens the configured store and builds the sync and webhook services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Store: st, closers: []func() error{st.Close}}

	a.Syncer = advboxsync.NewSyncer(Source(cfg), st, SyncOptions(cfg))

	if cfg.Archive.Bucket != "" {
		gcs, err := gcsarchive.NewGCSStorageService(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, gcs.Close)
		a.Syncer.WithArchiver(gcsarchive.New(gcs, cfg.Archive.Bucket, cfg.Archive.Prefix))
	}

	a.Processor = zapi.NewProcessor(st)
	return a, nil
}

// Close releases every resource opened by New, in reverse order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenStore connects to the backend named by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	log := logger.FromContext(ctx)

	switch cfg.Store.Backend {
	case config.BackendBigQuery:
		st, err := infraBQ.New(ctx, cfg.Store.BigQueryProject, cfg.Store.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		log.Info().Str("project", cfg.Store.BigQueryProject).Str("dataset", cfg.Store.BigQueryDataset).Msg("Using BigQuery store")
		return st, nil

	case config.BackendPostgres:
		st, err := postgres.Open(ctx, cfg.Store.Database.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		if cfg.Store.Database.AutoMigrate {
			n, err := st.Migrate(ctx)
			if err != nil {
				st.Close()
				return nil, fmt.Errorf("OpenStore: %w", err)
			}
			log.Info().Int("applied", n).Msg("Postgres migrations checked")
		}
		log.Info().Msg("Using Postgres store")
		return st, nil

	case config.BackendMemory:
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		return memory.New(), nil
	}

	return nil, fmt.Errorf("OpenStore: unknown backend %q", cfg.Store.Backend)
}

// Source returns the ADVBox client, or nil when no token is configured so
// that runs fail with advboxsync.ErrMissingCredential.
func Source(cfg *config.Config) advboxsync.TransactionSource {
	if cfg.ADVBox.APIToken == "" {
		return nil
	}
	return advboxsync.NewClient(cfg.ADVBox.BaseURL, cfg.ADVBox.APIToken, cfg.ADVBox.RequestTimeout)
}

// SyncOptions maps the sync settings onto advboxsync.Options.
func SyncOptions(cfg *config.Config) advboxsync.Options {
	return advboxsync.Options{
		PageSize:         cfg.Sync.PageSize,
		MaxPages:         cfg.Sync.MaxPages,
		Budget:           cfg.Sync.Budget,
		PageDelay:        cfg.Sync.PageDelay,
		Lease:            cfg.Sync.Lease,
		DefaultAccountID: cfg.ADVBox.DefaultAccountID,
	}
}
