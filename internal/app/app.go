// Package app is the composition root: it builds the storage, data,
// scheduler, live engine and HTTP layers from configuration and runs
// them until shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/api"
	"github.com/tradeforge/tradeforge/internal/broker/mock"
	"github.com/tradeforge/tradeforge/internal/config"
	"github.com/tradeforge/tradeforge/internal/job"
	"github.com/tradeforge/tradeforge/internal/live"
	"github.com/tradeforge/tradeforge/internal/marketdata"
	"github.com/tradeforge/tradeforge/internal/metrics"
	"github.com/tradeforge/tradeforge/internal/notifier"
	"github.com/tradeforge/tradeforge/internal/optimize"
	"github.com/tradeforge/tradeforge/internal/storage"
	"github.com/tradeforge/tradeforge/internal/storage/archive"
)

// App holds the wired components.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	server *api.Server

	repo      *storage.Repository
	scheduler *optimize.Scheduler
	engine    *live.Engine
	cancel    context.CancelFunc
}

// New wires the application from configuration.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	repo := storage.NewRepository(db)

	backend, err := buildArchiveBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("building archive: %w", err)
	}
	results := archive.New(backend)

	var jobs job.Store = storage.NewGormJobStore(db)
	jobs = newResultSink(jobs, repo, results, log)

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("building data provider: %w", err)
	}

	reg := metrics.NewRegistry()
	scheduler := optimize.NewScheduler(optimize.Config{
		Workers:                cfg.Scheduler.Workers,
		QueueSize:              cfg.Scheduler.QueueSize,
		DefaultTrials:          cfg.Scheduler.DefaultTrials,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
	}, jobs, provider, reg, log)

	var notify notifier.Notifier = notifier.Nop{}
	if cfg.Notify.WebhookURL != "" {
		notify = notifier.NewWebhook(cfg.Notify.WebhookURL)
	}

	var engine *live.Engine
	if cfg.Live.Enabled {
		engine = live.NewEngine(provider, mock.New(), repo, notify, reg, log)
	}

	server := api.NewServer(api.Config{
		Addr:        cfg.Server.Addr(),
		MetricsPath: cfg.Metrics.Path,
	}, repo, jobs, scheduler, engine, reg, log)

	return &App{
		cfg:       cfg,
		log:       log,
		server:    server,
		repo:      repo,
		scheduler: scheduler,
		engine:    engine,
	}, nil
}

// Start launches the scheduler workers, the live engine and the HTTP
// server. It returns once the server stops listening.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.scheduler.Start(ctx)
	if a.engine != nil {
		a.engine.Start(ctx)
		if err := a.restoreSettings(ctx); err != nil {
			a.log.Warn("restoring live settings", zap.Error(err))
		}
	}
	return a.server.Start()
}

// Shutdown stops the HTTP server, the workers and the live engine.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	if a.engine != nil {
		a.engine.Stop()
	}
	a.scheduler.Wait()
	return err
}

// restoreSettings reloads persisted live settings into the engine so
// enabled strategies resume after a restart.
func (a *App) restoreSettings(ctx context.Context) error {
	stored, err := a.repo.ListSettings(ctx)
	if err != nil {
		return err
	}
	for _, s := range stored {
		if err := a.engine.Upsert(s); err != nil {
			a.log.Warn("skipping stored setting",
				zap.String("setting_id", s.ID), zap.Error(err))
		}
	}
	return nil
}

func buildProvider(cfg *config.Config) (marketdata.Provider, error) {
	var provider marketdata.Provider
	switch cfg.Data.Provider {
	case "csv":
		provider = marketdata.NewCSVProvider(cfg.Data.CSVDir)
	default:
		provider = marketdata.NewKlineProvider()
	}
	ttl := cfg.Data.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return marketdata.NewCachedProvider(provider, ttl), nil
}

func buildArchiveBackend(cfg *config.Config) (archive.Backend, error) {
	if cfg.Archive.Type == "s3" {
		return archive.NewS3(archive.S3Config{
			Bucket:    cfg.Archive.S3.Bucket,
			Endpoint:  cfg.Archive.S3.Endpoint,
			Region:    cfg.Archive.S3.Region,
			AccessKey: cfg.Archive.S3.AccessKey,
			SecretKey: cfg.Archive.S3.SecretKey,
			Prefix:    cfg.Archive.S3.Prefix,
		})
	}
	return archive.NewLocalFS(cfg.Archive.Path)
}
