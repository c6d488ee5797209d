package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/handler"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/normalizer"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/service"
	"github.com/FACorreiaa/wellspend/internal/domain/metrics"
	"github.com/FACorreiaa/wellspend/internal/domain/search"
	"github.com/FACorreiaa/wellspend/pkg/config"
	"github.com/FACorreiaa/wellspend/pkg/cron"
	"github.com/FACorreiaa/wellspend/pkg/db"
	"github.com/FACorreiaa/wellspend/pkg/interceptors"
	"github.com/FACorreiaa/wellspend/pkg/storage"
	"github.com/FACorreiaa/wellspend/pkg/telemetry"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB // nil when running on sqlite
	Logger *slog.Logger

	// Repositories
	Store       repository.Store
	sqlite      *repository.SQLiteRepository
	FileStorage storage.Storage
	SearchIndex *search.Index // nil when search is disabled

	// Services
	Normalizer     *normalizer.Normalizer
	Aggregator     *metrics.Aggregator
	MetricsService *metrics.Service
	IngestService  *service.Service
	Telemetry      *telemetry.Metrics
	Authenticator  *interceptors.Authenticator
	RateLimiter    *interceptors.RateLimiter
	Scheduler      *cron.Scheduler

	// Handlers
	IngestHandler *handler.IngestHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	// The index is not the source of truth; records committed while it was
	// closed, or by the offline ingest command, are picked up here.
	if deps.SearchIndex != nil {
		if _, err := deps.IngestService.RebuildSearchIndex(ctx); err != nil {
			logger.Warn("failed to rebuild search index", slog.Any("error", err))
		}
	}

	logger.Info("all dependencies initialized successfully",
		slog.String("driver", string(cfg.Database.Driver)),
		slog.String("storage", string(cfg.Storage.Type)),
		slog.Bool("search", deps.SearchIndex != nil),
	)

	return deps, nil
}

// InitStore opens only the record store. The CLI uses it for commands that
// never touch HTTP.
func InitStore(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg, Logger: logger}
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	return deps, nil
}

// initDatabase connects the configured store and brings its schema up to date.
func (d *Dependencies) initDatabase() error {
	switch d.Config.Database.Driver {
	case config.DriverSQLite:
		repo, err := repository.OpenSQLite(d.Config.Database.SQLitePath)
		if err != nil {
			return err
		}
		d.sqlite = repo
		d.Store = repo
		d.Logger.Info("sqlite store opened", slog.String("path", d.Config.Database.SQLitePath))
		return nil
	case config.DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", d.Config.Database.Driver)
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		d.DB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Store = repository.NewPostgresRepository(d.DB.Pool)
	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories opens the blob store and the search index.
func (d *Dependencies) initRepositories(ctx context.Context) error {
	fileStorage, err := storage.New(ctx, &d.Config.Storage)
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage

	if d.Config.Search.Enabled {
		index, err := search.NewIndex(d.Config.Search.IndexPath)
		if err != nil {
			return fmt.Errorf("failed to open search index: %w", err)
		}
		d.SearchIndex = index
	}

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices builds the pipeline stages and the request guards.
func (d *Dependencies) initServices() error {
	if !d.Config.Observability.TracingEnabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}
	if d.Config.Observability.MetricsEnabled {
		d.Telemetry = telemetry.NewMetrics()
	}

	d.Normalizer = normalizer.New(normalizer.Config{
		Aliases:       normalizer.DefaultAliases(),
		FuzzyDistance: d.Config.Normalizer.FuzzyDistance,
	})
	d.Aggregator = metrics.NewAggregator(d.Store, d.Logger)
	d.MetricsService = metrics.NewService(d.Store)

	d.IngestService = service.NewService(
		d.Store,
		d.FileStorage,
		d.Normalizer,
		d.Aggregator,
		service.Config{
			MaxFileSize:  d.Config.Upload.MaxFileSize,
			AllowedTypes: d.Config.Upload.AllowedTypes,
		},
		d.Logger,
	).WithMetrics(d.Telemetry)
	if d.SearchIndex != nil {
		d.IngestService.WithSearchIndex(d.SearchIndex)
	}

	// Offline commands run the pipeline without a token secret.
	if secret := d.Config.Auth.JWTSecret; secret != "" {
		d.Authenticator = interceptors.NewAuthenticator([]byte(secret), d.Logger)
	}
	d.RateLimiter = interceptors.NewRateLimiter(d.Config.Server.RateLimitPerSecond, d.Config.Server.RateLimitBurst)

	if d.Config.Sweeper.Enabled {
		d.Scheduler = cron.NewScheduler(d.Store, d.Config.Sweeper.Schedule, d.Config.Sweeper.StaleAfter, d.Logger)
	}

	d.Logger.Info("services initialized")
	return nil
}

func (d *Dependencies) initHandlers() {
	d.IngestHandler = handler.NewIngestHandler(d.IngestService, d.MetricsService, d.Config.Upload.MaxFileSize, d.Logger)
	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.SearchIndex != nil {
		if err := d.SearchIndex.Close(); err != nil {
			d.Logger.Warn("failed to close search index", slog.Any("error", err))
		}
	}
	if d.FileStorage != nil {
		if err := d.FileStorage.Close(); err != nil {
			d.Logger.Warn("failed to close file storage", slog.Any("error", err))
		}
	}
	if d.sqlite != nil {
		if err := d.sqlite.Close(); err != nil {
			d.Logger.Warn("failed to close sqlite store", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
