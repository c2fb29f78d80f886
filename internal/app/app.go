// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
	catalogmemory "github.com/JakeFAU/trailcam-archiver/internal/catalog/memory"
	"github.com/JakeFAU/trailcam-archiver/internal/catalog/postgres"
	"github.com/JakeFAU/trailcam-archiver/internal/clock/system"
	"github.com/JakeFAU/trailcam-archiver/internal/config"
	"github.com/JakeFAU/trailcam-archiver/internal/credentials"
	"github.com/JakeFAU/trailcam-archiver/internal/hash/sha256"
	"github.com/JakeFAU/trailcam-archiver/internal/id/uuid"
	"github.com/JakeFAU/trailcam-archiver/internal/metrics"
	"github.com/JakeFAU/trailcam-archiver/internal/pipeline"
	memorypublisher "github.com/JakeFAU/trailcam-archiver/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/trailcam-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/trailcam-archiver/internal/publisher/rabbitmq"
	"github.com/JakeFAU/trailcam-archiver/internal/source/fake"
	"github.com/JakeFAU/trailcam-archiver/internal/source/reveal"
	"github.com/JakeFAU/trailcam-archiver/internal/staging"
	"github.com/JakeFAU/trailcam-archiver/internal/storage"
	"github.com/JakeFAU/trailcam-archiver/internal/writer"
)

// Catalog is the record catalog plus its run lock.
type Catalog interface {
	archive.Catalog
	archive.RunLocker
	Close()
}

// Publisher is an event publisher that must be closed.
type Publisher interface {
	archive.Publisher
	Close() error
}

// Source is an open upstream session.
type Source interface {
	archive.Source
	pipeline.Snapshotter
}

// SourceFactory opens a fresh upstream session for one run.
type SourceFactory func(ctx context.Context) (Source, error)

// SyncOptions are the per-invocation knobs supplied on the command line.
type SyncOptions struct {
	Force       bool
	Jump        int
	Target      int
	MaxAttempts int
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and handed to the commands.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	catalog   Catalog
	store     *storage.Store
	publisher Publisher
	stage     *staging.Dir
	sources   SourceFactory
	location  *time.Location
	ops       *metrics.Server
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetCatalog exposes the configured catalog.
func (a *App) GetCatalog() Catalog {
	return a.catalog
}

// GetStore exposes the configured object store.
func (a *App) GetStore() archive.ObjectStore {
	return a.store
}

// GetPublisher returns the event publisher, or nil when notifications are off.
func (a *App) GetPublisher() Publisher {
	return a.publisher
}

// GetConfig returns the configuration the app was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// New creates and initializes an App from cfg. It fails fast if any
// critical service cannot be initialized; services built before the
// failure are released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	logger.Info("initializing application services")

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.location, err = cfg.Location(); err != nil {
		return nil, err
	}

	if a.stage, err = staging.New(cfg.Staging.Dir); err != nil {
		return nil, fmt.Errorf("failed to initialize staging: %w", err)
	}

	if a.catalog, err = newCatalog(ctx, cfg.Catalog, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	a.store, err = storage.New(ctx, storage.Config{
		Provider:      cfg.Storage.Provider,
		Bucket:        cfg.Storage.Bucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		PredefinedACL: cfg.Storage.PredefinedACL,
		LocalDir:      cfg.Storage.LocalDir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if a.publisher, err = newPublisher(ctx, cfg.Notify, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}

	if a.sources, err = newSourceFactory(cfg, a.stage, logger); err != nil {
		return nil, err
	}

	if cfg.Metrics.ListenAddr != "" {
		a.ops = metrics.Start(cfg.Metrics.ListenAddr, logger.Named("ops"))
	}

	logger.Info("application services initialized")
	return a, nil
}

func newCatalog(ctx context.Context, cfg config.CatalogConfig, logger *zap.Logger) (Catalog, error) {
	switch cfg.Provider {
	case "postgres":
		logger.Info("connecting to postgres catalog")
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			QueryTimeout:    cfg.QueryTimeout,
			LockTTL:         cfg.LockTTL,
		})
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	case "memory":
		logger.Info("using in-memory catalog; records are discarded on exit")
		return catalogmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown catalog provider: %s", cfg.Provider)
	}
}

func newPublisher(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		logger.Info("connecting to pub/sub", zap.String("topic", cfg.Topic))
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("%w: create pubsub client: %w", archive.ErrFatalConnectivity, err)
		}
		return pubsubpublisher.New(client, cfg.Topic), nil
	case "rabbitmq":
		logger.Info("connecting to rabbitmq", zap.String("exchange", cfg.RabbitMQ.Exchange))
		pub, err := rabbitmq.New(rabbitmq.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger.Named("rabbitmq"))
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Provider)
	}
}

func limits(cfg config.DownloadConfig) staging.Limits {
	return staging.Limits{
		MinBytes:     cfg.MinBytes,
		MaxBytes:     cfg.MaxBytes,
		AllowedTypes: cfg.AllowedTypes,
	}
}

func newSourceFactory(cfg config.Config, stage *staging.Dir, logger *zap.Logger) (SourceFactory, error) {
	switch cfg.Source.Provider {
	case "reveal":
		creds := credentialChain(cfg.Credentials)
		rcfg := reveal.Config{
			LoginURL:          cfg.Source.LoginURL,
			Headless:          cfg.Source.Headless,
			UserAgent:         cfg.Source.UserAgent,
			NavigationTimeout: cfg.Navigation.Timeout,
			SettleTimeout:     cfg.Navigation.SettleTimeout,
			PollInterval:      cfg.Navigation.PollInterval,
			RatePerSecond:     cfg.Navigation.RatePerSecond,
			DownloadTimeout:   cfg.Download.Timeout,
			Limits:            limits(cfg.Download),
		}
		return func(ctx context.Context) (Source, error) {
			session, err := reveal.New(ctx, rcfg, creds, stage, logger)
			if err != nil {
				return nil, err
			}
			return session, nil
		}, nil
	case "fake":
		n := cfg.Source.DemoRecords
		lim := limits(cfg.Download)
		return func(context.Context) (Source, error) {
			return fake.New(stage.Downloads(), fake.Demo(n)...).WithLimits(lim), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown source provider: %s", cfg.Source.Provider)
	}
}

// credentialChain prefers explicit config/env credentials, then the keyring.
func credentialChain(cfg config.CredentialsConfig) credentials.Provider {
	chain := credentials.Chain{credentials.NewStatic(cfg.Username, cfg.Password)}
	if cfg.UseKeyring {
		chain = append(chain, credentials.NewKeyring(cfg.KeyringService, cfg.Username))
	}
	return chain
}

// Migrate applies the catalog schema. The in-memory catalog needs none.
func (a *App) Migrate(ctx context.Context) error {
	migrator, ok := a.catalog.(interface{ EnsureSchema(context.Context) error })
	if !ok {
		a.logger.Info("catalog has no schema to apply")
		return nil
	}
	if err := migrator.EnsureSchema(ctx); err != nil {
		return err
	}
	a.logger.Info("catalog schema applied")
	return nil
}

// Sync opens a source session and runs one sync against it. The returned
// error reports runs that could not start; the Summary describes the rest.
func (a *App) Sync(ctx context.Context, opts SyncOptions) (pipeline.Summary, error) {
	src, err := a.sources(ctx)
	if err != nil {
		metrics.ObserveRun(string(pipeline.StateFailed), false, 0, time.Now())
		return pipeline.Summary{State: pipeline.StateFailed, Err: err}, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			a.logger.Warn("failed to close source", zap.Error(cerr))
		}
	}()

	ids := uuid.New()
	clock := system.NewIn(a.location)
	w, err := writer.New(a.catalog, a.store, ids, clock, writer.Config{
		Prefix:         a.cfg.Upload.Prefix,
		CacheControl:   a.cfg.Upload.CacheControl,
		UploadTimeout:  a.cfg.Upload.Timeout,
		UploadAttempts: a.cfg.Upload.MaxAttempts,
		RetryDelay:     a.cfg.Upload.RetryDelay,
		CatalogTimeout: a.cfg.Catalog.QueryTimeout,
	}, a.logger)
	if err != nil {
		return pipeline.Summary{}, err
	}

	deps := pipeline.Deps{
		Navigator: src,
		Extractor: src,
		Fetcher:   src,
		Catalog:   a.catalog,
		Committer: w,
		Hasher:    sha256.New(),
		Clock:     clock,
		IDs:       ids,
		Locker:    a.catalog,
		Staging:   a.stage,
		Snapshots: src,
		Logger:    a.logger,
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}

	maxAttempts := a.cfg.Sync.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	target := a.cfg.Sync.Target
	if opts.Target > 0 {
		target = opts.Target
	}
	orch, err := pipeline.New(deps, pipeline.Options{
		Target:            target,
		MaxAttempts:       maxAttempts,
		Jump:              opts.Jump,
		Force:             opts.Force,
		NavigationRetries: a.cfg.Navigation.MaxRetries,
		NavigationBackoff: a.cfg.Navigation.RetryBackoff,
		Topic:             a.cfg.Notify.Topic,
		Location:          a.location,
	})
	if err != nil {
		return pipeline.Summary{}, err
	}

	summary, err := orch.Run(ctx)
	a.pushMetrics()
	return summary, err
}

func (a *App) pushMetrics() {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("failed to push metrics", zap.Error(err))
	}
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.ops != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.ops.Shutdown(ctx); err != nil {
			a.logger.Warn("error stopping ops server", zap.Error(err))
		}
		cancel()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("error closing publisher", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing object store", zap.Error(err))
		}
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	_ = a.logger.Sync() //nolint:errcheck // stdout/stderr sync fails on some platforms
}
