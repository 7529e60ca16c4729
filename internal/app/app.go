// Package app initializes and holds the long-lived services of the crawler,
// acting as the dependency injection container built once at startup.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/blob"
	"github.com/vkadlec/orgscraper/internal/blob/gcs"
	"github.com/vkadlec/orgscraper/internal/blob/local"
	"github.com/vkadlec/orgscraper/internal/blob/memory"
	"github.com/vkadlec/orgscraper/internal/config"
	"github.com/vkadlec/orgscraper/internal/crawler"
	"github.com/vkadlec/orgscraper/internal/fetch"
	"github.com/vkadlec/orgscraper/internal/logging"
	"github.com/vkadlec/orgscraper/internal/publisher"
	memorypub "github.com/vkadlec/orgscraper/internal/publisher/memory"
	pubsubpub "github.com/vkadlec/orgscraper/internal/publisher/pubsub"
	"github.com/vkadlec/orgscraper/internal/session"
	"github.com/vkadlec/orgscraper/internal/session/postgres"
	"github.com/vkadlec/orgscraper/internal/session/sqlite"
)

// App holds the shared services: logger, session manager, fetcher, and the
// optional completion-event publisher. Per-run state (frontier, robots
// cache, artifact store) is built fresh for every organization crawl and
// never lives here.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     session.Store
	Sessions  *session.Manager
	Fetcher   *fetch.Fetcher
	Publisher publisher.Publisher

	gcsClient *gcstorage.Client
	psClient  *pubsub.Client
	closers   []func() error
}

// New builds the container from configuration, failing fast when any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	crawler.InitMetrics()

	a := &App{Config: cfg, Logger: logger}

	if err := a.initSessionStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	manager, err := session.NewManager(a.Store, logger, session.WithBaseDir(cfg.Inputs.OutputDir))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init session manager: %w", err)
	}
	a.Sessions = manager

	a.Fetcher = fetch.New(fetch.Config{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		MaxBody:   int(cfg.Fetch.MaxBodyBytes),
	})

	if err := a.initPublisher(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Storage.Provider == "gcs" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		a.closers = append(a.closers, client.Close)
	}

	logger.Info("application services initialized",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.Bool("pubsub_enabled", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) initSessionStore(ctx context.Context, cfg config.Config) error {
	switch cfg.DB.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.DB.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite session store: %w", err)
		}
		a.Store = store
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("open postgres session store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close() //nolint:errcheck // already failing
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
		a.Store = store
	default:
		return fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
	a.closers = append(a.closers, a.Store.Close)
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	if !cfg.PubSub.Enabled {
		a.Publisher = memorypub.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.psClient = client
	a.closers = append(a.closers, client.Close)
	a.Publisher = pubsubpub.New(client.Topic(cfg.PubSub.TopicName))
	return nil
}

// BlobStore builds the blob backend for one session's artifacts. Local runs
// write under the session output directory; GCS runs key objects by session
// id under the configured prefix.
func (a *App) BlobStore(outputDir, sessionID string) (blob.BlobStore, error) {
	switch a.Config.Storage.Provider {
	case "local":
		store, err := local.New(local.Config{BaseDir: outputDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		prefix := sessionID
		if a.Config.Storage.Prefix != "" {
			prefix = a.Config.Storage.Prefix + "/" + sessionID
		}
		return gcs.New(a.gcsClient, gcs.Config{
			Bucket: a.Config.Storage.GCSBucket,
			Prefix: prefix,
		})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", a.Config.Storage.Provider)
	}
}

// Close releases every held resource in reverse initialization order.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Logger != nil {
		a.Logger.Sync() //nolint:errcheck // best-effort flush
	}
	return firstErr
}
