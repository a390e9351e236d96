package app

import (
	"context"
	"fmt"

	"github.com/appetiteclub/edge/internal/catalog"
	"github.com/appetiteclub/edge/internal/ingest"
	"github.com/appetiteclub/edge/internal/kds"
	"github.com/appetiteclub/edge/internal/metrics"
	"github.com/appetiteclub/edge/internal/outbox"
	"github.com/appetiteclub/edge/internal/remote"
	"github.com/appetiteclub/edge/internal/session"
	"github.com/appetiteclub/edge/internal/sqlite"
	"github.com/appetiteclub/edge/pkg"
	"github.com/aquamarinepk/aqm"
	aqmevents "github.com/aquamarinepk/aqm/events"
	"github.com/aquamarinepk/aqm/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	AppName    = "edge"
	AppVersion = "0.1.0"

	defaultNATSURL = "nats://localhost:4222"
)

// App wires the edge node: local store, sessions, outbox, kitchen routing
// and the front-of-house coordinator.
type App struct {
	config *aqm.Config
	logger aqm.Logger
	micro  *aqm.Micro

	Store    *sqlite.Store
	Sessions *session.Manager
	Queue    *outbox.Queue
	Engine   *kds.Engine
}

func New(config *aqm.Config, logger aqm.Logger) (*App, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &App{
		config: config,
		logger: logger,
	}, nil
}

// Initialize builds every component. Nothing touches disk or network until
// Run starts the lifecycles.
func (a *App) Initialize(ctx context.Context) error {
	storage, err := NewStorage(a.config, a.logger)
	if err != nil {
		return err
	}
	a.Store = storage.SQLite
	store, mirror := storage.KV, storage.Log
	lifecycles := storage.Lifecycles()
	a.logger.Info("local storage selected", "kv_driver", storage.Driver)

	scope, _ := a.config.GetString("remote.scope")
	a.Sessions = session.NewManager(store, scope, a.logger)
	client := remote.NewClient(remote.ConfigFrom(a.config), a.Sessions, a.logger)

	a.Queue = outbox.NewQueue(store, outbox.RemoteSender{Client: client}, a.Sessions, outbox.ConfigFrom(a.config), a.logger)
	flusher := outbox.NewFlusher(a.Queue, outbox.ConfigFrom(a.config).FlushInterval, a.logger)

	publisher, err := a.publisher()
	if err != nil {
		return err
	}
	if closer, ok := publisher.(*pkg.NATSPublisher); ok {
		lifecycles = append(lifecycles, aqm.LifecycleHooks{
			OnStop: func(context.Context) error { return closer.Close() },
		})
	}

	catalogPath, _ := a.config.GetString("kds.catalog.path")
	stations, err := catalog.Load(catalogPath)
	if err != nil {
		return err
	}
	a.logger.Info("station catalog loaded", "path", catalogPath, "skus", stations.Len())

	a.Engine = kds.NewEngine(a.Store, stations, publisher, kds.ConfigFrom(a.config), a.logger)

	coordinator := ingest.NewCoordinator(ingest.Deps{
		Mirror:   mirror,
		Remote:   client,
		Queue:    a.Queue,
		Sessions: a.Sessions,
		Kitchen:  a.Engine,

		Publisher: publisher,
	}, a.logger)

	// Sessions are verified once the store is open; the flusher starts after
	// so its first pass already sees them.
	lifecycles = append(lifecycles,
		aqm.LifecycleHooks{
			OnStart: func(ctx context.Context) error {
				if err := a.Sessions.Bootstrap(ctx, client); err != nil {
					a.logger.Errorf("session bootstrap failed (non-fatal): %v", err)
				}
				return nil
			},
		},
		flusher,
	)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})

	options := []aqm.Option{
		aqm.WithConfig(a.config),
		aqm.WithLogger(a.logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithRouterConfigurator(func(mux *chi.Mux) {
			mux.Handle("/metrics", metrics.Handler())
		}),
		aqm.WithHTTPServerModules("web.port",
			ingest.NewHandler(coordinator, a.logger),
			ingest.NewSessionHandler(a.Sessions, client, flusher, a.logger),
			kds.NewHandler(a.Engine, a.logger),
			outbox.NewHandler(a.Queue, a.logger),
		),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(AppName),
	}

	a.micro = aqm.NewMicro(options...)
	return nil
}

// publisher connects to NATS when enabled. The node runs without a broker
// otherwise; kitchen events are then dropped.
func (a *App) publisher() (aqmevents.Publisher, error) {
	if enabled, _ := a.config.GetString("nats.enabled"); enabled != "true" {
		return pkg.NoopPublisher{}, nil
	}
	natsURL, _ := a.config.GetString("nats.url")
	if natsURL == "" {
		natsURL = defaultNATSURL
	}
	publisher, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		return nil, err
	}
	a.logger.Info("NATS publisher initialized", "url", natsURL)
	return publisher, nil
}

func (a *App) Run(ctx context.Context) error {
	if a.micro == nil {
		return fmt.Errorf("app not initialized")
	}
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
