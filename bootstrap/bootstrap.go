// Package bootstrap wires all dependencies and starts the application.
// Everything is driven by one YAML configuration file; see package config.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/facet/adapters/access"
	"github.com/artpar/facet/adapters/memory"
	"github.com/artpar/facet/adapters/metrics"
	"github.com/artpar/facet/adapters/sqlite"
	"github.com/artpar/facet/config"
	httpchan "github.com/artpar/facet/core/channel/http"
	muxchan "github.com/artpar/facet/core/channel/mux"
	"github.com/artpar/facet/core/channel/respond"
	"github.com/artpar/facet/core/composite"
	"github.com/artpar/facet/core/crud"
	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/core/nodestack"
	"github.com/artpar/facet/core/translate"
	"github.com/artpar/facet/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Channel is a router the application binds its routes on and serves.
type Channel interface {
	ports.Router
	Name() string
	Handler() http.Handler
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DocumentStore is a model store the application can declare references on
// and ask for readiness.
type DocumentStore interface {
	ports.ModelStore
	SetRef(collection, path, target string)
	HealthCheck(ctx context.Context) error
}

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Bus        *events.Bus
	Store      DocumentStore
	Binder     *translate.Binder
	Channel    Channel
	Metrics    *metrics.Collector
	Authorizer *access.Authorizer
	Responder  *respond.Responder

	// Services holds one CRUD service per configured resource, by name.
	Services   map[string]*crud.Service
	Composites []*composite.Composite

	// Keys lists every bound route key in binding order.
	Keys []string

	holder *config.Holder
}

// Options configures application initialization.
type Options struct {
	// ConfigPath is watched for policy changes when set. Ignored if Config is set.
	ConfigPath string

	// Config is used as is when set.
	Config *config.Config

	// Logger replaces the logger built from the logging section.
	Logger *zerolog.Logger

	Version string
}

// New creates and initializes the application. Routes are bound, but
// nothing listens until Start.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	var holder *config.Holder
	if cfg == nil {
		if opts.ConfigPath == "" {
			return nil, fmt.Errorf("a config or config path is required")
		}
		h, err := config.NewHolder(opts.ConfigPath, zerolog.Nop())
		if err != nil {
			return nil, err
		}
		holder, cfg = h, h.Get()
	}

	logger := setupLogger(cfg.Logging)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if holder != nil {
		holder.SetLogger(logger)
	}
	logger.Info().Str("router", cfg.Server.Router).Str("driver", cfg.Database.Driver).Msg("initializing facet")

	a := &App{
		Logger:   logger,
		Config:   cfg,
		Bus:      events.NewBus(logger.With().Str("component", "bus").Logger()),
		Services: make(map[string]*crud.Service),
		holder:   holder,
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		a.Metrics = metrics.NewWithRegistry(reg, reg)
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	tracker := translate.NewTracker(logger)
	a.Binder = translate.NewBinder(translate.Options{
		Bus:            a.Bus,
		Tracker:        tracker,
		Logger:         logger,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	a.Channel = a.newChannel(tracker, opts.Version)

	if err := a.initServices(); err != nil {
		a.Store.Close()
		return nil, err
	}
	if err := a.bindRoutes(); err != nil {
		a.Store.Close()
		return nil, err
	}

	a.Responder = respond.New(a.Bus, logger)

	// The authorizer announces itself to services, so they must exist first.
	if cfg.Access.Enabled {
		authz, err := access.New(a.Bus, cfg.Access.Policies, logger)
		if err != nil {
			a.Store.Close()
			return nil, fmt.Errorf("init access: %w", err)
		}
		a.Authorizer = authz
		authz.Start(context.Background())
	}

	if holder != nil {
		holder.OnChange(a.applyConfig)
		if a.Metrics != nil {
			holder.OnReload(a.Metrics.ConfigReloaded)
		}
	}

	logger.Info().
		Int("resources", len(a.Services)).
		Int("routes", len(a.Keys)).
		Msg("facet initialized")
	return a, nil
}

func (a *App) initStore() error {
	db := a.Config.Database
	switch db.Driver {
	case config.DriverSQLite:
		conn, err := sqlite.Open(db.DSN)
		if err != nil {
			return err
		}
		if err := conn.Migrate(context.Background()); err != nil {
			conn.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.Store = sqlite.NewDocumentStore(conn, sqlite.StoreOptions{Timestamps: db.Timestamps})
	default:
		a.Store = memory.NewStore(memory.Options{Timestamps: db.Timestamps})
	}

	for _, r := range a.Config.Resources {
		for path, target := range r.Refs {
			a.Store.SetRef(r.Collection, path, target)
		}
	}
	a.Logger.Info().Str("driver", db.Driver).Msg("document store ready")
	return nil
}

func (a *App) newChannel(tracker *translate.Tracker, version string) Channel {
	srv := a.Config.Server

	var mw []func(http.Handler) http.Handler
	if srv.TrustedHeaders {
		mw = append(mw, nodestack.TrustedHeaders)
	}
	if a.Metrics != nil {
		mw = append(mw, a.Metrics.Middleware)
	}
	mw = append(mw, translate.FacetInit(a.Bus))

	if srv.Router == config.RouterMux {
		ch := muxchan.New(muxchan.Options{
			Addr:         srv.Addr(),
			Logger:       a.Logger,
			Middleware:   mw,
			ReadTimeout:  srv.ReadTimeout,
			WriteTimeout: srv.WriteTimeout,
		})
		health := httpchan.NewHealthHandler(a.Store)
		ch.Router().HandleFunc("/health", health.Liveness).Methods(http.MethodGet)
		ch.Router().HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
		ch.Router().Handle("/version", httpchan.VersionHandler(version)).Methods(http.MethodGet)
		if a.Metrics != nil {
			ch.Router().Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
		}
		return ch
	}

	opts := httpchan.Options{
		Addr:         srv.Addr(),
		Logger:       a.Logger,
		Middleware:   mw,
		Readiness:    a.Store,
		Version:      version,
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		IdleTimeout:  srv.IdleTimeout,
	}
	if a.Config.OpenAPI.Enabled {
		opts.Tracker = tracker
	}
	if a.Metrics != nil {
		opts.MetricsHandler = a.Metrics.Handler()
	}
	return httpchan.New(opts)
}

func (a *App) initServices() error {
	var recorder ports.Recorder = ports.NopRecorder{}
	if a.Metrics != nil {
		recorder = a.Metrics
	}

	for _, r := range a.Config.Resources {
		model, err := a.Store.Model(r.Collection)
		if err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		svc, err := crud.New(crud.Options{
			Model:              model,
			Bus:                a.Bus,
			Manifest:           r.Manifest(),
			Binder:             a.Binder,
			DisableAccessCheck: !r.AccessChecked(),
			StripFields:        a.Config.Strip(),
			TenantPolicy:       a.Config.Tenant,
			AccessTimeout:      a.Config.Access.Timeout,
			Logger:             a.Logger,
			Recorder:           recorder,
		})
		if err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		a.Services[r.Name] = svc
	}
	return nil
}

// bindRoutes binds every composite, then every resource no composite claimed.
func (a *App) bindRoutes() error {
	claimed := make(map[string]bool)

	for _, cc := range a.Config.Composites {
		comp := composite.New(cc.Name, a.Logger)
		for _, ref := range cc.References() {
			claimed[ref] = true
			comp.Register(ref, a.Services[ref])
		}
		if cc.Leaf != "" {
			comp.SetLeaf(a.Services[cc.Leaf])
		}
		keys, err := comp.BindRoutes(a.Channel, cc.RouteOptions())
		if err != nil {
			return fmt.Errorf("composite %s: %w", cc.Name, err)
		}
		a.Keys = append(a.Keys, keys...)
		a.Composites = append(a.Composites, comp)
	}

	for _, r := range a.Config.Resources {
		if claimed[r.Name] {
			continue
		}
		a.Keys = append(a.Keys, a.Services[r.Name].BindRoutes(a.Channel, crud.BindOptions{})...)
	}
	return nil
}

// applyConfig re-applies the reloadable parts of a new configuration.
func (a *App) applyConfig(cfg *config.Config) {
	if a.Authorizer == nil {
		return
	}
	if err := a.Authorizer.SetPolicies(cfg.Access.Policies); err != nil {
		a.Logger.Error().Err(err).Msg("access policies rejected, keeping previous set")
	}
}

// Reload re-reads the configuration file and applies its reloadable parts.
func (a *App) Reload() error {
	if a.holder == nil {
		return fmt.Errorf("no configuration file to reload")
	}
	return a.holder.Reload()
}

// Routes returns the bound route table.
func (a *App) Routes() []translate.Entry {
	return a.Binder.Tracker().Entries()
}

// Start starts serving and, when loaded from a file, watching the config.
func (a *App) Start(ctx context.Context) error {
	if err := a.Channel.Start(ctx); err != nil {
		return fmt.Errorf("start %s channel: %w", a.Channel.Name(), err)
	}
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.holder.WatchSignals()
	}
	return nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if err := a.Channel.Stop(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown error")
	}

	if a.Authorizer != nil {
		a.Authorizer.Stop(ctx)
	}
	if a.Responder != nil {
		a.Responder.Close()
	}
	for _, svc := range a.Services {
		svc.Close()
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("store close error")
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
