// Package http provides the chi-backed router channel. Manifest routes are
// bound onto it through the ports.Router contract; it also serves health,
// version, route introspection and API documentation endpoints.
package http

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/artpar/facet/core/translate"
	"github.com/artpar/facet/domain/manifest"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Options configures a Channel.
type Options struct {
	// Addr is the listen address. Empty means the channel is only used as
	// an http.Handler and Start is a no-op.
	Addr string

	Logger zerolog.Logger

	// Middleware runs after the built-in request id, real ip, logging and
	// recovery middleware, in order.
	Middleware []func(http.Handler) http.Handler

	// Tracker is the application route table, served by /_routes and the
	// generated OpenAPI document.
	Tracker *translate.Tracker

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler

	// Readiness is consulted by /health/ready when set.
	Readiness HealthChecker

	Version string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Channel is a chi router implementing ports.Router.
type Channel struct {
	router  chi.Router
	addr    string
	server  *http.Server
	logger  zerolog.Logger
	tracker *translate.Tracker
	opts    Options
}

// New creates a channel with its system endpoints registered.
func New(opts Options) *Channel {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	c := &Channel{
		router:  chi.NewRouter(),
		addr:    opts.Addr,
		logger:  opts.Logger.With().Str("channel", "http").Logger(),
		tracker: opts.Tracker,
		opts:    opts,
	}

	// Middleware must be installed before any route.
	c.router.Use(middleware.RequestID)
	c.router.Use(middleware.RealIP)
	c.router.Use(NewLoggingMiddleware(c.logger))
	c.router.Use(middleware.Recoverer)
	for _, mw := range opts.Middleware {
		c.router.Use(mw)
	}

	health := NewHealthHandler(opts.Readiness)
	c.router.Get("/health", health.Liveness)
	c.router.Get("/health/live", health.Liveness)
	c.router.Get("/health/ready", health.Readiness)
	c.router.Get("/version", VersionHandler(opts.Version))

	if opts.MetricsHandler != nil {
		c.router.Handle("/metrics", opts.MetricsHandler)
	}

	if c.tracker != nil {
		c.router.Get("/_routes", c.handleRoutes)
		c.router.Get("/_openapi.json", c.handleOpenAPI)
		c.router.Get("/swagger/*", c.swaggerHandler())
	}

	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

// Handle binds h to verb and path. ":name" parameters are rewritten into
// chi's "{name}" syntax.
func (c *Channel) Handle(verb manifest.Verb, path string, h http.Handler) {
	c.router.Method(string(verb), ChiPath(path), h)
}

// PathParams returns the URL parameters chi matched for r.
func (c *Channel) PathParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if key == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

// Mount attaches h under pattern.
func (c *Channel) Mount(pattern string, h http.Handler) {
	c.router.Mount(pattern, h)
}

var paramRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// ChiPath converts "/items/:id" into "/items/{id}".
func ChiPath(path string) string {
	return paramRe.ReplaceAllString(path, "{$1}")
}

// Start starts the HTTP server in the background.
func (c *Channel) Start(ctx context.Context) error {
	if c.addr == "" {
		return nil
	}

	c.server = &http.Server{
		Addr:         c.addr,
		Handler:      c.router,
		ReadTimeout:  c.opts.ReadTimeout,
		WriteTimeout: c.opts.WriteTimeout,
		IdleTimeout:  c.opts.IdleTimeout,
	}

	go func() {
		c.logger.Info().Str("addr", c.addr).Msg("http server listening")
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("http server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (c *Channel) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}
