// Package mux provides a gorilla/mux router channel, for applications that
// prefer mux's route matching over chi's.
package mux

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/pkg/jsonapi"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Options configures a Channel.
type Options struct {
	Addr       string
	Logger     zerolog.Logger
	Middleware []func(http.Handler) http.Handler

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Channel is a gorilla/mux router implementing ports.Router.
type Channel struct {
	router *mux.Router
	addr   string
	server *http.Server
	logger zerolog.Logger
	opts   Options
}

// New creates a mux channel.
func New(opts Options) *Channel {
	c := &Channel{
		router: mux.NewRouter().UseEncodedPath(),
		addr:   opts.Addr,
		logger: opts.Logger.With().Str("channel", "mux").Logger(),
		opts:   opts,
	}
	for _, mw := range opts.Middleware {
		c.router.Use(mux.MiddlewareFunc(mw))
	}
	c.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.WriteNotFound(w, "No route matches "+r.URL.Path)
	})
	c.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.WriteMethodNotAllowed(w, r.Method, nil)
	})
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "mux"
}

// Router returns the underlying mux router.
func (c *Channel) Router() *mux.Router {
	return c.router
}

// Handler returns the router wrapped in request logging and panic recovery.
func (c *Channel) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{c.logger}),
		handlers.PrintRecoveryStack(false),
	)
	return handlers.CombinedLoggingHandler(c.logger, recovery(c.router))
}

// Handle binds h to verb and path. ":name" parameters become "{name}".
func (c *Channel) Handle(verb manifest.Verb, path string, h http.Handler) {
	c.router.Handle(MuxPath(path), h).Methods(string(verb))
}

// PathParams returns the route variables mux matched for r.
func (c *Channel) PathParams(r *http.Request) map[string]string {
	return mux.Vars(r)
}

// Mount attaches h under prefix.
func (c *Channel) Mount(prefix string, h http.Handler) {
	c.router.PathPrefix(prefix).Handler(h)
}

var paramRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// MuxPath converts "/items/:id" into "/items/{id}".
func MuxPath(path string) string {
	return paramRe.ReplaceAllString(path, "{$1}")
}

// Start starts the HTTP server in the background.
func (c *Channel) Start(ctx context.Context) error {
	if c.addr == "" {
		return nil
	}
	c.server = &http.Server{
		Addr:         c.addr,
		Handler:      c.Handler(),
		ReadTimeout:  c.opts.ReadTimeout,
		WriteTimeout: c.opts.WriteTimeout,
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

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(args ...any) {
	l.logger.Error().Interface("panic", args).Msg("recovered from panic")
}
