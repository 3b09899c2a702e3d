// Package crud implements the CRUD operations of one manifest-driven resource.
//
// A Service is composed from an injected manifest and model. Every operation
// takes the request context explicitly, sanitizes its query (field stripping
// and tenant scoping), passes the optional access-check gate and hands the
// model's pending result to the response dispatcher.
package crud

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/facet/core/dispatch"
	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/core/nodestack"
	"github.com/artpar/facet/core/translate"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/domain/query"
	"github.com/artpar/facet/ports"
	"github.com/rs/zerolog"
)

// DefaultAccessTimeout bounds how long an access check may stay unanswered.
const DefaultAccessTimeout = 30 * time.Second

// Options configures a Service.
type Options struct {
	Model    ports.Model
	Bus      ports.Bus
	Manifest *manifest.Manifest

	// Binder registers routes. A private binder is created when nil.
	Binder *translate.Binder

	// DisableAccessCheck turns the access-check gate off for this resource.
	DisableAccessCheck bool

	StripFields   query.StripFields
	TenantPolicy  query.TenantPolicy
	AccessTimeout time.Duration

	Logger   zerolog.Logger
	Recorder ports.Recorder
}

// Service runs CRUD operations for one resource.
type Service struct {
	model      ports.Model
	bus        ports.Bus
	manifest   *manifest.Manifest
	binder     *translate.Binder
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
	recorder   ports.Recorder

	strip         query.StripFields
	tenant        query.TenantPolicy
	accessTimeout time.Duration

	doAccessCheck atomic.Bool
	apiAuth       atomic.Bool

	mu         sync.Mutex
	fallback   *nodestack.NodeStack
	subscribed map[string]bool
	unsubs     []func()
}

// New creates a service and subscribes it to the bootstrap events and to the
// event of every native manifest route.
func New(opts Options) (*Service, error) {
	if opts.Model == nil {
		return nil, apierr.Configf("crud service requires a model")
	}
	if opts.Bus == nil {
		return nil, apierr.Configf("crud service requires a bus")
	}
	if opts.Manifest == nil {
		return nil, apierr.Configf("crud service requires a manifest")
	}
	if opts.Manifest.APIEventType() == "" {
		return nil, apierr.Configf("manifest for model %q has no event type", opts.Model.Name())
	}
	if opts.StripFields == nil {
		opts.StripFields = query.DefaultStripFields()
	}
	if opts.TenantPolicy.Field == "" {
		opts.TenantPolicy.Field = query.DefaultTenantField
	}
	if opts.TenantPolicy.Mode == "" {
		opts.TenantPolicy.Mode = query.TenantStrict
	}
	if opts.AccessTimeout <= 0 {
		opts.AccessTimeout = DefaultAccessTimeout
	}
	if opts.Recorder == nil {
		opts.Recorder = ports.NopRecorder{}
	}

	logger := opts.Logger.With().Str("resource", opts.Manifest.APIEventType()).Logger()
	if opts.Binder == nil {
		opts.Binder = translate.NewBinder(translate.Options{Bus: opts.Bus, Logger: opts.Logger})
	}

	s := &Service{
		model:         opts.Model,
		bus:           opts.Bus,
		manifest:      opts.Manifest,
		binder:        opts.Binder,
		dispatcher:    dispatch.New(opts.Bus, logger, opts.Recorder),
		logger:        logger,
		recorder:      opts.Recorder,
		strip:         opts.StripFields,
		tenant:        opts.TenantPolicy,
		accessTimeout: opts.AccessTimeout,
		subscribed:    make(map[string]bool),
	}
	s.doAccessCheck.Store(!opts.DisableAccessCheck)
	s.registerEvents()
	return s, nil
}

// Manifest returns the resource manifest. Changes made to it before
// BindRoutes are picked up at bind time.
func (s *Service) Manifest() *manifest.Manifest { return s.manifest }

// EventType returns the resource's event type.
func (s *Service) EventType() string { return s.manifest.APIEventType() }

// SetDoAccessCheck turns the access-check gate on or off.
func (s *Service) SetDoAccessCheck(on bool) { s.doAccessCheck.Store(on) }

// APIAuthInitialized reports whether an auth middleware has announced itself.
func (s *Service) APIAuthInitialized() bool { return s.apiAuth.Load() }

// FallbackStack returns the node stack used for calls without a request context.
func (s *Service) FallbackStack() *nodestack.NodeStack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// Close removes every bus subscription of the service.
func (s *Service) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.subscribed = make(map[string]bool)
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// BindOptions configures leaf route binding.
type BindOptions struct {
	RouteBase string
}

// BindRoutes binds the manifest's routes on router. A non-empty RouteBase
// replaces the manifest's route base first.
func (s *Service) BindRoutes(router ports.Router, opts BindOptions) []string {
	if opts.RouteBase != "" {
		s.manifest.SetRouteBase(opts.RouteBase)
	}
	s.registerRoutes(s.manifest.Routes())
	return s.binder.Bind(router, s.manifest)
}

// tenantID returns the caller's tenant, preferring the request context and
// falling back to the last announced node stack.
func (s *Service) tenantID(ctx context.Context) string {
	if id, ok := nodestack.IdentityFrom(ctx); ok {
		return id.TenantID
	}
	if _, ok := nodestack.FromContext(ctx); ok {
		return ""
	}
	return s.FallbackStack().Identity().TenantID
}

func (s *Service) subscribe(event string, h events.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, s.bus.Subscribe(event, h))
}
