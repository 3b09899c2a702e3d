package translate

import (
	"context"
	"net/http"
	"time"

	"github.com/artpar/facet/core/dispatch"
	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/core/nodestack"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/pkg/jsonapi"
	"github.com/artpar/facet/ports"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds how long a bound handler waits for a response.
const DefaultRequestTimeout = 30 * time.Second

// Binding is what a verb handler knows about the route it serves.
type Binding struct {
	Key     string
	Owner   string
	IDParam string
	Route   manifest.Route
}

// VerbHandler processes a translated request for one verb.
type VerbHandler func(ctx context.Context, desc Descriptor, b Binding)

// Options configures a Binder.
type Options struct {
	Bus            ports.Bus
	Tracker        *Tracker
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

// Binder registers manifest routes on a router.
type Binder struct {
	bus     ports.Bus
	tracker *Tracker
	logger  zerolog.Logger
	timeout time.Duration
	verbs   map[manifest.Verb]VerbHandler
}

// NewBinder creates a binder. Every verb starts out with the processor
// dispatch of Process.
func NewBinder(opts Options) *Binder {
	if opts.Tracker == nil {
		opts.Tracker = NewTracker(opts.Logger)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	b := &Binder{
		bus:     opts.Bus,
		tracker: opts.Tracker,
		logger:  opts.Logger.With().Str("component", "binder").Logger(),
		timeout: opts.RequestTimeout,
		verbs:   make(map[manifest.Verb]VerbHandler, len(manifest.Verbs)),
	}
	for _, v := range manifest.Verbs {
		b.verbs[v] = b.Process
	}
	return b
}

// HandleVerb replaces the handler used for verb.
func (b *Binder) HandleVerb(verb manifest.Verb, h VerbHandler) {
	b.verbs[verb] = h
}

// Tracker returns the binder's route tracker.
func (b *Binder) Tracker() *Tracker {
	return b.tracker
}

// Bind registers every route of m on router and returns their keys. m is
// snapshotted first, so later changes to it do not affect bound routes.
func (b *Binder) Bind(router ports.Router, m *manifest.Manifest) []string {
	snap := m.Clone()
	owner := snap.APIEventType()

	keys := make([]string, 0, len(snap.Routes()))
	for _, route := range snap.Routes() {
		full := snap.FullPath(route)
		key := Key(route.Verb, full)

		b.tracker.Set(Entry{Verb: route.Verb, Path: full, Owner: owner, Route: route})
		router.Handle(route.Verb, full, b.handler(router, Binding{
			Key:     key,
			Owner:   owner,
			IDParam: snap.APIModelID(),
			Route:   route,
		}))
		keys = append(keys, key)

		b.logger.Debug().
			Str("verb", string(route.Verb)).
			Str("path", full).
			Str("event", route.Event).
			Str("resource", owner).
			Msg("route bound")
	}
	return keys
}

// Process dispatches a request according to its route's processor: the
// default processor builds a query, a custom processor receives the raw
// request, and no processor emits the raw request on the route event.
func (b *Binder) Process(ctx context.Context, desc Descriptor, bd Binding) {
	route := bd.Route
	switch {
	case route.Processor.Default:
		q, err := RequestToQuery(desc, bd.IDParam)
		if err != nil {
			b.publishError(ctx, err)
			return
		}
		b.bus.Publish(ctx, events.Event{Name: route.Event, Resource: bd.Owner, Data: q})

	case route.Processor.Event != "":
		b.bus.Publish(ctx, events.Event{
			Name:     route.Processor.Event,
			Resource: bd.Owner,
			Data:     ProcessorRequest{Request: desc, Event: route.Event},
		})

	default:
		b.bus.Publish(ctx, events.Event{Name: route.Event, Resource: bd.Owner, Data: desc})
	}
}

func (b *Binder) handler(router ports.Router, bd Binding) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ns, ok := nodestack.FromContext(ctx)
		if !ok {
			ns = nodestack.New(w, r, nil)
			ctx = nodestack.WithNodeStack(ctx, ns)
			r = r.WithContext(ctx)
			ns.Request = r
			b.bus.Publish(ctx, events.Event{
				Name: events.InitNodeStack,
				Data: events.NodeStackInit{Stack: ns},
			})
		}

		// The tracker holds the winning registration for this key.
		if e, ok := b.tracker.Lookup(bd.Key); ok {
			bd.Route = e.Route
			bd.Owner = e.Owner
		}

		desc, err := RequestVariables(r, router.PathParams(r))
		if err != nil {
			b.publishError(ctx, err)
		} else {
			b.verbs[bd.Route.Verb](ctx, desc, bd)
		}

		b.await(ctx, ns, bd.Key)
	})
}

// await blocks until the response has been written. A client that goes away
// or a timeout claims the response here unless a writer already holds it, in
// which case await still waits for that write to complete.
func (b *Binder) await(ctx context.Context, ns *nodestack.NodeStack, key string) {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-ns.Done():
		return
	case <-ctx.Done():
		if release, ok := ns.Claim(); ok {
			release()
			return
		}
	case <-timer.C:
		b.logger.Warn().Str("route", key).Dur("timeout", b.timeout).Msg("no response before timeout")
		msg := "The request timed out."
		b.publishError(ctx, apierr.Timeout(msg))
		if release, ok := ns.Claim(); ok {
			jsonapi.WriteError(ns.Response, jsonapi.ErrGatewayTimeout(msg))
			release()
			return
		}
	}
	<-ns.Done()
}

func (b *Binder) publishError(ctx context.Context, err error) {
	b.bus.Publish(ctx, events.Event{
		Name: events.ResponseError,
		Data: dispatch.NormalizeError(err),
	})
}

// FacetInit is middleware that creates the request's node stack and
// announces it with force set, so it replaces any fallback stack.
func FacetInit(bus ports.Bus) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ns := nodestack.New(w, r, next)
			ctx := nodestack.WithNodeStack(r.Context(), ns)
			r = r.WithContext(ctx)
			ns.Request = r
			bus.Publish(ctx, events.Event{
				Name: events.InitNodeStack,
				Data: events.NodeStackInit{Stack: ns, Force: true},
			})
			next.ServeHTTP(w, r)
		})
	}
}
