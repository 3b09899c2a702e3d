package crud

import (
	"context"
	"fmt"

	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/core/translate"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/domain/query"
)

func (s *Service) registerEvents() {
	s.subscribe(events.InitNodeStack, func(ctx context.Context, e events.Event) error {
		init, ok := e.Data.(events.NodeStackInit)
		if !ok || init.Stack == nil {
			return fmt.Errorf("unexpected %s payload %T", events.InitNodeStack, e.Data)
		}
		s.mu.Lock()
		if s.fallback == nil || init.Force {
			s.fallback = init.Stack
		}
		s.mu.Unlock()
		return nil
	})

	s.subscribe(events.InitAPIAuth, func(ctx context.Context, e events.Event) error {
		on, ok := e.Data.(bool)
		if !ok {
			return fmt.Errorf("unexpected %s payload %T", events.InitAPIAuth, e.Data)
		}
		s.apiAuth.Store(on)
		s.logger.Info().Bool("active", on).Msg("api auth announced")
		return nil
	})

	s.registerRoutes(s.manifest.Routes())
}

// registerRoutes subscribes the matching operation to each route event not
// yet subscribed. Extended routes added by a composite before binding are
// picked up here too.
func (s *Service) registerRoutes(routes []manifest.Route) {
	for _, route := range routes {
		if route.Event == "" {
			continue
		}
		op := route.Operation()
		if op == manifest.OpNone {
			s.logger.Debug().Str("event", route.Event).Msg("route event maps to no operation, not subscribed")
			continue
		}

		s.mu.Lock()
		seen := s.subscribed[route.Event]
		s.subscribed[route.Event] = true
		s.mu.Unlock()
		if seen {
			continue
		}

		s.subscribe(route.Event, s.routeListener(op))
	}
}

func (s *Service) routeListener(op manifest.Op) func(ctx context.Context, e events.Event) error {
	return func(ctx context.Context, e events.Event) error {
		q, err := s.queryFrom(e.Data)
		if err != nil {
			s.fail(ctx, op, err, nil)
			return nil
		}

		switch op {
		case manifest.OpFind:
			s.Find(ctx, q, nil, nil)
		case manifest.OpFindOne:
			s.FindOne(ctx, q, nil, nil)
		case manifest.OpUpdate:
			s.Update(ctx, q, nil, nil)
		case manifest.OpCreate:
			s.Create(ctx, q.Document, nil, nil)
		case manifest.OpRemove:
			s.Remove(ctx, q.Conditions, nil, nil)
		}
		return nil
	}
}

// queryFrom accepts the payloads a route event may carry: a query built by
// the default processor or a custom one, a raw request descriptor, or a
// plain map in query shape.
func (s *Service) queryFrom(data any) (*query.Query, error) {
	switch d := data.(type) {
	case *query.Query:
		if d == nil {
			return &query.Query{}, nil
		}
		return d, nil
	case query.Query:
		return &d, nil
	case translate.Descriptor:
		return translate.RequestToQuery(d, s.manifest.APIModelID())
	case map[string]any:
		return queryFromMap(d), nil
	case nil:
		return &query.Query{}, nil
	}
	return nil, apierr.Validation(fmt.Sprintf("%s: unsupported payload %T", s.manifest.ErrorMessage(manifest.MsgQuery), data))
}

// queryFromMap reads the well-known query keys. A map without any of them is
// taken as the document of a create.
func queryFromMap(m map[string]any) *query.Query {
	q := &query.Query{}
	known := false
	if v, ok := m["conditions"].(map[string]any); ok {
		q.Conditions, known = v, true
	}
	if v, ok := m["fields"].(string); ok {
		q.Fields, known = v, true
	}
	if v, ok := m["options"].(map[string]any); ok {
		q.Options, known = v, true
	}
	if v, ok := m["updates"].(map[string]any); ok {
		q.Updates, known = v, true
	}
	if v, ok := m["populate"]; ok {
		q.Populate, known = query.PopulateList(v), true
	}
	if v, ok := m["id"].(string); ok {
		q.ID, known = v, true
	}
	if !known {
		q.Document = m
		q.Conditions = m
	}
	return q
}
