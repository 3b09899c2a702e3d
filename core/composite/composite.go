// Package composite binds several resources under one router and injects
// composite-owned "extended" routes into a resource's manifest before that
// resource is bound.
package composite

import (
	"sort"

	"github.com/artpar/facet/core/crud"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/ports"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Resource is a bindable resource. *crud.Service implements it.
type Resource interface {
	Manifest() *manifest.Manifest
	BindRoutes(router ports.Router, opts crud.BindOptions) []string
}

// Extension is a block of extended routes mounted under RouteBase.
type Extension struct {
	RouteBase string           `yaml:"routeBase"`
	Routes    []manifest.Route `yaml:"routes"`
}

// Extensions is one extension block or a list of them.
type Extensions []Extension

// UnmarshalYAML accepts a single {routeBase, routes} mapping or a sequence.
func (e *Extensions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var one Extension
		if err := node.Decode(&one); err != nil {
			return err
		}
		*e = Extensions{one}
		return nil
	case yaml.SequenceNode:
		var many []Extension
		if err := node.Decode(&many); err != nil {
			return err
		}
		*e = many
		return nil
	}
	return apierr.Configf("extended routes must be an object with routeBase and routes or a list of such objects (line %d)", node.Line)
}

// Route mounts one registered resource.
type Route struct {
	ResourceReference string     `yaml:"resourceReference"`
	RouteBase         string     `yaml:"routeBase"`
	Extended          Extensions `yaml:"extended,omitempty"`
}

// RouteOptions selects composite mode (Routes) or leaf passthrough (Route).
type RouteOptions struct {
	Route  string  `yaml:"route,omitempty"`
	Routes []Route `yaml:"routes,omitempty"`
}

// Composite groups resources by reference name.
type Composite struct {
	name      string
	resources map[string]Resource
	leaf      Resource
	logger    zerolog.Logger
}

// New creates an empty composite.
func New(name string, logger zerolog.Logger) *Composite {
	return &Composite{
		name:      name,
		resources: make(map[string]Resource),
		logger:    logger.With().Str("composite", name).Logger(),
	}
}

// Name returns the composite name.
func (c *Composite) Name() string { return c.name }

// Register makes r reachable as ref.
func (c *Composite) Register(ref string, r Resource) *Composite {
	c.resources[ref] = r
	return c
}

// SetLeaf sets the resource bound in leaf passthrough mode.
func (c *Composite) SetLeaf(r Resource) *Composite {
	c.leaf = r
	return c
}

// Resource returns the resource registered as ref.
func (c *Composite) Resource(ref string) (Resource, bool) {
	r, ok := c.resources[ref]
	return r, ok
}

// References returns the registered reference names in sorted order.
func (c *Composite) References() []string {
	refs := make([]string, 0, len(c.resources))
	for ref := range c.resources {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// BindRoutes binds every route entry of opts. Extended routes of an entry are
// added to the referenced resource's manifest before the resource is bound.
// Missing or malformed wiring is returned as a *apierr.ConfigError.
func (c *Composite) BindRoutes(router ports.Router, opts RouteOptions) ([]string, error) {
	if len(opts.Routes) == 0 {
		if opts.Route == "" {
			return nil, apierr.Configf("composite %q requires a routes list or a route", c.name)
		}
		if c.leaf == nil {
			return nil, apierr.Configf("composite %q has no leaf resource for route %q", c.name, opts.Route)
		}
		return c.leaf.BindRoutes(router, crud.BindOptions{RouteBase: opts.Route}), nil
	}

	var keys []string
	for i, entry := range opts.Routes {
		if entry.ResourceReference == "" {
			return keys, apierr.Configf("composite %q route %d: a resourceReference is required", c.name, i)
		}
		res, ok := c.resources[entry.ResourceReference]
		if !ok {
			return keys, apierr.Configf("composite %q: no resource %q", c.name, entry.ResourceReference)
		}

		for _, ext := range entry.Extended {
			if ext.RouteBase == "" || ext.Routes == nil {
				return keys, apierr.Configf("composite %q resource %q: extended routes need routeBase and routes", c.name, entry.ResourceReference)
			}
			extended := PrepareExtendedRoutes(ext.RouteBase, ext.Routes)
			res.Manifest().AddRoutes(extended)
			c.logger.Debug().
				Str("resource", entry.ResourceReference).
				Str("route_base", ext.RouteBase).
				Int("routes", len(extended)).
				Msg("extended routes added")
		}

		keys = append(keys, res.BindRoutes(router, crud.BindOptions{RouteBase: entry.RouteBase})...)
	}

	c.logger.Info().Int("routes", len(keys)).Msg("composite bound")
	return keys, nil
}

// PrepareExtendedRoutes returns copies of routes with routeBase prefixed to
// each path and the kind set to extended.
func PrepareExtendedRoutes(routeBase string, routes []manifest.Route) []manifest.Route {
	out := make([]manifest.Route, len(routes))
	for i, r := range routes {
		r.Path = routeBase + r.Path
		r.Kind = manifest.KindExtended
		out[i] = r
	}
	return out
}
