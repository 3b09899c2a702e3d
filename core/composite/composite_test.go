package composite

import (
	"errors"
	"net/http"
	"testing"

	"github.com/artpar/facet/core/crud"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/ports"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type nopRouter struct{}

func (nopRouter) Handle(manifest.Verb, string, http.Handler)    {}
func (nopRouter) PathParams(*http.Request) map[string]string { return nil }

// fakeResource records the manifest routes it sees when bound.
type fakeResource struct {
	m        *manifest.Manifest
	bound    bool
	atBind   []manifest.Route
	bindBase string
}

func newFakeResource(eventType string) *fakeResource {
	return &fakeResource{m: manifest.New().SetAPIEventType(eventType).SetRoutes([]manifest.Route{
		{Verb: manifest.VerbGET, Path: "/items", Event: "facet:" + eventType + ":find"},
	})}
}

func (f *fakeResource) Manifest() *manifest.Manifest { return f.m }

func (f *fakeResource) BindRoutes(router ports.Router, opts crud.BindOptions) []string {
	f.bound = true
	f.bindBase = opts.RouteBase
	f.atBind = f.m.Routes()
	keys := make([]string, 0, len(f.atBind))
	for _, r := range f.atBind {
		keys = append(keys, string(r.Verb)+"::"+opts.RouteBase+r.Path)
	}
	return keys
}

func TestExtendedRoutesPresentAtBind(t *testing.T) {
	items := newFakeResource("item")
	c := New("shop", zerolog.Nop()).Register("Items", items)

	keys, err := c.BindRoutes(nopRouter{}, RouteOptions{Routes: []Route{{
		ResourceReference: "Items",
		RouteBase:         "/api",
		Extended: Extensions{{
			RouteBase: "/widgets/:id",
			Routes:    []manifest.Route{{Verb: manifest.VerbGET, Path: "/items", Event: "e"}},
		}},
	}}})
	if err != nil {
		t.Fatalf("BindRoutes: %v", err)
	}
	if !items.bound || items.bindBase != "/api" {
		t.Fatalf("bound = %v base = %q", items.bound, items.bindBase)
	}

	var found bool
	for _, r := range items.atBind {
		if r.Path == "/widgets/:id/items" {
			found = true
			if r.Kind != manifest.KindExtended || r.Event != "e" {
				t.Errorf("extended route = %+v", r)
			}
		}
	}
	if !found {
		t.Errorf("extended route missing at bind time: %+v", items.atBind)
	}
	if len(items.atBind) != 2 {
		t.Errorf("routes at bind = %d, want original plus extended", len(items.atBind))
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v", keys)
	}
}

func TestBindRoutesConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		opts RouteOptions
	}{
		{"neither routes nor route", RouteOptions{}},
		{"missing reference", RouteOptions{Routes: []Route{{RouteBase: "/api"}}}},
		{"unknown reference", RouteOptions{Routes: []Route{{ResourceReference: "Nope"}}}},
		{"malformed extended", RouteOptions{Routes: []Route{{ResourceReference: "Items", Extended: Extensions{{Routes: []manifest.Route{}}}}}}},
		{"route without leaf", RouteOptions{Route: "/api"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("shop", zerolog.Nop()).Register("Items", newFakeResource("item"))
			_, err := c.BindRoutes(nopRouter{}, tt.opts)
			var cfg *apierr.ConfigError
			if !errors.As(err, &cfg) {
				t.Errorf("err = %v, want ConfigError", err)
			}
		})
	}
}

func TestLeafPassthrough(t *testing.T) {
	leaf := newFakeResource("widget")
	c := New("shop", zerolog.Nop()).SetLeaf(leaf)

	keys, err := c.BindRoutes(nopRouter{}, RouteOptions{Route: "/v1"})
	if err != nil {
		t.Fatalf("BindRoutes: %v", err)
	}
	if leaf.bindBase != "/v1" || len(keys) != 1 || keys[0] != "GET::/v1/items" {
		t.Errorf("base = %q keys = %v", leaf.bindBase, keys)
	}
}

func TestPrepareExtendedRoutesCopies(t *testing.T) {
	in := []manifest.Route{{Verb: manifest.VerbPUT, Path: "/x", Event: "e"}}
	out := PrepareExtendedRoutes("/base", in)

	if out[0].Path != "/base/x" || out[0].Kind != manifest.KindExtended {
		t.Errorf("out = %+v", out[0])
	}
	if in[0].Path != "/x" || in[0].Kind != manifest.KindNative {
		t.Error("input routes must not be modified")
	}
}

func TestRouteOptionsYAML(t *testing.T) {
	src := `
routes:
  - resourceReference: Items
    routeBase: /api
    extended:
      routeBase: /widgets/:id
      routes:
        - verb: GET
          path: /items
          event: facet:item:find
          processor: true
  - resourceReference: Widgets
    extended:
      - routeBase: /a
        routes: []
      - routeBase: /b
        routes:
          - verb: DELETE
            path: /x
            event: facet:widget:delete
`
	var opts RouteOptions
	if err := yaml.Unmarshal([]byte(src), &opts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(opts.Routes) != 2 {
		t.Fatalf("routes = %+v", opts.Routes)
	}
	if ext := opts.Routes[0].Extended; len(ext) != 1 || ext[0].RouteBase != "/widgets/:id" || !ext[0].Routes[0].Processor.Default {
		t.Errorf("single extension = %+v", ext)
	}
	if ext := opts.Routes[1].Extended; len(ext) != 2 || ext[1].Routes[0].Verb != manifest.VerbDELETE {
		t.Errorf("extension list = %+v", ext)
	}

	bad := "routes:\n  - resourceReference: Items\n    extended: nope\n"
	if err := yaml.Unmarshal([]byte(bad), &opts); err == nil {
		t.Error("scalar extended should fail")
	}
}
