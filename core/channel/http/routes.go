package http

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/artpar/facet/core/openapi"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/pkg/jsonapi"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// RouteSummary describes one bound route in /_routes.
type RouteSummary struct {
	Verb     string `json:"verb"`
	Path     string `json:"path"`
	Owner    string `json:"owner,omitempty"`
	Event    string `json:"event,omitempty"`
	Extended bool   `json:"extended,omitempty"`
}

// Summaries returns the tracker's route table in display order.
func (c *Channel) Summaries() []RouteSummary {
	entries := c.tracker.Entries()
	out := make([]RouteSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, RouteSummary{
			Verb:     string(e.Verb),
			Path:     e.Path,
			Owner:    e.Owner,
			Event:    e.Route.Event,
			Extended: e.Route.Kind == manifest.KindExtended,
		})
	}
	return out
}

// handleRoutes handles GET /_routes.
func (c *Channel) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := c.Summaries()
	jsonapi.WriteMeta(w, http.StatusOK, jsonapi.Meta{
		"routes": routes,
		"count":  len(routes),
	})
}

// Spec generates the OpenAPI document of the current route table.
func (c *Channel) Spec(serverURL string) *openapi.Spec {
	gen := openapi.NewRouteGenerator(c.tracker.Entries())
	gen.SetInfo(openapi.Info{
		Title:       "facet",
		Description: "Manifest-bound CRUD routes. Query conditions, fields and options travel as JSON in q, f and o.",
		Version:     c.opts.Version,
	})
	if serverURL != "" {
		gen.AddServer(serverURL, "Current server")
	}
	return gen.Generate()
}

// handleOpenAPI handles GET /_openapi.json.
func (c *Channel) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	data, err := c.Spec(fmt.Sprintf("%s://%s", scheme, r.Host)).ToJSON()
	if err != nil {
		jsonapi.WriteInternalError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

// swagDoc feeds the generated document to the swagger UI.
type swagDoc struct {
	c *Channel
}

func (d swagDoc) ReadDoc() string {
	data, err := d.c.Spec("").ToJSONCompact()
	if err != nil {
		d.c.logger.Error().Err(err).Msg("openapi generation failed")
		return "{}"
	}
	return string(data)
}

// swag's registry is process-wide and rejects duplicate names.
var swagSeq atomic.Uint64

// swaggerHandler serves the swagger UI at /swagger/ and the document at
// /swagger/doc.json.
func (c *Channel) swaggerHandler() http.HandlerFunc {
	name := fmt.Sprintf("facet-%d", swagSeq.Add(1))
	swag.Register(name, swagDoc{c: c})
	return httpSwagger.Handler(
		httpSwagger.InstanceName(name),
		httpSwagger.DocExpansion("list"),
	)
}
