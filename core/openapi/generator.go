package openapi

import (
	"regexp"
	"sort"
	"strings"

	"github.com/artpar/facet/core/translate"
	"github.com/artpar/facet/domain/manifest"
)

var pathParamRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// RouteGenerator generates OpenAPI specs from the bound route table.
type RouteGenerator struct {
	entries []translate.Entry
	info    Info
	servers []Server
}

// NewRouteGenerator creates a generator over the given route entries.
func NewRouteGenerator(entries []translate.Entry) *RouteGenerator {
	return &RouteGenerator{
		entries: entries,
		info: Info{
			Title:       "facet",
			Version:     "1.0.0",
			Description: "Auto-generated documentation for manifest routes",
		},
	}
}

// SetInfo sets the API info.
func (g *RouteGenerator) SetInfo(info Info) {
	g.info = info
}

// AddServer adds a server URL.
func (g *RouteGenerator) AddServer(url, description string) {
	g.servers = append(g.servers, Server{URL: url, Description: description})
}

// Generate creates the OpenAPI specification.
func (g *RouteGenerator) Generate() *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    g.info,
		Servers: g.servers,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: map[string]*Schema{
				"Document": {Type: "object", AdditionalProperties: true},
				"Error":    errorSchema(),
			},
			SecuritySchemes: map[string]SecurityScheme{
				"userHeader": {
					Type:        "apiKey",
					In:          "header",
					Name:        "X-User-ID",
					Description: "Identity asserted by the upstream gateway",
				},
			},
		},
	}

	owners := make(map[string]bool)
	for _, e := range g.entries {
		g.addEntry(spec, e)
		if e.Owner != "" {
			owners[e.Owner] = true
		}
	}

	names := make([]string, 0, len(owners))
	for name := range owners {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec.Tags = append(spec.Tags, Tag{Name: name, Description: "Routes of the " + name + " resource"})
	}

	return spec
}

func (g *RouteGenerator) addEntry(spec *Spec, e translate.Entry) {
	openAPIPath, params := ConvertPath(e.Path)
	item := spec.Paths[openAPIPath]

	op := &Operation{
		Summary:     e.Route.Event,
		OperationID: operationID(e),
		Responses:   responses(e.Verb),
		Security:    []SecurityRequirement{{"userHeader": {}}},
	}
	if e.Owner != "" {
		op.Tags = []string{e.Owner}
	}
	if e.Route.Kind == manifest.KindExtended {
		op.Description = "Extended route bound by a composite"
	}

	for _, name := range params {
		op.Parameters = append(op.Parameters, Parameter{
			Name:     name,
			In:       "path",
			Required: true,
			Schema:   &Schema{Type: "string"},
		})
	}

	switch e.Verb {
	case manifest.VerbGET, manifest.VerbDELETE:
		op.Parameters = append(op.Parameters, queryParams()...)
	case manifest.VerbPOST, manifest.VerbPUT:
		op.RequestBody = &RequestBody{
			Required: e.Verb == manifest.VerbPOST,
			Content: map[string]MediaType{
				"application/json": {Schema: &Schema{Ref: "#/components/schemas/Document"}},
			},
		}
	}

	switch e.Verb {
	case manifest.VerbGET:
		item.Get = op
	case manifest.VerbPOST:
		item.Post = op
	case manifest.VerbPUT:
		item.Put = op
	case manifest.VerbDELETE:
		item.Delete = op
	}
	spec.Paths[openAPIPath] = item
}

// ConvertPath turns ":name" parameters into "{name}" and returns their names.
func ConvertPath(path string) (string, []string) {
	var names []string
	out := pathParamRe.ReplaceAllStringFunc(path, func(m string) string {
		names = append(names, m[1:])
		return "{" + m[1:] + "}"
	})
	return out, names
}

func operationID(e translate.Entry) string {
	id := strings.NewReplacer(":", "_", "/", "_", "{", "", "}", "").Replace(e.Route.Event)
	if id == "" {
		id = strings.Trim(strings.NewReplacer("/", "_", ":", "").Replace(e.Path), "_")
	}
	return strings.ToLower(string(e.Verb)) + "_" + id
}

func queryParams() []Parameter {
	return []Parameter{
		{Name: "q", In: "query", Description: "JSON query conditions", Schema: &Schema{Type: "string"}},
		{Name: "f", In: "query", Description: "JSON field projection", Schema: &Schema{Type: "string"}},
		{Name: "o", In: "query", Description: "JSON query options", Schema: &Schema{Type: "string"}},
		{Name: "populate", In: "query", Description: "Paths to populate, comma separated", Schema: &Schema{Type: "string"}},
	}
}

func responses(verb manifest.Verb) map[string]Response {
	errRef := map[string]MediaType{
		"application/vnd.api+json": {Schema: &Schema{Ref: "#/components/schemas/Error"}},
	}
	ok := Response{
		Description: "Success",
		Content: map[string]MediaType{
			"application/json": {Schema: &Schema{Ref: "#/components/schemas/Document"}},
		},
	}
	if verb == manifest.VerbGET {
		ok.Content["application/json"] = MediaType{Schema: &Schema{
			Type:  "array",
			Items: &Schema{Ref: "#/components/schemas/Document"},
		}}
	}
	return map[string]Response{
		"200": ok,
		"400": {Description: "Missing or malformed input", Content: errRef},
		"401": {Description: "Access denied", Content: errRef},
		"404": {Description: "No matching item", Content: errRef},
		"504": {Description: "Request was not answered in time", Content: errRef},
	}
}

func errorSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"errors": {
				Type: "array",
				Items: &Schema{
					Type: "object",
					Properties: map[string]*Schema{
						"status": {Type: "string"},
						"code":   {Type: "string"},
						"title":  {Type: "string"},
						"detail": {Type: "string"},
					},
				},
			},
		},
	}
}
