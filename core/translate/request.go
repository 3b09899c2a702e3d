// Package translate turns router-specific requests into transport-neutral
// descriptors and query descriptors, and binds manifest routes onto any
// ports.Router.
package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/domain/query"
)

// MaxBodyBytes bounds the request body read by RequestVariables.
const MaxBodyBytes = 10 << 20

// Descriptor is a transport-neutral view of a request.
type Descriptor struct {
	Method  string
	Headers http.Header
	Params  map[string]string
	Query   map[string]string
	Body    map[string]any
}

// ProcessorRequest is the payload of a custom pre-processing event. The
// processor is expected to emit Event once it has built its query.
type ProcessorRequest struct {
	Request Descriptor
	Event   string
}

// RequestVariables extracts a descriptor from r. params are the path
// parameters resolved by the router. A non-JSON or non-object body is a
// validation error.
func RequestVariables(r *http.Request, params map[string]string) (Descriptor, error) {
	desc := Descriptor{
		Method:  r.Method,
		Headers: r.Header.Clone(),
		Params:  map[string]string{},
		Query:   map[string]string{},
		Body:    map[string]any{},
	}
	for k, v := range params {
		desc.Params[k] = v
	}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			desc.Query[k] = vs[0]
		}
	}

	if r.Body == nil {
		return desc, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return desc, apierr.Validation(fmt.Sprintf("read body: %v", err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return desc, nil
	}
	if err := json.Unmarshal(raw, &desc.Body); err != nil {
		return desc, apierr.Validation(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return desc, nil
}

// RequestToQuery is the default processor. It converts a descriptor into the
// query the CRUD operation for the descriptor's method expects.
//
//   - GET/PUT: conditions from the id parameter and the "q" query parameter,
//     fields from "f", options from "o". A non-empty body drops options and
//     supplies fields and updates instead.
//   - POST: the body is the document to create.
//   - DELETE: the id parameter (or "q") becomes the conditions.
func RequestToQuery(desc Descriptor, idParam string) (*query.Query, error) {
	verb, _ := manifest.ParseVerb(desc.Method)

	switch verb {
	case manifest.VerbGET, manifest.VerbPUT:
		q := &query.Query{
			Conditions: map[string]any{},
			Options:    map[string]any{},
		}
		if id, ok := desc.Params[idParam]; ok && idParam != "" {
			q.Conditions[query.IDField] = id
		}
		if raw := desc.Query["q"]; raw != "" {
			cond, err := decodeObject(raw, "q")
			if err != nil {
				return nil, err
			}
			for k, v := range cond {
				q.Conditions[k] = v
			}
		}
		if raw := desc.Query["f"]; raw != "" {
			q.Fields = decodeFields(raw)
		}
		if raw := desc.Query["o"]; raw != "" {
			opts, err := decodeObject(raw, "o")
			if err != nil {
				return nil, err
			}
			q.Options = opts
		}
		if raw := desc.Query["populate"]; raw != "" {
			q.Populate = strings.Fields(strings.ReplaceAll(raw, ",", " "))
		}

		if len(desc.Body) > 0 {
			q.Options = map[string]any{}
			if f, ok := desc.Body["fields"]; ok {
				q.Fields = fieldsString(f)
			}
			if u, ok := desc.Body["updates"].(map[string]any); ok {
				q.Updates = u
			}
		}
		return q, nil

	case manifest.VerbPOST:
		return &query.Query{Document: query.CloneMap(desc.Body)}, nil

	case manifest.VerbDELETE:
		q := &query.Query{}
		if id, ok := desc.Params[idParam]; ok && idParam != "" {
			q.Conditions = map[string]any{query.IDField: id}
		} else if raw := desc.Query["q"]; raw != "" {
			cond, err := decodeObject(raw, "q")
			if err != nil {
				return nil, err
			}
			q.Conditions = cond
		}
		return q, nil
	}

	return nil, apierr.Validation(fmt.Sprintf("unsupported method %q", desc.Method))
}

func decodeObject(raw, param string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, apierr.Validation(fmt.Sprintf("Error querying for item(s): malformed %q parameter: %v", param, err))
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// decodeFields accepts a JSON string, a JSON list of names, or bare text.
func decodeFields(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return fieldsString(v)
}

func fieldsString(v any) string {
	switch f := v.(type) {
	case string:
		return f
	case []any:
		names := make([]string, 0, len(f))
		for _, item := range f {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return strings.Join(names, " ")
	}
	return ""
}
