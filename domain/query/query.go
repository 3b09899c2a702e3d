// Package query provides the transport-neutral query descriptor and the pure
// functions that sanitize it before it reaches a model: tenant scoping, field
// stripping and document matching.
package query

// IDField is the document identity field.
const IDField = "_id"

// Query is the descriptor handed to a CRUD operation.
//
// A nil Conditions or Updates map means the key was not supplied at all, which
// is distinct from an empty map.
type Query struct {
	// ID asks find for a single document by identity.
	ID string `json:"id,omitempty"`

	// Conditions filter the documents an operation applies to.
	Conditions map[string]any `json:"conditions,omitempty"`

	// Fields is a projection such as "name email -secret".
	Fields string `json:"fields,omitempty"`

	// Options are driver execution options (limit, skip, sort, lean).
	Options map[string]any `json:"options,omitempty"`

	// Updates are applied by update.
	Updates map[string]any `json:"updates,omitempty"`

	// Populate lists reference paths to eager-load.
	Populate []string `json:"populate,omitempty"`

	// Document is the payload of create.
	Document map[string]any `json:"document,omitempty"`

	// InitialAPIAuth skips the access check for this call only. It is set by
	// the bootstrap lookup that authenticates the caller.
	InitialAPIAuth bool `json:"-"`
}

// Clone returns a copy whose maps can be modified without touching q.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	c := *q
	c.Conditions = CloneMap(q.Conditions)
	c.Options = CloneMap(q.Options)
	c.Updates = CloneMap(q.Updates)
	c.Document = CloneMap(q.Document)
	c.Populate = append([]string(nil), q.Populate...)
	return &c
}

// CloneMap copies the top level of m, keeping nil as nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// PopulateList normalizes a single name or a list of names into a list.
func PopulateList(v any) []string {
	switch p := v.(type) {
	case string:
		if p == "" {
			return nil
		}
		return []string{p}
	case []string:
		return p
	case []any:
		out := make([]string, 0, len(p))
		for _, item := range p {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
