package query

import (
	"strings"

	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
)

// StripFields lists, per verb, the fields never readable or writable through
// the public surface.
type StripFields map[manifest.Verb][]string

// DefaultStripFields hides credentials from reads and keys from writes.
func DefaultStripFields() StripFields {
	return StripFields{
		manifest.VerbGET:    {"api_key", "password"},
		manifest.VerbPOST:   {"api_key"},
		manifest.VerbPUT:    {},
		manifest.VerbDELETE: {},
	}
}

// CleanFields strips the verb's fields from a projection string (reads) or a
// document (writes). An empty verb is a configuration error.
func CleanFields(fields any, verb manifest.Verb, strip StripFields) (any, error) {
	if verb == "" {
		return nil, apierr.Configf("cleanFields requires a verb")
	}
	list := strip[verb]

	switch f := fields.(type) {
	case string:
		return CleanProjection(f, list), nil
	case map[string]any:
		return CleanDocument(f, list), nil
	case nil:
		if verb == manifest.VerbGET {
			return "", nil
		}
		return map[string]any{}, nil
	}
	return fields, nil
}

// CleanProjection drops stripped names (and their "+name" forms) from a comma
// or whitespace delimited projection and rejoins it with single spaces.
func CleanProjection(fields string, strip []string) string {
	if fields == "" {
		return ""
	}
	denied := make(map[string]bool, len(strip)*2)
	for _, s := range strip {
		denied[s] = true
		denied["+"+s] = true
	}

	tokens := strings.FieldsFunc(fields, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	kept := tokens[:0]
	for _, tok := range tokens {
		if !denied[tok] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// CleanDocument returns a copy of doc without the stripped keys.
func CleanDocument(doc map[string]any, strip []string) map[string]any {
	if doc == nil {
		return nil
	}
	out := CloneMap(doc)
	for _, s := range strip {
		delete(out, s)
	}
	return out
}
