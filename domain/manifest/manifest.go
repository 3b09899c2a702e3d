// Package manifest provides the declarative route manifest for one resource.
// A manifest names the events a resource emits, where its routes live and the
// error messages reported when an operation fails.
package manifest

import (
	"strings"
)

// Verb is an HTTP verb a route binds to.
type Verb string

const (
	VerbGET    Verb = "GET"
	VerbPOST   Verb = "POST"
	VerbPUT    Verb = "PUT"
	VerbDELETE Verb = "DELETE"
)

// Verbs lists every supported verb in binding order.
var Verbs = []Verb{VerbGET, VerbPOST, VerbPUT, VerbDELETE}

// ParseVerb normalizes a verb string. Unknown verbs return false.
func ParseVerb(s string) (Verb, bool) {
	v := Verb(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VerbGET, VerbPOST, VerbPUT, VerbDELETE:
		return v, true
	}
	return "", false
}

// Kind tells natively-owned routes from routes injected by a composite.
type Kind string

const (
	KindNative   Kind = ""
	KindExtended Kind = "extended"
)

// Op is the CRUD operation an event is bound to.
type Op string

const (
	OpNone    Op = ""
	OpFind    Op = "find"
	OpFindOne Op = "findone"
	OpUpdate  Op = "update"
	OpCreate  Op = "create"
	OpRemove  Op = "remove"
)

// Processor selects how a bound route pre-processes a request.
//
// The zero value passes the raw request descriptor straight to the route event.
// Default runs the built-in request-to-query translation. Event names a custom
// pre-processing event that receives the raw descriptor and the route event.
type Processor struct {
	Default bool   `yaml:"default,omitempty" json:"default,omitempty"`
	Event   string `yaml:"event,omitempty" json:"event,omitempty"`
}

// IsZero reports whether no processor was configured.
func (p Processor) IsZero() bool {
	return !p.Default && p.Event == ""
}

// UnmarshalYAML accepts `processor: true` or `processor: some:event`.
func (p *Processor) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*p = Processor{Default: v}
	case string:
		*p = Processor{Event: v}
	case nil:
		*p = Processor{}
	default:
		type plain Processor
		var pp plain
		if err := unmarshal(&pp); err != nil {
			return err
		}
		*p = Processor(pp)
	}
	return nil
}

// Route describes one routable entry of a resource.
type Route struct {
	Verb      Verb      `yaml:"verb" json:"verb"`
	Path      string    `yaml:"path" json:"path"`
	Event     string    `yaml:"event" json:"event"`
	Processor Processor `yaml:"processor,omitempty" json:"processor,omitempty"`
	Op        Op        `yaml:"op,omitempty" json:"op,omitempty"`
	Kind      Kind      `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// Operation returns the CRUD operation the route event maps to.
// An explicit Op wins; otherwise the last segment of the event name decides.
func (r Route) Operation() Op {
	if r.Op != OpNone {
		return r.Op
	}
	return OpForEvent(r.Event)
}

// OpForEvent derives an operation from an event name such as "facet:item:find".
func OpForEvent(event string) Op {
	i := strings.LastIndex(event, ":")
	suffix := strings.ToLower(event[i+1:])
	switch suffix {
	case "find":
		return OpFind
	case "findone":
		return OpFindOne
	case "update":
		return OpUpdate
	case "create":
		return OpCreate
	case "remove", "delete":
		return OpRemove
	}
	return OpNone
}

// Error message keys used by the CRUD operations.
const (
	MsgConditions  = "conditions"
	MsgQuery       = "query"
	MsgNotFound    = "notFound"
	MsgFind        = "find"
	MsgFindOne     = "findOne"
	MsgUpdate      = "update"
	MsgUpdateMatch = "updateMatch"
	MsgCreate      = "create"
	MsgCreateMatch = "createMatch"
	MsgRemove      = "remove"
	MsgRemoveMatch = "removeMatch"
)

// DefaultErrorMessages returns a fresh copy of the base message templates.
func DefaultErrorMessages() map[string]string {
	return map[string]string{
		MsgConditions:  "No query conditions were specified",
		MsgQuery:       "Error querying for item(s): ",
		MsgNotFound:    "No item was found.",
		MsgFind:        "No item(s) matched your criteria.",
		MsgFindOne:     "No item matched your criteria.",
		MsgUpdate:      "No updates were specified.",
		MsgUpdateMatch: "No items were updated based on your criteria.",
		MsgCreate:      "No data supplied for creating new item.",
		MsgCreateMatch: "No item was created based on your criteria.",
		MsgRemove:      "No data supplied for removing item.",
		MsgRemoveMatch: "No item was removed based on your criteria.",
	}
}

// Manifest is the routable surface of one resource.
// Setters return the manifest so configuration can be chained.
type Manifest struct {
	apiEventType  string
	apiModelID    string
	routeBase     string
	routes        []Route
	errorMessages map[string]string
}

// New creates an empty manifest carrying the default error messages.
func New() *Manifest {
	return &Manifest{
		errorMessages: DefaultErrorMessages(),
	}
}

// SetAPIEventType sets the tag used to namespace emitted events.
func (m *Manifest) SetAPIEventType(name string) *Manifest {
	m.apiEventType = name
	return m
}

// SetAPIModelID sets the path parameter that carries a document id.
func (m *Manifest) SetAPIModelID(name string) *Manifest {
	m.apiModelID = name
	return m
}

// SetRouteBase sets the prefix every route path is bound under.
func (m *Manifest) SetRouteBase(prefix string) *Manifest {
	m.routeBase = prefix
	return m
}

// SetRoutes replaces the route list.
func (m *Manifest) SetRoutes(routes []Route) *Manifest {
	m.routes = append([]Route(nil), routes...)
	return m
}

// AddRoutes appends routes. Duplicates are kept.
func (m *Manifest) AddRoutes(routes []Route) *Manifest {
	m.routes = append(m.routes, routes...)
	return m
}

// ExtendRouteErrorMessages merges overrides over the current messages into a
// new table. The previous table is left untouched.
func (m *Manifest) ExtendRouteErrorMessages(overrides map[string]string) *Manifest {
	merged := make(map[string]string, len(m.errorMessages)+len(overrides))
	for k, v := range m.errorMessages {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	m.errorMessages = merged
	return m
}

func (m *Manifest) APIEventType() string { return m.apiEventType }
func (m *Manifest) APIModelID() string   { return m.apiModelID }
func (m *Manifest) RouteBase() string    { return m.routeBase }

// Routes returns a copy of the route list.
func (m *Manifest) Routes() []Route {
	return append([]Route(nil), m.routes...)
}

// ErrorMessages returns the current message table. Callers must not mutate it.
func (m *Manifest) ErrorMessages() map[string]string {
	return m.errorMessages
}

// ErrorMessage returns the message for key, or the notFound message if unset.
func (m *Manifest) ErrorMessage(key string) string {
	if msg, ok := m.errorMessages[key]; ok {
		return msg
	}
	return m.errorMessages[MsgNotFound]
}

// Clone returns a deep copy. Binding works off a clone so later mutation of
// the manifest has no effect on live routes.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		apiEventType:  m.apiEventType,
		apiModelID:    m.apiModelID,
		routeBase:     m.routeBase,
		routes:        m.Routes(),
		errorMessages: make(map[string]string, len(m.errorMessages)),
	}
	for k, v := range m.errorMessages {
		c.errorMessages[k] = v
	}
	return c
}

// FullPath joins the route base and a route path.
func (m *Manifest) FullPath(r Route) string {
	return m.routeBase + r.Path
}
