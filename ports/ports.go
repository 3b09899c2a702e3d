// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/ and core/channel/.
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/pkg/pending"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique document identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Intercom Port
// -----------------------------------------------------------------------------

// Bus is the process-wide publish/subscribe dispatcher.
// Publish must deliver to every matching handler before returning.
type Bus interface {
	Subscribe(event string, handler events.Handler) (unsubscribe func())
	Publish(ctx context.Context, event events.Event)
	Emit(ctx context.Context, name string, data any)
	ListenerCount(event string) int
}

// -----------------------------------------------------------------------------
// Document Model Ports
// -----------------------------------------------------------------------------

// QueryBuilder is a prepared model query.
type QueryBuilder interface {
	// Populate eager-loads the referenced documents at path.
	Populate(path string) QueryBuilder

	// Exec runs the query. Find resolves to []map[string]any, FindOne to a
	// map[string]any or nil, Update and Remove to the affected count (int).
	Exec(ctx context.Context) *pending.Result
}

// Model is a document collection.
type Model interface {
	// Name returns the collection name.
	Name() string

	Find(conditions map[string]any, fields string, options map[string]any) QueryBuilder
	FindOne(conditions map[string]any, fields string, options map[string]any) QueryBuilder
	Update(conditions, updates, options map[string]any) QueryBuilder
	Remove(conditions map[string]any) QueryBuilder

	// Create stores data and resolves to the stored document.
	Create(ctx context.Context, data map[string]any) *pending.Result
}

// ModelStore hands out models by collection name.
type ModelStore interface {
	Model(collection string) (Model, error)
	Close() error
}

// -----------------------------------------------------------------------------
// Router Port
// -----------------------------------------------------------------------------

// Router is a verb-based route registry. Paths use ":name" parameters; each
// implementation translates them into its own syntax.
type Router interface {
	// Handle binds h to verb and path.
	Handle(verb manifest.Verb, path string, h http.Handler)

	// PathParams returns the named path parameters of a routed request.
	PathParams(r *http.Request) map[string]string
}

// -----------------------------------------------------------------------------
// Metrics Port
// -----------------------------------------------------------------------------

// Recorder receives pipeline measurements.
type Recorder interface {
	// Operation records a CRUD operation outcome ("ok", "error", "denied", "invalid").
	Operation(resource string, op manifest.Op, outcome string)

	// AccessDecision records an access check result.
	AccessDecision(action string, allowed bool)

	// Delivery records the dispatch strategy chosen for a result.
	Delivery(mode string)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) Operation(string, manifest.Op, string) {}
func (NopRecorder) AccessDecision(string, bool)          {}
func (NopRecorder) Delivery(string)                      {}
