package translate

import (
	"sort"
	"sync"

	"github.com/artpar/facet/domain/manifest"
	"github.com/rs/zerolog"
)

// Key identifies a bound route, e.g. "GET::/api/widgets/:id".
func Key(verb manifest.Verb, path string) string {
	return string(verb) + "::" + path
}

// Entry is one bound route.
type Entry struct {
	Verb  manifest.Verb  `json:"verb"`
	Path  string         `json:"path"`  // full path including the route base
	Owner string         `json:"owner"` // event type of the owning resource
	Route manifest.Route `json:"route"`
}

// Key returns the entry's tracker key.
func (e Entry) Key() string { return Key(e.Verb, e.Path) }

// Tracker records which route owns each verb and path. It is shared by every
// binder of an application, so the last registration of a key wins.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Set records e. It reports whether an existing registration was replaced.
func (t *Tracker) Set(e Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := e.Key()
	prev, replaced := t.entries[key]
	if replaced {
		t.logger.Warn().
			Str("route", key).
			Str("previous_owner", prev.Owner).
			Str("previous_event", prev.Route.Event).
			Str("owner", e.Owner).
			Str("event", e.Route.Event).
			Msg("route registered twice, last registration wins")
	}
	t.entries[key] = e
	return replaced
}

// Lookup returns the entry registered under key.
func (t *Tracker) Lookup(key string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	return e, ok
}

// Entries returns every registered entry ordered by path, then verb.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Verb < out[j].Verb
	})
	return out
}

// Keys returns every registered key in sorted order.
func (t *Tracker) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
