// Package memory provides an in-process document store. Contents are lost on
// restart; it backs tests and the "memory" database driver.
package memory

import (
	"context"
	"sync"

	"github.com/artpar/facet/adapters/clock"
	"github.com/artpar/facet/adapters/idgen"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/query"
	"github.com/artpar/facet/pkg/pending"
	"github.com/artpar/facet/ports"
)

// Options configures a Store.
type Options struct {
	IDs   ports.IDGenerator
	Clock ports.Clock

	// Timestamps stamps createdAt on create and updatedAt on create and update.
	Timestamps bool
}

// Store holds named collections of documents.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	refs        map[string]map[string]string
	opts        Options
}

type collection struct {
	order []string
	docs  map[string]map[string]any
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.IDs == nil {
		opts.IDs = idgen.UUID{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	return &Store{
		collections: make(map[string]*collection),
		refs:        make(map[string]map[string]string),
		opts:        opts,
	}
}

// Model returns the model of a collection, creating the collection if needed.
func (s *Store) Model(name string) (ports.Model, error) {
	if name == "" {
		return nil, apierr.Configf("collection name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &collection{docs: make(map[string]map[string]any)}
	}
	return &Model{store: s, name: name}, nil
}

// SetRef declares that path in documents of collection holds ids of
// documents in target. Populate follows it. Without a declaration the path
// name itself is taken as the target collection.
func (s *Store) SetRef(collection, path, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[collection] == nil {
		s.refs[collection] = make(map[string]string)
	}
	s.refs[collection][path] = target
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Close drops every collection.
func (s *Store) Close() error {
	s.mu.Lock()
	s.collections = make(map[string]*collection)
	s.mu.Unlock()
	return nil
}

// Model is one collection of a Store.
type Model struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (m *Model) Name() string { return m.name }

func (m *Model) Find(conditions map[string]any, fields string, options map[string]any) ports.QueryBuilder {
	return &builder{model: m, kind: kindFind, conditions: conditions, fields: fields, options: options}
}

func (m *Model) FindOne(conditions map[string]any, fields string, options map[string]any) ports.QueryBuilder {
	return &builder{model: m, kind: kindFindOne, conditions: conditions, fields: fields, options: options}
}

// Update changes the first matching document, or every match when
// options["multi"] is true.
func (m *Model) Update(conditions, updates, options map[string]any) ports.QueryBuilder {
	return &builder{model: m, kind: kindUpdate, conditions: conditions, updates: updates, options: options}
}

// Remove deletes every matching document.
func (m *Model) Remove(conditions map[string]any) ports.QueryBuilder {
	return &builder{model: m, kind: kindRemove, conditions: conditions}
}

// Create stores a copy of data. An _id is generated when absent.
func (m *Model) Create(ctx context.Context, data map[string]any) *pending.Result {
	return pending.Go(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := m.store
		doc := query.CloneMap(data)
		if doc == nil {
			doc = map[string]any{}
		}
		id, _ := doc[query.IDField].(string)
		if id == "" {
			id = s.opts.IDs.New()
			doc[query.IDField] = id
		}
		if s.opts.Timestamps {
			now := s.opts.Clock.Now()
			doc["createdAt"] = now
			doc["updatedAt"] = now
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		c, err := s.collection(m.name)
		if err != nil {
			return nil, err
		}
		if _, dup := c.docs[id]; dup {
			return nil, apierr.Validation("duplicate key: " + id)
		}
		c.docs[id] = doc
		c.order = append(c.order, id)
		return query.CloneMap(doc), nil
	})
}

// collection must be called with s.mu held.
func (s *Store) collection(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, apierr.NotFound("no collection " + name)
	}
	return c, nil
}

// matches returns the documents of c matching conditions in insertion order.
// Must be called with s.mu held.
func (c *collection) matches(conditions map[string]any) []map[string]any {
	var out []map[string]any
	if id, ok := conditions[query.IDField].(string); ok {
		if doc, found := c.docs[id]; found && query.Match(doc, conditions) {
			out = append(out, doc)
		}
		return out
	}
	for _, id := range c.order {
		if doc := c.docs[id]; query.Match(doc, conditions) {
			out = append(out, doc)
		}
	}
	return out
}

func (c *collection) remove(ids map[string]bool) {
	kept := c.order[:0]
	for _, id := range c.order {
		if ids[id] {
			delete(c.docs, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}

var (
	_ ports.ModelStore = (*Store)(nil)
	_ ports.Model      = (*Model)(nil)
)
