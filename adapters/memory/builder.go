package memory

import (
	"context"

	"github.com/artpar/facet/domain/query"
	"github.com/artpar/facet/pkg/pending"
	"github.com/artpar/facet/ports"
)

type kind int

const (
	kindFind kind = iota
	kindFindOne
	kindUpdate
	kindRemove
)

// builder is a prepared query against one Model.
type builder struct {
	model      *Model
	kind       kind
	conditions map[string]any
	fields     string
	options    map[string]any
	updates    map[string]any
	populate   []string
}

func (b *builder) Populate(path string) ports.QueryBuilder {
	b.populate = append(b.populate, path)
	return b
}

func (b *builder) Exec(ctx context.Context) *pending.Result {
	return pending.Go(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch b.kind {
		case kindFind:
			return b.find()
		case kindFindOne:
			return b.findOne()
		case kindUpdate:
			return b.update()
		default:
			return b.remove()
		}
	})
}

func (b *builder) find() (any, error) {
	s := b.model.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.collection(b.model.name)
	if err != nil {
		return nil, err
	}
	matched := c.matches(b.conditions)
	docs := make([]map[string]any, len(matched))
	copy(docs, matched)
	docs = query.Window(docs, b.options)

	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, b.shape(d))
	}
	return out, nil
}

func (b *builder) findOne() (any, error) {
	s := b.model.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.collection(b.model.name)
	if err != nil {
		return nil, err
	}
	docs := query.Window(c.matches(b.conditions), b.options)
	if len(docs) == 0 {
		return nil, nil
	}
	return b.shape(docs[0]), nil
}

func (b *builder) update() (any, error) {
	s := b.model.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(b.model.name)
	if err != nil {
		return nil, err
	}
	matched := c.matches(b.conditions)
	if multi, _ := b.options["multi"].(bool); !multi && len(matched) > 1 {
		matched = matched[:1]
	}

	updated := make([]map[string]any, 0, len(matched))
	for _, doc := range matched {
		next, err := query.ApplyUpdate(doc, b.updates)
		if err != nil {
			return nil, err
		}
		next[query.IDField] = doc[query.IDField]
		if s.opts.Timestamps {
			next["updatedAt"] = s.opts.Clock.Now()
		}
		updated = append(updated, next)
	}
	// Apply only after every update succeeded.
	for _, doc := range updated {
		c.docs[doc[query.IDField].(string)] = doc
	}
	return len(updated), nil
}

func (b *builder) remove() (any, error) {
	s := b.model.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(b.model.name)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool)
	for _, doc := range c.matches(b.conditions) {
		ids[doc[query.IDField].(string)] = true
	}
	c.remove(ids)
	return len(ids), nil
}

// shape projects a stored document and resolves populated paths. Must be
// called with the store lock held.
func (b *builder) shape(doc map[string]any) map[string]any {
	out := query.Project(doc, b.fields)
	for _, path := range b.populate {
		v, ok := out[path]
		if !ok {
			continue
		}
		out[path] = b.resolve(path, v)
	}
	return out
}

func (b *builder) resolve(path string, v any) any {
	s := b.model.store
	target := path
	if t, ok := s.refs[b.model.name][path]; ok {
		target = t
	}
	c, ok := s.collections[target]
	if !ok {
		return v
	}

	switch ref := v.(type) {
	case string:
		if doc, ok := c.docs[ref]; ok {
			return query.CloneMap(doc)
		}
		return nil
	case []any:
		out := make([]any, 0, len(ref))
		for _, item := range ref {
			if id, ok := item.(string); ok {
				if doc, ok := c.docs[id]; ok {
					out = append(out, query.CloneMap(doc))
				}
			}
		}
		return out
	case []string:
		out := make([]any, 0, len(ref))
		for _, id := range ref {
			if doc, ok := c.docs[id]; ok {
				out = append(out, query.CloneMap(doc))
			}
		}
		return out
	}
	return v
}
