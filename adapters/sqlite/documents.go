package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/artpar/facet/adapters/clock"
	"github.com/artpar/facet/adapters/idgen"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/query"
	"github.com/artpar/facet/pkg/pending"
	"github.com/artpar/facet/ports"
	"github.com/mattn/go-sqlite3"
)

// StoreOptions configures a DocumentStore.
type StoreOptions struct {
	IDs        ports.IDGenerator
	Clock      ports.Clock
	Timestamps bool
}

// DocumentStore keeps every collection in the documents table.
type DocumentStore struct {
	db   *DB
	opts StoreOptions

	mu   sync.RWMutex
	refs map[string]map[string]string
}

// NewDocumentStore creates a document store on a migrated database.
func NewDocumentStore(db *DB, opts StoreOptions) *DocumentStore {
	if opts.IDs == nil {
		opts.IDs = idgen.UUID{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	return &DocumentStore{db: db, opts: opts, refs: make(map[string]map[string]string)}
}

// Model returns the model of a collection.
func (s *DocumentStore) Model(name string) (ports.Model, error) {
	if name == "" {
		return nil, apierr.Configf("collection name is required")
	}
	return &DocumentModel{store: s, name: name}, nil
}

// SetRef declares the collection referenced by path in collection.
func (s *DocumentStore) SetRef(collection, path, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[collection] == nil {
		s.refs[collection] = make(map[string]string)
	}
	s.refs[collection][path] = target
}

func (s *DocumentStore) refTarget(collection, path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.refs[collection][path]; ok {
		return t
	}
	return path
}

// HealthCheck pings the underlying database.
func (s *DocumentStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close closes the database.
func (s *DocumentStore) Close() error {
	return s.db.Close()
}

// DocumentModel is one collection of a DocumentStore.
type DocumentModel struct {
	store *DocumentStore
	name  string
}

func (m *DocumentModel) Name() string { return m.name }

func (m *DocumentModel) Find(conditions map[string]any, fields string, options map[string]any) ports.QueryBuilder {
	return &docQuery{model: m, kind: kindFind, conditions: conditions, fields: fields, options: options}
}

func (m *DocumentModel) FindOne(conditions map[string]any, fields string, options map[string]any) ports.QueryBuilder {
	return &docQuery{model: m, kind: kindFindOne, conditions: conditions, fields: fields, options: options}
}

func (m *DocumentModel) Update(conditions, updates, options map[string]any) ports.QueryBuilder {
	return &docQuery{model: m, kind: kindUpdate, conditions: conditions, updates: updates, options: options}
}

func (m *DocumentModel) Remove(conditions map[string]any) ports.QueryBuilder {
	return &docQuery{model: m, kind: kindRemove, conditions: conditions}
}

// Create inserts data as a new row. A duplicate _id is a validation error.
func (m *DocumentModel) Create(ctx context.Context, data map[string]any) *pending.Result {
	return pending.Go(func() (any, error) {
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
		now := s.opts.Clock.Now()
		if s.opts.Timestamps {
			doc["createdAt"] = now
			doc["updatedAt"] = now
		}

		body, err := json.Marshal(doc)
		if err != nil {
			return nil, apierr.Validation(fmt.Sprintf("encode document: %v", err))
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			m.name, id, string(body), now, now)
		if err != nil {
			var se sqlite3.Error
			if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return nil, apierr.Validation("duplicate key: " + id)
			}
			return nil, fmt.Errorf("insert document: %w", err)
		}
		return decode(body)
	})
}

type kind int

const (
	kindFind kind = iota
	kindFindOne
	kindUpdate
	kindRemove
)

type docQuery struct {
	model      *DocumentModel
	kind       kind
	conditions map[string]any
	fields     string
	options    map[string]any
	updates    map[string]any
	populate   []string
}

func (q *docQuery) Populate(path string) ports.QueryBuilder {
	q.populate = append(q.populate, path)
	return q
}

func (q *docQuery) Exec(ctx context.Context) *pending.Result {
	return pending.Go(func() (any, error) {
		switch q.kind {
		case kindFind:
			return q.find(ctx)
		case kindFindOne:
			return q.findOne(ctx)
		case kindUpdate:
			return q.update(ctx)
		default:
			return q.remove(ctx)
		}
	})
}

func (q *docQuery) find(ctx context.Context) (any, error) {
	docs, err := load(ctx, q.model.store.db, q.model.name, q.conditions)
	if err != nil {
		return nil, err
	}
	docs = query.Window(docs, q.options)

	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		shaped, err := q.shape(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, shaped)
	}
	return out, nil
}

func (q *docQuery) findOne(ctx context.Context) (any, error) {
	docs, err := load(ctx, q.model.store.db, q.model.name, q.conditions)
	if err != nil {
		return nil, err
	}
	docs = query.Window(docs, q.options)
	if len(docs) == 0 {
		return nil, nil
	}
	return q.shape(ctx, docs[0])
}

func (q *docQuery) update(ctx context.Context) (any, error) {
	s := q.model.store
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	docs, err := load(ctx, tx, q.model.name, q.conditions)
	if err != nil {
		return nil, err
	}
	if multi, _ := q.options["multi"].(bool); !multi && len(docs) > 1 {
		docs = docs[:1]
	}

	now := s.opts.Clock.Now()
	for _, doc := range docs {
		next, err := query.ApplyUpdate(doc, q.updates)
		if err != nil {
			return nil, apierr.Validation(err.Error())
		}
		id := doc[query.IDField]
		next[query.IDField] = id
		if s.opts.Timestamps {
			next["updatedAt"] = now
		}
		body, err := json.Marshal(next)
		if err != nil {
			return nil, apierr.Validation(fmt.Sprintf("encode document: %v", err))
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			string(body), now, q.model.name, id); err != nil {
			return nil, fmt.Errorf("update document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return len(docs), nil
}

func (q *docQuery) remove(ctx context.Context) (any, error) {
	tx, err := q.model.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	docs, err := load(ctx, tx, q.model.name, q.conditions)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`,
			q.model.name, doc[query.IDField]); err != nil {
			return nil, fmt.Errorf("delete document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit remove: %w", err)
	}
	return len(docs), nil
}

func (q *docQuery) shape(ctx context.Context, doc map[string]any) (map[string]any, error) {
	out := query.Project(doc, q.fields)
	for _, path := range q.populate {
		v, ok := out[path]
		if !ok {
			continue
		}
		resolved, err := q.resolve(ctx, path, v)
		if err != nil {
			return nil, err
		}
		out[path] = resolved
	}
	return out, nil
}

func (q *docQuery) resolve(ctx context.Context, path string, v any) (any, error) {
	target := q.model.store.refTarget(q.model.name, path)
	db := q.model.store.db

	one := func(id string) (map[string]any, error) {
		docs, err := load(ctx, db, target, map[string]any{query.IDField: id})
		if err != nil || len(docs) == 0 {
			return nil, err
		}
		return docs[0], nil
	}

	switch ref := v.(type) {
	case string:
		doc, err := one(ref)
		if err != nil || doc == nil {
			return nil, err
		}
		return doc, nil
	case []any:
		out := make([]any, 0, len(ref))
		for _, item := range ref {
			id, ok := item.(string)
			if !ok {
				continue
			}
			doc, err := one(id)
			if err != nil {
				return nil, err
			}
			if doc != nil {
				out = append(out, doc)
			}
		}
		return out, nil
	}
	return v, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// load returns the documents of collection matching conditions in insertion
// order. A string _id condition is pushed down to the primary key.
func load(ctx context.Context, db querier, collection string, conditions map[string]any) ([]map[string]any, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if id, ok := conditions[query.IDField].(string); ok {
		rows, err = db.QueryContext(ctx,
			`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT body FROM documents WHERE collection = ? ORDER BY rowid`, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decode([]byte(body))
		if err != nil {
			return nil, err
		}
		if query.Match(doc, conditions) {
			out = append(out, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func decode(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

var (
	_ ports.ModelStore = (*DocumentStore)(nil)
	_ ports.Model      = (*DocumentModel)(nil)
)
