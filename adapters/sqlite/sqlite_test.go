package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/artpar/facet/adapters/clock"
	"github.com/artpar/facet/adapters/idgen"
	"github.com/artpar/facet/adapters/sqlite"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/ports"
	sqlite3 "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "facet-test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupStore(t *testing.T, opts sqlite.StoreOptions) (*sqlite.DocumentStore, ports.Model) {
	t.Helper()
	if opts.IDs == nil {
		opts.IDs = idgen.NewSequential("doc")
	}
	store := sqlite.NewDocumentStore(setupTestDB(t), opts)
	m, err := store.Model("items")
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	return store, m
}

func exec(t *testing.T, q ports.QueryBuilder) any {
	t.Helper()
	v, err := q.Exec(context.Background()).Await(context.Background())
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	return v
}

func create(t *testing.T, m ports.Model, doc map[string]any) map[string]any {
	t.Helper()
	v, err := m.Create(context.Background(), doc).Await(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return v.(map[string]any)
}

// -----------------------------------------------------------------------------
// Migration Tests
// -----------------------------------------------------------------------------

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("applied migrations = %d, want 1", n)
	}
}

func TestOpen_Memory(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check: %v", err)
	}
}

// -----------------------------------------------------------------------------
// DocumentStore Tests
// -----------------------------------------------------------------------------

func TestDocumentStore_CreateAndFindOne(t *testing.T) {
	_, m := setupStore(t, sqlite.StoreOptions{})

	doc := create(t, m, map[string]any{"name": "a", "rank": 1})
	if doc["_id"] != "doc1" {
		t.Errorf("_id = %v, want doc1", doc["_id"])
	}

	got := exec(t, m.FindOne(map[string]any{"_id": "doc1"}, "", nil))
	if got == nil {
		t.Fatal("document not found")
	}
	g := got.(map[string]any)
	if g["name"] != "a" || g["rank"] != 1.0 {
		t.Errorf("doc = %v", g)
	}
}

func TestDocumentStore_CreateDuplicate(t *testing.T) {
	_, m := setupStore(t, sqlite.StoreOptions{})
	create(t, m, map[string]any{"_id": "x"})

	_, err := m.Create(context.Background(), map[string]any{"_id": "x"}).Await(context.Background())
	if apierr.StatusOf(err, 0) != 400 {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDocumentStore_CollectionsAreIsolated(t *testing.T) {
	store, items := setupStore(t, sqlite.StoreOptions{})
	others, _ := store.Model("others")

	create(t, items, map[string]any{"_id": "x", "in": "items"})
	create(t, others, map[string]any{"_id": "x", "in": "others"})

	docs := exec(t, others.Find(nil, "", nil)).([]map[string]any)
	if len(docs) != 1 || docs[0]["in"] != "others" {
		t.Errorf("docs = %v", docs)
	}
}

func TestDocumentStore_Find(t *testing.T) {
	_, m := setupStore(t, sqlite.StoreOptions{})
	create(t, m, map[string]any{"name": "c", "rank": 3, "tenant_id": "t1"})
	create(t, m, map[string]any{"name": "a", "rank": 1, "tenant_id": "t1"})
	create(t, m, map[string]any{"name": "b", "rank": 2, "tenant_id": "t2"})

	tests := []struct {
		name       string
		conditions map[string]any
		options    map[string]any
		want       []string
	}{
		{"insertion order", nil, nil, []string{"c", "a", "b"}},
		{"tenant filter", map[string]any{"tenant_id": "t1"}, nil, []string{"c", "a"}},
		{"sort and limit", nil, map[string]any{"sort": "rank", "limit": 2}, []string{"a", "b"}},
		{"in operator", map[string]any{"name": map[string]any{"$in": []any{"a", "b"}}}, nil, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := exec(t, m.Find(tt.conditions, "name", tt.options)).([]map[string]any)
			if len(docs) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(docs), len(tt.want))
			}
			for i, name := range tt.want {
				if docs[i]["name"] != name {
					t.Errorf("docs[%d] = %v, want %s", i, docs[i]["name"], name)
				}
				if _, ok := docs[i]["rank"]; ok {
					t.Errorf("projection leaked rank")
				}
			}
		})
	}
}

func TestDocumentStore_UpdateAndRemove(t *testing.T) {
	_, m := setupStore(t, sqlite.StoreOptions{})
	create(t, m, map[string]any{"kind": "x", "n": 1})
	create(t, m, map[string]any{"kind": "x", "n": 1})
	create(t, m, map[string]any{"kind": "y", "n": 1})

	n := exec(t, m.Update(map[string]any{"kind": "x"}, map[string]any{"$set": map[string]any{"n": 5}}, nil))
	if n != 1 {
		t.Errorf("single update count = %v, want 1", n)
	}

	n = exec(t, m.Update(map[string]any{"kind": "x"}, map[string]any{"$inc": map[string]any{"n": 1}}, map[string]any{"multi": true}))
	if n != 2 {
		t.Errorf("multi update count = %v, want 2", n)
	}

	got := exec(t, m.FindOne(map[string]any{"_id": "doc1"}, "", nil)).(map[string]any)
	if got["n"] != 6.0 {
		t.Errorf("n = %v, want 6", got["n"])
	}

	n = exec(t, m.Remove(map[string]any{"kind": "x"}))
	if n != 2 {
		t.Errorf("remove count = %v, want 2", n)
	}
	docs := exec(t, m.Find(nil, "", nil)).([]map[string]any)
	if len(docs) != 1 || docs[0]["kind"] != "y" {
		t.Errorf("remaining = %v", docs)
	}
}

func TestDocumentStore_Timestamps(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	_, m := setupStore(t, sqlite.StoreOptions{Clock: clk, Timestamps: true})

	create(t, m, map[string]any{"_id": "x"})
	clk.Advance(time.Minute)
	exec(t, m.Update(map[string]any{"_id": "x"}, map[string]any{"v": 1}, nil))

	got := exec(t, m.FindOne(map[string]any{"_id": "x"}, "", nil)).(map[string]any)
	if got["createdAt"] != "2024-05-01T12:00:00Z" {
		t.Errorf("createdAt = %v", got["createdAt"])
	}
	if got["updatedAt"] != "2024-05-01T12:01:00Z" {
		t.Errorf("updatedAt = %v", got["updatedAt"])
	}
}

func TestDocumentStore_Populate(t *testing.T) {
	store, posts := setupStore(t, sqlite.StoreOptions{})
	users, _ := store.Model("users")
	store.SetRef("items", "author", "users")

	create(t, users, map[string]any{"_id": "u1", "name": "ann"})
	create(t, posts, map[string]any{"_id": "p1", "author": "u1"})

	got := exec(t, posts.FindOne(map[string]any{"_id": "p1"}, "", nil).Populate("author")).(map[string]any)
	author, ok := got["author"].(map[string]any)
	if !ok || author["name"] != "ann" {
		t.Errorf("author = %v", got["author"])
	}
}

// -----------------------------------------------------------------------------
// Failure Tests
// -----------------------------------------------------------------------------

func mockStore(t *testing.T) (*sqlite.DocumentStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlite.NewDocumentStore(&sqlite.DB{DB: db}, sqlite.StoreOptions{IDs: idgen.NewSequential("m")}), mock
}

func TestDocumentStore_QueryError(t *testing.T) {
	store, mock := mockStore(t)
	m, _ := store.Model("items")

	mock.ExpectQuery(`SELECT body FROM documents`).
		WithArgs("items").
		WillReturnError(errors.New("disk I/O error"))

	_, err := m.Find(nil, "", nil).Exec(context.Background()).Await(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDocumentStore_IDPushdown(t *testing.T) {
	store, mock := mockStore(t)
	m, _ := store.Model("items")

	mock.ExpectQuery(`SELECT body FROM documents WHERE collection = \? AND id = \?`).
		WithArgs("items", "x").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"_id":"x","name":"a"}`))

	got, err := m.FindOne(map[string]any{"_id": "x"}, "", nil).Exec(context.Background()).Await(context.Background())
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if got.(map[string]any)["name"] != "a" {
		t.Errorf("doc = %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDocumentStore_CorruptBody(t *testing.T) {
	store, mock := mockStore(t)
	m, _ := store.Model("items")

	mock.ExpectQuery(`SELECT body FROM documents`).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{not json`))

	if _, err := m.Find(nil, "", nil).Exec(context.Background()).Await(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDocumentStore_DuplicateFromDriver(t *testing.T) {
	store, mock := mockStore(t)
	m, _ := store.Model("items")

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("items", "x", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey})

	_, err := m.Create(context.Background(), map[string]any{"_id": "x"}).Await(context.Background())
	if apierr.StatusOf(err, 0) != 400 {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDocumentStore_UpdateRollsBack(t *testing.T) {
	store, mock := mockStore(t)
	m, _ := store.Model("items")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT body FROM documents`).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"_id":"x","n":1}`))
	mock.ExpectExec(`UPDATE documents SET body`).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err := m.Update(map[string]any{"_id": "x"}, map[string]any{"n": 2}, nil).Exec(context.Background()).Await(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDocumentStore_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	store := sqlite.NewDocumentStore(&sqlite.DB{DB: db}, sqlite.StoreOptions{})

	mock.ExpectPing().WillReturnError(errors.New("gone"))
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure")
	}

	mock.ExpectPing()
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check: %v", err)
	}
}
