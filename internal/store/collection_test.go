package store

import (
	"context"
	"testing"

	"github.com/kartikbazzad/modb/internal/config"
	"github.com/kartikbazzad/modb/internal/dberr"
	"github.com/kartikbazzad/modb/internal/index"
	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/kartikbazzad/modb/internal/objstore"
	"github.com/kartikbazzad/modb/internal/query"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestCollection(t *testing.T, name string, st objstore.Store) *Collection {
	t.Helper()
	cfg := config.DefaultConfig()
	log := logger.New(discard{}, logger.LevelError, "[test]")
	c, err := Open(context.Background(), name, st, cfg, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

// Scenario A: insert and find round trip.
func TestInsertOneAndFindOneRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "tasks", objstore.NewMemory())

	id, err := c.InsertOne(ctx, map[string]any{"title": "write tests", "priority": 5.0})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated _id")
	}

	doc, found, err := c.FindOne(ctx, map[string]any{"_id": id})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected the inserted document to be found")
	}
	if doc["title"] != "write tests" {
		t.Errorf("got %+v", doc)
	}
}

// Scenario B: compound index pushdown, effort-bound exactly the documents
// returned.
func TestFindUsesCompoundIndexWithExactlyLimitGets(t *testing.T) {
	ctx := context.Background()
	spy := objstore.NewSpy(objstore.NewMemory())
	c := newTestCollection(t, "tasks", spy)

	if err := c.CreateIndex(ctx, index.Definition{
		Name: "category_priority",
		Keys: []index.KeyPart{
			{Field: "category", Order: index.Ascending},
			{Field: "priority", Order: index.Descending},
		},
	}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for i, p := range []float64{10, 20, 30, 40, 50} {
		_, err := c.InsertOne(ctx, map[string]any{"_id": string(rune('a' + i)), "category": "work", "priority": p})
		if err != nil {
			t.Fatal(err)
		}
	}

	spy.Reset()
	cur, err := c.Find(ctx, map[string]any{"category": "work"},
		[]query.SortKey{{Field: "priority", Descending: true}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	docs, err := cur.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0]["priority"] != 50.0 || docs[1]["priority"] != 40.0 {
		t.Fatalf("expected descending priority [50,40], got [%v,%v]", docs[0]["priority"], docs[1]["priority"])
	}
	if got := spy.Count("get"); got != 2 {
		t.Fatalf("effort bound violated: expected exactly 2 document gets, got %d", got)
	}
}

// Scenario C: two independent Collection handles over one shared store
// converge after both flush (cross-process merge).
func TestConcurrentWritersConvergeOverSharedStore(t *testing.T) {
	ctx := context.Background()
	shared := objstore.NewMemory()

	writerA := newTestCollection(t, "events", shared)
	if err := writerA.CreateIndex(ctx, index.Definition{
		Name: "kind_1",
		Keys: []index.KeyPart{{Field: "kind", Order: index.Ascending}},
	}); err != nil {
		t.Fatal(err)
	}

	writerB := newTestCollection(t, "events", shared)

	if _, err := writerA.InsertOne(ctx, map[string]any{"_id": "e1", "kind": "click"}); err != nil {
		t.Fatal(err)
	}
	if _, err := writerB.InsertOne(ctx, map[string]any{"_id": "e2", "kind": "click"}); err != nil {
		t.Fatal(err)
	}

	if err := writerA.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := writerB.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reader := newTestCollection(t, "events", shared)
	cur, err := reader.Find(ctx, map[string]any{"kind": "click"}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	docs, err := cur.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected both concurrently-inserted documents visible after flush, got %d: %+v", len(docs), docs)
	}
}

// Scenario D: delete purges a document from both storage and its indexes.
func TestDeleteOnePurgesFromIndex(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "tasks", objstore.NewMemory())
	if err := c.CreateIndex(ctx, index.Definition{
		Name: "category_1",
		Keys: []index.KeyPart{{Field: "category", Order: index.Ascending}},
	}); err != nil {
		t.Fatal(err)
	}

	id, err := c.InsertOne(ctx, map[string]any{"category": "work"})
	if err != nil {
		t.Fatal(err)
	}

	existed, err := c.DeleteOne(ctx, map[string]any{"_id": id})
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected DeleteOne to report the document existed")
	}

	_, found, err := c.FindOne(ctx, map[string]any{"_id": id})
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected the document to be gone after delete")
	}

	cur, err := c.Find(ctx, map[string]any{"category": "work"}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	docs, err := cur.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("expected the index to no longer report the deleted document, got %+v", docs)
	}
}

// Scenario E: most-recent-N via compound index descending sort + limit.
func TestFindMostRecentNUsesDescendingSortPushdown(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "events", objstore.NewMemory())
	if err := c.CreateIndex(ctx, index.Definition{
		Name: "user_ts",
		Keys: []index.KeyPart{
			{Field: "user", Order: index.Ascending},
			{Field: "ts", Order: index.Descending},
		},
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if _, err := c.InsertOne(ctx, map[string]any{"user": "alice", "ts": float64(i)}); err != nil {
			t.Fatal(err)
		}
	}

	cur, err := c.Find(ctx, map[string]any{"user": "alice"},
		[]query.SortKey{{Field: "ts", Descending: true}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	docs, err := cur.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 most-recent documents, got %d", len(docs))
	}
	want := []float64{4, 3, 2}
	for i, d := range docs {
		if d["ts"] != want[i] {
			t.Errorf("position %d: got ts=%v, want %v", i, d["ts"], want[i])
		}
	}
}

// Scenario F: operating on a closed collection raises client-closed
// without touching storage.
func TestClosedCollectionRejectsOperations(t *testing.T) {
	ctx := context.Background()
	spy := objstore.NewSpy(objstore.NewMemory())
	c := newTestCollection(t, "tasks", spy)
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	spy.Reset()
	if _, err := c.InsertOne(ctx, map[string]any{"x": 1.0}); !dberr.Is(err, dberr.ClientClosed) {
		t.Errorf("expected ClientClosed, got %v", err)
	}
	if _, _, err := c.FindOne(ctx, map[string]any{"_id": "x"}); !dberr.Is(err, dberr.ClientClosed) {
		t.Errorf("expected ClientClosed, got %v", err)
	}
	if spy.Count("get") != 0 || spy.Count("put") != 0 {
		t.Errorf("expected zero storage calls against a closed collection, got gets=%d puts=%d", spy.Count("get"), spy.Count("put"))
	}
}

func TestUpdateOneSetAppliesDottedPath(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "tasks", objstore.NewMemory())
	id, err := c.InsertOne(ctx, map[string]any{"meta": map[string]any{"done": false}})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := c.UpdateOne(ctx, map[string]any{"_id": id}, map[string]any{
		"$set": map[string]any{"meta.done": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !updated {
		t.Fatal("expected update to report a match")
	}

	doc, _, err := c.FindOne(ctx, map[string]any{"_id": id})
	if err != nil {
		t.Fatal(err)
	}
	meta, ok := doc["meta"].(map[string]any)
	if !ok || meta["done"] != true {
		t.Errorf("expected meta.done=true, got %+v", doc)
	}
}

func TestUpdateOneRejectsNonSetOperators(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "tasks", objstore.NewMemory())
	id, err := c.InsertOne(ctx, map[string]any{"n": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.UpdateOne(ctx, map[string]any{"_id": id}, map[string]any{"$inc": map[string]any{"n": 1.0}})
	if !dberr.Is(err, dberr.InvalidArgument) {
		t.Errorf("expected InvalidArgument for unsupported operator, got %v", err)
	}
}

func TestListIndexesAlwaysIncludesSyntheticIDIndex(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "tasks", objstore.NewMemory())

	defs := c.ListIndexes()
	if len(defs) != 1 || defs[0].Name != "_id_" {
		t.Fatalf("expected only the synthetic _id_ index on a fresh collection, got %+v", defs)
	}

	if err := c.CreateIndex(ctx, index.Definition{
		Name: "category_1",
		Keys: []index.KeyPart{{Field: "category", Order: index.Ascending}},
	}); err != nil {
		t.Fatal(err)
	}
	defs = c.ListIndexes()
	if len(defs) != 2 || defs[0].Name != "_id_" || defs[1].Name != "category_1" {
		t.Fatalf("expected [_id_, category_1], got %+v", defs)
	}
}

func TestCreateIndexReservesIDIndexName(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "tasks", objstore.NewMemory())
	err := c.CreateIndex(ctx, index.Definition{
		Name: "_id_",
		Keys: []index.KeyPart{{Field: "title", Order: index.Ascending}},
	})
	if !dberr.Is(err, dberr.InvalidArgument) {
		t.Errorf("expected InvalidArgument for a conflicting _id_ redefinition, got %v", err)
	}
}

func TestDropIndexRemovesItFromListing(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t, "tasks", objstore.NewMemory())
	if err := c.CreateIndex(ctx, index.Definition{
		Name: "category_1",
		Keys: []index.KeyPart{{Field: "category", Order: index.Ascending}},
	}); err != nil {
		t.Fatal(err)
	}

	existed, err := c.DropIndex(ctx, "category_1")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected DropIndex to report the index existed")
	}

	defs := c.ListIndexes()
	if len(defs) != 1 || defs[0].Name != "_id_" {
		t.Fatalf("expected only _id_ after drop, got %+v", defs)
	}
}
