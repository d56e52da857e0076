package client

import (
	"context"
	"testing"

	"github.com/kartikbazzad/modb/internal/index"
	"github.com/kartikbazzad/modb/internal/objstore"
)

func indexDef() index.Definition {
	return index.Definition{
		Name: "category_1",
		Keys: []index.KeyPart{{Field: "category", Order: index.Ascending}},
	}
}

func TestConnectVolatileInsertAndFind(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, Volatile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	col, err := c.DB("app").Collection(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	id, err := col.InsertOne(ctx, map[string]any{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}
	doc, found, err := col.FindOne(ctx, map[string]any{"_id": id})
	if err != nil {
		t.Fatal(err)
	}
	if !found || doc["name"] != "ada" {
		t.Fatalf("got %+v found=%v", doc, found)
	}
}

func TestDBReturnsSameHandleOnRepeatedAccess(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, Volatile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	db1 := c.DB("app")
	db2 := c.DB("app")
	if db1 != db2 {
		t.Error("expected DB to return the same Database handle for the same name")
	}
}

func TestCollectionNamespacedByDatabase(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, Volatile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	colA, err := c.DB("tenantA").Collection(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	colB, err := c.DB("tenantB").Collection(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := colA.InsertOne(ctx, map[string]any{"_id": "o1"}); err != nil {
		t.Fatal(err)
	}
	if _, found, err := colB.FindOne(ctx, map[string]any{"_id": "o1"}); err != nil || found {
		t.Fatalf("expected tenantB/orders to be isolated from tenantA/orders, found=%v err=%v", found, err)
	}
}

func TestCloseFlushesAllOpenCollections(t *testing.T) {
	ctx := context.Background()
	shared := objstore.NewMemory()
	c := ConnectWithStore(shared, nil)

	col, err := c.DB("app").Collection(ctx, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	if err := col.CreateIndex(ctx, indexDef()); err != nil {
		t.Fatal(err)
	}
	if _, err := col.InsertOne(ctx, map[string]any{"_id": "t1", "category": "work"}); err != nil {
		t.Fatal(err)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reader := ConnectWithStore(shared, nil)
	rcol, err := reader.DB("app").Collection(ctx, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	cur, err := rcol.Find(ctx, map[string]any{"category": "work"}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	docs, err := cur.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected the flushed index to be visible after reconnecting, got %d docs", len(docs))
	}
}

func TestConnectWithStoreSharesCrossProcessWrites(t *testing.T) {
	ctx := context.Background()
	shared := objstore.NewMemory()

	writerA := ConnectWithStore(shared, nil)
	writerB := ConnectWithStore(shared, nil)

	colA, err := writerA.DB("app").Collection(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if err := colA.CreateIndex(ctx, indexDef()); err != nil {
		t.Fatal(err)
	}
	colB, err := writerB.DB("app").Collection(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := colA.InsertOne(ctx, map[string]any{"_id": "e1", "category": "click"}); err != nil {
		t.Fatal(err)
	}
	if _, err := colB.InsertOne(ctx, map[string]any{"_id": "e2", "category": "click"}); err != nil {
		t.Fatal(err)
	}
	if err := writerA.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := writerB.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reader := ConnectWithStore(shared, nil)
	rcol, err := reader.DB("app").Collection(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	cur, err := rcol.Find(ctx, map[string]any{"category": "click"}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	docs, err := cur.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected both writers' inserts visible, got %d: %+v", len(docs), docs)
	}
}
