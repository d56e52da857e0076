package cursor

import (
	"context"
	"testing"

	"github.com/kartikbazzad/modb/internal/dberr"
)

func TestCursorLoadsOnceOnFirstUse(t *testing.T) {
	calls := 0
	c := New(func(ctx context.Context) ([]map[string]any, error) {
		calls++
		return []map[string]any{{"_id": "a"}, {"_id": "b"}}, nil
	}, 0)

	ctx := context.Background()
	if _, err := c.HasNext(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.HasNext(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want exactly 1", calls)
	}
}

func TestCursorToArrayDrainsRemaining(t *testing.T) {
	c := New(func(ctx context.Context) ([]map[string]any, error) {
		return []map[string]any{{"_id": "a"}, {"_id": "b"}, {"_id": "c"}}, nil
	}, 0)

	ctx := context.Background()
	first, err := c.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first["_id"] != "a" {
		t.Fatalf("got %v", first)
	}

	rest, err := c.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining documents, got %d", len(rest))
	}

	has, err := c.HasNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("cursor should be exhausted after ToArray")
	}
}

func TestCursorNextAfterExhaustionIsNotFound(t *testing.T) {
	c := New(func(ctx context.Context) ([]map[string]any, error) { return nil, nil }, 0)
	ctx := context.Background()
	if _, err := c.Next(ctx); !dberr.Is(err, dberr.NotFound) {
		t.Errorf("expected NotFound on exhausted cursor, got %v", err)
	}
}

func TestCursorCloseForbidsFurtherIteration(t *testing.T) {
	c := New(func(ctx context.Context) ([]map[string]any, error) {
		return []map[string]any{{"_id": "a"}}, nil
	}, 0)
	ctx := context.Background()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Next(ctx); !dberr.Is(err, dberr.ClientClosed) {
		t.Errorf("expected ClientClosed after Close, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close should be idempotent, got %v", err)
	}
}

func TestCursorBufferLimit(t *testing.T) {
	c := New(func(ctx context.Context) ([]map[string]any, error) {
		return []map[string]any{{"_id": "a"}, {"_id": "b"}, {"_id": "c"}}, nil
	}, 2)
	ctx := context.Background()

	all, err := c.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected buffer cap to limit results to 2, got %d", len(all))
	}
}
