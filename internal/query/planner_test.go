package query

import (
	"context"
	"testing"

	"github.com/kartikbazzad/modb/internal/config"
	"github.com/kartikbazzad/modb/internal/index"
	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/kartikbazzad/modb/internal/objstore"
)

func newIndex(t *testing.T, def index.Definition) *index.CollectionIndex {
	t.Helper()
	ci, err := index.NewCollectionIndex("tasks", def, objstore.NewMemory(), config.IndexConfig{
		EntryCacheSize: 16, WorkersPerIndex: 4, ImmediateRetryCap: 3,
	}, logger.New(discardWriter{}, logger.LevelError, "[test]"))
	if err != nil {
		t.Fatalf("NewCollectionIndex: %v", err)
	}
	return ci
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPlanQueryFallsBackToScanWhenNoIndexCovers(t *testing.T) {
	plan, err := PlanQuery(context.Background(), Query{Conditions: []Condition{{Field: "x", Op: Eq, Value: 1.0}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Index != nil {
		t.Error("expected a full-scan plan (nil Index) when no index covers the query")
	}
	if len(plan.Residual) != 1 {
		t.Errorf("expected the unmatched condition to remain residual, got %+v", plan.Residual)
	}
}

func TestPlanQueryPicksLongestCoveredPrefix(t *testing.T) {
	ctx := context.Background()
	short := newIndex(t, index.Definition{Name: "category_1", Keys: []index.KeyPart{
		{Field: "category", Order: index.Ascending},
	}})
	long := newIndex(t, index.Definition{Name: "category_region_1", Keys: []index.KeyPart{
		{Field: "category", Order: index.Ascending},
		{Field: "region", Order: index.Ascending},
		{Field: "priority", Order: index.Ascending},
	}})

	q := Query{Conditions: []Condition{
		{Field: "category", Op: Eq, Value: "work"},
		{Field: "region", Op: Eq, Value: "west"},
	}}
	plan, err := PlanQuery(ctx, q, []*index.CollectionIndex{short, long})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Index != long {
		t.Error("expected the planner to prefer the index covering more of the query")
	}
}

func TestPlanQueryCompoundIndexPushesDownSortAndLimit(t *testing.T) {
	ctx := context.Background()
	ci := newIndex(t, index.Definition{Name: "category_priority", Keys: []index.KeyPart{
		{Field: "category", Order: index.Ascending},
		{Field: "priority", Order: index.Ascending},
	}})
	priorities := []float64{10, 20, 30, 40, 50}
	for i, p := range priorities {
		doc := map[string]any{"_id": string(rune('a' + i)), "category": "work", "priority": p}
		if err := ci.AddDocument(ctx, doc["_id"].(string), doc); err != nil {
			t.Fatal(err)
		}
	}

	q := Query{
		Conditions: []Condition{
			{Field: "category", Op: Eq, Value: "work"},
			{Field: "priority", Op: Gt, Value: 20.0},
		},
		Sort:  []SortKey{{Field: "priority", Descending: false}},
		Limit: 2,
	}
	plan, err := PlanQuery(ctx, q, []*index.CollectionIndex{ci})
	if err != nil {
		t.Fatal(err)
	}
	if !plan.SortPushed || !plan.LimitPushed {
		t.Fatalf("expected sort and limit pushdown, got SortPushed=%v LimitPushed=%v", plan.SortPushed, plan.LimitPushed)
	}
	if plan.LastFieldResidual == nil {
		t.Fatal("expected the priority range condition to be pushed down as a last-field residual")
	}

	ids, err := candidateIDs(ctx, plan, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected exactly 2 candidate ids (limit pushdown), got %v", ids)
	}
}

func TestCartesianKeysCoversInOperator(t *testing.T) {
	fields := []index.KeyPart{{Field: "category", Order: index.Ascending}}
	conds := []Condition{{Field: "category", Op: In, Value: []any{"work", "personal"}}}
	keys := cartesianKeys(conds, fields)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys for a 2-element $in, got %v", keys)
	}
}
