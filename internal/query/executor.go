package query

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/modb/internal/dberr"
	"github.com/kartikbazzad/modb/internal/index"
)

// DocumentFetcher is the document-loading contract the executor needs
// from the collection store, kept minimal so this package never
// imports internal/store (which imports this package).
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, id string) (map[string]any, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)
}

// Execute runs q against indexes, loading matching documents through
// fetch with at most parallelism concurrent document loads in flight.
func Execute(ctx context.Context, q Query, indexes []*index.CollectionIndex, fetch DocumentFetcher, parallelism int) ([]map[string]any, error) {
	if q.IsOr() {
		return executeOr(ctx, q, indexes, fetch, parallelism)
	}

	plan, err := PlanQuery(ctx, q, indexes)
	if err != nil {
		return nil, err
	}
	return executePlan(ctx, plan, fetch, parallelism)
}

// executeOr plans and runs each $or branch independently, unions the
// results by _id, then applies the top-level sort/limit once over the
// combined set (a pushdown from one branch's index order does not
// imply anything about the union's order).
func executeOr(ctx context.Context, q Query, indexes []*index.CollectionIndex, fetch DocumentFetcher, parallelism int) ([]map[string]any, error) {
	seen := make(map[string]bool)
	var all []map[string]any

	for _, branch := range q.Branches {
		plan, err := PlanQuery(ctx, Query{Conditions: branch}, indexes)
		if err != nil {
			return nil, err
		}
		docs, err := executePlan(ctx, plan, fetch, parallelism)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			id, _ := d["_id"].(string)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			all = append(all, d)
		}
	}

	sortDocs(all, q.Sort)
	return applyLimit(all, q.Limit), nil
}

func executePlan(ctx context.Context, plan Plan, fetch DocumentFetcher, parallelism int) ([]map[string]any, error) {
	ids, err := candidateIDs(ctx, plan, fetch)
	if err != nil {
		return nil, err
	}

	docs, err := fetchAll(ctx, fetch, ids, parallelism)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue // concurrently deleted between index lookup and fetch
		}
		if matchAll(plan.Residual, d) {
			out = append(out, d)
		}
	}

	if !plan.SortPushed {
		sortDocs(out, plan.Query.Sort)
	}
	if !plan.LimitPushed {
		out = applyLimit(out, plan.Query.Limit)
	}
	return out, nil
}

// candidateIDs resolves plan to the ordered list of document ids to
// fetch: a full scan when no index covers the query, or the union of
// each covered key's matching members otherwise. Limit is pushed down
// only when a single key was selected, since merging per-key limited
// results would not necessarily yield the globally smallest/largest N.
func candidateIDs(ctx context.Context, plan Plan, fetch DocumentFetcher) ([]string, error) {
	if plan.Index == nil {
		return fetch.ListDocumentIDs(ctx)
	}

	predicate := residualPredicate(plan.LastFieldResidual)
	limit := 0
	if plan.LimitPushed && len(plan.Keys) == 1 {
		limit = plan.Query.Limit
	}

	var ids []string
	for _, key := range plan.Keys {
		found, err := plan.Index.FindIDsForKey(ctx, key, predicate, plan.Descending, limit)
		if err != nil {
			return nil, err
		}
		ids = append(ids, found...)
	}
	return ids, nil
}

func residualPredicate(c *Condition) index.Predicate {
	if c == nil {
		return nil
	}
	cond := *c
	return func(sortValue any) bool {
		return matchOne(cond, map[string]any{cond.Field: sortValue})
	}
}

func fetchAll(ctx context.Context, fetch DocumentFetcher, ids []string, parallelism int) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if parallelism <= 0 {
		parallelism = 16
	}

	docs := make([]map[string]any, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, parallelism)

	for i, id := range ids {
		i, id := i, id
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			d, err := fetch.FetchDocument(gctx, id)
			if err != nil {
				if dberr.Is(err, dberr.NotFound) {
					return nil
				}
				return err
			}
			docs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func sortDocs(docs []map[string]any, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			c := index.Compare(docs[i][k.Field], docs[j][k.Field])
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func applyLimit(docs []map[string]any, limit int) []map[string]any {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}
