package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/kartikbazzad/modb/internal/index"
)

// Plan is the chosen access path for one (non-$or) Query: either an
// index-backed lookup over a concrete key set, or a full collection
// scan (Index == nil).
type Plan struct {
	Index *index.CollectionIndex
	Keys  []string

	// Residual holds whatever conditions the index lookup itself does
	// not already guarantee, still evaluated in-process against each
	// candidate document (or, for the last index field, against its
	// stored sort value without a document fetch).
	Residual []Condition

	// LastFieldResidual holds a condition on the index's last field
	// that can be evaluated directly against an entry's sort value
	// during FilterAndLimit, avoiding a document fetch for rejected
	// candidates.
	LastFieldResidual *Condition

	SortPushed  bool
	LimitPushed bool
	Descending  bool

	Query Query
}

// PlanQuery selects the best available index for q (longest covered
// consecutive prefix of key fields wins; ties break on total key
// length), builds the concrete value-key set, and decides whether the
// requested sort/limit can be pushed down to the index layer.
//
// A top-level $or is not planned here: the executor plans and runs
// each branch independently and unions the results (executeOr in
// executor.go).
func PlanQuery(ctx context.Context, q Query, indexes []*index.CollectionIndex) (Plan, error) {
	var best *index.CollectionIndex
	bestCovered := 0
	bestTotalLen := 0

	for _, ci := range indexes {
		def := ci.Definition()
		covered := coveredPrefixLen(def, q.Conditions)
		if covered == 0 {
			continue
		}
		if covered > bestCovered || (covered == bestCovered && len(def.Keys) > bestTotalLen) {
			best = ci
			bestCovered = covered
			bestTotalLen = len(def.Keys)
		}
	}

	if best == nil {
		return Plan{Query: q, Residual: q.Conditions}, nil
	}
	return buildPlan(ctx, best, q, bestCovered)
}

// coveredPrefixLen returns how many of def's leading key fields have an
// enumerable (equality or $in) condition in conds, stopping at the
// first field that doesn't.
func coveredPrefixLen(def index.Definition, conds []Condition) int {
	n := 0
	for _, kf := range def.KeyFields() {
		if !hasEnumerableCondition(conds, kf.Field) {
			break
		}
		n++
	}
	return n
}

func hasEnumerableCondition(conds []Condition, field string) bool {
	for _, c := range conds {
		if c.Field == field && (c.Op == Eq || c.Op == In) {
			return true
		}
	}
	return false
}

func enumeratedValues(conds []Condition, field string) []any {
	for _, c := range conds {
		if c.Field != field {
			continue
		}
		switch c.Op {
		case Eq:
			return []any{c.Value}
		case In:
			if vals, ok := c.Value.([]any); ok {
				return vals
			}
		}
	}
	return nil
}

func buildPlan(ctx context.Context, ci *index.CollectionIndex, q Query, covered int) (Plan, error) {
	def := ci.Definition()
	keyFields := def.KeyFields()

	residual := residualConditions(q.Conditions, keyFields[:covered])

	var keys []string
	if covered == len(keyFields) {
		keys = cartesianKeys(q.Conditions, keyFields)
	} else {
		prefix := index.ValueKey(partialValues(q.Conditions, keyFields[:covered])) + "|"
		discovered, err := ci.ListKeysWithPrefix(ctx, prefix)
		if err != nil {
			return Plan{}, fmt.Errorf("planner: listing keys for partial prefix: %w", err)
		}
		keys = discovered
	}

	plan := Plan{Index: ci, Keys: keys, Residual: residual, Query: q}

	last := def.LastField()
	if lf, rest := extractCondition(residual, last.Field); lf != nil && isRangeOp(lf.Op) {
		plan.LastFieldResidual = lf
		plan.Residual = rest
	}

	// Pushdown only holds when the plan resolves to a single key: with
	// more than one key, FindIDsForKey returns each key's members in
	// its own sorted order but candidateIDs only concatenates across
	// keys, so neither the combined order nor a per-key limit says
	// anything about the globally sorted/limited result.
	if len(keys) == 1 && len(q.Sort) == 1 && q.Sort[0].Field == last.Field {
		plan.SortPushed = true
		plan.Descending = q.Sort[0].Descending
		plan.LimitPushed = q.Limit > 0 && len(plan.Residual) == 0
	}

	return plan, nil
}

func isRangeOp(op Op) bool {
	switch op {
	case Lt, Lte, Gt, Gte:
		return true
	}
	return false
}

func extractCondition(conds []Condition, field string) (*Condition, []Condition) {
	for i, c := range conds {
		if c.Field == field {
			found := c
			rest := append(append([]Condition{}, conds[:i]...), conds[i+1:]...)
			return &found, rest
		}
	}
	return nil, conds
}

func residualConditions(conds []Condition, covered []index.KeyPart) []Condition {
	coveredSet := make(map[string]bool, len(covered))
	for _, kf := range covered {
		coveredSet[kf.Field] = true
	}
	var out []Condition
	for _, c := range conds {
		if coveredSet[c.Field] && (c.Op == Eq || c.Op == In) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func partialValues(conds []Condition, fields []index.KeyPart) []any {
	values := make([]any, len(fields))
	for i, f := range fields {
		vals := enumeratedValues(conds, f.Field)
		if len(vals) > 0 {
			values[i] = vals[0]
		}
	}
	return values
}

// cartesianKeys builds the full value-key set for a query whose
// leading key fields are all enumerable: each field may contribute
// more than one value (via $in), so the result is the cartesian
// product across fields, one key per combination.
func cartesianKeys(conds []Condition, fields []index.KeyPart) []string {
	valueSets := make([][]any, len(fields))
	for i, f := range fields {
		valueSets[i] = enumeratedValues(conds, f.Field)
	}

	combos := [][]any{{}}
	for _, set := range valueSets {
		var next [][]any
		for _, combo := range combos {
			for _, v := range set {
				c := append(append([]any{}, combo...), v)
				next = append(next, c)
			}
		}
		combos = next
	}

	keys := make([]string, 0, len(combos))
	for _, c := range combos {
		keys = append(keys, index.ValueKey(c))
	}
	sort.Strings(keys)
	return keys
}
