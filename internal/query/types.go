// Package query implements the planner and executor described in spec
// §4.5/§4.6: translating a filter/sort/limit request into index lookups
// where possible, falling back to in-process residual filtering for
// whatever an index cannot cover.
package query

import "github.com/kartikbazzad/modb/internal/index"

// Op is a comparison operator usable inside a Query filter.
type Op string

const (
	Eq     Op = "$eq"
	Ne     Op = "$ne"
	Lt     Op = "$lt"
	Lte    Op = "$lte"
	Gt     Op = "$gt"
	Gte    Op = "$gte"
	In     Op = "$in"
	Nin    Op = "$nin"
	Exists Op = "$exists"
)

// Condition is one field/operator/value test. A bare field-equality
// filter (`{"status": "active"}`) is normalized to {Field: "status",
// Op: Eq, Value: "active"} by ParseFilter.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Query is a parsed find/findOne/updateOne/deleteOne filter plus the
// optional sort/limit a find() call carries. Branches is non-nil only
// for a top-level $or; in that case Conditions is empty and each
// branch is itself a flat AND of Conditions.
type Query struct {
	Conditions []Condition
	Branches   [][]Condition

	Sort  []SortKey
	Limit int
}

// SortKey is one field of a requested sort order.
type SortKey struct {
	Field      string
	Descending bool
}

// IsOr reports whether this query is a top-level $or of branches.
func (q Query) IsOr() bool { return len(q.Branches) > 0 }

// Matches evaluates the query's conditions (or, for an $or query, at
// least one branch) against doc, independent of any index.
func (q Query) Matches(doc map[string]any) bool {
	if q.IsOr() {
		for _, branch := range q.Branches {
			if matchAll(branch, doc) {
				return true
			}
		}
		return false
	}
	return matchAll(q.Conditions, doc)
}

func matchAll(conds []Condition, doc map[string]any) bool {
	for _, c := range conds {
		if !matchOne(c, doc) {
			return false
		}
	}
	return true
}

func matchOne(c Condition, doc map[string]any) bool {
	v, present := index.GetPath(doc, c.Field)
	switch c.Op {
	case Exists:
		want, _ := c.Value.(bool)
		return present == want
	case Eq:
		return present && compareEq(v, c.Value)
	case Ne:
		return !present || !compareEq(v, c.Value)
	case In:
		if !present {
			return false
		}
		return containsAny(c.Value, v)
	case Nin:
		if !present {
			return true
		}
		return !containsAny(c.Value, v)
	case Lt, Lte, Gt, Gte:
		if !present {
			return false
		}
		return compareOrdered(v, c.Value, c.Op)
	default:
		return false
	}
}
