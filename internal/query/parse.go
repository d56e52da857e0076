package query

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/modb/internal/dberr"
)

// ParseFilter converts a MongoDB-style filter document into a Query.
// Supported shape: field equality via a bare value, field operators via
// a nested {"$op": value} (or {"$op1": v1, "$op2": v2, ...}) document,
// and a single top-level "$or" of sub-filters. $or cannot be nested and
// cannot be combined with other top-level fields, matching spec §4.5's
// supported filter shape.
func ParseFilter(filter map[string]any) (Query, error) {
	if raw, ok := filter["$or"]; ok {
		if len(filter) != 1 {
			return Query{}, dberr.New(dberr.InvalidArgument, "$or cannot be combined with other top-level fields")
		}
		branches, err := parseOrBranches(raw)
		if err != nil {
			return Query{}, err
		}
		return Query{Branches: branches}, nil
	}

	conds, err := parseConditions(filter)
	if err != nil {
		return Query{}, err
	}
	return Query{Conditions: conds}, nil
}

func parseOrBranches(raw any) ([][]Condition, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, dberr.New(dberr.InvalidArgument, "$or must be an array of filter documents")
	}
	if len(list) == 0 {
		return nil, dberr.New(dberr.InvalidArgument, "$or must not be empty")
	}

	branches := make([][]Condition, 0, len(list))
	for _, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, dberr.New(dberr.InvalidArgument, "$or branch must be a filter document")
		}
		if _, nested := sub["$or"]; nested {
			return nil, dberr.New(dberr.InvalidArgument, "$or cannot be nested")
		}
		conds, err := parseConditions(sub)
		if err != nil {
			return nil, err
		}
		branches = append(branches, conds)
	}
	return branches, nil
}

func parseConditions(filter map[string]any) ([]Condition, error) {
	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields) // deterministic plan/residual ordering

	var conds []Condition
	for _, field := range fields {
		value := filter[field]
		if ops, ok := value.(map[string]any); ok && looksLikeOperatorDoc(ops) {
			parsed, err := parseOperatorDoc(field, ops)
			if err != nil {
				return nil, err
			}
			conds = append(conds, parsed...)
			continue
		}
		conds = append(conds, Condition{Field: field, Op: Eq, Value: value})
	}
	return conds, nil
}

// looksLikeOperatorDoc reports whether every key of a nested document
// is a recognised operator, distinguishing {"$gt": 5} from a literal
// embedded-document equality filter like {"address": {"city": "NYC"}}.
func looksLikeOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !isOperator(k) {
			return false
		}
	}
	return true
}

func isOperator(k string) bool {
	switch Op(k) {
	case Eq, Ne, Lt, Lte, Gt, Gte, In, Nin, Exists:
		return true
	default:
		return false
	}
}

func parseOperatorDoc(field string, ops map[string]any) ([]Condition, error) {
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(ops))
	for _, k := range keys {
		op := Op(k)
		if op == In || op == Nin {
			if _, ok := ops[k].([]any); !ok {
				return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("%s requires an array value for field %q", k, field))
			}
		}
		conds = append(conds, Condition{Field: field, Op: op, Value: ops[k]})
	}
	return conds, nil
}
