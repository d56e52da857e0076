package query

import "github.com/kartikbazzad/modb/internal/index"

func compareEq(a, b any) bool {
	return index.Compare(a, b) == 0
}

func compareOrdered(v, want any, op Op) bool {
	c := index.Compare(v, want)
	switch op {
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	default:
		return false
	}
}

func containsAny(list any, v any) bool {
	vals, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range vals {
		if compareEq(v, item) {
			return true
		}
	}
	return false
}
