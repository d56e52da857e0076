package index

import "strings"

// GetPath reads a dotted field path ("address.city") out of a decoded
// document, so query conditions address nested fields the same way
// updateOne's $set writes them through SetPath. Index key fields are
// not resolved through GetPath: CollectionIndex reads them as plain
// top-level field names.
func GetPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, exists := m[part]
		if !exists {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// SetPath writes value at a dotted field path inside doc, creating
// intermediate objects as needed.
func SetPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
}
