// Package index implements the per-key secondary index: IndexEntry
// (spec §4.2) and CollectionIndex (spec §4.3), including the in-memory
// entry cache with conditional revalidation and the ETag-merge persist
// path.
package index

import (
	"fmt"
	"net/url"
	"strings"
)

// Order is the sort direction of one index field.
type Order int

const (
	Ascending Order = iota
	Descending
	Text
)

// KeyPart names one field of an index definition and its order.
type KeyPart struct {
	Field string
	Order Order
}

// Definition is an index definition: an ordered list of (field, order)
// pairs. keys[0] is the prefix field; the last entry is the tail field
// used for within-entry ordering and residual pushdown.
type Definition struct {
	Name string
	Keys []KeyPart
}

// PrefixField returns the index's bucketing field.
func (d Definition) PrefixField() string { return d.Keys[0].Field }

// LastField returns the field used for tail sort / residual pushdown.
func (d Definition) LastField() KeyPart { return d.Keys[len(d.Keys)-1] }

// KeyFields returns the fields whose values are joined to form an
// entry's value key: every index field except the last, or — for a
// single-field index, where the last field IS the prefix field — just
// that one field, since there is no other field to bucket documents
// by.
func (d Definition) KeyFields() []KeyPart {
	if len(d.Keys) == 1 {
		return d.Keys
	}
	return d.Keys[:len(d.Keys)-1]
}

// encodeSegment URL-encodes one value-key segment. A missing value is
// encoded as the literal marker "\x00null" so documents lacking a
// non-prefix key field still group deterministically instead of
// silently colliding with any real value.
func encodeSegment(v any) string {
	if v == nil {
		return "%00null"
	}
	return url.QueryEscape(fmt.Sprint(v))
}

// ValueKey joins per-segment URL-encoded field values with "|",
// identifying which IndexEntry a document belongs to for this index.
func ValueKey(values []any) string {
	segments := make([]string, len(values))
	for i, v := range values {
		segments[i] = encodeSegment(v)
	}
	return strings.Join(segments, "|")
}

// DecodeValueKey reverses ValueKey for diagnostics/shell display.
func DecodeValueKey(key string) ([]string, error) {
	parts := strings.Split(key, "|")
	out := make([]string, len(parts))
	for i, p := range parts {
		dec, err := url.QueryUnescape(p)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}
