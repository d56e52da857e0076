package index

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Member is one (document-id, sort-value) pair in an Entry's membership
// list. SortValue is the document's value at the index's last field.
type Member struct {
	DocID     string `json:"id"`
	SortValue any    `json:"sv"`
}

// Entry is the persisted unit mapping one value key to an ordered list
// of document ids with per-member sort values (spec §4.2).
//
// members is always kept sorted by SortValue using the last index
// field's direction; missing values sort last regardless of direction,
// per the ordering contract.
type Entry struct {
	Key      string
	Order    Order
	Members  []Member
	ETag     string
	Dirty    bool
	LoadedAt time.Time

	// mu guards every field below it and Members/ETag/Dirty/LoadedAt
	// above, since an Entry is shared between callers adding/removing
	// documents and the persist scheduler's background drain.
	mu sync.Mutex

	// pending tracks local Add/Remove deltas not yet reflected in a
	// successful Put, so UpdateFromStorage can replay them over a
	// freshly fetched snapshot without losing in-flight writes.
	pending map[string]pendingOp
}

type pendingOp struct {
	removed   bool
	sortValue any
	hasValue  bool
}

// NewEntry creates an empty entry for key, ordered by order.
func NewEntry(key string, order Order) *Entry {
	return &Entry{Key: key, Order: order, pending: make(map[string]pendingOp)}
}

func (e *Entry) ensurePending() {
	if e.pending == nil {
		e.pending = make(map[string]pendingOp)
	}
}

// Add inserts or updates docID's sort value, keeping members sorted.
// Returns whether membership (or its sort value) changed.
func (e *Entry) Add(docID string, sortValue any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensurePending()

	changed := true
	for i, m := range e.Members {
		if m.DocID == docID {
			changed = !valuesEqual(m.SortValue, sortValue)
			e.Members[i].SortValue = sortValue
			break
		}
	}
	if changed {
		found := false
		for _, m := range e.Members {
			if m.DocID == docID {
				found = true
				break
			}
		}
		if !found {
			e.Members = append(e.Members, Member{DocID: docID, SortValue: sortValue})
		}
		e.sortMembers()
		e.Dirty = true
	}

	e.pending[docID] = pendingOp{sortValue: sortValue, hasValue: true}
	return changed
}

// Remove deletes docID from the entry. Returns whether membership
// changed.
func (e *Entry) Remove(docID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensurePending()
	idx := -1
	for i, m := range e.Members {
		if m.DocID == docID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.pending[docID] = pendingOp{removed: true}
		return false
	}
	e.Members = append(e.Members[:idx], e.Members[idx+1:]...)
	e.pending[docID] = pendingOp{removed: true}
	e.Dirty = true
	return true
}

// UpdateFromStorage merges a freshly read snapshot with any local
// Add/Remove deltas not yet persisted, so pending local changes survive
// revalidation. etag is updated unconditionally; Dirty is cleared iff
// no local delta remains.
func (e *Entry) UpdateFromStorage(members []Member, etag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Members = append([]Member(nil), members...)
	e.sortMembers()

	for docID, op := range e.pending {
		if op.removed {
			e.removeLocal(docID)
			continue
		}
		if op.hasValue {
			e.setLocal(docID, op.sortValue)
		}
	}
	e.sortMembers()

	e.ETag = etag
	e.LoadedAt = time.Now()
	e.Dirty = len(e.pending) > 0
}

func (e *Entry) removeLocal(docID string) {
	for i, m := range e.Members {
		if m.DocID == docID {
			e.Members = append(e.Members[:i], e.Members[i+1:]...)
			return
		}
	}
}

func (e *Entry) setLocal(docID string, sortValue any) {
	for i, m := range e.Members {
		if m.DocID == docID {
			e.Members[i].SortValue = sortValue
			return
		}
	}
	e.Members = append(e.Members, Member{DocID: docID, SortValue: sortValue})
}

// MarkPersisted clears Dirty and the pending-delta set after a
// successful Put whose body reflected every pending change, and
// records the ETag the store returned.
func (e *Entry) MarkPersisted(etag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ETag = etag
	e.Dirty = false
	e.pending = make(map[string]pendingOp)
}

// PrepareForPersist serializes the entry and snapshots its pending-delta
// set in one locked step, so the snapshot handed to MarkPersistedReflecting
// later describes exactly the deltas body reflects, even if Add/Remove
// keep racing against the in-flight write.
func (e *Entry) PrepareForPersist() ([]byte, map[string]pendingOp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wire := make(wireEntry, len(e.Members))
	for i, m := range e.Members {
		wire[i] = [2]any{m.DocID, m.SortValue}
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}

	reflected := make(map[string]pendingOp, len(e.pending))
	for docID, op := range e.pending {
		reflected[docID] = op
	}
	return body, reflected, nil
}

// MarkPersistedReflecting records a successful write's etag and clears
// only the pending deltas present in reflected and still unchanged since
// PrepareForPersist took that snapshot. A delta that arrived (or
// changed again) while the write was in flight survives, and the entry
// stays dirty so the caller knows to reschedule a persist for it.
func (e *Entry) MarkPersistedReflecting(etag string, reflected map[string]pendingOp) (stillDirty bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for docID, snap := range reflected {
		if cur, ok := e.pending[docID]; ok && cur == snap {
			delete(e.pending, docID)
		}
	}
	e.ETag = etag
	e.Dirty = len(e.pending) > 0
	return e.Dirty
}

// IsDirty reports whether the entry has unpersisted local changes.
func (e *Entry) IsDirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Dirty
}

// CurrentETag returns the entry's last-known ETag.
func (e *Entry) CurrentETag() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ETag
}

func (e *Entry) sortMembers() {
	asc := e.Order != Descending
	sort.SliceStable(e.Members, func(i, j int) bool {
		return less(e.Members[i].SortValue, e.Members[j].SortValue, asc)
	})
}

// wireEntry is the JSON-on-storage shape: an array of [id, sort_value]
// pairs, per spec §6's storage layout.
type wireEntry [][2]any

// Serialize produces the deterministic byte representation of the
// entry's members, ordered by the last index field's direction.
func (e *Entry) Serialize() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wire := make(wireEntry, len(e.Members))
	for i, m := range e.Members {
		wire[i] = [2]any{m.DocID, m.SortValue}
	}
	return json.Marshal(wire)
}

// ParseEntry decodes the on-storage representation into a member list.
func ParseEntry(body []byte) ([]Member, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var wire [][]json.RawMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(wire))
	for _, pair := range wire {
		if len(pair) != 2 {
			continue
		}
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return nil, err
		}
		var sv any
		if err := json.Unmarshal(pair[1], &sv); err != nil {
			return nil, err
		}
		members = append(members, Member{DocID: id, SortValue: sv})
	}
	return members, nil
}

// Predicate is a residual filter applied to an entry's members during
// FilterAndLimit, evaluated against a member's sort value.
type Predicate func(sortValue any) bool

// FilterAndLimit returns the doc ids satisfying predicate (nil accepts
// everything), in the requested direction, short-circuiting once limit
// members have been accepted (limit <= 0 means unbounded).
func (e *Entry) FilterAndLimit(predicate Predicate, descending bool, limit int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	indices := make([]int, len(e.Members))
	for i := range indices {
		indices[i] = i
	}
	if descending != (e.Order == Descending) {
		for i, j := 0, len(indices)-1; i < j; i, j = i+1, j-1 {
			indices[i], indices[j] = indices[j], indices[i]
		}
	}

	var out []string
	for _, i := range indices {
		m := e.Members[i]
		if predicate != nil && !predicate(m.SortValue) {
			continue
		}
		out = append(out, m.DocID)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// valuesEqual reports whether two sort values are the same for the
// purpose of deciding whether Add changed anything.
func valuesEqual(a, b any) bool {
	return compare(a, b) == 0
}

// less implements the ordering contract: natural type order, missing
// values (nil) sort last regardless of direction.
func less(a, b any, ascending bool) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	c := compare(a, b)
	if ascending {
		return c < 0
	}
	return c > 0
}

// Compare orders two JSON-decoded scalar values the same way an
// index's members are ordered: numbers by value, strings
// lexicographically, bools false<true, nil last, mismatched types by a
// fixed type rank. Used by the query planner to evaluate residual
// range predicates consistently with index order.
func Compare(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	return compare(a, b)
}

// compare orders two JSON-decoded scalar values: numbers by value,
// strings lexicographically, bools false<true; mismatched types
// compare by a fixed type rank so ordering stays total.
func compare(a, b any) int {
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs)
	}

	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	}

	return typeRank(a) - typeRank(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case float64, float32, int, int32, int64, uint64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

