package index

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartikbazzad/modb/internal/config"
	"github.com/kartikbazzad/modb/internal/dberr"
	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/kartikbazzad/modb/internal/objstore"
	"github.com/kartikbazzad/modb/internal/pool"
)

// CollectionIndex is one secondary index of one collection: it owns the
// in-memory entry cache with conditional revalidation, and the persist
// scheduler that drains dirty entries back to the object store with
// ETag-based merge-on-conflict retry (spec §4.3).
type CollectionIndex struct {
	collection  string
	def         Definition
	entryPrefix string // "<collection>/indices/<name>/"

	store      objstore.Store
	cache      *lru.Cache[string, *Entry]
	scheduler  *pool.Scheduler
	classifier *dberr.Classifier
	retry      *dberr.RetryController
	logger     *logger.Logger

	immediateRetryCap int
	revalidateOnFetch bool

	mu          sync.Mutex
	retryCounts map[string]int
}

// NewCollectionIndex builds a CollectionIndex for def over collection,
// backed by store, configured per cfg.
func NewCollectionIndex(collection string, def Definition, store objstore.Store, cfg config.IndexConfig, log *logger.Logger) (*CollectionIndex, error) {
	size := cfg.EntryCacheSize
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, err
	}

	ci := &CollectionIndex{
		collection:        collection,
		def:                def,
		entryPrefix:       collection + "/indices/" + def.Name + "/",
		store:             store,
		cache:             cache,
		classifier:        dberr.NewClassifier(),
		retry:             dberr.NewRetryControllerWithBounds(cfg.BackoffInitial, cfg.BackoffMax),
		logger:            log,
		immediateRetryCap: cfg.ImmediateRetryCap,
		revalidateOnFetch: cfg.RevalidateOnFetch,
		retryCounts:       make(map[string]int),
	}
	if ci.immediateRetryCap <= 0 {
		ci.immediateRetryCap = 3
	}
	ci.scheduler = pool.NewScheduler(cfg.WorkersPerIndex, ci.persistKey, log)
	return ci, nil
}

// Definition returns the index's field/order specification.
func (ci *CollectionIndex) Definition() Definition { return ci.def }

func (ci *CollectionIndex) entryPath(key string) string {
	return ci.entryPrefix + key + ".json"
}

// keyFor computes the value key and tail sort value for doc, and
// reports whether doc carries a value for the index's prefix field (a
// document missing it is not indexed, per spec §4.3 "no-op").
func (ci *CollectionIndex) keyFor(doc map[string]any) (key string, sortValue any, ok bool) {
	fields := ci.def.KeyFields()
	if _, present := doc[ci.def.PrefixField()]; !present {
		return "", nil, false
	}

	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = doc[f.Field]
	}
	return ValueKey(values), doc[ci.def.LastField().Field], true
}

// GetEntry returns the cached entry for key, fetching and, when
// RevalidateOnFetch is set, conditionally revalidating it against the
// object store first. A key with no stored entry yet returns a fresh
// empty Entry, not an error.
func (ci *CollectionIndex) GetEntry(ctx context.Context, key string) (*Entry, error) {
	if cached, ok := ci.cache.Get(key); ok {
		if !ci.revalidateOnFetch {
			return cached, nil
		}
		etag, err := ci.store.Head(ctx, ci.entryPath(key))
		if err != nil {
			if err == objstore.ErrNotFound {
				return cached, nil
			}
			return nil, err
		}
		if etag == cached.CurrentETag() {
			return cached, nil
		}
		obj, err := ci.store.Get(ctx, ci.entryPath(key))
		if err != nil {
			return nil, err
		}
		members, err := ParseEntry(obj.Body)
		if err != nil {
			return nil, err
		}
		cached.UpdateFromStorage(members, obj.ETag)
		return cached, nil
	}

	entry := NewEntry(key, ci.def.LastField().Order)
	obj, err := ci.store.Get(ctx, ci.entryPath(key))
	switch {
	case err == objstore.ErrNotFound:
		// No stored entry yet; cache the empty one so repeated
		// AddDocument calls for the same key share it.
	case err != nil:
		return nil, err
	default:
		members, perr := ParseEntry(obj.Body)
		if perr != nil {
			return nil, perr
		}
		entry.UpdateFromStorage(members, obj.ETag)
	}
	ci.cache.Add(key, entry)
	return entry, nil
}

// AddDocument indexes docID under doc's current field values. A no-op
// if doc has no value for the index's prefix field.
func (ci *CollectionIndex) AddDocument(ctx context.Context, docID string, doc map[string]any) error {
	key, sortValue, ok := ci.keyFor(doc)
	if !ok {
		return nil
	}
	entry, err := ci.GetEntry(ctx, key)
	if err != nil {
		return err
	}
	if entry.Add(docID, sortValue) {
		return ci.scheduler.Enqueue(key)
	}
	return nil
}

// RemoveDocument removes docID from the entry its last-known field
// values map to.
func (ci *CollectionIndex) RemoveDocument(ctx context.Context, docID string, doc map[string]any) error {
	key, _, ok := ci.keyFor(doc)
	if !ok {
		return nil
	}
	entry, err := ci.GetEntry(ctx, key)
	if err != nil {
		return err
	}
	if entry.Remove(docID) {
		return ci.scheduler.Enqueue(key)
	}
	return nil
}

// UpdateOnDocumentUpdate moves docID between entries when oldDoc and
// newDoc map to different value keys, or simply refreshes its sort
// value in place when the key is unchanged.
func (ci *CollectionIndex) UpdateOnDocumentUpdate(ctx context.Context, docID string, oldDoc, newDoc map[string]any) error {
	oldKey, _, oldOK := ci.keyFor(oldDoc)
	newKey, _, newOK := ci.keyFor(newDoc)

	if oldOK && (!newOK || oldKey != newKey) {
		if err := ci.RemoveDocument(ctx, docID, oldDoc); err != nil {
			return err
		}
	}
	if newOK {
		return ci.AddDocument(ctx, docID, newDoc)
	}
	return nil
}

// FindIDsForKey returns the document ids in key's entry matching
// predicate (nil accepts all), in the requested direction, capped at
// limit (<=0 unbounded).
func (ci *CollectionIndex) FindIDsForKey(ctx context.Context, key string, predicate Predicate, descending bool, limit int) ([]string, error) {
	entry, err := ci.GetEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.FilterAndLimit(predicate, descending, limit), nil
}

// ListKeysWithPrefix discovers every stored value key beginning with
// prefix, for queries that only cover a leading subset of a compound
// index's key fields (e.g. category covered, region not, in a
// [category, region, priority] index).
func (ci *CollectionIndex) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	listings, err := ci.store.List(ctx, ci.entryPrefix+prefix, "")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(listings))
	for _, l := range listings {
		rest := l.Key[len(ci.entryPrefix):]
		rest = rest[:len(rest)-len(".json")]
		keys = append(keys, rest)
	}
	return keys, nil
}

// Flush blocks until every enqueued entry has been persisted.
func (ci *CollectionIndex) Flush(ctx context.Context) error {
	return ci.scheduler.Flush(ctx)
}

// Drop deletes every stored entry for this index and stops its
// scheduler. The index is unusable afterward.
func (ci *CollectionIndex) Drop(ctx context.Context) error {
	ci.scheduler.Stop()

	listings, err := ci.store.List(ctx, ci.entryPrefix, "")
	if err != nil {
		return err
	}
	for _, l := range listings {
		if _, err := ci.store.Delete(ctx, l.Key); err != nil {
			return err
		}
	}
	return nil
}

// persistKey is the scheduler's PersistFunc: it serializes the cached
// entry and writes it with an If-Match precondition on the entry's
// last-known ETag. A precondition failure re-fetches the current
// stored version, replays pending local deltas over it (UpdateFromStorage),
// and retries immediately up to ImmediateRetryCap times before
// rescheduling with backoff; transient-network failures always
// reschedule with backoff and never count against that cap. A
// successful write whose body missed a delta that landed mid-flight
// returns pool.ErrRequeue so the scheduler re-drains the key instead of
// the delta being silently dropped.
func (ci *CollectionIndex) persistKey(ctx context.Context, key string) error {
	entry, ok := ci.cache.Get(key)
	if !ok {
		return nil
	}
	if !entry.IsDirty() {
		return nil
	}

	body, reflected, err := entry.PrepareForPersist()
	if err != nil {
		return err
	}

	// Transient-network attempts are counted under their own key so they
	// never use up the conflict path's immediate-retry cap.
	netKey := "\x00net|" + key

	etag, err := ci.store.Put(ctx, ci.entryPath(key), body, entry.CurrentETag())
	if err == nil {
		ci.clearRetryCount(key)
		ci.clearRetryCount(netKey)
		if entry.MarkPersistedReflecting(etag, reflected) {
			// A new Add/Remove landed while this write was in flight;
			// its delta isn't in the body we just persisted.
			return pool.ErrRequeue
		}
		return nil
	}

	kind := ci.classifier.Classify(err)
	switch kind {
	case dberr.Conflict:
		if revalErr := ci.revalidate(ctx, key, entry); revalErr != nil {
			return revalErr
		}
		attempt := ci.bumpRetryCount(key)
		if attempt <= ci.immediateRetryCap {
			return ci.persistKey(ctx, key)
		}
		ci.clearRetryCount(key)
		return ci.scheduleBackoff(key, attempt)
	case dberr.Network:
		attempt := ci.bumpRetryCount(netKey)
		return ci.scheduleBackoff(key, attempt)
	default:
		ci.clearRetryCount(key)
		return err
	}
}

func (ci *CollectionIndex) revalidate(ctx context.Context, key string, entry *Entry) error {
	obj, err := ci.store.Get(ctx, ci.entryPath(key))
	if err != nil {
		if err == objstore.ErrNotFound {
			entry.UpdateFromStorage(nil, "")
			return nil
		}
		return err
	}
	members, err := ParseEntry(obj.Body)
	if err != nil {
		return err
	}
	entry.UpdateFromStorage(members, obj.ETag)
	return nil
}

func (ci *CollectionIndex) scheduleBackoff(key string, attempt int) error {
	delay := ci.retry.Backoff(attempt)
	time.AfterFunc(delay, func() {
		_ = ci.scheduler.Enqueue(key)
	})
	return nil
}

func (ci *CollectionIndex) bumpRetryCount(key string) int {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.retryCounts[key]++
	return ci.retryCounts[key]
}

func (ci *CollectionIndex) clearRetryCount(key string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	delete(ci.retryCounts, key)
}
