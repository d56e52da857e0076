package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/modb/internal/config"
	"github.com/kartikbazzad/modb/internal/cursor"
	"github.com/kartikbazzad/modb/internal/dberr"
	"github.com/kartikbazzad/modb/internal/index"
	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/kartikbazzad/modb/internal/objstore"
	"github.com/kartikbazzad/modb/internal/query"
)

// Collection implements the MongoDB-compatible document surface
// described in spec §4.6/§6 over a single objstore.Store: insert,
// replace, update($set only), delete, find/findOne, and secondary
// index management, with every index kept current as documents change.
type Collection struct {
	name   string
	store  objstore.Store
	cfg    *config.Config
	logger *logger.Logger

	mu      sync.RWMutex
	indexes map[string]*index.CollectionIndex
	closed  bool
}

// indexSpecField is the on-storage shape of one field of an index
// definition (spec §6: "<collection>/indices/<index-name>.json").
type indexSpecField struct {
	Field string `json:"field"`
	Order int    `json:"order"` // 1 ascending, -1 descending, 0 text
}

// Open loads name's existing index definitions (if any) from store and
// returns a ready Collection. It does not create the collection in any
// persistent sense — object storage has no notion of an empty
// directory, so a freshly named collection simply has no objects yet.
func Open(ctx context.Context, name string, st objstore.Store, cfg *config.Config, log *logger.Logger) (*Collection, error) {
	c := &Collection{
		name:    name,
		store:   st,
		cfg:     cfg,
		logger:  log,
		indexes: make(map[string]*index.CollectionIndex),
	}

	listings, err := st.List(ctx, name+"/indices/", "/")
	if err != nil {
		return nil, err
	}
	for _, l := range listings {
		if !strings.HasSuffix(l.Key, ".json") {
			continue // an index's entry directory, not its metadata file
		}
		indexName := strings.TrimSuffix(strings.TrimPrefix(l.Key, name+"/indices/"), ".json")
		def, err := c.loadIndexDefinition(ctx, indexName)
		if err != nil {
			return nil, err
		}
		ci, err := index.NewCollectionIndex(name, def, st, cfg.Index, log)
		if err != nil {
			return nil, err
		}
		c.indexes[indexName] = ci
	}
	return c, nil
}

func (c *Collection) dataPath(id string) string { return c.name + "/data/" + id + ".json" }
func (c *Collection) dataPrefix() string         { return c.name + "/data/" }
func (c *Collection) indexMetaPath(name string) string {
	return c.name + "/indices/" + name + ".json"
}

func (c *Collection) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return dberr.ErrClosed
	}
	return nil
}

// InsertOne stores doc, generating an _id when absent, and returns it.
func (c *Collection) InsertOne(ctx context.Context, doc map[string]any) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}

	d := cloneDocument(doc)
	id, err := ensureID(d)
	if err != nil {
		return "", err
	}

	body, err := encodeDocument(d)
	if err != nil {
		return "", err
	}

	if _, err := c.store.Put(ctx, c.dataPath(id), body, ""); err != nil {
		if err == objstore.ErrPreconditionFailed {
			return "", dberr.New(dberr.InvalidArgument, "document with this _id already exists")
		}
		return "", classifyStoreErr(err)
	}

	if err := c.indexAll(ctx, id, nil, d); err != nil {
		return "", err
	}
	return id, nil
}

func ensureID(doc map[string]any) (string, error) {
	raw, present := doc[IDField]
	if !present || raw == nil {
		id := newObjectID()
		doc[IDField] = id
		return id, nil
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", dberr.New(dberr.InvalidArgument, "_id must be a non-empty string")
	}
	return id, nil
}

// ReplaceOne replaces the entire document matched by filter (an
// equality-only id lookup, per spec §4.6) with replacement, keeping
// _id stable. Returns whether a document was replaced.
func (c *Collection) ReplaceOne(ctx context.Context, filter map[string]any, replacement map[string]any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	id, err := requireIDFilter(filter)
	if err != nil {
		return false, err
	}

	old, etag, err := c.getDocument(ctx, id)
	if err == objstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, classifyStoreErr(err)
	}

	next := cloneDocument(replacement)
	next[IDField] = id

	if err := c.putDocumentRetry(ctx, id, etag, next); err != nil {
		return false, err
	}
	if err := c.indexAll(ctx, id, old, next); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateOne applies a $set-only update document to the document
// matched by filter. Any other top-level update operator is rejected
// as invalid-argument, per spec Non-goals.
func (c *Collection) UpdateOne(ctx context.Context, filter map[string]any, update map[string]any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	id, err := requireIDFilter(filter)
	if err != nil {
		return false, err
	}
	sets, err := requireSetOnly(update)
	if err != nil {
		return false, err
	}

	old, etag, err := c.getDocument(ctx, id)
	if err == objstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, classifyStoreErr(err)
	}

	next := cloneDocument(old)
	for path, value := range sets {
		index.SetPath(next, path, value)
	}
	next[IDField] = id

	if err := c.putDocumentRetry(ctx, id, etag, next); err != nil {
		return false, err
	}
	if err := c.indexAll(ctx, id, old, next); err != nil {
		return false, err
	}
	return true, nil
}

func requireSetOnly(update map[string]any) (map[string]any, error) {
	if len(update) == 0 {
		return nil, dberr.New(dberr.InvalidArgument, "update document must not be empty")
	}
	for op := range update {
		if op != "$set" {
			return nil, dberr.New(dberr.InvalidArgument, "unsupported update operator "+op+"; only $set is implemented")
		}
	}
	sets, ok := update["$set"].(map[string]any)
	if !ok {
		return nil, dberr.New(dberr.InvalidArgument, "$set must be a document")
	}
	return sets, nil
}

func requireIDFilter(filter map[string]any) (string, error) {
	if len(filter) != 1 {
		return "", dberr.New(dberr.InvalidArgument, "replaceOne/updateOne/deleteOne require an _id-only filter")
	}
	raw, ok := filter[IDField]
	if !ok {
		return "", dberr.New(dberr.InvalidArgument, "replaceOne/updateOne/deleteOne require an _id-only filter")
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", dberr.New(dberr.InvalidArgument, "_id filter value must be a non-empty string")
	}
	return id, nil
}

// DeleteOne removes the document with filter's _id. Returns whether a
// document existed.
func (c *Collection) DeleteOne(ctx context.Context, filter map[string]any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	id, err := requireIDFilter(filter)
	if err != nil {
		return false, err
	}

	old, _, err := c.getDocument(ctx, id)
	if err == objstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, classifyStoreErr(err)
	}

	existed, err := c.store.Delete(ctx, c.dataPath(id))
	if err != nil {
		return false, classifyStoreErr(err)
	}
	if !existed {
		return false, nil
	}

	c.mu.RLock()
	indexes := c.snapshotIndexes()
	c.mu.RUnlock()
	for _, ci := range indexes {
		if err := ci.RemoveDocument(ctx, id, old); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Find plans and (lazily, on first cursor consumption) executes a
// query, returning a Cursor over the matching documents.
func (c *Collection) Find(ctx context.Context, rawFilter map[string]any, sortSpec []query.SortKey, limit int) (*cursor.Cursor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	q, err := query.ParseFilter(rawFilter)
	if err != nil {
		return nil, err
	}
	q.Sort = sortSpec
	q.Limit = limit

	load := func(ctx context.Context) ([]map[string]any, error) {
		c.mu.RLock()
		indexes := c.snapshotIndexes()
		c.mu.RUnlock()
		return query.Execute(ctx, q, indexes, c, c.cfg.Cursor.FetchParallelism)
	}
	return cursor.New(load, c.cfg.Cursor.BufferSize), nil
}

// FindOne is Find with an implicit limit of 1, returning the first
// match or (nil, false).
func (c *Collection) FindOne(ctx context.Context, rawFilter map[string]any) (map[string]any, bool, error) {
	cur, err := c.Find(ctx, rawFilter, nil, 1)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close()

	has, err := cur.HasNext(ctx)
	if err != nil {
		return nil, false, err
	}
	if !has {
		return nil, false, nil
	}
	doc, err := cur.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// CreateIndex defines a new secondary index and backfills it from
// every existing document. Re-creating an index under the same name
// with an identical definition is a no-op; a conflicting redefinition
// is rejected.
func (c *Collection) CreateIndex(ctx context.Context, def index.Definition) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	if def.Name == idIndexDefinition.Name {
		if definitionsEqual(idIndexDefinition, def) {
			return nil
		}
		return dberr.New(dberr.InvalidArgument, "index name _id_ is reserved")
	}

	c.mu.Lock()
	if existing, ok := c.indexes[def.Name]; ok {
		c.mu.Unlock()
		if definitionsEqual(existing.Definition(), def) {
			return nil
		}
		return dberr.New(dberr.InvalidArgument, "index "+def.Name+" already exists with a different definition")
	}
	c.mu.Unlock()

	if err := c.saveIndexDefinition(ctx, def); err != nil {
		return err
	}

	ci, err := index.NewCollectionIndex(c.name, def, c.store, c.cfg.Index, c.logger)
	if err != nil {
		return err
	}
	if err := c.backfill(ctx, ci); err != nil {
		return err
	}

	c.mu.Lock()
	c.indexes[def.Name] = ci
	c.mu.Unlock()
	return nil
}

func definitionsEqual(a, b index.Definition) bool {
	if len(a.Keys) != len(b.Keys) {
		return false
	}
	for i := range a.Keys {
		if a.Keys[i] != b.Keys[i] {
			return false
		}
	}
	return true
}

func (c *Collection) backfill(ctx context.Context, ci *index.CollectionIndex) error {
	ids, err := c.ListDocumentIDs(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, c.cfg.Cursor.FetchParallelism)
	for _, id := range ids {
		id := id
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			doc, err := c.FetchDocument(gctx, id)
			if err != nil {
				if dberr.Is(err, dberr.NotFound) {
					return nil
				}
				return err
			}
			return ci.AddDocument(gctx, id, doc)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ci.Flush(ctx)
}

// DropIndex removes an index definition, its entries, and its
// in-memory state. Returns whether the index existed.
func (c *Collection) DropIndex(ctx context.Context, name string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}

	c.mu.Lock()
	ci, ok := c.indexes[name]
	if ok {
		delete(c.indexes, name)
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := ci.Drop(ctx); err != nil {
		return true, err
	}
	if _, err := c.store.Delete(ctx, c.indexMetaPath(name)); err != nil {
		return true, classifyStoreErr(err)
	}
	return true, nil
}

// idIndexDefinition is the synthetic index every collection carries
// implicitly over its primary key, per spec §6: listIndexes() always
// includes it even though no CollectionIndex backs it (document gets
// already go straight to "<collection>/data/<id>.json").
var idIndexDefinition = index.Definition{
	Name: "_id_",
	Keys: []index.KeyPart{{Field: IDField, Order: index.Ascending}},
}

// ListIndexes returns every defined index ordered by name, with the
// synthetic _id_ index always first.
func (c *Collection) ListIndexes() []index.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]index.Definition, 0, len(names)+1)
	defs = append(defs, idIndexDefinition)
	for _, name := range names {
		defs = append(defs, c.indexes[name].Definition())
	}
	return defs
}

// Close flushes every index's persist queue and marks the collection
// unusable.
func (c *Collection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	indexes := c.snapshotIndexes()
	c.mu.Unlock()

	for _, ci := range indexes {
		if err := ci.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FetchDocument implements query.DocumentFetcher.
func (c *Collection) FetchDocument(ctx context.Context, id string) (map[string]any, error) {
	doc, _, err := c.getDocument(ctx, id)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return doc, nil
}

// ListDocumentIDs implements query.DocumentFetcher for the full-scan
// fallback when no index covers a query.
func (c *Collection) ListDocumentIDs(ctx context.Context) ([]string, error) {
	listings, err := c.store.List(ctx, c.dataPrefix(), "")
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	prefix := c.dataPrefix()
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		id := strings.TrimSuffix(strings.TrimPrefix(l.Key, prefix), ".json")
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Collection) getDocument(ctx context.Context, id string) (map[string]any, string, error) {
	obj, err := c.store.Get(ctx, c.dataPath(id))
	if err != nil {
		return nil, "", err
	}
	doc, err := decodeDocument(obj.Body)
	if err != nil {
		return nil, "", err
	}
	return doc, obj.ETag, nil
}

// putDocumentRetry writes next with an If-Match precondition on etag.
// A precondition failure (a concurrent writer touched the same document
// between our read and our write) is not retried here: it is returned
// as an InvalidArgument error asking the caller to retry the operation.
func (c *Collection) putDocumentRetry(ctx context.Context, id, etag string, next map[string]any) error {
	body, err := encodeDocument(next)
	if err != nil {
		return err
	}
	if _, err := c.store.Put(ctx, c.dataPath(id), body, etag); err != nil {
		if err == objstore.ErrPreconditionFailed {
			return dberr.New(dberr.InvalidArgument, "document was concurrently modified; retry the operation")
		}
		return classifyStoreErr(err)
	}
	return nil
}

func (c *Collection) indexAll(ctx context.Context, id string, oldDoc, newDoc map[string]any) error {
	c.mu.RLock()
	indexes := c.snapshotIndexes()
	c.mu.RUnlock()

	for _, ci := range indexes {
		if oldDoc == nil {
			if err := ci.AddDocument(ctx, id, newDoc); err != nil {
				return err
			}
			continue
		}
		if err := ci.UpdateOnDocumentUpdate(ctx, id, oldDoc, newDoc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) snapshotIndexes() []*index.CollectionIndex {
	out := make([]*index.CollectionIndex, 0, len(c.indexes))
	for _, ci := range c.indexes {
		out = append(out, ci)
	}
	return out
}

func (c *Collection) loadIndexDefinition(ctx context.Context, name string) (index.Definition, error) {
	obj, err := c.store.Get(ctx, c.indexMetaPath(name))
	if err != nil {
		return index.Definition{}, err
	}
	var fields []indexSpecField
	if err := json.Unmarshal(obj.Body, &fields); err != nil {
		return index.Definition{}, dberr.Wrap(dberr.Server, "decoding index definition "+name, err)
	}
	return index.Definition{Name: name, Keys: toKeyParts(fields)}, nil
}

func (c *Collection) saveIndexDefinition(ctx context.Context, def index.Definition) error {
	fields := make([]indexSpecField, len(def.Keys))
	for i, k := range def.Keys {
		fields[i] = indexSpecField{Field: k.Field, Order: orderToInt(k.Order)}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return dberr.Wrap(dberr.InvalidArgument, "encoding index definition", err)
	}
	if _, err := c.store.Put(ctx, c.indexMetaPath(def.Name), body, ""); err != nil {
		return classifyStoreErr(err)
	}
	return nil
}

func toKeyParts(fields []indexSpecField) []index.KeyPart {
	parts := make([]index.KeyPart, len(fields))
	for i, f := range fields {
		parts[i] = index.KeyPart{Field: f.Field, Order: intToOrder(f.Order)}
	}
	return parts
}

func orderToInt(o index.Order) int {
	switch o {
	case index.Descending:
		return -1
	case index.Text:
		return 0
	default:
		return 1
	}
}

func intToOrder(n int) index.Order {
	switch n {
	case -1:
		return index.Descending
	case 0:
		return index.Text
	default:
		return index.Ascending
	}
}

func classifyStoreErr(err error) error {
	switch err {
	case objstore.ErrNotFound:
		return dberr.Wrap(dberr.NotFound, "document not found", err)
	case objstore.ErrPreconditionFailed:
		return dberr.Wrap(dberr.Conflict, "precondition failed", err)
	case objstore.ErrTransientNetwork:
		return dberr.Wrap(dberr.Network, "transient storage error", err)
	default:
		if err == nil {
			return nil
		}
		return dberr.Wrap(dberr.Server, "storage error", err)
	}
}
