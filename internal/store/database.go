package store

import (
	"context"
	"regexp"
	"sync"

	"github.com/kartikbazzad/modb/internal/config"
	"github.com/kartikbazzad/modb/internal/dberr"
	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/kartikbazzad/modb/internal/objstore"
)

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]{0,119}$`)

// Database is a named group of collections sharing one object store,
// replacing the teacher's static CollectionRegistry with an
// instance-scoped container (spec §9 design note: no process-wide
// registry, since multiple Database handles may point at different
// buckets/backends in the same process).
type Database struct {
	name   string
	store  objstore.Store
	cfg    *config.Config
	logger *logger.Logger

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// NewDatabase wires a Database to store, using cfg for every
// collection it opens.
func NewDatabase(name string, st objstore.Store, cfg *config.Config, log *logger.Logger) *Database {
	return &Database{
		name:        name,
		store:       st,
		cfg:         cfg,
		logger:      log,
		collections: make(map[string]*Collection),
	}
}

// Collection returns the named collection, opening it (and loading its
// existing index definitions) on first access.
func (d *Database) Collection(ctx context.Context, name string) (*Collection, error) {
	if !collectionNamePattern.MatchString(name) {
		return nil, dberr.New(dberr.InvalidArgument, "invalid collection name: "+name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, dberr.ErrClosed
	}
	if c, ok := d.collections[name]; ok {
		return c, nil
	}

	c, err := Open(ctx, d.name+"/"+name, d.store, d.cfg, d.logger)
	if err != nil {
		return nil, err
	}
	d.collections[name] = c
	return c, nil
}

// Close closes every collection opened through this Database.
func (d *Database) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	collections := make([]*Collection, 0, len(d.collections))
	for _, c := range d.collections {
		collections = append(collections, c)
	}
	d.mu.Unlock()

	for _, c := range collections {
		if err := c.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}
