// Package client is the public entry point to modb: Connect to either
// the volatile in-process backend or the S3-compatible durable
// backend, then reach collections through DB(name).Collection(name).
package client

import (
	"context"
	"sync"

	"github.com/kartikbazzad/modb/internal/config"
	"github.com/kartikbazzad/modb/internal/dberr"
	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/kartikbazzad/modb/internal/objstore"
	"github.com/kartikbazzad/modb/internal/store"
)

// BackendKind selects which Store implementation backs a Client.
type BackendKind int

const (
	// Volatile is the in-process, non-durable reference backend: data
	// lives only in this process's memory and is lost on exit. Useful
	// for tests and throwaway scratch collections.
	Volatile BackendKind = iota
	// ObjectStorage is the S3-compatible durable backend: the real
	// engineering surface of this package (spec §4).
	ObjectStorage
)

// Client owns one object-store connection and every Database opened
// through it.
type Client struct {
	store  objstore.Store
	cfg    *config.Config
	logger *logger.Logger

	mu  sync.Mutex
	dbs map[string]*store.Database
}

// Connect establishes a Client against the requested backend. cfg may
// be nil, in which case config.DefaultConfig() is used.
func Connect(ctx context.Context, kind BackendKind, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	var st objstore.Store
	switch kind {
	case Volatile:
		st = objstore.NewMemory()
	case ObjectStorage:
		s3, err := objstore.NewS3(objstore.S3Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			Bucket:          cfg.ObjectStore.Bucket,
			UseSSL:          cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return nil, dberr.Wrap(dberr.Server, "connecting to object storage", err)
		}
		st = s3
	default:
		return nil, dberr.New(dberr.InvalidArgument, "unknown backend kind")
	}

	return &Client{
		store:  st,
		cfg:    cfg,
		logger: logger.Default(),
		dbs:    make(map[string]*store.Database),
	}, nil
}

// ConnectWithStore wraps an already-constructed Store directly,
// bypassing backend selection. Used by tests that need two Clients
// sharing one objstore.Memory instance to simulate independent writer
// processes against the same bucket (spec §8 scenario C).
func ConnectWithStore(st objstore.Store, cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Client{
		store:  st,
		cfg:    cfg,
		logger: logger.Default(),
		dbs:    make(map[string]*store.Database),
	}
}

// DB returns the named database, creating its in-memory handle on
// first access. A Database is a lightweight namespace, not a
// provisioning operation: nothing is written to the backend until a
// collection within it is used.
func (c *Client) DB(name string) *store.Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.dbs[name]; ok {
		return db
	}
	db := store.NewDatabase(name, c.store, c.cfg, c.logger)
	c.dbs[name] = db
	return db
}

// Close closes every Database opened through this Client, flushing
// each collection's pending index writes first.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	dbs := make([]*store.Database, 0, len(c.dbs))
	for _, db := range c.dbs {
		dbs = append(dbs, db)
	}
	c.mu.Unlock()

	for _, db := range dbs {
		if err := db.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Store exposes the underlying object-store adapter, for tests that
// need to share one Memory store between two independently-Connected
// Clients to simulate cross-process writers (spec §8 scenario C).
func (c *Client) Store() objstore.Store { return c.store }
