// Package cursor implements the lazy, deferred-fetch result container
// described in spec §4.7: a find() call returns a Cursor immediately;
// the underlying index lookup and document fetch only run on first
// consumption.
package cursor

import (
	"context"
	"sync"

	"github.com/kartikbazzad/modb/internal/dberr"
)

// Loader produces the full result set for one find() call. It runs at
// most once per Cursor.
type Loader func(ctx context.Context) ([]map[string]any, error)

// Cursor is returned by Collection.Find. Not safe to share across
// goroutines expecting independent iteration; safe for concurrent
// Close and in-flight iteration calls.
type Cursor struct {
	mu       sync.Mutex
	load     Loader
	buffer   []map[string]any
	pos      int
	loaded   bool
	closed   bool
	bufLimit int
}

// New wraps load behind a Cursor, capping the materialized result at
// bufLimit documents (<=0 means unbounded, bounded only by whatever
// limit the query itself already applied).
func New(load Loader, bufLimit int) *Cursor {
	return &Cursor{load: load, bufLimit: bufLimit}
}

func (c *Cursor) ensureLoaded(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	docs, err := c.load(ctx)
	if err != nil {
		return err
	}
	if c.bufLimit > 0 && len(docs) > c.bufLimit {
		docs = docs[:c.bufLimit]
	}
	c.buffer = docs
	c.loaded = true
	return nil
}

// HasNext reports whether Next would return a document. Triggers the
// deferred fetch on first call.
func (c *Cursor) HasNext(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, dberr.ErrClosed
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return false, err
	}
	return c.pos < len(c.buffer), nil
}

// Next returns the next document, or a NotFound error once exhausted.
func (c *Cursor) Next(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, dberr.ErrClosed
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if c.pos >= len(c.buffer) {
		return nil, dberr.New(dberr.NotFound, "cursor exhausted")
	}
	d := c.buffer[c.pos]
	c.pos++
	return d, nil
}

// ToArray drains every remaining document at once.
func (c *Cursor) ToArray(ctx context.Context) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, dberr.ErrClosed
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	rest := c.buffer[c.pos:]
	c.pos = len(c.buffer)
	return rest, nil
}

// Close forbids further iteration. Idempotent.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.buffer = nil
	return nil
}
