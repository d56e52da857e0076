package objstore

import (
	"context"
	"sync"
)

// Spy wraps a Store and counts calls per method, letting tests assert
// the effort-bound properties in spec §8 (e.g. "exactly 2 document
// gets") without coupling to a specific backend.
type Spy struct {
	Store

	mu     sync.Mutex
	counts map[string]int
}

// NewSpy wraps store with call counting.
func NewSpy(store Store) *Spy {
	return &Spy{Store: store, counts: make(map[string]int)}
}

func (s *Spy) bump(op string) {
	s.mu.Lock()
	s.counts[op]++
	s.mu.Unlock()
}

func (s *Spy) Get(ctx context.Context, key string) (Object, error) {
	s.bump("get")
	return s.Store.Get(ctx, key)
}

func (s *Spy) GetIfNoneMatch(ctx context.Context, key, etag string) (Object, error) {
	s.bump("get_if_none_match")
	return s.Store.GetIfNoneMatch(ctx, key, etag)
}

func (s *Spy) Head(ctx context.Context, key string) (string, error) {
	s.bump("head")
	return s.Store.Head(ctx, key)
}

func (s *Spy) Put(ctx context.Context, key string, body []byte, ifMatch string) (string, error) {
	s.bump("put")
	return s.Store.Put(ctx, key, body, ifMatch)
}

func (s *Spy) List(ctx context.Context, prefix, delimiter string) ([]Listing, error) {
	s.bump("list")
	return s.Store.List(ctx, prefix, delimiter)
}

func (s *Spy) Delete(ctx context.Context, key string) (bool, error) {
	s.bump("delete")
	return s.Store.Delete(ctx, key)
}

// Count returns the number of calls made to the named operation
// ("get", "get_if_none_match", "head", "put", "list", "delete").
func (s *Spy) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// Reset zeroes every counter.
func (s *Spy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
}
