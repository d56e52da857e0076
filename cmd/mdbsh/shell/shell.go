// Package shell implements the mdbsh REPL state machine: current
// database/collection context, pretty-print toggle, command history,
// and dispatch from a parsed Command to its handler. Adapted from the
// teacher's docdbsh Shell, generalized from a numeric dbID/IPC socket
// to a pkg/client.Client talking directly to a Database/Collection.
package shell

import (
	"context"
	"fmt"
	"sync"

	"github.com/kartikbazzad/modb/pkg/client"
)

type Shell struct {
	client *client.Client

	mu                sync.Mutex
	dbName            string
	currentCollection string
	pretty            bool
	history           []string
}

func New(c *client.Client) *Shell {
	return &Shell{
		client:            c,
		dbName:            "default",
		currentCollection: "",
		history:           make([]string, 0, 100),
	}
}

func (s *Shell) UseDB(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbName = name
	s.currentCollection = ""
}

func (s *Shell) DBName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dbName
}

func (s *Shell) UseCollection(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCollection = name
}

func (s *Shell) Collection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCollection
}

// CurrentCollection returns the client plus the in-scope database and
// collection names, or errors if .collection has not named one yet.
func (s *Shell) CurrentCollection(ctx context.Context) (*client.Client, string, string, error) {
	s.mu.Lock()
	db, coll := s.dbName, s.currentCollection
	s.mu.Unlock()
	if coll == "" {
		return nil, "", "", fmt.Errorf("no collection selected; run .collection <name> first")
	}
	return s.client, db, coll, nil
}

func (s *Shell) SetPretty(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pretty = v
}

func (s *Shell) Pretty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pretty
}

func (s *Shell) AddHistory(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, line)
	if len(s.history) > 100 {
		s.history = s.history[1:]
	}
}

func (s *Shell) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Shell) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
