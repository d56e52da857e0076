// Package config holds configuration for every layer of modb: the
// object-store adapter, the index entry cache and persist scheduler,
// the cursor's fetch fan-out, and the shell.
package config

import "time"

type Config struct {
	ObjectStore ObjectStoreConfig
	Index       IndexConfig
	Cursor      CursorConfig
	Shell       ShellConfig
}

// ObjectStoreConfig configures the S3/MinIO-compatible durable backend.
// It is read only when Connect is asked for the ObjectStorage backend;
// the backend itself is chosen by the BackendKind passed to Connect,
// not by these fields.
type ObjectStoreConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	RequestTimeout  time.Duration
}

// IndexConfig configures the collection-index entry cache and its
// persist scheduler.
type IndexConfig struct {
	EntryCacheSize     int           // max *index.Entry objects cached per CollectionIndex
	WorkersPerIndex    int           // bounded ants pool size draining dirty keys (default 4)
	ImmediateRetryCap  int           // immediate precondition-failed retries before backoff reschedule
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	RevalidateOnFetch  bool // force a HEAD revalidation on every GetEntry instead of trusting the cache blindly
}

// CursorConfig bounds resource usage while materialising find() results.
type CursorConfig struct {
	BufferSize        int // max documents buffered by a single cursor
	FetchParallelism  int // bound on concurrent document Get calls during candidate materialisation
}

// ShellConfig configures the cmd/mdbsh REPL.
type ShellConfig struct {
	HistorySize int
	Prompt      string
}

// DefaultConfig returns a fully populated configuration; callers
// override individual fields rather than starting from a zero value.
func DefaultConfig() *Config {
	return &Config{
		ObjectStore: ObjectStoreConfig{
			UseSSL:         true,
			RequestTimeout: 10 * time.Second,
		},
		Index: IndexConfig{
			EntryCacheSize:    4096,
			WorkersPerIndex:   4,
			ImmediateRetryCap: 3,
			BackoffInitial:    10 * time.Millisecond,
			BackoffMax:        1 * time.Second,
			RevalidateOnFetch: false,
		},
		Cursor: CursorConfig{
			BufferSize:       1000,
			FetchParallelism: 16,
		},
		Shell: ShellConfig{
			HistorySize: 100,
			Prompt:      "modb> ",
		},
	}
}
