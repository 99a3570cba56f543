// Package store implements the persistent entity-and-edge model: workspaces,
// vnodes, code units, dependencies, episodes, patterns and embeddings over a
// pooled sqlite database, with graph queries and vector search on top.
package store

import (
	"context"
	"os"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

// Options configures the store.
type Options struct {
	Backend          pool.Backend
	Path             string
	Pool             pool.Config
	Clock            types.Clock
	FallbackInMemory bool
}

// DefaultOptions returns an in-memory store configuration, the flavor tests
// run against.
func DefaultOptions() Options {
	return Options{
		Backend: pool.BackendInMemory,
		Pool:    pool.DefaultConfig(),
		Clock:   types.SystemClock{},
	}
}

// OptionsFromEnv derives backend selection from the environment hooks
// consumed by the core: STORAGE_BACKEND and STORAGE_FALLBACK_IN_MEMORY.
func OptionsFromEnv(path string) Options {
	opts := DefaultOptions()
	opts.Path = path
	opts.Backend = pool.BackendPersistent

	if v := os.Getenv("STORAGE_BACKEND"); v == string(pool.BackendInMemory) {
		opts.Backend = pool.BackendInMemory
	}
	if os.Getenv("STORAGE_FALLBACK_IN_MEMORY") == "1" {
		opts.FallbackInMemory = true
	}
	return opts
}

// Store is the graph-and-entity store. Every public operation runs inside a
// single transaction on a pooled connection; reads see a consistent snapshot
// at transaction start.
type Store struct {
	pool      *pool.Pool
	clock     types.Clock
	vectorExt bool
	vectorDim int
}

// Open creates (or opens) a store. A persistent backend that fails to open
// falls back to an ephemeral in-memory store when FallbackInMemory is set.
func Open(opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if opts.Clock == nil {
		opts.Clock = types.SystemClock{}
	}

	p, err := pool.Open(opts.Backend, opts.Path, opts.Pool)
	if err != nil && opts.Backend == pool.BackendPersistent && opts.FallbackInMemory {
		logging.Get(logging.CategoryStore).Warn(
			"Persistent backend failed (%v); falling back to in-memory store", err)
		p, err = pool.Open(pool.BackendInMemory, "", opts.Pool)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{pool: p, clock: opts.Clock}
	if err := s.initialize(); err != nil {
		p.Close()
		return nil, err
	}

	s.detectVecExtension()
	logging.Store("Store opened: backend=%s vector_ext=%t", p.Backend(), s.vectorExt)
	return s, nil
}

// Pool exposes the connection pool for callers that coordinate their own
// transactions (the consolidator's fixed lock order relies on this).
func (s *Store) Pool() *pool.Pool { return s.pool }

// Clock exposes the injected clock.
func (s *Store) Clock() types.Clock { return s.clock }

// Close shuts the store down, draining the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// detectVecExtension probes for the sqlite-vec extension by creating a
// scratch vec0 virtual table. Absence is not an error: vector search falls
// back to brute-force cosine over stored blobs.
func (s *Store) detectVecExtension() {
	ctx := context.Background()
	err := s.pool.WithRetry(ctx, "detectVecExtension", func(h *pool.Handle) error {
		if _, err := h.Exec(ctx, "CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
			return err
		}
		_, err := h.Exec(ctx, "DROP TABLE IF EXISTS vec_probe")
		return err
	})
	s.vectorExt = err == nil
	if !s.vectorExt {
		logging.StoreDebug("sqlite-vec extension not available, using brute-force vector search")
	}
}

// HasVectorIndex reports whether ANN search runs through sqlite-vec.
func (s *Store) HasVectorIndex() bool { return s.vectorExt }

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(timeLayout)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
