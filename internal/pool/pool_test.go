package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/types"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := Open(BackendInMemory, "", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAcquireRelease(t *testing.T) {
	p := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = h.Exec(ctx, "CREATE TABLE t (id TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	h.Release()

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Acquired)
	assert.Equal(t, uint64(1), stats.Released)
}

func TestAcquireExhaustionTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Min = 0
	cfg.Max = 1
	cfg.WarmOnStart = false
	cfg.ConnectionTimeout = 100 * time.Millisecond
	p := newTestPool(t, cfg)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrResourceExhausted))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Max = 1
	cfg.ConnectionTimeout = 2 * time.Second
	p := newTestPool(t, cfg)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		h2, err := p.Acquire(ctx)
		if err == nil {
			h2.Release()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	h.Release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not unblocked by release")
	}
}

func TestHandleCRUD(t *testing.T) {
	p := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.Exec(ctx, "CREATE TABLE things (id TEXT PRIMARY KEY, name TEXT, size INTEGER)")
	require.NoError(t, err)

	require.NoError(t, h.Create(ctx, "things", "t1", map[string]interface{}{
		"name": "widget", "size": 3,
	}))

	record, err := h.Select(ctx, "things", "t1")
	require.NoError(t, err)
	assert.Equal(t, "widget", record["name"])

	require.NoError(t, h.Delete(ctx, "things", "t1"))
	_, err = h.Select(ctx, "things", "t1")
	assert.True(t, types.IsKind(err, types.ErrNotFound))

	err = h.Delete(ctx, "things", "t1")
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestTransactionRollsBackOnError(t *testing.T) {
	p := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.Exec(ctx, "CREATE TABLE tx (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = h.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO tx (id) VALUES ('x')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, h.QueryRow(ctx, "SELECT COUNT(*) FROM tx").Scan(&count))
	assert.Zero(t, count, "rollback must undo the insert")
}

func TestWithRetrySurfacesNonRetryable(t *testing.T) {
	p := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	calls := 0
	err := p.WithRetry(ctx, "op", func(h *Handle) error {
		calls++
		return types.NotFound("thing", "id")
	})
	assert.True(t, types.IsKind(err, types.ErrNotFound))
	assert.Equal(t, 1, calls, "non-retryable errors must not retry")
}

func TestWithRetryRetriesTransient(t *testing.T) {
	p := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	calls := 0
	err := p.WithRetry(ctx, "op", func(h *Handle) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(errors.New("database is locked")))
	assert.True(t, IsTransient(errors.New("SQLITE_BUSY: busy")))
	assert.False(t, IsTransient(errors.New("syntax error near SELECT")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(types.Conflict("x", "y", 1, 2)))
}

func TestConcurrentAcquire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Max = 4
	p := newTestPool(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(ctx)
			if err != nil {
				return
			}
			var one int
			_ = h.QueryRow(ctx, "SELECT 1").Scan(&one)
			h.Release()
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
}

func TestCloseDrains(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownGracePeriod = 500 * time.Millisecond
	p, err := Open(BackendInMemory, "", cfg)
	require.NoError(t, err)

	ctx := context.Background()
	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.Release()
	}()

	require.NoError(t, p.Close())

	_, err = p.Acquire(ctx)
	assert.True(t, types.IsKind(err, types.ErrResourceExhausted))
}
