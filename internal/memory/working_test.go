package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/types"
)

func TestWorkingStoreAndRetrieve(t *testing.T) {
	wm := NewWorkingMemory(10, 1024*1024, nil)

	value := []byte{1, 2, 3, 4, 5}
	require.True(t, wm.Store("test_key", value, types.PriorityMedium))

	got, ok := wm.Retrieve("test_key")
	require.True(t, ok)
	assert.Equal(t, value, got)

	_, ok = wm.Retrieve("missing")
	assert.False(t, ok)
}

func TestWorkingCapacityLimit(t *testing.T) {
	wm := NewWorkingMemory(2, 1024, nil)

	assert.True(t, wm.Store("key1", []byte{1}, types.PriorityLow))
	assert.True(t, wm.Store("key2", []byte{2}, types.PriorityLow))
	assert.True(t, wm.Store("key3", []byte{3}, types.PriorityHigh))

	// High priority stored, a low priority entry evicted.
	assert.Equal(t, 2, wm.Len())
	_, ok := wm.Retrieve("key3")
	assert.True(t, ok)
}

func TestWorkingPriorityEviction(t *testing.T) {
	clock := &types.FakeClock{Current: time.Unix(1700000000, 0)}
	wm := NewWorkingMemory(3, 1024, clock)

	wm.Store("low1", []byte{1}, types.PriorityLow)
	clock.Advance(time.Second)
	wm.Store("medium1", []byte{2}, types.PriorityMedium)
	clock.Advance(time.Second)
	wm.Store("high1", []byte{3}, types.PriorityHigh)
	clock.Advance(time.Second)

	wm.Store("critical1", []byte{4}, types.PriorityCritical)

	_, ok := wm.Retrieve("critical1")
	assert.True(t, ok)
	_, ok = wm.Retrieve("high1")
	assert.True(t, ok)
	_, ok = wm.Retrieve("medium1")
	assert.True(t, ok)
	// The low-priority entry was evicted.
	_, ok = wm.Retrieve("low1")
	assert.False(t, ok)
}

func TestWorkingEvictionTiesBrokenByAge(t *testing.T) {
	clock := &types.FakeClock{Current: time.Unix(1700000000, 0)}
	wm := NewWorkingMemory(3, 1024, clock)

	// S4: equal priority and access; the oldest-inserted entry loses.
	require.True(t, wm.Store("k1", []byte{1}, types.PriorityLow))
	clock.Advance(time.Second)
	require.True(t, wm.Store("k2", []byte{2}, types.PriorityLow))
	clock.Advance(time.Second)
	require.True(t, wm.Store("k3", []byte{3}, types.PriorityLow))
	clock.Advance(time.Second)

	require.True(t, wm.Store("k4", []byte{4}, types.PriorityCritical))

	assert.Equal(t, 3, wm.Len())
	_, ok := wm.Retrieve("k1")
	assert.False(t, ok, "oldest entry should be evicted")
	for _, key := range []string{"k2", "k3", "k4"} {
		_, ok := wm.Retrieve(key)
		assert.True(t, ok, "%s should survive", key)
	}
}

func TestWorkingOversizeItemRejectedWithoutEviction(t *testing.T) {
	wm := NewWorkingMemory(10, 16, nil)

	require.True(t, wm.Store("small", []byte{1, 2}, types.PriorityLow))

	// An item that alone exceeds max_bytes is rejected outright.
	big := make([]byte, 32)
	assert.False(t, wm.Store("big", big, types.PriorityCritical))

	_, ok := wm.Retrieve("small")
	assert.True(t, ok, "rejection must not evict existing items")
	assert.Equal(t, uint64(0), wm.Stats().TotalEvictions)
}

func TestWorkingByteCapHolds(t *testing.T) {
	wm := NewWorkingMemory(100, 64, nil)

	for i := 0; i < 20; i++ {
		wm.Store(fmt.Sprintf("k%d", i), make([]byte, 16), types.PriorityMedium)
		assert.LessOrEqual(t, wm.Bytes(), 64)
		assert.LessOrEqual(t, wm.Len(), 100)
	}
}

func TestWorkingUpdatePriority(t *testing.T) {
	wm := NewWorkingMemory(10, 1024, nil)

	wm.Store("key1", []byte{1}, types.PriorityLow)
	assert.True(t, wm.UpdatePriority("key1", types.PriorityHigh))
	assert.False(t, wm.UpdatePriority("missing", types.PriorityHigh))
}

func TestWorkingRemoveAndClear(t *testing.T) {
	wm := NewWorkingMemory(10, 1024, nil)

	wm.Store("key1", []byte{1, 2}, types.PriorityLow)
	value, ok := wm.Remove("key1")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, value)
	assert.Zero(t, wm.Len())
	assert.Zero(t, wm.Bytes())

	wm.Store("key2", []byte{3}, types.PriorityLow)
	wm.Clear()
	assert.Zero(t, wm.Len())
	assert.Zero(t, wm.Bytes())
}

func TestWorkingStatistics(t *testing.T) {
	wm := NewWorkingMemory(10, 1024, nil)

	wm.Store("key1", []byte{1}, types.PriorityMedium)
	wm.Retrieve("key1")
	wm.Retrieve("key1")
	wm.Retrieve("nonexistent")

	stats := wm.Stats()
	assert.Equal(t, 1, stats.CurrentItems)
	assert.Equal(t, 10, stats.Capacity)
	assert.InDelta(t, 2.0/3.0, stats.CacheHitRate, 1e-9)
}

func TestWorkingConcurrentAccess(t *testing.T) {
	wm := NewWorkingMemory(1000, 1024*1024, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				wm.Store(key, []byte{byte(i)}, types.PriorityMedium)
				wm.Retrieve(key)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 800, wm.Len())
	assert.LessOrEqual(t, wm.Bytes(), 1024*1024)
}
