// Package memory implements the layered cognitive memory: a bounded
// in-process working layer plus episodic, semantic and procedural layers
// persisted through the store, coordinated by a consolidator.
package memory

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/types"
)

// workingShards fixes the lock granularity. Access updates touch one shard;
// only the eviction scan sees them all.
const workingShards = 16

type workingShard struct {
	mu    sync.RWMutex
	items map[string]*types.WorkingItem
}

// WorkingMemory is the fast, bounded, in-process key-value layer with
// priority eviction. Never persisted to disk.
type WorkingMemory struct {
	shards   [workingShards]*workingShard
	maxItems int
	maxBytes int
	clock    types.Clock

	curItems  atomic.Int64
	curBytes  atomic.Int64
	evictions atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64

	// storeMu serializes capacity checks and evictions; reads of other keys
	// stay on their shard locks.
	storeMu sync.Mutex
}

// WorkingStats reports the layer's counters.
type WorkingStats struct {
	CurrentItems   int     `json:"current_items"`
	CurrentBytes   int     `json:"current_bytes"`
	Capacity       int     `json:"capacity"`
	TotalEvictions uint64  `json:"total_evictions"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
}

// NewWorkingMemory creates a working memory bounded by item and byte caps.
func NewWorkingMemory(maxItems, maxBytes int, clock types.Clock) *WorkingMemory {
	if clock == nil {
		clock = types.SystemClock{}
	}
	wm := &WorkingMemory{maxItems: maxItems, maxBytes: maxBytes, clock: clock}
	for i := range wm.shards {
		wm.shards[i] = &workingShard{items: make(map[string]*types.WorkingItem)}
	}
	return wm
}

func (wm *WorkingMemory) shardFor(key string) *workingShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return wm.shards[h.Sum32()%workingShards]
}

// retentionScore weighs priority, recency and access frequency; the lowest
// retention is evicted first, ties broken by age.
func (wm *WorkingMemory) retentionScore(item *types.WorkingItem, now time.Time) float64 {
	ageSeconds := now.Sub(item.LastAccessed).Seconds()
	recency := 1.0 / (1.0 + ageSeconds)
	frequency := float64(item.AccessCount) / float64(item.AccessCount+1)
	return 0.4*item.Priority.Weight() + 0.3*recency + 0.3*frequency
}

// Store inserts an item, evicting lower-retention entries until both caps
// hold. Returns false when the item alone exceeds the byte cap (no
// evictions happen in that case) or eviction cannot free enough space.
func (wm *WorkingMemory) Store(key string, value []byte, priority types.Priority) bool {
	size := len(value)
	if size > wm.maxBytes {
		logging.MemoryDebug("Working store rejected, item exceeds byte cap: %s (%d bytes)", key, size)
		return false
	}

	wm.storeMu.Lock()
	defer wm.storeMu.Unlock()

	// Replacing an existing key frees its old footprint first.
	wm.removeLocked(key)

	if int(wm.curItems.Load())+1 > wm.maxItems || int(wm.curBytes.Load())+size > wm.maxBytes {
		needed := int(wm.curBytes.Load()) + size - wm.maxBytes
		if !wm.evictLowRetention(needed) {
			logging.Get(logging.CategoryMemory).Warn("Failed to evict items for %s", key)
			return false
		}
	}

	now := wm.clock.Now()
	item := &types.WorkingItem{
		Key:          key,
		Value:        value,
		Priority:     priority,
		SizeBytes:    size,
		LastAccessed: now,
		CreatedAt:    now,
	}

	shard := wm.shardFor(key)
	shard.mu.Lock()
	shard.items[key] = item
	shard.mu.Unlock()

	wm.curItems.Add(1)
	wm.curBytes.Add(int64(size))
	logging.MemoryDebug("Working store: %s (%d bytes, priority=%d)", key, size, priority)
	return true
}

// evictLowRetention removes the lowest-retention entries until at least
// neededBytes are free and an item slot opens up. Caller holds storeMu.
func (wm *WorkingMemory) evictLowRetention(neededBytes int) bool {
	now := wm.clock.Now()

	type scored struct {
		key   string
		score float64
		age   time.Duration
		size  int
	}
	var candidates []scored
	for _, shard := range wm.shards {
		shard.mu.RLock()
		for key, item := range shard.items {
			candidates = append(candidates, scored{
				key:   key,
				score: wm.retentionScore(item, now),
				age:   now.Sub(item.CreatedAt),
				size:  item.SizeBytes,
			})
		}
		shard.mu.RUnlock()
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].age > candidates[j].age // ties: oldest first
	})

	freed := 0
	evicted := 0
	for _, c := range candidates {
		itemsOK := int(wm.curItems.Load()) < wm.maxItems
		bytesOK := freed >= neededBytes
		if itemsOK && bytesOK {
			break
		}
		if wm.removeLocked(c.key) {
			freed += c.size
			evicted++
		}
	}

	wm.evictions.Add(uint64(evicted))
	if evicted > 0 {
		logging.MemoryDebug("Evicted %d working items, freed %d bytes", evicted, freed)
	}
	return freed >= neededBytes && int(wm.curItems.Load()) < wm.maxItems
}

// removeLocked deletes a key if present, updating counters. Caller holds
// storeMu (or accepts best-effort removal).
func (wm *WorkingMemory) removeLocked(key string) bool {
	shard := wm.shardFor(key)
	shard.mu.Lock()
	item, ok := shard.items[key]
	if ok {
		delete(shard.items, key)
	}
	shard.mu.Unlock()

	if !ok {
		return false
	}
	wm.curItems.Add(-1)
	wm.curBytes.Add(-int64(item.SizeBytes))
	return true
}

// Retrieve returns the value for a key and updates its access statistics.
// The update is atomic per shard and does not block readers of other keys.
func (wm *WorkingMemory) Retrieve(key string) ([]byte, bool) {
	shard := wm.shardFor(key)
	shard.mu.Lock()
	item, ok := shard.items[key]
	if ok {
		item.LastAccessed = wm.clock.Now()
		item.AccessCount++
	}
	shard.mu.Unlock()

	if !ok {
		wm.misses.Add(1)
		return nil, false
	}
	wm.hits.Add(1)
	return item.Value, true
}

// UpdatePriority changes an item's retention priority.
func (wm *WorkingMemory) UpdatePriority(key string, priority types.Priority) bool {
	shard := wm.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	item, ok := shard.items[key]
	if !ok {
		return false
	}
	item.Priority = priority
	return true
}

// Remove deletes a key, returning its value.
func (wm *WorkingMemory) Remove(key string) ([]byte, bool) {
	wm.storeMu.Lock()
	defer wm.storeMu.Unlock()

	shard := wm.shardFor(key)
	shard.mu.Lock()
	item, ok := shard.items[key]
	if ok {
		delete(shard.items, key)
	}
	shard.mu.Unlock()

	if !ok {
		return nil, false
	}
	wm.curItems.Add(-1)
	wm.curBytes.Add(-int64(item.SizeBytes))
	return item.Value, true
}

// Clear empties the layer.
func (wm *WorkingMemory) Clear() {
	wm.storeMu.Lock()
	defer wm.storeMu.Unlock()

	for _, shard := range wm.shards {
		shard.mu.Lock()
		shard.items = make(map[string]*types.WorkingItem)
		shard.mu.Unlock()
	}
	wm.curItems.Store(0)
	wm.curBytes.Store(0)
	logging.Memory("Working memory cleared")
}

// Len returns the current item count.
func (wm *WorkingMemory) Len() int { return int(wm.curItems.Load()) }

// Bytes returns the current byte usage.
func (wm *WorkingMemory) Bytes() int { return int(wm.curBytes.Load()) }

// Keys returns every resident key.
func (wm *WorkingMemory) Keys() []string {
	var keys []string
	for _, shard := range wm.shards {
		shard.mu.RLock()
		for key := range shard.items {
			keys = append(keys, key)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// Stats returns the layer's counters.
func (wm *WorkingMemory) Stats() WorkingStats {
	hits := wm.hits.Load()
	misses := wm.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return WorkingStats{
		CurrentItems:   wm.Len(),
		CurrentBytes:   wm.Bytes(),
		Capacity:       wm.maxItems,
		TotalEvictions: wm.evictions.Load(),
		CacheHitRate:   rate,
	}
}
