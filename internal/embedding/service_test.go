package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyEngine fails the first N EmbedBatch calls, then delegates to a mock.
type flakyEngine struct {
	mu        sync.Mutex
	failures  int
	calls     int
	delegate  *MockEngine
	lastTexts []string
}

func (f *flakyEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *flakyEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.lastTexts = texts
	f.mu.Unlock()

	if call <= f.failures {
		return nil, errors.New("transient provider failure")
	}
	return f.delegate.EmbedBatch(ctx, texts)
}

func (f *flakyEngine) Dimensions() int     { return f.delegate.Dimensions() }
func (f *flakyEngine) Name() string        { return "flaky" }
func (f *flakyEngine) MaxInputLength() int { return 1 << 20 }

func TestServiceRetriesTransientFailures(t *testing.T) {
	engine := &flakyEngine{failures: 2, delegate: NewMockEngine(8)}
	svc := NewService(engine, ServiceConfig{BatchSize: 4, MaxTextLength: 100})

	vecs, err := svc.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, engine.calls)
}

func TestServiceRetryExhaustionPropagates(t *testing.T) {
	engine := &flakyEngine{failures: 10, delegate: NewMockEngine(8)}
	svc := NewService(engine, ServiceConfig{BatchSize: 4, MaxTextLength: 100})

	_, err := svc.EmbedBatch(context.Background(), []string{"one"})
	require.Error(t, err)
	// initial attempt + 3 retries
	assert.Equal(t, 4, engine.calls)
}

func TestServiceTruncatesLongInput(t *testing.T) {
	engine := &flakyEngine{delegate: NewMockEngine(8)}
	svc := NewService(engine, ServiceConfig{BatchSize: 4, MaxTextLength: 10, CacheTTL: 0})

	_, err := svc.Embed(context.Background(), strings.Repeat("x", 100))
	require.NoError(t, err)
	require.Len(t, engine.lastTexts, 1)
	assert.Len(t, engine.lastTexts[0], 10)
}

func TestServiceBatchesBySize(t *testing.T) {
	engine := &flakyEngine{delegate: NewMockEngine(8)}
	svc := NewService(engine, ServiceConfig{BatchSize: 2, MaxTextLength: 100})

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := svc.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, 3, engine.calls) // ceil(5/2)
}

func TestServiceCache(t *testing.T) {
	engine := &flakyEngine{delegate: NewMockEngine(8)}
	svc := NewService(engine, ServiceConfig{BatchSize: 4, MaxTextLength: 100, CacheTTL: time.Minute})

	_, err := svc.Embed(context.Background(), "cached text")
	require.NoError(t, err)
	_, err = svc.Embed(context.Background(), "cached text")
	require.NoError(t, err)
	assert.Equal(t, 1, engine.calls, "second call should hit the cache")
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(10 * time.Millisecond)
	key := CacheKey("text")

	cache.Update(key, []float32{1, 2})
	_, ok := cache.GetIfValid(key)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.GetIfValid(key)
	assert.False(t, ok, "entry should expire after TTL")

	// Update refreshes both data and timestamp.
	cache.Update(key, []float32{3, 4})
	vec, ok := cache.GetIfValid(key)
	require.True(t, ok)
	assert.Equal(t, []float32{3, 4}, vec)
}

func TestCachePurge(t *testing.T) {
	cache := NewCache(5 * time.Millisecond)
	cache.Update(CacheKey("a"), []float32{1})
	cache.Update(CacheKey("b"), []float32{2})

	time.Sleep(10 * time.Millisecond)
	dropped := cache.Purge()
	assert.Equal(t, 2, dropped)
	assert.Zero(t, cache.Len())
}
