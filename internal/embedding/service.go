package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/ry-ht/cortex/internal/logging"
)

// =============================================================================
// EMBEDDING SERVICE
// =============================================================================

// ServiceConfig tunes batching and truncation.
type ServiceConfig struct {
	// BatchSize groups texts per provider call.
	BatchSize int
	// MaxTextLength truncates inputs before embedding.
	MaxTextLength int
	// CacheTTL bounds cached entries; zero disables the cache.
	CacheTTL time.Duration
}

// DefaultServiceConfig returns the service defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BatchSize:     32,
		MaxTextLength: 8000,
		CacheTTL:      time.Hour,
	}
}

// maxBatchRetries bounds per-batch retry attempts.
const maxBatchRetries = 3

// Service wraps an Engine with truncation, batching, retries and a
// content-addressed cache. Batches complete independently; a single batch
// exhausting its retries propagates the failure.
type Service struct {
	engine Engine
	config ServiceConfig
	cache  *Cache
}

// NewService creates an embedding service around an engine.
func NewService(engine Engine, cfg ServiceConfig) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 8000
	}

	var cache *Cache
	if cfg.CacheTTL > 0 {
		cache = NewCache(cfg.CacheTTL)
	}

	return &Service{engine: engine, config: cfg, cache: cache}
}

// Engine exposes the wrapped engine.
func (s *Service) Engine() Engine { return s.engine }

// Dimensions returns the engine's dimensionality.
func (s *Service) Dimensions() int { return s.engine.Dimensions() }

// Embed generates an embedding for a single text, consulting the cache.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	truncated := s.truncate(text)

	var key string
	if s.cache != nil {
		key = CacheKey(truncated)
		if vec, ok := s.cache.GetIfValid(key); ok {
			logging.EmbeddingDebug("Service.Embed: cache hit")
			return vec, nil
		}
	}

	vec, err := s.embedWithRetry(ctx, []string{truncated})
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("provider returned no embedding")
	}

	if s.cache != nil {
		s.cache.Update(key, vec[0])
	}
	return vec[0], nil
}

// EmbedBatch generates embeddings for many texts in batches of BatchSize.
// Each batch retries up to 3 times with exponential backoff (100ms * 2^n).
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "Service.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		truncated := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			truncated = append(truncated, s.truncate(t))
		}

		batch, err := s.embedWithRetry(ctx, truncated)
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d] failed: %w", start, end, err)
		}
		all = append(all, batch...)
	}

	logging.Embedding("Service.EmbedBatch: embedded %d texts", len(texts))
	return all, nil
}

func (s *Service) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= maxBatchRetries; attempt++ {
		if attempt > 0 {
			backoff := 100 * time.Millisecond * time.Duration(1<<(attempt-1))
			logging.EmbeddingDebug("Retry %d/%d after %v: %v", attempt, maxBatchRetries, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vecs, err := s.engine.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		// Context errors never improve with retries.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (s *Service) truncate(text string) string {
	limit := s.config.MaxTextLength
	if max := s.engine.MaxInputLength(); max > 0 && max < limit {
		limit = max
	}
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
