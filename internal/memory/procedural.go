package memory

import (
	"context"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// ProceduralMemory holds learned patterns with confidence and success
// tracking, persisted through the store.
type ProceduralMemory struct {
	store    *store.Store
	embedder *embedding.Service
}

// NewProceduralMemory creates the procedural layer.
func NewProceduralMemory(s *store.Store, embedder *embedding.Service) *ProceduralMemory {
	return &ProceduralMemory{store: s, embedder: embedder}
}

// StorePattern persists a pattern with an embedding of its context and
// solution.
func (pm *ProceduralMemory) StorePattern(ctx context.Context, p *types.Pattern) (types.PatternID, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "StorePattern")
	defer timer.Stop()

	if err := pm.store.StorePattern(ctx, p); err != nil {
		return "", err
	}

	if pm.embedder != nil {
		vec, err := pm.embedder.Embed(ctx, patternText(p))
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("Pattern embedding failed for %s: %v", p.ID, err)
		} else if err := pm.store.StoreEmbedding(ctx, "pattern", p.ID.String(), vec); err != nil {
			return "", err
		}
	}
	return p.ID, nil
}

func patternText(p *types.Pattern) string {
	return p.Name + "\n" + p.Context + "\n" + p.Solution
}

// SearchPatterns recalls patterns by embedding similarity.
func (pm *ProceduralMemory) SearchPatterns(ctx context.Context, queryVec []float32, limit int, minSimilarity float64) ([]store.ScoredPattern, error) {
	return pm.store.SemanticSearchPatterns(ctx, queryVec, limit, minSimilarity)
}

// RecordUse folds an observed outcome into a pattern's success rate.
func (pm *ProceduralMemory) RecordUse(ctx context.Context, id types.PatternID, success bool) error {
	return pm.store.RecordPatternUse(ctx, id, success)
}

// Stats reports layer totals.
func (pm *ProceduralMemory) Stats(ctx context.Context) (ProceduralStats, error) {
	patterns, err := pm.store.ListPatterns(ctx, 0)
	if err != nil {
		return ProceduralStats{}, err
	}
	stats := ProceduralStats{TotalPatterns: len(patterns)}
	for _, p := range patterns {
		stats.AvgConfidence += p.Confidence
	}
	if len(patterns) > 0 {
		stats.AvgConfidence /= float64(len(patterns))
	}
	return stats, nil
}

// ProceduralStats summarizes the procedural layer.
type ProceduralStats struct {
	TotalPatterns int     `json:"total_patterns"`
	AvgConfidence float64 `json:"avg_confidence"`
}
