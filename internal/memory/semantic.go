package memory

import (
	"context"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// SemanticMemory holds the long-term structural knowledge: code units,
// their dependencies and learned concepts, persisted through the store.
type SemanticMemory struct {
	store    *store.Store
	embedder *embedding.Service
}

// NewSemanticMemory creates the semantic layer.
func NewSemanticMemory(s *store.Store, embedder *embedding.Service) *SemanticMemory {
	return &SemanticMemory{store: s, embedder: embedder}
}

// StoreUnit persists a code unit with an embedding of its signature and
// documentation.
func (sm *SemanticMemory) StoreUnit(ctx context.Context, u *types.CodeUnit) (types.CodeUnitID, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "StoreUnit")
	defer timer.Stop()

	if err := sm.store.UpsertCodeUnit(ctx, u); err != nil {
		return "", err
	}

	if sm.embedder != nil {
		vec, err := sm.embedder.Embed(ctx, UnitEmbeddingText(u))
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("Unit embedding failed for %s: %v", u.ID, err)
			if err := sm.store.MarkEmbeddingPending(ctx, []types.CodeUnitID{u.ID}); err != nil {
				return "", err
			}
		} else if err := sm.store.StoreEmbedding(ctx, "code_unit", u.ID.String(), vec); err != nil {
			return "", err
		}
	}
	return u.ID, nil
}

// UnitEmbeddingText selects the embedded representation of a unit:
// signature plus docstring plus a bounded body prefix.
func UnitEmbeddingText(u *types.CodeUnit) string {
	text := u.Signature
	if u.Docstring != "" {
		text += "\n" + u.Docstring
	}
	if u.Body != "" {
		body := u.Body
		if len(body) > 2000 {
			body = body[:2000]
		}
		text += "\n" + body
	}
	return text
}

// SearchUnits recalls code units by embedding similarity.
func (sm *SemanticMemory) SearchUnits(ctx context.Context, wsID types.WorkspaceID, queryVec []float32, limit int, minSimilarity float64) ([]store.ScoredUnit, error) {
	return sm.store.SemanticSearchUnits(ctx, wsID, queryVec, limit, minSimilarity)
}

// StoreDependency materializes an association between two units.
func (sm *SemanticMemory) StoreDependency(ctx context.Context, wsID types.WorkspaceID, d *types.Dependency) error {
	return sm.store.CreateDependency(ctx, wsID, d)
}

// Stats reports layer totals.
func (sm *SemanticMemory) Stats(ctx context.Context, wsID types.WorkspaceID) (SemanticStats, error) {
	count, err := sm.store.CountUnits(ctx, wsID)
	if err != nil {
		return SemanticStats{}, err
	}
	totals, err := sm.store.GraphStats(ctx, wsID)
	if err != nil {
		return SemanticStats{}, err
	}
	return SemanticStats{TotalUnits: count, TotalDependencies: totals.TotalDependencies}, nil
}

// SemanticStats summarizes the semantic layer.
type SemanticStats struct {
	TotalUnits        int `json:"total_units"`
	TotalDependencies int `json:"total_dependencies"`
}
