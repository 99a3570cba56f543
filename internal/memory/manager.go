package memory

import (
	"context"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// Config bounds the manager's layers.
type Config struct {
	WorkingMaxItems int
	WorkingMaxBytes int
	Consolidation   ConsolidationConfig
}

// DefaultConfig bounds the working layer at 1000 items / 100MB.
func DefaultConfig() Config {
	return Config{
		WorkingMaxItems: 1000,
		WorkingMaxBytes: 100 * 1024 * 1024,
		Consolidation:   DefaultConsolidationConfig(),
	}
}

// Manager coordinates the four memory layers and the consolidator.
type Manager struct {
	working      *WorkingMemory
	episodic     *EpisodicMemory
	semantic     *SemanticMemory
	procedural   *ProceduralMemory
	consolidator *Consolidator
}

// NewManager wires the layers over a store and embedding service.
func NewManager(s *store.Store, embedder *embedding.Service, cfg Config, clock types.Clock) *Manager {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if cfg.WorkingMaxItems <= 0 {
		cfg.WorkingMaxItems = 1000
	}
	if cfg.WorkingMaxBytes <= 0 {
		cfg.WorkingMaxBytes = 100 * 1024 * 1024
	}

	episodic := NewEpisodicMemory(s, embedder)
	semantic := NewSemanticMemory(s, embedder)
	procedural := NewProceduralMemory(s, embedder)

	return &Manager{
		working:      NewWorkingMemory(cfg.WorkingMaxItems, cfg.WorkingMaxBytes, clock),
		episodic:     episodic,
		semantic:     semantic,
		procedural:   procedural,
		consolidator: NewConsolidator(episodic, semantic, procedural, s, cfg.Consolidation, clock),
	}
}

// Working exposes the working layer.
func (m *Manager) Working() *WorkingMemory { return m.working }

// Episodic exposes the episodic layer.
func (m *Manager) Episodic() *EpisodicMemory { return m.episodic }

// Semantic exposes the semantic layer.
func (m *Manager) Semantic() *SemanticMemory { return m.semantic }

// Procedural exposes the procedural layer.
func (m *Manager) Procedural() *ProceduralMemory { return m.procedural }

// RememberEpisode stores a new episode.
func (m *Manager) RememberEpisode(ctx context.Context, e *types.Episode) (types.EpisodeID, error) {
	logging.MemoryDebug("Remembering episode for agent %s", e.AgentID)
	return m.episodic.StoreEpisode(ctx, e)
}

// RememberPattern stores a learned pattern.
func (m *Manager) RememberPattern(ctx context.Context, p *types.Pattern) (types.PatternID, error) {
	logging.MemoryDebug("Remembering pattern %s", p.Name)
	return m.procedural.StorePattern(ctx, p)
}

// RecallEpisodes retrieves similar episodes.
func (m *Manager) RecallEpisodes(ctx context.Context, q RecallQuery, queryVec []float32) ([]store.ScoredEpisode, error) {
	return m.episodic.RetrieveSimilar(ctx, q, queryVec)
}

// RecallPatterns retrieves similar patterns.
func (m *Manager) RecallPatterns(ctx context.Context, queryVec []float32, limit int, minSimilarity float64) ([]store.ScoredPattern, error) {
	return m.procedural.SearchPatterns(ctx, queryVec, limit, minSimilarity)
}

// Associate links two units in semantic memory.
func (m *Manager) Associate(ctx context.Context, wsID types.WorkspaceID, source, target types.CodeUnitID, kind types.DependencyKind) error {
	return m.semantic.StoreDependency(ctx, wsID, &types.Dependency{
		SourceUnitID: source,
		TargetUnitID: target,
		Kind:         kind,
		IsDirect:     true,
	})
}

// Forget removes low-importance stale episodes; returns the deleted count.
func (m *Manager) Forget(ctx context.Context, threshold float64) (int, error) {
	return m.episodic.ForgetUnimportant(ctx, threshold)
}

// Consolidate runs a full dream pass.
func (m *Manager) Consolidate(ctx context.Context) (ConsolidationReport, error) {
	return m.consolidator.Dream(ctx)
}

// ConsolidateIncremental runs one bounded consolidation batch.
func (m *Manager) ConsolidateIncremental(ctx context.Context, batchSize int) (ConsolidationReport, error) {
	return m.consolidator.ConsolidateIncremental(ctx, batchSize)
}

// Stats aggregates per-layer statistics.
type Stats struct {
	Working    WorkingStats    `json:"working"`
	Episodic   EpisodicStats   `json:"episodic"`
	Semantic   SemanticStats   `json:"semantic"`
	Procedural ProceduralStats `json:"procedural"`
}

// Stats collects statistics across all layers.
func (m *Manager) Stats(ctx context.Context, wsID types.WorkspaceID) (Stats, error) {
	var stats Stats
	var err error

	stats.Working = m.working.Stats()
	if stats.Episodic, err = m.episodic.Stats(ctx); err != nil {
		return stats, err
	}
	if stats.Semantic, err = m.semantic.Stats(ctx, wsID); err != nil {
		return stats, err
	}
	if stats.Procedural, err = m.procedural.Stats(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}
