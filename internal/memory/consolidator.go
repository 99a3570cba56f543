package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// ConsolidationConfig tunes episode-to-pattern promotion.
type ConsolidationConfig struct {
	// BatchSize bounds an incremental pass.
	BatchSize int
	// CoOccurrenceMin is how many similar episodes with the same outcome
	// promote into a pattern.
	CoOccurrenceMin int
	// SimilarityThreshold groups episodes during extraction.
	SimilarityThreshold float64
	// MergeThreshold deduplicates patterns during dreaming.
	MergeThreshold float64
	// DecayRate scales importance decay per log-hour.
	DecayRate float64
}

// DefaultConsolidationConfig returns the documented defaults. The 0.95
// merge threshold mirrors the dreaming placeholder and stays configurable.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		BatchSize:           100,
		CoOccurrenceMin:     3,
		SimilarityThreshold: 0.7,
		MergeThreshold:      0.95,
		DecayRate:           0.01,
	}
}

// ConsolidationReport summarizes one consolidation run.
type ConsolidationReport struct {
	EpisodesProcessed     int   `json:"episodes_processed"`
	PatternsExtracted     int   `json:"patterns_extracted"`
	MemoriesDecayed       int   `json:"memories_decayed"`
	DuplicatesMerged      int   `json:"duplicates_merged"`
	KnowledgeLinksCreated int   `json:"knowledge_links_created"`
	DurationMs            int64 `json:"duration_ms"`
}

// Consolidator promotes recurring episodes into patterns and decays stale
// memories. Layer operations always run episodic, then semantic, then
// procedural; that fixed order is the lock discipline.
type Consolidator struct {
	episodic   *EpisodicMemory
	semantic   *SemanticMemory
	procedural *ProceduralMemory
	store      *store.Store
	cfg        ConsolidationConfig
	clock      types.Clock
}

// NewConsolidator wires the consolidator over the three persistent layers.
func NewConsolidator(ep *EpisodicMemory, sem *SemanticMemory, proc *ProceduralMemory, s *store.Store, cfg ConsolidationConfig, clock types.Clock) *Consolidator {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.CoOccurrenceMin < 2 {
		cfg.CoOccurrenceMin = 2
	}
	return &Consolidator{
		episodic: ep, semantic: sem, procedural: proc,
		store: s, cfg: cfg, clock: clock,
	}
}

// ConsolidateIncremental scans unconsolidated episodes in one batch,
// promoting clusters of similar same-outcome episodes into patterns.
func (c *Consolidator) ConsolidateIncremental(ctx context.Context, batchSize int) (ConsolidationReport, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "ConsolidateIncremental")
	defer timer.Stop()

	start := c.clock.Now()
	var report ConsolidationReport

	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	episodes, err := c.store.ListUnconsolidatedEpisodes(ctx, batchSize)
	if err != nil {
		return report, err
	}
	if len(episodes) == 0 {
		report.DurationMs = c.clock.Now().Sub(start).Milliseconds()
		return report, nil
	}
	report.EpisodesProcessed = len(episodes)

	clusters := c.clusterEpisodes(ctx, episodes)

	var processed []types.EpisodeID
	for _, cluster := range clusters {
		processed = append(processed, idsOf(cluster)...)
		if len(cluster) < c.cfg.CoOccurrenceMin {
			continue
		}

		// All members share an outcome by construction; confidence is the
		// cluster's share of the batch.
		first := cluster[0]
		pattern := &types.Pattern{
			Name:        fmt.Sprintf("%s:%s", first.TaskType, outcomeLabel(first.Success)),
			PatternType: types.PatternWorkflow,
			Context:     first.TaskType,
			Solution:    first.ActionTaken,
			Confidence:  float64(len(cluster)) / float64(len(episodes)),
			UsageCount:  int64(len(cluster)),
			SuccessRate: successRate(cluster),
		}
		if _, err := c.procedural.StorePattern(ctx, pattern); err != nil {
			return report, err
		}
		report.PatternsExtracted++

		// Count the code units the promoted episodes reference.
		for _, e := range cluster {
			report.KnowledgeLinksCreated += len(referencedUnits(&e))
		}
	}

	if err := c.store.MarkEpisodesConsolidated(ctx, processed); err != nil {
		return report, err
	}

	report.DurationMs = c.clock.Now().Sub(start).Milliseconds()
	logging.Memory("Incremental consolidation: %d episodes, %d patterns", report.EpisodesProcessed, report.PatternsExtracted)
	return report, nil
}

// Dream runs a full consolidation: every unconsolidated episode, duplicate
// pattern merging and memory decay.
func (c *Consolidator) Dream(ctx context.Context) (ConsolidationReport, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Dream")
	defer timer.Stop()

	start := c.clock.Now()
	var total ConsolidationReport

	for {
		report, err := c.ConsolidateIncremental(ctx, c.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		total.EpisodesProcessed += report.EpisodesProcessed
		total.PatternsExtracted += report.PatternsExtracted
		total.KnowledgeLinksCreated += report.KnowledgeLinksCreated
		if report.EpisodesProcessed == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return total, types.Cancelled()
		default:
		}
	}

	merged, err := c.mergeDuplicatePatterns(ctx)
	if err != nil {
		return total, err
	}
	total.DuplicatesMerged = merged

	decayed, err := c.episodic.Decay(ctx, c.cfg.DecayRate)
	if err != nil {
		return total, err
	}
	total.MemoriesDecayed = decayed

	total.DurationMs = c.clock.Now().Sub(start).Milliseconds()
	logging.Memory("Dream complete: %d episodes, %d patterns, %d merged, %d decayed",
		total.EpisodesProcessed, total.PatternsExtracted, total.DuplicatesMerged, total.MemoriesDecayed)
	return total, nil
}

// clusterEpisodes groups a batch greedily by embedding similarity and shared
// outcome. Without embeddings, episodes group by task type and outcome.
func (c *Consolidator) clusterEpisodes(ctx context.Context, episodes []types.Episode) [][]types.Episode {
	vectors := make(map[types.EpisodeID][]float32, len(episodes))
	for _, e := range episodes {
		if vec, err := c.store.GetEmbedding(ctx, "episode", e.ID.String()); err == nil {
			vectors[e.ID] = vec
		}
	}

	var clusters [][]types.Episode
	assigned := make(map[types.EpisodeID]bool, len(episodes))

	for i, e := range episodes {
		if assigned[e.ID] {
			continue
		}
		cluster := []types.Episode{e}
		assigned[e.ID] = true

		for _, other := range episodes[i+1:] {
			if assigned[other.ID] || other.Success != e.Success {
				continue
			}

			similar := false
			if ev, ok := vectors[e.ID]; ok {
				if ov, ok := vectors[other.ID]; ok {
					similar = embedding.Cosine(ev, ov) >= c.cfg.SimilarityThreshold
				}
			} else {
				similar = other.TaskType == e.TaskType
			}

			if similar {
				cluster = append(cluster, other)
				assigned[other.ID] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// mergeDuplicatePatterns folds patterns whose embeddings are nearly
// identical (cosine >= MergeThreshold) into the higher-confidence one.
func (c *Consolidator) mergeDuplicatePatterns(ctx context.Context) (int, error) {
	patterns, err := c.store.ListPatterns(ctx, 0)
	if err != nil {
		return 0, err
	}

	vectors := make(map[types.PatternID][]float32, len(patterns))
	for _, p := range patterns {
		if vec, err := c.store.GetEmbedding(ctx, "pattern", p.ID.String()); err == nil {
			vectors[p.ID] = vec
		}
	}

	merged := 0
	removed := map[types.PatternID]bool{}
	for i := 0; i < len(patterns); i++ {
		if removed[patterns[i].ID] {
			continue
		}
		keep := patterns[i]
		for j := i + 1; j < len(patterns); j++ {
			dup := patterns[j]
			if removed[dup.ID] {
				continue
			}

			isDup := false
			if kv, ok := vectors[keep.ID]; ok {
				if dv, ok := vectors[dup.ID]; ok {
					isDup = embedding.Cosine(kv, dv) >= c.cfg.MergeThreshold
				}
			} else {
				isDup = keep.Name == dup.Name && keep.Context == dup.Context
			}
			if !isDup {
				continue
			}

			// ListPatterns orders by confidence, so keep survives.
			keep.UsageCount += dup.UsageCount
			if dup.Confidence > keep.Confidence {
				keep.Confidence = dup.Confidence
			}
			if err := c.store.StorePattern(ctx, &keep); err != nil {
				return merged, err
			}
			if err := c.store.DeletePattern(ctx, dup.ID); err != nil {
				return merged, err
			}
			removed[dup.ID] = true
			merged++
		}
	}
	return merged, nil
}

func idsOf(episodes []types.Episode) []types.EpisodeID {
	ids := make([]types.EpisodeID, len(episodes))
	for i, e := range episodes {
		ids[i] = e.ID
	}
	return ids
}

func successRate(episodes []types.Episode) float64 {
	if len(episodes) == 0 {
		return 0
	}
	succ := 0
	for _, e := range episodes {
		if e.Success {
			succ++
		}
	}
	return float64(succ) / float64(len(episodes))
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Schedule runs periodic incremental consolidation until the context ends.
// Caller-driven consolidation stays available alongside.
func (c *Consolidator) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ConsolidateIncremental(ctx, c.cfg.BatchSize); err != nil {
				logging.Get(logging.CategoryMemory).Warn("Scheduled consolidation failed: %v", err)
			}
		}
	}
}
