package memory

import (
	"context"
	"time"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// recallBoost is the importance bump an episode receives on recall.
const recallBoost = 0.05

// forgetMinAge protects recently-touched episodes from forgetting.
const forgetMinAge = 7 * 24 * time.Hour

// EpisodicMemory persists agent episodes with embeddings and recalls them by
// similarity. Importance decays over time and is boosted on recall.
type EpisodicMemory struct {
	store    *store.Store
	embedder *embedding.Service
}

// NewEpisodicMemory creates the episodic layer.
func NewEpisodicMemory(s *store.Store, embedder *embedding.Service) *EpisodicMemory {
	return &EpisodicMemory{store: s, embedder: embedder}
}

// StoreEpisode persists an episode and attaches an embedding of its textual
// trace. Embedding failure does not lose the episode: it persists without an
// embedding, and RetrieveSimilar, which searches embeddings only, does not
// return it.
func (em *EpisodicMemory) StoreEpisode(ctx context.Context, e *types.Episode) (types.EpisodeID, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "StoreEpisode")
	defer timer.Stop()

	if err := em.store.StoreEpisode(ctx, e); err != nil {
		return "", err
	}

	if em.embedder != nil {
		vec, err := em.embedder.Embed(ctx, episodeText(e))
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("Episode embedding failed for %s: %v", e.ID, err)
		} else if err := em.store.StoreEmbedding(ctx, "episode", e.ID.String(), vec); err != nil {
			return "", err
		}
	}

	for _, unitID := range referencedUnits(e) {
		if err := em.store.LinkEpisodeToUnit(ctx, e.ID, unitID); err != nil {
			return "", err
		}
	}
	return e.ID, nil
}

// episodeText is the embedded representation of an episode.
func episodeText(e *types.Episode) string {
	text := e.TaskType + "\n" + e.ActionTaken + "\n" + e.Outcome
	if !e.Context.IsNull() {
		text += "\n" + e.Context.String()
	}
	return text
}

// referencedUnits pulls code-unit references out of the opaque context under
// the conventional "unit_ids" key.
func referencedUnits(e *types.Episode) []types.CodeUnitID {
	arr, ok := e.Context.Get("unit_ids")
	if !ok {
		return nil
	}
	values, ok := arr.AsArray()
	if !ok {
		return nil
	}
	var out []types.CodeUnitID
	for _, v := range values {
		if s, ok := v.AsString(); ok && s != "" {
			out = append(out, types.CodeUnitID(s))
		}
	}
	return out
}

// RecallQuery filters episodic recall.
type RecallQuery struct {
	Text          string
	AgentID       string
	TaskType      string
	Limit         int
	MinSimilarity float64
}

// RetrieveSimilar recalls episodes by cosine similarity over embeddings with
// metadata filters. Recalled episodes get their importance boosted.
func (em *EpisodicMemory) RetrieveSimilar(ctx context.Context, q RecallQuery, queryVec []float32) ([]store.ScoredEpisode, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "RetrieveSimilar")
	defer timer.Stop()

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	scored, err := em.store.SemanticSearchEpisodes(ctx, queryVec, limit*4, q.MinSimilarity)
	if err != nil {
		return nil, err
	}

	var out []store.ScoredEpisode
	for _, se := range scored {
		if q.AgentID != "" && se.Episode.AgentID != q.AgentID {
			continue
		}
		if q.TaskType != "" && se.Episode.TaskType != q.TaskType {
			continue
		}
		out = append(out, se)
		if len(out) >= limit {
			break
		}
	}

	for _, se := range out {
		if err := em.store.TouchEpisode(ctx, se.Episode.ID, recallBoost); err != nil {
			logging.MemoryDebug("Recall boost failed for %s: %v", se.Episode.ID, err)
		}
	}
	return out, nil
}

// ForgetUnimportant deletes episodes below the importance threshold that
// have not been accessed recently. Returns the deleted count.
func (em *EpisodicMemory) ForgetUnimportant(ctx context.Context, threshold float64) (int, error) {
	return em.store.ForgetEpisodes(ctx, threshold, forgetMinAge)
}

// Decay lowers importance of untouched episodes per log elapsed time.
func (em *EpisodicMemory) Decay(ctx context.Context, rate float64) (int, error) {
	return em.store.DecayEpisodes(ctx, rate)
}

// Stats reports layer totals.
func (em *EpisodicMemory) Stats(ctx context.Context) (EpisodicStats, error) {
	episodes, err := em.store.ListEpisodes(ctx, "", 0)
	if err != nil {
		return EpisodicStats{}, err
	}
	stats := EpisodicStats{TotalEpisodes: len(episodes)}
	for _, e := range episodes {
		stats.AvgImportance += e.Importance
		if e.Success {
			stats.Successes++
		}
	}
	if len(episodes) > 0 {
		stats.AvgImportance /= float64(len(episodes))
	}
	return stats, nil
}

// EpisodicStats summarizes the episodic layer.
type EpisodicStats struct {
	TotalEpisodes int     `json:"total_episodes"`
	Successes     int     `json:"successes"`
	AvgImportance float64 `json:"avg_importance"`
}
