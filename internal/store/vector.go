package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

// =============================================================================
// EMBEDDING STORAGE & SEMANTIC SEARCH
// =============================================================================

// Embeddings attach weakly to their owning entity by (kind, id); deleting
// the owner deletes the embedding (see the cascade paths in workspace.go and
// episode.go).

// serializeVector packs a float32 vector into the little-endian blob format
// sqlite-vec expects; the brute-force path reads the same blobs back.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// StoreEmbedding attaches a vector to an entity. With sqlite-vec available
// the vector also lands in the ANN index.
func (s *Store) StoreEmbedding(ctx context.Context, entityKind string, entityID string, vec []float32) error {
	timer := logging.StartTimer(logging.CategoryStore, "StoreEmbedding")
	defer timer.Stop()

	if len(vec) == 0 {
		return types.InvalidInput("embedding vector must not be empty")
	}

	blob := serializeVector(vec)
	now := s.now()

	return s.pool.WithRetry(ctx, "StoreEmbedding", func(h *pool.Handle) error {
		if _, err := h.Exec(ctx, `INSERT OR REPLACE INTO embedding
			(entity_kind, entity_id, dim, vector, created_at) VALUES (?, ?, ?, ?, ?)`,
			entityKind, entityID, len(vec), blob, now); err != nil {
			return err
		}

		if s.vectorExt {
			if err := s.ensureVecIndex(ctx, h, len(vec)); err != nil {
				logging.StoreDebug("vec_index unavailable, falling back to brute force: %v", err)
				s.vectorExt = false
				return nil
			}
			if _, err := h.Exec(ctx,
				"DELETE FROM vec_index WHERE entity_kind = ? AND entity_id = ?",
				entityKind, entityID); err != nil {
				return err
			}
			if _, err := h.Exec(ctx,
				"INSERT INTO vec_index (embedding, entity_kind, entity_id) VALUES (?, ?, ?)",
				blob, entityKind, entityID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ensureVecIndex(ctx context.Context, h *pool.Handle, dim int) error {
	if s.vectorDim == dim {
		return nil
	}
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d], entity_kind TEXT, entity_id TEXT)",
		dim)
	if _, err := h.Exec(ctx, stmt); err != nil {
		return err
	}
	s.vectorDim = dim
	return nil
}

// GetEmbedding reads the vector attached to an entity.
func (s *Store) GetEmbedding(ctx context.Context, entityKind, entityID string) ([]float32, error) {
	var blob []byte
	err := s.pool.WithRetry(ctx, "GetEmbedding", func(h *pool.Handle) error {
		return h.QueryRow(ctx,
			"SELECT vector FROM embedding WHERE entity_kind = ? AND entity_id = ?",
			entityKind, entityID).Scan(&blob)
	})
	if err != nil {
		return nil, types.NotFound("embedding", entityKind+":"+entityID)
	}
	return deserializeVector(blob), nil
}

// VectorMatch is one semantic search hit.
type VectorMatch struct {
	EntityKind string  `json:"entity_kind"`
	EntityID   string  `json:"entity_id"`
	Similarity float64 `json:"similarity"`
}

// SemanticSearch ranks stored embeddings of a kind by cosine similarity to
// the query vector. Empty kind searches across every entity kind.
func (s *Store) SemanticSearch(ctx context.Context, entityKind string, queryVec []float32, limit int, minSimilarity float64) ([]VectorMatch, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SemanticSearch")
	defer timer.Stop()

	if len(queryVec) == 0 {
		return nil, types.InvalidInput("query vector must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	query := "SELECT entity_kind, entity_id, vector FROM embedding"
	args := []interface{}{}
	if entityKind != "" {
		query += " WHERE entity_kind = ?"
		args = append(args, entityKind)
	}

	var matches []VectorMatch
	err := s.pool.WithRetry(ctx, "SemanticSearch", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		matches = matches[:0]
		for rows.Next() {
			var kind, id string
			var blob []byte
			if err := rows.Scan(&kind, &id, &blob); err != nil {
				return types.Transport(err)
			}
			sim := embedding.Cosine(queryVec, deserializeVector(blob))
			if sim < minSimilarity {
				continue
			}
			matches = append(matches, VectorMatch{EntityKind: kind, EntityID: id, Similarity: sim})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SemanticSearchUnits restricts a semantic search to one workspace's code
// units and hydrates the hits.
func (s *Store) SemanticSearchUnits(ctx context.Context, wsID types.WorkspaceID, queryVec []float32, limit int, minSimilarity float64) ([]ScoredUnit, error) {
	// Over-fetch so the workspace filter doesn't starve the limit.
	matches, err := s.SemanticSearch(ctx, "code_unit", queryVec, limit*4, minSimilarity)
	if err != nil {
		return nil, err
	}

	var out []ScoredUnit
	for _, m := range matches {
		unit, err := s.GetCodeUnit(ctx, types.CodeUnitID(m.EntityID))
		if err != nil {
			continue // embedding may outlive a unit deleted mid-search
		}
		if wsID != "" && unit.WorkspaceID != wsID {
			continue
		}
		out = append(out, ScoredUnit{Unit: *unit, Similarity: m.Similarity})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ScoredUnit pairs a unit with its similarity score.
type ScoredUnit struct {
	Unit       types.CodeUnit `json:"unit"`
	Similarity float64        `json:"similarity"`
}

// ScoredEpisode pairs an episode with its similarity score.
type ScoredEpisode struct {
	Episode    types.Episode `json:"episode"`
	Similarity float64       `json:"similarity"`
}

// ScoredPattern pairs a pattern with its similarity score.
type ScoredPattern struct {
	Pattern    types.Pattern `json:"pattern"`
	Similarity float64       `json:"similarity"`
}

// SemanticSearchEpisodes ranks episodes by similarity to the query vector.
func (s *Store) SemanticSearchEpisodes(ctx context.Context, queryVec []float32, limit int, minSimilarity float64) ([]ScoredEpisode, error) {
	matches, err := s.SemanticSearch(ctx, "episode", queryVec, limit, minSimilarity)
	if err != nil {
		return nil, err
	}
	var out []ScoredEpisode
	for _, m := range matches {
		e, err := s.GetEpisode(ctx, types.EpisodeID(m.EntityID))
		if err != nil {
			continue
		}
		out = append(out, ScoredEpisode{Episode: *e, Similarity: m.Similarity})
	}
	return out, nil
}

// SemanticSearchPatterns ranks patterns by similarity to the query vector.
func (s *Store) SemanticSearchPatterns(ctx context.Context, queryVec []float32, limit int, minSimilarity float64) ([]ScoredPattern, error) {
	matches, err := s.SemanticSearch(ctx, "pattern", queryVec, limit, minSimilarity)
	if err != nil {
		return nil, err
	}
	var out []ScoredPattern
	for _, m := range matches {
		p, err := s.GetPattern(ctx, types.PatternID(m.EntityID))
		if err != nil {
			continue
		}
		out = append(out, ScoredPattern{Pattern: *p, Similarity: m.Similarity})
	}
	return out, nil
}
