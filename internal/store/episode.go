package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

const episodeColumns = `id, agent_id, task_type, context, action_taken, outcome, success,
	learned_patterns, importance, last_accessed, timestamp, created_at, updated_at, version`

// StoreEpisode persists an episodic memory record.
func (s *Store) StoreEpisode(ctx context.Context, e *types.Episode) error {
	timer := logging.StartTimer(logging.CategoryStore, "StoreEpisode")
	defer timer.Stop()

	if e.AgentID == "" {
		return types.InvalidInput("episode requires an agent_id")
	}
	if e.ID == "" {
		e.ID = types.NewEpisodeID()
	}
	now := s.clock.Now().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.LastAccessed.IsZero() {
		e.LastAccessed = now
	}
	if e.Importance == 0 {
		e.Importance = 0.5
	}
	e.Version = 1

	return s.pool.WithRetry(ctx, "StoreEpisode", func(h *pool.Handle) error {
		contextJSON, err := json.Marshal(e.Context)
		if err != nil {
			return types.InvalidInput("episode context is not serializable")
		}
		_, err = h.Exec(ctx, `INSERT OR REPLACE INTO episode
			(id, agent_id, task_type, context, action_taken, outcome, success,
			 learned_patterns, importance, last_accessed, timestamp, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			e.ID.String(), e.AgentID, e.TaskType, string(contextJSON), e.ActionTaken, e.Outcome,
			boolInt(e.Success), marshalJSON(e.LearnedPatterns), e.Importance,
			e.LastAccessed.Format(timeLayout), e.Timestamp.Format(timeLayout),
			now.Format(timeLayout), now.Format(timeLayout))
		return err
	})
}

// GetEpisode reads one episode by id.
func (s *Store) GetEpisode(ctx context.Context, id types.EpisodeID) (*types.Episode, error) {
	var e types.Episode
	err := s.pool.WithRetry(ctx, "GetEpisode", func(h *pool.Handle) error {
		row := h.QueryRow(ctx, `SELECT `+episodeColumns+` FROM episode WHERE id = ?`, id.String())
		if err := scanEpisode(row, &e); err != nil {
			if types.IsKind(err, types.ErrNotFound) {
				return types.NotFound("episode", id.String())
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEpisodes returns episodes newest first, optionally filtered by agent.
func (s *Store) ListEpisodes(ctx context.Context, agentID string, limit int) ([]types.Episode, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + episodeColumns + ` FROM episode`
	args := []interface{}{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return s.queryEpisodes(ctx, query, args...)
}

// ListUnconsolidatedEpisodes returns episodes that have not been through
// consolidation yet, oldest first, bounded by batchSize.
func (s *Store) ListUnconsolidatedEpisodes(ctx context.Context, batchSize int) ([]types.Episode, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	return s.queryEpisodes(ctx,
		`SELECT `+episodeColumns+` FROM episode WHERE consolidated = 0 ORDER BY timestamp LIMIT ?`,
		batchSize)
}

// MarkEpisodesConsolidated stamps a batch as processed.
func (s *Store) MarkEpisodesConsolidated(ctx context.Context, ids []types.EpisodeID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.pool.WithRetry(ctx, "MarkEpisodesConsolidated", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			for _, id := range ids {
				if _, err := tx.Exec("UPDATE episode SET consolidated = 1 WHERE id = ?", id.String()); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// TouchEpisode refreshes last_accessed and boosts importance on recall.
func (s *Store) TouchEpisode(ctx context.Context, id types.EpisodeID, boost float64) error {
	return s.pool.WithRetry(ctx, "TouchEpisode", func(h *pool.Handle) error {
		_, err := h.Exec(ctx, `UPDATE episode SET
			last_accessed = ?, importance = MIN(1.0, importance + ?), updated_at = ?
			WHERE id = ?`,
			s.now(), boost, s.now(), id.String())
		return err
	})
}

// DecayEpisodes lowers importance of episodes by log-elapsed time since last
// access. Returns how many rows changed.
func (s *Store) DecayEpisodes(ctx context.Context, rate float64) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "DecayEpisodes")
	defer timer.Stop()

	episodes, err := s.queryEpisodes(ctx, `SELECT `+episodeColumns+` FROM episode`)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	decayed := 0
	err = s.pool.WithRetry(ctx, "DecayEpisodes", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			decayed = 0
			for _, e := range episodes {
				elapsed := now.Sub(e.LastAccessed)
				if elapsed <= time.Hour {
					continue
				}
				// log decay: older memories fade slower in absolute terms.
				factor := rate * logHours(elapsed)
				newImportance := e.Importance - factor
				if newImportance < 0 {
					newImportance = 0
				}
				if newImportance == e.Importance {
					continue
				}
				if _, err := tx.Exec("UPDATE episode SET importance = ?, updated_at = ? WHERE id = ?",
					newImportance, now.Format(timeLayout), e.ID.String()); err != nil {
					return err
				}
				decayed++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return decayed, nil
}

// ForgetEpisodes deletes episodes below the importance threshold whose last
// access is older than minAge. Embeddings and symbol references cascade.
func (s *Store) ForgetEpisodes(ctx context.Context, threshold float64, minAge time.Duration) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ForgetEpisodes")
	defer timer.Stop()

	cutoff := s.clock.Now().UTC().Add(-minAge).Format(timeLayout)
	deleted := 0
	err := s.pool.WithRetry(ctx, "ForgetEpisodes", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`DELETE FROM embedding WHERE entity_kind = 'episode'
				AND entity_id IN (SELECT id FROM episode WHERE importance < ? AND last_accessed < ?)`,
				threshold, cutoff); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM references_symbol
				WHERE episode_id IN (SELECT id FROM episode WHERE importance < ? AND last_accessed < ?)`,
				threshold, cutoff); err != nil {
				return err
			}
			res, err := tx.Exec("DELETE FROM episode WHERE importance < ? AND last_accessed < ?",
				threshold, cutoff)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				deleted = int(n)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	logging.Store("Forgot %d episodes below importance %.2f", deleted, threshold)
	return deleted, nil
}

// LinkEpisodeToUnit records a references_symbol edge for code lineage.
func (s *Store) LinkEpisodeToUnit(ctx context.Context, episodeID types.EpisodeID, unitID types.CodeUnitID) error {
	return s.pool.WithRetry(ctx, "LinkEpisodeToUnit", func(h *pool.Handle) error {
		_, err := h.Exec(ctx, `INSERT INTO references_symbol (id, episode_id, unit_id, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(episode_id, unit_id) DO NOTHING`,
			types.NewDependencyID().String(), episodeID.String(), unitID.String(), s.now())
		return err
	})
}

// CodeLineage returns the episodes that reference a unit, newest first.
func (s *Store) CodeLineage(ctx context.Context, unitID types.CodeUnitID) ([]types.Episode, error) {
	return s.queryEpisodes(ctx, `SELECT `+episodePrefixedColumns(`e`)+` FROM episode e
		JOIN references_symbol rs ON rs.episode_id = e.id
		WHERE rs.unit_id = ?
		ORDER BY e.created_at DESC`, unitID.String())
}

func episodePrefixedColumns(alias string) string {
	return alias + ".id, " + alias + ".agent_id, " + alias + ".task_type, " + alias + ".context, " +
		alias + ".action_taken, " + alias + ".outcome, " + alias + ".success, " +
		alias + ".learned_patterns, " + alias + ".importance, " + alias + ".last_accessed, " +
		alias + ".timestamp, " + alias + ".created_at, " + alias + ".updated_at, " + alias + ".version"
}

func (s *Store) queryEpisodes(ctx context.Context, query string, args ...interface{}) ([]types.Episode, error) {
	var out []types.Episode
	err := s.pool.WithRetry(ctx, "queryEpisodes", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var e types.Episode
			if err := scanEpisode(rows, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanEpisode(row rowScanner, e *types.Episode) error {
	var id, contextJSON, learnedJSON, lastAccessed, timestamp, createdAt, updatedAt string
	var success int
	err := row.Scan(&id, &e.AgentID, &e.TaskType, &contextJSON, &e.ActionTaken, &e.Outcome,
		&success, &learnedJSON, &e.Importance, &lastAccessed, &timestamp,
		&createdAt, &updatedAt, &e.Version)
	if err == sql.ErrNoRows {
		return types.NotFound("episode", "")
	}
	if err != nil {
		return types.Transport(err)
	}
	e.ID = types.EpisodeID(id)
	e.Success = success != 0
	json.Unmarshal([]byte(contextJSON), &e.Context)
	json.Unmarshal([]byte(learnedJSON), &e.LearnedPatterns)
	e.LastAccessed = parseTime(lastAccessed)
	e.Timestamp = parseTime(timestamp)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return nil
}

func logHours(d time.Duration) float64 {
	h := d.Hours()
	if h < 1 {
		return 0
	}
	return math.Log(h)
}
