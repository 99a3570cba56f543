package store

import (
	"context"
	"database/sql"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

const patternColumns = `id, name, pattern_type, context, solution, confidence,
	usage_count, success_rate, created_at, updated_at, version`

// StorePattern persists a procedural pattern.
func (s *Store) StorePattern(ctx context.Context, p *types.Pattern) error {
	timer := logging.StartTimer(logging.CategoryStore, "StorePattern")
	defer timer.Stop()

	if p.Name == "" {
		return types.InvalidInput("pattern requires a name")
	}
	if p.ID == "" {
		p.ID = types.NewPatternID()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	now := s.now()

	return s.pool.WithRetry(ctx, "StorePattern", func(h *pool.Handle) error {
		_, err := h.Exec(ctx, `INSERT INTO pattern
			(id, name, pattern_type, context, solution, confidence, usage_count, success_rate,
			 created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, pattern_type = excluded.pattern_type,
				context = excluded.context, solution = excluded.solution,
				confidence = excluded.confidence, usage_count = excluded.usage_count,
				success_rate = excluded.success_rate,
				updated_at = excluded.updated_at, version = pattern.version + 1`,
			p.ID.String(), p.Name, string(p.PatternType), p.Context, p.Solution,
			p.Confidence, p.UsageCount, p.SuccessRate, now, now, p.Version)
		return err
	})
}

// GetPattern reads one pattern by id.
func (s *Store) GetPattern(ctx context.Context, id types.PatternID) (*types.Pattern, error) {
	var p types.Pattern
	err := s.pool.WithRetry(ctx, "GetPattern", func(h *pool.Handle) error {
		row := h.QueryRow(ctx, `SELECT `+patternColumns+` FROM pattern WHERE id = ?`, id.String())
		if err := scanPattern(row, &p); err != nil {
			if types.IsKind(err, types.ErrNotFound) {
				return types.NotFound("pattern", id.String())
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPatterns returns all patterns, highest confidence first.
func (s *Store) ListPatterns(ctx context.Context, limit int) ([]types.Pattern, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []types.Pattern
	err := s.pool.WithRetry(ctx, "ListPatterns", func(h *pool.Handle) error {
		rows, err := h.Query(ctx,
			`SELECT `+patternColumns+` FROM pattern ORDER BY confidence DESC, name LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var p types.Pattern
			if err := scanPattern(rows, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordPatternUse bumps usage counters and folds an observed outcome into
// the running success rate.
func (s *Store) RecordPatternUse(ctx context.Context, id types.PatternID, success bool) error {
	return s.pool.WithRetry(ctx, "RecordPatternUse", func(h *pool.Handle) error {
		outcome := 0.0
		if success {
			outcome = 1.0
		}
		_, err := h.Exec(ctx, `UPDATE pattern SET
			success_rate = (success_rate * usage_count + ?) / (usage_count + 1),
			usage_count = usage_count + 1,
			updated_at = ?
			WHERE id = ?`,
			outcome, s.now(), id.String())
		return err
	})
}

// DeletePattern removes a pattern and its embedding.
func (s *Store) DeletePattern(ctx context.Context, id types.PatternID) error {
	return s.pool.WithRetry(ctx, "DeletePattern", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec("DELETE FROM embedding WHERE entity_kind = 'pattern' AND entity_id = ?", id.String()); err != nil {
				return err
			}
			res, err := tx.Exec("DELETE FROM pattern WHERE id = ?", id.String())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return types.NotFound("pattern", id.String())
			}
			return nil
		})
	})
}

func scanPattern(row rowScanner, p *types.Pattern) error {
	var id, createdAt, updatedAt string
	err := row.Scan(&id, &p.Name, (*string)(&p.PatternType), &p.Context, &p.Solution,
		&p.Confidence, &p.UsageCount, &p.SuccessRate, &createdAt, &updatedAt, &p.Version)
	if err == sql.ErrNoRows {
		return types.NotFound("pattern", "")
	}
	if err != nil {
		return types.Transport(err)
	}
	p.ID = types.PatternID(id)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return nil
}
