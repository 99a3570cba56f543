package store

import (
	"context"
	"database/sql"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

// CreateDependency materializes an edge. Self-loops are rejected; an edge
// that already exists for (source, target, kind) is a no-op. Unresolved
// targets persist by name until a resolution sweep fills in the unit id.
func (s *Store) CreateDependency(ctx context.Context, wsID types.WorkspaceID, d *types.Dependency) error {
	timer := logging.StartTimer(logging.CategoryStore, "CreateDependency")
	defer timer.Stop()

	if d.SourceUnitID == "" {
		return types.InvalidInput("dependency requires a source unit")
	}
	if d.TargetUnitID == "" && d.TargetName == "" {
		return types.InvalidInput("dependency requires a target unit or target name")
	}
	if d.SourceUnitID == d.TargetUnitID && d.TargetUnitID != "" {
		return types.InvalidInput("dependency self-loops are forbidden")
	}
	if d.ID == "" {
		d.ID = types.NewDependencyID()
	}

	return s.pool.WithRetry(ctx, "CreateDependency", func(h *pool.Handle) error {
		_, err := h.Exec(ctx, `INSERT INTO depends_on
			(id, workspace_id, source_unit_id, target_unit_id, target_name, kind,
			 is_direct, is_runtime, is_dev, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_unit_id, target_unit_id, target_name, kind) DO NOTHING`,
			d.ID.String(), wsID.String(), d.SourceUnitID.String(), d.TargetUnitID.String(),
			d.TargetName, string(d.Kind),
			boolInt(d.IsDirect), boolInt(d.IsRuntime), boolInt(d.IsDev),
			marshalJSON(d.Metadata), s.now())
		return err
	})
}

// depEdge is the internal row shape used by graph traversals.
type depEdge struct {
	Source types.CodeUnitID
	Target types.CodeUnitID
	Name   string
	Kind   types.DependencyKind
}

// edgesBySource loads all resolved edges of a workspace grouped by source,
// optionally restricted to one kind.
func (s *Store) edgesBySource(ctx context.Context, wsID types.WorkspaceID, kind types.DependencyKind) (map[types.CodeUnitID][]depEdge, error) {
	query := `SELECT source_unit_id, target_unit_id, target_name, kind FROM depends_on
		WHERE workspace_id = ? AND target_unit_id != ''`
	args := []interface{}{wsID.String()}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}

	edges := make(map[types.CodeUnitID][]depEdge)
	err := s.pool.WithRetry(ctx, "edgesBySource", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for k := range edges {
			delete(edges, k)
		}
		for rows.Next() {
			var src, tgt, name, k string
			if err := rows.Scan(&src, &tgt, &name, &k); err != nil {
				return types.Transport(err)
			}
			e := depEdge{
				Source: types.CodeUnitID(src),
				Target: types.CodeUnitID(tgt),
				Name:   name,
				Kind:   types.DependencyKind(k),
			}
			edges[e.Source] = append(edges[e.Source], e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// ListDependencies returns the outgoing edges of one unit, resolved or not.
func (s *Store) ListDependencies(ctx context.Context, unitID types.CodeUnitID) ([]types.Dependency, error) {
	var out []types.Dependency
	err := s.pool.WithRetry(ctx, "ListDependencies", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT id, source_unit_id, target_unit_id, target_name, kind,
			is_direct, is_runtime, is_dev, created_at
			FROM depends_on WHERE source_unit_id = ?`, unitID.String())
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			d, err := scanDependency(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListDependents returns the incoming edges of one unit.
func (s *Store) ListDependents(ctx context.Context, unitID types.CodeUnitID) ([]types.Dependency, error) {
	var out []types.Dependency
	err := s.pool.WithRetry(ctx, "ListDependents", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT id, source_unit_id, target_unit_id, target_name, kind,
			is_direct, is_runtime, is_dev, created_at
			FROM depends_on WHERE target_unit_id = ?`, unitID.String())
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			d, err := scanDependency(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanDependency(row rowScanner) (types.Dependency, error) {
	var d types.Dependency
	var id, src, tgt, kind, createdAt string
	var isDirect, isRuntime, isDev int
	if err := row.Scan(&id, &src, &tgt, &d.TargetName, &kind, &isDirect, &isRuntime, &isDev, &createdAt); err != nil {
		return d, types.Transport(err)
	}
	d.ID = types.DependencyID(id)
	d.SourceUnitID = types.CodeUnitID(src)
	d.TargetUnitID = types.CodeUnitID(tgt)
	d.Kind = types.DependencyKind(kind)
	d.IsDirect = isDirect != 0
	d.IsRuntime = isRuntime != 0
	d.IsDev = isDev != 0
	d.CreatedAt = parseTime(createdAt)
	return d, nil
}

// ResolveDanglingDependencies sweeps unresolved edges, matching target names
// against the workspace's qualified and bare unit names. Consumers may
// observe unresolved edges between ingest and this sweep.
func (s *Store) ResolveDanglingDependencies(ctx context.Context, wsID types.WorkspaceID) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ResolveDanglingDependencies")
	defer timer.Stop()

	resolved := 0
	err := s.pool.WithRetry(ctx, "ResolveDanglingDependencies", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			resolved = 0

			// Exact qualified-name matches first, then unambiguous bare names.
			res, err := tx.Exec(`UPDATE depends_on SET target_unit_id = (
					SELECT cu.id FROM code_unit cu
					WHERE cu.workspace_id = depends_on.workspace_id
					  AND cu.qualified_name = depends_on.target_name
					  AND cu.deleted = 0
					  AND cu.id != depends_on.source_unit_id
					LIMIT 1)
				WHERE workspace_id = ? AND target_unit_id = ''
				  AND EXISTS (
					SELECT 1 FROM code_unit cu
					WHERE cu.workspace_id = depends_on.workspace_id
					  AND cu.qualified_name = depends_on.target_name
					  AND cu.deleted = 0
					  AND cu.id != depends_on.source_unit_id)`,
				wsID.String())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				resolved += int(n)
			}

			res, err = tx.Exec(`UPDATE depends_on SET target_unit_id = (
					SELECT cu.id FROM code_unit cu
					WHERE cu.workspace_id = depends_on.workspace_id
					  AND cu.name = depends_on.target_name
					  AND cu.deleted = 0
					  AND cu.id != depends_on.source_unit_id
					LIMIT 1)
				WHERE workspace_id = ? AND target_unit_id = ''
				  AND 1 = (SELECT COUNT(*) FROM code_unit cu
					WHERE cu.workspace_id = depends_on.workspace_id
					  AND cu.name = depends_on.target_name
					  AND cu.deleted = 0)`,
				wsID.String())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				resolved += int(n)
			}

			// A sweep can surface a self-loop when a unit's bare name matched
			// itself; those edges are invalid and dropped.
			if _, err := tx.Exec(`DELETE FROM depends_on
				WHERE workspace_id = ? AND source_unit_id = target_unit_id`, wsID.String()); err != nil {
				return err
			}

			// Resolution can also converge two name-keyed rows onto the same
			// (source, target, kind); keep one.
			if _, err := tx.Exec(`DELETE FROM depends_on
				WHERE workspace_id = ? AND target_unit_id != '' AND rowid NOT IN (
					SELECT MIN(rowid) FROM depends_on
					WHERE workspace_id = ? AND target_unit_id != ''
					GROUP BY source_unit_id, target_unit_id, kind)`,
				wsID.String(), wsID.String()); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	logging.StoreDebug("Resolved %d dangling dependencies in workspace %s", resolved, wsID)
	return resolved, nil
}
