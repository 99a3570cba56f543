package store

import (
	"context"
	"database/sql"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

// UpsertWorkspace inserts or updates a workspace. A new workspace gets a
// fresh id when none is set; (namespace, name) stays unique.
func (s *Store) UpsertWorkspace(ctx context.Context, ws *types.Workspace) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertWorkspace")
	defer timer.Stop()

	if ws.Name == "" {
		return types.InvalidInput("workspace name must not be empty")
	}
	if ws.ID == "" {
		ws.ID = types.NewWorkspaceID()
	}
	now := s.now()

	return s.pool.WithRetry(ctx, "UpsertWorkspace", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			var existingID string
			var version int64
			err := tx.QueryRow(
				"SELECT id, version FROM workspace WHERE namespace = ? AND name = ?",
				ws.Namespace, ws.Name,
			).Scan(&existingID, &version)

			switch {
			case err == sql.ErrNoRows:
				ws.Version = 1
				_, err := tx.Exec(`INSERT INTO workspace
					(id, name, type, source_type, namespace, source_path, read_only, parent_workspace, created_at, updated_at, version)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
					ws.ID.String(), ws.Name, string(ws.Type), string(ws.SourceType), ws.Namespace,
					ws.SourcePath, boolInt(ws.ReadOnly), ws.ParentWorkspace.String(), now, now)
				return err
			case err != nil:
				return err
			default:
				ws.ID = types.WorkspaceID(existingID)
				ws.Version = version + 1
				_, err := tx.Exec(`UPDATE workspace SET
					type = ?, source_type = ?, source_path = ?, read_only = ?, updated_at = ?, version = version + 1
					WHERE id = ?`,
					string(ws.Type), string(ws.SourceType), ws.SourcePath, boolInt(ws.ReadOnly), now, existingID)
				return err
			}
		})
	})
}

// GetWorkspace reads a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id types.WorkspaceID) (*types.Workspace, error) {
	var ws types.Workspace
	err := s.pool.WithRetry(ctx, "GetWorkspace", func(h *pool.Handle) error {
		row := h.QueryRow(ctx, `SELECT id, name, type, source_type, namespace, source_path,
			read_only, parent_workspace, created_at, updated_at, version
			FROM workspace WHERE id = ?`, id.String())
		return scanWorkspace(row, &ws)
	})
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// ListWorkspaces lists all workspaces ordered by namespace and name.
func (s *Store) ListWorkspaces(ctx context.Context) ([]types.Workspace, error) {
	var out []types.Workspace
	err := s.pool.WithRetry(ctx, "ListWorkspaces", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT id, name, type, source_type, namespace, source_path,
			read_only, parent_workspace, created_at, updated_at, version
			FROM workspace ORDER BY namespace, name`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var ws types.Workspace
			if err := scanWorkspace(rows, &ws); err != nil {
				return err
			}
			out = append(out, ws)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteWorkspace removes a workspace and cascades to its vnodes, code
// units, dependency edges, embeddings and blob references in a single
// transaction. Dangling edges never survive.
func (s *Store) DeleteWorkspace(ctx context.Context, id types.WorkspaceID) error {
	timer := logging.StartTimer(logging.CategoryStore, "DeleteWorkspace")
	defer timer.Stop()

	return s.pool.WithRetry(ctx, "DeleteWorkspace", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			res, err := tx.Exec("DELETE FROM workspace WHERE id = ?", id.String())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return types.NotFound("workspace", id.String())
			}

			// Blob ref counts drop with their vnodes; orphaned blobs go too.
			if _, err := tx.Exec(`UPDATE content_blob SET ref_count = ref_count - 1
				WHERE hash IN (SELECT content_hash FROM vnode WHERE workspace_id = ? AND content_hash != '')`,
				id.String()); err != nil {
				return err
			}
			if _, err := tx.Exec("DELETE FROM content_blob WHERE ref_count <= 0"); err != nil {
				return err
			}

			if _, err := tx.Exec("DELETE FROM vnode WHERE workspace_id = ?", id.String()); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM embedding WHERE entity_kind = 'code_unit'
				AND entity_id IN (SELECT id FROM code_unit WHERE workspace_id = ?)`, id.String()); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM references_symbol
				WHERE unit_id IN (SELECT id FROM code_unit WHERE workspace_id = ?)`, id.String()); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM documents
				WHERE unit_id IN (SELECT id FROM code_unit WHERE workspace_id = ?)`, id.String()); err != nil {
				return err
			}
			if _, err := tx.Exec("DELETE FROM depends_on WHERE workspace_id = ?", id.String()); err != nil {
				return err
			}
			if _, err := tx.Exec("DELETE FROM code_unit WHERE workspace_id = ?", id.String()); err != nil {
				return err
			}

			logging.Store("Workspace %s deleted with cascade", id)
			return nil
		})
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkspace(row rowScanner, ws *types.Workspace) error {
	var id, parent, createdAt, updatedAt string
	var readOnly int
	err := row.Scan(&id, &ws.Name, (*string)(&ws.Type), (*string)(&ws.SourceType),
		&ws.Namespace, &ws.SourcePath, &readOnly, &parent, &createdAt, &updatedAt, &ws.Version)
	if err == sql.ErrNoRows {
		return types.NotFound("workspace", "")
	}
	if err != nil {
		return types.Transport(err)
	}
	ws.ID = types.WorkspaceID(id)
	ws.ParentWorkspace = types.WorkspaceID(parent)
	ws.ReadOnly = readOnly != 0
	ws.CreatedAt = parseTime(createdAt)
	ws.UpdatedAt = parseTime(updatedAt)
	return nil
}
