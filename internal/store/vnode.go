package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Fall back to second-resolution RFC 3339 written by older versions.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

// UpsertVNode inserts or updates a vnode keyed on (workspace, path). File
// content is stored content-addressed: the blob table holds one copy per
// hash with a reference count.
func (s *Store) UpsertVNode(ctx context.Context, vn *types.VirtualNode, content []byte) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertVNode")
	defer timer.Stop()

	if vn.WorkspaceID == "" || vn.Path == "" {
		return types.InvalidInput("vnode requires workspace_id and path")
	}
	if vn.ID == "" {
		vn.ID = types.NewVNodeID()
	}
	now := s.now()

	return s.pool.WithRetry(ctx, "UpsertVNode", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			var existingID, oldHash string
			var version int64
			err := tx.QueryRow(
				"SELECT id, content_hash, version FROM vnode WHERE workspace_id = ? AND path = ?",
				vn.WorkspaceID.String(), vn.Path,
			).Scan(&existingID, &oldHash, &version)

			isNew := err == sql.ErrNoRows
			if err != nil && !isNew {
				return err
			}

			if vn.Kind == types.VNodeFile && vn.ContentHash != "" && vn.ContentHash != oldHash {
				if err := addBlobRef(tx, vn.ContentHash, content); err != nil {
					return err
				}
				if oldHash != "" {
					if err := dropBlobRef(tx, oldHash); err != nil {
						return err
					}
				}
			}

			if isNew {
				vn.Version = 1
				_, err = tx.Exec(`INSERT INTO vnode
					(id, workspace_id, path, kind, content_hash, size, created_at, updated_at, version)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
					vn.ID.String(), vn.WorkspaceID.String(), vn.Path, string(vn.Kind),
					vn.ContentHash, vn.Size, now, now)
				return err
			}

			vn.ID = types.VNodeID(existingID)
			if vn.ContentHash == oldHash {
				// Same content: no version bump, ingest stays idempotent.
				vn.Version = version
				return nil
			}
			vn.Version = version + 1
			_, err = tx.Exec(`UPDATE vnode SET kind = ?, content_hash = ?, size = ?, updated_at = ?, version = version + 1
				WHERE id = ?`,
				string(vn.Kind), vn.ContentHash, vn.Size, now, existingID)
			return err
		})
	})
}

func addBlobRef(tx *sql.Tx, hash string, content []byte) error {
	res, err := tx.Exec("UPDATE content_blob SET ref_count = ref_count + 1 WHERE hash = ?", hash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = tx.Exec("INSERT INTO content_blob (hash, data, ref_count) VALUES (?, ?, 1)", hash, content)
	return err
}

func dropBlobRef(tx *sql.Tx, hash string) error {
	if _, err := tx.Exec("UPDATE content_blob SET ref_count = ref_count - 1 WHERE hash = ?", hash); err != nil {
		return err
	}
	_, err := tx.Exec("DELETE FROM content_blob WHERE hash = ? AND ref_count <= 0", hash)
	return err
}

// GetVNode reads a vnode by workspace and path.
func (s *Store) GetVNode(ctx context.Context, wsID types.WorkspaceID, path string) (*types.VirtualNode, error) {
	var vn types.VirtualNode
	err := s.pool.WithRetry(ctx, "GetVNode", func(h *pool.Handle) error {
		var id, kind, createdAt, updatedAt string
		err := h.QueryRow(ctx, `SELECT id, kind, content_hash, size, created_at, updated_at, version
			FROM vnode WHERE workspace_id = ? AND path = ?`,
			wsID.String(), path,
		).Scan(&id, &kind, &vn.ContentHash, &vn.Size, &createdAt, &updatedAt, &vn.Version)
		if err == sql.ErrNoRows {
			return types.NotFound("vnode", path)
		}
		if err != nil {
			return types.Transport(err)
		}
		vn.ID = types.VNodeID(id)
		vn.WorkspaceID = wsID
		vn.Path = path
		vn.Kind = types.VNodeKind(kind)
		vn.CreatedAt = parseTime(createdAt)
		vn.UpdatedAt = parseTime(updatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &vn, nil
}

// GetBlob reads content by its lowercase hex SHA-256 hash.
func (s *Store) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.pool.WithRetry(ctx, "GetBlob", func(h *pool.Handle) error {
		err := h.QueryRow(ctx, "SELECT data FROM content_blob WHERE hash = ?", hash).Scan(&data)
		if err == sql.ErrNoRows {
			return types.NotFound("content_blob", hash)
		}
		if err != nil {
			return types.Transport(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListVNodes lists the vnodes of a workspace.
func (s *Store) ListVNodes(ctx context.Context, wsID types.WorkspaceID) ([]types.VirtualNode, error) {
	var out []types.VirtualNode
	err := s.pool.WithRetry(ctx, "ListVNodes", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT id, path, kind, content_hash, size, created_at, updated_at, version
			FROM vnode WHERE workspace_id = ? ORDER BY path`, wsID.String())
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var vn types.VirtualNode
			var id, kind, createdAt, updatedAt string
			if err := rows.Scan(&id, &vn.Path, &kind, &vn.ContentHash, &vn.Size, &createdAt, &updatedAt, &vn.Version); err != nil {
				return types.Transport(err)
			}
			vn.ID = types.VNodeID(id)
			vn.WorkspaceID = wsID
			vn.Kind = types.VNodeKind(kind)
			vn.CreatedAt = parseTime(createdAt)
			vn.UpdatedAt = parseTime(updatedAt)
			out = append(out, vn)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
