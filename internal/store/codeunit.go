package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

// unitColumns is the scan/select column list shared by every code_unit read.
const unitColumns = `id, workspace_id, file_path, unit_type, name, qualified_name, display_name,
	language, start_line, end_line, start_col, end_col, start_byte, end_byte,
	signature, body, docstring, visibility, is_async, is_unsafe, is_exported,
	parameters, return_type, type_parameters, attributes,
	cx_cyclomatic, cx_cognitive, cx_nesting, cx_lines, cx_parameters, cx_returns,
	has_tests, has_documentation, test_coverage, language_specific, tags,
	content_hash, embedding_pending, created_at, updated_at, version`

func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// UpsertCodeUnit persists a unit idempotently keyed on (workspace_id,
// qualified_name, file_path, start_byte). A matching content_hash is a
// no-op; differing content bumps the version. When the incoming unit carries
// a different id for the same key, the later write wins and the previous id
// is retained as an alias.
func (s *Store) UpsertCodeUnit(ctx context.Context, u *types.CodeUnit) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertCodeUnit")
	defer timer.Stop()

	if u.WorkspaceID == "" || u.QualifiedName == "" || u.FilePath == "" {
		return types.InvalidInput("code unit requires workspace_id, qualified_name and file_path")
	}
	if u.ID == "" {
		u.ID = types.NewCodeUnitID()
	}
	now := s.now()

	return s.pool.WithRetry(ctx, "UpsertCodeUnit", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			var existingID, existingHash string
			var version int64
			err := tx.QueryRow(`SELECT id, content_hash, version FROM code_unit
				WHERE workspace_id = ? AND qualified_name = ? AND file_path = ? AND start_byte = ?`,
				u.WorkspaceID.String(), u.QualifiedName, u.FilePath, u.Span.StartByte,
			).Scan(&existingID, &existingHash, &version)

			switch {
			case err == sql.ErrNoRows:
				u.Version = 1
				return insertCodeUnit(tx, u, now)

			case err != nil:
				return err

			case existingHash == u.ContentHash && u.ContentHash != "":
				// Idempotent re-ingest: same bytes, no version bump.
				u.ID = types.CodeUnitID(existingID)
				u.Version = version
				return nil

			default:
				aliasOf := ""
				if existingID != u.ID.String() {
					// Later write wins; the replaced id stays resolvable.
					aliasOf = existingID
				} else {
					u.ID = types.CodeUnitID(existingID)
				}
				u.Version = version + 1
				return updateCodeUnitRow(tx, u, existingID, aliasOf, now)
			}
		})
	})
}

func insertCodeUnit(tx *sql.Tx, u *types.CodeUnit, now string) error {
	_, err := tx.Exec(`INSERT INTO code_unit
		(id, workspace_id, file_path, unit_type, name, qualified_name, display_name,
		 language, start_line, end_line, start_col, end_col, start_byte, end_byte,
		 signature, body, docstring, visibility, is_async, is_unsafe, is_exported,
		 parameters, return_type, type_parameters, attributes,
		 cx_cyclomatic, cx_cognitive, cx_nesting, cx_lines, cx_parameters, cx_returns,
		 has_tests, has_documentation, test_coverage, language_specific, tags,
		 content_hash, embedding_pending, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		u.ID.String(), u.WorkspaceID.String(), u.FilePath, string(u.UnitType), u.Name,
		u.QualifiedName, u.DisplayName, u.Language,
		u.Span.StartLine, u.Span.EndLine, u.Span.StartCol, u.Span.EndCol,
		u.Span.StartByte, u.Span.EndByte,
		u.Signature, u.Body, u.Docstring, string(u.Visibility),
		boolInt(u.IsAsync), boolInt(u.IsUnsafe), boolInt(u.IsExported),
		marshalJSON(u.Parameters), u.ReturnType, marshalJSON(u.TypeParameters), marshalJSON(u.Attributes),
		u.Complexity.Cyclomatic, u.Complexity.Cognitive, u.Complexity.Nesting,
		u.Complexity.Lines, u.Complexity.Parameters, u.Complexity.Returns,
		boolInt(u.HasTests), boolInt(u.HasDocumentation), u.TestCoverage,
		marshalJSON(u.LanguageSpecific), marshalJSON(u.Tags),
		u.ContentHash, boolInt(u.EmbeddingPending), now, now)
	return err
}

func updateCodeUnitRow(tx *sql.Tx, u *types.CodeUnit, rowID, aliasOf, now string) error {
	_, err := tx.Exec(`UPDATE code_unit SET
		id = ?, unit_type = ?, name = ?, display_name = ?, language = ?,
		start_line = ?, end_line = ?, start_col = ?, end_col = ?, end_byte = ?,
		signature = ?, body = ?, docstring = ?, visibility = ?,
		is_async = ?, is_unsafe = ?, is_exported = ?,
		parameters = ?, return_type = ?, type_parameters = ?, attributes = ?,
		cx_cyclomatic = ?, cx_cognitive = ?, cx_nesting = ?, cx_lines = ?, cx_parameters = ?, cx_returns = ?,
		has_tests = ?, has_documentation = ?, test_coverage = ?,
		language_specific = ?, tags = ?, content_hash = ?, embedding_pending = ?,
		alias_of = CASE WHEN ? = '' THEN alias_of ELSE ? END,
		updated_at = ?, version = version + 1
		WHERE id = ?`,
		u.ID.String(), string(u.UnitType), u.Name, u.DisplayName, u.Language,
		u.Span.StartLine, u.Span.EndLine, u.Span.StartCol, u.Span.EndCol, u.Span.EndByte,
		u.Signature, u.Body, u.Docstring, string(u.Visibility),
		boolInt(u.IsAsync), boolInt(u.IsUnsafe), boolInt(u.IsExported),
		marshalJSON(u.Parameters), u.ReturnType, marshalJSON(u.TypeParameters), marshalJSON(u.Attributes),
		u.Complexity.Cyclomatic, u.Complexity.Cognitive, u.Complexity.Nesting,
		u.Complexity.Lines, u.Complexity.Parameters, u.Complexity.Returns,
		boolInt(u.HasTests), boolInt(u.HasDocumentation), u.TestCoverage,
		marshalJSON(u.LanguageSpecific), marshalJSON(u.Tags), u.ContentHash, boolInt(u.EmbeddingPending),
		aliasOf, aliasOf, now, rowID)
	return err
}

// GetCodeUnit reads a unit by id, following alias ids left by later writes.
func (s *Store) GetCodeUnit(ctx context.Context, id types.CodeUnitID) (*types.CodeUnit, error) {
	var unit types.CodeUnit
	err := s.pool.WithRetry(ctx, "GetCodeUnit", func(h *pool.Handle) error {
		row := h.QueryRow(ctx, `SELECT `+unitColumns+` FROM code_unit
			WHERE (id = ? OR alias_of = ?) AND deleted = 0`, id.String(), id.String())
		if err := scanCodeUnit(row, &unit); err != nil {
			if types.IsKind(err, types.ErrNotFound) {
				return types.NotFound("code_unit", id.String())
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// UpdateCodeUnit applies an optimistic update to body and/or docstring. The
// caller's expected_version must match or the write fails with Conflict.
func (s *Store) UpdateCodeUnit(ctx context.Context, id types.CodeUnitID, newBody, newDocstring *string, expectedVersion int64) (*types.CodeUnit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateCodeUnit")
	defer timer.Stop()

	var updated types.CodeUnit
	err := s.pool.WithRetry(ctx, "UpdateCodeUnit", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			var actual int64
			err := tx.QueryRow("SELECT version FROM code_unit WHERE id = ? AND deleted = 0", id.String()).Scan(&actual)
			if err == sql.ErrNoRows {
				return types.NotFound("code_unit", id.String())
			}
			if err != nil {
				return err
			}
			if actual != expectedVersion {
				return types.Conflict("code_unit", id.String(), expectedVersion, actual)
			}

			// The version check doubles as the row lock: the UPDATE's WHERE
			// re-verifies so a racing writer loses exactly once.
			res, err := tx.Exec(`UPDATE code_unit SET
				body = COALESCE(?, body),
				docstring = COALESCE(?, docstring),
				updated_at = ?, version = version + 1
				WHERE id = ? AND version = ?`,
				newBody, newDocstring, s.now(), id.String(), expectedVersion)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return types.Conflict("code_unit", id.String(), expectedVersion, actual)
			}

			row := tx.QueryRow(`SELECT `+unitColumns+` FROM code_unit WHERE id = ?`, id.String())
			return scanCodeUnit(row, &updated)
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UnitFilter narrows ListCodeUnits.
type UnitFilter struct {
	UnitType      types.UnitType
	Language      string
	Visibility    types.Visibility
	MinComplexity float64
}

// ListCodeUnits pages through a workspace's units. The cursor is opaque
// base64; pass the returned next cursor to continue.
func (s *Store) ListCodeUnits(ctx context.Context, wsID types.WorkspaceID, filter UnitFilter, limit int, cursor string) ([]types.CodeUnit, string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListCodeUnits")
	defer timer.Stop()

	if limit <= 0 {
		limit = 50
	}

	offset := 0
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		offset = c.Offset
	}

	query := `SELECT ` + unitColumns + ` FROM code_unit WHERE workspace_id = ? AND deleted = 0`
	args := []interface{}{wsID.String()}

	if filter.UnitType != "" {
		query += " AND unit_type = ?"
		args = append(args, string(filter.UnitType))
	}
	if filter.Language != "" {
		query += " AND language = ?"
		args = append(args, filter.Language)
	}
	if filter.Visibility != "" {
		query += " AND visibility = ?"
		args = append(args, string(filter.Visibility))
	}
	if filter.MinComplexity > 0 {
		query += " AND (0.5*cx_cyclomatic + 0.3*cx_cognitive + 0.2*cx_nesting) >= ?"
		args = append(args, filter.MinComplexity)
	}

	query += " ORDER BY created_at, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var out []types.CodeUnit
	err := s.pool.WithRetry(ctx, "ListCodeUnits", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var u types.CodeUnit
			if err := scanCodeUnit(rows, &u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) == limit {
		last := out[len(out)-1]
		next, err = EncodeCursor(Cursor{
			LastID:        last.ID.String(),
			LastTimestamp: last.CreatedAt,
			Offset:        offset + len(out),
		})
		if err != nil {
			return nil, "", err
		}
	}
	return out, next, nil
}

// CountUnits returns the workspace's unit total, suitable for running
// concurrently with ListCodeUnits for pagination totals.
func (s *Store) CountUnits(ctx context.Context, wsID types.WorkspaceID) (int, error) {
	var count int
	err := s.pool.WithRetry(ctx, "CountUnits", func(h *pool.Handle) error {
		return h.QueryRow(ctx,
			"SELECT COUNT(*) FROM code_unit WHERE workspace_id = ? AND deleted = 0",
			wsID.String()).Scan(&count)
	})
	if err != nil {
		return 0, types.Transport(err)
	}
	return count, nil
}

// MarkEmbeddingPending tags units whose embedding batch failed so a later
// backfill can retry them.
func (s *Store) MarkEmbeddingPending(ctx context.Context, ids []types.CodeUnitID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.pool.WithRetry(ctx, "MarkEmbeddingPending", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			for _, id := range ids {
				if _, err := tx.Exec("UPDATE code_unit SET embedding_pending = 1 WHERE id = ?", id.String()); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// ListEmbeddingPending returns units waiting for an embedding backfill.
func (s *Store) ListEmbeddingPending(ctx context.Context, wsID types.WorkspaceID, limit int) ([]types.CodeUnit, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []types.CodeUnit
	err := s.pool.WithRetry(ctx, "ListEmbeddingPending", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT `+unitColumns+` FROM code_unit
			WHERE workspace_id = ? AND embedding_pending = 1 AND deleted = 0 LIMIT ?`,
			wsID.String(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var u types.CodeUnit
			if err := scanCodeUnit(rows, &u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClearEmbeddingPending drops the pending tag after a successful backfill.
func (s *Store) ClearEmbeddingPending(ctx context.Context, id types.CodeUnitID) error {
	return s.pool.WithRetry(ctx, "ClearEmbeddingPending", func(h *pool.Handle) error {
		_, err := h.Exec(ctx, "UPDATE code_unit SET embedding_pending = 0 WHERE id = ?", id.String())
		return err
	})
}

func scanCodeUnit(row rowScanner, u *types.CodeUnit) error {
	var id, wsID, unitType, visibility, createdAt, updatedAt string
	var isAsync, isUnsafe, isExported, hasTests, hasDocs, embPending int
	var params, typeParams, attrs, langSpecific, tags string
	var testCoverage sql.NullFloat64

	err := row.Scan(&id, &wsID, &u.FilePath, &unitType, &u.Name, &u.QualifiedName, &u.DisplayName,
		&u.Language, &u.Span.StartLine, &u.Span.EndLine, &u.Span.StartCol, &u.Span.EndCol,
		&u.Span.StartByte, &u.Span.EndByte,
		&u.Signature, &u.Body, &u.Docstring, &visibility, &isAsync, &isUnsafe, &isExported,
		&params, &u.ReturnType, &typeParams, &attrs,
		&u.Complexity.Cyclomatic, &u.Complexity.Cognitive, &u.Complexity.Nesting,
		&u.Complexity.Lines, &u.Complexity.Parameters, &u.Complexity.Returns,
		&hasTests, &hasDocs, &testCoverage, &langSpecific, &tags,
		&u.ContentHash, &embPending, &createdAt, &updatedAt, &u.Version)
	if err == sql.ErrNoRows {
		return types.NotFound("code_unit", "")
	}
	if err != nil {
		return types.Transport(err)
	}

	u.ID = types.CodeUnitID(id)
	u.WorkspaceID = types.WorkspaceID(wsID)
	u.UnitType = types.UnitType(unitType)
	u.Visibility = types.Visibility(visibility)
	u.IsAsync = isAsync != 0
	u.IsUnsafe = isUnsafe != 0
	u.IsExported = isExported != 0
	u.HasTests = hasTests != 0
	u.HasDocumentation = hasDocs != 0
	u.EmbeddingPending = embPending != 0
	if testCoverage.Valid {
		v := testCoverage.Float64
		u.TestCoverage = &v
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)

	json.Unmarshal([]byte(params), &u.Parameters)
	json.Unmarshal([]byte(typeParams), &u.TypeParameters)
	json.Unmarshal([]byte(attrs), &u.Attributes)
	json.Unmarshal([]byte(langSpecific), &u.LanguageSpecific)
	json.Unmarshal([]byte(tags), &u.Tags)
	return nil
}
