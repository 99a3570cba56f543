package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/ry-ht/cortex/internal/types"
)

// Handle is an exclusively checked-out connection. It must be released
// exactly once; a handle whose operation failed with a transport error is
// discarded instead of being returned to the pool.
type Handle struct {
	pool     *Pool
	pc       *pooledConn
	broken   bool
	released bool
}

// Release returns the connection to the pool.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.pool.release(h.pc, h.broken)
}

// markOutcome updates breaker state and flags broken handles.
func (h *Handle) markOutcome(err error) {
	if err == nil {
		h.pool.recordSuccess()
		return
	}
	h.pool.recordError()
	if !IsTransient(err) {
		return
	}
	h.broken = true
}

// Query runs a SQL statement with bindings and returns the rows.
func (h *Handle) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	h.pc.uses++
	rows, err := h.pc.conn.QueryContext(ctx, query, args...)
	h.markOutcome(err)
	if err != nil {
		return nil, types.Transport(err)
	}
	return rows, nil
}

// QueryRow runs a single-row query.
func (h *Handle) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	h.pc.uses++
	return h.pc.conn.QueryRowContext(ctx, query, args...)
}

// Exec runs a statement and returns the result.
func (h *Handle) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	h.pc.uses++
	res, err := h.pc.conn.ExecContext(ctx, query, args...)
	h.markOutcome(err)
	if err != nil {
		return nil, types.Transport(err)
	}
	return res, nil
}

// Select reads one record by id, returned as a column-keyed map. Returns
// NotFound when no row matches.
func (h *Handle) Select(ctx context.Context, table, id string) (map[string]interface{}, error) {
	rows, err := h.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, types.Transport(err)
	}
	if !rows.Next() {
		return nil, types.NotFound(table, id)
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, types.Transport(err)
	}

	record := make(map[string]interface{}, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			record[col] = string(b)
		} else {
			record[col] = values[i]
		}
	}
	return record, nil
}

// Create inserts a record with the given id and content columns.
func (h *Handle) Create(ctx context.Context, table, id string, content map[string]interface{}) error {
	cols := make([]string, 0, len(content)+1)
	cols = append(cols, "id")
	for col := range content {
		cols = append(cols, col)
	}
	sort.Strings(cols[1:])

	args := make([]interface{}, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for _, col := range cols {
		placeholders = append(placeholders, "?")
		if col == "id" {
			args = append(args, id)
		} else {
			args = append(args, content[col])
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := h.Exec(ctx, query, args...)
	return err
}

// Delete removes a record by id. Returns NotFound when nothing was deleted.
func (h *Handle) Delete(ctx context.Context, table, id string) error {
	res, err := h.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound(table, id)
	}
	return nil
}

// Transaction runs fn inside a database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (h *Handle) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	h.pc.uses++
	tx, err := h.pc.conn.BeginTx(ctx, nil)
	if err != nil {
		h.markOutcome(err)
		return types.Transport(err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			h.markOutcome(rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		h.markOutcome(err)
		return types.Transport(err)
	}
	h.markOutcome(nil)
	return nil
}
