package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by every operation on a closed handle.
// Using a closed handle is a programming error; callers should not retry.
var ErrClosed = errors.New("storage: handle is closed")

// ErrTxActive is returned by Begin when a transaction is already open.
// The connection tier reuses handles precisely to avoid a second BEGIN,
// so hitting this indicates a lifecycle bug in the caller.
var ErrTxActive = errors.New("storage: transaction already active")

// ErrNoTx is returned by Commit/Rollback when no transaction is open.
var ErrNoTx = errors.New("storage: no active transaction")

// Handle is one live storage connection registered under a logical alias.
//
// A handle is exclusively owned by whoever opened it (the connection cache
// tier for shared steps, a dispatcher for ephemeral ones). It is safe for
// concurrent use, but within a workflow run steps execute strictly in order,
// so contention only arises from misuse.
type Handle struct {
	alias string

	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	closed bool
}

// Alias returns the logical alias this handle was opened under.
func (h *Handle) Alias() string {
	return h.alias
}

// InTx reports whether a transaction is currently open on the handle.
func (h *Handle) InTx() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tx != nil
}

// Begin opens a transaction on the handle. At most one transaction may be
// open at a time; the orchestrator issues Begin exactly once per alias per
// transactional run and reuses the handle afterwards.
func (h *Handle) Begin(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.tx != nil {
		return ErrTxActive
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %q: %w", h.alias, err)
	}
	h.tx = tx
	return nil
}

// Commit commits the open transaction.
func (h *Handle) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.tx == nil {
		return ErrNoTx
	}
	err := h.tx.Commit()
	h.tx = nil
	if err != nil {
		return fmt.Errorf("commit %q: %w", h.alias, err)
	}
	return nil
}

// Rollback rolls back the open transaction.
func (h *Handle) Rollback() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.tx == nil {
		return ErrNoTx
	}
	err := h.tx.Rollback()
	h.tx = nil
	if err != nil {
		return fmt.Errorf("rollback %q: %w", h.alias, err)
	}
	return nil
}

// Close releases the underlying database. A still-open transaction is rolled
// back first so an interrupted run never leaves writes pending.
// Close is idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	var txErr error
	if h.tx != nil {
		txErr = h.tx.Rollback()
		h.tx = nil
	}
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("close %q: %w", h.alias, err)
	}
	if txErr != nil {
		return fmt.Errorf("close %q: rollback pending tx: %w", h.alias, txErr)
	}
	return nil
}

// ExecResult summarizes a write statement. The orchestrator registers it as
// the step's value, so both fields are addressable from later steps.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Exec runs a write statement through the open transaction if one is active,
// otherwise directly against the database.
func (h *Handle) Exec(ctx context.Context, stmt string, args ...any) (ExecResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ExecResult{}, ErrClosed
	}

	var (
		res sql.Result
		err error
	)
	if h.tx != nil {
		res, err = h.tx.ExecContext(ctx, stmt, args...)
	} else {
		res, err = h.db.ExecContext(ctx, stmt, args...)
	}
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec on %q: %w", h.alias, err)
	}

	// Drivers may not support either counter; treat failures as zero.
	out := ExecResult{}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

// Query runs a read statement and materializes all rows as maps keyed by
// column name, so step results support field access from later steps.
func (h *Handle) Query(ctx context.Context, stmt string, args ...any) ([]map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	var (
		rows *sql.Rows
		err  error
	)
	if h.tx != nil {
		rows, err = h.tx.QueryContext(ctx, stmt, args...)
	} else {
		rows, err = h.db.QueryContext(ctx, stmt, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query on %q: %w", h.alias, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query on %q: columns: %w", h.alias, err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query on %q: scan: %w", h.alias, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			// SQLite hands back []byte for TEXT in some paths; normalize.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query on %q: %w", h.alias, err)
	}
	return out, nil
}
