package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestHandle(t *testing.T) *Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	a := NewAdapter(nil)
	h, err := a.Open("main", Config{DSN: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestOpen_CreatesDatabase(t *testing.T) {
	h := openTestHandle(t)

	if h.Alias() != "main" {
		t.Errorf("Alias() = %q, want %q", h.Alias(), "main")
	}
	if h.InTx() {
		t.Error("fresh handle reports an active transaction")
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	a := NewAdapter(nil)
	if _, err := a.Open("main", Config{}); err == nil {
		t.Fatal("Open() with empty DSN should fail")
	}
}

func TestHandle_ExecAndQuery(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	res, err := h.Exec(ctx, "INSERT INTO users(name) VALUES (?)", "alice")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Errorf("RowsAffected = %d, want 1", res.RowsAffected)
	}
	if res.LastInsertID != 1 {
		t.Errorf("LastInsertID = %d, want 1", res.LastInsertID)
	}

	rows, err := h.Query(ctx, "SELECT id, name FROM users")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["name"] != "alice" {
		t.Errorf("name = %v, want alice", rows[0]["name"])
	}
}

func TestHandle_TransactionCommit(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	if err := h.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !h.InTx() {
		t.Fatal("InTx() = false after Begin")
	}
	if err := h.Begin(ctx); !errors.Is(err, ErrTxActive) {
		t.Errorf("second Begin = %v, want ErrTxActive", err)
	}

	if _, err := h.Exec(ctx, "INSERT INTO t(v) VALUES ('x')"); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if h.InTx() {
		t.Error("InTx() = true after Commit")
	}

	rows, err := h.Query(ctx, "SELECT v FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows after commit, want 1", len(rows))
	}
}

func TestHandle_TransactionRollback(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()

	if _, err := h.Exec(ctx, "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	if err := h.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.Exec(ctx, "INSERT INTO t(v) VALUES ('x')"); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := h.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	rows, err := h.Query(ctx, "SELECT v FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows after rollback, want 0", len(rows))
	}
}

func TestHandle_CommitWithoutTx(t *testing.T) {
	h := openTestHandle(t)

	if err := h.Commit(); !errors.Is(err, ErrNoTx) {
		t.Errorf("Commit without tx = %v, want ErrNoTx", err)
	}
	if err := h.Rollback(); !errors.Is(err, ErrNoTx) {
		t.Errorf("Rollback without tx = %v, want ErrNoTx", err)
	}
}

func TestHandle_ClosedOperationsFail(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Idempotent
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	if _, err := h.Exec(ctx, "SELECT 1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Exec on closed handle = %v, want ErrClosed", err)
	}
	if _, err := h.Query(ctx, "SELECT 1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Query on closed handle = %v, want ErrClosed", err)
	}
	if err := h.Begin(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Begin on closed handle = %v, want ErrClosed", err)
	}
}

func TestHandle_CloseRollsBackPendingTx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	a := NewAdapter(nil)

	h, err := a.Open("main", Config{DSN: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if _, err := h.Exec(ctx, "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := h.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.Exec(ctx, "INSERT INTO t(v) VALUES ('pending')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close with pending tx: %v", err)
	}

	// Reopen and verify the pending write is gone.
	h2, err := a.Open("main", Config{DSN: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()
	rows, err := h2.Query(ctx, "SELECT v FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows after close-with-pending-tx, want 0", len(rows))
	}
}
