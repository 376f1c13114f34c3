package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"vehicleetl/internal/storage"
)

type execCall struct {
	query string
	args  []any
}

type fakeTx struct {
	calls      []execCall
	failOn     int // 1-based exec call that fails; 0 never
	committed  bool
	rolledBack bool
}

func (f *fakeTx) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.failOn == len(f.calls) {
		return nil, errors.New("exec failed")
	}
	return nil, nil
}

func (f *fakeTx) Commit() error   { f.committed = true; return nil }
func (f *fakeTx) Rollback() error { f.rolledBack = true; return nil }

type fakeDB struct {
	tx    *fakeTx
	execs []string
}

func (f *fakeDB) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return nil, nil
}

func (f *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) BeginTx(context.Context, *sql.TxOptions) (txConn, error) { return f.tx, nil }
func (f *fakeDB) Close() error                                            { return nil }

func runSummary() storage.RunSummary {
	return storage.RunSummary{
		RunID:   "r1",
		Job:     "vehicles",
		Started: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Fills: []storage.FillRecord{
			{Column: "a", Class: "numeric", Value: "1", Filled: 1},
			{Column: "b", Class: "categorical", Value: "x", Filled: 2},
		},
	}
}

func TestRecordRun_OneTransaction(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	l := &Ledger{db: &fakeDB{tx: tx}}
	if err := l.RecordRun(context.Background(), runSummary()); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
	if len(tx.calls) != 2 {
		t.Fatalf("expected run insert + one fills insert, got %d calls", len(tx.calls))
	}
	if !strings.HasPrefix(tx.calls[0].query, "INSERT INTO [clean_runs]") {
		t.Fatalf("first insert = %s", tx.calls[0].query)
	}
	if len(tx.calls[1].args) != 12 {
		t.Fatalf("fills args = %d, want 2 rows x 6 columns", len(tx.calls[1].args))
	}
	if tx.calls[1].args[6] != "r1" || tx.calls[1].args[7] != "b" {
		t.Fatalf("second fill row args = %v", tx.calls[1].args[6:])
	}
}

func TestRecordRun_RollsBackOnError(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{failOn: 2}
	l := &Ledger{db: &fakeDB{tx: tx}}
	err := l.RecordRun(context.Background(), runSummary())
	if err == nil || !strings.Contains(err.Error(), "clean_run_fills") {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestEnsureSchema_GuardsEveryTable(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	l := &Ledger{db: db}
	if err := l.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(db.execs) != 2 {
		t.Fatalf("expected 2 DDL statements, got %d", len(db.execs))
	}
	for _, q := range db.execs {
		if !strings.HasPrefix(q, "IF OBJECT_ID(N'clean_run") {
			t.Fatalf("DDL not guarded: %s", q)
		}
	}
	if !strings.Contains(db.execs[1], "[fallback] BIT NOT NULL") {
		t.Fatalf("fills DDL = %s", db.execs[1])
	}
}

func TestBuildBulkInsertSQL_NumbersRowMajor(t *testing.T) {
	t.Parallel()

	q, args := buildBulkInsertSQL("dbo.t", []string{"a", "b"}, [][]any{{1, 2}, {3, 4}})
	want := "INSERT INTO [dbo].[t] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)"
	if q != want {
		t.Fatalf("got  %s\nwant %s", q, want)
	}
	if len(args) != 4 || args[2] != 3 {
		t.Fatalf("args = %v", args)
	}
}
