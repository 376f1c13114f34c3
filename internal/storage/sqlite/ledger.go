package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vehicleetl/internal/storage"
)

// Ledger implements storage.Ledger for SQLite.
//
// SQLite has no native timestamp type; started_at is stored as fixed-width
// RFC3339 text in UTC so it sorts lexically and round-trips.
type Ledger struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", Open)
}

// Open connects to the SQLite database named by cfg.DSN (a path, or
// ":memory:").
func Open(ctx context.Context, cfg storage.Config) (storage.Ledger, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is
	// per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() { _ = l.db.Close() }

// EnsureSchema creates the ledger tables if missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := l.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// RecordRun inserts the run and its fills in one transaction.
func (l *Ledger) RecordRun(ctx context.Context, s storage.RunSummary) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	tables := storage.Tables()
	runs, fills := tables[0], tables[1]

	if _, err = tx.ExecContext(ctx, buildInsertSQL(runs), storage.RunArgs(s, formatTime)...); err != nil {
		return fmt.Errorf("insert %s: %w", runs.Name, err)
	}
	insFill := buildInsertSQL(fills)
	for _, f := range s.Fills {
		if _, err = tx.ExecContext(ctx, insFill, storage.FillArgs(s.RunID, f)...); err != nil {
			return fmt.Errorf("insert %s column=%s: %w", fills.Name, f.Column, err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns up to limit runs of job, newest first. Fills are not
// loaded.
func (l *Ledger) RecentRuns(ctx context.Context, job string, limit int) ([]storage.RunSummary, error) {
	runs := storage.Tables()[0]
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s DESC LIMIT ?",
		joinIdentList(runs.ColumnNames()), sqlIdent(runs.Name), sqlIdent("job"), sqlIdent("started_at"))
	rows, err := l.db.QueryContext(ctx, q, job, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.RunSummary
	for rows.Next() {
		var (
			s                storage.RunSummary
			started, columns string
			durationMS       int64
			pq, csv          sql.NullString
		)
		if err := rows.Scan(&s.RunID, &s.Job, &started, &durationMS,
			&s.RawRecords, &s.MalformedPayloads, &s.CoercionFailures, &s.Duplicates, &s.OutputRows,
			&columns, &pq, &csv); err != nil {
			return nil, err
		}
		if s.Started, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", s.RunID, err)
		}
		s.Duration = time.Duration(durationMS) * time.Millisecond
		s.Columns = storage.SplitColumns(columns)
		s.ParquetPath, s.CSVPath = pq.String, csv.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlType(t storage.Type) (string, error) {
	switch t {
	case storage.TypeID, storage.TypeText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeInt, storage.TypeBool:
		return "INTEGER", nil
	}
	return "", fmt.Errorf("sqlite: unsupported column type %q", t)
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		typ, err := sqlType(c.Type)
		if err != nil {
			return "", err
		}
		def := sqlIdent(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+joinIdentList(t.PrimaryKey)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(defs, ", ")), nil
}

func buildInsertSQL(t storage.TableSpec) string {
	cols := t.ColumnNames()
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", sqlIdent(t.Name), joinIdentList(cols), ph)
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) any {
	return t.UTC().Format(timeLayout)
}

// parseTime parses timestamps returned by SQLite. It accepts what
// formatTime writes plus the space-separated layouts other tools use;
// values without a zone are UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
