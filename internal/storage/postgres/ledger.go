package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vehicleetl/internal/storage"
)

/*
Ledger implements storage.Ledger for Postgres.

Table names may be schema-qualified through the DSN search_path only; the
ledger tables themselves are unqualified.
*/
type Ledger struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", Open)
}

// Open creates a connection pool for cfg.DSN.
func Open(ctx context.Context, cfg storage.Config) (storage.Ledger, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Ledger{pool: pool}, nil
}

// Close closes the connection pool.
func (l *Ledger) Close() {
	l.pool.Close()
}

// EnsureSchema creates the ledger tables if missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := l.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// RecordRun inserts the run row and its fills in one transaction. Fills go
// out as one batch.
func (l *Ledger) RecordRun(ctx context.Context, s storage.RunSummary) error {
	tables := storage.Tables()
	runs, fills := tables[0], tables[1]

	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, buildInsertSQL(runs), storage.RunArgs(s, nil)...); err != nil {
			return fmt.Errorf("insert %s: %w", runs.Name, err)
		}
		if len(s.Fills) == 0 {
			return nil
		}

		ins := buildInsertSQL(fills)
		b := &pgx.Batch{}
		for _, f := range s.Fills {
			b.Queue(ins, storage.FillArgs(s.RunID, f)...)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("insert %s: %w", fills.Name, err)
		}
		return nil
	})
}

// RecentRuns returns up to limit runs of job, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, job string, limit int) ([]storage.RunSummary, error) {
	runs := storage.Tables()[0]
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s DESC LIMIT $2",
		joinIdentList(runs.ColumnNames()), pgIdent(runs.Name), pgIdent("job"), pgIdent("started_at"))

	rows, err := l.pool.Query(ctx, q, job, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.RunSummary
	for rows.Next() {
		var (
			s          storage.RunSummary
			durationMS int64
			raw        [5]int64
			columns    string
			pq, csv    *string
		)
		if err := rows.Scan(&s.RunID, &s.Job, &s.Started, &durationMS,
			&raw[0], &raw[1], &raw[2], &raw[3], &raw[4],
			&columns, &pq, &csv); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(durationMS) * time.Millisecond
		s.RawRecords, s.MalformedPayloads, s.CoercionFailures = int(raw[0]), int(raw[1]), int(raw[2])
		s.Duplicates, s.OutputRows = int(raw[3]), int(raw[4])
		s.Columns = storage.SplitColumns(columns)
		if pq != nil {
			s.ParquetPath = *pq
		}
		if csv != nil {
			s.CSVPath = *csv
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func pgType(t storage.Type) (string, error) {
	switch t {
	case storage.TypeID:
		return "varchar(255)", nil
	case storage.TypeText:
		return "text", nil
	case storage.TypeInt:
		return "bigint", nil
	case storage.TypeBool:
		return "boolean", nil
	case storage.TypeTimestamp:
		return "timestamptz", nil
	}
	return "", fmt.Errorf("postgres: unsupported column type %q", t)
}

// buildColumnDef renders one column definition.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := pgType(c.Type)
	if err != nil {
		return "", err
	}
	def := pgIdent(name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def, nil
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+joinIdentList(t.PrimaryKey)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", pgIdent(t.Name), strings.Join(defs, ",\n  ")), nil
}

func buildInsertSQL(t storage.TableSpec) string {
	cols := t.ColumnNames()
	ph := make([]string, len(cols))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgIdent(t.Name), joinIdentList(cols), strings.Join(ph, ", "))
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
