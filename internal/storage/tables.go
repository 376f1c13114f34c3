package storage

import (
	"strings"
	"time"
)

// Ledger table names.
const (
	RunsTable  = "clean_runs"
	FillsTable = "clean_run_fills"
)

// Type is a logical column type. Each backend maps it to its own DDL type.
type Type string

const (
	TypeID        Type = "id"   // short key text (run id, column name)
	TypeText      Type = "text" // unbounded text
	TypeInt       Type = "int"
	TypeBool      Type = "bool"
	TypeTimestamp Type = "timestamp"
)

// TableSpec describes one ledger table.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
}

// ColumnSpec describes one column. Columns are NOT NULL unless Nullable.
type ColumnSpec struct {
	Name     string
	Type     Type
	Nullable bool
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Tables returns the ledger tables in creation order.
func Tables() []TableSpec {
	return []TableSpec{
		{
			Name: RunsTable,
			Columns: []ColumnSpec{
				{Name: "run_id", Type: TypeID},
				{Name: "job", Type: TypeID},
				{Name: "started_at", Type: TypeTimestamp},
				{Name: "duration_ms", Type: TypeInt},
				{Name: "raw_records", Type: TypeInt},
				{Name: "malformed_payloads", Type: TypeInt},
				{Name: "coercion_failures", Type: TypeInt},
				{Name: "duplicates", Type: TypeInt},
				{Name: "output_rows", Type: TypeInt},
				{Name: "columns", Type: TypeText},
				{Name: "parquet_path", Type: TypeText, Nullable: true},
				{Name: "csv_path", Type: TypeText, Nullable: true},
			},
			PrimaryKey: []string{"run_id"},
		},
		{
			Name: FillsTable,
			Columns: []ColumnSpec{
				{Name: "run_id", Type: TypeID},
				{Name: "column_name", Type: TypeID},
				{Name: "class", Type: TypeID},
				{Name: "fill_value", Type: TypeText},
				{Name: "filled", Type: TypeInt},
				{Name: "fallback", Type: TypeBool},
			},
			PrimaryKey: []string{"run_id", "column_name"},
		},
	}
}

// ColumnSeparator joins RunSummary.Columns into the columns field.
const ColumnSeparator = ","

// RunArgs returns the clean_runs values of s in column order. ts formats
// the start time for backends without a native timestamp type; nil passes
// time.Time through.
func RunArgs(s RunSummary, ts func(time.Time) any) []any {
	var started any = s.Started.UTC()
	if ts != nil {
		started = ts(s.Started)
	}
	return []any{
		s.RunID,
		s.Job,
		started,
		s.Duration.Milliseconds(),
		int64(s.RawRecords),
		int64(s.MalformedPayloads),
		int64(s.CoercionFailures),
		int64(s.Duplicates),
		int64(s.OutputRows),
		strings.Join(s.Columns, ColumnSeparator),
		nullString(s.ParquetPath),
		nullString(s.CSVPath),
	}
}

// SplitColumns reverses the join done by RunArgs.
func SplitColumns(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ColumnSeparator)
}

// FillArgs returns the clean_run_fills values of f in column order.
func FillArgs(runID string, f FillRecord) []any {
	return []any{runID, f.Column, f.Class, f.Value, int64(f.Filled), f.Fallback}
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
