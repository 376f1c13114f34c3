package batch

// Base column names present in every projected record.
const (
	ColTimestamp = "timestamp"
	ColFilename  = "filename"
)

// BaseColumns returns the fixed leading columns of a projected record.
func BaseColumns() []string { return []string{ColTimestamp, ColFilename} }

// RawRecord is one input line as delivered by the ingestion collaborator.
// Line is the 1-based physical line of the record in its file, if known.
type RawRecord struct {
	Timestamp Value
	Filename  Value
	Details   Value
	Line      int
}

// Row is positional and aligned to Batch.Columns.
type Row []Value

// Clone returns a copy that does not share the backing array.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Equal reports whether both rows hold the same values in every column.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Batch is a partitioned record set with a run-time schema.
//
// Ownership: a stage receives a Batch, builds a new one and hands it on. A
// stage must not keep or mutate its input after returning.
type Batch struct {
	// Columns is the stable column order for every row and every sink.
	Columns []string
	// Types is the declared cell kind per column (KindString, KindFloat or
	// KindBool). Cells may still be missing.
	Types []Kind
	// Partitions hold the rows. Partition boundaries carry no meaning beyond
	// the unit of parallel work.
	Partitions [][]Row
}

// New returns an empty batch with string-typed columns and n partitions.
func New(columns []string, n int) *Batch {
	if n < 1 {
		n = 1
	}
	types := make([]Kind, len(columns))
	for i := range types {
		types[i] = KindString
	}
	return &Batch{
		Columns:    append([]string(nil), columns...),
		Types:      types,
		Partitions: make([][]Row, n),
	}
}

// Len returns the total row count across partitions.
func (b *Batch) Len() int {
	n := 0
	for _, p := range b.Partitions {
		n += len(p)
	}
	return n
}

// ColumnIndex returns the position of name in Columns, or -1.
func (b *Batch) ColumnIndex(name string) int {
	for i, c := range b.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Rows returns all rows in partition order. The rows are shared, not copied.
func (b *Batch) Rows() []Row {
	out := make([]Row, 0, b.Len())
	for _, p := range b.Partitions {
		out = append(out, p...)
	}
	return out
}

// WithPartitions returns a batch sharing b's schema with new partitions.
func (b *Batch) WithPartitions(parts [][]Row) *Batch {
	return &Batch{
		Columns:    append([]string(nil), b.Columns...),
		Types:      append([]Kind(nil), b.Types...),
		Partitions: parts,
	}
}

// Split divides items into n contiguous chunks of near-equal size, keeping
// order. Fewer than n chunks are returned when there are fewer items.
func Split[T any](items []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	if len(items) == 0 {
		return [][]T{nil}
	}
	if n > len(items) {
		n = len(items)
	}
	out := make([][]T, 0, n)
	size := len(items) / n
	rem := len(items) % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		out = append(out, items[start:end:end])
		start = end
	}
	return out
}
