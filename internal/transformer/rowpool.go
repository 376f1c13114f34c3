// Package transformer holds the row plumbing shared by the parser and the
// cleaning stages: a pooled raw row and the canonical row key.
package transformer

import (
	"sync"

	"vehicleetl/internal/batch"
)

// Row is a pooled positional row produced by a parser.
//
// Ownership contract:
//   - Exactly one goroutine "owns" a Row at a time.
//   - A Row may be passed downstream via channels (ownership transfer).
//   - The final consumer must call Free() after it is done with r.V.
//
// On ctx cancellation use Drop() instead of Free(): a canceled consumer may
// still be reading r.V while the producer unwinds, and a re-pooled Row could
// be handed out again underneath it.
type Row struct {
	V    []batch.Value
	Line int // 1-based physical record number, if known
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount. All cells are missing.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]batch.Value, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = batch.Missing()
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]batch.Value, colCount)}
}

// Free returns the Row to the pool.
// Call this ONLY when you're sure no other goroutine can observe r or r.V.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row WITHOUT returning it to the pool.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}

// Raw converts a three-column parser row into a RawRecord. Short rows read
// as missing.
func (r *Row) Raw() batch.RawRecord {
	rec := batch.RawRecord{Line: r.Line}
	if len(r.V) > 0 {
		rec.Timestamp = r.V[0]
	}
	if len(r.V) > 1 {
		rec.Filename = r.V[1]
	}
	if len(r.V) > 2 {
		rec.Details = r.V[2]
	}
	return rec
}
