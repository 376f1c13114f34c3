// Package batch holds the in-memory record set that flows between cleaning
// stages: an ordered column list plus rows split into partitions.
//
// The schema of a Batch is only known once key discovery has run, so rows are
// positional slices aligned to Batch.Columns rather than fixed structs.
package batch

import (
	"math"
	"strconv"
)

// Kind is the variant carried by a Value.
type Kind uint8

const (
	// KindMissing marks an absent cell. It never collides with "" or 0.
	KindMissing Kind = iota
	KindString
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindString:
		return "string"
	case KindFloat:
		return "float64"
	case KindBool:
		return "bool"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single cell. The zero Value is missing.
type Value struct {
	kind Kind
	s    string
	f    float64
	b    bool
}

// Missing returns the missing marker.
func Missing() Value { return Value{} }

// String returns a string cell.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Float returns a float64 cell. NaN is stored as a float, not as missing;
// the imputer decides what NaN means.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean cell.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// StringOrMissing maps a nil pointer to missing.
func StringOrMissing(s *string) Value {
	if s == nil {
		return Missing()
	}
	return String(*s)
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Str returns the string payload and whether v is a string cell.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Float64 returns the float payload and whether v is a float cell.
func (v Value) Float64() (float64, bool) { return v.f, v.kind == KindFloat }

// BoolValue returns the bool payload and whether v is a bool cell.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// IsNaN reports whether v is a float cell holding NaN.
func (v Value) IsNaN() bool { return v.kind == KindFloat && math.IsNaN(v.f) }

// Equal compares kind and payload. Two NaN floats compare equal so that
// row comparison is reflexive.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindMissing:
		return true
	case KindString:
		return v.s == o.s
	case KindFloat:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	}
	return false
}

// Text renders the value for logs and text sinks. Missing renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// GoString helps test failure output.
func (v Value) GoString() string {
	switch v.kind {
	case KindMissing:
		return "batch.Missing()"
	case KindString:
		return "batch.String(" + strconv.Quote(v.s) + ")"
	case KindFloat:
		return "batch.Float(" + strconv.FormatFloat(v.f, 'g', -1, 64) + ")"
	case KindBool:
		return "batch.Bool(" + strconv.FormatBool(v.b) + ")"
	}
	return "batch.Value{}"
}
