package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"vehicleetl/internal/batch"
)

// Separator joins canonical cell renderings (ASCII Unit Separator).
const Separator = "\x1f"

// RowKey returns a lowercase hex SHA-256 over the canonical rendering of
// every cell in r. Two rows have the same key iff they are batch.Row.Equal.
//
// Canonicalization rules:
//   - Missing is a single NUL byte, so missing differs from "".
//   - Strings are length-prefixed, so a string containing Separator cannot
//     forge a cell boundary.
//   - Floats use the shortest 'g' form; -0 folds into 0 and every NaN is "NaN".
//   - Each cell carries a kind tag, so "1" (string) and 1 (float) differ.
func RowKey(r batch.Row) string {
	var b strings.Builder
	var scratch [64]byte
	AppendRowKey(&b, r, &scratch)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// AppendRowKey writes the canonical pre-hash rendering of r into b.
func AppendRowKey(b *strings.Builder, r batch.Row, scratch *[64]byte) {
	for i, v := range r {
		if i > 0 {
			b.WriteString(Separator)
		}
		appendCanonicalValue(b, v, scratch)
	}
}

func appendCanonicalValue(b *strings.Builder, v batch.Value, scratch *[64]byte) {
	switch v.Kind() {
	case batch.KindMissing:
		b.WriteByte(0)

	case batch.KindString:
		s, _ := v.Str()
		b.WriteByte('s')
		b.Write(strconv.AppendInt(scratch[:0], int64(len(s)), 10))
		b.WriteByte(':')
		b.WriteString(s)

	case batch.KindFloat:
		f, _ := v.Float64()
		b.WriteByte('f')
		switch {
		case math.IsNaN(f):
			b.WriteString("NaN")
		case f == 0:
			b.WriteByte('0')
		default:
			b.Write(strconv.AppendFloat(scratch[:0], f, 'g', -1, 64))
		}

	case batch.KindBool:
		t, _ := v.BoolValue()
		if t {
			b.WriteString("btrue")
		} else {
			b.WriteString("bfalse")
		}
	}
}

// HasEdgeSpace reports whether s starts or ends with a space or tab. It is a
// cheap guard before strings.TrimSpace in hot loops.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t'
}
