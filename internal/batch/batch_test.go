package batch

import (
	"math"
	"testing"
)

func TestValue_MissingIsDistinct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    Value
	}{
		{"empty string", String("")},
		{"zero float", Float(0)},
		{"false", Bool(false)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.v.IsMissing() {
				t.Fatalf("%#v reported missing", tt.v)
			}
			if tt.v.Equal(Missing()) {
				t.Fatalf("%#v equals Missing()", tt.v)
			}
		})
	}

	var zero Value
	if !zero.IsMissing() {
		t.Fatalf("zero Value must be missing")
	}
}

func TestValue_EqualTreatsNaNAsEqual(t *testing.T) {
	t.Parallel()

	a := Float(math.NaN())
	b := Float(math.NaN())
	if !a.Equal(b) {
		t.Fatalf("NaN cells must compare equal for row comparison")
	}
	if !a.IsNaN() {
		t.Fatalf("IsNaN() = false, want true")
	}
	if Float(1).Equal(String("1")) {
		t.Fatalf("float and string cells must differ")
	}
}

func TestStringOrMissing(t *testing.T) {
	t.Parallel()

	if !StringOrMissing(nil).IsMissing() {
		t.Fatalf("nil pointer must map to missing")
	}
	s := "bus"
	got, ok := StringOrMissing(&s).Str()
	if !ok || got != "bus" {
		t.Fatalf("StringOrMissing(&%q) = %q,%v", s, got, ok)
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		items []int
		n     int
		sizes []int
	}{
		{"even", []int{1, 2, 3, 4}, 2, []int{2, 2}},
		{"remainder goes first", []int{1, 2, 3, 4, 5}, 2, []int{3, 2}},
		{"more parts than items", []int{1, 2}, 8, []int{1, 1}},
		{"empty", nil, 4, []int{0}},
		{"non-positive n", []int{1, 2, 3}, 0, []int{3}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Split(tt.items, tt.n)
			if len(got) != len(tt.sizes) {
				t.Fatalf("Split() returned %d parts, want %d", len(got), len(tt.sizes))
			}
			next := 1
			for i, p := range got {
				if len(p) != tt.sizes[i] {
					t.Fatalf("part %d has %d items, want %d", i, len(p), tt.sizes[i])
				}
				for _, v := range p {
					if v != next {
						t.Fatalf("order broken: got %d, want %d", v, next)
					}
					next++
				}
			}
		})
	}
}

func TestBatch_LenAndRows(t *testing.T) {
	t.Parallel()

	b := New([]string{ColTimestamp, ColFilename}, 3)
	b.Partitions[0] = []Row{{String("t1"), String("f1")}}
	b.Partitions[2] = []Row{{String("t2"), Missing()}, {String("t3"), String("f3")}}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	rows := b.Rows()
	if ts, _ := rows[1][0].Str(); ts != "t2" {
		t.Fatalf("Rows() order broken, row 1 timestamp = %q", ts)
	}
	if b.ColumnIndex(ColFilename) != 1 || b.ColumnIndex("nope") != -1 {
		t.Fatalf("ColumnIndex mismatch")
	}
	if b.Types[0] != KindString {
		t.Fatalf("New() must default types to string")
	}
}
