package clean

import (
	"context"
	"math"
	"reflect"
	"testing"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/payload"
	"vehicleetl/internal/schema"
)

// raw builds a record the way the CSV reader does: empty fields are missing.
func raw(ts, file, details string) batch.RawRecord {
	cell := func(s string) batch.Value {
		if s == "" {
			return batch.Missing()
		}
		return batch.String(s)
	}
	return batch.RawRecord{Timestamp: cell(ts), Filename: cell(file), Details: cell(details)}
}

func strp(s string) *string { return &s }

func col(t *testing.T, b *batch.Batch, name string) []batch.Value {
	t.Helper()
	i := b.ColumnIndex(name)
	if i < 0 {
		t.Fatalf("column %q not in %v", name, b.Columns)
	}
	var out []batch.Value
	for _, r := range b.Rows() {
		out = append(out, r[i])
	}
	return out
}

func speedPolicy() schema.Policy {
	return schema.Policy{Columns: []schema.Column{{Name: "speed", Class: schema.Numeric}}}
}

func TestParse_MalformedCounted(t *testing.T) {
	t.Parallel()

	parts := [][]batch.RawRecord{
		{raw("t0", "f", "{'speed': 50}"), raw("t1", "f", "{'speed': 50")},
		{raw("t2", "f", ""), raw("t3", "f", "   ")},
	}
	parsed, st, err := parsePartitions(context.Background(), parts, 2)
	if err != nil {
		t.Fatalf("parsePartitions: %v", err)
	}
	if st.Records != 4 || st.Malformed != 1 {
		t.Fatalf("stats = %+v, want 4 records / 1 malformed", st)
	}
	if got := parsed[0][0].Attrs; len(got) != 1 || *got["speed"] != "50" {
		t.Fatalf("parsed[0][0] = %#v", got)
	}
	for _, p := range []Parsed{parsed[0][1], parsed[1][0], parsed[1][1]} {
		if p.Attrs == nil || len(p.Attrs) != 0 {
			t.Fatalf("expected empty non-nil map, got %#v", p.Attrs)
		}
	}
	if !reflect.DeepEqual(Parse(parts)[0][0].Attrs.Keys(), []string{"speed"}) {
		t.Fatalf("Parse wrapper disagrees with parsePartitions")
	}
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	maps := []payload.Attributes{
		{"zone_label": strp("a"), "class_name": strp("car")},
		{},
		{"estimated_speed": nil},
		{"late_key": strp("x")},
	}

	tests := []struct {
		name   string
		maps   []payload.Attributes
		sample int
		want   []string
	}{
		{"sorted union", maps, 0, []string{"class_name", "estimated_speed", "late_key", "zone_label"}},
		{"sample window", maps, 3, []string{"class_name", "estimated_speed", "zone_label"}},
		{"empty maps count toward the window", maps, 2, []string{"class_name", "zone_label"}},
		{"no maps", nil, 10, []string{}},
		{"all empty", []payload.Attributes{{}, {}}, 10, []string{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Discover(tt.maps, tt.sample); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Discover() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSampleMaps_BatchOrder(t *testing.T) {
	t.Parallel()

	parsed := [][]Parsed{
		{{Attrs: payload.Attributes{"a": nil}}},
		{{Attrs: payload.Attributes{"b": nil}}, {Attrs: payload.Attributes{"c": nil}}},
	}
	got := Discover(sampleMaps(parsed, 2), 2)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("keys = %v, want [a b]", got)
	}
}

func TestProject_SchemaIsBasePlusKeys(t *testing.T) {
	t.Parallel()

	parsed := Parse([][]batch.RawRecord{{
		raw("t0", "f0", "{'speed': 50, 'zone_label': None}"),
		raw("t1", "f1", "{'class_name': 'car'}"),
		raw("t2", "", "not a dict"),
	}})
	keys := []string{"class_name", "speed", "zone_label"}
	b := Project(parsed, keys)

	want := []string{"timestamp", "filename", "class_name", "speed", "zone_label"}
	if !reflect.DeepEqual(b.Columns, want) {
		t.Fatalf("Columns = %v, want %v", b.Columns, want)
	}
	for _, r := range b.Rows() {
		if len(r) != len(want) {
			t.Fatalf("row width %d, want %d", len(r), len(want))
		}
	}
	for _, k := range b.Types {
		if k != batch.KindString {
			t.Fatalf("projected types must be strings, got %v", b.Types)
		}
	}

	speed := col(t, b, "speed")
	if s, _ := speed[0].Str(); s != "50" || !speed[1].IsMissing() || !speed[2].IsMissing() {
		t.Fatalf("speed = %#v", speed)
	}
	if zl := col(t, b, "zone_label"); !zl[0].IsMissing() {
		t.Fatalf("None must project to missing, got %#v", zl[0])
	}
	if fn := col(t, b, "filename"); !fn[2].IsMissing() {
		t.Fatalf("missing filename must stay missing, got %#v", fn[2])
	}
}

func TestProject_EmptyStringKeyKeepsValue(t *testing.T) {
	t.Parallel()

	parsed := Parse([][]batch.RawRecord{{
		raw("t0", "f0", "{'': 'x', 'a': 1}"),
		raw("t1", "f1", "{'a': 2}"),
	}})
	keys := Discover(sampleMaps(parsed, 0), 0)
	if !reflect.DeepEqual(keys, []string{"", "a"}) {
		t.Fatalf("keys = %q", keys)
	}
	b := Project(parsed, keys)

	want := []string{"timestamp", "filename", "", "a"}
	if !reflect.DeepEqual(b.Columns, want) {
		t.Fatalf("Columns = %q, want %q", b.Columns, want)
	}
	empty := col(t, b, "")
	if s, _ := empty[0].Str(); s != "x" {
		t.Fatalf("''[0] = %#v, want x", empty[0])
	}
	if !empty[1].IsMissing() {
		t.Fatalf("''[1] = %#v, want missing", empty[1])
	}
	if ts := col(t, b, "timestamp"); ts[0].Text() != "t0" {
		t.Fatalf("timestamp[0] = %#v", ts[0])
	}
}

func TestProject_KeyNamedLikeBaseColumnTakesOver(t *testing.T) {
	t.Parallel()

	parsed := Parse([][]batch.RawRecord{{
		raw("t0", "f0", "{'filename': 'inner.mp4'}"),
		raw("t1", "f1", "{}"),
	}})
	b := Project(parsed, []string{"filename"})

	if !reflect.DeepEqual(b.Columns, []string{"timestamp", "filename"}) {
		t.Fatalf("Columns = %v", b.Columns)
	}
	fn := col(t, b, "filename")
	if s, _ := fn[0].Str(); s != "inner.mp4" {
		t.Fatalf("filename[0] = %#v, want inner.mp4", fn[0])
	}
	if !fn[1].IsMissing() {
		t.Fatalf("filename[1] = %#v, want missing", fn[1])
	}
	if ts := col(t, b, "timestamp"); ts[1].Text() != "t1" {
		t.Fatalf("timestamp must come from the raw record")
	}
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	policy := schema.Policy{Columns: []schema.Column{
		{Name: "speed", Class: schema.Numeric},
		{Name: "last", Class: schema.Boolean},
		{Name: "label", Class: schema.Categorical},
		{Name: "absent", Class: schema.Numeric},
	}}

	tests := []struct {
		column string
		in     batch.Value
		want   batch.Value
		fails  int
	}{
		{"speed", batch.String("50"), batch.Float(50), 0},
		{"speed", batch.String(" 42.5 "), batch.Float(42.5), 0},
		{"speed", batch.String("1e+20"), batch.Float(1e20), 0},
		{"speed", batch.String(""), batch.Missing(), 0},
		{"speed", batch.String("   "), batch.Missing(), 0},
		{"speed", batch.Missing(), batch.Missing(), 0},
		{"speed", batch.String("fast"), batch.Missing(), 1},
		{"speed", batch.String("True"), batch.Missing(), 1},
		{"speed", batch.String("[1, 2]"), batch.Missing(), 1},
		{"speed", batch.Float(3), batch.Float(3), 0},
		{"last", batch.String("True"), batch.Bool(true), 0},
		{"last", batch.String("no"), batch.Bool(false), 0},
		{"last", batch.String("0"), batch.Bool(false), 0},
		{"last", batch.String(""), batch.Missing(), 0},
		{"last", batch.String("maybe"), batch.Missing(), 1},
		{"label", batch.String(""), batch.String(""), 0},
		{"label", batch.String(" car "), batch.String(" car "), 0},
		{"other", batch.String(" 7 "), batch.String(" 7 "), 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.column+"/"+tt.in.GoString(), func(t *testing.T) {
			t.Parallel()
			b := batch.New([]string{"speed", "last", "label", "other"}, 1)
			row := make(batch.Row, 4)
			row[b.ColumnIndex(tt.column)] = tt.in
			b.Partitions[0] = []batch.Row{row}

			out, st, err := coerce(context.Background(), b, policy, 1)
			if err != nil {
				t.Fatalf("coerce: %v", err)
			}
			got := out.Partitions[0][0][out.ColumnIndex(tt.column)]
			if !got.Equal(tt.want) {
				t.Fatalf("coerce(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
			if st.Total() != tt.fails {
				t.Fatalf("failures = %d, want %d", st.Total(), tt.fails)
			}
			if _, ok := st.Failures["absent"]; ok {
				t.Fatalf("absent policy columns must be skipped")
			}
		})
	}
}

func TestCoerce_NaNAndTypes(t *testing.T) {
	t.Parallel()

	b := batch.New([]string{"speed", "last", "label"}, 1)
	b.Partitions[0] = []batch.Row{{batch.String("NaN"), batch.String("y"), batch.String("car")}}
	policy := schema.Policy{Columns: []schema.Column{
		{Name: "speed", Class: schema.Numeric},
		{Name: "last", Class: schema.Boolean},
		{Name: "label", Class: schema.Categorical},
	}}

	out := Coerce(b, policy)
	if !out.Partitions[0][0][0].IsNaN() {
		t.Fatalf("NaN literal must coerce to a NaN float, got %#v", out.Partitions[0][0][0])
	}
	want := []batch.Kind{batch.KindFloat, batch.KindBool, batch.KindString}
	if !reflect.DeepEqual(out.Types, want) {
		t.Fatalf("Types = %v, want %v", out.Types, want)
	}
	if s, _ := b.Partitions[0][0][0].Str(); s != "NaN" {
		t.Fatalf("Coerce must not mutate its input")
	}
}

func TestImpute_NumericMedian(t *testing.T) {
	t.Parallel()

	b := batch.New([]string{"speed"}, 2)
	b.Types[0] = batch.KindFloat
	b.Partitions[0] = []batch.Row{{batch.Float(10)}, {batch.Missing()}, {batch.Float(40)}}
	b.Partitions[1] = []batch.Row{{batch.Float(20)}, {batch.Float(math.NaN())}, {batch.Float(30)}}

	out, stats := Impute(b, speedPolicy())

	// Observed: 10, 20, 30, 40. Lower median 20.
	if len(stats) != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	st := stats[0]
	if f, _ := st.Fill.Float64(); f != 20 {
		t.Fatalf("fill = %#v, want 20", st.Fill)
	}
	if st.NonMissing != 4 || st.Filled != 2 || st.Fallback {
		t.Fatalf("stat = %+v", st)
	}

	below, above := 0, 0
	for _, v := range col(t, out, "speed") {
		f, ok := v.Float64()
		if !ok || math.IsNaN(f) {
			t.Fatalf("cell not filled: %#v", v)
		}
		if f < 10 || f > 40 {
			t.Fatalf("fill %v outside observed range", f)
		}
		if f <= 20 {
			below++
		}
		if f >= 20 {
			above++
		}
	}
	if below*2 < 4 || above*2 < 4 {
		t.Fatalf("median property violated: below=%d above=%d", below, above)
	}
}

func TestMedian_OddAndEven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []float64
		want float64
	}{
		{[]float64{5}, 5},
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2},
		{[]float64{-1, math.Inf(1)}, -1},
	}
	for _, tt := range tests {
		if got := median(append([]float64(nil), tt.in...)); got != tt.want {
			t.Fatalf("median(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestImpute_CategoricalMode(t *testing.T) {
	t.Parallel()

	policy := schema.Policy{Columns: []schema.Column{{Name: "class_name", Class: schema.Categorical}}}

	b := batch.New([]string{"class_name"}, 3)
	b.Partitions[0] = []batch.Row{{batch.String("truck")}, {batch.Missing()}}
	b.Partitions[1] = []batch.Row{{batch.String("car")}, {batch.String("car")}}
	b.Partitions[2] = []batch.Row{{batch.String("truck")}, {batch.Missing()}}

	out, stats := Impute(b, policy)
	// truck and car tie at 2; truck was seen first.
	if s, _ := stats[0].Fill.Str(); s != "truck" {
		t.Fatalf("mode = %#v, want truck", stats[0].Fill)
	}
	if stats[0].Filled != 2 || stats[0].NonMissing != 4 {
		t.Fatalf("stat = %+v", stats[0])
	}

	counts := map[string]int{}
	for _, v := range col(t, out, "class_name") {
		s, ok := v.Str()
		if !ok {
			t.Fatalf("cell not filled: %#v", v)
		}
		counts[s]++
	}
	for v, n := range counts {
		if n > counts["truck"] {
			t.Fatalf("fill truck is not a maximal-frequency value: %s has %d", v, n)
		}
	}
}

func TestModeOf_TieBreakIsStable(t *testing.T) {
	t.Parallel()

	counts := map[string]int{"a": 2, "b": 2, "c": 2, "d": 1}
	first := map[string]rowSpot{"a": {1, 0}, "b": {0, 5}, "c": {0, 7}, "d": {0, 0}}
	for i := 0; i < 20; i++ {
		if got, _ := modeOf(counts, first); got != "b" {
			t.Fatalf("modeOf = %q, want b", got)
		}
	}
}

func TestImpute_Fallbacks(t *testing.T) {
	t.Parallel()

	policy := schema.Policy{Columns: []schema.Column{
		{Name: "speed", Class: schema.Numeric},
		{Name: "zone", Class: schema.Categorical},
		{Name: "last", Class: schema.Boolean},
	}}
	b := batch.New([]string{"speed", "zone", "last"}, 1)
	b.Partitions[0] = []batch.Row{
		{batch.Missing(), batch.Missing(), batch.Missing()},
		{batch.Float(math.NaN()), batch.Missing(), batch.Bool(true)},
	}

	out, stats := Impute(b, policy)
	if len(stats) != 2 {
		t.Fatalf("boolean columns must not be imputed: %+v", stats)
	}
	for _, v := range col(t, out, "speed") {
		if f, ok := v.Float64(); !ok || f != 0 {
			t.Fatalf("speed fallback = %#v, want 0", v)
		}
	}
	for _, v := range col(t, out, "zone") {
		if s, ok := v.Str(); !ok || s != "unknown" {
			t.Fatalf("zone fallback = %#v, want unknown", v)
		}
	}
	if last := col(t, out, "last"); !last[0].IsMissing() {
		t.Fatalf("boolean cell must stay missing, got %#v", last[0])
	}
	for _, st := range stats {
		if !st.Fallback {
			t.Fatalf("expected fallback for %s", st.Column)
		}
	}
}

func TestDedup(t *testing.T) {
	t.Parallel()

	row := func(ts string, speed float64) batch.Row {
		return batch.Row{batch.String(ts), batch.Float(speed)}
	}
	b := batch.New([]string{"timestamp", "speed"}, 3)
	b.Partitions[0] = []batch.Row{row("t0", 1), row("t1", 2)}
	b.Partitions[1] = []batch.Row{row("t0", 1), row("t2", 3)}
	b.Partitions[2] = []batch.Row{row("t1", 2), row("t0", 1), {batch.String("t0"), batch.Missing()}}

	out, removed := Dedup(b)
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if out.Len() != 4 {
		t.Fatalf("len = %d, want 4", out.Len())
	}
	rows := out.Rows()
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			if rows[i].Equal(rows[j]) {
				t.Fatalf("duplicate rows survived: %#v", rows[i])
			}
		}
	}

	again, removed2 := Dedup(out)
	if removed2 != 0 || again.Len() != out.Len() {
		t.Fatalf("Dedup not idempotent: removed %d, len %d -> %d", removed2, out.Len(), again.Len())
	}
}

func TestDedup_EmptyBatch(t *testing.T) {
	t.Parallel()

	out, removed := Dedup(batch.New([]string{"timestamp"}, 4))
	if removed != 0 || out.Len() != 0 {
		t.Fatalf("Dedup(empty) = %d rows, %d removed", out.Len(), removed)
	}
	if !reflect.DeepEqual(out.Columns, []string{"timestamp"}) {
		t.Fatalf("schema lost: %v", out.Columns)
	}
}
