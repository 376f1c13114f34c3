package clean

import (
	"context"
	"runtime"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/payload"
)

// Parsed pairs a raw record with its decoded payload.
type Parsed struct {
	Raw   batch.RawRecord
	Attrs payload.Attributes
}

// ParseStats counts payload outcomes.
type ParseStats struct {
	Records   int
	Malformed int // non-empty payloads that failed to parse
}

// Parse decodes the details payload of every record. Malformed payloads
// decode to an empty map.
func Parse(parts [][]batch.RawRecord) [][]Parsed {
	out, _, err := parsePartitions(context.Background(), parts, runtime.GOMAXPROCS(0))
	mustRun(err)
	return out
}

func parsePartitions(ctx context.Context, parts [][]batch.RawRecord, workers int) ([][]Parsed, ParseStats, error) {
	out := make([][]Parsed, len(parts))
	malformed := make([]int, len(parts))

	err := forEachPartition(ctx, len(parts), workers, func(_ context.Context, i int) error {
		recs := parts[i]
		ps := make([]Parsed, len(recs))
		for j, rec := range recs {
			ps[j].Raw = rec
			raw, ok := rec.Details.Str()
			if !ok {
				ps[j].Attrs = payload.Attributes{}
				continue
			}
			attrs, err := payload.ParseStrict(raw)
			if err != nil {
				malformed[i]++
				attrs = payload.Attributes{}
			}
			ps[j].Attrs = attrs
		}
		out[i] = ps
		return nil
	})
	if err != nil {
		return nil, ParseStats{}, err
	}

	var st ParseStats
	for i := range parts {
		st.Records += len(parts[i])
		st.Malformed += malformed[i]
	}
	return out, st, nil
}
