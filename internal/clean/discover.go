package clean

import (
	"sort"

	"vehicleetl/internal/payload"
)

// DefaultSampleSize is the number of leading payloads inspected for keys.
const DefaultSampleSize = 1000

// Discover returns the union of keys over the first sampleSize maps, sorted.
// sampleSize <= 0 selects DefaultSampleSize. Keys that only appear after the
// sample window are not discovered.
func Discover(maps []payload.Attributes, sampleSize int) []string {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	if len(maps) > sampleSize {
		maps = maps[:sampleSize]
	}

	set := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			set[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sampleMaps returns the first n payloads in batch order (partition order,
// then row order).
func sampleMaps(parsed [][]Parsed, n int) []payload.Attributes {
	if n <= 0 {
		n = DefaultSampleSize
	}
	out := make([]payload.Attributes, 0, n)
	for _, part := range parsed {
		for _, p := range part {
			if len(out) == n {
				return out
			}
			out = append(out, p.Attrs)
		}
	}
	return out
}
