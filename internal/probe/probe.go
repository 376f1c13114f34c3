// Package probe samples a raw detection feed and reports which payload keys
// it carries.
//
// The report covers, per key, the share of sampled payloads containing it,
// the number of distinct values and a guessed class. The guessed classes
// become a suggested schema.Policy that can be pasted into a pipeline config.
//
// With Full set the rest of the input is scanned too and keys that only
// appear after the sample window are listed. Those keys are exactly the ones
// a cleaning run with the same sample size would drop.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/config"
	"vehicleetl/internal/datasource/file"
	csvparser "vehicleetl/internal/parser/csv"
	jsonparser "vehicleetl/internal/parser/json"
	"vehicleetl/internal/payload"
	"vehicleetl/internal/schema"
	"vehicleetl/internal/transformer"
)

// DefaultSample matches the cleaning job's discovery sample.
const DefaultSample = config.DefaultSampleSize

// maxDistinct caps the per-key distinct set.
const maxDistinct = 10000

// Options control sampling.
type Options struct {
	// Path is a file, directory or glob, as in a file source.
	Path string
	// Encoding is an optional text encoding label (see datasource/file).
	Encoding string
	// Format is the raw record format, "csv" (default) or "json".
	Format string
	// Parser holds parser options (has_header, columns, comma, ...).
	Parser config.Options
	// Sample is how many leading records are profiled. Zero selects
	// DefaultSample.
	Sample int
	// Full scans the whole input for keys first seen after the sample.
	Full bool
}

// KeyStat profiles one payload key within the sample.
type KeyStat struct {
	Name     string       `json:"name"`
	Present  int          `json:"present"`  // payloads containing the key
	None     int          `json:"none"`     // of which the value was None
	Coverage float64      `json:"coverage"` // Present / sampled records
	Distinct int          `json:"distinct"`
	Capped   bool         `json:"capped,omitempty"`
	Class    schema.Class `json:"class"`
}

// LateKey is a key first seen after the sample window.
type LateKey struct {
	Name      string `json:"name"`
	FirstSeen int    `json:"first_seen"` // 1-based record index
	Count     int    `json:"count"`
}

// Report is the probe result.
type Report struct {
	Records   int       `json:"records"` // records read (all of them with Full)
	Sampled   int       `json:"sampled"`
	Empty     int       `json:"empty"`     // sampled records without a payload
	Malformed int       `json:"malformed"` // sampled payloads that failed to parse
	BadLines  int       `json:"bad_lines"`
	Keys      []KeyStat `json:"keys"`
	LateKeys  []LateKey `json:"late_keys,omitempty"`
	Full      bool      `json:"full"`
}

// Policy returns the suggested policy for the sampled keys, in key order.
func (r Report) Policy() schema.Policy {
	cols := make([]schema.Column, 0, len(r.Keys))
	for _, k := range r.Keys {
		cols = append(cols, schema.Column{Name: k.Name, Class: k.Class})
	}
	return schema.Policy{Columns: cols}
}

// keyAcc accumulates one key.
type keyAcc struct {
	present, none int
	distinct      map[string]struct{}
	capped        bool
	inf           inference
}

// errEnough stops the record stream once the sample is complete.
var errEnough = errors.New("probe: sample complete")

// Run profiles the input described by opt.
func Run(ctx context.Context, opt Options) (Report, error) {
	var rep Report
	if opt.Path == "" {
		return rep, fmt.Errorf("probe: empty path")
	}
	sample := opt.Sample
	if sample <= 0 {
		sample = DefaultSample
	}
	rep.Full = opt.Full

	var stream streamFunc
	switch opt.Format {
	case "", "csv":
		stream = csvparser.StreamRawRows
	case "json":
		stream = jsonparser.StreamRawRows
	default:
		return rep, fmt.Errorf("probe: unsupported format %q", opt.Format)
	}

	src := file.NewLocal(opt.Path).WithEncoding(opt.Encoding)
	names, err := src.Files()
	if err != nil {
		return rep, err
	}

	accs := make(map[string]*keyAcc)
	late := make(map[string]*LateKey)

	visit := func(raw batch.RawRecord) error {
		rep.Records++
		inSample := rep.Records <= sample
		if !inSample && !opt.Full {
			return errEnough
		}

		details, _ := raw.Details.Str()
		if inSample {
			rep.Sampled++
			if details == "" {
				rep.Empty++
				return nil
			}
		}
		attrs, err := payload.ParseStrict(details)
		if err != nil {
			if inSample {
				rep.Malformed++
			}
			return nil
		}

		if !inSample {
			for k := range attrs {
				if _, known := accs[k]; known {
					continue
				}
				lk, ok := late[k]
				if !ok {
					lk = &LateKey{Name: k, FirstSeen: rep.Records}
					late[k] = lk
				}
				lk.Count++
			}
			return nil
		}

		for k, v := range attrs {
			acc, ok := accs[k]
			if !ok {
				acc = &keyAcc{distinct: make(map[string]struct{})}
				accs[k] = acc
			}
			acc.present++
			if v == nil {
				acc.none++
				continue
			}
			acc.inf.observe(*v)
			if !acc.capped {
				acc.distinct[*v] = struct{}{}
				if len(acc.distinct) >= maxDistinct {
					acc.capped = true
				}
			}
		}
		return nil
	}

	for _, name := range names {
		rc, err := src.OpenFile(ctx, name)
		if err != nil {
			return rep, err
		}
		err = streamFile(ctx, stream, rc, opt.Parser, visit, func(int, error) { rep.BadLines++ })
		if errors.Is(err, errEnough) {
			break
		}
		if err != nil {
			return rep, fmt.Errorf("%s: %w", name, err)
		}
	}

	rep.Keys = make([]KeyStat, 0, len(accs))
	for name, acc := range accs {
		ks := KeyStat{
			Name:     name,
			Present:  acc.present,
			None:     acc.none,
			Distinct: len(acc.distinct),
			Capped:   acc.capped,
			Class:    acc.inf.class(),
		}
		if rep.Sampled > 0 {
			ks.Coverage = float64(acc.present) / float64(rep.Sampled)
		}
		rep.Keys = append(rep.Keys, ks)
	}
	sort.Slice(rep.Keys, func(i, j int) bool { return rep.Keys[i].Name < rep.Keys[j].Name })

	for _, lk := range late {
		rep.LateKeys = append(rep.LateKeys, *lk)
	}
	sort.Slice(rep.LateKeys, func(i, j int) bool {
		if rep.LateKeys[i].FirstSeen == rep.LateKeys[j].FirstSeen {
			return rep.LateKeys[i].Name < rep.LateKeys[j].Name
		}
		return rep.LateKeys[i].FirstSeen < rep.LateKeys[j].FirstSeen
	})
	return rep, nil
}

type streamFunc func(ctx context.Context, src io.ReadCloser, opt config.Options, out chan<- *transformer.Row, onErr func(int, error)) error

// streamFile feeds every record of one file to visit. A non-nil error from
// visit stops the stream and is returned.
func streamFile(ctx context.Context, stream streamFunc, rc io.ReadCloser, opt config.Options, visit func(batch.RawRecord) error, onErr func(int, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan *transformer.Row, 256)
	done := make(chan error, 1)
	go func() {
		defer close(rows)
		done <- stream(ctx, rc, opt, rows, onErr)
	}()

	var stop error
	for r := range rows {
		if stop == nil {
			stop = visit(r.Raw())
			if stop != nil {
				cancel()
			}
		}
		r.Free()
	}
	err := <-done
	if stop != nil {
		return stop
	}
	return err
}
