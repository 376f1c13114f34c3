// Package json reads raw detection records from JSON.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/sync/errgroup"

	"vehicleetl/internal/batch"
	"vehicleetl/internal/config"
	"vehicleetl/internal/payload"
	"vehicleetl/internal/transformer"
)

// RawColumns is the positional layout of a raw record.
var RawColumns = []string{batch.ColTimestamp, batch.ColFilename, "details"}

// StreamRawRows parses JSON from src and streams one *transformer.Row per
// record object, laid out as RawColumns.
//
// Streaming behavior:
//   - If the root is a JSON array, it streams each object element one-by-one.
//   - If the root is a JSON object and contains an array-of-objects field, it
//     streams the first such array field one-by-one (envelope pattern).
//   - If the root is a single object with no array-of-objects fields, it emits
//     one record.
//   - Objects following the root value are read as JSON lines.
//
// Options:
//   - columns: object keys for timestamp, filename and details, in that order.
//   - header_map: renames object keys before matching.
//
// A details value that is an object or array is rendered as a payload
// literal; a string is taken as is. Scalars elsewhere are stringified and
// null or "" is missing.
//
// A syntax error ends the stream: JSON cannot resynchronise mid-document.
// It is reported through onErr and returned.
func StreamRawRows(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	dec := json.NewDecoder(src)
	dec.UseNumber()

	names := opt.StringSlice("columns")
	if len(names) != len(RawColumns) {
		names = RawColumns
	}
	rev := reverseHeaderMap(opt.StringMap("header_map"))

	line := 0

	emitObject := func(obj map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		row := transformer.GetRow(len(RawColumns))
		row.Line = line
		for i, name := range names {
			v, ok := obj[name]
			if !ok {
				if orig, ok2 := rev[name]; ok2 {
					v = obj[orig]
				}
			}
			row.V[i] = cell(v, i == 2)
		}

		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}

	// Peek the first token so we can stream arrays/envelopes without buffering.
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		if onErr != nil {
			onErr(0, err)
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}
	switch d {
	case '[':
		if err := streamArrayOfObjects(ctx, dec, emitObject, onErr, &line); err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("json: read array end: %w", err)
		} else if end != json.Delim(']') {
			return fmt.Errorf("json: expected array end ']', got %v", end)
		}
		return streamTrailingObjects(ctx, dec, emitObject, onErr, &line)

	case '{':
		streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emitObject, onErr, &line)
		if err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("json: read object end: %w", err)
		} else if end != json.Delim('}') {
			return fmt.Errorf("json: expected object end '}', got %v", end)
		}
		if !streamed && single != nil {
			if err := emitObject(single); err != nil {
				return err
			}
		}
		return streamTrailingObjects(ctx, dec, emitObject, onErr, &line)
	}
	return fmt.Errorf("json: unsupported root delimiter %q", d)
}

// ReadRawRecords drains StreamRawRows into a slice, preserving input order.
func ReadRawRecords(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	onErr func(line int, err error),
) ([]batch.RawRecord, error) {
	g, gctx := errgroup.WithContext(ctx)
	rows := make(chan *transformer.Row, 256)

	g.Go(func() error {
		defer close(rows)
		return StreamRawRows(gctx, src, opt, rows, onErr)
	})

	var out []batch.RawRecord
	g.Go(func() error {
		for r := range rows {
			out = append(out, r.Raw())
			r.Free()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// cell converts one decoded JSON value into a raw cell.
func cell(v any, details bool) batch.Value {
	switch t := v.(type) {
	case nil:
		return batch.Missing()
	case string:
		if t == "" {
			return batch.Missing()
		}
		return batch.String(t)
	case json.Number:
		return batch.String(t.String())
	case bool:
		return batch.String(strconv.FormatBool(t))
	case map[string]any, []any:
		if details {
			return batch.String(payload.Literal(t))
		}
		b, err := json.Marshal(t)
		if err != nil {
			return batch.Missing()
		}
		return batch.String(string(b))
	}
	return batch.String(fmt.Sprint(v))
}

func streamTrailingObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	onErr func(line int, err error),
	line *int,
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			if onErr != nil {
				onErr(*line+1, err)
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamArrayOfObjects streams elements of the current array (after '[' has
// been consumed). Every element must be an object; nulls are skipped.
func streamArrayOfObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	onErr func(line int, err error),
	line *int,
) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			if onErr != nil {
				onErr(*line+1, err)
			}
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			err := fmt.Errorf("json: array element not an object (got %T)", raw)
			if onErr != nil {
				onErr(*line+1, err)
			}
			return err
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object (after '{' has been consumed).
//
// The first field whose value is an array is streamed as records and the
// rest of the object is skipped. Without such a field the object itself is
// returned as the single record.
func streamEnvelopeOrSingle(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	onErr func(line int, err error),
	line *int,
) (streamed bool, single map[string]any, _ error) {
	single = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			if onErr != nil {
				onErr(*line+1, err)
			}
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			if onErr != nil {
				onErr(*line+1, err)
			}
			return false, nil, fmt.Errorf("json: read object value token: %w", err)
		}

		if delim, ok := valTok.(json.Delim); ok && delim == '[' {
			if err := streamArrayOfObjects(ctx, dec, emit, onErr, line); err != nil {
				return false, nil, err
			}
			endTok, err := dec.Token()
			if err != nil {
				return false, nil, fmt.Errorf("json: read envelope array end: %w", err)
			}
			if endTok != json.Delim(']') {
				return false, nil, fmt.Errorf("json: expected ']' after envelope array, got %v", endTok)
			}

			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}

		val, err := materializeValueFromFirstToken(dec, valTok)
		if err != nil {
			if onErr != nil {
				onErr(*line+1, err)
			}
			return false, nil, err
		}
		single[key] = val
	}

	return false, single, nil
}

// skipNextValue skips the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	var want json.Delim
	switch d {
	case '{':
		want = '}'
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
	case '[':
		want = ']'
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}

	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip end: %w", err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}

// materializeValueFromFirstToken builds a Go value for the current JSON value,
// given its first token. Only used for a single root object record.
func materializeValueFromFirstToken(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested object key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: nested object key not string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested object value token: %w", err)
			}
			v, err := materializeValueFromFirstToken(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if end, err := dec.Token(); err != nil || end != json.Delim('}') {
			return nil, fmt.Errorf("json: expected '}', got %v (%v)", end, err)
		}
		return m, nil

	case '[':
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested array value token: %w", err)
			}
			v, err := materializeValueFromFirstToken(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if end, err := dec.Token(); err != nil || end != json.Delim(']') {
			return nil, fmt.Errorf("json: expected ']', got %v (%v)", end, err)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("json: unexpected delimiter %q", d)
}

// reverseHeaderMap builds normalized->original for lookup without
// per-record map copies.
func reverseHeaderMap(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for orig, norm := range h {
		if orig == "" || norm == "" {
			continue
		}
		out[norm] = orig
	}
	return out
}
