// Package config defines the JSON pipeline configuration consumed by
// cmd/clean, plus validation.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"vehicleetl/internal/schema"
)

// Pipeline is one cleaning job.
type Pipeline struct {
	Job       string         `json:"job"`
	Source    Source         `json:"source"`
	Parser    Parser         `json:"parser"`
	Discovery Discovery      `json:"discovery"`
	Policy    *schema.Policy `json:"policy,omitempty"`
	Sinks     Sinks          `json:"sinks"`
	Ledger    Ledger         `json:"ledger"`
	Runtime   Runtime        `json:"runtime"`
}

type Source struct {
	Kind string      `json:"kind"` // "file"
	File *FileSource `json:"file,omitempty"`
}

// FileSource points at a file, a directory or a glob pattern.
type FileSource struct {
	Path string `json:"path"`
}

type Parser struct {
	Kind    string  `json:"kind"` // "csv" | "json"
	Options Options `json:"options"`
}

type Discovery struct {
	// SampleSize is how many leading records feed key discovery.
	SampleSize int `json:"sample_size"`
}

type Sinks struct {
	Parquet ParquetSink `json:"parquet"`
	CSV     CSVSink     `json:"csv"`
}

type ParquetSink struct {
	Path string `json:"path"`
	// Compression: "snappy" (default), "gzip", "zstd", "none".
	Compression string `json:"compression,omitempty"`
}

type CSVSink struct {
	Path  string `json:"path"`
	Comma string `json:"comma,omitempty"`
	// NullValue is written for missing cells. Empty (the default) makes a
	// missing string indistinguishable from an empty one.
	NullValue string `json:"null_value,omitempty"`
}

// Ledger is optional. An empty Kind disables run bookkeeping.
type Ledger struct {
	Kind string `json:"kind"` // "sqlite" | "postgres" | "mssql"
	DSN  string `json:"dsn"`
}

// Runtime controls parallelism.
type Runtime struct {
	Partitions   int  `json:"partitions"`
	Workers      int  `json:"workers"`
	DebugTimings bool `json:"debug_timings"`
}

const (
	DefaultSampleSize = 1000
	DefaultPartitions = 8
)

// EffectivePolicy returns the configured policy, or the vehicle policy when
// none is configured.
func (p Pipeline) EffectivePolicy() schema.Policy {
	if p.Policy == nil {
		return schema.VehiclePolicy()
	}
	return *p.Policy
}

// SampleSize returns the discovery sample size with the default applied.
func (p Pipeline) SampleSize() int {
	if p.Discovery.SampleSize <= 0 {
		return DefaultSampleSize
	}
	return p.Discovery.SampleSize
}

// PartitionCount returns the partition count with the default applied.
func (r Runtime) PartitionCount() int {
	if r.Partitions <= 0 {
		return DefaultPartitions
	}
	return r.Partitions
}

// WorkerCount returns the worker bound with the default applied.
func (r Runtime) WorkerCount() int {
	if r.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return r.Workers
}

// Decode reads a Pipeline from JSON. Unknown fields are rejected so typos
// surface early.
func Decode(r io.Reader) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}

// Load opens and decodes the file at path.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
