package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"vehicleetl/internal/config"
	"vehicleetl/internal/probe"
	"vehicleetl/internal/schema"
)

// TestHelperProcess is a subprocess entrypoint used by tests.
//
// This pattern allows tests to execute main() and observe:
//   - process exit codes (including os.Exit),
//   - stdout/stderr output,
//
// without terminating the parent "go test" process.
//
// The parent test runs the current test binary with:
//
//	-test.run=TestHelperProcess
//
// and sets GO_WANT_HELPER_PROCESS=1.
//
// Any arguments after a literal "--" are treated as CLI args for the command.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	// Rebuild os.Args to contain only the command arguments passed after "--".
	args := os.Args
	i := 0
	for ; i < len(args); i++ {
		if args[i] == "--" {
			break
		}
	}
	if i < len(args) {
		os.Args = append([]string{args[0]}, args[i+1:]...)
	} else {
		// No args were provided; keep argv0 only.
		os.Args = []string{args[0]}
	}

	main()
	os.Exit(0)
}

// runCmd executes the command's main() in a subprocess and returns the captured
// stdout, stderr, and the process exit code.
//
// The subprocess is the current test binary, re-invoked with
// -test.run=TestHelperProcess, so it runs on all platforms supported by Go tests.
func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	cmdArgs := []string{"-test.run=TestHelperProcess", "--"}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.Command(os.Args[0], cmdArgs...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	// Exit code handling: nil means exit 0.
	if err == nil {
		return stdout, stderr, 0
	}

	// For non-zero exits, Go returns *exec.ExitError.
	if ee, ok := err.(*exec.ExitError); ok {
		return stdout, stderr, ee.ExitCode()
	}

	// Unexpected error type (e.g., binary not runnable). Fail loudly.
	t.Fatalf("unexpected run error: %T: %v", err, err)
	return "", "", 1
}

func writeFeed(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "feed.csv")
	feed := strings.Join([]string{
		`t0,a.mp4,"{'estimated_speed': 50, 'class_name': 'car'}"`,
		`t1,a.mp4,"{'estimated_speed': 30.5, 'class_name': 'bus', 'last_appearance': True}"`,
		`t2,b.mp4,`,
		`t3,b.mp4,"{'zone_label': 'north'}"`,
		"",
	}, "\n")
	if err := os.WriteFile(p, []byte(feed), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return p
}

func TestMain_ReportMode_SuppressesJSON(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCmd(t, "-path", writeFeed(t), "-sample", "3", "-full", "-report")
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s\nstdout:\n%s", code, stderr, stdout)
	}
	if !strings.Contains(stdout, "key report:") {
		t.Fatalf("expected report header in stdout, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "zone_label\tfirst_seen=4") {
		t.Fatalf("expected late key in report, got:\n%s", stdout)
	}
	if strings.Contains(stdout, "{") {
		t.Fatalf("expected report-only output (no JSON), got stdout:\n%s", stdout)
	}
}

func TestMain_DefaultMode_EmitsPolicy(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCmd(t, "-path", writeFeed(t))
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s", code, stderr)
	}

	var p schema.Policy
	if err := json.Unmarshal([]byte(stdout), &p); err != nil {
		t.Fatalf("stdout is not a policy: %v\nstdout:\n%s", err, stdout)
	}
	want := map[string]schema.Class{
		"class_name":      schema.Categorical,
		"estimated_speed": schema.Numeric,
		"last_appearance": schema.Boolean,
		"zone_label":      schema.Categorical,
	}
	if len(p.Columns) != len(want) {
		t.Fatalf("columns = %+v", p.Columns)
	}
	for _, c := range p.Columns {
		if want[c.Name] != c.Class {
			t.Fatalf("column %s class = %s, want %s", c.Name, c.Class, want[c.Name])
		}
	}
}

func TestMain_EmitPipeline_IsValidConfig(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCmd(t,
		"-path", writeFeed(t),
		"-emit", "pipeline",
		"-job", "cams",
		"-ledger", "sqlite",
		"-dsn", "file:runs.db",
	)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s", code, stderr)
	}

	p, err := config.Decode(strings.NewReader(stdout))
	if err != nil {
		t.Fatalf("decode: %v\nstdout:\n%s", err, stdout)
	}
	if err := config.Check(p); err != nil {
		t.Fatalf("emitted pipeline invalid: %v", err)
	}
	if p.Job != "cams" || p.Ledger.Kind != "sqlite" || p.Ledger.DSN != "file:runs.db" {
		t.Fatalf("pipeline = %+v", p)
	}
	if p.Policy == nil || len(p.Policy.Columns) != 4 {
		t.Fatalf("policy = %+v", p.Policy)
	}
}

func TestMain_MissingPath_ExitsWith2(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCmd(t /* no args */)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d\nstderr:\n%s\nstdout:\n%s", code, stderr, stdout)
	}
	if !strings.Contains(stderr, "missing -path") {
		t.Fatalf("expected missing -path message on stderr, got:\n%s", stderr)
	}
}

func TestMain_UnknownEmit_ExitsWith2(t *testing.T) {
	t.Parallel()

	_, stderr, code := runCmd(t, "-path", "x.csv", "-emit", "yaml")
	if code != 2 || !strings.Contains(stderr, "unknown -emit") {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
}

func TestMain_UnknownFormat_ExitsWith2(t *testing.T) {
	t.Parallel()

	_, stderr, code := runCmd(t, "-path", "x.csv", "-format", "yaml")
	if code != 2 || !strings.Contains(stderr, "unknown -format") {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
}

func TestBuildPipeline_Ledger(t *testing.T) {
	t.Parallel()

	rep := probe.Report{Sampled: 1, Keys: []probe.KeyStat{{Name: "speed", Class: schema.Numeric}}}
	p, err := buildPipeline(rep, pipelineArgs{job: "v", path: "in.csv", outRoot: "out", ledger: "PostgreSQL"})
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	if p.Ledger.Kind != "postgres" || p.Ledger.DSN != "" {
		t.Fatalf("ledger = %+v", p.Ledger)
	}
	if p.Sinks.Parquet.Path != filepath.Join("out", "v", "parquet") {
		t.Fatalf("parquet path = %s", p.Sinks.Parquet.Path)
	}
	if p.Parser.Kind != "csv" {
		t.Fatalf("parser kind = %q, want csv", p.Parser.Kind)
	}

	p, err = buildPipeline(rep, pipelineArgs{job: "v", path: "in.json", outRoot: "out", format: "json"})
	if err != nil || p.Parser.Kind != "json" {
		t.Fatalf("json pipeline = %+v err=%v", p.Parser, err)
	}

	if _, err := buildPipeline(rep, pipelineArgs{job: "v", path: "in.csv", outRoot: "out", ledger: "oracle"}); err == nil {
		t.Fatalf("expected error for unknown ledger kind")
	}
}
