// Package file provides a local filesystem data source. A source path may be
// a single file, a directory (every regular file, sorted by name) or a glob.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Local reads one or more files from disk.
type Local struct {
	path     string
	encoding string
}

// NewLocal returns a source for path. The content is decoded as UTF-8.
func NewLocal(path string) *Local {
	return &Local{path: path}
}

// WithEncoding sets the input charset by WHATWG/IANA label ("utf-8",
// "windows-1252", "latin1", "utf-16le", ...). Empty means UTF-8.
func (l *Local) WithEncoding(label string) *Local {
	cp := *l
	cp.encoding = label
	return &cp
}

// Path returns the configured path.
func (l *Local) Path() string { return l.path }

// Files expands the path into the ordered list of files to read.
func (l *Local) Files() ([]string, error) {
	if l.path == "" {
		return nil, fmt.Errorf("file source: empty path")
	}

	if hasMeta(l.path) {
		matches, err := filepath.Glob(l.path)
		if err != nil {
			return nil, fmt.Errorf("file source: glob %q: %w", l.path, err)
		}
		var out []string
		for _, m := range matches {
			fi, err := os.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("file source: %w", err)
			}
			if fi.Mode().IsRegular() {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("file source: no files match %q", l.path)
		}
		sort.Strings(out)
		return out, nil
	}

	fi, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}
	if !fi.IsDir() {
		return []string{l.path}, nil
	}

	entries, err := os.ReadDir(l.path)
	if err != nil {
		return nil, fmt.Errorf("file source: read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		// Skip hidden files and Spark/Hadoop side files (_SUCCESS, .crc).
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(l.path, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Open returns a single decoded stream over every file, in order. A newline
// is inserted between files that do not end with one.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	files, err := l.Files()
	if err != nil {
		return nil, err
	}
	return &multiFile{ctx: ctx, l: l, files: files}, nil
}

// OpenFile opens one file from Files, decoded per the configured encoding.
func (l *Local) OpenFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}
	r, err := Decode(f, l.encoding)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &readCloser{Reader: r, Closer: f}, nil
}

// Decode wraps r so that it yields UTF-8. A leading byte-order mark always
// wins over label and is stripped.
func Decode(r io.Reader, label string) (io.Reader, error) {
	var enc encoding.Encoding = unicode.UTF8
	if label = strings.TrimSpace(label); label != "" {
		e, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("file source: unknown encoding %q: %w", label, err)
		}
		enc = e
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// multiFile reads files back to back.
type multiFile struct {
	ctx   context.Context
	l     *Local
	files []string

	cur     io.ReadCloser
	last    byte
	pending bool // newline owed between files
}

func (m *multiFile) Read(p []byte) (int, error) {
	for {
		if m.pending {
			if len(p) == 0 {
				return 0, nil
			}
			m.pending = false
			p[0] = '\n'
			m.last = '\n'
			return 1, nil
		}
		if m.cur == nil {
			if len(m.files) == 0 {
				return 0, io.EOF
			}
			rc, err := m.l.OpenFile(m.ctx, m.files[0])
			if err != nil {
				return 0, err
			}
			m.files = m.files[1:]
			m.cur = rc
		}
		n, err := m.cur.Read(p)
		if n > 0 {
			m.last = p[n-1]
		}
		if err == io.EOF {
			m.cur.Close()
			m.cur = nil
			if m.last != '\n' && m.last != 0 && len(m.files) > 0 {
				m.pending = true
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (m *multiFile) Close() error {
	if m.cur != nil {
		err := m.cur.Close()
		m.cur = nil
		return err
	}
	return nil
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[`)
}
