// Package jsonl writes the ingest audit trail as JSON Lines files, one file
// per ingest call.
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// timestampLayout is the compact UTC stamp used in file names.
const timestampLayout = "20060102T150405Z"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Sink creates audit files in a directory.
type Sink struct {
	dir string
}

var _ driven.AuditSink = (*Sink)(nil)

// New returns a sink writing under dir.
// If dir is empty, defaults to ~/.sercha-kb/processed.
func New(dir string) (*Sink, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".sercha-kb", "processed")
	}
	return &Sink{dir: dir}, nil
}

// Dir returns the output directory.
func (s *Sink) Dir() string {
	return s.dir
}

// SanitizeSource makes a source label safe for a file name.
func SanitizeSource(source string) string {
	cleaned := unsafeChars.ReplaceAllString(source, "_")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// FileName returns processed_<source>_<stamp>.jsonl.
func FileName(source string, at time.Time) string {
	return fmt.Sprintf("processed_%s_%s.jsonl", SanitizeSource(source), at.UTC().Format(timestampLayout))
}

// maxAttempts bounds the _N suffixes tried for one stamp.
const maxAttempts = 1000

// Open creates a new file for one ingest call. When the name is already
// taken, a _2, _3, ... suffix is added before the extension.
func (s *Sink) Open(source string, at time.Time) (driven.AuditWriter, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	name := FileName(source, at)
	base := strings.TrimSuffix(name, ".jsonl")
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			name = fmt.Sprintf("%s_%d.jsonl", base, n)
		}
		path := filepath.Join(s.dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening audit file: %w", err)
		}
		buf := bufio.NewWriter(f)
		return &writer{path: path, file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
	}
	return nil, fmt.Errorf("opening audit file: %s taken %d times", base, maxAttempts)
}

type writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

func (w *writer) Write(record domain.AuditRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	return w.enc.Encode(record)
}

func (w *writer) Path() string {
	return w.path
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
