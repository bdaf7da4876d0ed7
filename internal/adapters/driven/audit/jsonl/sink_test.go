package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

func TestSanitizeSource(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"manual", "manual"},
		{"team notes/2026", "team_notes_2026"},
		{"a..b--c", "a_b--c"},
		{"", "unknown"},
		{"日本", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSource(tt.in))
		})
	}
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))

	assert.Equal(t, "processed_faq_20260304T040607Z.jsonl", FileName("faq", at))
}

func TestSink_WritesOneLinePerRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "processed")
	sink, err := New(dir)
	require.NoError(t, err)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := sink.Open("my source", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "processed_my_source_20260101T000000Z.jsonl"), w.Path())

	require.NoError(t, w.Write(domain.AuditRecord{ID: "1", Text: "first", Metadata: map[string]any{"chunk_index": 0}}))
	require.NoError(t, w.Write(domain.AuditRecord{ID: "2", Text: "second"}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(domain.AuditRecord{ID: "3"}), os.ErrClosed)

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	var records []domain.AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec domain.AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Text)
	assert.EqualValues(t, 0, records[0].Metadata["chunk_index"])
	assert.Equal(t, map[string]any{}, records[1].Metadata)
}

func TestSink_OneFilePerOpenWithinSameSecond(t *testing.T) {
	sink, err := New(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	var paths []string
	for i := 0; i < 3; i++ {
		w, err := sink.Open("unit", at)
		require.NoError(t, err)
		require.NoError(t, w.Write(domain.AuditRecord{ID: "x"}))
		require.NoError(t, w.Close())
		paths = append(paths, filepath.Base(w.Path()))
	}

	assert.Equal(t, []string{
		"processed_unit_20250314T092653Z.jsonl",
		"processed_unit_20250314T092653Z_2.jsonl",
		"processed_unit_20250314T092653Z_3.jsonl",
	}, paths)
	for _, name := range paths {
		data, err := os.ReadFile(filepath.Join(sink.Dir(), name))
		require.NoError(t, err)
		assert.Equal(t, 1, countLines(data))
	}
}

func TestSink_OpenFailsOnFileInPlaceOfDir(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	sink, err := New(filepath.Join(blocker, "sub"))
	require.NoError(t, err)

	_, err = sink.Open("s", time.Now())
	assert.Error(t, err)
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
