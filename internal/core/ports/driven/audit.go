package driven

import (
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// AuditSink opens the per-ingest audit trail.
type AuditSink interface {
	// Open creates the trail for one ingest call.
	Open(source string, at time.Time) (AuditWriter, error)
}

// AuditWriter streams records of one ingest call.
type AuditWriter interface {
	// Write appends one record.
	Write(record domain.AuditRecord) error

	// Path returns where the records go.
	Path() string

	// Close flushes and closes the trail.
	Close() error
}
