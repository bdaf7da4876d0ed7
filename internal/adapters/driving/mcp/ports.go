package mcp

import (
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
)

// Ports aggregates the driving port interfaces used by the MCP server.
type Ports struct {
	// Retrieval lists, searches and fetches knowledge.
	Retrieval driving.RetrievalService

	// Ingest stores new knowledge. Without it the server is read-only.
	Ingest driving.IngestService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Retrieval == nil {
		return ErrMissingRetrievalService
	}
	return nil
}
