package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// uriScheme is the custom URI scheme for knowledge resources.
const uriScheme = "knowledge://"

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "chunks/{id}",
		Name:        "knowledge-chunk",
		Description: "A public knowledge chunk with its metadata",
		MIMEType:    "application/json",
	}, s.handleChunkResource)
}

// handleChunkResource returns one chunk readable under the public scope.
func (s *Server) handleChunkResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	id := extractChunkID(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	item, err := s.ports.Retrieval.Get(ctx, id, domain.ScopePublic)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		return nil, fmt.Errorf("getting chunk %s: %w", id, err)
	}

	data, err := json.MarshalIndent(toItemOutput(*item), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling chunk: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractChunkID extracts the id from a URI like knowledge://chunks/{id}.
func extractChunkID(uri string) string {
	const prefix = uriScheme + "chunks/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
