package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// IngestInput is the input schema for the ingest_knowledge tool.
type IngestInput struct {
	Text       string         `json:"text" jsonschema:"the raw text or HTML to store"`
	Visibility string         `json:"visibility" jsonschema:"access label: public, limited or internal"`
	Title      string         `json:"title,omitempty" jsonschema:"optional document title"`
	Source     string         `json:"source,omitempty" jsonschema:"where the text came from (default manual)"`
	Mode       string         `json:"mode,omitempty" jsonschema:"chunk mode: plain, paragraph, topic or chat (default paragraph)"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"extra metadata stored with every chunk"`
}

// ListInput is the input schema for the list_knowledge tool.
type ListInput struct {
	Limit      int    `json:"limit,omitempty" jsonschema:"page size (default 10, max 100)"`
	Offset     int    `json:"offset,omitempty" jsonschema:"number of items to skip"`
	OrderBy    string `json:"order_by,omitempty" jsonschema:"sort key: created_at or score"`
	Descending *bool  `json:"descending,omitempty" jsonschema:"sort descending (default true)"`
	Source     string `json:"source,omitempty" jsonschema:"only items from this source"`
	Scope      string `json:"scope,omitempty" jsonschema:"caller scope: public, limited or internal (default public)"`
}

// SearchInput is the input schema for the search_knowledge tool.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"the text to search for"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 10, max 100)"`
	Offset     int    `json:"offset,omitempty" jsonschema:"number of results to skip"`
	OrderBy    string `json:"order_by,omitempty" jsonschema:"sort key: score or created_at"`
	Descending *bool  `json:"descending,omitempty" jsonschema:"sort descending (default true)"`
	Source     string `json:"source,omitempty" jsonschema:"only results from this source"`
	Scope      string `json:"scope,omitempty" jsonschema:"caller scope: public, limited or internal (default public)"`
}

// GetInput is the input schema for the get_knowledge tool.
type GetInput struct {
	ID    string `json:"id" jsonschema:"the chunk id"`
	Scope string `json:"scope,omitempty" jsonschema:"caller scope: public, limited or internal (default public)"`
}

// ItemOutput is one stored chunk.
type ItemOutput struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
	CreatedAt  string  `json:"created_at"`
	Visibility string  `json:"visibility"`
	DocumentID int64   `json:"document_id,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Title      string  `json:"title,omitempty"`
}

// PageOutput is the output schema for list and search.
type PageOutput struct {
	Items        []ItemOutput        `json:"items"`
	Total        int                 `json:"total"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
	SourceCounts map[string]int      `json:"source_counts"`
	ScoreSummary domain.ScoreSummary `json:"score_summary"`
	FilteredOut  int                 `json:"filtered_out"`
	Fallback     bool                `json:"fallback,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	if s.ports.Ingest != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ingest_knowledge",
			Description: "Store text in the knowledge base with an access label",
		}, s.handleIngest)
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Find stored knowledge similar to a query",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_knowledge",
		Description: "Page through stored knowledge, newest first by default",
	}, s.handleList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_knowledge",
		Description: "Fetch one stored chunk by id",
	}, s.handleGet)
}

func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, domain.IngestResult, error) {
	res, err := s.ports.Ingest.Ingest(ctx, domain.IngestRequest{
		Text:       input.Text,
		Title:      input.Title,
		Source:     input.Source,
		Metadata:   input.Metadata,
		Visibility: input.Visibility,
		Mode:       domain.ChunkMode(input.Mode),
	})
	if err != nil {
		return nil, domain.IngestResult{}, err
	}
	return nil, *res, nil
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, PageOutput, error) {
	page, err := s.ports.Retrieval.Search(ctx, domain.SearchRequest{
		Query:     input.Query,
		Limit:     input.Limit,
		Offset:    input.Offset,
		OrderBy:   domain.OrderBy(input.OrderBy),
		Ascending: ascending(input.Descending),
		Source:    input.Source,
		Scope:     domain.Scope(input.Scope),
	})
	if err != nil {
		return nil, PageOutput{}, err
	}
	return nil, toPageOutput(page), nil
}

func (s *Server) handleList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListInput,
) (*mcp.CallToolResult, PageOutput, error) {
	page, err := s.ports.Retrieval.List(ctx, domain.ListRequest{
		Limit:     input.Limit,
		Offset:    input.Offset,
		OrderBy:   domain.OrderBy(input.OrderBy),
		Ascending: ascending(input.Descending),
		Source:    input.Source,
		Scope:     domain.Scope(input.Scope),
	})
	if err != nil {
		return nil, PageOutput{}, err
	}
	return nil, toPageOutput(page), nil
}

func (s *Server) handleGet(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetInput,
) (*mcp.CallToolResult, ItemOutput, error) {
	item, err := s.ports.Retrieval.Get(ctx, input.ID, domain.Scope(input.Scope))
	if err != nil {
		return nil, ItemOutput{}, err
	}
	return nil, toItemOutput(*item), nil
}

// ascending is true only when the caller asked for descending=false.
func ascending(descending *bool) bool {
	return descending != nil && !*descending
}

func toItemOutput(item domain.Item) ItemOutput {
	return ItemOutput{
		ID:         item.ID,
		Text:       item.Text,
		Score:      item.Score,
		Source:     item.Source,
		CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339),
		Visibility: string(item.Visibility),
		DocumentID: item.DocumentID,
		ChunkIndex: item.ChunkIndex,
		Title:      item.Title,
	}
}

func toPageOutput(page *domain.Page) PageOutput {
	out := PageOutput{
		Items:        make([]ItemOutput, len(page.Items)),
		Total:        page.Total,
		Limit:        page.Limit,
		Offset:       page.Offset,
		SourceCounts: page.SourceCounts,
		ScoreSummary: page.ScoreSummary,
		FilteredOut:  page.FilteredOut,
		Fallback:     page.Fallback,
	}
	for i, item := range page.Items {
		out.Items[i] = toItemOutput(item)
	}
	return out
}
