package mcp

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// mockRetrievalService records the last request and returns canned results.
type mockRetrievalService struct {
	page *domain.Page
	item *domain.Item
	err  error

	lastList   domain.ListRequest
	lastSearch domain.SearchRequest
	lastID     string
	lastScope  domain.Scope
}

func (m *mockRetrievalService) List(_ context.Context, req domain.ListRequest) (*domain.Page, error) {
	m.lastList = req
	if m.err != nil {
		return nil, m.err
	}
	return m.pageOrEmpty(), nil
}

func (m *mockRetrievalService) Search(_ context.Context, req domain.SearchRequest) (*domain.Page, error) {
	m.lastSearch = req
	if m.err != nil {
		return nil, m.err
	}
	return m.pageOrEmpty(), nil
}

func (m *mockRetrievalService) Get(_ context.Context, id string, scope domain.Scope) (*domain.Item, error) {
	m.lastID = id
	m.lastScope = scope
	if m.err != nil {
		return nil, m.err
	}
	if m.item == nil {
		return nil, domain.ErrNotFound
	}
	return m.item, nil
}

func (m *mockRetrievalService) pageOrEmpty() *domain.Page {
	if m.page != nil {
		return m.page
	}
	return &domain.Page{Items: []domain.Item{}, SourceCounts: map[string]int{}}
}

// mockIngestService records the last request.
type mockIngestService struct {
	result  *domain.IngestResult
	err     error
	lastReq domain.IngestRequest
}

func (m *mockIngestService) Ingest(_ context.Context, req domain.IngestRequest) (*domain.IngestResult, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &domain.IngestResult{VectorState: domain.VectorStateComplete}, nil
	}
	return m.result, nil
}
