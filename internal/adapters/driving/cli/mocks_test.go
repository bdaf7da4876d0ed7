package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

type mockIngestService struct {
	mu     sync.Mutex
	result *domain.IngestResult
	err    error
	reqs   []domain.IngestRequest
}

func (m *mockIngestService) Ingest(_ context.Context, req domain.IngestRequest) (*domain.IngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &domain.IngestResult{
		IngestID:    "ingest-1",
		DocumentID:  int64(len(m.reqs)),
		Source:      req.Source,
		ChunkCount:  1,
		VectorState: domain.VectorStateComplete,
	}, nil
}

func (m *mockIngestService) requests() []domain.IngestRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.IngestRequest(nil), m.reqs...)
}

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

type mockReindexService struct {
	counts []int
	err    error
	calls  []int
}

func (m *mockReindexService) ReindexPending(_ context.Context, batchSize int) (int, error) {
	m.calls = append(m.calls, batchSize)
	if m.err != nil {
		return 0, m.err
	}
	if len(m.calls) > len(m.counts) {
		return 0, nil
	}
	return m.counts[len(m.calls)-1], nil
}

type mockSettingsService struct {
	settings *domain.Settings
	getErr   error
	setErr   error
	set      map[string]string
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.settings != nil {
		return m.settings, nil
	}
	s := domain.DefaultSettings()
	return &s, nil
}

func (m *mockSettingsService) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.set == nil {
		m.set = map[string]string{}
	}
	m.set[key] = value
	return nil
}

func (m *mockSettingsService) Keys() []string {
	return []string{"chunking.max_tokens", "embedding.api_key", "vector.provider"}
}

func (m *mockSettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

type testServices struct {
	ingest    *mockIngestService
	retrieval *mockRetrievalService
	reindex   *mockReindexService
	settings  *mockSettingsService
}

// setupTestServices installs fresh mocks and returns a cleanup func.
func setupTestServices() (*testServices, func()) {
	ts := &testServices{
		ingest:    &mockIngestService{},
		retrieval: &mockRetrievalService{},
		reindex:   &mockReindexService{},
		settings:  &mockSettingsService{},
	}
	SetServices(&Services{
		Ingest:    ts.ingest,
		Retrieval: ts.retrieval,
		Reindex:   ts.reindex,
		Settings:  ts.settings,
	})
	return ts, func() { SetServices(nil) }
}

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCommand runs the root command with args and stdin, returning the
// combined output.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return executeCommandContext(t, context.Background(), stdin, args...)
}

func executeCommandContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() {
		resetFlags(rootCmd)
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	})

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	setContext(rootCmd, ctx)

	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

// setContext gives every command in the tree ctx. Cobra only hands the
// root context to subcommands that have none yet, so a context left over
// from an earlier run would otherwise stick.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(sub, ctx)
	}
}

func sampleItem() domain.Item {
	return domain.Item{
		ID:         "42",
		Text:       "Deploys run every Tuesday after the change review.",
		Score:      0.912,
		Source:     "team_wiki",
		CreatedAt:  time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Visibility: domain.VisibilityLimited,
		DocumentID: 7,
		ChunkIndex: 2,
		Title:      "Release process",
	}
}

func ptr(v float64) *float64 { return &v }

func samplePage() *domain.Page {
	return &domain.Page{
		Items:        []domain.Item{sampleItem()},
		Total:        3,
		Limit:        1,
		Offset:       0,
		SourceCounts: map[string]int{"team_wiki": 1},
		ScoreSummary: domain.ScoreSummary{Min: ptr(0.912), Max: ptr(0.912), Avg: ptr(0.912), P95: ptr(0.912)},
		FilteredOut:  2,
	}
}
