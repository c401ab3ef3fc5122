package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/store"
)

type fakeStore struct {
	searchResult store.SearchResult
	findResult   store.SearchResult
	relations    map[string][]store.Relation
	overviews    map[string]string
	abstracts    map[string]string
	reads        map[string]string
}

func (f *fakeStore) Search(ctx context.Context, req store.SearchRequest) (store.SearchResult, error) {
	return f.searchResult, nil
}
func (f *fakeStore) Find(ctx context.Context, req store.SearchRequest) (store.SearchResult, error) {
	return f.findResult, nil
}
func (f *fakeStore) Relations(ctx context.Context, uri string) ([]store.Relation, error) {
	return f.relations[uri], nil
}
func (f *fakeStore) Read(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri, Text: f.reads[uri]}, nil
}
func (f *fakeStore) Abstract(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri, Text: f.abstracts[uri]}, nil
}
func (f *fakeStore) Overview(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri, Text: f.overviews[uri]}, nil
}

func scorePtr(v float64) *float64 { return &v }

func newPipeline(t *testing.T, cfg config.Config, fs *fakeStore) *Pipeline {
	t.Helper()
	reg := linkregistry.New(filepath.Join(t.TempDir(), "sessions.json"))
	return New(cfg, fs, reg)
}

func TestBudgetTruncationScenario(t *testing.T) {
	cfg := config.Config{}
	cfg.Enabled = true
	cfg.Search.MaxEntries = 2
	cfg.Search.MaxSnippetChars = 80
	cfg.Search.MaxInjectedChars = 50
	cfg.Search.Limit = 10
	cfg.Search.ReadLayer = config.LayerOverview

	fs := &fakeStore{searchResult: store.SearchResult{
		Memories: []store.Context{
			{URI: "viking://memories/a", Score: scorePtr(0.9), Overview: strings.Repeat("A", 80)},
			{URI: "viking://memories/b", Score: scorePtr(0.8), Overview: strings.Repeat("B", 80)},
		},
	}}

	p := newPipeline(t, cfg, fs)
	rows, err := p.Search(context.Background(), "anything", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if len(rows[0].Snippet) > 50 {
		t.Fatalf("snippet len = %d, want <= 50", len(rows[0].Snippet))
	}
	diag := p.LastDiagnostics()
	if !diag.Layering.TruncatedByBudget {
		t.Fatal("expected truncatedByBudget = true")
	}
	if diag.Ranking.DroppedByBudget != 1 {
		t.Fatalf("droppedByBudget = %d, want 1", diag.Ranking.DroppedByBudget)
	}
}

func TestRelationSeedFromPlannerDirectory(t *testing.T) {
	cfg := config.Config{}
	cfg.Enabled = true
	cfg.Search.MaxEntries = 10
	cfg.Search.Limit = 10
	cfg.Search.MaxSnippetChars = 560
	cfg.Search.MaxInjectedChars = 3200
	cfg.Search.ReadLayer = config.LayerOverview
	cfg.Search.RelationExpansion = true
	cfg.Search.RelationMaxDepth = 1
	cfg.Search.RelationMaxAnchors = 2
	cfg.Search.RelationMaxExpandedEntries = 2

	fs := &fakeStore{
		searchResult: store.SearchResult{
			QueryPlan: &store.QueryPlan{Queries: []store.PlannedQuery{
				{ContextType: "resource", TargetDirectories: []string{"viking://resource/docs/root"}},
			}},
		},
		findResult: store.SearchResult{},
		relations: map[string][]store.Relation{
			"viking://resource/docs/root": {{URI: "viking://resource/docs/from-seed", Reason: "seed-link"}},
		},
		overviews: map[string]string{
			"viking://resource/docs/from-seed": "overview of the seeded document",
		},
	}

	p := newPipeline(t, cfg, fs)
	rows, err := p.Search(context.Background(), "anything", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1: %+v", len(rows), rows)
	}
	if rows[0].Path != "viking://resource/docs/from-seed" {
		t.Fatalf("path = %q", rows[0].Path)
	}
	if !strings.Contains(rows[0].Snippet, "[relation-expanded") {
		t.Fatalf("snippet = %q, want to contain relation-expanded marker", rows[0].Snippet)
	}
}

func TestEmptyQueryReturnsEmpty(t *testing.T) {
	p := newPipeline(t, config.Config{}, &fakeStore{})
	rows, err := p.Search(context.Background(), "   ", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if rows != nil {
		t.Fatalf("rows = %v, want nil", rows)
	}
}

func TestMaxEntriesAndLimitBoundEmittedCount(t *testing.T) {
	cfg := config.Config{}
	cfg.Enabled = true
	cfg.Search.MaxEntries = 2
	cfg.Search.Limit = 5
	cfg.Search.MaxSnippetChars = 40
	cfg.Search.MaxInjectedChars = 10000
	cfg.Search.ReadLayer = config.LayerAbstract

	fs := &fakeStore{searchResult: store.SearchResult{Memories: []store.Context{
		{URI: "viking://memories/a", Score: scorePtr(0.9), Abstract: "a"},
		{URI: "viking://memories/b", Score: scorePtr(0.8), Abstract: "b"},
		{URI: "viking://memories/c", Score: scorePtr(0.7), Abstract: "c"},
		{URI: "viking://memories/d", Score: scorePtr(0.6), Abstract: "d"},
	}}}

	p := newPipeline(t, cfg, fs)
	rows, err := p.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) > 2 {
		t.Fatalf("rows = %d, want <= 2", len(rows))
	}
}

func TestReadFileNormalizesBareAbsolutePath(t *testing.T) {
	fs := &fakeStore{reads: map[string]string{"viking://resource/abs/path": "line1\nline2\nline3"}}
	p := newPipeline(t, config.Config{}, fs)
	text, path, err := p.ReadFile(context.Background(), "/abs/path", nil, nil)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if path != "viking://resource/abs/path" {
		t.Fatalf("path = %q", path)
	}
	if text != "line1\nline2\nline3" {
		t.Fatalf("text = %q", text)
	}
}

func TestReadFileSlicesLines(t *testing.T) {
	fs := &fakeStore{reads: map[string]string{"viking://resource/f": "l1\nl2\nl3\nl4\nl5"}}
	p := newPipeline(t, config.Config{}, fs)
	from, lines := 2, 2
	text, _, err := p.ReadFile(context.Background(), "viking://resource/f", &from, &lines)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if text != "l2\nl3" {
		t.Fatalf("text = %q, want l2\\nl3", text)
	}
}

func TestReadFileURIRoundTripsUnchanged(t *testing.T) {
	if got := normalizeReadURI("viking://resource/x"); got != "viking://resource/x" {
		t.Fatalf("got %q", got)
	}
}
