package mcpbridge

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/memctl/internal/bridge"
	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/retrieval"
	"github.com/joestump/memctl/internal/store"
)

// fakeClient satisfies both the bridge and retrieval storeClient interfaces.
type fakeClient struct {
	searchResult store.SearchResult
	readText     string
	commitErr    error
}

func (f *fakeClient) CreateSession(ctx context.Context) (store.Session, error) {
	return store.Session{SessionID: "sess-store-1"}, nil
}

func (f *fakeClient) AddEventsBatch(ctx context.Context, id string, events []store.EventWire) error {
	return nil
}

func (f *fakeClient) CommitSession(ctx context.Context, id, cause string) error {
	return f.commitErr
}

func (f *fakeClient) Search(ctx context.Context, req store.SearchRequest) (store.SearchResult, error) {
	return f.searchResult, nil
}

func (f *fakeClient) Find(ctx context.Context, req store.SearchRequest) (store.SearchResult, error) {
	return store.SearchResult{}, nil
}

func (f *fakeClient) Relations(ctx context.Context, uri string) ([]store.Relation, error) {
	return nil, nil
}

func (f *fakeClient) Read(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri, Text: f.readText}, nil
}

func (f *fakeClient) Abstract(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri}, nil
}

func (f *fakeClient) Overview(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri}, nil
}

func newTestServer(t *testing.T, client *fakeClient) *Server {
	t.Helper()
	cfg := config.Config{AgentID: "agent-a", Endpoint: "https://store.example"}
	cfg.Enabled = true
	cfg.Search.Limit = 10
	cfg.Search.MaxEntries = 10
	cfg.Search.MaxSnippetChars = 200
	cfg.Search.MaxInjectedChars = 2000
	cfg.Commit.Triggers.SessionEnd = true
	cfg.Commit.Triggers.Reset = true
	cfg.Commit.Mode = config.CommitSync

	reg := linkregistry.New(filepath.Join(t.TempDir(), "sessions.json"))
	pipeline := retrieval.New(cfg, client, reg)
	br := bridge.New(cfg, client, reg, nil, nil)
	return NewServer(cfg, pipeline, br)
}

func request(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func TestHandleSearchReturnsRankedRows(t *testing.T) {
	score := 0.9
	client := &fakeClient{
		searchResult: store.SearchResult{
			Memories: []store.Context{{URI: "viking://memory/1", Score: &score, Abstract: "a fact worth remembering"}},
		},
	}
	s := newTestServer(t, client)

	result, err := s.handleSearch(context.Background(), request("search", map[string]any{"query": "billing preference"}))
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var rows []retrieval.Result
	if err := json.Unmarshal([]byte(resultText(t, result)), &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 1 || rows[0].Path != "viking://memory/1" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t, &fakeClient{})
	result, err := s.handleSearch(context.Background(), request("search", map[string]any{}))
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for missing query")
	}
}

func TestHandleReadFileNormalizesPath(t *testing.T) {
	client := &fakeClient{readText: "line one\nline two\nline three"}
	s := newTestServer(t, client)

	result, err := s.handleReadFile(context.Background(), request("readFile", map[string]any{"path": "docs/notes.md"}))
	if err != nil {
		t.Fatalf("handleReadFile: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var got readFileResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Path != "viking://resource/docs/notes.md" {
		t.Fatalf("path = %q", got.Path)
	}
	if got.Text != client.readText {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestHandleSyncRequiresSessionKey(t *testing.T) {
	s := newTestServer(t, &fakeClient{})
	result, err := s.handleSync(context.Background(), request("sync", map[string]any{}))
	if err != nil {
		t.Fatalf("handleSync: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for missing session_key")
	}
}

func TestHandleSyncQueuesCommit(t *testing.T) {
	s := newTestServer(t, &fakeClient{})
	result, err := s.handleSync(context.Background(), request("sync", map[string]any{"session_key": "sess-1", "cause": "manual"}))
	if err != nil {
		t.Fatalf("handleSync: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	if !strings.Contains(resultText(t, result), `"queued":true`) {
		t.Fatalf("expected queued=true, got %s", resultText(t, result))
	}
}

func TestHandleStatusReportsBridgeAndOutbox(t *testing.T) {
	s := newTestServer(t, &fakeClient{})
	result, err := s.handleStatus(context.Background(), request("status", map[string]any{}))
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var got statusResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.AgentID != "agent-a" || got.Endpoint != "https://store.example" {
		t.Fatalf("got = %+v", got)
	}
	if got.Outbox != nil {
		t.Fatalf("expected nil outbox view for a bridge with no outbox, got %+v", got.Outbox)
	}
}
