package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joestump/memctl/internal/activityhub"
	"github.com/joestump/memctl/internal/bridge"
	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/retrieval"
	"github.com/joestump/memctl/internal/statedb"
	"github.com/joestump/memctl/internal/store"
)

type fakeClient struct{}

func (fakeClient) CreateSession(ctx context.Context) (store.Session, error) {
	return store.Session{SessionID: "s1"}, nil
}
func (fakeClient) AddEventsBatch(ctx context.Context, id string, events []store.EventWire) error {
	return nil
}
func (fakeClient) CommitSession(ctx context.Context, id, cause string) error { return nil }
func (fakeClient) Search(ctx context.Context, req store.SearchRequest) (store.SearchResult, error) {
	return store.SearchResult{}, nil
}
func (fakeClient) Find(ctx context.Context, req store.SearchRequest) (store.SearchResult, error) {
	return store.SearchResult{}, nil
}
func (fakeClient) Relations(ctx context.Context, uri string) ([]store.Relation, error) { return nil, nil }
func (fakeClient) Read(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri}, nil
}
func (fakeClient) Abstract(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri}, nil
}
func (fakeClient) Overview(ctx context.Context, uri string) (store.Content, error) {
	return store.Content{URI: uri}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{AgentID: "agent-a", Endpoint: "https://store.example"}
	cfg.Enabled = true
	cfg.Commit.Mode = config.CommitSync
	cfg.Commit.Triggers.SessionEnd = true
	cfg.Commit.Triggers.Reset = true

	reg := linkregistry.New(filepath.Join(t.TempDir(), "sessions.json"))
	if err := reg.BumpSeq("sess-1", 2); err != nil {
		t.Fatalf("BumpSeq: %v", err)
	}

	state, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("statedb.Open: %v", err)
	}
	t.Cleanup(func() { _ = state.Close() })
	if err := state.UpsertMemoryMarker("agent-a", "sess-1", "billing", "preference", "user prefers email receipts"); err != nil {
		t.Fatalf("UpsertMemoryMarker: %v", err)
	}

	client := fakeClient{}
	br := bridge.New(cfg, client, reg, nil, state)
	pipeline := retrieval.New(cfg, client, reg)
	hub := activityhub.New()

	return New(cfg, hub, br, reg, state, pipeline)
}

func TestHandleIndexRenders(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleIndex(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "agent-a") {
		t.Fatalf("body missing agent id: %s", w.Body.String())
	}
}

func TestHandleSessionsListsLinkedSessions(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	s.handleSessions(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sess-1") {
		t.Fatalf("body missing session key: %s", w.Body.String())
	}
}

func TestHandleMemoriesListsActiveMarkers(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/memories", nil)
	w := httptest.NewRecorder()
	s.handleMemories(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "email receipts") {
		t.Fatalf("body missing observation: %s", w.Body.String())
	}
}

func TestHandleAPIStatusReturnsJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	s.handleAPIStatus(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestHandleEventsStreamStreamsPublishedEvents(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleEventsStream(w, req)
		close(done)
	}()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	s.hub.Publish(activityhub.Event{Topic: s.topic(), Kind: "enqueue", Message: "hello"})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), "hello") {
		t.Fatalf("stream body missing event: %s", w.Body.String())
	}
}
