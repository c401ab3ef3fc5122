package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/retrieval"
	"github.com/joestump/memctl/internal/statedb"
)

// topic is the activityhub topic this bridge's events are published under.
func (s *Server) topic() string {
	return s.cfg.AgentID + "@" + s.cfg.Endpoint
}

// indexView is the dashboard home page's data.
type indexView struct {
	AgentID       string
	Endpoint      string
	Stats         any
	OutboxStats   any
	HasOutbox     bool
	LastRetrieval retrieval.Diagnostics
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	view := indexView{AgentID: s.cfg.AgentID, Endpoint: s.cfg.Endpoint}
	if s.br != nil {
		view.Stats = s.br.Stats()
		if obStats, ok := s.br.OutboxStats(); ok {
			view.OutboxStats = obStats
			view.HasOutbox = true
		}
	}
	if s.pipeline != nil {
		view.LastRetrieval = s.pipeline.LastDiagnostics()
	}
	s.render(w, "index.html", view)
}

type sessionRow struct {
	SessionKey string
	Link       linkregistry.Link
}

func (s *Server) listSessions() ([]sessionRow, error) {
	if s.registry == nil {
		return nil, nil
	}
	all, err := s.registry.List()
	if err != nil {
		return nil, err
	}
	rows := make([]sessionRow, 0, len(all))
	for k, l := range all {
		rows = append(rows, sessionRow{SessionKey: k, Link: l})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Link.UpdatedAt.After(rows[j].Link.UpdatedAt) })
	return rows, nil
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.listSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "sessions.html", struct{ Sessions []sessionRow }{rows})
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.listSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) listMemories() ([]statedb.BridgeMarker, error) {
	if s.state == nil {
		return nil, nil
	}
	return s.state.ListActiveMemoryMarkers(s.cfg.AgentID, 200)
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	rows, err := s.listMemories()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "memories.html", struct{ Memories []statedb.BridgeMarker }{rows})
}

func (s *Server) handleAPIMemories(w http.ResponseWriter, r *http.Request) {
	rows, err := s.listMemories()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var diag retrieval.Diagnostics
	if s.pipeline != nil {
		diag = s.pipeline.LastDiagnostics()
	}
	s.render(w, "diagnostics.html", diag)
}

type apiStatus struct {
	AgentID       string                `json:"agent_id"`
	Endpoint      string                `json:"endpoint"`
	Bridge        any                   `json:"bridge,omitempty"`
	Outbox        any                   `json:"outbox,omitempty"`
	LastRetrieval retrieval.Diagnostics `json:"last_retrieval"`
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	out := apiStatus{AgentID: s.cfg.AgentID, Endpoint: s.cfg.Endpoint}
	if s.br != nil {
		out.Bridge = s.br.Stats()
		if obStats, ok := s.br.OutboxStats(); ok {
			out.Outbox = obStats
		}
	}
	if s.pipeline != nil {
		out.LastRetrieval = s.pipeline.LastDiagnostics()
	}
	writeJSON(w, out)
}

// handleEventsStream serves live bridge/pipeline activity as
// text/event-stream, subscribing to this server's activityhub topic.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "activity stream unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := s.hub.Subscribe(s.topic())
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, ev.Message)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
