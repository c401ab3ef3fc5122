package store

import "encoding/json"

// Envelope is the wire-level response shape for every store endpoint.
type Envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is the store's error payload.
type WireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Health is the response to GET /health.
type Health struct {
	Status string `json:"status"`
}

// Session is a store-side conversation session.
type Session struct {
	SessionID string `json:"session_id"`
}

// Context is a store-returned memory/resource/skill record.
type Context struct {
	URI         string  `json:"uri"`
	Score       *float64 `json:"score,omitempty"`
	Abstract    string  `json:"abstract,omitempty"`
	Overview    string  `json:"overview,omitempty"`
	MatchReason string  `json:"match_reason,omitempty"`
}

// PlannedQuery is one entry of a search response's query_plan.queries.
type PlannedQuery struct {
	ContextType       string   `json:"context_type"`
	Priority          int      `json:"priority"`
	TargetDirectories []string `json:"target_directories,omitempty"`
}

// QueryPlan is the planner-facing portion of a search response.
type QueryPlan struct {
	Queries []PlannedQuery `json:"queries"`
}

// QueryResult reports how many contexts a particular context_type matched.
type QueryResult struct {
	ContextType     string `json:"context_type"`
	MatchedContexts int    `json:"matched_contexts"`
}

// SearchResult is the full shape of a search/find response.
type SearchResult struct {
	Memories    []Context     `json:"memories,omitempty"`
	Resources   []Context     `json:"resources,omitempty"`
	Skills      []Context     `json:"skills,omitempty"`
	QueryPlan   *QueryPlan    `json:"query_plan,omitempty"`
	QueryResults []QueryResult `json:"query_results,omitempty"`
}

// SearchRequest is the request body for search/find.
type SearchRequest struct {
	Query          string   `json:"query"`
	TargetURI      string   `json:"target_uri,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
	Filter         string   `json:"filter,omitempty"`
}

// GrepRequest is the request body for search/grep.
type GrepRequest struct {
	URI             string `json:"uri"`
	Pattern         string `json:"pattern"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
}

// GlobRequest is the request body for search/glob.
type GlobRequest struct {
	Pattern string `json:"pattern"`
	URI     string `json:"uri,omitempty"`
}

// Content is a content-layer response (read/abstract/overview).
type Content struct {
	URI  string `json:"uri"`
	Text string `json:"text"`
}

// FsEntry is one entry in an fs ls/tree listing.
type FsEntry struct {
	URI     string    `json:"uri"`
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size,omitempty"`
	Children []FsEntry `json:"children,omitempty"`
}

// FsStat is the response to GET /api/v1/fs/stat.
type FsStat struct {
	URI   string `json:"uri"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// Relation is one neighbor returned by GET /api/v1/relations.
type Relation struct {
	URI    string `json:"uri"`
	Reason string `json:"reason,omitempty"`
}

// ObserverStatus is a generic observer/health-detail payload.
type ObserverStatus struct {
	Status string `json:"status"`
	Detail any    `json:"detail,omitempty"`
}

// EventWire is the wire shape of one Session Event, as sent to
// /sessions/{id}/events/batch.
type EventWire struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Role      string            `json:"role,omitempty"`
	Content   string            `json:"content,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
