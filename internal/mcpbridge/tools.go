package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/memctl/internal/retrieval"
)

// --- Tool definitions ---

func searchTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"search",
		"Run a retrieval search against the memory store and return ranked, budgeted snippets ready for injection.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "Natural-language search query"
				},
				"session_key": {
					"type": "string",
					"description": "Host-side session key, used to scope the search to a linked store session (optional)"
				},
				"max_results": {
					"type": "integer",
					"description": "Upper bound on returned rows, capped by the configured search limit (optional)"
				},
				"min_score": {
					"type": "number",
					"description": "Drop candidates scoring below this threshold (optional)"
				}
			},
			"required": ["query"]
		}`),
	)
}

func readFileTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"readFile",
		"Read the full content of a store resource by path or viking:// uri, optionally sliced to a 1-indexed line range.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "A viking:// uri, or a bare path rooted under viking://resource/"
				},
				"from": {
					"type": "integer",
					"description": "1-indexed starting line (optional, requires lines)"
				},
				"lines": {
					"type": "integer",
					"description": "Number of lines to return starting at from (optional, requires from)"
				}
			},
			"required": ["path"]
		}`),
	)
}

func syncTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"sync",
		"Force an explicit commit of a session's queued events to the memory store.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_key": {
					"type": "string",
					"description": "Host-side session key to commit"
				},
				"cause": {
					"type": "string",
					"enum": ["session_end", "reset", "manual"],
					"description": "Commit cause (default: manual)"
				}
			},
			"required": ["session_key"]
		}`),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"status",
		"Report bridge write-path stats, outbox health, and the last retrieval's diagnostics for this agent/endpoint.",
		json.RawMessage(`{
			"type": "object",
			"properties": {}
		}`),
	)
}

// --- Tool handlers ---

type searchArgs struct {
	Query      string   `json:"query"`
	SessionKey string   `json:"session_key"`
	MaxResults *int     `json:"max_results"`
	MinScore   *float64 `json:"min_score"`
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	rows, err := s.pipeline.Search(ctx, args.Query, retrieval.Options{
		MaxResults: args.MaxResults,
		MinScore:   args.MinScore,
		SessionKey: args.SessionKey,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search: %v", err)), nil
	}
	return resultJSON(rows)
}

type readFileArgs struct {
	Path  string `json:"path"`
	From  *int   `json:"from"`
	Lines *int   `json:"lines"`
}

type readFileResult struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

func (s *Server) handleReadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args readFileArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	text, uri, err := s.pipeline.ReadFile(ctx, args.Path, args.From, args.Lines)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("readFile: %v", err)), nil
	}
	return resultJSON(readFileResult{Path: uri, Text: text})
}

type syncArgs struct {
	SessionKey string `json:"session_key"`
	Cause      string `json:"cause"`
}

type syncResult struct {
	Queued bool `json:"queued"`
}

func (s *Server) handleSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args syncArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionKey == "" {
		return mcp.NewToolResultError("session_key is required"), nil
	}
	cause := args.Cause
	if cause == "" {
		cause = "manual"
	}

	queued, err := s.br.EnqueueCommit(ctx, args.SessionKey, cause)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync: %v", err)), nil
	}
	return resultJSON(syncResult{Queued: queued})
}

type statusResult struct {
	AgentID       string                `json:"agent_id"`
	Endpoint      string                `json:"endpoint"`
	Bridge        bridgeStatsView       `json:"bridge"`
	Outbox        *outboxStatsView      `json:"outbox,omitempty"`
	LastRetrieval retrieval.Diagnostics `json:"last_retrieval"`
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.br.Stats()
	out := statusResult{
		AgentID:       s.agentID,
		Endpoint:      s.endpoint,
		Bridge:        newBridgeStatsView(stats),
		LastRetrieval: s.pipeline.LastDiagnostics(),
	}
	if obStats, ok := s.br.OutboxStats(); ok {
		v := newOutboxStatsView(obStats)
		out.Outbox = &v
	}
	return resultJSON(out)
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
