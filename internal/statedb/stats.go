package statedb

import (
	"database/sql"
	"fmt"
	"time"
)

// BridgeStats mirrors bridge.Stats for one (agentId, endpoint) pair, plus
// the key the row is addressed by.
type BridgeStats struct {
	AgentID                  string
	Endpoint                 string
	EventsQueued             int
	MessageEventsQueued      int
	ToolEventsQueued         int
	CommitEventsQueued       int
	LastEventQueuedAt        *time.Time
	SyncCommits              int
	AsyncCommits             int
	PeriodicCommitsByMessage int
	PeriodicCommitsByTime    int
	SessionEndCommits        int
	ResetCommits             int
	ManualCommits            int
	LastCommitCause          string
	LastCommitSource         string
	LastCommitMode           string
	LastCommitLagMs          *int64
	LastPeriodicTrigger      string
	LastPeriodicAt           *time.Time
	LastError                string
}

// UpsertBridgeStats writes the full stats snapshot for (agentId, endpoint),
// replacing any prior row.
func (d *DB) UpsertBridgeStats(s BridgeStats) error {
	_, err := d.conn.Exec(`
		INSERT INTO bridge_stats (
			agent_id, endpoint, events_queued, message_events_queued,
			tool_events_queued, commit_events_queued, last_event_queued_at,
			sync_commits, async_commits, periodic_commits_by_message,
			periodic_commits_by_time, session_end_commits, reset_commits,
			manual_commits, last_commit_cause, last_commit_source,
			last_commit_mode, last_commit_lag_ms, last_periodic_trigger,
			last_periodic_trigger_at, last_error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(agent_id, endpoint) DO UPDATE SET
			events_queued = excluded.events_queued,
			message_events_queued = excluded.message_events_queued,
			tool_events_queued = excluded.tool_events_queued,
			commit_events_queued = excluded.commit_events_queued,
			last_event_queued_at = excluded.last_event_queued_at,
			sync_commits = excluded.sync_commits,
			async_commits = excluded.async_commits,
			periodic_commits_by_message = excluded.periodic_commits_by_message,
			periodic_commits_by_time = excluded.periodic_commits_by_time,
			session_end_commits = excluded.session_end_commits,
			reset_commits = excluded.reset_commits,
			manual_commits = excluded.manual_commits,
			last_commit_cause = excluded.last_commit_cause,
			last_commit_source = excluded.last_commit_source,
			last_commit_mode = excluded.last_commit_mode,
			last_commit_lag_ms = excluded.last_commit_lag_ms,
			last_periodic_trigger = excluded.last_periodic_trigger,
			last_periodic_trigger_at = excluded.last_periodic_trigger_at,
			last_error = excluded.last_error,
			updated_at = datetime('now')`,
		s.AgentID, s.Endpoint, s.EventsQueued, s.MessageEventsQueued,
		s.ToolEventsQueued, s.CommitEventsQueued, formatTimePtr(s.LastEventQueuedAt),
		s.SyncCommits, s.AsyncCommits, s.PeriodicCommitsByMessage,
		s.PeriodicCommitsByTime, s.SessionEndCommits, s.ResetCommits,
		s.ManualCommits, s.LastCommitCause, s.LastCommitSource,
		s.LastCommitMode, s.LastCommitLagMs, s.LastPeriodicTrigger,
		formatTimePtr(s.LastPeriodicAt), s.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert bridge stats: %w", err)
	}
	return nil
}

// GetBridgeStats retrieves the stats row for (agentId, endpoint), or nil if
// none has been recorded yet.
func (d *DB) GetBridgeStats(agentID, endpoint string) (*BridgeStats, error) {
	s := &BridgeStats{AgentID: agentID, Endpoint: endpoint}
	var lastEventQueuedAt, lastPeriodicAt sql.NullString
	err := d.conn.QueryRow(`
		SELECT events_queued, message_events_queued, tool_events_queued,
		       commit_events_queued, last_event_queued_at, sync_commits,
		       async_commits, periodic_commits_by_message, periodic_commits_by_time,
		       session_end_commits, reset_commits, manual_commits,
		       last_commit_cause, last_commit_source, last_commit_mode,
		       last_commit_lag_ms, last_periodic_trigger, last_periodic_trigger_at,
		       last_error
		FROM bridge_stats WHERE agent_id = ? AND endpoint = ?`,
		agentID, endpoint,
	).Scan(&s.EventsQueued, &s.MessageEventsQueued, &s.ToolEventsQueued,
		&s.CommitEventsQueued, &lastEventQueuedAt, &s.SyncCommits,
		&s.AsyncCommits, &s.PeriodicCommitsByMessage, &s.PeriodicCommitsByTime,
		&s.SessionEndCommits, &s.ResetCommits, &s.ManualCommits,
		&s.LastCommitCause, &s.LastCommitSource, &s.LastCommitMode,
		&s.LastCommitLagMs, &s.LastPeriodicTrigger, &lastPeriodicAt,
		&s.LastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bridge stats: %w", err)
	}
	s.LastEventQueuedAt = parseTimePtr(lastEventQueuedAt)
	s.LastPeriodicAt = parseTimePtr(lastPeriodicAt)
	return s, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
