package mcpbridge

import (
	"time"

	"github.com/joestump/memctl/internal/bridge"
	"github.com/joestump/memctl/internal/outbox"
)

// bridgeStatsView is the JSON-friendly projection of bridge.Stats.
type bridgeStatsView struct {
	EventsQueued             int        `json:"events_queued"`
	MessageEventsQueued      int        `json:"message_events_queued"`
	ToolEventsQueued         int        `json:"tool_events_queued"`
	CommitEventsQueued       int        `json:"commit_events_queued"`
	LastEventQueuedAt        *time.Time `json:"last_event_queued_at,omitempty"`
	SyncCommits              int        `json:"sync_commits"`
	AsyncCommits             int        `json:"async_commits"`
	PeriodicCommitsByMessage int        `json:"periodic_commits_by_message"`
	PeriodicCommitsByTime    int        `json:"periodic_commits_by_time"`
	SessionEndCommits        int        `json:"session_end_commits"`
	ResetCommits             int        `json:"reset_commits"`
	ManualCommits            int        `json:"manual_commits"`
	LastCommitCause          string     `json:"last_commit_cause,omitempty"`
	LastCommitSource         string     `json:"last_commit_source,omitempty"`
	LastCommitMode           string     `json:"last_commit_mode,omitempty"`
	LastCommitLagMs          int64      `json:"last_commit_lag_ms"`
	LastPeriodicTrigger      string     `json:"last_periodic_trigger,omitempty"`
	LastPeriodicAt           *time.Time `json:"last_periodic_at,omitempty"`
	LastError                string     `json:"last_error,omitempty"`
}

func newBridgeStatsView(s bridge.Stats) bridgeStatsView {
	v := bridgeStatsView{
		EventsQueued:             s.EventsQueued,
		MessageEventsQueued:      s.MessageEventsQueued,
		ToolEventsQueued:         s.ToolEventsQueued,
		CommitEventsQueued:       s.CommitEventsQueued,
		SyncCommits:              s.SyncCommits,
		AsyncCommits:             s.AsyncCommits,
		PeriodicCommitsByMessage: s.PeriodicCommitsByMessage,
		PeriodicCommitsByTime:    s.PeriodicCommitsByTime,
		SessionEndCommits:        s.SessionEndCommits,
		ResetCommits:             s.ResetCommits,
		ManualCommits:            s.ManualCommits,
		LastCommitCause:          s.LastCommitCause,
		LastCommitSource:         s.LastCommitSource,
		LastCommitMode:           s.LastCommitMode,
		LastCommitLagMs:          s.LastCommitLagMs,
		LastPeriodicTrigger:      s.LastPeriodicTrigger,
		LastError:                s.LastError,
	}
	if !s.LastEventQueuedAt.IsZero() {
		t := s.LastEventQueuedAt
		v.LastEventQueuedAt = &t
	}
	if !s.LastPeriodicAt.IsZero() {
		t := s.LastPeriodicAt
		v.LastPeriodicAt = &t
	}
	return v
}

// outboxStatsView is the JSON-friendly projection of outbox.Stats.
type outboxStatsView struct {
	Depth                 int    `json:"depth"`
	OldestItemAgeMs       int64  `json:"oldest_item_age_ms"`
	ItemsReady            int    `json:"items_ready"`
	TimeUntilNextReadyMs  int64  `json:"time_until_next_ready_ms"`
	LastFlushDurationMs   int64  `json:"last_flush_duration_ms"`
	LastFlushSuccessCount int    `json:"last_flush_success_count"`
	LastFlushErrorCount   int    `json:"last_flush_error_count"`
	TotalEnqueued         int    `json:"total_enqueued"`
	TotalSent             int    `json:"total_sent"`
	TotalFailed           int    `json:"total_failed"`
	LastError             string `json:"last_error,omitempty"`
	MaxAttempts           int    `json:"max_attempts"`
}

func newOutboxStatsView(s outbox.Stats) outboxStatsView {
	return outboxStatsView{
		Depth:                 s.Depth,
		OldestItemAgeMs:       s.OldestItemAge.Milliseconds(),
		ItemsReady:            s.ItemsReady,
		TimeUntilNextReadyMs:  s.TimeUntilNextReady.Milliseconds(),
		LastFlushDurationMs:   s.LastFlushDuration.Milliseconds(),
		LastFlushSuccessCount: s.LastFlushSuccessCount,
		LastFlushErrorCount:   s.LastFlushErrorCount,
		TotalEnqueued:         s.TotalEnqueued,
		TotalSent:             s.TotalSent,
		TotalFailed:           s.TotalFailed,
		LastError:             s.LastError,
		MaxAttempts:           s.MaxAttempts,
	}
}
