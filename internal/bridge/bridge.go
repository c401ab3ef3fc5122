// Package bridge implements the write path: translating host events into
// store events, queuing them durably via the outbox, and firing commit
// triggers on message-volume and time thresholds.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/memctl/internal/bridgeerr"
	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/outbox"
	"github.com/joestump/memctl/internal/statedb"
	"github.com/joestump/memctl/internal/store"
)

const maxContentBytes = 16000

// Event is a host-side event translated to the store's wire shape by the
// time it reaches Enqueue.
type Event struct {
	EventID  string
	Type     string // "message", "tool_result", or "commit"
	Role     string
	Content  string
	Cause    string
	Metadata map[string]string
}

func (e Event) wire() store.EventWire {
	return store.EventWire{
		EventID:   e.EventID,
		EventType: e.Type,
		Role:      e.Role,
		Content:   e.Content,
		Cause:     e.Cause,
		Metadata:  e.Metadata,
	}
}

// Stats is a snapshot of bridge activity for one (agentId, endpoint) pair.
type Stats struct {
	EventsQueued             int
	MessageEventsQueued      int
	ToolEventsQueued         int
	CommitEventsQueued       int
	LastEventQueuedAt        time.Time
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
	LastCommitLagMs          int64
	LastPeriodicTrigger      string
	LastPeriodicAt           time.Time
	LastError                string
}

// storeClient is the subset of *store.Client the bridge needs, so tests can
// supply a fake.
type storeClient interface {
	CreateSession(ctx context.Context) (store.Session, error)
	AddEventsBatch(ctx context.Context, id string, events []store.EventWire) error
	CommitSession(ctx context.Context, id, cause string) error
}

// Bridge is one agent's write path, bound to one endpoint.
type Bridge struct {
	cfg      config.Config
	client   storeClient
	registry *linkregistry.Registry
	ob       *outbox.Outbox // nil when outbox.enabled is false
	state    *statedb.DB    // nil disables marker persistence
	agentID  string

	mu    sync.Mutex
	stats Stats
}

// New builds a Bridge. ob may be nil; when nil, enqueue calls write
// synchronously through client.AddEventsBatch. state may be nil; when nil,
// markers extracted from assistant messages are discarded rather than
// persisted.
func New(cfg config.Config, client storeClient, registry *linkregistry.Registry, ob *outbox.Outbox, state *statedb.DB) *Bridge {
	return &Bridge{cfg: cfg, client: client, registry: registry, ob: ob, state: state, agentID: cfg.AgentID}
}

// Stats returns a copy of the current stats snapshot.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// OutboxStats returns the bridge's outbox health snapshot. ok is false when
// the outbox is disabled (commits are written synchronously instead).
func (b *Bridge) OutboxStats() (stats outbox.Stats, ok bool) {
	if b.ob == nil {
		return outbox.Stats{}, false
	}
	return b.ob.GetStats(), true
}

// EnqueueMessage applies content hygiene (trim, truncate, empty check) and
// queues a single message event. For assistant messages, it first extracts
// and persists any [MEMORY|EVENT|COOLDOWN] markers found in the raw content
// before hygiene truncation is applied.
func (b *Bridge) EnqueueMessage(ctx context.Context, sessionKey, role, content string) (bool, error) {
	if role == "assistant" {
		b.persistMarkers(sessionKey, content)
	}
	content = hygiene(content)
	if content == "" {
		return false, nil
	}
	return b.enqueue(ctx, sessionKey, []Event{{EventID: uuid.NewString(), Type: "message", Role: role, Content: content}}, false)
}

// persistMarkers extracts inline annotation markers and writes them to
// statedb. It is a best-effort side channel: failures are recorded in
// stats but never block or fail the write path.
func (b *Bridge) persistMarkers(sessionKey, content string) {
	if b.state == nil {
		return
	}
	markers := ExtractMarkers(content)
	for _, m := range markers {
		var err error
		switch m.Kind {
		case "MEMORY":
			err = b.state.UpsertMemoryMarker(b.agentID, sessionKey, m.Service, m.Category, m.Text)
		case "EVENT":
			_, err = b.state.InsertEventMarker(b.agentID, sessionKey, m.Category, m.Service, m.Text)
		case "COOLDOWN":
			_, err = b.state.InsertCooldownMarker(b.agentID, sessionKey, m.Category, m.Service)
		}
		if err != nil {
			b.recordError(err)
		}
	}
}

// EnqueueToolResult queues a tool_result event; content is JSON describing
// the tool call and is not subject to message hygiene truncation rules.
func (b *Bridge) EnqueueToolResult(ctx context.Context, sessionKey, content string) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, nil
	}
	return b.enqueue(ctx, sessionKey, []Event{{EventID: uuid.NewString(), Type: "tool_result", Content: content}}, false)
}

func hygiene(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if len(content) > maxContentBytes {
		content = content[:maxContentBytes] + "\n\n[truncated]"
	}
	return content
}

// enqueue implements the enqueue contract in full: context resolution,
// link ensure, dispatch to outbox or synchronous send, stats, and
// (unless skipCommitTriggers) trigger evaluation.
func (b *Bridge) enqueue(ctx context.Context, sessionKey string, events []Event, skipCommitTriggers bool) (bool, error) {
	if !b.cfg.Enabled || !b.cfg.DualWrite {
		return false, nil
	}

	storeSessionID, err := b.registry.EnsureLink(sessionKey, func() (string, error) {
		s, err := b.client.CreateSession(ctx)
		if err != nil {
			return "", err
		}
		return s.SessionID, nil
	})
	if err != nil {
		b.recordError(err)
		return false, nil // soft no-op: session linkage failure drops the write silently
	}

	wire := make([]store.EventWire, 0, len(events))
	for _, e := range events {
		wire = append(wire, e.wire())
	}

	if b.cfg.Outbox.Enabled && b.ob != nil {
		if _, err := b.ob.Enqueue(sessionKey, storeSessionID, wire); err != nil {
			b.recordError(err)
			return false, err
		}
	} else {
		if err := b.client.AddEventsBatch(ctx, storeSessionID, wire); err != nil {
			b.recordError(err)
			return false, err
		}
	}

	b.recordQueued(events)

	containsCommit := false
	for _, e := range events {
		if e.Type == "commit" {
			containsCommit = true
			break
		}
	}
	if containsCommit || skipCommitTriggers {
		return true, nil
	}

	if err := b.registry.BumpSeq(sessionKey, len(events)); err != nil {
		b.recordError(err)
		return true, nil
	}
	b.evaluateCommitTriggers(ctx, sessionKey)
	return true, nil
}

func (b *Bridge) recordQueued(events []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		b.stats.EventsQueued++
		switch e.Type {
		case "message":
			b.stats.MessageEventsQueued++
		case "tool_result":
			b.stats.ToolEventsQueued++
		case "commit":
			b.stats.CommitEventsQueued++
		}
	}
	b.stats.LastEventQueuedAt = time.Now()
}

func (b *Bridge) recordError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.LastError = err.Error()
}

// evaluateCommitTriggers is called after every non-commit, non-skipped
// enqueue. It must not itself cause a re-evaluation of triggers: the
// commit event it queues is enqueued with skipCommitTriggers=true.
func (b *Bridge) evaluateCommitTriggers(ctx context.Context, sessionKey string) {
	triggers := b.cfg.Commit.Triggers
	link, _, err := b.registry.Get(sessionKey)
	if err != nil {
		b.recordError(err)
		return
	}

	if triggers.EveryNMessages > 0 && link.LastSyncedSeq > 0 && link.LastSyncedSeq%int64(triggers.EveryNMessages) == 0 {
		b.fireTrigger(ctx, sessionKey, "message-threshold")
		return
	}
	if triggers.EveryNMinutes > 0 && !link.LastCommitAt.IsZero() {
		if time.Since(link.LastCommitAt) >= time.Duration(triggers.EveryNMinutes)*time.Minute {
			b.fireTrigger(ctx, sessionKey, "time-threshold")
		}
	}
}

// SweepPeriodicCommits fires the time-threshold commit trigger for every
// linked session that has gone quiet. evaluateCommitTriggers only runs when
// a new event is enqueued, so a session with no new activity since its last
// commit never gets re-evaluated on its own; this walks every known session
// and fires the trigger for any that have crossed the time threshold.
func (b *Bridge) SweepPeriodicCommits(ctx context.Context) error {
	triggers := b.cfg.Commit.Triggers
	if triggers.EveryNMinutes <= 0 {
		return nil
	}
	links, err := b.registry.List()
	if err != nil {
		return err
	}
	threshold := time.Duration(triggers.EveryNMinutes) * time.Minute
	for sessionKey, link := range links {
		if link.LastCommitAt.IsZero() {
			continue
		}
		if time.Since(link.LastCommitAt) >= threshold {
			b.fireTrigger(ctx, sessionKey, "time-threshold")
		}
	}
	return nil
}

func (b *Bridge) fireTrigger(ctx context.Context, sessionKey, source string) {
	b.mu.Lock()
	lastEventQueuedAt := b.stats.LastEventQueuedAt
	b.mu.Unlock()

	ev := Event{Type: "commit", Cause: "periodic"}
	queued, err := b.enqueue(ctx, sessionKey, []Event{ev}, true)
	if err != nil || !queued {
		return
	}
	if err := b.registry.MarkCommitQueued(sessionKey); err != nil {
		b.recordError(err)
	}

	b.mu.Lock()
	switch source {
	case "message-threshold":
		b.stats.PeriodicCommitsByMessage++
	case "time-threshold":
		b.stats.PeriodicCommitsByTime++
	}
	now := time.Now()
	b.stats.LastPeriodicTrigger = source
	b.stats.LastPeriodicAt = now
	b.stats.LastCommitCause = ev.Cause
	b.stats.LastCommitSource = source
	b.stats.LastCommitMode = string(b.cfg.Commit.Mode)
	if !lastEventQueuedAt.IsZero() {
		b.stats.LastCommitLagMs = now.Sub(lastEventQueuedAt).Milliseconds()
	}
	b.mu.Unlock()
}

// EnqueueCommit implements explicit commits: session_end, reset, or manual.
func (b *Bridge) EnqueueCommit(ctx context.Context, sessionKey, cause string) (bool, error) {
	triggers := b.cfg.Commit.Triggers
	if cause == "session_end" && !triggers.SessionEnd {
		return false, bridgeerr.New(bridgeerr.KindConfig, "session_end commits are disabled")
	}
	if cause == "reset" && !triggers.Reset {
		return false, bridgeerr.New(bridgeerr.KindConfig, "reset commits are disabled")
	}

	b.mu.Lock()
	priorEventQueuedAt := b.stats.LastEventQueuedAt
	b.mu.Unlock()

	if b.cfg.Commit.Mode == config.CommitSync {
		storeSessionID, err := b.registry.EnsureLink(sessionKey, func() (string, error) {
			s, err := b.client.CreateSession(ctx)
			if err != nil {
				return "", err
			}
			return s.SessionID, nil
		})
		if err != nil {
			b.recordError(err)
			return false, nil
		}
		if err := b.client.CommitSession(ctx, storeSessionID, cause); err != nil {
			b.recordError(err)
			return false, err
		}
		if err := b.registry.MarkCommitQueued(sessionKey); err != nil {
			b.recordError(err)
		}
		b.recordCommitStats(cause, "manual", string(config.CommitSync), priorEventQueuedAt)
		return true, nil
	}

	queued, err := b.enqueue(ctx, sessionKey, []Event{{Type: "commit", Cause: cause}}, true)
	if err != nil || !queued {
		return queued, err
	}
	if err := b.registry.MarkCommitQueued(sessionKey); err != nil {
		b.recordError(err)
	}
	b.recordCommitStats(cause, "manual", string(config.CommitAsync), priorEventQueuedAt)
	return true, nil
}

func (b *Bridge) recordCommitStats(cause, source, mode string, lastEventQueuedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mode == string(config.CommitSync) {
		// Sync commits never pass through enqueue/recordQueued, so
		// commitEventsQueued must be bumped here directly. Async commits
		// already incremented it in recordQueued when the commit event
		// was enqueued — bumping it again here would double-count.
		b.stats.CommitEventsQueued++
		b.stats.SyncCommits++
	} else {
		b.stats.AsyncCommits++
	}
	switch cause {
	case "session_end":
		b.stats.SessionEndCommits++
	case "reset":
		b.stats.ResetCommits++
	default:
		b.stats.ManualCommits++
	}
	now := time.Now()
	b.stats.LastCommitCause = cause
	b.stats.LastCommitSource = source
	b.stats.LastCommitMode = mode
	if !lastEventQueuedAt.IsZero() {
		b.stats.LastCommitLagMs = now.Sub(lastEventQueuedAt).Milliseconds()
	}
}
