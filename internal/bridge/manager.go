package bridge

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/outbox"
	"github.com/joestump/memctl/internal/statedb"
)

// Manager memoises one Bridge (and its Outbox, if enabled) per (agentId,
// endpoint) pair, as required by the "one durable queue per agent" rule.
// It is an explicit, injectable instance rather than a package-level
// singleton so unrelated tests never share hidden static state.
type Manager struct {
	stateDir string
	state    *statedb.DB

	mu       sync.Mutex
	bridges  map[string]*Bridge
	outboxes map[string]*outbox.Outbox
}

// NewManager builds a Manager rooted at stateDir, where per-agent outbox
// files are written. state may be nil to disable marker persistence.
func NewManager(stateDir string, state *statedb.DB) *Manager {
	return &Manager{
		stateDir: stateDir,
		state:    state,
		bridges:  map[string]*Bridge{},
		outboxes: map[string]*outbox.Outbox{},
	}
}

func key(agentID, endpoint string) string { return agentID + "@" + endpoint }

// Ensure returns the memoised Bridge for (agentId, endpoint), constructing
// and starting it (and its outbox, if enabled) on first use.
func (m *Manager) Ensure(ctx context.Context, agentID string, cfg config.Config, client storeClient, registry *linkregistry.Registry) (*Bridge, error) {
	k := key(agentID, cfg.Endpoint)

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bridges[k]; ok {
		return b, nil
	}

	var ob *outbox.Outbox
	if cfg.Outbox.Enabled {
		path := cfg.Outbox.Path
		if path == "" {
			path = filepath.Join(m.stateDir, "outbox", agentID+".jsonl")
		}
		ob = outbox.New(outbox.Config{
			Path:            path,
			FlushIntervalMs: cfg.Outbox.FlushIntervalMs,
			MaxBatchSize:    cfg.Outbox.MaxBatchSize,
			RetryBaseMs:     cfg.Outbox.RetryBaseMs,
			RetryMaxMs:      cfg.Outbox.RetryMaxMs,
		}, func(ctx context.Context, item *outbox.Item) error {
			return client.AddEventsBatch(ctx, item.SessionID, item.Events)
		})
		if err := ob.Start(ctx); err != nil {
			return nil, err
		}
		m.outboxes[k] = ob
	}

	b := New(cfg, client, registry, ob, m.state)
	m.bridges[k] = b
	return b, nil
}

// Shutdown stops every memoised outbox. Call once at process shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ob := range m.outboxes {
		ob.Stop()
	}
}
