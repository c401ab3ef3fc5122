// Package outbox provides a durable, ordered, at-least-once queue of event
// batches destined for the memory store. It is backed by a single
// append-oriented JSONL file per host agent; the file is the authoritative
// queue, rewritten atomically on every successful mutation.
package outbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/joestump/memctl/internal/bridgeerr"
	"github.com/joestump/memctl/internal/store"
)

// Item is one outbox entry: an ordered, non-empty batch of events destined
// for a single store session.
type Item struct {
	ID            string           `json:"id"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Attempts      int              `json:"attempts"`
	NextAttemptAt time.Time        `json:"nextAttemptAt"`
	SessionKey    string           `json:"sessionKey"`
	SessionID     string           `json:"sessionId"`
	Events        []store.EventWire `json:"events"`
}

// Sender delivers one item to the store. Returning an error leaves the item
// queued for retry.
type Sender func(ctx context.Context, item *Item) error

// Stats is a point-in-time snapshot of outbox health.
type Stats struct {
	Depth               int
	OldestItemAge       time.Duration
	ItemsReady          int
	TimeUntilNextReady  time.Duration
	LastFlushDuration    time.Duration
	LastFlushSuccessCount int
	LastFlushErrorCount   int
	TotalEnqueued        int
	TotalSent            int
	TotalFailed          int
	LastError            string
	MaxAttempts          int
}

// Config controls persistence cadence and retry shape.
type Config struct {
	Path            string
	FlushIntervalMs int
	MaxBatchSize    int
	RetryBaseMs     int
	RetryMaxMs      int
}

// Outbox owns one queue file exclusively; no other component may mutate it.
type Outbox struct {
	cfg    Config
	sender Sender

	mu    sync.Mutex // guards items and persisted state
	items []*Item

	flushMu  sync.Mutex // single-flight guard for flush()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New constructs an Outbox. Call Start to load the file and begin the
// periodic flush timer.
func New(cfg Config, sender Sender) *Outbox {
	return &Outbox{cfg: cfg, sender: sender, stopCh: make(chan struct{})}
}

// Start loads existing file contents, skipping malformed lines, and begins
// a periodic flush timer at cfg.FlushIntervalMs.
func (o *Outbox) Start(ctx context.Context) error {
	items, err := o.load()
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.items = items
	o.statsMu.Lock()
	o.stats.TotalEnqueued = len(items)
	o.statsMu.Unlock()
	o.mu.Unlock()

	interval := time.Duration(o.cfg.FlushIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.Flush(ctx)
			case <-o.stopCh:
				return
			}
		}
	}()
	return nil
}

// Stop cancels the timer. An in-flight flush, if any, completes; Stop does
// not interrupt it.
func (o *Outbox) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}

// Enqueue appends a new item with attempts=0, nextAttemptAt=now, fsyncs via
// file rewrite, and returns the new queue depth.
func (o *Outbox) Enqueue(sessionKey, sessionID string, events []store.EventWire) (int, error) {
	if len(events) == 0 {
		return 0, bridgeerr.New(bridgeerr.KindValidation, "outbox enqueue: events must be non-empty")
	}
	now := time.Now()
	item := &Item{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Attempts:      0,
		NextAttemptAt: now,
		SessionKey:    sessionKey,
		SessionID:     sessionID,
		Events:        events,
	}

	o.mu.Lock()
	o.items = append(o.items, item)
	depth := len(o.items)
	err := o.persistLocked()
	o.mu.Unlock()
	if err != nil {
		return 0, err
	}

	o.statsMu.Lock()
	o.stats.TotalEnqueued++
	o.statsMu.Unlock()
	return depth, nil
}

// Flush drains ready items under a single-flight lock: for each item with
// nextAttemptAt <= now, in order, it calls the sender; on success the item
// is removed, on failure its attempts/backoff advance. It stops after
// maxBatchSize successful sends in one cycle.
func (o *Outbox) Flush(ctx context.Context) {
	if !o.flushMu.TryLock() {
		return
	}
	defer o.flushMu.Unlock()

	start := time.Now()
	maxBatch := o.cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 20
	}

	successCount, errorCount := 0, 0
	var lastErr string

	for {
		if successCount >= maxBatch {
			break
		}
		o.mu.Lock()
		var target *Item
		for _, it := range o.items {
			if !it.NextAttemptAt.After(time.Now()) {
				target = it
				break
			}
		}
		o.mu.Unlock()
		if target == nil {
			break
		}

		err := o.sender(ctx, target)
		if err == nil {
			o.removeItem(target.ID)
			successCount++
			continue
		}

		errorCount++
		lastErr = err.Error()
		o.mu.Lock()
		target.Attempts++
		target.UpdatedAt = time.Now()
		target.NextAttemptAt = time.Now().Add(backoffDuration(o.cfg.RetryBaseMs, o.cfg.RetryMaxMs, target.Attempts))
		perr := o.persistLocked()
		o.mu.Unlock()
		if perr != nil {
			lastErr = perr.Error()
		}
		// This item's failure delays only that item; move on so a
		// subsequent ready item is not blocked by it.
		continue
	}

	o.statsMu.Lock()
	o.stats.LastFlushDuration = time.Since(start)
	o.stats.LastFlushSuccessCount = successCount
	o.stats.LastFlushErrorCount = errorCount
	o.stats.TotalSent += successCount
	o.stats.TotalFailed += errorCount
	if lastErr != "" {
		o.stats.LastError = lastErr
	}
	o.statsMu.Unlock()
}

func (o *Outbox) removeItem(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, it := range o.items {
		if it.ID == id {
			o.items = append(o.items[:i], o.items[i+1:]...)
			break
		}
	}
	o.persistLocked()
}

// backoffDuration computes min(maxMs, baseMs*2^(attempts-1)) for attempts>=1
// using a capped exponential backoff sequence; attempts<=0 yields 0.
func backoffDuration(baseMs, maxMs, attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if baseMs <= 0 {
		baseMs = 1000
	}
	if maxMs <= 0 {
		maxMs = 60000
	}
	b := retry.NewExponential(time.Duration(baseMs) * time.Millisecond)
	b = retry.WithCappedDuration(time.Duration(maxMs)*time.Millisecond, b)
	var d time.Duration
	for i := 0; i < attempts; i++ {
		next, stop := b.Next()
		if stop {
			return time.Duration(maxMs) * time.Millisecond
		}
		d = next
	}
	return d
}

// GetStats returns depth, readiness, and cumulative counters.
func (o *Outbox) GetStats() Stats {
	o.mu.Lock()
	depth := len(o.items)
	var oldest time.Duration
	ready := 0
	var nextReady time.Duration = -1
	maxAttempts := 0
	now := time.Now()
	for _, it := range o.items {
		if age := now.Sub(it.CreatedAt); age > oldest {
			oldest = age
		}
		if !it.NextAttemptAt.After(now) {
			ready++
		} else if until := it.NextAttemptAt.Sub(now); nextReady < 0 || until < nextReady {
			nextReady = until
		}
		if it.Attempts > maxAttempts {
			maxAttempts = it.Attempts
		}
	}
	o.mu.Unlock()
	if nextReady < 0 {
		nextReady = 0
	}

	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	s := o.stats
	s.Depth = depth
	s.OldestItemAge = oldest
	s.ItemsReady = ready
	s.TimeUntilNextReady = nextReady
	s.MaxAttempts = maxAttempts
	return s
}

// load reads the file, skipping blank and malformed lines. A partial last
// line is treated as corruption and dropped without losing earlier items.
func (o *Outbox) load() ([]*Item, error) {
	data, err := os.ReadFile(o.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, "read outbox file", err)
	}

	var items []*Item
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var it Item
		if err := json.Unmarshal(line, &it); err != nil {
			continue // malformed line: dropped; it is neither logged nor counted in stats
		}
		items = append(items, &it)
	}
	return items, nil
}

// persistLocked rewrites the whole file atomically. Callers must hold o.mu.
func (o *Outbox) persistLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range o.items {
		if err := enc.Encode(it); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindProtocol, "encode outbox item", err)
		}
	}

	dir := filepath.Dir(o.cfg.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindConfig, "create outbox dir", err)
		}
	}
	tmp := o.cfg.Path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindConfig, "write outbox tmp file", err)
	}
	if err := os.Rename(tmp, o.cfg.Path); err != nil {
		os.Remove(tmp)
		return bridgeerr.Wrap(bridgeerr.KindConfig, "rename outbox tmp file", err)
	}
	return nil
}

// Depth returns the current queue depth.
func (o *Outbox) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
