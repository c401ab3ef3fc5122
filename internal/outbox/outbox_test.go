package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joestump/memctl/internal/store"
)

func event(role string) store.EventWire {
	return store.EventWire{EventID: "e", EventType: "message", Role: role, Content: "hi"}
}

func TestEnqueueThenFlushDelivers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	var delivered int32
	ob := New(Config{Path: path, MaxBatchSize: 100}, func(ctx context.Context, item *Item) error {
		atomic.AddInt32(&delivered, int32(len(item.Events)))
		return nil
	})
	if err := ob.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ob.Stop()

	for i := 0; i < 200; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := ob.Enqueue("sess-1", "store-1", []store.EventWire{event(role)}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := ob.Enqueue("sess-1", "store-1", []store.EventWire{{EventID: "c", EventType: "commit", Cause: "session_end"}}); err != nil {
		t.Fatalf("Enqueue commit: %v", err)
	}

	if d := ob.Depth(); d < 201 {
		t.Fatalf("depth = %d, want >= 201", d)
	}

	// Each flush cycle sends at most MaxBatchSize items, so drain over
	// several cycles within a bounded time.
	deadline := time.Now().Add(5 * time.Second)
	for ob.Depth() > 0 && time.Now().Before(deadline) {
		ob.Flush(context.Background())
	}

	if d := ob.Depth(); d != 0 {
		t.Fatalf("depth after flush = %d, want 0", d)
	}
	if got := atomic.LoadInt32(&delivered); got != 201 {
		t.Fatalf("delivered = %d, want 201", got)
	}
}

func TestColdRestartDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")

	failing := New(Config{Path: path}, func(ctx context.Context, item *Item) error {
		return errors.New("store down")
	})
	if err := failing.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := failing.Enqueue("sess-1", "store-1", []store.EventWire{event("user")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	failing.Flush(context.Background())
	failing.Stop()

	if failing.Depth() != 1 {
		t.Fatalf("depth before restart = %d, want 1", failing.Depth())
	}

	var delivered int32
	recovered := New(Config{Path: path, MaxBatchSize: 100}, func(ctx context.Context, item *Item) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	})
	if err := recovered.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer recovered.Stop()

	// The failed attempt pushed nextAttemptAt one backoff step (1s) into the
	// future; keep flushing until the item becomes ready and is delivered.
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&delivered) == 0 && time.Now().Before(deadline) {
		recovered.Flush(context.Background())
		time.Sleep(50 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&delivered); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	if d := recovered.Depth(); d != 0 {
		t.Fatalf("depth = %d, want 0", d)
	}
}

func TestFlushRespectsMaxBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	var sent int32
	ob := New(Config{Path: path, MaxBatchSize: 3}, func(ctx context.Context, item *Item) error {
		atomic.AddInt32(&sent, 1)
		return nil
	})
	if err := ob.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ob.Stop()

	for i := 0; i < 10; i++ {
		if _, err := ob.Enqueue("sess-1", "store-1", []store.EventWire{event("user")}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	ob.Flush(context.Background())

	if got := atomic.LoadInt32(&sent); got != 3 {
		t.Fatalf("sent = %d, want 3", got)
	}
	if d := ob.Depth(); d != 7 {
		t.Fatalf("depth = %d, want 7", d)
	}
}

func TestFailedItemDoesNotBlockOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	var calls int32
	ob := New(Config{Path: path, MaxBatchSize: 100}, func(ctx context.Context, item *Item) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return errors.New("first item fails")
		}
		return nil
	})
	if err := ob.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ob.Stop()

	for i := 0; i < 3; i++ {
		if _, err := ob.Enqueue("sess-1", "store-1", []store.EventWire{event("user")}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	ob.Flush(context.Background())

	if d := ob.Depth(); d != 1 {
		t.Fatalf("depth = %d, want 1 (only the failed item remains)", d)
	}
}

func TestBackoffDurationCapsAtMax(t *testing.T) {
	d := backoffDuration(1000, 5000, 10)
	if d != 5*time.Second {
		t.Fatalf("backoff = %v, want capped at 5s", d)
	}
}

func TestBackoffDurationFirstAttemptEqualsBase(t *testing.T) {
	d := backoffDuration(1000, 60000, 1)
	if d != 1*time.Second {
		t.Fatalf("backoff = %v, want 1s", d)
	}
}
