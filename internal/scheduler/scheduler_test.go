package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRegisterRunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	var calls int32

	if _, err := s.Register(context.Background(), Job{
		Name: "tick",
		Spec: "@every 1s",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Start()
	defer s.Stop()

	// cron rounds @every delays up to whole seconds, so two runs need a
	// little over two seconds.
	time.Sleep(2500 * time.Millisecond)
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("calls = %d, want at least 2", calls)
	}
}

func TestRegisterInvalidSpecReturnsError(t *testing.T) {
	s := New(zerolog.Nop())
	_, err := s.Register(context.Background(), Job{Name: "bad", Spec: "not-a-cron-spec", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected parse error for invalid cron spec")
	}
}

func TestEntryNamesReflectsRegisteredJobs(t *testing.T) {
	s := New(zerolog.Nop())
	if _, err := s.Register(context.Background(), Job{Name: "decay", Spec: "@every 1h", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	names := s.EntryNames()
	if len(names) != 1 || names[0] != "decay" {
		t.Fatalf("EntryNames = %v", names)
	}
}
