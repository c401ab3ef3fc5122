// Package scheduler wraps periodic commit-trigger polling and
// memory-marker decay sweeps as named cron jobs, rather than a bare
// time.Ticker loop, so operators can see and adjust the schedule.
//
// This is deliberately a different tool from the Outbox's flush ticker:
// robfig/cron resolves standard expressions only to the minute and rounds
// @every delays up to at least one second, which does not fit the Outbox's
// sub-second flushIntervalMs tick. The two coexist; see
// DESIGN.md.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	cronlib "github.com/robfig/cron/v3"
)

// Job is one named, scheduled unit of work.
type Job struct {
	Name string
	Spec string // standard 5-field cron expression or a descriptor such as "@every 1h"
	Run  func(ctx context.Context) error
}

// Scheduler runs a fixed set of named jobs on their own cron schedules.
type Scheduler struct {
	cron *cronlib.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs map[cronlib.EntryID]string
}

// New builds a Scheduler. log may be the zero value to discard job-error
// logging (callers should supply a real Logger for production use).
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cronlib.New(),
		log:  log,
		jobs: map[cronlib.EntryID]string{},
	}
}

// Register schedules a Job and returns its cron entry id, or an error if
// the job's cron expression does not parse.
func (s *Scheduler) Register(ctx context.Context, job Job) (cronlib.EntryID, error) {
	id, err := s.cron.AddFunc(job.Spec, func() {
		if err := job.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("scheduled job failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("register job %q: %w", job.Name, err)
	}
	s.mu.Lock()
	s.jobs[id] = job.Name
	s.mu.Unlock()
	return id, nil
}

// Start begins running registered jobs on their schedules. Non-blocking:
// jobs run on the cron library's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// EntryNames returns the names of every currently-registered job, for
// dashboard/status display.
func (s *Scheduler) EntryNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for _, entry := range s.cron.Entries() {
		if name, ok := s.jobs[entry.ID]; ok {
			names = append(names, name)
		}
	}
	return names
}
