// Package schedule runs the monitor's periodic jobs on a robfig/cron scheduler.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// parser accepts standard 5-field expressions and descriptors such as @every.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns named periodic jobs. A job still running when its next tick
// fires is skipped, never overlapped.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu  sync.Mutex
	ids map[string]cron.EntryID
}

// New creates a stopped Scheduler.
func New(logger zerolog.Logger) *Scheduler {
	cl := cron.PrintfLogger(&logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: logger,
		ids: make(map[string]cron.EntryID),
	}
}

// Every registers job to run once per interval.
func (s *Scheduler) Every(name string, interval time.Duration, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("schedule: %s: interval must be positive", name)
	}
	return s.Add(name, "@every "+interval.String(), job)
}

// Add registers job under a cron expression.
func (s *Scheduler) Add(name, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[name]; ok {
		return fmt.Errorf("schedule: job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.log.Debug().Str("job", name).Msg("running scheduled job")
		job()
	})
	if err != nil {
		return fmt.Errorf("schedule: %s: %w", name, err)
	}
	s.ids[name] = id
	return nil
}

// Next returns the next fire time of a running job, or zero if unknown.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts future ticks. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
