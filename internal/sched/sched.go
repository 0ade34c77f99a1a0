// Package sched runs housekeeping tasks at fixed wall-clock times each
// day, such as main-contract re-detection after the session close.
package sched

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborquant/cta-engine/internal/logger"
	"github.com/harborquant/cta-engine/pkg/errors"
)

type task struct {
	name   string
	hour   int
	minute int
	fn     func()
}

// Scheduler fires registered tasks once per day at their configured time.
type Scheduler struct {
	log *logger.Logger
	// now is overridable for tests; defaults to time.Now.
	now func() time.Time

	mu      sync.Mutex
	tasks   []task
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		log:  log,
		now:  time.Now,
		stop: make(chan struct{}),
	}
}

// Daily registers a task at "HH:MM" local time. Must be called before
// Start.
func (s *Scheduler) Daily(name, at string, fn func()) error {
	var hour, minute int
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "bad schedule time %q", at)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "bad schedule time %q", at)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, hour: hour, minute: minute, fn: fn})

	return nil
}

// Start launches one goroutine per task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.run(t)
	}
}

// Stop halts all tasks and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()

		return
	}
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) run(t task) {
	defer s.wg.Done()

	for {
		now := s.now()
		timer := time.NewTimer(nextRun(now, t.hour, t.minute).Sub(now))

		select {
		case <-timer.C:
			s.log.Info("scheduled task firing", zap.String("task", t.name))
			t.fn()
		case <-s.stop:
			timer.Stop()

			return
		}
	}
}

// nextRun returns the next occurrence of hour:minute strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
