// Package scheduler runs the controller's periodic jobs. A job never has two
// concurrent runs: if a run is still going when the next tick fires, that
// tick is skipped rather than queued.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one scheduled task.
type job struct {
	name    string
	run     func() error
	running atomic.Bool

	interval time.Duration // interval jobs
	daily    string        // "HH:MM" local, daily jobs
}

// Scheduler drives interval and daily jobs on their own goroutines.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*job
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// AddInterval registers a job that runs every interval.
func (s *Scheduler) AddInterval(name string, interval time.Duration, run func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{name: name, run: run, interval: interval})
}

// AddDaily registers a job that runs once a day at hhmm local time ("03:00").
func (s *Scheduler) AddDaily(name string, hhmm string, run func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{name: name, run: run, daily: hhmm})
}

// Run starts all registered jobs and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			if j.interval > 0 {
				s.runInterval(ctx, j)
			} else {
				s.runDaily(ctx, j)
			}
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	log.Info().Str("job", j.name).Dur("interval", j.interval).Msg("Scheduled job registered")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(j)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, j *job) {
	log.Info().Str("job", j.name).Str("at", j.daily).Msg("Daily job registered")
	for {
		wait := untilNext(time.Now(), j.daily)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.fire(j)
		}
	}
}

// fire runs the job unless a previous run is still in progress.
func (s *Scheduler) fire(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		log.Warn().Str("job", j.name).Msg("Previous run still in progress, skipping tick")
		return
	}
	defer j.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job", j.name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Scheduled job panicked")
		}
	}()

	start := time.Now()
	if err := j.run(); err != nil {
		log.Error().Err(err).Str("job", j.name).Msg("Scheduled job failed")
		return
	}
	log.Debug().Str("job", j.name).Dur("took", time.Since(start)).Msg("Scheduled job completed")
}

// untilNext computes the wait until the next hhmm occurrence after now.
func untilNext(now time.Time, hhmm string) time.Duration {
	target, err := time.ParseInLocation("15:04", hhmm, now.Location())
	if err != nil {
		// Misconfigured schedule: fall back to a daily cadence from now.
		return 24 * time.Hour
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
