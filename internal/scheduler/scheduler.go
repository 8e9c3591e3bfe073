// Package scheduler runs named recurring jobs on independent intervals.
//
// Start fires every registered job once, then re-arms each one on its own
// cron.Every timer. A job with an hour gate still fires on its interval but
// its handler only runs when the local hour matches. Stop prevents future
// fires; handlers already running are left to finish.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"kitchenflow/internal/metrics"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrDuplicateJob   = errors.New("job already registered")
)

// Handler is a job body. It must be safe to run twice concurrently.
type Handler func(ctx context.Context) error

type Job struct {
	Name     string
	Interval time.Duration
	// Hour, when set, restricts the handler to that local hour of day.
	Hour    *int
	Handler Handler
}

// AtHour is a helper for Job.Hour.
func AtHour(h int) *int { return &h }

type JobStatus struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Hour      *int       `json:"hour,omitempty"`
	LastRun   *time.Time `json:"lastRun"`
	LastError string     `json:"lastError,omitempty"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
}

type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type entry struct {
	job      Job
	id       cronlib.EntryID
	lastRun  *time.Time
	lastErr  string
	runs     int
	failures int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	cron    *cronlib.Cron
	stopped context.Context
	running bool
	baseCtx context.Context

	// immediate tracks the fires launched by Start.
	immediate sync.WaitGroup

	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]*entry),
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Interval <= 0 || job.Handler == nil {
		return fmt.Errorf("invalid job %q: name, positive interval and handler are required", job.Name)
	}
	if job.Hour != nil && (*job.Hour < 0 || *job.Hour > 23) {
		return fmt.Errorf("invalid job %q: hour %d out of range", job.Name, *job.Hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	e := &entry{job: job}
	s.jobs[job.Name] = e
	s.order = append(s.order, job.Name)
	if s.running {
		s.scheduleLocked(e)
	}
	return nil
}

func (s *Scheduler) scheduleLocked(e *entry) {
	ctx := s.baseCtx
	e.id = s.cron.Schedule(cronlib.Every(e.job.Interval), cronlib.FuncJob(func() {
		_ = s.fire(ctx, e, true)
	}))
}

// Start fires every job once and arms its timer. Handlers receive ctx
// without its cancellation so in-flight runs survive shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.baseCtx = context.WithoutCancel(ctx)
	s.cron = cronlib.New(cronlib.WithLocation(s.loc))
	entries := make([]*entry, 0, len(s.order))
	for _, name := range s.order {
		e := s.jobs[name]
		s.scheduleLocked(e)
		entries = append(entries, e)
	}
	s.running = true
	s.cron.Start()
	s.mu.Unlock()

	for _, e := range entries {
		e := e
		s.immediate.Add(1)
		go func() {
			defer s.immediate.Done()
			_ = s.fire(s.baseCtx, e, true)
		}()
	}

	s.logger.Info("scheduler started", "jobs", len(entries))
	return nil
}

// Stop clears every timer. It does not wait for running handlers; see Wait.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	for _, e := range s.jobs {
		s.cron.Remove(e.id)
	}
	s.stopped = s.cron.Stop()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// Wait blocks until handlers started before Stop have returned, or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.immediate.Wait()
		if stopped != nil {
			<-stopped.Done()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs the named job synchronously, ignoring its hour gate.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.fire(ctx, e, false)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Jobs: make([]JobStatus, 0, len(s.order))}
	for _, name := range s.order {
		e := s.jobs[name]
		js := JobStatus{
			Name:      name,
			Interval:  e.job.Interval.String(),
			Hour:      e.job.Hour,
			LastError: e.lastErr,
			Runs:      e.runs,
			Failures:  e.failures,
		}
		if e.lastRun != nil {
			t := *e.lastRun
			js.LastRun = &t
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

func (s *Scheduler) fire(ctx context.Context, e *entry, honorGate bool) error {
	name := e.job.Name
	now := s.now().In(s.loc)
	if honorGate && e.job.Hour != nil && now.Hour() != *e.job.Hour {
		metrics.JobSkippedTotal.WithLabelValues(name).Inc()
		s.logger.Debug("job skipped outside its hour", "job", name, "hour", *e.job.Hour, "now", now.Hour())
		return nil
	}

	start := time.Now()
	err := run(ctx, e.job.Handler)
	elapsed := time.Since(start)

	s.mu.Lock()
	e.runs++
	if err != nil {
		e.failures++
		e.lastErr = err.Error()
	} else {
		e.lastRun = &now
		e.lastErr = ""
	}
	s.mu.Unlock()

	metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "failure").Inc()
		s.logger.Error("job failed", "job", name, "at", now, "duration", elapsed, "error", err)
		return err
	}
	metrics.JobRunsTotal.WithLabelValues(name, "success").Inc()
	s.logger.Info("job finished", "job", name, "at", now, "duration", elapsed)
	return nil
}

// run calls h and turns a panic into an error.
func run(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx)
}
