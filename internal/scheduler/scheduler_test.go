package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kitchenflow/internal/scheduler"
)

// handlerSpy counts handler invocations with thread safety.
type handlerSpy struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (h *handlerSpy) Fn() scheduler.Handler {
	return func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls++
		return h.err
	}
}

func (h *handlerSpy) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func fixedClock(hour int) func() time.Time {
	return func() time.Time { return time.Date(2024, 3, 4, hour, 15, 0, 0, time.UTC) }
}

func newScheduler(hour int) *scheduler.Scheduler {
	return scheduler.New(scheduler.WithClock(fixedClock(hour)), scheduler.WithLocation(time.UTC))
}

func stopAndWait(t *testing.T, s *scheduler.Scheduler) {
	t.Helper()
	s.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestStart_FiresEveryJobOnce(t *testing.T) {
	s := newScheduler(9)
	a, b := &handlerSpy{}, &handlerSpy{}
	if err := s.Register(scheduler.Job{Name: "a", Interval: time.Hour, Handler: a.Fn()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(scheduler.Job{Name: "b", Interval: 6 * time.Hour, Handler: b.Fn()}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	stopAndWait(t, s)

	if a.Count() != 1 || b.Count() != 1 {
		t.Errorf("calls: a=%d b=%d, want 1 each", a.Count(), b.Count())
	}
	st := s.Status()
	if st.Running {
		t.Error("expected stopped scheduler")
	}
	for _, j := range st.Jobs {
		if j.LastRun == nil || j.Runs != 1 {
			t.Errorf("job %s: lastRun=%v runs=%d", j.Name, j.LastRun, j.Runs)
		}
	}
}

func TestHourGate(t *testing.T) {
	tests := []struct {
		name  string
		hour  int
		calls int
	}{
		{"outside the hour", 9, 0},
		{"inside the hour", 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScheduler(tt.hour)
			spy := &handlerSpy{}
			err := s.Register(scheduler.Job{Name: "crm", Interval: time.Hour, Hour: scheduler.AtHour(10), Handler: spy.Fn()})
			if err != nil {
				t.Fatal(err)
			}
			if err := s.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			stopAndWait(t, s)

			if spy.Count() != tt.calls {
				t.Errorf("calls = %d, want %d", spy.Count(), tt.calls)
			}
		})
	}
}

func TestRunNow_BypassesHourGate(t *testing.T) {
	s := newScheduler(3)
	spy := &handlerSpy{}
	_ = s.Register(scheduler.Job{Name: "crm", Interval: time.Hour, Hour: scheduler.AtHour(10), Handler: spy.Fn()})

	if err := s.RunNow(context.Background(), "crm"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if spy.Count() != 1 {
		t.Errorf("calls = %d, want 1", spy.Count())
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := newScheduler(3)
	err := s.RunNow(context.Background(), "missing")
	if !errors.Is(err, scheduler.ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestFailuresAndPanicsAreIsolated(t *testing.T) {
	s := newScheduler(12)
	failing := &handlerSpy{err: errors.New("boom")}
	healthy := &handlerSpy{}
	_ = s.Register(scheduler.Job{Name: "failing", Interval: time.Hour, Handler: failing.Fn()})
	_ = s.Register(scheduler.Job{Name: "panicking", Interval: time.Hour, Handler: func(context.Context) error {
		panic("kaboom")
	}})
	_ = s.Register(scheduler.Job{Name: "healthy", Interval: time.Hour, Handler: healthy.Fn()})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stopAndWait(t, s)

	if healthy.Count() != 1 {
		t.Errorf("healthy calls = %d, want 1", healthy.Count())
	}
	byName := map[string]scheduler.JobStatus{}
	for _, j := range s.Status().Jobs {
		byName[j.Name] = j
	}
	if j := byName["failing"]; j.Failures != 1 || j.LastError != "boom" || j.LastRun != nil {
		t.Errorf("failing status: %+v", j)
	}
	if j := byName["panicking"]; j.Failures != 1 || j.LastError == "" {
		t.Errorf("panicking status: %+v", j)
	}

	// The failed job is still runnable.
	failing.mu.Lock()
	failing.err = nil
	failing.mu.Unlock()
	if err := s.RunNow(context.Background(), "failing"); err != nil {
		t.Fatalf("rerun: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newScheduler(0)
	spy := &handlerSpy{}
	if err := s.Register(scheduler.Job{Name: "a", Interval: time.Hour, Handler: spy.Fn()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(scheduler.Job{Name: "a", Interval: time.Hour, Handler: spy.Fn()}); !errors.Is(err, scheduler.ErrDuplicateJob) {
		t.Errorf("duplicate: err = %v", err)
	}
	if err := s.Register(scheduler.Job{Name: "b", Handler: spy.Fn()}); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.Register(scheduler.Job{Name: "c", Interval: time.Hour, Hour: scheduler.AtHour(24), Handler: spy.Fn()}); err == nil {
		t.Error("expected error for hour 24")
	}
}

func TestStartTwice(t *testing.T) {
	s := newScheduler(0)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopAndWait(t, s)
	if err := s.Start(context.Background()); !errors.Is(err, scheduler.ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if !s.Status().Running {
		t.Error("expected running")
	}
}

func waitForCalls(t *testing.T, spy *handlerSpy, n int, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for spy.Count() < n {
		select {
		case <-deadline:
			t.Fatalf("calls = %d after %v, want at least %d", spy.Count(), within, n)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestTimerRearmsAndStopHalts(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on real timers")
	}
	s := newScheduler(12)
	spy := &handlerSpy{}
	if err := s.Register(scheduler.Job{Name: "tick", Interval: time.Second, Handler: spy.Fn()}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The immediate fire plus at least two timer fires.
	waitForCalls(t, spy, 3, 5*time.Second)
	stopAndWait(t, s)

	stopped := spy.Count()
	time.Sleep(1500 * time.Millisecond)
	if got := spy.Count(); got != stopped {
		t.Fatalf("calls after stop = %d, want %d", got, stopped)
	}

	// A stopped scheduler starts again with a fresh immediate fire and timer.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitForCalls(t, spy, stopped+2, 5*time.Second)
	stopAndWait(t, s)

	if st := s.Status(); st.Running || st.Jobs[0].Runs != spy.Count() {
		t.Errorf("status = %+v, calls = %d", st, spy.Count())
	}
}
