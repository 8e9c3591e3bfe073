package service_test

import (
	"context"
	"sync"
	"time"

	"kitchenflow/internal/model"
	"kitchenflow/internal/service"
)

// noon is a rush-hour Monday.
var noon = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func clockOpts(c *testClock) []service.Option {
	return []service.Option{service.WithClock(c.Now), service.WithLocation(time.UTC)}
}

// notifierSpy records Send calls.
type notifierSpy struct {
	mu     sync.Mutex
	events []string
}

func (n *notifierSpy) Send(_ context.Context, tenantID, event string, _ any) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, tenantID+":"+event)
	return true, nil
}

func (n *notifierSpy) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

// finished builds a closed timing record for seeding history.
func finished(tenantID, productID string, startedAt time.Time, actual, hour, depth int, rush bool) model.TimingRecord {
	end := startedAt.Add(time.Duration(actual) * time.Minute)
	return model.TimingRecord{
		TenantID:      tenantID,
		ProductID:     productID,
		OrderID:       "history",
		ActualMinutes: intPtr(actual),
		StartedAt:     startedAt,
		FinishedAt:    &end,
		HourOfDay:     hour,
		QueueDepth:    depth,
		RushHour:      rush,
	}
}
