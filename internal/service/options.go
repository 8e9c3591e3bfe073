package service

import (
	"log/slog"
	"time"
)

type options struct {
	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

type Option func(*options)

// WithClock overrides the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the kitchen's timezone for every hour-of-day decision.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.Local, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) clock() time.Time {
	return o.now().In(o.loc)
}

// IsRushHour reports whether t falls in the 11:00-14:00 or 18:00-22:00 windows.
func IsRushHour(t time.Time) bool {
	h := t.Hour()
	return (h >= 11 && h < 14) || (h >= 18 && h < 22)
}
