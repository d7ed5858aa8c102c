package mysql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// QueryStats holds statement execution statistics for a Backend.
type QueryStats struct {
	// TotalQueries is the total number of row-returning statements.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of non-row statements.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of statement errors.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of execution statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgDuration returns the average statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is called when a statement exceeds the slow threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// recorder collects per-statement timing for a Backend.
type recorder struct {
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

func newRecorder() *recorder {
	return &recorder{
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
}

func (r *recorder) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		r.stats.TotalQueries.Add(1)
	} else {
		r.stats.TotalExecs.Add(1)
	}
	r.stats.TotalDuration.Add(int64(duration))
	if err != nil {
		r.stats.Errors.Add(1)
	}

	r.mu.RLock()
	threshold := r.slowThreshold
	hook := r.slowHook
	r.mu.RUnlock()

	if duration > threshold {
		r.stats.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, query, args, duration)
		}
	}
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the structured logger the backend reports through.
func WithLogger(log *slog.Logger) Option {
	return func(b *Backend) {
		b.log = log
	}
}

// WithSlowThreshold sets the threshold for slow query detection.
// Statements taking longer than this duration are counted as slow.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) Option {
	return func(b *Backend) {
		b.rec.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback for slow statements. The hook is
// called whenever a statement exceeds the slow threshold.
func WithSlowQueryHook(hook SlowQueryHook) Option {
	return func(b *Backend) {
		b.rec.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to the backend's logger.
// This is a convenience wrapper around WithSlowQueryHook.
func WithSlowQueryLog() Option {
	return func(b *Backend) {
		b.rec.slowHook = func(_ context.Context, query string, args []any, duration time.Duration) {
			b.log.Warn("slow query detected", "duration", duration, "query", query, "args", args)
		}
	}
}
