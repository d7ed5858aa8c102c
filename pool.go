package mysql

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PoolConn is a pooled server connection. It is owned by exactly one
// caller between Acquire and Release.
type PoolConn struct {
	conn       *sql.Conn
	returnedAt time.Time
	broken     bool
}

// ExecContext executes a statement on the pooled connection.
func (pc *PoolConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := pc.conn.ExecContext(ctx, query, args...)
	return res, wrapServerError(err)
}

// QueryContext runs a query on the pooled connection.
func (pc *PoolConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := pc.conn.QueryContext(ctx, query, args...)
	return rows, wrapServerError(err)
}

// PingContext verifies the connection is still alive.
func (pc *PoolConn) PingContext(ctx context.Context) error {
	return pc.conn.PingContext(ctx)
}

// MarkBroken flags the connection for discard on Release. Transaction
// control failures caused by I/O errors use this to keep a connection
// with unknown server-side state out of circulation.
func (pc *PoolConn) MarkBroken() {
	pc.broken = true
}

// Broken reports whether the connection has been flagged for discard.
func (pc *PoolConn) Broken() bool {
	return pc.broken
}

// Pool hands out server connections up to a hard bound of size plus
// overflow. Acquire blocks until a connection is free or the acquire
// timeout elapses; idle connections past the staleness age are
// ping-validated before reuse.
type Pool struct {
	db  *sql.DB
	cfg Config
	sem *semaphore.Weighted
	log *slog.Logger

	mu     sync.Mutex // guards idle and closed
	idle   []*PoolConn
	closed bool
}

// NewPool returns a pool over the given database handle. The handle's
// own connection limit is pinned to the pool bound so the pool is the
// single authority on connection count.
func NewPool(db *sql.DB, cfg Config, log *slog.Logger) *Pool {
	cfg.normalize()
	bound := cfg.PoolSize + cfg.PoolOverflow
	db.SetMaxOpenConns(bound)
	db.SetMaxIdleConns(cfg.PoolSize)
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		db:  db,
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(bound)),
		log: log,
	}
}

// Acquire returns a connection, blocking up to the configured acquire
// timeout. When the pool is at its bound and nothing is released in
// time, it fails with a PoolExhaustedError; callers that treat bursts
// as retryable should match it with IsPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*PoolConn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewPoolExhaustedError(p.cfg.PoolSize, p.cfg.PoolOverflow)
	}
	pc, err := p.take(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return pc, nil
}

// take pops a validated idle connection or dials a new one. Called with
// a semaphore permit held, so the total of in-use and idle connections
// never exceeds the bound.
func (p *Pool) take(ctx context.Context) (*PoolConn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if n := len(p.idle); n > 0 {
			pc := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			if time.Since(pc.returnedAt) < p.cfg.StaleAfter {
				return pc, nil
			}
			if err := pc.PingContext(ctx); err == nil {
				return pc, nil
			}
			p.log.Debug("discarding stale connection", "idle_for", time.Since(pc.returnedAt))
			pc.conn.Close()
			continue
		}
		p.mu.Unlock()
		return p.dial(ctx)
	}
}

// dial opens a new connection, retrying transient failures with
// exponential backoff and jitter.
func (p *Pool) dial(ctx context.Context) (*PoolConn, error) {
	var lastErr error
	delay := p.cfg.RetryBase
	for attempt := 0; attempt < p.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(0)
			if half := int64(delay) / 2; half > 0 {
				jitter = time.Duration(rand.Int63n(half))
			}
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > p.cfg.RetryMax {
				delay = p.cfg.RetryMax
			}
		}
		conn, err := p.db.Conn(ctx)
		if err == nil {
			if p.cfg.InitCommand != "" {
				if _, err := conn.ExecContext(ctx, p.cfg.InitCommand); err != nil {
					conn.Close()
					lastErr = err
					continue
				}
			}
			return &PoolConn{conn: conn}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn("connect failed", "attempt", attempt+1, "error", err)
	}
	return nil, NewConnectionError(p.cfg.Addr(), lastErr)
}

// Release returns a connection to the pool. Broken connections are
// closed instead of pooled; either way the permit is freed.
func (p *Pool) Release(pc *PoolConn) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	if pc.broken || p.closed {
		p.mu.Unlock()
		pc.conn.Close()
		p.sem.Release(1)
		return
	}
	pc.returnedAt = time.Now()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Close discards all idle connections and fails future acquires with
// ErrClosed. In-flight connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, pc := range idle {
		pc.conn.Close()
	}
	return nil
}

// IdleCount returns the number of pooled idle connections.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
