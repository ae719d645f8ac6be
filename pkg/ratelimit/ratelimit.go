// Package ratelimit enforces the two concurrency gates the scheduler
// consults before letting a worker claim a task for a channel: a purely
// durable global-per-service concurrency cap (must be exact across
// replicas) and a per-channel windowed rate limit (backed by a durable
// counter row, fronted by an in-process golang.org/x/time/rate.Limiter
// cache so the common allowed-path never waits on a DB round trip to
// reject an obviously-over-budget caller).
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces per-channel windowed rate limits.
type Gate struct {
	db *sql.DB

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGate creates a rate Gate backed by db.
func NewGate(db *sql.DB) *Gate {
	return &Gate{db: db, limiters: make(map[string]*rate.Limiter)}
}

func limiterKey(channelID, service string) string { return channelID + ":" + service }

// localLimiter returns the in-process limiter for (channelID, service),
// creating it from cap/window on first use. cap/window can change between
// calls (a channel's config was edited); this simply reconfigures the
// existing limiter in place rather than losing its accumulated burst state.
func (g *Gate) localLimiter(channelID, service string, cap int, window time.Duration) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := limiterKey(channelID, service)
	limit := rate.Limit(float64(cap) / window.Seconds())
	l, ok := g.limiters[key]
	if !ok {
		l = rate.NewLimiter(limit, cap)
		g.limiters[key] = l
		return l
	}
	l.SetLimit(limit)
	l.SetBurst(cap)
	return l
}

// TryAcquire reports whether a call against service on behalf of channelID
// is within its windowed rate limit. It reserves a token from the
// in-process limiter first (cheap, rejects obviously-over-budget callers
// without a DB round trip), then confirms and records the call against the
// durable rate_counters row; a durable rejection cancels the in-process
// reservation so it doesn't permanently waste a token.
func (g *Gate) TryAcquire(ctx context.Context, channelID, service string, cap int, window time.Duration) (bool, error) {
	limiter := g.localLimiter(channelID, service, cap, window)
	reservation := limiter.ReserveN(time.Now(), 1)
	if !reservation.OK() {
		return false, nil
	}
	if reservation.Delay() > 0 {
		// Not immediately available locally; cancel and reject rather than
		// sleeping inside a scheduler decision.
		reservation.Cancel()
		return false, nil
	}

	allowed, err := g.acquireDurable(ctx, channelID, service, cap, window)
	if err != nil {
		reservation.Cancel()
		return false, err
	}
	if !allowed {
		reservation.Cancel()
		return false, nil
	}
	return true, nil
}

// Peek reports whether a call against service on behalf of channelID would
// currently be allowed, without reserving anything locally or durably. The
// scheduler uses this to decide channel eligibility for a fairness round
// before a task is actually claimed; the real acquire (which does reserve)
// happens in the pipeline driver once the claimed task's stage call is about
// to run, so a window between peek and acquire can still lose a race - the
// driver must be prepared for TryAcquire to say no even after a passing Peek.
func (g *Gate) Peek(ctx context.Context, channelID, service string, cap int, window time.Duration) (bool, error) {
	var windowStart time.Time
	var count int
	err := g.db.QueryRowContext(ctx, `
		SELECT window_start, count FROM rate_counters WHERE channel_id = $1 AND service = $2
	`, channelID, service).Scan(&windowStart, &count)
	switch {
	case err == sql.ErrNoRows:
		return true, nil
	case err != nil:
		return false, fmt.Errorf("peek rate counter: %w", err)
	}
	if time.Since(windowStart) >= window {
		return true, nil
	}
	return count < cap, nil
}

func (g *Gate) acquireDurable(ctx context.Context, channelID, service string, cap int, window time.Duration) (bool, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin rate counter tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	var windowStart time.Time
	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT window_start, count FROM rate_counters
		WHERE channel_id = $1 AND service = $2
		FOR UPDATE
	`, channelID, service).Scan(&windowStart, &count)

	switch {
	case err == sql.ErrNoRows:
		windowStart, count = now, 0
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rate_counters (channel_id, service, window_start, count, cap)
			VALUES ($1, $2, $3, 0, $4)
		`, channelID, service, windowStart, cap); err != nil {
			return false, fmt.Errorf("insert rate counter: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("query rate counter: %w", err)
	}

	if now.Sub(windowStart) >= window {
		windowStart, count = now, 0
	}

	if count >= cap {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit rate counter read: %w", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rate_counters SET window_start = $1, count = $2, cap = $3
		WHERE channel_id = $4 AND service = $5
	`, windowStart, count+1, cap, channelID, service); err != nil {
		return false, fmt.Errorf("update rate counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rate counter: %w", err)
	}
	return true, nil
}

// GlobalConcurrency enforces the exact, durable per-service concurrency cap
// (must be exact across replicas, unlike the windowed rate gate above).
type GlobalConcurrency struct {
	db *sql.DB
}

// NewGlobalConcurrency creates a GlobalConcurrency gate backed by db.
func NewGlobalConcurrency(db *sql.DB) *GlobalConcurrency {
	return &GlobalConcurrency{db: db}
}

// Peek reports whether service currently has a free slot, without claiming
// one. See Gate.Peek for why this is a separate, non-reserving check used
// only for scheduling decisions.
func (c *GlobalConcurrency) Peek(ctx context.Context, service string, cap int) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT count FROM global_concurrency WHERE service = $1`, service).Scan(&count)
	switch {
	case err == sql.ErrNoRows:
		return true, nil
	case err != nil:
		return false, fmt.Errorf("peek global concurrency: %w", err)
	}
	return count < cap, nil
}

// TryAcquire atomically claims one slot for service if count < cap,
// creating the row (at the given cap) on first use.
func (c *GlobalConcurrency) TryAcquire(ctx context.Context, service string, cap int) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin global concurrency tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT count FROM global_concurrency WHERE service = $1 FOR UPDATE
	`, service).Scan(&count)
	switch {
	case err == sql.ErrNoRows:
		count = 0
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO global_concurrency (service, count, cap) VALUES ($1, 0, $2)
		`, service, cap); err != nil {
			return false, fmt.Errorf("insert global concurrency: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("query global concurrency: %w", err)
	}

	if count >= cap {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit global concurrency read: %w", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE global_concurrency SET count = count + 1, cap = $1 WHERE service = $2
	`, cap, service); err != nil {
		return false, fmt.Errorf("increment global concurrency: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit global concurrency: %w", err)
	}
	return true, nil
}

// Release frees one slot for service. Called once the stage that acquired
// it finishes, succeeding or not.
func (c *GlobalConcurrency) Release(ctx context.Context, service string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE global_concurrency SET count = GREATEST(count - 1, 0) WHERE service = $1
	`, service)
	if err != nil {
		return fmt.Errorf("release global concurrency: %w", err)
	}
	return nil
}
