// Package notify wakes up polling loops (the task queue's workers) on
// Postgres NOTIFY instead of making them sit on a fixed poll
// interval. Each loop still keeps its own polling floor as a backstop -
// NOTIFY is a latency optimization, never the only path to progress.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// Well-known channel names. queue.Store.Enqueue (new task or re-queue) and
// the queue worker's finalize NOTIFY task_ready after their commit. Nothing
// sends sync_job_ready; the outbound sync worker polls on its own interval.
const (
	ChannelTaskReady    = "task_ready"
	ChannelSyncJobReady = "sync_job_ready"
)

// listenCmd represents a LISTEN/UNLISTEN command to be executed by the
// receive loop, which is the sole goroutine that touches the pgx connection.
type listenCmd struct {
	sql     string
	channel string
	gen     uint64 // generation at Unsubscribe time; 0 for LISTEN (always execute)
	result  chan error
}

// Listener maintains a dedicated LISTEN connection and fans NOTIFY payloads
// out to per-channel wake-up subscribers. Subscribers don't get the
// payload's content, only a signal that something on that channel changed -
// callers re-query the database for the actual work.
type Listener struct {
	connString string
	conn       *pgx.Conn
	connMu     sync.Mutex

	channels   map[string]bool // Currently LISTENing channels
	channelsMu sync.RWMutex

	// cmdCh serializes LISTEN/UNLISTEN through the receive loop, which is the
	// sole user of the pgx connection. This avoids the "conn busy" race between
	// WaitForNotification and Exec.
	cmdCh   chan listenCmd
	running atomic.Bool

	// listenGen tracks per-channel generation counters to prevent stale
	// UNLISTENs from winning a race against a newer LISTEN.
	listenGen   map[string]uint64
	listenGenMu sync.Mutex

	subs   map[string][]chan struct{}
	subsMu sync.Mutex

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener creates a Listener using a dedicated connection string
// (typically the same DSN as the main pool, without a pgxpool wrapper -
// pgx.Conn owns this connection exclusively for its lifetime).
func NewListener(connString string) *Listener {
	return &Listener{
		connString: connString,
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
		listenGen:  make(map[string]uint64),
		subs:       make(map[string][]chan struct{}),
	}
}

// Start establishes the dedicated LISTEN connection and begins receiving notifications.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("notify listener started")
	return nil
}

// Subscribe returns a channel that receives a wake-up signal (an empty
// struct, never the NOTIFY payload) each time the given Postgres channel
// fires, and issues LISTEN on the dedicated connection if this is the first
// subscriber. The returned channel is buffered with capacity 1 and signals
// are coalesced - a busy receiver doesn't build up a backlog of wake-ups.
func (l *Listener) Subscribe(ctx context.Context, channel string) (<-chan struct{}, error) {
	wake := make(chan struct{}, 1)

	l.subsMu.Lock()
	first := len(l.subs[channel]) == 0
	l.subs[channel] = append(l.subs[channel], wake)
	l.subsMu.Unlock()

	if first {
		if err := l.listen(ctx, channel); err != nil {
			return nil, err
		}
	}
	return wake, nil
}

func (l *Listener) listen(ctx context.Context, channel string) error {
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	cmd := listenCmd{
		sql:     "LISTEN " + sanitized,
		channel: channel,
		result:  make(chan error, 1),
	}

	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("LISTEN %s failed: %w", sanitized, err)
		}
		l.channelsMu.Lock()
		l.channels[channel] = true
		l.channelsMu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop is the sole goroutine that touches the pgx connection.
func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.processPendingCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.wake(notification.Channel)
	}
}

// wake delivers a non-blocking wake-up to every subscriber of channel. A
// full buffer means a wake-up is already pending delivery, so the send is
// dropped rather than blocking the receive loop.
func (l *Listener) wake(channel string) {
	l.subsMu.Lock()
	subs := l.subs[channel]
	l.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (l *Listener) processPendingCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			if cmd.gen > 0 {
				l.listenGenMu.Lock()
				stale := l.listenGen[cmd.channel] != cmd.gen
				l.listenGenMu.Unlock()
				if stale {
					cmd.result <- nil
					continue
				}
			}

			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()

			if conn == nil {
				cmd.result <- fmt.Errorf("LISTEN connection not established")
				continue
			}

			_, err := conn.Exec(ctx, cmd.sql)

			if err == nil && cmd.gen == 0 && cmd.channel != "" {
				l.listenGenMu.Lock()
				l.listenGen[cmd.channel]++
				l.listenGenMu.Unlock()
			}

			cmd.result <- err
		default:
			return
		}
	}
}

func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.channelsMu.RLock()
		for ch := range l.channels {
			sanitized := pgx.Identifier{ch}.Sanitize()
			if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.channelsMu.RUnlock()

		slog.Info("notify listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it to finish, then
// closes the LISTEN connection.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

// execer is satisfied by *sql.DB and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Notify sends a NOTIFY on channel from a regular pooled connection. Callers
// use this right after committing the transaction that made the change, so
// LISTENers see the row only after it's actually visible to them.
func Notify(ctx context.Context, db execer, channel string) error {
	sanitized := pgx.Identifier{channel}.Sanitize()
	_, err := db.ExecContext(ctx, "NOTIFY "+sanitized)
	return err
}
