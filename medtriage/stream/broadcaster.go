// Package stream owns the per-session streaming side channel: at most one
// live connection per session, rate ceiling enforcement, and idle reclaim.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/logging"
)

var (
	ErrNoConnection = errors.New("no open connection for session")
	ErrRateLimited  = errors.New("session message rate ceiling exceeded")
)

// Transport is one live client connection. Implementations must tolerate
// Close being called more than once.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
}

type connection struct {
	transport     Transport
	lastActivity  time.Time
	msgCount      int
	limitNotified bool
}

// Config controls the rate ceiling and the idle sweep.
type Config struct {
	RateCeiling   int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Broadcaster is the session connection registry. One instance per process;
// Start/Stop manage the sweep goroutine.
type Broadcaster struct {
	mu    sync.Mutex
	conns map[string]*connection
	cfg   Config

	done chan struct{}
	wg   sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

func NewBroadcaster(cfg Config) *Broadcaster {
	if cfg.RateCeiling <= 0 {
		cfg.RateCeiling = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Broadcaster{
		conns: make(map[string]*connection),
		cfg:   cfg,
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// Start launches the periodic sweep. Call Stop to shut it down.
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.sweep()
			case <-b.done:
				return
			}
		}
	}()
}

// Stop halts the sweep and closes every registered connection.
func (b *Broadcaster) Stop() {
	close(b.done)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, conn := range b.conns {
		_ = conn.transport.Close("server shutting down")
		delete(b.conns, id)
	}
}

// Attach registers the transport for a session. An existing connection for
// the same session is forcibly closed and replaced; there is no multiplexing.
func (b *Broadcaster) Attach(sessionID string, t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.conns[sessionID]; ok {
		_ = existing.transport.Close("replaced by a newer connection")
		logging.AppLogger.Info("stream connection replaced", zap.String("session_id", sessionID))
	}
	b.conns[sessionID] = &connection{
		transport:    t,
		lastActivity: b.now(),
	}
}

// Detach closes the session's transport if open and drops its registry entry.
func (b *Broadcaster) Detach(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conn, ok := b.conns[sessionID]; ok {
		_ = conn.transport.Close("detached")
		delete(b.conns, sessionID)
	}
}

// DetachIf detaches the session only while t is still its registered
// transport. Handler cleanup uses this so a stale handler cannot tear down a
// connection that already replaced its own.
func (b *Broadcaster) DetachIf(sessionID string, t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conn, ok := b.conns[sessionID]; ok && conn.transport == t {
		_ = conn.transport.Close("detached")
		delete(b.conns, sessionID)
	}
}

// Send delivers one event to the session's connection. Failure to deliver is
// reported to the caller but is always side-channel only: it must never
// affect the synchronous triage response. The registry lock is never held
// across the transport write.
func (b *Broadcaster) Send(sessionID string, ev types.StepEvent) error {
	b.mu.Lock()
	conn, ok := b.conns[sessionID]
	if !ok {
		b.mu.Unlock()
		return ErrNoConnection
	}
	t := conn.transport

	if conn.msgCount >= b.cfg.RateCeiling {
		notify := !conn.limitNotified
		conn.limitNotified = true
		b.mu.Unlock()
		if notify {
			limitEv := types.StepEvent{
				Type:      types.StepError,
				SessionID: sessionID,
				Code:      "rate_limited",
				Message:   "message rate ceiling reached; further events are dropped until the next window",
				Timestamp: b.now().UTC().Format(time.RFC3339),
			}
			if data, err := json.Marshal(limitEv); err == nil {
				b.deliver(t, data)
			}
		}
		return ErrRateLimited
	}
	b.mu.Unlock()

	ev.SessionID = sessionID
	if ev.Timestamp == "" {
		ev.Timestamp = b.now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.deliver(t, data); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// The connection may have been replaced while the write was in flight;
	// only account the delivery against the transport it went to.
	if cur, ok := b.conns[sessionID]; ok && cur.transport == t {
		cur.lastActivity = b.now()
		cur.msgCount++
	}
	return nil
}

func (b *Broadcaster) deliver(t Transport, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.Send(ctx, data); err != nil {
		logging.ErrorLogger.Error("stream send failed", zap.Error(err))
		return err
	}
	return nil
}

// sweep detaches idle connections and resets every session's rolling
// counter. Counter windows are global and periodic, not per-session sliding.
func (b *Broadcaster) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for id, conn := range b.conns {
		if now.Sub(conn.lastActivity) >= b.cfg.IdleTimeout {
			_ = conn.transport.Close("idle timeout")
			delete(b.conns, id)
			logging.AppLogger.Info("idle stream connection reclaimed", zap.String("session_id", id))
			continue
		}
		conn.msgCount = 0
		conn.limitNotified = false
	}
}

// ConnectionCount reports the number of live connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}
