package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrNoSessions means no account survived startup validation; the pool
	// has zero capacity and every acquisition fails fast.
	ErrNoSessions = errors.New("session: no usable sessions")
	// ErrPoolClosed means the pool is shutting down.
	ErrPoolClosed = errors.New("session: pool closed")
)

// Pool hands out sessions under mutual exclusion. Each session has at most
// one borrower at a time; waiters are served strictly first come, first
// served. An explicit waiter queue is used instead of a buffered channel
// because Go does not guarantee FIFO wakeup among blocked channel receivers.
type Pool struct {
	logger *slog.Logger

	mu      sync.Mutex
	idle    []*Session
	waiters []chan *Session
	total   int
	closed  bool
}

// NewPool validates every session once and keeps only those accounts whose
// authentication succeeded. Accounts that fail are logged and excluded; the
// resulting pool may be empty.
func NewPool(ctx context.Context, sessions []*Session, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{logger: logger}
	for _, s := range sessions {
		if err := s.EnsureValid(ctx); err != nil {
			logger.Error("pool_account_excluded", "account", s.Username(), "error", err.Error())
			continue
		}
		p.idle = append(p.idle, s)
		p.total++
	}
	logger.Info("pool_ready", "capacity", p.total, "configured", len(sessions))
	return p
}

// Cap returns the number of usable sessions the pool was built with.
func (p *Pool) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Acquire blocks until a session is free or ctx is done. The caller owns the
// returned lease exclusively and must call Release exactly once.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total == 0 {
		p.mu.Unlock()
		return nil, ErrNoSessions
	}
	if len(p.idle) > 0 {
		s := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()
		return &Lease{pool: p, session: s}, nil
	}
	ch := make(chan *Session, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case s := <-ch:
		if s == nil {
			return nil, ErrPoolClosed
		}
		return &Lease{pool: p, session: s}, nil
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.removeWaiterLocked(ch)
		p.mu.Unlock()
		if !removed {
			// Already dequeued: the handoff is committed, so the send (or the
			// close on shutdown) is guaranteed to arrive. Wait for it and put
			// the session back.
			if s := <-ch; s != nil {
				p.put(s)
			}
		}
		return nil, ctx.Err()
	}
}

func (p *Pool) removeWaiterLocked(ch chan *Session) bool {
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) put(s *Session) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- s
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// Close wakes all waiters with ErrPoolClosed and rejects new acquisitions.
// Sessions currently on loan are simply dropped on release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	p.idle = nil
	p.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Lease is exclusive, scoped access to one session.
type Lease struct {
	pool    *Pool
	session *Session

	mu       sync.Mutex
	released bool
}

func (l *Lease) Session() *Session { return l.session }

// Release returns the session to the pool. When usageErr reports an
// authorization failure the session is invalidated first, so the next
// borrower triggers re-validation instead of reusing a dead handle. Any
// other error leaves the session untouched: failures unrelated to
// authentication are not session death.
func (l *Lease) Release(usageErr error) {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	if errors.Is(usageErr, ErrAuthorizationExpired) {
		l.session.Invalidate()
	}
	l.pool.put(l.session)
}
