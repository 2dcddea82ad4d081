package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Policy defines window semantics for one endpoint class. The limiter
// itself is policy-agnostic.
type Policy struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// Result reports the outcome of a single check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store abstracts the counter table so a shared backend can replace the
// in-process one without touching callers.
type Store interface {
	Check(ctx context.Context, key string, p Policy, now time.Time) (Result, error)
	Reset(ctx context.Context, key string) error
	Prune(ctx context.Context, maxIdle time.Duration, now time.Time) error
}

// Limiter fronts a Store with a clock and a periodic staleness sweep.
type Limiter struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a limiter over the given store.
func New(store Store, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Check counts one request against the keyed window.
func (l *Limiter) Check(ctx context.Context, key string, p Policy) (Result, error) {
	return l.store.Check(ctx, key, p, l.now())
}

// Reset clears the entry for a key, used after a successful sensitive
// action so earlier failures stop penalizing the caller.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// StartSweeper discards entries untouched for longer than maxIdle at the
// given interval. Runs off the request path; never fatal.
func (l *Limiter) StartSweeper(interval, maxIdle time.Duration) {
	l.started = true
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := l.store.Prune(context.Background(), maxIdle, l.now()); err != nil {
					l.logger.Warn("rate limit sweep failed", zap.Error(err))
				}
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper and waits for it to exit. Safe to call
// when no sweeper was started.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	if l.started {
		<-l.done
	}
}

type entry struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// MemoryStore is the single-instance counter table. One mutex guards the
// map so increments are atomic per key; no lost updates under
// concurrent requests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemoryStore builds an empty table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

// Check applies fixed-window counting with an escalating block: once the
// count exceeds the maximum, the key is blocked for the policy's block
// duration, superseding window semantics until it elapses.
func (s *MemoryStore) Check(_ context.Context, key string, p Policy, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && e.blockedUntil.After(now) {
		e.lastSeen = now
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    e.blockedUntil,
			RetryAfter: e.blockedUntil.Sub(now),
		}, nil
	}

	if !ok || now.Sub(e.windowStart) >= p.Window {
		s.entries[key] = &entry{count: 1, windowStart: now, lastSeen: now}
		return Result{
			Allowed:   true,
			Remaining: p.MaxRequests - 1,
			ResetAt:   now.Add(p.Window),
		}, nil
	}

	e.count++
	e.lastSeen = now
	if e.count > p.MaxRequests {
		e.blockedUntil = now.Add(p.BlockDuration)
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    e.blockedUntil,
			RetryAfter: p.BlockDuration,
		}, nil
	}

	return Result{
		Allowed:   true,
		Remaining: p.MaxRequests - e.count,
		ResetAt:   e.windowStart.Add(p.Window),
	}, nil
}

// Reset deletes the entry for a key.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Prune drops entries untouched beyond maxIdle to bound memory.
func (s *MemoryStore) Prune(_ context.Context, maxIdle time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(s.entries, key)
		}
	}
	return nil
}
