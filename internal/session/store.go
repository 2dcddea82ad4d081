package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/domain"
)

var (
	// ErrNotFound signals an unknown or revoked session.
	ErrNotFound = errors.New("session not found")
	// ErrExpired signals a session past its absolute lifetime or
	// inactivity cutoff.
	ErrExpired = errors.New("session expired")
	// ErrStoreUnavailable wraps durable-store failures. Callers must be
	// able to tell "store down" apart from "not authenticated".
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// touchGuard is the minimum absolute lifetime remaining for an activity
// extension to proceed. Prevents a touch from resurrecting a session
// right at its hard expiry.
const touchGuard = time.Minute

// Repository is the durable store for session rows. The pgx
// implementation lives in internal/repository.
type Repository interface {
	Insert(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	UpdateActivity(ctx context.Context, id string, at time.Time) (bool, error)
	Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, reason domain.RevokeReason, at time.Time) (int, error)
	ListActiveForUser(ctx context.Context, userID string) ([]domain.Session, error)
	RevokeWhereExpired(ctx context.Context, now time.Time) (int, error)
	RevokeWhereInactive(ctx context.Context, cutoff time.Time, now time.Time) (int, error)
}

// Config bounds session lifecycle behavior.
type Config struct {
	InactivityTimeout  time.Duration
	MaxLifetime        time.Duration
	MaxSessionsPerUser int
	CleanupInterval    time.Duration
	CacheStaleness     time.Duration
}

// Manager owns session lifecycle: creation, cached reads, activity
// extension, revocation, per-user limits, and the periodic expiry sweep.
// Constructed once at process start and passed by reference.
type Manager struct {
	repo   Repository
	cache  Cache
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager builds a manager over the durable repository and cache.
func NewManager(repo Repository, cache Cache, cfg Config, logger *zap.Logger) *Manager {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Minute
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 24 * time.Hour
	}
	if cfg.MaxSessionsPerUser <= 0 {
		cfg.MaxSessionsPerUser = 5
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.CacheStaleness <= 0 {
		cfg.CacheStaleness = 30 * time.Second
	}
	return &Manager{
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// CreateParams carries everything recorded on a new session row. ID is
// optional; a fresh high-entropy id is generated when empty. Callers that
// must mint tokens bound to the session id generate it up front with NewID.
type CreateParams struct {
	ID           string
	UserID       string
	Email        string
	Role         domain.Role
	CompanyID    *string
	IPAddress    string
	UserAgent    string
	RefreshToken string
}

// Create writes a new session row, mirrors it in the cache, and enforces
// the per-user session limit. ExpiresAt is fixed here and never moves.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*domain.Session, error) {
	id := p.ID
	if id == "" {
		var err error
		id, err = NewID()
		if err != nil {
			return nil, err
		}
	}

	now := m.now()
	sess := &domain.Session{
		ID:           id,
		UserID:       p.UserID,
		Email:        p.Email,
		Role:         p.Role,
		CompanyID:    p.CompanyID,
		RefreshToken: p.RefreshToken,
		IPAddress:    p.IPAddress,
		UserAgent:    p.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.cfg.MaxLifetime),
	}

	if err := m.repo.Insert(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.cacheSet(ctx, *sess, now)

	if err := m.enforceLimit(ctx, p.UserID); err != nil {
		m.logger.Warn("session limit enforcement failed", zap.String("user_id", p.UserID), zap.Error(err))
	}
	return sess, nil
}

// Get returns the session if it is live. Cache hits younger than the
// staleness bound are trusted; anything older is revalidated against the
// durable store. Sessions found expired-by-policy are revoked on the way out.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	now := m.now()

	if entry, err := m.cache.Get(ctx, id); err != nil {
		m.logger.Warn("session cache read failed", zap.Error(err))
	} else if entry != nil && now.Sub(entry.CachedAt) < m.cfg.CacheStaleness {
		if expired, reason := entry.Session.ExpiredAt(now, m.cfg.InactivityTimeout); expired {
			m.cacheDelete(ctx, id)
			if _, err := m.repo.Revoke(ctx, id, reason, now); err != nil {
				m.logger.Warn("revoking expired session failed", zap.String("session_id", id), zap.Error(err))
			}
			return nil, ErrExpired
		}
		if entry.Session.IsRevoked {
			return nil, ErrNotFound
		}
		sess := entry.Session
		return &sess, nil
	}

	sess, err := m.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.cacheDelete(ctx, id)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sess.IsRevoked {
		m.cacheDelete(ctx, id)
		return nil, ErrNotFound
	}
	if expired, reason := sess.ExpiredAt(now, m.cfg.InactivityTimeout); expired {
		m.cacheDelete(ctx, id)
		if _, err := m.repo.Revoke(ctx, id, reason, now); err != nil {
			m.logger.Warn("revoking expired session failed", zap.String("session_id", id), zap.Error(err))
		}
		return nil, ErrExpired
	}

	m.cacheSet(ctx, *sess, now)
	return sess, nil
}

// Touch extends session activity. Returns false without extending when
// the remaining absolute lifetime is inside the guard threshold.
func (m *Manager) Touch(ctx context.Context, id string) (bool, error) {
	sess, err := m.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
			return false, nil
		}
		return false, err
	}

	now := m.now()
	if sess.ExpiresAt.Sub(now) < touchGuard {
		return false, nil
	}

	updated, err := m.repo.UpdateActivity(ctx, id, now)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !updated {
		m.cacheDelete(ctx, id)
		return false, nil
	}

	sess.LastActivity = now
	m.cacheSet(ctx, *sess, now)
	return true, nil
}

// Revoke terminally marks a session with a reason. The cache entry is
// invalidated, never overwritten, so no stale "active" verdict survives.
func (m *Manager) Revoke(ctx context.Context, id string, reason domain.RevokeReason) (bool, error) {
	revoked, err := m.repo.Revoke(ctx, id, reason, m.now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.cacheDelete(ctx, id)
	return revoked, nil
}

// RevokeAll revokes every non-revoked session for a user.
func (m *Manager) RevokeAll(ctx context.Context, userID string, reason domain.RevokeReason) (int, error) {
	count, err := m.repo.RevokeAllForUser(ctx, userID, reason, m.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.pruneCache(ctx, func(s domain.Session) bool { return s.UserID == userID })
	return count, nil
}

// ListActive returns the user's live sessions, newest first. Rows that
// are expired-by-policy but not yet swept are filtered out in-process.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := m.repo.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := m.now()
	live := rows[:0]
	for _, sess := range rows {
		if sess.LiveAt(now, m.cfg.InactivityTimeout) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// enforceLimit revokes the oldest sessions beyond the per-user maximum.
// Oldest is by creation time; the newest-first query order breaks ties.
func (m *Manager) enforceLimit(ctx context.Context, userID string) error {
	active, err := m.ListActive(ctx, userID)
	if err != nil {
		return err
	}
	if len(active) <= m.cfg.MaxSessionsPerUser {
		return nil
	}

	for _, sess := range active[m.cfg.MaxSessionsPerUser:] {
		if _, err := m.Revoke(ctx, sess.ID, domain.RevokeReasonMaxSessions); err != nil {
			return err
		}
		m.logger.Info("session evicted over per-user limit",
			zap.String("user_id", userID), zap.String("session_id", sess.ID))
	}
	return nil
}

// StartSweeper runs the periodic expiry sweep. Failures are logged and
// retried on the next interval, never fatal to the serving process.
func (m *Manager) StartSweeper() {
	m.started = true
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper and waits for it to exit. Safe to call
// when no sweeper was started.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started {
		<-m.done
	}
}

func (m *Manager) sweep(ctx context.Context) {
	now := m.now()

	expired, err := m.repo.RevokeWhereExpired(ctx, now)
	if err != nil {
		m.logger.Warn("expiry sweep failed", zap.Error(err))
	}
	inactive, err := m.repo.RevokeWhereInactive(ctx, now.Add(-m.cfg.InactivityTimeout), now)
	if err != nil {
		m.logger.Warn("inactivity sweep failed", zap.Error(err))
	}
	if expired > 0 || inactive > 0 {
		m.logger.Info("session sweep revoked rows",
			zap.Int("expired", expired), zap.Int("inactive", inactive))
	}

	m.pruneCache(ctx, func(s domain.Session) bool {
		expiredNow, _ := s.ExpiredAt(now, m.cfg.InactivityTimeout)
		return expiredNow
	})
}

func (m *Manager) cacheSet(ctx context.Context, sess domain.Session, at time.Time) {
	if err := m.cache.Set(ctx, sess, at); err != nil {
		m.logger.Warn("session cache write failed", zap.Error(err))
	}
}

func (m *Manager) cacheDelete(ctx context.Context, id string) {
	if err := m.cache.Delete(ctx, id); err != nil {
		m.logger.Warn("session cache invalidation failed", zap.Error(err))
	}
}

func (m *Manager) pruneCache(ctx context.Context, match func(domain.Session) bool) {
	if err := m.cache.Prune(ctx, match); err != nil {
		m.logger.Warn("session cache prune failed", zap.Error(err))
	}
}

// NewID returns 32 bytes of entropy, hex encoded.
func NewID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
