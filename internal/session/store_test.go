package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/domain"
)

// fakeRepo is an in-memory Repository standing in for the pgx one.
type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]*domain.Session
	getCalls int
	fail     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*domain.Session)}
}

func (r *fakeRepo) Insert(_ context.Context, sess *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	cp := *sess
	r.rows[sess.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.fail != nil {
		return nil, r.fail
	}
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *fakeRepo) UpdateActivity(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return false, r.fail
	}
	row, ok := r.rows[id]
	if !ok || row.IsRevoked {
		return false, nil
	}
	row.LastActivity = at
	return true, nil
}

func (r *fakeRepo) Revoke(_ context.Context, id string, reason domain.RevokeReason, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return false, r.fail
	}
	row, ok := r.rows[id]
	if !ok || row.IsRevoked {
		return false, nil
	}
	row.IsRevoked = true
	row.RevokedAt = &at
	row.RevokedReason = &reason
	return true, nil
}

func (r *fakeRepo) RevokeAllForUser(_ context.Context, userID string, reason domain.RevokeReason, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	count := 0
	for _, row := range r.rows {
		if row.UserID == userID && !row.IsRevoked {
			row.IsRevoked = true
			row.RevokedAt = &at
			row.RevokedReason = &reason
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) ListActiveForUser(_ context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	var out []domain.Session
	for _, row := range r.rows {
		if row.UserID == userID && !row.IsRevoked {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) RevokeWhereExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	reason := domain.RevokeReasonExpired
	count := 0
	for _, row := range r.rows {
		if !row.IsRevoked && !now.Before(row.ExpiresAt) {
			row.IsRevoked = true
			row.RevokedAt = &now
			row.RevokedReason = &reason
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) RevokeWhereInactive(_ context.Context, cutoff time.Time, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	reason := domain.RevokeReasonInactive
	count := 0
	for _, row := range r.rows {
		if !row.IsRevoked && !row.LastActivity.After(cutoff) {
			row.IsRevoked = true
			row.RevokedAt = &now
			row.RevokedReason = &reason
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) reason(id string) domain.RevokeReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.RevokedReason == nil {
		return ""
	}
	return *row.RevokedReason
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testConfig = Config{
	InactivityTimeout:  30 * time.Minute,
	MaxLifetime:        24 * time.Hour,
	MaxSessionsPerUser: 5,
	CleanupInterval:    time.Minute,
	CacheStaleness:     30 * time.Second,
}

func newTestManager(t *testing.T, repo Repository, cfg Config) (*Manager, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(repo, NewMemoryCache(), cfg, zap.NewNop())
	m.now = clock.Now
	return m, clock
}

func create(t *testing.T, m *Manager, userID string) *domain.Session {
	t.Helper()
	sess, err := m.Create(context.Background(), CreateParams{
		UserID:       userID,
		Email:        userID + "@example.com",
		Role:         domain.RoleContractor,
		IPAddress:    "10.0.0.1",
		UserAgent:    "test",
		RefreshToken: "enc-refresh",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sess
}

func TestCreateFixesExpiry(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	sess := create(t, m, "user-1")
	if !sess.ExpiresAt.Equal(clock.Now().Add(testConfig.MaxLifetime)) {
		t.Fatalf("ExpiresAt = %v, want creation + max lifetime", sess.ExpiresAt)
	}

	// A touch moves activity but never the absolute expiry.
	clock.Advance(10 * time.Minute)
	if ok, err := m.Touch(context.Background(), sess.ID); err != nil || !ok {
		t.Fatalf("touch = (%v, %v)", ok, err)
	}
	got, err := m.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatalf("ExpiresAt moved after touch: %v", got.ExpiresAt)
	}
	if !got.LastActivity.Equal(clock.Now()) {
		t.Fatalf("LastActivity = %v, want %v", got.LastActivity, clock.Now())
	}
}

func TestSessionLimitEvictsOldest(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	var ids []string
	for i := 0; i < 6; i++ {
		sess := create(t, m, "user-1")
		ids = append(ids, sess.ID)
		clock.Advance(time.Minute)
	}

	active, err := m.ListActive(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 5 {
		t.Fatalf("active count = %d, want 5", len(active))
	}
	for _, sess := range active {
		if sess.ID == ids[0] {
			t.Fatalf("oldest session still active")
		}
	}
	if got := repo.reason(ids[0]); got != domain.RevokeReasonMaxSessions {
		t.Fatalf("oldest revoked with reason %q, want %q", got, domain.RevokeReasonMaxSessions)
	}
	// Only the oldest was evicted.
	for _, id := range ids[1:] {
		if got := repo.reason(id); got != "" {
			t.Fatalf("session %s revoked with %q, want active", id, got)
		}
	}
}

func TestGetServesFreshCacheWithoutStore(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	sess := create(t, m, "user-1")
	before := repo.getCalls

	clock.Advance(10 * time.Second)
	got, err := m.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("wrong session returned")
	}
	if repo.getCalls != before {
		t.Fatalf("fresh cache hit still consulted the store")
	}
}

func TestGetRevalidatesStaleCache(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	sess := create(t, m, "user-1")

	// Revoke behind the cache's back, as another instance would.
	if _, err := repo.Revoke(context.Background(), sess.ID, domain.RevokeReasonAdminRevoked, clock.Now()); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Inside the staleness bound the cached copy still answers.
	clock.Advance(10 * time.Second)
	if _, err := m.Get(context.Background(), sess.ID); err != nil {
		t.Fatalf("get inside staleness bound: %v", err)
	}

	// Past the bound the store is consulted and the revocation seen.
	clock.Advance(testConfig.CacheStaleness)
	if _, err := m.Get(context.Background(), sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale get = %v, want ErrNotFound", err)
	}
}

func TestGetRevokesExpiredSession(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	sess := create(t, m, "user-1")

	// Past the inactivity window but inside the absolute lifetime.
	clock.Advance(testConfig.InactivityTimeout + time.Minute)
	if _, err := m.Get(context.Background(), sess.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("inactive get = %v, want ErrExpired", err)
	}
	if got := repo.reason(sess.ID); got != domain.RevokeReasonInactive {
		t.Fatalf("revoke reason = %q, want %q", got, domain.RevokeReasonInactive)
	}
}

func TestTouchGuardNearAbsoluteExpiry(t *testing.T) {
	cfg := testConfig
	cfg.MaxLifetime = time.Hour
	cfg.InactivityTimeout = 2 * time.Hour

	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, cfg)

	sess := create(t, m, "user-1")

	// 30s of lifetime left: inside the guard, no extension, no error.
	clock.Advance(cfg.MaxLifetime - 30*time.Second)
	ok, err := m.Touch(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ok {
		t.Fatalf("touch extended a session inside the expiry guard")
	}
	got, err := repo.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivity.Equal(sess.LastActivity) {
		t.Fatalf("LastActivity moved despite guard")
	}
}

func TestRevokeInvalidatesCache(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	sess := create(t, m, "user-1")

	if _, err := m.Revoke(context.Background(), sess.ID, domain.RevokeReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Immediately after, still inside the staleness bound: no stale
	// "active" verdict may survive.
	clock.Advance(time.Second)
	if _, err := m.Get(context.Background(), sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after revoke = %v, want ErrNotFound", err)
	}
}

func TestRevokeAllDropsUserSessions(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	for i := 0; i < 3; i++ {
		create(t, m, "user-1")
		clock.Advance(time.Second)
	}
	other := create(t, m, "user-2")

	count, err := m.RevokeAll(context.Background(), "user-1", domain.RevokeReasonLogoutAll)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 3 {
		t.Fatalf("revoked %d sessions, want 3", count)
	}

	active, err := m.ListActive(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("user-1 still has %d active sessions", len(active))
	}
	if _, err := m.Get(context.Background(), other.ID); err != nil {
		t.Fatalf("unrelated user's session affected: %v", err)
	}
}

func TestStoreUnavailableIsDistinct(t *testing.T) {
	repo := newFakeRepo()
	m, _ := newTestManager(t, repo, testConfig)

	repo.fail = errors.New("connection refused")
	if _, err := m.Get(context.Background(), "some-id"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("get with store down = %v, want ErrStoreUnavailable", err)
	}
	if _, err := m.Create(context.Background(), CreateParams{UserID: "user-1"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("create with store down = %v, want ErrStoreUnavailable", err)
	}
}

func TestSweepRevokesExpiredAndInactive(t *testing.T) {
	repo := newFakeRepo()
	m, clock := newTestManager(t, repo, testConfig)

	expired := create(t, m, "user-1")
	clock.Advance(time.Second)
	inactive := create(t, m, "user-2")
	clock.Advance(time.Second)
	live := create(t, m, "user-3")

	// Push the first past its absolute lifetime by editing the row, the
	// second past the inactivity cutoff by advancing the clock.
	repo.mu.Lock()
	repo.rows[expired.ID].ExpiresAt = clock.Now().Add(-time.Minute)
	repo.rows[live.ID].LastActivity = clock.Now().Add(testConfig.InactivityTimeout)
	repo.mu.Unlock()
	clock.Advance(testConfig.InactivityTimeout)

	m.sweep(context.Background())

	if got := repo.reason(expired.ID); got != domain.RevokeReasonExpired {
		t.Fatalf("expired session reason = %q, want %q", got, domain.RevokeReasonExpired)
	}
	if got := repo.reason(inactive.ID); got != domain.RevokeReasonInactive {
		t.Fatalf("inactive session reason = %q, want %q", got, domain.RevokeReasonInactive)
	}
	if got := repo.reason(live.ID); got != "" {
		t.Fatalf("live session swept with reason %q", got)
	}
}

func TestStopLifecycle(t *testing.T) {
	waitOrFatal := func(fn func(), msg string) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal(msg)
		}
	}

	// Stop without a sweeper must not block.
	idle, _ := newTestManager(t, newFakeRepo(), testConfig)
	waitOrFatal(idle.Stop, "Stop blocked without a running sweeper")

	// Stop after StartSweeper waits for the goroutine and returns.
	running, _ := newTestManager(t, newFakeRepo(), testConfig)
	running.StartSweeper()
	waitOrFatal(running.Stop, "Stop did not terminate the sweeper")
}

func TestNewIDShape(t *testing.T) {
	a, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	b, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("id length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Fatalf("consecutive ids collided")
	}
}
