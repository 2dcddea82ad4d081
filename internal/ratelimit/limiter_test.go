package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

var testPolicy = Policy{
	Window:        15 * time.Minute,
	MaxRequests:   5,
	BlockDuration: 30 * time.Minute,
}

func TestWindowSequence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	wantRemaining := []int{4, 3, 2, 1, 0}
	for i, want := range wantRemaining {
		res, err := store.Check(ctx, "login:1.2.3.4", testPolicy, now)
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
		if res.Remaining != want {
			t.Fatalf("call %d remaining = %d, want %d", i+1, res.Remaining, want)
		}
		if !res.ResetAt.Equal(now.Add(testPolicy.Window)) {
			t.Fatalf("call %d resetAt = %v", i+1, res.ResetAt)
		}
	}

	res, err := store.Check(ctx, "login:1.2.3.4", testPolicy, now)
	if err != nil {
		t.Fatalf("check 6: %v", err)
	}
	if res.Allowed {
		t.Fatalf("call 6 allowed, want denied")
	}
	if res.RetryAfter != testPolicy.BlockDuration {
		t.Fatalf("retryAfter = %v, want %v", res.RetryAfter, testPolicy.BlockDuration)
	}
}

func TestBlockSupersedesWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		if _, err := store.Check(ctx, "k", testPolicy, now); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	// Well past the window but inside the block: still denied.
	later := now.Add(20 * time.Minute)
	res, err := store.Check(ctx, "k", testPolicy, later)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatalf("blocked key allowed after window rollover")
	}
	if res.RetryAfter != 10*time.Minute {
		t.Fatalf("retryAfter = %v, want remaining block time 10m", res.RetryAfter)
	}

	// Block elapsed: fresh window, count back to 1.
	after := now.Add(31 * time.Minute)
	res, err = store.Check(ctx, "k", testPolicy, after)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.Remaining != testPolicy.MaxRequests-1 {
		t.Fatalf("post-block check = %+v, want fresh window", res)
	}
}

func TestWindowRollover(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if _, err := store.Check(ctx, "k", testPolicy, now); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	rolled := now.Add(testPolicy.Window)
	res, err := store.Check(ctx, "k", testPolicy, rolled)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.Remaining != testPolicy.MaxRequests-1 {
		t.Fatalf("rollover check = %+v, want count reset to 1", res)
	}
}

func TestReset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, err := store.Check(ctx, "k", testPolicy, now); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if err := store.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	res, err := store.Check(ctx, "k", testPolicy, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.Remaining != testPolicy.MaxRequests-1 {
		t.Fatalf("post-reset check = %+v, want fresh entry", res)
	}
}

func TestPrune(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.Check(ctx, "stale", testPolicy, now); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := store.Check(ctx, "fresh", testPolicy, now.Add(time.Hour)); err != nil {
		t.Fatalf("check: %v", err)
	}

	if err := store.Prune(ctx, 30*time.Minute, now.Add(time.Hour)); err != nil {
		t.Fatalf("prune: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.entries["stale"]; ok {
		t.Fatalf("stale entry survived prune")
	}
	if _, ok := store.entries["fresh"]; !ok {
		t.Fatalf("fresh entry pruned")
	}
}

func TestStopLifecycle(t *testing.T) {
	// Stop without a sweeper must not block.
	idle := New(NewMemoryStore(), zap.NewNop())
	waitOrFatal(t, idle.Stop, "Stop blocked without a running sweeper")

	// Stop after StartSweeper waits for the goroutine and returns.
	running := New(NewMemoryStore(), zap.NewNop())
	running.StartSweeper(time.Hour, time.Hour)
	waitOrFatal(t, running.Stop, "Stop did not terminate the sweeper")
}

func waitOrFatal(t *testing.T, fn func(), msg string) {
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

func TestConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{Window: time.Minute, MaxRequests: 1000, BlockDuration: time.Minute}

	const workers = 50
	const perWorker = 10

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.Check(ctx, "shared", policy, now); err != nil {
					t.Errorf("check: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	if got := store.entries["shared"].count; got != workers*perWorker {
		t.Fatalf("count = %d, want %d (lost updates)", got, workers*perWorker)
	}
}
