package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// TestNewRateLimiterStartsFull verifies the bucket starts at full capacity.
func TestNewRateLimiterStartsFull(t *testing.T) {
	rl := NewRateLimiter(1.0, 10.0)
	tokens := rl.GetCurrentTokens()
	if tokens < 9.9 { // Allow small float imprecision
		t.Errorf("expected ~10 tokens, got %.2f", tokens)
	}
}

// TestTryAcquireConsumesToken verifies token consumption.
func TestTryAcquireConsumesToken(t *testing.T) {
	rl := NewRateLimiter(1.0, 5.0)

	for i := 0; i < 5; i++ {
		if !rl.tryAcquire() {
			t.Fatalf("tryAcquire() failed on attempt %d", i+1)
		}
	}

	if rl.tryAcquire() {
		t.Error("tryAcquire() should fail when bucket is empty")
	}
}

// TestTokenRefill verifies tokens refill over time.
func TestTokenRefill(t *testing.T) {
	rl := NewRateLimiter(10.0, 10.0)

	for i := 0; i < 10; i++ {
		rl.tryAcquire()
	}

	time.Sleep(200 * time.Millisecond) // Should refill ~2 tokens

	tokens := rl.GetCurrentTokens()
	if tokens < 1.5 || tokens > 3.0 {
		t.Errorf("expected ~2 tokens after 200ms at 10/sec, got %.2f", tokens)
	}
}

// TestTokenRefillCapsAtMax verifies tokens don't exceed max capacity.
func TestTokenRefillCapsAtMax(t *testing.T) {
	rl := NewRateLimiter(100.0, 5.0)

	time.Sleep(100 * time.Millisecond)

	if tokens := rl.GetCurrentTokens(); tokens > 5.1 {
		t.Errorf("tokens should cap at 5, got %.2f", tokens)
	}
}

// TestWaitBlocksUntilTokenAvailable verifies Wait blocks and then succeeds.
func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	rl := NewRateLimiter(10.0, 1.0)
	rl.tryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Wait() returned too quickly (%v), expected to block for refill", elapsed)
	}
}

// TestWaitRespectsContextCancellation verifies Wait returns on cancel.
func TestWaitRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.1, 1.0) // one token every 10s
	rl.tryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

// TestDrainEmptiesBucket verifies Drain sets tokens to zero.
func TestDrainEmptiesBucket(t *testing.T) {
	rl := NewRateLimiter(1.0, 10.0)
	rl.Drain()

	if tokens := rl.GetCurrentTokens(); tokens > 0.1 {
		t.Errorf("expected ~0 tokens after Drain, got %.2f", tokens)
	}
	if rl.tryAcquire() {
		t.Error("tryAcquire() should fail right after Drain")
	}
}

// TestWithLoggerNilKeepsNop verifies a nil logger does not clobber the default.
func TestWithLoggerNilKeepsNop(t *testing.T) {
	rl := NewRateLimiter(0.5, 1.0).WithLogger("browse", nil)
	rl.tryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Long wait path logs a warning; must not panic
	_ = rl.Wait(ctx)
}

// TestConcurrentAccess verifies no more than burst tokens are handed out at once.
func TestConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(0.001, 20.0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.tryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 20 {
		t.Errorf("expected exactly 20 acquisitions, got %d", acquired)
	}
}

func TestResolveScope(t *testing.T) {
	r := NewRegistry(20, 60)

	tests := []struct {
		method string
		path   string
		want   Scope
	}{
		{http.MethodGet, "/api/v1/duplicates/groups", ScopeBrowse},
		{http.MethodGet, "/api/v1/duplicates/groups/sha256%3Aab/files", ScopeBrowse},
		{http.MethodPost, "/api/v1/thumbs/request", ScopeThumbnails},
		{http.MethodGet, "/api/v1/thumbs/t-42", ScopeThumbnails},
		{http.MethodGet, "/api/v1/thumbs/metrics", ScopeBrowse},
		{http.MethodPost, "/api/v1/thumbs/cleanup/group", ScopeBrowse},
		{http.MethodGet, "/api/v1/health", ScopeBrowse},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if got := r.ResolveScope(tt.method, tt.path); got != tt.want {
				t.Errorf("ResolveScope(%q, %q) = %q, want %q", tt.method, tt.path, got, tt.want)
			}
		})
	}
}

func TestRegistryScopesAreIndependent(t *testing.T) {
	r := NewRegistry(0.001, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := r.Wait(ctx, http.MethodPost, "/thumbs/request"); err != nil {
			t.Fatalf("thumbnail wait %d: %v", i, err)
		}
	}

	// Thumbnail bucket is empty, browse bucket is still full
	if got := r.Limiter(ScopeThumbnails).GetCurrentTokens(); got > 0.1 {
		t.Errorf("thumbnail tokens = %.2f, want ~0", got)
	}
	if got := r.Limiter(ScopeBrowse).GetCurrentTokens(); got < 1.9 {
		t.Errorf("browse tokens = %.2f, want ~2", got)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(cctx, http.MethodGet, "/thumbs/t-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded from empty thumbnail bucket, got %v", err)
	}
	if err := r.Wait(ctx, http.MethodGet, "/duplicates/groups"); err != nil {
		t.Errorf("browse wait should not block: %v", err)
	}
}

func TestUnknownScopeFallsBack(t *testing.T) {
	if l := NewRegistry(1, 1).Limiter("unknown"); l == nil {
		t.Error("unknown scope should fall back to the default limiter")
	}
}
