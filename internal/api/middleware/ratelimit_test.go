// Package middleware provides HTTP middleware components for the governance
// events API.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const testOrg = "test-org"

// TestRateLimiterGlobalLimitEnforced verifies that the global rate limit
// is enforced across all requests regardless of org.
func TestRateLimiterGlobalLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Create limiter: 10 RPS global, 50 RPS org (global is more restrictive)
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   10,
		GlobalBurst: 10, // use override value
		OrgRPS:      50,
		UnAuthRPS:   2,
	})
	defer rl.Close()

	// Send 11 requests with orgID, expect 11th to fail (global limit hit first)
	orgID := testOrg
	successCount := 0

	for i := 0; i < 11; i++ {
		if rl.Allow(orgID) {
			successCount++
		}
	}

	if successCount != 10 {
		t.Errorf("expected 10 successful requests, got %d", successCount)
	}
}

// TestRateLimiterOrgLimitEnforced verifies that per-org rate limits are
// enforced independently from the global limit.
func TestRateLimiterOrgLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS: 100,
		OrgRPS:    5,
		OrgBurst:  5, // use override value
		UnAuthRPS: 2,
	})
	defer rl.Close()

	orgID := testOrg
	successCount := 0

	for i := 0; i < 6; i++ {
		if rl.Allow(orgID) {
			successCount++
		}
	}

	if successCount != 5 {
		t.Errorf("expected 5 successful requests, got %d", successCount)
	}
}

// TestRateLimiterUnauthenticatedLimitEnforced verifies that requests
// without an org are rate limited separately.
func TestRateLimiterUnauthenticatedLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		OrgRPS:      50,
		UnAuthRPS:   2,
		UnAuthBurst: 2, // use override value
	})
	defer rl.Close()

	successCount := 0

	for i := 0; i < 3; i++ {
		if rl.Allow("") {
			successCount++
		}
	}

	if successCount != 2 {
		t.Errorf("expected 2 successful requests, got %d", successCount)
	}
}

// TestRateLimiterBurstCapacityWorks verifies that burst capacity allows
// temporary bursts above the sustained rate, then throttles subsequent requests.
func TestRateLimiterBurstCapacityWorks(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   10,
		GlobalBurst: 10, // use override value
		OrgRPS:      5,
		OrgBurst:    5, // use override value
		UnAuthRPS:   2,
	})
	defer rl.Close()

	orgID := testOrg
	successCount := 0

	for i := 0; i < 10; i++ {
		if rl.Allow(orgID) {
			successCount++
		}
	}

	// Org limit (5) is hit before the global limit (10)
	if successCount != 5 {
		t.Errorf("expected 5 successful burst requests, got %d", successCount)
	}

	if rl.Allow(orgID) {
		t.Error("expected request to be rate limited after burst exhausted")
	}
}

// TestRateLimiterOrgIsolation verifies that rate limits for different
// orgs are tracked independently.
func TestRateLimiterOrgIsolation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS: 100,
		OrgRPS:    5,
		OrgBurst:  5, // use override value
		UnAuthRPS: 2,
	})
	defer rl.Close()

	org1 := "org-1"
	org2 := "org-2"

	for i := 0; i < 5; i++ {
		if !rl.Allow(org1) {
			t.Errorf("org1 request %d should succeed", i+1)
		}
	}

	if rl.Allow(org1) {
		t.Error("org1 should be rate limited")
	}

	for i := 0; i < 5; i++ {
		if !rl.Allow(org2) {
			t.Errorf("org2 request %d should succeed", i+1)
		}
	}
}

// TestRateLimiterConcurrentAccess verifies that the rate limiter is safe
// for concurrent use by multiple goroutines.
func TestRateLimiterConcurrentAccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS: 100,
		OrgRPS:    50,
		UnAuthRPS: 10,
	})
	defer rl.Close()

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(orgID string) {
			defer wg.Done()

			for j := 0; j < 10; j++ {
				_ = rl.Allow(orgID)
			}
		}(fmt.Sprintf("org-%d", i))
	}

	wg.Wait()
	// If we get here without panic/race, concurrent access is safe
}

// TestRateLimiterMemoryCleanup verifies that stale org limiters are
// removed after the idle timeout period.
func TestRateLimiterMemoryCleanup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		OrgRPS:      50,
		UnAuthRPS:   10,
		IdleTimeout: 100 * time.Millisecond, // Short timeout for test
	})
	defer rl.Close()

	orgID := "stale-org"
	if !rl.Allow(orgID) {
		t.Fatal("first request should succeed")
	}

	rl.mu.RLock()
	_, exists := rl.perOrg[orgID]
	rl.mu.RUnlock()

	if !exists {
		t.Fatal("org limiter should exist after first request")
	}

	time.Sleep(150 * time.Millisecond)

	rl.cleanup()

	rl.mu.RLock()
	_, exists = rl.perOrg[orgID]
	rl.mu.RUnlock()

	if exists {
		t.Error("stale org limiter should have been removed after cleanup")
	}
}

// TestRateLimiterCleanupPreservesActiveOrgs verifies that cleanup only
// removes idle orgs and preserves recently active ones.
func TestRateLimiterCleanupPreservesActiveOrgs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		OrgRPS:      50,
		UnAuthRPS:   10,
		IdleTimeout: 100 * time.Millisecond,
	})
	defer rl.Close()

	staleOrg := "stale-org"
	activeOrg := "active-org"

	if !rl.Allow(staleOrg) {
		t.Fatal("stale org first request should succeed")
	}

	if !rl.Allow(activeOrg) {
		t.Fatal("active org first request should succeed")
	}

	time.Sleep(150 * time.Millisecond)

	// Keep active org active (updates lastAccess)
	if !rl.Allow(activeOrg) {
		t.Fatal("active org should still be allowed")
	}

	rl.cleanup()

	rl.mu.RLock()
	_, staleExists := rl.perOrg[staleOrg]
	_, activeExists := rl.perOrg[activeOrg]
	rl.mu.RUnlock()

	if staleExists {
		t.Error("stale org should have been removed")
	}

	if !activeExists {
		t.Error("active org should have been preserved")
	}
}

// TestRateLimitMiddlewareRequestAllowed verifies that requests under the
// rate limit are allowed to proceed to the next handler.
func TestRateLimitMiddlewareRequestAllowed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS: 100,
		OrgRPS:    50,
		UnAuthRPS: 10,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("expected next handler to be called when rate limit not exceeded")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

// TestRateLimitMiddlewareRequestBlocked verifies that requests exceeding
// the rate limit are rejected with 429 status.
func TestRateLimitMiddlewareRequestBlocked(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   1,
		GlobalBurst: 1,
		OrgRPS:      1,
		UnAuthRPS:   1,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	if rec1.Code != http.StatusOK {
		t.Errorf("first request should succeed, got status %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec2 := httptest.NewRecorder()
	nextCalled = false

	handler.ServeHTTP(rec2, req2)

	if nextCalled {
		t.Error("expected next handler NOT to be called when rate limit exceeded")
	}

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec2.Code)
	}
}

// TestRateLimitMiddlewareErrorFormat verifies that rate limit errors return
// the uniform {error:{code,message}} envelope with a Retry-After header.
func TestRateLimitMiddlewareErrorFormat(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   1,
		GlobalBurst: 1,
		OrgRPS:      1,
		UnAuthRPS:   1,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	contentType := rec2.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}

	var body map[string]map[string]string
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}

	if body["error"]["code"] != "EVT_RATE_LIMITED" {
		t.Errorf("expected code EVT_RATE_LIMITED, got %v", body["error"]["code"])
	}
}

// TestRateLimitMiddlewareAuthenticatedVsUnauthenticated verifies that
// authenticated and unauthenticated requests use different rate limits.
func TestRateLimitMiddlewareAuthenticatedVsUnauthenticated(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		OrgRPS:      10,
		OrgBurst:    10,
		UnAuthRPS:   2,
		UnAuthBurst: 2,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("unauthenticated request %d should succeed, got status %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd unauthenticated request should be rate limited, got status %d", rec.Code)
	}

	orgCtx := OrgContext{
		OrgID:         "org-dbt",
		PrincipalType: "producer",
	}

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		ctx := SetOrgContext(req.Context(), orgCtx)
		req = req.WithContext(ctx)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("authenticated request %d should succeed, got status %d", i+1, rec.Code)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := SetOrgContext(req.Context(), orgCtx)
	req = req.WithContext(ctx)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("11th authenticated request should be rate limited, got status %d", rec.Code)
	}
}
