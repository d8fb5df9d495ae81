// Package middleware provides HTTP middleware components for the governance
// events API.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxOrgs                    int     = 10000
	defaultGlobalRPS           int     = 100
	defaultPluginRPS           int     = 50
	defaultUnAuthRPS           int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
	retryAfterSeconds          int     = 1
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (MVP single-node deployment)
	// or distributed stores like Redis (enterprise multi-node deployment).
	//
	// The interface enables zero-downtime migration from in-memory to Redis-backed
	// rate limiting when scaling beyond single-node deployments.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For authenticated requests, orgID identifies the org. For
		// unauthenticated requests, orgID is empty string.
		Allow(orgID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-org limit (applied to authenticated requests)
	// 3. Unauthenticated limit (applied to requests without an org)
	//
	// Uses token bucket algorithm with configurable burst capacity.
	// Burst capacity allows temporary bursts above the sustained rate.
	//
	// Memory cleanup runs periodically to prevent unbounded growth.
	// Orgs idle longer than IdleTimeout are removed.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perOrg          map[string]*orgLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		// Configuration (stored for creating new org limiters and cleanup)
		orgRPS          int
		orgBurst        int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxOrgs         int
	}

	// orgLimiter tracks rate limit state for a single org.
	// Includes last access time for memory cleanup.
	orgLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with three-tier limits.
//
// Burst capacity is computed automatically as 2 × rate unless overridden in config.
// Cleanup runs periodically to prevent unbounded memory growth.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	orgBurst := computeBurstCapacity(config.OrgRPS, config.OrgBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perOrg:          make(map[string]*orgLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		orgRPS:          config.OrgRPS,
		orgBurst:        orgBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxOrgs:         config.MaxOrgs,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
//
// If burstOverride is 0, computes burst automatically as 2 × rate.
// If burstOverride > 0, uses the override value.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Rate limiting is enforced in three tiers:
// 1. Global limit (all requests)
// 2. Per-org limit (authenticated) OR unauthenticated limit
func (rl *InMemoryRateLimiter) Allow(orgID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if orgID == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	ol, ok := rl.perOrg[orgID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if ol, ok = rl.perOrg[orgID]; !ok {
			ol = &orgLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.orgRPS), rl.orgBurst),
				lastAccess: time.Now(),
			}

			rl.perOrg[orgID] = ol

			currentCount := len(rl.perOrg)
			threshold := int(float64(rl.maxOrgs) * thresholdMultiplier) // 80% threshold

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max orgs limit",
					"current_orgs", currentCount,
					"max_orgs", rl.maxOrgs,
					"threshold_percent", thresholdPercentage,
					"recommendation", "investigate org key proliferation or increase max_orgs limit")
			}
		}

		rl.mu.Unlock()
	}

	ol.mu.Lock()
	ol.lastAccess = time.Now()
	ol.mu.Unlock()

	return ol.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
// Must be called when the InMemoryRateLimiter is no longer needed.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

// startCleanup starts a background goroutine that periodically removes
// stale org limiters to prevent memory leaks.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes org limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for orgID, ol := range rl.perOrg {
		ol.mu.Lock()
		lastAccess := ol.lastAccess
		ol.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perOrg, orgID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Rate limiting is applied in three tiers:
//  1. Global limit (all requests)
//  2. Per-org limit (authenticated requests with an OrgContext)
//  3. Unauthenticated limit (requests without an OrgContext)
//
// When a request exceeds the rate limit, the middleware returns 429 with the
// EVT_RATE_LIMITED code and a Retry-After header.
//
// The middleware must be placed after authentication middleware in the chain
// to access OrgContext for per-org rate limiting.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			orgID := ""
			if orgCtx, ok := GetOrgContext(r.Context()); ok {
				orgID = orgCtx.OrgID
			}

			if !limiter.Allow(orgID) {
				correlationID := GetCorrelationID(r.Context())

				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))

				if err := writeAuthErrorBody(w, http.StatusTooManyRequests, "EVT_RATE_LIMITED",
					"rate limit exceeded, retry after backoff"); err != nil {
					logger.Error("failed to encode rate limit error response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
