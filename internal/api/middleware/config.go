// Package middleware provides HTTP middleware components for the governance events API.
package middleware

import (
	"time"

	"github.com/aigrc/govevents/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-org: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without an org ID
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	OrgRPS int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 200)
	OrgBurst int // Default: 0 (computed as 2 × OrgRPS = 100)
	UnAuthBurst int // Default: 0 (computed as 2 × UnAuthRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxOrgs         int           // Default: 10,000 (warning logged at 80%; not a hard cap)
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes orgs idle >1 hour
// Default max orgs: 10,000 (a warning is logged at 80%; the number of orgs is not capped).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("GOVEVENTS_GLOBAL_RPS", defaultGlobalRPS),
		OrgRPS: config.GetEnvInt("GOVEVENTS_ORG_RPS", defaultPluginRPS),
		UnAuthRPS: config.GetEnvInt("GOVEVENTS_UNAUTH_RPS", defaultUnAuthRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("GOVEVENTS_GLOBAL_BURST", 0),
		OrgBurst: config.GetEnvInt("GOVEVENTS_ORG_BURST", 0),
		UnAuthBurst: config.GetEnvInt("GOVEVENTS_UNAUTH_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"GOVEVENTS_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("GOVEVENTS_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxOrgs:     config.GetEnvInt("GOVEVENTS_RATE_LIMIT_MAX_ORGS", maxOrgs),
	}
}
