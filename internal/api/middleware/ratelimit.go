// Package middleware provides HTTP middleware components for the qhse-outbox API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int = 2
	rateLimiterCleanupInterval     = 5 * time.Minute
	rateLimiterIdleTimeout         = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or a distributed store for multi-node deployments.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// identity identifies the caller (the JWT subject for authenticated
		// requests, or "" for unauthenticated requests such as login attempts).
		Allow(identity string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	//  1. Global limit (applied to all requests)
	//  2. Per-identity limit (applied once an identity is known)
	//  3. Unauthenticated limit (one bucket shared by all requests without an identity)
	//
	// Suitable for single-node deployments; memory cleanup runs periodically
	// to prevent unbounded growth from identities no longer seen.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perIdentity     map[string]*identityLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		identityRPS     int
		identityBurst   int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
	}

	// identityLimiter tracks rate limit state for a single identity.
	identityLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}

	// Config configures an InMemoryRateLimiter's three tiers.
	Config struct {
		GlobalRPS       int
		GlobalBurst     int
		IdentityRPS     int
		IdentityBurst   int
		UnAuthRPS       int
		UnAuthBurst     int
		CleanupInterval time.Duration
		IdleTimeout     time.Duration
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter.
//
// Burst capacity is computed automatically as 2x rate unless overridden in
// config. Cleanup runs periodically to prevent unbounded memory growth.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	identityBurst := computeBurstCapacity(config.IdentityRPS, config.IdentityBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perIdentity:     make(map[string]*identityLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		identityRPS:     config.IdentityRPS,
		identityBurst:   identityBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow implements RateLimiter.
func (rl *InMemoryRateLimiter) Allow(identity string) bool {
	if !rl.global.Allow() {
		return false
	}

	if identity == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	il, ok := rl.perIdentity[identity]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if il, ok = rl.perIdentity[identity]; !ok {
			il = &identityLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.identityRPS), rl.identityBurst),
				lastAccess: time.Now(),
			}

			rl.perIdentity[identity] = il
		}
		rl.mu.Unlock()
	}

	il.mu.Lock()
	il.lastAccess = time.Now()
	il.mu.Unlock()

	return il.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

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

func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for identity, il := range rl.perIdentity {
		il.mu.Lock()
		lastAccess := il.lastAccess
		il.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perIdentity, identity)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Identity is taken from the authenticated caller (set by the JWT middleware)
// when present, otherwise requests are rate limited as unauthenticated. When a
// request exceeds the limit, a 429 Too Many Requests RFC 7807 response is
// returned.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ""
			if id, ok := GetIdentity(r.Context()); ok {
				identity = id.Subject
			}

			if !limiter.Allow(identity) {
				correlationID := GetCorrelationID(r.Context())
				detail := "Rate limit exceeded. Please retry after some time."

				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests,
					"Too Many Requests", detail, correlationID); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
