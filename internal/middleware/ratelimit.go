package middleware

import (
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smartcompress/internal/logger"
	"smartcompress/internal/requestip"
)

// TemplateRenderer interface for rendering HTML templates
type TemplateRenderer interface {
	RenderTemplate(w http.ResponseWriter, name string, data interface{}) error
}

// RateLimiter implements a token bucket algorithm for rate limiting
type RateLimiter struct {
	mu               sync.RWMutex
	requestsPerMin   int
	clients          map[string]*clientBucket
	cleanupInterval  time.Duration
	lockoutDuration  time.Duration // optional lockout after violations
	maxViolations    int           // number of violations before lockout
	trustedProxies   []netip.Prefix
	templateRenderer TemplateRenderer // optional template renderer for nice error pages
	onLimited        func(clientIP string)
	stop             chan struct{}
	stopOnce         sync.Once
}

// clientBucket tracks tokens and violations for a single client (IP)
type clientBucket struct {
	tokens      int
	lastRefill  time.Time
	violations  int
	lockedUntil time.Time
	mu          sync.Mutex
}

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
	LockoutDuration   time.Duration
	MaxViolations     int
	TrustedProxyCIDRs []netip.Prefix
	TemplateRenderer  TemplateRenderer // optional template renderer
	// OnLimited is called for every rejected request.
	OnLimited func(clientIP string)
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxViolations == 0 {
		config.MaxViolations = 10 // default: lockout after 10 violations
	}

	rl := &RateLimiter{
		requestsPerMin:   config.RequestsPerMinute,
		clients:          make(map[string]*clientBucket),
		cleanupInterval:  config.CleanupInterval,
		lockoutDuration:  config.LockoutDuration,
		maxViolations:    config.MaxViolations,
		trustedProxies:   append([]netip.Prefix(nil), config.TrustedProxyCIDRs...),
		templateRenderer: config.TemplateRenderer,
		onLimited:        config.OnLimited,
		stop:             make(chan struct{}),
	}

	// Start background cleanup goroutine
	go rl.cleanupLoop()

	return rl
}

// Stop ends the background cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware returns an HTTP middleware function
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := requestip.ClientIP(r, rl.trustedProxies)

			allowed, remaining, resetTime := rl.Allow(clientIP)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				retryAfter := int(time.Until(resetTime).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				logger.Entry(r.Context()).WithFields(logrus.Fields{
					"client_ip": clientIP,
					"path":      r.URL.Path,
				}).Warn("rate limit exceeded")
				if rl.onLimited != nil {
					rl.onLimited(clientIP)
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				if rl.templateRenderer != nil {
					w.Header().Set("Content-Type", "text/html; charset=utf-8")
					w.WriteHeader(http.StatusTooManyRequests)
					data := struct {
						RetryAfter int
					}{
						RetryAfter: retryAfter,
					}
					if err := rl.templateRenderer.RenderTemplate(w, "rate_limit.html", data); err != nil {
						logger.Entry(r.Context()).WithError(err).Error("failed to render rate limit template")
					}
					return
				}

				http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Allow checks if a request from the given client IP is allowed
// Returns: (allowed bool, remaining tokens, reset time)
func (rl *RateLimiter) Allow(clientIP string) (bool, int, time.Time) {
	rl.mu.Lock()
	bucket, exists := rl.clients[clientIP]
	if !exists {
		bucket = &clientBucket{
			tokens:     rl.requestsPerMin,
			lastRefill: time.Now().UTC(),
		}
		rl.clients[clientIP] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now().UTC()

	if !bucket.lockedUntil.IsZero() && now.Before(bucket.lockedUntil) {
		return false, 0, bucket.lockedUntil
	}

	// Reset lockout if expired
	if !bucket.lockedUntil.IsZero() && now.After(bucket.lockedUntil) {
		bucket.lockedUntil = time.Time{}
		bucket.violations = 0
	}

	// Full refill happens every minute, partial refill in between
	elapsed := now.Sub(bucket.lastRefill)
	if elapsed >= time.Minute {
		bucket.tokens = rl.requestsPerMin
		bucket.lastRefill = now
	} else {
		tokensToAdd := int(float64(rl.requestsPerMin) * (elapsed.Seconds() / 60.0))
		bucket.tokens += tokensToAdd
		if bucket.tokens > rl.requestsPerMin {
			bucket.tokens = rl.requestsPerMin
		}
		if tokensToAdd > 0 {
			bucket.lastRefill = now
		}
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true, bucket.tokens, bucket.lastRefill.Add(time.Minute)
	}

	bucket.violations++

	if rl.lockoutDuration > 0 && bucket.violations >= rl.maxViolations {
		bucket.lockedUntil = now.Add(rl.lockoutDuration)
		logrus.WithFields(logrus.Fields{
			"client_ip":  clientIP,
			"until":      bucket.lockedUntil,
			"violations": bucket.violations,
		}).Warn("client locked out")
		return false, 0, bucket.lockedUntil
	}

	return false, 0, bucket.lastRefill.Add(time.Minute)
}

// cleanupLoop periodically removes stale client buckets to prevent memory leaks
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes client buckets that haven't been used recently
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UTC()
	staleThreshold := 10 * time.Minute

	for ip, bucket := range rl.clients {
		bucket.mu.Lock()
		lastActivity := bucket.lastRefill
		isLocked := !bucket.lockedUntil.IsZero() && now.Before(bucket.lockedUntil)
		bucket.mu.Unlock()

		if !isLocked && now.Sub(lastActivity) > staleThreshold {
			delete(rl.clients, ip)
		}
	}
}
