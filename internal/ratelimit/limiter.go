package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/pkg/metrics"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration
}

// Limiter admits requests under a per-sender and a global fixed-window
// budget. The window counters live in Redis and are shared by every gateway
// instance. When Redis is unreachable the limiter degrades to a local
// token-bucket approximation instead of blocking ingress.
type Limiter struct {
	repo   Repository
	cfg    config.RateLimitConfig
	logger logger.Logger

	mu     sync.Mutex
	local  map[string]*rate.Limiter
	global *rate.Limiter
}

func NewLimiter(repo Repository, cfg config.RateLimitConfig, log logger.Logger) *Limiter {
	if cfg.PerUserLimit <= 0 {
		cfg.PerUserLimit = constants.DefaultPerUserLimit
	}
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = constants.DefaultGlobalLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = constants.DefaultBurstAllowance
	}
	if cfg.Window <= 0 {
		cfg.Window = constants.DefaultRateLimitWindow
	}

	return &Limiter{
		repo:   repo,
		cfg:    cfg,
		logger: log,
		local:  map[string]*rate.Limiter{},
		global: rate.NewLimiter(perWindow(cfg.GlobalLimit, cfg.Window), cfg.Burst),
	}
}

// Allow checks the sender's budget and then the global one. The global check
// runs even when the per-sender check already failed so one noisy sender
// cannot probe global headroom for free.
func (l *Limiter) Allow(ctx context.Context, senderID string) Decision {
	if !l.cfg.Enabled {
		return Decision{Allowed: true, Scope: "disabled"}
	}

	user := l.checkWindow(ctx, senderID, l.cfg.PerUserLimit)
	global := l.checkWindow(ctx, constants.RateLimitGlobalSubject, l.cfg.GlobalLimit)

	if !user.Allowed {
		metrics.RateLimitRequestsTotal.WithLabelValues("rejected", "user").Inc()
		return user
	}
	if !global.Allowed {
		metrics.RateLimitRequestsTotal.WithLabelValues("rejected", "global").Inc()
		return global
	}
	metrics.RateLimitRequestsTotal.WithLabelValues("allowed", "user").Inc()
	return Decision{Allowed: true, Scope: "user"}
}

func (l *Limiter) checkWindow(ctx context.Context, subject string, limit int) Decision {
	scope := "user"
	if subject == constants.RateLimitGlobalSubject {
		scope = "global"
	}

	key := fmt.Sprintf("%s%s:%d", constants.CacheKeyPrefixRateLimit, subject, time.Now().Unix()/int64(l.cfg.Window.Seconds()))

	count, err := l.repo.Incr(ctx, key)
	if err != nil {
		return l.allowLocally(subject, limit, scope, err)
	}
	if count == 1 {
		// First hit in the window owns setting its expiry.
		if expErr := l.repo.Expire(ctx, key, l.cfg.Window); expErr != nil {
			l.logger.WarnwCtx(ctx, "Failed to set rate limit window expiry",
				"scope", scope,
				"error", expErr,
			)
		}
	}

	if count > int64(limit) {
		return Decision{Allowed: false, Scope: scope, RetryAfter: l.retryAfter()}
	}
	return Decision{Allowed: true, Scope: scope}
}

// allowLocally is the Redis-outage path: a per-process token bucket with the
// configured rate and burst. Looser than the shared window but it keeps
// abusive senders bounded while Redis recovers.
func (l *Limiter) allowLocally(subject string, limit int, scope string, cause error) Decision {
	metrics.FallbackUsageTotal.WithLabelValues("ratelimit", "local_limiter").Inc()
	l.logger.Warnw("Rate limit store unavailable, using local limiter",
		"scope", scope,
		"error", cause,
	)

	limiter := l.localLimiter(subject, limit)
	if limiter.Allow() {
		return Decision{Allowed: true, Scope: scope}
	}
	return Decision{Allowed: false, Scope: scope, RetryAfter: l.retryAfter()}
}

func (l *Limiter) localLimiter(subject string, limit int) *rate.Limiter {
	if subject == constants.RateLimitGlobalSubject {
		return l.global
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.local[subject]
	if !ok {
		limiter = rate.NewLimiter(perWindow(limit, l.cfg.Window), l.cfg.Burst)
		l.local[subject] = limiter
	}
	return limiter
}

// retryAfter reports the time until the current fixed window rolls over.
func (l *Limiter) retryAfter() time.Duration {
	windowSeconds := int64(l.cfg.Window.Seconds())
	now := time.Now().Unix()
	remaining := windowSeconds - now%windowSeconds
	return time.Duration(remaining) * time.Second
}

func perWindow(limit int, window time.Duration) rate.Limit {
	return rate.Limit(float64(limit) / window.Seconds())
}
