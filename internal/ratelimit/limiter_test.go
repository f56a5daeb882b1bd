package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat4all/internal/config"
	"chat4all/internal/logger"
)

// unreachableClient returns a client whose commands fail immediately, which
// drives the limiter onto its local fallback path.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:      true,
		PerUserLimit: 5,
		GlobalLimit:  50,
		Burst:        5,
		Window:       time.Minute,
	}
}

// fakeRepository is an in-memory window-counter store.
type fakeRepository struct {
	counts  map[string]int64
	expires map[string]time.Duration
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		counts:  map[string]int64{},
		expires: map[string]time.Duration{},
	}
}

func (f *fakeRepository) Incr(_ context.Context, key string) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRepository) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.expires[key] = ttl
	return nil
}

// expire rolls a window over like Redis key expiry would.
func (f *fakeRepository) expire(key string) {
	delete(f.counts, key)
	delete(f.expires, key)
}

func (f *fakeRepository) singleKey(t *testing.T, prefix string) string {
	t.Helper()
	var keys []string
	for key := range f.counts {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	require.Len(t, keys, 1)
	return keys[0]
}

func TestAllowWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	limiter := NewLimiter(NewRepository(unreachableClient()), cfg, logger.NopLogger())

	decision := limiter.Allow(context.Background(), "alice")
	assert.True(t, decision.Allowed)
}

func TestWindowAdmitsUpToLimitThenRejects(t *testing.T) {
	repo := newFakeRepository()
	cfg := testConfig()
	cfg.PerUserLimit = 100
	cfg.GlobalLimit = 1000
	// Wide window so the key cannot roll over mid-test.
	cfg.Window = time.Hour
	limiter := NewLimiter(repo, cfg, logger.NopLogger())

	for i := 0; i < 100; i++ {
		decision := limiter.Allow(context.Background(), "alice")
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
	}

	decision := limiter.Allow(context.Background(), "alice")
	require.False(t, decision.Allowed)
	assert.Equal(t, "user", decision.Scope)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Hour)

	// Window rollover clears the counter and the sender is admitted again.
	repo.expire(repo.singleKey(t, "ratelimit:alice:"))
	assert.True(t, limiter.Allow(context.Background(), "alice").Allowed)
}

func TestWindowExpirySetOnFirstIncrement(t *testing.T) {
	repo := newFakeRepository()
	cfg := testConfig()
	cfg.Window = time.Hour
	limiter := NewLimiter(repo, cfg, logger.NopLogger())

	for i := 0; i < 3; i++ {
		limiter.Allow(context.Background(), "alice")
	}

	// One expiry per key, set by the first increment only.
	key := repo.singleKey(t, "ratelimit:alice:")
	assert.Equal(t, time.Hour, repo.expires[key])
	globalKey := repo.singleKey(t, "ratelimit:_global:")
	assert.Equal(t, time.Hour, repo.expires[globalKey])
	assert.Len(t, repo.expires, 2)
}

func TestWindowGlobalLimitRejectsQuietSender(t *testing.T) {
	repo := newFakeRepository()
	cfg := testConfig()
	cfg.PerUserLimit = 100
	cfg.GlobalLimit = 10
	cfg.Window = time.Hour
	limiter := NewLimiter(repo, cfg, logger.NopLogger())

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(context.Background(), "noisy").Allowed)
	}

	decision := limiter.Allow(context.Background(), "quiet")
	require.False(t, decision.Allowed)
	assert.Equal(t, "global", decision.Scope)
}

func TestLocalFallbackBoundsSender(t *testing.T) {
	limiter := NewLimiter(NewRepository(unreachableClient()), testConfig(), logger.NopLogger())

	allowed := 0
	var rejected *Decision
	for i := 0; i < 20; i++ {
		decision := limiter.Allow(context.Background(), "alice")
		if decision.Allowed {
			allowed++
		} else if rejected == nil {
			d := decision
			rejected = &d
		}
	}

	// The local bucket admits at most the burst before throttling.
	assert.LessOrEqual(t, allowed, 5)
	require.NotNil(t, rejected)
	assert.Equal(t, "user", rejected.Scope)
	assert.Greater(t, rejected.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, rejected.RetryAfter, time.Minute)
}

func TestLocalFallbackIsolatesSenders(t *testing.T) {
	limiter := NewLimiter(NewRepository(unreachableClient()), testConfig(), logger.NopLogger())

	for i := 0; i < 20; i++ {
		limiter.Allow(context.Background(), "noisy")
	}

	decision := limiter.Allow(context.Background(), "quiet")
	assert.True(t, decision.Allowed)
}

func TestMiddlewareRejectsWithRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	cfg.Burst = 1
	limiter := NewLimiter(NewRepository(unreachableClient()), cfg, logger.NopLogger())

	router := gin.New()
	router.Use(Middleware(limiter))
	router.POST("/v1/messages", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 10; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
		req.Header.Set("X-User-ID", "alice")
		router.ServeHTTP(last, req)
		if last.Code == http.StatusTooManyRequests {
			break
		}
	}

	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("X-RateLimit-Retry-After"))
	assert.Contains(t, last.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestMiddlewarePassesWhenAllowed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	cfg.Enabled = false
	limiter := NewLimiter(NewRepository(unreachableClient()), cfg, logger.NopLogger())

	router := gin.New()
	router.Use(Middleware(limiter))
	router.POST("/v1/messages", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("X-User-ID", "alice")
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusAccepted, recorder.Code)
}
