package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"launchpad/internal/db"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(db.NewRedisClientFromExisting(client)), mr
}

func limitedRouter(rl *RateLimiter, class Class, pre ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(pre, rl.Limit(class), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/x", handlers...)
	return r
}

func hit(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLimitEnforcesClassMax(t *testing.T) {
	rl, _ := testLimiter(t)
	r := limitedRouter(rl, Class{"test", 3, time.Minute})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	}

	w := hit(r, "192.0.2.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestLimitKeysByCaller(t *testing.T) {
	rl, _ := testLimiter(t)
	r := limitedRouter(rl, Class{"test", 1, time.Minute})

	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "192.0.2.1:1000").Code)

	// A different caller has its own bucket.
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.2:1000").Code)
}

func TestLimitPrefersUserIdentity(t *testing.T) {
	rl, _ := testLimiter(t)
	asUser := func(id string) gin.HandlerFunc {
		return func(c *gin.Context) { c.Set("user_id", id) }
	}
	r := limitedRouter(rl, Class{"test", 1, time.Minute}, asUser("u-1"))

	// Same IP, but the bucket follows the user id.
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "192.0.2.1:1000").Code)

	other := limitedRouter(rl, Class{"test", 1, time.Minute}, asUser("u-2"))
	assert.Equal(t, http.StatusOK, hit(other, "192.0.2.1:1000").Code)
}

func TestGlobalClassCapsEverything(t *testing.T) {
	rl, mr := testLimiter(t)
	// A roomy class still hits the shared global ceiling.
	r := limitedRouter(rl, Class{"test", 1000, time.Minute})

	require.NoError(t, mr.Set("rl:global:ip:192.0.2.1", "100"))
	mr.SetTTL("rl:global:ip:192.0.2.1", time.Minute)

	w := hit(r, "192.0.2.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWindowExpiryResetsBucket(t *testing.T) {
	rl, mr := testLimiter(t)
	r := limitedRouter(rl, Class{"test", 1, time.Minute})

	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "192.0.2.1:1000").Code)

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
}

func TestLimiterFailsOpen(t *testing.T) {
	rl, mr := testLimiter(t)
	r := limitedRouter(rl, Class{"test", 1, time.Minute})
	mr.Close()

	// Redis being down must not reject traffic.
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
}
