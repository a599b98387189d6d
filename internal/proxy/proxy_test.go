package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"launchpad/internal/db"
	"launchpad/internal/models"
	"launchpad/internal/routing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apex = "launchpad.app"

func testHandler(t *testing.T) (*Handler, *routing.Ledger) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ledger := routing.NewLedger(db.NewRedisClientFromExisting(client))
	return NewHandler(ledger, apex, 5*time.Second), ledger
}

func claim(t *testing.T, ledger *routing.Ledger, label string, status models.DeploymentStatus, origin string) *routing.Record {
	t.Helper()
	now := time.Now().UTC()
	rec := &routing.Record{
		DeploymentID: "dep-" + label,
		Subdomain:    label,
		Status:       status,
		OriginURL:    origin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, ledger.Claim(context.Background(), rec))
	return rec
}

func get(h *Handler, host, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://"+host+path, nil)
	req.Host = host
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLabel(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"myapp.launchpad.app", "myapp"},
		{"MyApp.launchpad.app:8443", "myapp"},
		{"launchpad.app", ""},
		{"launchpad.app:443", ""},
		{"localhost", ""},
		{"a.b.c.launchpad.app", "a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.host), tt.host)
	}
}

func TestApexAndReservedServeApexSite(t *testing.T) {
	h, _ := testHandler(t)

	for _, host := range []string{"launchpad.app", "www.launchpad.app", "api.launchpad.app"} {
		w := get(h, host, "/")
		assert.Equal(t, http.StatusOK, w.Code, host)
		assert.Contains(t, w.Body.String(), apex)
	}
}

func TestUnknownSubdomainIs404(t *testing.T) {
	h, _ := testHandler(t)

	w := get(h, "ghost.launchpad.app", "/")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ghost")
}

func TestStatusPages(t *testing.T) {
	h, ledger := testHandler(t)

	claim(t, ledger, "cooking", models.StatusBuilding, "")
	w := get(h, "cooking.launchpad.app", "/")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	claim(t, ledger, "broken", models.StatusFailed, "")
	w = get(h, "broken.launchpad.app", "/")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	claim(t, ledger, "gone", models.StatusExpired, "")
	w = get(h, "gone.launchpad.app", "/")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestActiveWithoutOriginFallsBackToStatusPage(t *testing.T) {
	h, ledger := testHandler(t)
	claim(t, ledger, "early", models.StatusActive, "")

	w := get(h, "early.launchpad.app", "/")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestForward(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Server", "internal-runtime")
		w.Header().Set("X-App-Header", "kept")
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "hello from the app")
	}))
	defer upstream.Close()

	h, ledger := testHandler(t)
	claim(t, ledger, "myapp", models.StatusActive, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "http://myapp.launchpad.app/greet?name=ada", nil)
	req.Host = "myapp.launchpad.app"
	req.Header.Set("Cookie", "lp_session=secret")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "hello from the app", w.Body.String())

	// Upstream saw the annotated request, minus platform cookies.
	require.NotNil(t, got)
	assert.Equal(t, "/greet", got.URL.Path)
	assert.Equal(t, "name=ada", got.URL.RawQuery)
	assert.Empty(t, got.Header.Get("Cookie"))
	assert.Equal(t, "myapp.launchpad.app", got.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "203.0.113.9", got.Header.Get("X-Real-IP"))
	assert.Equal(t, "dep-myapp", got.Header.Get("X-Launchpad-Deployment"))

	// Runtime-internal response headers are stripped, app headers kept.
	assert.Empty(t, w.Header().Get("Server"))
	assert.Equal(t, "kept", w.Header().Get("X-App-Header"))
}

func TestUpstreamDownIs503(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	origin := dead.URL
	dead.Close()

	h, ledger := testHandler(t)
	claim(t, ledger, "napping", models.StatusActive, origin)

	w := get(h, "napping.launchpad.app", "/")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestRedirectsPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	h, ledger := testHandler(t)
	claim(t, ledger, "bouncer", models.StatusActive, upstream.URL)

	w := get(h, "bouncer.launchpad.app", "/")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/elsewhere", w.Header().Get("Location"))
}
