package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/floodgate/pkg/floodgate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newLimiter(t *testing.T, max int64, window time.Duration) floodgate.Limiter {
	t.Helper()
	l, err := floodgate.NewFixedWindow(max, window, floodgate.WithSweepInterval(0))
	require.NoError(t, err)
	t.Cleanup(l.Stop)
	return l
}

func doRequest(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AllowsUnderLimit(t *testing.T) {
	rl, err := New(Config{Limiter: newLimiter(t, 3, time.Minute)})
	require.NoError(t, err)
	handler := rl.Handler(okHandler())

	for i := 0; i < 3; i++ {
		rec := doRequest(handler, "10.0.0.1:1234")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestHandler_RejectsOverLimit(t *testing.T) {
	rl, err := New(Config{Limiter: newLimiter(t, 2, time.Minute)})
	require.NoError(t, err)
	handler := rl.Handler(okHandler())

	doRequest(handler, "10.0.0.1:1234")
	doRequest(handler, "10.0.0.1:1234")
	rec := doRequest(handler, "10.0.0.1:1234")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Contains(t, body, "retry_after_ms")
}

func TestHandler_KeysAreIndependent(t *testing.T) {
	rl, err := New(Config{Limiter: newLimiter(t, 1, time.Minute)})
	require.NoError(t, err)
	handler := rl.Handler(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.1:9999").Code)
	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:1234").Code)
}

func TestHandler_RouteOverride(t *testing.T) {
	rl, err := New(Config{
		Limiter: newLimiter(t, 100, time.Minute),
		RouteLimiters: map[string]floodgate.Limiter{
			"/api/login": newLimiter(t, 1, time.Minute),
		},
	})
	require.NoError(t, err)
	handler := rl.Handler(okHandler())

	login := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	login.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, login)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, login)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// the default engine still has headroom for the same client
	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:1234").Code)
}

func TestHandler_Bypass(t *testing.T) {
	rl, err := New(Config{
		Limiter: newLimiter(t, 1, time.Minute),
		Bypass: func(r *http.Request) bool {
			return r.URL.Path == "/healthz"
		},
	})
	require.NoError(t, err)
	handler := rl.Handler(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestHandler_FailOpenOnKeyError(t *testing.T) {
	broken := KeyByHeader("X-API-Key")

	rl, err := New(Config{Limiter: newLimiter(t, 1, time.Minute), KeyFunc: broken, FailOpen: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doRequest(rl.Handler(okHandler()), "10.0.0.1:1234").Code)

	rl, err = New(Config{Limiter: newLimiter(t, 1, time.Minute), KeyFunc: broken, FailOpen: false})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, doRequest(rl.Handler(okHandler()), "10.0.0.1:1234").Code)
}

func TestHandler_RecordsDecisions(t *testing.T) {
	seen := make([]*floodgate.Decision, 0, 3)
	rec := recorderFunc(func(d *floodgate.Decision) { seen = append(seen, d) })

	rl, err := New(Config{Limiter: newLimiter(t, 2, time.Minute), Metrics: rec})
	require.NoError(t, err)
	handler := rl.Handler(okHandler())

	for i := 0; i < 3; i++ {
		doRequest(handler, "10.0.0.1:1234")
	}

	require.Len(t, seen, 3)
	assert.True(t, seen[0].Allowed)
	assert.True(t, seen[1].Allowed)
	assert.False(t, seen[2].Allowed)
}

type recorderFunc func(*floodgate.Decision)

func (f recorderFunc) Record(d *floodgate.Decision) { f(d) }

func TestNew_RequiresLimiter(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, floodgate.ErrInvalidConfig)
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:5555"

	key, err := KeyByIP()(req)
	require.NoError(t, err)
	assert.Equal(t, "ip:192.168.1.5", key)

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	key, err = KeyByIPBehindProxy()(req)
	require.NoError(t, err)
	assert.Equal(t, "ip:203.0.113.7", key)

	req.Header.Set("Authorization", "Bearer tok-123")
	key, err = KeyByBearerToken()(req)
	require.NoError(t, err)
	assert.Equal(t, "bearer:tok-123", key)

	_, err = KeyByHeader("X-API-Key")(req)
	assert.ErrorIs(t, err, ErrNoKey)

	req.Header.Set("X-API-Key", "abc")
	key, err = KeyByHeader("X-API-Key")(req)
	require.NoError(t, err)
	assert.Equal(t, "header:X-API-Key:abc", key)

	key, err = KeyChain(KeyByHeader("Missing"), KeyStatic("global"))(req)
	require.NoError(t, err)
	assert.Equal(t, "global", key)
}

func TestParseKeyFunc(t *testing.T) {
	tests := []struct {
		config  string
		wantErr bool
	}{
		{"ip", false},
		{"ip-proxy", false},
		{"bearer", false},
		{"header:X-API-Key", false},
		{"cookie:session", false},
		{"static:global", false},
		{"header", true},
		{"cookie", true},
		{"static", true},
		{"teleport", true},
	}
	for _, tt := range tests {
		fn, err := ParseKeyFunc(tt.config)
		if tt.wantErr {
			assert.Error(t, err, tt.config)
		} else {
			assert.NoError(t, err, tt.config)
			assert.NotNil(t, fn, tt.config)
		}
	}
}
