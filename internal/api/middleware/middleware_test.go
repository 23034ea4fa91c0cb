package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "success"})
}

func request(router *gin.Engine, method, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/test", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/test", okHandler)

	tests := []struct {
		name           string
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{
			name:           "simple GET request with origin",
			method:         "GET",
			origin:         "http://localhost:5173",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name:           "preflight OPTIONS request",
			method:         "OPTIONS",
			origin:         "http://localhost:5173",
			wantStatus:     http.StatusNoContent,
			wantCORSHeader: true,
		},
		{
			name:           "no origin header",
			method:         "GET",
			wantStatus:     http.StatusOK,
			wantCORSHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == "OPTIONS" {
				req.Header.Set("Access-Control-Request-Method", "GET")
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCORSHeader {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	router.GET("/test", okHandler)

	assert.Equal(t, http.StatusOK, request(router, "GET", "192.168.1.1").Code)
	assert.Equal(t, http.StatusOK, request(router, "GET", "192.168.1.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(router, "GET", "192.168.1.1").Code)
}

func TestRateLimitDifferentClients(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))
	router.GET("/test", okHandler)

	assert.Equal(t, http.StatusOK, request(router, "GET", "192.168.1.1").Code)
	assert.Equal(t, http.StatusOK, request(router, "GET", "192.168.1.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(router, "GET", "192.168.1.1").Code)
}

func TestRateLimitEvictsIdleClients(t *testing.T) {
	set := newLimiterSet(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	set.now = func() time.Time { return now }

	assert.True(t, set.allow("10.0.0.1"))
	assert.False(t, set.allow("10.0.0.1"))

	now = now.Add(30 * time.Second)
	assert.True(t, set.allow("10.0.0.2"))
	assert.Equal(t, 2, set.size())

	// 10.0.0.1 has been idle past the TTL, 10.0.0.2 has not
	now = now.Add(45 * time.Second)
	assert.True(t, set.allow("10.0.0.3"))
	assert.Equal(t, 2, set.size())

	set.mu.Lock()
	_, stale := set.visitors["10.0.0.1"]
	set.mu.Unlock()
	assert.False(t, stale)
}

func TestGlobalRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))
	router.GET("/test", okHandler)

	assert.Equal(t, http.StatusOK, request(router, "GET", "192.168.1.1").Code)
	assert.Equal(t, http.StatusOK, request(router, "GET", "192.168.1.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(router, "GET", "192.168.1.3").Code)
}

func TestDefaultConfigs(t *testing.T) {
	cors := DefaultCORSConfig()
	assert.Contains(t, cors.AllowOrigins, "*")
	assert.Contains(t, cors.AllowMethods, "PATCH")
	assert.False(t, cors.AllowCredentials)
	assert.Equal(t, 12*time.Hour, cors.MaxAge)

	rl := DefaultRateLimitConfig()
	assert.Equal(t, 100, rl.RequestsPerSecond)
	assert.Equal(t, 200, rl.Burst)
	assert.Equal(t, 10*time.Minute, rl.IdleTTL)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := setupTestRouter()
	router.Use(RequestLogger(zap.New(core)))
	router.GET("/test", okHandler)
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	request(router, "GET", "127.0.0.1")
	req := httptest.NewRequest("GET", "/boom", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	request(router, "POST", "127.0.0.1")

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	}
}

func BenchmarkRateLimit(b *testing.B) {
	router := setupTestRouter()
	router.Use(RateLimit(DefaultRateLimitConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
