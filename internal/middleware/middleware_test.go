package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hms-api/pkg/auth"
	"github.com/jwalitptl/hms-api/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthenticate(t *testing.T) {
	verifier := auth.NewTokenVerifier("secret", "hms-api")
	mw := NewAuthMiddleware(verifier)

	r := gin.New()
	r.Use(MutationsOnly(mw.Authenticate()))
	handler := func(c *gin.Context) {
		c.String(http.StatusOK, auth.SubjectFrom(c.Request.Context()))
	}
	r.GET("/beds", handler)
	r.POST("/beds", handler)

	token, err := verifier.Issue("reception-1", "receptionist", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		header string
		code   int
		body   string
	}{
		{"reads are open", http.MethodGet, "", http.StatusOK, ""},
		{"missing header", http.MethodPost, "", http.StatusUnauthorized, ""},
		{"wrong scheme", http.MethodPost, "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", http.MethodPost, "Bearer nope", http.StatusUnauthorized, ""},
		{"valid token", http.MethodPost, "Bearer " + token, http.StatusOK, "reception-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/beds", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"status":"error"`)
			}
		})
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2}, m)

	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://ward.example.org"}
	r.Use(CORS(cfg))
	r.GET("/beds", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/beds", nil)
	req.Header.Set("Origin", "https://ward.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ward.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/beds", nil)
	req.Header.Set("Origin", "https://elsewhere.example.org")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
	assert.NotContains(t, w.Body.String(), "kaboom")
}
