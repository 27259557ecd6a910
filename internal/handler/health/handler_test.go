package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	for _, tt := range []struct {
		name   string
		checks map[string]Check
		code   int
	}{
		{"no dependencies", nil, http.StatusOK},
		{"all up", map[string]Check{"database": healthy}, http.StatusOK},
		{"database down", map[string]Check{"database": down, "redis": healthy}, http.StatusServiceUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			NewHandler(tt.checks).RegisterRoutes(r.Group("/api/v1"))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
			assert.Equal(t, tt.code, w.Code)

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
