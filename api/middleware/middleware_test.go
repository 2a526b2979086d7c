package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blnkfinance/collect/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/batch-runs", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{Secure: true, SecretKey: "master-key"}})
	r := newRouter(SecretKeyAuthMiddleware())

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"valid key", "/batch-runs", "master-key", http.StatusOK},
		{"missing key", "/batch-runs", "", http.StatusUnauthorized},
		{"wrong key", "/batch-runs", "guess", http.StatusUnauthorized},
		{"health check is open", "/", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestSecretKeyAuthMiddleware_NoKeyConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{Secure: true}})
	r := newRouter(SecretKeyAuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/batch-runs", nil)
	req.Header.Set(KeyHeader, "anything")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rps := 1.0
	burst := 1
	r := newRouter(RateLimitMiddleware(&config.Configuration{RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst}}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/batch-runs", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	r := newRouter(RateLimitMiddleware(&config.Configuration{}))
	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/batch-runs", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
