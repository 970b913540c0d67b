package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORSPreflight(t *testing.T) {
	called := false
	router := gin.New()
	router.Use(CORS())
	router.OPTIONS("/api/sessions", func(c *gin.Context) {
		called = true
	})

	req := httptest.NewRequest("OPTIONS", "/api/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if called {
		t.Error("Expected preflight to stop before the handler")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected Access-Control-Allow-Origin header")
	}
}

func TestCORSExposesDownloadName(t *testing.T) {
	router := gin.New()
	router.Use(CORS())
	router.GET("/api/export", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID, Content-Disposition" {
		t.Errorf("Unexpected exposed headers %q", got)
	}
}

func TestCacheControl(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/api/sessions", "no-cache, no-store, must-revalidate"},
		{"/", "public, max-age=3600, must-revalidate"},
		{"/app.js", "public, max-age=3600, must-revalidate"},
		{"/health", ""},
	}

	router := gin.New()
	router.Use(CacheControl())
	router.NoRoute(func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if got := w.Header().Get("Cache-Control"); got != tt.expected {
				t.Errorf("Expected Cache-Control %q, got %q", tt.expected, got)
			}
		})
	}
}
