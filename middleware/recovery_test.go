package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newPanicRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery())
	router.GET("/sessions/:id/dashboard", func(c *gin.Context) {
		panic("nil dashboard")
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	router := newPanicRouter()

	t.Run("panic recovery", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest("GET", "/sessions/s-1/dashboard", nil)
		req.Header.Set("X-Request-ID", "req-panic")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", w.Code)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if body["error"] != "Internal server error" {
			t.Errorf("Unexpected error message %q", body["error"])
		}
		if body["request_id"] != "req-panic" {
			t.Errorf("Expected request id in response, got %q", body["request_id"])
		}

		logOutput := buf.String()
		if !strings.Contains(logOutput, "panic recovered") {
			t.Errorf("Expected panic to be logged, got %s", logOutput)
		}
		if !strings.Contains(logOutput, "request_id=req-panic") {
			t.Errorf("Expected request id in panic log, got %s", logOutput)
		}
		if !strings.Contains(logOutput, "nil dashboard") {
			t.Errorf("Expected panic value in log, got %s", logOutput)
		}
	})

	t.Run("normal request", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
		if strings.Contains(buf.String(), "panic recovered") {
			t.Error("Expected no panic log for a normal request")
		}
	})
}
