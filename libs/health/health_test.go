package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func probe(m *Manager) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/readyz", ReadinessHandler(m))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w
}

func TestReadinessFollowsFlag(t *testing.T) {
	m := NewManager(false)
	if w := probe(m); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	m.SetReady(true)
	if w := probe(m); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadinessRunsChecks(t *testing.T) {
	m := NewManager(true)
	m.AddCheck("postgres", func(context.Context) error { return nil })
	m.AddCheck("redis", func(context.Context) error { return errors.New("down") })

	w := probe(m)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "redis") || strings.Contains(w.Body.String(), "postgres") {
		t.Fatalf("expected only redis to fail, got %s", w.Body.String())
	}
}
