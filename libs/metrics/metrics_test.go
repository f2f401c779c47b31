package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesHTTPMetrics(t *testing.T) {
	registry := NewRegistry()
	RequestCount.WithLabelValues("GET", "/api-wallets", "OK").Inc()

	w := httptest.NewRecorder()
	Handler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",path="/api-wallets",status="OK"}`) {
		t.Fatalf("expected request counter in output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go collector in output")
	}
}
