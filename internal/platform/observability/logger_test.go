package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestWithRequestFieldsNilLogger(t *testing.T) {
	logger := WithRequestFields(nil, zap.String("request_id", "req-1"))
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Info("ok")
}

func TestWithRequestFieldsReturnsChild(t *testing.T) {
	base := zap.NewNop()
	logger := WithRequestFields(base, zap.String("method", "GET"))
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestRequestLoggerMiddlewareServesRequest(t *testing.T) {
	var called bool
	handler := RequestLoggerMiddleware("project-1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to be invoked")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
