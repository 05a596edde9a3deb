package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"medtriage/medtriage/utils/logging"
)

func TestRequestLoggingPassesThrough(t *testing.T) {
	logging.InitLogger()

	handler := RequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/triage/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body altered by logging middleware: %q", rec.Body.String())
	}
}
