package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestRecoverWithSentry_NoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	middleware := RecoverWithSentry(handler)

	req := httptest.NewRequest("GET", "/tiles/political/4/8/5", nil)
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestRecoverWithSentry_WithPanic(t *testing.T) {
	// Ensure Sentry is not configured for this test
	os.Unsetenv("SENTRY_DSN")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	middleware := RecoverWithSentry(handler)

	req := httptest.NewRequest("GET", "/tiles/political/4/8/5", nil)
	w := httptest.NewRecorder()

	// Should not panic
	middleware.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestRecoverWithSentry_WithErrorPanic(t *testing.T) {
	// Ensure Sentry is not configured for this test
	os.Unsetenv("SENTRY_DSN")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	middleware := RecoverWithSentry(handler)

	req := httptest.NewRequest("GET", "/tiles/political/4/8/5", nil)
	w := httptest.NewRecorder()

	// Should not panic
	middleware.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}
