package apierr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlasmesh/tileserve/internal/logger"
)

func TestErrorInterface(t *testing.T) {
	err := TileOutOfRange("x exceeds 2^z")
	if err.Error() != "TILE_OUT_OF_RANGE: x exceeds 2^z" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
	if err.Status() != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", err.Status())
	}
}

func TestHelperStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   ErrorCode
		status int
	}{
		{"auth missing", AuthMissing(""), ErrAuthMissing, http.StatusUnauthorized},
		{"auth not configured", AuthNotConfigured(), ErrAuthNotConfigured, http.StatusServiceUnavailable},
		{"unknown layer", TileUnknownLayer("oceans"), ErrTileUnknownLayer, http.StatusBadRequest},
		{"generator unavailable", GeneratorUnavailable(""), ErrGeneratorUnavailable, http.StatusBadGateway},
		{"generator timeout", GeneratorTimeout(), ErrGeneratorTimeout, http.StatusGatewayTimeout},
		{"pregen conflict", PregenConflict("cities"), ErrPregenConflict, http.StatusConflict},
		{"pregen not found", PregenNotFound("abc"), ErrPregenNotFound, http.StatusNotFound},
		{"rate limit ip", RateLimitIP(), ErrRateLimitIP, http.StatusTooManyRequests},
		{"internal", SystemInternal(""), ErrSystemInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.Status() != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.Status())
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, TileUnknownLayer("bogus"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %s", ct)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != ErrTileUnknownLayer {
		t.Errorf("expected TILE_UNKNOWN_LAYER, got %s", resp.Error.Code)
	}
	if resp.Error.Details["layer"] != "bogus" {
		t.Errorf("expected layer detail, got %v", resp.Error.Details)
	}
}

func TestWriteErrorWithContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/tiles/political/4/8/5", nil)
	ctx := context.WithValue(req.Context(), logger.RequestIDKey, "req-123")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	WriteErrorWithContext(rec, req, GeneratorUnavailable(""))

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("expected request ID req-123, got %q", resp.Error.RequestID)
	}
}
