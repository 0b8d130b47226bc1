package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/atlasmesh/tileserve/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// AUTH_ - Authentication and authorization errors
	ErrAuthMissing       ErrorCode = "AUTH_MISSING"
	ErrAuthInvalid       ErrorCode = "AUTH_INVALID"
	ErrAuthNotConfigured ErrorCode = "AUTH_NOT_CONFIGURED"

	// TILE_ - Tile request errors
	ErrTileOutOfRange   ErrorCode = "TILE_OUT_OF_RANGE"
	ErrTileUnknownLayer ErrorCode = "TILE_UNKNOWN_LAYER"
	ErrTileInvalidParam ErrorCode = "TILE_INVALID_PARAM"

	// GENERATOR_ - Tile generator errors
	ErrGeneratorUnavailable ErrorCode = "GENERATOR_UNAVAILABLE"
	ErrGeneratorTimeout     ErrorCode = "GENERATOR_TIMEOUT"

	// PREGEN_ - Pregeneration run errors
	ErrPregenConflict     ErrorCode = "PREGEN_CONFLICT"
	ErrPregenNotFound     ErrorCode = "PREGEN_NOT_FOUND"
	ErrPregenInvalidRange ErrorCode = "PREGEN_INVALID_RANGE"

	// SYSTEM_ - System and server errors
	ErrSystemInternal    ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON  ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationInvalidValue ErrorCode = "VALIDATION_INVALID_VALUE"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// Helper functions for common errors

// AuthMissing creates an authentication missing error
func AuthMissing(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return New(ErrAuthMissing, message, http.StatusUnauthorized)
}

// AuthInvalid creates an invalid authentication error
func AuthInvalid(message string) *Error {
	if message == "" {
		message = "Invalid authentication credentials"
	}
	return New(ErrAuthInvalid, message, http.StatusUnauthorized)
}

// AuthNotConfigured creates an admin-token-not-configured error
func AuthNotConfigured() *Error {
	return New(ErrAuthNotConfigured, "Admin token not configured", http.StatusServiceUnavailable)
}

// TileOutOfRange creates an out-of-range tile coordinate error
func TileOutOfRange(message string) *Error {
	if message == "" {
		message = "Tile coordinate out of range"
	}
	return New(ErrTileOutOfRange, message, http.StatusBadRequest)
}

// TileUnknownLayer creates an unknown layer error
func TileUnknownLayer(layer string) *Error {
	return New(ErrTileUnknownLayer, "Unknown tile layer: "+layer, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"layer": layer})
}

// TileInvalidParam creates an invalid tile parameter error
func TileInvalidParam(param string) *Error {
	return New(ErrTileInvalidParam, "Invalid tile parameter: "+param, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"param": param})
}

// GeneratorUnavailable creates a tile generator unavailable error.
// Surfaced as 502 so clients treat it as transient and retry.
func GeneratorUnavailable(message string) *Error {
	if message == "" {
		message = "Tile generator unavailable"
	}
	return New(ErrGeneratorUnavailable, message, http.StatusBadGateway)
}

// GeneratorTimeout creates a tile generator timeout error
func GeneratorTimeout() *Error {
	return New(ErrGeneratorTimeout, "Tile generation timed out", http.StatusGatewayTimeout)
}

// PregenConflict creates an error for a layer that already has an active run
func PregenConflict(layer string) *Error {
	return New(ErrPregenConflict, "Pregeneration already running for layer: "+layer, http.StatusConflict).
		WithDetails(map[string]interface{}{"layer": layer})
}

// PregenNotFound creates a pregeneration run not found error
func PregenNotFound(id string) *Error {
	return New(ErrPregenNotFound, "Pregeneration run not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"run_id": id})
}

// PregenInvalidRange creates an invalid zoom range error
func PregenInvalidRange(message string) *Error {
	if message == "" {
		message = "Invalid pregeneration zoom range"
	}
	return New(ErrPregenInvalidRange, message, http.StatusBadRequest)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemUnavailable creates a service unavailable error
func SystemUnavailable(message string) *Error {
	if message == "" {
		message = "Service unavailable"
	}
	return New(ErrSystemUnavailable, message, http.StatusServiceUnavailable)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// RateLimitGlobal creates a global rate limit error
func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

// RateLimitIP creates an IP rate limit error
func RateLimitIP() *Error {
	return New(ErrRateLimitIP, "Rate limit exceeded - too many requests from your IP", http.StatusTooManyRequests)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
