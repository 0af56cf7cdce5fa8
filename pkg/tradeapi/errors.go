package tradeapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is returned when a response lacks a key the caller
// depends on. It indicates a mismatch between the client and the server
// rather than a transient condition.
var ErrMalformedResponse = errors.New("malformed response")

// Vendor error codes carried in the structured error payload.
const (
	CodePatternDayTrading = 40310100
)

// APIError represents a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string

	// Body is the raw response body.
	Body []byte

	// Details holds the structured error payload when the response carried
	// one beyond code and message, for example pattern day trading details.
	Details map[string]any
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != 0 {
		return fmt.Sprintf("API error (%d): %s (code %d)", e.StatusCode, msg, e.Code)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, msg)
}

// IsNotFound returns true if the error is a 404 Not Found.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnauthorized returns true if the error is a 401 Unauthorized.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsForbidden returns true if the error is a 403 Forbidden.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// IsRateLimited returns true if the error is a 429 Too Many Requests.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// PatternDayTrading returns true if the order was rejected by the pattern
// day trading protection.
func (e *APIError) PatternDayTrading() bool {
	return e.Code == CodePatternDayTrading
}

// newAPIError builds an APIError from a status code and raw body. A body that
// is not a JSON object leaves Code, Message and Details empty.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Body:       body,
	}
	if len(body) == 0 {
		return apiErr
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}

	if code, ok := payload["code"].(float64); ok {
		apiErr.Code = int(code)
	}
	if msg, ok := payload["message"].(string); ok {
		apiErr.Message = msg
	} else if msg, ok := payload["error"].(string); ok {
		apiErr.Message = msg
	}

	details := make(map[string]any)
	for k, v := range payload {
		switch k {
		case "code", "message", "error":
		default:
			details[k] = v
		}
	}
	if len(details) > 0 {
		apiErr.Details = details
	}

	return apiErr
}

// ValidationError reports malformed caller input detected before any
// request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
