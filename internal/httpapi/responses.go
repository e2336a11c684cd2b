// Package httpapi provides common encoding and middleware for an HTTP API.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	auth "github.com/castellan/castellan"
)

// sessionTimeoutCode is the sentinel error code telling clients the
// session expired through inactivity and a fresh login is required.
const sessionTimeoutCode = "SESSION_TIMEOUT"

// JSONAPIHandler is an HTTP handler for a JSON API.
type JSONAPIHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

// Envelope is the response shape shared by every endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError is the error half of the envelope.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ToHandlerFunc adapts a JSONAPIHandler into net/http's HandlerFunc.
func ToHandlerFunc(jsonHandler JSONAPIHandler, successCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response, err := jsonHandler(w, r)
		if err != nil {
			ErrorResponse(w, err)
			return
		}

		JSONResponse(w, response, successCode)
	}
}

// JSONResponse writes a success envelope. If we are unable to marshal
// the payload, we return an internal error.
func JSONResponse(w http.ResponseWriter, v interface{}, statusCode int) {
	b, err := json.Marshal(Envelope{Success: true, Data: v})
	if err != nil {
		internalErrorResponse(w)
		return
	}

	response(w, b, statusCode)
}

// ErrorResponse writes an error envelope. Domain errors are returned
// to the client. Any other errors resolve to a 500 response.
func ErrorResponse(w http.ResponseWriter, err error) {
	domainErr := auth.DomainError(err)
	if domainErr == nil {
		internalErrorResponse(w)
		return
	}

	apiErr := APIError{
		Code:    string(domainErr.Code()),
		Message: domainErr.Message(),
	}

	var statusCode int
	switch domainErr.Code() {
	case auth.EInvalidCredentials, auth.EInvalidToken,
		auth.EChallengeInvalid, auth.EChallengeExpired, auth.EChallengeExhausted:
		statusCode = http.StatusUnauthorized
	case auth.ESessionExpired:
		statusCode = http.StatusUnauthorized
		apiErr.Code = sessionTimeoutCode
	case auth.EForbidden, auth.ESessionForbidden:
		statusCode = http.StatusForbidden
	case auth.ENotFound:
		statusCode = http.StatusNotFound
	case auth.EConflict:
		statusCode = http.StatusConflict
	case auth.ERateLimited:
		statusCode = http.StatusTooManyRequests
		if throttle, ok := domainErr.(auth.ErrRateLimited); ok {
			retryAfter := int(throttle.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			apiErr.RetryAfter = retryAfter
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
	case auth.ELocked:
		statusCode = http.StatusLocked
	case auth.EDependencyUnavailable:
		statusCode = http.StatusServiceUnavailable
	case auth.EDeadlineExceeded:
		statusCode = http.StatusGatewayTimeout
	case auth.EInternal:
		statusCode = http.StatusInternalServerError
	default:
		statusCode = http.StatusBadRequest
	}

	b, err := json.Marshal(Envelope{Error: &apiErr})
	if err != nil {
		internalErrorResponse(w)
		return
	}

	response(w, b, statusCode)
}

func response(w http.ResponseWriter, content []byte, statusCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(content)
}

func internalErrorResponse(w http.ResponseWriter) {
	content := []byte(`{"success":false,"error":{"code":"internal","message":"An internal error occurred"}}`)
	response(w, content, http.StatusInternalServerError)
}
