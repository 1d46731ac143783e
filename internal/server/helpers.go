package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kylekaufman/papertrade/internal/models"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// errorMapping pairs a sentinel with its HTTP status and machine code.
// Order matters: the first match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{context.Canceled, 499, "cancelled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{models.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{models.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{models.ErrInsufficientShares, http.StatusUnprocessableEntity, "insufficient_shares"},
	{models.ErrNoSuchHolding, http.StatusNotFound, "no_such_holding"},
	{models.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{models.ErrNotGuestAccount, http.StatusConflict, "not_guest_account"},
	{models.ErrAuthExpired, http.StatusUnauthorized, "auth_expired"},
	{models.ErrTokenNotFound, http.StatusUnauthorized, "token_not_found"},
	{models.ErrUsernameExists, http.StatusConflict, "username_exists"},
	{models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{models.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{models.ErrUserNotConfirmed, http.StatusForbidden, "user_not_confirmed"},
	{models.ErrNetwork, http.StatusBadGateway, "network_error"},
	{models.ErrInvalidResponse, http.StatusBadGateway, "invalid_response"},
	{models.ErrPersistence, http.StatusInternalServerError, "persistence_error"},
}

// ErrorStatus maps a service error to an HTTP status and machine code.
// Unrecognized errors are 500 "internal_error".
func ErrorStatus(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// WriteServiceError writes err with the status and code from ErrorStatus.
func WriteServiceError(w http.ResponseWriter, err error) {
	status, code := ErrorStatus(err)
	WriteErrorWithCode(w, status, err.Error(), code)
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody {
		WriteErrorWithCode(w, http.StatusBadRequest, "Request body is required", "invalid_request")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "invalid_request")
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path.
// For /api/history/{ticker}, PathParam(r, "/api/history/", "") returns {ticker}.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
