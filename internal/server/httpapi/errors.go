package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/hostauth/internal/common"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeTooLarge     = "payload_too_large"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

// Client-visible messages.
const (
	MsgInvalidCredentials = "Invalid username or password"
	MsgInvalidRefresh     = "Invalid or expired refresh token"
	MsgLoggedOut          = "Logged out successfully"
	MsgMissingBearer      = "Missing or malformed authorization header"
	MsgInvalidAccess      = "Invalid or expired access token"
	MsgInsufficientRole   = "Insufficient role for this operation"
	MsgInvalidBody        = "Invalid request body"
	MsgInternal           = "internal server error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, MsgInternal)
}

// writeServiceError maps a service error to its response. missing is the
// 400 message used for common.ErrMissingInput.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, missing string) {
	switch {
	case errors.Is(err, common.ErrMissingInput):
		writeBadRequest(w, missing)
	case errors.Is(err, common.ErrInvalidCredentials):
		writeUnauthorized(w, MsgInvalidCredentials)
	case errors.Is(err, common.ErrInvalidOrExpiredToken):
		writeUnauthorized(w, MsgInvalidRefresh)
	case errors.Is(err, common.ErrorUnauthorized):
		writeUnauthorized(w, MsgInvalidAccess)
	case errors.Is(err, common.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, MsgInsufficientRole)
	case errors.Is(err, common.ErrAlreadyExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "Username is already taken")
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Not found")
	default:
		s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeInternalError(w)
	}
}

// decodeBody reads a JSON request body into v, answering 400/413 itself on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "Request body too large")
			return false
		}
		writeBadRequest(w, MsgInvalidBody)
		return false
	}
	return true
}
