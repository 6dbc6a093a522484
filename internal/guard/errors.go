package guard

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/org/notaryadmin/internal/auth"
	"github.com/org/notaryadmin/internal/policy"
	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/internal/storage"
)

var (
	ErrCSRFInvalid       = errors.New("invalid CSRF token")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrAccessDenied covers role mismatches and out-of-scope resources.
	ErrAccessDenied = errors.New("access denied")
)

// Stable error codes returned to API clients.
const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodePermissionDenied       = "PERMISSION_DENIED"
	CodeCSRFInvalid            = "CSRF_TOKEN_INVALID"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeAccessDenied           = "ACCESS_DENIED"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeAccountLocked          = "ACCOUNT_LOCKED"
	CodeLicenseInactive        = "LICENSE_INACTIVE"
	CodeLicenseExpired         = "LICENSE_EXPIRED"
	CodeUnknownResourceType    = "UNKNOWN_RESOURCE_TYPE"
	CodeWeakPassword           = "WEAK_PASSWORD"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeInternal               = "INTERNAL_ERROR"
)

// Envelope is the JSON body of every API error.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// Classify maps an error onto its HTTP status, stable code and user-facing
// message. Unrecognised errors are internal and carry a generic message.
func Classify(err error) (int, string, string) {
	var perr *auth.PolicyError
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusUnauthorized, CodeAuthenticationRequired, "Your session has expired. Please log in again."
	case errors.Is(err, session.ErrAuthenticationRequired):
		return http.StatusUnauthorized, CodeAuthenticationRequired, "Please log in to continue."
	case errors.Is(err, policy.ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied, "You do not have permission to perform this action."
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden, CodeAccessDenied, "You do not have access to this resource."
	case errors.Is(err, ErrCSRFInvalid):
		return http.StatusForbidden, CodeCSRFInvalid, "Invalid security token. Please reload the page and try again."
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests, CodeRateLimitExceeded, "Too many requests. Please try again later."
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials, "Invalid username or password."
	case errors.Is(err, auth.ErrAccountLocked):
		return http.StatusForbidden, CodeAccountLocked, "Too many failed login attempts. Please try again later."
	case errors.Is(err, auth.ErrLicenseInactive):
		return http.StatusForbidden, CodeLicenseInactive, "Your notary license is not active."
	case errors.Is(err, auth.ErrLicenseExpired):
		return http.StatusForbidden, CodeLicenseExpired, "Your notary license has expired."
	case errors.Is(err, policy.ErrUnknownResourceType):
		return http.StatusBadRequest, CodeUnknownResourceType, "Unknown resource type."
	case errors.As(err, &perr):
		return http.StatusBadRequest, CodeWeakPassword, perr.Message
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "Not found."
	}
	return http.StatusInternalServerError, CodeInternal, "An error occurred."
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// WriteError writes the JSON envelope for err.
func WriteError(w http.ResponseWriter, err error) {
	status, code, msg := Classify(err)
	WriteJSON(w, status, Envelope{Success: false, Message: msg, ErrorCode: code})
}
