package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind names an error class independently of its HTTP status.
type ErrorKind string

const (
	KindUnauthorized          ErrorKind = "Unauthorized"
	KindInvalidPayload        ErrorKind = "InvalidPayload"
	KindMissingCorrelationKey ErrorKind = "MissingCorrelationKey"
	KindNotFound              ErrorKind = "NotFound"
	KindForbidden             ErrorKind = "Forbidden"
	KindUnsupportedEventType  ErrorKind = "UnsupportedEventType"
	KindConflict              ErrorKind = "Conflict"
	KindInternal              ErrorKind = "InternalError"
	KindUnavailable           ErrorKind = "ServiceUnavailable"
)

type APIError struct {
	Code    int       `json:"code"`
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Is matches any APIError of the same kind, so a copy carrying details still
// satisfies errors.Is against the predeclared value.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewAPIError(code int, kind ErrorKind, message string) *APIError {
	return &APIError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// WithDetails returns a copy of e carrying details.
func (e *APIError) WithDetails(details string) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *APIError) WithMessage(message string) *APIError {
	cp := *e
	cp.Message = message
	return &cp
}

var (
	ErrUnauthorized          = NewAPIError(http.StatusUnauthorized, KindUnauthorized, "Unauthorized")
	ErrMissingSignature      = NewAPIError(http.StatusUnauthorized, KindUnauthorized, "Missing signature")
	ErrInvalidSignature      = NewAPIError(http.StatusUnauthorized, KindUnauthorized, "Invalid signature")
	ErrInvalidPayload        = NewAPIError(http.StatusUnprocessableEntity, KindInvalidPayload, "Invalid payload")
	ErrMissingCorrelationKey = NewAPIError(http.StatusUnprocessableEntity, KindMissingCorrelationKey, "Missing correlation key")
	ErrNotFound              = NewAPIError(http.StatusNotFound, KindNotFound, "Resource not found")
	ErrForbidden             = NewAPIError(http.StatusForbidden, KindForbidden, "Forbidden")
	ErrUnsupportedEventType  = NewAPIError(http.StatusUnprocessableEntity, KindUnsupportedEventType, "Unsupported event type")
	ErrConflict              = NewAPIError(http.StatusConflict, KindConflict, "Resource conflict")
	ErrInternalServer        = NewAPIError(http.StatusInternalServerError, KindInternal, "Internal server error")
	ErrServiceUnavailable    = NewAPIError(http.StatusServiceUnavailable, KindUnavailable, "Service unavailable")
)

var (
	ErrAuthorizationNotFound = ErrNotFound.WithMessage("Authorization not found")
	ErrSubscriptionNotFound  = ErrNotFound.WithMessage("Subscription not found")
	ErrEventNotFound         = ErrNotFound.WithMessage("Event not found")
	ErrTenantInactive        = ErrForbidden.WithMessage("Tenant is not active")
	ErrIssuerNotAllowed      = ErrForbidden.WithMessage("Issuer not allow-listed")
)

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// AsAPIError finds the APIError in err's chain. Anything else is an internal error.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternalServer
}

func StatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return AsAPIError(err).Code
}

func KindFromError(err error) ErrorKind {
	return AsAPIError(err).Kind
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errorStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"service unavailable",
		"too many connections",
		"deadlock detected",
		"could not serialize access",
	}

	for _, retryableErr := range retryableErrors {
		if strings.Contains(errorStr, retryableErr) {
			return true
		}
	}

	return false
}
