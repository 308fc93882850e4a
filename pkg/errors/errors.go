// Package errors provides structured error handling for Grantly
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/grantly/grantly/pkg/types"
)

// ErrorType classifies errors into broad families
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeInternal       ErrorType = "internal"
)

// ErrorCode represents specific error codes. The A-prefixed codes are the
// machine-readable tokens of the REST API response contract and must stay
// stable for existing API consumers.
type ErrorCode string

const (
	// Credential & session errors
	ErrCodeCredentialNotFound ErrorCode = "CREDENTIAL_NOT_FOUND"
	ErrCodeCredentialMismatch ErrorCode = "CREDENTIAL_MISMATCH"
	ErrCodeAccountInactive    ErrorCode = "ACCOUNT_INACTIVE"
	ErrCodeAccessDenied       ErrorCode = "ACCESS_DENIED"

	// API authentication errors
	ErrCodeAPIEndpoint         ErrorCode = "A400"
	ErrCodeAPINotImplemented   ErrorCode = "A400A"
	ErrCodeAPIMethodMissing    ErrorCode = "A401A"
	ErrCodeAPIMethodNotFound   ErrorCode = "A401B"
	ErrCodeAPIKeyNotFound      ErrorCode = "A402"
	ErrCodeSignatureMissing    ErrorCode = "A403"
	ErrCodeAccountSuspended    ErrorCode = "A404"
	ErrCodeSecretNotConfigured ErrorCode = "A405"
	ErrCodeIPNotAllowed        ErrorCode = "A406"
	ErrCodeHeaderMismatch      ErrorCode = "A407"
	ErrCodeProtocolNotAllowed  ErrorCode = "A407A"
	ErrCodeSignatureInvalid    ErrorCode = "A408"

	// Configuration errors
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"

	// System errors
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeStoreFailure  ErrorCode = "STORE_FAILURE"
	ErrCodeCacheFailure  ErrorCode = "CACHE_FAILURE"
	ErrCodeNotifyFailure ErrorCode = "NOTIFY_FAILURE"
)

// GrantlyError represents a structured error in Grantly
type GrantlyError struct {
	Type       ErrorType              `json:"type"`
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"stack_trace,omitempty"`
}

// Error implements the error interface
func (e *GrantlyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *GrantlyError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *GrantlyError) WithDetail(key string, value interface{}) *GrantlyError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStackTrace adds a stack trace to the error
func (e *GrantlyError) WithStackTrace() *GrantlyError {
	e.StackTrace = getStackTrace()
	return e
}

// New creates a new Grantly error
func New(errType ErrorType, code ErrorCode, message string) *GrantlyError {
	return &GrantlyError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// NewWithCause creates a new Grantly error wrapping a cause
func NewWithCause(errType ErrorType, code ErrorCode, message string, cause error) *GrantlyError {
	return &GrantlyError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Credential & session error constructors

func NewCredentialNotFoundError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeCredentialNotFound, "no account matches the supplied credentials")
}

func NewCredentialMismatchError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeCredentialMismatch, "credentials do not match")
}

// NewAccountInactiveError carries the raw account status so callers can show
// a message distinct from a wrong-password failure.
func NewAccountInactiveError(status types.UserStatus) *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeAccountInactive, "account is not active").
		WithDetail("status", int(status))
}

func NewAccessDeniedError(action string) *GrantlyError {
	return New(ErrorTypeAuthorization, ErrCodeAccessDenied,
		fmt.Sprintf("access denied for %s", action)).WithDetail("action", action)
}

// API authentication error constructors

func NewAPIKeyNotFoundError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeAPIKeyNotFound, "api key not found")
}

func NewSignatureMissingError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeSignatureMissing, "api signature not found")
}

func NewAccountSuspendedError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeAccountSuspended, "your api account got suspended")
}

func NewSecretNotConfiguredError() *GrantlyError {
	return New(ErrorTypeConfiguration, ErrCodeSecretNotConfigured, "api secret not found")
}

func NewIPNotAllowedError(ip string) *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeIPNotAllowed,
		fmt.Sprintf("request is not allowed from this ip %s", ip)).WithDetail("ip", ip)
}

func NewHeaderMismatchError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeHeaderMismatch, "header misconfigured")
}

func NewProtocolNotAllowedError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeProtocolNotAllowed, "protocol not allowed")
}

func NewSignatureInvalidError() *GrantlyError {
	return New(ErrorTypeAuthentication, ErrCodeSignatureInvalid, "api signature not equal")
}

func NewAPIMethodMissingError() *GrantlyError {
	return New(ErrorTypeValidation, ErrCodeAPIMethodMissing, "method not implemented")
}

func NewAPIMethodNotFoundError() *GrantlyError {
	return New(ErrorTypeValidation, ErrCodeAPIMethodNotFound, "method not found")
}

// Configuration error constructors

func NewConfigInvalidError(message string) *GrantlyError {
	return New(ErrorTypeConfiguration, ErrCodeConfigInvalid, message)
}

// System error constructors

func NewInternalError(message string) *GrantlyError {
	return New(ErrorTypeInternal, ErrCodeInternal, message)
}

func NewStoreError(message string, cause error) *GrantlyError {
	return NewWithCause(ErrorTypeInternal, ErrCodeStoreFailure, message, cause)
}

// Predicates

// IsAuthenticationError reports whether err is an expected authentication
// outcome rather than a system failure
func IsAuthenticationError(err error) bool {
	var ge *GrantlyError
	if errors.As(err, &ge) {
		return ge.Type == ErrorTypeAuthentication
	}
	return false
}

// IsAccessDenied reports whether err is an authorization denial
func IsAccessDenied(err error) bool {
	return HasCode(err, ErrCodeAccessDenied)
}

// IsAccountInactive reports whether err carries the inactive-account outcome
func IsAccountInactive(err error) bool {
	return HasCode(err, ErrCodeAccountInactive)
}

// HasCode reports whether err (or anything it wraps) carries the given code
func HasCode(err error, code ErrorCode) bool {
	var ge *GrantlyError
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

// Code extracts the error code, or ErrCodeInternal for foreign errors
func Code(err error) ErrorCode {
	var ge *GrantlyError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error code to the HTTP status of the legacy API
// response contract. Unknown codes map to 404 as the legacy surface did.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeAPIKeyNotFound, ErrCodeSignatureMissing, ErrCodeAccountSuspended,
		ErrCodeSecretNotConfigured, ErrCodeIPNotAllowed, ErrCodeHeaderMismatch,
		ErrCodeProtocolNotAllowed, ErrCodeSignatureInvalid:
		return http.StatusUnauthorized
	case ErrCodeAPIEndpoint, ErrCodeAPINotImplemented, ErrCodeAPIMethodMissing,
		ErrCodeAPIMethodNotFound:
		return http.StatusBadRequest
	case ErrCodeCredentialNotFound, ErrCodeCredentialMismatch, ErrCodeAccountInactive:
		return http.StatusUnauthorized
	case ErrCodeAccessDenied:
		return http.StatusForbidden
	case ErrCodeInternal, ErrCodeStoreFailure, ErrCodeCacheFailure, ErrCodeNotifyFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusNotFound
	}
}

// getStackTrace captures the current stack trace
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	lines := strings.Split(string(buf[:n]), "\n")

	// Skip the first few frames that belong to this package
	if len(lines) > 5 {
		lines = lines[5:]
	}
	return strings.Join(lines, "\n")
}
