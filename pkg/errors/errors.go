// Package errors provides the structured error taxonomy surfaced by the virtual filesystem.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode identifies a failure class of a virtual filesystem operation.
type ErrorCode string

// Error codes surfaced to callers. Transport details from the metadata service and
// the storage backends are always mapped onto one of these.
const (
	// Caller input
	ErrCodeInvalidPath   ErrorCode = "INVALID_PATH"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Metadata resolution
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Driver selection
	ErrCodeUnknownProvider      ErrorCode = "UNKNOWN_PROVIDER"
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// Backend execution
	ErrCodeTransientBackend ErrorCode = "TRANSIENT_BACKEND"
	ErrCodePermanentBackend ErrorCode = "PERMANENT_BACKEND"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes by the component that raises them.
type ErrorCategory string

const (
	CategoryInput    ErrorCategory = "input"
	CategoryMetadata ErrorCategory = "metadata"
	CategoryDriver   ErrorCategory = "driver"
	CategoryBackend  ErrorCategory = "backend"
	CategoryInternal ErrorCategory = "internal"
)

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrInvalidPath          = &VFSError{Code: ErrCodeInvalidPath}
	ErrInvalidConfig        = &VFSError{Code: ErrCodeInvalidConfig}
	ErrNotFound             = &VFSError{Code: ErrCodeNotFound}
	ErrUnauthorized         = &VFSError{Code: ErrCodeUnauthorized}
	ErrServiceUnavailable   = &VFSError{Code: ErrCodeServiceUnavailable}
	ErrUnknownProvider      = &VFSError{Code: ErrCodeUnknownProvider}
	ErrUnsupportedOperation = &VFSError{Code: ErrCodeUnsupportedOperation}
	ErrTransientBackend     = &VFSError{Code: ErrCodeTransientBackend}
	ErrPermanentBackend     = &VFSError{Code: ErrCodePermanentBackend}
)

// VFSError represents a structured error with context and metadata.
type VFSError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Where the failure happened
	Path      string `json:"path,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Retryable is set for failures a higher layer may safely retry.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *VFSError) Error() string {
	var b strings.Builder
	switch {
	case e.Component != "" && e.Operation != "":
		fmt.Fprintf(&b, "[%s:%s] ", e.Component, e.Operation)
	case e.Component != "":
		fmt.Fprintf(&b, "[%s] ", e.Component)
	case e.Operation != "":
		fmt.Fprintf(&b, "[%s] ", e.Operation)
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Provider != "" {
		fmt.Fprintf(&b, " (provider %s)", e.Provider)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *VFSError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a VFSError with the same code.
func (e *VFSError) Is(target error) bool {
	if t, ok := target.(*VFSError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *VFSError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("Path=%s", e.Path))
	}
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("Provider=%s", e.Provider))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("VFSError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *VFSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *VFSError {
	return &VFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is NewError with a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *VFSError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidPath, ErrCodeInvalidConfig:
		return CategoryInput
	case ErrCodeNotFound, ErrCodeUnauthorized, ErrCodeServiceUnavailable:
		return CategoryMetadata
	case ErrCodeUnknownProvider, ErrCodeUnsupportedOperation:
		return CategoryDriver
	case ErrCodeTransientBackend, ErrCodePermanentBackend:
		return CategoryBackend
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeServiceUnavailable, ErrCodeTransientBackend:
		return true
	}
	return false
}

// WithContext adds contextual information to an error.
func (e *VFSError) WithContext(key, value string) *VFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *VFSError) WithComponent(component string) *VFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *VFSError) WithOperation(operation string) *VFSError {
	e.Operation = operation
	return e
}

// WithPath sets the path the operation was addressed to.
func (e *VFSError) WithPath(path string) *VFSError {
	e.Path = path
	return e
}

// WithProvider sets the backend provider name.
func (e *VFSError) WithProvider(provider string) *VFSError {
	e.Provider = provider
	return e
}

// WithRequestID sets the request id.
func (e *VFSError) WithRequestID(id string) *VFSError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying cause.
func (e *VFSError) WithCause(cause error) *VFSError {
	e.Cause = cause
	return e
}

// InvalidPath reports a malformed virtual path.
func InvalidPath(path, reason string) *VFSError {
	return NewError(ErrCodeInvalidPath, reason).WithPath(path)
}

// NotFound reports a missing metalake, catalog, schema, fileset or file.
func NotFound(what string) *VFSError {
	return Newf(ErrCodeNotFound, "%s does not exist", what)
}

// Unauthorized reports a permission denial by the metadata service.
func Unauthorized(message string) *VFSError {
	return NewError(ErrCodeUnauthorized, message)
}

// ServiceUnavailable reports a metadata transport failure.
func ServiceUnavailable(message string, cause error) *VFSError {
	return NewError(ErrCodeServiceUnavailable, message).WithCause(cause)
}

// UnknownProvider reports a provider name absent from the driver registry.
func UnknownProvider(provider string) *VFSError {
	return Newf(ErrCodeUnknownProvider, "no driver registered for provider %q", provider).WithProvider(provider)
}

// UnsupportedOperation reports an operation the provider's backend cannot perform.
func UnsupportedOperation(operation, provider string) *VFSError {
	return Newf(ErrCodeUnsupportedOperation, "%s is not supported by provider %s", operation, provider).
		WithOperation(operation).
		WithProvider(provider)
}

// TransientBackend wraps a backend failure that is safe to retry at a higher layer.
func TransientBackend(provider string, cause error) *VFSError {
	return NewError(ErrCodeTransientBackend, "backend operation failed").WithProvider(provider).WithCause(cause)
}

// PermanentBackend wraps a backend failure that will not succeed on retry.
func PermanentBackend(provider string, cause error) *VFSError {
	return NewError(ErrCodePermanentBackend, "backend operation failed").WithProvider(provider).WithCause(cause)
}

// CodeOf returns the code of the first VFSError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *VFSError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// As returns the first VFSError in err's chain.
func As(err error) (*VFSError, bool) {
	var e *VFSError
	ok := stderrors.As(err, &e)
	return e, ok
}

// IsRetryable reports whether err carries the Retryable hint.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

func IsInvalidPath(err error) bool          { return CodeOf(err) == ErrCodeInvalidPath }
func IsNotFound(err error) bool             { return CodeOf(err) == ErrCodeNotFound }
func IsUnauthorized(err error) bool         { return CodeOf(err) == ErrCodeUnauthorized }
func IsServiceUnavailable(err error) bool   { return CodeOf(err) == ErrCodeServiceUnavailable }
func IsUnknownProvider(err error) bool      { return CodeOf(err) == ErrCodeUnknownProvider }
func IsUnsupportedOperation(err error) bool { return CodeOf(err) == ErrCodeUnsupportedOperation }
func IsTransientBackend(err error) bool     { return CodeOf(err) == ErrCodeTransientBackend }
func IsPermanentBackend(err error) bool     { return CodeOf(err) == ErrCodePermanentBackend }

// GetRecommendation returns a short hint for fixing the error.
func (e *VFSError) GetRecommendation() string {
	switch e.Code {
	case ErrCodeInvalidPath:
		return "Virtual paths take the form gvfs://fileset/<catalog>/<schema>/<fileset>[/<sub path>]."
	case ErrCodeNotFound:
		return "Verify the metalake, catalog, schema and fileset names."
	case ErrCodeUnauthorized:
		return "Check the configured authentication type and credentials for the metadata service."
	case ErrCodeServiceUnavailable:
		return "The metadata service could not be reached. Check fs.gravitino.server.uri and retry later."
	case ErrCodeUnknownProvider:
		return "Register a driver for the provider or correct the fileset storage location."
	case ErrCodeUnsupportedOperation:
		return "The storage backend of this fileset cannot perform the operation."
	case ErrCodeTransientBackend:
		return "The storage backend failed temporarily. Retrying may succeed."
	case ErrCodePermanentBackend:
		return "The storage backend rejected the operation."
	}
	return "Please check the error message for details."
}
