package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Selection errors
	ErrCodeGroupNotFound       ErrorCode = "GROUP_NOT_FOUND"
	ErrCodeNoActiveDestination ErrorCode = "NO_ACTIVE_DESTINATION"
	ErrCodeAlreadyRouted       ErrorCode = "ALREADY_ROUTED"
	ErrCodeDestinationNotFound ErrorCode = "DESTINATION_NOT_FOUND"
	ErrCodeCallLoadNotFound    ErrorCode = "CALL_LOAD_NOT_FOUND"
	ErrCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"

	// Configuration and reload errors
	ErrCodeReloadInProgress   ErrorCode = "RELOAD_IN_PROGRESS"
	ErrCodeConfigInvalid      ErrorCode = "CONFIG_INVALID"
	ErrCodeInvalidDestination ErrorCode = "INVALID_DESTINATION"

	// Registrar errors
	ErrCodeTooManyContacts ErrorCode = "TOO_MANY_CONTACTS"
	ErrCodeStaleRequest    ErrorCode = "STALE_REQUEST"
	ErrCodeContactInvalid  ErrorCode = "CONTACT_INVALID"
	ErrCodeBindingNotFound ErrorCode = "BINDING_NOT_FOUND"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is comparisons. Matching is done on the code only.
var (
	ErrGroupNotFound       = &DispatchError{Code: ErrCodeGroupNotFound}
	ErrNoActiveDestination = &DispatchError{Code: ErrCodeNoActiveDestination}
	ErrAlreadyRouted       = &DispatchError{Code: ErrCodeAlreadyRouted}
	ErrDestinationNotFound = &DispatchError{Code: ErrCodeDestinationNotFound}
	ErrCallLoadNotFound    = &DispatchError{Code: ErrCodeCallLoadNotFound}
	ErrInvalidRequest      = &DispatchError{Code: ErrCodeInvalidRequest}
	ErrReloadInProgress    = &DispatchError{Code: ErrCodeReloadInProgress}
	ErrConfigInvalid       = &DispatchError{Code: ErrCodeConfigInvalid}
	ErrInvalidDestination  = &DispatchError{Code: ErrCodeInvalidDestination}
	ErrTooManyContacts     = &DispatchError{Code: ErrCodeTooManyContacts}
	ErrStaleRequest        = &DispatchError{Code: ErrCodeStaleRequest}
	ErrContactInvalid      = &DispatchError{Code: ErrCodeContactInvalid}
	ErrBindingNotFound     = &DispatchError{Code: ErrCodeBindingNotFound}
)

// DispatchError represents a structured error with context
type DispatchError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *DispatchError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *DispatchError) Is(target error) bool {
	if t, ok := target.(*DispatchError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *DispatchError) WithMetadata(key string, value interface{}) *DispatchError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable returns true if the error might be resolved by retrying
func (e *DispatchError) IsRetryable() bool {
	return e.Code == ErrCodeReloadInProgress
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *DispatchError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeConfigInvalid, ErrCodeInvalidDestination, ErrCodeContactInvalid, ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeGroupNotFound, ErrCodeDestinationNotFound, ErrCodeBindingNotFound, ErrCodeCallLoadNotFound:
		return http.StatusNotFound
	case ErrCodeReloadInProgress, ErrCodeAlreadyRouted, ErrCodeStaleRequest:
		return http.StatusConflict
	case ErrCodeTooManyContacts:
		return http.StatusForbidden
	case ErrCodeNoActiveDestination:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new DispatchError
func NewError(code ErrorCode, component, message string) *DispatchError {
	return &DispatchError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with DispatchError structure
func WrapError(err error, code ErrorCode, component, message string) *DispatchError {
	if err == nil {
		return nil
	}

	return &DispatchError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// NewGroupNotFoundError creates an error for an unknown destination set
func NewGroupNotFoundError(group int) *DispatchError {
	return NewError(
		ErrCodeGroupNotFound,
		"dispatcher",
		fmt.Sprintf("destination set [%d] not found", group),
	).WithMetadata("group", group)
}

// NewNoActiveDestinationError creates an error when every candidate is skipped
func NewNoActiveDestinationError(group int) *DispatchError {
	return NewError(
		ErrCodeNoActiveDestination,
		"dispatcher",
		fmt.Sprintf("no active destination in set [%d]", group),
	).WithMetadata("group", group)
}

// NewDestinationNotFoundError creates an error for an unknown destination address
func NewDestinationNotFoundError(group int, uri string) *DispatchError {
	return NewError(
		ErrCodeDestinationNotFound,
		"dispatcher",
		fmt.Sprintf("destination address [%d : %s] not found", group, uri),
	).WithMetadata("group", group).WithMetadata("uri", uri)
}

// NewInvalidDestinationError creates a configuration error for one destination row
func NewInvalidDestinationError(uri, reason string) *DispatchError {
	return NewError(
		ErrCodeInvalidDestination,
		"reload",
		fmt.Sprintf("invalid destination %q: %s", uri, reason),
	).WithMetadata("uri", uri)
}

// NewTooManyContactsError creates an admission control error
func NewTooManyContactsError(aor string, max int) *DispatchError {
	return NewError(
		ErrCodeTooManyContacts,
		"registrar",
		fmt.Sprintf("too many contacts for AOR %s (max %d)", aor, max),
	).WithMetadata("aor", aor).WithMetadata("max_contacts", max)
}

// NewStaleRequestError creates an ordering error for an out of order CSeq
func NewStaleRequestError(aor, callID string, cseq, stored uint32) *DispatchError {
	return NewError(
		ErrCodeStaleRequest,
		"registrar",
		fmt.Sprintf("stale CSeq %d for call-id %s (stored %d)", cseq, callID, stored),
	).WithMetadata("aor", aor).WithMetadata("call_id", callID)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.IsRetryable()
	}
	return false
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// AsDispatchError returns the first DispatchError in err's chain
func AsDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
