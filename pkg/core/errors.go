package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error carried across the gateway/SDK boundary.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"

	// ErrStreamTimeout means an upstream stream produced no data within the
	// configured idle window. Always surfaced, never silently swallowed.
	ErrStreamTimeout ErrorType = "stream_timeout_error"

	// ErrStreamInterrupted means a newer request for the same identity
	// preempted this one. Resolved silently, never shown to users.
	ErrStreamInterrupted ErrorType = "stream_interrupted"

	// ErrNoTranscript means speech-to-text produced nothing usable from the
	// submitted audio. A recoverable input error, not an upstream failure.
	ErrNoTranscript ErrorType = "no_transcript_error"

	ErrProvider ErrorType = "provider_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewStreamTimeoutError creates a stream timeout error.
func NewStreamTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrStreamTimeout,
		Message: message,
	}
}

// NewStreamInterruptedError marks a stream as preempted by a newer request.
func NewStreamInterruptedError() *Error {
	return &Error{
		Type:    ErrStreamInterrupted,
		Message: "superseded by a newer request",
	}
}

// NewNoTranscriptError creates a no-transcript error.
func NewNoTranscriptError() *Error {
	return &Error{
		Type:    ErrNoTranscript,
		Message: "no usable speech detected in audio",
	}
}

// NewProviderError creates a provider-specific error.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:    ErrProvider,
		Message: fmt.Sprintf("%s: %v", provider, underlying),
	}
}

// IsInterruption reports whether err is a silent self-cancellation.
// Interruptions are the one error category deliberately invisible to users.
func IsInterruption(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrStreamInterrupted
}

// IsStreamTimeout reports whether err is an upstream idle timeout.
func IsStreamTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrStreamTimeout
}

// IsUnauthorized reports whether err means upstream rejected credentials.
// These trigger session invalidation and are never retried.
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrAuthentication
}
