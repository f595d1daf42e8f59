// Package shared contains the error taxonomy used across the teaching
// assistant. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds that can be used for error checking with errors.Is().
var (
	// ErrConfiguration: a required setting (API key, output dir, store id) is absent or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrTemplate: a prompt template is missing, unreadable, malformed, or references an unknown field.
	ErrTemplate = errors.New("template error")

	// ErrCredential: the text generation endpoint rejected the credentials.
	ErrCredential = errors.New("credential error")

	// ErrTransientQuota: the endpoint reported a quota or rate limit on a single call.
	ErrTransientQuota = errors.New("quota exceeded")

	// ErrQuotaExhausted: every retry of a quota failure was used up.
	ErrQuotaExhausted = errors.New("quota retries exhausted")

	// ErrStoreUnavailable: the roster store could not be reached or read.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrGenericFailure: any other failure of an external call or a write.
	ErrGenericFailure = errors.New("generation failed")

	// Lookup and validation
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "generation", "gemini", "roster"
	Op      string // Operation that failed, e.g., "Generate", "ReadAll"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// UserMessage returns the human-readable part of err. For a DomainError this
// is its Message, followed by the underlying cause when there is one.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		if de.Err != nil {
			return fmt.Sprintf("%s: %v", de.Message, de.Err)
		}
		return de.Message
	}
	return err.Error()
}

// KindOf returns the first base kind err matches, or ErrGenericFailure.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrConfiguration,
		ErrTemplate,
		ErrCredential,
		ErrQuotaExhausted,
		ErrTransientQuota,
		ErrStoreUnavailable,
		ErrNotFound,
		ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrGenericFailure
}
