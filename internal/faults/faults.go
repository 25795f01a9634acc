package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used across the engine. Callers classify failures with
// errors.Is against these rather than inspecting message text.
var (
	// ErrElementNotFound indicates the element waiter timed out before the
	// requested selector appeared in the observed page.
	ErrElementNotFound = errors.New("element not found")
	// ErrTimeout indicates a remote call exceeded its cancellation deadline.
	ErrTimeout = errors.New("timeout")
	// ErrNetwork indicates a transport-level failure before a response arrived.
	ErrNetwork = errors.New("network error")
	// ErrMalformedResponse indicates a response arrived but could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrValidation indicates incomplete or out-of-range metadata.
	ErrValidation = errors.New("validation error")
	// ErrToSViolation indicates a duplicate, non-authentic fingerprint.
	ErrToSViolation = errors.New("terms of service violation")
	// ErrPersistence indicates a remote write failed after its retry.
	ErrPersistence = errors.New("persistence error")
	// ErrNotConfigured indicates an optional collaborator was not wired in.
	ErrNotConfigured = errors.New("not configured")
	// ErrStaleEpoch indicates an async completion arrived for a page the user
	// has since navigated away from.
	ErrStaleEpoch = errors.New("stale page epoch")
)

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Terminal reports whether err should propagate to the top-level state
// machine instead of being retried locally.
func Terminal(err error) bool {
	return errors.Is(err, ErrToSViolation) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotConfigured)
}

// Degraded reports whether err represents an unreachable enforcement check,
// the condition under which the duplicate policy fails open.
func Degraded(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "engine failure"
	}
	return strings.Join(parts, ": ")
}
