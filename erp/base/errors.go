// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package base

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the normalized classification of a remote failure. It is the
// single source of truth consumed by both the retry policy and callers.
type Kind int

const (
	// KindUnknown covers transport failures and unclassified status codes.
	KindUnknown Kind = iota
	// KindAuth is an authentication failure (401).
	KindAuth
	// KindNotFound is a missing remote record (404).
	KindNotFound
	// KindConflict is a remote state conflict (409).
	KindConflict
	// KindRateLimited means the remote system is throttling us (429).
	KindRateLimited
	// KindValidation is a rejected payload (400, 422).
	KindValidation
)

// String returns the caller-facing name of the error kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the typed error every failure crossing the core boundary is
// reclassified into. Message must already be redacted by the producer.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error. The message is assumed redacted.
func NewError(kind Kind, statusCode int, message string, cause error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Message: message, Cause: cause}
}

// Classify maps an HTTP status code to its error kind.
func Classify(statusCode int) Kind {
	switch statusCode {
	case 401:
		return KindAuth
	case 404:
		return KindNotFound
	case 409:
		return KindConflict
	case 429:
		return KindRateLimited
	case 400, 422:
		return KindValidation
	default:
		return KindUnknown
	}
}

// ClassifyTransport wraps a transport-level failure. Context cancellation
// is not reclassified: it is the caller's own deadline, not a remote fault.
func ClassifyTransport(err error, message string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewError(KindUnknown, 0, message, err)
}

// Transient reports whether the failure may succeed on retry: rate limits,
// 5xx responses and network timeouts. Everything else is permanent.
func (e *Error) Transient() bool {
	if e.Kind == KindRateLimited {
		return true
	}
	if e.Kind != KindUnknown {
		return false
	}
	if e.StatusCode >= 500 {
		return true
	}
	var netErr net.Error
	if errors.As(e.Cause, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsTransient reports whether err is a classified transient failure.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Transient()
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}
