// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider defines how collaborator failures are classified.
// Backends wrap their errors with Transient, Fatal or Parse; the control
// loop decides retry and terminal status from the kind alone.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindTransient covers rate limits, overload and timeouts. Retried.
	KindTransient Kind = iota + 1
	// KindFatal covers authentication, configuration and bad requests.
	KindFatal
	// KindParse means the provider answered with content that is not the
	// expected structured form.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s provider error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s provider error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error { return &Error{Kind: KindTransient, Op: op, Err: err} }

// Fatal wraps err as a non-retryable failure of op.
func Fatal(op string, err error) error { return &Error{Kind: KindFatal, Op: op, Err: err} }

// Parse wraps err as an unparsable response from op.
func Parse(op string, err error) error { return &Error{Kind: KindParse, Op: op, Err: err} }

// KindOf returns the kind of the first classified error in err's chain.
// A deadline exceeded on an unclassified error counts as transient.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient, true
	}
	return 0, false
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransient
}

// FromStatus classifies an unsuccessful HTTP response: 408, 409, 429 and
// 5xx (including Anthropic's 529 overloaded) are transient, everything else
// is fatal.
func FromStatus(op string, status int, body string) error {
	err := fmt.Errorf("HTTP %d: %s", status, body)
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Transient(op, err)
	default:
		return Fatal(op, err)
	}
}
