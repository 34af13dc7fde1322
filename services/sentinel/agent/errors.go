// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorClass partitions every failure the loop can observe. The class rides
// on Observations and on wrapped errors, so both the controller and the HTTP
// layer branch on the same tags.
type ErrorClass string

const (
	// ClassNone marks a successful observation.
	ClassNone ErrorClass = ""

	// ClassValidation tags malformed tool-call arguments, rejected before
	// execution.
	ClassValidation ErrorClass = "validation"

	// ClassProvider tags external service failures (search, reasoning
	// model, embedding). Recoverable by retry or loop continuation.
	ClassProvider ErrorClass = "provider"

	// ClassTimeout tags a bounded wait that was exceeded. Recoverable.
	ClassTimeout ErrorClass = "timeout"

	// ClassSchemaViolation tags a generated query that referenced schema
	// elements outside the allow-list, rejected before execution.
	ClassSchemaViolation ErrorClass = "schema_violation"

	// ClassIterationLimit tags a loop forced into finalization with
	// partial evidence. A degraded success, not a failure.
	ClassIterationLimit ErrorClass = "iteration_limit"

	// ClassSynthesis tags a final report that could not be produced even
	// in degraded form.
	ClassSynthesis ErrorClass = "synthesis"
)

// Sentinel anchors for errors.Is checks. A classified error matches exactly
// the anchor of its class.
var (
	ErrValidation      = errors.New("validation error")
	ErrProvider        = errors.New("provider error")
	ErrTimeout         = errors.New("timeout")
	ErrSchemaViolation = errors.New("schema violation")
	ErrIterationLimit  = errors.New("iteration limit exceeded")
	ErrSynthesis       = errors.New("synthesis error")
)

// ErrAborted marks a session terminated by an abort request rather than
// by a taxonomy failure. Matched with errors.Is.
var ErrAborted = errors.New("session aborted")

// sentinel returns the errors.Is anchor for the class, or nil for ClassNone.
func (c ErrorClass) sentinel() error {
	switch c {
	case ClassValidation:
		return ErrValidation
	case ClassProvider:
		return ErrProvider
	case ClassTimeout:
		return ErrTimeout
	case ClassSchemaViolation:
		return ErrSchemaViolation
	case ClassIterationLimit:
		return ErrIterationLimit
	case ClassSynthesis:
		return ErrSynthesis
	default:
		return nil
	}
}

// ClassError tags an underlying error with its taxonomy class.
//
// Thread Safety: ClassError is immutable and safe for concurrent use.
type ClassError struct {
	// Class is the taxonomy tag.
	Class ErrorClass

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ClassError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *ClassError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel anchor of the error's class, so
// errors.Is(err, ErrTimeout) works across arbitrary wrapping.
func (e *ClassError) Is(target error) bool {
	s := e.Class.sentinel()
	return s != nil && target == s
}

// Classify wraps err with the given taxonomy class. Returns nil for a nil
// err. An error that already carries a class is not re-tagged; the first
// classification wins.
func Classify(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	if ClassOf(err) != ClassNone {
		return err
	}
	return &ClassError{Class: class, Err: err}
}

// classifyf builds a classified error from a format string.
func classifyf(class ErrorClass, format string, args ...any) error {
	return &ClassError{Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the taxonomy class carried by err, or ClassNone when the
// error chain carries no classification.
func ClassOf(err error) ErrorClass {
	var ce *ClassError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassNone
}
