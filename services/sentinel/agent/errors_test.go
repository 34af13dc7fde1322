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
	"testing"
)

func TestClassifyTagsErrors(t *testing.T) {
	tests := []struct {
		name     string
		class    ErrorClass
		sentinel error
	}{
		{"validation", ClassValidation, ErrValidation},
		{"provider", ClassProvider, ErrProvider},
		{"timeout", ClassTimeout, ErrTimeout},
		{"schema_violation", ClassSchemaViolation, ErrSchemaViolation},
		{"iteration_limit", ClassIterationLimit, ErrIterationLimit},
		{"synthesis", ClassSynthesis, ErrSynthesis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.class, errors.New("boom"))
			if got := ClassOf(err); got != tt.class {
				t.Errorf("ClassOf() = %q, want %q", got, tt.class)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(err, sentinel) = false, want true")
			}
		})
	}
}

func TestClassifyNilReturnsNil(t *testing.T) {
	if err := Classify(ClassProvider, nil); err != nil {
		t.Fatalf("Classify(nil) = %v, want nil", err)
	}
}

func TestClassifyFirstClassificationWins(t *testing.T) {
	inner := classifyf(ClassValidation, "bad argument")
	outer := Classify(ClassProvider, fmt.Errorf("dispatching: %w", inner))

	if got := ClassOf(outer); got != ClassValidation {
		t.Errorf("ClassOf() = %q, want %q", got, ClassValidation)
	}
	if !errors.Is(outer, ErrValidation) {
		t.Error("errors.Is(outer, ErrValidation) = false, want true")
	}
	if errors.Is(outer, ErrProvider) {
		t.Error("errors.Is(outer, ErrProvider) = true, want false")
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	err := classifyf(ClassTimeout, "tool took too long")
	wrapped := fmt.Errorf("session xyz: %w", fmt.Errorf("dispatch: %w", err))

	if got := ClassOf(wrapped); got != ClassTimeout {
		t.Errorf("ClassOf(wrapped) = %q, want %q", got, ClassTimeout)
	}
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("errors.Is(wrapped, ErrTimeout) = false, want true")
	}
}

func TestClassErrorDoesNotMatchOtherSentinels(t *testing.T) {
	err := classifyf(ClassSchemaViolation, "forbidden table")

	others := []error{ErrValidation, ErrProvider, ErrTimeout, ErrIterationLimit, ErrSynthesis}
	for _, s := range others {
		if errors.Is(err, s) {
			t.Errorf("errors.Is(err, %v) = true, want false", s)
		}
	}
}

func TestClassErrorMessageCarriesClassAndCause(t *testing.T) {
	err := Classify(ClassProvider, errors.New("connection refused"))
	want := "provider: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestClassOfUnclassified(t *testing.T) {
	if got := ClassOf(errors.New("plain")); got != ClassNone {
		t.Errorf("ClassOf(plain) = %q, want ClassNone", got)
	}
	if got := ClassOf(nil); got != ClassNone {
		t.Errorf("ClassOf(nil) = %q, want ClassNone", got)
	}
}

func TestErrAbortedIsNotClassified(t *testing.T) {
	err := fmt.Errorf("session abc: %w", ErrAborted)
	if !errors.Is(err, ErrAborted) {
		t.Error("errors.Is(err, ErrAborted) = false, want true")
	}
	if got := ClassOf(err); got != ClassNone {
		t.Errorf("ClassOf(aborted) = %q, want ClassNone", got)
	}
}
