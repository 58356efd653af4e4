package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &EmbeddingError{Kind: EmbeddingRateLimited}, true},
		{"unavailable", &EmbeddingError{Kind: EmbeddingUnavailable}, true},
		{"invalid input", &EmbeddingError{Kind: EmbeddingInvalidInput}, false},
		{"wrapped rate limited", fmt.Errorf("embed page: %w", &EmbeddingError{Kind: EmbeddingRateLimited}), true},
		{"store transient", &StoreError{Kind: StoreTransient, Op: "upsert"}, true},
		{"store conflict", &StoreError{Kind: StoreConflict, Op: "mark"}, false},
		{"extraction", &ExtractionError{Reason: "empty"}, false},
		{"not ready", &NotReadyError{Tenant: "acme"}, false},
		{"deadline", context.DeadlineExceeded, false},
		{"unknown", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	for _, err := range []error{
		&ExtractionError{Err: cause},
		&EmbeddingError{Kind: EmbeddingInvalidInput, Err: cause},
		&StoreError{Kind: StoreTransient, Err: cause},
		&GenerationError{Err: cause},
		&DispatchError{Err: cause},
	} {
		if !errors.Is(err, cause) {
			t.Errorf("%T does not unwrap to its cause", err)
		}
	}
}

func TestIsNotReady(t *testing.T) {
	if !IsNotReady(fmt.Errorf("query: %w", &NotReadyError{Tenant: "acme"})) {
		t.Error("wrapped NotReadyError not detected")
	}
	if IsNotReady(errors.New("other")) {
		t.Error("plain error detected as NotReadyError")
	}
}
