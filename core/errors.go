// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"context"
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidID indicates an ID string could not be parsed.
	ErrInvalidID = errors.New("invalid id")

	// ErrInvalidTenant indicates a missing or malformed tenant.
	ErrInvalidTenant = errors.New("invalid tenant")

	// ErrInvalidNotification indicates an upload notification failed validation.
	ErrInvalidNotification = errors.New("invalid upload notification")

	// ErrInvalidPageTask indicates a page task failed validation.
	ErrInvalidPageTask = errors.New("invalid page task")

	// ErrInvalidSession indicates a malformed session id.
	ErrInvalidSession = errors.New("invalid session id")

	// ErrInvalidTurn indicates a session turn failed validation.
	ErrInvalidTurn = errors.New("invalid session turn")

	// ErrEmptyContent indicates text content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")
)

// ExtractionError means page text could not be obtained or split.
// It is terminal for the page.
type ExtractionError struct {
	DocumentId ID
	Page       int
	Reason     string
	Err        error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction failed for document %s page %d: %s", e.DocumentId, e.Page, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingErrorKind classifies embedding failures.
type EmbeddingErrorKind int

const (
	// EmbeddingRateLimited is retryable with backoff.
	EmbeddingRateLimited EmbeddingErrorKind = iota + 1
	// EmbeddingInvalidInput is terminal.
	EmbeddingInvalidInput
	// EmbeddingUnavailable covers transport failures and server errors. Retryable.
	EmbeddingUnavailable
)

func (k EmbeddingErrorKind) String() string {
	switch k {
	case EmbeddingRateLimited:
		return "RATE_LIMITED"
	case EmbeddingInvalidInput:
		return "INVALID_INPUT"
	case EmbeddingUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// EmbeddingError is returned by embedders.
type EmbeddingError struct {
	Kind EmbeddingErrorKind
	Err  error
}

func (e *EmbeddingError) Error() string {
	if e.Err == nil {
		return "embedding " + e.Kind.String()
	}
	return "embedding " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreErrorKind classifies storage failures.
type StoreErrorKind int

const (
	// StoreTransient is retryable.
	StoreTransient StoreErrorKind = iota + 1
	// StoreConflict is terminal: the write contradicts stored state.
	StoreConflict
)

func (k StoreErrorKind) String() string {
	switch k {
	case StoreTransient:
		return "TRANSIENT"
	case StoreConflict:
		return "CONFLICT"
	default:
		return "UNKNOWN"
	}
}

// StoreError is returned by document store operations.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	msg := "store " + e.Kind.String() + " during " + e.Op
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotReadyError means the tenant has nothing indexed yet. It is an expected state, not a fault.
type NotReadyError struct {
	Tenant TenantID
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("tenant %q has no indexed content", e.Tenant)
}

// GenerationError wraps a failed generation call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// DispatchError is terminal for an upload. The document is marked FAILED.
type DispatchError struct {
	StoragePath string
	Reason      string
	Err         error
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("dispatch of %s failed: %s", e.StoragePath, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying with the same input.
// Unknown errors are treated as terminal so they cannot loop forever.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return embErr.Kind == EmbeddingRateLimited || embErr.Kind == EmbeddingUnavailable
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Kind == StoreTransient
	}
	return false
}

// IsNotReady reports whether err is a NotReadyError.
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}
