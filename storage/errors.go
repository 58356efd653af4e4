package storage

import "errors"

// Lookup and lifecycle errors.
var (
	ErrNotFound      = errors.New("storage: not found")
	ErrStorageClosed = errors.New("storage: closed")
)

// Argument and encoding errors. Callers should not retry these.
var (
	ErrInvalidQuery        = errors.New("storage: invalid arguments")
	ErrSerializationFailed = errors.New("storage: codec failure")

	// ErrOrphanChild is returned when a child's ParentId or tenant does not match the parent being written.
	ErrOrphanChild = errors.New("storage: child does not belong to parent")

	// ErrDimensionMismatch is returned when a vector's length differs from the rest of the tenant's vectors.
	ErrDimensionMismatch = errors.New("storage: vector dimension mismatch")
)
