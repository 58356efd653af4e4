package ingestion

import "errors"

var (
	// ErrStoreRequired is returned when a document store is not provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrPublisherRequired is returned when a task publisher is not provided.
	ErrPublisherRequired = errors.New("task publisher required")

	// ErrPageCounterRequired is returned when a page counter is not provided.
	ErrPageCounterRequired = errors.New("page counter required")

	// ErrPageSourceRequired is returned when a page source is not provided.
	ErrPageSourceRequired = errors.New("page source required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrUnknownDocument is returned for a page task whose document was never dispatched.
	ErrUnknownDocument = errors.New("page task references unknown document")

	// ErrUnsupportedFormat is returned when no page source handles a file type.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)
