package storage

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/poiesic/folio/core"
)

func marshal[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil %T", ErrSerializationFailed, v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func unmarshal[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrSerializationFailed)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) ([]byte, error) { return marshal(doc) }

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) { return unmarshal[core.Document](data) }

// MarshalPage serializes a Page to bytes.
func MarshalPage(page *core.Page) ([]byte, error) { return marshal(page) }

// UnmarshalPage deserializes a Page from bytes.
func UnmarshalPage(data []byte) (*core.Page, error) { return unmarshal[core.Page](data) }

// MarshalParent serializes a ParentChunk to bytes.
func MarshalParent(parent *core.ParentChunk) ([]byte, error) { return marshal(parent) }

// UnmarshalParent deserializes a ParentChunk from bytes.
func UnmarshalParent(data []byte) (*core.ParentChunk, error) { return unmarshal[core.ParentChunk](data) }

// MarshalChild serializes a ChildChunk to bytes.
func MarshalChild(child *core.ChildChunk) ([]byte, error) { return marshal(child) }

// UnmarshalChild deserializes a ChildChunk from bytes.
func UnmarshalChild(data []byte) (*core.ChildChunk, error) { return unmarshal[core.ChildChunk](data) }

// MarshalTurn serializes a session Turn to bytes.
func MarshalTurn(turn *core.Turn) ([]byte, error) { return marshal(turn) }

// UnmarshalTurn deserializes a session Turn from bytes.
func UnmarshalTurn(data []byte) (*core.Turn, error) { return unmarshal[core.Turn](data) }

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) ([]byte, error) { return marshal(checkpoint) }

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	return unmarshal[core.Checkpoint](data)
}
