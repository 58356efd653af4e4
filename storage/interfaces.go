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


package storage

import (
	"context"

	"github.com/poiesic/folio/core"
)

// DocumentRepository manages documents, their pages and completion counters.
// Every method is scoped to a tenant; implementations reject an invalid tenant.
type DocumentRepository interface {
	// UpsertDocument creates the document or merges into an existing one.
	// Counters already recorded in storage are never lowered by a merge.
	UpsertDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument returns ErrNotFound if the document does not exist.
	GetDocument(ctx context.Context, tenant core.TenantID, id core.ID) (*core.Document, error)

	// SetDispatchState advances the dispatcher state. Moving backwards is a no-op.
	SetDispatchState(ctx context.Context, tenant core.TenantID, id core.ID, state core.DispatchState) error

	// MarkDocumentFailed moves the document to FAILED with a reason.
	MarkDocumentFailed(ctx context.Context, tenant core.TenantID, id core.ID, reason string) error

	// UpsertPages writes page stubs. Pages that already exist keep their status.
	UpsertPages(ctx context.Context, pages ...*core.Page) error

	// GetPage returns ErrNotFound if the page does not exist.
	GetPage(ctx context.Context, tenant core.TenantID, documentID core.ID, page int) (*core.Page, error)

	// RecordPageAttempt increments the attempt counter of a page.
	RecordPageAttempt(ctx context.Context, tenant core.TenantID, documentID core.ID, page int) (int, error)

	// MarkPageComplete atomically marks the page complete and increments
	// pages_completed once per page. Repeated calls return the current
	// state with Applied set to false.
	MarkPageComplete(ctx context.Context, tenant core.TenantID, documentID core.ID, page int) (core.Completion, error)

	// MarkPageFailed atomically marks the page terminally failed.
	MarkPageFailed(ctx context.Context, tenant core.TenantID, documentID core.ID, page int, reason string) (core.Completion, error)
}

// ChunkRepository stores parent and child chunks and answers vector queries.
type ChunkRepository interface {
	// UpsertParentAndChildren writes a parent and its children in one write.
	// Children whose parent id differs from parent.Id are rejected.
	// Children previously stored for the parent beyond the new set are removed.
	UpsertParentAndChildren(ctx context.Context, parent *core.ParentChunk, children []*core.ChildChunk) error

	// NearestChildren returns up to k children ranked by ascending cosine distance.
	// Returns *core.NotReadyError if the tenant has no indexed vectors.
	NearestChildren(ctx context.Context, tenant core.TenantID, vector []float32, k int) ([]core.ChildMatch, error)

	// ResolveParents batch-fetches parents; ids that do not exist are returned in missing.
	ResolveParents(ctx context.Context, tenant core.TenantID, ids []core.ID) (found []*core.ParentChunk, missing []core.ID, err error)

	// GetChildren returns the stored children of a parent ordered by span index.
	GetChildren(ctx context.Context, tenant core.TenantID, parentID core.ID) ([]*core.ChildChunk, error)

	// CountChildren returns the number of children stored for a tenant.
	CountChildren(ctx context.Context, tenant core.TenantID) (int, error)

	// IterateChildren returns up to limit children with ids greater than after, in id order.
	IterateChildren(ctx context.Context, tenant core.TenantID, after core.ID, limit int) ([]*core.ChildChunk, error)

	// UpdateChildVectors replaces the vectors of existing children.
	// Returns ErrNotFound if any child does not exist.
	UpdateChildVectors(ctx context.Context, tenant core.TenantID, vectors map[core.ID][]float32) error
}

// SessionRepository stores append-only conversation turns.
type SessionRepository interface {
	// AppendTurns appends turns to a session, creating it if needed.
	AppendTurns(ctx context.Context, tenant core.TenantID, sessionID string, turns ...core.Turn) error

	// RecentTurns returns the last n turns in chronological order.
	RecentTurns(ctx context.Context, tenant core.TenantID, sessionID string, n int) ([]core.Turn, error)
}

// CheckpointRepository persists progress of resumable batch jobs.
type CheckpointRepository interface {
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, tenant core.TenantID, processorType string) (*core.Checkpoint, error)

	// ClearCheckpoint removes the checkpoint once the job has finished.
	ClearCheckpoint(ctx context.Context, tenant core.TenantID, processorType string) error
}

// DocumentStore is the full set of persistence operations used by ingestion and retrieval.
type DocumentStore interface {
	DocumentRepository
	ChunkRepository
	SessionRepository
	Close() error
}

// VectorIndex is an external nearest-neighbour index mirrored from the chunk store.
type VectorIndex interface {
	IndexChildren(ctx context.Context, tenant core.TenantID, children []*core.ChildChunk) error
	DeleteChildren(ctx context.Context, tenant core.TenantID, ids []core.ID) error
	NearestChildren(ctx context.Context, tenant core.TenantID, vector []float32, k int) ([]core.ChildMatch, error)
	Close() error
}
