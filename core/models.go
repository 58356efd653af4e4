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
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// IDs are always derived from content or position, never from sequences,
// so that repeated processing of the same input lands on the same keys.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as 16 lowercase hex digits.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ParseID parses the hex form produced by ID.String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(v), nil
}

// DocumentID derives a document identity from where it was uploaded and what it contained.
func DocumentID(tenant TenantID, storagePath, fingerprint string) ID {
	return IDFromContent("doc|" + string(tenant) + "|" + storagePath + "|" + fingerprint)
}

// ParentID derives the parent chunk identity for a page.
func ParentID(documentID ID, page int) ID {
	return IDFromContent("parent|" + documentID.String() + "|" + strconv.Itoa(page))
}

// ChildID derives a child chunk identity from its parent and span position.
func ChildID(parentID ID, spanIndex int) ID {
	return IDFromContent("child|" + parentID.String() + "|" + strconv.Itoa(spanIndex))
}

// TenantID names an isolation boundary. Every stored entity is keyed by it.
type TenantID string

// DocumentStatus tracks a document through ingestion.
type DocumentStatus int

const (
	DocumentPending DocumentStatus = iota + 1
	DocumentProcessing
	DocumentComplete
	DocumentFailed
)

func (s DocumentStatus) String() string {
	switch s {
	case DocumentPending:
		return "PENDING"
	case DocumentProcessing:
		return "PROCESSING"
	case DocumentComplete:
		return "COMPLETE"
	case DocumentFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further page results can change the status.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentComplete || s == DocumentFailed
}

// DispatchState is the dispatcher's progress on a single upload.
type DispatchState int

const (
	DispatchReceived DispatchState = iota + 1
	DispatchSplit
	DispatchDispatched
)

func (s DispatchState) String() string {
	switch s {
	case DispatchReceived:
		return "RECEIVED"
	case DispatchSplit:
		return "SPLIT"
	case DispatchDispatched:
		return "DISPATCHED"
	default:
		return "UNKNOWN"
	}
}

// PageStatus is the per-page processing state.
type PageStatus int

const (
	PagePending PageStatus = iota + 1
	PageComplete
	PageFailed
)

func (s PageStatus) String() string {
	switch s {
	case PagePending:
		return "PENDING"
	case PageComplete:
		return "COMPLETE"
	case PageFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Document is one uploaded file and its ingestion counters.
type Document struct {
	Tenant            TenantID
	Id                ID
	StoragePath       string
	Fingerprint       string
	ExpectedPageCount int
	PagesCompleted    int
	PagesFailed       int
	Status            DocumentStatus
	DispatchState     DispatchState
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Page is the unit of work handed to workers.
type Page struct {
	Tenant        TenantID
	DocumentId    ID
	Number        int
	RawText       string
	Status        PageStatus
	Attempts      int
	FailureReason string
	UpdatedAt     time.Time
}

// Processed reports whether the page already completed successfully.
func (p *Page) Processed() bool {
	return p.Status == PageComplete
}

// ParentChunk is page-level text handed to generation as context.
type ParentChunk struct {
	Tenant     TenantID
	Id         ID
	DocumentId ID
	PageNumber int
	Source     string // storage path of the originating document
	FullText   string
}

// ChildChunk is a fine-grained span used for vector matching.
type ChildChunk struct {
	Tenant    TenantID
	Id        ID
	ParentId  ID
	SpanIndex int
	Text      string
	Vector    []float32
}

// ChildMatch is one nearest-neighbour hit. Lower Distance is closer.
type ChildMatch struct {
	ChildId  ID
	ParentId ID
	Distance float32
}

// Completion is the document counter state after a page reached a terminal state.
type Completion struct {
	PagesCompleted int
	PagesFailed    int
	Expected       int
	Status         DocumentStatus
	// Applied is false when the page had already been counted.
	Applied bool
}

// Complete reports whether every expected page completed successfully.
func (c Completion) Complete() bool {
	return c.Expected > 0 && c.PagesCompleted == c.Expected
}

// Role identifies the author of a session turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Session is an append-only conversation owned by a tenant.
type Session struct {
	Tenant TenantID
	Id     string
	Turns  []Turn
}

// Notification announces a finalized upload.
type Notification struct {
	StoragePath string   `json:"storage_path"`
	Tenant      TenantID `json:"tenant_id"`
	Fingerprint string   `json:"content_fingerprint"`
}

// PageTask asks a worker to process one page.
type PageTask struct {
	Tenant     TenantID `json:"tenant_id"`
	DocumentId ID       `json:"document_id"`
	Page       int      `json:"page_number"`
}

// MessageID is the queue deduplication key for the task.
func (t PageTask) MessageID() string {
	return t.DocumentId.String() + ":" + strconv.Itoa(t.Page)
}

// Checkpoint records how far a resumable batch job got for a tenant.
type Checkpoint struct {
	ProcessorType string
	Tenant        TenantID
	LastId        ID
	Processed     int
	UpdatedAt     time.Time
}
