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


package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// pageBatchSize bounds how many page stubs are written per transaction.
const pageBatchSize = 500

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// UpsertDocument creates the document or merges into the stored one.
func (r *DocumentRepository) UpsertDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if doc == nil || doc.Id == 0 {
		return nil, fmt.Errorf("%w: document id is required", storage.ErrInvalidQuery)
	}
	if err := core.ValidateTenant(doc.Tenant); err != nil {
		return nil, err
	}

	var merged *core.Document
	err := r.backend.update(ctx, "upsert_document", func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.Tenant, doc.Id)
		existing, err := readDocument(tx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		if existing == nil {
			created := *doc
			if created.CreatedAt.IsZero() {
				created.CreatedAt = now
			}
			if created.Status == 0 {
				created.Status = core.DocumentPending
			}
			if created.DispatchState == 0 {
				created.DispatchState = core.DispatchReceived
			}
			created.UpdatedAt = now
			settleStatus(&created)
			merged = &created
		} else {
			merged = mergeDocument(existing, doc)
			merged.UpdatedAt = now
		}
		return writeRecord(tx, key, merged, storage.MarshalDocument)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeDocument folds an incoming document into the stored one without
// lowering counters or reopening a terminal status.
func mergeDocument(existing, incoming *core.Document) *core.Document {
	merged := *existing
	if merged.ExpectedPageCount == 0 {
		merged.ExpectedPageCount = incoming.ExpectedPageCount
	}
	merged.PagesCompleted = max(merged.PagesCompleted, incoming.PagesCompleted)
	merged.PagesFailed = max(merged.PagesFailed, incoming.PagesFailed)
	merged.DispatchState = max(merged.DispatchState, incoming.DispatchState)
	if incoming.FailureReason != "" {
		merged.FailureReason = incoming.FailureReason
	}
	if !merged.Status.Terminal() && incoming.Status == core.DocumentFailed {
		merged.Status = core.DocumentFailed
	}
	settleStatus(&merged)
	return &merged
}

// settleStatus derives the document status from its counters.
func settleStatus(doc *core.Document) {
	if doc.Status.Terminal() || doc.ExpectedPageCount == 0 {
		return
	}
	switch {
	case doc.PagesCompleted == doc.ExpectedPageCount:
		doc.Status = core.DocumentComplete
	case doc.PagesCompleted+doc.PagesFailed == doc.ExpectedPageCount:
		doc.Status = core.DocumentFailed
		if doc.FailureReason == "" {
			doc.FailureReason = fmt.Sprintf("%d of %d pages failed", doc.PagesFailed, doc.ExpectedPageCount)
		}
	case doc.PagesCompleted+doc.PagesFailed > 0:
		doc.Status = core.DocumentProcessing
	}
}

// GetDocument retrieves a document.
func (r *DocumentRepository) GetDocument(ctx context.Context, tenant core.TenantID, id core.ID) (*core.Document, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var doc *core.Document
	err := r.backend.view("get_document", func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, makeDocumentKey(tenant, id))
		return err
	})
	return doc, err
}

// SetDispatchState advances the dispatcher state of a document.
func (r *DocumentRepository) SetDispatchState(ctx context.Context, tenant core.TenantID, id core.ID, state core.DispatchState) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	return r.backend.update(ctx, "set_dispatch_state", func(tx *badger.Txn) error {
		key := makeDocumentKey(tenant, id)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if state <= doc.DispatchState {
			return nil
		}
		doc.DispatchState = state
		doc.UpdatedAt = time.Now().UTC()
		return writeRecord(tx, key, doc, storage.MarshalDocument)
	})
}

// MarkDocumentFailed moves a document to FAILED. A COMPLETE document is left alone.
func (r *DocumentRepository) MarkDocumentFailed(ctx context.Context, tenant core.TenantID, id core.ID, reason string) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	return r.backend.update(ctx, "mark_document_failed", func(tx *badger.Txn) error {
		key := makeDocumentKey(tenant, id)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc.Status == core.DocumentComplete {
			return nil
		}
		doc.Status = core.DocumentFailed
		doc.FailureReason = reason
		doc.UpdatedAt = time.Now().UTC()
		return writeRecord(tx, key, doc, storage.MarshalDocument)
	})
}

// UpsertPages writes page stubs, leaving existing pages untouched.
func (r *DocumentRepository) UpsertPages(ctx context.Context, pages ...*core.Page) error {
	for _, page := range pages {
		if page == nil {
			return fmt.Errorf("%w: nil page", storage.ErrInvalidQuery)
		}
		if err := core.ValidateTenant(page.Tenant); err != nil {
			return err
		}
	}

	for start := 0; start < len(pages); start += pageBatchSize {
		batch := pages[start:min(start+pageBatchSize, len(pages))]
		err := r.backend.update(ctx, "upsert_pages", func(tx *badger.Txn) error {
			now := time.Now().UTC()
			for _, page := range batch {
				key := makePageKey(page.Tenant, page.DocumentId, page.Number)
				if _, err := tx.Get(key); err == nil {
					continue
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				stub := *page
				if stub.Status == 0 {
					stub.Status = core.PagePending
				}
				stub.UpdatedAt = now
				if err := writeRecord(tx, key, &stub, storage.MarshalPage); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetPage retrieves a page.
func (r *DocumentRepository) GetPage(ctx context.Context, tenant core.TenantID, documentID core.ID, page int) (*core.Page, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var p *core.Page
	err := r.backend.view("get_page", func(tx *badger.Txn) error {
		var err error
		p, err = readPage(tx, makePageKey(tenant, documentID, page))
		return err
	})
	return p, err
}

// RecordPageAttempt increments and returns the attempt counter of a page.
func (r *DocumentRepository) RecordPageAttempt(ctx context.Context, tenant core.TenantID, documentID core.ID, page int) (int, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return 0, err
	}
	var attempts int
	err := r.backend.update(ctx, "record_page_attempt", func(tx *badger.Txn) error {
		key := makePageKey(tenant, documentID, page)
		p, err := readPage(tx, key)
		if err != nil {
			return err
		}
		p.Attempts++
		p.UpdatedAt = time.Now().UTC()
		attempts = p.Attempts
		return writeRecord(tx, key, p, storage.MarshalPage)
	})
	return attempts, err
}

// MarkPageComplete marks a page complete and counts it exactly once.
func (r *DocumentRepository) MarkPageComplete(ctx context.Context, tenant core.TenantID, documentID core.ID, page int) (core.Completion, error) {
	return r.settlePage(ctx, "mark_page_complete", tenant, documentID, page, core.PageComplete, "")
}

// MarkPageFailed marks a page terminally failed and counts it exactly once.
func (r *DocumentRepository) MarkPageFailed(ctx context.Context, tenant core.TenantID, documentID core.ID, page int, reason string) (core.Completion, error) {
	return r.settlePage(ctx, "mark_page_failed", tenant, documentID, page, core.PageFailed, reason)
}

// settlePage moves a page to a terminal status and updates the document
// counters in the same transaction. A page that is already terminal is not
// counted again.
func (r *DocumentRepository) settlePage(ctx context.Context, op string, tenant core.TenantID, documentID core.ID, page int, status core.PageStatus, reason string) (core.Completion, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return core.Completion{}, err
	}

	var completion core.Completion
	err := r.backend.update(ctx, op, func(tx *badger.Txn) error {
		docKey := makeDocumentKey(tenant, documentID)
		doc, err := readDocument(tx, docKey)
		if err != nil {
			return err
		}
		if page < 1 || page > doc.ExpectedPageCount {
			return &core.StoreError{Kind: core.StoreConflict, Op: op,
				Err: fmt.Errorf("page %d outside 1..%d", page, doc.ExpectedPageCount)}
		}

		pageKey := makePageKey(tenant, documentID, page)
		p, err := readPage(tx, pageKey)
		if errors.Is(err, storage.ErrNotFound) {
			p = &core.Page{Tenant: tenant, DocumentId: documentID, Number: page, Status: core.PagePending}
		} else if err != nil {
			return err
		}

		if p.Status == core.PageComplete || p.Status == core.PageFailed {
			completion = completionOf(doc, false)
			return nil
		}
		if doc.PagesCompleted+doc.PagesFailed >= doc.ExpectedPageCount {
			return &core.StoreError{Kind: core.StoreConflict, Op: op,
				Err: fmt.Errorf("document %s already has %d terminal pages", documentID, doc.ExpectedPageCount)}
		}

		now := time.Now().UTC()
		p.Status = status
		p.FailureReason = reason
		p.UpdatedAt = now
		if status == core.PageComplete {
			doc.PagesCompleted++
		} else {
			doc.PagesFailed++
		}
		doc.UpdatedAt = now
		settleStatus(doc)

		if err := writeRecord(tx, pageKey, p, storage.MarshalPage); err != nil {
			return err
		}
		if err := writeRecord(tx, docKey, doc, storage.MarshalDocument); err != nil {
			return err
		}
		completion = completionOf(doc, true)
		return nil
	})
	return completion, err
}

func completionOf(doc *core.Document, applied bool) core.Completion {
	return core.Completion{
		PagesCompleted: doc.PagesCompleted,
		PagesFailed:    doc.PagesFailed,
		Expected:       doc.ExpectedPageCount,
		Status:         doc.Status,
		Applied:        applied,
	}
}

func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	return readRecord(tx, key, storage.UnmarshalDocument)
}

func readPage(tx *badger.Txn, key []byte) (*core.Page, error) {
	return readRecord(tx, key, storage.UnmarshalPage)
}

// readRecord loads and decodes a value. Missing keys map to storage.ErrNotFound.
func readRecord[T any](tx *badger.Txn, key []byte, decode func([]byte) (*T, error)) (*T, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var record *T
	err = item.Value(func(val []byte) error {
		var decodeErr error
		record, decodeErr = decode(val)
		return decodeErr
	})
	return record, err
}

func writeRecord[T any](tx *badger.Txn, key []byte, record *T, encode func(*T) ([]byte, error)) error {
	value, err := encode(record)
	if err != nil {
		return err
	}
	return tx.Set(key, value)
}
