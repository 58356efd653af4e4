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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/queue"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/storage"
)

// DefaultMaxDeliveries bounds redelivery of a message before it is dropped.
const DefaultMaxDeliveries = 10

// Dispatcher fans an upload notification out into one task per page.
// Per document it moves RECEIVED -> SPLIT -> DISPATCHED; a notification
// for a document that already reached DISPATCHED is acknowledged without
// publishing anything.
type Dispatcher struct {
	documents     storage.DocumentRepository
	counter       PageCounter
	tasks         queue.Publisher
	policy        retry.Policy
	maxDeliveries int
	metrics       *Metrics
	logger        *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher) error

// WithDispatcherLogger sets a custom logger.
// Default is slog.Default().
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// WithDispatchRetry sets the policy for store calls and redelivery backoff.
func WithDispatchRetry(policy retry.Policy) DispatcherOption {
	return func(d *Dispatcher) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		d.policy = policy
		return nil
	}
}

// WithDispatchMaxDeliveries sets how often a notification may be redelivered
// after transient failures before it is marked failed.
func WithDispatchMaxDeliveries(n int) DispatcherOption {
	return func(d *Dispatcher) error {
		if n < 1 {
			n = 1
		}
		d.maxDeliveries = n
		return nil
	}
}

// NewDispatcher creates a dispatcher that records documents in store and
// publishes page tasks to tasks.
func NewDispatcher(documents storage.DocumentRepository, counter PageCounter, tasks queue.Publisher, opts ...DispatcherOption) (*Dispatcher, error) {
	if documents == nil {
		return nil, ErrStoreRequired
	}
	if counter == nil {
		return nil, ErrPageCounterRequired
	}
	if tasks == nil {
		return nil, ErrPublisherRequired
	}

	d := &Dispatcher{
		documents:     documents,
		counter:       counter,
		tasks:         tasks,
		policy:        retry.DefaultPolicy(),
		maxDeliveries: DefaultMaxDeliveries,
		metrics:       NewMetrics(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d, nil
}

// DispatchResult describes what HandleNotification did.
type DispatchResult struct {
	DocumentID core.ID
	Pages      int
	// Duplicate is true when the document had already been dispatched
	// or had already failed, and nothing was published.
	Duplicate bool
}

// HandleNotification records the document and publishes its page tasks.
// A page-count failure marks the document FAILED and returns a
// *core.DispatchError. Other errors are transient and the notification
// may be handled again; task ids make republishing harmless.
func (d *Dispatcher) HandleNotification(ctx context.Context, n core.Notification) (*DispatchResult, error) {
	if err := core.ValidateNotification(&n); err != nil {
		return nil, err
	}
	docID := core.DocumentID(n.Tenant, n.StoragePath, n.Fingerprint)
	logger := d.logger.With("tenant", n.Tenant, "document", docID, "path", n.StoragePath)

	existing, err := d.getDocument(ctx, n.Tenant, docID)
	if err != nil {
		return nil, err
	}
	if existing != nil && settledDispatch(existing) {
		logger.Debug("duplicate notification", "state", existing.DispatchState, "status", existing.Status)
		d.metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
		return &DispatchResult{DocumentID: docID, Pages: existing.ExpectedPageCount, Duplicate: true}, nil
	}

	doc := &core.Document{
		Tenant:        n.Tenant,
		Id:            docID,
		StoragePath:   n.StoragePath,
		Fingerprint:   n.Fingerprint,
		Status:        core.DocumentPending,
		DispatchState: core.DispatchReceived,
	}
	if err := d.store(ctx, func(ctx context.Context) error {
		var err error
		doc, err = d.documents.UpsertDocument(ctx, doc)
		return err
	}); err != nil {
		return nil, err
	}

	pages := doc.ExpectedPageCount
	if doc.DispatchState < core.DispatchSplit {
		pages, err = d.counter.CountPages(ctx, n.StoragePath)
		if err == nil && pages < 1 {
			err = errors.New("document has no pages")
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, d.fail(ctx, logger, doc, "page count failed", err)
		}

		doc.ExpectedPageCount = pages
		doc.DispatchState = core.DispatchSplit
		if err := d.store(ctx, func(ctx context.Context) error {
			var err error
			doc, err = d.documents.UpsertDocument(ctx, doc)
			return err
		}); err != nil {
			return nil, err
		}
	}

	stubs := make([]*core.Page, pages)
	for i := range stubs {
		stubs[i] = &core.Page{Tenant: n.Tenant, DocumentId: docID, Number: i + 1}
	}
	if err := d.store(ctx, func(ctx context.Context) error {
		return d.documents.UpsertPages(ctx, stubs...)
	}); err != nil {
		return nil, err
	}

	for page := 1; page <= pages; page++ {
		task := core.PageTask{Tenant: n.Tenant, DocumentId: docID, Page: page}
		data, err := EncodeTask(task)
		if err != nil {
			return nil, err
		}
		if err := d.tasks.Publish(ctx, task.MessageID(), data); err != nil {
			return nil, fmt.Errorf("publish page %d: %w", page, err)
		}
		d.metrics.TasksPublished.Inc()
	}

	if err := d.store(ctx, func(ctx context.Context) error {
		return d.documents.SetDispatchState(ctx, n.Tenant, docID, core.DispatchDispatched)
	}); err != nil {
		return nil, err
	}

	logger.Info("document dispatched", "pages", pages)
	d.metrics.NotificationsTotal.WithLabelValues("dispatched").Inc()
	return &DispatchResult{DocumentID: docID, Pages: pages}, nil
}

// settledDispatch reports whether a stored document needs no further dispatch work.
// A FAILED document is terminal whatever its dispatch state.
func settledDispatch(doc *core.Document) bool {
	return doc.DispatchState >= core.DispatchDispatched || doc.Status == core.DocumentFailed
}

func (d *Dispatcher) getDocument(ctx context.Context, tenant core.TenantID, id core.ID) (*core.Document, error) {
	var doc *core.Document
	err := d.store(ctx, func(ctx context.Context) error {
		var err error
		doc, err = d.documents.GetDocument(ctx, tenant, id)
		if errors.Is(err, storage.ErrNotFound) {
			doc = nil
			return nil
		}
		return err
	})
	return doc, err
}

func (d *Dispatcher) store(ctx context.Context, op func(ctx context.Context) error) error {
	return d.policy.Do(ctx, op)
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, doc *core.Document, reason string, cause error) error {
	dispatchErr := &core.DispatchError{StoragePath: doc.StoragePath, Reason: reason, Err: cause}
	if err := d.store(ctx, func(ctx context.Context) error {
		return d.documents.MarkDocumentFailed(ctx, doc.Tenant, doc.Id, dispatchErr.Error())
	}); err != nil {
		return err
	}
	logger.Warn("dispatch failed", "reason", reason, "error", cause)
	d.metrics.NotificationsTotal.WithLabelValues("failed").Inc()
	d.metrics.DocumentsFailed.Inc()
	return dispatchErr
}

// Run consumes upload notifications until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, notifications queue.Consumer) error {
	d.logger.Info("dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	for {
		deliveries, err := notifications.Fetch(ctx, 1)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			d.logger.Warn("fetch failed", "error", err)
			if !sleep(ctx, d.policy.BaseDelay) {
				return nil
			}
			continue
		}
		for _, delivery := range deliveries {
			d.handleDelivery(ctx, delivery)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (d *Dispatcher) handleDelivery(ctx context.Context, delivery queue.Delivery) {
	n, err := DecodeNotification(delivery.Data())
	if err != nil {
		d.logger.Warn("dropping malformed notification", "error", err)
		d.metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		settle(d.logger, delivery.Term())
		return
	}

	_, err = d.HandleNotification(ctx, n)
	var dispatchErr *core.DispatchError
	switch {
	case err == nil:
		settle(d.logger, delivery.Ack())
	case errors.As(err, &dispatchErr):
		settle(d.logger, delivery.Term())
	case ctx.Err() != nil:
		settle(d.logger, delivery.Nak(0))
	case invalidInput(err):
		d.logger.Warn("notification rejected", "path", n.StoragePath, "error", err)
		d.metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		settle(d.logger, delivery.Term())
	case delivery.Attempt() >= d.maxDeliveries:
		docID := core.DocumentID(n.Tenant, n.StoragePath, n.Fingerprint)
		if markErr := d.documents.MarkDocumentFailed(ctx, n.Tenant, docID, "dispatch retries exhausted: "+err.Error()); markErr != nil {
			d.logger.Error("failed to mark document failed", "document", docID, "error", markErr)
		}
		d.metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		d.metrics.DocumentsFailed.Inc()
		settle(d.logger, delivery.Term())
	default:
		d.logger.Info("notification will be redelivered", "attempt", delivery.Attempt(), "error", err)
		d.metrics.NotificationsTotal.WithLabelValues("retry").Inc()
		settle(d.logger, delivery.Nak(d.policy.Delay(delivery.Attempt())))
	}
}

func invalidInput(err error) bool {
	return errors.Is(err, core.ErrInvalidNotification) ||
		errors.Is(err, core.ErrInvalidTenant) ||
		errors.Is(err, core.ErrInvalidPageTask)
}

func settle(logger *slog.Logger, err error) {
	if err != nil && !errors.Is(err, queue.ErrClosed) {
		logger.Warn("failed to settle delivery", "error", err)
	}
}

// sleep waits for d or ctx, reporting false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
