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
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/chunking"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/queue"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/storage"
)

// Store is the part of the document store a worker writes to.
type Store interface {
	storage.DocumentRepository
	storage.ChunkRepository
}

// Outcome is the result of processing one page task.
type Outcome int

const (
	// OutcomeCompleted means the page was chunked, embedded and stored.
	OutcomeCompleted Outcome = iota + 1
	// OutcomeSkipped means the page had already reached a terminal state.
	OutcomeSkipped
	// OutcomeFailed means the page was marked terminally failed.
	OutcomeFailed
	// OutcomeRetry means the task should be delivered again later.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Worker turns page tasks into stored parent and child chunks.
// Processing a task is idempotent: chunk ids are derived from the page,
// chunk writes are upserts, and the page counter is incremented by the
// store at most once per page.
type Worker struct {
	store         Store
	embedder      ai.Embedder
	source        PageSource
	builder       *chunking.Builder
	pool          *ants.Pool
	policy        retry.Policy
	maxDeliveries int
	metrics       *Metrics
	logger        *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker) error

// WithPoolSize sets how many pages are processed concurrently.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(w *Worker) error {
		if size < 1 {
			size = 1
		}
		if w.pool != nil {
			w.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		w.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// WithRetryPolicy sets the policy for embedding and store calls and for
// redelivery backoff.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(w *Worker) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		w.policy = policy
		return nil
	}
}

// WithMaxDeliveries sets how many deliveries a task gets before the page is
// marked failed.
func WithMaxDeliveries(n int) Option {
	return func(w *Worker) error {
		if n < 1 {
			n = 1
		}
		w.maxDeliveries = n
		return nil
	}
}

// WithBuilder sets the chunk builder.
func WithBuilder(builder *chunking.Builder) Option {
	return func(w *Worker) error {
		if builder != nil {
			w.builder = builder
		}
		return nil
	}
}

// NewWorker creates a worker.
func NewWorker(store Store, embedder ai.Embedder, source PageSource, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if source == nil {
		return nil, ErrPageSourceRequired
	}

	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}

	w := &Worker{
		store:         store,
		embedder:      embedder,
		source:        source,
		builder:       chunking.NewBuilder(chunking.DefaultOptions()),
		pool:          pool,
		policy:        retry.DefaultPolicy(),
		maxDeliveries: DefaultMaxDeliveries,
		metrics:       NewMetrics(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(w); optErr != nil {
			w.Release()
			return nil, optErr
		}
	}
	w.logger = w.logger.With("component", "worker")
	return w, nil
}

// Release stops the worker pool.
func (w *Worker) Release() {
	if w.pool != nil {
		w.pool.Release()
	}
}

// Process handles one page task. The returned error explains a Failed or
// Retry outcome and is nil otherwise.
func (w *Worker) Process(ctx context.Context, task core.PageTask) (Outcome, error) {
	if err := core.ValidatePageTask(&task); err != nil {
		return OutcomeFailed, err
	}
	start := time.Now()
	logger := w.logger.With("tenant", task.Tenant, "document", task.DocumentId, "page", task.Page)

	err := w.process(ctx, task, logger)
	switch {
	case err == nil:
		w.metrics.PageDuration.Observe(time.Since(start).Seconds())
		w.metrics.PagesTotal.WithLabelValues(OutcomeCompleted.String()).Inc()
		return OutcomeCompleted, nil
	case errors.Is(err, errSkipped):
		w.metrics.PagesTotal.WithLabelValues(OutcomeSkipped.String()).Inc()
		return OutcomeSkipped, nil
	case errors.Is(err, ErrUnknownDocument):
		logger.Warn("dropping task for unknown document")
		w.metrics.PagesTotal.WithLabelValues(OutcomeFailed.String()).Inc()
		return OutcomeFailed, err
	case ctx.Err() != nil || core.IsRetryable(err):
		logger.Info("page will be retried", "error", err)
		w.metrics.PagesTotal.WithLabelValues(OutcomeRetry.String()).Inc()
		return OutcomeRetry, err
	}

	if markErr := w.Fail(ctx, task, err.Error()); markErr != nil {
		logger.Warn("could not record page failure", "error", markErr)
		return OutcomeRetry, fmt.Errorf("%w (recording failure: %v)", err, markErr)
	}
	logger.Warn("page failed", "error", err)
	return OutcomeFailed, err
}

var errSkipped = errors.New("page already settled")

func (w *Worker) process(ctx context.Context, task core.PageTask, logger *slog.Logger) error {
	var doc *core.Document
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		doc, err = w.store.GetDocument(ctx, task.Tenant, task.DocumentId)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, task.DocumentId)
	}
	if err != nil {
		return err
	}

	page, err := w.loadPage(ctx, task)
	if err != nil {
		return err
	}
	if page.Status == core.PageComplete || page.Status == core.PageFailed {
		logger.Debug("page already settled", "status", page.Status)
		return errSkipped
	}

	if err := w.policy.Do(ctx, func(ctx context.Context) error {
		_, err := w.store.RecordPageAttempt(ctx, task.Tenant, task.DocumentId, task.Page)
		return err
	}); err != nil {
		return err
	}

	text := page.RawText
	if text == "" {
		text, err = w.source.PageText(ctx, doc.Id, doc.StoragePath, task.Page)
		if err != nil {
			if ctx.Err() != nil || isExtraction(err) {
				return err
			}
			return &core.ExtractionError{DocumentId: doc.Id, Page: task.Page, Reason: "page text unavailable", Err: err}
		}
	}

	parent, children, err := w.builder.Build(task.Tenant, doc.Id, task.Page, doc.StoragePath, text)
	if err != nil {
		return err
	}

	var vectors [][]float32
	if err := w.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = w.embedder.EmbedTexts(ctx, chunking.Texts(children))
		return err
	}); err != nil {
		return err
	}
	if len(vectors) != len(children) {
		return &core.EmbeddingError{Kind: core.EmbeddingUnavailable,
			Err: fmt.Errorf("got %d vectors for %d children", len(vectors), len(children))}
	}
	for i, child := range children {
		child.Vector = core.NormalizeVector(vectors[i])
	}

	if err := w.policy.Do(ctx, func(ctx context.Context) error {
		return w.store.UpsertParentAndChildren(ctx, parent, children)
	}); err != nil {
		return err
	}

	var completion core.Completion
	if err := w.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		completion, err = w.store.MarkPageComplete(ctx, task.Tenant, task.DocumentId, task.Page)
		return err
	}); err != nil {
		return err
	}

	logger.Debug("page stored", "children", len(children), "applied", completion.Applied)
	w.documentSettled(logger, completion)
	return nil
}

// loadPage returns the page record, creating a stub if the dispatcher's
// stub write was lost.
func (w *Worker) loadPage(ctx context.Context, task core.PageTask) (*core.Page, error) {
	var page *core.Page
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = w.store.GetPage(ctx, task.Tenant, task.DocumentId, task.Page)
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		stub := &core.Page{Tenant: task.Tenant, DocumentId: task.DocumentId, Number: task.Page}
		if err := w.store.UpsertPages(ctx, stub); err != nil {
			return err
		}
		page, err = w.store.GetPage(ctx, task.Tenant, task.DocumentId, task.Page)
		return err
	})
	return page, err
}

// Fail marks the task's page terminally failed.
func (w *Worker) Fail(ctx context.Context, task core.PageTask, reason string) error {
	var completion core.Completion
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		completion, err = w.store.MarkPageFailed(ctx, task.Tenant, task.DocumentId, task.Page, reason)
		return err
	})
	if err != nil {
		return err
	}
	w.metrics.PagesTotal.WithLabelValues(OutcomeFailed.String()).Inc()
	w.documentSettled(w.logger.With("tenant", task.Tenant, "document", task.DocumentId), completion)
	return nil
}

func (w *Worker) documentSettled(logger *slog.Logger, c core.Completion) {
	if !c.Applied {
		return
	}
	switch c.Status {
	case core.DocumentComplete:
		logger.Info("document complete", "pages", c.Expected)
		w.metrics.DocumentsCompleted.Inc()
	case core.DocumentFailed:
		logger.Warn("document failed", "completed", c.PagesCompleted, "failed", c.PagesFailed, "expected", c.Expected)
		w.metrics.DocumentsFailed.Inc()
	}
}

// Run consumes page tasks until ctx is done, processing up to the pool
// size concurrently. In-flight tasks finish before Run returns.
func (w *Worker) Run(ctx context.Context, tasks queue.Consumer) error {
	w.logger.Info("worker started", "pool", w.pool.Cap())
	defer w.logger.Info("worker stopped")

	var wg sync.WaitGroup
	defer wg.Wait()

	for ctx.Err() == nil {
		deliveries, err := tasks.Fetch(ctx, max(w.pool.Free(), 1))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			w.logger.Warn("fetch failed", "error", err)
			if !sleep(ctx, w.policy.BaseDelay) {
				return nil
			}
			continue
		}

		for _, delivery := range deliveries {
			wg.Add(1)
			submitErr := w.pool.Submit(func() {
				defer wg.Done()
				w.handleDelivery(ctx, delivery)
			})
			if submitErr != nil {
				wg.Done()
				w.logger.Error("failed to submit task", "error", submitErr)
				settle(w.logger, delivery.Nak(w.policy.BaseDelay))
			}
		}
	}
	return nil
}

func (w *Worker) handleDelivery(ctx context.Context, delivery queue.Delivery) {
	task, err := DecodeTask(delivery.Data())
	if err != nil {
		w.logger.Warn("dropping malformed task", "error", err)
		settle(w.logger, delivery.Term())
		return
	}

	outcome, err := w.Process(ctx, task)
	switch outcome {
	case OutcomeCompleted, OutcomeSkipped:
		settle(w.logger, delivery.Ack())
	case OutcomeFailed:
		settle(w.logger, delivery.Term())
	case OutcomeRetry:
		if ctx.Err() != nil {
			settle(w.logger, delivery.Nak(0))
			return
		}
		if delivery.Attempt() >= w.maxDeliveries {
			if failErr := w.Fail(ctx, task, "retries exhausted: "+err.Error()); failErr != nil {
				w.logger.Error("could not record page failure", "page", task.Page, "error", failErr)
				settle(w.logger, delivery.Nak(w.policy.Delay(delivery.Attempt())))
				return
			}
			settle(w.logger, delivery.Term())
			return
		}
		settle(w.logger, delivery.Nak(w.policy.Delay(delivery.Attempt())))
	}
}
