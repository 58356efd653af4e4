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


// Package folio wires the store, AI provider, queues and components of a
// folio deployment from one configuration.
package folio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/openai"
	"github.com/poiesic/folio/api"
	"github.com/poiesic/folio/chunking"
	"github.com/poiesic/folio/config"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/queue"
	"github.com/poiesic/folio/queue/natsq"
	"github.com/poiesic/folio/reembed"
	"github.com/poiesic/folio/retrieval"
	"github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/storage/chromem"
	"golang.org/x/sync/errgroup"
)

// System owns the resources shared by every folio component.
type System struct {
	config   *config.Config
	store    *badger.Store
	provider ai.AIProvider
	conn     *nats.Conn
	uploads  queue.Queue
	pages    queue.Queue
	source   ingestion.Extractor
	logger   *slog.Logger
}

// Option configures a System.
type Option func(*options)

type options struct {
	provider ai.AIProvider
	uploads  queue.Queue
	pages    queue.Queue
	source   ingestion.Extractor
	logger   *slog.Logger
}

// WithProvider uses provider instead of the OpenAI-compatible one built from config.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithQueues uses the given queues instead of the ones built from config.
func WithQueues(uploads, pages queue.Queue) Option {
	return func(o *options) {
		o.uploads = uploads
		o.pages = pages
	}
}

// WithSource overrides the page extractor.
func WithSource(source ingestion.Extractor) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open opens the store and connects the provider and queues described by cfg.
func Open(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	var storeOpts []badger.StoreOption
	if cfg.Store.VectorIndex == "chromem" {
		index, err := chromem.NewIndex(cfg.Store.IndexPath)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, badger.WithVectorIndex(index))
	}
	store, err := badger.OpenStore(cfg.Store.Path, cfg.Store.InMemory, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &System{
		config:   cfg,
		store:    store,
		provider: o.provider,
		uploads:  o.uploads,
		pages:    o.pages,
		source:   o.source,
		logger:   o.logger,
	}

	if s.provider == nil {
		s.provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create AI provider: %w", err)
		}
	}

	if s.uploads == nil || s.pages == nil {
		if err := s.openQueues(); err != nil {
			s.Close()
			return nil, err
		}
	}

	if s.source == nil {
		s.source, err = newSource(cfg.Sources)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *System) openQueues() error {
	if s.config.Queue.URL == "" {
		opts := queue.MemoryOptions{DuplicateWindow: s.config.Queue.DuplicateWindow}
		s.uploads = queue.NewMemory(opts)
		s.pages = queue.NewMemory(opts)
		return nil
	}

	conn, err := nats.Connect(s.config.Queue.URL, nats.Name("folio"))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.config.Queue.URL, err)
	}
	s.conn = conn

	uploadsCfg := natsq.UploadsConfig()
	pagesCfg := natsq.PagesConfig()
	for _, c := range []*natsq.Config{&uploadsCfg, &pagesCfg} {
		c.MaxDeliver = s.config.Queue.MaxDeliveries
		c.AckWait = s.config.Queue.AckWait
		c.DuplicateWindow = s.config.Queue.DuplicateWindow
	}
	if s.uploads, err = natsq.New(conn, uploadsCfg); err != nil {
		return err
	}
	if s.pages, err = natsq.New(conn, pagesCfg); err != nil {
		return err
	}
	return nil
}

func newSource(cfg config.SourcesConfig) (ingestion.Extractor, error) {
	text := ingestion.NewTextFileSource(cfg.Root)
	switch cfg.Format {
	case "text":
		return text, nil
	case "pdf":
		if err := ingestion.CheckPDFTools(); err != nil {
			return nil, err
		}
		return ingestion.NewPDFSource(cfg.Root), nil
	default:
		router := ingestion.NewExtensionRouter(text)
		if ingestion.CheckPDFTools() == nil {
			router.Route(".pdf", ingestion.NewPDFSource(cfg.Root))
		}
		return router, nil
	}
}

// Close releases the provider, queues, page source and store.
func (s *System) Close() error {
	var errs []error
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
		}
	}
	for _, q := range []queue.Queue{s.uploads, s.pages} {
		if q == nil {
			continue
		}
		if err := q.Close(); err != nil && !errors.Is(err, queue.ErrClosed) {
			s.logger.Error("error closing queue", "err", err)
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	if c, ok := s.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Error("error closing page source", "err", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the system was opened with.
func (s *System) Config() *config.Config {
	return s.config
}

// Store returns the document store.
func (s *System) Store() *badger.Store {
	return s.store
}

// Uploads returns the upload notification queue.
func (s *System) Uploads() queue.Queue {
	return s.uploads
}

// Pages returns the page task queue.
func (s *System) Pages() queue.Queue {
	return s.pages
}

// Source returns the page extractor.
func (s *System) Source() ingestion.Extractor {
	return s.source
}

// NewDispatcher creates a dispatcher publishing to the pages queue.
func (s *System) NewDispatcher(opts ...ingestion.DispatcherOption) (*ingestion.Dispatcher, error) {
	base := []ingestion.DispatcherOption{
		ingestion.WithDispatcherLogger(s.logger),
		ingestion.WithDispatchRetry(s.config.RetryPolicy()),
		ingestion.WithDispatchMaxDeliveries(s.config.Queue.MaxDeliveries),
	}
	return ingestion.NewDispatcher(s.store, s.source, s.pages, append(base, opts...)...)
}

// NewWorker creates a page worker. Call Release when done.
func (s *System) NewWorker(opts ...ingestion.Option) (*ingestion.Worker, error) {
	base := []ingestion.Option{
		ingestion.WithLogger(s.logger),
		ingestion.WithPoolSize(s.config.Worker.PoolSize),
		ingestion.WithRetryPolicy(s.config.RetryPolicy()),
		ingestion.WithMaxDeliveries(s.config.Queue.MaxDeliveries),
		ingestion.WithBuilder(chunking.NewBuilder(s.config.ChunkingOptions())),
	}
	return ingestion.NewWorker(s.store, s.provider.Embedder(), s.source, append(base, opts...)...)
}

// NewEngine creates a retrieval engine.
func (s *System) NewEngine(opts ...retrieval.Option) (*retrieval.Engine, error) {
	rc := s.config.Retrieval
	base := []retrieval.Option{
		retrieval.WithLogger(s.logger),
		retrieval.WithHistoryTurns(rc.HistoryTurns),
		retrieval.WithTopK(rc.TopK),
		retrieval.WithTimeout(rc.Timeout),
	}
	if rc.Rewriter == "heuristic" {
		base = append(base, retrieval.WithRewriter(retrieval.HeuristicRewriter{}))
	}
	if rc.Rerank {
		base = append(base, retrieval.WithReranker(retrieval.TermOverlapReranker{}))
	}
	return retrieval.NewEngine(s.store, s.provider.Embedder(), s.provider.Generator(), append(base, opts...)...)
}

// NewReembedder creates a reembedder that reports progress to progress.
func (s *System) NewReembedder(progress io.Writer, restart bool) (*reembed.Reembedder, error) {
	cfg := reembed.DefaultConfig()
	cfg.BatchSize = s.config.AI.BatchSize
	cfg.Retry = s.config.RetryPolicy()
	cfg.Restart = restart
	cfg.Logger = s.logger
	return reembed.NewReembedder(s.store, s.provider.Embedder(), cfg, progress)
}

// NewServer creates the HTTP API backed by a new engine.
func (s *System) NewServer(opts ...api.Option) (*api.Server, error) {
	engine, err := s.NewEngine()
	if err != nil {
		return nil, err
	}
	base := []api.Option{api.WithLogger(s.logger), api.WithUploads(s.uploads)}
	return api.NewServer(engine, s.store, append(base, opts...)...)
}

// RunDispatcher consumes the uploads queue until ctx is done.
func (s *System) RunDispatcher(ctx context.Context) error {
	d, err := s.NewDispatcher()
	if err != nil {
		return err
	}
	return d.Run(ctx, s.uploads)
}

// RunWorker consumes the pages queue until ctx is done.
func (s *System) RunWorker(ctx context.Context) error {
	w, err := s.NewWorker()
	if err != nil {
		return err
	}
	defer w.Release()
	return w.Run(ctx, s.pages)
}

// Serve runs the HTTP API until ctx is done.
func (s *System) Serve(ctx context.Context) error {
	srv, err := s.NewServer()
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, s.config.Server.Addr, s.config.Server.ShutdownTimeout)
}

// Run runs the dispatcher, a worker and, if serve is set, the HTTP API in
// one process. The first component to fail stops the others.
func (s *System) Run(ctx context.Context, serve bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.RunDispatcher(ctx) })
	g.Go(func() error { return s.RunWorker(ctx) })
	if serve {
		g.Go(func() error { return s.Serve(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
