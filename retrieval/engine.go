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


package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

const (
	// DefaultHistoryTurns is how many recent turns inform rewriting and the prompt.
	DefaultHistoryTurns = 4
	// DefaultTopK is how many nearest children are retrieved.
	DefaultTopK = 7
)

// Store is the part of the document store the engine reads and appends to.
type Store interface {
	storage.ChunkRepository
	storage.SessionRepository
}

var errEmptyGeneration = errors.New("model returned an empty answer")

// Answer is the result of one question.
type Answer struct {
	SessionID      string
	Query          string
	RewrittenQuery string
	Text           string
	CitedParentIDs []core.ID
	Citations      []Citation
	// NoKnowledge is true when the tenant had nothing indexed.
	NoKnowledge bool
}

// Citation identifies a parent page used as context.
type Citation struct {
	ParentID core.ID
	Source   string
	Page     int
	Distance float32
}

// Engine answers questions against one document store.
type Engine struct {
	store        Store
	embedder     ai.Embedder
	generator    ai.Generator
	rewriter     Rewriter
	reranker     Reranker
	monitor      Monitor
	historyTurns int
	topK         int
	timeout      time.Duration
	metrics      *Metrics
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithHistoryTurns sets how many recent turns are loaded. Zero disables history.
func WithHistoryTurns(n int) Option {
	return func(e *Engine) error {
		if n < 0 {
			return fmt.Errorf("history turns must not be negative: %d", n)
		}
		e.historyTurns = n
		return nil
	}
}

// WithTopK sets how many nearest children are retrieved.
func WithTopK(k int) Option {
	return func(e *Engine) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive: %d", k)
		}
		e.topK = k
		return nil
	}
}

// WithTimeout bounds a whole Ask call. Zero means no deadline beyond the caller's.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.timeout = d
		return nil
	}
}

// WithRewriter replaces the default LLM rewriter.
func WithRewriter(r Rewriter) Option {
	return func(e *Engine) error {
		e.rewriter = r
		return nil
	}
}

// WithReranker reorders resolved parents before the prompt is built.
func WithReranker(r Reranker) Option {
	return func(e *Engine) error {
		e.reranker = r
		return nil
	}
}

// WithMonitor observes every Ask call.
func WithMonitor(m Monitor) Option {
	return func(e *Engine) error {
		if m == nil {
			m = &noopMonitor{}
		}
		e.monitor = m
		return nil
	}
}

// NewEngine creates a retrieval engine.
func NewEngine(store Store, embedder ai.Embedder, generator ai.Generator, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	e := &Engine{
		store:        store,
		embedder:     embedder,
		generator:    generator,
		monitor:      &noopMonitor{},
		historyTurns: DefaultHistoryTurns,
		topK:         DefaultTopK,
		metrics:      NewMetrics(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "retrieval")
	if e.rewriter == nil {
		e.rewriter = NewLLMRewriter(generator, e.logger)
	}
	return e, nil
}

// Ask answers query for tenant within a session. An empty sessionID starts a
// new session. The session is appended to only if the call succeeds; when the
// tenant has nothing indexed the fixed NoKnowledgeResponse is returned and
// recorded without calling the model.
func (e *Engine) Ask(ctx context.Context, tenant core.TenantID, sessionID, query string) (*Answer, error) {
	start := time.Now()
	answer, err := e.ask(ctx, tenant, sessionID, query)
	e.metrics.RequestDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil && answer.NoKnowledge:
		e.metrics.RequestsTotal.WithLabelValues("no_knowledge").Inc()
	case err == nil:
		e.metrics.RequestsTotal.WithLabelValues("answered").Inc()
	case errors.Is(err, ErrTimeout):
		e.metrics.RequestsTotal.WithLabelValues("timeout").Inc()
	default:
		e.metrics.RequestsTotal.WithLabelValues("error").Inc()
	}
	return answer, err
}

func (e *Engine) ask(ctx context.Context, tenant core.TenantID, sessionID, query string) (*Answer, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if err := core.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logger := e.logger.With("tenant", tenant, "session", sessionID)
	e.monitor.Start(tenant, query)

	var history []core.Turn
	if e.historyTurns > 0 {
		var err error
		history, err = e.store.RecentTurns(ctx, tenant, sessionID, e.historyTurns)
		if err != nil {
			return nil, e.fail(ctx, logger, "load history", err)
		}
	}
	e.monitor.AfterHistory(history)

	rewritten, err := e.rewriter.Rewrite(ctx, history, query)
	if err != nil {
		return nil, e.fail(ctx, logger, "rewrite query", err)
	}
	if rewritten = strings.TrimSpace(rewritten); rewritten == "" {
		rewritten = query
	}
	e.monitor.AfterRewrite(rewritten)
	if rewritten != query {
		logger.Debug("query rewritten", "query", query, "rewritten", rewritten)
	}

	answer := &Answer{SessionID: sessionID, Query: query, RewrittenQuery: rewritten}

	vector, err := e.embedder.EmbedText(ctx, rewritten)
	if err != nil {
		return nil, e.fail(ctx, logger, "embed query", err)
	}

	matches, err := e.store.NearestChildren(ctx, tenant, core.NormalizeVector(vector), e.topK)
	if core.IsNotReady(err) {
		logger.Info("tenant has no indexed content")
		answer.Text = NoKnowledgeResponse
		answer.NoKnowledge = true
		if err := e.record(ctx, tenant, sessionID, query, answer.Text); err != nil {
			return nil, e.fail(ctx, logger, "record turn", err)
		}
		e.monitor.Finish(answer)
		return answer, nil
	}
	if err != nil {
		return nil, e.fail(ctx, logger, "nearest children", err)
	}
	e.monitor.AfterNearestChildren(matches)

	candidates, err := e.resolve(ctx, logger, tenant, matches)
	if err != nil {
		return nil, e.fail(ctx, logger, "resolve parents", err)
	}
	if e.reranker != nil {
		candidates, err = e.reranker.Rerank(ctx, rewritten, candidates)
		if err != nil {
			return nil, e.fail(ctx, logger, "rerank", err)
		}
	}
	e.monitor.AfterResolveParents(candidates)
	e.metrics.ParentsUsed.Observe(float64(len(candidates)))

	text, err := e.generator.Generate(ctx, BuildPrompt(candidates, history, rewritten))
	if err != nil {
		return nil, e.fail(ctx, logger, "generate", &core.GenerationError{Err: err})
	}
	answer.Text = strings.TrimSpace(text)
	if answer.Text == "" {
		return nil, e.fail(ctx, logger, "generate", &core.GenerationError{Err: errEmptyGeneration})
	}
	for _, c := range candidates {
		answer.CitedParentIDs = append(answer.CitedParentIDs, c.Parent.Id)
		answer.Citations = append(answer.Citations, Citation{
			ParentID: c.Parent.Id,
			Source:   c.Parent.Source,
			Page:     c.Parent.PageNumber,
			Distance: c.Distance,
		})
	}

	if err := e.record(ctx, tenant, sessionID, query, answer.Text); err != nil {
		return nil, e.fail(ctx, logger, "record turn", err)
	}
	logger.Debug("question answered", "parents", len(candidates))
	e.monitor.Finish(answer)
	return answer, nil
}

// resolve deduplicates parents of matches, ordered by their closest child.
func (e *Engine) resolve(ctx context.Context, logger *slog.Logger, tenant core.TenantID, matches []core.ChildMatch) ([]Candidate, error) {
	order := make([]core.ID, 0, len(matches))
	best := make(map[core.ID]float32, len(matches))
	for _, m := range matches {
		d, ok := best[m.ParentId]
		if !ok {
			order = append(order, m.ParentId)
			best[m.ParentId] = m.Distance
		} else if m.Distance < d {
			best[m.ParentId] = m.Distance
		}
	}
	if len(order) == 0 {
		return nil, nil
	}

	found, missing, err := e.store.ResolveParents(ctx, tenant, order)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		logger.Warn("children reference missing parents", "missing", len(missing))
	}

	byID := make(map[core.ID]*core.ParentChunk, len(found))
	for _, p := range found {
		byID[p.Id] = p
	}
	candidates := make([]Candidate, 0, len(found))
	for _, id := range order {
		if p, ok := byID[id]; ok {
			candidates = append(candidates, Candidate{Parent: p, Distance: best[id]})
		}
	}
	return candidates, nil
}

// record appends the question and answer as one write.
func (e *Engine) record(ctx context.Context, tenant core.TenantID, sessionID, query, answer string) error {
	now := time.Now().UTC()
	return e.store.AppendTurns(ctx, tenant, sessionID,
		core.Turn{Role: core.RoleUser, Text: query, Timestamp: now},
		core.Turn{Role: core.RoleAssistant, Text: answer, Timestamp: now},
	)
}

// fail maps an expired deadline to ErrTimeout and logs the failing step.
func (e *Engine) fail(ctx context.Context, logger *slog.Logger, step string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("retrieval timed out", "step", step)
		return fmt.Errorf("%w during %s: %w", ErrTimeout, step, context.DeadlineExceeded)
	}
	logger.Error("retrieval failed", "step", step, "error", err)
	return err
}
