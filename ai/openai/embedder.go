package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

var (
	errCountMismatch = errors.New("embedding count does not match input count")
	errEmptyVector   = errors.New("embedding service returned an empty vector")
	errDimension     = errors.New("embedding dimensions differ within a batch")
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	client    embeddings.EmbedderClient
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}
	return newEmbedderWithClient(client, config), nil
}

func newEmbedderWithClient(client embeddings.EmbedderClient, config *ai.Config) *Embedder {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &Embedder{
		client:    client,
		batchSize: max(config.BatchSize, 1),
		limiter:   rate.NewLimiter(limit, 1),
		logger:    slog.Default().With("component", "openai-embedder"),
	}
}

// NewEmbedder creates a new embedder using the provided configuration.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings in batches. Either every text gets a
// vector of the same dimension or an error is returned.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, &core.EmbeddingError{Kind: core.EmbeddingInvalidInput, Err: core.ErrEmptyContent}
		}
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	result := make([][]float32, 0, len(texts))
	for _, batch := range embeddings.BatchTexts(texts, e.batchSize) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &core.EmbeddingError{Kind: core.EmbeddingUnavailable, Err: err}
		}
		vectors, err := e.client.CreateEmbedding(ctx, batch)
		if err != nil {
			e.logger.Error("failed to generate embeddings", "count", len(batch), "err", err)
			return nil, classifyError(err)
		}
		if len(vectors) != len(batch) {
			return nil, &core.EmbeddingError{Kind: core.EmbeddingUnavailable, Err: errCountMismatch}
		}
		result = append(result, vectors...)
	}

	dim := len(result[0])
	for _, v := range result {
		if len(v) == 0 {
			return nil, &core.EmbeddingError{Kind: core.EmbeddingUnavailable, Err: errEmptyVector}
		}
		if len(v) != dim {
			return nil, &core.EmbeddingError{Kind: core.EmbeddingUnavailable, Err: errDimension}
		}
	}
	return result, nil
}

// classifyError maps a provider error onto the embedding error kinds.
// Anything not recognised as rate limiting or bad input is treated as an outage.
func classifyError(err error) *core.EmbeddingError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &core.EmbeddingError{Kind: core.EmbeddingUnavailable, Err: err}
	}
	mapped := openai.MapError(err)
	switch {
	case llms.IsRateLimitError(mapped), llms.IsQuotaExceededError(mapped):
		return &core.EmbeddingError{Kind: core.EmbeddingRateLimited, Err: mapped}
	case llms.IsInvalidRequestError(mapped), llms.IsTokenLimitError(mapped), llms.IsContentFilterError(mapped):
		return &core.EmbeddingError{Kind: core.EmbeddingInvalidInput, Err: mapped}
	default:
		return &core.EmbeddingError{Kind: core.EmbeddingUnavailable, Err: fmt.Errorf("embedding request: %w", mapped)}
	}
}
