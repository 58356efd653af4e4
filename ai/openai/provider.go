package openai

import (
	"fmt"
	"log/slog"

	"github.com/poiesic/folio/ai"
)

// Provider pairs an Embedder and a Generator built from one ai.Config.
type Provider struct {
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

// NewProvider validates a copy of config and builds both clients from it.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if config == nil {
		config = ai.DefaultConfig()
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(&cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	generator, err := newGenerator(&cfg)
	if err != nil {
		return nil, fmt.Errorf("generation client: %w", err)
	}

	logger := slog.Default().With("component", "openai-provider")
	logger.Debug("provider ready",
		"embedding_host", cfg.EmbeddingHost, "embedding_model", cfg.EmbeddingModel,
		"generation_host", cfg.GenerationHost, "generation_model", cfg.GenerationModel)

	return &Provider{embedder: embedder, generator: generator, logger: logger}, nil
}

func (p *Provider) Embedder() ai.Embedder   { return p.embedder }
func (p *Provider) Generator() ai.Generator { return p.generator }

// Close is a no-op; the HTTP clients hold no resources that need releasing.
func (p *Provider) Close() error {
	p.logger.Debug("provider closed")
	return nil
}
