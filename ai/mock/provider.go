package mock

import (
	"sync/atomic"

	"github.com/poiesic/folio/ai"
)

// MockProvider bundles a MockEmbedder and a MockGenerator. Tests reach the
// doubles through the exported fields to script failures.
type MockProvider struct {
	Embed *MockEmbedder
	Gen   *MockGenerator

	closed atomic.Bool
}

// NewMockProvider returns a provider with a default embedder and an echoing generator.
func NewMockProvider() *MockProvider {
	return &MockProvider{Embed: NewMockEmbedder(), Gen: NewMockGenerator()}
}

func (p *MockProvider) Embedder() ai.Embedder   { return p.Embed }
func (p *MockProvider) Generator() ai.Generator { return p.Gen }

func (p *MockProvider) Close() error {
	p.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (p *MockProvider) Closed() bool {
	return p.closed.Load()
}
