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


package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/poiesic/folio/core"
)

// DefaultDimensions is the vector length produced by MockEmbedder.
const DefaultDimensions = 256

var errRateLimited = errors.New("429 too many requests")

// MockEmbedder is a test double for ai.Embedder. It is safe for concurrent use.
type MockEmbedder struct {
	// EmbedTextsFunc replaces the default behaviour when set.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dim       int
	mu        sync.Mutex
	failures  []error
	callCount int
	texts     int
}

// NewMockEmbedder creates a mock embedder with bag-of-words behaviour.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{dim: DefaultDimensions}
}

// FailNext queues errors returned by the next calls, one per call.
func (m *MockEmbedder) FailNext(errs ...error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
	return m
}

// RateLimited is shorthand for a rate limit failure.
func RateLimited() error {
	return &core.EmbeddingError{Kind: core.EmbeddingRateLimited, Err: errRateLimited}
}

// InvalidInput is shorthand for a rejected input failure.
func InvalidInput() error {
	return &core.EmbeddingError{Kind: core.EmbeddingInvalidInput, Err: core.ErrEmptyContent}
}

// EmbedText generates a vector for a single text.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates one vector per text, or returns the next queued failure.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.callCount++
	m.texts += len(texts)
	var failure error
	if len(m.failures) > 0 {
		failure = m.failures[0]
		m.failures = m.failures[1:]
	}
	fn := m.EmbedTextsFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &core.EmbeddingError{Kind: core.EmbeddingUnavailable, Err: err}
	}
	if failure != nil {
		return nil, failure
	}
	if fn != nil {
		return fn(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = Vector(text, m.dim)
	}
	return vectors, nil
}

// CallCount returns the number of EmbedTexts calls, including failed ones.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// TextCount returns how many texts were submitted in total.
func (m *MockEmbedder) TextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// Reset clears counters, queued failures and the override.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.texts = 0
	m.failures = nil
	m.EmbedTextsFunc = nil
}

// Vector hashes each lowercased word of text into one of dim buckets and
// normalizes the result. Texts that share words point in similar directions.
// Text without any word still gets a non-zero vector.
func Vector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		words = []string{text}
	}
	for _, word := range words {
		h := fnv.New32a()
		h.Write([]byte(word))
		vector[h.Sum32()%uint32(dim)] += 1
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v * v)
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}
