package mock

import (
	"context"
	"sync"

	"github.com/poiesic/folio/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc replaces the default behaviour when set.
	GenerateFunc func(ctx context.Context, messages []ai.Message) (string, error)

	mu        sync.Mutex
	responses []string
	requests  [][]ai.Message
}

// NewMockGenerator returns responses in order, then echoes the last user message.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// Generate records the request and returns the next scripted reply.
func (m *MockGenerator) Generate(ctx context.Context, messages []ai.Message) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, append([]ai.Message(nil), messages...))
	fn := m.GenerateFunc
	var reply string
	scripted := len(m.responses) > 0
	if scripted {
		reply = m.responses[0]
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if scripted {
		return reply, nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ai.RoleUser {
			return messages[i].Content, nil
		}
	}
	return "", nil
}

// Requests returns copies of every request received.
func (m *MockGenerator) Requests() [][]ai.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]ai.Message(nil), m.requests...)
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
