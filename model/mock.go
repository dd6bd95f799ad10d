package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/threadweave/threadweave/core"
)

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Scripted responses are consumed in order, one per Generate call; once the
// script is exhausted the mock echoes the last user message. Scripted errors
// let tests exercise retry and failure paths.
type MockModel struct {
	info Info

	mu      sync.Mutex
	scripts []scripted
	calls   int
}

type scripted struct {
	resp Response
	err  error
}

// NewMockModel constructs a MockModel with tool support enabled and a
// default 10k-token context window.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", ContextWindow: 10000, SupportsTools: true},
	}
}

// WithContextWindow overrides the advertised context window.
func (m *MockModel) WithContextWindow(n int) *MockModel {
	m.info.ContextWindow = n
	return m
}

// Enqueue schedules the next final response.
func (m *MockModel) Enqueue(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, scripted{resp: resp})
}

// EnqueueText schedules a plain text final response with the given usage.
func (m *MockModel) EnqueueText(content string, usage *core.TokenUsage) {
	m.Enqueue(Response{Content: content, FinishReason: "stop", Usage: usage})
}

// EnqueueToolCalls schedules a final response requesting the given tools.
func (m *MockModel) EnqueueToolCalls(calls ...ToolCall) {
	m.Enqueue(Response{ToolCalls: calls, FinishReason: "tool_calls"})
}

// EnqueueError schedules a failed Generate call.
func (m *MockModel) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, scripted{err: err})
}

// Calls returns how many Generate calls have been made.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls++
	var next *scripted
	if len(m.scripts) > 0 {
		s := m.scripts[0]
		m.scripts = m.scripts[1:]
		next = &s
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if next != nil && next.err != nil {
			errCh <- next.err
			return
		}

		var final Response
		if next != nil {
			final = next.resp
		} else {
			final = Response{Content: fmt.Sprintf("Mock response to: %s", lastUserText(req)), FinishReason: "stop"}
		}

		if req.Stream && final.Content != "" {
			for _, r := range final.Content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()
	return respCh, errCh
}

// Info implements the Model interface.
func (m *MockModel) Info() Info { return m.info }

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
