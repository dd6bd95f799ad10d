// Package testutil provides builders for constructing thread histories in
// tests without repeating event plumbing.
package testutil

import (
	"context"
	"testing"

	"github.com/threadweave/threadweave/core"
)

// ThreadBuilder appends events to a log under one thread id.
type ThreadBuilder struct {
	t   *testing.T
	log core.Log
	id  core.ThreadID
}

// NewThreadBuilder starts a builder for the given log and thread.
func NewThreadBuilder(t *testing.T, log core.Log, id core.ThreadID) *ThreadBuilder {
	t.Helper()
	return &ThreadBuilder{t: t, log: log, id: id}
}

// ID returns the thread id under construction.
func (b *ThreadBuilder) ID() core.ThreadID { return b.id }

func (b *ThreadBuilder) append(ev core.ThreadEvent) *ThreadBuilder {
	b.t.Helper()
	if _, err := b.log.Append(context.Background(), ev); err != nil {
		b.t.Fatalf("append %s: %v", ev.Type, err)
	}
	return b
}

// System appends a system prompt event.
func (b *ThreadBuilder) System(content string) *ThreadBuilder {
	return b.append(core.NewSystemPromptEvent(b.id, content))
}

// User appends a user message event.
func (b *ThreadBuilder) User(content string) *ThreadBuilder {
	return b.append(core.NewUserMessageEvent(b.id, content))
}

// Agent appends an agent message event with the given total token usage.
func (b *ThreadBuilder) Agent(content string, totalTokens int) *ThreadBuilder {
	var usage *core.TokenUsage
	if totalTokens > 0 {
		usage = &core.TokenUsage{TotalTokens: totalTokens}
	}
	return b.append(core.NewAgentMessageEvent(b.id, content, usage))
}

// ToolCall appends a tool call event.
func (b *ThreadBuilder) ToolCall(callID, name, args string) *ThreadBuilder {
	return b.append(core.NewToolCallEvent(b.id, callID, name, args))
}

// ToolResult appends a successful tool result event.
func (b *ThreadBuilder) ToolResult(callID, name, content string) *ThreadBuilder {
	return b.append(core.NewToolResultEvent(b.id, core.ToolResultPayload{
		CallID: callID, Name: name, Content: content,
	}))
}

// Events reads back the full sequence.
func (b *ThreadBuilder) Events() []core.ThreadEvent {
	b.t.Helper()
	events, err := b.log.Read(context.Background(), b.id)
	if err != nil {
		b.t.Fatalf("read thread: %v", err)
	}
	return events
}
