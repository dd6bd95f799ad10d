// Package compaction implements strategies that transform a thread's visible
// event history into a smaller equivalent history. A strategy is a pure
// function over its input: it never touches the log, so a failed compaction
// simply produces no compaction event.
//
// Every shipped strategy obeys the one hard rule: user messages are always
// fully preserved. Compaction collapses agent and tool verbosity, never user
// intent.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/logging"
	"github.com/threadweave/threadweave/model"
)

// Strategy produces a compaction payload from the visible event sequence.
type Strategy interface {
	Compact(ctx context.Context, events []core.ThreadEvent) (core.CompactionPayload, error)
}

const summarizeInstruction = `Summarize the assistant and tool activity below for conversation continuity. Produce a structured summary covering:
1. Original intent: what the user asked for
2. Work completed so far
3. Current state
4. Pending work
5. Important technical context (names, paths, decisions, constraints)

Be concise but do not drop information needed to continue the work.`

// Summarizer is the shipped strategy: it sends the non-user events (plus the
// most recent handful of exchanges for continuity) back to the model with a
// self-summarization instruction, then builds the replacement sequence as
// [system prompt, if present] + [summary as one agent message] + [every user
// message, in order].
type Summarizer struct {
	model      model.Model
	keepRecent int
	logger     logging.Logger
}

var _ Strategy = (*Summarizer)(nil)

// SummarizerOption customizes a Summarizer.
type SummarizerOption func(*Summarizer)

// WithKeepRecent sets how many trailing events are quoted verbatim in the
// summarization request for continuity. Default 6.
func WithKeepRecent(n int) SummarizerOption {
	return func(s *Summarizer) { s.keepRecent = n }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) SummarizerOption {
	return func(s *Summarizer) { s.logger = l }
}

// NewSummarizer constructs the model-backed strategy.
func NewSummarizer(m model.Model, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{model: m, keepRecent: 6, logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compact implements Strategy.
func (s *Summarizer) Compact(ctx context.Context, events []core.ThreadEvent) (core.CompactionPayload, error) {
	var (
		systemPrompt *core.ThreadEvent
		userEvents   []core.ThreadEvent
		otherCount   int
	)
	threadID := core.ThreadID("")
	for i, ev := range events {
		threadID = ev.ThreadID
		switch {
		case ev.Type == core.EventSystemPrompt && systemPrompt == nil:
			prompt := events[i]
			systemPrompt = &prompt
		case ev.IsUserMessage():
			userEvents = append(userEvents, ev)
		default:
			otherCount++
		}
	}

	summary := ""
	if otherCount > 0 {
		text, err := s.summarize(ctx, events)
		if err != nil {
			return core.CompactionPayload{}, fmt.Errorf("summarize history: %w", err)
		}
		summary = text
	}

	replacement := make([]core.ThreadEvent, 0, len(userEvents)+2)
	if systemPrompt != nil {
		replacement = append(replacement, core.NewSystemPromptEvent(threadID, systemPrompt.Text()))
	}
	if summary != "" {
		replacement = append(replacement, core.NewAgentMessageEvent(threadID, summary, nil))
	}
	for _, ev := range userEvents {
		replacement = append(replacement, core.NewUserMessageEvent(threadID, ev.Text()))
	}

	s.logger.Info("compaction.built",
		"original", len(events), "replacement", len(replacement),
		"preserved_user_messages", len(userEvents), "summary_length", len(summary))

	return core.CompactionPayload{
		Replacement:           replacement,
		OriginalCount:         len(events),
		PreservedUserMessages: len(userEvents),
		SummaryLength:         len(summary),
	}, nil
}

// summarize asks the model itself to compress the history.
func (s *Summarizer) summarize(ctx context.Context, events []core.ThreadEvent) (string, error) {
	transcript := renderTranscript(events, s.keepRecent)

	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: summarizeInstruction + "\n\n---\n\n" + transcript},
		},
	}

	respCh, errCh := s.model.Generate(ctx, req)
	var final string
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				final = resp.Content
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}
	if final == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return final, nil
}

// renderTranscript produces a plain-text view of the history for the
// summarization request. Older user messages are elided down to a marker
// (they are preserved verbatim in the replacement sequence); the trailing
// keepRecent events are quoted in full for continuity.
func renderTranscript(events []core.ThreadEvent, keepRecent int) string {
	recentStart := len(events) - keepRecent
	if recentStart < 0 {
		recentStart = 0
	}
	var b strings.Builder
	for i, ev := range events {
		recent := i >= recentStart
		switch ev.Type {
		case core.EventUserMessage:
			if recent {
				fmt.Fprintf(&b, "[user] %s\n", ev.Text())
			} else {
				b.WriteString("[user message, preserved verbatim]\n")
			}
		case core.EventAgentMessage:
			fmt.Fprintf(&b, "[assistant] %s\n", ev.Text())
		case core.EventToolCall:
			fmt.Fprintf(&b, "[tool call %s] %s\n", ev.ToolCall.Name, ev.ToolCall.Arguments)
		case core.EventToolResult:
			status := "ok"
			if ev.ToolResult.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "[tool result %s %s] %s\n", ev.ToolResult.Name, status, ev.ToolResult.Content)
		case core.EventTurnError:
			fmt.Fprintf(&b, "[turn error %s] %s\n", ev.Error.Code, ev.Error.Message)
		}
	}
	return b.String()
}
