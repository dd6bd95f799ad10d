package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadweave/threadweave/approval"
	"github.com/threadweave/threadweave/compaction"
	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/model"
	"github.com/threadweave/threadweave/store"
	"github.com/threadweave/threadweave/tokens"
	"github.com/threadweave/threadweave/tool"
)

func usage(total int) *core.TokenUsage {
	return &core.TokenUsage{PromptTokens: total / 2, CompletionTokens: total - total/2, TotalTokens: total}
}

func eventTypes(events []core.ThreadEvent) []core.EventType {
	out := make([]core.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestAgent_BasicTurn(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueText("hello", usage(10))

	a := New("t1", log, mock, WithSystemPrompt("be helpful"))
	require.Equal(t, StateIdle, a.State())

	final, err := a.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", final)
	assert.Equal(t, StateIdle, a.State())

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{
		core.EventSystemPrompt,
		core.EventUserMessage,
		core.EventAgentMessage,
	}, eventTypes(events))
	assert.Equal(t, "hello", events[2].Text())
	require.NotNil(t, events[2].Usage)
	assert.Equal(t, 10, events[2].Usage.TotalTokens)
}

func TestAgent_SystemPromptAppendedOnce(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueText("one", nil)
	mock.EnqueueText("two", nil)

	a := New("t1", log, mock, WithSystemPrompt("be helpful"))
	_, err := a.SendMessage(context.Background(), "first")
	require.NoError(t, err)
	_, err = a.SendMessage(context.Background(), "second")
	require.NoError(t, err)

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	prompts := 0
	for _, ev := range events {
		if ev.Type == core.EventSystemPrompt {
			prompts++
		}
	}
	assert.Equal(t, 1, prompts)
}

func TestAgent_ToolRoundTrip(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueToolCalls(model.ToolCall{ID: "c1", Name: "calculate_sum", Arguments: `{"a": 2, "b": 3}`})
	mock.EnqueueText("the sum is 5", usage(20))

	registry := tool.NewRegistry(nil)
	registry.Register(tool.NewFunctionTool("calculate_sum", "adds numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
		tool.WithReadOnly(),
	))

	a := New("t1", log, mock, WithTools(registry))
	final, err := a.SendMessage(context.Background(), "what is 2+3?")
	require.NoError(t, err)
	assert.Equal(t, "the sum is 5", final)
	assert.Equal(t, 2, mock.Calls())

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{
		core.EventUserMessage,
		core.EventToolCall,
		core.EventToolResult,
		core.EventAgentMessage,
	}, eventTypes(events))

	assert.Equal(t, "5", events[2].ToolResult.Content)
	assert.False(t, events[2].ToolResult.IsError)
	assert.Equal(t, "c1", events[2].ToolResult.CallID)
	require.NotNil(t, events[1].Usage, "a pure tool-call response carries usage on its first tool_call event")
}

func TestAgent_DeniedToolCall(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueToolCalls(model.ToolCall{ID: "c1", Name: "write_file", Arguments: `{"path": "/etc/passwd"}`})
	mock.EnqueueText("I could not write the file", nil)

	executed := false
	registry := tool.NewRegistry(nil)
	registry.Register(tool.NewFunctionTool("write_file", "writes a file",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		func(_ context.Context, _ map[string]any) (any, error) {
			executed = true
			return "written", nil
		},
	))

	a := New("t1", log, mock, WithTools(registry), WithGate(approval.DenyAll()))
	final, err := a.SendMessage(context.Background(), "write the file")
	require.NoError(t, err, "a denied call fails the call, not the turn")
	assert.Equal(t, "I could not write the file", final)
	assert.False(t, executed, "denied tools never execute")

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{
		core.EventUserMessage,
		core.EventToolCall,
		core.EventApprovalRequest,
		core.EventApprovalResponse,
		core.EventToolResult,
		core.EventAgentMessage,
	}, eventTypes(events))

	assert.Equal(t, string(approval.Deny), events[3].Response.Decision)
	assert.Equal(t, events[2].Request.RequestID, events[3].Response.RequestID)
	assert.True(t, events[4].ToolResult.IsError)
	assert.Contains(t, events[4].ToolResult.Content, tool.CodeDenied)
}

func TestAgent_SessionApprovalCached(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueToolCalls(model.ToolCall{ID: "c1", Name: "write_file", Arguments: `{"path": "a"}`})
	mock.EnqueueText("done once", nil)
	mock.EnqueueToolCalls(model.ToolCall{ID: "c2", Name: "write_file", Arguments: `{"path": "b"}`})
	mock.EnqueueText("done twice", nil)

	registry := tool.NewRegistry(nil)
	registry.Register(tool.NewFunctionTool("write_file", "writes a file",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil },
	))

	gateCalls := 0
	gate := approval.GateFunc(func(context.Context, approval.Request) (approval.Decision, error) {
		gateCalls++
		return approval.AllowSession, nil
	})

	a := New("t1", log, mock, WithTools(registry), WithGate(gate))
	_, err := a.SendMessage(context.Background(), "write a")
	require.NoError(t, err)
	_, err = a.SendMessage(context.Background(), "write b")
	require.NoError(t, err)

	assert.Equal(t, 1, gateCalls, "session allowance skips the gate on later calls")
}

func TestAgent_ApprovalTimeoutDenies(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueToolCalls(model.ToolCall{ID: "c1", Name: "write_file", Arguments: `{"path": "a"}`})
	mock.EnqueueText("blocked", nil)

	registry := tool.NewRegistry(nil)
	registry.Register(tool.NewFunctionTool("write_file", "writes a file",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil },
	))

	silent := approval.GateFunc(func(ctx context.Context, _ approval.Request) (approval.Decision, error) {
		<-ctx.Done()
		return approval.AllowOnce, ctx.Err()
	})

	a := New("t1", log, mock,
		WithTools(registry),
		WithGate(silent),
		WithApprovalTimeout(20*time.Millisecond),
	)
	_, err := a.SendMessage(context.Background(), "write the file")
	require.NoError(t, err)

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	var result *core.ToolResultPayload
	for _, ev := range events {
		if ev.Type == core.EventToolResult {
			result = ev.ToolResult
		}
	}
	require.NotNil(t, result)
	assert.True(t, result.IsError, "an unanswered approval resolves to deny")
}

func TestAgent_RetriesTransientProviderErrors(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueError(errors.New("429 rate limit exceeded"))
	mock.EnqueueText("recovered", nil)

	a := New("t1", log, mock, WithRetry(3, time.Millisecond))
	final, err := a.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", final)
	assert.Equal(t, 2, mock.Calls())
}

func TestAgent_NonRetryableErrorFailsTurn(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueError(errors.New("invalid api key"))

	a := New("t1", log, mock, WithRetry(3, time.Millisecond))
	_, err := a.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 1, mock.Calls(), "authentication errors are not retried")
	assert.Equal(t, StateIdle, a.State(), "a failed turn still returns to idle")

	events, readErr := a.History(context.Background(), false)
	require.NoError(t, readErr)
	last := events[len(events)-1]
	require.Equal(t, core.EventTurnError, last.Type)
	assert.Equal(t, ErrCodeProvider, last.Error.Code)
	assert.Contains(t, last.Error.Message, "invalid api key")
}

func TestAgent_RetryExhaustionFailsTurn(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueError(errors.New("503 service unavailable"))
	mock.EnqueueError(errors.New("503 service unavailable"))

	a := New("t1", log, mock, WithRetry(2, time.Millisecond))
	_, err := a.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, mock.Calls())
}

func TestAgent_ToolRoundsExhausted(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueToolCalls(model.ToolCall{ID: "c1", Name: "noop", Arguments: `{}`})
	mock.EnqueueToolCalls(model.ToolCall{ID: "c2", Name: "noop", Arguments: `{}`})

	registry := tool.NewRegistry(nil)
	registry.Register(tool.NewFunctionTool("noop", "does nothing",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil },
		tool.WithReadOnly(),
	))

	a := New("t1", log, mock, WithTools(registry), func(o *Options) { o.MaxToolRounds = 2 })
	_, err := a.SendMessage(context.Background(), "loop forever")
	require.Error(t, err)

	events, readErr := a.History(context.Background(), false)
	require.NoError(t, readErr)
	last := events[len(events)-1]
	require.Equal(t, core.EventTurnError, last.Type)
	assert.Equal(t, ErrCodeToolRounds, last.Error.Code)
}

func TestAgent_CancellationRecordsInterrupted(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueError(errors.New("503 unavailable"))
	mock.EnqueueText("never reached", nil)

	ctx, cancel := context.WithCancel(context.Background())
	a := New("t1", log, mock, WithRetry(3, time.Hour)) // the retry sleep only ends via ctx

	done := make(chan error, 1)
	go func() {
		_, err := a.SendMessage(ctx, "hi")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, a.State())

	events, readErr := a.History(context.Background(), false)
	require.NoError(t, readErr)
	last := events[len(events)-1]
	require.Equal(t, core.EventTurnError, last.Type)
	assert.Equal(t, ErrCodeInterrupted, last.Error.Code)
}

func TestAgent_BusyRejectsConcurrentTurns(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")

	a := New("t1", log, mock)
	require.NoError(t, a.begin(StateDispatching))

	_, err := a.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, a.Compact(context.Background()), ErrBusy)
}

func TestAgent_CompactWithoutStrategy(t *testing.T) {
	a := New("t1", store.NewMemory(), model.NewMockModel("mock-1"))
	assert.ErrorIs(t, a.Compact(context.Background()), ErrNoStrategy)
	assert.Equal(t, StateIdle, a.State())
}

func TestAgent_ManualCompactCommand(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueText("the answer", usage(50))
	mock.EnqueueText("summary of prior work", nil)

	a := New("t1", log, mock,
		WithSystemPrompt("be helpful"),
		WithStrategy(compaction.NewSummarizer(mock)),
	)
	_, err := a.SendMessage(context.Background(), "a question")
	require.NoError(t, err)

	final, err := a.SendMessage(context.Background(), " /compact ")
	require.NoError(t, err)
	assert.Empty(t, final, "the compact command produces no assistant reply")

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	var compact *core.CompactionPayload
	notices := 0
	for _, ev := range events {
		switch ev.Type {
		case core.EventCompaction:
			compact = ev.Compaction
		case core.EventSystemNotice:
			notices++
		}
	}
	require.NotNil(t, compact)
	assert.Equal(t, 1, notices)
	assert.Equal(t, 1, compact.PreservedUserMessages)

	visible := core.VisibleAfter(events)
	require.NotEmpty(t, visible)
	assert.Equal(t, core.EventSystemPrompt, visible[0].Type)
	assert.Equal(t, []string{"a question"}, threadUserMessages(visible))
}

func threadUserMessages(events []core.ThreadEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.IsUserMessage() {
			out = append(out, ev.Text())
		}
	}
	return out
}

func TestAgent_AutoCompactionAtThreshold(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1").WithContextWindow(10000)
	mock.EnqueueText("a very long answer", usage(8500)) // 85% of the window
	mock.EnqueueText("summary of prior work", nil)

	a := New("t1", log, mock,
		WithStrategy(compaction.NewSummarizer(mock)),
		WithCompaction(0.8, time.Minute),
	)
	_, err := a.SendMessage(context.Background(), "do a lot of work")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Calls(), "the summarization call follows the turn")

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	compactions := 0
	for _, ev := range events {
		if ev.Type == core.EventCompaction {
			compactions++
		}
	}
	assert.Equal(t, 1, compactions)

	visible := core.VisibleAfter(events)
	assert.Less(t, cumulativeUsage(visible).TotalTokens, 8500,
		"compaction resets the running total to the replacement's cost")
}

func TestAgent_AutoCompactionBelowThreshold(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1").WithContextWindow(10000)
	mock.EnqueueText("a modest answer", usage(2000))

	a := New("t1", log, mock,
		WithStrategy(compaction.NewSummarizer(mock)),
		WithCompaction(0.8, time.Minute),
	)
	_, err := a.SendMessage(context.Background(), "small question")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Calls(), "no summarization below the threshold")
}

func TestAgent_AutoCompactionCooldown(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1").WithContextWindow(10000)
	mock.EnqueueText("first big answer", usage(8500))
	mock.EnqueueText("summary", nil)
	mock.EnqueueText("second big answer", usage(9000))
	// no second summary scripted: a second compaction would fall through to
	// the echo response and the count below would catch it

	a := New("t1", log, mock,
		WithStrategy(compaction.NewSummarizer(mock)),
		WithCompaction(0.8, time.Hour),
	)
	_, err := a.SendMessage(context.Background(), "round one")
	require.NoError(t, err)
	_, err = a.SendMessage(context.Background(), "round two")
	require.NoError(t, err)

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)
	compactions := 0
	for _, ev := range events {
		if ev.Type == core.EventCompaction {
			compactions++
		}
	}
	assert.Equal(t, 1, compactions, "the cooldown suppresses back-to-back compactions")
}

func TestAgent_CompactionFailureDoesNotFailTurn(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1").WithContextWindow(10000)
	mock.EnqueueText("big answer", usage(9000))
	mock.EnqueueError(errors.New("invalid api key")) // summarization fails

	a := New("t1", log, mock,
		WithStrategy(compaction.NewSummarizer(mock)),
		WithCompaction(0.8, time.Minute),
		WithRetry(1, time.Millisecond),
	)
	final, err := a.SendMessage(context.Background(), "do work")
	require.NoError(t, err, "a failed auto-compaction never fails the turn that triggered it")
	assert.Equal(t, "big answer", final)

	events, readErr := a.History(context.Background(), false)
	require.NoError(t, readErr)
	for _, ev := range events {
		assert.NotEqual(t, core.EventCompaction, ev.Type)
	}
}

func TestAgent_DefaultCounterChainsTiktoken(t *testing.T) {
	a := New("t1", store.NewMemory(), model.NewMockModel("mock-1"))
	assert.IsType(t, &tokens.Chain{}, a.opts.Counter,
		"usage estimation tries exact BPE counts before the character heuristic")
}

func TestAgent_EachCallResolvesExactlyOnce(t *testing.T) {
	log := store.NewMemory()
	mock := model.NewMockModel("mock-1")
	mock.EnqueueToolCalls(
		model.ToolCall{ID: "c1", Name: "write_file", Arguments: `{"path": "a"}`},
		model.ToolCall{ID: "c2", Name: "write_file", Arguments: `{"path": "b"}`},
	)
	mock.EnqueueText("both written", nil)

	registry := tool.NewRegistry(nil)
	registry.Register(tool.NewFunctionTool("write_file", "writes a file",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil },
	))

	gate := approval.GateFunc(func(context.Context, approval.Request) (approval.Decision, error) {
		return approval.AllowOnce, nil
	})

	a := New("t1", log, mock, WithTools(registry), WithGate(gate))
	final, err := a.SendMessage(context.Background(), "write both files")
	require.NoError(t, err)
	assert.Equal(t, "both written", final)

	events, err := a.History(context.Background(), false)
	require.NoError(t, err)

	resultsPerCall := map[string]int{}
	responsesPerRequest := map[string]int{}
	requestIDs := map[string]int{}
	for _, ev := range events {
		switch ev.Type {
		case core.EventToolResult:
			resultsPerCall[ev.ToolResult.CallID]++
		case core.EventApprovalRequest:
			requestIDs[ev.Request.RequestID]++
		case core.EventApprovalResponse:
			responsesPerRequest[ev.Response.RequestID]++
		}
	}

	assert.Equal(t, map[string]int{"c1": 1, "c2": 1}, resultsPerCall,
		"every tool call resolves to exactly one result")
	require.Len(t, requestIDs, 2)
	for id, n := range requestIDs {
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, responsesPerRequest[id],
			"every approval request resolves to exactly one response")
	}
	assert.Len(t, responsesPerRequest, 2)
}
