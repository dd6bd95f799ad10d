package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Defaults(t *testing.T) {
	ev := NewUserMessageEvent("t1", "hello")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, ThreadID("t1"), ev.ThreadID)
	assert.Equal(t, EventUserMessage, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
	assert.False(t, ev.Transient)
	assert.Equal(t, "hello", ev.Text())
	assert.True(t, ev.IsUserMessage())
}

func TestEventType_AlwaysTransient(t *testing.T) {
	assert.True(t, EventStreamDelta.AlwaysTransient())
	assert.True(t, EventTurnState.AlwaysTransient())
	assert.False(t, EventUserMessage.AlwaysTransient())
	assert.False(t, EventCompaction.AlwaysTransient())

	assert.True(t, NewStreamDeltaEvent("t1", "ch").Transient)
	assert.True(t, NewTurnStateEvent("t1", "dispatching").Transient)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5, Estimated: true})

	assert.Equal(t, 13, u.PromptTokens)
	assert.Equal(t, 7, u.CompletionTokens)
	assert.Equal(t, 20, u.TotalTokens)
	assert.True(t, u.Estimated, "estimated flag is sticky once any component is an estimate")
}

func TestThreadEvent_JSONRoundTrip(t *testing.T) {
	ev := NewToolCallEvent("t1", "call-1", "search", `{"query":"go"}`)
	ev.Seq = 7
	ev.Usage = &TokenUsage{PromptTokens: 12, CompletionTokens: 0, TotalTokens: 12}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded ThreadEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, int64(7), decoded.Seq)
	require.NotNil(t, decoded.ToolCall)
	assert.Equal(t, "call-1", decoded.ToolCall.CallID)
	assert.Equal(t, "search", decoded.ToolCall.Name)
	require.NotNil(t, decoded.Usage)
	assert.Equal(t, 12, decoded.Usage.PromptTokens)
	assert.Nil(t, decoded.Message)
}

func TestNewToolResultEvent(t *testing.T) {
	ev := NewToolResultEvent("t1", ToolResultPayload{
		CallID:  "call-1",
		Name:    "search",
		Content: "no results",
		IsError: true,
	})

	require.NotNil(t, ev.ToolResult)
	assert.Equal(t, EventToolResult, ev.Type)
	assert.True(t, ev.ToolResult.IsError)
	assert.Empty(t, ev.Text(), "tool results carry no message payload")
}
