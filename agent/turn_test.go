package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/internal/testutil"
	"github.com/threadweave/threadweave/model"
	"github.com/threadweave/threadweave/store"
)

func TestBuildRequest_ReconstructsConversation(t *testing.T) {
	log := store.NewMemory()
	testutil.NewThreadBuilder(t, log, "t1").
		System("be helpful").
		User("check the weather").
		ToolCall("c1", "get_weather", `{"city":"Berlin"}`).
		ToolResult("c1", "get_weather", "sunny, 22C").
		Agent("It is sunny in Berlin.", 40).
		User("and tomorrow?")

	a := New("t1", log, model.NewMockModel("mock-1"))
	req, err := a.buildRequest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "be helpful", req.System)
	require.Len(t, req.Messages, 5)

	assert.Equal(t, model.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "check the weather", req.Messages[0].Content)

	// a bare tool call becomes an assistant message carrying the call
	assert.Equal(t, model.RoleAssistant, req.Messages[1].Role)
	require.Len(t, req.Messages[1].ToolCalls, 1)
	assert.Equal(t, "get_weather", req.Messages[1].ToolCalls[0].Name)

	assert.Equal(t, model.RoleTool, req.Messages[2].Role)
	assert.Equal(t, "c1", req.Messages[2].ToolCallID)
	assert.Equal(t, "sunny, 22C", req.Messages[2].Content)

	assert.Equal(t, model.RoleAssistant, req.Messages[3].Role)
	assert.Equal(t, model.RoleUser, req.Messages[4].Role)
}

func TestBuildRequest_MergesToolCallsIntoPrecedingAssistant(t *testing.T) {
	log := store.NewMemory()
	b := testutil.NewThreadBuilder(t, log, "t1").
		User("do two things").
		Agent("On it.", 0).
		ToolCall("c1", "first_thing", `{}`).
		ToolCall("c2", "second_thing", `{}`).
		ToolResult("c1", "first_thing", "done").
		ToolResult("c2", "second_thing", "done")

	a := New(b.ID(), log, model.NewMockModel("mock-1"))
	req, err := a.buildRequest(context.Background())
	require.NoError(t, err)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "On it.", req.Messages[1].Content)
	require.Len(t, req.Messages[1].ToolCalls, 2, "calls attach to the assistant message that made them")
	assert.Equal(t, "c1", req.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "c2", req.Messages[1].ToolCalls[1].ID)
}

func TestBuildRequest_ExcludesLocalEvents(t *testing.T) {
	log := store.NewMemory()
	ctx := context.Background()
	b := testutil.NewThreadBuilder(t, log, "t1").User("hello")
	for _, ev := range []core.ThreadEvent{
		core.NewSystemNoticeEvent("t1", "history compacted"),
		core.NewApprovalRequestEvent("t1", core.ApprovalRequestPayload{RequestID: "r1", Tool: "x"}),
		core.NewApprovalResponseEvent("t1", "r1", "DENY"),
		core.NewTurnErrorEvent("t1", ErrCodeProvider, "boom"),
	} {
		_, err := log.Append(ctx, ev)
		require.NoError(t, err)
	}

	a := New(b.ID(), log, model.NewMockModel("mock-1"))
	req, err := a.buildRequest(ctx)
	require.NoError(t, err)

	require.Len(t, req.Messages, 1, "notices, approvals and errors stay out of model context")
	assert.Equal(t, "hello", req.Messages[0].Content)
}
