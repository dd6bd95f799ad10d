package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadweave/threadweave/approval"
	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/model"
	"github.com/threadweave/threadweave/tokens"
	"github.com/threadweave/threadweave/tool"
)

// SendMessage runs one complete turn: it appends the user message, drives
// the provider/tool loop until a response carries no tool calls, and returns
// the final assistant content. Valid only from Idle.
//
// The reserved CompactCommand is intercepted before dispatch and forces a
// manual compaction instead.
func (a *Agent) SendMessage(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == CompactCommand {
		return "", a.Compact(ctx)
	}
	if err := a.begin(StateDispatching); err != nil {
		return "", err
	}
	defer a.setState(context.WithoutCancel(ctx), StateIdle)

	if err := a.ensurePrompt(ctx); err != nil {
		return "", err
	}
	if _, err := a.append(ctx, core.NewUserMessageEvent(a.id, content)); err != nil {
		return "", err
	}

	final, err := a.runTurn(ctx)
	if err != nil {
		return "", err
	}

	a.maybeAutoCompact(ctx)
	return final, nil
}

// ensurePrompt appends the configured system prompt as the thread's first
// event, once.
func (a *Agent) ensurePrompt(ctx context.Context) error {
	a.mu.Lock()
	prompted := a.prompted
	a.mu.Unlock()
	if prompted || a.opts.SystemPrompt == "" {
		return nil
	}
	if exists, err := a.log.Exists(ctx, a.id); err != nil {
		return err
	} else if !exists {
		if _, err := a.append(ctx, core.NewSystemPromptEvent(a.id, a.opts.SystemPrompt)); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.prompted = true
	a.mu.Unlock()
	return nil
}

// runTurn executes the provider/tool loop. Each iteration issues one
// provider call; responses carrying tool calls are resolved (approval, then
// execution) and the loop re-dispatches with the updated context until a
// response has no tool calls.
func (a *Agent) runTurn(ctx context.Context) (string, error) {
	a.opts.Logger.Info("agent.turn.start", "thread", string(a.id))

	for round := 0; round < a.opts.MaxToolRounds; round++ {
		a.setState(ctx, StateDispatching)

		req, err := a.buildRequest(ctx)
		if err != nil {
			return "", a.failTurn(ctx, ErrCodeProvider, err)
		}

		resp, err := a.callModel(ctx, req)
		if err != nil {
			code := ErrCodeProvider
			if ctx.Err() != nil {
				code = ErrCodeInterrupted
			}
			return "", a.failTurn(ctx, code, err)
		}

		usage := a.resolveUsage(req, resp)
		if err := a.recordResponse(ctx, resp, usage); err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			a.setState(ctx, StateFinalizing)
			a.opts.Logger.Info("agent.turn.complete", "thread", string(a.id),
				"rounds", round+1, "tokens", usage.TotalTokens)
			return resp.Content, nil
		}

		a.setState(ctx, StateToolsPending)
		if err := a.resolveToolCalls(ctx, resp.ToolCalls); err != nil {
			return "", err
		}
	}

	err := fmt.Errorf("turn exceeded %d tool rounds", a.opts.MaxToolRounds)
	return "", a.failTurn(ctx, ErrCodeToolRounds, err)
}

// recordResponse appends the assistant message and any tool-call events. A
// pure tool-call response (no text) carries its usage on the first tool-call
// event so cumulative accounting never loses it.
func (a *Agent) recordResponse(ctx context.Context, resp model.Response, usage *core.TokenUsage) error {
	appendedUsage := false
	if resp.Content != "" || len(resp.ToolCalls) == 0 {
		if _, err := a.append(ctx, core.NewAgentMessageEvent(a.id, resp.Content, usage)); err != nil {
			return err
		}
		appendedUsage = true
	}
	for _, tc := range resp.ToolCalls {
		ev := core.NewToolCallEvent(a.id, tc.ID, tc.Name, tc.Arguments)
		if !appendedUsage {
			ev.Usage = usage
			appendedUsage = true
		}
		if _, err := a.append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// resolveToolCalls gates and executes every call from one response, in
// order, appending exactly one result event per call before the next
// provider dispatch.
func (a *Agent) resolveToolCalls(ctx context.Context, calls []model.ToolCall) error {
	for _, tc := range calls {
		result := a.resolveCall(ctx, core.ToolCallPayload{
			CallID:    tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		})
		if _, err := a.append(ctx, core.NewToolResultEvent(a.id, result)); err != nil {
			return err
		}
	}
	return nil
}

// resolveCall consults the approval gate (skipped for read-only tools and
// session-cached allowances) then executes. Denial produces a synthetic
// error result and no execution.
func (a *Agent) resolveCall(ctx context.Context, call core.ToolCallPayload) core.ToolResultPayload {
	if a.opts.Tools == nil {
		return core.ToolResultPayload{
			CallID:  call.CallID,
			Name:    call.Name,
			Content: tool.NewToolError(call.Name, "no tools registered", tool.CodeUnknownTool).Error(),
			IsError: true,
		}
	}

	readOnly := a.opts.Tools.IsReadOnly(call.Name)
	if !readOnly && !a.opts.Approvals.Allowed(a.opts.SessionID, call.Name) {
		decision := a.requestApproval(ctx, call)
		if decision == approval.AllowSession {
			a.opts.Approvals.Allow(a.opts.SessionID, call.Name)
		}
		if !decision.Allowed() {
			a.opts.Logger.Info("agent.tool.denied", "thread", string(a.id), "tool", call.Name)
			return core.ToolResultPayload{
				CallID:  call.CallID,
				Name:    call.Name,
				Content: tool.NewToolError(call.Name, "execution denied by approval policy", tool.CodeDenied).Error(),
				IsError: true,
			}
		}
	}

	a.setState(ctx, StateToolExecuting)
	return a.opts.Tools.Execute(ctx, call)
}

// requestApproval records the request/response pair on the log and resolves
// the decision within the configured timeout.
func (a *Agent) requestApproval(ctx context.Context, call core.ToolCallPayload) approval.Decision {
	a.setState(ctx, StateAwaitingApproval)

	req := approval.Request{
		ID:       core.NewID(),
		ThreadID: a.id,
		Tool:     call.Name,
		Input:    call.Arguments,
	}
	if _, err := a.append(ctx, core.NewApprovalRequestEvent(a.id, core.ApprovalRequestPayload{
		RequestID: req.ID,
		CallID:    call.CallID,
		Tool:      call.Name,
		Input:     call.Arguments,
	})); err != nil {
		return approval.Deny
	}

	decision := approval.Resolve(ctx, a.opts.Gate, req, a.opts.ApprovalTimeout)

	if _, err := a.append(context.WithoutCancel(ctx),
		core.NewApprovalResponseEvent(a.id, req.ID, string(decision))); err != nil {
		return approval.Deny
	}
	return decision
}

// buildRequest reconstructs the provider-facing conversation from the
// thread's visible history. Reconstruction cost is proportional to this
// thread's own event count; delegate threads are never walked.
func (a *Agent) buildRequest(ctx context.Context) (model.Request, error) {
	events, err := a.visible(ctx)
	if err != nil {
		return model.Request{}, err
	}

	req := model.Request{Stream: a.opts.Stream}
	if a.opts.Tools != nil {
		req.Tools = a.opts.Tools.Definitions()
	}

	for _, ev := range events {
		switch ev.Type {
		case core.EventSystemPrompt:
			if req.System == "" {
				req.System = ev.Text()
			} else {
				req.System += "\n\n" + ev.Text()
			}
		case core.EventUserMessage:
			req.Messages = append(req.Messages, model.Message{Role: model.RoleUser, Content: ev.Text()})
		case core.EventAgentMessage:
			req.Messages = append(req.Messages, model.Message{Role: model.RoleAssistant, Content: ev.Text()})
		case core.EventToolCall:
			tc := model.ToolCall{ID: ev.ToolCall.CallID, Name: ev.ToolCall.Name, Arguments: ev.ToolCall.Arguments}
			if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == model.RoleAssistant {
				req.Messages[n-1].ToolCalls = append(req.Messages[n-1].ToolCalls, tc)
			} else {
				req.Messages = append(req.Messages, model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{tc}})
			}
		case core.EventToolResult:
			req.Messages = append(req.Messages, model.Message{
				Role:       model.RoleTool,
				Content:    ev.ToolResult.Content,
				ToolCallID: ev.ToolResult.CallID,
				ToolName:   ev.ToolResult.Name,
				IsError:    ev.ToolResult.IsError,
			})
		default:
			// notices, approvals and turn errors stay out of model context
		}
	}
	return req, nil
}

// resolveUsage returns provider-reported usage, or a local estimate when the
// provider omitted it.
func (a *Agent) resolveUsage(req model.Request, resp model.Response) *core.TokenUsage {
	if resp.Usage != nil {
		return resp.Usage
	}
	prompt := tokens.CountMessages(a.opts.Counter, a.model.Info().Name, req)
	completion := 0
	if resp.Content != "" {
		completion, _ = a.opts.Counter.Count(a.model.Info().Name, resp.Content)
	}
	return &core.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}

// failTurn appends a terminal turn_error event so the thread stays readable,
// then returns the original error. The append uses a non-cancellable context
// so an interrupted turn can still record what happened.
func (a *Agent) failTurn(ctx context.Context, code string, cause error) error {
	a.opts.Logger.Error("agent.turn.failed", "thread", string(a.id), "code", code, "error", cause.Error())
	if _, err := a.append(context.WithoutCancel(ctx),
		core.NewTurnErrorEvent(a.id, code, cause.Error())); err != nil {
		return fmt.Errorf("%w (additionally failed to record turn error: %v)", cause, err)
	}
	return cause
}
