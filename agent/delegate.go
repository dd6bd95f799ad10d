package agent

import (
	"context"
	"fmt"

	"github.com/threadweave/threadweave/tool"
)

// Spawn creates a delegate agent on the next child thread id. The delegate
// shares the log, model, tools, gate and session with its parent but owns a
// wholly separate thread: the parent's context reconstruction never walks
// into it, and its only influence on the parent is whatever single result
// the caller chooses to surface.
func (a *Agent) Spawn(optFns ...Option) *Agent {
	a.mu.Lock()
	a.childSeq++
	n := a.childSeq
	a.mu.Unlock()

	inherit := func(o *Options) {
		o.Logger = a.opts.Logger
		o.Tools = a.opts.Tools
		o.Gate = a.opts.Gate
		o.ApprovalTimeout = a.opts.ApprovalTimeout
		o.Approvals = a.opts.Approvals
		o.SessionID = a.opts.SessionID
		o.Strategy = a.opts.Strategy
		o.ContextLimit = a.opts.ContextLimit
		o.CompactionThreshold = a.opts.CompactionThreshold
		o.CompactionCooldown = a.opts.CompactionCooldown
		o.MaxAttempts = a.opts.MaxAttempts
		o.RetryBase = a.opts.RetryBase
		o.MaxToolRounds = a.opts.MaxToolRounds
		o.Counter = a.opts.Counter
	}
	return New(a.id.Child(n), a.log, a.model, append([]Option{inherit}, optFns...)...)
}

// DelegateTool exposes delegation as an invocable tool: the model hands a
// task to an isolated sub-agent and receives only its final answer. The
// delegate's full history stays on its own thread, so the parent's read cost
// is independent of however much work the delegate did.
//
// The tool itself is read-only: delegation has no direct side effects, and
// any side-effecting calls the delegate makes are gated on the delegate's
// own approvals.
func DelegateTool(a *Agent) tool.Tool {
	return tool.NewFunctionTool(
		"delegate",
		"Delegate a self-contained sub-task to an isolated agent and return its final answer. The sub-agent sees none of this conversation; include all necessary context in the task.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "Complete, self-contained description of the sub-task",
				},
			},
			"required": []string{"task"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			task, _ := args["task"].(string)
			if task == "" {
				return nil, fmt.Errorf("task must not be empty")
			}
			child := a.Spawn()
			result, err := child.SendMessage(ctx, task)
			if err != nil {
				return nil, fmt.Errorf("delegate %s: %w", child.ID(), err)
			}
			return result, nil
		},
		tool.WithReadOnly(),
	)
}
