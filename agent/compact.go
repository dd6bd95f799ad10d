package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadweave/threadweave/core"
)

// ErrNoStrategy is returned by Compact when no strategy is configured.
var ErrNoStrategy = errors.New("no compaction strategy configured")

// Compact forces a manual compaction. Valid only from Idle; failure leaves
// the log untouched and surfaces the error to the caller.
func (a *Agent) Compact(ctx context.Context) error {
	if err := a.begin(StateCompacting); err != nil {
		return err
	}
	defer a.setState(context.WithoutCancel(ctx), StateIdle)
	return a.compactLocked(ctx)
}

// maybeAutoCompact runs the token-budget check at the end of a turn, while
// the agent still holds the turn. Compaction failure here is logged and
// swallowed: the conversation continues uncompacted rather than failing a
// turn that already succeeded.
func (a *Agent) maybeAutoCompact(ctx context.Context) {
	if a.opts.Strategy == nil || a.opts.ContextLimit <= 0 {
		return
	}
	events, err := a.visible(ctx)
	if err != nil {
		a.opts.Logger.Warn("agent.compaction.read_failed", "thread", string(a.id), "error", err.Error())
		return
	}
	usage := cumulativeUsage(events)
	percentUsed := float64(usage.TotalTokens) / float64(a.opts.ContextLimit)
	if percentUsed < a.opts.CompactionThreshold {
		return
	}

	a.mu.Lock()
	// cooldown measured from compaction start: rapid-fire turns inside the
	// window never stack compactions
	inCooldown := !a.lastCompaction.IsZero() && time.Since(a.lastCompaction) < a.opts.CompactionCooldown
	a.mu.Unlock()
	if inCooldown {
		a.opts.Logger.Debug("agent.compaction.cooldown", "thread", string(a.id),
			"percent_used", percentUsed)
		return
	}

	a.opts.Logger.Info("agent.compaction.auto", "thread", string(a.id),
		"percent_used", percentUsed, "tokens", usage.TotalTokens, "limit", a.opts.ContextLimit)
	a.setState(ctx, StateCompacting)
	if err := a.compactLocked(ctx); err != nil {
		a.opts.Logger.Warn("agent.compaction.failed", "thread", string(a.id), "error", err.Error())
	}
}

// compactLocked runs the strategy over the visible history and appends the
// resulting compaction event. The strategy is pure: if it fails, nothing was
// written and the log is unchanged.
func (a *Agent) compactLocked(ctx context.Context) error {
	if a.opts.Strategy == nil {
		return ErrNoStrategy
	}

	a.mu.Lock()
	a.lastCompaction = time.Now()
	a.mu.Unlock()

	events, err := a.visible(ctx)
	if err != nil {
		return fmt.Errorf("read visible history: %w", err)
	}

	payload, err := a.opts.Strategy.Compact(ctx, events)
	if err != nil {
		return fmt.Errorf("compaction strategy: %w", err)
	}

	if _, err := a.append(ctx, core.NewCompactionEvent(a.id, payload)); err != nil {
		return fmt.Errorf("append compaction event: %w", err)
	}

	notice := fmt.Sprintf("history compacted: %d events collapsed, %d user messages preserved",
		payload.OriginalCount, payload.PreservedUserMessages)
	if _, err := a.append(ctx, core.NewSystemNoticeEvent(a.id, notice)); err != nil {
		a.opts.Logger.Debug("agent.compaction.notice_failed", "error", err.Error())
	}
	return nil
}
