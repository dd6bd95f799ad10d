// Package agent implements the turn state machine that drives a thread: it
// reads the log, calls the model, interprets tool calls, drives the tool
// registry through the approval gate, appends resulting events, and decides
// when to compact. One Agent instance owns one thread's writes exclusively;
// delegate sub-agents own their own child threads.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/threadweave/threadweave/approval"
	"github.com/threadweave/threadweave/compaction"
	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/logging"
	"github.com/threadweave/threadweave/model"
	"github.com/threadweave/threadweave/tokens"
	"github.com/threadweave/threadweave/tool"
)

// State names the agent's position in the turn state machine.
type State string

const (
	// StateIdle means no turn is in flight. SendMessage and Compact are
	// valid only from here.
	StateIdle State = "idle"
	// StateDispatching means a provider call is in flight.
	StateDispatching State = "dispatching"
	// StateToolsPending means the response contained tool calls not yet run.
	StateToolsPending State = "tools_pending"
	// StateAwaitingApproval means a side-effecting call is waiting on the gate.
	StateAwaitingApproval State = "awaiting_approval"
	// StateToolExecuting means a tool implementation is running.
	StateToolExecuting State = "tool_executing"
	// StateFinalizing means the turn is wrapping up.
	StateFinalizing State = "finalizing"
	// StateCompacting means a compaction is rewriting the visible history.
	StateCompacting State = "compacting"
)

// ErrBusy is returned when SendMessage or Compact is called mid-turn.
var ErrBusy = errors.New("agent is busy: a turn is already in flight")

// CompactCommand is the reserved textual command that forces manual
// compaction instead of dispatching to the provider.
const CompactCommand = "/compact"

// Turn error codes recorded on terminal turn_error events.
const (
	ErrCodeProvider    = "provider_error"
	ErrCodeInterrupted = "interrupted"
	ErrCodeToolRounds  = "tool_rounds_exhausted"
	ErrCodeCompaction  = "compaction_failed"
)

// Options configures an Agent.
type Options struct {
	// Logger receives structured agent activity.
	Logger logging.Logger
	// SystemPrompt is appended as the thread's first event when set.
	SystemPrompt string
	// Tools is the registry of invocable tools. Optional.
	Tools *tool.Registry
	// Gate decides whether side-effecting tool calls may run. Nil denies all.
	Gate approval.Gate
	// ApprovalTimeout bounds the gate's decision; expiry resolves to Deny.
	ApprovalTimeout time.Duration
	// Approvals caches AllowSession decisions across the session.
	Approvals *approval.SessionCache
	// SessionID scopes cached approvals. Defaults to the root thread id.
	SessionID string
	// Strategy performs compaction. Nil disables compaction entirely.
	Strategy compaction.Strategy
	// ContextLimit is the model's context window in tokens. Zero falls back
	// to the model's advertised window.
	ContextLimit int
	// CompactionThreshold is the used fraction that triggers auto-compaction.
	CompactionThreshold float64
	// CompactionCooldown is the minimum interval between compactions,
	// measured from compaction start.
	CompactionCooldown time.Duration
	// MaxAttempts bounds provider retries per call.
	MaxAttempts int
	// RetryBase is the initial backoff delay, doubled per attempt.
	RetryBase time.Duration
	// MaxToolRounds bounds the tool-use loop within one turn.
	MaxToolRounds int
	// Stream requests incremental token events from the provider.
	Stream bool
	// Counter estimates usage when the provider reports none. Defaults to a
	// chain trying tiktoken before the character estimator.
	Counter tokens.Counter
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithSystemPrompt sets the thread's system instruction.
func WithSystemPrompt(prompt string) Option { return func(o *Options) { o.SystemPrompt = prompt } }

// WithTools sets the tool registry.
func WithTools(r *tool.Registry) Option { return func(o *Options) { o.Tools = r } }

// WithGate sets the approval gate.
func WithGate(g approval.Gate) Option { return func(o *Options) { o.Gate = g } }

// WithApprovalTimeout bounds approval decisions.
func WithApprovalTimeout(d time.Duration) Option {
	return func(o *Options) { o.ApprovalTimeout = d }
}

// WithSessionID scopes cached approvals.
func WithSessionID(id string) Option { return func(o *Options) { o.SessionID = id } }

// WithStrategy sets the compaction strategy.
func WithStrategy(s compaction.Strategy) Option { return func(o *Options) { o.Strategy = s } }

// WithContextLimit sets the token budget denominator.
func WithContextLimit(n int) Option { return func(o *Options) { o.ContextLimit = n } }

// WithCompaction tunes the auto-compaction trigger.
func WithCompaction(threshold float64, cooldown time.Duration) Option {
	return func(o *Options) {
		o.CompactionThreshold = threshold
		o.CompactionCooldown = cooldown
	}
}

// WithRetry tunes the provider retry policy.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(o *Options) {
		o.MaxAttempts = maxAttempts
		o.RetryBase = base
	}
}

// WithStreaming requests incremental token events.
func WithStreaming() Option { return func(o *Options) { o.Stream = true } }

// WithCounter sets the usage estimation fallback.
func WithCounter(c tokens.Counter) Option { return func(o *Options) { o.Counter = c } }

// Agent drives one thread. All exported methods are safe for concurrent use;
// the Idle-only entry guard serializes turns.
type Agent struct {
	id    core.ThreadID
	log   core.Log
	model model.Model
	opts  Options

	mu             sync.Mutex
	state          State
	lastCompaction time.Time
	childSeq       int
	prompted       bool
}

// New constructs an Agent bound to a thread. The thread itself is created
// lazily on the first event append.
func New(id core.ThreadID, log core.Log, m model.Model, optFns ...Option) *Agent {
	opts := Options{
		Logger:              logging.NoOpLogger{},
		ApprovalTimeout:     approval.DefaultTimeout,
		Approvals:           approval.NewSessionCache(),
		CompactionThreshold: 0.8,
		CompactionCooldown:  60 * time.Second,
		MaxAttempts:         3,
		RetryBase:           500 * time.Millisecond,
		MaxToolRounds:       32,
		Counter:             tokens.NewChain(tokens.NewTiktoken()),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = m.Info().ContextWindow
	}
	if opts.SessionID == "" {
		opts.SessionID = string(id)
	}
	return &Agent{id: id, log: log, model: m, opts: opts, state: StateIdle}
}

// ID returns the thread this agent owns.
func (a *Agent) ID() core.ThreadID { return a.id }

// State returns the agent's current turn state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns the thread's event sequence.
func (a *Agent) History(ctx context.Context, includeTransient bool) ([]core.ThreadEvent, error) {
	if includeTransient {
		return a.log.Read(ctx, a.id)
	}
	return a.log.ReadPersisted(ctx, a.id)
}

// begin transitions Idle -> to, failing with ErrBusy from any other state.
func (a *Agent) begin(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return ErrBusy
	}
	a.state = to
	return nil
}

// setState records a mid-turn transition and broadcasts it as a transient
// turn_state event for live observers.
func (a *Agent) setState(ctx context.Context, s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	if _, err := a.log.Append(ctx, core.NewTurnStateEvent(a.id, string(s))); err != nil {
		a.opts.Logger.Debug("agent.state.broadcast_failed", "state", string(s), "error", err.Error())
	}
}

// append writes a non-transient event, propagating log failures to the
// caller: the agent never papers over a broken log.
func (a *Agent) append(ctx context.Context, ev core.ThreadEvent) (core.ThreadEvent, error) {
	committed, err := a.log.Append(ctx, ev)
	if err != nil {
		a.opts.Logger.Error("agent.append.failed", "thread", string(a.id),
			"type", string(ev.Type), "error", err.Error())
	}
	return committed, err
}

// visible reads the thread's post-compaction history.
func (a *Agent) visible(ctx context.Context) ([]core.ThreadEvent, error) {
	events, err := a.log.Read(ctx, a.id)
	if err != nil {
		if errors.Is(err, core.ErrThreadNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return core.VisibleAfter(events), nil
}

// cumulativeUsage sums usage over the visible history.
func cumulativeUsage(events []core.ThreadEvent) core.TokenUsage {
	var total core.TokenUsage
	for _, ev := range events {
		if ev.Usage != nil {
			total.Add(*ev.Usage)
		}
	}
	return total
}
