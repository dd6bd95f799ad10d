// Package approval implements the policy/human decision point consulted
// before any side-effecting tool call executes. Decisions must arrive within
// a bounded timeout; a timeout or transport error always resolves to Deny,
// never a hang or a thrown error.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/threadweave/threadweave/core"
)

// Decision is the outcome of an approval request.
type Decision string

const (
	// AllowOnce permits this single call.
	AllowOnce Decision = "ALLOW_ONCE"
	// AllowSession permits this call and caches the allowance for the tool
	// for the remainder of the session.
	AllowSession Decision = "ALLOW_SESSION"
	// Deny refuses the call; the agent appends a synthetic error result and
	// no execution occurs.
	Deny Decision = "DENY"
)

// Allowed reports whether the decision permits execution.
func (d Decision) Allowed() bool { return d == AllowOnce || d == AllowSession }

// DefaultTimeout bounds how long a gate may take to decide.
const DefaultTimeout = 30 * time.Second

// Request describes a pending approval decision.
type Request struct {
	ID       string
	ThreadID core.ThreadID
	Tool     string
	Input    string // JSON-encoded tool arguments
	ReadOnly bool
}

// Gate is implemented by whichever front-end is attached: it receives a
// request and returns a decision. Implementations may block on human input;
// the agent bounds the wait with a timeout.
type Gate interface {
	Request(ctx context.Context, req Request) (Decision, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, req Request) (Decision, error)

// Request implements Gate.
func (f GateFunc) Request(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// AutoApprove returns a gate that allows every call once. Useful for tests
// and non-interactive sessions.
func AutoApprove() Gate {
	return GateFunc(func(context.Context, Request) (Decision, error) {
		return AllowOnce, nil
	})
}

// DenyAll returns a gate that refuses every call.
func DenyAll() Gate {
	return GateFunc(func(context.Context, Request) (Decision, error) {
		return Deny, nil
	})
}

// Resolve asks the gate for a decision, bounded by timeout. A timeout,
// cancellation, gate error, or unknown decision value all resolve to Deny.
func Resolve(ctx context.Context, gate Gate, req Request, timeout time.Duration) Decision {
	if gate == nil {
		return Deny
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		decision Decision
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		d, err := gate.Request(ctx, req)
		ch <- outcome{decision: d, err: err}
	}()

	select {
	case <-ctx.Done():
		return Deny
	case out := <-ch:
		if out.err != nil {
			return Deny
		}
		switch out.decision {
		case AllowOnce, AllowSession, Deny:
			return out.decision
		default:
			return Deny
		}
	}
}

// SessionCache remembers AllowSession decisions per (session, tool). It is
// explicitly keyed by a session identifier so independent sessions never
// leak approvals to each other.
type SessionCache struct {
	mu      sync.RWMutex
	allowed map[string]map[string]struct{}
}

// NewSessionCache constructs an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{allowed: make(map[string]map[string]struct{})}
}

// Allow records a session-wide allowance for the tool.
func (c *SessionCache) Allow(sessionID, tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools, ok := c.allowed[sessionID]
	if !ok {
		tools = make(map[string]struct{})
		c.allowed[sessionID] = tools
	}
	tools[tool] = struct{}{}
}

// Allowed reports whether the tool was previously allowed for the session.
func (c *SessionCache) Allowed(sessionID, tool string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tools, ok := c.allowed[sessionID]
	if !ok {
		return false
	}
	_, ok = tools[tool]
	return ok
}

// Forget drops all allowances for a session.
func (c *SessionCache) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.allowed, sessionID)
}
