package core

import (
	"sync"
	"time"
)

// Thread holds the full ordered event sequence for one ThreadID plus derived
// state. It is safe for concurrent access: the owning agent is the single
// writer, external observers may read concurrently and always see a
// consistent prefix.
//
// Contract:
//   - Events returns a copy to avoid external mutation
//   - VisibleEvents applies the most recent compaction boundary
//   - CumulativeUsage is maintained incrementally on append
type Thread struct {
	ID      ThreadID  `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
	Closed  bool      `json:"closed"`

	mu     sync.RWMutex
	events []ThreadEvent
	// index of the most recent compaction event, -1 if none
	compactionIdx int
	usage         TokenUsage
}

// NewThread creates an empty thread.
func NewThread(id ThreadID) *Thread {
	now := time.Now().UTC()
	return &Thread{ID: id, Created: now, Updated: now, compactionIdx: -1}
}

// Append adds an event to the history. The caller (the log) has already
// assigned Seq. Append never reorders or rewrites prior events.
func (t *Thread) Append(ev ThreadEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Type == EventCompaction {
		t.compactionIdx = len(t.events)
		t.usage = usageOf(ev.Compaction.Replacement)
	} else if ev.Usage != nil {
		t.usage.Add(*ev.Usage)
	}
	t.events = append(t.events, ev)
	t.Updated = time.Now().UTC()
}

// Len returns the number of events, including transient ones.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Events returns a copy of the full event sequence, transient included.
func (t *Thread) Events() []ThreadEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ThreadEvent, len(t.events))
	copy(out, t.events)
	return out
}

// PersistedEvents returns a copy of the events that survive a restart.
func (t *Thread) PersistedEvents() []ThreadEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ThreadEvent, 0, len(t.events))
	for _, ev := range t.events {
		if !ev.Transient {
			out = append(out, ev)
		}
	}
	return out
}

// VisibleEvents returns the post-compaction history used for context
// reconstruction: the latest compaction's replacement sequence followed by
// every non-transient event appended after the compaction point. Raw events
// compacted away are never replayed.
func (t *Thread) VisibleEvents() []ThreadEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return visibleLocked(t.events, t.compactionIdx)
}

func visibleLocked(events []ThreadEvent, compactionIdx int) []ThreadEvent {
	var out []ThreadEvent
	start := 0
	if compactionIdx >= 0 {
		out = append(out, events[compactionIdx].Compaction.Replacement...)
		start = compactionIdx + 1
	}
	for _, ev := range events[start:] {
		if ev.Transient {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// CumulativeUsage returns the running token total over the visible history.
func (t *Thread) CumulativeUsage() TokenUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usage
}

// UserMessages returns the contents of every user message in the visible
// history, in order.
func (t *Thread) UserMessages() []string {
	var out []string
	for _, ev := range t.VisibleEvents() {
		if ev.IsUserMessage() {
			out = append(out, ev.Text())
		}
	}
	return out
}

// Clone returns a deep-enough copy safe for independent reads.
func (t *Thread) Clone() *Thread {
	t.mu.RLock()
	defer t.mu.RUnlock()
	clone := &Thread{
		ID:            t.ID,
		Created:       t.Created,
		Updated:       t.Updated,
		Closed:        t.Closed,
		compactionIdx: t.compactionIdx,
		usage:         t.usage,
		events:        make([]ThreadEvent, len(t.events)),
	}
	copy(clone.events, t.events)
	return clone
}

func usageOf(events []ThreadEvent) TokenUsage {
	var total TokenUsage
	for _, ev := range events {
		if ev.Usage != nil {
			total.Add(*ev.Usage)
		}
	}
	return total
}

// VisibleAfter computes the visible history over an arbitrary event sequence,
// honoring the latest compaction event it contains. Used by log
// implementations that reconstruct threads from storage.
func VisibleAfter(events []ThreadEvent) []ThreadEvent {
	idx := -1
	for i, ev := range events {
		if ev.Type == EventCompaction {
			idx = i
		}
	}
	return visibleLocked(events, idx)
}
