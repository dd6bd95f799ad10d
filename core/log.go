package core

import (
	"context"
	"errors"
)

var (
	// ErrThreadNotFound indicates a read against a thread with no events.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrThreadClosed indicates an append to a closed thread.
	ErrThreadClosed = errors.New("thread closed")
	// ErrStorageWrite wraps a failed durable append. The caller must retry
	// or surface it; a non-transient event is never silently dropped.
	ErrStorageWrite = errors.New("storage write failed")
)

// Log is the append-only event store: the single source of truth for
// conversation state. Append is atomic with respect to concurrent appends on
// the same thread; no two events are assigned overlapping order. A
// non-transient append is durable before the call returns success; a
// transient append only updates the in-memory sequence and notifies
// subscribers.
type Log interface {
	// Append assigns the next sequence number for the event's thread,
	// persists the event if it is not transient, and broadcasts it to
	// subscribers in commit order. The committed event is returned.
	Append(ctx context.Context, ev ThreadEvent) (ThreadEvent, error)

	// Read returns the ordered event sequence for a thread, including
	// transient events currently held in memory.
	Read(ctx context.Context, id ThreadID) ([]ThreadEvent, error)

	// ReadPersisted returns only the events that survive a restart.
	ReadPersisted(ctx context.Context, id ThreadID) ([]ThreadEvent, error)

	// Subscribe returns a channel delivering all events appended to the
	// thread after the call, transient and persisted alike, in commit
	// order. The returned func cancels the subscription.
	Subscribe(id ThreadID) (<-chan ThreadEvent, func())

	// Exists reports whether the thread has been created.
	Exists(ctx context.Context, id ThreadID) (bool, error)

	// Close marks a thread closed. Subsequent appends fail with
	// ErrThreadClosed. Threads are never physically deleted.
	Close(ctx context.Context, id ThreadID) error
}
