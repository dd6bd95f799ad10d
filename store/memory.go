// Package store provides core.Log implementations: a volatile in-memory log
// for tests and ephemeral sessions, and a SQLite-backed durable log.
package store

import (
	"context"
	"sync"

	"github.com/threadweave/threadweave/core"
)

// Memory is a volatile core.Log holding threads in a process-local map. It is
// safe for concurrent access and best suited for tests or demo sessions.
type Memory struct {
	mu      sync.RWMutex
	threads map[core.ThreadID]*memThread
}

type memThread struct {
	thread  *core.Thread
	nextSeq int64
	nextSub int
	subs    map[int]chan core.ThreadEvent
}

var _ core.Log = (*Memory)(nil)

// NewMemory constructs an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{threads: make(map[core.ThreadID]*memThread)}
}

// Append implements core.Log. The thread is created on first append.
func (m *Memory) Append(_ context.Context, ev core.ThreadEvent) (core.ThreadEvent, error) {
	m.mu.Lock()
	mt, ok := m.threads[ev.ThreadID]
	if !ok {
		mt = &memThread{thread: core.NewThread(ev.ThreadID), subs: map[int]chan core.ThreadEvent{}}
		m.threads[ev.ThreadID] = mt
	}
	if mt.thread.Closed {
		m.mu.Unlock()
		return core.ThreadEvent{}, core.ErrThreadClosed
	}
	ev.Seq = mt.nextSeq
	mt.nextSeq++
	mt.thread.Append(ev)
	subs := make([]chan core.ThreadEvent, 0, len(mt.subs))
	for _, ch := range mt.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // slow subscriber, drop rather than block the writer
		}
	}
	return ev, nil
}

// Read implements core.Log.
func (m *Memory) Read(_ context.Context, id core.ThreadID) ([]core.ThreadEvent, error) {
	m.mu.RLock()
	mt, ok := m.threads[id]
	m.mu.RUnlock()
	if !ok {
		return nil, core.ErrThreadNotFound
	}
	return mt.thread.Events(), nil
}

// ReadPersisted implements core.Log.
func (m *Memory) ReadPersisted(_ context.Context, id core.ThreadID) ([]core.ThreadEvent, error) {
	m.mu.RLock()
	mt, ok := m.threads[id]
	m.mu.RUnlock()
	if !ok {
		return nil, core.ErrThreadNotFound
	}
	return mt.thread.PersistedEvents(), nil
}

// Subscribe implements core.Log.
func (m *Memory) Subscribe(id core.ThreadID) (<-chan core.ThreadEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.threads[id]
	if !ok {
		mt = &memThread{thread: core.NewThread(id), subs: map[int]chan core.ThreadEvent{}}
		m.threads[id] = mt
	}
	key := mt.nextSub
	mt.nextSub++
	ch := make(chan core.ThreadEvent, 128)
	mt.subs[key] = ch
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := mt.subs[key]; ok {
			delete(mt.subs, key)
			close(ch)
		}
	}
	return ch, cancel
}

// Exists implements core.Log. A thread exists once it holds at least one
// event; a bare subscription does not create it.
func (m *Memory) Exists(_ context.Context, id core.ThreadID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.threads[id]
	return ok && mt.thread.Len() > 0, nil
}

// Close implements core.Log.
func (m *Memory) Close(_ context.Context, id core.ThreadID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.threads[id]
	if !ok {
		return core.ErrThreadNotFound
	}
	mt.thread.Closed = true
	return nil
}
