package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ThreadID is the hierarchical identifier of a conversation thread. A root
// thread has a single opaque segment; delegate (child) threads append a
// dot-separated numeric suffix per level ("root", "root.1", "root.1.2").
// A ThreadID is immutable once assigned.
type ThreadID string

// NewThreadID generates a fresh root thread identifier.
func NewThreadID() ThreadID { return ThreadID(uuid.NewString()) }

// Child returns the identifier of the n-th delegate thread spawned under t.
func (t ThreadID) Child(n int) ThreadID {
	return ThreadID(string(t) + "." + strconv.Itoa(n))
}

// Parent returns the identifier one level up, or "" for a root thread.
func (t ThreadID) Parent() ThreadID {
	idx := strings.LastIndexByte(string(t), '.')
	if idx < 0 {
		return ""
	}
	return t[:idx]
}

// IsRoot reports whether t has no parent.
func (t ThreadID) IsRoot() bool { return !strings.ContainsRune(string(t), '.') }

// IsChildOf reports whether t is a (possibly indirect) descendant of other.
func (t ThreadID) IsChildOf(other ThreadID) bool {
	return len(t) > len(other) && strings.HasPrefix(string(t), string(other)+".")
}

// Depth returns the number of delegate levels below the root (0 for a root).
func (t ThreadID) Depth() int { return strings.Count(string(t), ".") }

// Validate checks structural well-formedness: a non-empty root segment
// followed by zero or more non-empty numeric segments.
func (t ThreadID) Validate() error {
	if t == "" {
		return fmt.Errorf("thread id is empty")
	}
	segments := strings.Split(string(t), ".")
	if segments[0] == "" {
		return fmt.Errorf("thread id %q has an empty root segment", t)
	}
	for _, seg := range segments[1:] {
		if _, err := strconv.Atoi(seg); err != nil {
			return fmt.Errorf("thread id %q has a non-numeric delegate segment %q", t, seg)
		}
	}
	return nil
}

func (t ThreadID) String() string { return string(t) }
