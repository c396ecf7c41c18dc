package testutils

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CriticalSection is shared state guarded only by the mutual exclusion
// protocol under test. It records every time two nodes were inside at once
// instead of serializing them itself.
type CriticalSection struct {
	occupants atomic.Int32
	entries   atomic.Int64

	mu         sync.Mutex
	violations []string
	order      []int
}

// Work occupies the critical section as node nodeID for duration, running f
// while inside.
func (cs *CriticalSection) Work(nodeID int, duration time.Duration, f func()) {
	if n := cs.occupants.Add(1); n > 1 {
		cs.mu.Lock()
		cs.violations = append(cs.violations, fmt.Sprintf("node %d entered with %d occupants", nodeID, n-1))
		cs.mu.Unlock()
	}

	cs.mu.Lock()
	cs.order = append(cs.order, nodeID)
	cs.mu.Unlock()

	if f != nil {
		f()
	}
	time.Sleep(duration)
	cs.entries.Add(1)
	cs.occupants.Add(-1)
}

// Value returns how many times the critical section was completed.
func (cs *CriticalSection) Value() int {
	return int(cs.entries.Load())
}

// Violations lists overlapping entries, if any.
func (cs *CriticalSection) Violations() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.violations...)
}

// Order returns the node ids in the order they entered.
func (cs *CriticalSection) Order() []int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]int(nil), cs.order...)
}
