// Package memtable implements the sorted in-memory map that absorbs writes
// before they are flushed to an SSTable, and the bounded set of memtables a
// keyspace juggles while a flush is in flight.
package memtable

import (
	"fmt"
	"sync/atomic"
)

// State is a memtable's position in its lifecycle:
// New -> RecoveringFromWal -> Active -> Inactive -> Flushing -> Flushed.
// Only Active and RecoveringFromWal accept writes; only Active writes
// through its WAL (replay during recovery does not re-append).
type State uint32

const (
	StateNew State = iota
	StateRecoveringFromWal
	StateActive
	StateInactive
	StateFlushing
	StateFlushed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateRecoveringFromWal:
		return "RecoveringFromWal"
	case StateActive:
		return "Active"
	case StateInactive:
		return "Inactive"
	case StateFlushing:
		return "Flushing"
	case StateFlushed:
		return "Flushed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// atomicState wraps an atomic.Uint32 with State-typed accessors; it replaces
// the unsafe shared mutability the reference implementation used for a
// memtable's state enum with an internal atomic plus single-writer
// discipline on the transitions that matter (rotation, flush).
type atomicState struct {
	v atomic.Uint32
}

func (a *atomicState) Load() State        { return State(a.v.Load()) }
func (a *atomicState) Store(s State)      { a.v.Store(uint32(s)) }
func (a *atomicState) CompareAndSwap(old, new State) bool {
	return a.v.CompareAndSwap(uint32(old), uint32(new))
}

func (s State) AcceptsWrites() bool {
	return s == StateActive || s == StateRecoveringFromWal
}

func (s State) WritesThroughWAL() bool {
	return s == StateActive
}
