package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/return2faye/siltsql/internal/wal"
)

// Set holds one Active memtable and a bounded FIFO of Inactive memtables
// awaiting flush. Reads consult Active first, then inactive memtables
// newest-first.
type Set struct {
	nextID  atomic.Uint64
	maxSize int64
	maxInactive int

	mu       sync.RWMutex
	active   *Memtable
	inactive []*Memtable // oldest first
}

// NewSet creates a Set whose first Active memtable is m.
func NewSet(m *Memtable, maxMemtableSize int64, maxInactive int) *Set {
	s := &Set{maxSize: maxMemtableSize, maxInactive: maxInactive, active: m}
	s.nextID.Store(m.ID + 1)
	return s
}

func (s *Set) Active() *Memtable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Inactive returns the inactive memtables, newest first.
func (s *Set) Inactive() []*Memtable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Memtable, len(s.inactive))
	for i, m := range s.inactive {
		out[len(s.inactive)-1-i] = m
	}
	return out
}

// Rotate allocates a new Active memtable backed by the given WAL writer,
// demotes the current Active to Inactive, and returns a memtable that must
// be flushed if the inactive list has grown beyond its bound (nil
// otherwise).
func (s *Set) Rotate(newWAL *wal.Writer) (toFlush *Memtable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID.Add(1) - 1
	fresh := NewWithWAL(id, s.maxSize, newWAL)

	prev := s.active
	prev.state.Store(StateInactive)
	s.active = fresh
	s.inactive = append(s.inactive, prev)

	if len(s.inactive) > s.maxInactive {
		oldest := s.inactive[0]
		s.inactive = s.inactive[1:]
		oldest.state.Store(StateFlushing)
		return oldest
	}
	return nil
}

// RemoveFlushed removes m from the inactive list once it has been durably
// flushed to an SSTable and its manifest entry marked complete.
func (s *Set) RemoveFlushed(m *Memtable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.inactive {
		if candidate == m {
			s.inactive = append(s.inactive[:i], s.inactive[i+1:]...)
			m.state.Store(StateFlushed)
			return
		}
	}
	if s.active == m {
		m.state.Store(StateFlushed)
	}
}

// AdoptRecovered registers a memtable recovered from an on-disk WAL as
// either the new Active memtable (the highest id found) or an Inactive one
// awaiting flush, used during keyspace startup recovery.
func (s *Set) AdoptRecovered(m *Memtable, isNewest bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id := m.ID + 1; id > s.nextID.Load() {
		s.nextID.Store(id)
	}
	if isNewest {
		s.active = m
		return
	}
	m.state.Store(StateInactive)
	s.inactive = append(s.inactive, m)
}
