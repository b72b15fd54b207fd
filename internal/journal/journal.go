// Package journal keeps the rolling buffer of world-state snapshots the
// scheduler rewinds into, and records confirmed input history for offline
// replay.
package journal

import (
	"errors"
	"sync"
	"time"
)

// ErrSnapshotUnavailable reports a restore target that was evicted or never
// recorded. For a live session this is a hard desync: the peer cannot repair
// its state locally and needs a full resynchronization.
var ErrSnapshotUnavailable = errors.New("snapshot unavailable")

// Snapshot pairs a tick with the serialized world state recorded immediately
// after simulating it. The bytes are owned by the store; callers always get
// copies.
type Snapshot struct {
	Tick       uint64
	State      []byte
	RecordedAt time.Time
}

// Eviction describes a snapshot removed from the buffer and why.
type Eviction struct {
	Tick   uint64 `json:"tick"`
	Reason string `json:"reason,omitempty"`
}

// RecordResult reports buffer state after storing a snapshot.
type RecordResult struct {
	Size       int        `json:"size"`
	OldestTick uint64     `json:"oldestTick"`
	NewestTick uint64     `json:"newestTick"`
	Evicted    []Eviction `json:"evicted,omitempty"`
}

// Store is a bounded, tick-ordered snapshot buffer. It is safe for
// concurrent use, though in practice only the scheduler touches it during a
// frame pass.
type Store struct {
	mu        sync.RWMutex
	snapshots []Snapshot
	capacity  int
}

// NewStore constructs a store holding at most capacity snapshots.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		snapshots: make([]Snapshot, 0, capacity),
		capacity:  capacity,
	}
}

// Record stores a copy of state keyed by tick. Re-recording an existing tick
// overwrites it in place, which is how re-simulated ticks replace their
// speculative snapshots. When the buffer is full the oldest snapshot is
// evicted.
func (s *Store) Record(tick uint64, state []byte) RecordResult {
	if s == nil {
		return RecordResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]byte, len(state))
	copy(copied, state)
	entry := Snapshot{Tick: tick, State: copied, RecordedAt: time.Now()}

	if idx, ok := s.indexLocked(tick); ok {
		s.snapshots[idx] = entry
		return s.resultLocked(nil)
	}

	// Ticks normally arrive in order; fall back to an insertion scan when a
	// rewound tick is re-recorded after a trim.
	pos := len(s.snapshots)
	for pos > 0 && s.snapshots[pos-1].Tick > tick {
		pos--
	}
	s.snapshots = append(s.snapshots, Snapshot{})
	copy(s.snapshots[pos+1:], s.snapshots[pos:])
	s.snapshots[pos] = entry

	var evicted []Eviction
	for len(s.snapshots) > s.capacity {
		evicted = append(evicted, Eviction{Tick: s.snapshots[0].Tick, Reason: "capacity"})
		copy(s.snapshots, s.snapshots[1:])
		s.snapshots = s.snapshots[:len(s.snapshots)-1]
	}
	return s.resultLocked(evicted)
}

// Restore returns the exact bytes recorded for tick, or
// ErrSnapshotUnavailable if the tick was evicted or never recorded.
func (s *Store) Restore(tick uint64) ([]byte, error) {
	if s == nil {
		return nil, ErrSnapshotUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexLocked(tick)
	if !ok {
		return nil, ErrSnapshotUnavailable
	}
	state := make([]byte, len(s.snapshots[idx].State))
	copy(state, s.snapshots[idx].State)
	return state, nil
}

// Contains reports whether a snapshot for tick is currently restorable.
func (s *Store) Contains(tick uint64) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexLocked(tick)
	return ok
}

// TrimBelow evicts every snapshot with a tick lower than floor and reports
// how many were removed.
func (s *Store) TrimBelow(floor uint64) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := 0
	for idx < len(s.snapshots) && s.snapshots[idx].Tick < floor {
		idx++
	}
	if idx == 0 {
		return 0
	}
	copy(s.snapshots, s.snapshots[idx:])
	s.snapshots = s.snapshots[:len(s.snapshots)-idx]
	return idx
}

// Window reports the current buffer occupancy and tick bounds.
func (s *Store) Window() (size int, oldest, newest uint64) {
	if s == nil {
		return 0, 0, 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	size = len(s.snapshots)
	if size == 0 {
		return 0, 0, 0
	}
	return size, s.snapshots[0].Tick, s.snapshots[size-1].Tick
}

func (s *Store) indexLocked(tick uint64) (int, bool) {
	lo, hi := 0, len(s.snapshots)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case s.snapshots[mid].Tick == tick:
			return mid, true
		case s.snapshots[mid].Tick < tick:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

func (s *Store) resultLocked(evicted []Eviction) RecordResult {
	result := RecordResult{Size: len(s.snapshots), Evicted: evicted}
	if result.Size > 0 {
		result.OldestTick = s.snapshots[0].Tick
		result.NewestTick = s.snapshots[result.Size-1].Tick
	}
	return result
}
