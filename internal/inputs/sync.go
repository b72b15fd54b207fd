// Package inputs tracks per-peer input history: what is confirmed, what was
// predicted, and which predictions turned out wrong.
package inputs

import (
	"errors"
	"fmt"
	"sync"

	"hollowdelve/netcode/internal/sim"
)

// ErrDuplicateTick reports local input submitted twice for one tick. This is
// an integration error in the caller; the first submission stays in effect.
var ErrDuplicateTick = errors.New("duplicate local input tick")

// RemoteResult reports how a received remote frame was absorbed.
type RemoteResult struct {
	// Applied means the frame changed recorded history (first arrival,
	// prediction confirmation, or conflicting overwrite).
	Applied bool
	// Duplicate means an identical payload was already confirmed; no-op.
	Duplicate bool
	// Conflict means a different payload was already confirmed for the
	// tick. Last write wins and the tick is flagged for correction; this is
	// a peer protocol violation worth logging but not fatal.
	Conflict bool
	// Mispredicted means the tick must be re-simulated because the frame
	// contradicts what the scheduler already used.
	Mispredicted bool
	// Stale means the tick is below the trim floor and was ignored.
	Stale bool
}

type entry struct {
	frame     sim.InputFrame
	confirmed bool
}

type peerState struct {
	entries   map[sim.Tick]*entry
	frontier  sim.Tick
	lastFrame sim.InputFrame
}

// Synchronizer owns input history for every peer in the session. Mutation is
// mutex-guarded: transport goroutines confirm remote frames while the
// scheduler reads sets and submits local input from the frame pass.
//
// Prediction policy: a missing remote frame is predicted as the peer's most
// recent confirmed frame (player inputs are temporally correlated). Before a
// peer has confirmed anything the prediction is the zero frame, i.e. no
// buttons held.
type Synchronizer struct {
	mu       sync.Mutex
	local    sim.PeerID
	peers    []*peerState
	frontier sim.Tick
	floor    sim.Tick
	firstBad sim.Tick
	hasBad   bool
}

// NewSynchronizer tracks peerCount peers with the given local peer id.
func NewSynchronizer(peerCount int, local sim.PeerID) (*Synchronizer, error) {
	if peerCount < 1 {
		return nil, fmt.Errorf("peer count %d out of range", peerCount)
	}
	if local < 0 || int(local) >= peerCount {
		return nil, fmt.Errorf("local peer %d out of range for %d peers", local, peerCount)
	}
	peers := make([]*peerState, peerCount)
	for i := range peers {
		peers[i] = &peerState{entries: make(map[sim.Tick]*entry)}
	}
	return &Synchronizer{local: local, peers: peers}, nil
}

// LocalPeer returns the local peer id.
func (s *Synchronizer) LocalPeer() sim.PeerID {
	return s.local
}

// PeerCount returns the number of tracked peers.
func (s *Synchronizer) PeerCount() int {
	return len(s.peers)
}

// SubmitLocal records local input as confirmed for the tick. Local input is
// authoritative for itself, so there is never a prediction to reconcile.
func (s *Synchronizer) SubmitLocal(tick sim.Tick, frame sim.InputFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.peers[s.local]
	if tick <= s.floor && s.floor > 0 {
		return fmt.Errorf("local input for trimmed tick %d: %w", tick, ErrDuplicateTick)
	}
	if _, exists := st.entries[tick]; exists {
		return fmt.Errorf("tick %d: %w", tick, ErrDuplicateTick)
	}
	st.entries[tick] = &entry{frame: frame, confirmed: true}
	s.advanceFrontierLocked(st)
	return nil
}

// ReceiveRemote absorbs a remote peer's frame for a tick. Out-of-order and
// duplicate delivery are tolerated; see RemoteResult for the outcomes.
func (s *Synchronizer) ReceiveRemote(peer sim.PeerID, tick sim.Tick, frame sim.InputFrame) RemoteResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer < 0 || int(peer) >= len(s.peers) || peer == s.local {
		return RemoteResult{}
	}
	if tick < s.floor || tick == 0 {
		return RemoteResult{Stale: true}
	}
	st := s.peers[peer]
	e, exists := st.entries[tick]
	var res RemoteResult
	switch {
	case !exists:
		st.entries[tick] = &entry{frame: frame, confirmed: true}
		res.Applied = true
	case e.confirmed:
		if e.frame == frame {
			return RemoteResult{Duplicate: true}
		}
		e.frame = frame
		s.flagLocked(tick)
		res = RemoteResult{Applied: true, Conflict: true, Mispredicted: true}
	default:
		differs := e.frame != frame
		e.frame = frame
		e.confirmed = true
		if differs {
			s.flagLocked(tick)
		}
		res = RemoteResult{Applied: true, Mispredicted: differs}
	}
	s.advanceFrontierLocked(st)
	return res
}

// Predict returns the frame to assume for (peer, tick) and records it so a
// later arrival can be checked against what was actually simulated.
func (s *Synchronizer) Predict(peer sim.PeerID, tick sim.Tick) sim.InputFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictLocked(peer, tick)
}

func (s *Synchronizer) predictLocked(peer sim.PeerID, tick sim.Tick) sim.InputFrame {
	st := s.peers[peer]
	if e, exists := st.entries[tick]; exists {
		return e.frame
	}
	frame := st.lastFrame
	st.entries[tick] = &entry{frame: frame}
	return frame
}

// InputSetFor builds the set for a tick: confirmed frames where available,
// recorded predictions otherwise. Peers appear in id order.
func (s *Synchronizer) InputSetFor(tick sim.Tick) sim.InputSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := sim.InputSet{Tick: tick, Inputs: make([]sim.PeerInput, 0, len(s.peers))}
	for id := range s.peers {
		peer := sim.PeerID(id)
		if e, exists := s.peers[id].entries[tick]; exists && e.confirmed {
			set.Inputs = append(set.Inputs, sim.PeerInput{Peer: peer, Frame: e.frame})
			continue
		}
		set.Inputs = append(set.Inputs, sim.PeerInput{
			Peer:      peer,
			Frame:     s.predictLocked(peer, tick),
			Predicted: true,
		})
	}
	return set
}

// ConfirmedFrontier is the minimum, across peers, of the highest contiguous
// confirmed tick. It never decreases.
func (s *Synchronizer) ConfirmedFrontier() sim.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	min := s.peers[0].frontier
	for _, st := range s.peers[1:] {
		if st.frontier < min {
			min = st.frontier
		}
	}
	if min > s.frontier {
		s.frontier = min
	}
	return s.frontier
}

// PeerFrontier is the highest contiguous confirmed tick for one peer; for
// remote peers this is the value to acknowledge on the wire.
func (s *Synchronizer) PeerFrontier(peer sim.PeerID) sim.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer < 0 || int(peer) >= len(s.peers) {
		return 0
	}
	return s.peers[peer].frontier
}

// ConfirmedFrame returns the confirmed frame for (peer, tick), if present.
func (s *Synchronizer) ConfirmedFrame(peer sim.PeerID, tick sim.Tick) (sim.InputFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer < 0 || int(peer) >= len(s.peers) {
		return sim.InputFrame{}, false
	}
	if e, exists := s.peers[peer].entries[tick]; exists && e.confirmed {
		return e.frame, true
	}
	return sim.InputFrame{}, false
}

// TakeFirstMispredicted consumes the lowest flagged tick, if any.
func (s *Synchronizer) TakeFirstMispredicted() (sim.Tick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasBad {
		return 0, false
	}
	s.hasBad = false
	return s.firstBad, true
}

// TrimBelow drops input history below floor. The floor is clamped to the
// confirmed frontier so confirmed-but-unconsumed history is never lost; the
// prediction source survives trims via the cached last confirmed frame.
func (s *Synchronizer) TrimBelow(floor sim.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	min := s.peers[0].frontier
	for _, st := range s.peers[1:] {
		if st.frontier < min {
			min = st.frontier
		}
	}
	if floor > min {
		floor = min
	}
	if floor <= s.floor {
		return
	}
	for _, st := range s.peers {
		for tick := range st.entries {
			if tick < floor {
				delete(st.entries, tick)
			}
		}
	}
	s.floor = floor
}

func (s *Synchronizer) advanceFrontierLocked(st *peerState) {
	for {
		e, exists := st.entries[st.frontier+1]
		if !exists || !e.confirmed {
			return
		}
		st.frontier++
		st.lastFrame = e.frame
	}
}

func (s *Synchronizer) flagLocked(tick sim.Tick) {
	if !s.hasBad || tick < s.firstBad {
		s.firstBad = tick
		s.hasBad = true
	}
}
