package sim

// Tick identifies one discrete simulation step. Ticks start at 1; tick 0 is
// the initial state before any input was applied.
type Tick uint64

// PeerID is the stable handle of a player in the session, densely assigned
// from 0.
type PeerID int

// FrameSize is the fixed width of an encoded input frame on the wire. The
// layout inside the frame belongs to the gameplay schema; the netcode core
// treats frames as opaque values and only ever compares them for equality.
const FrameSize = 8

// InputFrame is one peer's encoded input for one tick. Immutable once
// created. The zero value is the neutral "no input held" frame and doubles
// as the prediction for a peer that has not confirmed any input yet.
type InputFrame [FrameSize]byte

// PeerInput pairs a frame with its origin and whether it was predicted
// rather than confirmed at the time the set was built.
type PeerInput struct {
	Peer      PeerID
	Frame     InputFrame
	Predicted bool
}

// InputSet carries one frame per peer for a single tick, ordered by peer id
// so iteration order is identical on every machine.
type InputSet struct {
	Tick   Tick
	Inputs []PeerInput
}

// Frame returns the frame recorded for the given peer.
func (s InputSet) Frame(peer PeerID) (InputFrame, bool) {
	for _, in := range s.Inputs {
		if in.Peer == peer {
			return in.Frame, true
		}
	}
	return InputFrame{}, false
}

// Complete reports whether every frame in the set is confirmed.
func (s InputSet) Complete() bool {
	for _, in := range s.Inputs {
		if in.Predicted {
			return false
		}
	}
	return true
}
