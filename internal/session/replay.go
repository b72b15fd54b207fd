package session

import (
	"fmt"

	"hollowdelve/netcode/internal/journal"
	"hollowdelve/netcode/internal/sim"
)

// Replay re-simulates recorded confirmed input through a fresh game, tick by
// tick, and reports the last tick applied. Rows must be ordered by tick then
// peer, as LoadReplay returns them; a tick missing any peer's frame ends the
// replay there.
func Replay(rows []journal.ConfirmedInput, peers int, game sim.Game) (sim.Tick, error) {
	if game == nil {
		return 0, fmt.Errorf("replay requires a game")
	}
	if peers < 1 {
		return 0, fmt.Errorf("replay requires at least one peer")
	}

	var last sim.Tick
	i := 0
	for tick := sim.Tick(1); i < len(rows); tick++ {
		set := sim.InputSet{Tick: tick}
		for peer := 0; peer < peers; peer++ {
			if i >= len(rows) {
				return last, nil
			}
			row := rows[i]
			if sim.Tick(row.Tick) != tick || row.Peer != peer {
				return last, nil
			}
			if len(row.Frame) != sim.FrameSize {
				return last, fmt.Errorf("tick %d peer %d: frame is %d bytes, want %d", tick, peer, len(row.Frame), sim.FrameSize)
			}
			var frame sim.InputFrame
			copy(frame[:], row.Frame)
			set.Inputs = append(set.Inputs, sim.PeerInput{Peer: sim.PeerID(peer), Frame: frame})
			i++
		}
		game.Advance(set)
		last = tick
	}
	return last, nil
}
