package app

import (
	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/world"
)

// BotCollector produces scripted input so two headless processes can play a
// full match unattended. The script is a function of the local frame count
// and a private generator; as local input it is exchanged over the wire like
// any human input, so the bots need not agree on anything.
type BotCollector struct {
	frame uint64
	rng   uint64
}

// NewBotCollector seeds a bot for the given seat.
func NewBotCollector(peer int, seed int64) *BotCollector {
	return &BotCollector{rng: (uint64(seed) * 31) ^ uint64(peer+1)<<17 | 1}
}

// Capture implements sim.Collector. The bot walks a slow circle, jabs every
// half second and occasionally fires toward a rolled direction.
func (b *BotCollector) Capture() sim.InputFrame {
	b.frame++
	x := b.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	b.rng = x

	var frame sim.InputFrame
	frame[1] = world.MoveDir(uint8((b.frame / 20) % 16))
	frame[2] = byte(x % 16)
	switch {
	case b.frame%30 == 0:
		frame[0] |= world.ButtonPrimary
	case b.frame%47 == 0:
		frame[0] |= world.ButtonSecondary
	}
	return frame
}

var _ sim.Collector = (*BotCollector)(nil)
