// Package world is a deterministic duel arena implementing the simulation
// contract. All state lives in plain integer fields, every update runs in a
// fixed order over stably sorted slices, and the only randomness is an
// xorshift generator stored inside the state, so two instances fed the same
// inputs stay byte-identical.
package world

import (
	"hollowdelve/netcode/internal/sim"
)

// Fixed-point scale: world units are 1/256ths of a pixel.
const Scale = 256

// Arena bounds in fixed-point units.
const (
	ArenaWidth  = 640 * Scale
	ArenaHeight = 360 * Scale
)

// Input frame layout: byte 0 holds the button bits, byte 1 the movement
// direction biased by one (0 means the stick is centered, 1..16 map to the
// 16 directions), byte 2 the aim direction. A zero frame is therefore a
// player doing nothing, which is also what the netcode predicts for a peer
// that has not sent anything yet.
const (
	ButtonPrimary   = 1 << 0
	ButtonSecondary = 1 << 1
	ButtonInteract  = 1 << 2

	// MoveNone in the move byte means the stick is centered.
	MoveNone = 0
)

// MoveDir encodes a direction index into the move byte.
func MoveDir(dir uint8) byte { return byte(dir&0x0F) + 1 }

// Movement deltas for the 16 aim/move directions, fixed-point per tick.
// Index 0 is east, rotating counterclockwise. Values are round(cos/sin *
// speed) with speed 2 px/tick, precomputed so every build simulates the
// exact same table.
var dirDelta = [16][2]int32{
	{512, 0}, {473, 196}, {362, 362}, {196, 473},
	{0, 512}, {-196, 473}, {-362, 362}, {-473, 196},
	{-512, 0}, {-473, -196}, {-362, -362}, {-196, -473},
	{0, -512}, {196, -473}, {362, -362}, {473, -196},
}

const (
	playerMaxHP       = 20
	playerRadius      = 6 * Scale
	attackCooldown    = 12
	projectileSpeed   = 3 // multiplier over dirDelta
	projectileTTL     = 90
	projectileDamage  = 4
	meleeDamage       = 6
	meleeRange        = 14 * Scale
	monsterSpawnEvery = 180
	maxMonsters       = 8
)

type Player struct {
	Pos      [2]int32
	Facing   uint8
	HP       int16
	Cooldown uint8
	Score    uint32
}

type MonsterKind uint8

const (
	KindSlime MonsterKind = iota
	KindRat
)

type Monster struct {
	ID     uint32
	Kind   MonsterKind
	Pos    [2]int32
	HP     int16
	Facing uint8
}

type Projectile struct {
	ID    uint32
	Owner uint8
	Pos   [2]int32
	Dir   uint8
	TTL   uint8
}

// World holds the full deterministic state. It implements sim.Game.
type World struct {
	tick        uint64
	rng         uint64
	nextID      uint32
	players     []Player
	monsters    []Monster
	projectiles []Projectile
}

// New builds a world for the given peer count, players spread along the
// arena midline. Seed feeds the in-state generator; both peers must agree
// on it before the first tick.
func New(players int, seed int64) *World {
	if players < 1 {
		players = 1
	}
	w := &World{
		rng:     uint64(seed) | 1,
		nextID:  1,
		players: make([]Player, players),
	}
	for i := range w.players {
		w.players[i] = Player{
			Pos:    [2]int32{int32((i + 1) * ArenaWidth / (players + 1)), ArenaHeight / 2},
			Facing: 0,
			HP:     playerMaxHP,
		}
	}
	return w
}

// Players exposes a copy of the player slice for presentation and tests.
func (w *World) Players() []Player {
	out := make([]Player, len(w.players))
	copy(out, w.players)
	return out
}

// Monsters exposes a copy of the monster slice.
func (w *World) Monsters() []Monster {
	out := make([]Monster, len(w.monsters))
	copy(out, w.monsters)
	return out
}

// Tick reports the last simulated tick.
func (w *World) Tick() uint64 { return w.tick }

// roll advances the xorshift64 generator and returns the next value. The
// generator state is part of the serialized world, so rolls stay aligned
// across save, load and resimulation.
func (w *World) roll() uint64 {
	x := w.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	w.rng = x
	return x
}

func clampAxis(v, max int32) int32 {
	if v < playerRadius {
		return playerRadius
	}
	if v > max-playerRadius {
		return max - playerRadius
	}
	return v
}

var _ sim.Game = (*World)(nil)
