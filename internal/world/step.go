package world

import (
	"hollowdelve/netcode/internal/sim"
)

// Advance simulates one tick. Update order is fixed: players move and act
// in peer order, projectiles fly, monsters think, then expired entities are
// removed front to back. Reordering any phase changes the wire checksum, so
// treat the order as part of the protocol.
func (w *World) Advance(set sim.InputSet) {
	w.tick++

	for i := range w.players {
		frame, _ := set.Frame(sim.PeerID(i))
		w.stepPlayer(i, frame)
	}
	w.stepProjectiles()
	w.stepMonsters()
	w.spawnMonsters()
	w.reap()
}

func (w *World) stepPlayer(idx int, frame sim.InputFrame) {
	p := &w.players[idx]
	if p.HP <= 0 {
		return
	}

	buttons := frame[0]
	move := frame[1]
	aimDir := frame[2] & 0x0F

	if move != MoveNone {
		dir := (move - 1) & 0x0F
		d := dirDelta[dir]
		p.Pos[0] = clampAxis(p.Pos[0]+d[0], ArenaWidth)
		p.Pos[1] = clampAxis(p.Pos[1]+d[1], ArenaHeight)
		p.Facing = dir
	}
	if buttons&ButtonSecondary != 0 {
		p.Facing = aimDir
	}

	if p.Cooldown > 0 {
		p.Cooldown--
		return
	}
	switch {
	case buttons&ButtonPrimary != 0:
		w.meleeSwing(idx)
		p.Cooldown = attackCooldown
	case buttons&ButtonSecondary != 0:
		w.projectiles = append(w.projectiles, Projectile{
			ID:    w.allocID(),
			Owner: uint8(idx),
			Pos:   p.Pos,
			Dir:   aimDir,
			TTL:   projectileTTL,
		})
		p.Cooldown = attackCooldown
	}
}

// meleeSwing damages every monster within range of the attacker. Monsters
// are scanned in slice order so simultaneous kills resolve identically on
// every peer.
func (w *World) meleeSwing(idx int) {
	p := &w.players[idx]
	for i := range w.monsters {
		m := &w.monsters[i]
		if m.HP <= 0 {
			continue
		}
		if dist2(p.Pos, m.Pos) <= int64(meleeRange)*int64(meleeRange) {
			m.HP -= meleeDamage
			if m.HP <= 0 {
				p.Score++
			}
		}
	}
}

func (w *World) stepProjectiles() {
	for i := range w.projectiles {
		pr := &w.projectiles[i]
		if pr.TTL == 0 {
			continue
		}
		d := dirDelta[pr.Dir&0x0F]
		pr.Pos[0] += d[0] * projectileSpeed
		pr.Pos[1] += d[1] * projectileSpeed
		pr.TTL--
		if pr.Pos[0] < 0 || pr.Pos[0] > ArenaWidth || pr.Pos[1] < 0 || pr.Pos[1] > ArenaHeight {
			pr.TTL = 0
			continue
		}
		for j := range w.monsters {
			m := &w.monsters[j]
			if m.HP <= 0 {
				continue
			}
			if dist2(pr.Pos, m.Pos) <= int64(playerRadius)*int64(playerRadius) {
				m.HP -= projectileDamage
				if m.HP <= 0 && int(pr.Owner) < len(w.players) {
					w.players[pr.Owner].Score++
				}
				pr.TTL = 0
				break
			}
		}
	}
}

// stepMonsters walks each live monster toward the nearest live player.
// Rats roll the generator for a jitter direction every few ticks; slimes
// track directly. Contact damages the player.
func (w *World) stepMonsters() {
	for i := range w.monsters {
		m := &w.monsters[i]
		if m.HP <= 0 {
			continue
		}
		target := w.nearestPlayer(m.Pos)
		if target < 0 {
			continue
		}
		p := &w.players[target]
		dir := dirToward(m.Pos, p.Pos)
		if m.Kind == KindRat && w.tick%8 == 0 {
			dir = uint8((uint64(dir) + w.roll()%3 + 15) % 16)
		}
		m.Facing = dir
		d := dirDelta[dir]
		m.Pos[0] = clampAxis(m.Pos[0]+d[0]/2, ArenaWidth)
		m.Pos[1] = clampAxis(m.Pos[1]+d[1]/2, ArenaHeight)

		if dist2(m.Pos, p.Pos) <= int64(playerRadius)*int64(playerRadius) {
			p.HP--
			if p.HP < 0 {
				p.HP = 0
			}
		}
	}
}

func (w *World) spawnMonsters() {
	if w.tick%monsterSpawnEvery != 0 {
		return
	}
	live := 0
	for i := range w.monsters {
		if w.monsters[i].HP > 0 {
			live++
		}
	}
	if live >= maxMonsters {
		return
	}
	r := w.roll()
	kind := KindSlime
	hp := int16(10)
	if r&1 == 1 {
		kind = KindRat
		hp = 6
	}
	w.monsters = append(w.monsters, Monster{
		ID:   w.allocID(),
		Kind: kind,
		Pos: [2]int32{
			playerRadius + int32(r>>8%uint64(ArenaWidth-2*playerRadius)),
			playerRadius + int32(r>>24%uint64(ArenaHeight-2*playerRadius)),
		},
		HP: hp,
	})
}

// reap compacts dead monsters and spent projectiles in place, preserving
// relative order of survivors.
func (w *World) reap() {
	monsters := w.monsters[:0]
	for _, m := range w.monsters {
		if m.HP > 0 {
			monsters = append(monsters, m)
		}
	}
	w.monsters = monsters

	projectiles := w.projectiles[:0]
	for _, pr := range w.projectiles {
		if pr.TTL > 0 {
			projectiles = append(projectiles, pr)
		}
	}
	w.projectiles = projectiles
}

func (w *World) allocID() uint32 {
	id := w.nextID
	w.nextID++
	return id
}

func (w *World) nearestPlayer(pos [2]int32) int {
	best := -1
	var bestD int64
	for i := range w.players {
		if w.players[i].HP <= 0 {
			continue
		}
		d := dist2(pos, w.players[i].Pos)
		if best < 0 || d < bestD {
			best = i
			bestD = d
		}
	}
	return best
}

func dist2(a, b [2]int32) int64 {
	dx := int64(a[0] - b[0])
	dy := int64(a[1] - b[1])
	return dx*dx + dy*dy
}

// dirToward picks the 16-direction index closest to the vector from a to
// b using octant comparison on integer components, no floating point.
func dirToward(a, b [2]int32) uint8 {
	dx := int64(b[0] - a[0])
	dy := int64(b[1] - a[1])
	adx, ady := dx, dy
	if adx < 0 {
		adx = -adx
	}
	if ady < 0 {
		ady = -ady
	}
	// Slope breakpoints split each quadrant into sectors: tan of 11.25,
	// 33.75, 56.25 and 78.75 degrees scaled by 1024, integer math only.
	var sector uint8
	switch {
	case ady*1024 <= adx*204:
		sector = 0
	case ady*1024 <= adx*684:
		sector = 1
	case ady*1024 <= adx*1533:
		sector = 2
	case ady*1024 <= adx*5147:
		sector = 3
	default:
		sector = 4
	}
	var dir uint8
	switch {
	case dx >= 0 && dy >= 0:
		dir = sector
	case dx < 0 && dy >= 0:
		dir = 8 - sector
	case dx < 0 && dy < 0:
		dir = 8 + sector
	default:
		dir = (16 - sector) % 16
	}
	return dir
}
