package world

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// snapshotVersion tags serialized state so a stale blob from an older build
// fails loudly instead of loading garbage.
const snapshotVersion = 1

// Save serializes the full world state. The layout is fixed width and field
// ordered, so identical states always produce identical bytes; checksum
// probes and the snapshot journal both rely on that.
func (w *World) Save() ([]byte, error) {
	buf := &bytes.Buffer{}
	e := encoder{buf: buf}
	e.u8(snapshotVersion)
	e.u64(w.tick)
	e.u64(w.rng)
	e.u32(w.nextID)

	e.u16(uint16(len(w.players)))
	for i := range w.players {
		p := &w.players[i]
		e.i32(p.Pos[0])
		e.i32(p.Pos[1])
		e.u8(p.Facing)
		e.u16(uint16(p.HP))
		e.u8(p.Cooldown)
		e.u32(p.Score)
	}

	e.u16(uint16(len(w.monsters)))
	for i := range w.monsters {
		m := &w.monsters[i]
		e.u32(m.ID)
		e.u8(byte(m.Kind))
		e.i32(m.Pos[0])
		e.i32(m.Pos[1])
		e.u16(uint16(m.HP))
		e.u8(m.Facing)
	}

	e.u16(uint16(len(w.projectiles)))
	for i := range w.projectiles {
		pr := &w.projectiles[i]
		e.u32(pr.ID)
		e.u8(pr.Owner)
		e.i32(pr.Pos[0])
		e.i32(pr.Pos[1])
		e.u8(pr.Dir)
		e.u8(pr.TTL)
	}

	return buf.Bytes(), nil
}

// Load replaces world state with a previously saved snapshot.
func (w *World) Load(data []byte) error {
	d := decoder{data: data}
	if version := d.u8(); d.err == nil && version != snapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", version, snapshotVersion)
	}

	next := World{
		tick:   d.u64(),
		rng:    d.u64(),
		nextID: d.u32(),
	}

	next.players = make([]Player, d.u16())
	for i := range next.players {
		p := &next.players[i]
		p.Pos[0] = d.i32()
		p.Pos[1] = d.i32()
		p.Facing = d.u8()
		p.HP = int16(d.u16())
		p.Cooldown = d.u8()
		p.Score = d.u32()
	}

	next.monsters = make([]Monster, d.u16())
	for i := range next.monsters {
		m := &next.monsters[i]
		m.ID = d.u32()
		m.Kind = MonsterKind(d.u8())
		m.Pos[0] = d.i32()
		m.Pos[1] = d.i32()
		m.HP = int16(d.u16())
		m.Facing = d.u8()
	}

	next.projectiles = make([]Projectile, d.u16())
	for i := range next.projectiles {
		pr := &next.projectiles[i]
		pr.ID = d.u32()
		pr.Owner = d.u8()
		pr.Pos[0] = d.i32()
		pr.Pos[1] = d.i32()
		pr.Dir = d.u8()
		pr.TTL = d.u8()
	}

	if d.err != nil {
		return fmt.Errorf("decode snapshot: %w", d.err)
	}
	*w = next
	return nil
}

type encoder struct {
	buf     *bytes.Buffer
	scratch [8]byte
}

func (e *encoder) u8(v byte) { e.buf.WriteByte(v) }

func (e *encoder) u16(v uint16) {
	binary.BigEndian.PutUint16(e.scratch[:2], v)
	e.buf.Write(e.scratch[:2])
}

func (e *encoder) u32(v uint32) {
	binary.BigEndian.PutUint32(e.scratch[:4], v)
	e.buf.Write(e.scratch[:4])
}

func (e *encoder) i32(v int32) { e.u32(uint32(v)) }

func (e *encoder) u64(v uint64) {
	binary.BigEndian.PutUint64(e.scratch[:8], v)
	e.buf.Write(e.scratch[:8])
}

// decoder reads fixed-width fields with a sticky error; once a read runs
// short every later read returns zero and the error survives for the
// caller to inspect.
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.data) < n {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	out := d.data[:n]
	d.data = d.data[n:]
	return out
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
