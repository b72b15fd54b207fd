package world

import (
	"bytes"
	"testing"

	"hollowdelve/netcode/internal/sim"
)

func inputSet(tick sim.Tick, frames ...sim.InputFrame) sim.InputSet {
	set := sim.InputSet{Tick: tick}
	for i, f := range frames {
		set.Inputs = append(set.Inputs, sim.PeerInput{Peer: sim.PeerID(i), Frame: f})
	}
	return set
}

func scriptFrame(tick uint64, peer int) sim.InputFrame {
	var f sim.InputFrame
	f[1] = MoveDir(uint8((tick + uint64(peer)*3) % 16))
	f[2] = byte((tick * 5) % 16)
	if tick%13 == 0 {
		f[0] |= ButtonPrimary
	}
	if tick%29 == 0 {
		f[0] |= ButtonSecondary
	}
	return f
}

func runScript(w *World, ticks uint64) {
	for tick := uint64(1); tick <= ticks; tick++ {
		w.Advance(inputSet(sim.Tick(tick), scriptFrame(tick, 0), scriptFrame(tick, 1)))
	}
}

func TestIdenticalInputsProduceIdenticalState(t *testing.T) {
	a := New(2, 1234)
	b := New(2, 1234)
	runScript(a, 400)
	runScript(b, 400)

	sa, err := a.Save()
	if err != nil {
		t.Fatalf("Save a: %v", err)
	}
	sb, err := b.Save()
	if err != nil {
		t.Fatalf("Save b: %v", err)
	}
	if !bytes.Equal(sa, sb) {
		t.Fatal("two runs with identical inputs diverged")
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := New(2, 1)
	b := New(2, 2)
	runScript(a, 400)
	runScript(b, 400)
	sa, _ := a.Save()
	sb, _ := b.Save()
	if bytes.Equal(sa, sb) {
		t.Fatal("different seeds produced identical state after monster spawns")
	}
}

func TestSaveLoadMidRunResumesDeterministically(t *testing.T) {
	const split, total = 250, 500

	straight := New(2, 99)
	runScript(straight, total)
	want, err := straight.Save()
	if err != nil {
		t.Fatalf("Save straight: %v", err)
	}

	resumed := New(2, 99)
	runScript(resumed, split)
	mid, err := resumed.Save()
	if err != nil {
		t.Fatalf("Save mid: %v", err)
	}

	// Load into a world that simulated something else entirely.
	other := New(2, 7)
	runScript(other, 100)
	if err := other.Load(mid); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if other.Tick() != split {
		t.Fatalf("tick after load = %d, want %d", other.Tick(), split)
	}
	for tick := uint64(split + 1); tick <= total; tick++ {
		other.Advance(inputSet(sim.Tick(tick), scriptFrame(tick, 0), scriptFrame(tick, 1)))
	}
	got, err := other.Save()
	if err != nil {
		t.Fatalf("Save resumed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("resumed run diverged from straight run")
	}
}

func TestLoadRejectsTruncatedSnapshot(t *testing.T) {
	w := New(2, 1)
	runScript(w, 50)
	data, err := w.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := New(2, 1).Load(data[:len(data)-3]); err == nil {
		t.Fatal("truncated snapshot loaded without error")
	}
	if err := New(2, 1).Load(nil); err == nil {
		t.Fatal("empty snapshot loaded without error")
	}
}

func TestMovementStaysInsideArena(t *testing.T) {
	w := New(2, 1)
	var west sim.InputFrame
	west[1] = MoveDir(8)
	for tick := uint64(1); tick <= 2000; tick++ {
		w.Advance(inputSet(sim.Tick(tick), west, west))
	}
	for i, p := range w.Players() {
		if p.Pos[0] < playerRadius || p.Pos[0] > ArenaWidth-playerRadius {
			t.Fatalf("player %d escaped the arena: %v", i, p.Pos)
		}
	}
}

func TestMonstersSpawnOverTime(t *testing.T) {
	w := New(2, 5)
	var idle sim.InputFrame
	for tick := uint64(1); tick <= monsterSpawnEvery*3; tick++ {
		w.Advance(inputSet(sim.Tick(tick), idle, idle))
	}
	if len(w.Monsters()) == 0 {
		t.Fatal("no monsters after three spawn intervals")
	}
}
