package sim_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"hollowdelve/netcode/internal/inputs"
	"hollowdelve/netcode/internal/journal"
	"hollowdelve/netcode/internal/sim"
)

// hashGame folds every applied input into a position-dependent accumulator,
// so simulating with a wrong frame anywhere yields a different final state.
type hashGame struct {
	tick uint64
	acc  uint64
}

func (g *hashGame) Advance(set sim.InputSet) {
	g.tick++
	for _, in := range set.Inputs {
		g.acc = g.acc*1099511628211 + uint64(in.Frame[0]) + 1
	}
}

func (g *hashGame) Save() ([]byte, error) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], g.tick)
	binary.BigEndian.PutUint64(buf[8:], g.acc)
	return buf, nil
}

func (g *hashGame) Load(data []byte) error {
	g.tick = binary.BigEndian.Uint64(data[:8])
	g.acc = binary.BigEndian.Uint64(data[8:])
	return nil
}

func frame(b byte) sim.InputFrame {
	var f sim.InputFrame
	f[0] = b
	return f
}

type rig struct {
	game      *hashGame
	sync      *inputs.Synchronizer
	store     *journal.Store
	scheduler *sim.Scheduler
}

func newRig(t *testing.T, cfg sim.Config) *rig {
	t.Helper()
	game := &hashGame{}
	syncer, err := inputs.NewSynchronizer(2, 0)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	store := journal.NewStore(64)
	scheduler, err := sim.NewScheduler(game, syncer, store, cfg, sim.Deps{})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return &rig{game: game, sync: syncer, store: store, scheduler: scheduler}
}

func TestRunFrameAdvancesSpeculatively(t *testing.T) {
	r := newRig(t, sim.Config{PredictionWindow: 8, RetentionWindow: 16})
	for tick := 1; tick <= 3; tick++ {
		res, err := r.scheduler.RunFrame(frame(byte(tick)))
		if err != nil {
			t.Fatalf("frame %d: %v", tick, err)
		}
		if !res.Advanced || res.Stalled {
			t.Fatalf("frame %d: %+v, want speculative advance", tick, res)
		}
		if res.Tick != sim.Tick(tick) {
			t.Fatalf("frame %d reached tick %d", tick, res.Tick)
		}
	}
	if got := r.scheduler.ConfirmedTick(); got != 0 {
		t.Fatalf("confirmed = %d with no remote input, want 0", got)
	}
	if r.scheduler.Phase() != sim.PhaseAdvancing {
		t.Fatalf("phase = %v, want advancing", r.scheduler.Phase())
	}
}

func TestRunFrameStallsAtPredictionWindow(t *testing.T) {
	r := newRig(t, sim.Config{PredictionWindow: 2, RetentionWindow: 16})
	for tick := 1; tick <= 2; tick++ {
		if _, err := r.scheduler.RunFrame(frame(1)); err != nil {
			t.Fatalf("frame %d: %v", tick, err)
		}
	}
	res, err := r.scheduler.RunFrame(frame(1))
	if err != nil {
		t.Fatalf("stalled frame: %v", err)
	}
	if !res.Stalled || res.Advanced {
		t.Fatalf("result = %+v, want stall at window edge", res)
	}
	if res.Tick != 2 {
		t.Fatalf("stall left tick at %d, want 2", res.Tick)
	}
	if r.scheduler.Phase() != sim.PhaseIdle {
		t.Fatalf("phase = %v, want idle", r.scheduler.Phase())
	}
}

func TestStalledFrameRepeatsWithoutDuplicateSubmit(t *testing.T) {
	r := newRig(t, sim.Config{PredictionWindow: 1, RetentionWindow: 16})
	if _, err := r.scheduler.RunFrame(frame(1)); err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	for i := 0; i < 3; i++ {
		res, err := r.scheduler.RunFrame(frame(2))
		if err != nil {
			t.Fatalf("stalled repeat %d: %v", i, err)
		}
		if !res.Stalled {
			t.Fatalf("repeat %d: %+v, want stall until remote input lands", i, res)
		}
	}
	// Remote catches up; the already submitted local tick 2 plays as is.
	r.sync.ReceiveRemote(1, 1, frame(7))
	res, err := r.scheduler.RunFrame(frame(2))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !res.Advanced || res.Tick != 2 {
		t.Fatalf("resume = %+v, want advance to tick 2", res)
	}
}

func TestRollbackMatchesLockstepSimulation(t *testing.T) {
	const ticks = 6
	locals := [ticks + 1]byte{0, 1, 2, 3, 4, 5, 6}
	remotes := [ticks + 1]byte{0, 9, 9, 8, 9, 7, 9}

	// Speculative run: remote input arrives only after five local frames.
	spec := newRig(t, sim.Config{PredictionWindow: 8, RetentionWindow: 16})
	for tick := 1; tick <= 5; tick++ {
		if _, err := spec.scheduler.RunFrame(frame(locals[tick])); err != nil {
			t.Fatalf("speculative frame %d: %v", tick, err)
		}
	}
	for tick := 1; tick <= 5; tick++ {
		spec.sync.ReceiveRemote(1, sim.Tick(tick), frame(remotes[tick]))
	}
	res, err := spec.scheduler.RunFrame(frame(locals[6]))
	if err != nil {
		t.Fatalf("frame 6: %v", err)
	}
	if !res.RolledBack {
		t.Fatalf("result = %+v, want rollback after late input", res)
	}
	if res.RestoredTick != 0 || res.Resimulated != 6 {
		t.Fatalf("rollback restored %d resim %d, want 0 and 6", res.RestoredTick, res.Resimulated)
	}
	// A second correction lands for tick 6 and triggers another rewind on
	// the next frame. Tick 7's remote input stays predicted as the last
	// confirmed frame.
	spec.sync.ReceiveRemote(1, 6, frame(remotes[6]))
	if _, err := spec.scheduler.RunFrame(frame(0)); err != nil {
		t.Fatalf("frame 7: %v", err)
	}

	// Lockstep run: remote input confirmed before every frame. Tick 7
	// mirrors the prediction the speculative run settled on.
	lock := newRig(t, sim.Config{PredictionWindow: 8, RetentionWindow: 16})
	for tick := 1; tick <= 6; tick++ {
		lock.sync.ReceiveRemote(1, sim.Tick(tick), frame(remotes[tick]))
		if _, err := lock.scheduler.RunFrame(frame(locals[tick])); err != nil {
			t.Fatalf("lockstep frame %d: %v", tick, err)
		}
	}
	lock.sync.ReceiveRemote(1, 7, frame(remotes[6]))
	if _, err := lock.scheduler.RunFrame(frame(0)); err != nil {
		t.Fatalf("lockstep frame 7: %v", err)
	}

	specState, _ := spec.game.Save()
	lockState, _ := lock.game.Save()
	if !bytes.Equal(specState, lockState) {
		t.Fatalf("speculative state %x diverged from lockstep %x", specState, lockState)
	}
}

func TestRollbackOverwritesSnapshots(t *testing.T) {
	r := newRig(t, sim.Config{PredictionWindow: 8, RetentionWindow: 16})
	for tick := 1; tick <= 4; tick++ {
		if _, err := r.scheduler.RunFrame(frame(byte(tick))); err != nil {
			t.Fatalf("frame %d: %v", tick, err)
		}
	}
	before, err := r.store.Restore(3)
	if err != nil {
		t.Fatalf("Restore before: %v", err)
	}
	r.sync.ReceiveRemote(1, 2, frame(9))
	if _, err := r.scheduler.RunFrame(frame(5)); err != nil {
		t.Fatalf("rollback frame: %v", err)
	}
	after, err := r.store.Restore(3)
	if err != nil {
		t.Fatalf("Restore after: %v", err)
	}
	if bytes.Equal(before, after) {
		t.Fatal("tick 3 snapshot unchanged after resimulation with corrected input")
	}
}

func TestTrimEvictsBehindConfirmedFrontier(t *testing.T) {
	r := newRig(t, sim.Config{PredictionWindow: 8, RetentionWindow: 3})
	for tick := 1; tick <= 10; tick++ {
		r.sync.ReceiveRemote(1, sim.Tick(tick), frame(1))
		res, err := r.scheduler.RunFrame(frame(1))
		if err != nil {
			t.Fatalf("frame %d: %v", tick, err)
		}
		if tick == 10 && res.Frontier != 10 {
			t.Fatalf("frontier = %d, want 10", res.Frontier)
		}
	}
	// Retention 3 behind frontier 10 keeps [7,10] plus nothing older.
	if r.store.Contains(6) {
		t.Fatal("tick 6 snapshot survived past the retention window")
	}
	if !r.store.Contains(7) {
		t.Fatal("tick 7 snapshot missing inside the retention window")
	}
	if _, err := r.store.Restore(10); err != nil {
		t.Fatalf("frontier snapshot: %v", err)
	}
}
