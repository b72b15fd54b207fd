package session

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"hollowdelve/netcode/internal/journal"
	inet "hollowdelve/netcode/internal/net"
	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/world"
)

type scriptCollector struct {
	peer  int
	frame uint64
}

func (c *scriptCollector) Capture() sim.InputFrame {
	c.frame++
	var f sim.InputFrame
	f[1] = world.MoveDir(uint8((c.frame/10 + uint64(c.peer)*5) % 16))
	f[2] = byte(c.frame % 16)
	if c.frame%17 == 0 {
		f[0] |= world.ButtonPrimary
	}
	return f
}

func testConfig(local sim.PeerID) Config {
	cfg := DefaultConfig()
	cfg.LocalPeer = local
	cfg.ChecksumInterval = 10
	cfg.StallLimit = 1000
	return cfg
}

func newPair(t *testing.T, seed int64) (*Session, *Session, *inet.PipeTransport, *inet.PipeTransport) {
	t.Helper()
	ta, tb := inet.Pipe(0, 1, 256, nil)
	a, err := New(testConfig(0), world.New(2, seed), &scriptCollector{peer: 0}, ta, Deps{})
	if err != nil {
		t.Fatalf("session a: %v", err)
	}
	b, err := New(testConfig(1), world.New(2, seed), &scriptCollector{peer: 1}, tb, Deps{})
	if err != nil {
		t.Fatalf("session b: %v", err)
	}
	return a, b, ta, tb
}

func stepBoth(t *testing.T, a, b *Session, frames int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < frames; i++ {
		if _, err := a.Step(ctx); err != nil {
			t.Fatalf("a frame %d: %v", i, err)
		}
		if _, err := b.Step(ctx); err != nil {
			t.Fatalf("b frame %d: %v", i, err)
		}
	}
}

func TestSessionsConvergeOverPipe(t *testing.T) {
	a, b, _, _ := newPair(t, 42)
	stepBoth(t, a, b, 300)

	sa, sb := a.Stats(), b.Stats()
	if sa.CurrentTick < 290 || sb.CurrentTick < 290 {
		t.Fatalf("ticks = %d/%d, want near 300", sa.CurrentTick, sb.CurrentTick)
	}
	// One frame of pipe latency keeps the frontier just behind the head.
	if sa.ConfirmedTick < sa.CurrentTick-4 || sb.ConfirmedTick < sb.CurrentTick-4 {
		t.Fatalf("frontiers lag: a=%d/%d b=%d/%d", sa.ConfirmedTick, sa.CurrentTick, sb.ConfirmedTick, sb.CurrentTick)
	}
	// The first remote frames always arrive after the tick was simulated
	// from a neutral prediction, so both sides must have rolled back.
	if sa.Rollbacks == 0 && sb.Rollbacks == 0 {
		t.Fatal("no rollbacks despite one frame of delivery latency")
	}
	if sa.ChecksumMismatch || sb.ChecksumMismatch {
		t.Fatal("checksum probes disagreed for identical simulations")
	}
}

func TestSessionsSurvivePacketLoss(t *testing.T) {
	a, b, ta, tb := newPair(t, 7)
	drops := 0
	lossy := func(p inet.Packet) []inet.Packet {
		drops++
		if drops%3 == 0 {
			return nil
		}
		return []inet.Packet{p}
	}
	ta.SetFault(lossy)
	tb.SetFault(lossy)

	stepBoth(t, a, b, 400)
	sa, sb := a.Stats(), b.Stats()
	if sa.ConfirmedTick < 350 || sb.ConfirmedTick < 350 {
		t.Fatalf("frontiers = %d/%d, want redundancy to cover the loss", sa.ConfirmedTick, sb.ConfirmedTick)
	}
	if sa.ChecksumMismatch || sb.ChecksumMismatch {
		t.Fatal("checksum mismatch under packet loss")
	}
}

func TestSessionsSurviveDuplication(t *testing.T) {
	a, b, ta, tb := newPair(t, 9)
	dupe := func(p inet.Packet) []inet.Packet {
		return []inet.Packet{p, p}
	}
	ta.SetFault(dupe)
	tb.SetFault(dupe)

	stepBoth(t, a, b, 200)
	sa, sb := a.Stats(), b.Stats()
	if sa.ChecksumMismatch || sb.ChecksumMismatch {
		t.Fatal("checksum mismatch under duplicated delivery")
	}
	if sa.ConfirmedTick < 190 || sb.ConfirmedTick < 190 {
		t.Fatalf("frontiers = %d/%d under duplication", sa.ConfirmedTick, sb.ConfirmedTick)
	}
}

func TestDivergentSeedsTripChecksumProbe(t *testing.T) {
	ta, tb := inet.Pipe(0, 1, 256, nil)
	a, err := New(testConfig(0), world.New(2, 1), &scriptCollector{peer: 0}, ta, Deps{})
	if err != nil {
		t.Fatalf("session a: %v", err)
	}
	b, err := New(testConfig(1), world.New(2, 2), &scriptCollector{peer: 1}, tb, Deps{})
	if err != nil {
		t.Fatalf("session b: %v", err)
	}
	stepBoth(t, a, b, 100)
	sa, sb := a.Stats(), b.Stats()
	if !sa.ChecksumMismatch && !sb.ChecksumMismatch {
		t.Fatal("mismatched seeds went undetected by checksum probes")
	}
}

func TestRecordedReplaysMatchAcrossPeers(t *testing.T) {
	const seed = 11
	dir := t.TempDir()
	ta, tb := inet.Pipe(0, 1, 256, nil)

	recA, err := journal.OpenRecorder(filepath.Join(dir, "a.db"), journal.SessionMeta{Seed: seed, Peers: 2})
	if err != nil {
		t.Fatalf("OpenRecorder a: %v", err)
	}
	recB, err := journal.OpenRecorder(filepath.Join(dir, "b.db"), journal.SessionMeta{Seed: seed, Peers: 2})
	if err != nil {
		t.Fatalf("OpenRecorder b: %v", err)
	}

	a, err := New(testConfig(0), world.New(2, seed), &scriptCollector{peer: 0}, ta, Deps{Recorder: recA})
	if err != nil {
		t.Fatalf("session a: %v", err)
	}
	b, err := New(testConfig(1), world.New(2, seed), &scriptCollector{peer: 1}, tb, Deps{Recorder: recB})
	if err != nil {
		t.Fatalf("session b: %v", err)
	}
	stepBoth(t, a, b, 150)
	if err := a.Close(); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close b: %v", err)
	}

	ctx := context.Background()
	_, rowsA, err := journal.LoadReplay(ctx, filepath.Join(dir, "a.db"), recA.SessionID())
	if err != nil {
		t.Fatalf("LoadReplay a: %v", err)
	}
	_, rowsB, err := journal.LoadReplay(ctx, filepath.Join(dir, "b.db"), recB.SessionID())
	if err != nil {
		t.Fatalf("LoadReplay b: %v", err)
	}
	if len(rowsA) == 0 {
		t.Fatal("no confirmed input recorded")
	}

	// The peers stop at frontiers one frame apart; compare the common
	// prefix of complete ticks (two rows per tick).
	n := len(rowsA)
	if len(rowsB) < n {
		n = len(rowsB)
	}
	n -= n % 2
	rowsA, rowsB = rowsA[:n], rowsB[:n]

	replayA := world.New(2, seed)
	lastA, err := Replay(rowsA, 2, replayA)
	if err != nil {
		t.Fatalf("Replay a: %v", err)
	}
	replayB := world.New(2, seed)
	lastB, err := Replay(rowsB, 2, replayB)
	if err != nil {
		t.Fatalf("Replay b: %v", err)
	}
	if lastA == 0 || lastA != lastB {
		t.Fatalf("replayed ticks %d vs %d", lastA, lastB)
	}
	sa, _ := replayA.Save()
	sb, _ := replayB.Save()
	if !bytes.Equal(sa, sb) {
		t.Fatal("peers recorded diverging confirmed histories")
	}
}

func TestStallLimitReportsPeerLoss(t *testing.T) {
	cfg := testConfig(0)
	cfg.PredictionWindow = 2
	cfg.StallLimit = 10
	ta, _ := inet.Pipe(0, 1, 16, nil)
	sess, err := New(cfg, world.New(2, 3), &scriptCollector{peer: 0}, ta, Deps{})
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	ctx := context.Background()
	var lastErr error
	for i := 0; i < 30; i++ {
		if _, lastErr = sess.Step(ctx); lastErr != nil {
			break
		}
	}
	if !errors.Is(lastErr, ErrPeerLost) {
		t.Fatalf("err = %v, want ErrPeerLost", lastErr)
	}
	if sess.Stats().CurrentTick != 2 {
		t.Fatalf("tick = %d, want stuck at the prediction window", sess.Stats().CurrentTick)
	}
}
