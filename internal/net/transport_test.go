package net

import (
	"sync"
	"testing"

	"hollowdelve/netcode/internal/telemetry"
)

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]uint64
	gauges map[string]uint64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]uint64), gauges: make(map[string]uint64)}
}

func (m *countingMetrics) Add(key string, delta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key] += delta
}

func (m *countingMetrics) Store(key string, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[key] = value
}

func (m *countingMetrics) count(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func TestIntakeDropsWhenFull(t *testing.T) {
	metrics := newCountingMetrics()
	intake := NewIntake(2, metrics)
	for i := 0; i < 2; i++ {
		if !intake.Deliver(Packet{Peer: 1, Data: []byte{byte(i)}}) {
			t.Fatalf("delivery %d rejected below capacity", i)
		}
	}
	if intake.Deliver(Packet{Peer: 1, Data: []byte{9}}) {
		t.Fatal("delivery accepted past capacity")
	}
	if got := metrics.count(telemetry.MetricIntakeOverflowTotal); got != 1 {
		t.Fatalf("overflow count = %d, want 1", got)
	}

	// Draining one slot makes room again.
	<-intake.Packets()
	if !intake.Deliver(Packet{Peer: 1, Data: []byte{3}}) {
		t.Fatal("delivery rejected after drain")
	}
}

func TestIntakeClosedDropsSilently(t *testing.T) {
	intake := NewIntake(4, nil)
	intake.CloseIntake()
	if intake.Deliver(Packet{Peer: 1}) {
		t.Fatal("delivery accepted after close")
	}
}

func TestPipeDeliversToCounterpart(t *testing.T) {
	a, b := Pipe(0, 1, 8, nil)
	if err := a.Send(1, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pkt := <-b.Packets()
	if pkt.Peer != 0 || string(pkt.Data) != string([]byte{1, 2, 3}) {
		t.Fatalf("packet = %+v", pkt)
	}
	select {
	case pkt := <-a.Packets():
		t.Fatalf("a received its own send: %+v", pkt)
	default:
	}
}

func TestPipeSendCopiesPayload(t *testing.T) {
	a, b := Pipe(0, 1, 8, nil)
	payload := []byte{1}
	a.Send(1, payload)
	payload[0] = 99
	if pkt := <-b.Packets(); pkt.Data[0] != 1 {
		t.Fatalf("payload mutated in flight: %v", pkt.Data)
	}
}

func TestPipeRejectsUnknownPeer(t *testing.T) {
	a, _ := Pipe(0, 1, 8, nil)
	if err := a.Send(5, []byte{1}); err == nil {
		t.Fatal("send to unknown peer succeeded")
	}
}

func TestPipeFaultHook(t *testing.T) {
	a, b := Pipe(0, 1, 8, nil)
	a.SetFault(func(p Packet) []Packet {
		if p.Data[0] == 0 {
			return nil
		}
		return []Packet{p, p}
	})

	a.Send(1, []byte{0})
	a.Send(1, []byte{1})
	first := <-b.Packets()
	second := <-b.Packets()
	if first.Data[0] != 1 || second.Data[0] != 1 {
		t.Fatalf("got %v and %v, want the dropped packet gone and the other duplicated", first.Data, second.Data)
	}
	select {
	case pkt := <-b.Packets():
		t.Fatalf("unexpected extra packet %+v", pkt)
	default:
	}

	// Clearing the hook restores direct delivery.
	a.SetFault(nil)
	a.Send(1, []byte{7})
	if pkt := <-b.Packets(); pkt.Data[0] != 7 {
		t.Fatalf("post-reset packet = %v", pkt.Data)
	}
}
