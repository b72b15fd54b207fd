package net

import (
	"fmt"
	"sync"

	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/telemetry"
)

// PipeTransport is an in-memory transport half. Sends deliver synchronously
// into the counterpart's intake, optionally filtered by a fault hook so
// tests can emulate loss, delay or duplication.
type PipeTransport struct {
	self    sim.PeerID
	remote  sim.PeerID
	intake  *Intake
	peerRef *PipeTransport

	mu    sync.Mutex
	fault func(Packet) []Packet
}

// Pipe connects two in-memory transports for peers a and b.
func Pipe(a, b sim.PeerID, capacity int, metrics telemetry.Metrics) (*PipeTransport, *PipeTransport) {
	ta := &PipeTransport{self: a, remote: b, intake: NewIntake(capacity, metrics)}
	tb := &PipeTransport{self: b, remote: a, intake: NewIntake(capacity, metrics)}
	ta.peerRef = tb
	tb.peerRef = ta
	return ta, tb
}

// SetFault installs a hook deciding what actually arrives for each sent
// packet: return nil to drop, multiple entries to duplicate. Nil restores
// direct delivery.
func (t *PipeTransport) SetFault(fault func(Packet) []Packet) {
	t.mu.Lock()
	t.fault = fault
	t.mu.Unlock()
}

func (t *PipeTransport) Send(peer sim.PeerID, data []byte) error {
	if t == nil || t.peerRef == nil {
		return fmt.Errorf("pipe closed")
	}
	if peer != t.remote {
		return fmt.Errorf("unknown peer %d", peer)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	packet := Packet{Peer: t.self, Data: copied}

	t.mu.Lock()
	fault := t.fault
	t.mu.Unlock()
	if fault == nil {
		t.peerRef.intake.Deliver(packet)
		return nil
	}
	for _, p := range fault(packet) {
		t.peerRef.intake.Deliver(p)
	}
	return nil
}

func (t *PipeTransport) Packets() <-chan Packet {
	if t == nil {
		return nil
	}
	return t.intake.Packets()
}

func (t *PipeTransport) Close() error {
	if t == nil {
		return nil
	}
	t.intake.CloseIntake()
	return nil
}

var _ Transport = (*PipeTransport)(nil)
