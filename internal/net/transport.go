// Package net defines the peer transport contract consumed by the session
// and the in-memory and UDP implementations.
package net

import (
	"sync/atomic"

	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/telemetry"
)

// Packet is one datagram received from a peer.
type Packet struct {
	Peer sim.PeerID
	Data []byte
}

// Transport moves opaque datagrams between this peer and the others. No
// ordering, delivery or dedup guarantee is assumed; the protocol layer above
// tolerates loss, reordering and duplication.
type Transport interface {
	Send(peer sim.PeerID, data []byte) error
	// Packets is the bounded delivery queue. The session drains it once per
	// frame pass; transports never mutate shared state directly.
	Packets() <-chan Packet
	Close() error
}

// Intake is the bounded queue between a transport's receive path and the
// session's frame pass. Delivery never blocks: when the queue is full the
// packet is dropped and counted, which the protocol absorbs the same way as
// network loss.
type Intake struct {
	ch      chan Packet
	metrics telemetry.Metrics
	closed  atomic.Bool
}

func NewIntake(capacity int, metrics telemetry.Metrics) *Intake {
	if capacity < 1 {
		capacity = 64
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Intake{ch: make(chan Packet, capacity), metrics: metrics}
}

// Deliver enqueues a packet, reporting false when it was dropped.
func (i *Intake) Deliver(p Packet) bool {
	if i == nil || i.closed.Load() {
		return false
	}
	select {
	case i.ch <- p:
		i.metrics.Store(telemetry.MetricIntakeOccupancy, uint64(len(i.ch)))
		return true
	default:
		i.metrics.Add(telemetry.MetricIntakeOverflowTotal, 1)
		return false
	}
}

// Packets exposes the queue for draining.
func (i *Intake) Packets() <-chan Packet {
	if i == nil {
		return nil
	}
	return i.ch
}

// CloseIntake marks the queue closed; later Deliver calls are dropped. The
// channel itself stays open so a concurrent drain never panics.
func (i *Intake) CloseIntake() {
	if i == nil {
		return
	}
	i.closed.Store(true)
}
