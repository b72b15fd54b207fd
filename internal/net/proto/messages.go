// Package proto defines the versioned binary wire encoding exchanged
// between peers: the hello handshake, redundant input batches, input
// acknowledgments and confirmed-state checksums.
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"hollowdelve/netcode/internal/sim"
)

// Version tracks the wire-protocol revision. Peers with differing versions
// must not exchange gameplay traffic; the mismatch is fatal at connect time.
const Version = 1

// ErrProtocolVersionMismatch reports an incompatible wire encoding between
// peers. Fatal for the connection, surfaced before gameplay begins.
var ErrProtocolVersionMismatch = errors.New("protocol version mismatch")

// ErrMalformedFrame reports a packet that cannot be decoded. The caller
// drops it with a warning and lets prediction cover the missing input.
var ErrMalformedFrame = errors.New("malformed frame")

// MsgType identifies a wire message.
type MsgType byte

const (
	// TypeHello opens a connection: protocol version and frame size check.
	TypeHello MsgType = iota + 1
	// TypeHelloAck confirms a compatible handshake.
	TypeHelloAck
	// TypeInput carries a redundant batch of input frames plus an ack.
	TypeInput
	// TypeInputAck acknowledges received input without carrying any.
	TypeInputAck
	// TypeChecksum carries the sender's state checksum at a confirmed tick.
	TypeChecksum
	// typeSnapshot wraps full game state in a resync envelope. Not part of
	// the per-frame traffic, so Decode leaves it to DecodeSnapshot.
	typeSnapshot
)

// MaxInputBatch bounds the frames carried by one input message. With send
// redundancy every frame is repeated until acked, so the bound also caps
// how far a peer can fall behind before redundancy alone stops covering the
// gap.
const MaxInputBatch = 32

const headerSize = 2

// Hello is the handshake payload. FrameSize is carried so peers running a
// different gameplay input schema fail fast instead of desyncing.
type Hello struct {
	Peer      sim.PeerID
	FrameSize int
}

// Input carries frames for ticks [StartTick, StartTick+len(Frames)-1] from
// Peer, and acknowledges the highest contiguous tick received in return.
type Input struct {
	Peer      sim.PeerID
	Ack       sim.Tick
	StartTick sim.Tick
	Frames    []sim.InputFrame
}

// InputAck acknowledges input without carrying frames.
type InputAck struct {
	Peer sim.PeerID
	Ack  sim.Tick
}

// Checksum announces the sender's world-state checksum immediately after
// simulating Tick with fully confirmed inputs.
type Checksum struct {
	Peer sim.PeerID
	Tick sim.Tick
	Sum  uint16
}

// Message is one decoded wire message; exactly one payload field is set.
type Message struct {
	Type     MsgType
	Hello    *Hello
	Input    *Input
	Ack      *InputAck
	Checksum *Checksum
}

func appendHeader(buf []byte, t MsgType) []byte {
	return append(buf, Version, byte(t))
}

// EncodeHello renders a handshake message.
func EncodeHello(h Hello, ack bool) []byte {
	t := TypeHello
	if ack {
		t = TypeHelloAck
	}
	buf := appendHeader(make([]byte, 0, headerSize+2), t)
	buf = append(buf, byte(h.Peer), byte(h.FrameSize))
	return buf
}

// EncodeInput renders an input batch message.
func EncodeInput(in Input) ([]byte, error) {
	if len(in.Frames) == 0 || len(in.Frames) > MaxInputBatch {
		return nil, fmt.Errorf("input batch of %d frames: %w", len(in.Frames), ErrMalformedFrame)
	}
	buf := appendHeader(make([]byte, 0, headerSize+18+len(in.Frames)*sim.FrameSize), TypeInput)
	buf = append(buf, byte(in.Peer))
	buf = binary.BigEndian.AppendUint64(buf, uint64(in.Ack))
	buf = binary.BigEndian.AppendUint64(buf, uint64(in.StartTick))
	buf = append(buf, byte(len(in.Frames)))
	for _, frame := range in.Frames {
		buf = append(buf, frame[:]...)
	}
	return buf, nil
}

// EncodeInputAck renders a bare acknowledgment.
func EncodeInputAck(ack InputAck) []byte {
	buf := appendHeader(make([]byte, 0, headerSize+9), TypeInputAck)
	buf = append(buf, byte(ack.Peer))
	buf = binary.BigEndian.AppendUint64(buf, uint64(ack.Ack))
	return buf
}

// EncodeChecksum renders a state checksum probe.
func EncodeChecksum(c Checksum) []byte {
	buf := appendHeader(make([]byte, 0, headerSize+11), TypeChecksum)
	buf = append(buf, byte(c.Peer))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.Tick))
	buf = binary.BigEndian.AppendUint16(buf, c.Sum)
	return buf
}

// EncodeSnapshot wraps serialized game state for transfer outside the
// gameplay channel, e.g. handing a late joiner a resync blob. The state
// bytes are opaque; only the envelope is versioned here.
func EncodeSnapshot(tick sim.Tick, state []byte) []byte {
	buf := appendHeader(make([]byte, 0, headerSize+12+len(state)), typeSnapshot)
	buf = binary.BigEndian.AppendUint64(buf, uint64(tick))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(state)))
	return append(buf, state...)
}

// DecodeSnapshot unwraps a snapshot envelope.
func DecodeSnapshot(data []byte) (sim.Tick, []byte, error) {
	if len(data) < headerSize+12 {
		return 0, nil, fmt.Errorf("snapshot envelope %d bytes: %w", len(data), ErrMalformedFrame)
	}
	if data[0] != Version {
		return 0, nil, fmt.Errorf("snapshot version %d, local %d: %w", data[0], Version, ErrProtocolVersionMismatch)
	}
	if MsgType(data[1]) != typeSnapshot {
		return 0, nil, fmt.Errorf("message type %d in snapshot envelope: %w", data[1], ErrMalformedFrame)
	}
	tick := sim.Tick(binary.BigEndian.Uint64(data[2:10]))
	size := int(binary.BigEndian.Uint32(data[10:14]))
	if len(data) != headerSize+12+size {
		return 0, nil, fmt.Errorf("snapshot envelope %d bytes for %d state bytes: %w", len(data), size, ErrMalformedFrame)
	}
	state := make([]byte, size)
	copy(state, data[14:])
	return tick, state, nil
}

// Decode parses one wire message. Version mismatches surface as
// ErrProtocolVersionMismatch; any other irregularity is ErrMalformedFrame.
func Decode(data []byte) (Message, error) {
	if len(data) < headerSize {
		return Message{}, fmt.Errorf("%d byte packet: %w", len(data), ErrMalformedFrame)
	}
	if data[0] != Version {
		return Message{}, fmt.Errorf("peer speaks version %d, local %d: %w", data[0], Version, ErrProtocolVersionMismatch)
	}
	t := MsgType(data[1])
	body := data[headerSize:]
	switch t {
	case TypeHello, TypeHelloAck:
		if len(body) != 2 {
			return Message{}, fmt.Errorf("hello body %d bytes: %w", len(body), ErrMalformedFrame)
		}
		return Message{Type: t, Hello: &Hello{Peer: sim.PeerID(body[0]), FrameSize: int(body[1])}}, nil
	case TypeInput:
		if len(body) < 18 {
			return Message{}, fmt.Errorf("input body %d bytes: %w", len(body), ErrMalformedFrame)
		}
		in := Input{
			Peer:      sim.PeerID(body[0]),
			Ack:       sim.Tick(binary.BigEndian.Uint64(body[1:9])),
			StartTick: sim.Tick(binary.BigEndian.Uint64(body[9:17])),
		}
		count := int(body[17])
		if count == 0 || count > MaxInputBatch {
			return Message{}, fmt.Errorf("input batch of %d frames: %w", count, ErrMalformedFrame)
		}
		if len(body) != 18+count*sim.FrameSize {
			return Message{}, fmt.Errorf("input body %d bytes for %d frames: %w", len(body), count, ErrMalformedFrame)
		}
		in.Frames = make([]sim.InputFrame, count)
		for i := 0; i < count; i++ {
			copy(in.Frames[i][:], body[18+i*sim.FrameSize:])
		}
		return Message{Type: t, Input: &in}, nil
	case TypeInputAck:
		if len(body) != 9 {
			return Message{}, fmt.Errorf("ack body %d bytes: %w", len(body), ErrMalformedFrame)
		}
		return Message{Type: t, Ack: &InputAck{
			Peer: sim.PeerID(body[0]),
			Ack:  sim.Tick(binary.BigEndian.Uint64(body[1:9])),
		}}, nil
	case TypeChecksum:
		if len(body) != 11 {
			return Message{}, fmt.Errorf("checksum body %d bytes: %w", len(body), ErrMalformedFrame)
		}
		return Message{Type: t, Checksum: &Checksum{
			Peer: sim.PeerID(body[0]),
			Tick: sim.Tick(binary.BigEndian.Uint64(body[1:9])),
			Sum:  binary.BigEndian.Uint16(body[9:11]),
		}}, nil
	default:
		return Message{}, fmt.Errorf("message type %d: %w", t, ErrMalformedFrame)
	}
}
