package transport

import (
	"context"

	"hollowdelve/netcode/logging"
)

const (
	// EventPeerConnected is emitted after a successful version handshake.
	EventPeerConnected logging.EventType = "transport.peer_connected"
	// EventPeerDisconnected is emitted when a peer link closes.
	EventPeerDisconnected logging.EventType = "transport.peer_disconnected"
	// EventInputConflict is emitted when a peer resends a tick with a different payload.
	EventInputConflict logging.EventType = "transport.input_conflict"
	// EventMalformedFrame is emitted when an inbound packet cannot be decoded.
	EventMalformedFrame logging.EventType = "transport.malformed_frame"
	// EventChecksumMismatch is emitted when peers disagree about a confirmed state.
	EventChecksumMismatch logging.EventType = "transport.checksum_mismatch"
)

// ConflictPayload records both payload hashes for a conflicting resend.
type ConflictPayload struct {
	Tick uint64 `json:"tick"`
}

// MalformedPayload records the undecodable packet length.
type MalformedPayload struct {
	Bytes  int    `json:"bytes"`
	Reason string `json:"reason,omitempty"`
}

// ChecksumPayload records a confirmed-state checksum disagreement.
type ChecksumPayload struct {
	Tick   uint64 `json:"tick"`
	Local  uint16 `json:"local"`
	Remote uint16 `json:"remote"`
}

func PeerConnected(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerConnected,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTransport,
	})
}

func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryTransport,
	})
}

func InputConflict(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload ConflictPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInputConflict,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryTransport,
		Payload:  payload,
	})
}

func MalformedFrame(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload MalformedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedFrame,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryTransport,
		Payload:  payload,
	})
}

func ChecksumMismatch(ctx context.Context, pub logging.Publisher, tick uint64, peer logging.PeerRef, payload ChecksumPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventChecksumMismatch,
		Tick:     tick,
		Peer:     peer,
		Severity: logging.SeverityError,
		Category: logging.CategoryTransport,
		Payload:  payload,
	})
}
