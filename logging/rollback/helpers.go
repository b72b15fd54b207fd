package rollback

import (
	"context"

	"hollowdelve/netcode/logging"
)

const (
	// EventStarted is emitted when a misprediction forces a rewind.
	EventStarted logging.EventType = "rollback.started"
	// EventCompleted is emitted after the corrected forward pass finishes.
	EventCompleted logging.EventType = "rollback.completed"
	// EventStalled is emitted when the prediction window pauses local simulation.
	EventStalled logging.EventType = "rollback.stalled"
	// EventDesync is emitted when the session must be abandoned locally.
	EventDesync logging.EventType = "rollback.desync"
)

// StartedPayload captures the rewind boundaries.
type StartedPayload struct {
	MispredictedTick uint64 `json:"mispredictedTick"`
	RestoredTick     uint64 `json:"restoredTick"`
	CurrentTick      uint64 `json:"currentTick"`
}

// CompletedPayload captures the corrected forward pass.
type CompletedPayload struct {
	FromTick    uint64 `json:"fromTick"`
	ToTick      uint64 `json:"toTick"`
	Resimulated int    `json:"resimulated"`
}

// StalledPayload captures why local simulation paused.
type StalledPayload struct {
	Frontier uint64 `json:"frontier"`
	Window   int    `json:"window"`
}

// DesyncPayload names the unrecoverable condition.
type DesyncPayload struct {
	Reason string `json:"reason"`
	Tick   uint64 `json:"tick"`
}

// Started publishes an info event when a rewind begins.
func Started(ctx context.Context, pub logging.Publisher, tick uint64, payload StartedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStarted,
		Tick:     tick,
		Peer:     logging.SessionRef(),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRollback,
		Payload:  payload,
	})
}

// Completed publishes a debug event after re-simulation catches up.
func Completed(ctx context.Context, pub logging.Publisher, tick uint64, payload CompletedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCompleted,
		Tick:     tick,
		Peer:     logging.SessionRef(),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryRollback,
		Payload:  payload,
	})
}

// Stalled publishes a debug event when the prediction window blocks a frame.
func Stalled(ctx context.Context, pub logging.Publisher, tick uint64, payload StalledPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStalled,
		Tick:     tick,
		Peer:     logging.SessionRef(),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryRollback,
		Payload:  payload,
	})
}

// Desync publishes an error event for an unrecoverable state divergence.
func Desync(ctx context.Context, pub logging.Publisher, tick uint64, payload DesyncPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDesync,
		Tick:     tick,
		Peer:     logging.SessionRef(),
		Severity: logging.SeverityError,
		Category: logging.CategoryRollback,
		Payload:  payload,
	})
}
