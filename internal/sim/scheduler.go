package sim

import (
	"context"
	"fmt"

	"hollowdelve/netcode/internal/journal"
	"hollowdelve/netcode/internal/telemetry"
	logrollback "hollowdelve/netcode/logging/rollback"
)

// Phase reports what the scheduler spent the last frame pass doing.
type Phase int

const (
	// PhaseIdle means the last pass neither advanced nor rewound.
	PhaseIdle Phase = iota
	// PhaseAdvancing means the last pass simulated a new tick forward.
	PhaseAdvancing
	// PhaseRollingBack means the last pass rewound and re-simulated.
	PhaseRollingBack
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAdvancing:
		return "advancing"
	case PhaseRollingBack:
		return "rollingBack"
	default:
		return "unknown"
	}
}

// InputSource is the synchronizer surface the scheduler consumes.
type InputSource interface {
	// SubmitLocal records local input as confirmed for the tick. A second
	// submission for the same tick fails and leaves the first value intact.
	SubmitLocal(tick Tick, frame InputFrame) error
	// InputSetFor builds the set for a tick from confirmed inputs where
	// available and recorded predictions otherwise.
	InputSetFor(tick Tick) InputSet
	// ConfirmedFrontier is the highest tick with contiguous confirmed input
	// from every peer. Never decreases.
	ConfirmedFrontier() Tick
	// TakeFirstMispredicted consumes the lowest tick whose simulated input
	// set has since been contradicted, if any.
	TakeFirstMispredicted() (Tick, bool)
	// TrimBelow releases input history older than the given tick.
	TrimBelow(tick Tick)
}

// Config tunes the scheduler's speculation and retention limits.
type Config struct {
	// PredictionWindow is the maximum number of ticks the local simulation
	// may run past the confirmed frontier before stalling. Zero degrades to
	// lockstep.
	PredictionWindow int
	// RetentionWindow is how many snapshots behind the confirmed frontier
	// stay restorable. Snapshots at or above the frontier are never trimmed.
	RetentionWindow int
}

// DefaultConfig mirrors the session defaults of the transport layer.
func DefaultConfig() Config {
	return Config{PredictionWindow: 8, RetentionWindow: 16}
}

// FrameResult summarizes one RunFrame pass.
type FrameResult struct {
	Tick         Tick
	Advanced     bool
	Stalled      bool
	RolledBack   bool
	RestoredTick Tick
	Resimulated  int
	Frontier     Tick
	Evicted      int
}

// Scheduler owns the authoritative tick counters and decides each real-time
// frame whether to predict-and-advance, stall, or rewind-and-resimulate. It
// is not safe for concurrent use; a frame pass runs to completion before the
// next one starts, which is what keeps re-simulation deterministic.
type Scheduler struct {
	game   Game
	inputs InputSource
	store  *journal.Store
	cfg    Config
	deps   Deps

	phase          Phase
	current        Tick
	confirmed      Tick
	localSubmitted Tick
}

// NewScheduler wires a scheduler around the gameplay step, input source and
// snapshot store. The game's starting state is recorded as the tick-0
// snapshot so the very first misprediction can still find a rewind target.
func NewScheduler(game Game, inputs InputSource, store *journal.Store, cfg Config, deps Deps) (*Scheduler, error) {
	if game == nil || inputs == nil || store == nil {
		return nil, fmt.Errorf("scheduler requires game, inputs and store")
	}
	if cfg.PredictionWindow < 0 {
		cfg.PredictionWindow = 0
	}
	if cfg.RetentionWindow < 1 {
		cfg.RetentionWindow = 1
	}
	s := &Scheduler{
		game:   game,
		inputs: inputs,
		store:  store,
		cfg:    cfg,
		deps:   deps.withDefaults(),
	}
	initial, err := game.Save()
	if err != nil {
		return nil, fmt.Errorf("save initial state: %w", err)
	}
	store.Record(0, initial)
	return s, nil
}

// CurrentTick is the latest simulated tick, speculative ticks included.
func (s *Scheduler) CurrentTick() Tick {
	if s == nil {
		return 0
	}
	return s.current
}

// ConfirmedTick is the frontier bookkeeping value after the last frame pass.
func (s *Scheduler) ConfirmedTick() Tick {
	if s == nil {
		return 0
	}
	return s.confirmed
}

// Phase reports the outcome of the last frame pass.
func (s *Scheduler) Phase() Phase {
	if s == nil {
		return PhaseIdle
	}
	return s.phase
}

// RunFrame executes one real-time frame: submit local input for the next
// tick, advance speculatively unless the prediction window forces a stall,
// rewind and re-simulate if a misprediction is pending, then advance the
// frontier bookkeeping and trim history.
//
// Ticks are never skipped: a stalled frame leaves the simulation exactly
// where it was. Errors other than duplicate local submission are fatal for
// the session and require an external resync.
func (s *Scheduler) RunFrame(local InputFrame) (FrameResult, error) {
	if s == nil {
		return FrameResult{}, fmt.Errorf("nil scheduler")
	}
	next := s.current + 1
	if s.localSubmitted < next {
		if err := s.inputs.SubmitLocal(next, local); err != nil {
			return FrameResult{Tick: s.current}, err
		}
		s.localSubmitted = next
	}

	res := FrameResult{Tick: s.current}
	frontier := s.inputs.ConfirmedFrontier()
	if next > frontier+Tick(s.cfg.PredictionWindow) {
		s.phase = PhaseIdle
		res.Stalled = true
		s.deps.Metrics.Add(telemetry.MetricStalledFramesTotal, 1)
		logrollback.Stalled(context.Background(), s.deps.Publisher, uint64(s.current), logrollback.StalledPayload{
			Frontier: uint64(frontier),
			Window:   s.cfg.PredictionWindow,
		})
	} else {
		s.phase = PhaseAdvancing
		if err := s.advance(next); err != nil {
			return res, err
		}
		res.Advanced = true
		res.Tick = s.current
	}

	if bad, ok := s.inputs.TakeFirstMispredicted(); ok && bad <= s.current {
		if err := s.rewind(bad, &res); err != nil {
			return res, err
		}
	}

	if frontier = s.inputs.ConfirmedFrontier(); frontier > s.confirmed {
		s.confirmed = frontier
	}
	res.Frontier = s.confirmed
	res.Evicted = s.trim()

	s.deps.Metrics.Store(telemetry.MetricCurrentTick, uint64(s.current))
	s.deps.Metrics.Store(telemetry.MetricConfirmedFrontier, uint64(s.confirmed))
	return res, nil
}

func (s *Scheduler) advance(next Tick) error {
	set := s.inputs.InputSetFor(next)
	s.game.Advance(set)
	state, err := s.game.Save()
	if err != nil {
		return fmt.Errorf("save tick %d: %w", next, err)
	}
	s.store.Record(uint64(next), state)
	s.current = next
	return nil
}

// rewind restores the snapshot preceding the earliest mispredicted tick and
// re-simulates forward to the previously reached tick with corrected input
// sets. Later mispredictions need no extra rewinds: the forward pass rebuilds
// every set from current history. Snapshots along the way are overwritten.
func (s *Scheduler) rewind(bad Tick, res *FrameResult) error {
	s.phase = PhaseRollingBack
	restored := bad - 1
	state, err := s.store.Restore(uint64(restored))
	if err != nil {
		logrollback.Desync(context.Background(), s.deps.Publisher, uint64(s.current), logrollback.DesyncPayload{
			Reason: "snapshot unavailable",
			Tick:   uint64(restored),
		})
		return fmt.Errorf("rollback to tick %d: %w", restored, err)
	}
	if err := s.game.Load(state); err != nil {
		return fmt.Errorf("load snapshot %d: %w", restored, err)
	}
	logrollback.Started(context.Background(), s.deps.Publisher, uint64(s.current), logrollback.StartedPayload{
		MispredictedTick: uint64(bad),
		RestoredTick:     uint64(restored),
		CurrentTick:      uint64(s.current),
	})

	for t := bad; t <= s.current; t++ {
		set := s.inputs.InputSetFor(t)
		s.game.Advance(set)
		data, err := s.game.Save()
		if err != nil {
			return fmt.Errorf("save resimulated tick %d: %w", t, err)
		}
		s.store.Record(uint64(t), data)
	}

	res.RolledBack = true
	res.RestoredTick = restored
	res.Resimulated = int(s.current - bad + 1)
	s.deps.Metrics.Add(telemetry.MetricRollbacksTotal, 1)
	s.deps.Metrics.Add(telemetry.MetricResimulatedTicksTotal, uint64(res.Resimulated))
	logrollback.Completed(context.Background(), s.deps.Publisher, uint64(s.current), logrollback.CompletedPayload{
		FromTick:    uint64(bad),
		ToTick:      uint64(s.current),
		Resimulated: res.Resimulated,
	})
	return nil
}

func (s *Scheduler) trim() int {
	if s.confirmed <= Tick(s.cfg.RetentionWindow) {
		return 0
	}
	floor := uint64(s.confirmed) - uint64(s.cfg.RetentionWindow)
	evicted := s.store.TrimBelow(floor)
	s.inputs.TrimBelow(Tick(floor))
	if evicted > 0 {
		s.deps.Metrics.Add(telemetry.MetricSnapshotEvictedTotal, uint64(evicted))
	}
	size, _, _ := s.store.Window()
	s.deps.Metrics.Store(telemetry.MetricSnapshotWindow, uint64(size))
	return evicted
}
