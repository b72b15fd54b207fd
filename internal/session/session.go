// Package session drives one networked match: each real-time frame it
// drains the transport, feeds remote input to the synchronizer, captures
// local input, runs the rollback scheduler, rebroadcasts unacknowledged
// input and exchanges state checksums with the other peers.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hollowdelve/netcode/internal/inputs"
	"hollowdelve/netcode/internal/journal"
	inet "hollowdelve/netcode/internal/net"
	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/telemetry"
	"hollowdelve/netcode/logging"
	logtransport "hollowdelve/netcode/logging/transport"
)

// Config tunes one session.
type Config struct {
	// LocalPeer and PeerCount fix the seat layout; peer ids are dense in
	// [0, PeerCount).
	LocalPeer sim.PeerID
	PeerCount int
	// TickInterval is the real-time frame cadence for Run.
	TickInterval time.Duration
	// PredictionWindow and RetentionWindow pass through to the scheduler.
	PredictionWindow int
	RetentionWindow  int
	// SnapshotCapacity bounds the snapshot store.
	SnapshotCapacity int
	// ChecksumInterval is how often, in confirmed ticks, a state checksum
	// probe is broadcast. Zero disables probes.
	ChecksumInterval int
	// StallLimit is how many consecutive stalled frames count as a lost
	// connection. Zero picks a default.
	StallLimit int
}

// DefaultConfig matches a 60 Hz two-peer duel.
func DefaultConfig() Config {
	return Config{
		PeerCount:        2,
		TickInterval:     time.Second / 60,
		PredictionWindow: 8,
		RetentionWindow:  16,
		SnapshotCapacity: 64,
		ChecksumInterval: 30,
		StallLimit:       120,
	}
}

// Deps carries the session's ambient dependencies; zero values degrade to
// no-ops and the system clock.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Clock     logging.Clock
	Publisher logging.Publisher
	// Recorder, when set, persists confirmed input history for replays.
	Recorder *journal.Recorder
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NopMetrics()
	}
	if d.Clock == nil {
		d.Clock = logging.SystemClock{}
	}
	if d.Publisher == nil {
		d.Publisher = logging.NopPublisher()
	}
	return d
}

// ErrPeerLost reports that a remote peer stopped confirming input for long
// enough that the session gave up waiting.
var ErrPeerLost = errors.New("peer connection lost")

// Stats is a point-in-time view for presentation and health reporting.
type Stats struct {
	CurrentTick       sim.Tick
	ConfirmedTick     sim.Tick
	Phase             sim.Phase
	ConsecutiveStalls int
	Rollbacks         uint64
	ChecksumMismatch  bool
}

type peerLink struct {
	id sim.PeerID
	// acked is the highest local tick the peer has confirmed receiving.
	acked sim.Tick
	// connected flips once the handshake completes.
	connected bool
	// remoteSums holds checksum probes received ahead of local simulation.
	remoteSums map[sim.Tick]uint16
}

// Session drives one match. Not safe for concurrent use; Run owns it, or a
// test steps it manually with Step.
type Session struct {
	cfg       Config
	deps      Deps
	game      sim.Game
	collector sim.Collector
	sync      *inputs.Synchronizer
	store     *journal.Store
	scheduler *sim.Scheduler
	transport inet.Transport

	peers     []*peerLink
	localSums map[sim.Tick]uint16
	persisted sim.Tick
	stallRun  int
	rollbacks uint64
	mismatch  bool
	fatalErr  error
}

// New assembles a session around a deterministic game, a local input
// collector and a connected transport.
func New(cfg Config, game sim.Game, collector sim.Collector, transport inet.Transport, deps Deps) (*Session, error) {
	if game == nil || collector == nil || transport == nil {
		return nil, fmt.Errorf("session requires game, collector and transport")
	}
	if cfg.PeerCount < 2 {
		return nil, fmt.Errorf("peer count %d: a session needs at least two peers", cfg.PeerCount)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 60
	}
	if cfg.SnapshotCapacity < 1 {
		cfg.SnapshotCapacity = 64
	}
	if cfg.StallLimit < 1 {
		cfg.StallLimit = 120
	}
	deps = deps.withDefaults()

	syncer, err := inputs.NewSynchronizer(cfg.PeerCount, cfg.LocalPeer)
	if err != nil {
		return nil, err
	}
	store := journal.NewStore(cfg.SnapshotCapacity)
	scheduler, err := sim.NewScheduler(game, syncer, store, sim.Config{
		PredictionWindow: cfg.PredictionWindow,
		RetentionWindow:  cfg.RetentionWindow,
	}, sim.Deps{
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Clock:     deps.Clock,
		Publisher: deps.Publisher,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		deps:      deps,
		game:      game,
		collector: collector,
		sync:      syncer,
		store:     store,
		scheduler: scheduler,
		transport: transport,
		localSums: make(map[sim.Tick]uint16),
	}
	for id := 0; id < cfg.PeerCount; id++ {
		if sim.PeerID(id) == cfg.LocalPeer {
			continue
		}
		s.peers = append(s.peers, &peerLink{
			id:         sim.PeerID(id),
			remoteSums: make(map[sim.Tick]uint16),
		})
	}
	return s, nil
}

// Run executes the session at the configured cadence until stop closes, a
// peer is lost, or a fatal protocol error occurs. The opening hello is sent
// before the first frame.
func (s *Session) Run(ctx context.Context, stop <-chan struct{}) error {
	s.sendHello(false)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Step runs one frame pass and reports the scheduler's result. Tests drive
// sessions via Step to stay off the wall clock.
func (s *Session) Step(ctx context.Context) (sim.FrameResult, error) {
	if s.fatalErr != nil {
		return sim.FrameResult{}, s.fatalErr
	}
	s.drainIntake(ctx)
	if s.fatalErr != nil {
		return sim.FrameResult{}, s.fatalErr
	}

	res, err := s.scheduler.RunFrame(s.collector.Capture())
	if err != nil {
		if errors.Is(err, inputs.ErrDuplicateTick) {
			// Harmless self-race after a stall; the original value stands.
			s.deps.Logger.Printf("duplicate local input at tick %d", res.Tick)
		} else {
			s.fatalErr = err
			return res, err
		}
	}

	if res.RolledBack {
		s.rollbacks++
	}
	if res.Stalled {
		s.stallRun++
		if s.stallRun == s.cfg.StallLimit {
			for _, link := range s.peers {
				logtransport.PeerDisconnected(ctx, s.deps.Publisher, uint64(res.Tick), logging.PeerRef{ID: int(link.id)})
			}
			s.fatalErr = fmt.Errorf("%d consecutive stalled frames: %w", s.stallRun, ErrPeerLost)
			return res, s.fatalErr
		}
	} else {
		s.stallRun = 0
	}

	s.broadcastInput()
	s.probeChecksums(ctx, res.Frontier)
	s.persistConfirmed(ctx, res.Frontier)
	return res, nil
}

// CurrentTick is the latest simulated tick.
func (s *Session) CurrentTick() sim.Tick { return s.scheduler.CurrentTick() }

// Phase reports the last frame's scheduler phase.
func (s *Session) Phase() sim.Phase { return s.scheduler.Phase() }

// Stats snapshots session health.
func (s *Session) Stats() Stats {
	return Stats{
		CurrentTick:       s.scheduler.CurrentTick(),
		ConfirmedTick:     s.scheduler.ConfirmedTick(),
		Phase:             s.scheduler.Phase(),
		ConsecutiveStalls: s.stallRun,
		Rollbacks:         s.rollbacks,
		ChecksumMismatch:  s.mismatch,
	}
}

// Close releases the transport and replay recorder.
func (s *Session) Close() error {
	err := s.transport.Close()
	if s.deps.Recorder != nil {
		if cerr := s.deps.Recorder.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
