package session

import (
	"context"
	"errors"

	"hollowdelve/netcode/internal/journal"
	inet "hollowdelve/netcode/internal/net"
	"hollowdelve/netcode/internal/net/proto"
	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/telemetry"
	"hollowdelve/netcode/logging"
	logtransport "hollowdelve/netcode/logging/transport"
)

func (s *Session) sendHello(ack bool) {
	frame := proto.EncodeHello(proto.Hello{Peer: s.cfg.LocalPeer, FrameSize: sim.FrameSize}, ack)
	for _, link := range s.peers {
		if err := s.transport.Send(link.id, frame); err != nil {
			s.deps.Logger.Printf("send hello to peer %d: %v", link.id, err)
		}
	}
}

// drainIntake consumes every packet queued since the last frame pass. A
// version mismatch is fatal; anything else undecodable is dropped and
// counted, and prediction covers the gap.
func (s *Session) drainIntake(ctx context.Context) {
	for {
		select {
		case pkt, ok := <-s.transport.Packets():
			if !ok {
				return
			}
			s.handlePacket(ctx, pkt)
			if s.fatalErr != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) handlePacket(ctx context.Context, pkt inet.Packet) {
	msg, err := proto.Decode(pkt.Data)
	if err != nil {
		if errors.Is(err, proto.ErrProtocolVersionMismatch) {
			s.fatalErr = err
			return
		}
		s.deps.Metrics.Add(telemetry.MetricMalformedFramesTotal, 1)
		logtransport.MalformedFrame(ctx, s.deps.Publisher, uint64(s.scheduler.CurrentTick()), logging.PeerRef{ID: int(pkt.Peer)}, logtransport.MalformedPayload{
			Bytes:  len(pkt.Data),
			Reason: err.Error(),
		})
		return
	}

	switch msg.Type {
	case proto.TypeHello, proto.TypeHelloAck:
		s.handleHello(ctx, *msg.Hello, msg.Type == proto.TypeHello)
	case proto.TypeInput:
		s.handleInput(ctx, *msg.Input)
	case proto.TypeInputAck:
		s.recordAck(msg.Ack.Peer, msg.Ack.Ack)
	case proto.TypeChecksum:
		s.handleChecksum(ctx, *msg.Checksum)
	}
}

func (s *Session) handleHello(ctx context.Context, hello proto.Hello, wantAck bool) {
	if hello.FrameSize != sim.FrameSize {
		s.fatalErr = proto.ErrProtocolVersionMismatch
		return
	}
	link := s.link(hello.Peer)
	if link == nil {
		return
	}
	if !link.connected {
		link.connected = true
		logtransport.PeerConnected(ctx, s.deps.Publisher, uint64(s.scheduler.CurrentTick()), logging.PeerRef{ID: int(link.id)})
	}
	if wantAck {
		frame := proto.EncodeHello(proto.Hello{Peer: s.cfg.LocalPeer, FrameSize: sim.FrameSize}, true)
		if err := s.transport.Send(link.id, frame); err != nil {
			s.deps.Logger.Printf("send hello ack to peer %d: %v", link.id, err)
		}
	}
}

func (s *Session) handleInput(ctx context.Context, in proto.Input) {
	link := s.link(in.Peer)
	if link == nil {
		return
	}
	s.recordAck(in.Peer, in.Ack)
	for i, frame := range in.Frames {
		tick := in.StartTick + sim.Tick(i)
		res := s.sync.ReceiveRemote(in.Peer, tick, frame)
		if res.Conflict {
			s.deps.Metrics.Add(telemetry.MetricInputConflictsTotal, 1)
			logtransport.InputConflict(ctx, s.deps.Publisher, uint64(s.scheduler.CurrentTick()), logging.PeerRef{ID: int(in.Peer)}, logtransport.ConflictPayload{
				Tick: uint64(tick),
			})
		}
	}
}

func (s *Session) recordAck(peer sim.PeerID, ack sim.Tick) {
	if link := s.link(peer); link != nil && ack > link.acked {
		link.acked = ack
	}
}

// broadcastInput sends every local frame a peer has not yet acknowledged,
// most recent batch capped at the wire limit. Redundant resends make the
// protocol tolerate loss without retransmission requests.
func (s *Session) broadcastInput() {
	latest := s.sync.PeerFrontier(s.cfg.LocalPeer)
	for _, link := range s.peers {
		ack := s.sync.PeerFrontier(link.id)
		if latest == 0 || link.acked >= latest {
			frame := proto.EncodeInputAck(proto.InputAck{Peer: s.cfg.LocalPeer, Ack: ack})
			if err := s.transport.Send(link.id, frame); err != nil {
				s.deps.Logger.Printf("send ack to peer %d: %v", link.id, err)
			}
			continue
		}
		start := link.acked + 1
		if latest-start+1 > proto.MaxInputBatch {
			start = latest - proto.MaxInputBatch + 1
		}
		frames := make([]sim.InputFrame, 0, latest-start+1)
		for t := start; t <= latest; t++ {
			frame, ok := s.sync.ConfirmedFrame(s.cfg.LocalPeer, t)
			if !ok {
				// Trimmed below the peer's ack horizon; resume from the
				// oldest tick still held.
				frames = frames[:0]
				start = t + 1
				continue
			}
			frames = append(frames, frame)
		}
		if len(frames) == 0 {
			continue
		}
		data, err := proto.EncodeInput(proto.Input{
			Peer:      s.cfg.LocalPeer,
			Ack:       ack,
			StartTick: start,
			Frames:    frames,
		})
		if err != nil {
			s.deps.Logger.Printf("encode input batch: %v", err)
			continue
		}
		if err := s.transport.Send(link.id, data); err != nil {
			s.deps.Logger.Printf("send input to peer %d: %v", link.id, err)
		}
	}
}

// probeChecksums broadcasts the local state checksum every ChecksumInterval
// confirmed ticks and reconciles any remote probes that were waiting for
// the local simulation to catch up.
func (s *Session) probeChecksums(ctx context.Context, frontier sim.Tick) {
	if s.cfg.ChecksumInterval <= 0 || frontier == 0 {
		return
	}
	interval := sim.Tick(s.cfg.ChecksumInterval)
	probe := frontier - frontier%interval
	if probe > 0 {
		if _, seen := s.localSums[probe]; !seen {
			if state, err := s.store.Restore(uint64(probe)); err == nil {
				sum := proto.Fletcher16(state)
				s.localSums[probe] = sum
				data := proto.EncodeChecksum(proto.Checksum{Peer: s.cfg.LocalPeer, Tick: probe, Sum: sum})
				for _, link := range s.peers {
					if err := s.transport.Send(link.id, data); err != nil {
						s.deps.Logger.Printf("send checksum to peer %d: %v", link.id, err)
					}
				}
			}
		}
	}

	for _, link := range s.peers {
		for tick, remote := range link.remoteSums {
			local, ok := s.localSums[tick]
			if !ok {
				if tick <= frontier {
					// The snapshot was trimmed before the probe landed;
					// nothing left to compare against.
					delete(link.remoteSums, tick)
				}
				continue
			}
			delete(link.remoteSums, tick)
			if local != remote {
				s.mismatch = true
				s.deps.Metrics.Add(telemetry.MetricChecksumFailTotal, 1)
				logtransport.ChecksumMismatch(ctx, s.deps.Publisher, uint64(tick), logging.PeerRef{ID: int(link.id)}, logtransport.ChecksumPayload{
					Tick:   uint64(tick),
					Local:  local,
					Remote: remote,
				})
			}
		}
	}

	// Sums older than the retention horizon cannot be reconciled anymore.
	if frontier > sim.Tick(s.cfg.RetentionWindow) {
		floor := frontier - sim.Tick(s.cfg.RetentionWindow)
		for tick := range s.localSums {
			if tick < floor {
				delete(s.localSums, tick)
			}
		}
	}
}

func (s *Session) handleChecksum(ctx context.Context, c proto.Checksum) {
	link := s.link(c.Peer)
	if link == nil {
		return
	}
	if local, ok := s.localSums[c.Tick]; ok {
		if local != c.Sum {
			s.mismatch = true
			s.deps.Metrics.Add(telemetry.MetricChecksumFailTotal, 1)
			logtransport.ChecksumMismatch(ctx, s.deps.Publisher, uint64(c.Tick), logging.PeerRef{ID: int(c.Peer)}, logtransport.ChecksumPayload{
				Tick:   uint64(c.Tick),
				Local:  local,
				Remote: c.Sum,
			})
		}
		return
	}
	link.remoteSums[c.Tick] = c.Sum
}

// persistConfirmed appends newly confirmed input rows to the replay log.
func (s *Session) persistConfirmed(ctx context.Context, frontier sim.Tick) {
	if s.deps.Recorder == nil || frontier <= s.persisted {
		return
	}
	var rows []journal.ConfirmedInput
	for t := s.persisted + 1; t <= frontier; t++ {
		for id := 0; id < s.cfg.PeerCount; id++ {
			frame, ok := s.sync.ConfirmedFrame(sim.PeerID(id), t)
			if !ok {
				continue
			}
			rows = append(rows, journal.ConfirmedInput{Tick: uint64(t), Peer: id, Frame: frame[:]})
		}
	}
	if len(rows) == 0 {
		s.persisted = frontier
		return
	}
	if err := s.deps.Recorder.Append(ctx, rows); err != nil {
		s.deps.Logger.Printf("append replay rows: %v", err)
		return
	}
	s.persisted = frontier
}

func (s *Session) link(peer sim.PeerID) *peerLink {
	for _, link := range s.peers {
		if link.id == peer {
			return link
		}
	}
	return nil
}
