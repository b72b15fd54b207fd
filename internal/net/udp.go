package net

import (
	"errors"
	"fmt"
	stdnet "net"
	"sync"

	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/telemetry"
)

const udpReadBuffer = 1500

// UDPConfig names the local bind address and the address of every remote
// peer. A duel is two peers on neighboring localhost ports, but any
// addressable peer set works.
type UDPConfig struct {
	LocalAddr string
	Remotes   map[sim.PeerID]string
	IntakeCap int
}

// UDPTransport sends datagrams directly between peers. Loss, reordering and
// duplication are left to the protocol layer, matching the contract.
type UDPTransport struct {
	conn    *stdnet.UDPConn
	intake  *Intake
	logger  telemetry.Logger
	remotes map[sim.PeerID]*stdnet.UDPAddr
	byAddr  map[string]sim.PeerID

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// DialUDP binds the local socket, resolves every remote peer and starts the
// read pump.
func DialUDP(cfg UDPConfig, metrics telemetry.Metrics, logger telemetry.Logger) (*UDPTransport, error) {
	local, err := stdnet.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve local addr %q: %w", cfg.LocalAddr, err)
	}
	conn, err := stdnet.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", cfg.LocalAddr, err)
	}
	t := &UDPTransport{
		conn:    conn,
		intake:  NewIntake(cfg.IntakeCap, metrics),
		logger:  logger,
		remotes: make(map[sim.PeerID]*stdnet.UDPAddr, len(cfg.Remotes)),
		byAddr:  make(map[string]sim.PeerID, len(cfg.Remotes)),
		done:    make(chan struct{}),
	}
	for peer, addr := range cfg.Remotes {
		resolved, err := stdnet.ResolveUDPAddr("udp", addr)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("resolve peer %d addr %q: %w", peer, addr, err)
		}
		t.remotes[peer] = resolved
		t.byAddr[resolved.String()] = peer
	}
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// LocalAddr reports the bound address, useful when binding port 0.
func (t *UDPTransport) LocalAddr() string {
	if t == nil || t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

func (t *UDPTransport) Send(peer sim.PeerID, data []byte) error {
	if t == nil || t.conn == nil {
		return fmt.Errorf("transport closed")
	}
	addr, ok := t.remotes[peer]
	if !ok {
		return fmt.Errorf("unknown peer %d", peer)
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send to peer %d: %w", peer, err)
	}
	return nil
}

func (t *UDPTransport) Packets() <-chan Packet {
	if t == nil {
		return nil
	}
	return t.intake.Packets()
}

func (t *UDPTransport) Close() error {
	if t == nil {
		return nil
	}
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.intake.CloseIntake()
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, udpReadBuffer)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if errors.Is(err, stdnet.ErrClosed) {
				return
			}
			if t.logger != nil {
				t.logger.Printf("udp read: %v", err)
			}
			continue
		}
		peer, known := t.byAddr[addr.String()]
		if !known {
			// Unknown senders are ignored; the session has a fixed peer set.
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.intake.Deliver(Packet{Peer: peer, Data: data})
	}
}

var _ Transport = (*UDPTransport)(nil)
