// Package ws carries the wire protocol over a WebSocket connection for
// deployments where raw UDP is unavailable, one side hosting and the other
// dialing.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	inet "hollowdelve/netcode/internal/net"
	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/telemetry"
)

const (
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	maxPacketBytes   = 64 * 1024
)

// Config shapes both the hosting and the dialing side.
type Config struct {
	// Remote identifies the single peer on the far end of the socket.
	Remote sim.PeerID
	// IntakeCap bounds the receive queue; zero picks a default.
	IntakeCap int
}

// Transport is a single-peer WebSocket transport half.
type Transport struct {
	remote sim.PeerID
	conn   *websocket.Conn
	intake *inet.Intake
	logger telemetry.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	wg        sync.WaitGroup
}

// Host blocks until one peer connects on addr (path /duel) and returns the
// established transport. The listener is torn down once the peer is in; a
// two-peer session has no use for later connections.
func Host(ctx context.Context, addr string, cfg Config, metrics telemetry.Metrics, logger telemetry.Logger) (*Transport, error) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}

	conns := make(chan *websocket.Conn, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/duel", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.Printf("ws upgrade failed: %v", err)
			}
			return
		}
		select {
		case conns <- conn:
		default:
			conn.Close()
		}
	})

	server := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case err := <-errc:
		return nil, fmt.Errorf("ws listen on %s: %w", addr, err)
	case <-ctx.Done():
		server.Close()
		return nil, ctx.Err()
	}
	server.Close()

	return newTransport(conn, cfg, metrics, logger), nil
}

// Dial connects to a hosting peer at url (ws://host:port/duel).
func Dial(ctx context.Context, url string, cfg Config, metrics telemetry.Metrics, logger telemetry.Logger) (*Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}
	return newTransport(conn, cfg, metrics, logger), nil
}

func newTransport(conn *websocket.Conn, cfg Config, metrics telemetry.Metrics, logger telemetry.Logger) *Transport {
	conn.SetReadLimit(maxPacketBytes)
	t := &Transport{
		remote: cfg.Remote,
		conn:   conn,
		intake: inet.NewIntake(cfg.IntakeCap, metrics),
		logger: logger,
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				if t.logger != nil {
					t.logger.Printf("ws read: %v", err)
				}
			}
			t.intake.CloseIntake()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.intake.Deliver(inet.Packet{Peer: t.remote, Data: data})
	}
}

func (t *Transport) Send(peer sim.PeerID, data []byte) error {
	if t == nil {
		return fmt.Errorf("ws transport closed")
	}
	if peer != t.remote {
		return fmt.Errorf("unknown peer %d", peer)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *Transport) Packets() <-chan inet.Packet {
	if t == nil {
		return nil
	}
	return t.intake.Packets()
}

func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	t.closeOnce.Do(func() {
		close(t.done)
		t.intake.CloseIntake()
		t.writeMu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
		t.wg.Wait()
	})
	return t.closeErr
}

var _ inet.Transport = (*Transport)(nil)
