// Package app wires configuration, logging, metrics, transport and the
// session into a runnable duel process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"hollowdelve/netcode/internal/journal"
	inet "hollowdelve/netcode/internal/net"
	"hollowdelve/netcode/internal/net/proto"
	"hollowdelve/netcode/internal/net/ws"
	"hollowdelve/netcode/internal/session"
	"hollowdelve/netcode/internal/sim"
	"hollowdelve/netcode/internal/telemetry"
	"hollowdelve/netcode/internal/world"
	"hollowdelve/netcode/logging"
	loggingSinks "hollowdelve/netcode/logging/sinks"
)

// Run assembles and drives one duel process until the context is cancelled
// or the session fails.
func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Peers != 2 {
		return fmt.Errorf("PEERS=%d: only two-peer transports are wired", cfg.Peers)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLogger.Sync()
	logger := telemetry.WrapZap(zapLogger.Sugar())

	metrics := telemetry.NewPromMetrics()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics listener: %v", err)
			}
		}()
		defer srv.Close()
		logger.Printf("metrics listening on %s", cfg.MetricsAddr)
	}

	router, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("close logging router: %v", cerr)
		}
	}()

	transport, err := buildTransport(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	var recorder *journal.Recorder
	if cfg.ReplayPath != "" {
		recorder, err = journal.OpenRecorder(cfg.ReplayPath, journal.SessionMeta{
			Seed:      cfg.Seed,
			Protocol:  proto.Version,
			Peers:     cfg.Peers,
			StartedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		logger.Printf("recording replay to %s session %d", cfg.ReplayPath, recorder.SessionID())
	}

	game := world.New(cfg.Peers, cfg.Seed)
	sess, err := session.New(session.Config{
		LocalPeer:        sim.PeerID(cfg.Peer),
		PeerCount:        cfg.Peers,
		TickInterval:     cfg.TickInterval(),
		PredictionWindow: cfg.PredictionWindow,
		RetentionWindow:  cfg.RetentionWindow,
		SnapshotCapacity: cfg.SnapshotCapacity,
		ChecksumInterval: cfg.ChecksumInterval,
	}, game, NewBotCollector(cfg.Peer, cfg.Seed), transport, session.Deps{
		Logger:    logger,
		Metrics:   metrics,
		Publisher: router,
		Recorder:  recorder,
	})
	if err != nil {
		transport.Close()
		return err
	}
	defer sess.Close()

	logger.Printf("peer %d running at %d Hz over %s", cfg.Peer, cfg.TickRate, cfg.Transport)
	return sess.Run(ctx, nil)
}

func buildRouter(cfg Config) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	sinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, logCfg.Console)},
	}
	if cfg.LogJSONPath != "" {
		f, err := os.OpenFile(cfg.LogJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open event log %s: %w", cfg.LogJSONPath, err)
		}
		logCfg.EnabledSinks = append(logCfg.EnabledSinks, "json")
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(f, logCfg.JSON.FlushInterval)})
	}
	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, sinks)
	if err != nil {
		return nil, fmt.Errorf("build logging router: %w", err)
	}
	return router, nil
}

func buildTransport(ctx context.Context, cfg Config, metrics telemetry.Metrics, logger telemetry.Logger) (inet.Transport, error) {
	remote := sim.PeerID(1 - cfg.Peer)
	switch cfg.Transport {
	case "udp":
		return inet.DialUDP(inet.UDPConfig{
			LocalAddr: cfg.LocalAddr,
			Remotes:   map[sim.PeerID]string{remote: cfg.RemoteAddr},
		}, metrics, logger)
	case "ws":
		return ws.Host(ctx, cfg.LocalAddr, ws.Config{Remote: remote}, metrics, logger)
	case "wsdial":
		return ws.Dial(ctx, cfg.RemoteAddr, ws.Config{Remote: remote}, metrics, logger)
	default:
		return nil, fmt.Errorf("TRANSPORT=%q: want udp, ws or wsdial", cfg.Transport)
	}
}
