package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, populated from the environment.
type Config struct {
	// Peer is this process's seat, 0 or 1 for a duel.
	Peer int `env:"PEER" envDefault:"0"`
	// Peers is the session size.
	Peers int `env:"PEERS" envDefault:"2"`
	// Transport selects "udp", "ws" or "wsdial".
	Transport string `env:"TRANSPORT" envDefault:"udp"`
	// LocalAddr is the UDP bind address or the WebSocket host address.
	LocalAddr string `env:"LOCAL_ADDR" envDefault:"127.0.0.1:1111"`
	// RemoteAddr is the other peer's UDP address, or the ws:// URL when
	// dialing.
	RemoteAddr string `env:"REMOTE_ADDR" envDefault:"127.0.0.1:2222"`

	TickRate         int   `env:"TICK_RATE" envDefault:"60"`
	PredictionWindow int   `env:"PREDICTION_WINDOW" envDefault:"8"`
	RetentionWindow  int   `env:"RETENTION_WINDOW" envDefault:"16"`
	SnapshotCapacity int   `env:"SNAPSHOT_CAPACITY" envDefault:"64"`
	ChecksumInterval int   `env:"CHECKSUM_INTERVAL" envDefault:"30"`
	Seed             int64 `env:"SEED" envDefault:"42"`

	// MetricsAddr serves prometheus metrics; empty disables the listener.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:"127.0.0.1:9090"`
	// ReplayPath enables the SQLite replay recorder when set.
	ReplayPath string `env:"REPLAY_PATH"`
	// LogJSONPath adds an ndjson event sink when set.
	LogJSONPath string `env:"LOG_JSON_PATH"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Peers < 2 {
		return Config{}, fmt.Errorf("PEERS=%d: a duel needs at least two peers", cfg.Peers)
	}
	if cfg.Peer < 0 || cfg.Peer >= cfg.Peers {
		return Config{}, fmt.Errorf("PEER=%d out of range for %d peers", cfg.Peer, cfg.Peers)
	}
	if cfg.TickRate < 1 {
		return Config{}, fmt.Errorf("TICK_RATE=%d must be positive", cfg.TickRate)
	}
	return cfg, nil
}

// TickInterval converts the tick rate to a frame duration.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
