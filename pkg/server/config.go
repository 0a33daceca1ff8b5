package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config tunes the server. The zero value is usable; New fills defaults.
type Config struct {
	// Addr is the WebSocket listen address. Default: ":8080".
	Addr string

	// HTTPAddr is the listen address of the HTTP transport carrying the
	// JSON-RPC bridge over POST and SSE. Default: ":8081".
	HTTPAddr string

	// DisableHTTP turns the HTTP transport off entirely.
	DisableHTTP bool

	// ServerName and Version identify the server to RPC clients.
	ServerName string
	Version    string

	// ReadTimeout is the per-frame read poll interval. The read loop wakes
	// at this cadence to notice shutdown. Default: 1s.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single frame write. Default: 10s.
	WriteTimeout time.Duration

	// TickRate is the owner loop frequency in Hz. Default: 60.
	TickRate int

	// MaxDrainPerTick caps how many queued callbacks one tick runs, so a
	// burst of traffic cannot stall the sync schedule. Default: 64.
	MaxDrainPerTick int

	// SyncRate is the state broadcast frequency in Hz. 0 disables the
	// periodic broadcast; SyncNow still works.
	SyncRate float64

	// SyncThreshold is the change threshold: world units of movement and
	// degrees of rotation. Nodes under it are left out of delta batches.
	// Default: 0.001.
	SyncThreshold float64

	// FullSync broadcasts every visible node each tick instead of deltas.
	FullSync bool

	// IncludeInactive includes inactive nodes in dumps and sync batches.
	IncludeInactive bool

	// SweepInterval is how often tracked ids are checked against the live
	// graph to catch out-of-band destruction. Default: 1s.
	SweepInterval time.Duration

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Registry receives the server's metrics. Default: a fresh registry,
	// so tests never collide on duplicate registration.
	Registry *prometheus.Registry
}

// withDefaults returns a copy of c with zero values filled in.
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8081"
	}
	if c.ServerName == "" {
		c.ServerName = "livelink"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.TickRate == 0 {
		c.TickRate = 60
	}
	if c.MaxDrainPerTick == 0 {
		c.MaxDrainPerTick = 64
	}
	if c.SyncThreshold == 0 {
		c.SyncThreshold = 0.001
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	return c
}
