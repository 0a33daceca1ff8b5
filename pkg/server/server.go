// Package server runs the LiveLink endpoint: a WebSocket listener feeding a
// single owner goroutine that executes commands, drives the periodic state
// sync, and answers the JSON-RPC bridge. All scene graph access happens on
// that one goroutine; network goroutines only enqueue.
package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/livelink-dev/livelink/pkg/dispatch"
	"github.com/livelink-dev/livelink/pkg/mcp"
	"github.com/livelink-dev/livelink/pkg/protocol"
	"github.com/livelink-dev/livelink/pkg/scene"
	"github.com/livelink-dev/livelink/pkg/wire"
)

// ErrServerClosed is returned by calls that cannot complete because the
// server is shutting down.
var ErrServerClosed = errors.New("server: closed")

// handshakeTimeout bounds the HTTP upgrade exchange on a fresh TCP
// connection.
const handshakeTimeout = 5 * time.Second

// Server owns the listener, the connection registry, the dispatch queue, and
// the sync engine.
type Server struct {
	config   Config
	provider scene.Provider
	logger   *slog.Logger

	registry *wire.Registry
	queue    *dispatch.Queue
	tracker  *scene.Tracker
	ops      *Ops
	bridge   *mcp.Bridge
	metrics  *metrics
	http     *mcp.HTTPServer

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan string
	nextSub int

	// Owner-goroutine state: due times for the sync and sweep schedules.
	// Advanced via nextDue so owner-tick lateness never drifts the rates.
	syncDue  time.Time
	sweepDue time.Time
}

// New builds a server over the given scene provider.
func New(provider scene.Provider, config Config) *Server {
	config = config.withDefaults()
	logger := config.Logger.With("component", "server")

	s := &Server{
		config:   config,
		provider: provider,
		logger:   logger,
		registry: wire.NewRegistry(logger),
		queue:    dispatch.New(logger),
		tracker:  scene.NewTracker(config.SyncThreshold),
		metrics:  newMetrics(config.Registry),
		subs:     make(map[int]chan string),
	}
	s.ops = &Ops{s: s}

	info := mcp.ServerInfo{Name: config.ServerName, Version: config.Version}
	s.bridge = mcp.NewBridge(s.ops, info, config.Logger)

	if !config.DisableHTTP {
		s.http = mcp.NewHTTPServer(mcp.HTTPConfig{
			Addr:     config.HTTPAddr,
			Registry: config.Registry,
			Info:     info,
			Logger:   config.Logger,
		}, s, s)
	}
	return s
}

// Ops exposes the mutation surface for embedders that drive the scene
// directly. Calls must be marshalled onto the owner goroutine via Enqueue.
func (s *Server) Ops() *Ops { return s.ops }

// Enqueue schedules fn on the owner goroutine. Safe from any goroutine.
func (s *Server) Enqueue(fn func()) { s.queue.Enqueue(fn) }

// Addr returns the bound WebSocket address, valid after Start.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// ConnectionCount returns the number of live WebSocket connections.
func (s *Server) ConnectionCount() int { return s.registry.Count() }

// Start binds the listeners and launches the accept and owner loops. It does
// not block.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())

	now := time.Now()
	s.syncDue = now.Add(s.syncInterval())
	s.sweepDue = now.Add(s.config.SweepInterval)

	s.wg.Add(2)
	go s.acceptLoop()
	go s.ownerLoop()

	if s.http != nil {
		s.http.Start()
	}

	s.logger.Info("server listening",
		"addr", ln.Addr().String(),
		"sync_hz", s.config.SyncRate,
		"threshold", s.config.SyncThreshold)
	return nil
}

// Stop shuts the server down: no new connections, peers closed, loops
// drained. ctx bounds the HTTP transport drain.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.listener.Close()

	var httpErr error
	if s.http != nil {
		httpErr = s.http.Shutdown(ctx)
	}

	s.registry.CloseAll()
	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	s.logger.Info("server stopped")
	return httpErr
}

// HandleRPC marshals one JSON-RPC envelope onto the owner goroutine and
// waits for the outcome. ok is false for notifications. Implements the HTTP
// transport's RPCHandler.
func (s *Server) HandleRPC(ctx context.Context, data []byte) ([]byte, bool, error) {
	type result struct {
		data []byte
		ok   bool
	}
	done := make(chan result, 1)

	s.queue.Enqueue(func() {
		resp, ok := s.bridge.Handle(ctx, data)
		done <- result{data: resp, ok: ok}
	})

	select {
	case r := <-done:
		return r.data, r.ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-s.ctx.Done():
		return nil, false, ErrServerClosed
	}
}

// Subscribe registers an observer of the broadcast stream. Implements the
// HTTP transport's BroadcastSource. A slow subscriber drops messages rather
// than stalling the owner loop.
func (s *Server) Subscribe(buffer int) (<-chan string, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan string, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

// broadcast serializes v and fans it out to every connection and subscriber.
func (s *Server) broadcast(v any) {
	message := protocol.Marshal(v)
	s.registry.Broadcast(message)
	s.metrics.broadcastsTotal.Inc()

	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- message:
		default:
		}
	}
	s.subMu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(sock)
		}()
	}
}

// handleConn upgrades one TCP connection and runs its read loop to
// completion. Plain HTTP requests get the health response inside Upgrade and
// are dropped.
func (s *Server) handleConn(sock net.Conn) {
	sock.SetDeadline(time.Now().Add(handshakeTimeout))
	br := bufio.NewReader(sock)

	if err := wire.Upgrade(br, sock); err != nil {
		if !errors.Is(err, wire.ErrNotWebSocket) {
			s.logger.Debug("handshake rejected", "remote", sock.RemoteAddr(), "error", err)
		}
		sock.Close()
		return
	}
	sock.SetDeadline(time.Time{})

	conn := wire.NewConn(sock, br, s.config.ReadTimeout, s.config.WriteTimeout, s.logger)
	s.registry.Add(conn)
	s.metrics.connectionsTotal.Inc()
	s.metrics.connectionsActive.Inc()
	s.logger.Info("client connected", "conn_id", conn.ID(), "remote", conn.RemoteAddr())

	// The initial dump is enqueued before the read loop starts, so it runs
	// before any command this client sends.
	s.queue.Enqueue(func() {
		s.sendSceneDump(conn, s.config.IncludeInactive)
	})

	conn.ReadLoop(s.ctx, func(message string) {
		s.metrics.messagesReceived.Inc()
		s.queue.Enqueue(func() {
			s.handleMessage(conn, message)
		})
	})

	s.registry.Remove(conn.ID())
	s.metrics.connectionsActive.Dec()
	s.logger.Info("client disconnected", "conn_id", conn.ID())
}

// ownerLoop is the only goroutine that touches the scene graph. Each tick it
// drains a bounded batch of queued work, then runs the sync and sweep
// schedules.
func (s *Server) ownerLoop() {
	defer s.wg.Done()

	interval := time.Second / time.Duration(s.config.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			// Final drain so in-flight RPC waiters get answers.
			s.queue.Drain(0)
			return

		case now := <-ticker.C:
			s.queue.Drain(s.config.MaxDrainPerTick)
			s.metrics.queueDepth.Set(float64(s.queue.Len()))

			if si := s.syncInterval(); si > 0 && !now.Before(s.syncDue) {
				s.syncTick()
				s.syncDue = nextDue(s.syncDue, si, now)
			}
			if !now.Before(s.sweepDue) {
				s.sweep()
				s.sweepDue = nextDue(s.sweepDue, s.config.SweepInterval, now)
			}
		}
	}
}

// nextDue advances a schedule anchor by one interval from its due time, not
// from the tick that serviced it, so owner-tick lateness never accumulates
// into the effective rate. An anchor that has fallen more than one interval
// behind is re-anchored to now instead of trying to catch up with a burst.
func nextDue(due time.Time, interval time.Duration, now time.Time) time.Time {
	due = due.Add(interval)
	if !due.After(now) {
		due = now.Add(interval)
	}
	return due
}

func (s *Server) syncInterval() time.Duration {
	if s.config.SyncRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.config.SyncRate)
}

// sendSceneDump sends the full scene state to one connection.
func (s *Server) sendSceneDump(c *wire.Conn, includeInactive bool) {
	objects := scene.Collect(s.provider, includeInactive)
	dump := protocol.NewSceneDump(s.provider.SceneName(), objects)
	if err := c.Send(protocol.Marshal(dump)); err != nil {
		s.logger.Debug("scene dump send failed", "conn_id", c.ID(), "error", err)
	}
}
