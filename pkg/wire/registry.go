package wire

import (
	"log/slog"
	"sync"
)

// Registry is a concurrency-safe set of live connections. Broadcast iterates
// a snapshot so a peer connecting or dropping mid-broadcast never races the
// iteration.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		logger: logger,
	}
}

// Add registers a connection.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()
}

// Remove unregisters a connection by id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the current connections as a slice.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast queues message on every registered connection, tolerating
// individual failures. Each connection's writer goroutine performs the
// actual delivery, so one slow peer cannot delay the others or the caller.
// A failing peer is reaped by its own read loop, not here. Returns the
// number of connections that accepted the message.
func (r *Registry) Broadcast(message string) int {
	delivered := 0
	for _, c := range r.Snapshot() {
		if err := c.Send(message); err != nil {
			r.logger.Debug("broadcast send failed", "conn_id", c.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
