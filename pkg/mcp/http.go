package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxRPCBody bounds a single POST /mcp body.
const maxRPCBody = 1 << 20

// RPCHandler executes one JSON-RPC envelope on the owner goroutine.
// ok is false when the envelope was a notification.
type RPCHandler interface {
	HandleRPC(ctx context.Context, data []byte) (response []byte, ok bool, err error)
}

// BroadcastSource exposes the outbound broadcast stream for SSE clients.
// The returned cancel function must be called when the subscriber goes away.
type BroadcastSource interface {
	Subscribe(buffer int) (<-chan string, func())
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Addr is the listen address. Default: ":8081".
	Addr string

	// Registry backs the /metrics endpoint. Optional.
	Registry *prometheus.Registry

	// Info identifies the server in /health responses.
	Info ServerInfo

	// HeartbeatInterval is the SSE keep-alive comment cadence.
	// Default: 15 seconds.
	HeartbeatInterval time.Duration

	// Logger for transport events. Default: slog.Default().
	Logger *slog.Logger
}

// HTTPServer is the standard-MCP transport: JSON-RPC over POST plus a
// server-sent event stream mirroring the WebSocket broadcasts. It is
// optional; the WebSocket port carries the same bridge.
type HTTPServer struct {
	config HTTPConfig
	rpc    RPCHandler
	events BroadcastSource

	httpServer *http.Server
	logger     *slog.Logger
}

// NewHTTPServer wires the transport. events may be nil to disable /mcp/sse.
func NewHTTPServer(config HTTPConfig, rpc RPCHandler, events BroadcastSource) *HTTPServer {
	if config.Addr == "" {
		config.Addr = ":8081"
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	h := &HTTPServer{
		config: config,
		rpc:    rpc,
		events: events,
		logger: config.Logger.With("component", "mcp-http"),
	}
	h.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// Handler builds the route tree. Exposed for tests.
func (h *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(h.traceMiddleware)

	r.Get("/health", h.handleHealth)
	r.Post("/mcp", h.handleRPC)
	if h.events != nil {
		r.Get("/mcp/sse", h.handleSSE)
	}
	if h.config.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.config.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Start begins serving in the background.
func (h *HTTPServer) Start() {
	go func() {
		h.logger.Info("mcp http transport listening", "addr", h.config.Addr)
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("mcp http transport failed", "error", err)
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.httpServer.Shutdown(ctx)
}

func (h *HTTPServer) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer(tracerName).Start(r.Context(), "http "+r.URL.Path)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"server":  h.config.Info.Name,
		"version": h.config.Info.Version,
	})
}

func (h *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	response, ok, err := h.rpc.HandleRPC(r.Context(), body)
	if err != nil {
		trace.SpanFromContext(r.Context()).SetStatus(codes.Error, err.Error())
		http.Error(w, "server unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		// Notification: acknowledged, nothing to return.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(response)
}

func (h *HTTPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := h.events.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
