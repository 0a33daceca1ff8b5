package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/livelink-dev/livelink/pkg/protocol"
)

// directRPC runs envelopes straight through a bridge, standing in for the
// owner-goroutine round trip.
type directRPC struct {
	b *Bridge
}

func (d directRPC) HandleRPC(ctx context.Context, data []byte) ([]byte, bool, error) {
	resp, ok := d.b.Handle(ctx, data)
	return resp, ok, nil
}

type failingRPC struct{}

func (failingRPC) HandleRPC(context.Context, []byte) ([]byte, bool, error) {
	return nil, false, errors.New("owner loop stopped")
}

type stubEvents struct {
	ch chan string
}

func (s stubEvents) Subscribe(int) (<-chan string, func()) { return s.ch, func() {} }

func newTestHTTP(t *testing.T, rpc RPCHandler, events BroadcastSource) http.Handler {
	t.Helper()
	h := NewHTTPServer(HTTPConfig{
		Registry: prometheus.NewRegistry(),
		Info:     ServerInfo{Name: "livelink", Version: "test"},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, rpc, events)
	return h.Handler()
}

func TestHealthEndpoint(t *testing.T) {
	b, _ := newTestBridge(t)
	handler := newTestHTTP(t, directRPC{b: b}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["server"] != "livelink" {
		t.Errorf("body = %v", body)
	}
}

func TestRPCOverHTTP(t *testing.T) {
	b, _ := newTestBridge(t)
	handler := newTestHTTP(t, directRPC{b: b}, nil)

	req := httptest.NewRequest("POST", "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp protocol.RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	if string(resp.ID) != "7" {
		t.Errorf("id = %s, want 7", resp.ID)
	}
}

func TestRPCOverHTTPParseError(t *testing.T) {
	b, _ := newTestBridge(t)
	handler := newTestHTTP(t, directRPC{b: b}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/mcp", strings.NewReader(`{broken`)))

	var resp protocol.RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != protocol.RPCParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, protocol.RPCParseError)
	}
}

func TestRPCOverHTTPNotification(t *testing.T) {
	b, _ := newTestBridge(t)
	handler := newTestHTTP(t, directRPC{b: b}, nil)

	req := httptest.NewRequest("POST", "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("notification got a body: %s", rec.Body)
	}
}

func TestRPCOverHTTPServerUnavailable(t *testing.T) {
	handler := newTestHTTP(t, failingRPC{}, nil)

	req := httptest.NewRequest("POST", "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpointRegistered(t *testing.T) {
	b, _ := newTestBridge(t)
	handler := newTestHTTP(t, directRPC{b: b}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSSEDeliversBroadcasts(t *testing.T) {
	b, _ := newTestBridge(t)
	events := stubEvents{ch: make(chan string, 1)}

	srv := httptest.NewServer(newTestHTTP(t, directRPC{b: b}, events))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/mcp/sse", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events.ch <- `{"type":"object_destroyed","uuid":"abc"}`

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, "object_destroyed") {
				t.Errorf("data line = %q", line)
			}
			return
		}
	}
	t.Fatal("stream ended without a data line")
}
