// Package mcp layers a JSON-RPC 2.0 (Model Context Protocol) view over the
// same mutation surface the command protocol uses. The bridge itself is
// transport-agnostic: the WebSocket dispatcher and the HTTP transport both
// feed it raw envelopes and forward whatever bytes it returns.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/livelink-dev/livelink/pkg/protocol"
	"github.com/livelink-dev/livelink/pkg/scene"
)

const tracerName = "livelink/mcp"

// protocolVersion is the MCP protocol revision this server implements.
const protocolVersion = "2024-11-05"

// SceneOps is the mutation and query surface the bridge drives. The server
// implements it on top of the scene provider; commands and tools calling
// through the same implementation is what keeps the two protocols
// semantically equivalent.
type SceneOps interface {
	SceneName() string
	ListObjects(includeInactive bool) []scene.Object
	GetObject(id string) (scene.Object, bool)
	SpawnableKeys() []string

	Spawn(req scene.SpawnRequest) (scene.Object, error)
	Transform(id string, req scene.TransformRequest) error
	Delete(id string) error
	Rename(id, name string) error
	SetParent(id, parentID string, preserveWorld bool) error
	SetActive(id string, active bool) error
}

// ServerInfo identifies the server in initialize responses.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Bridge dispatches JSON-RPC envelopes onto SceneOps. Handle must run on the
// owner goroutine, like every other graph access.
type Bridge struct {
	ops    SceneOps
	info   ServerInfo
	logger *slog.Logger
}

// NewBridge creates a bridge over ops.
func NewBridge(ops SceneOps, info ServerInfo, logger *slog.Logger) *Bridge {
	return &Bridge{
		ops:    ops,
		info:   info,
		logger: logger.With("component", "mcp"),
	}
}

// Handle processes one raw envelope. ok is false when no bytes should be
// written back (notifications).
func (b *Bridge) Handle(ctx context.Context, data []byte) (response []byte, ok bool) {
	var req protocol.RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return marshalResponse(protocol.NewRPCError(nil, protocol.RPCParseError, "parse error", nil)), true
	}
	if req.JSONRPC != protocol.RPCVersion || req.Method == "" {
		return marshalResponse(protocol.NewRPCError(req.ID, protocol.RPCInvalidRequest, "invalid request", nil)), true
	}

	resp := b.dispatch(ctx, &req)
	if req.IsNotification() {
		// Processed, but notifications never produce a transport write.
		return nil, false
	}
	return marshalResponse(resp), true
}

// dispatch routes a request to its method handler with panic isolation.
func (b *Bridge) dispatch(ctx context.Context, req *protocol.RPCRequest) (resp protocol.RPCResponse) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "mcp."+req.Method)
	span.SetAttributes(attribute.String("rpc.method", req.Method))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("mcp handler panic",
				"method", req.Method,
				"panic", r,
				"stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			resp = protocol.NewRPCError(req.ID, protocol.RPCInternalError, "internal error", nil)
		}
	}()

	switch req.Method {
	case "initialize":
		resp = b.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment; nothing to do.
		resp = protocol.NewRPCResult(req.ID, struct{}{})
	case "ping":
		resp = protocol.NewRPCResult(req.ID, struct{}{})
	case "resources/list":
		resp = b.handleResourcesList(req)
	case "resources/read":
		resp = b.handleResourcesRead(req)
	case "tools/list":
		resp = b.handleToolsList(req)
	case "tools/call":
		resp = b.handleToolsCall(ctx, req)
	default:
		resp = protocol.NewRPCError(req.ID, protocol.RPCMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	}

	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Message)
	}
	return resp
}

func (b *Bridge) handleInitialize(req *protocol.RPCRequest) protocol.RPCResponse {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"resources": map[string]any{},
			"tools":     map[string]any{},
		},
		"serverInfo": b.info,
	}
	return protocol.NewRPCResult(req.ID, result)
}

func (b *Bridge) handleResourcesList(req *protocol.RPCRequest) protocol.RPCResponse {
	sceneName := b.ops.SceneName()

	resources := []map[string]any{{
		"uri":         SceneURI(sceneName),
		"name":        sceneName,
		"description": "Scene root",
		"mimeType":    "application/json",
	}}
	for _, obj := range b.ops.ListObjects(true) {
		resources = append(resources, map[string]any{
			"uri":      ObjectURI(sceneName, obj.UUID),
			"name":     obj.Name,
			"mimeType": "application/json",
		})
	}
	return protocol.NewRPCResult(req.ID, map[string]any{"resources": resources})
}

func (b *Bridge) handleResourcesRead(req *protocol.RPCRequest) protocol.RPCResponse {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return protocol.NewRPCError(req.ID, protocol.RPCInvalidParams, "missing uri parameter", nil)
	}

	sceneName := b.ops.SceneName()

	var payload any
	switch {
	case params.URI == SceneURI(sceneName):
		objects := b.ops.ListObjects(true)
		payload = map[string]any{
			"scene_name":   sceneName,
			"object_count": len(objects),
			"objects":      objects,
		}
	default:
		id, err := ParseObjectURI(params.URI, sceneName)
		if err != nil {
			return protocol.NewRPCError(req.ID, protocol.RPCResourceNotFound,
				fmt.Sprintf("resource not found: %s", params.URI), nil)
		}
		obj, found := b.ops.GetObject(id)
		if !found {
			return protocol.NewRPCError(req.ID, protocol.RPCResourceNotFound,
				fmt.Sprintf("resource not found: %s", params.URI), nil)
		}
		payload = obj
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return protocol.NewRPCError(req.ID, protocol.RPCInternalError, "serialization failed", nil)
	}
	return protocol.NewRPCResult(req.ID, map[string]any{
		"contents": []map[string]any{{
			"uri":      params.URI,
			"mimeType": "application/json",
			"text":     string(text),
		}},
	})
}

func marshalResponse(resp protocol.RPCResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
