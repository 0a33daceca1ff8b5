package server

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/livelink-dev/livelink/pkg/protocol"
	"github.com/livelink-dev/livelink/pkg/scene"
	"github.com/livelink-dev/livelink/pkg/wire"
)

const tracerName = "livelink/server"

// handleMessage processes one inbound text frame on the owner goroutine.
// JSON-RPC envelopes are routed to the bridge; everything else goes through
// the command dispatcher. Malformed input gets an error response, never a
// disconnect.
func (s *Server) handleMessage(c *wire.Conn, raw string) {
	data := []byte(raw)

	if protocol.IsRPC(data) {
		var probe struct {
			Method string `json:"method"`
		}
		json.Unmarshal(data, &probe)
		if probe.Method == "" {
			probe.Method = "invalid"
		}
		s.metrics.rpcTotal.WithLabelValues(probe.Method).Inc()

		if resp, ok := s.bridge.Handle(s.ctx, data); ok {
			c.Send(string(resp))
		}
		return
	}

	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.Send(protocol.Marshal(protocol.Fail("", fmt.Sprintf("parse error: %v", err))))
		return
	}
	if strings.TrimSpace(cmd.Type) == "" {
		c.Send(protocol.Marshal(protocol.Fail(cmd.RequestID, "invalid command format: missing type")))
		return
	}

	canonical := protocol.Canonical(cmd.Type)
	resp := s.dispatchCommand(c, canonical, &cmd)

	status := "ok"
	if !resp.Success {
		status = "error"
	}
	s.metrics.commandsTotal.WithLabelValues(canonical, status).Inc()

	c.Send(protocol.Marshal(resp))
}

// dispatchCommand routes one command with panic isolation. A panicking
// handler produces an error response for this command only; the connection
// and the owner loop keep running.
func (s *Server) dispatchCommand(c *wire.Conn, canonical string, cmd *protocol.Command) (resp protocol.Response) {
	start := time.Now()
	defer func() { s.metrics.commandDuration.Observe(time.Since(start).Seconds()) }()

	_, span := otel.Tracer(tracerName).Start(s.ctx, "cmd."+canonical)
	span.SetAttributes(attribute.String("command.type", canonical))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.metrics.handlerPanics.Inc()
			s.logger.Error("command handler panic",
				"type", canonical,
				"panic", r,
				"stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			resp = protocol.Fail(cmd.RequestID, "internal error")
		}
	}()

	switch canonical {
	case protocol.CmdPing:
		resp = protocol.OK(cmd.RequestID, "pong", nil)
	case protocol.CmdSpawn:
		resp = s.handleSpawn(cmd)
	case protocol.CmdTransform:
		resp = s.handleTransform(cmd)
	case protocol.CmdDelete:
		resp = s.handleDelete(cmd)
	case protocol.CmdRename:
		resp = s.handleRename(cmd)
	case protocol.CmdSetParent:
		resp = s.handleSetParent(cmd)
	case protocol.CmdSetActive:
		resp = s.handleSetActive(cmd)
	case protocol.CmdSceneDump:
		resp = s.handleSceneDump(c, cmd)
	case protocol.CmdListSpawnables:
		resp = s.handleListSpawnables(cmd)
	default:
		resp = protocol.Fail(cmd.RequestID, fmt.Sprintf("unknown command type: %q", canonical))
	}

	if !resp.Success {
		span.SetStatus(codes.Error, resp.Message)
	}
	return resp
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *Server) handleSpawn(cmd *protocol.Command) protocol.Response {
	var p protocol.SpawnPayload
	if err := decodePayload(cmd.Payload, &p); err != nil {
		return protocol.Fail(cmd.RequestID, fmt.Sprintf("malformed spawn payload: %v", err))
	}
	if p.PrefabKey == "" {
		return protocol.Fail(cmd.RequestID, "spawn requires prefab_key")
	}

	obj, err := s.ops.Spawn(scene.SpawnRequest{
		PrefabKey: p.PrefabKey,
		ID:        p.UUID,
		Name:      p.Name,
		Position:  p.Position,
		Rotation:  p.Rotation,
		Scale:     p.Scale,
		ParentID:  p.Parent,
	})
	if err != nil {
		return protocol.Fail(cmd.RequestID, err.Error())
	}
	return protocol.OK(cmd.RequestID, fmt.Sprintf("spawned %s as %s", p.PrefabKey, obj.UUID),
		map[string]any{"uuid": obj.UUID, "object": obj})
}

func (s *Server) handleTransform(cmd *protocol.Command) protocol.Response {
	var p protocol.TransformPayload
	if err := decodePayload(cmd.Payload, &p); err != nil {
		return protocol.Fail(cmd.RequestID, fmt.Sprintf("malformed transform payload: %v", err))
	}
	if p.UUID == "" {
		return protocol.Fail(cmd.RequestID, "transform requires uuid")
	}

	err := s.ops.Transform(p.UUID, scene.TransformRequest{
		Position: p.Position,
		Rotation: p.Rotation,
		Scale:    p.Scale,
		Local:    p.Local,
	})
	if err != nil {
		return protocol.Fail(cmd.RequestID, err.Error())
	}
	return protocol.OK(cmd.RequestID, fmt.Sprintf("transformed %s", p.UUID), nil)
}

func (s *Server) handleDelete(cmd *protocol.Command) protocol.Response {
	var p protocol.DeletePayload
	if err := decodePayload(cmd.Payload, &p); err != nil {
		return protocol.Fail(cmd.RequestID, fmt.Sprintf("malformed delete payload: %v", err))
	}
	if p.UUID == "" {
		return protocol.Fail(cmd.RequestID, "delete requires uuid")
	}

	if err := s.ops.Delete(p.UUID); err != nil {
		return protocol.Fail(cmd.RequestID, err.Error())
	}
	return protocol.OK(cmd.RequestID, fmt.Sprintf("deleted %s", p.UUID), nil)
}

func (s *Server) handleRename(cmd *protocol.Command) protocol.Response {
	var p protocol.RenamePayload
	if err := decodePayload(cmd.Payload, &p); err != nil {
		return protocol.Fail(cmd.RequestID, fmt.Sprintf("malformed rename payload: %v", err))
	}
	if p.UUID == "" || p.Name == "" {
		return protocol.Fail(cmd.RequestID, "rename requires uuid and name")
	}

	if err := s.ops.Rename(p.UUID, p.Name); err != nil {
		return protocol.Fail(cmd.RequestID, err.Error())
	}
	return protocol.OK(cmd.RequestID, fmt.Sprintf("renamed %s to %q", p.UUID, p.Name), nil)
}

func (s *Server) handleSetParent(cmd *protocol.Command) protocol.Response {
	var p protocol.SetParentPayload
	if err := decodePayload(cmd.Payload, &p); err != nil {
		return protocol.Fail(cmd.RequestID, fmt.Sprintf("malformed set_parent payload: %v", err))
	}
	if p.UUID == "" {
		return protocol.Fail(cmd.RequestID, "set_parent requires uuid")
	}

	preserve := true
	if p.PreserveWorld != nil {
		preserve = *p.PreserveWorld
	}
	if err := s.ops.SetParent(p.UUID, p.Parent, preserve); err != nil {
		return protocol.Fail(cmd.RequestID, err.Error())
	}
	return protocol.OK(cmd.RequestID, fmt.Sprintf("reparented %s", p.UUID), nil)
}

func (s *Server) handleSetActive(cmd *protocol.Command) protocol.Response {
	var p protocol.SetActivePayload
	if err := decodePayload(cmd.Payload, &p); err != nil {
		return protocol.Fail(cmd.RequestID, fmt.Sprintf("malformed set_active payload: %v", err))
	}
	if p.UUID == "" {
		return protocol.Fail(cmd.RequestID, "set_active requires uuid")
	}

	if err := s.ops.SetActive(p.UUID, p.Active); err != nil {
		return protocol.Fail(cmd.RequestID, err.Error())
	}
	return protocol.OK(cmd.RequestID, fmt.Sprintf("set %s active=%v", p.UUID, p.Active), nil)
}

// handleSceneDump sends the dump to the requester as its own message, then
// acknowledges the command.
func (s *Server) handleSceneDump(c *wire.Conn, cmd *protocol.Command) protocol.Response {
	var p protocol.SceneDumpPayload
	if err := decodePayload(cmd.Payload, &p); err != nil {
		return protocol.Fail(cmd.RequestID, fmt.Sprintf("malformed scene_dump payload: %v", err))
	}

	include := p.IncludeInactive || s.config.IncludeInactive
	objects := scene.Collect(s.provider, include)
	dump := protocol.NewSceneDump(s.provider.SceneName(), objects)
	if err := c.Send(protocol.Marshal(dump)); err != nil {
		return protocol.Fail(cmd.RequestID, "scene dump delivery failed")
	}
	return protocol.OK(cmd.RequestID, "scene dump sent", map[string]any{"object_count": len(objects)})
}

func (s *Server) handleListSpawnables(cmd *protocol.Command) protocol.Response {
	keys := s.ops.SpawnableKeys()
	return protocol.OK(cmd.RequestID, fmt.Sprintf("%d spawnable prefabs", len(keys)),
		map[string]any{"keys": keys})
}
