package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/livelink-dev/livelink/pkg/protocol"
	"github.com/livelink-dev/livelink/pkg/scene"
)

// Tool argument shapes. Fields without omitempty are required in the
// reflected schema.

type spawnArgs struct {
	PrefabKey string      `json:"prefab_key" jsonschema:"description=Key of the registered prefab to instantiate"`
	Name      string      `json:"name,omitempty" jsonschema:"description=Name for the new object"`
	Position  *[3]float64 `json:"position,omitempty" jsonschema:"description=World position as [x y z]"`
	Rotation  *[4]float64 `json:"rotation,omitempty" jsonschema:"description=Rotation quaternion as [x y z w]"`
	Scale     *[3]float64 `json:"scale,omitempty" jsonschema:"description=Scale as [x y z]"`
	Parent    string      `json:"parent_uuid,omitempty" jsonschema:"description=Id of the parent object"`
}

type transformArgs struct {
	UUID     string      `json:"uuid" jsonschema:"description=Id of the object to transform"`
	Position *[3]float64 `json:"position,omitempty" jsonschema:"description=New position as [x y z]"`
	Rotation *[4]float64 `json:"rotation,omitempty" jsonschema:"description=New rotation quaternion as [x y z w]"`
	Scale    *[3]float64 `json:"scale,omitempty" jsonschema:"description=New scale as [x y z]"`
	Local    bool        `json:"local,omitempty" jsonschema:"description=Interpret values relative to the parent"`
}

type deleteArgs struct {
	UUID string `json:"uuid" jsonschema:"description=Id of the object to delete"`
}

type setParentArgs struct {
	UUID          string `json:"uuid" jsonschema:"description=Id of the object to reparent"`
	Parent        string `json:"parent_uuid,omitempty" jsonschema:"description=Id of the new parent; empty moves the object to the scene root"`
	PreserveWorld *bool  `json:"preserve_world,omitempty" jsonschema:"description=Keep the world transform while reparenting (default true)"`
}

type setActiveArgs struct {
	UUID   string `json:"uuid" jsonschema:"description=Id of the object"`
	Active *bool  `json:"active" jsonschema:"description=New active state"`
}

type renameArgs struct {
	UUID string `json:"uuid" jsonschema:"description=Id of the object"`
	Name string `json:"name" jsonschema:"description=New name"`
}

type sceneDumpArgs struct {
	IncludeInactive bool `json:"include_inactive,omitempty" jsonschema:"description=Include inactive objects in the dump"`
}

type listSpawnableArgs struct{}

// toolDef pairs a tool descriptor with its handler. Handlers return a
// human-readable summary plus optional structured data; a returned error
// becomes an isError tool result, not a protocol failure.
type toolDef struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     func(b *Bridge, args json.RawMessage) (string, any, error)
}

// reflectSchema builds an inline JSON schema for an argument struct.
func reflectSchema(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(v)
}

// tools is the closed tool set, in the order reported by tools/list.
var tools = []toolDef{
	{
		name:        "spawn_object",
		description: "Instantiate a registered prefab in the scene",
		schema:      reflectSchema(&spawnArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			var args spawnArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			if args.PrefabKey == "" {
				return "", nil, errInvalidParams("prefab_key is required")
			}
			obj, err := b.ops.Spawn(scene.SpawnRequest{
				PrefabKey: args.PrefabKey,
				Name:      args.Name,
				Position:  args.Position,
				Rotation:  args.Rotation,
				Scale:     args.Scale,
				ParentID:  args.Parent,
			})
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Spawned %s as %q (%s)", args.PrefabKey, obj.Name, obj.UUID),
				map[string]any{"uuid": obj.UUID, "object": obj}, nil
		},
	},
	{
		name:        "transform_object",
		description: "Move, rotate, or scale an object",
		schema:      reflectSchema(&transformArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			var args transformArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			if args.UUID == "" {
				return "", nil, errInvalidParams("uuid is required")
			}
			err := b.ops.Transform(args.UUID, scene.TransformRequest{
				Position: args.Position,
				Rotation: args.Rotation,
				Scale:    args.Scale,
				Local:    args.Local,
			})
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Transformed %s", args.UUID), nil, nil
		},
	},
	{
		name:        "delete_object",
		description: "Delete an object and its children",
		schema:      reflectSchema(&deleteArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			var args deleteArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			if args.UUID == "" {
				return "", nil, errInvalidParams("uuid is required")
			}
			if err := b.ops.Delete(args.UUID); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Deleted %s", args.UUID), nil, nil
		},
	},
	{
		name:        "set_object_parent",
		description: "Reparent an object within the scene hierarchy",
		schema:      reflectSchema(&setParentArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			var args setParentArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			if args.UUID == "" {
				return "", nil, errInvalidParams("uuid is required")
			}
			preserve := true
			if args.PreserveWorld != nil {
				preserve = *args.PreserveWorld
			}
			if err := b.ops.SetParent(args.UUID, args.Parent, preserve); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Reparented %s", args.UUID), nil, nil
		},
	},
	{
		name:        "set_object_active",
		description: "Activate or deactivate an object",
		schema:      reflectSchema(&setActiveArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			var args setActiveArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			if args.UUID == "" || args.Active == nil {
				return "", nil, errInvalidParams("uuid and active are required")
			}
			if err := b.ops.SetActive(args.UUID, *args.Active); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Set %s active=%v", args.UUID, *args.Active), nil, nil
		},
	},
	{
		name:        "rename_object",
		description: "Rename an object",
		schema:      reflectSchema(&renameArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			var args renameArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			if args.UUID == "" || args.Name == "" {
				return "", nil, errInvalidParams("uuid and name are required")
			}
			if err := b.ops.Rename(args.UUID, args.Name); err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Renamed %s to %q", args.UUID, args.Name), nil, nil
		},
	},
	{
		name:        "scene_dump",
		description: "Return the full scene hierarchy",
		schema:      reflectSchema(&sceneDumpArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			var args sceneDumpArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			objects := b.ops.ListObjects(args.IncludeInactive)
			return fmt.Sprintf("Scene %q with %d objects", b.ops.SceneName(), len(objects)),
				map[string]any{
					"scene_name":   b.ops.SceneName(),
					"object_count": len(objects),
					"objects":      objects,
				}, nil
		},
	},
	{
		name:        "list_spawnable_objects",
		description: "List the prefab keys available to spawn_object",
		schema:      reflectSchema(&listSpawnableArgs{}),
		handler: func(b *Bridge, raw json.RawMessage) (string, any, error) {
			keys := b.ops.SpawnableKeys()
			return fmt.Sprintf("%d spawnable prefabs", len(keys)),
				map[string]any{"keys": keys}, nil
		},
	},
}

// invalidParamsError marks argument validation failures so tools/call can
// map them onto -32602 instead of a tool-level error.
type invalidParamsError struct{ msg string }

func (e invalidParamsError) Error() string { return e.msg }

func errInvalidParams(msg string) error { return invalidParamsError{msg: msg} }

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errInvalidParams(fmt.Sprintf("malformed arguments: %v", err))
	}
	return nil
}

func (b *Bridge) handleToolsList(req *protocol.RPCRequest) protocol.RPCResponse {
	list := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		list = append(list, map[string]any{
			"name":        t.name,
			"description": t.description,
			"inputSchema": t.schema,
		})
	}
	return protocol.NewRPCResult(req.ID, map[string]any{"tools": list})
}

func (b *Bridge) handleToolsCall(ctx context.Context, req *protocol.RPCRequest) protocol.RPCResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return protocol.NewRPCError(req.ID, protocol.RPCInvalidParams, "missing tool name", nil)
	}

	for _, t := range tools {
		if t.name != params.Name {
			continue
		}

		_, span := otel.Tracer(tracerName).Start(ctx, "tool."+t.name)
		defer span.End()

		message, data, err := t.handler(b, params.Arguments)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			var ipe invalidParamsError
			if errors.As(err, &ipe) {
				return protocol.NewRPCError(req.ID, protocol.RPCInvalidParams, ipe.Error(), nil)
			}
			// Domain failures are tool results, not protocol failures.
			return protocol.NewRPCResult(req.ID, callResult(err.Error(), nil, true))
		}
		return protocol.NewRPCResult(req.ID, callResult(message, data, false))
	}

	return protocol.NewRPCError(req.ID, protocol.RPCMethodNotFound,
		fmt.Sprintf("tool not found: %s", params.Name), nil)
}

// callResult shapes a tools/call result: human text plus optional
// structured content.
func callResult(message string, data any, isError bool) map[string]any {
	content := []map[string]any{{"type": "text", "text": message}}
	if data != nil {
		if extra, err := json.Marshal(data); err == nil {
			content = append(content, map[string]any{"type": "text", "text": string(extra)})
		}
	}
	result := map[string]any{"content": content}
	if isError {
		result["isError"] = true
	}
	return result
}
