// Package protocol defines the JSON messages spoken over the text frames of
// the sync transport: the inbound command envelope with its closed command
// set, the outbound scene messages, and the JSON-RPC 2.0 envelope used by
// the MCP bridge.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/livelink-dev/livelink/pkg/scene"
)

// Canonical command types. Inbound type tags are matched case-insensitively
// and through the alias table below.
const (
	CmdSpawn          = "spawn"
	CmdTransform      = "transform"
	CmdDelete         = "delete"
	CmdRename         = "rename"
	CmdSetParent      = "set_parent"
	CmdSetActive      = "set_active"
	CmdSceneDump      = "scene_dump"
	CmdListSpawnables = "list_spawnables"
	CmdPing           = "ping"
)

// aliases maps accepted alternate command names onto canonical ones.
var aliases = map[string]string{
	"move":                   CmdTransform,
	"destroy":                CmdDelete,
	"reparent":               CmdSetParent,
	"get_scene":              CmdSceneDump,
	"refresh":                CmdSceneDump,
	"get_spawnable":          CmdListSpawnables,
	"list_spawnable_objects": CmdListSpawnables,
}

// Canonical lowercases a command type and resolves aliases. Unknown types
// come back unchanged (lowercased) so error messages can echo them.
func Canonical(commandType string) string {
	t := strings.ToLower(strings.TrimSpace(commandType))
	if canonical, ok := aliases[t]; ok {
		return canonical
	}
	return t
}

// Command is the inbound command envelope. Payload stays raw until the
// dispatcher knows which typed payload to decode it into.
type Command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SpawnPayload instantiates a prefab.
type SpawnPayload struct {
	PrefabKey string      `json:"prefab_key"`
	UUID      string      `json:"uuid,omitempty"`
	Name      string      `json:"name,omitempty"`
	Position  *[3]float64 `json:"position,omitempty"`
	Rotation  *[4]float64 `json:"rotation,omitempty"`
	Scale     *[3]float64 `json:"scale,omitempty"`
	Parent    string      `json:"parent_uuid,omitempty"`
}

// TransformPayload applies a partial transform to an existing node.
type TransformPayload struct {
	UUID     string      `json:"uuid"`
	Position *[3]float64 `json:"position,omitempty"`
	Rotation *[4]float64 `json:"rotation,omitempty"`
	Scale    *[3]float64 `json:"scale,omitempty"`
	Local    bool        `json:"local,omitempty"`
}

// DeletePayload destroys a node.
type DeletePayload struct {
	UUID string `json:"uuid"`
}

// RenamePayload changes a node's name.
type RenamePayload struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// SetParentPayload reparents a node. An empty parent moves it to the scene
// root.
type SetParentPayload struct {
	UUID          string `json:"uuid"`
	Parent        string `json:"parent_uuid,omitempty"`
	PreserveWorld *bool  `json:"preserve_world,omitempty"` // default true
}

// SetActivePayload toggles a node's active flag.
type SetActivePayload struct {
	UUID   string `json:"uuid"`
	Active bool   `json:"active"`
}

// SceneDumpPayload requests a full scene dump.
type SceneDumpPayload struct {
	IncludeInactive bool `json:"include_inactive,omitempty"`
}

// Response is the reply to one command, routed only to the connection that
// sent it.
type Response struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// OK builds a success response.
func OK(requestID, message string, data any) Response {
	return Response{Type: "response", Success: true, Message: message, RequestID: requestID, Data: data}
}

// Fail builds a failure response.
func Fail(requestID, message string) Response {
	return Response{Type: "response", Success: false, Message: message, RequestID: requestID}
}

// SceneDump is the full-state message sent on connect and on request.
type SceneDump struct {
	Type    string        `json:"type"`
	Payload SceneDumpBody `json:"payload"`
}

// SceneDumpBody is the payload of a SceneDump.
type SceneDumpBody struct {
	SceneName   string         `json:"scene_name"`
	ObjectCount int            `json:"object_count"`
	Objects     []scene.Object `json:"objects"`
}

// NewSceneDump builds a scene dump message.
func NewSceneDump(sceneName string, objects []scene.Object) SceneDump {
	return SceneDump{
		Type: CmdSceneDump,
		Payload: SceneDumpBody{
			SceneName:   sceneName,
			ObjectCount: len(objects),
			Objects:     objects,
		},
	}
}

// Sync is the periodic broadcast of changed (or, in full mode, all) nodes.
type Sync struct {
	Type    string         `json:"type"`
	IsDelta bool           `json:"is_delta"`
	Objects []scene.Object `json:"objects"`
}

// NewSync builds a sync message.
func NewSync(isDelta bool, objects []scene.Object) Sync {
	return Sync{Type: "sync", IsDelta: isDelta, Objects: objects}
}

// ObjectSpawned notifies all peers that a node was created.
type ObjectSpawned struct {
	Type   string       `json:"type"`
	UUID   string       `json:"uuid"`
	Prefab string       `json:"prefab"`
	Object scene.Object `json:"object"`
}

// NewObjectSpawned builds a spawn notification.
func NewObjectSpawned(uuid, prefab string, obj scene.Object) ObjectSpawned {
	return ObjectSpawned{Type: "object_spawned", UUID: uuid, Prefab: prefab, Object: obj}
}

// ObjectDestroyed notifies all peers that a node is gone, whether through a
// delete command or an out-of-band destruction.
type ObjectDestroyed struct {
	Type string `json:"type"`
	UUID string `json:"uuid"`
}

// NewObjectDestroyed builds a destroy notification.
func NewObjectDestroyed(uuid string) ObjectDestroyed {
	return ObjectDestroyed{Type: "object_destroyed", UUID: uuid}
}

// Marshal serializes any outbound message, falling back to an internal error
// response if the value cannot be serialized.
func Marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"type":"response","success":false,"message":"internal serialization error"}`
	}
	return string(data)
}
