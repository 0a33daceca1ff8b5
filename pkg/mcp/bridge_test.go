package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/livelink-dev/livelink/pkg/protocol"
	"github.com/livelink-dev/livelink/pkg/scene"
)

// providerOps adapts a MemoryProvider to SceneOps without broadcast side
// effects, which is all the bridge needs for these tests.
type providerOps struct {
	p *scene.MemoryProvider
}

func (o *providerOps) SceneName() string { return o.p.SceneName() }

func (o *providerOps) ListObjects(includeInactive bool) []scene.Object {
	return scene.Collect(o.p, includeInactive)
}

func (o *providerOps) GetObject(id string) (scene.Object, bool) {
	for _, obj := range scene.Collect(o.p, true) {
		if obj.UUID == id {
			return obj, true
		}
	}
	return scene.Object{}, false
}

func (o *providerOps) SpawnableKeys() []string { return o.p.SpawnableKeys() }

func (o *providerOps) Spawn(req scene.SpawnRequest) (scene.Object, error) {
	id, _, err := o.p.Spawn(req)
	if err != nil {
		return scene.Object{}, err
	}
	obj, _ := o.GetObject(id)
	return obj, nil
}

func (o *providerOps) Transform(id string, req scene.TransformRequest) error {
	return o.p.Transform(id, req)
}

func (o *providerOps) Delete(id string) error          { return o.p.Delete(id) }
func (o *providerOps) Rename(id, name string) error    { return o.p.Rename(id, name) }
func (o *providerOps) SetActive(id string, active bool) error {
	return o.p.SetActive(id, active)
}

func (o *providerOps) SetParent(id, parentID string, preserveWorld bool) error {
	return o.p.SetParent(id, parentID, preserveWorld)
}

func newTestBridge(t *testing.T) (*Bridge, *scene.MemoryProvider) {
	t.Helper()
	p := scene.NewMemoryProvider("TestScene")
	p.DefaultPrefabs()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBridge(&providerOps{p: p}, ServerInfo{Name: "livelink", Version: "test"}, logger)
	return b, p
}

// call runs one request through the bridge and decodes the response.
func call(t *testing.T, b *Bridge, method string, params any) protocol.RPCResponse {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	raw, ok := b.Handle(context.Background(), data)
	if !ok {
		t.Fatalf("Handle(%s) produced no response", method)
	}
	var resp protocol.RPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, raw)
	}
	return resp
}

func resultMap(t *testing.T, resp protocol.RPCResponse) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %d %s", resp.Error.Code, resp.Error.Message)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want object", resp.Result)
	}
	return m
}

func TestInitialize(t *testing.T) {
	b, _ := newTestBridge(t)

	result := resultMap(t, call(t, b, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "test-client"},
	}))

	if got := result["protocolVersion"]; got != protocolVersion {
		t.Errorf("protocolVersion = %v, want %s", got, protocolVersion)
	}
	caps, ok := result["capabilities"].(map[string]any)
	if !ok {
		t.Fatalf("capabilities missing: %v", result)
	}
	for _, want := range []string{"resources", "tools"} {
		if _, ok := caps[want]; !ok {
			t.Errorf("capabilities missing %q", want)
		}
	}
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != "livelink" {
		t.Errorf("serverInfo.name = %v", info["name"])
	}
}

func TestNotificationProducesNoResponse(t *testing.T) {
	b, _ := newTestBridge(t)

	data := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	raw, ok := b.Handle(context.Background(), data)
	if ok || raw != nil {
		t.Errorf("notification got a response: %s", raw)
	}
}

func TestParseErrorResponse(t *testing.T) {
	b, _ := newTestBridge(t)

	raw, ok := b.Handle(context.Background(), []byte(`{not json`))
	if !ok {
		t.Fatal("parse failure must produce a response")
	}
	var resp protocol.RPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != protocol.RPCParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, protocol.RPCParseError)
	}
}

func TestMethodNotFound(t *testing.T) {
	b, _ := newTestBridge(t)

	resp := call(t, b, "frobnicate/all", nil)
	if resp.Error == nil || resp.Error.Code != protocol.RPCMethodNotFound {
		t.Fatalf("error = %+v, want code %d", resp.Error, protocol.RPCMethodNotFound)
	}
	if !strings.Contains(resp.Error.Message, "frobnicate/all") {
		t.Errorf("message %q does not name the method", resp.Error.Message)
	}
}

func TestToolsListSchemas(t *testing.T) {
	b, _ := newTestBridge(t)

	result := resultMap(t, call(t, b, "tools/list", nil))
	list, ok := result["tools"].([]any)
	if !ok {
		t.Fatalf("tools missing: %v", result)
	}
	if len(list) != len(tools) {
		t.Fatalf("got %d tools, want %d", len(list), len(tools))
	}

	names := make(map[string]bool)
	for _, entry := range list {
		tool := entry.(map[string]any)
		name, _ := tool["name"].(string)
		names[name] = true
		if tool["description"] == "" {
			t.Errorf("tool %s has no description", name)
		}
		schema, ok := tool["inputSchema"].(map[string]any)
		if !ok {
			t.Fatalf("tool %s has no inputSchema", name)
		}
		if schema["type"] != "object" {
			t.Errorf("tool %s schema type = %v", name, schema["type"])
		}
	}
	for _, want := range []string{"spawn_object", "transform_object", "delete_object", "scene_dump", "list_spawnable_objects"} {
		if !names[want] {
			t.Errorf("tools/list missing %s", want)
		}
	}

	// spawn_object must declare prefab_key required.
	for _, entry := range list {
		tool := entry.(map[string]any)
		if tool["name"] != "spawn_object" {
			continue
		}
		schema := tool["inputSchema"].(map[string]any)
		required, _ := schema["required"].([]any)
		found := false
		for _, r := range required {
			if r == "prefab_key" {
				found = true
			}
		}
		if !found {
			t.Errorf("spawn_object schema does not require prefab_key: %v", schema["required"])
		}
	}
}

func TestToolsCallSpawn(t *testing.T) {
	b, p := newTestBridge(t)

	result := resultMap(t, call(t, b, "tools/call", map[string]any{
		"name":      "spawn_object",
		"arguments": map[string]any{"prefab_key": "Cube", "name": "Box"},
	}))
	if result["isError"] == true {
		t.Fatalf("spawn reported error: %v", result)
	}

	objects := scene.Collect(p, true)
	if len(objects) != 1 {
		t.Fatalf("scene has %d objects after spawn, want 1", len(objects))
	}
	if objects[0].Name != "Box" {
		t.Errorf("spawned name = %q, want Box", objects[0].Name)
	}
}

func TestToolsCallDomainFailureIsToolError(t *testing.T) {
	b, _ := newTestBridge(t)

	resp := call(t, b, "tools/call", map[string]any{
		"name":      "spawn_object",
		"arguments": map[string]any{"prefab_key": "Dragon"},
	})
	// Unknown prefab is a tool-level failure, not a protocol error.
	if resp.Error != nil {
		t.Fatalf("domain failure surfaced as protocol error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["isError"] != true {
		t.Fatalf("result not flagged isError: %v", result)
	}
	content := result["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	if !strings.Contains(text, "Dragon") {
		t.Errorf("error text %q does not name the prefab", text)
	}
}

func TestToolsCallMissingArgs(t *testing.T) {
	b, _ := newTestBridge(t)

	resp := call(t, b, "tools/call", map[string]any{
		"name":      "delete_object",
		"arguments": map[string]any{},
	})
	if resp.Error == nil || resp.Error.Code != protocol.RPCInvalidParams {
		t.Errorf("error = %+v, want code %d", resp.Error, protocol.RPCInvalidParams)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	b, _ := newTestBridge(t)

	resp := call(t, b, "tools/call", map[string]any{"name": "launch_missiles"})
	if resp.Error == nil || resp.Error.Code != protocol.RPCMethodNotFound {
		t.Errorf("error = %+v, want code %d", resp.Error, protocol.RPCMethodNotFound)
	}
}

func TestToolMatchesCommandSemantics(t *testing.T) {
	// delete_object through the bridge must leave the scene exactly as a
	// delete command would: node gone, children gone with it.
	b, p := newTestBridge(t)

	parentID, _, err := p.Spawn(scene.SpawnRequest{PrefabKey: "Empty", Name: "parent"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Spawn(scene.SpawnRequest{PrefabKey: "Cube", Name: "child", ParentID: parentID}); err != nil {
		t.Fatal(err)
	}

	result := resultMap(t, call(t, b, "tools/call", map[string]any{
		"name":      "delete_object",
		"arguments": map[string]any{"uuid": parentID},
	}))
	if result["isError"] == true {
		t.Fatalf("delete failed: %v", result)
	}
	if got := len(scene.Collect(p, true)); got != 0 {
		t.Errorf("scene has %d objects after subtree delete, want 0", got)
	}
}

func TestResourcesList(t *testing.T) {
	b, p := newTestBridge(t)

	id, _, err := p.Spawn(scene.SpawnRequest{PrefabKey: "Sphere", Name: "Ball"})
	if err != nil {
		t.Fatal(err)
	}

	result := resultMap(t, call(t, b, "resources/list", nil))
	resources := result["resources"].([]any)
	if len(resources) != 2 {
		t.Fatalf("got %d resources, want scene root + 1 object", len(resources))
	}

	root := resources[0].(map[string]any)
	if root["uri"] != SceneURI("TestScene") {
		t.Errorf("root uri = %v", root["uri"])
	}
	obj := resources[1].(map[string]any)
	if obj["uri"] != ObjectURI("TestScene", id) {
		t.Errorf("object uri = %v, want %s", obj["uri"], ObjectURI("TestScene", id))
	}
}

func TestResourcesReadObject(t *testing.T) {
	b, p := newTestBridge(t)

	id, _, err := p.Spawn(scene.SpawnRequest{PrefabKey: "Cube", Name: "Crate"})
	if err != nil {
		t.Fatal(err)
	}

	result := resultMap(t, call(t, b, "resources/read", map[string]any{
		"uri": ObjectURI("TestScene", id),
	}))
	contents := result["contents"].([]any)
	entry := contents[0].(map[string]any)
	if entry["mimeType"] != "application/json" {
		t.Errorf("mimeType = %v", entry["mimeType"])
	}

	var obj scene.Object
	if err := json.Unmarshal([]byte(entry["text"].(string)), &obj); err != nil {
		t.Fatalf("contents text is not a JSON object: %v", err)
	}
	if obj.UUID != id || obj.Name != "Crate" {
		t.Errorf("read object = %+v", obj)
	}
}

func TestResourcesReadSceneRoot(t *testing.T) {
	b, p := newTestBridge(t)
	if _, _, err := p.Spawn(scene.SpawnRequest{PrefabKey: "Cube"}); err != nil {
		t.Fatal(err)
	}

	result := resultMap(t, call(t, b, "resources/read", map[string]any{
		"uri": SceneURI("TestScene"),
	}))
	contents := result["contents"].([]any)
	text := contents[0].(map[string]any)["text"].(string)

	var dump struct {
		SceneName   string         `json:"scene_name"`
		ObjectCount int            `json:"object_count"`
		Objects     []scene.Object `json:"objects"`
	}
	if err := json.Unmarshal([]byte(text), &dump); err != nil {
		t.Fatal(err)
	}
	if dump.SceneName != "TestScene" || dump.ObjectCount != 1 {
		t.Errorf("dump = %+v", dump)
	}
}

func TestResourcesReadNotFound(t *testing.T) {
	b, _ := newTestBridge(t)

	for _, uri := range []string{
		ObjectURI("TestScene", "aaaaaaaaaaaa"),
		"mcp://unity/scenes/OtherScene/objects/aaaaaaaaaaaa",
		"https://example.com/not-a-resource",
	} {
		resp := call(t, b, "resources/read", map[string]any{"uri": uri})
		if resp.Error == nil || resp.Error.Code != protocol.RPCResourceNotFound {
			t.Errorf("read %q: error = %+v, want code %d", uri, resp.Error, protocol.RPCResourceNotFound)
		}
	}
}

func TestPing(t *testing.T) {
	b, _ := newTestBridge(t)
	resp := call(t, b, "ping", nil)
	if resp.Error != nil {
		t.Fatalf("ping failed: %+v", resp.Error)
	}
}

func TestParseObjectURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantID  string
		wantErr bool
	}{
		{"valid", "mcp://unity/scenes/Main/objects/abc123def456", "abc123def456", false},
		{"wrong_scheme", "http://unity/scenes/Main/objects/abc", "", true},
		{"wrong_scene", "mcp://unity/scenes/Other/objects/abc", "", true},
		{"no_object_segment", "mcp://unity/scenes/Main", "", true},
		{"empty_id", "mcp://unity/scenes/Main/objects/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseObjectURI(tt.uri, "Main")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
		})
	}
}
