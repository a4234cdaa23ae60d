package main

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agpstudio/agp/internal/common/logger"
)

func newTestResponder() *responder {
	return newResponder(logger.Default(), "", "")
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// decodeEnvelope unwraps the single JSON text content item every tool
// answers with.
func decodeEnvelope(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("expected exactly one content item, got %v", res)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &payload); err != nil {
		t.Fatalf("reply is not JSON: %v\n%s", err, tc.Text)
	}
	return payload
}

func resultField(t *testing.T, payload map[string]any, key string) any {
	t.Helper()
	result, ok := payload["result"].(map[string]any)
	if !ok {
		t.Fatalf("payload has no result object: %v", payload)
	}
	return result[key]
}

func TestPingEnvelope(t *testing.T) {
	r := newTestResponder()
	res, err := r.ping(context.Background(), toolRequest("ping", nil))
	if err != nil {
		t.Fatalf("ping returned an error: %v", err)
	}
	payload := decodeEnvelope(t, res)
	if payload["status"] != "ok" {
		t.Fatalf("status = %v, want ok", payload["status"])
	}
	if pong := resultField(t, payload, "pong"); pong != true {
		t.Fatalf("pong = %v, want true", pong)
	}
}

func TestCreatePrimitive(t *testing.T) {
	tests := []struct {
		name       string
		args       map[string]any
		wantStatus string
		wantObject string
		wantSize   float64
	}{
		{
			name:       "cube with defaults",
			args:       map[string]any{"kind": "cube"},
			wantStatus: "ok",
			wantObject: "MockCube",
			wantSize:   1,
		},
		{
			name: "sphere with size and name",
			args: map[string]any{
				"kind":   "sphere",
				"params": map[string]any{"size": 2.5},
				"name":   "Ball",
			},
			wantStatus: "ok",
			wantObject: "Ball",
			wantSize:   2.5,
		},
		{
			name:       "uppercase kind accepted",
			args:       map[string]any{"kind": "CYLINDER"},
			wantStatus: "ok",
			wantObject: "MockCylinder",
			wantSize:   1,
		},
		{
			name:       "unknown kind rejected",
			args:       map[string]any{"kind": "torus"},
			wantStatus: "error",
		},
		{
			name:       "missing kind rejected",
			args:       map[string]any{},
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResponder()
			res, err := r.createPrimitive(context.Background(), toolRequest("blender_modeling_create_primitive", tt.args))
			if err != nil {
				t.Fatalf("createPrimitive returned an error: %v", err)
			}
			payload := decodeEnvelope(t, res)
			if payload["status"] != tt.wantStatus {
				t.Fatalf("status = %v, want %s", payload["status"], tt.wantStatus)
			}
			if tt.wantStatus != "ok" {
				if msg, _ := payload["error"].(string); msg == "" {
					t.Fatalf("error envelope has no message: %v", payload)
				}
				return
			}
			if got := resultField(t, payload, "object"); got != tt.wantObject {
				t.Fatalf("object = %v, want %s", got, tt.wantObject)
			}
			if got := resultField(t, payload, "size"); got != tt.wantSize {
				t.Fatalf("size = %v, want %v", got, tt.wantSize)
			}
		})
	}
}

func TestUnityCommandSceneRoundTrip(t *testing.T) {
	r := newTestResponder()
	ctx := context.Background()

	instantiate := `var prefab = AssetDatabase.LoadAssetAtPath<GameObject>(@"Assets/Prefabs/Crate.prefab");
if (prefab == null) throw new System.Exception(@"asset not found: Assets/Prefabs/Crate.prefab");
PrefabUtility.InstantiatePrefab(prefab);`

	res, err := r.unityCommand(ctx, toolRequest("unity_command", map[string]any{"code": instantiate}))
	if err != nil {
		t.Fatalf("instantiate returned an error: %v", err)
	}
	payload := decodeEnvelope(t, res)
	if payload["status"] != "ok" {
		t.Fatalf("instantiate status = %v: %v", payload["status"], payload)
	}
	if got := resultField(t, payload, "instantiated"); got != "Crate" {
		t.Fatalf("instantiated = %v, want Crate", got)
	}

	res, err = r.sceneHierarchy(ctx, toolRequest("unity_get_scene_hierarchy", nil))
	if err != nil {
		t.Fatalf("hierarchy returned an error: %v", err)
	}
	payload = decodeEnvelope(t, res)
	objects, _ := resultField(t, payload, "objects").([]any)
	if !hierarchyContains(objects, "Crate") {
		t.Fatalf("hierarchy missing Crate: %v", objects)
	}

	destroy := `var go = GameObject.Find(@"Crate");
if (go != null) UnityEngine.Object.DestroyImmediate(go);`

	res, err = r.unityCommand(ctx, toolRequest("unity_command", map[string]any{"code": destroy}))
	if err != nil {
		t.Fatalf("destroy returned an error: %v", err)
	}
	payload = decodeEnvelope(t, res)
	if got := resultField(t, payload, "found"); got != true {
		t.Fatalf("destroy found = %v, want true", got)
	}

	// Destroying again reports the object as gone.
	res, err = r.unityCommand(ctx, toolRequest("unity_command", map[string]any{"code": destroy}))
	if err != nil {
		t.Fatalf("second destroy returned an error: %v", err)
	}
	payload = decodeEnvelope(t, res)
	if got := resultField(t, payload, "found"); got != false {
		t.Fatalf("second destroy found = %v, want false", got)
	}
}

func TestUnityCommandUnrecognizedSnippetAcknowledged(t *testing.T) {
	r := newTestResponder()
	res, err := r.unityCommand(context.Background(), toolRequest("unity_command", map[string]any{
		"code": `Debug.Log("hello");`,
	}))
	if err != nil {
		t.Fatalf("unityCommand returned an error: %v", err)
	}
	payload := decodeEnvelope(t, res)
	if payload["status"] != "ok" {
		t.Fatalf("status = %v, want ok", payload["status"])
	}
	if got := resultField(t, payload, "executed"); got != true {
		t.Fatalf("executed = %v, want true", got)
	}
}

func TestBlenderCallExport(t *testing.T) {
	r := newTestResponder()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.createPrimitive(ctx, toolRequest("blender_modeling_create_primitive", map[string]any{
			"kind": "cube",
			"name": fmt.Sprintf("Cube%d", i),
		}))
		if err != nil {
			t.Fatalf("createPrimitive returned an error: %v", err)
		}
	}

	res, err := r.blenderCall(ctx, toolRequest("blender_call", map[string]any{
		"function": "export_fbx",
		"params":   map[string]any{"path": "artifacts/T-001/model.fbx"},
	}))
	if err != nil {
		t.Fatalf("blenderCall returned an error: %v", err)
	}
	payload := decodeEnvelope(t, res)
	if payload["status"] != "ok" {
		t.Fatalf("status = %v: %v", payload["status"], payload)
	}
	if got := resultField(t, payload, "path"); got != "artifacts/T-001/model.fbx" {
		t.Fatalf("path = %v", got)
	}
	if got := resultField(t, payload, "objects"); got != float64(3) {
		t.Fatalf("objects = %v, want 3", got)
	}

	res, err = r.blenderCall(ctx, toolRequest("blender_call", map[string]any{
		"function": "export_fbx",
	}))
	if err != nil {
		t.Fatalf("blenderCall returned an error: %v", err)
	}
	payload = decodeEnvelope(t, res)
	if payload["status"] != "error" {
		t.Fatalf("export without path should fail, got %v", payload)
	}

	res, err = r.blenderCall(ctx, toolRequest("blender_call", map[string]any{
		"function": "carve_mesh",
	}))
	if err != nil {
		t.Fatalf("blenderCall returned an error: %v", err)
	}
	payload = decodeEnvelope(t, res)
	if payload["status"] != "error" {
		t.Fatalf("unknown function should fail, got %v", payload)
	}
}

func TestCaptureScreenshotPathsAreSequential(t *testing.T) {
	r := newTestResponder()
	ctx := context.Background()

	var paths []string
	for i := 0; i < 2; i++ {
		res, err := r.captureScreenshot(ctx, toolRequest("unity_capture_screenshot", nil))
		if err != nil {
			t.Fatalf("captureScreenshot returned an error: %v", err)
		}
		payload := decodeEnvelope(t, res)
		path, _ := resultField(t, payload, "path").(string)
		paths = append(paths, path)
	}

	if paths[0] != "artifacts/screenshots/mock_001.png" || paths[1] != "artifacts/screenshots/mock_002.png" {
		t.Fatalf("unexpected screenshot paths: %v", paths)
	}
}

func TestExtractBetween(t *testing.T) {
	tests := []struct {
		s, open, close, want string
	}{
		{`Find(@"Crate")`, `Find(@"`, `")`, "Crate"},
		{`LoadAssetAtPath<GameObject>(@"a/b.prefab")`, `LoadAssetAtPath<GameObject>(@"`, `")`, "a/b.prefab"},
		{"no markers here", `Find(@"`, `")`, ""},
		{`Find(@"unterminated`, `Find(@"`, `")`, ""},
	}
	for _, tt := range tests {
		if got := extractBetween(tt.s, tt.open, tt.close); got != tt.want {
			t.Errorf("extractBetween(%q) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func hierarchyContains(objects []any, name string) bool {
	for _, obj := range objects {
		node, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		if node["name"] == name {
			return true
		}
	}
	return false
}
