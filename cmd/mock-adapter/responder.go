package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
)

// primitiveKinds is what the modeler side of the mock accepts, matching
// the catalog schema the backend validates against.
var primitiveKinds = map[string]bool{
	"cube":     true,
	"sphere":   true,
	"plane":    true,
	"cylinder": true,
	"cone":     true,
}

// responder answers the adapter tool surface with deterministic canned
// results. A small in-memory scene makes instantiate/destroy/hierarchy
// round-trips coherent; nothing touches the filesystem. When a bridge
// URL is configured the matching tool family is relayed instead.
type responder struct {
	log        *logger.Logger
	unityURL   string
	blenderURL string

	mu             sync.Mutex
	sceneObjects   []string
	modelerObjects []string
	screenshots    int
}

func newResponder(log *logger.Logger, unityURL, blenderURL string) *responder {
	return &responder{
		log:        log,
		unityURL:   unityURL,
		blenderURL: blenderURL,
		// A fresh engine scene starts with the stock objects.
		sceneObjects: []string{"Main Camera", "Directional Light"},
	}
}

// envelope builds the adapter reply contract: a single JSON text content
// item carrying {status, result|error}.
func envelope(status string, result map[string]any, errMsg string) *mcp.CallToolResult {
	payload := map[string]any{"status": status}
	if result != nil {
		payload["result"] = result
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	raw, _ := json.Marshal(payload)
	return mcp.NewToolResultText(string(raw))
}

func okResult(result map[string]any) *mcp.CallToolResult {
	return envelope("ok", result, "")
}

func failResult(format string, args ...any) *mcp.CallToolResult {
	return envelope("error", nil, fmt.Sprintf(format, args...))
}

func (r *responder) ping(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return okResult(map[string]any{"pong": true}), nil
}

func (r *responder) sceneHierarchy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, handled := r.forward(ctx, r.unityURL, req); handled {
		return res, nil
	}

	r.mu.Lock()
	names := append([]string(nil), r.sceneObjects...)
	r.mu.Unlock()

	nodes := make([]map[string]any, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, map[string]any{"name": name, "children": []any{}})
	}
	return okResult(map[string]any{"scene": "MockScene", "objects": nodes}), nil
}

func (r *responder) captureScreenshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, handled := r.forward(ctx, r.unityURL, req); handled {
		return res, nil
	}

	r.mu.Lock()
	r.screenshots++
	n := r.screenshots
	r.mu.Unlock()

	path := fmt.Sprintf("artifacts/screenshots/mock_%03d.png", n)
	return okResult(map[string]any{"path": path, "width": 1280, "height": 720}), nil
}

// unityCommand recognizes the two snippets the backend generates,
// instantiate and destroy, and mutates the mock scene accordingly. Any
// other snippet is acknowledged without effect.
func (r *responder) unityCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, handled := r.forward(ctx, r.unityURL, req); handled {
		return res, nil
	}

	code, err := req.RequireString("code")
	if err != nil {
		return failResult("unity_command requires a code string"), nil
	}

	switch {
	case strings.Contains(code, "InstantiatePrefab"):
		asset := extractBetween(code, `LoadAssetAtPath<GameObject>(@"`, `")`)
		if asset == "" {
			return failResult("no asset path found in snippet"), nil
		}
		name := objectNameForAsset(asset)
		r.addSceneObject(name)
		return okResult(map[string]any{"instantiated": name, "assetPath": asset}), nil

	case strings.Contains(code, "DestroyImmediate"):
		name := extractBetween(code, `GameObject.Find(@"`, `")`)
		if name == "" {
			return failResult("no object name found in snippet"), nil
		}
		found := r.removeSceneObject(name)
		return okResult(map[string]any{"destroyed": name, "found": found}), nil

	default:
		return okResult(map[string]any{"executed": true}), nil
	}
}

func (r *responder) createPrimitive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, handled := r.forward(ctx, r.blenderURL, req); handled {
		return res, nil
	}

	kind, err := req.RequireString("kind")
	if err != nil {
		return failResult("blender_modeling_create_primitive requires a kind string"), nil
	}
	kind = strings.ToLower(kind)
	if !primitiveKinds[kind] {
		return failResult("unsupported primitive kind: %s", kind), nil
	}

	size := 1.0
	if params, ok := req.GetArguments()["params"].(map[string]any); ok {
		if v, ok := params["size"].(float64); ok && v > 0 {
			size = v
		}
	}

	name := req.GetString("name", "")
	if name == "" {
		name = "Mock" + strings.ToUpper(kind[:1]) + kind[1:]
	}
	r.addModelerObject(name)

	return okResult(map[string]any{"object": name, "kind": kind, "size": size}), nil
}

func (r *responder) blenderCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res, handled := r.forward(ctx, r.blenderURL, req); handled {
		return res, nil
	}

	fn, err := req.RequireString("function")
	if err != nil {
		return failResult("blender_call requires a function string"), nil
	}
	params, _ := req.GetArguments()["params"].(map[string]any)

	switch fn {
	case "export_fbx":
		path, _ := params["path"].(string)
		if path == "" {
			return failResult("export_fbx requires params.path"), nil
		}
		r.mu.Lock()
		objects := len(r.modelerObjects)
		r.mu.Unlock()
		return okResult(map[string]any{
			"path":    path,
			"objects": objects,
			"bytes":   1024 + 512*objects,
		}), nil

	default:
		return failResult("unknown modeler function: %s", fn), nil
	}
}

// forward relays a call to a bridge when its URL is configured. The
// bridge reply is passed through as the adapter envelope; transport
// failures become an error envelope rather than an MCP-level error.
func (r *responder) forward(ctx context.Context, url string, req mcp.CallToolRequest) (*mcp.CallToolResult, bool) {
	if url == "" {
		return nil, false
	}
	res, err := callBridge(ctx, url, req.Params.Name, req.GetArguments())
	if err != nil {
		r.log.Warn("bridge forward failed",
			zap.String("tool", req.Params.Name),
			zap.String("url", url),
			zap.Error(err))
		return failResult("bridge call failed: %v", err), true
	}
	return res, true
}

func (r *responder) addSceneObject(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sceneObjects {
		if existing == name {
			return
		}
	}
	r.sceneObjects = append(r.sceneObjects, name)
}

func (r *responder) removeSceneObject(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.sceneObjects {
		if existing == name {
			r.sceneObjects = append(r.sceneObjects[:i], r.sceneObjects[i+1:]...)
			return true
		}
	}
	return false
}

func (r *responder) addModelerObject(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelerObjects = append(r.modelerObjects, name)
}

// objectNameForAsset mirrors how the engine names an instantiated asset:
// the file name without its extension.
func objectNameForAsset(assetPath string) string {
	base := filepath.Base(assetPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// extractBetween returns the text between the first occurrence of open
// and the next close, or "" when either marker is missing.
func extractBetween(s, open, close string) string {
	start := strings.Index(s, open)
	if start < 0 {
		return ""
	}
	rest := s[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
