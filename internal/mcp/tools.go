package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agpstudio/agp/internal/common/apperr"
)

// Adapter tool names. The two composite tools do not exist on the
// adapter; Invoke lowers them onto unity_command and blender_call.
const (
	ToolPing              = "ping"
	ToolSceneHierarchy    = "unity_get_scene_hierarchy"
	ToolCaptureScreenshot = "unity_capture_screenshot"
	ToolUnityCommand      = "unity_command"
	ToolInstantiatePrefab = "unity_instantiate_prefab"
	ToolCreatePrimitive   = "blender_modeling_create_primitive"
	ToolBlenderCall       = "blender_call"
	ToolExportFBX         = "blender_export_fbx"
)

// Invoke routes a catalog tool name to its handler. Composite tools are
// rewritten into the adapter calls that implement them; plain adapter
// tools pass straight through.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any, correlationID string) (*ToolResult, error) {
	switch name {
	case ToolInstantiatePrefab:
		assetPath, ok := args["assetPath"].(string)
		if !ok || assetPath == "" {
			return nil, apperr.SchemaViolation("%s requires an assetPath string", name)
		}
		return c.RunTool(ctx, ToolUnityCommand, map[string]any{"code": instantiateCode(assetPath)}, correlationID)

	case ToolExportFBX:
		path, ok := args["path"].(string)
		if !ok || path == "" {
			return nil, apperr.SchemaViolation("%s requires a path string", name)
		}
		return c.RunTool(ctx, ToolBlenderCall, exportArgs(path), correlationID)

	default:
		return c.RunTool(ctx, name, args, correlationID)
	}
}

// CreatePrimitive adds a primitive mesh to the modeler scene.
func (c *Client) CreatePrimitive(ctx context.Context, kind string, size float64, name string) (*ToolResult, error) {
	args := map[string]any{
		"kind":   kind,
		"params": map[string]any{"size": size},
	}
	if name != "" {
		args["name"] = name
	}
	return c.RunTool(ctx, ToolCreatePrimitive, args, "")
}

// ExportFBX writes the modeler scene to the given file.
func (c *Client) ExportFBX(ctx context.Context, path string) (*ToolResult, error) {
	return c.RunTool(ctx, ToolBlenderCall, exportArgs(path), "")
}

// InstantiatePrefab loads an asset into the engine scene. The instance
// takes the asset's base name, which revert relies on.
func (c *Client) InstantiatePrefab(ctx context.Context, assetPath string) (*ToolResult, error) {
	return c.RunTool(ctx, ToolUnityCommand, map[string]any{"code": instantiateCode(assetPath)}, "")
}

// GetSceneHierarchy returns the engine's current scene tree.
func (c *Client) GetSceneHierarchy(ctx context.Context) (*ToolResult, error) {
	return c.RunTool(ctx, ToolSceneHierarchy, map[string]any{}, "")
}

// CaptureScreenshot asks the engine for a screenshot of the game view.
func (c *Client) CaptureScreenshot(ctx context.Context) (*ToolResult, error) {
	return c.RunTool(ctx, ToolCaptureScreenshot, map[string]any{}, "")
}

// DestroyObject removes a named object from the engine scene.
func (c *Client) DestroyObject(ctx context.Context, objectName string) (*ToolResult, error) {
	return c.RunTool(ctx, ToolUnityCommand, map[string]any{"code": DestroyObjectCode(objectName)}, "")
}

// DestroyObjectCode builds the editor snippet that removes a named
// object from the scene, used both by DestroyObject and by plan revert.
func DestroyObjectCode(objectName string) string {
	return fmt.Sprintf(`var go = GameObject.Find(@"%s");
if (go != null) UnityEngine.Object.DestroyImmediate(go);`, objectName)
}

// SceneAffecting reports whether a successful run of the tool changes or
// reports the engine scene. Publishers use it to decide when a scene
// envelope is due.
func SceneAffecting(name string) bool {
	switch name {
	case ToolSceneHierarchy, ToolUnityCommand, ToolInstantiatePrefab:
		return true
	}
	return false
}

// ObjectNameForAsset derives the scene name the engine gives an
// instantiated asset: the file name without its extension.
func ObjectNameForAsset(assetPath string) string {
	base := filepath.Base(assetPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func instantiateCode(assetPath string) string {
	return fmt.Sprintf(`var prefab = AssetDatabase.LoadAssetAtPath<GameObject>(@"%s");
if (prefab == null) throw new System.Exception(@"asset not found: %s");
PrefabUtility.InstantiatePrefab(prefab);`, assetPath, assetPath)
}

func exportArgs(path string) map[string]any {
	return map[string]any{
		"function": "export_fbx",
		"params":   map[string]any{"path": path},
	}
}
