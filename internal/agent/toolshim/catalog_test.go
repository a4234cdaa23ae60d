package toolshim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/mcp"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func builtin(t *testing.T) *Catalog {
	c, err := LoadCatalog("", newTestLogger(t))
	if err != nil {
		t.Fatalf("failed to load built-in catalog: %v", err)
	}
	return c
}

func TestBuiltinCatalogCoversAdapterSurface(t *testing.T) {
	c := builtin(t)

	expected := []string{
		mcp.ToolPing,
		mcp.ToolSceneHierarchy,
		mcp.ToolCaptureScreenshot,
		mcp.ToolUnityCommand,
		mcp.ToolInstantiatePrefab,
		mcp.ToolCreatePrimitive,
		mcp.ToolBlenderCall,
		mcp.ToolExportFBX,
	}
	for _, name := range expected {
		if !c.Allowed(name) {
			t.Errorf("built-in catalog is missing %s", name)
		}
	}
	if c.Allowed("fs_delete") {
		t.Error("catalog allows a tool it never declared")
	}
	if got := len(c.Names()); got != len(expected) {
		t.Errorf("expected %d tools, got %d: %v", len(expected), got, c.Names())
	}
}

func TestValidateAcceptsWellFormedArgs(t *testing.T) {
	c := builtin(t)

	cases := []struct {
		name string
		args map[string]any
	}{
		{mcp.ToolPing, nil},
		{mcp.ToolSceneHierarchy, map[string]any{}},
		{mcp.ToolUnityCommand, map[string]any{"code": "Debug.Log(1);"}},
		{mcp.ToolInstantiatePrefab, map[string]any{"assetPath": "Assets/Prefabs/Robot.prefab"}},
		{mcp.ToolCreatePrimitive, map[string]any{"kind": "cube", "params": map[string]any{"size": 2.0}}},
		{mcp.ToolExportFBX, map[string]any{"path": "/tmp/out.fbx"}},
	}
	for _, tc := range cases {
		if err := c.Validate(tc.name, tc.args); err != nil {
			t.Errorf("Validate(%s) rejected valid args: %v", tc.name, err)
		}
	}
}

func TestValidateRejectsUnknownTool(t *testing.T) {
	c := builtin(t)

	err := c.Validate("rm_rf", nil)
	if !apperr.IsKind(err, apperr.KindToolNotAllowed) {
		t.Fatalf("expected tool_not_allowed, got %v", err)
	}
}

func TestValidateRejectsSchemaViolations(t *testing.T) {
	c := builtin(t)

	cases := []struct {
		name string
		args map[string]any
	}{
		{mcp.ToolUnityCommand, nil},
		{mcp.ToolUnityCommand, map[string]any{"code": 42}},
		{mcp.ToolUnityCommand, map[string]any{"code": ""}},
		{mcp.ToolCreatePrimitive, map[string]any{}},
		{mcp.ToolExportFBX, map[string]any{"path": 7}},
	}
	for _, tc := range cases {
		err := c.Validate(tc.name, tc.args)
		if !apperr.IsKind(err, apperr.KindSchemaViolation) {
			t.Errorf("Validate(%s, %v): expected schema_violation, got %v", tc.name, tc.args, err)
		}
	}
}

func TestLoadCatalogFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `functionSchema:
  - name: unity_command
    description: Run a C# snippet.
    parameters:
      type: object
      required: [code]
      properties:
        code:
          type: string
  - name: scene_snapshot
    parameters:
      type: object
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	c, err := LoadCatalog(path, newTestLogger(t))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if !c.Allowed("scene_snapshot") || !c.Allowed("unity_command") {
		t.Fatalf("catalog did not pick up the file's tools: %v", c.Names())
	}
	if c.Allowed(mcp.ToolExportFBX) {
		t.Error("file catalog should replace the built-in whitelist, not extend it")
	}
	if err := c.Validate("unity_command", map[string]any{}); !apperr.IsKind(err, apperr.KindSchemaViolation) {
		t.Errorf("expected schema_violation for missing code, got %v", err)
	}
	if err := c.Validate("unity_command", map[string]any{"code": "x"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
}

func TestLoadCatalogFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	content := `{
  "functionSchema": [
    {
      "name": "blender_call",
      "parameters": {
        "type": "object",
        "required": ["function"],
        "properties": {"function": {"type": "string"}}
      }
    }
  ]
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	c, err := LoadCatalog(path, newTestLogger(t))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if err := c.Validate("blender_call", map[string]any{"function": "export_fbx"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := c.Validate("blender_call", map[string]any{"function": 3}); !apperr.IsKind(err, apperr.KindSchemaViolation) {
		t.Errorf("expected schema_violation, got %v", err)
	}
}

func TestLoadCatalogRejectsBadFiles(t *testing.T) {
	log := newTestLogger(t)

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"), log); !apperr.IsKind(err, apperr.KindConfigInvalid) {
		t.Errorf("missing file: expected config_invalid, got %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(empty, []byte(`{"functionSchema": []}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(empty, log); !apperr.IsKind(err, apperr.KindConfigInvalid) {
		t.Errorf("empty catalog: expected config_invalid, got %v", err)
	}

	dup := filepath.Join(t.TempDir(), "dup.json")
	dupContent := `{"functionSchema": [{"name": "ping", "parameters": {"type": "object"}}, {"name": "ping", "parameters": {"type": "object"}}]}`
	if err := os.WriteFile(dup, []byte(dupContent), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(dup, log); !apperr.IsKind(err, apperr.KindConfigInvalid) {
		t.Errorf("duplicate names: expected config_invalid, got %v", err)
	}
}

func TestValidateFallsBackToRequiredChecks(t *testing.T) {
	entries := []CatalogEntry{{
		Name: "broken_schema_tool",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"target"},
			"properties": map[string]any{
				"target": map[string]any{"type": "not-a-json-type"},
			},
		},
	}}
	c, err := newCatalog(entries, newTestLogger(t))
	if err != nil {
		t.Fatalf("newCatalog: %v", err)
	}

	if err := c.Validate("broken_schema_tool", map[string]any{}); !apperr.IsKind(err, apperr.KindSchemaViolation) {
		t.Errorf("expected required-field fallback to reject, got %v", err)
	}
	if err := c.Validate("broken_schema_tool", map[string]any{"target": "cube"}); err != nil {
		t.Errorf("fallback rejected present field: %v", err)
	}
}
