// Package toolshim sits between a running agent session and the MCP
// adapter. It owns the tool catalog (whitelist plus argument schemas),
// enforces the per-turn call budget, records tool calls on the project
// timeline and injects tool results back into the agent's stdin.
package toolshim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/mcp"
)

// CatalogEntry describes one callable tool: its name, an optional
// human-readable description and a JSON schema for its arguments.
type CatalogEntry struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
}

// catalogFile is the on-disk shape of a catalog file.
type catalogFile struct {
	FunctionSchema []CatalogEntry `json:"functionSchema" yaml:"functionSchema"`
}

type compiledEntry struct {
	entry    CatalogEntry
	schema   *jsonschema.Schema
	required []string
}

// Catalog is the set of tools an agent is allowed to call. Argument
// schemas are compiled once at load time; entries whose schema fails to
// compile degrade to a plain required-field check.
type Catalog struct {
	entries map[string]*compiledEntry
	order   []string
}

// LoadCatalog reads a catalog file (YAML or JSON, picked by extension)
// and compiles the argument schemas. An empty path selects the built-in
// catalog covering the adapter's stock tool surface.
func LoadCatalog(path string, log *logger.Logger) (*Catalog, error) {
	if path == "" {
		return newCatalog(builtinCatalog(), log)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, err, "failed to read tool catalog %s", path)
	}

	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &file)
	default:
		err = json.Unmarshal(raw, &file)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, err, "failed to parse tool catalog %s", path)
	}
	if len(file.FunctionSchema) == 0 {
		return nil, apperr.ConfigInvalid("tool catalog %s declares no tools under functionSchema", path)
	}
	return newCatalog(file.FunctionSchema, log)
}

func newCatalog(entries []CatalogEntry, log *logger.Logger) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*compiledEntry, len(entries))}
	for _, entry := range entries {
		if entry.Name == "" {
			return nil, apperr.ConfigInvalid("tool catalog entry is missing a name")
		}
		if _, dup := c.entries[entry.Name]; dup {
			return nil, apperr.ConfigInvalid("tool catalog declares %s twice", entry.Name)
		}
		ce := &compiledEntry{entry: entry, required: requiredFields(entry.Parameters)}
		if schema, err := compileParameters(entry.Name, entry.Parameters); err != nil {
			if log != nil {
				log.Warn("tool schema failed to compile, falling back to required-field checks",
					zap.String("tool", entry.Name), zap.Error(err))
			}
		} else {
			ce.schema = schema
		}
		c.entries[entry.Name] = ce
		c.order = append(c.order, entry.Name)
	}
	sort.Strings(c.order)
	return c, nil
}

func compileParameters(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString(name+".schema.json", string(raw))
}

func requiredFields(params map[string]any) []string {
	raw, ok := params["required"].([]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(raw))
	for _, item := range raw {
		if field, ok := item.(string); ok {
			fields = append(fields, field)
		}
	}
	return fields
}

// Allowed reports whether the tool is in the catalog.
func (c *Catalog) Allowed(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Names returns the catalog's tool names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Entries returns the catalog entries in sorted name order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].entry)
	}
	return out
}

// Validate checks a tool call's arguments against the catalog. It
// returns a ToolNotAllowed error for unknown tools and a
// SchemaViolation error when the arguments do not satisfy the schema.
func (c *Catalog) Validate(name string, args map[string]any) error {
	ce, ok := c.entries[name]
	if !ok {
		return apperr.ToolNotAllowed("tool %s is not in the catalog", name)
	}

	if ce.schema != nil {
		decoded, err := normalizeArgs(args)
		if err != nil {
			return apperr.Wrap(apperr.KindSchemaViolation, err, "arguments for %s are not valid JSON", name)
		}
		if err := ce.schema.Validate(decoded); err != nil {
			return apperr.Wrap(apperr.KindSchemaViolation, err, "arguments for %s violate the tool schema", name)
		}
		return nil
	}

	for _, field := range ce.required {
		if _, present := args[field]; !present {
			return apperr.SchemaViolation("arguments for %s are missing required field %q", name, field)
		}
	}
	return nil
}

// normalizeArgs round-trips the arguments through encoding/json so the
// schema validator sees plain decoded JSON values regardless of how the
// map was built.
func normalizeArgs(args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{"type": "object"}
	if len(properties) > 0 {
		schema["properties"] = properties
	}
	if len(required) > 0 {
		items := make([]any, len(required))
		for i, field := range required {
			items[i] = field
		}
		schema["required"] = items
	}
	return schema
}

func builtinCatalog() []CatalogEntry {
	return []CatalogEntry{
		{
			Name:        mcp.ToolPing,
			Description: "Round-trip liveness check answered by the backend itself.",
			Parameters:  objectSchema(nil, nil),
		},
		{
			Name:        mcp.ToolSceneHierarchy,
			Description: "Return the Unity scene hierarchy as a node tree.",
			Parameters:  objectSchema(nil, nil),
		},
		{
			Name:        mcp.ToolCaptureScreenshot,
			Description: "Capture a screenshot of the Unity game view.",
			Parameters: objectSchema(nil, map[string]any{
				"name": map[string]any{"type": "string"},
			}),
		},
		{
			Name:        mcp.ToolUnityCommand,
			Description: "Execute a C# snippet inside the Unity editor.",
			Parameters: objectSchema([]string{"code"}, map[string]any{
				"code": map[string]any{"type": "string", "minLength": 1},
			}),
		},
		{
			Name:        mcp.ToolInstantiatePrefab,
			Description: "Instantiate a prefab asset in the open Unity scene.",
			Parameters: objectSchema([]string{"assetPath"}, map[string]any{
				"assetPath": map[string]any{"type": "string", "minLength": 1},
			}),
		},
		{
			Name:        mcp.ToolCreatePrimitive,
			Description: "Create a primitive mesh in the Blender scene.",
			Parameters: objectSchema([]string{"kind"}, map[string]any{
				"kind": map[string]any{"type": "string", "minLength": 1},
				"params": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"size": map[string]any{"type": "number"},
					},
				},
				"name": map[string]any{"type": "string"},
			}),
		},
		{
			Name:        mcp.ToolBlenderCall,
			Description: "Call a function exposed by the Blender add-on.",
			Parameters: objectSchema([]string{"function"}, map[string]any{
				"function": map[string]any{"type": "string", "minLength": 1},
				"params":   map[string]any{"type": "object"},
			}),
		},
		{
			Name:        mcp.ToolExportFBX,
			Description: "Export the Blender scene to an FBX file.",
			Parameters: objectSchema([]string{"path"}, map[string]any{
				"path": map[string]any{"type": "string", "minLength": 1},
			}),
		},
	}
}
