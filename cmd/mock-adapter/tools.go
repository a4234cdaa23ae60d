package main

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
)

func registerTools(s *server.MCPServer, r *responder, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("ping",
			mcp.WithDescription("Round-trip liveness check."),
		),
		logCalls("ping", log, r.ping),
	)

	s.AddTool(
		mcp.NewTool("unity_get_scene_hierarchy",
			mcp.WithDescription("Return the engine scene hierarchy as a node tree."),
		),
		logCalls("unity_get_scene_hierarchy", log, r.sceneHierarchy),
	)

	s.AddTool(
		mcp.NewTool("unity_capture_screenshot",
			mcp.WithDescription("Capture a screenshot of the engine game view."),
			mcp.WithString("name",
				mcp.Description("Optional file name hint"),
			),
		),
		logCalls("unity_capture_screenshot", log, r.captureScreenshot),
	)

	s.AddTool(
		mcp.NewTool("unity_command",
			mcp.WithDescription("Execute an editor C# snippet in the engine."),
			mcp.WithString("code",
				mcp.Required(),
				mcp.Description("The snippet to run"),
			),
		),
		logCalls("unity_command", log, r.unityCommand),
	)

	s.AddTool(
		mcp.NewTool("blender_modeling_create_primitive",
			mcp.WithDescription("Add a primitive mesh to the modeler scene."),
			mcp.WithString("kind",
				mcp.Required(),
				mcp.Description("Primitive kind: cube, sphere, plane, cylinder or cone"),
			),
			mcp.WithObject("params",
				mcp.Description("Primitive parameters"),
				mcp.Properties(map[string]any{
					"size": map[string]any{"type": "number", "description": "Edge or diameter in scene units"},
				}),
			),
			mcp.WithString("name",
				mcp.Description("Optional object name"),
			),
		),
		logCalls("blender_modeling_create_primitive", log, r.createPrimitive),
	)

	s.AddTool(
		mcp.NewTool("blender_call",
			mcp.WithDescription("Invoke a named modeler function, e.g. export_fbx."),
			mcp.WithString("function",
				mcp.Required(),
				mcp.Description("The modeler function name"),
			),
			mcp.WithObject("params",
				mcp.Description("Function parameters"),
			),
		),
		logCalls("blender_call", log, r.blenderCall),
	)

	log.Info("registered adapter tools", zap.Int("count", 6))
}

// logCalls wraps a handler with per-call debug logging.
func logCalls(name string, log *logger.Logger, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := handler(ctx, req)
		log.Debug("tool call",
			zap.String("tool", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return res, err
	}
}
