package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// awaitToolResult blocks until the gateway injects a tool_result line.
// User prompts arriving in between are skipped; the host serializes turns
// so this only happens when a client misbehaves. Name-tagged results for
// a different tool are skipped too; untagged ones (budget rejections)
// match any pending call. Returns nil on EOF.
func awaitToolResult(scanner *bufio.Scanner, name string) *toolResult {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res := decodeIncoming(line)
		if res == nil {
			continue
		}
		if res.Name != "" && res.Name != name {
			continue
		}
		return res
	}
	return nil
}

// callTool emits a tool_call line and waits for its result.
func callTool(enc *json.Encoder, scanner *bufio.Scanner, name string, args map[string]any) *toolResult {
	_ = enc.Encode(toolCall(name, args))
	return awaitToolResult(scanner, name)
}

// describeResult renders a one-line summary of a tool result for tokens.
func describeResult(res *toolResult) string {
	switch {
	case res == nil:
		return "no result arrived"
	case !res.OK:
		return "the tool failed: " + res.Error
	case len(res.Result) == 0:
		return "the tool reported success"
	default:
		raw, err := json.Marshal(res.Result)
		if err != nil {
			return "the tool reported success"
		}
		return "the tool returned " + firstLine(string(raw))
	}
}

func runEchoScenario(enc *json.Encoder, prompt string) {
	_ = enc.Encode(token("You said: " + firstLine(prompt)))
	_ = enc.Encode(token("I have no tool to run for that."))
	_ = enc.Encode(final("Echoed your message. Try asking for a cube, a screenshot or the scene hierarchy."))
}

func runErrorScenario(enc *json.Encoder) {
	_ = enc.Encode(token("Simulating a provider failure..."))
	_ = enc.Encode(errorEvent("mock provider failure"))
}

func runPingScenario(enc *json.Encoder, scanner *bufio.Scanner) {
	res := callTool(enc, scanner, "ping", map[string]any{})
	_ = enc.Encode(final("Ping: " + describeResult(res)))
}

func runPrimitiveScenario(enc *json.Encoder, scanner *bufio.Scanner, lower string) {
	kind := primitiveKind(lower)
	_ = enc.Encode(token(fmt.Sprintf("Creating a %s in the modeler...", kind)))
	res := callTool(enc, scanner, "blender_modeling_create_primitive", map[string]any{
		"kind":   kind,
		"params": map[string]any{"size": 1.0},
	})
	if res == nil || !res.OK {
		_ = enc.Encode(final(fmt.Sprintf("Could not create the %s: %s", kind, describeResult(res))))
		return
	}
	_ = enc.Encode(token(describeResult(res)))
	_ = enc.Encode(final(fmt.Sprintf("Created a %s.", kind)))
}

func runPrefabScenario(enc *json.Encoder, scanner *bufio.Scanner, prompt string) {
	assetPath := extractPathWithExt(prompt, ".prefab")
	if assetPath == "" {
		assetPath = "Assets/Prefabs/MockCrate.prefab"
	}
	_ = enc.Encode(token("Instantiating " + assetPath + " in the engine scene..."))
	res := callTool(enc, scanner, "unity_instantiate_prefab", map[string]any{"assetPath": assetPath})
	if res == nil || !res.OK {
		_ = enc.Encode(final("Prefab instantiation failed: " + describeResult(res)))
		return
	}
	_ = enc.Encode(final("Instantiated " + assetPath + "."))
}

func runExportScenario(enc *json.Encoder, scanner *bufio.Scanner, prompt string) {
	path := extractPathWithExt(prompt, ".fbx")
	if path == "" {
		path = "artifacts/mock-export.fbx"
	}
	_ = enc.Encode(token("Exporting the modeler scene to " + path + "..."))
	res := callTool(enc, scanner, "blender_export_fbx", map[string]any{"path": path})
	if res == nil || !res.OK {
		_ = enc.Encode(final("Export failed: " + describeResult(res)))
		return
	}
	_ = enc.Encode(final("Exported to " + path + "."))
}

func runScreenshotScenario(enc *json.Encoder, scanner *bufio.Scanner) {
	_ = enc.Encode(token("Capturing the game view..."))
	res := callTool(enc, scanner, "unity_capture_screenshot", map[string]any{})
	_ = enc.Encode(final("Screenshot: " + describeResult(res)))
}

func runHierarchyScenario(enc *json.Encoder, scanner *bufio.Scanner) {
	_ = enc.Encode(token("Reading the engine scene hierarchy..."))
	res := callTool(enc, scanner, "unity_get_scene_hierarchy", map[string]any{})
	_ = enc.Encode(final("Hierarchy: " + describeResult(res)))
}

// runBuildSceneScenario chains two tool calls in one turn, which is the
// quickest way to watch the per-turn budget and the timeline fill up.
func runBuildSceneScenario(enc *json.Encoder, scanner *bufio.Scanner, lower string) {
	kind := primitiveKind(lower)
	if kind == "" {
		kind = "cube"
	}

	_ = enc.Encode(token(fmt.Sprintf("Building a scene: first a %s, then a screenshot.", kind)))
	created := callTool(enc, scanner, "blender_modeling_create_primitive", map[string]any{
		"kind":   kind,
		"params": map[string]any{"size": 1.0},
	})
	if created == nil || !created.OK {
		_ = enc.Encode(final("Scene build stopped: " + describeResult(created)))
		return
	}
	_ = enc.Encode(token("Geometry done, capturing the result..."))

	shot := callTool(enc, scanner, "unity_capture_screenshot", map[string]any{})
	if shot == nil || !shot.OK {
		_ = enc.Encode(final("Built the geometry but the screenshot failed: " + describeResult(shot)))
		return
	}
	_ = enc.Encode(final(fmt.Sprintf("Scene built: one %s, screenshot taken.", kind)))
}
