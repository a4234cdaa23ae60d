package main

import (
	"bufio"
	"encoding/json"
	"strings"
)

// handlePrompt routes one user prompt to a scripted scenario. Matching is
// by keyword so interactive dev sessions behave predictably: "create a
// cube" calls the modeler, "take a screenshot" calls the engine, and so
// on. Anything unrecognized is answered with plain tokens.
func handlePrompt(enc *json.Encoder, scanner *bufio.Scanner, prompt string) {
	lower := strings.ToLower(prompt)

	switch {
	case strings.Contains(lower, "fail"), strings.Contains(lower, "crash"):
		runErrorScenario(enc)
	case strings.Contains(lower, "ping"):
		runPingScenario(enc, scanner)
	case strings.Contains(lower, "build") && strings.Contains(lower, "scene"):
		runBuildSceneScenario(enc, scanner, lower)
	case strings.Contains(lower, "screenshot"), strings.Contains(lower, "capture"):
		runScreenshotScenario(enc, scanner)
	case strings.Contains(lower, "hierarchy"), strings.Contains(lower, "scene"):
		runHierarchyScenario(enc, scanner)
	case strings.Contains(lower, "prefab"), strings.Contains(lower, "instantiate"):
		runPrefabScenario(enc, scanner, prompt)
	case strings.Contains(lower, "export"):
		runExportScenario(enc, scanner, prompt)
	case containsPrimitive(lower):
		runPrimitiveScenario(enc, scanner, lower)
	default:
		runEchoScenario(enc, prompt)
	}
}

var primitiveKinds = []string{"cube", "sphere", "plane", "cylinder", "cone"}

func containsPrimitive(lower string) bool {
	return primitiveKind(lower) != ""
}

// primitiveKind picks the first primitive named in the prompt.
func primitiveKind(lower string) string {
	for _, kind := range primitiveKinds {
		if strings.Contains(lower, kind) {
			return kind
		}
	}
	if strings.Contains(lower, "primitive") {
		return "cube"
	}
	return ""
}

// extractPathWithExt returns the first whitespace-separated word in the
// prompt ending with ext, quotes stripped.
func extractPathWithExt(prompt, ext string) string {
	for _, word := range strings.Fields(prompt) {
		word = strings.Trim(word, `"'`+"`,.;:")
		if strings.HasSuffix(strings.ToLower(word), ext) {
			return word
		}
	}
	return ""
}
