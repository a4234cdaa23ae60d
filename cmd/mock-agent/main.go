// Package main implements a mock AI CLI speaking the gateway's
// stdin/stdout line protocol. It answers prompts with token lines, emits
// scripted tool_call lines for recognizable requests and consumes the
// tool_result injections, so the full agent loop can be exercised with
// no real model and no real bridges.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func main() {
	if prompt, ok := parseOneShotPrompt(os.Args); ok {
		runOneShot(prompt)
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if in := decodeIncoming(line); in != nil {
			// A tool_result with no pending call; drop it.
			continue
		}
		handlePrompt(enc, scanner, line)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: scanner error: %v\n", err)
		os.Exit(1)
	}
}

// parseOneShotPrompt extracts the -p <prompt> one-shot invocation.
func parseOneShotPrompt(args []string) (string, bool) {
	for i := 1; i < len(args); i++ {
		if args[i] == "-p" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

// runOneShot prints a deterministic answer for the prompt and exits. Used
// by the context generator, which wants output, not a conversation.
func runOneShot(prompt string) {
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(token("Considering: " + firstLine(prompt)))
	_ = enc.Encode(final(oneShotAnswer(prompt)))
}

func oneShotAnswer(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "context"):
		return `{"summary": "Mock working context.", "focus": "keep building the scene", "constraints": []}`
	case strings.Contains(lower, "plan"):
		return "1. Create the base geometry\n2. Export it\n3. Place it in the scene"
	default:
		return "Mock answer: " + firstLine(prompt)
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// decodeIncoming returns the parsed tool_result when the line is an
// injection, nil when it is a plain user prompt.
func decodeIncoming(line string) *toolResult {
	if !strings.HasPrefix(line, "{") {
		return nil
	}
	var in incomingLine
	if err := json.Unmarshal([]byte(line), &in); err != nil {
		return nil
	}
	return in.ToolResult
}
