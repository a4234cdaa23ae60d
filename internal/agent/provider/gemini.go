package provider

import (
	"encoding/json"
	"strings"
)

var _ Adapter = (*Gemini)(nil)

// Gemini parses the stream-json output of the gemini CLI. Lines that do
// not decode as JSON objects pass through as tokens, which keeps plain
// prose from the model readable in the chat.
type Gemini struct{}

func NewGemini() *Gemini { return &Gemini{} }

func (*Gemini) Name() string { return "gemini" }

type geminiLine struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Args  map[string]any `json:"args"`
	Error string         `json:"error"`
}

func (*Gemini) ParseLine(line string) *Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return &Event{Kind: EventToken, Text: line, Raw: line}
	}

	var parsed geminiLine
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return &Event{Kind: EventToken, Text: line, Raw: line}
	}

	switch parsed.Type {
	case "token":
		return &Event{Kind: EventToken, Text: parsed.Text, Raw: line}
	case "tool_call":
		return &Event{Kind: EventToolCall, Name: parsed.Name, Args: parsed.Args, Raw: line}
	case "final":
		return &Event{Kind: EventFinal, Text: parsed.Text, Raw: line}
	case "error":
		msg := parsed.Error
		if msg == "" {
			msg = parsed.Text
		}
		return &Event{Kind: EventError, Text: msg, Raw: line}
	default:
		// Unknown typed lines stay visible rather than vanishing.
		return &Event{Kind: EventToken, Text: line, Raw: line}
	}
}
