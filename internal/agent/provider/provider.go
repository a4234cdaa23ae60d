// Package provider turns the raw stdout lines of AI CLI subprocesses into
// a neutral event stream. Each provider implements the Adapter interface
// in its own file; the session feeds lines in and hands tool_call events
// to the shim.
package provider

// EventKind classifies one demultiplexed unit of provider output.
type EventKind string

const (
	EventToken    EventKind = "token"
	EventToolCall EventKind = "tool_call"
	EventFinal    EventKind = "final"
	EventError    EventKind = "error"
)

// Event is one parsed unit of provider output. Raw always carries the
// originating line.
type Event struct {
	Kind EventKind      `json:"kind"`
	Text string         `json:"text,omitempty"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
	Raw  string         `json:"-"`
}

// Adapter parses one provider's stdout lines. ParseLine returns nil for
// lines that yield no event.
type Adapter interface {
	Name() string
	ParseLine(line string) *Event
}
