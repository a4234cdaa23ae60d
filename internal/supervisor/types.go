// Package supervisor launches and tracks the external processes that serve
// a project: the engine, the modeler, their bridge servers and the MCP
// adapter. It owns sequenced startup with port preflights, captured output
// tails, graceful stop with kill escalation and the advisory adapter
// lockfile.
package supervisor

import "time"

// Managed process names, in the order StartSequence launches them.
const (
	ProcessEngine        = "engine"
	ProcessEngineBridge  = "engine_bridge"
	ProcessModeler       = "modeler"
	ProcessModelerBridge = "modeler_bridge"
	ProcessMCPAdapter    = "mcp_adapter"
)

const (
	// DefaultRingSize bounds each captured output stream.
	DefaultRingSize = 10 * 1024

	// DefaultStartTimeout bounds the wait for a process's port to accept
	// connections after launch.
	DefaultStartTimeout = 30 * time.Second

	// DefaultStopGrace is the wait between terminate and kill when the
	// settings do not say otherwise.
	DefaultStopGrace = 5 * time.Second

	// preflightTimeout bounds the TCP connect probe before each step.
	preflightTimeout = 500 * time.Millisecond

	// killWait bounds the wait for the process to disappear after a kill.
	killWait = 2 * time.Second
)

// Spec describes how to launch one managed process.
type Spec struct {
	Name         string
	Command      string
	Args         []string
	Env          map[string]string // overlaid on the parent environment
	Dir          string
	Port         int // preflighted and awaited when non-zero
	Optional     bool
	StartTimeout time.Duration
	StopGrace    time.Duration
}

// Status is a point-in-time snapshot of one managed process.
type Status struct {
	Name           string    `json:"name"`
	Running        bool      `json:"running"`
	PID            int       `json:"pid,omitempty"`
	ReturnCode     *int      `json:"returnCode,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	LastOutputTail string    `json:"lastOutputTail,omitempty"`
	LastErrorTail  string    `json:"lastErrorTail,omitempty"`
}

// OutputEvent is the bus payload for process.output subjects.
type OutputEvent struct {
	Process string `json:"process"`
	Stream  string `json:"stream"`
	Line    string `json:"line"`
}

// StatusEvent is the bus payload for process.status subjects.
type StatusEvent struct {
	Process    string `json:"process"`
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	ReturnCode *int   `json:"returnCode,omitempty"`
}

// StepResult records the outcome of one step of a start sequence.
type StepResult struct {
	Name    string `json:"name"`
	Started bool   `json:"started"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SequenceReport is the outcome of a full start sequence. Optional steps
// that failed appear with their error but do not fail the sequence.
type SequenceReport struct {
	ProjectID string       `json:"projectId"`
	Steps     []StepResult `json:"steps"`
}
