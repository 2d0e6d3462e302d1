package session

// StepKind selects a stepping granularity.
type StepKind int

const (
	// StepOver runs to the next statement in the current frame.
	StepOver StepKind = iota
	// StepInto descends into calls.
	StepInto
	// StepOut runs until the current frame returns.
	StepOut
)

// String returns a string representation of the step kind.
func (k StepKind) String() string {
	switch k {
	case StepOver:
		return "step-over"
	case StepInto:
		return "step-into"
	case StepOut:
		return "step-out"
	default:
		return "unknown"
	}
}

// Variable is one entry of a variable snapshot.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Frame is one call stack entry, innermost first.
type Frame struct {
	Name   string `json:"name"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// EventKind classifies interpreter execution events.
type EventKind int

const (
	// EventLine fires when execution reaches a new statement.
	EventLine EventKind = iota
	// EventStepComplete fires when a requested step finishes.
	EventStepComplete
	// EventPaused fires when a cooperative pause takes effect.
	EventPaused
	// EventException fires on an unhandled script error.
	EventException
	// EventExited fires when the program finishes.
	EventExited
)

// Event is one execution event from the interpreter. Events arrive on
// a single channel and the session is their only consumer.
type Event struct {
	Kind     EventKind
	Address  int64
	File     string
	Line     int
	ExitCode int
	Message  string
}

// Interpreter is the execution engine the session drives. The session
// treats it as an opaque service; any engine exposing this surface can
// be debugged.
type Interpreter interface {
	// Start begins program execution.
	Start() error

	// Resume continues a paused program.
	Resume() error

	// Pause requests cooperative interruption. The actual stop point
	// is determined by the execution layer, not the session.
	Pause() error

	// Step performs one step of the given kind from a paused state.
	Step(kind StepKind) error

	// Terminate stops the program.
	Terminate() error

	// LocalVariables snapshots the current frame's variables.
	LocalVariables() ([]Variable, error)

	// GlobalVariables snapshots the global environment.
	GlobalVariables() ([]Variable, error)

	// CallStack returns the current call stack, innermost first.
	CallStack() ([]Frame, error)

	// EvaluateExpression evaluates source text in the current context.
	EvaluateExpression(expr string) (string, error)

	// MemoryValue reads size bytes at the given address.
	MemoryValue(address int64, size int) ([]byte, error)

	// Events is the inbound execution event channel.
	Events() <-chan Event
}
