// Package session implements the debugger's command dispatcher and
// state machine. A session owns its breakpoint registry, sequence
// counter and state; the source map and symbol table are shared
// read-only collaborators populated before debugging starts.
package session

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/scriptdbg/internal/breakpoint"
	"github.com/dshills/scriptdbg/internal/config"
	"github.com/dshills/scriptdbg/internal/debuginfo"
	"github.com/dshills/scriptdbg/internal/protocol"
	"github.com/dshills/scriptdbg/internal/sourcemap"
	"github.com/dshills/scriptdbg/internal/symtab"
)

// State represents the lifecycle state of a debug session.
type State int

const (
	// StateUninitialized is the state before initialize succeeds.
	StateUninitialized State = iota
	// StateInitialized is after initialize, before the program runs.
	StateInitialized
	// StateRunning is while the program executes.
	StateRunning
	// StatePaused is while the program is stopped.
	StatePaused
	// StateTerminated is terminal; the program has ended.
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// canTransition reports whether the state machine allows a move.
func canTransition(from, to State) bool {
	switch from {
	case StateUninitialized:
		return to == StateInitialized
	case StateInitialized:
		// initialize is idempotent; a second call re-runs it.
		return to == StateInitialized || to == StateRunning || to == StateTerminated
	case StateRunning:
		return to == StatePaused || to == StateTerminated
	case StatePaused:
		return to == StateRunning || to == StateTerminated
	case StateTerminated:
		return false
	default:
		return false
	}
}

// Options configures a session.
type Options struct {
	// Config is the session configuration.
	Config config.Config

	// Maps is the source map registry, populated before debugging.
	Maps *sourcemap.Registry

	// Symbols is the symbol table, populated before debugging.
	Symbols *symtab.Table

	// Interpreter executes the program. May be nil; every command
	// except none will then fail with NOT_INITIALIZED until an
	// interpreter is attached and initialize succeeds.
	Interpreter Interpreter

	// Reader reads source files for getSource. Defaults to the file
	// system.
	Reader SourceReader

	// Logger receives internal error logging. Defaults to the
	// standard logger.
	Logger *log.Logger
}

// Session is one client-attached debugging conversation with a single
// interpreter instance.
//
// Requests are processed one at a time to completion; notifications
// are the only asynchronous element and may be sent at any point,
// including mid-handler.
type Session struct {
	id    string
	cfg   config.Config
	codec *protocol.Codec

	maps        *sourcemap.Registry
	symbols     *symtab.Table
	breakpoints *breakpoint.Registry

	interp Interpreter
	reader SourceReader
	logger *log.Logger

	handlers map[string]handlerFunc

	mu          sync.RWMutex
	state       State
	currentFile string
	currentLine int
	currentAddr int64

	notifyMu sync.Mutex
	notify   func(protocol.Notification) error

	pumpOnce sync.Once
	done     chan struct{}
}

// resolver binds breakpoint locations through the source map and
// symbol table.
type resolver struct {
	maps    *sourcemap.Registry
	symbols *symtab.Table
}

func (r resolver) AddressForLine(file string, line int) (int64, bool) {
	return r.maps.AddressForLine(file, line)
}

func (r resolver) FunctionEntry(file string, line int) (int64, bool) {
	fn, ok := r.symbols.FunctionSpanning(file, line)
	if !ok {
		return 0, false
	}
	return fn.StartAddr, true
}

// New creates a session in the uninitialized state.
func New(opts Options) *Session {
	if opts.Maps == nil {
		opts.Maps = sourcemap.NewRegistry()
	}
	if opts.Symbols == nil {
		opts.Symbols = symtab.NewTable()
	}
	if opts.Reader == nil {
		opts.Reader = NewFileSourceReader()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Session{
		id:          uuid.NewString(),
		cfg:         opts.Config,
		codec:       protocol.NewCodec(),
		maps:        opts.Maps,
		symbols:     opts.Symbols,
		interp:      opts.Interpreter,
		reader:      opts.Reader,
		logger:      opts.Logger,
		state:       StateUninitialized,
		currentAddr: -1,
		done:        make(chan struct{}),
	}
	s.breakpoints = breakpoint.NewRegistry(resolver{maps: s.maps, symbols: s.symbols})
	s.handlers = s.commandHandlers()

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Breakpoints exposes the session's breakpoint registry for read-only
// consumers such as the visualizer.
func (s *Session) Breakpoints() *breakpoint.Registry {
	return s.breakpoints
}

// SetInterpreter attaches an execution engine. The session stays
// NOT_INITIALIZED for commands until initialize succeeds.
func (s *Session) SetInterpreter(interp Interpreter) {
	s.mu.Lock()
	s.interp = interp
	s.mu.Unlock()
}

// transition moves the state machine, failing without a state change
// when the move is illegal.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.state, to) {
		return fmt.Errorf("cannot transition from %s to %s: %w", s.state, to, ErrInvalidTransition)
	}
	s.state = to
	return nil
}

// CurrentLocation returns the execution location last reported by the
// interpreter.
func (s *Session) CurrentLocation() (file string, line int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFile, s.currentLine, s.currentFile != ""
}

// setNotify installs the outbound notification sink.
func (s *Session) setNotify(fn func(protocol.Notification) error) {
	s.notifyMu.Lock()
	s.notify = fn
	s.notifyMu.Unlock()
}

// sendNotification builds and delivers a notification. Delivery
// failures are logged, never surfaced to handlers: a slow or broken
// client must not wedge the session.
func (s *Session) sendNotification(command string, body any) {
	note, err := s.codec.NewNotification(command, body)
	if err != nil {
		s.logger.Printf("session %s: build %s notification: %v", s.id, command, err)
		return
	}

	s.notifyMu.Lock()
	fn := s.notify
	s.notifyMu.Unlock()

	if fn == nil {
		return
	}
	if err := fn(note); err != nil {
		s.logger.Printf("session %s: deliver %s notification: %v", s.id, command, err)
	}
}

// stoppedBody is the payload of a stopped notification.
type stoppedBody struct {
	Reason      string `json:"reason"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Breakpoints []int  `json:"hitBreakpointIds,omitempty"`
}

// notifyStopped emits a stopped notification.
func (s *Session) notifyStopped(reason string, hitIDs []int) {
	file, line, _ := s.CurrentLocation()
	s.sendNotification(cmdStopped, stoppedBody{
		Reason:      reason,
		File:        file,
		Line:        line,
		Breakpoints: hitIDs,
	})
}

// pumpEvents consumes interpreter events. The session is the only
// consumer of the event channel.
func (s *Session) pumpEvents() {
	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()
	if interp == nil {
		return
	}

	events := interp.Events()
	if events == nil {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one interpreter execution event to the session.
func (s *Session) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventLine:
		s.handleLineEvent(ev)
	case EventStepComplete:
		s.recordLocation(ev)
		if err := s.transition(StatePaused); err != nil {
			return
		}
		s.notifyStopped(reasonStep, nil)
	case EventPaused:
		s.recordLocation(ev)
		if err := s.transition(StatePaused); err != nil {
			return
		}
		s.notifyStopped(reasonPause, nil)
	case EventException:
		s.recordLocation(ev)
		if err := s.transition(StatePaused); err != nil {
			return
		}
		s.sendNotification(cmdStopped, stoppedBody{
			Reason: reasonException,
			File:   ev.File,
			Line:   ev.Line,
		})
	case EventExited:
		if err := s.transition(StateTerminated); err != nil {
			return
		}
		s.sendNotification(cmdExited, map[string]int{"exitCode": ev.ExitCode})
	}
}

// handleLineEvent consults the breakpoint registry for a stop. Hits
// below a breakpoint's hit count limit are informational and do not
// pause execution.
func (s *Session) handleLineEvent(ev Event) {
	s.recordLocation(ev)

	stopping := s.breakpoints.HitAt(ev.Address)
	if len(stopping) == 0 {
		return
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()
	if interp != nil {
		if err := interp.Pause(); err != nil {
			s.logger.Printf("session %s: pause at breakpoint: %v", s.id, err)
		}
	}

	if err := s.transition(StatePaused); err != nil {
		return
	}

	ids := make([]int, len(stopping))
	for i, bp := range stopping {
		ids[i] = bp.ID
	}
	s.notifyStopped(reasonBreakpoint, ids)
}

// recordLocation notes the interpreter's current source position.
func (s *Session) recordLocation(ev Event) {
	s.mu.Lock()
	if ev.File != "" {
		s.currentFile = ev.File
		s.currentLine = ev.Line
	}
	s.currentAddr = ev.Address
	s.mu.Unlock()
}

// loadDebugInfo applies a persisted debug-info document when the
// configuration names one. A missing or corrupt file starts fresh.
func (s *Session) loadDebugInfo() {
	if s.cfg.DebugInfo == "" {
		return
	}
	info, loaded := debuginfo.Load(s.cfg.DebugInfo)
	if !loaded {
		// Restoring an empty document would drop breakpoints the
		// client already set; keep what we have.
		s.logger.Printf("session %s: debug info %s unavailable, starting fresh", s.id, s.cfg.DebugInfo)
		return
	}
	info.Apply(s.maps, s.symbols, s.breakpoints)
}

// Serve processes requests from a transport until it fails or the
// session ends. Responses and notifications share one sequence space;
// notifications may be pushed between and during request handling.
func (s *Session) Serve(t protocol.Transport) error {
	s.setNotify(func(note protocol.Notification) error {
		data, err := protocol.Encode(note)
		if err != nil {
			return err
		}
		return t.Send(data)
	})

	s.pumpOnce.Do(func() { go s.pumpEvents() })
	defer close(s.done)

	for {
		payload, err := t.Receive()
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		env, err := protocol.Decode(payload)
		if err != nil {
			// Malformed input: drop the message, keep the connection.
			s.logger.Printf("session %s: %v", s.id, err)
			continue
		}
		if env.Type != protocol.TypeRequest {
			continue
		}

		resp := s.HandleRequest(env.Request())
		data, err := protocol.Encode(resp)
		if err != nil {
			s.logger.Printf("session %s: encode response: %v", s.id, err)
			continue
		}
		if err := t.Send(data); err != nil {
			return fmt.Errorf("send response: %w", err)
		}
	}
}
