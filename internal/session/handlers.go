package session

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/scriptdbg/internal/breakpoint"
	"github.com/dshills/scriptdbg/internal/protocol"
	"github.com/dshills/scriptdbg/internal/render"
	"github.com/dshills/scriptdbg/internal/sourcemap"
)

// Command names accepted by the dispatcher.
const (
	cmdInitialize        = "initialize"
	cmdStart             = "start"
	cmdPause             = "pause"
	cmdContinue          = "continue"
	cmdStepOver          = "stepOver"
	cmdStepInto          = "stepInto"
	cmdStepOut           = "stepOut"
	cmdTerminate         = "terminate"
	cmdSetBreakpoint     = "setBreakpoint"
	cmdRemoveBreakpoint  = "removeBreakpoint"
	cmdEnableBreakpoint  = "enableBreakpoint"
	cmdDisableBreakpoint = "disableBreakpoint"
	cmdListBreakpoints   = "listBreakpoints"
	cmdClearBreakpoints  = "clearBreakpoints"
	cmdGetVariables      = "getVariables"
	cmdGetCallStack      = "getCallStack"
	cmdGetSource         = "getSource"
	cmdEvaluate          = "evaluateExpression"
	cmdGetMemory         = "getMemory"
)

// Notification names pushed by the session.
const (
	cmdStopped   = "stopped"
	cmdContinued = "continued"
	cmdExited    = "exited"
)

// Stop reasons carried on stopped notifications.
const (
	reasonEntry      = "entry"
	reasonBreakpoint = "breakpoint"
	reasonStep       = "step"
	reasonPause      = "pause"
	reasonException  = "exception"
)

// commandError carries a protocol error code out of a handler.
type commandError struct {
	code    protocol.ErrorCode
	message string
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func errInvalidParameter(format string, args ...any) *commandError {
	return &commandError{code: protocol.CodeInvalidParameter, message: fmt.Sprintf(format, args...)}
}

func errResourceNotFound(format string, args ...any) *commandError {
	return &commandError{code: protocol.CodeResourceNotFound, message: fmt.Sprintf(format, args...)}
}

func errInvalidState(format string, args ...any) *commandError {
	return &commandError{code: protocol.CodeInvalidState, message: fmt.Sprintf(format, args...)}
}

func errInternal(format string, args ...any) *commandError {
	return &commandError{code: protocol.CodeInternalError, message: fmt.Sprintf(format, args...)}
}

// handlerFunc processes one request and returns a response body or a
// command error.
type handlerFunc func(req protocol.Request) (any, *commandError)

// commandHandlers builds the dispatch table. Every supported command
// has exactly one handler; unknown commands are a runtime condition
// reported as INVALID_COMMAND.
func (s *Session) commandHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		cmdInitialize:        s.handleInitialize,
		cmdStart:             s.handleStart,
		cmdPause:             s.handlePause,
		cmdContinue:          s.handleContinue,
		cmdStepOver:          s.stepHandler(StepOver),
		cmdStepInto:          s.stepHandler(StepInto),
		cmdStepOut:           s.stepHandler(StepOut),
		cmdTerminate:         s.handleTerminate,
		cmdSetBreakpoint:     s.handleSetBreakpoint,
		cmdRemoveBreakpoint:  s.breakpointIDHandler("remove", s.breakpointRemove),
		cmdEnableBreakpoint:  s.breakpointIDHandler("enable", s.breakpointEnable),
		cmdDisableBreakpoint: s.breakpointIDHandler("disable", s.breakpointDisable),
		cmdListBreakpoints:   s.handleListBreakpoints,
		cmdClearBreakpoints:  s.handleClearBreakpoints,
		cmdGetVariables:      s.handleGetVariables,
		cmdGetCallStack:      s.handleGetCallStack,
		cmdGetSource:         s.handleGetSource,
		cmdEvaluate:          s.handleEvaluate,
		cmdGetMemory:         s.handleGetMemory,
	}
}

// HandleRequest dispatches one request to its handler and always
// produces a response: unknown commands, handler errors and handler
// panics all become error responses rather than escaping to the
// transport layer.
func (s *Session) HandleRequest(req protocol.Request) (resp protocol.Response) {
	// Clients assign their own request seqs. Fast-forward past each one
	// so the response always carries a larger seq than its request.
	s.codec.Observe(req.Seq)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("session %s: handler %s panic: %v", s.id, req.Command, r)
			resp = s.codec.NewErrorResponse(req, protocol.CodeInternalError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	handler, ok := s.handlers[req.Command]
	if !ok {
		return s.codec.NewErrorResponse(req, protocol.CodeInvalidCommand, fmt.Sprintf("unknown command %q", req.Command))
	}

	// A lost interpreter surfaces as NOT_INITIALIZED on every command
	// until initialize succeeds again.
	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()
	if interp == nil && req.Command != cmdInitialize {
		return s.codec.NewErrorResponse(req, protocol.CodeNotInitialized, ErrNoInterpreter.Error())
	}

	body, cmdErr := handler(req)
	if cmdErr != nil {
		return s.codec.NewErrorResponse(req, cmdErr.code, cmdErr.message)
	}

	out, err := s.codec.NewResponse(req, body)
	if err != nil {
		return s.codec.NewErrorResponse(req, protocol.CodeInternalError, err.Error())
	}
	return out
}

// decodeArgs parses request arguments into a typed struct. Absent
// arguments decode into the zero value.
func decodeArgs(req protocol.Request, into any) *commandError {
	if len(req.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Arguments, into); err != nil {
		return errInvalidParameter("parse %s arguments: %v", req.Command, err)
	}
	return nil
}

// stateBody is the body of lifecycle command responses.
type stateBody struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

func (s *Session) stateBody() stateBody {
	return stateBody{SessionID: s.id, State: s.State().String()}
}

// handleInitialize loads configuration and debug info and readies the
// breakpoint and symbol state. Calling it again re-runs
// initialization.
func (s *Session) handleInitialize(req protocol.Request) (any, *commandError) {
	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()
	if interp == nil {
		return nil, &commandError{code: protocol.CodeNotInitialized, message: ErrNoInterpreter.Error()}
	}

	if err := s.transition(StateInitialized); err != nil {
		return nil, errInvalidState("initialize: %v", err)
	}

	s.loadDebugInfo()
	s.breakpoints.ResetHitCounts()

	return s.stateBody(), nil
}

// handleStart begins program execution. With break_on_start set the
// session pauses immediately and emits a stopped notification with
// reason entry before the start response goes out.
func (s *Session) handleStart(req protocol.Request) (any, *commandError) {
	if err := s.transition(StateRunning); err != nil {
		return nil, errInvalidState("start: %v", err)
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	// The pause request and the PAUSED state both have to be in place
	// before the program goroutine launches, or the program races the
	// pause and can run past the entry point while the client is told
	// it is paused there.
	if s.cfg.BreakOnStart {
		if err := interp.Pause(); err != nil {
			return nil, errInternal("pause on entry: %v", err)
		}
		if err := s.transition(StatePaused); err != nil {
			return nil, errInvalidState("break on start: %v", err)
		}
	}

	if err := interp.Start(); err != nil {
		return nil, errInternal("start program: %v", err)
	}

	if s.cfg.BreakOnStart {
		s.notifyStopped(reasonEntry, nil)
	}

	return s.stateBody(), nil
}

// handlePause requests cooperative interruption of the running
// program.
func (s *Session) handlePause(req protocol.Request) (any, *commandError) {
	if err := s.transition(StatePaused); err != nil {
		return nil, errInvalidState("pause: %v", err)
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	if err := interp.Pause(); err != nil {
		return nil, errInternal("pause program: %v", err)
	}

	s.notifyStopped(reasonPause, nil)
	return s.stateBody(), nil
}

// handleContinue resumes a paused program.
func (s *Session) handleContinue(req protocol.Request) (any, *commandError) {
	if err := s.transition(StateRunning); err != nil {
		return nil, errInvalidState("continue: %v", err)
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	if err := interp.Resume(); err != nil {
		return nil, errInternal("resume program: %v", err)
	}

	s.sendNotification(cmdContinued, nil)
	return s.stateBody(), nil
}

// stepHandler builds a handler for one stepping granularity. Stepping
// is a transient action from PAUSED back to RUNNING; the next stop
// condition re-enters PAUSED through the event channel.
func (s *Session) stepHandler(kind StepKind) handlerFunc {
	return func(req protocol.Request) (any, *commandError) {
		if err := s.transition(StateRunning); err != nil {
			return nil, errInvalidState("%s: %v", kind, err)
		}

		s.mu.RLock()
		interp := s.interp
		s.mu.RUnlock()

		if err := interp.Step(kind); err != nil {
			return nil, errInternal("%s: %v", kind, err)
		}

		s.sendNotification(cmdContinued, nil)
		return s.stateBody(), nil
	}
}

// handleTerminate ends the program and the debugging conversation.
func (s *Session) handleTerminate(req protocol.Request) (any, *commandError) {
	if err := s.transition(StateTerminated); err != nil {
		return nil, errInvalidState("terminate: %v", err)
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	if err := interp.Terminate(); err != nil {
		return nil, errInternal("terminate program: %v", err)
	}

	s.sendNotification(cmdExited, map[string]int{"exitCode": 0})
	return s.stateBody(), nil
}

// setBreakpointArgs are the arguments for setBreakpoint.
type setBreakpointArgs struct {
	Kind          string `json:"kind,omitempty"`
	File          string `json:"file"`
	Line          int    `json:"line"`
	Column        int    `json:"column,omitempty"`
	Condition     string `json:"condition,omitempty"`
	HitCountLimit int    `json:"hitCountLimit,omitempty"`
}

// parseBreakpointKind maps a wire kind name to a registry kind.
func parseBreakpointKind(name string) (breakpoint.Kind, bool) {
	switch name {
	case "", "line":
		return breakpoint.KindLine, true
	case "function-entry":
		return breakpoint.KindFunctionEntry, true
	case "function-exit":
		return breakpoint.KindFunctionExit, true
	case "exception":
		return breakpoint.KindException, true
	case "conditional":
		return breakpoint.KindConditional, true
	default:
		return 0, false
	}
}

// breakpointBody wraps one breakpoint on the wire.
type breakpointBody struct {
	Breakpoint breakpoint.Breakpoint `json:"breakpoint"`
}

func (s *Session) handleSetBreakpoint(req protocol.Request) (any, *commandError) {
	var args setBreakpointArgs
	if cmdErr := decodeArgs(req, &args); cmdErr != nil {
		return nil, cmdErr
	}

	kind, ok := parseBreakpointKind(args.Kind)
	if !ok {
		return nil, errInvalidParameter("unknown breakpoint kind %q", args.Kind)
	}

	// Exception breakpoints have no source location; all others do.
	if kind != breakpoint.KindException {
		if args.File == "" {
			return nil, errInvalidParameter("setBreakpoint requires a file")
		}
		if args.Line <= 0 {
			return nil, errInvalidParameter("setBreakpoint requires a positive line")
		}
	}
	if kind == breakpoint.KindConditional && args.Condition == "" {
		return nil, errInvalidParameter("conditional breakpoint requires a condition")
	}

	bp := s.breakpoints.Create(kind, sourcemap.Location{
		File:   args.File,
		Line:   args.Line,
		Column: args.Column,
	}, args.Condition, args.HitCountLimit)

	return breakpointBody{Breakpoint: bp}, nil
}

// breakpointIDArgs address one breakpoint by id.
type breakpointIDArgs struct {
	ID *int `json:"id"`
}

func (s *Session) breakpointRemove(id int) bool  { return s.breakpoints.Remove(id) }
func (s *Session) breakpointEnable(id int) bool  { return s.breakpoints.Enable(id) }
func (s *Session) breakpointDisable(id int) bool { return s.breakpoints.Disable(id) }

// breakpointIDHandler builds a handler for the id-addressed
// breakpoint commands, sharing the missing-argument and missing-id
// semantics.
func (s *Session) breakpointIDHandler(verb string, op func(int) bool) handlerFunc {
	return func(req protocol.Request) (any, *commandError) {
		var args breakpointIDArgs
		if cmdErr := decodeArgs(req, &args); cmdErr != nil {
			return nil, cmdErr
		}
		if args.ID == nil {
			return nil, errInvalidParameter("%s breakpoint requires an id", verb)
		}

		if !op(*args.ID) {
			return nil, errResourceNotFound("breakpoint %d not found", *args.ID)
		}

		return map[string]int{"id": *args.ID}, nil
	}
}

// breakpointListBody is the listBreakpoints response body.
type breakpointListBody struct {
	Breakpoints []breakpoint.Breakpoint `json:"breakpoints"`
}

func (s *Session) handleListBreakpoints(req protocol.Request) (any, *commandError) {
	return breakpointListBody{Breakpoints: s.breakpoints.List()}, nil
}

func (s *Session) handleClearBreakpoints(req protocol.Request) (any, *commandError) {
	cleared := s.breakpoints.Count()
	s.breakpoints.Clear()
	return map[string]int{"cleared": cleared}, nil
}

// getVariablesArgs are the arguments for getVariables.
type getVariablesArgs struct {
	Scope string `json:"scope,omitempty"`
}

// variablesBody is the getVariables response body.
type variablesBody struct {
	Scope     string     `json:"scope"`
	Variables []Variable `json:"variables"`
}

func (s *Session) handleGetVariables(req protocol.Request) (any, *commandError) {
	var args getVariablesArgs
	if cmdErr := decodeArgs(req, &args); cmdErr != nil {
		return nil, cmdErr
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	var (
		vars []Variable
		err  error
	)
	switch args.Scope {
	case "", "local":
		args.Scope = "local"
		vars, err = interp.LocalVariables()
	case "global":
		vars, err = interp.GlobalVariables()
	default:
		return nil, errInvalidParameter("unknown variable scope %q", args.Scope)
	}
	if err != nil {
		return nil, errInternal("get %s variables: %v", args.Scope, err)
	}

	return variablesBody{Scope: args.Scope, Variables: vars}, nil
}

// callStackBody is the getCallStack response body.
type callStackBody struct {
	Frames []Frame `json:"frames"`
}

func (s *Session) handleGetCallStack(req protocol.Request) (any, *commandError) {
	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	frames, err := interp.CallStack()
	if err != nil {
		return nil, errInternal("get call stack: %v", err)
	}

	return callStackBody{Frames: frames}, nil
}

// getSourceArgs are the arguments for getSource.
type getSourceArgs struct {
	File         string `json:"file,omitempty"`
	Line         int    `json:"line,omitempty"`
	ContextLines *int   `json:"contextLines,omitempty"`
}

// sourceBody is the getSource response body.
type sourceBody struct {
	File      string   `json:"file"`
	Line      int      `json:"line"`
	FirstLine int      `json:"firstLine"`
	Lines     []string `json:"lines"`
}

func (s *Session) handleGetSource(req protocol.Request) (any, *commandError) {
	var args getSourceArgs
	if cmdErr := decodeArgs(req, &args); cmdErr != nil {
		return nil, cmdErr
	}

	contextLines := s.cfg.ContextLines
	if contextLines <= 0 {
		contextLines = 5
	}
	if args.ContextLines != nil {
		if *args.ContextLines < 0 {
			return nil, errInvalidParameter("contextLines must not be negative")
		}
		contextLines = *args.ContextLines
	}

	file, line := args.File, args.Line
	if file == "" {
		current, currentLine, ok := s.CurrentLocation()
		if !ok {
			return nil, errResourceNotFound("no current execution location")
		}
		file, line = current, currentLine
	}
	if line <= 0 {
		line = 1
	}

	lines := s.reader.ReadLines(file, line, contextLines)
	if len(lines) == 0 {
		return nil, errResourceNotFound("source %s unavailable", file)
	}

	firstLine := line - contextLines
	if firstLine < 1 {
		firstLine = 1
	}

	return sourceBody{File: file, Line: line, FirstLine: firstLine, Lines: lines}, nil
}

// evaluateArgs are the arguments for evaluateExpression.
type evaluateArgs struct {
	Expression string `json:"expression"`
}

// evaluateBody is the evaluateExpression response body.
type evaluateBody struct {
	Result string `json:"result"`
}

func (s *Session) handleEvaluate(req protocol.Request) (any, *commandError) {
	var args evaluateArgs
	if cmdErr := decodeArgs(req, &args); cmdErr != nil {
		return nil, cmdErr
	}
	if args.Expression == "" {
		return nil, errInvalidParameter("evaluateExpression requires an expression")
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	// Evaluation failures surface with the underlying message, never
	// silently swallowed.
	result, err := interp.EvaluateExpression(args.Expression)
	if err != nil {
		return nil, errInternal("evaluate %q: %v", args.Expression, err)
	}

	return evaluateBody{Result: result}, nil
}

// getMemoryArgs are the arguments for getMemory.
type getMemoryArgs struct {
	Address *int64 `json:"address"`
	Size    int    `json:"size,omitempty"`
}

// memoryBody is the getMemory response body. Data is hex octets,
// space separated, wrapped every 16 bytes.
type memoryBody struct {
	Address int64  `json:"address"`
	Size    int    `json:"size"`
	Data    string `json:"data"`
}

func (s *Session) handleGetMemory(req protocol.Request) (any, *commandError) {
	var args getMemoryArgs
	if cmdErr := decodeArgs(req, &args); cmdErr != nil {
		return nil, cmdErr
	}
	if args.Address == nil {
		return nil, errInvalidParameter("getMemory requires an address")
	}

	if args.Size < 0 {
		return nil, errInvalidParameter("size must not be negative")
	}
	size := args.Size
	if size == 0 {
		size = 64
	}

	s.mu.RLock()
	interp := s.interp
	s.mu.RUnlock()

	data, err := interp.MemoryValue(*args.Address, size)
	if err != nil {
		return nil, errInternal("read memory at %d: %v", *args.Address, err)
	}

	return memoryBody{
		Address: *args.Address,
		Size:    len(data),
		Data:    render.Memory(data),
	}, nil
}
