// Package luavm adapts a gopher-lua state to the debugger's execution
// interface. The Lua program runs on a single goroutine that owns the
// LState; while paused, that goroutine services inspection requests
// from other goroutines through a call queue.
//
// Interruption is cooperative: the program stops at an instrumented
// statement boundary, so a pause may take effect one or more
// statements after it was requested. Breakpoints are exact: with a
// stop check installed, the program parks at the breakpoint statement
// itself before executing it.
package luavm

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptdbg/internal/session"
	"github.com/dshills/scriptdbg/internal/sourcemap"
)

// probeGlobal is the reserved global name the instrumented program
// calls at each statement boundary.
const probeGlobal = "__scriptdbg_probe"

var (
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("program already started")

	// ErrNotPaused is returned when inspection requires a paused
	// program.
	ErrNotPaused = errors.New("program is not paused")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("interpreter is closed")
)

// terminateMessage marks the Lua error raised to unwind a terminated
// program.
const terminateMessage = "scriptdbg: terminated"

type runMode int

const (
	modeRun runMode = iota
	modeStepInto
	modeStepOver
	modeStepOut
)

// vmCall is one inspection request executed on the Lua goroutine.
type vmCall struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Options configures an interpreter.
type Options struct {
	// Program is the Lua source file to execute.
	Program string

	// Maps translates source lines to generated addresses for line
	// events. Nil falls back to line numbers as addresses.
	Maps *sourcemap.Registry

	// MemorySize is the size of the script-addressable scratch
	// region. Zero selects the default.
	MemorySize int
}

// Interp executes one Lua program under debugger control. It
// implements the session's interpreter interface.
type Interp struct {
	state   *lua.LState
	program string
	maps    *sourcemap.Registry
	region  *memoryRegion

	// baseline holds the global names present before the program
	// ran; GlobalVariables reports only what the program added.
	baseline map[string]struct{}

	events chan session.Event
	calls  chan *vmCall
	resume chan struct{}
	closed chan struct{}

	started   bool
	startedMu sync.Mutex

	pauseRequested bool
	terminated     bool
	paused         bool
	mode           runMode
	baseDepth      int
	pausedDepth    int
	stopCheck      func(address int64) bool
	mu             sync.Mutex

	closeOnce sync.Once
}

// New creates an interpreter for the given program. The returned
// interpreter owns its Lua state; Close releases it.
func New(opts Options) *Interp {
	L := lua.NewState()

	p := &Interp{
		state:   L,
		program: opts.Program,
		maps:    opts.Maps,
		region:  newMemoryRegion(opts.MemorySize),
		events:  make(chan session.Event, 64),
		calls:   make(chan *vmCall, 16),
		resume:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}

	L.SetGlobal(probeGlobal, L.NewFunction(p.probe))
	p.region.register(L)

	p.baseline = make(map[string]struct{})
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		p.baseline[k.String()] = struct{}{}
	})

	return p
}

// SetStopCheck installs a predicate consulted at each statement
// boundary with the statement's address. When it reports true the
// program parks at that statement, before executing it, and waits for
// Resume or Step. The check runs on the Lua goroutine and must not
// call back into the interpreter.
func (p *Interp) SetStopCheck(fn func(address int64) bool) {
	p.mu.Lock()
	p.stopCheck = fn
	p.mu.Unlock()
}

// Events implements session.Interpreter.
func (p *Interp) Events() <-chan session.Event {
	return p.events
}

// Close releases the Lua state and unblocks the program goroutine.
func (p *Interp) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

// Start implements session.Interpreter. The program runs on its own
// goroutine; execution events arrive on Events.
func (p *Interp) Start() error {
	p.startedMu.Lock()
	defer p.startedMu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}

	src, err := os.ReadFile(p.program)
	if err != nil {
		return fmt.Errorf("read program %s: %w", p.program, err)
	}

	instrumented, err := Instrument(string(src), p.program)
	if err != nil {
		return fmt.Errorf("instrument %s: %w", p.program, err)
	}

	fn, err := p.state.Load(strings.NewReader(instrumented), p.program)
	if err != nil {
		return fmt.Errorf("load %s: %w", p.program, err)
	}

	p.started = true
	go p.run(fn)
	return nil
}

// run executes the loaded chunk to completion.
func (p *Interp) run(fn *lua.LFunction) {
	L := p.state
	L.Push(fn)
	err := L.PCall(0, lua.MultRet, nil)

	p.mu.Lock()
	terminated := p.terminated
	p.mu.Unlock()

	switch {
	case terminated:
		p.emit(session.Event{Kind: session.EventExited})
	case err != nil:
		file, line := p.currentPosition()
		p.emit(session.Event{
			Kind:    session.EventException,
			File:    file,
			Line:    line,
			Message: err.Error(),
		})
		p.emit(session.Event{Kind: session.EventExited, ExitCode: 1})
	default:
		p.emit(session.Event{Kind: session.EventExited})
	}
}

// Resume implements session.Interpreter.
func (p *Interp) Resume() error {
	p.mu.Lock()
	p.pauseRequested = false
	p.mode = modeRun
	p.mu.Unlock()
	p.signalResume()
	return nil
}

// Pause implements session.Interpreter. The program stops at the next
// statement boundary.
func (p *Interp) Pause() error {
	p.mu.Lock()
	p.pauseRequested = true
	p.mu.Unlock()
	return nil
}

// Step implements session.Interpreter.
func (p *Interp) Step(kind session.StepKind) error {
	p.mu.Lock()
	p.pauseRequested = false
	p.baseDepth = p.pausedDepth
	switch kind {
	case session.StepInto:
		p.mode = modeStepInto
	case session.StepOut:
		p.mode = modeStepOut
	default:
		p.mode = modeStepOver
	}
	p.mu.Unlock()
	p.signalResume()
	return nil
}

// Terminate implements session.Interpreter. A running program unwinds
// at its next statement boundary.
func (p *Interp) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.pauseRequested = false
	p.mu.Unlock()
	p.signalResume()

	p.startedMu.Lock()
	started := p.started
	p.startedMu.Unlock()

	if !started {
		// Nothing ran; report the exit directly.
		p.emit(session.Event{Kind: session.EventExited})
	}
	return nil
}

func (p *Interp) signalResume() {
	select {
	case p.resume <- struct{}{}:
	default:
	}
}

// emit delivers an event unless the interpreter is closed.
func (p *Interp) emit(ev session.Event) {
	select {
	case p.events <- ev:
	case <-p.closed:
	}
}

// addressFor maps a source line to a generated address, falling back
// to the line number itself.
func (p *Interp) addressFor(file string, line int) int64 {
	if p.maps != nil {
		if addr, ok := p.maps.AddressForLine(file, line); ok {
			return addr
		}
	}
	return int64(line)
}

// probe is called from instrumented Lua at each statement boundary.
// It runs on the Lua goroutine.
func (p *Interp) probe(L *lua.LState) int {
	p.mu.Lock()
	terminated := p.terminated
	p.mu.Unlock()
	if terminated {
		L.RaiseError(terminateMessage)
		return 0
	}

	file, line := p.currentPosition()
	addr := p.addressFor(file, line)
	depth := stackDepth(L)

	p.mu.Lock()
	mode := p.mode
	base := p.baseDepth
	pauseRequested := p.pauseRequested
	stopCheck := p.stopCheck
	p.mu.Unlock()

	stopForStep := false
	switch mode {
	case modeStepInto:
		stopForStep = true
	case modeStepOver:
		stopForStep = depth <= base
	case modeStepOut:
		stopForStep = depth < base
	}

	switch {
	case stopForStep:
		p.mu.Lock()
		p.mode = modeRun
		p.mu.Unlock()
		p.emit(session.Event{Kind: session.EventStepComplete, Address: addr, File: file, Line: line})
		p.block(L, depth)
	case pauseRequested:
		p.emit(session.Event{Kind: session.EventPaused, Address: addr, File: file, Line: line})
		p.block(L, depth)
	case stopCheck != nil && stopCheck(addr):
		// Park here so execution cannot outrun the session's pause
		// request; the statement runs only after an explicit resume.
		p.emit(session.Event{Kind: session.EventLine, Address: addr, File: file, Line: line})
		p.block(L, depth)
	default:
		p.emit(session.Event{Kind: session.EventLine, Address: addr, File: file, Line: line})
		// The session may have requested a pause while handling the
		// line event; it takes effect at the next boundary.
	}

	return 0
}

// block parks the Lua goroutine until resumed, servicing inspection
// calls while parked.
func (p *Interp) block(L *lua.LState, depth int) {
	p.mu.Lock()
	p.paused = true
	p.pauseRequested = false
	p.pausedDepth = depth
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.paused = false
		terminated := p.terminated
		p.mu.Unlock()
		if terminated {
			L.RaiseError(terminateMessage)
		}
	}()

	for {
		select {
		case <-p.closed:
			return
		case <-p.resume:
			return
		case call := <-p.calls:
			call.result <- p.safeCall(call.fn, L)
			close(call.result)
		}
	}
}

// safeCall runs one inspection closure with panic recovery.
func (p *Interp) safeCall(fn func(L *lua.LState) error, L *lua.LState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("lua panic: %v", r)
			}
		}
	}()
	return fn(L)
}

// onVM runs fn on the Lua goroutine. The program must be paused; the
// parked probe services the queue.
func (p *Interp) onVM(fn func(L *lua.LState) error) error {
	p.mu.Lock()
	paused := p.paused
	terminated := p.terminated
	p.mu.Unlock()
	if terminated {
		return ErrClosed
	}
	if !paused {
		return ErrNotPaused
	}

	call := &vmCall{fn: fn, result: make(chan error, 1)}
	select {
	case p.calls <- call:
	case <-p.closed:
		return ErrClosed
	}

	select {
	case err := <-call.result:
		return err
	case <-p.closed:
		return ErrClosed
	}
}

// currentPosition reports the source position of the running Lua code.
func (p *Interp) currentPosition() (string, int) {
	L := p.state
	dbg, ok := L.GetStack(1)
	if !ok {
		return p.program, 0
	}
	if _, err := L.GetInfo("Sl", dbg, lua.LNil); err != nil {
		return p.program, 0
	}
	return cleanSource(dbg.Source), dbg.CurrentLine
}

// cleanSource strips the chunk-name prefix Lua adds to file sources.
func cleanSource(source string) string {
	return strings.TrimPrefix(source, "@")
}

// stackDepth counts live Lua frames above the probe.
func stackDepth(L *lua.LState) int {
	depth := 0
	for {
		if _, ok := L.GetStack(depth + 1); !ok {
			return depth
		}
		depth++
	}
}

// LocalVariables implements session.Interpreter.
func (p *Interp) LocalVariables() ([]session.Variable, error) {
	var vars []session.Variable
	err := p.onVM(func(L *lua.LState) error {
		dbg, ok := L.GetStack(1)
		if !ok {
			return errors.New("no active frame")
		}
		for i := 1; ; i++ {
			name, value := L.GetLocal(dbg, i)
			if name == "" {
				break
			}
			// Compiler temporaries carry parenthesized names.
			if strings.HasPrefix(name, "(") {
				continue
			}
			vars = append(vars, luaVariable(name, value))
		}
		return nil
	})
	return vars, err
}

// GlobalVariables implements session.Interpreter. Only globals the
// program itself defined are reported; the standard library baseline
// is omitted.
func (p *Interp) GlobalVariables() ([]session.Variable, error) {
	var vars []session.Variable
	err := p.onVM(func(L *lua.LState) error {
		L.G.Global.ForEach(func(k, v lua.LValue) {
			name := k.String()
			if _, stock := p.baseline[name]; stock {
				return
			}
			vars = append(vars, luaVariable(name, v))
		})
		sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
		return nil
	})
	return vars, err
}

// CallStack implements session.Interpreter.
func (p *Interp) CallStack() ([]session.Frame, error) {
	var frames []session.Frame
	err := p.onVM(func(L *lua.LState) error {
		for level := 1; ; level++ {
			dbg, ok := L.GetStack(level)
			if !ok {
				break
			}
			if _, err := L.GetInfo("Sln", dbg, lua.LNil); err != nil {
				break
			}
			name := dbg.Name
			if name == "" {
				if dbg.What == "main" {
					name = "main chunk"
				} else {
					name = "?"
				}
			}
			frames = append(frames, session.Frame{
				Name: name,
				File: cleanSource(dbg.Source),
				Line: dbg.CurrentLine,
			})
		}
		return nil
	})
	return frames, err
}

// EvaluateExpression implements session.Interpreter. The expression
// is evaluated in the global environment of the paused program.
func (p *Interp) EvaluateExpression(expr string) (string, error) {
	var result string
	err := p.onVM(func(L *lua.LState) error {
		fn, err := L.LoadString("return (" + expr + ")")
		if err != nil {
			// Retry as a statement, e.g. an assignment.
			fn, err = L.LoadString(expr)
			if err != nil {
				return err
			}
		}

		base := L.GetTop()
		L.Push(fn)
		if err := L.PCall(0, lua.MultRet, nil); err != nil {
			return err
		}

		returned := L.GetTop() - base
		parts := make([]string, 0, returned)
		for i := base + 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.Get(i).String())
		}
		L.SetTop(base)

		if len(parts) == 0 {
			result = "nil"
		} else {
			result = strings.Join(parts, ", ")
		}
		return nil
	})
	return result, err
}

// MemoryValue implements session.Interpreter. It reads from the
// script-addressable scratch region.
func (p *Interp) MemoryValue(address int64, size int) ([]byte, error) {
	return p.region.read(address, size)
}

// luaVariable converts one Lua value for the wire.
func luaVariable(name string, value lua.LValue) session.Variable {
	return session.Variable{
		Name:  name,
		Value: value.String(),
		Type:  value.Type().String(),
	}
}
