// Package breakpoint stores breakpoint definitions for a debug session
// and resolves them to generated-code addresses.
package breakpoint

import (
	"sort"
	"sync"

	"github.com/dshills/scriptdbg/internal/sourcemap"
)

// Kind represents the kind of breakpoint.
type Kind int

const (
	// KindLine stops at a source line.
	KindLine Kind = iota
	// KindFunctionEntry stops when entering a function.
	KindFunctionEntry
	// KindFunctionExit stops when leaving a function.
	KindFunctionExit
	// KindException stops when an exception is raised.
	KindException
	// KindConditional stops at a line when a condition holds.
	KindConditional
)

// String returns a string representation of the breakpoint kind.
func (k Kind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindFunctionEntry:
		return "function-entry"
	case KindFunctionExit:
		return "function-exit"
	case KindException:
		return "exception"
	case KindConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// UnresolvedAddress marks a breakpoint not yet bound to generated code.
const UnresolvedAddress = int64(-1)

// Breakpoint is a registered condition under which execution pauses.
type Breakpoint struct {
	// ID is unique within a registry and never reused.
	ID int `json:"id"`

	// Kind is the breakpoint kind.
	Kind Kind `json:"kind"`

	// Location is the requested source position.
	Location sourcemap.Location `json:"location"`

	// Condition is the guard expression, if any.
	Condition string `json:"condition,omitempty"`

	// Enabled indicates whether the breakpoint can match.
	Enabled bool `json:"enabled"`

	// HitCount is how many times execution reached this breakpoint.
	HitCount int `json:"hitCount"`

	// HitCountLimit defers stopping until the count reaches it.
	// Zero means stop on every hit.
	HitCountLimit int `json:"hitCountLimit,omitempty"`

	// ResolvedAddress is the generated address, or UnresolvedAddress.
	ResolvedAddress int64 `json:"resolvedAddress"`
}

// Resolver binds breakpoint locations to generated addresses. The
// session wires it to the source map and symbol table.
type Resolver interface {
	// AddressForLine returns the generated address for a source line.
	AddressForLine(file string, line int) (int64, bool)

	// FunctionEntry returns the start address of the function whose
	// source range spans the location.
	FunctionEntry(file string, line int) (int64, bool)
}

// Registry owns the breakpoints of one debug session.
//
// The id counter is a registry field, never process state, so multiple
// sessions can hold independent registries.
type Registry struct {
	mu          sync.RWMutex
	breakpoints map[int]*Breakpoint
	nextID      int
	resolver    Resolver
}

// NewRegistry creates an empty breakpoint registry. The resolver may
// be nil, in which case breakpoints stay unresolved until a resolver
// is attached.
func NewRegistry(resolver Resolver) *Registry {
	return &Registry{
		breakpoints: make(map[int]*Breakpoint),
		nextID:      1,
		resolver:    resolver,
	}
}

// SetResolver attaches a resolver and re-resolves stored breakpoints.
func (r *Registry) SetResolver(resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolver = resolver
	for _, bp := range r.breakpoints {
		r.resolve(bp)
	}
}

// resolve binds a breakpoint to a generated address when its kind
// resolves at creation time. Callers hold the lock.
func (r *Registry) resolve(bp *Breakpoint) {
	bp.ResolvedAddress = UnresolvedAddress
	if r.resolver == nil {
		return
	}

	switch bp.Kind {
	case KindLine, KindConditional:
		if addr, ok := r.resolver.AddressForLine(bp.Location.File, bp.Location.Line); ok {
			bp.ResolvedAddress = addr
		}
	case KindFunctionEntry:
		if addr, ok := r.resolver.FunctionEntry(bp.Location.File, bp.Location.Line); ok {
			bp.ResolvedAddress = addr
		}
	}
	// Exit and exception breakpoints are evaluated at runtime.
}

// Create registers a new breakpoint and resolves it when possible.
func (r *Registry) Create(kind Kind, loc sourcemap.Location, condition string, hitCountLimit int) Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	bp := &Breakpoint{
		ID:            r.nextID,
		Kind:          kind,
		Location:      loc,
		Condition:     condition,
		Enabled:       true,
		HitCountLimit: hitCountLimit,
	}
	r.nextID++
	r.resolve(bp)

	r.breakpoints[bp.ID] = bp
	return *bp
}

// Remove deletes a breakpoint. Returns false if the id is unknown;
// that is not an error.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakpoints[id]; !ok {
		return false
	}
	delete(r.breakpoints, id)
	return true
}

// Enable marks a breakpoint eligible to match. Returns false if the
// id is unknown.
func (r *Registry) Enable(id int) bool {
	return r.setEnabled(id, true)
}

// Disable stops a breakpoint from matching. Returns false if the id
// is unknown.
func (r *Registry) Disable(id int) bool {
	return r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id int, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bp, ok := r.breakpoints[id]
	if !ok {
		return false
	}
	bp.Enabled = enabled
	return true
}

// Get returns a breakpoint by id.
func (r *Registry) Get(id int) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bp, ok := r.breakpoints[id]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// List returns all breakpoints ordered by id.
func (r *Registry) List() []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Breakpoint, 0, len(r.breakpoints))
	for _, bp := range r.breakpoints {
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered breakpoints.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakpoints)
}

// Clear removes every breakpoint. The id counter keeps advancing so
// ids are never reused.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.breakpoints = make(map[int]*Breakpoint)
	r.mu.Unlock()
}

// MatchesAddress returns all enabled breakpoints resolved to the
// given address. Disabled breakpoints never match. Hit counts are
// untouched; use HitAt when execution actually reaches the address.
func (r *Registry) MatchesAddress(address int64) []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Breakpoint
	for _, bp := range r.breakpoints {
		if bp.Enabled && bp.ResolvedAddress != UnresolvedAddress && bp.ResolvedAddress == address {
			out = append(out, *bp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopsAt reports whether a hit at the given address would stop
// execution, applying the same hit count gating as HitAt for the next
// hit without recording one. Execution layers use it to decide
// synchronously whether to park before the line event is processed.
func (r *Registry) StopsAt(address int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, bp := range r.breakpoints {
		if !bp.Enabled || bp.ResolvedAddress == UnresolvedAddress || bp.ResolvedAddress != address {
			continue
		}
		if bp.HitCountLimit > 0 && bp.HitCount+1 < bp.HitCountLimit {
			continue
		}
		return true
	}
	return false
}

// HitAt records that execution reached the given address and returns
// the breakpoints that actually stop execution there.
//
// Every enabled matching breakpoint has its hit count incremented.
// With a hit count limit set, hits below the limit are informational
// only; the breakpoint stops on the hit where the count first equals
// the limit, and on every hit after that.
func (r *Registry) HitAt(address int64) []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stopping []Breakpoint
	for _, bp := range r.breakpoints {
		if !bp.Enabled || bp.ResolvedAddress == UnresolvedAddress || bp.ResolvedAddress != address {
			continue
		}
		bp.HitCount++
		if bp.HitCountLimit > 0 && bp.HitCount < bp.HitCountLimit {
			continue
		}
		stopping = append(stopping, *bp)
	}
	sort.Slice(stopping, func(i, j int) bool { return stopping[i].ID < stopping[j].ID })
	return stopping
}

// ResetHitCounts zeroes every breakpoint's hit count.
func (r *Registry) ResetHitCounts() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, bp := range r.breakpoints {
		bp.HitCount = 0
	}
}

// Restore replaces the registry contents with persisted breakpoints.
// The id counter advances past the highest restored id and past the
// persisted counter, whichever is larger.
func (r *Registry) Restore(bps []Breakpoint, nextID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breakpoints = make(map[int]*Breakpoint, len(bps))
	maxID := 0
	for i := range bps {
		bp := bps[i]
		r.resolve(&bp)
		r.breakpoints[bp.ID] = &bp
		if bp.ID > maxID {
			maxID = bp.ID
		}
	}

	r.nextID = maxID + 1
	if nextID > r.nextID {
		r.nextID = nextID
	}
}

// NextID returns the id the next created breakpoint will take.
func (r *Registry) NextID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextID
}
