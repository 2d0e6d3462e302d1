// Package sourcemap maintains bidirectional associations between source
// text ranges and generated code addresses.
//
// Mappings are recorded by the code generator while compiling and are
// read-only once a debug session starts. Lookups never assume mappings
// were inserted in address order.
package sourcemap

import "sync"

// Location identifies a position in a source file.
// Locations are value types; equality is structural.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Range is a lexical span in a source file.
type Range struct {
	Start Location `json:"start"`
	End   Location `json:"end"`
}

// Contains reports whether the range spans the given line in the same
// file. Both boundary lines are inclusive.
func (r Range) Contains(file string, line int) bool {
	return r.Start.File == file && line >= r.Start.Line && line <= r.End.Line
}

// Mapping associates a source range with a run of generated code.
type Mapping struct {
	Range   Range `json:"range"`
	Address int64 `json:"address"`
	Length  int64 `json:"length"`
}

// Registry stores source mappings for a compiled program.
//
// The registry is append-only: mappings are added during code
// generation and never mutated or removed. Multiple mappings may share
// an address or overlap.
type Registry struct {
	mu       sync.RWMutex
	mappings []Mapping
}

// NewRegistry creates an empty mapping registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddMapping records a mapping from a source range to a generated
// address. A length below 1 is treated as 1.
func (r *Registry) AddMapping(rng Range, address int64, length int64) {
	if length < 1 {
		length = 1
	}

	r.mu.Lock()
	r.mappings = append(r.mappings, Mapping{
		Range:   rng,
		Address: address,
		Length:  length,
	})
	r.mu.Unlock()
}

// FindSourceLocation returns the source range for a generated address.
//
// A mapping whose [Address, Address+Length-1] interval contains the
// address wins. If no interval contains it, the mapping with the
// largest address still at or below the target is returned, which
// approximates the statement that produced the code between exact
// instruction boundaries. Returns false if no mapping precedes the
// address.
func (r *Registry) FindSourceLocation(address int64) (Range, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Mapping
	for i := range r.mappings {
		m := &r.mappings[i]
		if address >= m.Address && address < m.Address+m.Length {
			return m.Range, true
		}
		if m.Address <= address && (best == nil || m.Address > best.Address) {
			best = m
		}
	}

	if best == nil {
		return Range{}, false
	}
	return best.Range, true
}

// FindGeneratedAddress returns the generated address for an exact
// source range. The first stored match wins; returns false if no
// mapping carries the range.
func (r *Registry) FindGeneratedAddress(rng Range) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.mappings {
		if r.mappings[i].Range == rng {
			return r.mappings[i].Address, true
		}
	}
	return 0, false
}

// AddressForLine returns the generated address of the first mapping
// whose range spans the given file and line. Clients identify line
// breakpoints by file and line only, so this is the resolution path
// the breakpoint registry uses.
func (r *Registry) AddressForLine(file string, line int) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.mappings {
		if r.mappings[i].Range.Contains(file, line) {
			return r.mappings[i].Address, true
		}
	}
	return 0, false
}

// Mappings returns a copy of all stored mappings.
func (r *Registry) Mappings() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Mapping, len(r.mappings))
	copy(out, r.mappings)
	return out
}

// Len returns the number of stored mappings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappings)
}
