// Package symtab is the hierarchical registry of symbols declared in a
// compiled script, keyed by lexical scope.
//
// The table is populated by the code generator through a single scope
// cursor and is read-only once a debug session is running.
package symtab

import (
	"fmt"
	"sync"

	"github.com/dshills/scriptdbg/internal/sourcemap"
)

// SymbolKind classifies a declared symbol.
type SymbolKind int

const (
	// SymbolVariable is a declared variable.
	SymbolVariable SymbolKind = iota
	// SymbolFunction is a declared function.
	SymbolFunction
	// SymbolType is a declared type.
	SymbolType
	// SymbolParameter is a function parameter.
	SymbolParameter
	// SymbolEnum is an enumeration constant.
	SymbolEnum
)

// String returns a string representation of the symbol kind.
func (k SymbolKind) String() string {
	switch k {
	case SymbolVariable:
		return "variable"
	case SymbolFunction:
		return "function"
	case SymbolType:
		return "type"
	case SymbolParameter:
		return "parameter"
	case SymbolEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ScopeKind classifies a lexical scope.
type ScopeKind int

const (
	// ScopeGlobal is the root scope.
	ScopeGlobal ScopeKind = iota
	// ScopeFunction is a function body.
	ScopeFunction
	// ScopeBlock is a nested block.
	ScopeBlock
)

// String returns a string representation of the scope kind.
func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopeFunction:
		return "function"
	case ScopeBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Storage describes where a symbol lives at runtime, when known.
type Storage struct {
	// Register is the register name, if register-allocated.
	Register string `json:"register,omitempty"`

	// StackOffset is the frame-relative offset, if stack-allocated.
	StackOffset int `json:"stackOffset,omitempty"`
}

// Symbol is a declared name. Symbols are immutable once created.
type Symbol struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Kind     SymbolKind      `json:"kind"`
	Range    sourcemap.Range `json:"range"`
	ScopeID  int             `json:"scopeId"`
	Storage  *Storage        `json:"storage,omitempty"`
	ParentID int             `json:"parentId,omitempty"` // 0 means no parent
}

// Scope is a lexical region owning a set of symbols. Scopes form a
// tree rooted at the global scope; every scope except the root has
// exactly one parent.
type Scope struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Kind      ScopeKind       `json:"kind"`
	Range     sourcemap.Range `json:"range"`
	ParentID  int             `json:"parentId"` // -1 for the root
	SymbolIDs []int           `json:"symbolIds"`
	ChildIDs  []int           `json:"childIds"`
}

// Parameter is a function parameter.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Function carries the debug info for one compiled function.
type Function struct {
	Name       string          `json:"name"`
	ReturnType string          `json:"returnType,omitempty"`
	Params     []Parameter     `json:"params,omitempty"`
	Locals     []string        `json:"locals,omitempty"`
	StartAddr  int64           `json:"startAddr"`
	EndAddr    int64           `json:"endAddr"`
	Range      sourcemap.Range `json:"range"`
}

// Field is a named, typed member of a declared type.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Type carries the debug info for one declared type.
type Type struct {
	Name    string          `json:"name"`
	Range   sourcemap.Range `json:"range"`
	Fields  []Field         `json:"fields,omitempty"`
	Methods []Function      `json:"methods,omitempty"`
}

// GlobalScopeID is the id of the root scope every table starts with.
const GlobalScopeID = 1

// Table is the symbol and scope registry for one compiled program.
type Table struct {
	mu sync.RWMutex

	scopes  map[int]*Scope
	symbols map[int]*Symbol

	functions []Function
	types     []Type

	current      int
	nextScopeID  int
	nextSymbolID int
}

// NewTable creates a table holding only the global scope, which is
// also the initial scope cursor.
func NewTable() *Table {
	t := &Table{
		scopes:       make(map[int]*Scope),
		symbols:      make(map[int]*Symbol),
		nextScopeID:  GlobalScopeID + 1,
		nextSymbolID: 1,
		current:      GlobalScopeID,
	}
	t.scopes[GlobalScopeID] = &Scope{
		ID:       GlobalScopeID,
		Name:     "global",
		Kind:     ScopeGlobal,
		ParentID: -1,
	}
	return t
}

// CreateScope allocates a new scope as a child of parentID. A
// parentID of 0 means the current scope cursor.
func (t *Table) CreateScope(name string, kind ScopeKind, rng sourcemap.Range, parentID int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if parentID == 0 {
		parentID = t.current
	}

	parent, ok := t.scopes[parentID]
	if !ok {
		return 0, fmt.Errorf("create scope %q: parent %d: %w", name, parentID, ErrScopeNotFound)
	}

	id := t.nextScopeID
	t.nextScopeID++

	t.scopes[id] = &Scope{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Range:    rng,
		ParentID: parentID,
	}
	parent.ChildIDs = append(parent.ChildIDs, id)

	return id, nil
}

// CreateSymbol allocates a new symbol attached to the given scope. A
// scopeID of 0 means the current scope cursor; parentSymbolID of 0
// means no parent symbol.
func (t *Table) CreateSymbol(name string, kind SymbolKind, rng sourcemap.Range, scopeID, parentSymbolID int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if scopeID == 0 {
		scopeID = t.current
	}

	scope, ok := t.scopes[scopeID]
	if !ok {
		return 0, fmt.Errorf("create symbol %q: scope %d: %w", name, scopeID, ErrScopeNotFound)
	}

	id := t.nextSymbolID
	t.nextSymbolID++

	t.symbols[id] = &Symbol{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Range:    rng,
		ScopeID:  scopeID,
		ParentID: parentSymbolID,
	}
	scope.SymbolIDs = append(scope.SymbolIDs, id)

	return id, nil
}

// SetCurrentScope moves the population cursor. It has no effect on
// already-created entries.
func (t *Table) SetCurrentScope(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.scopes[id]; !ok {
		return fmt.Errorf("set current scope %d: %w", id, ErrScopeNotFound)
	}
	t.current = id
	return nil
}

// CurrentScope returns the population cursor.
func (t *Table) CurrentScope() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// SymbolsAt returns the ids of every symbol whose range spans the
// given location. The comparison is boundary-inclusive on start line,
// start column, end line and end column.
func (t *Table) SymbolsAt(loc sourcemap.Location) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []int
	for id := 1; id < t.nextSymbolID; id++ {
		sym, ok := t.symbols[id]
		if !ok {
			continue
		}
		if rangeCovers(sym.Range, loc) {
			out = append(out, id)
		}
	}
	return out
}

// rangeCovers reports whether loc lies within rng, inclusive on all
// four boundary fields.
func rangeCovers(rng sourcemap.Range, loc sourcemap.Location) bool {
	if rng.Start.File != loc.File {
		return false
	}
	if loc.Line < rng.Start.Line || loc.Line > rng.End.Line {
		return false
	}
	if loc.Line == rng.Start.Line && loc.Column < rng.Start.Column {
		return false
	}
	if loc.Line == rng.End.Line && loc.Column > rng.End.Column {
		return false
	}
	return true
}

// SymbolsInScope returns the symbol ids stored directly on a scope.
// Child scopes are not searched.
func (t *Table) SymbolsInScope(scopeID int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	scope, ok := t.scopes[scopeID]
	if !ok {
		return nil
	}
	out := make([]int, len(scope.SymbolIDs))
	copy(out, scope.SymbolIDs)
	return out
}

// Symbol returns the symbol with the given id.
func (t *Table) Symbol(id int) (Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sym, ok := t.symbols[id]
	if !ok {
		return Symbol{}, false
	}
	return *sym, true
}

// Scope returns the scope with the given id.
func (t *Table) Scope(id int) (Scope, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	scope, ok := t.scopes[id]
	if !ok {
		return Scope{}, false
	}

	out := *scope
	out.SymbolIDs = append([]int(nil), scope.SymbolIDs...)
	out.ChildIDs = append([]int(nil), scope.ChildIDs...)
	return out, true
}

// AddFunction records function debug info.
func (t *Table) AddFunction(fn Function) {
	t.mu.Lock()
	t.functions = append(t.functions, fn)
	t.mu.Unlock()
}

// AddType records type debug info.
func (t *Table) AddType(typ Type) {
	t.mu.Lock()
	t.types = append(t.types, typ)
	t.mu.Unlock()
}

// Functions returns a copy of all recorded functions.
func (t *Table) Functions() []Function {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Function, len(t.functions))
	copy(out, t.functions)
	return out
}

// Types returns a copy of all recorded types.
func (t *Table) Types() []Type {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Type, len(t.types))
	copy(out, t.types)
	return out
}

// FunctionAt returns the function whose source range matches rng
// exactly.
func (t *Table) FunctionAt(rng sourcemap.Range) (Function, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.functions {
		if t.functions[i].Range == rng {
			return t.functions[i], true
		}
	}
	return Function{}, false
}

// FunctionSpanning returns the first function whose range spans the
// given file and line.
func (t *Table) FunctionSpanning(file string, line int) (Function, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.functions {
		if t.functions[i].Range.Contains(file, line) {
			return t.functions[i], true
		}
	}
	return Function{}, false
}

// NextIDs returns the id counters, for persistence.
func (t *Table) NextIDs() (nextScope, nextSymbol int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextScopeID, t.nextSymbolID
}
