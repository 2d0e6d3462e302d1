// Package debuginfo persists the debug information of a compiled
// script: source mappings, functions, types, breakpoints and the id
// counters needed to resume where the generator left off.
//
// The on-disk form is a structured JSON document built from the typed
// model, never hand-assembled strings. Loading a missing or corrupt
// file yields a fresh empty document rather than an error so a session
// can always start.
package debuginfo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/scriptdbg/internal/breakpoint"
	"github.com/dshills/scriptdbg/internal/sourcemap"
	"github.com/dshills/scriptdbg/internal/symtab"
)

// FormatVersion is the current document version.
const FormatVersion = 1

// SourceFile pairs a source path with the generated output it
// compiled to.
type SourceFile struct {
	Source    string `json:"source"`
	Generated string `json:"generated"`
}

// Metadata carries the id counters of the generating registries.
type Metadata struct {
	Version          int `json:"version"`
	NextBreakpointID int `json:"nextBreakpointId"`
	NextScopeID      int `json:"nextScopeId"`
	NextSymbolID     int `json:"nextSymbolId"`
}

// Info is the persisted debug-info document.
type Info struct {
	SourceFiles    []SourceFile            `json:"sourceFiles"`
	SourceMappings []sourcemap.Mapping     `json:"sourceMappings"`
	Functions      []symtab.Function       `json:"functions"`
	Types          []symtab.Type           `json:"types"`
	Breakpoints    []breakpoint.Breakpoint `json:"breakpoints"`
	Metadata       Metadata                `json:"metadata"`
}

// New returns an empty document at the current format version.
func New() *Info {
	return &Info{
		Metadata: Metadata{
			Version:          FormatVersion,
			NextBreakpointID: 1,
			NextScopeID:      symtab.GlobalScopeID + 1,
			NextSymbolID:     1,
		},
	}
}

// Load reads a document from disk. A missing or corrupt file falls
// back to a fresh empty document; the boolean reports whether the
// file's contents were actually used.
func Load(path string) (*Info, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(), false
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return New(), false
	}
	if info.Metadata.Version == 0 {
		info.Metadata.Version = FormatVersion
	}

	return &info, true
}

// Save writes the document to disk, creating parent directories as
// needed.
func (info *Info) Save(path string) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal debug info: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write debug info: %w", err)
	}

	return nil
}

// FromComponents snapshots live registries into a document.
func FromComponents(maps *sourcemap.Registry, table *symtab.Table, bps *breakpoint.Registry, files []SourceFile) *Info {
	info := New()
	info.SourceFiles = append(info.SourceFiles, files...)

	if maps != nil {
		info.SourceMappings = maps.Mappings()
	}
	if table != nil {
		info.Functions = table.Functions()
		info.Types = table.Types()
		info.Metadata.NextScopeID, info.Metadata.NextSymbolID = table.NextIDs()
	}
	if bps != nil {
		info.Breakpoints = bps.List()
		info.Metadata.NextBreakpointID = bps.NextID()
	}

	return info
}

// Apply populates live registries from the document. Breakpoints are
// re-resolved against whatever resolver the registry carries.
func (info *Info) Apply(maps *sourcemap.Registry, table *symtab.Table, bps *breakpoint.Registry) {
	if maps != nil {
		for _, m := range info.SourceMappings {
			maps.AddMapping(m.Range, m.Address, m.Length)
		}
	}
	if table != nil {
		for _, fn := range info.Functions {
			table.AddFunction(fn)
		}
		for _, typ := range info.Types {
			table.AddType(typ)
		}
	}
	if bps != nil {
		bps.Restore(info.Breakpoints, info.Metadata.NextBreakpointID)
	}
}
