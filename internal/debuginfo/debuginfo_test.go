package debuginfo

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dshills/scriptdbg/internal/breakpoint"
	"github.com/dshills/scriptdbg/internal/sourcemap"
	"github.com/dshills/scriptdbg/internal/symtab"
)

func sampleInfo() *Info {
	info := New()
	info.SourceFiles = []SourceFile{{Source: "a.src", Generated: "a.out"}}
	info.SourceMappings = []sourcemap.Mapping{
		{
			Range: sourcemap.Range{
				Start: sourcemap.Location{File: "a.src", Line: 1, Column: 1},
				End:   sourcemap.Location{File: "a.src", Line: 1, Column: 20},
			},
			Address: 0,
			Length:  4,
		},
		{
			Range: sourcemap.Range{
				Start: sourcemap.Location{File: "a.src", Line: 2, Column: 1},
				End:   sourcemap.Location{File: "a.src", Line: 2, Column: 30},
			},
			Address: 4,
			Length:  4,
		},
	}
	info.Functions = []symtab.Function{
		{
			Name:      "main",
			StartAddr: 0,
			EndAddr:   8,
			Params:    []symtab.Parameter{{Name: "argc", Type: "int"}},
			Range: sourcemap.Range{
				Start: sourcemap.Location{File: "a.src", Line: 1, Column: 1},
				End:   sourcemap.Location{File: "a.src", Line: 3, Column: 1},
			},
		},
	}
	info.Types = []symtab.Type{
		{Name: "Point", Fields: []symtab.Field{{Name: "x", Type: "number"}}},
	}
	info.Breakpoints = []breakpoint.Breakpoint{
		{
			ID:              2,
			Kind:            breakpoint.KindLine,
			Location:        sourcemap.Location{File: "a.src", Line: 2, Column: 1},
			Enabled:         true,
			ResolvedAddress: 4,
		},
	}
	info.Metadata.NextBreakpointID = 3
	return info
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug", "a.dbg")

	want := sampleInfo()
	if err := want.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, loaded := Load(path)
	if !loaded {
		t.Fatal("Load reported fallback for a valid file")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadMissingFallsBack(t *testing.T) {
	got, loaded := Load(filepath.Join(t.TempDir(), "nope.dbg"))
	if loaded {
		t.Error("Load reported success for a missing file")
	}
	if got.Metadata.NextBreakpointID != 1 {
		t.Errorf("fresh document counter = %d, want 1", got.Metadata.NextBreakpointID)
	}
	if len(got.SourceMappings) != 0 || len(got.Breakpoints) != 0 {
		t.Error("fresh document is not empty")
	}
}

func TestLoadCorruptFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dbg")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, loaded := Load(path)
	if loaded {
		t.Error("Load reported success for a corrupt file")
	}
	if got.Metadata.Version != FormatVersion {
		t.Errorf("fresh document version = %d", got.Metadata.Version)
	}
}

func TestFromComponentsAndApply(t *testing.T) {
	maps := sourcemap.NewRegistry()
	maps.AddMapping(sourcemap.Range{
		Start: sourcemap.Location{File: "a.src", Line: 5, Column: 1},
		End:   sourcemap.Location{File: "a.src", Line: 5, Column: 10},
	}, 100, 2)

	table := symtab.NewTable()
	table.AddFunction(symtab.Function{Name: "f", StartAddr: 100, EndAddr: 110})

	bps := breakpoint.NewRegistry(nil)
	bps.Create(breakpoint.KindException, sourcemap.Location{}, "", 0)

	info := FromComponents(maps, table, bps, []SourceFile{{Source: "a.src", Generated: "a.out"}})

	if len(info.SourceMappings) != 1 {
		t.Fatalf("mappings = %d, want 1", len(info.SourceMappings))
	}
	if len(info.Functions) != 1 {
		t.Fatalf("functions = %d, want 1", len(info.Functions))
	}
	if info.Metadata.NextBreakpointID != 2 {
		t.Errorf("next breakpoint id = %d, want 2", info.Metadata.NextBreakpointID)
	}

	// Applying onto fresh registries restores the same state.
	maps2 := sourcemap.NewRegistry()
	table2 := symtab.NewTable()
	bps2 := breakpoint.NewRegistry(nil)
	info.Apply(maps2, table2, bps2)

	if maps2.Len() != 1 {
		t.Errorf("applied mappings = %d, want 1", maps2.Len())
	}
	if len(table2.Functions()) != 1 {
		t.Errorf("applied functions = %d, want 1", len(table2.Functions()))
	}
	if bps2.Count() != 1 {
		t.Errorf("applied breakpoints = %d, want 1", bps2.Count())
	}
	if bps2.NextID() != 2 {
		t.Errorf("applied next id = %d, want 2", bps2.NextID())
	}
}

func TestWatcherDeliversReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.dbg")

	if err := New().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	updated := sampleInfo()
	if err := updated.Save(path); err != nil {
		t.Fatalf("Save updated: %v", err)
	}

	select {
	case info := <-w.Reloads():
		if len(info.SourceMappings) != 2 {
			t.Errorf("reloaded mappings = %d, want 2", len(info.SourceMappings))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.dbg")
	if err := New().Save(path); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := w.Close(); err != ErrWatcherClosed {
		t.Errorf("second Close = %v, want ErrWatcherClosed", err)
	}
}
