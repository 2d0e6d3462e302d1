package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if cfg != Default() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scriptdbg.toml")
	content := `
program = "scripts/main.lua"
debug_info = "build/main.dbg.json"
listen = "127.0.0.1:9229"
break_on_start = true
context_lines = 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Program != "scripts/main.lua" {
		t.Errorf("Program = %q", cfg.Program)
	}
	if cfg.DebugInfo != "build/main.dbg.json" {
		t.Errorf("DebugInfo = %q", cfg.DebugInfo)
	}
	if cfg.Listen != "127.0.0.1:9229" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if !cfg.BreakOnStart {
		t.Error("BreakOnStart = false, want true")
	}
	if cfg.ContextLines != 3 {
		t.Errorf("ContextLines = %d, want 3", cfg.ContextLines)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("program = [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error %v is not a *ParseError", err)
	}
	if parseErr.Path != path {
		t.Errorf("ParseError.Path = %q, want %q", parseErr.Path, path)
	}
}

func TestLoadNegativeContextLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scriptdbg.toml")
	if err := os.WriteFile(path, []byte("context_lines = -2"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ContextLines != 5 {
		t.Errorf("ContextLines = %d, want default 5", cfg.ContextLines)
	}
}
