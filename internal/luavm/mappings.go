package luavm

import (
	"fmt"
	"os"
	"strings"

	"github.com/dshills/scriptdbg/internal/sourcemap"
)

// SeedLineMappings registers one identity mapping per source line,
// with the line number as its generated address. Plain Lua programs
// have no code generator producing a source map, so this gives line
// breakpoints an address space that matches the interpreter's line
// events.
func SeedLineMappings(maps *sourcemap.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		n := i + 1
		maps.AddMapping(sourcemap.Range{
			Start: sourcemap.Location{File: path, Line: n, Column: 1},
			End:   sourcemap.Location{File: path, Line: n, Column: len(line) + 1},
		}, int64(n), 1)
	}
	return nil
}
