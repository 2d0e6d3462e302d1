// Package render formats debugger state as plain text for display.
// It is a pure formatting layer: callers pass snapshots in, text
// comes out, and nothing here reads or mutates session state.
package render

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dshills/scriptdbg/internal/breakpoint"
)

// Variable is one named value for display.
type Variable struct {
	Name  string
	Value string
	Type  string
}

// Frame is one call stack entry for display.
type Frame struct {
	Name string
	File string
	Line int
}

// Memory renders bytes as two-hex-digit octets separated by single
// spaces, wrapped to 16 bytes per line with no trailing whitespace.
func Memory(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var b strings.Builder
	for i, octet := range data {
		if i > 0 {
			if i%16 == 0 {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintf(&b, "%02x", octet)
	}
	return b.String()
}

// Breakpoints renders a breakpoint table.
func Breakpoints(bps []breakpoint.Breakpoint) string {
	if len(bps) == 0 {
		return "no breakpoints set\n"
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tLOCATION\tENABLED\tHITS\tCONDITION")
	for _, bp := range bps {
		location := fmt.Sprintf("%s:%d", bp.Location.File, bp.Location.Line)
		if bp.Kind == breakpoint.KindException {
			location = "-"
		}
		hits := fmt.Sprintf("%d", bp.HitCount)
		if bp.HitCountLimit > 0 {
			hits = fmt.Sprintf("%d/%d", bp.HitCount, bp.HitCountLimit)
		}
		condition := bp.Condition
		if condition == "" {
			condition = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n",
			bp.ID, bp.Kind, location, bp.Enabled, hits, condition)
	}
	w.Flush()
	return b.String()
}

// Variables renders a variable listing for one scope.
func Variables(scope string, vars []Variable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s variables:\n", scope)
	if len(vars) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, v := range vars {
		fmt.Fprintf(w, "  %s\t%s\t= %s\n", v.Name, v.Type, v.Value)
	}
	w.Flush()
	return b.String()
}

// CallStack renders call frames innermost first.
func CallStack(frames []Frame) string {
	if len(frames) == 0 {
		return "call stack unavailable\n"
	}

	var b strings.Builder
	for i, f := range frames {
		name := f.Name
		if name == "" {
			name = "?"
		}
		fmt.Fprintf(&b, "#%d %s at %s:%d\n", i, name, f.File, f.Line)
	}
	return b.String()
}

// Source renders a numbered source listing. Lines carry their real
// line numbers starting at firstLine; currentLine gets the execution
// marker.
func Source(file string, lines []string, firstLine, currentLine int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", file)
	for i, line := range lines {
		n := firstLine + i
		marker := "  "
		if n == currentLine {
			marker = "=>"
		}
		fmt.Fprintf(&b, "%s %4d  %s\n", marker, n, line)
	}
	return b.String()
}
