package luavm

import (
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Instrument rewrites Lua source so a probe call runs before each
// statement. Probe calls are inserted at the start of every line on
// which a statement begins; line numbers are preserved, so positions
// reported during execution match the original file.
//
// A statement sharing a line with the tail of an earlier multi-line
// construct is left uninstrumented rather than risk splitting that
// construct; the debugger then observes the surrounding statements
// instead.
func Instrument(source, name string) (string, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}

	lines := strings.Split(source, "\n")
	marks := make(map[int]bool)
	markStatements(chunk, marks)

	out := make([]string, len(lines))
	for i, line := range lines {
		n := i + 1
		if marks[n] && startsStatement(line) {
			out[i] = probeGlobal + "(); " + line
		} else {
			out[i] = line
		}
	}

	instrumented := strings.Join(out, "\n")

	// An insertion inside a construct the marker walk misjudged
	// would corrupt the program; verify and fall back to running
	// without line events.
	if _, err := parse.Parse(strings.NewReader(instrumented), name); err != nil {
		return source, nil
	}
	return instrumented, nil
}

// startsStatement filters lines where prefix insertion is unsafe:
// continuation keywords carry the tail of an enclosing construct even
// when a statement list begins on the same line.
func startsStatement(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || strings.HasPrefix(trimmed, "--") {
		return false
	}
	for _, kw := range []string{"else", "elseif", "end", "until", "then", ")"} {
		if trimmed == kw || strings.HasPrefix(trimmed, kw+" ") || strings.HasPrefix(trimmed, kw+"\t") {
			return false
		}
	}
	return true
}

// markStatements records the starting line of every statement,
// descending into nested blocks and function literals.
func markStatements(stmts []ast.Stmt, marks map[int]bool) {
	for _, stmt := range stmts {
		marks[stmt.Line()] = true

		switch st := stmt.(type) {
		case *ast.AssignStmt:
			markExprs(st.Rhs, marks)
		case *ast.LocalAssignStmt:
			markExprs(st.Exprs, marks)
		case *ast.FuncCallStmt:
			markExprs([]ast.Expr{st.Expr}, marks)
		case *ast.DoBlockStmt:
			markStatements(st.Stmts, marks)
		case *ast.WhileStmt:
			markStatements(st.Stmts, marks)
		case *ast.RepeatStmt:
			markStatements(st.Stmts, marks)
		case *ast.IfStmt:
			markStatements(st.Then, marks)
			markStatements(st.Else, marks)
		case *ast.NumberForStmt:
			markStatements(st.Stmts, marks)
		case *ast.GenericForStmt:
			markStatements(st.Stmts, marks)
		case *ast.FuncDefStmt:
			markStatements(st.Func.Stmts, marks)
		case *ast.ReturnStmt:
			markExprs(st.Exprs, marks)
		}
	}
}

// markExprs descends into expressions that can carry function
// literals with their own statement bodies.
func markExprs(exprs []ast.Expr, marks map[int]bool) {
	for _, expr := range exprs {
		switch ex := expr.(type) {
		case *ast.FunctionExpr:
			markStatements(ex.Stmts, marks)
		case *ast.FuncCallExpr:
			if ex.Func != nil {
				markExprs([]ast.Expr{ex.Func}, marks)
			}
			markExprs(ex.Args, marks)
		case *ast.TableExpr:
			for _, field := range ex.Fields {
				if field.Value != nil {
					markExprs([]ast.Expr{field.Value}, marks)
				}
			}
		case *ast.LogicalOpExpr:
			markExprs([]ast.Expr{ex.Lhs, ex.Rhs}, marks)
		}
	}
}
