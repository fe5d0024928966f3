package irgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euxaristia/pcc-sub000/compiler/ast"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

func build(t *testing.T, decls ...ast.Decl) *ir.Module {
	t.Helper()

	m, err := New().Build(context.Background(), &ast.Program{Decls: decls})
	require.NoError(t, err)

	return m
}

func mainFn(body ...ast.Stmt) ast.FuncDecl {
	return ast.FuncDecl{
		Name: "main",
		Ret:  ast.TypeName{Base: "int"},
		Body: &ast.BlockStmt{Stmts: body},
	}
}

// int main() { int x = 42; return x; }
// The constant must flow through a stack slot: store to the slot of x,
// load from the same slot, return the loaded value.
func TestConstRoundTrip(t *testing.T) {
	m := build(t, mainFn(
		ast.DeclStmt{Decl: ast.VarDecl{
			Name: "x",
			Type: ast.TypeName{Base: "int"},
			Init: []ast.Expr{ast.NumLit{Text: "42"}},
		}},
		ast.ReturnStmt{X: ast.Ident{Name: "x"}},
	))

	require.Len(t, m.Funcs, 1)
	f := m.Funcs[0]
	t.Logf("ir:\n%s", f.Dump())

	var slot ir.Expr = -1

	for id, x := range f.Exprs {
		if a, ok := x.(ir.Alloca); ok && a.Name == "x" {
			slot = ir.Expr(id)
		}
	}

	require.GreaterOrEqual(t, int(slot), 0, "no slot for x")

	var stored, loaded ir.Expr = -1, -1

	for id, x := range f.Exprs {
		switch x := x.(type) {
		case ir.Store:
			if x.Addr == slot {
				stored = x.Val
			}
		case ir.Load:
			if x.Addr == slot {
				loaded = ir.Expr(id)
			}
		}
	}

	require.GreaterOrEqual(t, int(stored), 0)
	require.GreaterOrEqual(t, int(loaded), 0)

	imm, ok := f.Exprs[stored].(ir.Imm)
	require.True(t, ok)
	assert.EqualValues(t, 42, imm.Int)
	assert.Equal(t, ir.I32, imm.Type)

	ret := lastRet(t, f)
	assert.Equal(t, loaded, ret.Value)
}

func TestParamSlot(t *testing.T) {
	m := build(t, ast.FuncDecl{
		Name:   "id",
		Ret:    ast.TypeName{Base: "int"},
		Params: []ast.ParamDecl{{Name: "v", Type: ast.TypeName{Base: "int"}}},
		Body: &ast.BlockStmt{Stmts: []ast.Stmt{
			ast.ReturnStmt{X: ast.Ident{Name: "v"}},
		}},
	})

	f := m.Funcs[0]

	// entry must alloca the parameter slot and store the incoming value
	entry := f.Blocks[0]
	assert.Equal(t, "entry", entry.Label)

	var hasArg, hasStore bool

	for _, id := range entry.Code {
		switch f.Exprs[id].(type) {
		case ir.Arg:
			hasArg = true
		case ir.Store:
			hasStore = true
		}
	}

	assert.True(t, hasArg)
	assert.True(t, hasStore)
}

func TestUndeclaredIdent(t *testing.T) {
	_, err := New().Build(context.Background(), &ast.Program{Decls: []ast.Decl{
		mainFn(ast.ReturnStmt{X: ast.Ident{Name: "y"}}),
	}})

	require.ErrorIs(t, err, ErrLowering)
}

func TestGotoLabel(t *testing.T) {
	m := build(t, mainFn(
		ast.GotoStmt{Label: "end"},
		ast.LabeledStmt{Label: "end", Stmt: ast.ReturnStmt{X: ast.NumLit{Text: "1"}}},
	))

	f := m.Funcs[0]
	t.Logf("ir:\n%s", f.Dump())

	idx := f.BlockIndex()
	_, ok := idx["l.end"]
	assert.True(t, ok, "label block missing: %v", idx)
}

func TestGotoUndefined(t *testing.T) {
	_, err := New().Build(context.Background(), &ast.Program{Decls: []ast.Decl{
		mainFn(ast.GotoStmt{Label: "nowhere"}),
	}})

	require.ErrorIs(t, err, ErrLowering)
}

// Every alloca lands in the entry block, the ternary merge slot included.
func TestTernarySlot(t *testing.T) {
	m := build(t, mainFn(
		ast.ReturnStmt{X: ast.Cond{
			C: ast.NumLit{Text: "1"},
			T: ast.NumLit{Text: "10"},
			F: ast.NumLit{Text: "20"},
		}},
	))

	f := m.Funcs[0]
	t.Logf("ir:\n%s", f.Dump())

	allocas := 0

	for _, id := range f.Blocks[0].Code {
		if _, ok := f.Exprs[id].(ir.Alloca); ok {
			allocas++
		}
	}

	assert.Equal(t, 1, allocas)

	for bi := 1; bi < len(f.Blocks); bi++ {
		for _, id := range f.Blocks[bi].Code {
			_, ok := f.Exprs[id].(ir.Alloca)
			assert.False(t, ok, "alloca outside the entry block")
		}
	}

	// both arms store to the slot, the merge loads it
	stores, loads := 0, 0

	for _, x := range f.Exprs {
		switch x.(type) {
		case ir.Store:
			stores++
		case ir.Load:
			loads++
		}
	}

	assert.GreaterOrEqual(t, stores, 2)
	assert.GreaterOrEqual(t, loads, 1)
}

// for (;;) lowers the missing condition to a constant 1.
func TestForMissingCond(t *testing.T) {
	m := build(t, mainFn(
		ast.ForStmt{
			Body: &ast.BlockStmt{Stmts: []ast.Stmt{ast.BreakStmt{}}},
		},
		ast.ReturnStmt{X: ast.NumLit{Text: "0"}},
	))

	f := m.Funcs[0]
	t.Logf("ir:\n%s", f.Dump())

	found := false

	for id, x := range f.Exprs {
		imm, ok := x.(ir.Imm)
		if !ok || imm.Int != 1 {
			continue
		}

		for _, b := range f.Blocks {
			for _, c := range b.Code {
				bc, ok := f.Exprs[c].(ir.BCond)
				if ok && usedBy(f, bc.Cond, ir.Expr(id)) {
					found = true
				}
			}
		}
	}

	assert.True(t, found, "no constant-true loop condition")
}

// Nested blocks arrive both as values and as pointers, the function
// body being a pointer. Both shapes must lower.
func TestBlockStmtForms(t *testing.T) {
	m := build(t, mainFn(
		ast.IfStmt{
			Cond: ast.NumLit{Text: "1"},
			Then: &ast.BlockStmt{Stmts: []ast.Stmt{
				ast.ReturnStmt{X: ast.NumLit{Text: "1"}},
			}},
			Else: ast.BlockStmt{Stmts: []ast.Stmt{
				ast.ReturnStmt{X: ast.NumLit{Text: "2"}},
			}},
		},
	))

	f := m.Funcs[0]
	t.Logf("ir:\n%s", f.Dump())

	rets := 0

	for _, x := range f.Exprs {
		if _, ok := x.(ir.Ret); ok {
			rets++
		}
	}

	assert.GreaterOrEqual(t, rets, 2)
}

func TestWhileShape(t *testing.T) {
	m := build(t, mainFn(
		ast.DeclStmt{Decl: ast.VarDecl{
			Name: "i",
			Type: ast.TypeName{Base: "int"},
			Init: []ast.Expr{ast.NumLit{Text: "0"}},
		}},
		ast.WhileStmt{
			Cond: ast.Binary{Op: "<", L: ast.Ident{Name: "i"}, R: ast.NumLit{Text: "10"}},
			Body: &ast.BlockStmt{Stmts: []ast.Stmt{
				ast.ExprStmt{X: ast.Unary{Op: "++", X: ast.Ident{Name: "i"}}},
			}},
		},
		ast.ReturnStmt{X: ast.Ident{Name: "i"}},
	))

	f := m.Funcs[0]
	t.Logf("ir:\n%s", f.Dump())

	// entry, cond, body, after at minimum; every block terminated
	assert.GreaterOrEqual(t, len(f.Blocks), 4)

	for i := range f.Blocks {
		assert.True(t, f.Terminated(&f.Blocks[i]), "block %v not terminated", f.Blocks[i].Label)
	}
}

func TestEnumConstant(t *testing.T) {
	m := build(t,
		ast.EnumDecl{Names: []string{"A", "B"}, Values: []int64{0, 7}},
		mainFn(ast.ReturnStmt{X: ast.Ident{Name: "B"}}),
	)

	f := m.Funcs[0]

	found := false

	for _, x := range f.Exprs {
		if imm, ok := x.(ir.Imm); ok && imm.Int == 7 {
			found = true
		}
	}

	assert.True(t, found)
}

func TestGlobalInit(t *testing.T) {
	m := build(t,
		ast.VarDecl{
			Name: "arr", Type: ast.TypeName{Base: "int"}, Array: true, Size: 8,
			Init: []ast.Expr{
				ast.NumLit{Text: "1"},
				ast.Unary{Op: "-", X: ast.NumLit{Text: "2"}},
			},
		},
		ast.VarDecl{Name: "z", Type: ast.TypeName{Base: "long"}, Array: true, Size: 4},
	)

	require.Len(t, m.Globals, 2)

	arr := m.Globals[0]
	assert.Equal(t, 8, arr.Len)
	require.Len(t, arr.Init, 2)
	assert.EqualValues(t, -2, arr.Init[1].Int)

	assert.Nil(t, m.Globals[1].Init)
}

func TestGlobalTooManyInit(t *testing.T) {
	_, err := New().Build(context.Background(), &ast.Program{Decls: []ast.Decl{
		ast.VarDecl{
			Name: "a", Type: ast.TypeName{Base: "int"}, Array: true, Size: 1,
			Init: []ast.Expr{ast.NumLit{Text: "1"}, ast.NumLit{Text: "2"}},
		},
	}})

	require.ErrorIs(t, err, ErrLowering)
}

func TestLiteralTyping(t *testing.T) {
	for _, tc := range []struct {
		text string
		typ  ir.Type
	}{
		{"42", ir.I32},
		{"42l", ir.I64},
		{"0x10", ir.I32},
		{"1.5f", ir.F32},
		{"1.5", ir.F64},
		{"1e3", ir.F64},
	} {
		m := build(t, mainFn(ast.ReturnStmt{X: ast.NumLit{Text: tc.text}}))

		f := m.Funcs[0]

		var imm ir.Imm

		for _, x := range f.Exprs {
			if v, ok := x.(ir.Imm); ok {
				imm = v
			}
		}

		assert.Equal(t, tc.typ, imm.Type, "literal %q", tc.text)
	}
}

func lastRet(t *testing.T, f *ir.Func) ir.Ret {
	t.Helper()

	for bi := len(f.Blocks) - 1; bi >= 0; bi-- {
		b := f.Blocks[bi]

		for i := len(b.Code) - 1; i >= 0; i-- {
			if r, ok := f.Exprs[b.Code[i]].(ir.Ret); ok {
				return r
			}
		}
	}

	t.Fatalf("no ret in %v", f.Name)

	return ir.Ret{}
}

func usedBy(f *ir.Func, cond, id ir.Expr) bool {
	if cond == id {
		return true
	}

	// the loop condition may be normalized through a comparison
	if c, ok := f.Exprs[cond].(ir.Cmp); ok {
		return c.L == id || c.R == id
	}

	return false
}
