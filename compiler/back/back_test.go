package back

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

func addFunc() *ir.Func {
	f := &ir.Func{
		Name: "add",
		Ret:  ir.I32,
		In: []ir.Param{
			{Name: "a", Type: ir.I32},
			{Name: "b", Type: ir.I32},
		},
	}

	a := f.Add(ir.Arg{Type: ir.I32, Index: 0})
	b := f.Add(ir.Arg{Type: ir.I32, Index: 1})
	sum := f.Add(ir.Bin{Op: ir.ADD, Type: ir.I32, L: a, R: b})
	ret := f.Add(ir.Ret{Value: sum})

	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{a, b, sum, ret}}}

	return f
}

func TestReturnConstantX86(t *testing.T) {
	f := &ir.Func{Name: "main", Ret: ir.I32}

	v := f.Add(ir.Imm{Type: ir.I32, Int: 42})
	r := f.Add(ir.Ret{Value: v})
	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{v, r}}}

	m := &ir.Module{Name: "test", Funcs: []*ir.Func{f}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\t.globl\tmain\n")
	assert.Contains(t, asm, "\tmovq\t$42, ")
	assert.Contains(t, asm, ", %rax\n")
	assert.Contains(t, asm, "\tret\n")
	assert.NotEmpty(t, obj.Text)
}

// The first argument lands in the first argument register of each ABI
// and copying it out must not reuse a live argument register.
func TestArgOrderX86(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{addFunc()}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tmovq\t%rdi, %r10\n")
	assert.Contains(t, asm, "\tmovq\t%rsi, %r11\n")
	assert.Contains(t, asm, "\taddq\t")
}

func TestArgOrderArm64(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{addFunc()}}

	obj, err := New(arch.Arm64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tmov\tx9, x0\n")
	assert.Contains(t, asm, "\tmov\tx10, x1\n")
	assert.Contains(t, asm, "\tadd\tx11, x9, x10\n")
	assert.Contains(t, asm, "\tstp\tx29, x30, [sp, #-16]!\n")
	assert.Contains(t, asm, "\tret\n")
}

func TestDivModX86(t *testing.T) {
	f := &ir.Func{Name: "f", Ret: ir.I32}

	l := f.Add(ir.Imm{Type: ir.I32, Int: 7})
	r := f.Add(ir.Imm{Type: ir.I32, Int: 2})
	q := f.Add(ir.Bin{Op: ir.MOD, Type: ir.I32, L: l, R: r})
	ret := f.Add(ir.Ret{Value: q})
	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{l, r, q, ret}}}

	m := &ir.Module{Name: "test", Funcs: []*ir.Func{f}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tcqo\n")
	assert.Contains(t, asm, "\tidivq\t")
	assert.NotContains(t, asm, "\tidivq\t%rax")
	assert.NotContains(t, asm, "\tidivq\t%rdx")
	assert.Contains(t, asm, "\tmovq\t%rdx, ") // remainder moved out
}

// White-box: when rax is occupied across a division it is pushed
// around the rax:rdx sequence and restored after.
func TestDivModSavesLive(t *testing.T) {
	f := &ir.Func{Name: "f", Ret: ir.I32}

	l := f.Add(ir.Imm{Type: ir.I32, Int: 7})
	r := f.Add(ir.Imm{Type: ir.I32, Int: 2})
	d := f.Add(ir.Bin{Op: ir.DIV, Type: ir.I32, L: l, R: r})

	a := arch.X86_64()
	g := &funcgen{
		a:    a,
		f:    f,
		al:   NewAllocator(a),
		fr:   NewFrame(a.StackAlign),
		uses: countUses(f),
		flt:  &litpool{index: map[flit]string{}},

		scratchID: -1,
	}

	// occupy the whole caller-save file, rax included
	for i := 0; i < len(a.CallerSaveInt); i++ {
		_, err := g.al.Alloc(ir.Expr(100+i), arch.Int)
		require.NoError(t, err)
	}

	require.True(t, g.al.Busy("rax"))
	require.True(t, g.al.Busy("rdx"))

	g.al.Free(ir.Expr(100)) // make room for the operands
	g.al.Free(ir.Expr(101))

	var b []byte
	var err error

	for _, id := range []ir.Expr{l, r} {
		b, err = x86sel{}.instr(b, g, id)
		require.NoError(t, err)

		g.release(id)
	}

	b, err = x86sel{}.instr(b, g, d)
	require.NoError(t, err)

	asm := string(b)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tpushq\t%rax\n")
	assert.Contains(t, asm, "\tpopq\t%rax\n")
	assert.Less(t, strings.Index(asm, "pushq\t%rax"), strings.Index(asm, "cqo"))
	assert.Less(t, strings.Index(asm, "cqo"), strings.Index(asm, "popq\t%rax"))

	res, ok := g.al.Reg(d)
	require.True(t, ok)
	assert.NotEqual(t, "rax", res.Name)
	assert.NotEqual(t, "rdx", res.Name)
}

func TestCallABIX86(t *testing.T) {
	f := &ir.Func{Name: "main", Ret: ir.I32}

	a5 := f.Add(ir.Imm{Type: ir.I32, Int: 5})
	a3 := f.Add(ir.Imm{Type: ir.I32, Int: 3})
	c := f.Add(ir.Call{Func: "add", Type: ir.I32, Args: []ir.Expr{a5, a3}})
	ret := f.Add(ir.Ret{Value: c})
	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{a5, a3, c, ret}}}

	m := &ir.Module{Name: "test", Funcs: []*ir.Func{f}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tcall\tadd\n")
	assert.Contains(t, asm, "\tpopq\t%rdi\n")
	assert.Contains(t, asm, "\tpopq\t%rsi\n")

	// second argument is popped first, LIFO against the pushes
	assert.Less(t, strings.Index(asm, "popq\t%rsi"), strings.Index(asm, "popq\t%rdi"))
	assert.Less(t, strings.Index(asm, "popq\t%rdi"), strings.Index(asm, "call\tadd"))
}

func TestFrameLayout(t *testing.T) {
	f := &ir.Func{Name: "f", Ret: ir.I32}

	x := f.Add(ir.Alloca{Name: "x", Type: ir.I32, Size: 4})
	y := f.Add(ir.Alloca{Name: "buf", Type: ir.I32, Size: 40})
	v := f.Add(ir.Imm{Type: ir.I32, Int: 1})
	st := f.Add(ir.Store{Type: ir.I32, Val: v, Addr: x})
	ret := f.Add(ir.Ret{Value: v})
	_ = y

	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{x, y, v, st, ret}}}

	m := &ir.Module{Name: "test", Funcs: []*ir.Func{f}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	// 4 bytes rounded to 16, plus 40 rounded: 64 total
	assert.Contains(t, asm, "\tsubq\t$64, %rsp\n")
	assert.Contains(t, asm, "-16(%rbp)")
}

func TestGlobalPadding(t *testing.T) {
	m := &ir.Module{
		Name: "test",
		Globals: []ir.Data{
			{
				Name: "arr", Type: ir.I32, Array: true, Len: 8,
				Init: []ir.Const{
					{Type: ir.I32, Int: 1},
					{Type: ir.I32, Int: 2},
					{Type: ir.I32, Int: 3},
				},
			},
			{Name: "zeros", Type: ir.I64, Array: true, Len: 4},
		},
	}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	// 8 ints declared, 3 initialized, 20 bytes of padding
	assert.Contains(t, asm, "\t.zero\t20\n")
	assert.Len(t, obj.Data, 32)

	assert.Contains(t, asm, "\t.bss\n")
	assert.Contains(t, asm, "\t.balign\t4\n")
	assert.Equal(t, 32, obj.BssSize)
	assert.Equal(t, []byte{1, 0, 0, 0}, obj.Data[:4])
}

func ltFunc() *ir.Func {
	f := &ir.Func{
		Name: "lt",
		Ret:  ir.I32,
		In: []ir.Param{
			{Name: "a", Type: ir.F64},
			{Name: "b", Type: ir.F64},
		},
	}

	a := f.Add(ir.Arg{Type: ir.F64, Index: 0})
	b := f.Add(ir.Arg{Type: ir.F64, Index: 1})
	c := f.Add(ir.Cmp{Op: ir.LT, Type: ir.F64, L: a, R: b})
	ret := f.Add(ir.Ret{Value: c})

	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{a, b, c, ret}}}

	return f
}

// Float comparison reads flags the way an unsigned compare sets them.
func TestFloatCmpX86(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{ltFunc()}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tmovsd\t%xmm0, %xmm8\n")
	assert.Contains(t, asm, "\tmovsd\t%xmm1, %xmm9\n")
	assert.Contains(t, asm, "\tucomisd\t%xmm9, %xmm8\n")
	assert.Contains(t, asm, "\tsetb\t%r10b\n")
	assert.Contains(t, asm, "\tmovzbq\t%r10b, %r10\n")
}

func TestFloatCmpArm64(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{ltFunc()}}

	obj, err := New(arch.Arm64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tfmov\td16, d0\n")
	assert.Contains(t, asm, "\tfmov\td17, d1\n")
	assert.Contains(t, asm, "\tfcmp\td16, d17\n")
	assert.Contains(t, asm, "\tcset\tx9, lo\n")
}

// Float literals go through a module-level pool in .data: a label in
// the listing and the packed bits in the payload, both 8-aligned.
func TestFloatLiteralPool(t *testing.T) {
	f := &ir.Func{Name: "fval", Ret: ir.F64}

	v := f.Add(ir.Imm{Type: ir.F64, Flt: 2.5})
	ret := f.Add(ir.Ret{Value: v})
	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{v, ret}}}

	m := &ir.Module{Name: "test", Funcs: []*ir.Func{f}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\t.data\n")
	assert.Contains(t, asm, "\t.balign\t8\n")
	assert.Contains(t, asm, ".Lflt0:\n")
	assert.Contains(t, asm, "\t.double\t2.5\n")
	assert.Contains(t, asm, "\tmovsd\t.Lflt0(%rip), %xmm8\n")
	assert.Contains(t, asm, "\tmovsd\t%xmm8, %xmm0\n")

	want := binary.LittleEndian.AppendUint64(nil, math.Float64bits(2.5))
	assert.Equal(t, want, obj.Data)
}

func convFunc() *ir.Func {
	f := &ir.Func{Name: "conv", Ret: ir.I32}

	i := f.Add(ir.Imm{Type: ir.I32, Int: 3})
	wide := f.Add(ir.Conv{Op: ir.SITOFP, Type: ir.F64, X: i})
	narrow := f.Add(ir.Conv{Op: ir.FPTRUNC, Type: ir.F32, X: wide})
	back := f.Add(ir.Conv{Op: ir.FPEXT, Type: ir.F64, X: narrow})
	n := f.Add(ir.Conv{Op: ir.FPTOSI, Type: ir.I32, X: back})
	ret := f.Add(ir.Ret{Value: n})

	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{i, wide, narrow, back, n, ret}}}

	return f
}

func TestFloatConvX86(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{convFunc()}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tcvtsi2sdq\t%r10, %xmm8\n")
	assert.Contains(t, asm, "\tcvtsd2ss\t%xmm8, %xmm9\n")
	assert.Contains(t, asm, "\tcvtss2sd\t%xmm9, %xmm8\n")
	assert.Contains(t, asm, "\tcvttsd2siq\t%xmm8, %r10\n")
}

func TestFloatConvArm64(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{convFunc()}}

	obj, err := New(arch.Arm64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tscvtf\td16, x9\n")
	assert.Contains(t, asm, "\tfcvt\ts17, d16\n")
	assert.Contains(t, asm, "\tfcvt\td16, s17\n")
	assert.Contains(t, asm, "\tfcvtzs\tx9, d16\n")
}

func mixedCallFunc() *ir.Func {
	f := &ir.Func{Name: "main", Ret: ir.I32}

	i1 := f.Add(ir.Imm{Type: ir.I32, Int: 1})
	f2 := f.Add(ir.Imm{Type: ir.F64, Flt: 2.5})
	i3 := f.Add(ir.Imm{Type: ir.I32, Int: 3})
	c := f.Add(ir.Call{Func: "g", Type: ir.I32, Args: []ir.Expr{i1, f2, i3}})
	ret := f.Add(ir.Ret{Value: c})

	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{i1, f2, i3, c, ret}}}

	return f
}

// Integer and floating arguments count into their files independently:
// (int, double, int) lands in rdi, xmm0, rsi rather than rdi, xmm0, rdx.
func TestCallMixedArgsX86(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{mixedCallFunc()}}

	obj, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tpopq\t%rdi\n")
	assert.Contains(t, asm, "\tpopq\t%rsi\n")
	assert.Contains(t, asm, "\tmovsd\t(%rsp), %xmm0\n")
	assert.NotContains(t, asm, "%rdx")

	assert.Less(t, strings.Index(asm, "popq\t%rsi"), strings.Index(asm, "movsd\t(%rsp), %xmm0"))
	assert.Less(t, strings.Index(asm, "movsd\t(%rsp), %xmm0"), strings.Index(asm, "popq\t%rdi"))
	assert.Less(t, strings.Index(asm, "popq\t%rdi"), strings.Index(asm, "call\tg"))
}

func TestCallMixedArgsArm64(t *testing.T) {
	m := &ir.Module{Name: "test", Funcs: []*ir.Func{mixedCallFunc()}}

	obj, err := New(arch.Arm64()).CompileModule(context.Background(), m)
	require.NoError(t, err)

	asm := string(obj.Asm)
	t.Logf("asm:\n%s", asm)

	assert.Contains(t, asm, "\tadrp\tx16, .Lflt0\n")
	assert.Contains(t, asm, "\tldr\td16, [x16, :lo12:.Lflt0]\n")

	assert.Less(t, strings.Index(asm, "ldr\tx1, [sp], #16"), strings.Index(asm, "ldr\td0, [sp], #16"))
	assert.Less(t, strings.Index(asm, "ldr\td0, [sp], #16"), strings.Index(asm, "ldr\tx0, [sp], #16"))
	assert.Less(t, strings.Index(asm, "ldr\tx0, [sp], #16"), strings.Index(asm, "bl\tg"))
}

func TestUnknownLabel(t *testing.T) {
	f := &ir.Func{Name: "f", Ret: ir.I32}

	bid := f.Add(ir.B{Label: "nowhere"})
	f.Blocks = []ir.Block{{Label: "entry", Code: []ir.Expr{bid}}}

	m := &ir.Module{Name: "test", Funcs: []*ir.Func{f}}

	_, err := New(arch.X86_64()).CompileModule(context.Background(), m)
	require.ErrorIs(t, err, ErrUnsupported)
}
