package back

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

// x86sel selects x86-64 System V instructions, AT&T syntax. Integer
// values are kept sign-extended to 64 bits in registers, so arithmetic
// is uniformly quad-width; loads and stores pick the width suffix from
// the value type.
type x86sel struct{}

var x86sub = map[string][2]string{
	"rax": {"al", "eax"},
	"rbx": {"bl", "ebx"},
	"rcx": {"cl", "ecx"},
	"rdx": {"dl", "edx"},
	"rsi": {"sil", "esi"},
	"rdi": {"dil", "edi"},
	"r8":  {"r8b", "r8d"},
	"r9":  {"r9b", "r9d"},
	"r10": {"r10b", "r10d"},
	"r11": {"r11b", "r11d"},
	"r12": {"r12b", "r12d"},
	"r13": {"r13b", "r13d"},
	"r14": {"r14b", "r14d"},
	"r15": {"r15b", "r15d"},
}

func sub8(name string) string  { return x86sub[name][0] }
func sub32(name string) string { return x86sub[name][1] }

// fmov picks the scalar move mnemonic by float width.
func fmov(t ir.Type) string {
	if t == ir.F32 {
		return "movss"
	}

	return "movsd"
}

// rval resolves a value to the register holding it, materializing
// alloca and global addresses into a scratch register at the use site.
// The returned ids are scratches the caller frees after the sequence.
func (s x86sel) rval(b []byte, g *funcgen, id ir.Expr) ([]byte, string, []ir.Expr, error) {
	if r, ok := g.al.Reg(id); ok {
		return b, r.Name, nil, nil
	}

	switch x := g.f.Exprs[id].(type) {
	case ir.Alloca:
		off, ok := g.fr.Offset(id)
		if !ok {
			return b, "", nil, errors.New("%v: alloca %%%d has no slot", loc.Caller(1), id)
		}

		r, sid, err := g.scratch(arch.Int)
		if err != nil {
			return b, "", nil, err
		}

		b = fmt.Appendf(b, "\tleaq\t-%d(%%rbp), %%%s\n", off, r.Name)

		return b, r.Name, []ir.Expr{sid}, nil
	case ir.Global:
		r, sid, err := g.scratch(arch.Int)
		if err != nil {
			return b, "", nil, err
		}

		b = fmt.Appendf(b, "\tleaq\t%s(%%rip), %%%s\n", x.Name, r.Name)

		return b, r.Name, []ir.Expr{sid}, nil
	default:
		return b, "", nil, errors.New("%v: value %%%d is not live in a register", loc.Caller(1), id)
	}
}

// addr resolves a load/store address to a memory operand.
func (s x86sel) addr(b []byte, g *funcgen, id ir.Expr) ([]byte, string, []ir.Expr, error) {
	switch x := g.f.Exprs[id].(type) {
	case ir.Alloca:
		off, ok := g.fr.Offset(id)
		if !ok {
			return b, "", nil, errors.New("%v: alloca %%%d has no slot", loc.Caller(1), id)
		}

		return b, fmt.Sprintf("-%d(%%rbp)", off), nil, nil
	case ir.Global:
		return b, x.Name + "(%rip)", nil, nil
	default:
		b, r, sc, err := s.rval(b, g, id)
		if err != nil {
			return b, "", nil, err
		}

		return b, "(%" + r + ")", sc, nil
	}
}

func (g *funcgen) drop(ids []ir.Expr) {
	for _, id := range ids {
		g.al.Free(id)
	}
}

func (s x86sel) instr(b []byte, g *funcgen, id ir.Expr) ([]byte, error) {
	switch x := g.f.Exprs[id].(type) {
	case ir.Arg:
		in, err := argRegister(g.a, g.f.In, x.Index)
		if err != nil {
			return b, err
		}

		res, err := g.al.Alloc(id, g.class(x.Type))
		if err != nil {
			return b, err
		}

		if x.Type.Float() {
			b = fmt.Appendf(b, "\t%s\t%%%s, %%%s\n", fmov(x.Type), in.Name, res.Name)
		} else {
			b = fmt.Appendf(b, "\tmovq\t%%%s, %%%s\n", in.Name, res.Name)
		}

		return b, nil
	case ir.Imm:
		res, err := g.al.Alloc(id, g.class(x.Type))
		if err != nil {
			return b, err
		}

		if x.Type.Float() {
			lbl := g.flt.ref(x.Type, x.Flt)
			b = fmt.Appendf(b, "\t%s\t%s(%%rip), %%%s\n", fmov(x.Type), lbl, res.Name)

			return b, nil
		}

		mov := "movq"
		if x.Int > 0x7fffffff || x.Int < -0x80000000 {
			mov = "movabsq"
		}

		b = fmt.Appendf(b, "\t%s\t$%d, %%%s\n", mov, x.Int, res.Name)

		return b, nil
	case ir.Bin:
		return s.bin(b, g, id, x)
	case ir.Un:
		return s.un(b, g, id, x)
	case ir.Cmp:
		return s.cmp(b, g, id, x)
	case ir.Conv:
		return s.conv(b, g, id, x)
	case ir.Load:
		b, m, sc, err := s.addr(b, g, x.Addr)
		if err != nil {
			return b, err
		}

		res, err := g.al.Alloc(id, g.class(x.Type))
		if err != nil {
			return b, err
		}

		switch x.Type {
		case ir.I8:
			b = fmt.Appendf(b, "\tmovsbq\t%s, %%%s\n", m, res.Name)
		case ir.I32:
			b = fmt.Appendf(b, "\tmovslq\t%s, %%%s\n", m, res.Name)
		case ir.F32, ir.F64:
			b = fmt.Appendf(b, "\t%s\t%s, %%%s\n", fmov(x.Type), m, res.Name)
		default:
			b = fmt.Appendf(b, "\tmovq\t%s, %%%s\n", m, res.Name)
		}

		g.drop(sc)

		return b, nil
	case ir.Store:
		b, v, sc1, err := s.rval(b, g, x.Val)
		if err != nil {
			return b, err
		}

		b, m, sc2, err := s.addr(b, g, x.Addr)
		if err != nil {
			return b, err
		}

		switch x.Type {
		case ir.I8:
			b = fmt.Appendf(b, "\tmovb\t%%%s, %s\n", sub8(v), m)
		case ir.I32:
			b = fmt.Appendf(b, "\tmovl\t%%%s, %s\n", sub32(v), m)
		case ir.F32, ir.F64:
			b = fmt.Appendf(b, "\t%s\t%%%s, %s\n", fmov(x.Type), v, m)
		default:
			b = fmt.Appendf(b, "\tmovq\t%%%s, %s\n", v, m)
		}

		g.drop(sc1)
		g.drop(sc2)

		return b, nil
	case ir.Call:
		return s.call(b, g, id, x)
	case ir.B:
		return fmt.Appendf(b, "\tjmp\t%s\n", blockLabel(g.f, x.Label)), nil
	case ir.BCond:
		b, c, sc, err := s.rval(b, g, x.Cond)
		if err != nil {
			return b, err
		}

		b = fmt.Appendf(b, "\tcmpq\t$0, %%%s\n", c)
		b = fmt.Appendf(b, "\tjne\t%s\n", blockLabel(g.f, x.True))
		b = fmt.Appendf(b, "\tjmp\t%s\n", blockLabel(g.f, x.False))

		g.drop(sc)

		return b, nil
	case ir.Ret:
		if !x.Void {
			b2, v, sc, err := s.rval(b, g, x.Value)
			if err != nil {
				return b2, err
			}

			b = b2

			t := g.f.TypeOf(x.Value)
			if t.Float() {
				b = fmt.Appendf(b, "\t%s\t%%%s, %%xmm0\n", fmov(t), v)
			} else {
				b = fmt.Appendf(b, "\tmovq\t%%%s, %%rax\n", v)
			}

			g.drop(sc)
		}

		return fmt.Appendf(b, "\tjmp\t%s\n", retLabel(g.f)), nil
	default:
		return b, errors.Wrap(ErrUnsupported, "x86_64: %T", x)
	}
}

var x86mnemonic = map[ir.BinOp]string{
	ir.ADD:  "addq",
	ir.SUB:  "subq",
	ir.MUL:  "imulq",
	ir.BAND: "andq",
	ir.BOR:  "orq",
	ir.BXOR: "xorq",
	ir.LAND: "andq",
	ir.LOR:  "orq",
	ir.SHL:  "salq",
	ir.SHR:  "sarq",
}

var x86float = map[ir.BinOp]string{
	ir.ADD: "adds",
	ir.SUB: "subs",
	ir.MUL: "muls",
	ir.DIV: "divs",
}

func (s x86sel) bin(b []byte, g *funcgen, id ir.Expr, x ir.Bin) ([]byte, error) {
	if x.Type.Float() {
		op, ok := x86float[x.Op]
		if !ok {
			return b, errors.Wrap(ErrUnsupported, "x86_64: %v on %v", x.Op, x.Type)
		}

		suffix := "d"
		if x.Type == ir.F32 {
			suffix = "s"
		}

		b, l, sc1, err := s.rval(b, g, x.L)
		if err != nil {
			return b, err
		}

		b, r, sc2, err := s.rval(b, g, x.R)
		if err != nil {
			return b, err
		}

		res, err := g.al.Alloc(id, arch.Float)
		if err != nil {
			return b, err
		}

		b = fmt.Appendf(b, "\t%s\t%%%s, %%%s\n", fmov(x.Type), l, res.Name)
		b = fmt.Appendf(b, "\t%s%s\t%%%s, %%%s\n", op, suffix, r, res.Name)

		g.drop(sc1)
		g.drop(sc2)

		return b, nil
	}

	switch x.Op {
	case ir.DIV, ir.MOD:
		return s.divmod(b, g, id, x)
	case ir.SHL, ir.SHR:
		return s.shift(b, g, id, x)
	}

	op, ok := x86mnemonic[x.Op]
	if !ok {
		return b, errors.Wrap(ErrUnsupported, "x86_64: %v", x.Op)
	}

	b, l, sc1, err := s.rval(b, g, x.L)
	if err != nil {
		return b, err
	}

	b, r, sc2, err := s.rval(b, g, x.R)
	if err != nil {
		return b, err
	}

	res, err := g.al.Alloc(id, arch.Int)
	if err != nil {
		return b, err
	}

	b = fmt.Appendf(b, "\tmovq\t%%%s, %%%s\n", l, res.Name)
	b = fmt.Appendf(b, "\t%s\t%%%s, %%%s\n", op, r, res.Name)

	g.drop(sc1)
	g.drop(sc2)

	return b, nil
}

// divmod routes through the fixed rax:rdx pair: cqo sign-extends rax
// into rdx, idiv leaves the quotient in rax and the remainder in rdx.
// This is the one place the architecture-generic allocator is bypassed;
// live occupants of the pair are pushed around the sequence.
func (s x86sel) divmod(b []byte, g *funcgen, id ir.Expr, x ir.Bin) ([]byte, error) {
	b, l, sc1, err := s.rval(b, g, x.L)
	if err != nil {
		return b, err
	}

	b, r, sc2, err := s.rval(b, g, x.R)
	if err != nil {
		return b, err
	}

	res, err := g.al.AllocAvoid(id, arch.Int, "rax", "rdx")
	if err != nil {
		return b, err
	}

	// res stays clear of the pair, only other occupants need saving
	pushRax := g.al.Busy("rax")
	pushRdx := g.al.Busy("rdx")

	if pushRax {
		b = fmt.Appendf(b, "\tpushq\t%%rax\n")
	}

	if pushRdx {
		b = fmt.Appendf(b, "\tpushq\t%%rdx\n")
	}

	// divisor is copied out of the pair before cqo clobbers rdx
	b = fmt.Appendf(b, "\tmovq\t%%%s, %%%s\n", r, res.Name)
	b = fmt.Appendf(b, "\tmovq\t%%%s, %%rax\n", l)
	b = fmt.Appendf(b, "\tcqo\n")
	b = fmt.Appendf(b, "\tidivq\t%%%s\n", res.Name)

	out := "rax"
	if x.Op == ir.MOD {
		out = "rdx"
	}

	b = fmt.Appendf(b, "\tmovq\t%%%s, %%%s\n", out, res.Name)

	if pushRdx {
		b = fmt.Appendf(b, "\tpopq\t%%rdx\n")
	}

	if pushRax {
		b = fmt.Appendf(b, "\tpopq\t%%rax\n")
	}

	g.drop(sc1)
	g.drop(sc2)

	return b, nil
}

// shift needs the count in cl.
func (s x86sel) shift(b []byte, g *funcgen, id ir.Expr, x ir.Bin) ([]byte, error) {
	op := x86mnemonic[x.Op]

	b, l, sc1, err := s.rval(b, g, x.L)
	if err != nil {
		return b, err
	}

	b, r, sc2, err := s.rval(b, g, x.R)
	if err != nil {
		return b, err
	}

	res, err := g.al.AllocAvoid(id, arch.Int, "rcx")
	if err != nil {
		return b, err
	}

	b = fmt.Appendf(b, "\tmovq\t%%%s, %%%s\n", l, res.Name)

	pushed := g.al.Busy("rcx")
	if pushed {
		b = fmt.Appendf(b, "\tpushq\t%%rcx\n")
	}

	b = fmt.Appendf(b, "\tmovq\t%%%s, %%rcx\n", r)
	b = fmt.Appendf(b, "\t%s\t%%cl, %%%s\n", op, res.Name)

	if pushed {
		b = fmt.Appendf(b, "\tpopq\t%%rcx\n")
	}

	g.drop(sc1)
	g.drop(sc2)

	return b, nil
}

func (s x86sel) un(b []byte, g *funcgen, id ir.Expr, x ir.Un) ([]byte, error) {
	b, v, sc, err := s.rval(b, g, x.X)
	if err != nil {
		return b, err
	}

	res, err := g.al.Alloc(id, g.class(x.Type))
	if err != nil {
		return b, err
	}

	switch {
	case x.Op == ir.NOT:
		b = fmt.Appendf(b, "\tmovq\t%%%s, %%%s\n", v, res.Name)
		b = fmt.Appendf(b, "\tnotq\t%%%s\n", res.Name)
	case x.Type.Float():
		// -x computed as 0 - x
		b = fmt.Appendf(b, "\tpxor\t%%%s, %%%s\n", res.Name, res.Name)

		suffix := "d"
		if x.Type == ir.F32 {
			suffix = "s"
		}

		b = fmt.Appendf(b, "\tsubs%s\t%%%s, %%%s\n", suffix, v, res.Name)
	default:
		b = fmt.Appendf(b, "\tmovq\t%%%s, %%%s\n", v, res.Name)
		b = fmt.Appendf(b, "\tnegq\t%%%s\n", res.Name)
	}

	g.drop(sc)

	return b, nil
}

var x86set = map[ir.CmpOp]string{
	ir.EQ: "sete",
	ir.NE: "setne",
	ir.LT: "setl",
	ir.LE: "setle",
	ir.GT: "setg",
	ir.GE: "setge",
}

// x86fset uses the unsigned condition codes: ucomis sets the flags the
// way an unsigned compare does, the signed family misreads them.
var x86fset = map[ir.CmpOp]string{
	ir.EQ: "sete",
	ir.NE: "setne",
	ir.LT: "setb",
	ir.LE: "setbe",
	ir.GT: "seta",
	ir.GE: "setae",
}

func (s x86sel) cmp(b []byte, g *funcgen, id ir.Expr, x ir.Cmp) ([]byte, error) {
	b, l, sc1, err := s.rval(b, g, x.L)
	if err != nil {
		return b, err
	}

	b, r, sc2, err := s.rval(b, g, x.R)
	if err != nil {
		return b, err
	}

	res, err := g.al.Alloc(id, arch.Int)
	if err != nil {
		return b, err
	}

	var set string

	if x.Type.Float() {
		mn := "ucomisd"
		if x.Type == ir.F32 {
			mn = "ucomiss"
		}

		b = fmt.Appendf(b, "\t%s\t%%%s, %%%s\n", mn, r, l)
		set = x86fset[x.Op]
	} else {
		b = fmt.Appendf(b, "\tcmpq\t%%%s, %%%s\n", r, l)
		set = x86set[x.Op]
	}

	b = fmt.Appendf(b, "\t%s\t%%%s\n", set, sub8(res.Name))
	b = fmt.Appendf(b, "\tmovzbq\t%%%s, %%%s\n", sub8(res.Name), res.Name)

	g.drop(sc1)
	g.drop(sc2)

	return b, nil
}

func (s x86sel) conv(b []byte, g *funcgen, id ir.Expr, x ir.Conv) ([]byte, error) {
	from := g.f.TypeOf(x.X)

	b, v, sc, err := s.rval(b, g, x.X)
	if err != nil {
		return b, err
	}

	res, err := g.al.Alloc(id, g.class(x.Type))
	if err != nil {
		return b, err
	}

	switch x.Op {
	case ir.TRUNC:
		// truncate and re-extend, registers hold sign-extended values
		if x.Type == ir.I8 {
			b = fmt.Appendf(b, "\tmovsbq\t%%%s, %%%s\n", sub8(v), res.Name)
		} else {
			b = fmt.Appendf(b, "\tmovslq\t%%%s, %%%s\n", sub32(v), res.Name)
		}
	case ir.SEXT:
		if from == ir.I8 {
			b = fmt.Appendf(b, "\tmovsbq\t%%%s, %%%s\n", sub8(v), res.Name)
		} else {
			b = fmt.Appendf(b, "\tmovslq\t%%%s, %%%s\n", sub32(v), res.Name)
		}
	case ir.ZEXT:
		if from == ir.I8 {
			b = fmt.Appendf(b, "\tmovzbq\t%%%s, %%%s\n", sub8(v), res.Name)
		} else {
			b = fmt.Appendf(b, "\tmovl\t%%%s, %%%s\n", sub32(v), sub32(res.Name))
		}
	case ir.FPEXT:
		b = fmt.Appendf(b, "\tcvtss2sd\t%%%s, %%%s\n", v, res.Name)
	case ir.FPTRUNC:
		b = fmt.Appendf(b, "\tcvtsd2ss\t%%%s, %%%s\n", v, res.Name)
	case ir.SITOFP:
		mn := "cvtsi2sdq"
		if x.Type == ir.F32 {
			mn = "cvtsi2ssq"
		}

		b = fmt.Appendf(b, "\t%s\t%%%s, %%%s\n", mn, v, res.Name)
	case ir.FPTOSI:
		mn := "cvttsd2siq"
		if from == ir.F32 {
			mn = "cvttss2siq"
		}

		b = fmt.Appendf(b, "\t%s\t%%%s, %%%s\n", mn, v, res.Name)
	default:
		return b, errors.Wrap(ErrUnsupported, "x86_64: conversion %v", x.Op)
	}

	g.drop(sc)

	return b, nil
}

// call saves the live caller-save registers, pushes the argument
// values, pops them into the argument files with independent integer
// and floating counters, and keeps the 16-byte alignment at the call.
func (s x86sel) call(b []byte, g *funcgen, id ir.Expr, x ir.Call) ([]byte, error) {
	saves, _ := g.al.Live()

	for _, r := range saves {
		if r.Class == arch.Float {
			b = fmt.Appendf(b, "\tsubq\t$8, %%rsp\n\tmovsd\t%%%s, (%%rsp)\n", r.Name)
		} else {
			b = fmt.Appendf(b, "\tpushq\t%%%s\n", r.Name)
		}
	}

	// plan the target register of every argument first
	targets := make([]arch.Reg, len(x.Args))
	intN, fltN := 0, 0

	for i, a := range x.Args {
		t := g.f.TypeOf(a)

		if t.Float() {
			file := g.a.Args(arch.Float)
			if fltN >= len(file) {
				return b, errors.Wrap(ErrUnsupported, "call %v: float argument %d exceeds the register file", x.Func, i)
			}

			targets[i] = file[fltN]
			fltN++
		} else {
			file := g.a.Args(arch.Int)
			if intN >= len(file) {
				return b, errors.Wrap(ErrUnsupported, "call %v: argument %d exceeds the register file", x.Func, i)
			}

			targets[i] = file[intN]
			intN++
		}
	}

	for i, a := range x.Args {
		b2, v, sc, err := s.rval(b, g, a)
		if err != nil {
			return b2, err
		}

		b = b2

		if targets[i].Class == arch.Float {
			b = fmt.Appendf(b, "\tsubq\t$8, %%rsp\n\tmovsd\t%%%s, (%%rsp)\n", v)
		} else {
			b = fmt.Appendf(b, "\tpushq\t%%%s\n", v)
		}

		g.drop(sc)
	}

	for i := len(x.Args) - 1; i >= 0; i-- {
		if targets[i].Class == arch.Float {
			b = fmt.Appendf(b, "\tmovsd\t(%%rsp), %%%s\n\taddq\t$8, %%rsp\n", targets[i].Name)
		} else {
			b = fmt.Appendf(b, "\tpopq\t%%%s\n", targets[i].Name)
		}
	}

	pad := len(saves)%2 != 0
	if pad {
		b = fmt.Appendf(b, "\tsubq\t$8, %%rsp\n")
	}

	b = fmt.Appendf(b, "\tcall\t%s\n", x.Func)

	if pad {
		b = fmt.Appendf(b, "\taddq\t$8, %%rsp\n")
	}

	if x.Type != ir.Void {
		res, err := g.al.Alloc(id, g.class(x.Type))
		if err != nil {
			return b, err
		}

		if x.Type.Float() {
			b = fmt.Appendf(b, "\t%s\t%%xmm0, %%%s\n", fmov(x.Type), res.Name)
		} else {
			b = fmt.Appendf(b, "\tmovq\t%%rax, %%%s\n", res.Name)
		}
	}

	for i := len(saves) - 1; i >= 0; i-- {
		r := saves[i]

		if r.Class == arch.Float {
			b = fmt.Appendf(b, "\tmovsd\t(%%rsp), %%%s\n\taddq\t$8, %%rsp\n", r.Name)
		} else {
			b = fmt.Appendf(b, "\tpopq\t%%%s\n", r.Name)
		}
	}

	return b, nil
}

func (s x86sel) prologue(b []byte, g *funcgen) []byte {
	b = fmt.Appendf(b, "\tpushq\t%%rbp\n\tmovq\t%%rsp, %%rbp\n")

	if n := g.fr.Total(); n > 0 {
		b = fmt.Appendf(b, "\tsubq\t$%d, %%rsp\n", n)
	}

	callee := g.al.UsedCalleeSave()

	for _, r := range callee {
		b = fmt.Appendf(b, "\tpushq\t%%%s\n", r.Name)
	}

	if len(callee)%2 != 0 {
		b = fmt.Appendf(b, "\tsubq\t$8, %%rsp\n")
	}

	return b
}

func (s x86sel) epilogue(b []byte, g *funcgen) []byte {
	b = fmt.Appendf(b, "%s:\n", retLabel(g.f))

	callee := g.al.UsedCalleeSave()

	if len(callee)%2 != 0 {
		b = fmt.Appendf(b, "\taddq\t$8, %%rsp\n")
	}

	for i := len(callee) - 1; i >= 0; i-- {
		b = fmt.Appendf(b, "\tpopq\t%%%s\n", callee[i].Name)
	}

	b = fmt.Appendf(b, "\tmovq\t%%rbp, %%rsp\n\tpopq\t%%rbp\n\tret\n")

	return b
}
