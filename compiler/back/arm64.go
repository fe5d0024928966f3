package back

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

// arm64sel selects AAPCS64 instructions. Integer values live
// sign-extended in x registers; float registers are formatted s or d
// by the value width. x16 (IP0) serves as the assembler-level address
// temporary, it is never allocated.
type arm64sel struct{}

func wname(x string) string {
	return "w" + x[1:]
}

// fname formats a v register for the float width.
func fname(v string, t ir.Type) string {
	if t == ir.F32 {
		return "s" + v[1:]
	}

	return "d" + v[1:]
}

func (s arm64sel) rval(b []byte, g *funcgen, id ir.Expr) ([]byte, string, []ir.Expr, error) {
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

		b = fmt.Appendf(b, "\tsub\t%s, x29, #%d\n", r.Name, off)

		return b, r.Name, []ir.Expr{sid}, nil
	case ir.Global:
		r, sid, err := g.scratch(arch.Int)
		if err != nil {
			return b, "", nil, err
		}

		b = fmt.Appendf(b, "\tadrp\t%s, %s\n\tadd\t%s, %s, :lo12:%s\n",
			r.Name, x.Name, r.Name, r.Name, x.Name)

		return b, r.Name, []ir.Expr{sid}, nil
	default:
		return b, "", nil, errors.New("%v: value %%%d is not live in a register", loc.Caller(1), id)
	}
}

// addr materializes a load/store address in x16 unless the value
// already sits in a register.
func (s arm64sel) addr(b []byte, g *funcgen, id ir.Expr) ([]byte, string, []ir.Expr, error) {
	switch x := g.f.Exprs[id].(type) {
	case ir.Alloca:
		off, ok := g.fr.Offset(id)
		if !ok {
			return b, "", nil, errors.New("%v: alloca %%%d has no slot", loc.Caller(1), id)
		}

		b = fmt.Appendf(b, "\tsub\tx16, x29, #%d\n", off)

		return b, "[x16]", nil, nil
	case ir.Global:
		b = fmt.Appendf(b, "\tadrp\tx16, %s\n\tadd\tx16, x16, :lo12:%s\n", x.Name, x.Name)

		return b, "[x16]", nil, nil
	default:
		b, r, sc, err := s.rval(b, g, id)
		if err != nil {
			return b, "", nil, err
		}

		return b, "[" + r + "]", sc, nil
	}
}

func (s arm64sel) instr(b []byte, g *funcgen, id ir.Expr) ([]byte, error) {
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
			b = fmt.Appendf(b, "\tfmov\t%s, %s\n", fname(res.Name, x.Type), fname(in.Name, x.Type))
		} else {
			b = fmt.Appendf(b, "\tmov\t%s, %s\n", res.Name, in.Name)
		}

		return b, nil
	case ir.Imm:
		res, err := g.al.Alloc(id, g.class(x.Type))
		if err != nil {
			return b, err
		}

		if x.Type.Float() {
			lbl := g.flt.ref(x.Type, x.Flt)

			b = fmt.Appendf(b, "\tadrp\tx16, %s\n", lbl)
			b = fmt.Appendf(b, "\tldr\t%s, [x16, :lo12:%s]\n", fname(res.Name, x.Type), lbl)

			return b, nil
		}

		if x.Int >= -65535 && x.Int <= 65535 {
			b = fmt.Appendf(b, "\tmov\t%s, #%d\n", res.Name, x.Int)
		} else {
			b = fmt.Appendf(b, "\tldr\t%s, =%d\n", res.Name, x.Int)
		}

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
			b = fmt.Appendf(b, "\tldrsb\t%s, %s\n", res.Name, m)
		case ir.I32:
			b = fmt.Appendf(b, "\tldrsw\t%s, %s\n", res.Name, m)
		case ir.F32, ir.F64:
			b = fmt.Appendf(b, "\tldr\t%s, %s\n", fname(res.Name, x.Type), m)
		default:
			b = fmt.Appendf(b, "\tldr\t%s, %s\n", res.Name, m)
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
			b = fmt.Appendf(b, "\tstrb\t%s, %s\n", wname(v), m)
		case ir.I32:
			b = fmt.Appendf(b, "\tstr\t%s, %s\n", wname(v), m)
		case ir.F32, ir.F64:
			b = fmt.Appendf(b, "\tstr\t%s, %s\n", fname(v, x.Type), m)
		default:
			b = fmt.Appendf(b, "\tstr\t%s, %s\n", v, m)
		}

		g.drop(sc1)
		g.drop(sc2)

		return b, nil
	case ir.Call:
		return s.call(b, g, id, x)
	case ir.B:
		return fmt.Appendf(b, "\tb\t%s\n", blockLabel(g.f, x.Label)), nil
	case ir.BCond:
		b, c, sc, err := s.rval(b, g, x.Cond)
		if err != nil {
			return b, err
		}

		b = fmt.Appendf(b, "\tcbnz\t%s, %s\n", c, blockLabel(g.f, x.True))
		b = fmt.Appendf(b, "\tb\t%s\n", blockLabel(g.f, x.False))

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
				b = fmt.Appendf(b, "\tfmov\t%s, %s\n", fname("v0", t), fname(v, t))
			} else {
				b = fmt.Appendf(b, "\tmov\tx0, %s\n", v)
			}

			g.drop(sc)
		}

		return fmt.Appendf(b, "\tb\t%s\n", retLabel(g.f)), nil
	default:
		return b, errors.Wrap(ErrUnsupported, "arm64: %T", x)
	}
}

var a64mnemonic = map[ir.BinOp]string{
	ir.ADD:  "add",
	ir.SUB:  "sub",
	ir.MUL:  "mul",
	ir.DIV:  "sdiv",
	ir.SHL:  "lsl",
	ir.SHR:  "asr",
	ir.BAND: "and",
	ir.BOR:  "orr",
	ir.BXOR: "eor",
	ir.LAND: "and",
	ir.LOR:  "orr",
}

var a64float = map[ir.BinOp]string{
	ir.ADD: "fadd",
	ir.SUB: "fsub",
	ir.MUL: "fmul",
	ir.DIV: "fdiv",
}

func (s arm64sel) bin(b []byte, g *funcgen, id ir.Expr, x ir.Bin) ([]byte, error) {
	b, l, sc1, err := s.rval(b, g, x.L)
	if err != nil {
		return b, err
	}

	b, r, sc2, err := s.rval(b, g, x.R)
	if err != nil {
		return b, err
	}

	res, err := g.al.Alloc(id, g.class(x.Type))
	if err != nil {
		return b, err
	}

	switch {
	case x.Type.Float():
		op, ok := a64float[x.Op]
		if !ok {
			return b, errors.Wrap(ErrUnsupported, "arm64: %v on %v", x.Op, x.Type)
		}

		b = fmt.Appendf(b, "\t%s\t%s, %s, %s\n",
			op, fname(res.Name, x.Type), fname(l, x.Type), fname(r, x.Type))
	case x.Op == ir.MOD:
		// no remainder instruction: a - (a/b)*b via msub
		b = fmt.Appendf(b, "\tsdiv\tx16, %s, %s\n", l, r)
		b = fmt.Appendf(b, "\tmsub\t%s, x16, %s, %s\n", res.Name, r, l)
	default:
		op, ok := a64mnemonic[x.Op]
		if !ok {
			return b, errors.Wrap(ErrUnsupported, "arm64: %v", x.Op)
		}

		b = fmt.Appendf(b, "\t%s\t%s, %s, %s\n", op, res.Name, l, r)
	}

	g.drop(sc1)
	g.drop(sc2)

	return b, nil
}

func (s arm64sel) un(b []byte, g *funcgen, id ir.Expr, x ir.Un) ([]byte, error) {
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
		b = fmt.Appendf(b, "\tmvn\t%s, %s\n", res.Name, v)
	case x.Type.Float():
		b = fmt.Appendf(b, "\tfneg\t%s, %s\n", fname(res.Name, x.Type), fname(v, x.Type))
	default:
		b = fmt.Appendf(b, "\tneg\t%s, %s\n", res.Name, v)
	}

	g.drop(sc)

	return b, nil
}

var a64cond = map[ir.CmpOp]string{
	ir.EQ: "eq",
	ir.NE: "ne",
	ir.LT: "lt",
	ir.LE: "le",
	ir.GT: "gt",
	ir.GE: "ge",
}

// a64fcond picks the unsigned-style codes after fcmp, matching how the
// float flags are set.
var a64fcond = map[ir.CmpOp]string{
	ir.EQ: "eq",
	ir.NE: "ne",
	ir.LT: "lo",
	ir.LE: "ls",
	ir.GT: "hi",
	ir.GE: "hs",
}

func (s arm64sel) cmp(b []byte, g *funcgen, id ir.Expr, x ir.Cmp) ([]byte, error) {
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

	if x.Type.Float() {
		b = fmt.Appendf(b, "\tfcmp\t%s, %s\n", fname(l, x.Type), fname(r, x.Type))
		b = fmt.Appendf(b, "\tcset\t%s, %s\n", res.Name, a64fcond[x.Op])
	} else {
		b = fmt.Appendf(b, "\tcmp\t%s, %s\n", l, r)
		b = fmt.Appendf(b, "\tcset\t%s, %s\n", res.Name, a64cond[x.Op])
	}

	g.drop(sc1)
	g.drop(sc2)

	return b, nil
}

func (s arm64sel) conv(b []byte, g *funcgen, id ir.Expr, x ir.Conv) ([]byte, error) {
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
		if x.Type == ir.I8 {
			b = fmt.Appendf(b, "\tsxtb\t%s, %s\n", res.Name, wname(v))
		} else {
			b = fmt.Appendf(b, "\tsxtw\t%s, %s\n", res.Name, wname(v))
		}
	case ir.SEXT:
		if from == ir.I8 {
			b = fmt.Appendf(b, "\tsxtb\t%s, %s\n", res.Name, wname(v))
		} else {
			b = fmt.Appendf(b, "\tsxtw\t%s, %s\n", res.Name, wname(v))
		}
	case ir.ZEXT:
		if from == ir.I8 {
			b = fmt.Appendf(b, "\tand\t%s, %s, #0xff\n", res.Name, v)
		} else {
			b = fmt.Appendf(b, "\tmov\t%s, %s\n", wname(res.Name), wname(v))
		}
	case ir.FPEXT:
		b = fmt.Appendf(b, "\tfcvt\t%s, %s\n", fname(res.Name, ir.F64), fname(v, ir.F32))
	case ir.FPTRUNC:
		b = fmt.Appendf(b, "\tfcvt\t%s, %s\n", fname(res.Name, ir.F32), fname(v, ir.F64))
	case ir.SITOFP:
		b = fmt.Appendf(b, "\tscvtf\t%s, %s\n", fname(res.Name, x.Type), v)
	case ir.FPTOSI:
		b = fmt.Appendf(b, "\tfcvtzs\t%s, %s\n", res.Name, fname(v, from))
	default:
		return b, errors.Wrap(ErrUnsupported, "arm64: conversion %v", x.Op)
	}

	g.drop(sc)

	return b, nil
}

// call keeps the stack 16-aligned by spending one 16-byte slot per
// saved register and per pushed argument.
func (s arm64sel) call(b []byte, g *funcgen, id ir.Expr, x ir.Call) ([]byte, error) {
	saves, _ := g.al.Live()

	store := func(b []byte, r arch.Reg) []byte {
		if r.Class == arch.Float {
			return fmt.Appendf(b, "\tstr\t%s, [sp, #-16]!\n", fname(r.Name, ir.F64))
		}

		return fmt.Appendf(b, "\tstr\t%s, [sp, #-16]!\n", r.Name)
	}

	load := func(b []byte, r arch.Reg) []byte {
		if r.Class == arch.Float {
			return fmt.Appendf(b, "\tldr\t%s, [sp], #16\n", fname(r.Name, ir.F64))
		}

		return fmt.Appendf(b, "\tldr\t%s, [sp], #16\n", r.Name)
	}

	for _, r := range saves {
		b = store(b, r)
	}

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
			b = fmt.Appendf(b, "\tstr\t%s, [sp, #-16]!\n", fname(v, ir.F64))
		} else {
			b = fmt.Appendf(b, "\tstr\t%s, [sp, #-16]!\n", v)
		}

		g.drop(sc)
	}

	for i := len(x.Args) - 1; i >= 0; i-- {
		b = load(b, targets[i])
	}

	b = fmt.Appendf(b, "\tbl\t%s\n", x.Func)

	if x.Type != ir.Void {
		res, err := g.al.Alloc(id, g.class(x.Type))
		if err != nil {
			return b, err
		}

		if x.Type.Float() {
			b = fmt.Appendf(b, "\tfmov\t%s, %s\n", fname(res.Name, x.Type), fname("v0", x.Type))
		} else {
			b = fmt.Appendf(b, "\tmov\t%s, x0\n", res.Name)
		}
	}

	for i := len(saves) - 1; i >= 0; i-- {
		b = load(b, saves[i])
	}

	return b, nil
}

func (s arm64sel) prologue(b []byte, g *funcgen) []byte {
	b = fmt.Appendf(b, "\tstp\tx29, x30, [sp, #-16]!\n\tmov\tx29, sp\n")

	if n := g.fr.Total(); n > 0 {
		if n <= 4095 {
			b = fmt.Appendf(b, "\tsub\tsp, sp, #%d\n", n)
		} else {
			b = fmt.Appendf(b, "\tmov\tx16, #%d\n\tsub\tsp, sp, x16\n", n)
		}
	}

	for _, r := range g.al.UsedCalleeSave() {
		if r.Class == arch.Float {
			b = fmt.Appendf(b, "\tstr\t%s, [sp, #-16]!\n", fname(r.Name, ir.F64))
		} else {
			b = fmt.Appendf(b, "\tstr\t%s, [sp, #-16]!\n", r.Name)
		}
	}

	return b
}

func (s arm64sel) epilogue(b []byte, g *funcgen) []byte {
	b = fmt.Appendf(b, "%s:\n", retLabel(g.f))

	callee := g.al.UsedCalleeSave()

	for i := len(callee) - 1; i >= 0; i-- {
		r := callee[i]

		if r.Class == arch.Float {
			b = fmt.Appendf(b, "\tldr\t%s, [sp], #16\n", fname(r.Name, ir.F64))
		} else {
			b = fmt.Appendf(b, "\tldr\t%s, [sp], #16\n", r.Name)
		}
	}

	if n := g.fr.Total(); n > 0 {
		if n <= 4095 {
			b = fmt.Appendf(b, "\tadd\tsp, sp, #%d\n", n)
		} else {
			b = fmt.Appendf(b, "\tmov\tx16, #%d\n\tadd\tsp, sp, x16\n", n)
		}
	}

	b = fmt.Appendf(b, "\tldp\tx29, x30, [sp], #16\n\tret\n")

	return b
}
