// Package back turns an IR module into assembly text and section
// payloads for the object writer. One architecture descriptor drives
// register allocation and frame layout, a per-target selector maps IR
// instructions to mnemonics.
package back

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

type (
	Compiler struct {
		a *arch.Arch
	}

	// Object carries the emitted module: the human-readable listing
	// and the raw section payloads.
	Object struct {
		Asm []byte // full assembly listing

		Text    []byte // .text payload
		Data    []byte // .data payload, packed little-endian
		BssSize int    // .bss reservation, contributes no bytes
	}

	flit struct {
		label string
		typ   ir.Type
		val   float64
	}

	// litpool interns module-level float literals. They are emitted
	// at the end of .data.
	litpool struct {
		index map[flit]string
		order []flit
	}

	// funcgen is the per-function mutable state: allocator, frame and
	// remaining-use counts. Reset by construction for every function.
	funcgen struct {
		a  *arch.Arch
		f  *ir.Func
		al *Allocator
		fr *Frame

		uses map[ir.Expr]int
		flt  *litpool

		scratchID ir.Expr // pseudo ids for ephemeral scratch registers
	}

	// target is the per-ISA instruction selector.
	target interface {
		instr(b []byte, g *funcgen, id ir.Expr) ([]byte, error)
		prologue(b []byte, g *funcgen) []byte
		epilogue(b []byte, g *funcgen) []byte
	}
)

func New(a *arch.Arch) *Compiler {
	return &Compiler{a: a}
}

func (c *Compiler) selector() target {
	switch c.a.Target {
	case arch.ARM64:
		return arm64sel{}
	default:
		return x86sel{}
	}
}

// CompileModule emits the whole module, one function at a time.
func (c *Compiler) CompileModule(ctx context.Context, m *ir.Module) (_ *Object, err error) {
	sel := c.selector()

	flt := &litpool{index: map[flit]string{}}

	text := fmt.Appendf(nil, "// module %s, target %s\n\t.text\n", m.Name, c.a.Name)

	for _, f := range m.Funcs {
		text = append(text, '\n')

		text, err = c.compileFunc(ctx, sel, text, f, flt)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	obj := &Object{Text: text}

	dataAsm, bssAsm, err := c.globals(obj, m, flt)
	if err != nil {
		return nil, errors.Wrap(err, "globals")
	}

	obj.Asm = append(obj.Asm, text...)
	obj.Asm = append(obj.Asm, dataAsm...)
	obj.Asm = append(obj.Asm, bssAsm...)

	tlog.SpanFromContext(ctx).Printw("emitted module",
		"target", c.a.Name, "text", len(obj.Text), "data", len(obj.Data), "bss", obj.BssSize)

	return obj, nil
}

// compileFunc generates the body first to discover every alloca, then
// prepends the prologue once the frame size and the callee-save set
// are known.
func (c *Compiler) compileFunc(ctx context.Context, sel target, b []byte, f *ir.Func, flt *litpool) (_ []byte, err error) {
	g := &funcgen{
		a:    c.a,
		f:    f,
		al:   NewAllocator(c.a),
		fr:   NewFrame(c.a.StackAlign),
		uses: countUses(f),
		flt:  flt,

		scratchID: -1,
	}

	idx := f.BlockIndex()

	var body []byte

	for i := range f.Blocks {
		bp := &f.Blocks[i]

		body = fmt.Appendf(body, "%s:\n", blockLabel(f, bp.Label))

		for _, id := range bp.Code {
			switch x := f.Exprs[id].(type) {
			case ir.Alloca:
				g.fr.Alloc(id, x.Name, x.Size)
				continue
			case ir.Asm:
				body = fmt.Appendf(body, "\t%s\n", x.Text)
				continue
			case ir.Global:
				// addresses are materialized at the use site
				continue
			case ir.B:
				if _, ok := idx[x.Label]; !ok {
					return nil, errors.Wrap(ErrUnsupported, "jump to unknown label %q", x.Label)
				}
			case ir.BCond:
				if _, ok := idx[x.True]; !ok {
					return nil, errors.Wrap(ErrUnsupported, "jump to unknown label %q", x.True)
				}
				if _, ok := idx[x.False]; !ok {
					return nil, errors.Wrap(ErrUnsupported, "jump to unknown label %q", x.False)
				}
			}

			body, err = sel.instr(body, g, id)
			if err != nil {
				return nil, errors.Wrap(err, "block %v: %s", bp.Label, f.String(id))
			}

			g.release(id)
		}
	}

	b = fmt.Appendf(b, "\t.globl\t%s\n%s:\n", f.Name, f.Name)
	b = sel.prologue(b, g)
	b = append(b, body...)
	b = sel.epilogue(b, g)

	tlog.SpanFromContext(ctx).Printw("compiled function",
		"name", f.Name, "frame", g.fr.Total(), "callee_save", len(g.al.UsedCalleeSave()))

	return b, nil
}

func blockLabel(f *ir.Func, label string) string {
	return ".L" + f.Name + "." + label
}

func retLabel(f *ir.Func) string {
	return ".L" + f.Name + ".ret"
}

// countUses pre-computes how many times each value is consumed, so the
// emitter can free a register right after its last use.
func countUses(f *ir.Func) map[ir.Expr]int {
	u := make(map[ir.Expr]int, len(f.Exprs))

	for _, x := range f.Exprs {
		switch x := x.(type) {
		case ir.Bin:
			u[x.L]++
			u[x.R]++
		case ir.Un:
			u[x.X]++
		case ir.Cmp:
			u[x.L]++
			u[x.R]++
		case ir.Conv:
			u[x.X]++
		case ir.Load:
			u[x.Addr]++
		case ir.Store:
			u[x.Val]++
			u[x.Addr]++
		case ir.Call:
			for _, a := range x.Args {
				u[a]++
			}
		case ir.BCond:
			u[x.Cond]++
		case ir.Ret:
			if !x.Void {
				u[x.Value]++
			}
		}
	}

	return u
}

// release frees the operand registers the instruction consumed and the
// result register if nothing ever reads it.
func (g *funcgen) release(id ir.Expr) {
	drop := func(op ir.Expr) {
		g.uses[op]--
		if g.uses[op] <= 0 {
			g.al.Free(op)
		}
	}

	switch x := g.f.Exprs[id].(type) {
	case ir.Bin:
		drop(x.L)
		drop(x.R)
	case ir.Un:
		drop(x.X)
	case ir.Cmp:
		drop(x.L)
		drop(x.R)
	case ir.Conv:
		drop(x.X)
	case ir.Load:
		drop(x.Addr)
	case ir.Store:
		drop(x.Val)
		drop(x.Addr)
	case ir.Call:
		for _, a := range x.Args {
			drop(a)
		}
	case ir.BCond:
		drop(x.Cond)
	case ir.Ret:
		if !x.Void {
			drop(x.Value)
		}
	}

	if g.uses[id] == 0 {
		g.al.Free(id)
	}
}

// scratch allocates a register not bound to any IR value. The caller
// frees it through the returned id once the sequence is emitted.
func (g *funcgen) scratch(c arch.Class) (arch.Reg, ir.Expr, error) {
	id := g.scratchID
	g.scratchID--

	r, err := g.al.Alloc(id, c)
	if err != nil {
		return arch.Reg{}, 0, err
	}

	return r, id, nil
}

func (g *funcgen) class(t ir.Type) arch.Class {
	if t.Float() {
		return arch.Float
	}

	return arch.Int
}

// argRegister resolves the register of the i-th parameter: integer and
// floating arguments are counted with independent counters into their
// respective files.
func argRegister(a *arch.Arch, params []ir.Param, i int) (arch.Reg, error) {
	c := arch.Int
	if params[i].Type.Float() {
		c = arch.Float
	}

	n := 0

	for _, p := range params[:i] {
		pc := arch.Int
		if p.Type.Float() {
			pc = arch.Float
		}

		if pc == c {
			n++
		}
	}

	file := a.Args(c)
	if n >= len(file) {
		return arch.Reg{}, errors.Wrap(ErrUnsupported, "argument %d exceeds the %d-register file", i, len(file))
	}

	return file[n], nil
}

func (p *litpool) ref(t ir.Type, v float64) string {
	key := flit{typ: t, val: v}

	if l, ok := p.index[key]; ok {
		return l
	}

	l := fmt.Sprintf(".Lflt%d", len(p.order))
	key.label = l

	p.index[flit{typ: t, val: v}] = l
	p.order = append(p.order, key)

	return l
}

// globals lays out .data and .bss: scalar and array initializers are
// packed little-endian and zero-padded to the declared length,
// uninitialized globals reserve zero-filled storage with alignment 4.
func (c *Compiler) globals(obj *Object, m *ir.Module, flt *litpool) (dataAsm, bssAsm []byte, err error) {
	for _, g := range m.Globals {
		if len(g.Init) == 0 {
			continue
		}

		if len(dataAsm) == 0 {
			dataAsm = fmt.Appendf(nil, "\n\t.data\n")
		}

		dataAsm = fmt.Appendf(dataAsm, "%s:\n", g.Name)

		for _, v := range g.Init {
			dataAsm, err = appendDirective(dataAsm, v)
			if err != nil {
				return nil, nil, errors.Wrap(err, "global %v", g.Name)
			}

			obj.Data = packConst(obj.Data, v)
		}

		if pad := (g.Len - len(g.Init)) * g.Type.Size(); pad > 0 {
			dataAsm = fmt.Appendf(dataAsm, "\t.zero\t%d\n", pad)
			obj.Data = append(obj.Data, make([]byte, pad)...)
		}
	}

	if len(flt.order) != 0 {
		if len(dataAsm) == 0 {
			dataAsm = fmt.Appendf(nil, "\n\t.data\n")
		}

		// double-word align the literal pool, in text and in bytes;
		// .balign is bytes on both targets, .align is 2^n on arm64 gas
		dataAsm = fmt.Appendf(dataAsm, "\t.balign\t8\n")

		for len(obj.Data)%8 != 0 {
			obj.Data = append(obj.Data, 0)
		}

		for _, l := range flt.order {
			dataAsm = fmt.Appendf(dataAsm, "%s:\n", l.label)
			dataAsm, err = appendDirective(dataAsm, ir.Const{Type: l.typ, Flt: l.val})
			if err != nil {
				return nil, nil, err
			}

			obj.Data = packConst(obj.Data, ir.Const{Type: l.typ, Flt: l.val})
		}
	}

	for _, g := range m.Globals {
		if len(g.Init) != 0 {
			continue
		}

		if len(bssAsm) == 0 {
			bssAsm = fmt.Appendf(nil, "\n\t.bss\n")
		}

		size := g.Len * g.Type.Size()

		bssAsm = fmt.Appendf(bssAsm, "\t.balign\t4\n%s:\n\t.zero\t%d\n", g.Name, size)

		obj.BssSize = (obj.BssSize + 3) / 4 * 4
		obj.BssSize += size
	}

	return dataAsm, bssAsm, nil
}

func appendDirective(b []byte, v ir.Const) ([]byte, error) {
	switch v.Type {
	case ir.I8:
		return fmt.Appendf(b, "\t.byte\t%d\n", int8(v.Int)), nil
	case ir.I32:
		return fmt.Appendf(b, "\t.long\t%d\n", int32(v.Int)), nil
	case ir.I64, ir.Ptr:
		return fmt.Appendf(b, "\t.quad\t%d\n", v.Int), nil
	case ir.F32:
		return fmt.Appendf(b, "\t.float\t%v\n", v.Flt), nil
	case ir.F64:
		return fmt.Appendf(b, "\t.double\t%v\n", v.Flt), nil
	default:
		return b, errors.Wrap(ErrUnsupported, "global of type %v", v.Type)
	}
}

func packConst(b []byte, v ir.Const) []byte {
	switch v.Type {
	case ir.I8:
		return append(b, byte(v.Int))
	case ir.I32:
		return binary.LittleEndian.AppendUint32(b, uint32(v.Int))
	case ir.F32:
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v.Flt)))
	case ir.F64:
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(v.Flt))
	default: // I64, Ptr
		return binary.LittleEndian.AppendUint64(b, uint64(v.Int))
	}
}
