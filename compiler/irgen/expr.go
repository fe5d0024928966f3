package irgen

import (
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/euxaristia/pcc-sub000/compiler/ast"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

// expr lowers an expression and reports the value and its type.
func (s *state) expr(x ast.Expr) (ir.Expr, ir.Type, error) {
	switch x := x.(type) {
	case ast.NumLit:
		im, err := literal(x.Text)
		if err != nil {
			return 0, ir.Void, err
		}

		return s.emit(im), im.Type, nil
	case ast.Ident:
		return s.ident(x.Name)
	case ast.Unary:
		return s.unary(x)
	case ast.Binary:
		return s.binary(x)
	case ast.Assign:
		return s.assign(x)
	case ast.Cond:
		return s.ternary(x)
	case ast.Comma:
		_, _, err := s.expr(x.L)
		if err != nil {
			return 0, ir.Void, err
		}

		return s.expr(x.R)
	case ast.CallExpr:
		return s.call(x)
	case ast.Index:
		addr, t, err := s.index(x)
		if err != nil {
			return 0, ir.Void, err
		}

		return s.emit(ir.Load{Type: t, Addr: addr}), t, nil
	default:
		return 0, ir.Void, errors.Wrap(ErrLowering, "unsupported expression %T", x)
	}
}

// literal classifies a numeric literal by its lexical shape:
// trailing f is f32, a fraction or exponent is f64, trailing l is i64,
// anything else is i32.
func literal(text string) (ir.Imm, error) {
	if text == "" {
		return ir.Imm{}, errors.Wrap(ErrLowering, "empty numeric literal")
	}

	hex := strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X")

	switch {
	case !hex && (strings.HasSuffix(text, "f") || strings.HasSuffix(text, "F")):
		v, err := strconv.ParseFloat(text[:len(text)-1], 32)
		if err != nil {
			return ir.Imm{}, errors.Wrap(ErrLowering, "bad literal %q", text)
		}

		return ir.Imm{Type: ir.F32, Flt: v}, nil
	case !hex && strings.ContainsAny(text, ".eE"):
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return ir.Imm{}, errors.Wrap(ErrLowering, "bad literal %q", text)
		}

		return ir.Imm{Type: ir.F64, Flt: v}, nil
	case strings.HasSuffix(text, "l") || strings.HasSuffix(text, "L"):
		v, err := strconv.ParseInt(text[:len(text)-1], 0, 64)
		if err != nil {
			return ir.Imm{}, errors.Wrap(ErrLowering, "bad literal %q", text)
		}

		return ir.Imm{Type: ir.I64, Int: v}, nil
	default:
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return ir.Imm{}, errors.Wrap(ErrLowering, "bad literal %q", text)
		}

		return ir.Imm{Type: ir.I32, Int: v}, nil
	}
}

func (s *state) ident(name string) (ir.Expr, ir.Type, error) {
	if v, ok := s.lookup(name); ok {
		if v.Array {
			// arrays decay to the slot address
			return v.Slot, ir.Ptr, nil
		}

		return s.emit(ir.Load{Type: v.Type, Addr: v.Slot}), v.Type, nil
	}

	if v, ok := s.enums[name]; ok {
		return s.emit(ir.Imm{Type: ir.I32, Int: v}), ir.I32, nil
	}

	if g, ok := s.globals[name]; ok {
		addr := s.emit(ir.Global{Name: name, Type: g.Type})

		if g.Array {
			return addr, ir.Ptr, nil
		}

		return s.emit(ir.Load{Type: g.Type, Addr: addr}), g.Type, nil
	}

	return 0, ir.Void, errors.Wrap(ErrLowering, "undeclared identifier %q", name)
}

// lvalue computes the address an assignment or & targets, and the type
// of the stored value.
func (s *state) lvalue(x ast.Expr) (ir.Expr, ir.Type, error) {
	switch x := x.(type) {
	case ast.Ident:
		if v, ok := s.lookup(x.Name); ok {
			return v.Slot, v.Type, nil
		}

		if g, ok := s.globals[x.Name]; ok {
			return s.emit(ir.Global{Name: x.Name, Type: g.Type}), g.Type, nil
		}

		return 0, ir.Void, errors.Wrap(ErrLowering, "undeclared identifier %q", x.Name)
	case ast.Unary:
		if x.Op != "*" {
			return 0, ir.Void, errors.Wrap(ErrLowering, "%q is not an lvalue", x.Op)
		}

		addr, _, err := s.expr(x.X)
		if err != nil {
			return 0, ir.Void, err
		}

		tn := s.typeName(x.X)
		tn.Ptr--

		t, err := typeOf(tn)
		if err != nil {
			return 0, ir.Void, err
		}

		return addr, t, nil
	case ast.Index:
		return s.index(x)
	default:
		return 0, ir.Void, errors.Wrap(ErrLowering, "%T is not an lvalue", x)
	}
}

// index computes the element address of base[idx].
func (s *state) index(x ast.Index) (ir.Expr, ir.Type, error) {
	base, bt, err := s.expr(x.Base)
	if err != nil {
		return 0, ir.Void, err
	}

	if bt != ir.Ptr {
		return 0, ir.Void, errors.Wrap(ErrLowering, "indexing a non-pointer %v", bt)
	}

	et, err := typeOf(s.elemTypeName(x.Base))
	if err != nil {
		return 0, ir.Void, err
	}

	idx, it, err := s.expr(x.Idx)
	if err != nil {
		return 0, ir.Void, err
	}

	idx, err = s.convert(idx, it, ir.I64)
	if err != nil {
		return 0, ir.Void, err
	}

	size := s.emit(ir.Imm{Type: ir.I64, Int: int64(et.Size())})
	off := s.emit(ir.Bin{Op: ir.MUL, Type: ir.I64, L: idx, R: size})
	addr := s.emit(ir.Bin{Op: ir.ADD, Type: ir.Ptr, L: base, R: off})

	return addr, et, nil
}

func (s *state) unary(x ast.Unary) (ir.Expr, ir.Type, error) {
	switch x.Op {
	case "-":
		v, t, err := s.expr(x.X)
		if err != nil {
			return 0, ir.Void, err
		}

		return s.emit(ir.Un{Op: ir.NEG, Type: t, X: v}), t, nil
	case "~":
		v, t, err := s.expr(x.X)
		if err != nil {
			return 0, ir.Void, err
		}

		if t.Float() {
			return 0, ir.Void, errors.Wrap(ErrLowering, "operator ~ on %v", t)
		}

		return s.emit(ir.Un{Op: ir.NOT, Type: t, X: v}), t, nil
	case "!":
		v, t, err := s.expr(x.X)
		if err != nil {
			return 0, ir.Void, err
		}

		zero := s.emit(ir.Imm{Type: t})
		r := s.emit(ir.Cmp{Op: ir.EQ, Type: t, L: v, R: zero})

		return r, ir.I32, nil
	case "&":
		addr, _, err := s.lvalue(x.X)
		if err != nil {
			return 0, ir.Void, err
		}

		return addr, ir.Ptr, nil
	case "*":
		addr, t, err := s.lvalue(x)
		if err != nil {
			return 0, ir.Void, err
		}

		return s.emit(ir.Load{Type: t, Addr: addr}), t, nil
	case "++", "--":
		return s.incdec(x)
	default:
		return 0, ir.Void, errors.Wrap(ErrLowering, "unsupported unary operator %q", x.Op)
	}
}

// incdec desugars ++x/--x to x = x +- 1. The postfix form yields the
// value loaded before the store.
func (s *state) incdec(x ast.Unary) (ir.Expr, ir.Type, error) {
	addr, t, err := s.lvalue(x.X)
	if err != nil {
		return 0, ir.Void, err
	}

	old := s.emit(ir.Load{Type: t, Addr: addr})

	one := s.emit(ir.Imm{Type: t, Int: 1, Flt: 1})

	op := ir.ADD
	if x.Op == "--" {
		op = ir.SUB
	}

	val := s.emit(ir.Bin{Op: op, Type: t, L: old, R: one})
	s.emit(ir.Store{Type: t, Val: val, Addr: addr})

	if x.Post {
		return old, t, nil
	}

	return val, t, nil
}

func (s *state) binary(x ast.Binary) (ir.Expr, ir.Type, error) {
	l, lt, err := s.expr(x.L)
	if err != nil {
		return 0, ir.Void, err
	}

	r, rt, err := s.expr(x.R)
	if err != nil {
		return 0, ir.Void, err
	}

	return s.binop(x.Op, l, lt, r, rt, x.L)
}

func (s *state) binop(op string, l ir.Expr, lt ir.Type, r ir.Expr, rt ir.Type, lhs ast.Expr) (ir.Expr, ir.Type, error) {
	switch op {
	case "&&", "||":
		bop := ir.LAND
		if op == "||" {
			bop = ir.LOR
		}

		l, err := s.truth(l, lt)
		if err != nil {
			return 0, ir.Void, err
		}

		r, err = s.truth(r, rt)
		if err != nil {
			return 0, ir.Void, err
		}

		return s.emit(ir.Bin{Op: bop, Type: ir.I32, L: l, R: r}), ir.I32, nil
	case "==", "!=", "<", "<=", ">", ">=":
		t := ir.Wider(lt, rt)

		l, err := s.convert(l, lt, t)
		if err != nil {
			return 0, ir.Void, err
		}

		r, err = s.convert(r, rt, t)
		if err != nil {
			return 0, ir.Void, err
		}

		var cop ir.CmpOp

		switch op {
		case "==":
			cop = ir.EQ
		case "!=":
			cop = ir.NE
		case "<":
			cop = ir.LT
		case "<=":
			cop = ir.LE
		case ">":
			cop = ir.GT
		default:
			cop = ir.GE
		}

		return s.emit(ir.Cmp{Op: cop, Type: t, L: l, R: r}), ir.I32, nil
	}

	var bop ir.BinOp

	switch op {
	case "+":
		bop = ir.ADD
	case "-":
		bop = ir.SUB
	case "*":
		bop = ir.MUL
	case "/":
		bop = ir.DIV
	case "%":
		bop = ir.MOD
	case "<<":
		bop = ir.SHL
	case ">>":
		bop = ir.SHR
	case "&":
		bop = ir.BAND
	case "|":
		bop = ir.BOR
	case "^":
		bop = ir.BXOR
	default:
		return 0, ir.Void, errors.Wrap(ErrLowering, "unsupported binary operator %q", op)
	}

	// pointer +- integer scales by the element size
	if lt == ir.Ptr && !rt.Float() && (bop == ir.ADD || bop == ir.SUB) {
		et, err := typeOf(s.elemTypeName(lhs))
		if err != nil {
			return 0, ir.Void, err
		}

		r, err = s.convert(r, rt, ir.I64)
		if err != nil {
			return 0, ir.Void, err
		}

		size := s.emit(ir.Imm{Type: ir.I64, Int: int64(et.Size())})
		off := s.emit(ir.Bin{Op: ir.MUL, Type: ir.I64, L: r, R: size})

		return s.emit(ir.Bin{Op: bop, Type: ir.Ptr, L: l, R: off}), ir.Ptr, nil
	}

	t := ir.Wider(lt, rt)

	if t.Float() && (bop == ir.MOD || bop == ir.SHL || bop == ir.SHR ||
		bop == ir.BAND || bop == ir.BOR || bop == ir.BXOR) {
		return 0, ir.Void, errors.Wrap(ErrLowering, "operator %q on %v", op, t)
	}

	l, err := s.convert(l, lt, t)
	if err != nil {
		return 0, ir.Void, err
	}

	r, err = s.convert(r, rt, t)
	if err != nil {
		return 0, ir.Void, err
	}

	return s.emit(ir.Bin{Op: bop, Type: t, L: l, R: r}), t, nil
}

func (s *state) assign(x ast.Assign) (ir.Expr, ir.Type, error) {
	addr, t, err := s.lvalue(x.LHS)
	if err != nil {
		return 0, ir.Void, err
	}

	var val ir.Expr
	var vt ir.Type

	if x.Op == "" {
		val, vt, err = s.expr(x.RHS)
		if err != nil {
			return 0, ir.Void, err
		}
	} else {
		// compound assignment desugars to x = x <op> y
		cur := s.emit(ir.Load{Type: t, Addr: addr})

		r, rt, err := s.expr(x.RHS)
		if err != nil {
			return 0, ir.Void, err
		}

		val, vt, err = s.binop(x.Op, cur, t, r, rt, x.LHS)
		if err != nil {
			return 0, ir.Void, err
		}
	}

	val, err = s.convert(val, vt, t)
	if err != nil {
		return 0, ir.Void, err
	}

	s.emit(ir.Store{Type: t, Val: val, Addr: addr})

	return val, t, nil
}

// ternary has no merge values in the IR, the result goes through a
// dedicated stack slot: stored in each arm, loaded after the merge.
func (s *state) ternary(x ast.Cond) (ir.Expr, ir.Type, error) {
	t, err := typeOf(s.typeName(x.T))
	if err != nil {
		return 0, ir.Void, err
	}

	slot := s.allocaEntry(s.label(".cond"), t, t.Size())

	cond, err := s.condExpr(x.C)
	if err != nil {
		return 0, ir.Void, err
	}

	trueL := s.label("cond.true")
	falseL := s.label("cond.false")
	endL := s.label("cond.end")

	s.emit(ir.BCond{Cond: cond, True: trueL, False: falseL})

	s.block(trueL)

	v, vt, err := s.expr(x.T)
	if err != nil {
		return 0, ir.Void, err
	}

	v, err = s.convert(v, vt, t)
	if err != nil {
		return 0, ir.Void, err
	}

	s.emit(ir.Store{Type: t, Val: v, Addr: slot})
	s.emit(ir.B{Label: endL})

	s.block(falseL)

	v, vt, err = s.expr(x.F)
	if err != nil {
		return 0, ir.Void, err
	}

	v, err = s.convert(v, vt, t)
	if err != nil {
		return 0, ir.Void, err
	}

	s.emit(ir.Store{Type: t, Val: v, Addr: slot})
	s.emit(ir.B{Label: endL})

	s.block(endL)

	return s.emit(ir.Load{Type: t, Addr: slot}), t, nil
}

func (s *state) call(x ast.CallExpr) (ir.Expr, ir.Type, error) {
	p, ok := s.funcs[x.Func]
	if !ok {
		return 0, ir.Void, errors.Wrap(ErrLowering, "undeclared function %q", x.Func)
	}

	args := make([]ir.Expr, 0, len(x.Args))

	for i, a := range x.Args {
		v, _, err := s.expr(a)
		if err != nil {
			return 0, ir.Void, errors.Wrap(err, "arg %d", i)
		}

		args = append(args, v)
	}

	return s.emit(ir.Call{Func: x.Func, Type: p.Ret, Args: args}), p.Ret, nil
}

// condExpr lowers a branch condition down to a non-zero test of type i32.
func (s *state) condExpr(x ast.Expr) (ir.Expr, error) {
	v, t, err := s.expr(x)
	if err != nil {
		return 0, err
	}

	return s.truth(v, t)
}

func (s *state) truth(v ir.Expr, t ir.Type) (ir.Expr, error) {
	if t == ir.I32 {
		if _, ok := s.f.Exprs[v].(ir.Cmp); ok {
			return v, nil
		}
	}

	zero := s.emit(ir.Imm{Type: t})

	return s.emit(ir.Cmp{Op: ir.NE, Type: t, L: v, R: zero}), nil
}

// convert inserts the conversion instruction from one scalar type to
// another, or returns the value as is when none is needed.
func (s *state) convert(v ir.Expr, from, to ir.Type) (ir.Expr, error) {
	if from == to || to == ir.Void {
		return v, nil
	}

	if from == ir.Ptr || to == ir.Ptr {
		// pointers are word-sized, i64 and ptr interconvert freely
		if from.Size() == to.Size() && !from.Float() && !to.Float() {
			return v, nil
		}

		if !from.Float() && !to.Float() {
			if from.Size() < to.Size() {
				return s.emit(ir.Conv{Op: ir.ZEXT, Type: to, X: v}), nil
			}

			return s.emit(ir.Conv{Op: ir.TRUNC, Type: to, X: v}), nil
		}

		return 0, errors.Wrap(ErrLowering, "conversion %v -> %v", from, to)
	}

	switch {
	case from.Float() && to.Float():
		op := ir.FPEXT
		if from.Size() > to.Size() {
			op = ir.FPTRUNC
		}

		return s.emit(ir.Conv{Op: op, Type: to, X: v}), nil
	case !from.Float() && to.Float():
		return s.emit(ir.Conv{Op: ir.SITOFP, Type: to, X: v}), nil
	case from.Float() && !to.Float():
		return s.emit(ir.Conv{Op: ir.FPTOSI, Type: to, X: v}), nil
	case from.Size() < to.Size():
		// comparison results are known 0/1, zero-extension is exact;
		// everything else is signed
		if _, ok := s.f.Exprs[v].(ir.Cmp); ok {
			return s.emit(ir.Conv{Op: ir.ZEXT, Type: to, X: v}), nil
		}

		return s.emit(ir.Conv{Op: ir.SEXT, Type: to, X: v}), nil
	case from.Size() > to.Size():
		return s.emit(ir.Conv{Op: ir.TRUNC, Type: to, X: v}), nil
	default:
		return v, nil
	}
}
