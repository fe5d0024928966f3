package irgen

import (
	"tlog.app/go/errors"

	"github.com/euxaristia/pcc-sub000/compiler/ast"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

func (s *state) stmt(x ast.Stmt) error {
	switch x := x.(type) {
	case *ast.BlockStmt:
		// blocks appear both ways: function bodies are pointers
		return s.stmt(*x)
	case ast.BlockStmt:
		s.scopes = append(s.scopes, map[string]variable{})

		for _, sub := range x.Stmts {
			err := s.stmt(sub)
			if err != nil {
				return err
			}
		}

		s.scopes = s.scopes[:len(s.scopes)-1]

		return nil
	case ast.DeclStmt:
		return s.local(x.Decl)
	case ast.ExprStmt:
		_, _, err := s.expr(x.X)
		return err
	case ast.IfStmt:
		return s.ifStmt(x)
	case ast.WhileStmt:
		return s.whileStmt(x)
	case ast.DoWhileStmt:
		return s.doWhileStmt(x)
	case ast.ForStmt:
		return s.forStmt(x)
	case ast.ReturnStmt:
		return s.returnStmt(x)
	case ast.GotoStmt:
		s.emit(ir.B{Label: s.userLabel(x.Label)})
		return nil
	case ast.LabeledStmt:
		lbl := s.userLabel(x.Label)

		if !s.f.Terminated(&s.f.Blocks[s.cur]) {
			s.emit(ir.B{Label: lbl})
		}

		s.block(lbl)

		if x.Stmt != nil {
			return s.stmt(x.Stmt)
		}

		return nil
	case ast.BreakStmt:
		if len(s.breaks) == 0 {
			return errors.Wrap(ErrLowering, "break outside a loop")
		}

		s.emit(ir.B{Label: s.breaks[len(s.breaks)-1]})

		return nil
	case ast.ContinueStmt:
		if len(s.conts) == 0 {
			return errors.Wrap(ErrLowering, "continue outside a loop")
		}

		s.emit(ir.B{Label: s.conts[len(s.conts)-1]})

		return nil
	case ast.AsmStmt:
		s.emit(ir.Asm{Text: x.Text})
		return nil
	default:
		return errors.Wrap(ErrLowering, "unsupported statement %T", x)
	}
}

func (s *state) local(d ast.VarDecl) error {
	t, err := typeOf(d.Type)
	if err != nil {
		return err
	}

	size := t.Size()
	if d.Array {
		if len(d.Init) > 0 {
			return errors.Wrap(ErrLowering, "local array %q: initializers are not supported", d.Name)
		}

		size = t.Size() * d.Size
	}

	slot := s.allocaEntry(d.Name, t, size)

	s.scopes[len(s.scopes)-1][d.Name] = variable{Slot: slot, TN: d.Type, Type: t, Array: d.Array}
	s.f.Locals = append(s.f.Locals, ir.Param{Name: d.Name, Type: t})

	if d.Array || len(d.Init) == 0 {
		return nil
	}

	if len(d.Init) != 1 {
		return errors.Wrap(ErrLowering, "scalar %q: one initializer expected", d.Name)
	}

	v, vt, err := s.expr(d.Init[0])
	if err != nil {
		return errors.Wrap(err, "init %v", d.Name)
	}

	v, err = s.convert(v, vt, t)
	if err != nil {
		return err
	}

	s.emit(ir.Store{Type: t, Val: v, Addr: slot})

	return nil
}

func (s *state) ifStmt(x ast.IfStmt) error {
	cond, err := s.condExpr(x.Cond)
	if err != nil {
		return err
	}

	thenL := s.label("if.then")
	mergeL := s.label("if.merge")
	elseL := mergeL

	if x.Else != nil {
		elseL = s.label("if.else")
	}

	s.emit(ir.BCond{Cond: cond, True: thenL, False: elseL})

	s.block(thenL)

	err = s.stmt(x.Then)
	if err != nil {
		return err
	}

	if !s.f.Terminated(&s.f.Blocks[s.cur]) {
		s.emit(ir.B{Label: mergeL})
	}

	if x.Else != nil {
		s.block(elseL)

		err = s.stmt(x.Else)
		if err != nil {
			return err
		}

		if !s.f.Terminated(&s.f.Blocks[s.cur]) {
			s.emit(ir.B{Label: mergeL})
		}
	}

	s.block(mergeL)

	return nil
}

func (s *state) whileStmt(x ast.WhileStmt) error {
	condL := s.label("while.cond")
	bodyL := s.label("while.body")
	afterL := s.label("while.after")

	s.emit(ir.B{Label: condL})
	s.block(condL)

	cond, err := s.condExpr(x.Cond)
	if err != nil {
		return err
	}

	s.emit(ir.BCond{Cond: cond, True: bodyL, False: afterL})

	s.block(bodyL)
	s.breaks = append(s.breaks, afterL)
	s.conts = append(s.conts, condL)

	err = s.stmt(x.Body)

	s.breaks = s.breaks[:len(s.breaks)-1]
	s.conts = s.conts[:len(s.conts)-1]

	if err != nil {
		return err
	}

	if !s.f.Terminated(&s.f.Blocks[s.cur]) {
		s.emit(ir.B{Label: condL})
	}

	s.block(afterL)

	return nil
}

// doWhileStmt runs the body once before the first condition test.
func (s *state) doWhileStmt(x ast.DoWhileStmt) error {
	bodyL := s.label("do.body")
	condL := s.label("do.cond")
	afterL := s.label("do.after")

	s.emit(ir.B{Label: bodyL})
	s.block(bodyL)

	s.breaks = append(s.breaks, afterL)
	s.conts = append(s.conts, condL)

	err := s.stmt(x.Body)

	s.breaks = s.breaks[:len(s.breaks)-1]
	s.conts = s.conts[:len(s.conts)-1]

	if err != nil {
		return err
	}

	if !s.f.Terminated(&s.f.Blocks[s.cur]) {
		s.emit(ir.B{Label: condL})
	}

	s.block(condL)

	cond, err := s.condExpr(x.Cond)
	if err != nil {
		return err
	}

	s.emit(ir.BCond{Cond: cond, True: bodyL, False: afterL})

	s.block(afterL)

	return nil
}

func (s *state) forStmt(x ast.ForStmt) error {
	condL := s.label("for.cond")
	bodyL := s.label("for.body")
	incL := s.label("for.inc")
	afterL := s.label("for.after")

	s.scopes = append(s.scopes, map[string]variable{})
	defer func() {
		s.scopes = s.scopes[:len(s.scopes)-1]
	}()

	if x.Init != nil {
		err := s.stmt(x.Init)
		if err != nil {
			return err
		}
	}

	s.emit(ir.B{Label: condL})
	s.block(condL)

	var cond ir.Expr
	var err error

	if x.Cond != nil {
		cond, err = s.condExpr(x.Cond)
	} else {
		// a missing condition is constant truth
		one := s.emit(ir.Imm{Type: ir.I32, Int: 1})
		cond = one
	}

	if err != nil {
		return err
	}

	s.emit(ir.BCond{Cond: cond, True: bodyL, False: afterL})

	s.block(bodyL)
	s.breaks = append(s.breaks, afterL)
	s.conts = append(s.conts, incL)

	err = s.stmt(x.Body)

	s.breaks = s.breaks[:len(s.breaks)-1]
	s.conts = s.conts[:len(s.conts)-1]

	if err != nil {
		return err
	}

	if !s.f.Terminated(&s.f.Blocks[s.cur]) {
		s.emit(ir.B{Label: incL})
	}

	s.block(incL)

	if x.Inc != nil {
		_, _, err = s.expr(x.Inc)
		if err != nil {
			return err
		}
	}

	s.emit(ir.B{Label: condL})

	s.block(afterL)

	return nil
}

func (s *state) returnStmt(x ast.ReturnStmt) error {
	if x.X == nil {
		s.emit(ir.Ret{Void: true})
		return nil
	}

	v, t, err := s.expr(x.X)
	if err != nil {
		return err
	}

	v, err = s.convert(v, t, s.f.Ret)
	if err != nil {
		return err
	}

	s.emit(ir.Ret{Value: v})

	return nil
}
