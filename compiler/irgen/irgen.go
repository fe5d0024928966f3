// Package irgen lowers the frontend AST into IR, one module at a time.
// Lowering trusts the tree: grammar and type legality were checked upstream,
// anything the builder cannot express is a hard ErrLowering.
package irgen

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/euxaristia/pcc-sub000/compiler/ast"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

var ErrLowering = errors.New("lowering error")

type (
	Builder struct{}

	variable struct {
		Slot  ir.Expr // alloca
		TN    ast.TypeName
		Type  ir.Type
		Array bool
	}

	globalVar struct {
		TN    ast.TypeName
		Type  ir.Type
		Array bool
	}

	funcProto struct {
		TN  ast.TypeName
		Ret ir.Type
	}

	state struct {
		m *ir.Module
		f *ir.Func

		globals map[string]globalVar
		enums   map[string]int64
		funcs   map[string]funcProto

		cur    int
		scopes []map[string]variable

		userLabels map[string]string
		defined    map[string]bool
		breaks     []string
		conts      []string

		tmp int
	}
)

func New() *Builder {
	return &Builder{}
}

// Build lowers the whole program: globals and enums first so forward
// references from function bodies resolve, then the function bodies.
func (b *Builder) Build(ctx context.Context, p *ast.Program) (*ir.Module, error) {
	s := &state{
		m:       &ir.Module{},
		globals: map[string]globalVar{},
		enums:   map[string]int64{},
		funcs:   map[string]funcProto{},
	}

	for _, d := range p.Decls {
		switch d := d.(type) {
		case ast.VarDecl:
			err := s.global(d)
			if err != nil {
				return nil, errors.Wrap(err, "global %v", d.Name)
			}
		case ast.EnumDecl:
			err := s.enum(d)
			if err != nil {
				return nil, errors.Wrap(err, "enum")
			}
		case ast.FuncDecl:
			t, err := typeOf(d.Ret)
			if err != nil {
				return nil, errors.Wrap(err, "func %v", d.Name)
			}

			s.funcs[d.Name] = funcProto{TN: d.Ret, Ret: t}
		default:
			return nil, errors.Wrap(ErrLowering, "unsupported declaration %T", d)
		}
	}

	for _, d := range p.Decls {
		fd, ok := d.(ast.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}

		f, err := s.function(ctx, fd)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", fd.Name)
		}

		s.m.Funcs = append(s.m.Funcs, f)
	}

	return s.m, nil
}

func typeOf(tn ast.TypeName) (ir.Type, error) {
	if tn.Ptr > 0 {
		return ir.Ptr, nil
	}

	switch tn.Base {
	case "void":
		return ir.Void, nil
	case "char":
		return ir.I8, nil
	case "int":
		return ir.I32, nil
	case "long":
		return ir.I64, nil
	case "float":
		return ir.F32, nil
	case "double":
		return ir.F64, nil
	default:
		return ir.Void, errors.Wrap(ErrLowering, "unsupported type %q", tn.Base)
	}
}

func (s *state) enum(d ast.EnumDecl) error {
	if len(d.Values) != len(d.Names) {
		return errors.Wrap(ErrLowering, "enum values do not match names")
	}

	for i, n := range d.Names {
		s.enums[n] = d.Values[i]
	}

	return nil
}

func (s *state) global(d ast.VarDecl) error {
	t, err := typeOf(d.Type)
	if err != nil {
		return err
	}

	g := ir.Data{
		Name:  d.Name,
		Type:  t,
		Array: d.Array,
		Len:   d.Size,
	}

	if !d.Array {
		g.Len = 1
	}

	if d.Array && len(d.Init) > d.Size {
		return errors.Wrap(ErrLowering, "too many initializers: %d for array of %d", len(d.Init), d.Size)
	}

	for i, in := range d.Init {
		c, err := s.constEval(in, t)
		if err != nil {
			return errors.Wrap(err, "initializer %d", i)
		}

		g.Init = append(g.Init, c)
	}

	s.globals[d.Name] = globalVar{TN: d.Type, Type: t, Array: d.Array}
	s.m.Globals = append(s.m.Globals, g)

	return nil
}

// constEval folds a global-initializer expression down to a constant.
// Only literals, unary minus and enum constants are representable.
func (s *state) constEval(x ast.Expr, want ir.Type) (ir.Const, error) {
	switch x := x.(type) {
	case ast.NumLit:
		im, err := literal(x.Text)
		if err != nil {
			return ir.Const{}, err
		}

		return convConst(ir.Const{Type: im.Type, Int: im.Int, Flt: im.Flt}, want), nil
	case ast.Unary:
		if x.Op != "-" {
			return ir.Const{}, errors.Wrap(ErrLowering, "initializer operator %q is not constant", x.Op)
		}

		c, err := s.constEval(x.X, want)
		if err != nil {
			return ir.Const{}, err
		}

		c.Int = -c.Int
		c.Flt = -c.Flt

		return c, nil
	case ast.Ident:
		v, ok := s.enums[x.Name]
		if !ok {
			return ir.Const{}, errors.Wrap(ErrLowering, "initializer %q is not a constant", x.Name)
		}

		return convConst(ir.Const{Type: ir.I32, Int: v}, want), nil
	default:
		return ir.Const{}, errors.Wrap(ErrLowering, "initializer %T is not constant", x)
	}
}

func convConst(c ir.Const, want ir.Type) ir.Const {
	if c.Type == want {
		return c
	}

	switch {
	case want.Float() && !c.Type.Float():
		c.Flt = float64(c.Int)
	case !want.Float() && c.Type.Float():
		c.Int = int64(c.Flt)
	}

	c.Type = want

	return c
}

func (s *state) function(ctx context.Context, d ast.FuncDecl) (_ *ir.Func, err error) {
	ret, err := typeOf(d.Ret)
	if err != nil {
		return nil, err
	}

	f := &ir.Func{
		Name: d.Name,
		Ret:  ret,
	}

	s.f = f
	s.cur = 0
	s.scopes = []map[string]variable{{}}
	s.userLabels = map[string]string{}
	s.defined = map[string]bool{}
	s.breaks = nil
	s.conts = nil
	s.tmp = 0

	f.Blocks = append(f.Blocks, ir.Block{Label: "entry"})

	for i, p := range d.Params {
		t, err := typeOf(p.Type)
		if err != nil {
			return nil, errors.Wrap(err, "param %v", p.Name)
		}

		f.In = append(f.In, ir.Param{Name: p.Name, Type: t})

		slot := s.allocaEntry(p.Name, t, t.Size())
		arg := s.emit(ir.Arg{Type: t, Index: i})
		s.emit(ir.Store{Type: t, Val: arg, Addr: slot})

		s.scopes[0][p.Name] = variable{Slot: slot, TN: p.Type, Type: t}
	}

	err = s.stmt(ast.Stmt(*d.Body))
	if err != nil {
		return nil, err
	}

	if !s.f.Terminated(&f.Blocks[s.cur]) {
		if ret == ir.Void {
			s.emit(ir.Ret{Void: true})
		} else {
			zero := s.emit(ir.Imm{Type: ret})
			s.emit(ir.Ret{Value: zero})
		}
	}

	for name, lbl := range s.userLabels {
		if !s.defined[lbl] {
			return nil, errors.Wrap(ErrLowering, "goto to undefined label %q", name)
		}
	}

	tlog.SpanFromContext(ctx).Printw("lowered function",
		"name", f.Name, "blocks", len(f.Blocks), "exprs", len(f.Exprs))

	return f, nil
}

// emit appends an instruction to the current block. Nothing may follow
// a terminator, so unreachable code opens a fresh block.
func (s *state) emit(x ir.Instr) ir.Expr {
	if s.f.Terminated(&s.f.Blocks[s.cur]) {
		s.block(s.label("dead"))
	}

	id := s.f.Add(x)
	s.f.Blocks[s.cur].Code = append(s.f.Blocks[s.cur].Code, id)

	return id
}

// allocaEntry reserves a slot in the entry block regardless of where
// the declaration appeared.
func (s *state) allocaEntry(name string, t ir.Type, size int) ir.Expr {
	id := s.f.Add(ir.Alloca{Name: name, Type: t, Size: size})

	entry := &s.f.Blocks[0]

	if s.f.Terminated(entry) {
		last := len(entry.Code) - 1
		entry.Code = append(entry.Code[:last], id, entry.Code[last])
	} else {
		entry.Code = append(entry.Code, id)
	}

	return id
}

func (s *state) label(prefix string) string {
	s.tmp++

	return fmt.Sprintf("%s.%d", prefix, s.tmp)
}

// block starts a new block with the label and makes it current.
func (s *state) block(label string) int {
	s.f.Blocks = append(s.f.Blocks, ir.Block{Label: label})
	s.cur = len(s.f.Blocks) - 1
	s.defined[label] = true

	return s.cur
}

func (s *state) lookup(name string) (variable, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i][name]; ok {
			return v, true
		}
	}

	return variable{}, false
}

// userLabel maps a C label to a block label. The block itself may not
// exist yet: goto targets are resolved by name at emission.
func (s *state) userLabel(name string) string {
	if l, ok := s.userLabels[name]; ok {
		return l
	}

	l := "l." + name
	s.userLabels[name] = l

	return l
}
