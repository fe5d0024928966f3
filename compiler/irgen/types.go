package irgen

import (
	"github.com/euxaristia/pcc-sub000/compiler/ast"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

// typeName reports the resolved C type of an expression. Arrays decay
// to a pointer to their element type. The tree was type-checked
// upstream, so unknown shapes default to int and surface later as
// lowering errors if they matter.
func (s *state) typeName(x ast.Expr) ast.TypeName {
	intTN := ast.TypeName{Base: "int"}

	switch x := x.(type) {
	case ast.Ident:
		if v, ok := s.lookup(x.Name); ok {
			tn := v.TN
			if v.Array {
				tn.Ptr++
			}

			return tn
		}

		if _, ok := s.enums[x.Name]; ok {
			return intTN
		}

		if g, ok := s.globals[x.Name]; ok {
			tn := g.TN
			if g.Array {
				tn.Ptr++
			}

			return tn
		}

		return intTN
	case ast.NumLit:
		im, err := literal(x.Text)
		if err != nil {
			return intTN
		}

		switch im.Type {
		case ir.F32:
			return ast.TypeName{Base: "float"}
		case ir.F64:
			return ast.TypeName{Base: "double"}
		case ir.I64:
			return ast.TypeName{Base: "long"}
		default:
			return intTN
		}
	case ast.Unary:
		switch x.Op {
		case "*":
			tn := s.typeName(x.X)
			tn.Ptr--

			return tn
		case "&":
			tn := s.typeName(x.X)
			tn.Ptr++

			return tn
		case "!":
			return intTN
		default:
			return s.typeName(x.X)
		}
	case ast.Binary:
		switch x.Op {
		case "==", "!=", "<", "<=", ">", ">=", "&&", "||":
			return intTN
		}

		l := s.typeName(x.L)
		r := s.typeName(x.R)

		if l.Ptr > 0 {
			return l
		}

		if r.Ptr > 0 {
			return r
		}

		if baseRank(l.Base) >= baseRank(r.Base) {
			return l
		}

		return r
	case ast.Assign:
		return s.typeName(x.LHS)
	case ast.Cond:
		return s.typeName(x.T)
	case ast.Comma:
		return s.typeName(x.R)
	case ast.CallExpr:
		if p, ok := s.funcs[x.Func]; ok {
			return p.TN
		}

		return intTN
	case ast.Index:
		tn := s.typeName(x.Base)
		tn.Ptr--

		return tn
	default:
		return intTN
	}
}

// elemTypeName reports the pointee type of a pointer- or array-typed
// expression.
func (s *state) elemTypeName(x ast.Expr) ast.TypeName {
	tn := s.typeName(x)
	tn.Ptr--

	return tn
}

func baseRank(base string) int {
	switch base {
	case "double":
		return 5
	case "float":
		return 4
	case "long":
		return 3
	case "int":
		return 2
	default: // char
		return 1
	}
}
