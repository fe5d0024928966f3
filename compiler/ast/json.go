package ast

import (
	"encoding/json"

	"tlog.app/go/errors"
)

// DecodeJSON reads the frontend interchange form of a program:
// every node is an object with a "node" discriminator field.
func DecodeJSON(data []byte) (*Program, error) {
	var raw struct {
		Node  string            `json:"node"`
		Decls []json.RawMessage `json:"decls"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode program")
	}

	if raw.Node != "program" {
		return nil, errors.New("expected program node, got %q", raw.Node)
	}

	p := &Program{}

	for i, d := range raw.Decls {
		x, err := decodeDecl(d)
		if err != nil {
			return nil, errors.Wrap(err, "decl %d", i)
		}

		p.Decls = append(p.Decls, x)
	}

	return p, nil
}

func nodeKind(data []byte) (string, error) {
	var raw struct {
		Node string `json:"node"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return "", errors.Wrap(err, "node kind")
	}

	return raw.Node, nil
}

func decodeDecl(data []byte) (Decl, error) {
	kind, err := nodeKind(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "func":
		var raw struct {
			Name   string          `json:"name"`
			Ret    TypeName        `json:"ret"`
			Params []ParamDecl     `json:"params"`
			Body   json.RawMessage `json:"body"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "func")
		}

		d := FuncDecl{Name: raw.Name, Ret: raw.Ret, Params: raw.Params}

		if raw.Body != nil {
			body, err := decodeStmt(raw.Body)
			if err != nil {
				return nil, errors.Wrap(err, "func %v body", raw.Name)
			}

			blk, ok := body.(BlockStmt)
			if !ok {
				return nil, errors.New("func %v: body must be a block", raw.Name)
			}

			d.Body = &blk
		}

		return d, nil
	case "var":
		return decodeVar(data)
	case "enum":
		var d EnumDecl

		var raw struct {
			Names  []string `json:"names"`
			Values []int64  `json:"values"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "enum")
		}

		d.Names = raw.Names
		d.Values = raw.Values

		return d, nil
	default:
		return nil, errors.New("unsupported decl node %q", kind)
	}
}

func decodeVar(data []byte) (VarDecl, error) {
	var raw struct {
		Name  string            `json:"name"`
		Type  TypeName          `json:"type"`
		Array bool              `json:"array"`
		Size  int               `json:"size"`
		Init  []json.RawMessage `json:"init"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return VarDecl{}, errors.Wrap(err, "var")
	}

	d := VarDecl{Name: raw.Name, Type: raw.Type, Array: raw.Array, Size: raw.Size}

	for i, in := range raw.Init {
		x, err := decodeExpr(in)
		if err != nil {
			return d, errors.Wrap(err, "var %v init %d", raw.Name, i)
		}

		d.Init = append(d.Init, x)
	}

	return d, nil
}

func decodeStmt(data []byte) (Stmt, error) {
	kind, err := nodeKind(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "block":
		var raw struct {
			Stmts []json.RawMessage `json:"stmts"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "block")
		}

		var b BlockStmt

		for i, s := range raw.Stmts {
			x, err := decodeStmt(s)
			if err != nil {
				return nil, errors.Wrap(err, "stmt %d", i)
			}

			b.Stmts = append(b.Stmts, x)
		}

		return b, nil
	case "decl":
		var raw struct {
			Var json.RawMessage `json:"var"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "decl")
		}

		d, err := decodeVar(raw.Var)
		if err != nil {
			return nil, err
		}

		return DeclStmt{Decl: d}, nil
	case "expr":
		var raw struct {
			X json.RawMessage `json:"x"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "expr stmt")
		}

		x, err := decodeExpr(raw.X)
		if err != nil {
			return nil, err
		}

		return ExprStmt{X: x}, nil
	case "if":
		var raw struct {
			Cond json.RawMessage `json:"cond"`
			Then json.RawMessage `json:"then"`
			Else json.RawMessage `json:"else"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "if")
		}

		var s IfStmt

		s.Cond, err = decodeExpr(raw.Cond)
		if err != nil {
			return nil, errors.Wrap(err, "if cond")
		}

		s.Then, err = decodeStmt(raw.Then)
		if err != nil {
			return nil, errors.Wrap(err, "if then")
		}

		if raw.Else != nil {
			s.Else, err = decodeStmt(raw.Else)
			if err != nil {
				return nil, errors.Wrap(err, "if else")
			}
		}

		return s, nil
	case "while":
		var raw struct {
			Cond json.RawMessage `json:"cond"`
			Body json.RawMessage `json:"body"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "while")
		}

		var s WhileStmt

		s.Cond, err = decodeExpr(raw.Cond)
		if err != nil {
			return nil, errors.Wrap(err, "while cond")
		}

		s.Body, err = decodeStmt(raw.Body)
		if err != nil {
			return nil, errors.Wrap(err, "while body")
		}

		return s, nil
	case "dowhile":
		var raw struct {
			Body json.RawMessage `json:"body"`
			Cond json.RawMessage `json:"cond"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "dowhile")
		}

		var s DoWhileStmt

		s.Body, err = decodeStmt(raw.Body)
		if err != nil {
			return nil, errors.Wrap(err, "dowhile body")
		}

		s.Cond, err = decodeExpr(raw.Cond)
		if err != nil {
			return nil, errors.Wrap(err, "dowhile cond")
		}

		return s, nil
	case "for":
		var raw struct {
			Init json.RawMessage `json:"init"`
			Cond json.RawMessage `json:"cond"`
			Inc  json.RawMessage `json:"inc"`
			Body json.RawMessage `json:"body"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "for")
		}

		var s ForStmt

		if raw.Init != nil {
			s.Init, err = decodeStmt(raw.Init)
			if err != nil {
				return nil, errors.Wrap(err, "for init")
			}
		}

		if raw.Cond != nil {
			s.Cond, err = decodeExpr(raw.Cond)
			if err != nil {
				return nil, errors.Wrap(err, "for cond")
			}
		}

		if raw.Inc != nil {
			s.Inc, err = decodeExpr(raw.Inc)
			if err != nil {
				return nil, errors.Wrap(err, "for inc")
			}
		}

		s.Body, err = decodeStmt(raw.Body)
		if err != nil {
			return nil, errors.Wrap(err, "for body")
		}

		return s, nil
	case "return":
		var raw struct {
			X json.RawMessage `json:"x"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "return")
		}

		var s ReturnStmt

		if raw.X != nil {
			s.X, err = decodeExpr(raw.X)
			if err != nil {
				return nil, errors.Wrap(err, "return value")
			}
		}

		return s, nil
	case "goto":
		var raw struct {
			Label string `json:"label"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "goto")
		}

		return GotoStmt{Label: raw.Label}, nil
	case "label":
		var raw struct {
			Label string          `json:"label"`
			Stmt  json.RawMessage `json:"stmt"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "label")
		}

		s := LabeledStmt{Label: raw.Label}

		if raw.Stmt != nil {
			s.Stmt, err = decodeStmt(raw.Stmt)
			if err != nil {
				return nil, errors.Wrap(err, "label %v stmt", raw.Label)
			}
		}

		return s, nil
	case "break":
		return BreakStmt{}, nil
	case "continue":
		return ContinueStmt{}, nil
	case "asm":
		var raw struct {
			Text string `json:"text"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "asm")
		}

		return AsmStmt{Text: raw.Text}, nil
	default:
		return nil, errors.New("unsupported stmt node %q", kind)
	}
}

func decodeExpr(data []byte) (Expr, error) {
	kind, err := nodeKind(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "ident":
		var raw struct {
			Name string `json:"name"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "ident")
		}

		return Ident{Name: raw.Name}, nil
	case "num":
		var raw struct {
			Text string `json:"text"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "num")
		}

		return NumLit{Text: raw.Text}, nil
	case "unary":
		var raw struct {
			Op   string          `json:"op"`
			X    json.RawMessage `json:"x"`
			Post bool            `json:"post"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "unary")
		}

		x, err := decodeExpr(raw.X)
		if err != nil {
			return nil, errors.Wrap(err, "unary %v", raw.Op)
		}

		return Unary{Op: raw.Op, X: x, Post: raw.Post}, nil
	case "binary":
		var raw struct {
			Op string          `json:"op"`
			L  json.RawMessage `json:"l"`
			R  json.RawMessage `json:"r"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "binary")
		}

		l, err := decodeExpr(raw.L)
		if err != nil {
			return nil, errors.Wrap(err, "binary %v left", raw.Op)
		}

		r, err := decodeExpr(raw.R)
		if err != nil {
			return nil, errors.Wrap(err, "binary %v right", raw.Op)
		}

		return Binary{Op: raw.Op, L: l, R: r}, nil
	case "assign":
		var raw struct {
			Op  string          `json:"op"`
			LHS json.RawMessage `json:"lhs"`
			RHS json.RawMessage `json:"rhs"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "assign")
		}

		lhs, err := decodeExpr(raw.LHS)
		if err != nil {
			return nil, errors.Wrap(err, "assign lhs")
		}

		rhs, err := decodeExpr(raw.RHS)
		if err != nil {
			return nil, errors.Wrap(err, "assign rhs")
		}

		return Assign{Op: raw.Op, LHS: lhs, RHS: rhs}, nil
	case "cond":
		var raw struct {
			C json.RawMessage `json:"c"`
			T json.RawMessage `json:"t"`
			F json.RawMessage `json:"f"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "cond")
		}

		c, err := decodeExpr(raw.C)
		if err != nil {
			return nil, errors.Wrap(err, "cond c")
		}

		t, err := decodeExpr(raw.T)
		if err != nil {
			return nil, errors.Wrap(err, "cond t")
		}

		f, err := decodeExpr(raw.F)
		if err != nil {
			return nil, errors.Wrap(err, "cond f")
		}

		return Cond{C: c, T: t, F: f}, nil
	case "comma":
		var raw struct {
			L json.RawMessage `json:"l"`
			R json.RawMessage `json:"r"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "comma")
		}

		l, err := decodeExpr(raw.L)
		if err != nil {
			return nil, errors.Wrap(err, "comma left")
		}

		r, err := decodeExpr(raw.R)
		if err != nil {
			return nil, errors.Wrap(err, "comma right")
		}

		return Comma{L: l, R: r}, nil
	case "call":
		var raw struct {
			Func string            `json:"func"`
			Args []json.RawMessage `json:"args"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "call")
		}

		c := CallExpr{Func: raw.Func}

		for i, a := range raw.Args {
			x, err := decodeExpr(a)
			if err != nil {
				return nil, errors.Wrap(err, "call %v arg %d", raw.Func, i)
			}

			c.Args = append(c.Args, x)
		}

		return c, nil
	case "index":
		var raw struct {
			Base json.RawMessage `json:"base"`
			Idx  json.RawMessage `json:"idx"`
		}

		err = json.Unmarshal(data, &raw)
		if err != nil {
			return nil, errors.Wrap(err, "index")
		}

		base, err := decodeExpr(raw.Base)
		if err != nil {
			return nil, errors.Wrap(err, "index base")
		}

		idx, err := decodeExpr(raw.Idx)
		if err != nil {
			return nil, errors.Wrap(err, "index idx")
		}

		return Index{Base: base, Idx: idx}, nil
	default:
		return nil, errors.New("unsupported expr node %q", kind)
	}
}
