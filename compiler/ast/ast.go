// Package ast is the hand-off boundary with the upstream frontend.
// The tree arrives already parsed and type-resolved; nothing here
// re-validates C grammar.
package ast

type (
	Node any

	// TypeName is a resolved base type plus pointer depth.
	TypeName struct {
		Base string // void, char, int, long, float, double
		Ptr  int
	}

	Program struct {
		Decls []Decl
	}

	Decl any

	FuncDecl struct {
		Name   string
		Ret    TypeName
		Params []ParamDecl
		Body   *BlockStmt // nil for an external declaration
	}

	ParamDecl struct {
		Name string
		Type TypeName
	}

	VarDecl struct {
		Name  string
		Type  TypeName
		Array bool
		Size  int
		Init  []Expr // one element for scalars, up to Size for arrays
	}

	EnumDecl struct {
		Names  []string
		Values []int64 // parallel to Names; gaps filled by the frontend
	}

	Stmt any

	BlockStmt struct {
		Stmts []Stmt
	}

	DeclStmt struct {
		Decl VarDecl
	}

	ExprStmt struct {
		X Expr
	}

	IfStmt struct {
		Cond Expr
		Then Stmt
		Else Stmt // may be nil
	}

	WhileStmt struct {
		Cond Expr
		Body Stmt
	}

	DoWhileStmt struct {
		Body Stmt
		Cond Expr
	}

	ForStmt struct {
		Init Stmt // may be nil
		Cond Expr // may be nil, meaning constant truth
		Inc  Expr // may be nil
		Body Stmt
	}

	ReturnStmt struct {
		X Expr // nil for a bare return
	}

	GotoStmt struct {
		Label string
	}

	LabeledStmt struct {
		Label string
		Stmt  Stmt
	}

	BreakStmt struct{}

	ContinueStmt struct{}

	AsmStmt struct {
		Text string
	}

	Expr any

	Ident struct {
		Name string
	}

	// NumLit keeps the lexical text, the backend classifies the type
	// from the suffix and shape.
	NumLit struct {
		Text string
	}

	Unary struct {
		Op string // - ~ ! & * ++ --
		X  Expr

		Post bool // postfix ++/--
	}

	Binary struct {
		Op   string // + - * / % << >> & | ^ && || == != < <= > >=
		L, R Expr
	}

	// Assign covers plain and compound assignment. Op is "" for plain,
	// the arithmetic operator for compound ("+" for +=).
	Assign struct {
		Op  string
		LHS Expr
		RHS Expr
	}

	Cond struct {
		C, T, F Expr
	}

	Comma struct {
		L, R Expr
	}

	CallExpr struct {
		Func string
		Args []Expr
	}

	Index struct {
		Base Expr
		Idx  Expr
	}
)
