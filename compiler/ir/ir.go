package ir

type (
	// Expr is a handle of a value within a function.
	// It indexes Func.Exprs and is defined by exactly one instruction.
	Expr int

	Type int

	BinOp  int
	UnOp   int
	CmpOp  int
	ConvOp int

	// Instr is one of the instruction structs below.
	Instr any

	Param struct {
		Name string
		Type Type
	}

	// Const is an immutable literal. It never has a live range of its own,
	// it is materialized by the instruction that uses it.
	Const struct {
		Type Type
		Int  int64
		Flt  float64
	}

	// Arg is the incoming value of the function parameter Index.
	Arg struct {
		Type  Type
		Index int
	}

	// Imm materializes a constant as a value.
	Imm struct {
		Type Type
		Int  int64
		Flt  float64
	}

	Bin struct {
		Op   BinOp
		Type Type
		L, R Expr
	}

	Un struct {
		Op   UnOp
		Type Type
		X    Expr
	}

	// Cmp result is always I32, acting as boolean.
	Cmp struct {
		Op   CmpOp
		Type Type // operand type
		L, R Expr
	}

	Conv struct {
		Op   ConvOp
		Type Type // result type
		X    Expr
	}

	// Alloca reserves Size bytes of stack storage and yields its address.
	Alloca struct {
		Name string
		Type Type
		Size int
	}

	Load struct {
		Type Type
		Addr Expr
	}

	Store struct {
		Type Type
		Val  Expr
		Addr Expr
	}

	// Global yields the address of a module global.
	Global struct {
		Name string
		Type Type
	}

	Call struct {
		Func string
		Type Type // result type, Void for none
		Args []Expr
	}

	// Asm is an opaque inline-assembly passthrough.
	Asm struct {
		Text string
	}

	// B, BCond and Ret are block terminators.
	// Branch targets are label names, resolved at emission time.
	B struct {
		Label string
	}

	BCond struct {
		Cond        Expr
		True, False string
	}

	Ret struct {
		Void  bool
		Value Expr
	}

	Block struct {
		Label string
		Code  []Expr
	}

	Func struct {
		Name   string
		Ret    Type
		In     []Param
		Locals []Param

		Exprs  []Instr
		Blocks []Block // Blocks[0] is the entry
	}

	// Data is a module global. Init == nil means zero-initialized (.bss).
	// For arrays len(Init) may be less than Len, the rest is zero-padded.
	Data struct {
		Name  string
		Type  Type
		Array bool
		Len   int
		Init  []Const
	}

	Module struct {
		Name    string
		Funcs   []*Func
		Globals []Data
	}
)

const (
	Void Type = iota
	I8
	I32
	I64
	F32
	F64
	Ptr
)

const (
	ADD BinOp = iota
	SUB
	MUL
	DIV
	MOD
	SHL
	SHR
	BAND
	BOR
	BXOR
	LAND
	LOR
)

const (
	NOT UnOp = iota
	NEG
)

const (
	EQ CmpOp = iota
	NE
	LT
	LE
	GT
	GE
)

const (
	TRUNC ConvOp = iota
	ZEXT
	SEXT
	FPEXT
	FPTRUNC
	SITOFP
	FPTOSI
)

func (t Type) Size() int {
	switch t {
	case Void:
		return 0
	case I8:
		return 1
	case I32, F32:
		return 4
	case I64, F64, Ptr:
		return 8
	default:
		return 0
	}
}

func (t Type) Float() bool {
	return t == F32 || t == F64
}

// Wider reports which of the two types a binary operation promotes to:
// the widest of {F64, F32, I64, I32}.
func Wider(a, b Type) Type {
	rank := func(t Type) int {
		switch t {
		case F64:
			return 4
		case F32:
			return 3
		case I64, Ptr:
			return 2
		default:
			return 1
		}
	}

	if rank(a) >= rank(b) {
		return a
	}

	return b
}

func (f *Func) Add(x Instr) Expr {
	id := Expr(len(f.Exprs))
	f.Exprs = append(f.Exprs, x)

	return id
}

// TypeOf reports the type of the value defined by id.
func (f *Func) TypeOf(id Expr) Type {
	switch x := f.Exprs[id].(type) {
	case Arg:
		return x.Type
	case Imm:
		return x.Type
	case Bin:
		return x.Type
	case Un:
		return x.Type
	case Cmp:
		return I32
	case Conv:
		return x.Type
	case Alloca:
		return Ptr
	case Load:
		return x.Type
	case Global:
		return Ptr
	case Call:
		return x.Type
	default:
		return Void
	}
}

// Terminated reports whether the last instruction of the block ends it.
func (f *Func) Terminated(b *Block) bool {
	if len(b.Code) == 0 {
		return false
	}

	switch f.Exprs[b.Code[len(b.Code)-1]].(type) {
	case B, BCond, Ret:
		return true
	}

	return false
}

// BlockIndex builds the label -> block index map used to resolve
// branch targets by name.
func (f *Func) BlockIndex() map[string]int {
	m := make(map[string]int, len(f.Blocks))

	for i := range f.Blocks {
		m[f.Blocks[i].Label] = i
	}

	return m
}
