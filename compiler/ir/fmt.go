package ir

import (
	"fmt"
	"strings"
)

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case I8:
		return "i8"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Ptr:
		return "ptr"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (op BinOp) String() string {
	switch op {
	case ADD:
		return "add"
	case SUB:
		return "sub"
	case MUL:
		return "mul"
	case DIV:
		return "div"
	case MOD:
		return "mod"
	case SHL:
		return "shl"
	case SHR:
		return "shr"
	case BAND:
		return "band"
	case BOR:
		return "bor"
	case BXOR:
		return "bxor"
	case LAND:
		return "land"
	case LOR:
		return "lor"
	default:
		return fmt.Sprintf("bin(%d)", int(op))
	}
}

func (op UnOp) String() string {
	switch op {
	case NOT:
		return "not"
	case NEG:
		return "neg"
	default:
		return fmt.Sprintf("un(%d)", int(op))
	}
}

func (op CmpOp) String() string {
	switch op {
	case EQ:
		return "eq"
	case NE:
		return "ne"
	case LT:
		return "lt"
	case LE:
		return "le"
	case GT:
		return "gt"
	case GE:
		return "ge"
	default:
		return fmt.Sprintf("cmp(%d)", int(op))
	}
}

func (op ConvOp) String() string {
	switch op {
	case TRUNC:
		return "trunc"
	case ZEXT:
		return "zext"
	case SEXT:
		return "sext"
	case FPEXT:
		return "fpext"
	case FPTRUNC:
		return "fptrunc"
	case SITOFP:
		return "sitofp"
	case FPTOSI:
		return "fptosi"
	default:
		return fmt.Sprintf("conv(%d)", int(op))
	}
}

// String formats one instruction of the function for dumps and logs.
func (f *Func) String(id Expr) string {
	switch x := f.Exprs[id].(type) {
	case Arg:
		return fmt.Sprintf("%%%d = arg %v #%d", id, x.Type, x.Index)
	case Imm:
		if x.Type.Float() {
			return fmt.Sprintf("%%%d = imm %v %v", id, x.Type, x.Flt)
		}

		return fmt.Sprintf("%%%d = imm %v %d", id, x.Type, x.Int)
	case Bin:
		return fmt.Sprintf("%%%d = %v %v %%%d, %%%d", id, x.Op, x.Type, x.L, x.R)
	case Un:
		return fmt.Sprintf("%%%d = %v %v %%%d", id, x.Op, x.Type, x.X)
	case Cmp:
		return fmt.Sprintf("%%%d = %v %v %%%d, %%%d", id, x.Op, x.Type, x.L, x.R)
	case Conv:
		return fmt.Sprintf("%%%d = %v %v %%%d", id, x.Op, x.Type, x.X)
	case Alloca:
		return fmt.Sprintf("%%%d = alloca %v %q size %d", id, x.Type, x.Name, x.Size)
	case Load:
		return fmt.Sprintf("%%%d = load %v [%%%d]", id, x.Type, x.Addr)
	case Store:
		return fmt.Sprintf("store %v %%%d -> [%%%d]", x.Type, x.Val, x.Addr)
	case Global:
		return fmt.Sprintf("%%%d = global %v @%s", id, x.Type, x.Name)
	case Call:
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			args[i] = fmt.Sprintf("%%%d", a)
		}

		return fmt.Sprintf("%%%d = call %v @%s(%s)", id, x.Type, x.Func, strings.Join(args, ", "))
	case Asm:
		return fmt.Sprintf("asm %q", x.Text)
	case B:
		return fmt.Sprintf("b %s", x.Label)
	case BCond:
		return fmt.Sprintf("bcond %%%d ? %s : %s", x.Cond, x.True, x.False)
	case Ret:
		if x.Void {
			return "ret"
		}

		return fmt.Sprintf("ret %%%d", x.Value)
	default:
		return fmt.Sprintf("instr(%T)", x)
	}
}

// Dump formats the whole function, one instruction per line.
func (f *Func) Dump() string {
	var b strings.Builder

	fmt.Fprintf(&b, "func %s %v\n", f.Name, f.Ret)

	for i := range f.Blocks {
		bp := &f.Blocks[i]

		fmt.Fprintf(&b, "%s:\n", bp.Label)

		for _, id := range bp.Code {
			fmt.Fprintf(&b, "\t%s\n", f.String(id))
		}
	}

	return b.String()
}
