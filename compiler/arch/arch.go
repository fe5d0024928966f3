// Package arch holds the per-ISA descriptor tables: register files,
// calling-convention roles and stack alignment. It is pure data, the
// selectors and the frame manager are written against it.
package arch

type (
	Target int

	Class int

	Reg struct {
		Name  string
		Class Class
	}

	// Arch describes one ISA. The caller-save pools are ordered, the
	// allocator scans them first-fit; scratch-preferred registers come
	// before argument registers so short-lived temporaries do not
	// trample argument setup.
	Arch struct {
		Target Target
		Name   string

		IntArgs   []Reg
		FloatArgs []Reg

		CallerSaveInt   []Reg
		CallerSaveFloat []Reg
		CalleeSaveInt   []Reg
		CalleeSaveFloat []Reg

		IntRet   Reg
		FloatRet Reg

		StackAlign int
		WordSize   int
	}
)

const (
	X8664 Target = iota
	ARM64
)

const (
	Int Class = iota
	Float
)

func (t Target) String() string {
	switch t {
	case X8664:
		return "x86_64"
	case ARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

func ints(names ...string) []Reg {
	r := make([]Reg, len(names))
	for i, n := range names {
		r[i] = Reg{Name: n, Class: Int}
	}

	return r
}

func floats(names ...string) []Reg {
	r := make([]Reg, len(names))
	for i, n := range names {
		r[i] = Reg{Name: n, Class: Float}
	}

	return r
}

// X86_64 is the System V AMD64 ABI.
func X86_64() *Arch {
	return &Arch{
		Target: X8664,
		Name:   "x86_64",

		IntArgs:   ints("rdi", "rsi", "rdx", "rcx", "r8", "r9"),
		FloatArgs: floats("xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7"),

		CallerSaveInt:   ints("r10", "r11", "rcx", "r8", "r9", "rsi", "rdi", "rax", "rdx"),
		CallerSaveFloat: floats("xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15"),
		CalleeSaveInt:   ints("rbx", "r12", "r13", "r14", "r15"),
		CalleeSaveFloat: nil, // SysV has no callee-save xmm registers

		IntRet:   Reg{Name: "rax", Class: Int},
		FloatRet: Reg{Name: "xmm0", Class: Float},

		StackAlign: 16,
		WordSize:   8,
	}
}

// Arm64 is AAPCS64. x16/x17/x18 are reserved (IP0, IP1, platform),
// v8-v15 count as callee-save for their low 64 bits.
func Arm64() *Arch {
	return &Arch{
		Target: ARM64,
		Name:   "arm64",

		IntArgs:   ints("x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"),
		FloatArgs: floats("v0", "v1", "v2", "v3", "v4", "v5", "v6", "v7"),

		CallerSaveInt:   ints("x9", "x10", "x11", "x12", "x13", "x14", "x15"),
		CallerSaveFloat: floats("v16", "v17", "v18", "v19", "v20", "v21", "v22", "v23"),
		CalleeSaveInt:   ints("x19", "x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28"),
		CalleeSaveFloat: floats("v8", "v9", "v10", "v11", "v12", "v13", "v14", "v15"),

		IntRet:   Reg{Name: "x0", Class: Int},
		FloatRet: Reg{Name: "v0", Class: Float},

		StackAlign: 16,
		WordSize:   8,
	}
}

// New returns the descriptor for the target.
func New(t Target) *Arch {
	switch t {
	case ARM64:
		return Arm64()
	default:
		return X86_64()
	}
}

// CallerSave returns the ordered caller-save pool of the class.
func (a *Arch) CallerSave(c Class) []Reg {
	if c == Float {
		return a.CallerSaveFloat
	}

	return a.CallerSaveInt
}

// CalleeSave returns the ordered callee-save pool of the class.
func (a *Arch) CalleeSave(c Class) []Reg {
	if c == Float {
		return a.CalleeSaveFloat
	}

	return a.CalleeSaveInt
}

// Args returns the ordered argument-register file of the class.
func (a *Arch) Args(c Class) []Reg {
	if c == Float {
		return a.FloatArgs
	}

	return a.IntArgs
}

// Ret returns the return register of the class.
func (a *Arch) Ret(c Class) Reg {
	if c == Float {
		return a.FloatRet
	}

	return a.IntRet
}

// IsCalleeSave reports whether the named register must be preserved
// by the callee.
func (a *Arch) IsCalleeSave(name string) bool {
	for _, r := range a.CalleeSaveInt {
		if r.Name == name {
			return true
		}
	}

	for _, r := range a.CalleeSaveFloat {
		if r.Name == name {
			return true
		}
	}

	return false
}
