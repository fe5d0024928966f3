package back

import (
	"tlog.app/go/errors"

	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

var (
	ErrExhausted   = errors.New("register allocation exhausted")
	ErrUnsupported = errors.New("unsupported opcode")
)

// Allocator hands out machine registers to IR values, one function at
// a time. First fit over the caller-save pool, then the callee-save
// pool, then a hard failure: there is no spill path.
//
// The policy is eager: the emitter frees operand registers right after
// the consuming instruction, so live ranges never overlap a reuse. A
// second Alloc for a still-live value is refused instead of silently
// double-allocating.
type Allocator struct {
	callerInt []arch.Reg
	calleeInt []arch.Reg
	callerFlt []arch.Reg
	calleeFlt []arch.Reg

	busy  map[string]ir.Expr
	owner map[ir.Expr]arch.Reg

	usedCallee []arch.Reg
}

func NewAllocator(a *arch.Arch) *Allocator {
	al := &Allocator{
		callerInt: a.CallerSaveInt,
		calleeInt: a.CalleeSaveInt,
		callerFlt: a.CallerSaveFloat,
		calleeFlt: a.CalleeSaveFloat,
	}

	al.Reset()

	return al
}

// NewAllocatorPools builds an allocator over explicit pools.
// Tests use it to provoke exhaustion with a tiny register file.
func NewAllocatorPools(caller, callee []arch.Reg) *Allocator {
	al := &Allocator{}

	for _, r := range caller {
		if r.Class == arch.Float {
			al.callerFlt = append(al.callerFlt, r)
		} else {
			al.callerInt = append(al.callerInt, r)
		}
	}

	for _, r := range callee {
		if r.Class == arch.Float {
			al.calleeFlt = append(al.calleeFlt, r)
		} else {
			al.calleeInt = append(al.calleeInt, r)
		}
	}

	al.Reset()

	return al
}

// Reset forgets all assignments. Must be called between functions.
func (al *Allocator) Reset() {
	al.busy = map[string]ir.Expr{}
	al.owner = map[ir.Expr]arch.Reg{}
	al.usedCallee = nil
}

func (al *Allocator) Alloc(id ir.Expr, c arch.Class) (arch.Reg, error) {
	return al.AllocAvoid(id, c)
}

// AllocAvoid allocates a register of the class skipping the named
// registers. The avoid list exists for the one documented exception:
// x86-64 DIV/MOD results must stay clear of the fixed rax:rdx pair.
func (al *Allocator) AllocAvoid(id ir.Expr, c arch.Class, avoid ...string) (arch.Reg, error) {
	if r, ok := al.owner[id]; ok {
		return r, errors.Wrap(ErrExhausted, "value %%%d is still live in %v", id, r.Name)
	}

	caller, callee := al.callerInt, al.calleeInt
	if c == arch.Float {
		caller, callee = al.callerFlt, al.calleeFlt
	}

	if r, ok := al.scan(caller, id, avoid); ok {
		return r, nil
	}

	if r, ok := al.scan(callee, id, avoid); ok {
		al.noteCallee(r)
		return r, nil
	}

	return arch.Reg{}, errors.Wrap(ErrExhausted, "no free register of class %d for %%%d", int(c), id)
}

func (al *Allocator) scan(pool []arch.Reg, id ir.Expr, avoid []string) (arch.Reg, bool) {
next:
	for _, r := range pool {
		if _, ok := al.busy[r.Name]; ok {
			continue
		}

		for _, a := range avoid {
			if r.Name == a {
				continue next
			}
		}

		al.busy[r.Name] = id
		al.owner[id] = r

		return r, true
	}

	return arch.Reg{}, false
}

func (al *Allocator) noteCallee(r arch.Reg) {
	for _, u := range al.usedCallee {
		if u.Name == r.Name {
			return
		}
	}

	al.usedCallee = append(al.usedCallee, r)
}

// Free returns the register of the value to the pool.
func (al *Allocator) Free(id ir.Expr) {
	r, ok := al.owner[id]
	if !ok {
		return
	}

	delete(al.busy, r.Name)
	delete(al.owner, id)
}

// Reg reports the register currently holding the value.
func (al *Allocator) Reg(id ir.Expr) (arch.Reg, bool) {
	r, ok := al.owner[id]
	return r, ok
}

// Busy reports whether the named register is assigned.
func (al *Allocator) Busy(name string) bool {
	_, ok := al.busy[name]
	return ok
}

// Live returns the busy registers of the pools, caller-save first.
// The call sequence saves exactly these.
func (al *Allocator) Live() (caller, callee []arch.Reg) {
	collect := func(pool []arch.Reg, dst []arch.Reg) []arch.Reg {
		for _, r := range pool {
			if _, ok := al.busy[r.Name]; ok {
				dst = append(dst, r)
			}
		}

		return dst
	}

	caller = collect(al.callerInt, caller)
	caller = collect(al.callerFlt, caller)
	callee = collect(al.calleeInt, callee)
	callee = collect(al.calleeFlt, callee)

	return caller, callee
}

// UsedCalleeSave lists every callee-save register the function ever
// touched. The prologue and epilogue preserve them.
func (al *Allocator) UsedCalleeSave() []arch.Reg {
	return al.usedCallee
}
