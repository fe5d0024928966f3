package back

import (
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

// Frame lays out the stack slots of one function. Offsets grow
// monotonically from the frame base and the running offset is rounded
// up to the stack alignment after every allocation, so each slot is
// individually aligned at the cost of padding.
//
// Total is meaningful only after the whole body has been generated:
// temporaries alloca slots are interleaved with control flow, their
// count is not known until the body is fully walked.
type Frame struct {
	align int
	off   int

	slots map[ir.Expr]int
	names map[ir.Expr]string
}

func NewFrame(align int) *Frame {
	f := &Frame{align: align}
	f.Reset()

	return f
}

func (f *Frame) Reset() {
	f.off = 0
	f.slots = map[ir.Expr]int{}
	f.names = map[ir.Expr]string{}
}

// Alloc reserves size bytes for the alloca value and returns the slot
// offset from the frame base.
func (f *Frame) Alloc(id ir.Expr, name string, size int) int {
	if off, ok := f.slots[id]; ok {
		return off
	}

	f.off += size
	f.off = (f.off + f.align - 1) / f.align * f.align

	f.slots[id] = f.off
	f.names[id] = name

	return f.off
}

// Offset reports the slot offset of the alloca value.
func (f *Frame) Offset(id ir.Expr) (int, bool) {
	off, ok := f.slots[id]
	return off, ok
}

// Total is the frame size to reserve in the prologue.
func (f *Frame) Total() int {
	return f.off
}
