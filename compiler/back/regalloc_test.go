package back

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euxaristia/pcc-sub000/compiler/arch"
	"github.com/euxaristia/pcc-sub000/compiler/ir"
)

func TestAllocExhausted(t *testing.T) {
	al := NewAllocatorPools([]arch.Reg{
		{Name: "r0", Class: arch.Int},
		{Name: "r1", Class: arch.Int},
	}, nil)

	r0, err := al.Alloc(0, arch.Int)
	require.NoError(t, err)
	assert.Equal(t, "r0", r0.Name)

	r1, err := al.Alloc(1, arch.Int)
	require.NoError(t, err)
	assert.Equal(t, "r1", r1.Name)

	_, err = al.Alloc(2, arch.Int)
	require.ErrorIs(t, err, ErrExhausted)

	al.Free(0)

	r2, err := al.Alloc(2, arch.Int)
	require.NoError(t, err)
	assert.Equal(t, "r0", r2.Name)
}

func TestAllocLiveGuard(t *testing.T) {
	al := NewAllocatorPools([]arch.Reg{
		{Name: "r0", Class: arch.Int},
		{Name: "r1", Class: arch.Int},
	}, nil)

	_, err := al.Alloc(7, arch.Int)
	require.NoError(t, err)

	// a second allocation for a still-live value must be refused,
	// not handed a second register
	_, err = al.Alloc(7, arch.Int)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestAllocCalleeFallback(t *testing.T) {
	al := NewAllocatorPools(
		[]arch.Reg{{Name: "c0", Class: arch.Int}},
		[]arch.Reg{{Name: "s0", Class: arch.Int}, {Name: "s1", Class: arch.Int}},
	)

	_, err := al.Alloc(0, arch.Int)
	require.NoError(t, err)

	r, err := al.Alloc(1, arch.Int)
	require.NoError(t, err)
	assert.Equal(t, "s0", r.Name)

	assert.Equal(t, []arch.Reg{{Name: "s0", Class: arch.Int}}, al.UsedCalleeSave())

	// the used list survives Free: the prologue still has to save it
	al.Free(1)
	assert.Len(t, al.UsedCalleeSave(), 1)

	al.Reset()
	assert.Empty(t, al.UsedCalleeSave())
	assert.False(t, al.Busy("c0"))
}

func TestAllocAvoid(t *testing.T) {
	al := NewAllocatorPools([]arch.Reg{
		{Name: "rax", Class: arch.Int},
		{Name: "rdx", Class: arch.Int},
		{Name: "rcx", Class: arch.Int},
	}, nil)

	r, err := al.AllocAvoid(0, arch.Int, "rax", "rdx")
	require.NoError(t, err)
	assert.Equal(t, "rcx", r.Name)

	_, err = al.AllocAvoid(1, arch.Int, "rax", "rdx")
	require.ErrorIs(t, err, ErrExhausted)
}

func TestAllocClasses(t *testing.T) {
	a := arch.X86_64()
	al := NewAllocator(a)

	ri, err := al.Alloc(0, arch.Int)
	require.NoError(t, err)

	rf, err := al.Alloc(1, arch.Float)
	require.NoError(t, err)

	assert.Equal(t, arch.Int, ri.Class)
	assert.Equal(t, arch.Float, rf.Class)

	caller, callee := al.Live()
	assert.Len(t, caller, 2)
	assert.Empty(t, callee)
}

func TestFrame(t *testing.T) {
	f := NewFrame(16)

	off := f.Alloc(ir.Expr(0), "x", 4)
	assert.Equal(t, 16, off)

	off = f.Alloc(ir.Expr(1), "y", 8)
	assert.Equal(t, 32, off)

	// array slot still rounds the frame up to the alignment
	off = f.Alloc(ir.Expr(2), "buf", 40)
	assert.Equal(t, 80, off)

	assert.Equal(t, 80, f.Total())

	got, ok := f.Offset(ir.Expr(1))
	assert.True(t, ok)
	assert.Equal(t, 32, got)

	_, ok = f.Offset(ir.Expr(9))
	assert.False(t, ok)

	f.Reset()
	assert.Equal(t, 0, f.Total())
}

func TestErrorsDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrExhausted, ErrUnsupported))
	assert.False(t, errors.Is(ErrUnsupported, ErrExhausted))
}
