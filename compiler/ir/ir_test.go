package ir

import "testing"

func TestWider(t *testing.T) {
	for _, tc := range []struct {
		a, b, w Type
	}{
		{I32, I32, I32},
		{I32, I64, I64},
		{I64, I32, I64},
		{I32, F32, F32},
		{F32, F64, F64},
		{I64, F64, F64},
		{Ptr, I32, Ptr},
	} {
		if w := Wider(tc.a, tc.b); w != tc.w {
			t.Errorf("Wider(%v, %v) = %v, want %v", tc.a, tc.b, w, tc.w)
		}
	}
}

func TestTypeOf(t *testing.T) {
	f := &Func{}

	a := f.Add(Alloca{Name: "x", Type: I32, Size: 4})
	l := f.Add(Load{Type: I32, Addr: a})
	c := f.Add(Cmp{Op: LT, Type: I64, L: l, R: l})

	if tp := f.TypeOf(a); tp != Ptr {
		t.Errorf("alloca type = %v, want Ptr", tp)
	}

	if tp := f.TypeOf(l); tp != I32 {
		t.Errorf("load type = %v, want I32", tp)
	}

	// comparison result acts as an i32 boolean whatever the operands
	if tp := f.TypeOf(c); tp != I32 {
		t.Errorf("cmp type = %v, want I32", tp)
	}
}

func TestTerminated(t *testing.T) {
	f := &Func{}

	v := f.Add(Imm{Type: I32, Int: 1})
	f.Blocks = append(f.Blocks, Block{Label: "entry", Code: []Expr{v}})

	if f.Terminated(&f.Blocks[0]) {
		t.Errorf("block without terminator reported terminated")
	}

	r := f.Add(Ret{Value: v})
	f.Blocks[0].Code = append(f.Blocks[0].Code, r)

	if !f.Terminated(&f.Blocks[0]) {
		t.Errorf("block ending in ret reported open")
	}
}

func TestBlockIndex(t *testing.T) {
	f := &Func{
		Blocks: []Block{{Label: "entry"}, {Label: "b1"}, {Label: "b2"}},
	}

	idx := f.BlockIndex()

	if len(idx) != 3 || idx["entry"] != 0 || idx["b2"] != 2 {
		t.Errorf("bad index: %v", idx)
	}
}
