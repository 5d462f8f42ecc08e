package bitfield

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSetUnsetTracksCount(t *testing.T) {
	c := qt.New(t)
	bf := New(20)
	c.Assert(bf.SizeBits(), qt.Equals, 20)
	c.Assert(bf.SizeSet(), qt.Equals, 0)

	bf.Set(0)
	bf.Set(19)
	bf.Set(19) // idempotent
	c.Assert(bf.SizeSet(), qt.Equals, 2)

	bf.Unset(0)
	c.Assert(bf.SizeSet(), qt.Equals, 1)
	c.Assert(bf.Get(19), qt.IsTrue)
}

func TestTrailingPaddingStaysZero(t *testing.T) {
	c := qt.New(t)
	bf := New(10) // 2 bytes, 6 padding bits in the last byte
	bf.SetAll()
	c.Assert(bf.IsTailCleared(), qt.IsTrue)
	c.Assert(bf.SizeSet(), qt.Equals, 10)
	c.Assert(bf.IsAllSet(), qt.IsTrue)
}

func TestUpdateRecomputesAfterBulkMemcpy(t *testing.T) {
	c := qt.New(t)
	bf := New(16)
	copy(bf.Bytes(), []byte{0xff, 0xff})
	bf.Update()
	c.Assert(bf.SizeSet(), qt.Equals, 16)
	c.Assert(bf.IsAllSet(), qt.IsTrue)
}

func TestUpdateClearsPaddingEvenIfCallerDidnt(t *testing.T) {
	c := qt.New(t)
	bf := New(10)
	copy(bf.Bytes(), []byte{0xff, 0xff}) // caller didn't mask the tail
	bf.Update()
	c.Assert(bf.IsTailCleared(), qt.IsTrue)
	c.Assert(bf.SizeSet(), qt.Equals, 10)
}

func TestEmptyBitfieldEdgeCases(t *testing.T) {
	c := qt.New(t)
	bf := New(0)
	c.Assert(bf.IsAllUnset(), qt.IsTrue)
	c.Assert(bf.IsAllSet(), qt.IsFalse)
	c.Assert(bf.FindFrom(0, func(int) bool { return true }), qt.Equals, -1)
}

func TestNotInAndAndComplement(t *testing.T) {
	c := qt.New(t)
	a := New(8)
	b := New(8)
	a.Set(0)
	a.Set(1)
	a.Set(2)
	b.Set(1)

	comp := a.Complement()
	c.Assert(comp.Get(1), qt.IsFalse)
	c.Assert(comp.Get(3), qt.IsTrue)

	and := a.And(b)
	c.Assert(and.SizeSet(), qt.Equals, 1)
	c.Assert(and.Get(1), qt.IsTrue)

	a.NotIn(b)
	c.Assert(a.Get(0), qt.IsTrue)
	c.Assert(a.Get(1), qt.IsFalse)
	c.Assert(a.Get(2), qt.IsTrue)
	c.Assert(a.SizeSet(), qt.Equals, 2)
}

func TestFindFromWraps(t *testing.T) {
	c := qt.New(t)
	bf := New(8)
	bf.Set(2)
	got := bf.FindFrom(5, func(i int) bool { return true })
	c.Assert(got, qt.Equals, 2) // wraps past 7 back to 0..2
}

func TestMaskHelpers(t *testing.T) {
	c := qt.New(t)
	c.Assert(MaskFrom(0), qt.Equals, byte(0xff))
	c.Assert(MaskFrom(4), qt.Equals, byte(0x0f))
	c.Assert(MaskBefore(4), qt.Equals, byte(0xf0))
	c.Assert(MaskFrom(1)&MaskBefore(1), qt.Equals, byte(0))
}

func TestIterateOrdersAscending(t *testing.T) {
	c := qt.New(t)
	bf := New(17)
	bf.Set(16)
	bf.Set(0)
	bf.Set(9)
	var got []int
	bf.Iterate(func(i int) bool {
		got = append(got, i)
		return true
	})
	c.Assert(got, qt.DeepEquals, []int{0, 9, 16})
}

func TestCloneIsIndependent(t *testing.T) {
	c := qt.New(t)
	bf := New(8)
	bf.Set(0)
	cp := bf.Clone()
	cp.Set(1)
	c.Assert(bf.Get(1), qt.IsFalse)
	c.Assert(cp.Get(1), qt.IsTrue)
}
