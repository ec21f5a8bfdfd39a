package stack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type noopGC struct{ adds, removes []uint64 }

func (g *noopGC) AddTemporary(addr uint64)    { g.adds = append(g.adds, addr) }
func (g *noopGC) RemoveTemporary(addr uint64) error {
	g.removes = append(g.removes, addr)
	return nil
}

func TestCat1RoundTrip(t *testing.T) {
	s := New(64, nil)
	require.NoError(t, s.PushI32(42))
	v, err := s.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
	require.Equal(t, 0, s.Len())
}

func TestCat2RoundTrip(t *testing.T) {
	s := New(64, nil)
	require.NoError(t, s.PushF64(3.5))
	v, err := s.PopF64()
	require.NoError(t, err)
	require.InDelta(t, 3.5, v, 0)
}

func TestUnderflow(t *testing.T) {
	s := New(64, nil)
	_, err := s.PopI32()
	require.Error(t, err)
}

func TestOverflow(t *testing.T) {
	s := New(4, nil)
	require.NoError(t, s.PushI32(1))
	require.Error(t, s.PushI32(2))
}

func TestADup(t *testing.T) {
	gc := &noopGC{}
	s := New(64, gc)
	require.NoError(t, s.PushAddr(0x1000))
	require.NoError(t, s.ADup())
	require.Equal(t, []uint64{0x1000}, gc.adds)
	a, err := s.PopAddr()
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), a)
	b, err := s.PopAddr()
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), b)
}

func TestDupX1(t *testing.T) {
	s := New(64, nil)
	require.NoError(t, s.PushI32(1)) // bottom
	require.NoError(t, s.PushI32(2)) // top
	// dup_x1(4,4): duplicate top 4 bytes to below both values.
	require.NoError(t, s.DupX1(4, 4, false))
	// stack should now read (bottom->top): 2, 1, 2
	v3, _ := s.PopI32()
	v2, _ := s.PopI32()
	v1, _ := s.PopI32()
	require.Equal(t, int32(2), v1)
	require.Equal(t, int32(1), v2)
	require.Equal(t, int32(2), v3)
}

func TestModifyTop(t *testing.T) {
	s := New(64, nil)
	require.NoError(t, s.PushI32(10))
	require.NoError(t, s.ModifyTop(4, func(b []byte) []byte {
		return b // identity width-preserving transform
	}))
	v, err := s.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(10), v)
}

func TestPushStack(t *testing.T) {
	a := New(64, nil)
	b := New(64, nil)
	require.NoError(t, b.PushI32(7))
	require.NoError(t, a.PushStack(b))
	v, err := a.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(7), v)
}
