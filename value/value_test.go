package value

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

func TestCreateIntoScalarRoundTrip(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	dst := make([]byte, 4)

	require.NoError(t, I32(42).CreateInto(dst, collector))
	require.Equal(t, int32(42), int32(binary.LittleEndian.Uint32(dst)))

	require.NoError(t, F32(2.5).CreateInto(dst, collector))
	require.Equal(t, float32(2.5), math.Float32frombits(binary.LittleEndian.Uint32(dst)))
}

func TestCreateIntoStringLifecycle(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	dst := make([]byte, 8)

	v := Str("hello")
	require.NoError(t, v.CreateInto(dst, collector))
	addr := binary.LittleEndian.Uint64(dst)
	require.True(t, collector.IsTemporary(addr))

	obj, err := collector.Object(addr)
	require.NoError(t, err)
	require.Equal(t, "hello", obj.Str)

	require.NoError(t, v.DestroyIn(dst, collector))
	require.False(t, collector.IsTemporary(addr))
}

func TestCreateIntoI32ArrayLifecycle(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	dst := make([]byte, 8)

	v := I32Array([]int32{1, 2, 3})
	require.NoError(t, v.CreateInto(dst, collector))
	addr := binary.LittleEndian.Uint64(dst)

	obj, err := collector.Object(addr)
	require.NoError(t, err)
	require.Equal(t, int32(1), int32(binary.LittleEndian.Uint32(obj.Data[0:])))
	require.Equal(t, int32(2), int32(binary.LittleEndian.Uint32(obj.Data[4:])))
	require.Equal(t, int32(3), int32(binary.LittleEndian.Uint32(obj.Data[8:])))

	require.NoError(t, v.DestroyIn(dst, collector))
	require.False(t, collector.IsTemporary(addr))
}

func TestCreateIntoStrArrayOwnsElements(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	dst := make([]byte, 8)

	v := StrArray([]string{"a", "b"})
	require.NoError(t, v.CreateInto(dst, collector))
	addr := binary.LittleEndian.Uint64(dst)

	obj, err := collector.Object(addr)
	require.NoError(t, err)
	elem0 := binary.LittleEndian.Uint64(obj.Data[0:])
	elem1 := binary.LittleEndian.Uint64(obj.Data[8:])
	s0, err := collector.Object(elem0)
	require.NoError(t, err)
	s1, err := collector.Object(elem1)
	require.NoError(t, err)
	require.Equal(t, "a", s0.Str)
	require.Equal(t, "b", s1.Str)
}

func TestCreateIntoRawRegistersPersistentOnDestination(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	layoutID, err := collector.RegisterTypeLayout("Point", nil)
	require.NoError(t, err)

	dst := make([]byte, 8)
	v := Raw(layoutID, 0xABCD)
	require.NoError(t, v.CreateInto(dst, collector))
	require.Equal(t, uint64(0xABCD), binary.LittleEndian.Uint64(dst))

	require.NoError(t, v.DestroyIn(dst, collector))
}

func TestCreateIntoTypedAddsTemporary(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	addr, err := collector.NewString("owned elsewhere", gc.FlagNone)
	require.NoError(t, err)

	dst := make([]byte, 8)
	v := Typed(module.VariableType{BaseType: "i32", ArrayDims: 1}, addr)
	require.NoError(t, v.CreateInto(dst, collector))
	require.True(t, collector.IsTemporary(addr))

	require.NoError(t, v.DestroyIn(dst, collector))
	require.False(t, collector.IsTemporary(addr))
}

func TestFromBytesScalar(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())

	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, uint32(int32(-7)))
	v, err := FromBytes(module.VariableType{BaseType: "i32"}, raw, collector)
	require.NoError(t, err)
	require.Equal(t, KindI32, v.Kind())
	require.Equal(t, int32(-7), v.I32Value())

	raw = make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(1.5))
	v, err = FromBytes(module.VariableType{BaseType: "f32"}, raw, collector)
	require.NoError(t, err)
	require.Equal(t, float32(1.5), v.F32Value())

	v, err = FromBytes(module.VariableType{BaseType: "void"}, nil, collector)
	require.NoError(t, err)
	require.Equal(t, KindVoid, v.Kind())
}

func TestFromBytesStringAndRelease(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	addr, err := collector.NewString("result", gc.FlagTemporary)
	require.NoError(t, err)

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, addr)

	v, err := FromBytes(module.VariableType{BaseType: "str"}, raw, collector)
	require.NoError(t, err)
	require.Equal(t, KindStr, v.Kind())
	require.Equal(t, "result", v.StrValue())
	require.True(t, collector.IsTemporary(addr))

	require.NoError(t, v.Release(collector))
	require.False(t, collector.IsTemporary(addr))
}

func TestFromBytesI32ArrayLifecycle(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	addr, err := collector.NewArray(gc.KindArrayI32, 2, gc.FlagTemporary)
	require.NoError(t, err)
	obj, err := collector.Object(addr)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(obj.Data[0:], uint32(int32(1)))
	binary.LittleEndian.PutUint32(obj.Data[4:], uint32(int32(2)))

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, addr)

	v, err := FromBytes(module.VariableType{BaseType: "i32", ArrayDims: 1}, raw, collector)
	require.NoError(t, err)
	require.Equal(t, KindI32Array, v.Kind())
	require.Equal(t, []int32{1, 2}, v.I32ArrayValue())

	require.NoError(t, v.Release(collector))
	require.False(t, collector.IsTemporary(addr))
}

func TestFromBytesNullArrayIsZeroValue(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	raw := make([]byte, 8)

	v, err := FromBytes(module.VariableType{BaseType: "i32", ArrayDims: 1}, raw, collector)
	require.NoError(t, err)
	require.Equal(t, KindI32Array, v.Kind())
	require.Nil(t, v.I32ArrayValue())

	require.NoError(t, v.Release(collector))
}
