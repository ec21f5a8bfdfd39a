package stdnative

import (
	"testing"

	"github.com/stretchr/testify/require"

	"j5.nz/svm/gc"
	"j5.nz/svm/stack"
)

func TestRegisterLayoutsAssignsDistinctIDs(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	ids, err := RegisterLayouts(collector)
	require.NoError(t, err)
	require.NotEqual(t, ids.Result, ids.I32s)
	require.NotEqual(t, ids.Result, ids.F32s)
	require.NotEqual(t, ids.I32s, ids.F32s)
}

func pushString(t *testing.T, collector *gc.Collector, s *stack.Stack, text string) {
	t.Helper()
	addr, err := collector.NewString(text, gc.FlagTemporary)
	require.NoError(t, err)
	require.NoError(t, s.PushAddr(addr))
}

func TestParseI32Natives(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	ids, err := RegisterLayouts(collector)
	require.NoError(t, err)
	natives := Natives(collector, ids)
	s := stack.New(64, collector)

	pushString(t, collector, s, "42")
	require.NoError(t, natives["parse_i32"](s))
	addr, err := s.PopAddr()
	require.NoError(t, err)
	obj, err := collector.Object(addr)
	require.NoError(t, err)
	require.Equal(t, byte(1), obj.Data[resultOkOffset])
	require.Equal(t, int32(42), int32(obj.Data[resultValueOffset])|int32(obj.Data[resultValueOffset+1])<<8|int32(obj.Data[resultValueOffset+2])<<16|int32(obj.Data[resultValueOffset+3])<<24)

	pushString(t, collector, s, "not a number")
	require.NoError(t, natives["parse_i32"](s))
	addr, err = s.PopAddr()
	require.NoError(t, err)
	obj, err = collector.Object(addr)
	require.NoError(t, err)
	require.Equal(t, byte(0), obj.Data[resultOkOffset])
}

func TestParseF32NativeSucceeds(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	ids, err := RegisterLayouts(collector)
	require.NoError(t, err)
	natives := Natives(collector, ids)
	s := stack.New(64, collector)

	pushString(t, collector, s, "1.5")
	require.NoError(t, natives["parse_f32"](s))
	addr, err := s.PopAddr()
	require.NoError(t, err)
	obj, err := collector.Object(addr)
	require.NoError(t, err)
	require.Equal(t, byte(1), obj.Data[resultOkOffset])
}
