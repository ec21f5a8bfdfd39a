package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

func i32T() module.VariableType { return module.VariableType{BaseType: "i32"} }
func arrI32T() module.VariableType {
	return module.VariableType{BaseType: "i32", ArrayDims: 1}
}
func structT(name string) module.VariableType { return module.VariableType{BaseType: name} }

func newTestLoader() *module.Loader {
	return &module.Loader{
		ImportName: "test",
		Module:     &module.Module{},
	}
}

func buildFrame(loader *module.Loader, fd *module.FunctionDescriptor, collector *gc.Collector) *Frame {
	module.ComputeLocalsFrame(fd)
	if fd.StackCapacity == 0 {
		fd.StackCapacity = 256
	}
	return NewFrame(loader, fd, collector)
}

func TestExecArithmeticAndReturn(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "addTwo",
		ReturnType: i32T(),
		Code: []module.Instruction{
			{Op: module.OpIConst, I32: 2},
			{Op: module.OpIConst, I32: 3},
			{Op: module.OpIAdd},
			{Op: module.OpIRet},
		},
	}
	frame := buildFrame(loader, fd, collector)

	require.NoError(t, Exec(frame, NewCallState(0), collector))
	require.Equal(t, 4, frame.Stack.Len())
	v, err := frame.Stack.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(5), v)
}

func TestExecIntegerDivisionByZero(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "divByZero",
		ReturnType: i32T(),
		Code: []module.Instruction{
			{Op: module.OpIConst, I32: 1},
			{Op: module.OpIConst, I32: 0},
			{Op: module.OpIDiv},
			{Op: module.OpIRet},
		},
	}
	frame := buildFrame(loader, fd, collector)

	err := Exec(frame, NewCallState(0), collector)
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Cause.Error(), "division by zero")
	require.Len(t, ve.Trace, 1)
	require.Equal(t, "divByZero", ve.Trace[0].Function)
}

func TestExecLocalsLoadStore(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "double",
		ReturnType: i32T(),
		ArgTypes:   []module.VariableType{i32T()},
		Code: []module.Instruction{
			{Op: module.OpILoad, Index: 0},
			{Op: module.OpILoad, Index: 0},
			{Op: module.OpIAdd},
			{Op: module.OpIRet},
		},
	}
	frame := buildFrame(loader, fd, collector)
	copy(frame.Locals, []byte{21, 0, 0, 0})

	require.NoError(t, Exec(frame, NewCallState(0), collector))
	v, err := frame.Stack.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
}

func TestExecArrayRoundTrip(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "arrayRoundTrip",
		ReturnType: i32T(),
		Locals:     []module.Local{{Name: "arr", Type: arrI32T()}},
		Code: []module.Instruction{
			{Op: module.OpIConst, I32: 3},
			{Op: module.OpNewArray, ArrayKind: module.ArrayI32},
			{Op: module.OpAStore, Index: 0},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpIConst, I32: 1},
			{Op: module.OpIConst, I32: 99},
			{Op: module.OpIAStore},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpIConst, I32: 1},
			{Op: module.OpIALoad},
			{Op: module.OpIRet},
		},
	}
	frame := buildFrame(loader, fd, collector)

	require.NoError(t, Exec(frame, NewCallState(0), collector))
	v, err := frame.Stack.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(99), v)
	require.Equal(t, 0, collector.RootSetSize())
}

func TestExecArrayBoundsCheckIsFatal(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "outOfBounds",
		ReturnType: i32T(),
		Locals:     []module.Local{{Name: "arr", Type: arrI32T()}},
		Code: []module.Instruction{
			{Op: module.OpIConst, I32: 1},
			{Op: module.OpNewArray, ArrayKind: module.ArrayI32},
			{Op: module.OpAStore, Index: 0},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpIConst, I32: 5},
			{Op: module.OpIALoad},
			{Op: module.OpIRet},
		},
	}
	frame := buildFrame(loader, fd, collector)

	err := Exec(frame, NewCallState(0), collector)
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Cause.Error(), "out of bounds")
}

func TestExecObjectFields(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	layoutID, err := collector.RegisterTypeLayout("Point", nil)
	require.NoError(t, err)

	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "sumFields",
		ReturnType: i32T(),
		Locals:     []module.Local{{Name: "p", Type: structT("Point")}},
		Code: []module.Instruction{
			{Op: module.OpNew, Size: 8, Alignment: 4, LayoutID: layoutID},
			{Op: module.OpAStore, Index: 0},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpIConst, I32: 10},
			{Op: module.OpSetField, Offset: 0, Size: 4},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpIConst, I32: 20},
			{Op: module.OpSetField, Offset: 4, Size: 4},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpGetField, Offset: 0, Size: 4},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpGetField, Offset: 4, Size: 4},
			{Op: module.OpIAdd},
			{Op: module.OpIRet},
		},
	}
	frame := buildFrame(loader, fd, collector)

	require.NoError(t, Exec(frame, NewCallState(0), collector))
	v, err := frame.Stack.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(30), v)
}

func TestExecControlFlowLoop(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "sumToFive",
		ReturnType: i32T(),
		Locals:     []module.Local{{Name: "i", Type: i32T()}, {Name: "sum", Type: i32T()}},
		Code: []module.Instruction{
			{Op: module.OpIConst, I32: 0},  // 0
			{Op: module.OpIStore, Index: 1}, // 1: sum = 0
			{Op: module.OpIConst, I32: 1},  // 2
			{Op: module.OpIStore, Index: 0}, // 3: i = 1
			{Op: module.OpILoad, Index: 0}, // 4: loop head
			{Op: module.OpIConst, I32: 6},  // 5
			{Op: module.OpICmpL},           // 6: i < 6
			{Op: module.OpJnz, Target: 8, Else: 17}, // 7
			{Op: module.OpILoad, Index: 1}, // 8
			{Op: module.OpILoad, Index: 0}, // 9
			{Op: module.OpIAdd},            // 10
			{Op: module.OpIStore, Index: 1}, // 11: sum += i
			{Op: module.OpILoad, Index: 0}, // 12
			{Op: module.OpIConst, I32: 1},  // 13
			{Op: module.OpIAdd},            // 14
			{Op: module.OpIStore, Index: 0}, // 15: i += 1
			{Op: module.OpJmp, Target: 4},  // 16
			{Op: module.OpILoad, Index: 1}, // 17
			{Op: module.OpIRet},            // 18
		},
	}
	frame := buildFrame(loader, fd, collector)

	require.NoError(t, Exec(frame, NewCallState(0), collector))
	v, err := frame.Stack.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(15), v)
}

func TestExecNestedInvoke(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()

	incFD := &module.FunctionDescriptor{
		Name:       "inc",
		ReturnType: i32T(),
		ArgTypes:   []module.VariableType{i32T()},
		Code: []module.Instruction{
			{Op: module.OpILoad, Index: 0},
			{Op: module.OpIConst, I32: 1},
			{Op: module.OpIAdd},
			{Op: module.OpIRet},
		},
	}
	module.ComputeLocalsFrame(incFD)
	incFD.StackCapacity = 64

	mainFD := &module.FunctionDescriptor{
		Name:       "main",
		ReturnType: i32T(),
		Code: []module.Instruction{
			{Op: module.OpIConst, I32: 41},
			{Op: module.OpInvoke, Callee: incFD, Loader: loader},
			{Op: module.OpIRet},
		},
	}
	frame := buildFrame(loader, mainFD, collector)

	state := NewCallState(0)
	require.NoError(t, Exec(frame, state, collector))
	v, err := frame.Stack.PopI32()
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
	require.Equal(t, 0, state.Depth)
}

func TestExecCallDepthExceeded(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()

	fd := &module.FunctionDescriptor{
		Name:       "recurse",
		ReturnType: i32T(),
	}
	fd.Code = []module.Instruction{
		{Op: module.OpInvoke, Callee: fd, Loader: loader},
		{Op: module.OpIRet},
	}
	frame := buildFrame(loader, fd, collector)

	err := Exec(frame, NewCallState(5), collector)
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Cause.Error(), "call depth exceeded")
	require.Greater(t, len(ve.Trace), 1)
}

func TestExecCheckCast(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	pointID, err := collector.RegisterTypeLayout("Point", nil)
	require.NoError(t, err)
	lineID, err := collector.RegisterTypeLayout("Line", nil)
	require.NoError(t, err)

	newFrame := func(code []module.Instruction) *Frame {
		loader := newTestLoader()
		fd := &module.FunctionDescriptor{
			Name:       "cast",
			ReturnType: structT("Point"),
			Locals:     []module.Local{{Name: "p", Type: structT("Point")}},
			Code:       code,
		}
		return buildFrame(loader, fd, collector)
	}

	t.Run("matching layout passes and leaves stack untouched", func(t *testing.T) {
		frame := newFrame([]module.Instruction{
			{Op: module.OpNew, Size: 8, Alignment: 4, LayoutID: pointID},
			{Op: module.OpAStore, Index: 0},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpCheckCast, LayoutID: pointID},
			{Op: module.OpARet},
		})
		require.NoError(t, Exec(frame, NewCallState(0), collector))
		addr, err := frame.Stack.PopAddr()
		require.NoError(t, err)
		require.NotZero(t, addr)
	})

	t.Run("mismatched layout is fatal", func(t *testing.T) {
		frame := newFrame([]module.Instruction{
			{Op: module.OpNew, Size: 8, Alignment: 4, LayoutID: lineID},
			{Op: module.OpAStore, Index: 0},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpCheckCast, LayoutID: pointID},
			{Op: module.OpARet},
		})
		err := Exec(frame, NewCallState(0), collector)
		require.Error(t, err)
		var ve *Error
		require.ErrorAs(t, err, &ve)
		require.Contains(t, ve.Cause.Error(), "expected")
	})

	t.Run("mismatched layout with allow_cast passes", func(t *testing.T) {
		frame := newFrame([]module.Instruction{
			{Op: module.OpNew, Size: 8, Alignment: 4, LayoutID: lineID},
			{Op: module.OpAStore, Index: 0},
			{Op: module.OpALoad, Index: 0},
			{Op: module.OpCheckCast, LayoutID: pointID, AllowCast: true},
			{Op: module.OpARet},
		})
		require.NoError(t, Exec(frame, NewCallState(0), collector))
	})

	t.Run("null receiver without allow_cast is fatal", func(t *testing.T) {
		frame := newFrame([]module.Instruction{
			{Op: module.OpAConstNull},
			{Op: module.OpCheckCast, LayoutID: pointID},
			{Op: module.OpARet},
		})
		err := Exec(frame, NewCallState(0), collector)
		require.Error(t, err)
		var ve *Error
		require.ErrorAs(t, err, &ve)
		require.Contains(t, ve.Cause.Error(), "null pointer access")
	})

	t.Run("null receiver with allow_cast passes", func(t *testing.T) {
		frame := newFrame([]module.Instruction{
			{Op: module.OpAConstNull},
			{Op: module.OpCheckCast, LayoutID: pointID, AllowCast: true},
			{Op: module.OpARet},
		})
		require.NoError(t, Exec(frame, NewCallState(0), collector))
	})
}

func TestExecFallsOffEndIsFatal(t *testing.T) {
	collector := gc.New(gc.DefaultConfig())
	loader := newTestLoader()
	fd := &module.FunctionDescriptor{
		Name:       "noReturn",
		ReturnType: i32T(),
		Code: []module.Instruction{
			{Op: module.OpIConst, I32: 1},
		},
	}
	frame := buildFrame(loader, fd, collector)

	err := Exec(frame, NewCallState(0), collector)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fell off the end")
}
