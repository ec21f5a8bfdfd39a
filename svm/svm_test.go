package svm_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"j5.nz/svm/encoding"
	"j5.nz/svm/gc"
	"j5.nz/svm/module"
	"j5.nz/svm/stack"
	"j5.nz/svm/svm"
	"j5.nz/svm/value"
)

func i32Type() module.VariableType  { return module.VariableType{BaseType: "i32"} }
func strType() module.VariableType  { return module.VariableType{BaseType: "str"} }
func voidType() module.VariableType { return module.VariableType{BaseType: "void"} }
func i32ArrayType() module.VariableType {
	return module.VariableType{BaseType: "i32", ArrayDims: 1}
}
func structType(name string) module.VariableType { return module.VariableType{BaseType: name} }

func buildCode(t *testing.T, build func(w *encoding.Writer)) []byte {
	t.Helper()
	w := encoding.NewWriter()
	build(w)
	return w.Bytes()
}

// fakeSource serves pre-encoded modules by name, mirroring the pack's own
// in-memory module.ModuleSource test double.
type fakeSource struct {
	byName map[string][]byte
}

func (f *fakeSource) Load(importName string) ([]byte, error) {
	b, ok := f.byName[importName]
	if !ok {
		return nil, fmt.Errorf("no such module %q", importName)
	}
	return b, nil
}

func newContext(t *testing.T, modules map[string]*module.Module) *svm.Context {
	t.Helper()
	byName := map[string][]byte{}
	for name, m := range modules {
		raw, err := module.Encode(m)
		require.NoError(t, err)
		byName[name] = raw
	}
	return svm.NewContext(&fakeSource{byName: byName})
}

func TestInvokeReturnsLiteral(t *testing.T) {
	m := &module.Module{
		Exports: []module.Export{{
			Kind: module.SymFunction,
			Name: "f",
			Function: &module.FunctionDescriptor{
				Name:       "f",
				ReturnType: i32Type(),
				EntryPoint: 0,
			},
		}},
	}
	m.Code = buildCode(t, func(w *encoding.Writer) {
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(12)
		w.WriteByte(byte(module.OpIRet))
	})

	ctx := newContext(t, map[string]*module.Module{"main": m})

	ret, err := ctx.Invoke("main", "f", nil)
	require.NoError(t, err)
	require.Equal(t, value.KindI32, ret.Kind())
	require.Equal(t, int32(12), ret.I32Value())
	require.Equal(t, 0, ctx.ObjectCount())
}

func TestInvokeIntegerArithmetic(t *testing.T) {
	m := &module.Module{
		Exports: []module.Export{
			{
				Kind: module.SymFunction,
				Name: "g",
				Function: &module.FunctionDescriptor{
					Name:       "g",
					ReturnType: i32Type(),
					EntryPoint: 0,
				},
			},
			{
				Kind: module.SymFunction,
				Name: "h",
				Function: &module.FunctionDescriptor{
					Name:       "h",
					ReturnType: i32Type(),
					EntryPoint: -1, // filled in below
				},
			},
		},
	}
	gCode := buildCode(t, func(w *encoding.Writer) {
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(6)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(2)
		w.WriteByte(byte(module.OpIDiv))
		w.WriteByte(byte(module.OpIRet))
	})
	hCode := buildCode(t, func(w *encoding.Writer) {
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(6)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(0)
		w.WriteByte(byte(module.OpIDiv))
		w.WriteByte(byte(module.OpIRet))
	})
	m.Exports[1].Function.EntryPoint = len(gCode)
	m.Code = append(gCode, hCode...)

	ctx := newContext(t, map[string]*module.Module{"main": m})

	ret, err := ctx.Invoke("main", "g", nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), ret.I32Value())

	_, err = ctx.Invoke("main", "h", nil)
	require.Error(t, err)
	var runtimeErr *svm.RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
}

func TestInvokeArrayReturnedToHost(t *testing.T) {
	m := &module.Module{
		Exports: []module.Export{{
			Kind: module.SymFunction,
			Name: "r",
			Function: &module.FunctionDescriptor{
				Name:       "r",
				ReturnType: i32ArrayType(),
				EntryPoint: 0,
			},
		}},
	}
	m.Code = buildCode(t, func(w *encoding.Writer) {
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(2)
		w.WriteByte(byte(module.OpNewArray))
		w.WriteByte(byte(module.ArrayI32))

		w.WriteByte(byte(module.OpADup))
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(0)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(1)
		w.WriteByte(byte(module.OpIAStore))

		w.WriteByte(byte(module.OpADup))
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(1)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(2)
		w.WriteByte(byte(module.OpIAStore))

		w.WriteByte(byte(module.OpARet))
	})

	ctx := newContext(t, map[string]*module.Module{"main": m})

	ret, err := ctx.Invoke("main", "r", nil)
	require.NoError(t, err)
	require.Equal(t, value.KindI32Array, ret.Kind())
	require.Equal(t, []int32{1, 2}, ret.I32ArrayValue())
	require.Equal(t, 1, ctx.ObjectCount())

	require.NoError(t, ret.Release(ctx.Collector()))
	require.Equal(t, 0, ctx.ObjectCount())
}

func TestInvokeStringConcatViaNative(t *testing.T) {
	strlib := &module.Module{
		Exports: []module.Export{
			{
				Kind: module.SymFunction,
				Name: "string_concat",
				Function: &module.FunctionDescriptor{
					Name:        "string_concat",
					Native:      true,
					LibraryName: "strlib",
					ReturnType:  strType(),
					ArgTypes:    []module.VariableType{strType(), strType()},
				},
			},
			{
				Kind: module.SymFunction,
				Name: "string_equals",
				Function: &module.FunctionDescriptor{
					Name:        "string_equals",
					Native:      true,
					LibraryName: "strlib",
					ReturnType:  i32Type(),
					ArgTypes:    []module.VariableType{strType(), strType()},
				},
			},
		},
	}

	main := &module.Module{
		Constants: []module.ConstantEntry{
			{Kind: module.ConstStr, Str: "a"},
			{Kind: module.ConstStr, Str: "b"},
			{Kind: module.ConstStr, Str: "ab"},
		},
		Imports: []module.Import{
			{Kind: module.SymPackage, Name: "strlib", PackageIdx: 0},
			{Kind: module.SymFunction, Name: "string_concat", PackageIdx: 0},
			{Kind: module.SymFunction, Name: "string_equals", PackageIdx: 0},
		},
		Exports: []module.Export{{
			Kind: module.SymFunction,
			Name: "k",
			Function: &module.FunctionDescriptor{
				Name:       "k",
				ReturnType: i32Type(),
				EntryPoint: 0,
				Locals:     []module.Local{{Name: "s", Type: strType()}},
			},
		}},
	}
	main.Code = buildCode(t, func(w *encoding.Writer) {
		w.WriteByte(byte(module.OpSConst))
		encoding.WriteVLE(w, 0) // "a"
		w.WriteByte(byte(module.OpSConst))
		encoding.WriteVLE(w, 1) // "b"
		w.WriteByte(byte(module.OpInvoke))
		encoding.WriteVLE(w, -2) // import 1: string_concat

		w.WriteByte(byte(module.OpAStore))
		encoding.WriteVLE(w, 0)

		w.WriteByte(byte(module.OpALoad))
		encoding.WriteVLE(w, 0)
		w.WriteByte(byte(module.OpSConst))
		encoding.WriteVLE(w, 2) // "ab"
		w.WriteByte(byte(module.OpInvoke))
		encoding.WriteVLE(w, -3) // import 2: string_equals

		w.WriteByte(byte(module.OpIRet))
	})

	ctx := newContext(t, map[string]*module.Module{"main": main, "strlib": strlib})
	collector := ctx.Collector()

	require.NoError(t, ctx.RegisterNative("strlib", "string_concat", func(s *stack.Stack) error {
		bAddr, err := s.PopAddr()
		if err != nil {
			return err
		}
		aAddr, err := s.PopAddr()
		if err != nil {
			return err
		}
		aObj, err := collector.Object(aAddr)
		if err != nil {
			return err
		}
		bObj, err := collector.Object(bAddr)
		if err != nil {
			return err
		}
		concatenated := aObj.Str + bObj.Str
		if err := collector.RemoveTemporary(aAddr); err != nil {
			return err
		}
		if err := collector.RemoveTemporary(bAddr); err != nil {
			return err
		}
		addr, err := collector.NewString(concatenated, gc.FlagTemporary)
		if err != nil {
			return err
		}
		return s.PushAddr(addr)
	}))
	require.NoError(t, ctx.RegisterNative("strlib", "string_equals", func(s *stack.Stack) error {
		bAddr, err := s.PopAddr()
		if err != nil {
			return err
		}
		aAddr, err := s.PopAddr()
		if err != nil {
			return err
		}
		aObj, err := collector.Object(aAddr)
		if err != nil {
			return err
		}
		bObj, err := collector.Object(bAddr)
		if err != nil {
			return err
		}
		equal := aObj.Str == bObj.Str
		if err := collector.RemoveTemporary(aAddr); err != nil {
			return err
		}
		if err := collector.RemoveTemporary(bAddr); err != nil {
			return err
		}
		result := int32(0)
		if equal {
			result = 1
		}
		return s.PushI32(result)
	}))

	ret, err := ctx.Invoke("main", "k", nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), ret.I32Value())
	require.Equal(t, 0, ctx.ObjectCount())
}

func pointStruct() *module.StructDescriptor {
	return &module.StructDescriptor{
		Name: "S",
		Fields: []module.Field{
			{Name: "i", Type: i32Type()},
			{Name: "j", Type: i32Type()},
		},
	}
}

func TestInvokeStructLoadStore(t *testing.T) {
	m := &module.Module{
		Exports: []module.Export{
			{Kind: module.SymType, Name: "S", Struct: pointStruct()},
			{
				Kind: module.SymFunction,
				Name: "t",
				Function: &module.FunctionDescriptor{
					Name:       "t",
					ReturnType: i32Type(),
					EntryPoint: 0,
					Locals:     []module.Local{{Name: "s", Type: structType("S")}},
				},
			},
			{
				Kind: module.SymFunction,
				Name: "u",
				Function: &module.FunctionDescriptor{
					Name:       "u",
					ReturnType: voidType(),
					Locals:     []module.Local{{Name: "s", Type: structType("S")}},
				},
			},
		},
	}

	tCode := buildCode(t, func(w *encoding.Writer) {
		w.WriteByte(byte(module.OpNew))
		encoding.WriteVLE(w, 0) // export 0: S
		w.WriteByte(byte(module.OpAStore))
		encoding.WriteVLE(w, 0)

		w.WriteByte(byte(module.OpALoad))
		encoding.WriteVLE(w, 0)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(2)
		w.WriteByte(byte(module.OpSetField))
		encoding.WriteVLE(w, 0)
		encoding.WriteVLE(w, 0) // field i

		w.WriteByte(byte(module.OpALoad))
		encoding.WriteVLE(w, 0)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(3)
		w.WriteByte(byte(module.OpSetField))
		encoding.WriteVLE(w, 0)
		encoding.WriteVLE(w, 1) // field j

		w.WriteByte(byte(module.OpALoad))
		encoding.WriteVLE(w, 0)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(1)
		w.WriteByte(byte(module.OpSetField))
		encoding.WriteVLE(w, 0)
		encoding.WriteVLE(w, 0) // field i = 1

		w.WriteByte(byte(module.OpALoad))
		encoding.WriteVLE(w, 0)
		w.WriteByte(byte(module.OpGetField))
		encoding.WriteVLE(w, 0)
		encoding.WriteVLE(w, 0)

		w.WriteByte(byte(module.OpALoad))
		encoding.WriteVLE(w, 0)
		w.WriteByte(byte(module.OpGetField))
		encoding.WriteVLE(w, 0)
		encoding.WriteVLE(w, 1)

		w.WriteByte(byte(module.OpIAdd))
		w.WriteByte(byte(module.OpIRet))
	})

	uCode := buildCode(t, func(w *encoding.Writer) {
		w.WriteByte(byte(module.OpAConstNull))
		w.WriteByte(byte(module.OpAStore))
		encoding.WriteVLE(w, 0)

		w.WriteByte(byte(module.OpALoad))
		encoding.WriteVLE(w, 0)
		w.WriteByte(byte(module.OpIConst))
		w.WriteU32(10)
		w.WriteByte(byte(module.OpSetField))
		encoding.WriteVLE(w, 0)
		encoding.WriteVLE(w, 0)

		w.WriteByte(byte(module.OpRet))
	})

	m.Exports[1].Function.EntryPoint = 0
	m.Exports[2].Function.EntryPoint = len(tCode)
	m.Code = append(tCode, uCode...)

	ctx := newContext(t, map[string]*module.Module{"main": m})

	ret, err := ctx.Invoke("main", "t", nil)
	require.NoError(t, err)
	require.Equal(t, int32(4), ret.I32Value())
	require.Equal(t, 0, ctx.ObjectCount())

	_, err = ctx.Invoke("main", "u", nil)
	require.Error(t, err)
	var runtimeErr *svm.RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
}
