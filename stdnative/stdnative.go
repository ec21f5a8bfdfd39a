// Package stdnative registers the built-in GC layouts and native helper
// functions a freshly constructed svm.Context needs before loading any
// module (spec.md §6 "Built-in GC layouts", grounded on the reference
// implementation's std::result / std::i32s / std::f32s runtime-visible
// types and its parse_i32 / parse_f32 native helpers).
package stdnative

import (
	"math"
	"strconv"
	"strings"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
	"j5.nz/svm/stack"
)

const libraryName = "std"

// LayoutIDs holds the type-layout handles RegisterLayouts assigns; Natives
// uses them to allocate std::result values.
type LayoutIDs struct {
	Result int
	I32s   int
	F32s   int
}

// RegisterLayouts registers std::result, std::i32s and std::f32s with the
// collector through the same RegisterTypeLayout path any other struct type
// uses (Design Notes "Built-in layouts derived, not hardcoded"). std::result
// is {ok i32, value i32} with value's bits reinterpreted as f32 by the f32
// parse helpers; std::i32s/std::f32s are {data ref, length i32} views over a
// VM-managed primitive array.
func RegisterLayouts(collector *gc.Collector) (LayoutIDs, error) {
	var ids LayoutIDs
	var err error

	// No reference-typed fields: result holds two plain scalars.
	ids.Result, err = collector.RegisterTypeLayout("std::result", nil)
	if err != nil {
		return ids, err
	}
	// data is the sole reference field, at byte offset 0.
	ids.I32s, err = collector.RegisterTypeLayout("std::i32s", []int{0})
	if err != nil {
		return ids, err
	}
	ids.F32s, err = collector.RegisterTypeLayout("std::f32s", []int{0})
	if err != nil {
		return ids, err
	}
	return ids, nil
}

// resultLayout describes std::result's field geometry in bytes.
const (
	resultOkOffset    = 0
	resultValueOffset = 4
	resultSize        = 8
	resultAlignment   = 4
)

func newFailedResult(collector *gc.Collector, layoutID int) (gc.Addr, error) {
	addr, err := collector.NewRaw(layoutID, resultSize, resultAlignment, gc.FlagTemporary)
	if err != nil {
		return 0, err
	}
	obj, err := collector.Object(addr)
	if err != nil {
		return 0, err
	}
	obj.Data[resultOkOffset] = 0
	return addr, nil
}

func newOKResult(collector *gc.Collector, layoutID int, bits uint32) (gc.Addr, error) {
	addr, err := collector.NewRaw(layoutID, resultSize, resultAlignment, gc.FlagTemporary)
	if err != nil {
		return 0, err
	}
	obj, err := collector.Object(addr)
	if err != nil {
		return 0, err
	}
	obj.Data[resultOkOffset] = 1
	putU32(obj.Data[resultValueOffset:], bits)
	return addr, nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Natives constructs the name -> callback table (all under the library
// named by LibraryName) that RegisterLayouts' caller should feed to
// svm.Context.RegisterNative, closing over
// collector and ids so the callbacks can allocate std::result/std::i32s/
// std::f32s values directly (spec §6 "Host registration interface").
func Natives(collector *gc.Collector, ids LayoutIDs) map[string]module.NativeCallback {
	return map[string]module.NativeCallback{
		"parse_i32": func(s *stack.Stack) error {
			addr, err := s.PopAddr()
			if err != nil {
				return err
			}
			obj, err := collector.Object(addr)
			if err != nil {
				return err
			}
			text := obj.Str
			if err := collector.RemoveTemporary(addr); err != nil {
				return err
			}

			var resultAddr gc.Addr
			if v, parseErr := strconv.ParseInt(strings.TrimSpace(text), 10, 32); parseErr == nil {
				resultAddr, err = newOKResult(collector, ids.Result, uint32(int32(v)))
			} else {
				resultAddr, err = newFailedResult(collector, ids.Result)
			}
			if err != nil {
				return err
			}
			return s.PushAddr(resultAddr)
		},
		"parse_f32": func(s *stack.Stack) error {
			addr, err := s.PopAddr()
			if err != nil {
				return err
			}
			obj, err := collector.Object(addr)
			if err != nil {
				return err
			}
			text := obj.Str
			if err := collector.RemoveTemporary(addr); err != nil {
				return err
			}

			var resultAddr gc.Addr
			if v, parseErr := strconv.ParseFloat(strings.TrimSpace(text), 32); parseErr == nil {
				resultAddr, err = newOKResult(collector, ids.Result, math.Float32bits(float32(v)))
			} else {
				resultAddr, err = newFailedResult(collector, ids.Result)
			}
			if err != nil {
				return err
			}
			return s.PushAddr(resultAddr)
		},
	}
}

// LibraryName is the native library name these helpers register under
// (module import's "library" side of the (library, name) native key).
func LibraryName() string { return libraryName }
