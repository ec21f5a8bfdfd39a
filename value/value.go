// Package value implements the host value bridge (spec component E):
// Value wraps a host-side representation of anything that can cross the
// boundary into or out of a VM operand-stack slot, and knows how to write
// (CreateInto) and unwind (DestroyIn) its own VM-side representation,
// grounded on the reference implementation's create_into/destroy_in
// function-pointer pattern in interpreter/value.h.
package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

// Kind tags which variant a Value holds.
type Kind uint8

const (
	KindVoid Kind = iota
	KindI32
	KindF32
	KindStr
	KindI32Array
	KindF32Array
	KindStrArray
	KindRaw
	KindTyped
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindI32:
		return "i32"
	case KindF32:
		return "f32"
	case KindStr:
		return "str"
	case KindI32Array:
		return "i32[]"
	case KindF32Array:
		return "f32[]"
	case KindStrArray:
		return "str[]"
	case KindRaw:
		return "raw"
	case KindTyped:
		return "typed"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a tagged union over the host-facing representations a call
// boundary can carry (spec §4.5). Construct one with the Kind-specific
// constructor below; only the fields matching Kind() are meaningful.
type Value struct {
	kind Kind

	i32 int32
	f32 float32
	str string

	i32s []int32
	f32s []float32
	strs []string

	addr     gc.Addr
	layoutID int
	typ      module.VariableType

	// raw remembers the VM-side slot bytes a value was decoded from
	// (FromBytes), so Release can find the address to tear down without the
	// caller having to keep the slot around separately.
	raw []byte
}

// Void is the Value for a void-returning function call.
func Void() Value { return Value{kind: KindVoid} }

func I32(v int32) Value   { return Value{kind: KindI32, i32: v} }
func F32(v float32) Value { return Value{kind: KindF32, f32: v} }
func Str(v string) Value  { return Value{kind: KindStr, str: v} }

func I32Array(v []int32) Value   { return Value{kind: KindI32Array, i32s: v} }
func F32Array(v []float32) Value { return Value{kind: KindF32Array, f32s: v} }
func StrArray(v []string) Value  { return Value{kind: KindStrArray, strs: v} }

// Raw wraps a pointer to host-owned memory of a registered struct layout,
// without copying it into a fresh managed allocation (spec §4.5
// "(layout_id, raw pointer)").
func Raw(layoutID int, addr gc.Addr) Value {
	return Value{kind: KindRaw, layoutID: layoutID, addr: addr}
}

// Typed wraps an already-VM-managed reference together with its full
// variable type, used to round-trip a return value without reallocating it
// (spec §4.5 "(variable_type, pointer)").
func Typed(t module.VariableType, addr gc.Addr) Value {
	return Value{kind: KindTyped, typ: t, addr: addr}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) I32Value() int32      { return v.i32 }
func (v Value) F32Value() float32    { return v.f32 }
func (v Value) StrValue() string     { return v.str }
func (v Value) I32ArrayValue() []int32   { return v.i32s }
func (v Value) F32ArrayValue() []float32 { return v.f32s }
func (v Value) StrArrayValue() []string  { return v.strs }

// CreateInto writes v's VM representation into dst, a view onto the
// destination slot (a locals byte range, or an operand-stack cat1/cat2
// slot). Reference-typed variants allocate through collector and register
// the appropriate GC discipline so that an in-call GC cycle keeps them
// alive (spec §4.5).
func (v Value) CreateInto(dst []byte, collector *gc.Collector) error {
	switch v.kind {
	case KindVoid:
		return nil

	case KindI32:
		if len(dst) < 4 {
			return fmt.Errorf("value: CreateInto(i32): destination slot is %d bytes, need 4", len(dst))
		}
		binary.LittleEndian.PutUint32(dst, uint32(v.i32))
		return nil

	case KindF32:
		if len(dst) < 4 {
			return fmt.Errorf("value: CreateInto(f32): destination slot is %d bytes, need 4", len(dst))
		}
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v.f32))
		return nil

	case KindStr:
		addr, err := collector.NewString(v.str, gc.FlagTemporary)
		if err != nil {
			return err
		}
		return putAddr(dst, addr)

	case KindI32Array:
		return createPrimitiveArray(dst, collector, gc.KindArrayI32, len(v.i32s), func(data []byte) {
			for i, e := range v.i32s {
				binary.LittleEndian.PutUint32(data[i*4:], uint32(e))
			}
		})

	case KindF32Array:
		return createPrimitiveArray(dst, collector, gc.KindArrayF32, len(v.f32s), func(data []byte) {
			for i, e := range v.f32s {
				binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(e))
			}
		})

	case KindStrArray:
		addr, err := collector.NewArray(gc.KindArrayStr, len(v.strs), gc.FlagTemporary)
		if err != nil {
			return err
		}
		obj, err := collector.Object(addr)
		if err != nil {
			return err
		}
		for i, s := range v.strs {
			elemAddr, err := collector.NewString(s, gc.FlagTemporary)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(obj.Data[i*8:], elemAddr)
			if err := collector.RemoveTemporary(elemAddr); err != nil {
				return err
			}
		}
		return putAddr(dst, addr)

	case KindRaw:
		if len(dst) < 8 {
			return fmt.Errorf("value: CreateInto(raw): destination slot is %d bytes, need 8", len(dst))
		}
		if _, err := collector.AddPersistentSlice(dst, v.layoutID); err != nil {
			return err
		}
		return putAddr(dst, v.addr)

	case KindTyped:
		collector.AddTemporary(v.addr)
		return putAddr(dst, v.addr)

	default:
		return fmt.Errorf("value: CreateInto: unknown kind %s", v.kind)
	}
}

// DestroyIn reverses whatever registration CreateInto performed for v at
// src, removing its temporary or persistent GC entry (spec §4.5
// destroy_in). It frees nothing itself: owned vectors and their element
// strings are reclaimed by a later GC cycle once unreferenced.
func (v Value) DestroyIn(src []byte, collector *gc.Collector) error {
	switch v.kind {
	case KindVoid, KindI32, KindF32:
		return nil

	case KindStr, KindI32Array, KindF32Array, KindStrArray:
		addr := addrAt(src)
		if addr == 0 {
			return nil
		}
		return collector.RemoveTemporary(addr)

	case KindRaw:
		if len(src) == 0 {
			return nil
		}
		addr := Addr(uintptr(unsafe.Pointer(&src[0])))
		return collector.RemovePersistent(addr)

	case KindTyped:
		addr := addrAt(src)
		if addr == 0 {
			return nil
		}
		return collector.RemoveTemporary(addr)

	default:
		return fmt.Errorf("value: DestroyIn: unknown kind %s", v.kind)
	}
}

// Addr is re-exported so callers constructing Raw/Typed values don't need a
// separate import of gc for the address type alone.
type Addr = gc.Addr

func putAddr(dst []byte, addr gc.Addr) error {
	if len(dst) < 8 {
		return fmt.Errorf("value: destination slot is %d bytes, need 8 for a reference", len(dst))
	}
	binary.LittleEndian.PutUint64(dst, addr)
	return nil
}

func addrAt(src []byte) gc.Addr {
	if len(src) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(src)
}

// FromBytes decodes a function's return slot (raw, exactly t's width) back
// into a host-facing Value, reading through any reference to copy out its
// host-visible content. The returned Value remembers raw so Release can
// later undo whatever GC registration the reference still carries.
func FromBytes(t module.VariableType, raw []byte, collector *gc.Collector) (Value, error) {
	if t.ArrayDims > 0 {
		addr := addrAt(raw)
		if addr == 0 {
			return zeroArrayValue(t, raw)
		}
		obj, err := collector.Object(addr)
		if err != nil {
			return Value{}, err
		}
		switch t.BaseType {
		case "i32":
			out := make([]int32, len(obj.Data)/4)
			for i := range out {
				out[i] = int32(binary.LittleEndian.Uint32(obj.Data[i*4:]))
			}
			return Value{kind: KindI32Array, i32s: out, raw: raw}, nil
		case "f32":
			out := make([]float32, len(obj.Data)/4)
			for i := range out {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(obj.Data[i*4:]))
			}
			return Value{kind: KindF32Array, f32s: out, raw: raw}, nil
		case "str":
			out := make([]string, len(obj.Data)/8)
			for i := range out {
				elemAddr := binary.LittleEndian.Uint64(obj.Data[i*8:])
				elem, err := collector.Object(elemAddr)
				if err != nil {
					return Value{}, err
				}
				out[i] = elem.Str
			}
			return Value{kind: KindStrArray, strs: out, raw: raw}, nil
		default:
			return Value{kind: KindTyped, typ: t, addr: addr, raw: raw}, nil
		}
	}

	switch t.BaseType {
	case "void":
		return Void(), nil
	case "i32", "i16", "i8":
		return Value{kind: KindI32, i32: int32(binary.LittleEndian.Uint32(raw))}, nil
	case "f32":
		return Value{kind: KindF32, f32: math.Float32frombits(binary.LittleEndian.Uint32(raw))}, nil
	case "str":
		addr := addrAt(raw)
		if addr == 0 {
			return Value{kind: KindStr, raw: raw}, nil
		}
		obj, err := collector.Object(addr)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindStr, str: obj.Str, raw: raw}, nil
	default:
		addr := addrAt(raw)
		return Value{kind: KindTyped, typ: t, addr: addr, raw: raw}, nil
	}
}

func zeroArrayValue(t module.VariableType, raw []byte) (Value, error) {
	switch t.BaseType {
	case "i32":
		return Value{kind: KindI32Array, raw: raw}, nil
	case "f32":
		return Value{kind: KindF32Array, raw: raw}, nil
	case "str":
		return Value{kind: KindStrArray, raw: raw}, nil
	default:
		return Value{kind: KindTyped, typ: t, raw: raw}, nil
	}
}

// Release tears down whatever GC registration a FromBytes-decoded Value
// still holds (spec §8 scenario 3: "the host then decrements the temporary
// and runs a GC cycle"). It is a no-op for host-constructed Values that were
// never decoded from a VM slot.
func (v Value) Release(collector *gc.Collector) error {
	if v.raw == nil {
		return nil
	}
	if err := v.DestroyIn(v.raw, collector); err != nil {
		return err
	}
	return collector.Run()
}

func createPrimitiveArray(dst []byte, collector *gc.Collector, kind gc.Kind, length int, fill func(data []byte)) error {
	addr, err := collector.NewArray(kind, length, gc.FlagTemporary)
	if err != nil {
		return err
	}
	obj, err := collector.Object(addr)
	if err != nil {
		return err
	}
	fill(obj.Data)
	return putAddr(dst, addr)
}
