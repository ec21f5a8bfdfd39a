package vm

import (
	"encoding/binary"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func boolToI64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// --- i32 / i64 / f32 / f64 arithmetic & logic (spec §4.4.1 "Arithmetic") ---

func execI32Binary(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopI32()
	if err != nil {
		return err
	}

	var result int32
	switch op {
	case module.OpIAdd:
		result = a + b
	case module.OpISub:
		result = a - b
	case module.OpIMul:
		result = a * b
	case module.OpIDiv:
		if b == 0 {
			return fatalf("integer division by zero")
		}
		result = a / b
	case module.OpIMod:
		if b == 0 {
			return fatalf("integer modulo by zero")
		}
		result = a % b
	case module.OpIShl:
		if b < 0 {
			return fatalf("shift count %d is negative", b)
		}
		result = a << uint(b)
	case module.OpIShr:
		if b < 0 {
			return fatalf("shift count %d is negative", b)
		}
		result = a >> uint(b)
	case module.OpIAnd:
		result = a & b
	case module.OpIOr:
		result = a | b
	case module.OpIXor:
		result = a ^ b
	case module.OpILAnd:
		result = boolToI32(a != 0 && b != 0)
	case module.OpILOr:
		result = boolToI32(a != 0 || b != 0)
	default:
		return fatalf("execI32Binary: unhandled opcode %s", op)
	}
	return f.Stack.PushI32(result)
}

func execI64Binary(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopI64()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopI64()
	if err != nil {
		return err
	}

	var result int64
	switch op {
	case module.OpLAdd:
		result = a + b
	case module.OpLSub:
		result = a - b
	case module.OpLMul:
		result = a * b
	case module.OpLDiv:
		if b == 0 {
			return fatalf("integer division by zero")
		}
		result = a / b
	case module.OpLMod:
		if b == 0 {
			return fatalf("integer modulo by zero")
		}
		result = a % b
	case module.OpLShl:
		if b < 0 {
			return fatalf("shift count %d is negative", b)
		}
		result = a << uint(b)
	case module.OpLShr:
		if b < 0 {
			return fatalf("shift count %d is negative", b)
		}
		result = a >> uint(b)
	case module.OpLAnd:
		result = a & b
	case module.OpLOr:
		result = a | b
	case module.OpLXor:
		result = a ^ b
	case module.OpLLAnd:
		result = boolToI64(a != 0 && b != 0)
	case module.OpLLOr:
		result = boolToI64(a != 0 || b != 0)
	default:
		return fatalf("execI64Binary: unhandled opcode %s", op)
	}
	return f.Stack.PushI64(result)
}

func execF32Binary(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopF32()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopF32()
	if err != nil {
		return err
	}

	var result float32
	switch op {
	case module.OpFAdd:
		result = a + b
	case module.OpFSub:
		result = a - b
	case module.OpFMul:
		result = a * b
	case module.OpFDiv:
		result = a / b
	default:
		return fatalf("execF32Binary: unhandled opcode %s", op)
	}
	return f.Stack.PushF32(result)
}

func execF64Binary(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopF64()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopF64()
	if err != nil {
		return err
	}

	var result float64
	switch op {
	case module.OpDAdd:
		result = a + b
	case module.OpDSub:
		result = a - b
	case module.OpDMul:
		result = a * b
	case module.OpDDiv:
		result = a / b
	default:
		return fatalf("execF64Binary: unhandled opcode %s", op)
	}
	return f.Stack.PushF64(result)
}

// --- casts (spec §4.4.1 "Casts") ---

func execCast(f *Frame, op module.Opcode) error {
	switch op {
	case module.OpI2C:
		v, err := f.Stack.PopI32()
		if err != nil {
			return err
		}
		return f.Stack.PushI32(int32(int8(v)))
	case module.OpI2S:
		v, err := f.Stack.PopI32()
		if err != nil {
			return err
		}
		return f.Stack.PushI32(int32(int16(v)))
	case module.OpI2L:
		v, err := f.Stack.PopI32()
		if err != nil {
			return err
		}
		return f.Stack.PushI64(int64(v))
	case module.OpI2F:
		v, err := f.Stack.PopI32()
		if err != nil {
			return err
		}
		return f.Stack.PushF32(float32(v))
	case module.OpI2D:
		v, err := f.Stack.PopI32()
		if err != nil {
			return err
		}
		return f.Stack.PushF64(float64(v))
	case module.OpL2I:
		v, err := f.Stack.PopI64()
		if err != nil {
			return err
		}
		return f.Stack.PushI32(int32(v))
	case module.OpL2F:
		v, err := f.Stack.PopI64()
		if err != nil {
			return err
		}
		return f.Stack.PushF32(float32(v))
	case module.OpL2D:
		v, err := f.Stack.PopI64()
		if err != nil {
			return err
		}
		return f.Stack.PushF64(float64(v))
	case module.OpF2I:
		v, err := f.Stack.PopF32()
		if err != nil {
			return err
		}
		return f.Stack.PushI32(int32(v))
	case module.OpF2L:
		v, err := f.Stack.PopF32()
		if err != nil {
			return err
		}
		return f.Stack.PushI64(int64(v))
	case module.OpF2D:
		v, err := f.Stack.PopF32()
		if err != nil {
			return err
		}
		return f.Stack.PushF64(float64(v))
	case module.OpD2I:
		v, err := f.Stack.PopF64()
		if err != nil {
			return err
		}
		return f.Stack.PushI32(int32(v))
	case module.OpD2L:
		v, err := f.Stack.PopF64()
		if err != nil {
			return err
		}
		return f.Stack.PushI64(int64(v))
	case module.OpD2F:
		v, err := f.Stack.PopF64()
		if err != nil {
			return err
		}
		return f.Stack.PushF32(float32(v))
	default:
		return fatalf("execCast: unhandled opcode %s", op)
	}
}

// --- comparisons (spec §4.4.1 "Comparisons": every family pushes an i32 0/1) ---

func execI32Compare(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	var res bool
	switch op {
	case module.OpICmpL:
		res = a < b
	case module.OpICmpLE:
		res = a <= b
	case module.OpICmpG:
		res = a > b
	case module.OpICmpGE:
		res = a >= b
	case module.OpICmpEQ:
		res = a == b
	case module.OpICmpNE:
		res = a != b
	default:
		return fatalf("execI32Compare: unhandled opcode %s", op)
	}
	return f.Stack.PushI32(boolToI32(res))
}

func execI64Compare(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopI64()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopI64()
	if err != nil {
		return err
	}
	var res bool
	switch op {
	case module.OpLCmpL:
		res = a < b
	case module.OpLCmpLE:
		res = a <= b
	case module.OpLCmpG:
		res = a > b
	case module.OpLCmpGE:
		res = a >= b
	case module.OpLCmpEQ:
		res = a == b
	case module.OpLCmpNE:
		res = a != b
	default:
		return fatalf("execI64Compare: unhandled opcode %s", op)
	}
	return f.Stack.PushI32(boolToI32(res))
}

func execF32Compare(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopF32()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopF32()
	if err != nil {
		return err
	}
	var res bool
	switch op {
	case module.OpFCmpL:
		res = a < b
	case module.OpFCmpLE:
		res = a <= b
	case module.OpFCmpG:
		res = a > b
	case module.OpFCmpGE:
		res = a >= b
	case module.OpFCmpEQ:
		res = a == b
	case module.OpFCmpNE:
		res = a != b
	default:
		return fatalf("execF32Compare: unhandled opcode %s", op)
	}
	return f.Stack.PushI32(boolToI32(res))
}

func execF64Compare(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopF64()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopF64()
	if err != nil {
		return err
	}
	var res bool
	switch op {
	case module.OpDCmpL:
		res = a < b
	case module.OpDCmpLE:
		res = a <= b
	case module.OpDCmpG:
		res = a > b
	case module.OpDCmpGE:
		res = a >= b
	case module.OpDCmpEQ:
		res = a == b
	case module.OpDCmpNE:
		res = a != b
	default:
		return fatalf("execF64Compare: unhandled opcode %s", op)
	}
	return f.Stack.PushI32(boolToI32(res))
}

func execAddrCompare(f *Frame, op module.Opcode) error {
	b, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	a, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	var res bool
	switch op {
	case module.OpACmpEQ:
		res = a == b
	case module.OpACmpNE:
		res = a != b
	default:
		return fatalf("execAddrCompare: unhandled opcode %s", op)
	}
	return f.Stack.PushI32(boolToI32(res))
}

// --- constants (spec §4.4.1 "Constants") ---

func execSConst(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	if instr.Index < 0 || instr.Index >= len(f.Loader.Module.Constants) {
		return fatalf("sconst: constant index %d out of range", instr.Index)
	}
	c := f.Loader.Module.Constants[instr.Index]
	addr, err := collector.NewString(c.Str, gc.FlagTemporary)
	if err != nil {
		return err
	}
	return f.Stack.PushAddr(addr)
}

// --- locals (spec §4.4.1 "Locals", §4.4.2 "root discipline") ---

func execLoadCat1(f *Frame, instr module.Instruction) error {
	offset, _, _, err := f.Function.SlotOffset(instr.Index)
	if err != nil {
		return err
	}
	return f.Stack.PushCat1(binary.LittleEndian.Uint32(f.Locals[offset:]))
}

func execLoadCat2(f *Frame, instr module.Instruction) error {
	offset, _, _, err := f.Function.SlotOffset(instr.Index)
	if err != nil {
		return err
	}
	return f.Stack.PushCat2(binary.LittleEndian.Uint64(f.Locals[offset:]))
}

// execALoad copies a reference local onto the stack. The value is now also
// in flight as an expression temporary, independent of the local's own root
// registration (spec's reference-vs-temporary discipline; mirrors adup).
func execALoad(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	offset, _, _, err := f.Function.SlotOffset(instr.Index)
	if err != nil {
		return err
	}
	addr := f.readLocalAddr(offset)
	if err := f.Stack.PushAddr(addr); err != nil {
		return err
	}
	if addr != 0 {
		collector.AddTemporary(addr)
	}
	return nil
}

func execStoreCat1(f *Frame, instr module.Instruction) error {
	v, err := f.Stack.PopCat1()
	if err != nil {
		return err
	}
	offset, _, _, err := f.Function.SlotOffset(instr.Index)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(f.Locals[offset:], v)
	return nil
}

func execStoreCat2(f *Frame, instr module.Instruction) error {
	v, err := f.Stack.PopCat2()
	if err != nil {
		return err
	}
	offset, _, _, err := f.Function.SlotOffset(instr.Index)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(f.Locals[offset:], v)
	return nil
}

// execAStore replaces a reference local: the outgoing value is unrooted,
// the incoming value's stack-temporary registration transfers to a root
// registration, matching the argument-transfer convention applied at a
// call boundary (spec §4.4.2).
func execAStore(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	newAddr, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	offset, _, _, err := f.Function.SlotOffset(instr.Index)
	if err != nil {
		return err
	}

	oldAddr := f.readLocalAddr(offset)
	if oldAddr != 0 {
		if err := collector.RemoveRoot(oldAddr); err != nil {
			return err
		}
	}
	f.writeLocalAddr(offset, newAddr)
	if newAddr != 0 {
		if err := collector.RemoveTemporary(newAddr); err != nil {
			return err
		}
		if err := collector.AddRoot(newAddr); err != nil {
			return err
		}
	}
	return nil
}

// --- arrays (spec §4.4.1 "Arrays") ---

// derefReceiver resolves a popped array/struct receiver address, rejecting
// null, and releases its temporary registration: every receiver consumed by
// an array or object opcode is treated uniformly here, generalizing the
// cases spec prose calls out by name (arraylength, aaload, aastore).
func derefReceiver(collector *gc.Collector, addr uint64, opName string) (*gc.Object, error) {
	if addr == 0 {
		return nil, fatalf("%s: null dereference", opName)
	}
	obj, err := collector.Object(addr)
	if err != nil {
		return nil, err
	}
	if err := collector.RemoveTemporary(addr); err != nil {
		return nil, err
	}
	return obj, nil
}

func execNewArray(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	length, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	if length < 0 {
		return fatalf("newarray: negative length %d", length)
	}
	kind, err := gcKindForArrayKind(instr.ArrayKind)
	if err != nil {
		return err
	}
	addr, err := collector.NewArray(kind, int(length), gc.FlagTemporary)
	if err != nil {
		return err
	}
	return f.Stack.PushAddr(addr)
}

func execANewArray(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	length, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	if length < 0 {
		return fatalf("anewarray: negative length %d", length)
	}
	addr, err := collector.NewRefArray(instr.LayoutID, int(length), gc.FlagTemporary)
	if err != nil {
		return err
	}
	return f.Stack.PushAddr(addr)
}

func execArrayLength(f *Frame, collector *gc.Collector) error {
	addr, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	obj, err := derefReceiver(collector, addr, "arraylength")
	if err != nil {
		return err
	}
	return f.Stack.PushI32(int32(arrayLength(obj)))
}

func execArrayLoad(f *Frame, op module.Opcode, collector *gc.Collector) error {
	index, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	addr, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	obj, err := derefReceiver(collector, addr, op.String())
	if err != nil {
		return err
	}
	if err := checkBounds(int(index), arrayLength(obj)); err != nil {
		return err
	}

	switch op {
	case module.OpCALoad:
		return f.Stack.PushI32(readElemI32(obj.Data, int(index), 1))
	case module.OpSALoad:
		return f.Stack.PushI32(readElemI32(obj.Data, int(index), 2))
	case module.OpIALoad:
		return f.Stack.PushI32(readElemI32(obj.Data, int(index), 4))
	case module.OpLALoad:
		return f.Stack.PushI64(readElemI64(obj.Data, int(index)))
	case module.OpFALoad:
		return f.Stack.PushF32(readElemF32(obj.Data, int(index)))
	case module.OpDALoad:
		return f.Stack.PushF64(readElemF64(obj.Data, int(index)))
	default:
		return fatalf("execArrayLoad: unhandled opcode %s", op)
	}
}

func execArrayStore(f *Frame, op module.Opcode, collector *gc.Collector) error {
	switch op {
	case module.OpCAStore, module.OpSAStore, module.OpIAStore:
		v, err := f.Stack.PopI32()
		if err != nil {
			return err
		}
		index, obj, err := popArrayStoreReceiver(f, collector)
		if err != nil {
			return err
		}
		if err := checkBounds(index, arrayLength(obj)); err != nil {
			return err
		}
		width := 4
		switch op {
		case module.OpCAStore:
			width = 1
		case module.OpSAStore:
			width = 2
		}
		writeElemI32(obj.Data, index, width, v)
		return nil
	case module.OpFAStore:
		v, err := f.Stack.PopF32()
		if err != nil {
			return err
		}
		index, obj, err := popArrayStoreReceiver(f, collector)
		if err != nil {
			return err
		}
		if err := checkBounds(index, arrayLength(obj)); err != nil {
			return err
		}
		writeElemF32(obj.Data, index, v)
		return nil
	case module.OpLAStore:
		v, err := f.Stack.PopI64()
		if err != nil {
			return err
		}
		index, obj, err := popArrayStoreReceiver(f, collector)
		if err != nil {
			return err
		}
		if err := checkBounds(index, arrayLength(obj)); err != nil {
			return err
		}
		writeElemI64(obj.Data, index, v)
		return nil
	case module.OpDAStore:
		v, err := f.Stack.PopF64()
		if err != nil {
			return err
		}
		index, obj, err := popArrayStoreReceiver(f, collector)
		if err != nil {
			return err
		}
		if err := checkBounds(index, arrayLength(obj)); err != nil {
			return err
		}
		writeElemF64(obj.Data, index, v)
		return nil
	default:
		return fatalf("execArrayStore: unhandled opcode %s", op)
	}
}

// popArrayStoreReceiver pops the index and array-reference operands common
// to every {c,s,i,l,f,d}astore, after the element value has already been
// popped off the top of the stack.
func popArrayStoreReceiver(f *Frame, collector *gc.Collector) (index int, obj *gc.Object, err error) {
	idx, err := f.Stack.PopI32()
	if err != nil {
		return 0, nil, err
	}
	a, err := f.Stack.PopAddr()
	if err != nil {
		return 0, nil, err
	}
	o, err := derefReceiver(collector, a, "astore")
	if err != nil {
		return 0, nil, err
	}
	return int(idx), o, nil
}

func execAALoad(f *Frame, collector *gc.Collector) error {
	index, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	addr, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	obj, err := derefReceiver(collector, addr, "aaload")
	if err != nil {
		return err
	}
	if err := checkBounds(int(index), arrayLength(obj)); err != nil {
		return err
	}
	elem := readElemAddr(obj.Data, int(index))
	if err := f.Stack.PushAddr(elem); err != nil {
		return err
	}
	if elem != 0 {
		collector.AddTemporary(elem)
	}
	return nil
}

func execAAStore(f *Frame, collector *gc.Collector) error {
	value, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	index, err := f.Stack.PopI32()
	if err != nil {
		return err
	}
	addr, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	obj, err := derefReceiver(collector, addr, "aastore")
	if err != nil {
		return err
	}
	if err := checkBounds(int(index), arrayLength(obj)); err != nil {
		return err
	}
	writeElemAddr(obj.Data, int(index), value)
	if value != 0 {
		if err := collector.RemoveTemporary(value); err != nil {
			return err
		}
	}
	return nil
}

// --- objects (spec §4.4.1 "Objects") ---

func execNew(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	addr, err := collector.NewRaw(instr.LayoutID, instr.Size, instr.Alignment, gc.FlagTemporary)
	if err != nil {
		return err
	}
	return f.Stack.PushAddr(addr)
}

func execGetField(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	addr, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	obj, err := derefReceiver(collector, addr, "getfield")
	if err != nil {
		return err
	}
	if instr.Offset+instr.Size > len(obj.Data) {
		return fatalf("getfield: offset %d+%d out of range for object of size %d", instr.Offset, instr.Size, len(obj.Data))
	}

	if instr.NeedsGC {
		v := binary.LittleEndian.Uint64(obj.Data[instr.Offset:])
		if err := f.Stack.PushAddr(v); err != nil {
			return err
		}
		if v != 0 {
			collector.AddTemporary(v)
		}
		return nil
	}

	switch instr.Size {
	case 1:
		return f.Stack.PushI32(int32(int8(obj.Data[instr.Offset])))
	case 2:
		return f.Stack.PushI32(int32(int16(binary.LittleEndian.Uint16(obj.Data[instr.Offset:]))))
	case 4:
		return f.Stack.PushCat1(binary.LittleEndian.Uint32(obj.Data[instr.Offset:]))
	case 8:
		return f.Stack.PushCat2(binary.LittleEndian.Uint64(obj.Data[instr.Offset:]))
	default:
		return fatalf("getfield: unsupported field size %d", instr.Size)
	}
}

func execSetField(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	var (
		addrVal uint64
		cat1Val uint32
		cat2Val uint64
		isAddr  bool
		isCat2  bool
	)

	switch {
	case instr.NeedsGC:
		v, err := f.Stack.PopAddr()
		if err != nil {
			return err
		}
		addrVal, isAddr = v, true
	case instr.Size == 8:
		v, err := f.Stack.PopCat2()
		if err != nil {
			return err
		}
		cat2Val, isCat2 = v, true
	default:
		v, err := f.Stack.PopCat1()
		if err != nil {
			return err
		}
		cat1Val = v
	}

	receiver, err := f.Stack.PopAddr()
	if err != nil {
		return err
	}
	obj, err := derefReceiver(collector, receiver, "setfield")
	if err != nil {
		return err
	}
	if instr.Offset+instr.Size > len(obj.Data) {
		return fatalf("setfield: offset %d+%d out of range for object of size %d", instr.Offset, instr.Size, len(obj.Data))
	}

	switch {
	case isAddr:
		binary.LittleEndian.PutUint64(obj.Data[instr.Offset:], addrVal)
		if addrVal != 0 {
			if err := collector.RemoveTemporary(addrVal); err != nil {
				return err
			}
		}
	case isCat2:
		binary.LittleEndian.PutUint64(obj.Data[instr.Offset:], cat2Val)
	case instr.Size == 1:
		obj.Data[instr.Offset] = byte(cat1Val)
	case instr.Size == 2:
		binary.LittleEndian.PutUint16(obj.Data[instr.Offset:], uint16(cat1Val))
	default:
		binary.LittleEndian.PutUint32(obj.Data[instr.Offset:], cat1Val)
	}
	return nil
}

// execCheckCast validates a reference's runtime layout without consuming
// it: checkcast is a guard, not a conversion (spec §4.4.1 `checkcast`, net
// stack delta 0). Null only passes when instr.AllowCast is set; otherwise a
// null receiver is itself a fault, matching the reference's strict cast
// path (interpreter.cpp's checkcast: null is rejected unless allow_cast).
func execCheckCast(f *Frame, instr module.Instruction, collector *gc.Collector) error {
	raw, err := f.Stack.TopBytes(8)
	if err != nil {
		return err
	}
	addr := binary.LittleEndian.Uint64(raw)
	if addr == 0 {
		if instr.AllowCast {
			return nil
		}
		return fatalf("checkcast: null pointer access during checkcast")
	}
	layoutID, err := collector.GetTypeLayoutID(addr)
	if err != nil {
		return err
	}
	if layoutID != instr.LayoutID && !instr.AllowCast {
		return fatalf("checkcast: object has layout %d, expected %d", layoutID, instr.LayoutID)
	}
	return nil
}
