package module

const ptrWidth = 8

func alignUp(offset, alignment int) int {
	if alignment <= 1 {
		return offset
	}
	return (offset + alignment - 1) / alignment * alignment
}

// typeSize returns a variable type's in-memory size, alignment, and whether
// it is a GC reference (spec §3 "Struct descriptor": "Fields inherit their
// size/alignment from built-ins ... or from pointer width for strings,
// arrays, and struct references"). A custom (non-builtin) base type always
// denotes a struct reference: struct-typed fields are never inlined, so
// sizing one requires no knowledge of the referenced struct's own layout
// (and, in particular, no import resolution — which is why struct layout
// computation can run before import resolution in the loader's step order).
func typeSize(t VariableType) (size, alignment int, isRef bool) {
	if t.ArrayDims > 0 {
		return ptrWidth, ptrWidth, true
	}
	switch t.BaseType {
	case "i8":
		return 1, 1, false
	case "i16":
		return 2, 2, false
	case "i32", "f32":
		return 4, 4, false
	case "i64", "f64":
		return 8, 8, false
	case "str":
		return ptrWidth, ptrWidth, true
	case "void":
		return 0, 1, false
	default:
		return ptrWidth, ptrWidth, true
	}
}

// ComputeStructLayout assigns each field its size/alignment/offset, computes
// the struct's total size/alignment, and returns the ordered list of
// reference-field byte offsets that the GC layout registry needs (spec
// §4.3 step 3).
func ComputeStructLayout(sd *StructDescriptor) []int {
	offset := 0
	maxAlign := 1
	var refOffsets []int

	for i := range sd.Fields {
		f := &sd.Fields[i]
		size, align, isRef := typeSize(f.Type)
		f.Offset = alignUp(offset, align)
		f.Size = size
		f.Alignment = align
		offset = f.Offset + size
		if align > maxAlign {
			maxAlign = align
		}
		if isRef {
			refOffsets = append(refOffsets, f.Offset)
		}
	}

	sd.Alignment = maxAlign
	sd.Size = alignUp(offset, maxAlign)
	return refOffsets
}

// ComputeLocalsFrame assigns byte offsets to a function's arguments and
// declared locals, byte-packed (not aligned) in declaration order (spec
// §4.3 step 5): arguments first, then locals, continuing the same running
// offset. Arguments and locals share one zero-based slot index space (the
// compiler-assigned index used by on-disk `iload`/`istore` and friends), so
// the combined per-slot offset/size/reference table is cached on fd; the
// interpreter looks slot indices up in it (SlotOffset) when it executes a
// load or store.
func ComputeLocalsFrame(fd *FunctionDescriptor) {
	offset := 0
	slotCount := len(fd.ArgTypes) + len(fd.Locals)
	fd.SlotOffsets = make([]int, slotCount)
	fd.SlotSizes = make([]int, slotCount)
	fd.SlotIsRef = make([]bool, slotCount)

	for i, at := range fd.ArgTypes {
		size, _, isRef := typeSize(at)
		fd.SlotOffsets[i] = offset
		fd.SlotSizes[i] = size
		fd.SlotIsRef[i] = isRef
		offset += size
	}
	fd.ArgsSize = offset

	for i := range fd.Locals {
		l := &fd.Locals[i]
		size, _, isRef := typeSize(l.Type)
		slot := len(fd.ArgTypes) + i
		l.Offset = offset
		l.Size = size
		fd.SlotOffsets[slot] = offset
		fd.SlotSizes[slot] = size
		fd.SlotIsRef[slot] = isRef
		offset += size
	}
	fd.LocalsSize = offset

	retSize, _, _ := typeSize(fd.ReturnType)
	fd.ReturnSize = retSize
}

// SlotOffset returns the byte offset, size, and reference-ness of local slot
// index, returning an error if index is out of range (spec §7 "Decode
// errors": "reference to an out-of-range index").
func (fd *FunctionDescriptor) SlotOffset(index int) (offset, size int, isRef bool, err error) {
	if index < 0 || index >= len(fd.SlotOffsets) {
		return 0, 0, false, errf("layout", -1, "function %q: local slot index %d out of range", fd.Name, index)
	}
	return fd.SlotOffsets[index], fd.SlotSizes[index], fd.SlotIsRef[index], nil
}
