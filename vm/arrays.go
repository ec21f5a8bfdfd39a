package vm

import (
	"encoding/binary"
	"math"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

// gcKindForArrayKind maps the on-disk array element tag to the GC's object
// kind (spec §4.4.1 `newarray`).
func gcKindForArrayKind(k module.ArrayKind) (gc.Kind, error) {
	switch k {
	case module.ArrayI8:
		return gc.KindArrayI8, nil
	case module.ArrayI16:
		return gc.KindArrayI16, nil
	case module.ArrayI32:
		return gc.KindArrayI32, nil
	case module.ArrayI64:
		return gc.KindArrayI64, nil
	case module.ArrayF32:
		return gc.KindArrayF32, nil
	case module.ArrayF64:
		return gc.KindArrayF64, nil
	case module.ArrayStr:
		return gc.KindArrayStr, nil
	default:
		return 0, fatalf("newarray: element kind %d is not a primitive array kind (use anewarray)", k)
	}
}

func arrayLength(obj *gc.Object) int {
	width := obj.Kind.ElemWidth()
	if width == 0 {
		return 0
	}
	return obj.Size() / width
}

func checkBounds(index, length int) error {
	if index < 0 || index >= length {
		return fatalf("array index %d out of bounds for length %d", index, length)
	}
	return nil
}

func readElemI32(data []byte, index, width int) int32 {
	off := index * width
	switch width {
	case 1:
		return int32(int8(data[off]))
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(data[off:])))
	default:
		return int32(binary.LittleEndian.Uint32(data[off:]))
	}
}

func writeElemI32(data []byte, index, width int, v int32) {
	off := index * width
	switch width {
	case 1:
		data[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(data[off:], uint16(v))
	default:
		binary.LittleEndian.PutUint32(data[off:], uint32(v))
	}
}

func readElemI64(data []byte, index int) int64 {
	return int64(binary.LittleEndian.Uint64(data[index*8:]))
}

func writeElemI64(data []byte, index int, v int64) {
	binary.LittleEndian.PutUint64(data[index*8:], uint64(v))
}

func readElemF32(data []byte, index int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[index*4:]))
}

func writeElemF32(data []byte, index int, v float32) {
	binary.LittleEndian.PutUint32(data[index*4:], math.Float32bits(v))
}

func readElemF64(data []byte, index int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(data[index*8:]))
}

func writeElemF64(data []byte, index int, v float64) {
	binary.LittleEndian.PutUint64(data[index*8:], math.Float64bits(v))
}

func readElemAddr(data []byte, index int) uint64 {
	return binary.LittleEndian.Uint64(data[index*8:])
}

func writeElemAddr(data []byte, index int, v uint64) {
	binary.LittleEndian.PutUint64(data[index*8:], v)
}
