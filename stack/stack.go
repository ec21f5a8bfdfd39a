// Package stack implements the VM's operand stack (spec component A): a
// byte-addressable LIFO of typed slots, with category-1 (4 byte) and
// category-2 (8 byte) scalar pushes/pops plus pointer-width reference
// pushes/pops, grounded on the teacher's byte-addressable VM memory style in
// backend_vm.go (push/pop/loadN/storeN operating on raw byte offsets).
package stack

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PtrWidth is the byte width of a reference slot, matching the host
// platform's pointer size (module §3 "Variable type").
const PtrWidth = 8

// Error is returned for stack underflow/overflow, which spec §4.1 marks
// fatal to the current invocation.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stack: %s: %s", e.Op, e.Msg)
}

// TemporaryTracker is the minimal GC surface the stack needs for adup/apop
// and dup_x1/dup_x2's GC-flagged variants (spec §4.1, §4.2).
type TemporaryTracker interface {
	AddTemporary(addr uint64)
	RemoveTemporary(addr uint64) error
}

// Stack is a fixed-capacity, byte-addressable operand stack.
type Stack struct {
	buf []byte
	top int
	gc  TemporaryTracker
}

// New allocates a Stack with the given byte capacity.
func New(capacity int, gc TemporaryTracker) *Stack {
	return &Stack{buf: make([]byte, capacity), gc: gc}
}

// Len returns the current byte height of the stack.
func (s *Stack) Len() int {
	return s.top
}

// Cap returns the stack's total byte capacity.
func (s *Stack) Cap() int {
	return len(s.buf)
}

func (s *Stack) reserve(n int) error {
	if s.top+n > len(s.buf) {
		return &Error{Op: "push", Msg: fmt.Sprintf("overflow: need %d more bytes, have %d/%d", n, s.top, len(s.buf))}
	}
	return nil
}

func (s *Stack) consume(n int) error {
	if s.top < n {
		return &Error{Op: "pop", Msg: fmt.Sprintf("underflow: need %d bytes, have %d", n, s.top)}
	}
	return nil
}

// PushCat1 pushes a 4-byte scalar (i32/f32 bit pattern).
func (s *Stack) PushCat1(v uint32) error {
	if err := s.reserve(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s.buf[s.top:], v)
	s.top += 4
	return nil
}

// PopCat1 pops a 4-byte scalar.
func (s *Stack) PopCat1() (uint32, error) {
	if err := s.consume(4); err != nil {
		return 0, err
	}
	s.top -= 4
	return binary.LittleEndian.Uint32(s.buf[s.top:]), nil
}

// PushCat2 pushes an 8-byte scalar (i64/f64 bit pattern).
func (s *Stack) PushCat2(v uint64) error {
	if err := s.reserve(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(s.buf[s.top:], v)
	s.top += 8
	return nil
}

// PopCat2 pops an 8-byte scalar.
func (s *Stack) PopCat2() (uint64, error) {
	if err := s.consume(8); err != nil {
		return 0, err
	}
	s.top -= 8
	return binary.LittleEndian.Uint64(s.buf[s.top:]), nil
}

// PushAddr pushes a pointer-width reference (0 encodes null).
func (s *Stack) PushAddr(addr uint64) error {
	if err := s.reserve(PtrWidth); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(s.buf[s.top:], addr)
	s.top += PtrWidth
	return nil
}

// PopAddr pops a pointer-width reference.
func (s *Stack) PopAddr() (uint64, error) {
	if err := s.consume(PtrWidth); err != nil {
		return 0, err
	}
	s.top -= PtrWidth
	return binary.LittleEndian.Uint64(s.buf[s.top:]), nil
}

// PushI32/PopI32, PushF32/PopF32, PushI64/PopI64, PushF64/PopF64 are typed
// conveniences over PushCat1/PushCat2.

func (s *Stack) PushI32(v int32) error { return s.PushCat1(uint32(v)) }
func (s *Stack) PopI32() (int32, error) {
	v, err := s.PopCat1()
	return int32(v), err
}

func (s *Stack) PushF32(v float32) error { return s.PushCat1(math.Float32bits(v)) }
func (s *Stack) PopF32() (float32, error) {
	v, err := s.PopCat1()
	return math.Float32frombits(v), err
}

func (s *Stack) PushI64(v int64) error { return s.PushCat2(uint64(v)) }
func (s *Stack) PopI64() (int64, error) {
	v, err := s.PopCat2()
	return int64(v), err
}

func (s *Stack) PushF64(v float64) error { return s.PushCat2(math.Float64bits(v)) }
func (s *Stack) PopF64() (float64, error) {
	v, err := s.PopCat2()
	return math.Float64frombits(v), err
}

// Dup duplicates the top 4 bytes (spec §4.1 `dup`).
func (s *Stack) Dup() error {
	if err := s.consume(4); err != nil {
		return err
	}
	return s.PushCat1(binary.LittleEndian.Uint32(s.buf[s.top-4:]))
}

// Dup2 duplicates the top 8 bytes (spec §4.1 `dup2`).
func (s *Stack) Dup2() error {
	if err := s.consume(8); err != nil {
		return err
	}
	return s.PushCat2(binary.LittleEndian.Uint64(s.buf[s.top-8:]))
}

// ADup duplicates a pointer and increments its temporary refcount (spec
// §4.1 `adup`).
func (s *Stack) ADup() error {
	if err := s.consume(PtrWidth); err != nil {
		return err
	}
	addr := binary.LittleEndian.Uint64(s.buf[s.top-PtrWidth:])
	if err := s.PushAddr(addr); err != nil {
		return err
	}
	if s.gc != nil {
		s.gc.AddTemporary(addr)
	}
	return nil
}

// Pop discards the top 4 bytes.
func (s *Stack) Pop() error {
	if err := s.consume(4); err != nil {
		return err
	}
	s.top -= 4
	return nil
}

// Pop2 discards the top 8 bytes.
func (s *Stack) Pop2() error {
	if err := s.consume(8); err != nil {
		return err
	}
	s.top -= 8
	return nil
}

// APop discards the top reference, removing its temporary registration.
func (s *Stack) APop() error {
	addr, err := s.PopAddr()
	if err != nil {
		return err
	}
	if s.gc != nil {
		return s.gc.RemoveTemporary(addr)
	}
	return nil
}

// ModifyTop reads the top n bytes, calls f, and writes the (possibly
// differently-sized) result back on top, per spec §4.1 `modify_top`.
func (s *Stack) ModifyTop(n int, f func([]byte) []byte) error {
	if err := s.consume(n); err != nil {
		return err
	}
	in := make([]byte, n)
	copy(in, s.buf[s.top-n:s.top])
	out := f(in)
	s.top -= n
	if err := s.reserve(len(out)); err != nil {
		return err
	}
	copy(s.buf[s.top:], out)
	s.top += len(out)
	return nil
}

// DupX1 copies the top s1 bytes to the position s1+s2 below the top,
// generalizing the JVM's dup_x1 to byte sizes (spec §4.1). If gcFlag is set
// the duplicated slot is pointer-valued and its temporary refcount is
// incremented.
func (s *Stack) DupX1(s1, s2 int, gcFlag bool) error {
	if err := s.consume(s1 + s2); err != nil {
		return err
	}
	top := make([]byte, s1)
	copy(top, s.buf[s.top-s1:s.top])

	insertAt := s.top - s1 - s2
	if err := s.reserve(s1); err != nil {
		return err
	}
	copy(s.buf[insertAt+s1:s.top+s1], s.buf[insertAt:s.top])
	copy(s.buf[insertAt:insertAt+s1], top)
	s.top += s1

	if gcFlag && s.gc != nil && s1 == PtrWidth {
		s.gc.AddTemporary(binary.LittleEndian.Uint64(top))
	}
	return nil
}

// DupX2 copies the top s1 bytes to the position s1+s2+s3 below the top
// (spec §4.1 `dup_x2`).
func (s *Stack) DupX2(s1, s2, s3 int, gcFlag bool) error {
	if err := s.consume(s1 + s2 + s3); err != nil {
		return err
	}
	top := make([]byte, s1)
	copy(top, s.buf[s.top-s1:s.top])

	insertAt := s.top - s1 - s2 - s3
	if err := s.reserve(s1); err != nil {
		return err
	}
	copy(s.buf[insertAt+s1:s.top+s1], s.buf[insertAt:s.top])
	copy(s.buf[insertAt:insertAt+s1], top)
	s.top += s1

	if gcFlag && s.gc != nil && s1 == PtrWidth {
		s.gc.AddTemporary(binary.LittleEndian.Uint64(top))
	}
	return nil
}

// PushStack appends other's contents onto s, used for return-value handoff
// between caller and callee frames (spec §4.1 `push_stack`).
func (s *Stack) PushStack(other *Stack) error {
	if err := s.reserve(other.top); err != nil {
		return err
	}
	copy(s.buf[s.top:], other.buf[:other.top])
	s.top += other.top
	return nil
}

// End returns a pointer offset bytes before the top, for peek/scatter
// operations (spec §4.1 `end`), as a byte slice view into the live buffer.
func (s *Stack) End(offset int) ([]byte, error) {
	if offset < 0 || offset > s.top {
		return nil, &Error{Op: "end", Msg: fmt.Sprintf("offset %d out of range for height %d", offset, s.top)}
	}
	return s.buf[s.top-offset:], nil
}

// TopBytes returns a copy of the last n bytes without popping them.
func (s *Stack) TopBytes(n int) ([]byte, error) {
	if err := s.consume(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.buf[s.top-n:s.top])
	return out, nil
}

// PopBytes pops and returns the last n bytes.
func (s *Stack) PopBytes(n int) ([]byte, error) {
	out, err := s.TopBytes(n)
	if err != nil {
		return nil, err
	}
	s.top -= n
	return out, nil
}

// PushBytes pushes a raw byte slice (used by invoke's argument/return
// copies, spec §4.4.1 `invoke`).
func (s *Stack) PushBytes(b []byte) error {
	if err := s.reserve(len(b)); err != nil {
		return err
	}
	copy(s.buf[s.top:], b)
	s.top += len(b)
	return nil
}

// Truncate discards down to the given byte height, used when discarding the
// args_size after an invoke copies arguments into the callee's locals.
func (s *Stack) Truncate(height int) error {
	if height < 0 || height > s.top {
		return &Error{Op: "truncate", Msg: fmt.Sprintf("invalid height %d for stack of size %d", height, s.top)}
	}
	s.top = height
	return nil
}
