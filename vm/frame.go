package vm

import (
	"encoding/binary"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
	"j5.nz/svm/stack"
)

// Frame is one interpreted function's activation: its locals-area byte
// buffer and its own operand stack, sized from the function descriptor's
// precomputed locals-size and stack-capacity (spec §3 "Stack frame").
type Frame struct {
	Loader   *module.Loader
	Function *module.FunctionDescriptor
	Locals   []byte
	Stack    *stack.Stack
	gc       *gc.Collector
}

// NewFrame allocates a fresh frame for fn, owned by loader, backed by
// collector for GC-registered allocations.
func NewFrame(loader *module.Loader, fn *module.FunctionDescriptor, collector *gc.Collector) *Frame {
	return &Frame{
		Loader:   loader,
		Function: fn,
		Locals:   make([]byte, fn.LocalsSize),
		Stack:    stack.New(fn.StackCapacity, collector),
		gc:       collector,
	}
}

func (f *Frame) readLocalAddr(offset int) uint64 {
	return binary.LittleEndian.Uint64(f.Locals[offset:])
}

func (f *Frame) writeLocalAddr(offset int, addr uint64) {
	binary.LittleEndian.PutUint64(f.Locals[offset:], addr)
}

// rootEntryArgs registers every reference-typed argument slot copied into
// Locals as a GC root, skipping null values (spec §4.4.2: "the callee's
// locals-scope registers each reference local as a root on entry").
func (f *Frame) rootEntryArgs() error {
	for slot, isRef := range f.Function.SlotIsRef[:len(f.Function.ArgTypes)] {
		if !isRef {
			continue
		}
		addr := f.readLocalAddr(f.Function.SlotOffsets[slot])
		if addr == 0 {
			continue
		}
		if err := f.gc.AddRoot(addr); err != nil {
			return err
		}
	}
	return nil
}

// unrootOnReturn releases every currently non-null reference-typed local
// (args and declared locals alike) as the frame exits (spec §4.4.2:
// "unregisters on return").
func (f *Frame) unrootOnReturn() error {
	for slot, isRef := range f.Function.SlotIsRef {
		if !isRef {
			continue
		}
		addr := f.readLocalAddr(f.Function.SlotOffsets[slot])
		if addr == 0 {
			continue
		}
		if err := f.gc.RemoveRoot(addr); err != nil {
			return err
		}
	}
	return nil
}
