package vm

import (
	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

// DefaultMaxCallDepth is the reference implementation's default call-stack
// depth ceiling (spec §4.4.3).
const DefaultMaxCallDepth = 500

// CallState tracks the dynamic call-stack depth across nested invoke
// instructions, shared by every Frame in one call tree (spec §4.4.3).
type CallState struct {
	Depth    int
	MaxDepth int
}

// NewCallState returns a CallState with the given depth ceiling (0 selects
// DefaultMaxCallDepth).
func NewCallState(maxDepth int) *CallState {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCallDepth
	}
	return &CallState{MaxDepth: maxDepth}
}

// doInvoke executes a resolved call: native callbacks observe the caller's
// stack directly; interpreted callees get a fresh frame whose locals are
// populated byte-for-byte from the top args-size bytes of the caller's
// stack (spec §4.4.1 "Calls", §4.4.2 "Function-call boundary rules").
func doInvoke(caller *Frame, instr module.Instruction, state *CallState, collector *gc.Collector) error {
	callee := instr.Callee
	if callee == nil {
		return fatalf("invoke: unresolved callee")
	}

	if callee.Native {
		if callee.Callback == nil {
			return fatalf("invoke: native function %q has no bound callback", callee.Name)
		}
		return callee.Callback(caller.Stack)
	}

	state.Depth++
	if state.Depth > state.MaxDepth {
		state.Depth--
		return fatalf("call depth exceeded maximum of %d", state.MaxDepth)
	}
	defer func() { state.Depth-- }()

	argsBytes, err := caller.Stack.PopBytes(callee.ArgsSize)
	if err != nil {
		return err
	}

	if err := releaseArgTemporaries(callee, argsBytes, collector); err != nil {
		return err
	}

	calleeLoader := instr.Loader
	calleeFrame := NewFrame(calleeLoader, callee, collector)
	copy(calleeFrame.Locals, argsBytes)

	if err := calleeFrame.rootEntryArgs(); err != nil {
		return err
	}

	if err := Exec(calleeFrame, state, collector); err != nil {
		return err
	}

	if calleeFrame.Stack.Len() != callee.ReturnSize {
		return fatalf("function %q exited with %d bytes on its stack, expected return size %d",
			callee.Name, calleeFrame.Stack.Len(), callee.ReturnSize)
	}
	if err := caller.Stack.PushStack(calleeFrame.Stack); err != nil {
		return err
	}

	return nil
}

// releaseArgTemporaries removes the temporary registration of every
// reference-typed argument slot in argsBytes, since those pointers are
// about to become the callee's locals-as-roots instead (spec §4.4.2). Shared
// between doInvoke (nested calls) and TopLevel (host entry).
func releaseArgTemporaries(callee *module.FunctionDescriptor, argsBytes []byte, collector *gc.Collector) error {
	for slot, isRef := range callee.SlotIsRef[:len(callee.ArgTypes)] {
		if !isRef {
			continue
		}
		off := callee.SlotOffsets[slot]
		addr := readAddrAt(argsBytes, off)
		if addr != 0 {
			if err := collector.RemoveTemporary(addr); err != nil {
				return err
			}
		}
	}
	return nil
}

func readAddrAt(b []byte, offset int) uint64 {
	if offset+8 > len(b) {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[offset+i]) << (8 * i)
	}
	return v
}
