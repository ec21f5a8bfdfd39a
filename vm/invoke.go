package vm

import (
	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

// TopLevel runs fn as a host-initiated call: argsBytes (exactly fn.ArgsSize
// bytes, laid out the same way a caller's stack would supply them) is
// copied into a fresh frame's locals, reference arguments are rooted for
// the duration of the call, the function executes to completion, and its
// return slot (exactly fn.ReturnSize bytes) is handed back to the host
// (spec §4.6 "invoke: resolves, constructs a Value-receiving frame,
// executes, unwraps the return").
func TopLevel(loader *module.Loader, fn *module.FunctionDescriptor, collector *gc.Collector, argsBytes []byte, maxDepth int) ([]byte, error) {
	if fn.Native {
		return nil, fatalf("invoke: %q is native; invoke its host callback directly", fn.Name)
	}
	if len(argsBytes) != fn.ArgsSize {
		return nil, fatalf("invoke: %q expects %d bytes of arguments, got %d", fn.Name, fn.ArgsSize, len(argsBytes))
	}

	if err := releaseArgTemporaries(fn, argsBytes, collector); err != nil {
		return nil, err
	}

	frame := NewFrame(loader, fn, collector)
	copy(frame.Locals, argsBytes)
	if err := frame.rootEntryArgs(); err != nil {
		return nil, err
	}

	state := NewCallState(maxDepth)
	if err := Exec(frame, state, collector); err != nil {
		return nil, err
	}

	if frame.Stack.Len() != fn.ReturnSize {
		return nil, fatalf("function %q exited with %d bytes on its stack, expected return size %d",
			fn.Name, frame.Stack.Len(), fn.ReturnSize)
	}
	return frame.Stack.PopBytes(fn.ReturnSize)
}
