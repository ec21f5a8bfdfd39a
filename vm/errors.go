// Package vm implements the interpreter loop (spec component D): it decodes
// and executes a function's rewritten instruction stream, manages stack
// frames, calls, returns, and stack-trace unwinding, grounded on the
// reference implementation's `slang::interpreter::interpreter` execution
// switch (interpreter/interpreter.h/.cpp) and on the teacher's `execFunc`
// giant-switch dispatch structure (std/compiler/backend_vm.go).
package vm

import "fmt"

// TraceEntry is one stack-trace frame, recorded as an error unwinds call
// frames (spec §4.4.3, §7 "stack-trace entry (module_name, entry_point,
// fault_offset)").
type TraceEntry struct {
	Module   string
	Function string
	Offset   int
}

// Error is a runtime failure annotated with the call chain that was active
// when it occurred. Every frame that unwinds through an error appends its
// own TraceEntry, so Trace reads outermost-caller-last (spec §7: "the
// interpreter catches at every frame ... then rethrows").
type Error struct {
	Cause error
	Trace []TraceEntry
}

func (e *Error) Error() string {
	return fmt.Sprintf("vm: %v%s", e.Cause, formatTrace(e.Trace))
}

func (e *Error) Unwrap() error { return e.Cause }

func formatTrace(trace []TraceEntry) string {
	if len(trace) == 0 {
		return ""
	}
	s := "\n"
	for _, t := range trace {
		s += fmt.Sprintf("\tat %s.%s (offset %d)\n", t.Module, t.Function, t.Offset)
	}
	return s
}

// wrapFrameErr annotates err with f's current trace entry, accumulating
// across nested unwinds (spec §4.4.3 "Call stack").
func wrapFrameErr(f *Frame, pc int, err error) error {
	entry := TraceEntry{Module: f.Loader.ImportName, Function: f.Function.Name, Offset: pc}
	if ve, ok := err.(*Error); ok {
		ve.Trace = append(ve.Trace, entry)
		return ve
	}
	return &Error{Cause: err, Trace: []TraceEntry{entry}}
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
