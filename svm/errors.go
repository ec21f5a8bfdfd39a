package svm

import (
	"fmt"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
	"j5.nz/svm/vm"
)

// TraceEntry is one readable stack-trace line, translated from a
// vm.TraceEntry at the invoke boundary (spec §7 "translates the stack trace
// into readable module.function entries").
type TraceEntry struct {
	Module   string
	Function string
	Offset   int
}

func (t TraceEntry) String() string {
	return fmt.Sprintf("%s.%s (offset %d)", t.Module, t.Function, t.Offset)
}

// StackTrace is an ordered, outermost-caller-last call chain.
type StackTrace []TraceEntry

func (s StackTrace) String() string {
	out := ""
	for _, e := range s {
		out += "\n\tat " + e.String()
	}
	return out
}

// LoaderError wraps a malformed binary, unknown import, wrong symbol kind,
// or native struct size/layout mismatch (spec §7 kind 1).
type LoaderError struct{ Cause error }

func (e *LoaderError) Error() string { return fmt.Sprintf("svm: loader error: %v", e.Cause) }
func (e *LoaderError) Unwrap() error { return e.Cause }

// DecodeError wraps an unknown opcode, out-of-range index, negative stack
// height, or unresolved label encountered while decoding a module (spec §7
// kind 2).
type DecodeError struct{ Cause error }

func (e *DecodeError) Error() string { return fmt.Sprintf("svm: decode error: %v", e.Cause) }
func (e *DecodeError) Unwrap() error { return e.Cause }

// RuntimeError wraps a division by zero, null receiver, array-bounds
// violation, failed cast, call-stack overflow, or stack underflow/overflow
// (spec §7 kind 3), annotated with the call chain active at the fault.
type RuntimeError struct {
	Cause error
	Trace StackTrace
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("svm: runtime error: %v%s", e.Cause, e.Trace.String())
}
func (e *RuntimeError) Unwrap() error { return e.Cause }

// GCError wraps an allocation against an unknown layout id, or removal of
// an unknown root/temporary/persistent entry (spec §7 kind 4).
type GCError struct {
	Cause error
	Trace StackTrace
}

func (e *GCError) Error() string {
	return fmt.Sprintf("svm: gc error: %v%s", e.Cause, e.Trace.String())
}
func (e *GCError) Unwrap() error { return e.Cause }

// BoundaryError wraps a host-supplied argument count/type/layout
// disagreement with a function's declared signature (spec §7 kind 5).
type BoundaryError struct{ Cause error }

func (e *BoundaryError) Error() string { return fmt.Sprintf("svm: boundary error: %v", e.Cause) }
func (e *BoundaryError) Unwrap() error { return e.Cause }

// classifyLoadErr sorts a module.Load failure into LoaderError or
// DecodeError by the op tag module.Error carries.
func classifyLoadErr(err error) error {
	var merr *module.Error
	if !asModuleError(err, &merr) {
		return &LoaderError{Cause: err}
	}
	switch merr.Op {
	case "loader":
		return &LoaderError{Cause: err}
	default: // "decode", "rewrite", "layout"
		return &DecodeError{Cause: err}
	}
}

func asModuleError(err error, target **module.Error) bool {
	me, ok := err.(*module.Error)
	if ok {
		*target = me
	}
	return ok
}

// classifyRuntimeErr translates a vm.Error's trace into a readable
// StackTrace and sorts the underlying cause into RuntimeError or GCError
// (spec §7: "the interpreter catches at every frame ... then rethrows", "at
// the top of invoke ... translates the stack trace into readable
// module.function entries").
func classifyRuntimeErr(err error) error {
	ve, ok := err.(*vm.Error)
	if !ok {
		return &RuntimeError{Cause: err}
	}
	trace := make(StackTrace, len(ve.Trace))
	for i, e := range ve.Trace {
		trace[i] = TraceEntry{Module: e.Module, Function: e.Function, Offset: e.Offset}
	}
	if _, isGC := ve.Cause.(*gc.Error); isGC {
		return &GCError{Cause: ve.Cause, Trace: trace}
	}
	return &RuntimeError{Cause: ve.Cause, Trace: trace}
}
