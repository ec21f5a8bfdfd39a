// Package svm implements the Context (spec component F): the top-level,
// host-facing entry point that owns the GC, the loader map, the
// native-function registry, and the call-stack depth ceiling, grounded on
// the reference implementation's `slang::interpreter::context`
// (interpreter/context.h/.cpp) and, for its single-owning-struct shape, on
// the teacher's `Compiler` driver struct.
package svm

import (
	"fmt"

	"j5.nz/svm/gc"
	"j5.nz/svm/module"
	"j5.nz/svm/value"
	"j5.nz/svm/vm"
)

// Logger receives operational tracing from the Context and its GC, mirroring
// the teacher's gated fmt.Fprintf(os.Stderr, ...) debug logging
// (backend_vm.go's vm.trackMem / vm.logAllocs) behind a pluggable interface
// instead of a hardcoded stream (SPEC_FULL §6 "Logging").
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

type nativeKey struct{ library, name string }

// Context owns every resource one call tree shares: the GC, the loader map
// (keyed by import name, lazily populated), the native-function registry
// (keyed (library, name)), and the call-stack depth ceiling (spec §4.6).
// A Context must not be used from more than one goroutine at a time (spec
// §5 "Shared-resource policy").
type Context struct {
	collector *gc.Collector
	source    module.ModuleSource
	loaders   map[string]*module.Loader
	natives   map[nativeKey]module.NativeCallback
	maxDepth  int
	logger    Logger
}

// NewContext constructs a Context that resolves module bytes through
// source, using the GC's documented default thresholds (spec §4.2, SPEC_FULL
// §6 "Configuration").
func NewContext(source module.ModuleSource) *Context {
	return NewContextWithConfig(source, gc.DefaultConfig(), vm.DefaultMaxCallDepth)
}

// NewContextWithConfig constructs a Context with caller-supplied GC tuning
// and call-depth ceiling.
func NewContextWithConfig(source module.ModuleSource, cfg gc.Config, maxDepth int) *Context {
	c := &Context{
		collector: gc.New(cfg),
		source:    source,
		loaders:   make(map[string]*module.Loader),
		natives:   make(map[nativeKey]module.NativeCallback),
		maxDepth:  maxDepth,
		logger:    noopLogger{},
	}
	c.collector.SetCycleHook(func(stats gc.CycleStats) {
		c.logger.Printf("svm: gc cycle: %+v", stats)
	})
	return c
}

// SetLogger installs l as the sink for operational tracing; a nil logger
// restores the no-op default.
func (c *Context) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.logger = l
}

// Collector exposes the context's GC so host code registering natives can
// close over it (natives allocate and release managed strings/arrays
// directly, spec §6 "Host registration interface").
func (c *Context) Collector() *gc.Collector { return c.collector }

// ObjectCount, RootSetSize and ByteSize surface the GC's live-object
// bookkeeping for host introspection (spec §8's post-invoke checks of
// object_count/root_set_size/allocated_bytes).
func (c *Context) ObjectCount() int { return c.collector.ObjectCount() }
func (c *Context) RootSetSize() int { return c.collector.RootSetSize() }
func (c *Context) ByteSize() int    { return c.collector.ByteSize() }

// RegisterNative binds a host callback to (library, name), failing if one
// is already registered (spec §4.6 "register_native ... fails if already
// defined").
func (c *Context) RegisterNative(library, name string, cb module.NativeCallback) error {
	key := nativeKey{library, name}
	if _, ok := c.natives[key]; ok {
		return fmt.Errorf("svm: native function (%s, %s) is already registered", library, name)
	}
	c.natives[key] = cb
	return nil
}

// ResolveNative implements module.NativeResolver.
func (c *Context) ResolveNative(library, name string) (module.NativeCallback, bool) {
	cb, ok := c.natives[nativeKey{library, name}]
	return cb, ok
}

// Loader resolves and returns moduleName's loader without invoking anything,
// for host tooling that wants to inspect a module's exports directly
// (cmd/svmdump's describe/disassemble subcommands).
func (c *Context) Loader(moduleName string) (*module.Loader, error) {
	return c.resolveModule(moduleName)
}

// resolveModule lazily loads and memoizes the loader for importName (spec
// §4.6 "resolve_module(name) -> &Loader — lazy constructor").
func (c *Context) resolveModule(importName string) (*module.Loader, error) {
	if l, ok := c.loaders[importName]; ok {
		return l, nil
	}
	l, err := module.Load(importName, c.source, c, c.collector, c.resolveModule)
	if err != nil {
		return nil, classifyLoadErr(err)
	}
	c.loaders[importName] = l
	c.logger.Printf("svm: loaded module %q", importName)
	return l, nil
}

// Invoke resolves moduleName.functionName, constructs a Value-receiving
// frame from args, executes it to completion, and unwraps its return value
// (spec §4.6 "invoke(module, function, args) -> Value"). On any failure the
// GC is reset, discarding every managed allocation, per spec §7; the
// call-depth counter starts fresh for each call, so it has nothing to reset.
func (c *Context) Invoke(moduleName, functionName string, args []value.Value) (value.Value, error) {
	loader, err := c.resolveModule(moduleName)
	if err != nil {
		c.reset()
		return value.Value{}, err
	}

	fn, err := loader.GetFunction(functionName)
	if err != nil {
		c.reset()
		return value.Value{}, &BoundaryError{Cause: err}
	}
	if fn.Native {
		c.reset()
		return value.Value{}, &BoundaryError{
			Cause: fmt.Errorf("invoke: %q.%q is a native function, not an entry point", moduleName, functionName),
		}
	}
	if len(args) != len(fn.ArgTypes) {
		c.reset()
		return value.Value{}, &BoundaryError{
			Cause: fmt.Errorf("invoke: %q.%q expects %d arguments, got %d", moduleName, functionName, len(fn.ArgTypes), len(args)),
		}
	}

	argsBytes := make([]byte, fn.ArgsSize)
	for i, a := range args {
		off, size, _, err := fn.SlotOffset(i)
		if err != nil {
			c.reset()
			return value.Value{}, &BoundaryError{Cause: err}
		}
		if err := a.CreateInto(argsBytes[off:off+size], c.collector); err != nil {
			c.reset()
			return value.Value{}, &BoundaryError{Cause: fmt.Errorf("invoke: argument %d: %w", i, err)}
		}
	}

	retBytes, err := vm.TopLevel(loader, fn, c.collector, argsBytes, c.maxDepth)
	if err != nil {
		c.reset()
		return value.Value{}, classifyRuntimeErr(err)
	}

	ret, err := value.FromBytes(fn.ReturnType, retBytes, c.collector)
	if err != nil {
		c.reset()
		return value.Value{}, classifyRuntimeErr(err)
	}
	return ret, nil
}

// reset clears every managed allocation after a failed top-level invoke,
// matching spec §7 "the context resets its call-level counter and its GC
// (freeing all managed memory)". Loaders and native registrations survive:
// only the per-call GC state is torn down.
func (c *Context) reset() {
	c.collector.Reset()
}
