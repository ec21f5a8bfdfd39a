package module

import "j5.nz/svm/stack"

// NativeCallback is a host-registered native function: it observes the
// caller's operand stack directly, popping its declared arguments in
// reverse-declared order and pushing its return value, respecting the VM's
// GC temporary/persistent discipline (spec §6 "Host registration
// interface").
type NativeCallback func(s *stack.Stack) error

// ModuleSource supplies a module's raw on-disk bytes given its import name,
// standing in for the file-path resolver named as an external collaborator
// in spec §1 ("Out of scope").
type ModuleSource interface {
	Load(importName string) ([]byte, error)
}

// NativeResolver looks up a host-registered native callback by
// (library, name), standing in for "any particular library of native
// functions" (spec §1 "Out of scope").
type NativeResolver interface {
	ResolveNative(library, name string) (NativeCallback, bool)
}

// LayoutRegistrar is the subset of gc.Collector the loader needs to
// register or check struct layouts (spec §4.3 step 3). It is expressed as
// an interface, not a direct dependency on package gc, following the same
// decoupling idiom package stack uses for its TemporaryTracker.
type LayoutRegistrar interface {
	RegisterTypeLayout(name string, offsets []int) (int, error)
	CheckTypeLayout(name string, offsets []int) (int, error)
}

// LoaderProvider resolves a sibling module by import name, constructing it
// if absent (spec §4.3 step 4, "the recursive case"). svm.Context supplies
// the concrete, memoizing implementation (Design Notes "Loader arena").
type LoaderProvider func(importName string) (*Loader, error)

// Loader is a fully loaded module: its parsed and rewritten Module plus
// name-indexed lookup tables, grounded on
// `slang::interpreter::module_loader` (interpreter/module_loader.h).
type Loader struct {
	ImportName string
	Module     *Module

	structsByName   map[string]*StructDescriptor
	functionsByName map[string]*FunctionDescriptor
}

// HasFunction reports whether name is an exported function.
func (l *Loader) HasFunction(name string) bool {
	_, ok := l.functionsByName[name]
	return ok
}

// GetFunction returns an exported function by name.
func (l *Loader) GetFunction(name string) (*FunctionDescriptor, error) {
	fd, ok := l.functionsByName[name]
	if !ok {
		return nil, errf("loader", -1, "module %q: function %q not found", l.ImportName, name)
	}
	return fd, nil
}

// GetStruct returns an exported struct by name.
func (l *Loader) GetStruct(name string) (*StructDescriptor, error) {
	sd, ok := l.structsByName[name]
	if !ok {
		return nil, errf("loader", -1, "module %q: struct %q not found", l.ImportName, name)
	}
	return sd, nil
}

// Load performs the full six-step load sequence described in spec §4.3:
// deserialize, index exports, compute struct layouts, resolve imports
// (recursively, via provide), compute locals frames, and rewrite code.
func Load(importName string, source ModuleSource, natives NativeResolver, gc LayoutRegistrar, provide LoaderProvider) (*Loader, error) {
	raw, err := source.Load(importName)
	if err != nil {
		return nil, errf("loader", -1, "load module %q: %v", importName, err)
	}

	m, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		ImportName:      importName,
		Module:          m,
		structsByName:   make(map[string]*StructDescriptor),
		functionsByName: make(map[string]*FunctionDescriptor),
	}

	// Step 2: index exports by name.
	for i := range m.Exports {
		exp := &m.Exports[i]
		switch exp.Kind {
		case SymType:
			l.structsByName[exp.Name] = exp.Struct
		case SymFunction:
			l.functionsByName[exp.Name] = exp.Function
		}
	}

	// Step 3: compute struct layouts in declaration order, registering or
	// checking each with the GC's layout registry.
	for i := range m.Exports {
		exp := &m.Exports[i]
		if exp.Kind != SymType {
			continue
		}
		sd := exp.Struct
		refOffsets := ComputeStructLayout(sd)

		var layoutID int
		var err error
		if sd.IsNative() {
			layoutID, err = gc.CheckTypeLayout(sd.Name, refOffsets)
		} else {
			layoutID, err = gc.RegisterTypeLayout(sd.Name, refOffsets)
		}
		if err != nil {
			return nil, errf("loader", -1, "module %q: struct %q layout: %v", importName, sd.Name, err)
		}
		sd.LayoutID = layoutID
	}

	// Step 4: resolve imports, recursively constructing sibling loaders and
	// native callbacks.
	packageLoaders := make([]*Loader, len(m.Imports))
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Kind == SymPackage {
			pkgLoader, err := provide(imp.Name)
			if err != nil {
				return nil, errf("loader", -1, "module %q: resolve import package %q: %v", importName, imp.Name, err)
			}
			packageLoaders[i] = pkgLoader
		}
	}
	// Native functions imported directly (not packages) resolve their host
	// callback by (library, name), taking the library name from the
	// function descriptor's LibraryName.
	importedFunctions := make([]*FunctionDescriptor, len(m.Imports))
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Kind != SymFunction {
			continue
		}
		pkgLoader := packageLoaders[imp.PackageIdx]
		if pkgLoader == nil {
			return nil, errf("loader", -1, "module %q: import %q has no owning package", importName, imp.Name)
		}
		fd, err := pkgLoader.GetFunction(imp.Name)
		if err != nil {
			return nil, errf("loader", -1, "module %q: import %q: %v", importName, imp.Name, err)
		}
		if fd.Native && fd.Callback == nil {
			cb, ok := natives.ResolveNative(fd.LibraryName, fd.Name)
			if !ok {
				return nil, errf("loader", -1, "module %q: no native callback registered for (%s, %s)", importName, fd.LibraryName, fd.Name)
			}
			fd.Callback = cb
		}
		importedFunctions[i] = fd
	}
	importedStructs := make([]*StructDescriptor, len(m.Imports))
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Kind != SymType {
			continue
		}
		pkgLoader := packageLoaders[imp.PackageIdx]
		if pkgLoader == nil {
			return nil, errf("loader", -1, "module %q: import %q has no owning package", importName, imp.Name)
		}
		sd, err := pkgLoader.GetStruct(imp.Name)
		if err != nil {
			return nil, errf("loader", -1, "module %q: import %q: %v", importName, imp.Name, err)
		}
		importedStructs[i] = sd
	}

	// Step 5: compute locals frame layout for every function. Native
	// functions get one too, so that an invoke of one has its ArgsSize and
	// ReturnSize for the stack-delta computation.
	for i := range m.Exports {
		exp := &m.Exports[i]
		if exp.Kind != SymFunction {
			continue
		}
		ComputeLocalsFrame(exp.Function)
	}

	// Step 6: rewrite each interpreted function's code.
	ctx := &rewriteContext{
		resolveFunction: func(idx int) (*FunctionDescriptor, *Loader, error) {
			if idx >= 0 {
				if idx >= len(m.Exports) || m.Exports[idx].Kind != SymFunction {
					return nil, nil, errf("rewrite", -1, "invoke: export index %d is not a function", idx)
				}
				return m.Exports[idx].Function, l, nil
			}
			impIdx := -idx - 1
			if impIdx < 0 || impIdx >= len(importedFunctions) || importedFunctions[impIdx] == nil {
				return nil, nil, errf("rewrite", -1, "invoke: import index %d is not a function", impIdx)
			}
			return importedFunctions[impIdx], packageLoaders[m.Imports[impIdx].PackageIdx], nil
		},
		resolveStruct: func(idx int) (*StructDescriptor, error) {
			if idx >= 0 {
				if idx >= len(m.Exports) || m.Exports[idx].Kind != SymType {
					return nil, errf("rewrite", -1, "type reference: export index %d is not a struct", idx)
				}
				return m.Exports[idx].Struct, nil
			}
			impIdx := -idx - 1
			if impIdx < 0 || impIdx >= len(importedStructs) || importedStructs[impIdx] == nil {
				return nil, errf("rewrite", -1, "type reference: import index %d is not a struct", impIdx)
			}
			return importedStructs[impIdx], nil
		},
	}

	rawByFunc := splitFunctionCode(m)
	for i := range m.Exports {
		exp := &m.Exports[i]
		if exp.Kind != SymFunction || exp.Function.Native {
			continue
		}
		fd := exp.Function
		raw, ok := rawByFunc[fd.EntryPoint]
		if !ok {
			return nil, errf("loader", -1, "module %q: function %q: no code at entry point %d", importName, fd.Name, fd.EntryPoint)
		}
		code, capacity, err := decodeFunctionCode(raw, ctx)
		if err != nil {
			return nil, errf("rewrite", -1, "module %q: function %q: %v", importName, fd.Name, err)
		}
		fd.Code = code
		fd.StackCapacity = capacity
	}

	return l, nil
}

// splitFunctionCode slices m.Code into one byte range per interpreted
// function, keyed by its on-disk entry point. Entry points are sorted to
// find each function's code length (the bytes up to the next function's
// entry point, or the end of the blob).
func splitFunctionCode(m *Module) map[int][]byte {
	var entries []int
	for i := range m.Exports {
		exp := &m.Exports[i]
		if exp.Kind == SymFunction && !exp.Function.Native {
			entries = append(entries, exp.Function.EntryPoint)
		}
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j] < entries[i] {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	out := make(map[int][]byte, len(entries))
	for i, start := range entries {
		end := len(m.Code)
		if i+1 < len(entries) {
			end = entries[i+1]
		}
		out[start] = m.Code[start:end]
	}
	return out
}
