// Package module implements the module loader (spec component C): binary
// format decoding, struct layout computation, bytecode rewriting, and
// recursive import resolution, grounded on the reference implementation's
// `slang::interpreter::module_loader` (interpreter/module_loader.h/.cpp) and
// `slang::module_::language_module` (shared/module.cpp).
package module

import "j5.nz/svm/encoding"

// VariableType is re-exported from encoding so callers never need to import
// both packages for a single concept.
type VariableType = encoding.VariableType

// ConstantKind tags a constant-pool entry.
type ConstantKind uint8

const (
	ConstI32 ConstantKind = iota
	ConstF32
	ConstStr
)

// ConstantEntry is one constant-pool slot (spec §3 "Module").
type ConstantEntry struct {
	Kind ConstantKind
	I32  int32
	F32  float32
	Str  string
}

// SymbolKind distinguishes what an import/export table entry names.
type SymbolKind uint8

const (
	SymPackage SymbolKind = iota
	SymType
	SymFunction
	SymConstant
	SymMacro
)

// Import is one import-table entry. Non-package entries carry the index of
// their owning package entry (spec §3 "Module").
type Import struct {
	Kind        SymbolKind
	Name        string
	PackageIdx  int
}

// Field is one struct field, pre- and post-layout (spec §3 "Struct
// descriptor").
type Field struct {
	Name      string
	Type      VariableType
	Size      int
	Alignment int
	Offset    int
}

// Struct flag bits (spec §3 "Struct descriptor", §4.3 step 3).
const (
	StructFlagNative    uint8 = 1 << 0
	StructFlagAllowCast uint8 = 1 << 1
)

// StructDescriptor is a struct export, before and after layout computation.
type StructDescriptor struct {
	Name      string
	Flags     uint8
	Fields    []Field
	Size      int
	Alignment int
	LayoutID  int
}

func (d *StructDescriptor) IsNative() bool    { return d.Flags&StructFlagNative != 0 }
func (d *StructDescriptor) AllowsCast() bool  { return d.Flags&StructFlagAllowCast != 0 }

// Local describes one declared local variable, in declaration order;
// arguments are described by FunctionDescriptor.ArgTypes instead (spec §3 "Function descriptor",
// §4.3 step 5).
type Local struct {
	Name   string
	Type   VariableType
	Size   int
	Offset int
}

// FunctionDescriptor is a function export: signature plus either a native
// binding or an interpreted body (spec §3 "Function descriptor").
type FunctionDescriptor struct {
	Name       string
	ReturnType VariableType
	ArgTypes   []VariableType

	Native bool

	// Native functions.
	LibraryName string
	Callback    NativeCallback

	// Interpreted functions.
	EntryPoint    int // byte offset of the function's code in Module.Code (on-disk form)
	Code          []Instruction
	Locals        []Local
	ArgsSize      int
	LocalsSize    int
	ReturnSize    int
	StackCapacity int

	// SlotOffsets/SlotSizes/SlotIsRef are the combined args+locals slot
	// table computed by ComputeLocalsFrame, indexed by the compiler-assigned
	// local slot index used in on-disk load/store instructions.
	SlotOffsets []int
	SlotSizes   []int
	SlotIsRef   []bool
}

// Export is one export-table entry: a function, a struct type, or a
// constant (spec §3 "Module"). Decode and Encode reject macro exports. Only
// one of Function/Struct/ConstantValue is populated, per Kind.
type Export struct {
	Kind          SymbolKind
	Name          string
	Function      *FunctionDescriptor
	Struct        *StructDescriptor
	ConstantValue int
}

// Module is the parsed, in-memory form of a persisted binary module, before
// and (for Code) after the rewrite pass (spec §3 "Module").
type Module struct {
	Constants []ConstantEntry
	Imports   []Import
	Exports   []Export
	Code      []byte // raw, unrewritten code blob (spec §6)

	// Labels is a label-id map that Decode creates empty and nothing fills:
	// the rewrite pass resolves labels per function, into instruction
	// indices stored in Instruction.Target/Else, without recording them here.
	Labels map[int]int
}

// FindExportFunction looks up an exported function by name.
func (m *Module) FindExportFunction(name string) (*FunctionDescriptor, bool) {
	for i := range m.Exports {
		if m.Exports[i].Kind == SymFunction && m.Exports[i].Name == name {
			return m.Exports[i].Function, true
		}
	}
	return nil, false
}

// FindExportStruct looks up an exported struct by name.
func (m *Module) FindExportStruct(name string) (*StructDescriptor, bool) {
	for i := range m.Exports {
		if m.Exports[i].Kind == SymType && m.Exports[i].Name == name {
			return m.Exports[i].Struct, true
		}
	}
	return nil, false
}
