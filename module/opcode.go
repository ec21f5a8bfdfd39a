package module

// Opcode identifies one VM instruction. The same opcode identity is used
// both for the on-disk encoding (module §6 "Instruction stream") and for the
// rewritten, directly executable form (module §6 "Rewritten instruction
// stream") — only the operand representation changes between the two; see
// Instruction.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Stack shape (spec §4.1, §4.4.1 "Stack shape").
	OpDup
	OpDup2
	OpADup
	OpPop
	OpPop2
	OpAPop
	OpDupX1
	OpDupX2

	// i32 arithmetic & logic.
	OpIAdd
	OpISub
	OpIMul
	OpIDiv
	OpIMod
	OpIShl
	OpIShr
	OpIAnd
	OpIOr
	OpIXor
	OpILAnd // logical and, yields 0/1
	OpILOr  // logical or, yields 0/1

	// i64 arithmetic & logic.
	OpLAdd
	OpLSub
	OpLMul
	OpLDiv
	OpLMod
	OpLShl
	OpLShr
	OpLAnd
	OpLOr
	OpLXor
	OpLLAnd
	OpLLOr

	// f32 arithmetic.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv

	// f64 arithmetic.
	OpDAdd
	OpDSub
	OpDMul
	OpDDiv

	// Narrowing / widening casts.
	OpI2C
	OpI2S
	OpI2L
	OpI2F
	OpI2D
	OpL2I
	OpL2F
	OpL2D
	OpF2I
	OpF2L
	OpF2D
	OpD2I
	OpD2L
	OpD2F

	// Comparisons: each family pushes 0/1.
	OpICmpL
	OpICmpLE
	OpICmpG
	OpICmpGE
	OpICmpEQ
	OpICmpNE
	OpLCmpL
	OpLCmpLE
	OpLCmpG
	OpLCmpGE
	OpLCmpEQ
	OpLCmpNE
	OpFCmpL
	OpFCmpLE
	OpFCmpG
	OpFCmpGE
	OpFCmpEQ
	OpFCmpNE
	OpDCmpL
	OpDCmpLE
	OpDCmpG
	OpDCmpGE
	OpDCmpEQ
	OpDCmpNE
	OpACmpEQ
	OpACmpNE

	// Constants & nulls.
	OpAConstNull
	OpIConst
	OpLConst
	OpFConst
	OpDConst
	OpSConst

	// Locals.
	OpILoad
	OpFLoad
	OpLLoad
	OpDLoad
	OpALoad
	OpIStore
	OpFStore
	OpLStore
	OpDStore
	OpAStore

	// Arrays.
	OpNewArray
	OpANewArray
	OpArrayLength
	OpCALoad
	OpCAStore
	OpSALoad
	OpSAStore
	OpIALoad
	OpIAStore
	OpLALoad
	OpLAStore
	OpFALoad
	OpFAStore
	OpDALoad
	OpDAStore
	OpAALoad
	OpAAStore

	// Objects.
	OpNew
	OpGetField
	OpSetField
	OpCheckCast

	// Control flow.
	OpLabel
	OpJmp
	OpJnz
	OpRet
	OpIRet
	OpLRet
	OpFRet
	OpDRet
	OpSRet
	OpARet

	// Calls.
	OpInvoke

	opcodeCount
)

// ArrayKind identifies the element kind for newarray/anewarray, matching
// gc.Kind's array variants one-to-one.
type ArrayKind uint8

const (
	ArrayI8 ArrayKind = iota
	ArrayI16
	ArrayI32
	ArrayI64
	ArrayF32
	ArrayF64
	ArrayStr
	ArrayRef
)

// opcodeNames gives Opcode.String() a readable form for error messages and
// disassembly (cmd/svmdump), not used by the interpreter itself.
var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpDup: "dup", OpDup2: "dup2", OpADup: "adup",
	OpPop: "pop", OpPop2: "pop2", OpAPop: "apop", OpDupX1: "dup_x1", OpDupX2: "dup_x2",
	OpIAdd: "iadd", OpISub: "isub", OpIMul: "imul", OpIDiv: "idiv", OpIMod: "imod",
	OpIShl: "ishl", OpIShr: "ishr", OpIAnd: "iand", OpIOr: "ior", OpIXor: "ixor",
	OpILAnd: "iland", OpILOr: "ilor",
	OpLAdd: "ladd", OpLSub: "lsub", OpLMul: "lmul", OpLDiv: "ldiv", OpLMod: "lmod",
	OpLShl: "lshl", OpLShr: "lshr", OpLAnd: "land", OpLOr: "lor", OpLXor: "lxor",
	OpLLAnd: "lland", OpLLOr: "llor",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul", OpFDiv: "fdiv",
	OpDAdd: "dadd", OpDSub: "dsub", OpDMul: "dmul", OpDDiv: "ddiv",
	OpI2C: "i2c", OpI2S: "i2s", OpI2L: "i2l", OpI2F: "i2f", OpI2D: "i2d",
	OpL2I: "l2i", OpL2F: "l2f", OpL2D: "l2d",
	OpF2I: "f2i", OpF2L: "f2l", OpF2D: "f2d",
	OpD2I: "d2i", OpD2L: "d2l", OpD2F: "d2f",
	OpICmpL: "icmpl", OpICmpLE: "icmple", OpICmpG: "icmpg", OpICmpGE: "icmpge", OpICmpEQ: "icmpeq", OpICmpNE: "icmpne",
	OpLCmpL: "lcmpl", OpLCmpLE: "lcmple", OpLCmpG: "lcmpg", OpLCmpGE: "lcmpge", OpLCmpEQ: "lcmpeq", OpLCmpNE: "lcmpne",
	OpFCmpL: "fcmpl", OpFCmpLE: "fcmple", OpFCmpG: "fcmpg", OpFCmpGE: "fcmpge", OpFCmpEQ: "fcmpeq", OpFCmpNE: "fcmpne",
	OpDCmpL: "dcmpl", OpDCmpLE: "dcmple", OpDCmpG: "dcmpg", OpDCmpGE: "dcmpge", OpDCmpEQ: "dcmpeq", OpDCmpNE: "dcmpne",
	OpACmpEQ: "acmpeq", OpACmpNE: "acmpne",
	OpAConstNull: "aconst_null", OpIConst: "iconst", OpLConst: "lconst", OpFConst: "fconst", OpDConst: "dconst", OpSConst: "sconst",
	OpILoad: "iload", OpFLoad: "fload", OpLLoad: "lload", OpDLoad: "dload", OpALoad: "aload",
	OpIStore: "istore", OpFStore: "fstore", OpLStore: "lstore", OpDStore: "dstore", OpAStore: "astore",
	OpNewArray: "newarray", OpANewArray: "anewarray", OpArrayLength: "arraylength",
	OpCALoad: "caload", OpCAStore: "castore", OpSALoad: "saload", OpSAStore: "sastore",
	OpIALoad: "iaload", OpIAStore: "iastore", OpLALoad: "laload", OpLAStore: "lastore",
	OpFALoad: "faload", OpFAStore: "fastore", OpDALoad: "daload", OpDAStore: "dastore",
	OpAALoad: "aaload", OpAAStore: "aastore",
	OpNew: "new", OpGetField: "getfield", OpSetField: "setfield", OpCheckCast: "checkcast",
	OpLabel: "label", OpJmp: "jmp", OpJnz: "jnz",
	OpRet: "ret", OpIRet: "iret", OpLRet: "lret", OpFRet: "fret", OpDRet: "dret", OpSRet: "sret", OpARet: "aret",
	OpInvoke: "invoke",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "opcode(?)"
}

// Instruction is a single decoded instruction, either still carrying
// symbolic operands (right after parsing, before the rewrite pass) or fully
// resolved (after decodeFunctionCode). Only the fields relevant to Op are
// populated; see Design Notes "Polymorphism over opcode operand shapes".
type Instruction struct {
	Op Opcode

	// Scalar immediates (iconst/lconst/fconst/dconst).
	I32 int32
	I64 int64
	F32 float32
	F64 float64

	// Index is kept as read from disk: the constant-pool index for sconst,
	// or the local slot index for loads/stores, which the interpreter maps
	// to a byte offset through FunctionDescriptor.SlotOffset when it
	// executes the instruction.
	Index int

	// Label id before rewrite / instruction index into the function's
	// decoded code after rewrite, for jmp.
	Target int
	// Two-way branch for jnz: Target is "non-zero", Else is "zero".
	Else int

	// dup_x1 / dup_x2 byte sizes, and the GC flag bit.
	S1, S2, S3 int
	GCFlag     bool

	// newarray / anewarray.
	ArrayKind ArrayKind
	LayoutID  int // anewarray element layout id

	// new_ / checkcast.
	Size      int
	Alignment int
	AllowCast bool

	// getfield / setfield.
	Offset  int
	NeedsGC bool

	// invoke: resolved call target (nil until rewrite binds it).
	Callee *FunctionDescriptor
	Loader *Loader
}
