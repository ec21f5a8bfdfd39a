package module

import (
	"math"

	"j5.nz/svm/encoding"
)

// rewriteContext supplies the loader-side lookups the rewrite pass needs to
// resolve symbolic cross-reference operands (spec §4.3 step 6, §6
// "Rewritten instruction stream"). idx follows the wire convention: a
// non-negative value indexes this module's own export table, a negative
// value v encodes import-table index `-v - 1`.
type rewriteContext struct {
	resolveFunction func(idx int) (*FunctionDescriptor, *Loader, error)
	resolveStruct   func(idx int) (*StructDescriptor, error)
}

// decodeFunctionCode decodes one function's raw, on-disk instruction slice
// into its rewritten, directly executable form: labels become instruction
// indices, invoke/new_/anewarray/checkcast carry resolved pointers/triples,
// getfield/setfield carry resolved (size, offset, needs_gc) triples, and the
// function's operand-stack capacity is computed by a basic-block dataflow
// join over the per-instruction stack deltas (spec §4.3 step 6, §4.4.1,
// Design Notes "Dataflow-bound stack capacity vs. linear scan").
func decodeFunctionCode(raw []byte, ctx *rewriteContext) ([]Instruction, int, error) {
	r := encoding.NewReader(raw)
	var out []Instruction
	labels := make(map[int]int) // label id -> instruction index

	for {
		opByte, err := r.ReadByte()
		if err != nil {
			break // clean end of this function's code slice
		}
		op := Opcode(opByte)

		if op == OpLabel {
			id, err := encoding.ReadVLE(r)
			if err != nil {
				return nil, 0, errf("rewrite", r.Pos(), "read label id: %v", err)
			}
			labels[int(id)] = len(out)
			continue
		}

		instr, err := decodeOneInstruction(op, r, ctx)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, instr)
	}

	// Resolve jmp/jnz symbolic label ids (still holding raw label ids in
	// Target/Else) into instruction indices.
	for i := range out {
		switch out[i].Op {
		case OpJmp:
			idx, ok := labels[out[i].Target]
			if !ok {
				return nil, 0, errf("rewrite", -1, "jmp: unresolved label %d", out[i].Target)
			}
			out[i].Target = idx
		case OpJnz:
			thenIdx, ok := labels[out[i].Target]
			if !ok {
				return nil, 0, errf("rewrite", -1, "jnz: unresolved then-label %d", out[i].Target)
			}
			elseIdx, ok := labels[out[i].Else]
			if !ok {
				return nil, 0, errf("rewrite", -1, "jnz: unresolved else-label %d", out[i].Else)
			}
			out[i].Target = thenIdx
			out[i].Else = elseIdx
		}
	}

	capacity, err := computeStackCapacity(out)
	if err != nil {
		return nil, 0, err
	}
	return out, capacity, nil
}

func decodeOneInstruction(op Opcode, r *encoding.Reader, ctx *rewriteContext) (Instruction, error) {
	instr := Instruction{Op: op}

	switch op {
	// No operand.
	case OpDup, OpDup2, OpADup, OpPop, OpPop2, OpAPop,
		OpIAdd, OpISub, OpIMul, OpIDiv, OpIMod, OpIShl, OpIShr, OpIAnd, OpIOr, OpIXor, OpILAnd, OpILOr,
		OpLAdd, OpLSub, OpLMul, OpLDiv, OpLMod, OpLShl, OpLShr, OpLAnd, OpLOr, OpLXor, OpLLAnd, OpLLOr,
		OpFAdd, OpFSub, OpFMul, OpFDiv, OpDAdd, OpDSub, OpDMul, OpDDiv,
		OpI2C, OpI2S, OpI2L, OpI2F, OpI2D, OpL2I, OpL2F, OpL2D, OpF2I, OpF2L, OpF2D, OpD2I, OpD2L, OpD2F,
		OpICmpL, OpICmpLE, OpICmpG, OpICmpGE, OpICmpEQ, OpICmpNE,
		OpLCmpL, OpLCmpLE, OpLCmpG, OpLCmpGE, OpLCmpEQ, OpLCmpNE,
		OpFCmpL, OpFCmpLE, OpFCmpG, OpFCmpGE, OpFCmpEQ, OpFCmpNE,
		OpDCmpL, OpDCmpLE, OpDCmpG, OpDCmpGE, OpDCmpEQ, OpDCmpNE,
		OpACmpEQ, OpACmpNE, OpAConstNull, OpArrayLength,
		OpCALoad, OpCAStore, OpSALoad, OpSAStore, OpIALoad, OpIAStore, OpLALoad, OpLAStore,
		OpFALoad, OpFAStore, OpDALoad, OpDAStore, OpAALoad, OpAAStore,
		OpRet, OpIRet, OpLRet, OpFRet, OpDRet, OpSRet, OpARet:
		return instr, nil

	// One u8: newarray's element kind.
	case OpNewArray:
		b, err := r.ReadByte()
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read newarray kind: %v", err)
		}
		instr.ArrayKind = ArrayKind(b)
		return instr, nil

	// One u32 immediate.
	case OpIConst:
		v, err := r.ReadU32()
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read iconst: %v", err)
		}
		instr.I32 = int32(v)
		return instr, nil
	case OpFConst:
		v, err := r.ReadF32()
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read fconst: %v", err)
		}
		instr.F32 = v
		return instr, nil

	// lconst/dconst: 8-byte immediates (natural generalization of the u32
	// case to the category-2 width).
	case OpLConst:
		lo, err := r.ReadU32()
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read lconst low: %v", err)
		}
		hi, err := r.ReadU32()
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read lconst high: %v", err)
		}
		instr.I64 = int64(uint64(lo) | uint64(hi)<<32)
		return instr, nil
	case OpDConst:
		lo, err := r.ReadU32()
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read dconst low: %v", err)
		}
		hi, err := r.ReadU32()
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read dconst high: %v", err)
		}
		bits := uint64(lo) | uint64(hi)<<32
		instr.F64 = float64frombits(bits)
		return instr, nil

	// One VLE int.
	case OpSConst, OpILoad, OpFLoad, OpLLoad, OpDLoad, OpALoad,
		OpIStore, OpFStore, OpLStore, OpDStore, OpAStore:
		v, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read index operand for %s: %v", op, err)
		}
		instr.Index = int(v)
		return instr, nil

	case OpLabel:
		panic("unreachable: OpLabel handled by caller")

	case OpJmp:
		v, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read jmp label: %v", err)
		}
		instr.Target = int(v)
		return instr, nil

	case OpJnz:
		thenID, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read jnz then-label: %v", err)
		}
		elseID, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read jnz else-label: %v", err)
		}
		instr.Target = int(thenID)
		instr.Else = int(elseID)
		return instr, nil

	case OpNew:
		idx, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read new_ type index: %v", err)
		}
		sd, err := ctx.resolveStruct(int(idx))
		if err != nil {
			return instr, err
		}
		instr.Size = sd.Size
		instr.Alignment = sd.Alignment
		instr.LayoutID = sd.LayoutID
		return instr, nil

	case OpANewArray:
		idx, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read anewarray type index: %v", err)
		}
		sd, err := ctx.resolveStruct(int(idx))
		if err != nil {
			return instr, err
		}
		instr.LayoutID = sd.LayoutID
		return instr, nil

	case OpCheckCast:
		idx, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read checkcast type index: %v", err)
		}
		sd, err := ctx.resolveStruct(int(idx))
		if err != nil {
			return instr, err
		}
		instr.LayoutID = sd.LayoutID
		instr.AllowCast = sd.AllowsCast()
		return instr, nil

	case OpGetField, OpSetField:
		typeIdx, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read %s type index: %v", op, err)
		}
		fieldIdx, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read %s field index: %v", op, err)
		}
		sd, err := ctx.resolveStruct(int(typeIdx))
		if err != nil {
			return instr, err
		}
		if int(fieldIdx) < 0 || int(fieldIdx) >= len(sd.Fields) {
			return instr, errf("rewrite", r.Pos(), "%s: field index %d out of range for struct %q", op, fieldIdx, sd.Name)
		}
		f := sd.Fields[fieldIdx]
		instr.Size = f.Size
		instr.Offset = f.Offset
		_, _, isRef := typeSize(f.Type)
		instr.NeedsGC = isRef
		return instr, nil

	case OpDupX1:
		t1, err := encoding.ReadVariableType(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read dup_x1 type 1: %v", err)
		}
		t2, err := encoding.ReadVariableType(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read dup_x1 type 2: %v", err)
		}
		s1, _, ref1 := typeSize(t1)
		s2, _, _ := typeSize(t2)
		instr.S1, instr.S2, instr.GCFlag = s1, s2, ref1
		return instr, nil

	case OpDupX2:
		t1, err := encoding.ReadVariableType(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read dup_x2 type 1: %v", err)
		}
		t2, err := encoding.ReadVariableType(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read dup_x2 type 2: %v", err)
		}
		t3, err := encoding.ReadVariableType(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read dup_x2 type 3: %v", err)
		}
		s1, _, ref1 := typeSize(t1)
		s2, _, _ := typeSize(t2)
		s3, _, _ := typeSize(t3)
		instr.S1, instr.S2, instr.S3, instr.GCFlag = s1, s2, s3, ref1
		return instr, nil

	case OpInvoke:
		idx, err := encoding.ReadVLE(r)
		if err != nil {
			return instr, errf("rewrite", r.Pos(), "read invoke target: %v", err)
		}
		callee, loader, err := ctx.resolveFunction(int(idx))
		if err != nil {
			return instr, err
		}
		instr.Callee = callee
		instr.Loader = loader
		return instr, nil

	default:
		return instr, errf("rewrite", r.Pos(), "unknown opcode %d", opByteOf(op))
	}
}

func opByteOf(op Opcode) byte { return byte(op) }

func float64frombits(b uint64) float64 {
	return math.Float64frombits(b)
}
