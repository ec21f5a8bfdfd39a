package vm

import (
	"j5.nz/svm/gc"
	"j5.nz/svm/module"
)

// finalizeReturn releases the frame's reference-typed locals as roots and
// runs a collection cycle, per spec §4.2 "A collection also runs
// automatically at every return from an interpreted function".
func finalizeReturn(f *Frame, collector *gc.Collector) error {
	if err := f.unrootOnReturn(); err != nil {
		return err
	}
	return collector.Run()
}

// Exec runs f's rewritten instruction stream to completion, executing one
// instruction per iteration and dispatching by opcode tag (spec §4.4,
// grounded on the teacher's execFunc giant-switch over a decoded
// instruction array in std/compiler/backend_vm.go).
func Exec(f *Frame, state *CallState, collector *gc.Collector) error {
	code := f.Function.Code
	pc := 0

	for pc < len(code) {
		instr := code[pc]
		next := pc + 1

		switch instr.Op {

		// --- stack shape ---
		case module.OpDup:
			if err := f.Stack.Dup(); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpDup2:
			if err := f.Stack.Dup2(); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpADup:
			if err := f.Stack.ADup(); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpPop:
			if err := f.Stack.Pop(); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpPop2:
			if err := f.Stack.Pop2(); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpAPop:
			if err := f.Stack.APop(); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpDupX1:
			if err := f.Stack.DupX1(instr.S1, instr.S2, instr.GCFlag); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpDupX2:
			if err := f.Stack.DupX2(instr.S1, instr.S2, instr.S3, instr.GCFlag); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- i32 / i64 / f32 / f64 arithmetic & logic ---
		case module.OpIAdd, module.OpISub, module.OpIMul, module.OpIDiv, module.OpIMod,
			module.OpIShl, module.OpIShr, module.OpIAnd, module.OpIOr, module.OpIXor,
			module.OpILAnd, module.OpILOr:
			if err := execI32Binary(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpLAdd, module.OpLSub, module.OpLMul, module.OpLDiv, module.OpLMod,
			module.OpLShl, module.OpLShr, module.OpLAnd, module.OpLOr, module.OpLXor,
			module.OpLLAnd, module.OpLLOr:
			if err := execI64Binary(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpFAdd, module.OpFSub, module.OpFMul, module.OpFDiv:
			if err := execF32Binary(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpDAdd, module.OpDSub, module.OpDMul, module.OpDDiv:
			if err := execF64Binary(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- casts ---
		case module.OpI2C, module.OpI2S, module.OpI2L, module.OpI2F, module.OpI2D,
			module.OpL2I, module.OpL2F, module.OpL2D,
			module.OpF2I, module.OpF2L, module.OpF2D,
			module.OpD2I, module.OpD2L, module.OpD2F:
			if err := execCast(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- comparisons ---
		case module.OpICmpL, module.OpICmpLE, module.OpICmpG, module.OpICmpGE, module.OpICmpEQ, module.OpICmpNE:
			if err := execI32Compare(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpLCmpL, module.OpLCmpLE, module.OpLCmpG, module.OpLCmpGE, module.OpLCmpEQ, module.OpLCmpNE:
			if err := execI64Compare(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpFCmpL, module.OpFCmpLE, module.OpFCmpG, module.OpFCmpGE, module.OpFCmpEQ, module.OpFCmpNE:
			if err := execF32Compare(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpDCmpL, module.OpDCmpLE, module.OpDCmpG, module.OpDCmpGE, module.OpDCmpEQ, module.OpDCmpNE:
			if err := execF64Compare(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpACmpEQ, module.OpACmpNE:
			if err := execAddrCompare(f, instr.Op); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- constants & nulls ---
		case module.OpAConstNull:
			if err := f.Stack.PushAddr(0); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpIConst:
			if err := f.Stack.PushI32(instr.I32); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpLConst:
			if err := f.Stack.PushI64(instr.I64); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpFConst:
			if err := f.Stack.PushF32(instr.F32); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpDConst:
			if err := f.Stack.PushF64(instr.F64); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpSConst:
			if err := execSConst(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- locals ---
		case module.OpILoad, module.OpFLoad:
			if err := execLoadCat1(f, instr); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpLLoad, module.OpDLoad:
			if err := execLoadCat2(f, instr); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpALoad:
			if err := execALoad(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpIStore, module.OpFStore:
			if err := execStoreCat1(f, instr); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpLStore, module.OpDStore:
			if err := execStoreCat2(f, instr); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpAStore:
			if err := execAStore(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- arrays ---
		case module.OpNewArray:
			if err := execNewArray(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpANewArray:
			if err := execANewArray(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpArrayLength:
			if err := execArrayLength(f, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpCALoad, module.OpSALoad, module.OpIALoad, module.OpLALoad, module.OpFALoad, module.OpDALoad:
			if err := execArrayLoad(f, instr.Op, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpCAStore, module.OpSAStore, module.OpIAStore, module.OpLAStore, module.OpFAStore, module.OpDAStore:
			if err := execArrayStore(f, instr.Op, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpAALoad:
			if err := execAALoad(f, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpAAStore:
			if err := execAAStore(f, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- objects ---
		case module.OpNew:
			if err := execNew(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpGetField:
			if err := execGetField(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpSetField:
			if err := execSetField(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
		case module.OpCheckCast:
			if err := execCheckCast(f, instr, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		// --- control flow ---
		case module.OpJmp:
			next = instr.Target
		case module.OpJnz:
			cond, err := f.Stack.PopI32()
			if err != nil {
				return wrapFrameErr(f, pc, err)
			}
			if cond != 0 {
				next = instr.Target
			} else {
				next = instr.Else
			}

		case module.OpRet:
			if f.Stack.Len() != 0 {
				return wrapFrameErr(f, pc, fatalf("ret: stack has %d leftover bytes for a void return", f.Stack.Len()))
			}
			if err := finalizeReturn(f, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
			return nil
		case module.OpIRet, module.OpFRet:
			if err := checkReturnHeight(f, pc, 4); err != nil {
				return err
			}
			if err := finalizeReturn(f, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
			return nil
		case module.OpLRet, module.OpDRet:
			if err := checkReturnHeight(f, pc, 8); err != nil {
				return err
			}
			if err := finalizeReturn(f, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
			return nil
		case module.OpSRet, module.OpARet:
			if err := checkReturnHeight(f, pc, 8); err != nil {
				return err
			}
			if err := finalizeReturn(f, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}
			return nil

		// --- calls ---
		case module.OpInvoke:
			if err := doInvoke(f, instr, state, collector); err != nil {
				return wrapFrameErr(f, pc, err)
			}

		default:
			return wrapFrameErr(f, pc, fatalf("unhandled opcode %s", instr.Op))
		}

		pc = next
	}

	// Well-formed functions always exit through an explicit return opcode;
	// falling off the end is itself a fatal code-generator bug.
	return wrapFrameErr(f, pc, fatalf("function %q fell off the end of its code without a return", f.Function.Name))
}

func checkReturnHeight(f *Frame, pc, want int) error {
	if f.Stack.Len() != want {
		return wrapFrameErr(f, pc, fatalf("return: stack has %d bytes, expected exactly %d", f.Stack.Len(), want))
	}
	return nil
}
