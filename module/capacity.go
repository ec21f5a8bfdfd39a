package module

// computeStackCapacity computes an interpreted function's operand-stack
// capacity by joining per-instruction stack-height deltas over the
// function's control-flow graph, rather than the reference implementation's
// unsound straight-line sum (spec's own Open Question; Design Notes
// "Dataflow-bound stack capacity vs. linear scan"). Each reachable program
// point's height must agree from every predecessor; disagreement is a
// decode error (spec §3 invariant: "the operand stack never exceeds its
// precomputed capacity").
func computeStackCapacity(code []Instruction) (int, error) {
	n := len(code)
	height := make([]int, n+1)
	known := make([]bool, n+1)
	height[0] = 0
	known[0] = true

	worklist := []int{0}
	maxHeight := 0

	for len(worklist) > 0 {
		i := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if i >= n {
			continue // end of function: no further instructions
		}
		if height[i] > maxHeight {
			maxHeight = height[i]
		}

		delta, err := stackDelta(code[i])
		if err != nil {
			return 0, err
		}
		next := height[i] + delta
		if next > maxHeight {
			maxHeight = next
		}
		if next < 0 {
			return 0, errf("rewrite", -1, "instruction %d (%s): operand stack underflows to height %d", i, code[i].Op, next)
		}

		for _, succ := range successors(code[i], i) {
			if !known[succ] {
				height[succ] = next
				known[succ] = true
				worklist = append(worklist, succ)
				continue
			}
			if height[succ] != next {
				return 0, errf("rewrite", -1,
					"instruction %d (%s): stack height disagreement at program point %d (%d vs %d)",
					i, code[i].Op, succ, height[succ], next)
			}
		}
	}

	return maxHeight, nil
}

func successors(instr Instruction, index int) []int {
	switch instr.Op {
	case OpJmp:
		return []int{instr.Target}
	case OpJnz:
		return []int{instr.Target, instr.Else}
	case OpRet, OpIRet, OpLRet, OpFRet, OpDRet, OpSRet, OpARet:
		return nil
	default:
		return []int{index + 1}
	}
}

const (
	cat1 = 4
	cat2 = 8
	addr = ptrWidth
)

// stackDelta returns the net byte change an instruction applies to the
// operand stack (spec §4.4.1 "stack delta").
func stackDelta(instr Instruction) (int, error) {
	switch instr.Op {
	case OpDup:
		return cat1, nil
	case OpDup2:
		return cat2, nil
	case OpADup:
		return addr, nil
	case OpPop:
		return -cat1, nil
	case OpPop2:
		return -cat2, nil
	case OpAPop:
		return -addr, nil
	case OpDupX1:
		return instr.S1, nil
	case OpDupX2:
		return instr.S1, nil

	case OpIAdd, OpISub, OpIMul, OpIDiv, OpIMod, OpIShl, OpIShr, OpIAnd, OpIOr, OpIXor, OpILAnd, OpILOr:
		return -cat1, nil
	case OpLAdd, OpLSub, OpLMul, OpLDiv, OpLMod, OpLShl, OpLShr, OpLAnd, OpLOr, OpLXor, OpLLAnd, OpLLOr:
		return -cat2, nil
	case OpFAdd, OpFSub, OpFMul, OpFDiv:
		return -cat1, nil
	case OpDAdd, OpDSub, OpDMul, OpDDiv:
		return -cat2, nil

	case OpI2C, OpI2S, OpI2F:
		return 0, nil
	case OpI2L, OpI2D:
		return cat1, nil // 4 -> 8
	case OpL2I, OpL2F:
		return -cat1, nil // 8 -> 4
	case OpL2D:
		return 0, nil
	case OpF2I:
		return 0, nil
	case OpF2L, OpF2D:
		return cat1, nil
	case OpD2I, OpD2F:
		return -cat1, nil
	case OpD2L:
		return 0, nil

	case OpICmpL, OpICmpLE, OpICmpG, OpICmpGE, OpICmpEQ, OpICmpNE,
		OpFCmpL, OpFCmpLE, OpFCmpG, OpFCmpGE, OpFCmpEQ, OpFCmpNE:
		return -cat1, nil // pop 2x4, push 4
	case OpLCmpL, OpLCmpLE, OpLCmpG, OpLCmpGE, OpLCmpEQ, OpLCmpNE,
		OpDCmpL, OpDCmpLE, OpDCmpG, OpDCmpGE, OpDCmpEQ, OpDCmpNE:
		return cat1 - 2*cat2, nil // pop 2x8, push 4
	case OpACmpEQ, OpACmpNE:
		return cat1 - 2*addr, nil

	case OpAConstNull:
		return addr, nil
	case OpIConst, OpFConst:
		return cat1, nil
	case OpLConst, OpDConst:
		return cat2, nil
	case OpSConst:
		return addr, nil

	case OpILoad, OpFLoad:
		return cat1, nil
	case OpLLoad, OpDLoad:
		return cat2, nil
	case OpALoad:
		return addr, nil
	case OpIStore, OpFStore:
		return -cat1, nil
	case OpLStore, OpDStore:
		return -cat2, nil
	case OpAStore:
		return -addr, nil

	case OpNewArray, OpANewArray:
		return addr - cat1, nil // pop i32 size, push array ref
	case OpArrayLength:
		return cat1 - addr, nil

	case OpCALoad, OpSALoad, OpIALoad, OpFALoad:
		return cat1 - (addr + cat1), nil
	case OpLALoad, OpDALoad:
		return cat2 - (addr + cat1), nil
	case OpAALoad:
		return addr - (addr + cat1), nil

	case OpCAStore, OpSAStore, OpIAStore, OpFAStore:
		return -(addr + cat1 + cat1), nil
	case OpLAStore, OpDAStore:
		return -(addr + cat1 + cat2), nil
	case OpAAStore:
		return -(addr + cat1 + addr), nil

	case OpNew:
		return addr, nil
	case OpGetField:
		return instr.Size - addr, nil
	case OpSetField:
		return -(instr.Size + addr), nil
	case OpCheckCast:
		return 0, nil

	case OpJmp:
		return 0, nil
	case OpJnz:
		return -cat1, nil

	case OpRet:
		return 0, nil
	case OpIRet, OpFRet:
		return -cat1, nil
	case OpLRet, OpDRet:
		return -cat2, nil
	case OpSRet, OpARet:
		return -addr, nil

	case OpInvoke:
		if instr.Callee == nil {
			return 0, errf("rewrite", -1, "invoke: unresolved callee")
		}
		return instr.Callee.ReturnSize - instr.Callee.ArgsSize, nil

	default:
		return 0, errf("rewrite", -1, "stackDelta: unhandled opcode %s", instr.Op)
	}
}
