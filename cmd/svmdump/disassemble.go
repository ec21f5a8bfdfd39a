package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"j5.nz/svm/module"
)

func newDisassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disassemble <module> <function>",
		Short: "Print a function's rewritten instruction stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := newContext(moduleDir)
			loader, err := ctx.Loader(args[0])
			if err != nil {
				return err
			}
			fn, err := loader.GetFunction(args[1])
			if err != nil {
				return err
			}
			if fn.Native {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is native (library %q), no bytecode\n", fn.Name, fn.LibraryName)
				return nil
			}
			for i, instr := range fn.Code {
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s\n", i, disassembleOne(instr))
			}
			return nil
		},
	}
}

func disassembleOne(instr module.Instruction) string {
	switch instr.Op {
	case module.OpIConst:
		return fmt.Sprintf("%s %d", instr.Op, instr.I32)
	case module.OpFConst:
		return fmt.Sprintf("%s %g", instr.Op, instr.F32)
	case module.OpLConst:
		return fmt.Sprintf("%s %d", instr.Op, instr.I64)
	case module.OpDConst:
		return fmt.Sprintf("%s %g", instr.Op, instr.F64)
	case module.OpSConst, module.OpILoad, module.OpFLoad, module.OpLLoad, module.OpDLoad, module.OpALoad,
		module.OpIStore, module.OpFStore, module.OpLStore, module.OpDStore, module.OpAStore:
		return fmt.Sprintf("%s %d", instr.Op, instr.Index)
	case module.OpJmp:
		return fmt.Sprintf("%s -> %d", instr.Op, instr.Target)
	case module.OpJnz:
		return fmt.Sprintf("%s -> %d else %d", instr.Op, instr.Target, instr.Else)
	case module.OpNew, module.OpANewArray, module.OpCheckCast:
		return fmt.Sprintf("%s layout=%d", instr.Op, instr.LayoutID)
	case module.OpGetField, module.OpSetField:
		return fmt.Sprintf("%s offset=%d size=%d", instr.Op, instr.Offset, instr.Size)
	case module.OpInvoke:
		if instr.Callee != nil {
			return fmt.Sprintf("%s %s", instr.Op, instr.Callee.Name)
		}
		return instr.Op.String()
	default:
		return instr.Op.String()
	}
}
