package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"j5.nz/svm/module"
)

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <module>",
		Short: "Print a module's export table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := newContext(moduleDir)
			loader, err := ctx.Loader(args[0])
			if err != nil {
				return err
			}
			for _, exp := range loader.Module.Exports {
				describeExport(cmd, exp)
			}
			return nil
		},
	}
}

func describeExport(cmd *cobra.Command, exp module.Export) {
	out := cmd.OutOrStdout()
	switch exp.Kind {
	case module.SymFunction:
		kind := "fn"
		if exp.Function.Native {
			kind = "native fn"
		}
		fmt.Fprintf(out, "%s %s(%d args) -> %s\n", kind, exp.Name, len(exp.Function.ArgTypes), exp.Function.ReturnType.BaseType)
	case module.SymType:
		fmt.Fprintf(out, "struct %s (%d fields, size %d)\n", exp.Name, len(exp.Struct.Fields), exp.Struct.Size)
	case module.SymConstant:
		fmt.Fprintf(out, "const %s = %d\n", exp.Name, exp.ConstantValue)
	default:
		fmt.Fprintf(out, "%s %s\n", exp.Kind, exp.Name)
	}
}
