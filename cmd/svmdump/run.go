package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"j5.nz/svm/value"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <module> <function> [i32 args...]",
		Short: "Invoke an exported function with integer arguments and print its result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := newContext(moduleDir)

			callArgs := make([]value.Value, 0, len(args)-2)
			for _, a := range args[2:] {
				n, err := strconv.ParseInt(a, 10, 32)
				if err != nil {
					return fmt.Errorf("svmdump: argument %q is not an i32: %w", a, err)
				}
				callArgs = append(callArgs, value.I32(int32(n)))
			}

			ret, err := ctx.Invoke(args[0], args[1], callArgs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeResult(ret))
			return ret.Release(ctx.Collector())
		},
	}
}

func describeResult(v value.Value) string {
	switch v.Kind() {
	case value.KindVoid:
		return "void"
	case value.KindI32:
		return fmt.Sprintf("%d", v.I32Value())
	case value.KindF32:
		return fmt.Sprintf("%g", v.F32Value())
	case value.KindStr:
		return v.StrValue()
	case value.KindI32Array:
		return fmt.Sprintf("%v", v.I32ArrayValue())
	case value.KindF32Array:
		return fmt.Sprintf("%v", v.F32ArrayValue())
	case value.KindStrArray:
		return fmt.Sprintf("%v", v.StrArrayValue())
	default:
		return v.Kind().String()
	}
}
