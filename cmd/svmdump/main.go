// Command svmdump is a thin, spec-external front end over package svm: it
// loads modules from a directory of pre-encoded .svmmod files and exercises
// the loader via disassemble/run/describe subcommands, in the spirit of the
// reference implementation's commandline/ split into compile.cpp / run.cpp
// / disassemble.cpp / exec.cpp.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	moduleDir string
	logLevel  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "svmdump",
		Short: "Load and inspect rvm bytecode modules",
	}
	root.PersistentFlags().StringVar(&moduleDir, "dir", ".", "directory containing .svmmod files")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "zerolog level (debug, info, warn, error)")

	root.AddCommand(newDescribeCmd())
	root.AddCommand(newDisassembleCmd())
	root.AddCommand(newRunCmd())
	return root
}

func newZerologLogger() zerolog.Logger {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}
