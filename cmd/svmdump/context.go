package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"j5.nz/svm/stdnative"
	"j5.nz/svm/svm"
)

// fileSource loads pre-encoded modules as "<dir>/<name>.svmmod" (spec.md
// §6's wire format, with no particular extension mandated; svmdump's own
// convention).
type fileSource struct {
	dir string
}

func (f fileSource) Load(importName string) ([]byte, error) {
	path := filepath.Join(f.dir, importName+".svmmod")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("svmdump: reading module %q: %w", importName, err)
	}
	return b, nil
}

// zerologLogger adapts zerolog.Logger to svm.Logger, the pluggable sink the
// library core logs operational tracing through (SPEC_FULL.md §6
// "Logging").
type zerologLogger struct {
	z zerolog.Logger
}

func (l zerologLogger) Printf(format string, args ...any) {
	l.z.Info().Msg(fmt.Sprintf(format, args...))
}

func newContext(dir string) *svm.Context {
	ctx := svm.NewContext(fileSource{dir: dir})
	ctx.SetLogger(zerologLogger{z: newZerologLogger()})

	ids, err := stdnative.RegisterLayouts(ctx.Collector())
	if err != nil {
		// Built-in layouts must register before any module load; a failure
		// here means the collector itself is misconfigured.
		panic(fmt.Sprintf("svmdump: registering built-in layouts: %v", err))
	}
	for name, cb := range stdnative.Natives(ctx.Collector(), ids) {
		if err := ctx.RegisterNative(stdnative.LibraryName(), name, cb); err != nil {
			panic(fmt.Sprintf("svmdump: registering native %q: %v", name, err))
		}
	}
	return ctx
}
