package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/vvka-141/atomdeploy/internal/cli"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

func main() {
	// Recover from panics to ensure graceful exits with stack traces
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(atomdeploy.ExitPanic)
		}
	}()

	if os.Getenv("ATOMDEPLOY_TEST_PANIC") == "1" {
		panic("intentional test panic")
	}

	if err := cli.Execute(); err != nil {
		os.Exit(atomdeploy.ExitCodeForError(err))
	}
}
