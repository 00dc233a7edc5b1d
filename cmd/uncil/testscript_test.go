package main

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

// TestMain lets testscript re-exec this test binary as the `uncil` command
// itself (via `exec uncil ...` inside a .txt script), so the scenarios below
// drive the real CLI entry point (argument parsing, UNCILPATH handling, file
// execution) rather than calling internal/vm directly the way
// internal/vm/vm_test.go's scenario tests do.
func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"uncil": func() int { return run(os.Args[1:]) },
	}))
}

// TestScripts runs every testdata/script/*.txt fixture end-to-end through
// the stand-alone interpreter binary instead of the library Run API: most
// are spec.md §8's concrete scenarios, and deepcopy.txt covers the
// deepcopy native.
func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
	})
}
