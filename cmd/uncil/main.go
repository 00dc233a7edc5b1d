// Command uncil is the stand-alone interpreter binary spec.md §6 describes
// as "out of core but listed for completeness": everything here is a thin
// embedder sitting on top of internal/vm's public API (Compile/Run/
// RegisterNative). The core itself never touches os.Args, the filesystem,
// or stdout/stderr directly — this file is the one place that does.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/vm"
	"uncil/internal/world"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		repl    bool
		verbose int
		file    string
		scriptArgs []string
	)

	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-i":
			repl = true
		case a == "-v":
			verbose++
		case a == "-vv":
			verbose += 2
		case a == "-?" || a == "-h" || a == "--help":
			printUsage()
			return 0
		case strings.HasPrefix(a, "-"):
			fmt.Fprintf(os.Stderr, "uncil: unknown option %q\n", a)
			printUsage()
			return 2
		default:
			file = a
			scriptArgs = args[i+1:]
			i = len(args)
		}
	}

	if verbose > 0 {
		printVersion(verbose)
		if file == "" && !repl {
			return 0
		}
	}

	if file == "" && !repl {
		printUsage()
		return 2
	}

	w := world.New(buildConfig(file))
	rt := world.RuntimeOf(w)
	m := vm.New(w)
	registerBuiltins(m)
	view := m.NewView(rt, world.Normal)
	defer view.Release()

	if file != "" {
		if code := runFile(m, view, file, scriptArgs); code != 0 {
			return code
		}
	}
	if repl {
		runREPL(m, view)
	}
	return 0
}

// buildConfig assembles world.Config from UNCILPATH/UNCILPATHDL (spec §6
// environment variables): colon/semicolon separated module search paths,
// appended after the script's own directory.
func buildConfig(file string) world.Config {
	cfg := world.DefaultConfig()
	var search []string
	if file != "" {
		search = append(search, filepath.Dir(file))
	}
	search = append(search, splitPathEnv("UNCILPATH")...)
	search = append(search, splitPathEnv("UNCILPATHDL")...)
	cfg.ModuleSearch = search
	return cfg
}

func splitPathEnv(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	sep := ":"
	if strings.Contains(v, ";") {
		sep = ";"
	}
	var out []string
	for _, p := range strings.Split(v, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// maxHistory reads UNCILMAXHIST for the REPL's in-memory history buffer;
// the stand-alone interpreter keeps only a line count, no persistence.
func maxHistory() int {
	v := os.Getenv("UNCILMAXHIST")
	if v == "" {
		return 1000
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 1000
	}
	return n
}

func registerBuiltins(m *vm.Machine) {
	w := m.World
	vm.RegisterNative(w, "print", 0, 0, func(view *world.View, args []value.Value) ([]value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = vm.Stringify(a)
			view.World.Release(a)
		}
		fmt.Println(strings.Join(parts, " "))
		return nil, nil
	})

	// object() hands a script a fresh, prototype-less Object to populate
	// with attributes (including overloads like __close/__index) — scripts
	// have no object-literal syntax of their own (spec leaves concrete
	// syntax unspecified; this core only ever builds Objects through the
	// embedder's create-object primitive of §6), so a native constructor is
	// the bridge that lets user code opt into prototype-chain semantics.
	vm.RegisterNative(w, "object", 0, 0, func(view *world.View, args []value.Value) ([]value.Value, error) {
		for _, a := range args {
			view.World.Release(a)
		}
		obj := view.World.WakeValue(value.Object, &value.ObjectPayload{Prototype: value.NullValue()})
		return []value.Value{obj}, nil
	})

	// setproto(obj, proto) is the script-level hook onto Machine.SetPrototype
	// (internal/vm/attr.go), the only place a direct-or-transitive prototype
	// cycle is rejected with type/invalid-prototype (spec §8).
	vm.RegisterNative(w, "setproto", 2, 2, func(view *world.View, args []value.Value) ([]value.Value, error) {
		obj, proto := args[0], args[1]
		err := m.SetPrototype(obj, proto)
		view.World.Release(obj)
		view.World.Release(proto)
		return nil, err
	})

	// deepcopy(v) is the script-level hook onto value.DeepCopy (spec §8's
	// deepcopy round-trip property); unlike object()/setproto() it has no
	// VM opcode of its own since it's a library convenience, not core
	// control flow.
	vm.RegisterNative(w, "deepcopy", 1, 1, func(view *world.View, args []value.Value) ([]value.Value, error) {
		clone := value.DeepCopy(view.World, args[0])
		view.World.Release(args[0])
		return []value.Value{clone}, nil
	})
}

func runFile(m *vm.Machine, view *world.View, file string, scriptArgs []string) int {
	src, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uncil: %v\n", err)
		return 1
	}
	prog, err := vm.Compile(string(src))
	if err != nil {
		reportError(file, err)
		return 1
	}
	args := make([]value.Value, len(scriptArgs))
	for i, s := range scriptArgs {
		args[i] = view.World.WakeValue(value.String, &value.StringPayload{Bytes: s})
	}
	results, err := m.Run(view, prog, args)
	for _, r := range results {
		view.World.Release(r)
	}
	if err != nil {
		reportError(file, err)
		return 1
	}
	return 0
}

// runREPL is a minimal read-eval-print loop (out of scope per spec §1,
// kept intentionally small): each line is compiled and run as its own
// program against the shared view, so top-level `public` bindings persist
// across lines the way a REPL session needs, but locals do not survive
// past the line that declared them.
func runREPL(m *vm.Machine, view *world.View) {
	hist := make([]string, 0, maxHistory())
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		if len(hist) >= cap(hist) {
			hist = hist[1:]
		}
		hist = append(hist, line)
		if strings.TrimSpace(line) != "" {
			prog, err := vm.Compile(line)
			if err != nil {
				reportError("<stdin>", err)
			} else if results, err := m.Run(view, prog, nil); err != nil {
				reportError("<stdin>", err)
			} else {
				for _, r := range results {
					view.World.Release(r)
				}
			}
		}
		fmt.Print("> ")
	}
}

// reportError renders the `<type>: <message>` plus traceback form spec §7
// requires. Colorized only when stderr is an actual terminal (go-isatty),
// never when piped to a file or another process.
func reportError(file string, err error) {
	colorize := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	ue, ok := err.(*uerr.Error)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
		return
	}
	if colorize {
		fmt.Fprintf(os.Stderr, "\x1b[31m%s\x1b[0m\n", ue.Error())
	} else {
		fmt.Fprintln(os.Stderr, ue.Error())
	}
}

func printUsage() {
	log.SetFlags(0)
	fmt.Fprintln(os.Stderr, "usage: uncil [-i] [-v] [-?/-h] [file [args...]]")
}

func printVersion(level int) {
	fmt.Println("uncil", version)
	if level > 1 {
		fmt.Println("build: execution core reference embedder")
	}
}
