package vm

import (
	"strings"
	"testing"

	"uncil/internal/value"
	"uncil/internal/world"
)

// newTestMachine wires a fresh World/Machine/View with the small set of
// natives the scenario scripts below need, mirroring cmd/uncil's
// registerBuiltins but writing print's output into buf instead of stdout.
func newTestMachine(t *testing.T) (*Machine, *world.View, *strings.Builder) {
	t.Helper()
	w := world.New(world.DefaultConfig())
	rt := world.RuntimeOf(w)
	m := New(w)

	var buf strings.Builder
	RegisterNative(w, "print", 0, 0, func(view *world.View, args []value.Value) ([]value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = Stringify(a)
			view.World.Release(a)
		}
		buf.WriteString(strings.Join(parts, " "))
		buf.WriteByte('\n')
		return nil, nil
	})
	RegisterNative(w, "object", 0, 0, func(view *world.View, args []value.Value) ([]value.Value, error) {
		for _, a := range args {
			view.World.Release(a)
		}
		obj := view.World.WakeValue(value.Object, &value.ObjectPayload{Prototype: value.NullValue()})
		return []value.Value{obj}, nil
	})

	view := m.NewView(rt, world.Normal)
	return m, view, &buf
}

func runScript(t *testing.T, m *Machine, view *world.View, src string) {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	results, err := m.Run(view, prog, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range results {
		view.World.Release(r)
	}
}

// Scenario 1: numeric for loop and arithmetic assignment.
func TestArithmeticForLoop(t *testing.T) {
	m, view, buf := newTestMachine(t)
	defer view.Release()
	runScript(t, m, view, "x = 0\nfor i = 1, 10 do\n  x = x + i\nend\nprint(x)\n")
	if got, want := buf.String(), "55\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// Scenario 2: a closure over a mutable local survives its enclosing call
// returning, and each call to the returned closure observes the previous
// call's mutation (spec §4.5 exhale/inhale).
func TestClosureCapturesMutableLocal(t *testing.T) {
	m, view, buf := newTestMachine(t)
	defer view.Release()
	src := `
function mk()
  n = 0
  function inc()
    n = n + 1
    return n
  end
  return inc
end
c = mk()
print(c())
print(c())
print(c())
`
	runScript(t, m, view, src)
	if got, want := buf.String(), "1\n2\n3\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// Scenario 3: a with-scoped object's __close overload runs exactly once,
// during exception unwinding, before the enclosing catch block runs.
func TestWithCloseRunsDuringUnwind(t *testing.T) {
	m, view, buf := newTestMachine(t)
	defer view.Release()
	src := `
o = object()
o.__close = function(self)
  print("close")
end
print("open")
try
  with o do
    throw "boom"
  end
catch e
  print("error")
end
`
	runScript(t, m, view, src)
	if got, want := buf.String(), "open\nclose\nerror\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// Scenario 6: tail calls between mutually recursive `public` functions run
// in constant call-frame depth (spec §4.7) — a non-tail-call implementation
// would blow the Go stack or the view's call-frame slice well before a
// depth of one million.
func TestMutualTailRecursionConstantDepth(t *testing.T) {
	m, view, buf := newTestMachine(t)
	defer view.Release()
	src := `
public even = function(n)
  if n == 0 then
    return true
  end
  return odd(n - 1)
end
public odd = function(n)
  if n == 0 then
    return false
  end
  return even(n - 1)
end
print(even(1000000))
`
	runScript(t, m, view, src)
	if got, want := buf.String(), "true\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if depth := len(view.Calls); depth != 0 {
		t.Fatalf("expected call stack to have unwound fully, got depth %d", depth)
	}
}
