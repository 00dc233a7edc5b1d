package vm

import (
	"testing"

	"uncil/internal/value"
	"uncil/internal/world"
)

// Scenario 4: a coroutine yields 1, 2, 3 in turn and then finishes, handing
// back its return value on the resume that observes completion (spec §4.9).
// There is no coroutine syntax in the language itself (no `coroutine.yield`
// binding exists without an embedder registering one), so this drives
// Machine.NewCoroutine/Resume/Yield directly the way an embedder's
// `coroutine` library module would be built on top of them.
func TestCoroutineYieldSequence(t *testing.T) {
	w := world.New(world.DefaultConfig())
	rt := world.RuntimeOf(w)
	m := New(w)

	RegisterNative(w, "yield", 0, 0, func(view *world.View, args []value.Value) ([]value.Value, error) {
		return m.Yield(view, args)
	})

	view := m.NewView(rt, world.Normal)
	defer view.Release()

	prog, err := Compile(`function body()
  yield(1)
  yield(2)
  yield(3)
  return 99
end
return body
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	results, err := m.Run(view, prog, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the function value back, got %d results", len(results))
	}
	body := results[0]
	defer view.World.Release(body)

	coVal := m.NewCoroutine(view, body)
	defer view.World.Release(coVal)

	want := []int64{1, 2, 3}
	for i, expect := range want {
		vals, done, err := m.Resume(view, coVal, nil)
		if err != nil {
			t.Fatalf("resume %d: %v", i, err)
		}
		if done {
			t.Fatalf("resume %d: coroutine finished early", i)
		}
		if len(vals) != 1 || vals[0].Tag() != value.Int || vals[0].AsInt() != expect {
			t.Fatalf("resume %d: got %v, want [%d]", i, vals, expect)
		}
		view.World.Release(vals[0])
	}

	vals, done, err := m.Resume(view, coVal, nil)
	if err != nil {
		t.Fatalf("final resume: %v", err)
	}
	if !done {
		t.Fatal("expected the coroutine to be done after its third yield")
	}
	if len(vals) != 1 || vals[0].Tag() != value.Int || vals[0].AsInt() != 99 {
		t.Fatalf("final resume: got %v, want [99]", vals)
	}
	view.World.Release(vals[0])

	status, ok := m.CoroutineStatus(coVal)
	if !ok || status != world.StatusDone {
		t.Fatalf("got status %v (ok=%v), want done", status, ok)
	}
}
