package vm

import (
	"testing"

	"uncil/internal/value"
	"uncil/internal/world"
)

// A SubDaemon spawn runs concurrently with its resumer and is joined through
// Runtime.WaitDaemons rather than the returned handle (spec §5: a daemon
// sub-view doesn't block process exit, but an embedder can still wait for
// it at shutdown).
func TestSpawnSubDaemonJoinsViaWaitDaemons(t *testing.T) {
	w := world.New(world.DefaultConfig())
	rt := world.RuntimeOf(w)
	m := New(w)

	view := m.NewView(rt, world.Normal)
	defer view.Release()

	prog, err := Compile(`function body(n)
  return n + 1
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
	body := results[0]
	defer view.World.Release(body)

	h, err := m.Spawn(view, world.SubDaemon, value.Copy(body), []value.Value{value.IntValue(41)})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := rt.WaitDaemons(); err != nil {
		t.Fatalf("WaitDaemons: %v", err)
	}

	vals, err := h.Join()
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(vals) != 1 || vals[0].Tag() != value.Int || vals[0].AsInt() != 42 {
		t.Fatalf("got %v, want [42]", vals)
	}
	view.World.Release(vals[0])
}

// A plain Sub spawn is joined through its SpawnHandle directly.
func TestSpawnSubJoinsViaHandle(t *testing.T) {
	w := world.New(world.DefaultConfig())
	rt := world.RuntimeOf(w)
	m := New(w)

	view := m.NewView(rt, world.Normal)
	defer view.Release()

	prog, err := Compile(`function body(n)
  return n * 2
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
	body := results[0]
	defer view.World.Release(body)

	h, err := m.Spawn(view, world.Sub, value.Copy(body), []value.Value{value.IntValue(21)})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	vals, err := h.Join()
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(vals) != 1 || vals[0].Tag() != value.Int || vals[0].AsInt() != 42 {
		t.Fatalf("got %v, want [42]", vals)
	}
	view.World.Release(vals[0])
}

// Spawning with an invalid Kind is rejected without leaking the target/args.
func TestSpawnRejectsNormalKind(t *testing.T) {
	w := world.New(world.DefaultConfig())
	rt := world.RuntimeOf(w)
	m := New(w)

	view := m.NewView(rt, world.Normal)
	defer view.Release()

	prog, err := Compile(`function body()
  return 1
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
	body := results[0]
	defer view.World.Release(body)

	if _, err := m.Spawn(view, world.Normal, value.Copy(body), nil); err == nil {
		t.Fatal("expected an error spawning with world.Normal")
	}
}
