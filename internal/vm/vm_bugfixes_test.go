package vm

import (
	"testing"

	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

// Integer arithmetic that overflows int64 surfaces as a convert/overflow
// error rather than silently wrapping (spec §8 boundary behavior).
func TestIntegerOverflowIsConvertError(t *testing.T) {
	m, view, _ := newTestMachine(t)
	defer view.Release()

	prog, err := Compile("x = 9223372036854775807\ny = x + 1\n")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = m.Run(view, prog, nil)
	if err == nil {
		t.Fatal("expected an overflow error, got nil")
	}
	ue, ok := err.(*uerr.Error)
	if !ok {
		t.Fatalf("expected *uerr.Error, got %T (%v)", err, err)
	}
	if ue.Kind != uerr.KindConvert || ue.Subtype != "overflow" {
		t.Fatalf("got kind=%s subtype=%s, want convert/overflow", ue.Kind, ue.Subtype)
	}
}

// Negative string indices count from the end (spec §8: -1 is the last
// byte).
func TestNegativeStringIndex(t *testing.T) {
	m, view, buf := newTestMachine(t)
	defer view.Release()
	runScript(t, m, view, `s = "hello"
print(s[-1])
`)
	if got, want := buf.String(), "o\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// An out-of-range string index (positive or negative) is a bad-arg error,
// not a panic.
func TestStringIndexOutOfBounds(t *testing.T) {
	m, view, _ := newTestMachine(t)
	defer view.Release()
	prog, err := Compile(`s = "hi"
print(s[5])
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = m.Run(view, prog, nil)
	if err == nil {
		t.Fatal("expected an out-of-bounds error, got nil")
	}
	ue, ok := err.(*uerr.Error)
	if !ok {
		t.Fatalf("expected *uerr.Error, got %T (%v)", err, err)
	}
	if ue.Kind != uerr.KindBadArg {
		t.Fatalf("got kind=%s, want arg", ue.Kind)
	}
}

// Creating an object with itself (directly or transitively) as its own
// prototype is rejected with type/invalid-prototype (spec §8), and a
// legitimate, acyclic prototype assignment succeeds.
func TestPrototypeCycleRejected(t *testing.T) {
	w := world.New(world.DefaultConfig())
	rt := world.RuntimeOf(w)
	m := New(w)
	view := m.NewView(rt, world.Normal)
	defer view.Release()

	newObj := func() value.Value {
		return w.WakeValue(value.Object, &value.ObjectPayload{Prototype: value.NullValue()})
	}

	a := newObj()
	if err := m.SetPrototype(a, value.Copy(a)); err == nil {
		t.Fatal("expected a direct self-prototype cycle to be rejected")
	} else if ue, ok := err.(*uerr.Error); !ok || ue.Kind != uerr.KindType || ue.Subtype != "invalid-prototype" {
		t.Fatalf("got %v, want type/invalid-prototype", err)
	}

	b := newObj()
	if err := m.SetPrototype(b, value.Copy(a)); err != nil {
		t.Fatalf("expected acyclic prototype assignment to succeed, got %v", err)
	}
	if err := m.SetPrototype(a, value.Copy(b)); err == nil {
		t.Fatal("expected a transitive prototype cycle (a -> b -> a) to be rejected")
	} else if ue, ok := err.(*uerr.Error); !ok || ue.Subtype != "invalid-prototype" {
		t.Fatalf("got %v, want invalid-prototype", err)
	}

	w.Release(a)
	w.Release(b)
}
