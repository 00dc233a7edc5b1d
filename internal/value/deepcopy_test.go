package value

import (
	"testing"

	"github.com/kr/pretty"

	"uncil/internal/alloc"
)

// TestDeepCopyStructuralEquality exercises spec §8's round-trip property:
// deepcopy of a pure-data value compares equal to the original under
// structural equality, and hash(x) == hash(copy(x)) for hashable x.
func TestDeepCopyStructuralEquality(t *testing.T) {
	w := NewWorld(alloc.Default())

	inner := w.WakeValue(Array, &ArrayPayload{Elems: []Value{
		IntValue(1), IntValue(2), IntValue(3),
	}})
	var dict DictPayload
	dict.Table.Set(IntValue(1), FloatValue(1.5))
	dict.Table.Set(IntValue(2), inner)
	outer := w.WakeValue(Table, &dict)

	clone := DeepCopy(w, outer)
	defer w.Release(outer)
	defer w.Release(clone)

	if !StructEqual(outer, clone) {
		t.Fatalf("deepcopy not structurally equal:\n%# v\nvs\n%# v", pretty.Formatter(outer), pretty.Formatter(clone))
	}

	// The clone must not alias the original's nested array: mutating one
	// leaves the other untouched.
	origInner, _ := dict.Table.Get(IntValue(2))
	clonePayload := clone.e.Payload.(*DictPayload)
	cloneInner, _ := clonePayload.Table.Get(IntValue(2))
	if origInner.Entity() == cloneInner.Entity() {
		t.Fatal("deepcopy aliased the nested array instead of cloning it")
	}

	hashable := IntValue(42)
	hashableClone := DeepCopy(w, hashable)
	if Hash(hashable) != Hash(hashableClone) {
		t.Fatalf("hash(x) != hash(copy(x)): %d vs %d", Hash(hashable), Hash(hashableClone))
	}
}
