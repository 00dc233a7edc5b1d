package container

import (
	"fmt"
	"testing"
)

func keyFor(i int) string { return fmt.Sprintf("key-%06d", i) }

// Inserting 10,000 distinct string keys round-trips every value and leaves
// the table at a power-of-two bucket count (spec §8 boundary: hash-table
// growth must preserve both).
func TestByteTableGrowsWithManyKeys(t *testing.T) {
	var tbl ByteTable[int]
	const n = 10000
	for i := 0; i < n; i++ {
		tbl.Set(keyFor(i), i)
	}
	if tbl.Len() != n {
		t.Fatalf("Len() = %d, want %d", tbl.Len(), n)
	}
	for i := 0; i < n; i++ {
		v, ok := tbl.Get(keyFor(i))
		if !ok || v != i {
			t.Fatalf("key %q: got (%d, %v), want (%d, true)", keyFor(i), v, ok, i)
		}
	}
	if cap := len(tbl.buckets); cap&(cap-1) != 0 {
		t.Fatalf("bucket count %d is not a power of two", cap)
	}
}

// Deleting every key back out shrinks the table and leaves it empty.
func TestByteTableDeleteRoundTrip(t *testing.T) {
	var tbl ByteTable[int]
	const n = 2000
	for i := 0; i < n; i++ {
		tbl.Set(keyFor(i), i)
	}
	for i := 0; i < n; i++ {
		if !tbl.Delete(keyFor(i)) {
			t.Fatalf("Delete(%q) = false, want true", keyFor(i))
		}
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after deleting every key", tbl.Len())
	}
	if _, ok := tbl.Get(keyFor(0)); ok {
		t.Fatal("Get found a key after every key was deleted")
	}
}

// intKey is a minimal Hashable so ValueTable can be exercised without
// pulling in internal/value (which would make this an import cycle: value
// already depends on container).
type intKey int

func (k intKey) Hash() uint64 { return uint64(k) * 0x9E3779B97F4A7C15 }
func (k intKey) EqualKey(other interface{}) bool {
	o, ok := other.(intKey)
	return ok && o == k
}

func TestValueTableGrowsWithManyKeys(t *testing.T) {
	var tbl ValueTable[string]
	const n = 10000
	for i := 0; i < n; i++ {
		tbl.Set(intKey(i), keyFor(i))
	}
	if tbl.Len() != n {
		t.Fatalf("Len() = %d, want %d", tbl.Len(), n)
	}
	for i := 0; i < n; i++ {
		v, ok := tbl.Get(intKey(i))
		if !ok || v != keyFor(i) {
			t.Fatalf("key %d: got (%q, %v), want (%q, true)", i, v, ok, keyFor(i))
		}
	}
	if cap := len(tbl.buckets); cap&(cap-1) != 0 {
		t.Fatalf("bucket count %d is not a power of two", cap)
	}
}
