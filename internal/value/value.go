// Package value implements the tagged Value variant and the heap Entity
// records it points at (spec §3 "Value", "Entity").
//
// The C original packs every case into a C union and reference-counts the
// payload by hand. Go already gives us a GC, but the language still needs
// its *own* deterministic refcount so that `with`-scoped resources and
// finalizers run exactly once at a predictable point rather than whenever
// the Go collector feels like it (see internal/gc). We therefore keep an
// explicit Entity graph: Value is a small tagged struct, compound Values
// carry a pointer to an Entity, and Entity payloads are plain Go structs
// reached through a type switch instead of a C union.
package value

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Tag identifies which variant a Value holds.
type Tag uint8

const (
	Null Tag = iota
	Bool
	Int
	Float
	String
	Blob
	Array
	Table
	Object
	Opaque
	Function
	BoundFunction
	Ref
	WeakRef
)

func (t Tag) String() string {
	switch t {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Blob:
		return "blob"
	case Array:
		return "array"
	case Table:
		return "table"
	case Object:
		return "object"
	case Opaque:
		return "opaque"
	case Function:
		return "function"
	case BoundFunction:
		return "function"
	case Ref:
		return "ref"
	case WeakRef:
		return "weakref"
	default:
		return "unknown"
	}
}

// Value is the tagged variant passed around by the VM. Scalars carry their
// payload inline (i/f; a Bool is stored in i); compound tags carry a pointer into the Entity
// graph. The zero Value is Null.
type Value struct {
	tag Tag
	i   int64
	f   float64
	e   *Entity
}

func Blank() Value                 { return Value{tag: Null} }
func NullValue() Value             { return Value{tag: Null} }
func BoolValue(b bool) Value       { var i int64; if b { i = 1 }; return Value{tag: Bool, i: i} }
func IntValue(n int64) Value       { return Value{tag: Int, i: n} }
func FloatValue(f float64) Value   { return Value{tag: Float, f: f} }

func EntityValue(tag Tag, e *Entity) Value {
	if e != nil {
		e.Retain()
	}
	return Value{tag: tag, e: e}
}

// adopt wraps e (already at refcount 1 from creation) without an extra
// Retain — used right after Wake() for values that take ownership outright.
func adopt(tag Tag, e *Entity) Value { return Value{tag: tag, e: e} }

// AdoptValue wraps an already-held entity reference (e.g. one a CallFrame's
// Closure field has been carrying) into a Value without retaining again, so
// the caller can hand it to World.Release to drop the reference it already
// owns instead of leaking it.
func AdoptValue(tag Tag, e *Entity) Value { return adopt(tag, e) }

func (v Value) Tag() Tag        { return v.tag }
func (v Value) IsNull() bool    { return v.tag == Null }
func (v Value) AsBool() bool    { return v.i != 0 }
func (v Value) AsInt() int64    { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) Entity() *Entity { return v.e }

func (v Value) Truthy() bool {
	switch v.tag {
	case Null:
		return false
	case Bool:
		return v.i != 0
	case Int:
		return v.i != 0
	case Float:
		return v.f != 0
	default:
		return true
	}
}

// Copy increments the refcount on src's entity (if any) and returns a value
// referring to the same payload. Mirrors spec §4.2 copy().
func Copy(src Value) Value {
	if src.e != nil {
		src.e.Retain()
	}
	return src
}

// Move transfers ownership without touching the refcount, blanking src.
// Callers must not use *src after Move.
func Move(src *Value) Value {
	out := *src
	*src = Value{}
	return out
}

// Clear drops dst's reference (if any) and blanks it.
func Clear(dst *Value) {
	if dst.e != nil {
		dst.e.Release()
	}
	*dst = Value{}
}

// Equal implements the hashing/equality operator of spec §4.2.
func Equal(a, b Value) bool {
	if a.tag == Null && b.tag == Null {
		return true
	}
	if a.tag == Bool && b.tag == Bool {
		return a.i == b.i
	}
	if (a.tag == Int || a.tag == Float) && (b.tag == Int || b.tag == Float) {
		af, bf := numAsFloat(a), numAsFloat(b)
		if math.IsNaN(af) || math.IsNaN(bf) {
			return false
		}
		return af == bf
	}
	if a.tag == String && b.tag == String {
		as, bs := a.e.Payload.(*StringPayload), b.e.Payload.(*StringPayload)
		return as.Bytes == bs.Bytes
	}
	if a.tag != b.tag {
		return false
	}
	return a.e == b.e
}

func numAsFloat(v Value) float64 {
	if v.tag == Int {
		return float64(v.i)
	}
	return v.f
}

// hashIntMul and hashStrSeed/hashStrMul are the fixed constants of spec
// §4.2's mixer, ground on uhash.c's unc0_hashint/unc0_hashptr/unc0_hashstr:
// integers and pointers are multiplied by a fixed large prime, strings are
// hashed by rotating a seed left 11 bits and xoring in one byte per stride,
// with the stride growing proportionally to the length, then multiplying
// once by a second prime after the loop. All arithmetic is 32-bit and
// wraps the way the original's `unsigned` does.
const (
	hashIntMul  uint32 = 2600201173
	hashStrSeed uint32 = 2857740885
	hashStrMul  uint32 = 3690348479
)

// Hash implements spec §4.2's mixer: integers and pointer-identity values
// via a fixed large-prime multiplier, floats re-interpreted as bytes and
// hashed as a string, strings via a rotate-and-xor stride proportional to
// length.
func Hash(v Value) uint64 {
	switch v.tag {
	case Null:
		return 0
	case Bool:
		return uint64(uint32(v.i) * hashIntMul)
	case Int:
		return uint64(hashInt(v.i))
	case Float:
		bits := math.Float64bits(v.f)
		return uint64(hashBytes(u64ToBytes(bits)))
	case String:
		return uint64(hashBytes([]byte(v.e.Payload.(*StringPayload).Bytes)))
	default:
		return uint64(hashPtr(ptrOf(v.e)))
	}
}

func hashInt(i int64) uint32 { return uint32(i) * hashIntMul }

func hashPtr(p unsafe.Pointer) uint32 { return uint32(uintptr(p)) * hashIntMul }

func u64ToBytes(u uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return b
}

func rotl32(x uint32, n uint) uint32 { return x<<n | x>>(32-n) }

// hashBytes is unc0_hashstr: rotate-left-11 then xor with the byte at a
// stride of ((3*n)>>6)+1, then one final multiply by hashStrMul.
func hashBytes(b []byte) uint32 {
	n := len(b)
	z := ((3*n)>>6 + 1)
	x := hashStrSeed
	for i := 0; i < n; i += z {
		x = rotl32(x, 11) ^ uint32(b[i])
	}
	return x * hashStrMul
}

// Overload attribute names looked up on prototypes/objects before an
// operator falls back to a type error. Kept closed and documented per
// spec §9.
const (
	OverloadAdd    = "__add"
	OverloadSub    = "__sub"
	OverloadMul    = "__mul"
	OverloadDiv    = "__div"
	OverloadMod    = "__mod"
	OverloadUnm    = "__unm"
	OverloadEq     = "__eq"
	OverloadLt     = "__lt"
	OverloadLe     = "__le"
	OverloadIndex  = "__index"
	OverloadNewIdx = "__newindex"
	OverloadCall   = "__call"
	OverloadName   = "__name"
	OverloadClose  = "__close"
	OverloadIter   = "__iter"
)

// atomicIncr/atomicDecr are tiny helpers kept here so Entity (below) reads
// cleanly without importing sync/atomic twice.
func atomicIncr(p *int32) int32 { return atomic.AddInt32(p, 1) }
func atomicDecr(p *int32) int32 { return atomic.AddInt32(p, -1) }

// Hash and EqualKey let Value satisfy container.Hashable so ValueTable
// (internal/container) never needs to import this package back.
func (v Value) Hash() uint64 { return Hash(v) }

func (v Value) EqualKey(other interface{}) bool {
	ov, ok := other.(Value)
	if !ok {
		return false
	}
	return Equal(v, ov)
}
