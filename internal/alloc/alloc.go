// Package alloc implements the single, purpose-tagged allocator that every
// other component requests memory through.
//
// A hosted Go port has no need to hand-roll malloc: the runtime allocator
// already does the hard part. What we keep from the C original is the
// *shape* of the contract — one polymorphic entry point, a purpose tag that
// is advisory only, and wrappers that behave identically whether the
// embedder supplied a custom backend or not. This lets an embedder plug in a
// pooling or arena backend (for, say, short-lived coroutine fibers) without
// the rest of the core caring.
package alloc

import "fmt"

// Purpose hints which subsystem is requesting memory. The tag is advisory:
// the default backend ignores it, but an embedder-supplied backend may use
// it to route allocations to different pools.
type Purpose uint8

const (
	Other Purpose = iota
	PEntity
	PString
	PArray
	PDict
	PObject
	POpaque
	PBlob
	PFunction
	PExternal
)

func (p Purpose) String() string {
	switch p {
	case PEntity:
		return "entity"
	case PString:
		return "string"
	case PArray:
		return "array"
	case PDict:
		return "dict"
	case PObject:
		return "object"
	case POpaque:
		return "opaque"
	case PBlob:
		return "blob"
	case PFunction:
		return "function"
	case PExternal:
		return "external"
	default:
		return "other"
	}
}

// Func is the single polymorphic allocation primitive. oldSize==0 requests a
// fresh block of newSize bytes. newSize==0 frees ptr. Otherwise it resizes
// ptr from oldSize to newSize, preserving the overlapping prefix.
//
// Implementations must tolerate a nil ptr when oldSize==0, and must not free
// ptr if a resize fails (returns nil with newSize!=0).
type Func func(udata interface{}, purpose Purpose, oldSize, newSize int, ptr []byte) []byte

// Allocator bundles a Func with its user data and a best-effort byte
// counter. The counter is advisory bookkeeping only, never consulted for
// correctness.
type Allocator struct {
	Fn     Func
	UData  interface{}
	total  int64
}

// Default returns the allocator backed directly by the Go runtime.
func Default() *Allocator {
	return &Allocator{Fn: defaultFunc}
}

func defaultFunc(_ interface{}, _ Purpose, oldSize, newSize int, ptr []byte) []byte {
	if newSize == 0 {
		return nil
	}
	if oldSize == 0 || ptr == nil {
		return make([]byte, newSize)
	}
	out := make([]byte, newSize)
	n := oldSize
	if newSize < n {
		n = newSize
	}
	copy(out, ptr[:n])
	return out
}

// Alloc requests newSize fresh, zero-initialized bytes.
func (a *Allocator) Alloc(purpose Purpose, newSize int) []byte {
	out := a.Fn(a.UData, purpose, 0, newSize, nil)
	a.total += int64(newSize)
	return out
}

// Free releases ptr, which was allocated with the given purpose and size.
func (a *Allocator) Free(purpose Purpose, size int, ptr []byte) {
	a.Fn(a.UData, purpose, size, 0, ptr)
	a.total -= int64(size)
}

// Resize grows or shrinks ptr from oldSize to newSize. A newSize of 0 frees.
func (a *Allocator) Resize(purpose Purpose, oldSize, newSize int, ptr []byte) []byte {
	out := a.Fn(a.UData, purpose, oldSize, newSize, ptr)
	a.total += int64(newSize - oldSize)
	return out
}

// TotalBytes reports the advisory running total. Not consulted by any
// correctness-sensitive path — purely for embedder telemetry.
func (a *Allocator) TotalBytes() int64 { return a.total }

// Typed allocates count*elemSize bytes, detecting overflow the way the
// malloc-array helpers in the C original do.
func (a *Allocator) Typed(purpose Purpose, count, elemSize int) ([]byte, error) {
	if count < 0 || elemSize < 0 {
		return nil, fmt.Errorf("alloc: negative size")
	}
	if count != 0 && elemSize != 0 && count > (1<<62)/elemSize {
		return nil, fmt.Errorf("alloc: size overflow (%d * %d)", count, elemSize)
	}
	return a.Alloc(purpose, count*elemSize), nil
}
