// Package vm implements the register-based dispatch loop of spec §4.7: it
// walks a compiled program.Program's packed bytecode one instruction at a
// time against a world.View's registers/stacks, delegating arithmetic
// (internal/vm/arith.go), register/capture access (internal/vm/registers.go)
// and call-frame management (internal/vm/call.go) to the helpers those files
// already implement.
package vm

import (
	"uncil/internal/value"
	"uncil/internal/world"
)

// Machine is the embedder's handle onto one execution core instance: the
// World it dispatches against, shared by every View the embedder spawns.
// Unlike a View (one thread of control), a Machine has no mutable state of
// its own — it exists so the dispatch loop's many helper methods have a
// receiver without having to thread *value.World through every call.
type Machine struct {
	World *value.World
}

// New creates a Machine bound to w. One Machine can safely run many Views
// concurrently (each View owns its own registers/stacks; the only shared
// state, w, is already internally synchronized).
func New(w *value.World) *Machine {
	return &Machine{World: w}
}

// NewView creates a view under rt and wires its __close invocation back
// through m, so PushWith/PopWith's exception-unwind path can actually call
// user-level code (world.View stays free of a dependency on the dispatch
// loop that would otherwise require).
func (m *Machine) NewView(rt *world.Runtime, kind world.Kind) *world.View {
	v := rt.NewView(kind)
	v.SetCloser(func(val value.Value) { m.closeValue(v, val) })
	return v
}

// getAttr resolves name against v: an Object checks its own table first,
// then its prototype chain; an Opaque and every scalar tag go straight to
// the tag's chain (World.Prototypes for scalars, the Opaque's own
// Prototype field otherwise). Returned values are new owned references.
func (m *Machine) getAttr(v value.Value, name string) (value.Value, bool) {
	switch v.Tag() {
	case value.Object:
		op := v.Entity().Payload.(*value.ObjectPayload)
		if val, ok := op.Table.Get(name); ok {
			return value.Copy(val), true
		}
		return m.getAttrProto(op.Prototype, name)
	case value.Opaque:
		op := v.Entity().Payload.(*value.OpaquePayload)
		return m.getAttrProto(op.Prototype, name)
	default:
		proto, ok := m.World.Prototypes[v.Tag()]
		if !ok {
			return value.Value{}, false
		}
		return m.getAttrProto(proto, name)
	}
}

// getAttrProto walks an Object prototype chain looking for name. Prototypes
// are themselves plain Objects (spec §4.3: "a prototype is just another
// object"), so this never needs to recurse into getAttr itself.
func (m *Machine) getAttrProto(proto value.Value, name string) (value.Value, bool) {
	for proto.Tag() == value.Object {
		op := proto.Entity().Payload.(*value.ObjectPayload)
		if val, ok := op.Table.Get(name); ok {
			return value.Copy(val), true
		}
		proto = op.Prototype
	}
	return value.Value{}, false
}

// closeValue invokes val's __close overload, if any, ignoring the case
// where it has none (not every with-scoped value needs cleanup). Used only
// from the exception-unwind path (world.View.SetCloser); OpWithPop's normal
// exit builds its own error-propagating closer inline (see dispatch.go).
func (m *Machine) closeValue(view *world.View, val value.Value) {
	fn, ok := m.getAttr(val, value.OverloadClose)
	if !ok {
		return
	}
	m.invoke(view, fn, []value.Value{value.Copy(val)})
}

// writeResult delivers a native call's result slice to returnReg (the
// first value only, mirroring doReturn's register path in call.go), or
// discards everything if returnReg is negative.
func (m *Machine) writeResult(view *world.View, values []value.Value, returnReg int) {
	var result value.Value
	if len(values) > 0 {
		result = values[0]
	}
	for i := 1; i < len(values); i++ {
		view.World.Release(values[i])
	}
	if returnReg < 0 {
		view.World.Release(result)
		return
	}
	view.World.Release(view.Registers[returnReg])
	view.Registers[returnReg] = result
}
