// Package gc implements the secondary cycle-detecting pass spec §4.8
// describes: reference counting (internal/value.World.Release) already
// frees everything acyclic the instant its last reference drops; this pass
// exists only to catch reference cycles reference counting can never see
// on its own (an Object whose prototype chain loops back through an
// Array that holds it, a closure's capture cell pointing at a function
// that in turn captures it).
package gc

import (
	"uncil/internal/container"
	"uncil/internal/value"
	"uncil/internal/world"
)

// Stats summarizes one Collect pass, returned so an embedder can decide
// whether to tune Config.GCEntityTrigger.
type Stats struct {
	Scanned   int64
	Marked    int64
	Collected int64
}

// Collect walks every live view's roots, marks everything transitively
// reachable, then sweeps every unmarked entity. Safe to call at any point
// between dispatch-loop iterations — it never runs while a view's register
// file or stacks are in an inconsistent state because the VM only yields
// control back to the embedder (who calls Collect) at instruction
// boundaries.
func Collect(w *value.World) Stats {
	rt := world.RuntimeOf(w)

	m := &marker{marked: make(map[*value.Entity]bool)}

	rt.EachView(func(v *world.View) {
		for _, r := range v.Registers {
			m.value(r)
		}
		for _, s := range v.Stack {
			m.value(s)
		}
		for _, wf := range v.Withs {
			m.value(wf.Value)
		}
		for _, frame := range v.Calls {
			m.entity(frame.Closure)
		}
		m.value(v.Exception)
	})

	w.PublicMu.RLock()
	w.Public.Each(func(_ string, val value.Value) {
		m.value(val)
	})
	w.PublicMu.RUnlock()

	for _, proto := range w.Prototypes {
		m.value(proto)
	}

	var stats Stats
	var dead []*value.Entity
	w.EachEntity(func(e *value.Entity) {
		stats.Scanned++
		if !m.marked[e] {
			dead = append(dead, e)
		}
	})

	for _, e := range dead {
		// The entity is unreachable from any root; its remaining refcount
		// (if any) comes entirely from other entities in the same dead set,
		// so it's safe to hibernate directly rather than going through
		// World.Release's refcount check.
		w.Hibernate(e)
		stats.Collected++
	}

	stats.Marked = int64(len(m.marked))
	return stats
}

// ShouldCollect applies the entity-count heuristic spec §4.8 calls for:
// an embedder driving its own GC schedule checks this after binding
// operations that create lots of entities (e.g. a tight loop appending to
// an array).
func ShouldCollect(w *value.World, cfg world.Config) bool {
	if cfg.GCEntityTrigger <= 0 {
		return false
	}
	return w.EntityCount() >= cfg.GCEntityTrigger
}

// marker walks the entity graph without ever going through Value's
// refcounting constructors — Collect must never perturb a live refcount,
// only read Entity.Payload and follow pointers.
type marker struct {
	marked map[*value.Entity]bool
}

func (m *marker) value(v value.Value) { m.entity(v.Entity()) }

func (m *marker) entity(e *value.Entity) {
	if e == nil || m.marked[e] {
		return
	}
	m.marked[e] = true

	switch p := e.Payload.(type) {
	case *value.ArrayPayload:
		for _, elem := range p.Elems {
			m.value(elem)
		}
	case *value.DictPayload:
		p.Table.Each(func(_ container.Hashable, val value.Value) {
			m.value(val)
		})
	case *value.ObjectPayload:
		p.Table.Each(func(_ string, val value.Value) {
			m.value(val)
		})
		m.value(p.Prototype)
	case *value.OpaquePayload:
		for _, b := range p.Bound {
			m.value(b)
		}
		m.value(p.Prototype)
	case *value.FunctionPayload:
		for _, d := range p.Defaults {
			m.value(d)
		}
		for _, ref := range p.Refs {
			m.entity(ref)
		}
	case *value.BoundFunctionPayload:
		m.value(p.Callable)
		m.value(p.Receiver)
	case *value.RefPayload:
		m.value(p.Slot)
	}
}
