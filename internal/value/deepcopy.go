package value

import "uncil/internal/container"

// DeepCopy implements the `deepcopy` builtin's structural copy of a
// pure-data value (spec §8 round-trip property: "deepcopy of a pure-data
// value... compares equal to the original under structural equality").
// Opaques and Functions have no well-defined structural copy (a native
// destructor or a closure's capture cells can't be duplicated), so those
// tags pass through as an ordinary refcounted Copy rather than a clone.
func DeepCopy(w *World, v Value) Value {
	switch v.tag {
	case Array:
		p := v.e.Payload.(*ArrayPayload)
		elems := make([]Value, len(p.Elems))
		for i, e := range p.Elems {
			elems[i] = DeepCopy(w, e)
		}
		return w.WakeValue(Array, &ArrayPayload{Elems: elems})
	case Table:
		p := v.e.Payload.(*DictPayload)
		var out DictPayload
		p.Table.Each(func(k container.Hashable, val Value) {
			out.Table.Set(k, DeepCopy(w, val))
		})
		return w.WakeValue(Table, &out)
	case Object:
		p := v.e.Payload.(*ObjectPayload)
		out := &ObjectPayload{Prototype: Copy(p.Prototype), Frozen: p.Frozen}
		p.Table.Each(func(k string, val Value) {
			out.Table.Set(k, DeepCopy(w, val))
		})
		return w.WakeValue(Object, out)
	default:
		return Copy(v)
	}
}

// StructEqual implements the structural equality DeepCopy's round-trip
// property is checked against: scalars and strings compare by Equal,
// arrays/dicts/objects recurse over their elements, everything else
// (Opaque, Function, BoundFunction, Ref, WeakRef) falls back to entity
// identity since they have no data-only representation to compare.
func StructEqual(a, b Value) bool {
	if a.tag != b.tag {
		if (a.tag == Int || a.tag == Float) && (b.tag == Int || b.tag == Float) {
			return Equal(a, b)
		}
		return false
	}
	switch a.tag {
	case Array:
		ap, bp := a.e.Payload.(*ArrayPayload), b.e.Payload.(*ArrayPayload)
		if len(ap.Elems) != len(bp.Elems) {
			return false
		}
		for i := range ap.Elems {
			if !StructEqual(ap.Elems[i], bp.Elems[i]) {
				return false
			}
		}
		return true
	case Table:
		ap, bp := a.e.Payload.(*DictPayload), b.e.Payload.(*DictPayload)
		if ap.Table.Len() != bp.Table.Len() {
			return false
		}
		eq := true
		ap.Table.Each(func(k container.Hashable, av Value) {
			bv, ok := bp.Table.Get(k)
			if !ok || !StructEqual(av, bv) {
				eq = false
			}
		})
		return eq
	case Object:
		ap, bp := a.e.Payload.(*ObjectPayload), b.e.Payload.(*ObjectPayload)
		if ap.Table.Len() != bp.Table.Len() {
			return false
		}
		eq := StructEqual(ap.Prototype, bp.Prototype)
		ap.Table.Each(func(k string, av Value) {
			bv, ok := bp.Table.Get(k)
			if !ok || !StructEqual(av, bv) {
				eq = false
			}
		})
		return eq
	default:
		return Equal(a, b)
	}
}
