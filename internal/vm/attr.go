package vm

import (
	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

// normalizeIndex applies spec §8's negative-index rule (counts from the
// end; the valid range is -len..len-1 for reads, -len..len for an
// append-by-assignment write) uniformly across Array/String/Blob.
func normalizeIndex(key value.Value, length int64, allowAppend bool) (int64, error) {
	if key.Tag() != value.Int {
		return 0, uerr.Type("invalid-index", "index must be an int")
	}
	idx := key.AsInt()
	if idx < 0 {
		idx += length
	}
	max := length
	if allowAppend {
		max = length + 1
	}
	if idx < 0 || idx >= max {
		return 0, uerr.BadArg("index-out-of-bounds", "index out of bounds")
	}
	return idx, nil
}

// getIndex implements `base[key]` for every indexable tag, falling back to
// the __index overload for anything else (spec §4.3).
func (m *Machine) getIndex(view *world.View, base, key value.Value) (value.Value, error) {
	switch base.Tag() {
	case value.Array:
		ap := base.Entity().Payload.(*value.ArrayPayload)
		idx, err := normalizeIndex(key, int64(len(ap.Elems)), false)
		if err != nil {
			return value.Value{}, err
		}
		return value.Copy(ap.Elems[idx]), nil
	case value.String:
		sp := base.Entity().Payload.(*value.StringPayload)
		idx, err := normalizeIndex(key, int64(len(sp.Bytes)), false)
		if err != nil {
			return value.Value{}, err
		}
		return m.newString(string(sp.Bytes[idx])), nil
	case value.Blob:
		bp := base.Entity().Payload.(*value.BlobPayload)
		idx, err := normalizeIndex(key, int64(len(bp.Bytes)), false)
		if err != nil {
			return value.Value{}, err
		}
		return value.IntValue(int64(bp.Bytes[idx])), nil
	case value.Table:
		dp := base.Entity().Payload.(*value.DictPayload)
		if v, ok := dp.Table.Get(key); ok {
			return value.Copy(v), nil
		}
		return value.NullValue(), nil
	case value.Object:
		op := base.Entity().Payload.(*value.ObjectPayload)
		if keyStr, ok := asGoString(key); ok {
			if v, ok := op.Table.Get(keyStr); ok {
				return value.Copy(v), nil
			}
		}
		if fn, ok := m.getAttr(base, value.OverloadIndex); ok {
			res, err := m.invoke(view, fn, []value.Value{value.Copy(base), value.Copy(key)})
			return first(res), err
		}
		return value.Value{}, uerr.Type("no-such-index", "object has no such key")
	default:
		if fn, ok := m.getAttr(base, value.OverloadIndex); ok {
			res, err := m.invoke(view, fn, []value.Value{value.Copy(base), value.Copy(key)})
			return first(res), err
		}
		return value.Value{}, uerr.Type("not-indexable", base.Tag().String()+" is not indexable")
	}
}

// setIndex implements `base[key] = val` (spec §4.3), falling back to the
// __newindex overload for Objects/Opaques that declare one.
func (m *Machine) setIndex(view *world.View, base, key, val value.Value) error {
	switch base.Tag() {
	case value.Array:
		ap := base.Entity().Payload.(*value.ArrayPayload)
		idx, err := normalizeIndex(key, int64(len(ap.Elems)), true)
		if err != nil {
			view.World.Release(val)
			return err
		}
		if idx == int64(len(ap.Elems)) {
			ap.Elems = append(ap.Elems, val)
			return nil
		}
		view.World.Release(ap.Elems[idx])
		ap.Elems[idx] = val
		return nil
	case value.Blob:
		bp := base.Entity().Payload.(*value.BlobPayload)
		idx, err := normalizeIndex(key, int64(len(bp.Bytes)), true)
		if err != nil {
			view.World.Release(val)
			return err
		}
		if val.Tag() != value.Int {
			view.World.Release(val)
			return uerr.Type("invalid-value", "blob element must be an int")
		}
		b := byte(val.AsInt())
		if idx == int64(len(bp.Bytes)) {
			bp.Bytes = append(bp.Bytes, b)
		} else {
			bp.Bytes[idx] = b
		}
		return nil
	case value.Table:
		dp := base.Entity().Payload.(*value.DictPayload)
		dp.Table.Set(key, val)
		return nil
	case value.Object:
		op := base.Entity().Payload.(*value.ObjectPayload)
		if op.Frozen {
			view.World.Release(val)
			return uerr.Logic("frozen-object", "object is frozen")
		}
		if keyStr, ok := asGoString(key); ok {
			if fn, ok := m.getAttr(base, value.OverloadNewIdx); ok {
				if _, exists := op.Table.Get(keyStr); !exists {
					_, err := m.invoke(view, fn, []value.Value{value.Copy(base), value.Copy(key), val})
					return err
				}
			}
			op.Table.Set(keyStr, val)
			return nil
		}
		view.World.Release(val)
		return uerr.Type("invalid-index", "object index must be a string")
	default:
		if fn, ok := m.getAttr(base, value.OverloadNewIdx); ok {
			_, err := m.invoke(view, fn, []value.Value{value.Copy(base), value.Copy(key), val})
			return err
		}
		view.World.Release(val)
		return uerr.Type("not-indexable", base.Tag().String()+" does not support index assignment")
	}
}

// delIndex implements `delete base[key]` for Array (remove+shift) and Table
// (hash delete); other tags don't support deletion by index.
func (m *Machine) delIndex(base, key value.Value) error {
	switch base.Tag() {
	case value.Array:
		ap := base.Entity().Payload.(*value.ArrayPayload)
		idx, err := normalizeIndex(key, int64(len(ap.Elems)), false)
		if err != nil {
			return err
		}
		m.World.Release(ap.Elems[idx])
		ap.Elems = append(ap.Elems[:idx], ap.Elems[idx+1:]...)
		return nil
	case value.Table:
		dp := base.Entity().Payload.(*value.DictPayload)
		dp.Table.Delete(key)
		return nil
	default:
		return uerr.Type("not-indexable", base.Tag().String()+" does not support deletion by index")
	}
}

// setAttr implements `base.name = val` (spec §4.3 invariant 2: frozen
// objects reject every attribute write).
func (m *Machine) setAttr(view *world.View, base value.Value, name string, val value.Value) error {
	if base.Tag() != value.Object {
		view.World.Release(val)
		return uerr.Type("no-attributes", base.Tag().String()+" has no attributes")
	}
	op := base.Entity().Payload.(*value.ObjectPayload)
	if op.Frozen {
		view.World.Release(val)
		return uerr.Logic("frozen-object", "object is frozen")
	}
	op.Table.Set(name, val)
	return nil
}

// delAttr implements `delete base.name`.
func (m *Machine) delAttr(base value.Value, name string) error {
	if base.Tag() != value.Object {
		return uerr.Type("no-attributes", base.Tag().String()+" has no attributes")
	}
	op := base.Entity().Payload.(*value.ObjectPayload)
	if op.Frozen {
		return uerr.Logic("frozen-object", "object is frozen")
	}
	op.Table.Delete(name)
	return nil
}

// describeThrown renders a thrown value for an exception's message field
// when no explicit message is otherwise available (spec §7's user-visible
// `<type>: <message>` form).
func describeThrown(v value.Value) string {
	if s, ok := asGoString(v); ok {
		return s
	}
	if v.Tag() == value.Object {
		op := v.Entity().Payload.(*value.ObjectPayload)
		if mv, ok := op.Table.Get("message"); ok {
			if s, ok := asGoString(mv); ok {
				return s
			}
		}
	}
	return v.Tag().String()
}

// errorToException converts a propagating Go error into the Value a catch
// handler observes (spec §7: "native functions return an error kind; the
// VM converts it to an exception value unless it already is one"). An
// explicit throw's uerr.Exception already carries the user's own value, so
// it passes through unwrapped rather than getting re-boxed.
func (m *Machine) errorToException(view *world.View, err error) value.Value {
	ue, ok := err.(*uerr.Error)
	if ok && ue.Value != nil {
		if v, ok := ue.Value.(value.Value); ok {
			return v
		}
	}
	kind, subtype, message := "exception", "", err.Error()
	if ok {
		kind, subtype, message = ue.Kind.String(), ue.Subtype, ue.Message
	}
	typ := kind
	if subtype != "" {
		typ = kind + "/" + subtype
	}
	op := &value.ObjectPayload{Prototype: value.NullValue()}
	op.Table.Set("type", m.newString(typ))
	op.Table.Set("message", m.newString(message))
	return view.World.WakeValue(value.Object, op)
}

// SetPrototype installs proto as obj's prototype, rejecting a direct or
// transitive cycle (spec §8: "Creating an object with itself as a prototype
// ... is rejected with type/invalid-prototype"). obj must be an Object;
// proto must be Null or an Object.
func (m *Machine) SetPrototype(obj, proto value.Value) error {
	if obj.Tag() != value.Object {
		return uerr.Type("invalid-prototype", "prototype target must be an object")
	}
	if proto.Tag() != value.Null && proto.Tag() != value.Object {
		return uerr.Type("invalid-prototype", "prototype must be null or an object")
	}
	objEntity := obj.Entity()
	for cur := proto; cur.Tag() == value.Object; {
		if cur.Entity() == objEntity {
			return uerr.Type("invalid-prototype", "prototype chain would cycle back to the object itself")
		}
		cur = cur.Entity().Payload.(*value.ObjectPayload).Prototype
	}
	op := obj.Entity().Payload.(*value.ObjectPayload)
	old := op.Prototype
	op.Prototype = value.Copy(proto)
	m.World.Release(old)
	return nil
}
