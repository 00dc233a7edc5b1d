package vm

import (
	"math"

	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

func numeric(v value.Value) bool { t := v.Tag(); return t == value.Int || t == value.Float }

func asFloat(v value.Value) float64 {
	if v.Tag() == value.Int {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

func addOverflows(a, b int64) bool {
	s := a + b
	return ((a ^ s) & (b ^ s)) < 0
}

func subOverflows(a, b int64) bool {
	s := a - b
	return ((a ^ b) & (a ^ s)) < 0
}

func mulOverflows(a, b int64) bool {
	if a == 0 || b == 0 {
		return false
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return true
	}
	r := a * b
	return r/b != a
}

func overflowErr(op string) error {
	return uerr.Convert("overflow", "integer "+op+" overflowed")
}

func (m *Machine) newString(s string) value.Value {
	return m.World.WakeValue(value.String, &value.StringPayload{Bytes: s})
}

func asGoString(v value.Value) (string, bool) {
	if v.Tag() != value.String {
		return "", false
	}
	return v.Entity().Payload.(*value.StringPayload).Bytes, true
}

// binaryOverload tries a's then b's attribute table/prototype for name
// (spec §4.2's "left-operand-first" resolution order), calling it as
// fn(a, b) if found.
func (m *Machine) binaryOverload(view *world.View, name string, a, b value.Value) (value.Value, bool, error) {
	if fn, ok := m.getAttr(a, name); ok {
		res, err := m.invoke(view, fn, []value.Value{value.Copy(a), value.Copy(b)})
		return first(res), true, err
	}
	if fn, ok := m.getAttr(b, name); ok {
		res, err := m.invoke(view, fn, []value.Value{value.Copy(a), value.Copy(b)})
		return first(res), true, err
	}
	return value.Value{}, false, nil
}

func first(vs []value.Value) value.Value {
	if len(vs) == 0 {
		return value.NullValue()
	}
	for _, extra := range vs[1:] {
		_ = extra
	}
	return vs[0]
}

func typeErr(op string, a, b value.Value) error {
	return uerr.Type("unsupported-operand", op+" not supported between "+a.Tag().String()+" and "+b.Tag().String())
}

func (m *Machine) add(view *world.View, a, b value.Value) (value.Value, error) {
	switch {
	case a.Tag() == value.Int && b.Tag() == value.Int:
		if addOverflows(a.AsInt(), b.AsInt()) {
			return value.Value{}, overflowErr("addition")
		}
		return value.IntValue(a.AsInt() + b.AsInt()), nil
	case numeric(a) && numeric(b):
		return value.FloatValue(asFloat(a) + asFloat(b)), nil
	case a.Tag() == value.String && b.Tag() == value.String:
		as, _ := asGoString(a)
		bs, _ := asGoString(b)
		return m.newString(as + bs), nil
	default:
		res, ok, err := m.binaryOverload(view, value.OverloadAdd, a, b)
		if err != nil {
			return value.Value{}, err
		}
		if ok {
			return res, nil
		}
		return value.Value{}, typeErr("+", a, b)
	}
}

func (m *Machine) sub(view *world.View, a, b value.Value) (value.Value, error) {
	switch {
	case a.Tag() == value.Int && b.Tag() == value.Int:
		if subOverflows(a.AsInt(), b.AsInt()) {
			return value.Value{}, overflowErr("subtraction")
		}
		return value.IntValue(a.AsInt() - b.AsInt()), nil
	case numeric(a) && numeric(b):
		return value.FloatValue(asFloat(a) - asFloat(b)), nil
	default:
		res, ok, err := m.binaryOverload(view, value.OverloadSub, a, b)
		if err != nil {
			return value.Value{}, err
		}
		if ok {
			return res, nil
		}
		return value.Value{}, typeErr("-", a, b)
	}
}

func (m *Machine) mul(view *world.View, a, b value.Value) (value.Value, error) {
	switch {
	case a.Tag() == value.Int && b.Tag() == value.Int:
		if mulOverflows(a.AsInt(), b.AsInt()) {
			return value.Value{}, overflowErr("multiplication")
		}
		return value.IntValue(a.AsInt() * b.AsInt()), nil
	case numeric(a) && numeric(b):
		return value.FloatValue(asFloat(a) * asFloat(b)), nil
	default:
		res, ok, err := m.binaryOverload(view, value.OverloadMul, a, b)
		if err != nil {
			return value.Value{}, err
		}
		if ok {
			return res, nil
		}
		return value.Value{}, typeErr("*", a, b)
	}
}

func (m *Machine) div(view *world.View, a, b value.Value) (value.Value, error) {
	if numeric(a) && numeric(b) {
		bf := asFloat(b)
		if bf == 0 {
			return value.Value{}, uerr.Logic("division-by-zero", "division by zero")
		}
		return value.FloatValue(asFloat(a) / bf), nil
	}
	res, ok, err := m.binaryOverload(view, value.OverloadDiv, a, b)
	if err != nil {
		return value.Value{}, err
	}
	if ok {
		return res, nil
	}
	return value.Value{}, typeErr("/", a, b)
}

func (m *Machine) idiv(view *world.View, a, b value.Value) (value.Value, error) {
	if a.Tag() == value.Int && b.Tag() == value.Int {
		if b.AsInt() == 0 {
			return value.Value{}, uerr.Logic("division-by-zero", "division by zero")
		}
		q := a.AsInt() / b.AsInt()
		if (a.AsInt()%b.AsInt() != 0) && ((a.AsInt() < 0) != (b.AsInt() < 0)) {
			q--
		}
		return value.IntValue(q), nil
	}
	if numeric(a) && numeric(b) {
		bf := asFloat(b)
		if bf == 0 {
			return value.Value{}, uerr.Logic("division-by-zero", "division by zero")
		}
		return value.FloatValue(math.Floor(asFloat(a) / bf)), nil
	}
	return value.Value{}, typeErr("//", a, b)
}

func (m *Machine) mod(view *world.View, a, b value.Value) (value.Value, error) {
	if a.Tag() == value.Int && b.Tag() == value.Int {
		if b.AsInt() == 0 {
			return value.Value{}, uerr.Logic("division-by-zero", "modulo by zero")
		}
		r := a.AsInt() % b.AsInt()
		if r != 0 && (r < 0) != (b.AsInt() < 0) {
			r += b.AsInt()
		}
		return value.IntValue(r), nil
	}
	if numeric(a) && numeric(b) {
		bf := asFloat(b)
		if bf == 0 {
			return value.Value{}, uerr.Logic("division-by-zero", "modulo by zero")
		}
		r := math.Mod(asFloat(a), bf)
		if r != 0 && (r < 0) != (bf < 0) {
			r += bf
		}
		return value.FloatValue(r), nil
	}
	res, ok, err := m.binaryOverload(view, value.OverloadMod, a, b)
	if err != nil {
		return value.Value{}, err
	}
	if ok {
		return res, nil
	}
	return value.Value{}, typeErr("%", a, b)
}

func (m *Machine) pow(a, b value.Value) (value.Value, error) {
	if !numeric(a) || !numeric(b) {
		return value.Value{}, typeErr("^", a, b)
	}
	if a.Tag() == value.Int && b.Tag() == value.Int && b.AsInt() >= 0 {
		base, exp := a.AsInt(), b.AsInt()
		result := int64(1)
		overflow := false
		for exp > 0 {
			if exp&1 == 1 {
				if mulOverflows(result, base) {
					overflow = true
					break
				}
				result *= base
			}
			exp >>= 1
			if exp > 0 {
				if mulOverflows(base, base) {
					overflow = true
					break
				}
				base *= base
			}
		}
		if !overflow {
			return value.IntValue(result), nil
		}
	}
	return value.FloatValue(math.Pow(asFloat(a), asFloat(b))), nil
}

func (m *Machine) neg(view *world.View, a value.Value) (value.Value, error) {
	switch a.Tag() {
	case value.Int:
		if a.AsInt() == math.MinInt64 {
			return value.Value{}, overflowErr("negation")
		}
		return value.IntValue(-a.AsInt()), nil
	case value.Float:
		return value.FloatValue(-a.AsFloat()), nil
	default:
		if fn, ok := m.getAttr(a, value.OverloadUnm); ok {
			res, err := m.invoke(view, fn, []value.Value{value.Copy(a)})
			return first(res), err
		}
		return value.Value{}, uerr.Type("unsupported-operand", "unary - not supported for "+a.Tag().String())
	}
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compare returns -1/0/1 when a and b are directly ordered (numeric cross
// comparison or string lexicographic); ok is false when an overload lookup
// (__lt/__le) is required instead.
func compare(a, b value.Value) (int, bool) {
	if numeric(a) && numeric(b) {
		af, bf := asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Tag() == value.String && b.Tag() == value.String {
		as, _ := asGoString(a)
		bs, _ := asGoString(b)
		return stringCompare(as, bs), true
	}
	return 0, false
}

func (m *Machine) lt(view *world.View, a, b value.Value) (bool, error) {
	if c, ok := compare(a, b); ok {
		return c < 0, nil
	}
	res, ok, err := m.binaryOverload(view, value.OverloadLt, a, b)
	if err != nil {
		return false, err
	}
	if ok {
		return res.Truthy(), nil
	}
	return false, typeErr("<", a, b)
}

func (m *Machine) le(view *world.View, a, b value.Value) (bool, error) {
	if c, ok := compare(a, b); ok {
		return c <= 0, nil
	}
	res, ok, err := m.binaryOverload(view, value.OverloadLe, a, b)
	if err != nil {
		return false, err
	}
	if ok {
		return res.Truthy(), nil
	}
	return false, typeErr("<=", a, b)
}

func (m *Machine) gt(view *world.View, a, b value.Value) (bool, error) {
	if c, ok := compare(a, b); ok {
		return c > 0, nil
	}
	lt, err := m.lt(view, b, a)
	return lt, err
}

func (m *Machine) ge(view *world.View, a, b value.Value) (bool, error) {
	if c, ok := compare(a, b); ok {
		return c >= 0, nil
	}
	le, err := m.le(view, b, a)
	return le, err
}

func (m *Machine) eq(view *world.View, a, b value.Value) (bool, error) {
	if a.Tag() == b.Tag() && (a.Tag() == value.Object || a.Tag() == value.Opaque) {
		if fn, ok := m.getAttr(a, value.OverloadEq); ok {
			res, err := m.invoke(view, fn, []value.Value{value.Copy(a), value.Copy(b)})
			if err != nil {
				return false, err
			}
			return first(res).Truthy(), nil
		}
	}
	return value.Equal(a, b), nil
}
