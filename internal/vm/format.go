package vm

import (
	"strconv"

	"uncil/internal/value"
)

// Stringify renders v the way an embedder-level `print` native formats each
// argument: scalars print their literal form, strings print their raw
// bytes, and every compound tag without a more specific case falls back to
// its type name (spec §4.2 has no `__tostring` overload in its closed
// overload list, so this never consults user code).
func Stringify(v value.Value) string {
	switch v.Tag() {
	case value.Null:
		return "null"
	case value.Bool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case value.Int:
		return strconv.FormatInt(v.AsInt(), 10)
	case value.Float:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case value.String:
		s, _ := asGoString(v)
		return s
	default:
		return v.Tag().String()
	}
}
