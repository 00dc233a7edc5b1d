package vm

import (
	"encoding/binary"

	"uncil/internal/bytecode"
	"uncil/internal/value"
	"uncil/internal/world"
)

// readPoolString decodes a length-prefixed string stored at offset in data
// (the format Emit's appendLenPrefixedBuf writes), used for string literals,
// function names, and identifiers (public names).
func readPoolString(data []byte, offset int) string {
	n, sz := binary.Uvarint(data[offset:])
	start := offset + sz
	return string(data[start : start+int(n)])
}

// readLocal loads register reg (relative to frame's window) from view,
// transparently dereferencing it if frame marks it boxed (captured by a
// nested closure — see world.CallFrame.Boxed).
func readLocal(view *world.View, frame *world.CallFrame, reg int) value.Value {
	idx := frame.RegBase + reg
	v := view.Registers[idx]
	if isBoxed(frame, reg) {
		return v.Entity().Payload.(*value.RefPayload).Slot
	}
	return v
}

// writeLocal stores val into register reg, routing through the capture cell
// if the register is boxed, and releasing whatever was there before.
func writeLocal(w *value.World, view *world.View, frame *world.CallFrame, reg int, val value.Value) {
	idx := frame.RegBase + reg
	if isBoxed(frame, reg) {
		ref := view.Registers[idx].Entity()
		rp := ref.Payload.(*value.RefPayload)
		w.Release(rp.Slot)
		rp.Slot = val
		return
	}
	w.Release(view.Registers[idx])
	view.Registers[idx] = val
}

func isBoxed(frame *world.CallFrame, reg int) bool {
	for _, r := range frame.Boxed {
		if r == reg {
			return true
		}
	}
	return false
}

// readOperand materializes a decoded bytecode operand as a Value. This is
// the single generic path used for every A/B (and value-carrying Dst, e.g.
// OpSetAttr's stored value) operand; the few opcodes whose operands carry
// something other than a plain value (OpMakeFunc's function-table index,
// OpSetPublic/OpSetCapture's write target) decode those operands directly
// instead of routing through here.
func (m *Machine) readOperand(view *world.View, frame *world.CallFrame, op bytecode.Operand) (value.Value, error) {
	switch op.Tag {
	case bytecode.TagNone, bytecode.TagNull:
		return value.NullValue(), nil
	case bytecode.TagTrue:
		return value.BoolValue(true), nil
	case bytecode.TagFalse:
		return value.BoolValue(false), nil
	case bytecode.TagReg:
		return value.Copy(readLocal(view, frame, int(op.Int))), nil
	case bytecode.TagInt:
		return value.IntValue(op.Int), nil
	case bytecode.TagFloat:
		return value.FloatValue(op.Float), nil
	case bytecode.TagStr:
		return m.newString(readPoolString(frame.Program.Data, int(op.Int))), nil
	case bytecode.TagCapture:
		fp := frame.Closure.Payload.(*value.FunctionPayload)
		idx := int(op.Int)
		if idx < 0 || idx >= len(fp.Refs) || fp.Refs[idx] == nil {
			return value.NullValue(), nil
		}
		return value.Copy(fp.Refs[idx].Payload.(*value.RefPayload).Slot), nil
	case bytecode.TagFunc:
		// Only KindPublic ever reaches a generic read with this tag
		// (OpMakeFunc's function-table index is special-cased by its own
		// opcode handler, never read generically).
		name := readPoolString(frame.Program.Data, int(op.Int))
		view.World.PublicMu.RLock()
		v, ok := view.World.Public.Get(name)
		view.World.PublicMu.RUnlock()
		if !ok {
			return value.NullValue(), nil
		}
		return value.Copy(v), nil
	default:
		return value.NullValue(), nil
	}
}

// writeReg stores val into the register a Dst operand names. Dst operands
// are always TagReg in this instruction set.
func (m *Machine) writeReg(view *world.View, frame *world.CallFrame, dst bytecode.Operand, val value.Value) {
	writeLocal(view.World, view, frame, int(dst.Int), val)
}
