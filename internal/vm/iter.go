package vm

import (
	"uncil/internal/bytecode"
	"uncil/internal/container"
	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

// iterState backs the Opaque entity OpIterInit produces: a snapshot of the
// values to walk plus a cursor. Snapshotting up front (rather than reading
// live from the source container) keeps iteration well-defined even if the
// loop body mutates the container being iterated.
type iterState struct {
	items []value.Value
	idx   int
}

// stepIterInit materializes instr.A's elements (or key/value pairs, for a
// Table) into a fresh iterator value written to instr.Dst. Neither
// OpIterInit nor OpIterNext is emitted by internal/quad's compiler today (it
// only lowers numeric `for`), but the opcodes are part of the instruction
// set spec §4.7 names, so the VM supports them for a future iterator-based
// `for` or a hand-assembled program.
func (m *Machine) stepIterInit(view *world.View, frame *world.CallFrame, instr bytecode.Instr) error {
	src, err := m.readOperand(view, frame, instr.A)
	if err != nil {
		return err
	}
	items, err := m.iterItems(view, src)
	view.World.Release(src)
	if err != nil {
		return err
	}
	st := &iterState{items: items}
	m.writeReg(view, frame, instr.Dst, view.World.WakeValue(value.Opaque, &value.OpaquePayload{UData: st}))
	return nil
}

func (m *Machine) iterItems(view *world.View, src value.Value) ([]value.Value, error) {
	switch src.Tag() {
	case value.Array:
		ap := src.Entity().Payload.(*value.ArrayPayload)
		out := make([]value.Value, len(ap.Elems))
		for i, e := range ap.Elems {
			out[i] = value.Copy(e)
		}
		return out, nil
	case value.Table:
		dp := src.Entity().Payload.(*value.DictPayload)
		var out []value.Value
		dp.Table.Each(func(k container.Hashable, v value.Value) {
			kv, _ := k.(value.Value)
			out = append(out, view.World.WakeValue(value.Array, &value.ArrayPayload{
				Elems: []value.Value{value.Copy(kv), value.Copy(v)},
			}))
		})
		return out, nil
	case value.String:
		sp := src.Entity().Payload.(*value.StringPayload)
		out := make([]value.Value, len(sp.Bytes))
		for i := range sp.Bytes {
			out[i] = m.newString(string(sp.Bytes[i]))
		}
		return out, nil
	default:
		return nil, uerr.Type("not-iterable", src.Tag().String()+" is not iterable")
	}
}

// stepIterNext advances the iterator instr.A names, writing the next value
// to instr.Dst or jumping to instr.B once it's exhausted.
func (m *Machine) stepIterNext(view *world.View, frame *world.CallFrame, instr bytecode.Instr) error {
	iterVal, err := m.readOperand(view, frame, instr.A)
	if err != nil {
		return err
	}
	e := iterVal.Entity()
	if e == nil || e.Tag != value.Opaque {
		view.World.Release(iterVal)
		return uerr.Type("not-iterator", "value is not an iterator")
	}
	st, ok := e.Payload.(*value.OpaquePayload).UData.(*iterState)
	if !ok {
		view.World.Release(iterVal)
		return uerr.Type("not-iterator", "value is not an iterator")
	}
	if st.idx >= len(st.items) {
		view.World.Release(iterVal)
		frame.PC = int(instr.B.Int)
		return nil
	}
	val := st.items[st.idx]
	st.idx++
	view.World.Release(iterVal)
	m.writeReg(view, frame, instr.Dst, val)
	return nil
}
