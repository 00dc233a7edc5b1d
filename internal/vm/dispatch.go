package vm

import (
	"uncil/internal/bytecode"
	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

// step decodes and executes exactly one instruction against view's current
// top call frame, advancing frame.PC past it before dispatch (jump/call
// opcodes override PC again as needed). Every opcode spec §4.7 lists is
// handled; OpLoadInt/Float/Null/Bool/Str and OpIterInit/OpIterNext are
// never emitted by internal/quad's compiler but are handled defensively
// since a hand-assembled or future-compiler program could still use them.
func (m *Machine) step(view *world.View) error {
	n := len(view.Calls) - 1
	frame := &view.Calls[n]
	instr := bytecode.Decode(frame.Program.Code, frame.PC, frame.JumpWidth)
	frame.PC += instr.Len

	switch instr.Op {
	case bytecode.OpLoadInt:
		m.writeReg(view, frame, instr.Dst, value.IntValue(instr.A.Int))
	case bytecode.OpLoadFloat:
		m.writeReg(view, frame, instr.Dst, value.FloatValue(instr.A.Float))
	case bytecode.OpLoadNull:
		m.writeReg(view, frame, instr.Dst, value.NullValue())
	case bytecode.OpLoadBool:
		m.writeReg(view, frame, instr.Dst, value.BoolValue(instr.A.Int != 0))
	case bytecode.OpLoadStr:
		m.writeReg(view, frame, instr.Dst, m.newString(readPoolString(frame.Program.Data, int(instr.A.Int))))

	case bytecode.OpMove:
		val, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		m.writeReg(view, frame, instr.Dst, val)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpIDiv, bytecode.OpMod, bytecode.OpPow:
		return m.stepArith(view, frame, instr)

	case bytecode.OpNeg:
		a, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		res, err := m.neg(view, a)
		view.World.Release(a)
		if err != nil {
			return err
		}
		m.writeReg(view, frame, instr.Dst, res)

	case bytecode.OpNot:
		a, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		res := value.BoolValue(!a.Truthy())
		view.World.Release(a)
		m.writeReg(view, frame, instr.Dst, res)

	case bytecode.OpAnd:
		a, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		b, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(a)
			return err
		}
		// Both operands are already evaluated eagerly by the compiler (no
		// short-circuit jump is emitted), so this just picks which one
		// the expression is worth, Lua-style: the falsy side wins.
		if a.Truthy() {
			view.World.Release(a)
			m.writeReg(view, frame, instr.Dst, b)
		} else {
			view.World.Release(b)
			m.writeReg(view, frame, instr.Dst, a)
		}

	case bytecode.OpOr:
		a, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		b, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(a)
			return err
		}
		if a.Truthy() {
			view.World.Release(b)
			m.writeReg(view, frame, instr.Dst, a)
		} else {
			view.World.Release(a)
			m.writeReg(view, frame, instr.Dst, b)
		}

	case bytecode.OpEq, bytecode.OpNeq, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		return m.stepCompare(view, frame, instr)

	case bytecode.OpGetPublic:
		val, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		m.writeReg(view, frame, instr.Dst, val)

	case bytecode.OpSetPublic:
		name := readPoolString(frame.Program.Data, int(instr.A.Int))
		val, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			return err
		}
		view.World.PublicMu.Lock()
		old, existed := view.World.Public.Get(name)
		view.World.Public.Set(name, val)
		view.World.PublicMu.Unlock()
		if existed {
			view.World.Release(old)
		}

	case bytecode.OpGetAttr:
		base, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		keyVal, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(base)
			return err
		}
		name, _ := asGoString(keyVal)
		view.World.Release(keyVal)
		res, ok := m.getAttr(base, name)
		view.World.Release(base)
		if !ok {
			return uerr.Type("no-such-attribute", "no such attribute: "+name)
		}
		m.writeReg(view, frame, instr.Dst, res)

	case bytecode.OpSetAttr:
		base, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		keyVal, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(base)
			return err
		}
		name, _ := asGoString(keyVal)
		view.World.Release(keyVal)
		val, err := m.readOperand(view, frame, instr.Dst)
		if err != nil {
			view.World.Release(base)
			return err
		}
		err = m.setAttr(view, base, name, val)
		view.World.Release(base)
		if err != nil {
			return err
		}

	case bytecode.OpDelAttr:
		base, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		keyVal, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(base)
			return err
		}
		name, _ := asGoString(keyVal)
		view.World.Release(keyVal)
		err = m.delAttr(base, name)
		view.World.Release(base)
		if err != nil {
			return err
		}

	case bytecode.OpGetIndex:
		base, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		key, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(base)
			return err
		}
		res, err := m.getIndex(view, base, key)
		view.World.Release(base)
		view.World.Release(key)
		if err != nil {
			return err
		}
		m.writeReg(view, frame, instr.Dst, res)

	case bytecode.OpSetIndex:
		base, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		key, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(base)
			return err
		}
		val, err := m.readOperand(view, frame, instr.Dst)
		if err != nil {
			view.World.Release(base)
			view.World.Release(key)
			return err
		}
		err = m.setIndex(view, base, key, val)
		view.World.Release(base)
		view.World.Release(key)
		if err != nil {
			return err
		}

	case bytecode.OpDelIndex:
		base, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		key, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			view.World.Release(base)
			return err
		}
		err = m.delIndex(base, key)
		view.World.Release(base)
		view.World.Release(key)
		if err != nil {
			return err
		}

	case bytecode.OpGetCapture:
		// A.Tag==TagInt && Int==-1 is the catch-variable sentinel the
		// compiler emits for `catch e`; everything else is a normal
		// inhale-cell read (never actually emitted this way — reads of a
		// captured variable are generic TagCapture operands elsewhere —
		// but decoded correctly here regardless).
		if instr.A.Tag == bytecode.TagInt && instr.A.Int == -1 {
			m.writeReg(view, frame, instr.Dst, value.Copy(view.Exception))
		} else {
			val, err := m.readOperand(view, frame, instr.A)
			if err != nil {
				return err
			}
			m.writeReg(view, frame, instr.Dst, val)
		}

	case bytecode.OpSetCapture:
		val, err := m.readOperand(view, frame, instr.B)
		if err != nil {
			return err
		}
		idx := int(instr.A.Int)
		fp := frame.Closure.Payload.(*value.FunctionPayload)
		if idx >= 0 && idx < len(fp.Refs) && fp.Refs[idx] != nil {
			rp := fp.Refs[idx].Payload.(*value.RefPayload)
			view.World.Release(rp.Slot)
			rp.Slot = val
		} else {
			view.World.Release(val)
		}

	case bytecode.OpNewArray:
		m.writeReg(view, frame, instr.Dst, view.World.WakeValue(value.Array, &value.ArrayPayload{}))

	case bytecode.OpNewDict:
		m.writeReg(view, frame, instr.Dst, view.World.WakeValue(value.Table, &value.DictPayload{}))

	case bytecode.OpMakeFunc:
		// A's TagFunc payload is the function-table index here, not a
		// public-name offset (see internal/bytecode/decode.go's Operand
		// doc comment) — decoded directly rather than through readOperand.
		fn := m.makeClosure(view, frame, frame.Program, int(instr.A.Int))
		m.writeReg(view, frame, instr.Dst, fn)

	case bytecode.OpCall:
		callee, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		args := popArgs(view, int(instr.B.Int))
		returnReg := frame.RegBase + int(instr.Dst.Int)
		return m.doCall(view, callee, args, returnReg)

	case bytecode.OpTailCall:
		callee, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		args := popArgs(view, int(instr.B.Int))
		return m.doTailCall(view, callee, args)

	case bytecode.OpReturn:
		values := popArgs(view, int(instr.A.Int))
		m.doReturn(view, values)

	case bytecode.OpJump:
		frame.PC = int(instr.A.Int)

	case bytecode.OpJumpIfFalse:
		cond, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		truthy := cond.Truthy()
		view.World.Release(cond)
		if !truthy {
			frame.PC = int(instr.B.Int)
		}

	case bytecode.OpJumpIfTrue:
		cond, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		truthy := cond.Truthy()
		view.World.Release(cond)
		if truthy {
			frame.PC = int(instr.B.Int)
		}

	case bytecode.OpPush:
		val, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		view.Push(val)

	case bytecode.OpIterInit:
		return m.stepIterInit(view, frame, instr)

	case bytecode.OpIterNext:
		return m.stepIterNext(view, frame, instr)

	case bytecode.OpTryPush:
		view.PushTry(int(instr.A.Int))

	case bytecode.OpTryPop:
		view.PopTry()

	case bytecode.OpThrow:
		val, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		return uerr.Exception(val, describeThrown(val))

	case bytecode.OpWithPush:
		val, err := m.readOperand(view, frame, instr.A)
		if err != nil {
			return err
		}
		view.PushWith(val)
		view.World.Release(val)

	case bytecode.OpWithPop:
		return view.PopWith(func(val value.Value) error {
			fn, ok := m.getAttr(val, value.OverloadClose)
			if !ok {
				return nil
			}
			_, err := m.invoke(view, fn, []value.Value{value.Copy(val)})
			return err
		})

	default:
		return uerr.New(uerr.KindFatal, "", "unknown opcode")
	}
	return nil
}

func (m *Machine) stepArith(view *world.View, frame *world.CallFrame, instr bytecode.Instr) error {
	a, err := m.readOperand(view, frame, instr.A)
	if err != nil {
		return err
	}
	b, err := m.readOperand(view, frame, instr.B)
	if err != nil {
		view.World.Release(a)
		return err
	}
	var res value.Value
	switch instr.Op {
	case bytecode.OpAdd:
		res, err = m.add(view, a, b)
	case bytecode.OpSub:
		res, err = m.sub(view, a, b)
	case bytecode.OpMul:
		res, err = m.mul(view, a, b)
	case bytecode.OpDiv:
		res, err = m.div(view, a, b)
	case bytecode.OpIDiv:
		res, err = m.idiv(view, a, b)
	case bytecode.OpMod:
		res, err = m.mod(view, a, b)
	case bytecode.OpPow:
		res, err = m.pow(a, b)
	}
	view.World.Release(a)
	view.World.Release(b)
	if err != nil {
		return err
	}
	m.writeReg(view, frame, instr.Dst, res)
	return nil
}

func (m *Machine) stepCompare(view *world.View, frame *world.CallFrame, instr bytecode.Instr) error {
	a, err := m.readOperand(view, frame, instr.A)
	if err != nil {
		return err
	}
	b, err := m.readOperand(view, frame, instr.B)
	if err != nil {
		view.World.Release(a)
		return err
	}
	var res bool
	switch instr.Op {
	case bytecode.OpEq:
		res, err = m.eq(view, a, b)
	case bytecode.OpNeq:
		res, err = m.eq(view, a, b)
		res = !res
	case bytecode.OpLt:
		res, err = m.lt(view, a, b)
	case bytecode.OpLe:
		res, err = m.le(view, a, b)
	case bytecode.OpGt:
		res, err = m.gt(view, a, b)
	case bytecode.OpGe:
		res, err = m.ge(view, a, b)
	}
	view.World.Release(a)
	view.World.Release(b)
	if err != nil {
		return err
	}
	m.writeReg(view, frame, instr.Dst, value.BoolValue(res))
	return nil
}

// doCall unwraps a BoundFunction receiver the way doTailCall does (call.go),
// then either pushes a fresh frame for a compiled function or runs a native
// one synchronously and delivers its result directly to returnReg.
func (m *Machine) doCall(view *world.View, callee value.Value, args []value.Value, returnReg int) error {
	e := callee.Entity()
	if e == nil || (e.Tag != value.Function && e.Tag != value.BoundFunction) {
		for _, a := range args {
			view.World.Release(a)
		}
		view.World.Release(callee)
		return uerr.Type("not-callable", "value is not callable")
	}
	if e.Tag == value.BoundFunction {
		bp := e.Payload.(*value.BoundFunctionPayload)
		target := value.Copy(bp.Callable)
		args = append([]value.Value{value.Copy(bp.Receiver)}, args...)
		view.World.Release(callee)
		callee = target
		e = target.Entity()
	}
	fp := e.Payload.(*value.FunctionPayload)
	if fp.Native {
		results, err := m.callNative(view, fp, args)
		view.World.Release(callee)
		if err != nil {
			return err
		}
		m.writeResult(view, results, returnReg)
		return nil
	}
	return m.pushFrame(view, callee, args, returnReg, nil)
}
