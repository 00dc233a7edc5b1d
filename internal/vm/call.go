package vm

import (
	"uncil/internal/bytecode"
	"uncil/internal/program"
	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

// popArgs pops the last n values off view's value stack, preserving push
// order (arg1 pushed first sits deepest).
func popArgs(view *world.View, n int) []value.Value {
	if n == 0 {
		return nil
	}
	start := len(view.Stack) - n
	args := make([]value.Value, n)
	copy(args, view.Stack[start:])
	view.Stack = view.Stack[:start]
	return args
}

// bindArgs copies args into the callee's freshly allocated register window
// positionally. Extra arguments beyond fp.RequiredArgs+fp.TotalArgs-required
// optionals are dropped — the compiler never binds a name for ellipsis rest
// arguments (quad.funcLiteralBody sets Ellipsis but never declares a local
// for it), so there is nothing in the register window for them to land in.
func bindArgs(view *world.View, regBase int, fp *value.FunctionPayload, args []value.Value) {
	n := fp.TotalArgs
	for i := 0; i < n; i++ {
		if i < len(args) {
			view.Registers[regBase+i] = args[i]
		} else if i-fp.RequiredArgs >= 0 && i-fp.RequiredArgs < len(fp.Defaults) {
			view.Registers[regBase+i] = value.Copy(fp.Defaults[i-fp.RequiredArgs])
		} else {
			view.Registers[regBase+i] = value.NullValue()
		}
	}
	for i := n; i < len(args); i++ {
		view.World.Release(args[i])
	}
}

// boxLocals heap-allocates a Ref cell for every local register a nested
// closure captures (program.FuncDesc.ExhaleRegs, threaded through as
// value.FunctionPayload.ExhaleRegs), moving whatever value is already
// sitting in the register into the cell's Slot. Mutations made through the
// cell after this frame returns stay visible to any closure that captured
// it (spec §4.5 exhale/inhale).
func boxLocals(w *value.World, view *world.View, regBase int, exhale []int) []int {
	if len(exhale) == 0 {
		return nil
	}
	for _, r := range exhale {
		idx := regBase + r
		cur := view.Registers[idx]
		view.Registers[idx] = w.WakeValue(value.Ref, &value.RefPayload{Slot: cur})
	}
	return append([]int(nil), exhale...)
}

// makeClosure builds a Function entity for funcIdx in prog, deriving its
// capture list from the currently executing frame's own boxed locals
// (FromExhale) or forwarded inhale cells (!FromExhale). Called only by
// OpMakeFunc, at the moment the nested function literal is evaluated.
func (m *Machine) makeClosure(view *world.View, frame *world.CallFrame, prog *program.Program, funcIdx int) value.Value {
	desc := prog.Functions[funcIdx]
	fp := &value.FunctionPayload{
		Named:        desc.Flags&program.FlagNamed != 0,
		Ellipsis:     desc.Flags&program.FlagEllipsis != 0,
		Main:         desc.Flags&program.FlagMain != 0,
		RequiredArgs: desc.Required,
		TotalArgs:    desc.Required + desc.Optional,
		Program:      prog,
		PC:           int(desc.CodeOffset),
		JumpWidth:    int(desc.JumpWidth),
		Registers:    desc.Registers,
		FirstLocal:   desc.FirstLocal,
		NameOffset:   desc.NameOffset,
		DebugOffset:  int(desc.DebugOffset),
		ExhaleRegs:   append([]int(nil), desc.ExhaleRegs...),
	}
	if desc.NameOffset != 0 {
		fp.Name = readPoolString(prog.Data, desc.NameOffset)
	}
	if desc.Inhale > 0 {
		fp.Refs = make([]*value.Entity, desc.Inhale)
		kinds := bytecode.DecodeInhaleDescs(desc.InhaleDesc)
		curFn := frame.Closure.Payload.(*value.FunctionPayload)
		for i, k := range kinds {
			var src *value.Entity
			if k.FromExhale {
				localReg := curFn.ExhaleRegs[k.Index]
				src = view.Registers[frame.RegBase+localReg].Entity()
			} else if k.Index < len(curFn.Refs) {
				src = curFn.Refs[k.Index]
			}
			if src != nil {
				src.Retain()
			}
			fp.Refs[i] = src
		}
	}
	return view.World.WakeValue(value.Function, fp)
}

// pushFrame allocates a fresh register window past whatever frame (if any)
// is currently on top of view.Calls and pushes a new CallFrame for callee.
// returnReg (when >= 0) is the absolute register the caller wants the first
// result written to; sink (when non-nil) instead receives the full result
// slice, used by Run and invoke for calls that have no caller register
// (the program's entry call, and synchronous nested invocations such as
// operator overloads).
func (m *Machine) pushFrame(view *world.View, callee value.Value, args []value.Value, returnReg int, sink *[]value.Value) error {
	e := callee.Entity()
	if e == nil || e.Tag != value.Function {
		for _, a := range args {
			view.World.Release(a)
		}
		view.World.Release(callee)
		return uerr.Type("not-callable", "value is not callable")
	}
	fp := e.Payload.(*value.FunctionPayload)
	if fp.Native {
		for _, a := range args {
			view.World.Release(a)
		}
		view.World.Release(callee)
		return uerr.New(uerr.KindFatal, "", "pushFrame called with a native function")
	}
	prog, _ := fp.Program.(*program.Program)
	if prog == nil {
		return uerr.New(uerr.KindFatal, "", "closure has no compiled program")
	}
	regBase := 0
	if n := len(view.Calls); n > 0 {
		top := view.Calls[n-1]
		regBase = top.RegBase + top.NumRegs
	}
	view.EnsureRegisters(regBase + fp.Registers)
	bindArgs(view, regBase, fp, args)
	boxed := boxLocals(view.World, view, regBase, fp.ExhaleRegs)
	view.Calls = append(view.Calls, world.CallFrame{
		Closure:    e,
		Program:    prog,
		PC:         fp.PC,
		JumpWidth:  fp.JumpWidth,
		RegBase:    regBase,
		NumRegs:    fp.Registers,
		ReturnReg:  returnReg,
		WantResult: true,
		Boxed:      boxed,
		ResultSink: sink,
	})
	return nil
}

// doTailCall replaces the current top frame in place instead of pushing a
// new one: RegBase is reused, so a chain of tail calls runs in constant
// call-stack depth (spec §4.7, required for the million-deep tail-recursion
// scenario).
func (m *Machine) doTailCall(view *world.View, callee value.Value, args []value.Value) error {
	n := len(view.Calls) - 1
	top := view.Calls[n]
	for i := top.RegBase; i < top.RegBase+top.NumRegs; i++ {
		view.World.Release(view.Registers[i])
		view.Registers[i] = value.Value{}
	}

	e := callee.Entity()
	if e == nil || (e.Tag != value.Function && e.Tag != value.BoundFunction) {
		for _, a := range args {
			view.World.Release(a)
		}
		view.World.Release(callee)
		return uerr.Type("not-callable", "tail call target is not callable")
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
		m.doReturn(view, results)
		return nil
	}
	prog, _ := fp.Program.(*program.Program)
	if prog == nil {
		view.World.Release(callee)
		return uerr.New(uerr.KindFatal, "", "closure has no compiled program")
	}
	view.EnsureRegisters(top.RegBase + fp.Registers)
	bindArgs(view, top.RegBase, fp, args)
	boxed := boxLocals(view.World, view, top.RegBase, fp.ExhaleRegs)

	if top.Closure != nil {
		view.World.Release(value.AdoptValue(top.Closure.Tag, top.Closure))
	}
	top.Closure = e
	top.Program = prog
	top.PC = fp.PC
	top.JumpWidth = fp.JumpWidth
	top.NumRegs = fp.Registers
	top.Boxed = boxed
	top.TailDepth++
	view.Calls[n] = top
	return nil
}

// doReturn pops the top frame, releasing its register window, and delivers
// values to whichever consumer the frame names: a sink (Run/invoke) gets
// the full slice, a register gets only the first value (the call protocol
// never delivers more than one result to a caller's register — spec §4.7).
func (m *Machine) doReturn(view *world.View, values []value.Value) {
	n := len(view.Calls) - 1
	frame := view.Calls[n]
	view.Calls = view.Calls[:n]
	for i := frame.RegBase; i < frame.RegBase+frame.NumRegs; i++ {
		view.World.Release(view.Registers[i])
		view.Registers[i] = value.Value{}
	}
	if frame.Closure != nil {
		view.World.Release(value.AdoptValue(frame.Closure.Tag, frame.Closure))
	}
	if frame.ResultSink != nil {
		*frame.ResultSink = values
		return
	}
	var result value.Value
	if len(values) > 0 {
		result = values[0]
	}
	for i := 1; i < len(values); i++ {
		view.World.Release(values[i])
	}
	if frame.ReturnReg >= 0 {
		view.World.Release(view.Registers[frame.ReturnReg])
		view.Registers[frame.ReturnReg] = result
	} else {
		view.World.Release(result)
	}
}

// callNative invokes a native function. view is handed to the native as its
// udata parameter (not fp.NativeUData, which natives may use for their own
// static configuration) so a prelude function like coroutine.yield can find
// the view that's calling it without any shared, call-site-mutated state.
func (m *Machine) callNative(view *world.View, fp *value.FunctionPayload, args []value.Value) ([]value.Value, error) {
	return fp.NativeFn(view, args)
}

// runUntil drives the dispatch loop until view.Calls shrinks back to floor
// (the call this invocation pushed, and everything it transitively called,
// has returned) or a propagating error/yield signal stops it early.
//
// A non-fatal error returned by step is first offered to the try-frame
// stack (spec §4.7 EXPUSH/throw): if a handler exists, view.Unwind restores
// the stack/call depth and the loop resumes at the handler PC instead of
// propagating. A Fatal or Halt error, or one with no matching try-frame,
// surfaces to the caller unchanged.
func (m *Machine) runUntil(view *world.View, floor int) error {
	for len(view.Calls) > floor {
		err := m.step(view)
		if err == nil {
			continue
		}
		if uerr.IsTrampoline(err) {
			return err
		}
		if ue, ok := err.(*uerr.Error); ok && (ue.Kind == uerr.KindFatal || ue.Kind == uerr.KindHalt) {
			return err
		}
		exc := m.errorToException(view, err)
		handlerPC, ok := view.Unwind(exc)
		if !ok || len(view.Calls) <= floor {
			return err
		}
		view.Calls[len(view.Calls)-1].PC = handlerPC
	}
	return nil
}

// invoke runs callee synchronously to completion against view — used for
// operator overloads, __close, and anywhere else the VM itself needs a
// user-level call to finish before it can continue the instruction that
// triggered it.
func (m *Machine) invoke(view *world.View, callee value.Value, args []value.Value) ([]value.Value, error) {
	e := callee.Entity()
	if e == nil || (e.Tag != value.Function && e.Tag != value.BoundFunction) {
		for _, a := range args {
			view.World.Release(a)
		}
		view.World.Release(callee)
		return nil, uerr.Type("not-callable", "value is not callable")
	}
	target := callee
	callArgs := args
	if e.Tag == value.BoundFunction {
		bp := e.Payload.(*value.BoundFunctionPayload)
		target = value.Copy(bp.Callable)
		callArgs = append([]value.Value{value.Copy(bp.Receiver)}, args...)
		view.World.Release(callee)
		e = target.Entity()
	}
	fp := e.Payload.(*value.FunctionPayload)
	if fp.Native {
		results, err := m.callNative(view, fp, callArgs)
		view.World.Release(target)
		return results, err
	}
	var sink []value.Value
	floor := len(view.Calls)
	if err := m.pushFrame(view, target, callArgs, -1, &sink); err != nil {
		return nil, err
	}
	if err := m.runUntil(view, floor); err != nil {
		return nil, err
	}
	return sink, nil
}
