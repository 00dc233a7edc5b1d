package world

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"uncil/internal/program"
	"uncil/internal/uerr"
	"uncil/internal/value"
)

// Kind partitions views the way spec §3 does: a Normal view is the
// embedder's top-level thread, Sub/SubDaemon are spawned helpers (a daemon
// sub-view doesn't block process exit), Finalized marks a view past its
// last Release.
type Kind uint8

const (
	Normal Kind = iota
	Sub
	SubDaemon
	Finalized
)

// Flow is a view's cooperative run state, checked between dispatch-loop
// iterations so an embedder (or a sibling view) can pause/halt it without
// the VM needing its own signal-handling path.
type Flow int32

const (
	FlowRun Flow = iota
	FlowPause
	FlowHalt
)

// CallFrame mirrors internal/vmregister/vm.go's CallFrame: what must be
// saved to resume the caller once a callee returns or tail-calls.
type CallFrame struct {
	Closure    *value.Entity // the running closure (Tag==Function); nil only for a synthetic top frame
	Program    *program.Program
	FuncIndex  int
	PC         int
	JumpWidth  int // owning function's FuncDesc.JumpWidth, needed to decode jump operands
	RegBase    int
	NumRegs    int
	ReturnReg  int
	WantResult bool
	TailDepth  int

	// Boxed lists, by local register index, every local this frame's
	// function descriptor marks as captured by a nested closure
	// (program.FuncDesc.ExhaleRegs). internal/vm installs a heap-allocated
	// Ref cell in each such register at frame entry so mutations made after
	// a closure captures it stay visible to that closure once this frame is
	// gone (spec §4.5 exhale/inhale).
	Boxed []int

	// ResultSink, when non-nil, receives the full return-value slice on
	// OpReturn instead of ReturnReg getting only the first value — used by
	// internal/vm for the program's entry call and for synchronous nested
	// invocations (operator overloads, __close) that have no caller
	// register to write into.
	ResultSink *[]value.Value
}

// TryFrame mirrors internal/vmregister/vm.go's TryFrame: the stack, call
// and with-stack depths a throw restores when it unwinds to this frame, and
// EXPUSH's handler the VM jumps to. EXPOP on the normal path discards it.
type TryFrame struct {
	CatchPC    int
	StackTop   int
	FrameDepth int
	WithTop    int
}

// WithFrame is one entry on the with-stack; Value's __close overload runs
// against it, in reverse registration order, when the with-stack unwinds.
type WithFrame struct {
	Value value.Value
}

// View is one thread of VM execution (spec §3 "View"). It owns its register
// file and value/call/try/with stacks; Views form a doubly linked list
// under the owning Runtime so the GC's root-marking pass and diagnostics
// can walk every live one.
type View struct {
	ID   uuid.UUID
	Kind Kind

	World   *value.World
	Runtime *Runtime

	Registers []value.Value
	Stack     []value.Value
	Calls     []CallFrame
	Tries     []TryFrame
	Withs     []WithFrame

	Program *program.Program

	flow atomic.Int32

	Exception value.Value
	LastError *uerr.Error

	Dir string // current-directory hint for relative imports

	Coroutine *Coroutine // non-nil when this view is a coroutine's sub-view

	runLock sync.Mutex // held for the duration of one dispatch-loop run

	closer func(value.Value) // installed by internal/vm to invoke __close

	prev, next *View
}

const initialRegisters = 256

// NewView creates a view and registers it with rt's live-view list. Kind
// Normal is the embedder's entry point; Sub/SubDaemon views should acquire
// a slot via Runtime.AcquireSubSlot before Spawn.
func (rt *Runtime) NewView(kind Kind) *View {
	v := &View{
		ID:        uuid.New(),
		Kind:      kind,
		World:     rt.World,
		Runtime:   rt,
		Registers: make([]value.Value, initialRegisters),
	}
	v.flow.Store(int32(FlowRun))
	rt.registerView(v)
	return v
}

func (v *View) Flow() Flow      { return Flow(v.flow.Load()) }
func (v *View) SetFlow(f Flow)  { v.flow.Store(int32(f)) }

// Release finalizes v: drops its register/stack contents and unregisters it
// from the world's view list. Called once the view's dispatch loop returns
// for the last time (Normal exits, or a non-daemon Sub is joined).
func (v *View) Release() {
	for i := range v.Registers {
		v.World.Release(v.Registers[i])
		v.Registers[i] = value.Value{}
	}
	for i := range v.Stack {
		v.World.Release(v.Stack[i])
		v.Stack[i] = value.Value{}
	}
	for _, frame := range v.Calls {
		if frame.Closure != nil {
			v.World.Release(value.AdoptValue(frame.Closure.Tag, frame.Closure))
		}
	}
	v.Calls = nil
	for _, wf := range v.Withs {
		v.World.Release(wf.Value)
	}
	v.Withs = nil
	v.World.Release(v.Exception)
	v.Kind = Finalized
	v.Runtime.unregisterView(v)
}

// EnsureRegisters grows the register file so index n is valid, the way a
// call frame allocating a callee's register window does.
func (v *View) EnsureRegisters(n int) {
	if n <= len(v.Registers) {
		return
	}
	next := make([]value.Value, n*2)
	copy(next, v.Registers)
	v.Registers = next
}

func (v *View) Push(val value.Value) {
	v.Stack = append(v.Stack, val)
}

func (v *View) Pop() value.Value {
	n := len(v.Stack) - 1
	val := v.Stack[n]
	v.Stack = v.Stack[:n]
	return val
}

// PushTry records a try-frame at the current stack depth and call depth
// (spec §4.7 EXPUSH).
func (v *View) PushTry(catchPC int) {
	v.Tries = append(v.Tries, TryFrame{CatchPC: catchPC, StackTop: len(v.Stack), FrameDepth: len(v.Calls), WithTop: len(v.Withs)})
}

// PopTry removes the innermost try-frame without restoring anything (spec
// §4.7 EXPOP on the normal, non-exceptional path).
func (v *View) PopTry() {
	v.Tries = v.Tries[:len(v.Tries)-1]
}

// Unwind walks the try-frame stack looking for a handler, restoring the
// saved stack/call depths and running with-handlers registered above the
// restored depth in reverse order. Returns false (and leaves v untouched)
// if no try-frame remains, meaning the exception must surface to the
// embedder.
func (v *View) Unwind(exc value.Value) (handlerPC int, ok bool) {
	if len(v.Tries) == 0 {
		return 0, false
	}
	frame := v.Tries[len(v.Tries)-1]
	v.Tries = v.Tries[:len(v.Tries)-1]

	v.unwindWithsAbove(frame.WithTop)

	for len(v.Stack) > frame.StackTop {
		v.World.Release(v.Pop())
	}
	for len(v.Calls) > frame.FrameDepth {
		n := len(v.Calls) - 1
		dropped := v.Calls[n]
		for i := dropped.RegBase; i < dropped.RegBase+dropped.NumRegs; i++ {
			v.World.Release(v.Registers[i])
			v.Registers[i] = value.Value{}
		}
		if dropped.Closure != nil {
			v.World.Release(value.AdoptValue(dropped.Closure.Tag, dropped.Closure))
		}
		v.Calls = v.Calls[:n]
	}
	v.World.Release(v.Exception)
	v.Exception = exc
	return frame.CatchPC, true
}

// PushWith registers val for deterministic __close invocation on scope exit
// (spec §4.7 WPUSH).
func (v *View) PushWith(val value.Value) {
	v.Withs = append(v.Withs, WithFrame{Value: value.Copy(val)})
}

// PopWith closes and removes the innermost with-frame (spec WPOP, normal
// exit path). closeFn invokes the value's __close overload; it's injected
// by internal/vm since calling a user-level function requires the
// dispatch loop, which this package doesn't implement.
func (v *View) PopWith(closeFn func(val value.Value) error) error {
	n := len(v.Withs) - 1
	frame := v.Withs[n]
	v.Withs = v.Withs[:n]
	err := closeFn(frame.Value)
	v.World.Release(frame.Value)
	return err
}

// unwindWithsAbove closes every with-frame above with-stack depth withTop
// (those registered after the try-frame was pushed), in reverse order,
// during exception unwinding. The VM supplies
// the actual __close-invoking closure via SetCloser; Unwind calls it
// through v.closer so this package stays free of a call-protocol dependency.
func (v *View) unwindWithsAbove(withTop int) {
	if v.closer == nil {
		// No closer installed (e.g. compiling without a VM attached): drop
		// the with-values without invoking __close rather than leaking them.
		for len(v.Withs) > withTop {
			n := len(v.Withs) - 1
			v.World.Release(v.Withs[n].Value)
			v.Withs = v.Withs[:n]
		}
		return
	}
	for len(v.Withs) > withTop {
		n := len(v.Withs) - 1
		frame := v.Withs[n]
		v.Withs = v.Withs[:n]
		v.closer(frame.Value)
		v.World.Release(frame.Value)
	}
}

// SetCloser installs the __close-invoking callback used during exception
// unwinding. Normal WPOP does not use it: PopWith takes its own closeFn.
func (v *View) SetCloser(fn func(value.Value)) { v.closer = fn }
