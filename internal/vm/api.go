package vm

import (
	"uncil/internal/bytecode"
	"uncil/internal/lexer"
	"uncil/internal/quad"
	"uncil/internal/program"
	"uncil/internal/value"
	"uncil/internal/world"
)

// Compile runs the full lexer -> quad compiler -> bytecode emitter pipeline
// spec §2's component table describes, turning source text into an
// immutable Program ready for Run.
func Compile(source string) (*program.Program, error) {
	lx := lexer.New(lexer.FromString(source))
	if err := lx.Scan(); err != nil {
		return nil, err
	}
	mod, err := quad.NewCompiler().Compile(lx.Tokens)
	if err != nil {
		return nil, err
	}
	return bytecode.Emit(mod)
}

// Run executes prog's main function against view to completion, returning
// whatever it returns (spec §6's embedder entry point). args are passed to
// main, but main declares no parameters, so bindArgs releases them unused.
func (m *Machine) Run(view *world.View, prog *program.Program, args []value.Value) ([]value.Value, error) {
	desc := prog.Functions[prog.MainIndex]
	fp := &value.FunctionPayload{
		Main:         desc.Flags&program.FlagMain != 0,
		RequiredArgs: desc.Required,
		TotalArgs:    desc.Required + desc.Optional,
		Program:      prog,
		PC:           int(desc.CodeOffset),
		JumpWidth:    int(desc.JumpWidth),
		Registers:    desc.Registers,
		FirstLocal:   desc.FirstLocal,
		ExhaleRegs:   append([]int(nil), desc.ExhaleRegs...),
	}
	mainFn := view.World.WakeValue(value.Function, fp)
	view.Program = prog

	var sink []value.Value
	floor := len(view.Calls)
	if err := m.pushFrame(view, mainFn, args, -1, &sink); err != nil {
		return nil, err
	}
	if err := m.runUntil(view, floor); err != nil {
		return nil, err
	}
	return sink, nil
}

// RegisterNative installs a native function under name in w's public table
// (spec §6's embedder API: natives are how an embedder extends the core
// with host capabilities — I/O, math beyond the operator set, and so on).
func RegisterNative(w *value.World, name string, required, total int, fn func(view *world.View, args []value.Value) ([]value.Value, error)) {
	payload := &value.FunctionPayload{
		Native:       true,
		Name:         name,
		RequiredArgs: required,
		TotalArgs:    total,
		NativeFn: func(udata interface{}, args []value.Value) ([]value.Value, error) {
			return fn(udata.(*world.View), args)
		},
	}
	val := w.WakeValue(value.Function, payload)
	w.PublicMu.Lock()
	old, existed := w.Public.Get(name)
	w.Public.Set(name, val)
	w.PublicMu.Unlock()
	if existed {
		w.Release(old)
	}
}
