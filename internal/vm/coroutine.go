package vm

import (
	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

// NewCoroutine wraps a fresh world.Coroutine bound to target as an Opaque
// Value a script or embedder can hold and later Resume. Script-facing
// bindings (a `coroutine` library module) are out of scope here — this is
// the Go-level primitive such a module would be built on (spec §4.9).
func (m *Machine) NewCoroutine(view *world.View, target value.Value) value.Value {
	co := view.Runtime.NewCoroutine(value.Copy(target))
	return view.World.WakeValue(value.Opaque, &value.OpaquePayload{UData: co})
}

func coroutineOf(v value.Value) (*world.Coroutine, bool) {
	e := v.Entity()
	if e == nil || e.Tag != value.Opaque {
		return nil, false
	}
	co, ok := e.Payload.(*value.OpaquePayload).UData.(*world.Coroutine)
	return co, ok
}

// CoroutineStatus reports v's lifecycle state, for an embedder or native
// function implementing `coroutine.status`.
func (m *Machine) CoroutineStatus(v value.Value) (world.Status, bool) {
	co, ok := coroutineOf(v)
	if !ok {
		return 0, false
	}
	return co.Status, true
}

// Resume drives coVal from resumer: on the first call it launches the
// coroutine body on a dedicated goroutine and blocks until it yields,
// returns, or errors; on later calls it hands args to the body (parked in
// Yield) over the resume channel. done reports whether the coroutine is now
// finished (spec §4.9: Done or Error are terminal).
func (m *Machine) Resume(resumer *world.View, coVal value.Value, args []value.Value) (values []value.Value, done bool, err error) {
	co, ok := coroutineOf(coVal)
	if !ok {
		for _, a := range args {
			resumer.World.Release(a)
		}
		return nil, false, uerr.Type("not-coroutine", "value is not a coroutine")
	}
	if err := co.CheckResumable(); err != nil {
		for _, a := range args {
			resumer.World.Release(a)
		}
		return nil, false, uerr.Logic("coroutine-not-resumable", err.Error())
	}
	co.Resumer = resumer
	co.Status = world.StatusRun
	if !co.Started() {
		co.MarkStarted()
		go m.runCoroutineBody(co, args)
	} else {
		co.SendResume(args)
	}
	sig := co.RecvYield()
	if sig.Err != nil {
		co.Finish(sig.Err)
		return nil, true, sig.Err
	}
	if sig.Done {
		co.Finish(nil)
		return sig.Values, true, nil
	}
	co.Status = world.StatusYield
	return sig.Values, false, nil
}

// runCoroutineBody is the dedicated goroutine that owns co.View for its
// entire lifetime: every call into m.invoke here blocks this goroutine, not
// the resumer's, so Yield (below) can safely park it on resumeCh.
func (m *Machine) runCoroutineBody(co *world.Coroutine, args []value.Value) {
	results, err := m.invoke(co.View, co.Target, args)
	if err != nil {
		co.SendYield(world.Signal{Err: err})
		return
	}
	co.SendYield(world.Signal{Values: results, Done: true})
}

// Yield is the body a `coroutine.yield` native installs; it must run on the
// goroutine driving view (i.e. inside a call reached from runCoroutineBody's
// m.invoke), never on the resumer's goroutine.
func (m *Machine) Yield(view *world.View, args []value.Value) ([]value.Value, error) {
	co := view.Coroutine
	if co == nil {
		return nil, uerr.Logic("yield-outside-coroutine", "yield called outside a coroutine view")
	}
	co.SendYield(world.Signal{Values: args})
	return co.RecvResume(), nil
}
