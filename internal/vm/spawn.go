package vm

import (
	"uncil/internal/uerr"
	"uncil/internal/value"
	"uncil/internal/world"
)

// SpawnHandle is the join point for one Sub or SubDaemon view launched by
// Spawn. The spawned goroutine releases its own view when the call
// returns; Join only waits for and collects the results. A SubDaemon's
// Join is optional — Runtime.WaitDaemons joins every outstanding daemon at
// once instead.
type SpawnHandle struct {
	View    *world.View
	done    chan struct{}
	results []value.Value
	err     error
}

// Join blocks until the spawned view's call returns, yielding its result
// slice or the error that ended it.
func (h *SpawnHandle) Join() ([]value.Value, error) {
	<-h.done
	return h.results, h.err
}

// Spawn runs target as a fresh Sub or SubDaemon view's entry call,
// concurrently with resumer (spec §5: "parallel native threads are
// permitted... each thread owns its own View"). Acquiring a slot via
// Runtime.AcquireSubSlot bounds how many Sub/SubDaemon views may be live at
// once (world.Config.MaxSubViews); a SubDaemon's goroutine is additionally
// tracked by the runtime's daemon errgroup so WaitDaemons can join every
// outstanding one at shutdown.
func (m *Machine) Spawn(resumer *world.View, kind world.Kind, target value.Value, args []value.Value) (*SpawnHandle, error) {
	if kind != world.Sub && kind != world.SubDaemon {
		for _, a := range args {
			resumer.World.Release(a)
		}
		resumer.World.Release(target)
		return nil, uerr.BadArg("invalid-view-kind", "spawn kind must be Sub or SubDaemon")
	}
	if err := resumer.Runtime.AcquireSubSlot(); err != nil {
		for _, a := range args {
			resumer.World.Release(a)
		}
		resumer.World.Release(target)
		return nil, uerr.Fatal("acquire sub-view slot", err)
	}

	view := m.NewView(resumer.Runtime, kind)
	h := &SpawnHandle{View: view, done: make(chan struct{})}
	body := func() error {
		defer resumer.Runtime.ReleaseSubSlot()
		defer view.Release()
		results, err := m.invoke(view, target, args)
		h.results, h.err = results, err
		close(h.done)
		return err
	}
	if kind == world.SubDaemon {
		resumer.Runtime.GoDaemon(body)
	} else {
		go body()
	}
	return h, nil
}
