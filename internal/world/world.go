// Package world implements the process-wide runtime state of spec §3
// ("World") and §4.9 ("Coroutines"): the set of live views, the module
// cache, and the concurrency primitives that bound how many sub-views may
// run at once.
//
// value.World already owns the allocator, entity list, and public-name
// table; Runtime is attached to it through value.World.Extra (an opaque
// interface{} field, kept that way specifically so internal/value never
// has to import this package back).
package world

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"uncil/internal/alloc"
	"uncil/internal/value"
)

// Config mirrors how internal/vmregister.NewRegisterVM takes its
// construction-time tuning as plain fields rather than parsed configuration
// — there is no config file/env parsing in the core, that belongs to the
// embedder (cmd/uncil).
type Config struct {
	Allocator       alloc.Func
	AllocatorUData  interface{}
	ModuleSearch    []string
	MaxSubViews     int   // bounds concurrent Sub/SubDaemon views via semaphore.Weighted
	GCEntityTrigger int64 // entity-count heuristic that requests a cycle sweep
}

func DefaultConfig() Config {
	return Config{MaxSubViews: 64, GCEntityTrigger: 100000}
}

// Runtime is the world.Extra payload: everything the VM/coroutine layer
// needs that value.World itself can't hold without importing upward.
type Runtime struct {
	ID uuid.UUID

	World *value.World
	Cache *ModuleCache

	viewMu  sync.Mutex
	views   *View // doubly linked list head
	viewCnt int

	subLimiter *semaphore.Weighted

	daemons errgroup.Group

	cfg Config
}

// New creates a World and its attached Runtime, wiring Runtime into
// World.Extra the way the spec's single combined "World" record does.
func New(cfg Config) *value.World {
	var a *alloc.Allocator
	if cfg.Allocator != nil {
		a = &alloc.Allocator{Fn: cfg.Allocator, UData: cfg.AllocatorUData}
	} else {
		a = alloc.Default()
	}
	w := value.NewWorld(a)

	rt := &Runtime{
		ID:         uuid.New(),
		World:      w,
		subLimiter: semaphore.NewWeighted(int64(maxInt(cfg.MaxSubViews, 1))),
		cfg:        cfg,
	}
	rt.Cache = NewModuleCache(cfg.ModuleSearch)
	w.Extra = rt
	return w
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RuntimeOf recovers the Runtime a value.World was built with. Panics if w
// wasn't built by New — every World the VM touches must carry one.
func RuntimeOf(w *value.World) *Runtime {
	return w.Extra.(*Runtime)
}

func (rt *Runtime) registerView(v *View) {
	rt.viewMu.Lock()
	defer rt.viewMu.Unlock()
	v.prev = nil
	v.next = rt.views
	if rt.views != nil {
		rt.views.prev = v
	}
	rt.views = v
	rt.viewCnt++
}

func (rt *Runtime) unregisterView(v *View) {
	rt.viewMu.Lock()
	defer rt.viewMu.Unlock()
	if v.prev != nil {
		v.prev.next = v.next
	} else if rt.views == v {
		rt.views = v.next
	}
	if v.next != nil {
		v.next.prev = v.prev
	}
	v.next, v.prev = nil, nil
	rt.viewCnt--
}

// EachView visits every live view once, used by the GC's root-marking pass.
func (rt *Runtime) EachView(fn func(*View)) {
	rt.viewMu.Lock()
	head := rt.views
	rt.viewMu.Unlock()
	for v := head; v != nil; v = v.next {
		fn(v)
	}
}

func (rt *Runtime) ViewCount() int {
	rt.viewMu.Lock()
	defer rt.viewMu.Unlock()
	return rt.viewCnt
}

// AcquireSubSlot bounds how many Sub/SubDaemon views may run concurrently
// (spec §5); released by the caller once the sub-view's loop returns.
func (rt *Runtime) AcquireSubSlot() error {
	return rt.subLimiter.Acquire(context.Background(), 1)
}

// AcquireSubSlotCtx is AcquireSubSlot for callers that want cancellation
// (an embedder enforcing a deadline on spawning sub-views).
func (rt *Runtime) AcquireSubSlotCtx(ctx context.Context) error {
	return rt.subLimiter.Acquire(ctx, 1)
}

func (rt *Runtime) ReleaseSubSlot() {
	rt.subLimiter.Release(1)
}

// GoDaemon runs fn on a new goroutine tracked by rt's daemon errgroup. A
// SubDaemon view's whole point is that it doesn't block process exit (spec
// §5), but an embedder that wants a clean shutdown still needs a join
// point for whatever daemons are still running — WaitDaemons is that point.
func (rt *Runtime) GoDaemon(fn func() error) {
	rt.daemons.Go(fn)
}

// WaitDaemons blocks until every goroutine started via GoDaemon has
// returned, propagating the first non-nil error (errgroup.Group
// semantics). An embedder with no outstanding daemons gets a nil error
// immediately.
func (rt *Runtime) WaitDaemons() error {
	return rt.daemons.Wait()
}
