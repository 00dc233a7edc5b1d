package world

import "uncil/internal/value"

// Status is a coroutine's lifecycle state (spec §4.9).
type Status uint8

const (
	StatusInit Status = iota
	StatusRun
	StatusYield
	StatusDone
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusRun:
		return "run"
	case StatusYield:
		return "yield"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Coroutine wraps a dedicated sub-view plus the status machine spec §4.9
// describes. It is an opaque entity payload from internal/value's point of
// view (Entity.Payload holds *Coroutine via value.OpaquePayload.UData),
// keeping internal/value free of a dependency on internal/world.
//
// The coroutine's own bytecode runs on a dedicated goroutine; resumeCh and
// yieldCh hand control back and forth the way a cooperative fiber switch
// would in a single-threaded core, using the channel send/receive as the
// synchronization point instead of a hand-rolled context switch — only one
// side ever runs the VM at a time, the other is always blocked on a channel
// operation.
type Coroutine struct {
	View   *View
	Status Status

	Target value.Value // the function to invoke on first resume

	// Resumer is the view that last called Resume; Yield hands its values
	// back to it as a Signal over yieldCh.
	Resumer *View

	resumeCh chan []value.Value
	yieldCh  chan Signal
	started  bool
}

// Signal is one message a coroutine's body goroutine posts back to whoever
// resumed it: either a yielded value set (Done/Err both zero), a normal
// completion (Done true), or a propagated error (Err non-nil).
type Signal struct {
	Values []value.Value
	Err    error
	Done   bool
}

// NewCoroutine creates a coroutine bound to a fresh sub-view of rt, ready
// to run target on first Resume.
func (rt *Runtime) NewCoroutine(target value.Value) *Coroutine {
	v := rt.NewView(Sub)
	co := &Coroutine{
		View:     v,
		Status:   StatusInit,
		Target:   target,
		resumeCh: make(chan []value.Value),
		yieldCh:  make(chan Signal),
	}
	v.Coroutine = co
	return co
}

// Started reports whether the coroutine's body goroutine has been launched.
func (co *Coroutine) Started() bool { return co.started }

// MarkStarted records that the body goroutine has been launched; called
// once, by whichever Resume call transitions the coroutine out of Init.
func (co *Coroutine) MarkStarted() { co.started = true }

// SendResume hands resume arguments to the coroutine body parked at
// RecvResume after a prior yield. The first resume's arguments go straight
// to the newly launched body goroutine instead.
func (co *Coroutine) SendResume(args []value.Value) { co.resumeCh <- args }

// RecvResume blocks the coroutine's own goroutine until its next Resume.
func (co *Coroutine) RecvResume() []value.Value { return <-co.resumeCh }

// SendYield posts sig back to whichever view is blocked in RecvYield.
func (co *Coroutine) SendYield(sig Signal) { co.yieldCh <- sig }

// RecvYield blocks the resuming view's goroutine until the coroutine body
// yields, returns, or errors.
func (co *Coroutine) RecvYield() Signal { return <-co.yieldCh }

// CheckResumable reports whether Resume is legal right now (spec §4.9:
// only a coroutine parked in Init or Yield can be resumed).
func (co *Coroutine) CheckResumable() error {
	switch co.Status {
	case StatusInit, StatusYield:
		return nil
	default:
		return errCoroutineNotResumable
	}
}

// Finish marks the coroutine Done (normal return) or Error (propagated
// exception), matching spec §4.9's "Errors propagate by setting status to
// Error and re-throwing on resume."
func (co *Coroutine) Finish(err error) {
	if err != nil {
		co.Status = StatusError
		return
	}
	co.Status = StatusDone
}

type coroutineError string

func (e coroutineError) Error() string { return string(e) }

const errCoroutineNotResumable = coroutineError("coroutine: resume is only legal in Init or Yield status")
