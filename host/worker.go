package host

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/chazu/tcvm/dmm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tcvm.host")

// ErrStopped is returned by Do and Inspect once the worker has stopped.
var ErrStopped = errors.New("host: worker stopped")

// Mode selects the collection work a Worker performs between requests.
type Mode int

const (
	// CollectDebt pays off the allocation debt.
	CollectDebt Mode = iota
	// CollectStep performs a fixed budget of work.
	CollectStep
	// CollectAll runs a full collection.
	CollectAll
	// CollectNone leaves collection to the caller.
	CollectNone
)

var modeNames = [...]string{"debt", "step", "all", "none"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown collection mode %q", s)
}

// Options configures a Worker. The zero value collects debt with a queue of
// 64 requests.
type Options struct {
	Mode       Mode
	StepBudget float64
	Queue      int
}

type request[R dmm.Collect] struct {
	fn      func(a *dmm.Arena[R]) any
	done    chan result
	collect bool
}

type result struct {
	value any
	err   error
}

// Worker serializes all access to an arena through a single goroutine.
// Callers on any goroutine submit work with Do; between requests the worker
// collects according to its Options.
type Worker[R dmm.Collect] struct {
	arena      *dmm.Arena[R]
	opts       Options
	finalizers *Finalizers[R]

	requests chan request[R]
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	served   uint64
}

// NewWorker creates a Worker for a and starts its goroutine. The worker
// owns a from then on: touching it from elsewhere is a data race.
func NewWorker[R dmm.Collect](a *dmm.Arena[R], opts Options) *Worker[R] {
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	if opts.Mode == CollectStep && opts.StepBudget <= 0 {
		opts.StepBudget = 4096
	}
	w := &Worker[R]{
		arena:      a,
		opts:       opts,
		finalizers: NewFinalizers[R](),
		requests:   make(chan request[R], opts.Queue),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Finalizers returns the registry run whenever the worker's collection
// completes a marking pass.
func (w *Worker[R]) Finalizers() *Finalizers[R] {
	return w.finalizers
}

func (w *Worker[R]) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
			if !req.collect {
				continue
			}
			w.served++
			if err := w.collect(); err != nil {
				log.Errorf("collection after request %d: %s", w.served, err)
			}
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics. Panics carrying an error keep it
// in the chain so callers can match sentinels with errors.Is.
func (w *Worker[R]) execute(fn func(a *dmm.Arena[R]) any) result {
	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					res.err = fmt.Errorf("request panicked: %w", err)
				} else {
					res.err = fmt.Errorf("request panicked: %v", r)
				}
			}
		}()
		res.value = fn(w.arena)
	}()
	return res
}

func (w *Worker[R]) collect() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	fin := w.finalizers.Len() > 0
	switch w.opts.Mode {
	case CollectNone:
	case CollectAll:
		if !fin {
			w.arena.CollectAll()
			return nil
		}
		m := w.arena.MarkAll()
		w.finalizers.Run(m)
		m.StartSweeping()
		w.arena.Step(math.Inf(1))
	case CollectStep:
		if !fin {
			w.arena.Step(w.opts.StepBudget)
			return nil
		}
		w.markDebt()
	default:
		if !fin {
			w.arena.CollectDebt()
			return nil
		}
		w.markDebt()
	}
	return nil
}

// markDebt is CollectDebt with a finalization pass between marking and
// sweeping.
func (w *Worker[R]) markDebt() {
	if m := w.arena.MarkDebt(); m != nil {
		n := w.finalizers.Run(m)
		if n > 0 && log.AllowLevel(commonlog.Debug) {
			log.Debugf("arena %s: %d finalizers fired", w.arena.ID(), n)
		}
		m.StartSweeping()
	}
}

func (w *Worker[R]) submit(fn func(a *dmm.Arena[R]) any, collect bool) (any, error) {
	req := request[R]{
		fn:      fn,
		done:    make(chan result, 1),
		collect: collect,
	}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return nil, ErrStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.stopped:
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
			return nil, ErrStopped
		}
	}
}

// Do runs fn inside the arena on the worker goroutine and blocks until it
// completes. The returned value must not contain Gc pointers. Calling Do
// from inside fn deadlocks.
func (w *Worker[R]) Do(fn func(mc *dmm.Mutation, root R) any) (any, error) {
	return w.submit(func(a *dmm.Arena[R]) any {
		var out any
		a.Enter(func(mc *dmm.Mutation, root R) {
			out = fn(mc, root)
		})
		return out
	}, true)
}

// Inspect runs fn on the worker goroutine between requests, with the arena
// idle. It is the place to read metrics or take snapshots. Unlike Do it is
// not followed by collection work.
func (w *Worker[R]) Inspect(fn func(a *dmm.Arena[R])) error {
	_, err := w.submit(func(a *dmm.Arena[R]) any {
		fn(a)
		return nil
	}, false)
	return err
}

// Stop shuts down the worker goroutine and waits for it to exit. Requests
// still queued fail with ErrStopped. The arena is left open.
func (w *Worker[R]) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	<-w.stopped
}
