package host

import (
	"sync"

	"github.com/chazu/tcvm/dmm"
)

// ---------------------------------------------------------------------------
// Finalizers: ordered callbacks between marking and sweeping
// ---------------------------------------------------------------------------

type finalizer[R dmm.Collect] struct {
	target dmm.GcWeak[dmm.Unit]
	watch  bool
	fn     func(fc *dmm.Finalization, root R, target dmm.GcWeak[dmm.Unit])
}

// Finalizers is an ordered registry of callbacks run inside
// MarkedArena.Finalize. Callbacks run in registration order. Hooks run on
// every pass; watches run once, on the first pass that finds their target
// dead, and are then forgotten.
//
// IsDead answers as of the moment it is asked: an object resurrected by an
// earlier callback is alive to later ones, but objects reachable only from
// it stay dead until marking resumes.
type Finalizers[R dmm.Collect] struct {
	mu      sync.Mutex
	entries []finalizer[R]
}

// NewFinalizers returns an empty registry.
func NewFinalizers[R dmm.Collect]() *Finalizers[R] {
	return &Finalizers[R]{}
}

// Hook registers fn to run on every finalization pass.
func (f *Finalizers[R]) Hook(fn func(fc *dmm.Finalization, root R)) {
	f.add(finalizer[R]{fn: func(fc *dmm.Finalization, root R, _ dmm.GcWeak[dmm.Unit]) {
		fn(fc, root)
	}})
}

// Watch registers fn to run once target is found dead. fn may resurrect the
// target; to be told again it must watch it again. A zero target is never
// watched, and Watch reports false for it.
func Watch[R dmm.Collect, T any](f *Finalizers[R], target dmm.GcWeak[T], fn func(fc *dmm.Finalization, target dmm.GcWeak[T])) bool {
	if target.IsNil() {
		return false
	}
	f.add(finalizer[R]{
		target: target.Erase(),
		watch:  true,
		fn: func(fc *dmm.Finalization, _ R, w dmm.GcWeak[dmm.Unit]) {
			fn(fc, dmm.CastWeak[T](w))
		},
	})
	return true
}

func (f *Finalizers[R]) add(e finalizer[R]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

// Len returns the number of registered hooks and pending watches.
func (f *Finalizers[R]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Run performs one finalization pass over m and returns the number of
// watches that fired. Watches whose target was reclaimed without being
// seen dead are dropped silently. Callbacks may register new entries; they
// take part from the next pass on.
func (f *Finalizers[R]) Run(m *dmm.MarkedArena[R]) int {
	f.mu.Lock()
	entries := f.entries
	f.entries = nil
	f.mu.Unlock()

	kept := make([]finalizer[R], 0, len(entries))
	fired := 0
	i := 0
	defer func() {
		// Entries not reached because a callback panicked stay registered.
		kept = append(kept, entries[i:]...)
		f.mu.Lock()
		f.entries = append(kept, f.entries...)
		f.mu.Unlock()
	}()

	m.Finalize(func(fc *dmm.Finalization, root R) {
		for i < len(entries) {
			e := entries[i]
			i++
			switch {
			case !e.watch:
				kept = append(kept, e)
				e.fn(fc, root, e.target)
			case e.target.IsDropped():
			case !e.target.IsDead(fc):
				kept = append(kept, e)
			default:
				fired++
				e.fn(fc, root, e.target)
			}
		}
	})
	return fired
}
