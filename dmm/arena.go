package dmm

import (
	"github.com/google/uuid"
)

// Arena owns a graph of allocations rooted at a single value of type R. All
// access to the graph goes through Enter; between callbacks the arena owns
// everything exclusively and the host may ask it to collect.
//
// R is normally a pointer to a struct implementing Collect. Fields of the
// root may be changed freely inside a callback; the root is traced again
// whenever it may have changed.
type Arena[R Collect] struct {
	c    *collector
	root R
}

// NewArena creates an arena whose root is built by f.
func NewArena[R Collect](f func(mc *Mutation) R) *Arena[R] {
	a, _ := TryNewArena(func(mc *Mutation) (R, error) {
		return f(mc), nil
	})
	return a
}

// TryNewArena is NewArena with a fallible constructor. If f fails, anything
// it allocated is dropped and the error is returned.
func TryNewArena[R Collect](f func(mc *Mutation) (R, error)) (*Arena[R], error) {
	a := &Arena[R]{c: newCollector(DefaultPacing)}
	a.c.traceRoot = func(cc *Tracer) {
		cc.Trace(a.root)
	}

	mc := a.c.begin(false)
	root, err := func() (R, error) {
		defer a.c.end(mc)
		return f(mc)
	}()
	if err != nil {
		a.c.close()
		return nil, err
	}
	a.root = root
	a.c.rootTraceable = root.NeedsTrace()
	return a, nil
}

// ID identifies the arena. Dynamic roots remember it.
func (a *Arena[R]) ID() uuid.UUID {
	return a.c.id
}

// Enter runs f with a Mutation and the root.
func (a *Arena[R]) Enter(f func(mc *Mutation, root R)) {
	mc := a.c.begin(false)
	defer a.c.end(mc)
	f(mc, a.root)
}

// EnterRoot runs f with a pointer to the root, so the root itself can be
// replaced.
func (a *Arena[R]) EnterRoot(f func(mc *Mutation, root *R)) {
	mc := a.c.begin(false)
	defer a.c.end(mc)
	f(mc, &a.root)
}

// Mutate runs f inside the arena and returns its result. The result must not
// contain Gc pointers: they are not valid outside the callback.
func Mutate[R Collect, T any](a *Arena[R], f func(mc *Mutation, root R) T) T {
	var out T
	a.Enter(func(mc *Mutation, root R) {
		out = f(mc, root)
	})
	return out
}

// Phase returns the collector's current phase.
func (a *Arena[R]) Phase() Phase {
	return a.c.phase
}

// Metrics returns the arena's allocation metrics.
func (a *Arena[R]) Metrics() *Metrics {
	return a.c.metrics
}

// SetPacing replaces the pacing parameters.
func (a *Arena[R]) SetPacing(p Pacing) {
	a.c.metrics.SetPacing(p)
}

// CollectDebt performs as much collection work as the current allocation
// debt calls for. It does nothing while the debt is zero.
func (a *Arena[R]) CollectDebt() {
	a.c.collectDebt()
}

// CollectAll runs the collector until everything that was unreachable when
// it was called has been dropped. If a cycle is in progress it is finished
// first and then a full cycle is run.
func (a *Arena[R]) CollectAll() {
	a.c.collectAll()
}

// Step performs about budget units of collection work, starting a cycle if
// the collector is sleeping, and reports whether the cycle is complete.
// Marking an allocation costs its size in bytes.
func (a *Arena[R]) Step(budget float64) bool {
	return a.c.step(budget)
}

// MarkDebt performs marking work as the allocation debt calls for, but never
// sweeps. If marking is complete afterwards it returns the arena in its
// marked state, otherwise nil.
func (a *Arena[R]) MarkDebt() *MarkedArena[R] {
	if !a.c.markDebt() {
		return nil
	}
	return &MarkedArena[R]{a: a}
}

// MarkAll completes marking, finishing any sweep in progress first and
// starting a new cycle if needed.
func (a *Arena[R]) MarkAll() *MarkedArena[R] {
	a.c.markAll()
	return &MarkedArena[R]{a: a}
}

// Close drops every live allocation exactly once. The arena cannot be used
// afterwards.
func (a *Arena[R]) Close() {
	a.c.close()
}

// MarkedArena is an arena whose marking pass is complete: every object not
// reached is doomed but none has been reclaimed.
type MarkedArena[R Collect] struct {
	a *Arena[R]
}

// Finalize runs f with a Finalization capability. Objects resurrected by
// an earlier call (or written through a barrier since) are marked
// transitively before f runs, so f can be called repeatedly to run several
// rounds of finalization.
func (m *MarkedArena[R]) Finalize(f func(fc *Finalization, root R)) {
	c := m.a.c
	c.checkIdle()
	c.finishMarking()
	mc := c.begin(true)
	defer c.end(mc)
	f(&Finalization{Mutation: mc}, m.a.root)
}

// StartSweeping completes any marking left over from finalization and
// begins reclaiming doomed objects. The sweep itself proceeds through the
// usual collection calls.
func (m *MarkedArena[R]) StartSweeping() {
	c := m.a.c
	c.checkIdle()
	if c.phase == PhaseSweeping {
		return
	}
	c.finishMarking()
	c.startSweep()
}

// Arena returns the underlying arena.
func (m *MarkedArena[R]) Arena() *Arena[R] {
	return m.a
}
