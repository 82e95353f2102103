package dmm

import (
	"errors"
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Test heap types
// ---------------------------------------------------------------------------

// dropLog counts Drop calls per node name.
type dropLog struct {
	counts map[string]int
}

func newDropLog() *dropLog {
	return &dropLog{counts: make(map[string]int)}
}

func (l *dropLog) total() int {
	n := 0
	for _, c := range l.counts {
		n += c
	}
	return n
}

type node struct {
	name string
	next Lock[Gc[node]]
	kids []Gc[node]
	log  *dropLog
}

func (n *node) NeedsTrace() bool { return true }

func (n *node) Trace(cc *Tracer) {
	n.next.Trace(cc)
	TraceSlice(cc, n.kids)
}

func (n *node) Drop() {
	if n.log != nil {
		n.log.counts[n.name]++
	}
}

// blob never holds handles.
type blob struct {
	data [64]byte
}

func (*blob) NeedsTrace() bool { return false }
func (*blob) Trace(*Tracer)    {}

type testRoot struct {
	head  Lock[Gc[node]]
	all   []Gc[node]
	blobs []Gc[blob]
	weak  GcWeak[node]
	roots DynamicRootSet
}

func (r *testRoot) NeedsTrace() bool { return true }

func (r *testRoot) Trace(cc *Tracer) {
	r.head.Trace(cc)
	TraceSlice(cc, r.all)
	TraceSlice(cc, r.blobs)
	r.roots.Trace(cc)
}

func newTestArena() *Arena[*testRoot] {
	return NewArena(func(mc *Mutation) *testRoot {
		return &testRoot{}
	})
}

func newNode(mc *Mutation, log *dropLog, name string) Gc[node] {
	return New(mc, node{name: name, log: log})
}

// chain allocates n nodes linked through next and returns the first.
func chain(mc *Mutation, log *dropLog, prefix string, n int) Gc[node] {
	var head Gc[node]
	for i := n - 1; i >= 0; i-- {
		nd := newNode(mc, log, fmt.Sprintf("%s%d", prefix, i))
		nd.Get().next.Set(mc, head)
		head = nd
	}
	return head
}

// ---------------------------------------------------------------------------
// Graph inspection
// ---------------------------------------------------------------------------

// childrenOf returns the boxes b refers to directly.
func childrenOf(c *collector, b *gcBox) []*gcBox {
	var out []*gcBox
	cc := &Tracer{c: c, current: b, visit: func(child *gcBox) {
		out = append(out, child)
	}}
	b.vt.trace(b.value, cc)
	return out
}

// reachable returns every box reachable from the root of a.
func reachable[R Collect](a *Arena[R]) map[*gcBox]bool {
	seen := make(map[*gcBox]bool)
	var stack []*gcBox
	visit := func(b *gcBox) {
		if !seen[b] {
			seen[b] = true
			stack = append(stack, b)
		}
	}
	a.c.traceRoot(&Tracer{c: a.c, visit: visit})
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cc := &Tracer{c: a.c, current: b, visit: visit}
		b.vt.trace(b.value, cc)
	}
	return seen
}

// checkInvariant fails the test if a black allocation points at a white one
// while a marking pass is in progress.
func checkInvariant(t *testing.T, c *collector, when string) {
	t.Helper()
	if c.phase != PhaseMarking && c.phase != PhaseFinalizing {
		return
	}
	for b := c.all; b != nil; b = b.next {
		if !b.live || b.color != black {
			continue
		}
		for _, child := range childrenOf(c, b) {
			if child.live && child.color == white {
				t.Fatalf("%s: black %s references white %s", when, b.vt.typ, child.vt.typ)
			}
		}
	}
}

// liveCount counts allocations on the list.
func liveCount(c *collector) int {
	n := 0
	for b := c.all; b != nil; b = b.next {
		if b.live {
			n++
		}
	}
	return n
}

// expectPanic runs fn and checks that it panics with want.
func expectPanic(t *testing.T, want error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic %v, got none", want)
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, want) {
			t.Fatalf("panic = %v, want %v", r, want)
		}
	}()
	fn()
}

// finishCycle runs collection until the collector sleeps again.
func finishCycle[R Collect](t *testing.T, a *Arena[R]) {
	t.Helper()
	for i := 0; a.Phase() != PhaseSleeping; i++ {
		if i > 1_000_000 {
			t.Fatal("cycle did not finish")
		}
		a.Step(1 << 20)
	}
}
