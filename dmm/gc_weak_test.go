package dmm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Upgrade
// ---------------------------------------------------------------------------

func TestUpgradeLiveTarget(t *testing.T) {
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		g := New(mc, node{name: "x"})
		root.head.Set(mc, g)
		root.weak = g.Downgrade()
	})
	a.CollectAll()
	a.Enter(func(mc *Mutation, root *testRoot) {
		g, ok := root.weak.Upgrade(mc)
		if !ok {
			t.Fatal("Upgrade of a reachable target failed")
		}
		if g.Get().name != "x" {
			t.Errorf("upgraded name = %q, want %q", g.Get().name, "x")
		}
	})
}

func TestUpgradeDroppedTarget(t *testing.T) {
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		root.weak = New(mc, node{name: "x"}).Downgrade()
	})
	a.CollectAll()
	a.Enter(func(mc *Mutation, root *testRoot) {
		if !root.weak.IsDropped() {
			t.Fatal("IsDropped should be true")
		}
		if _, ok := root.weak.Upgrade(mc); ok {
			t.Error("Upgrade of a dropped target succeeded")
		}
	})
}

func TestUpgradeDuringMarkingGraysTarget(t *testing.T) {
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		root.head.Set(mc, chain(mc, nil, "n", 10))
		root.weak = New(mc, node{name: "weak"}).Downgrade()
	})
	a.Step(1)
	if a.Phase() != PhaseMarking {
		t.Fatalf("Phase() = %v, want marking", a.Phase())
	}
	a.Enter(func(mc *Mutation, root *testRoot) {
		g, ok := root.weak.Upgrade(mc)
		if !ok {
			t.Fatal("Upgrade during marking failed")
		}
		if g.box.color != gray {
			t.Errorf("upgraded target is %v, want gray", g.box.color)
		}
	})
	finishCycle(t, a)
	a.Enter(func(mc *Mutation, root *testRoot) {
		if root.weak.IsDropped() {
			t.Error("target upgraded during marking was dropped in the same cycle")
		}
	})
}

func TestUpgradeFailsOnceDoomed(t *testing.T) {
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		root.weak = New(mc, node{name: "doomed"}).Downgrade()
	})

	m := a.MarkAll()
	m.Finalize(func(fc *Finalization, root *testRoot) {
		if _, ok := root.weak.Upgrade(fc.Mutation); ok {
			t.Error("Upgrade of a doomed target succeeded while finalizing")
		}
		if !root.weak.IsDead(fc) {
			t.Error("IsDead should be true for an unmarked target")
		}
	})
	m.StartSweeping()

	a.Enter(func(mc *Mutation, root *testRoot) {
		if a.Phase() != PhaseSweeping {
			t.Fatalf("Phase() = %v, want sweeping", a.Phase())
		}
		if root.weak.IsDropped() {
			t.Fatal("target reclaimed before the sweeper reached it")
		}
		if _, ok := root.weak.Upgrade(mc); ok {
			t.Error("Upgrade of a doomed target succeeded while sweeping")
		}

		// Allocations made while sweeping are not doomed.
		fresh := New(mc, node{name: "fresh"})
		if _, ok := fresh.Downgrade().Upgrade(mc); !ok {
			t.Error("Upgrade of a fresh allocation failed while sweeping")
		}
	})

	a.Step(math.Inf(1))
	if !a.c.all.live {
		t.Error("fresh allocation was swept")
	}
	a.Enter(func(mc *Mutation, root *testRoot) {
		if !root.weak.IsDropped() {
			t.Error("doomed target survived the sweep")
		}
	})
}

func TestZeroWeakQueries(t *testing.T) {
	var w GcWeak[node]
	if !w.IsDropped() {
		t.Error("zero GcWeak IsDropped() = false, want true")
	}
	a := newTestArena()
	m := a.MarkAll()
	m.Finalize(func(fc *Finalization, root *testRoot) {
		if !w.IsDead(fc) {
			t.Error("zero GcWeak IsDead() = false, want true")
		}
		if _, ok := w.Resurrect(fc); ok {
			t.Error("zero GcWeak Resurrect() succeeded")
		}
	})
	m.StartSweeping()
	a.Step(math.Inf(1))
}

func TestUpgradeSweptSurvivor(t *testing.T) {
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		g := New(mc, node{name: "kept"})
		root.head.Set(mc, g)
		root.weak = g.Downgrade()
	})
	m := a.MarkAll()
	m.StartSweeping()
	// Sweep just the survivor, which resets it to white.
	a.Step(1)
	a.Enter(func(mc *Mutation, root *testRoot) {
		if root.weak.box.color != white {
			t.Fatalf("survivor is %v after one sweep step, want white", root.weak.box.color)
		}
		if _, ok := root.weak.Upgrade(mc); !ok {
			t.Error("Upgrade of a swept survivor failed")
		}
	})
}

// ---------------------------------------------------------------------------
// Finalization and resurrection
// ---------------------------------------------------------------------------

func TestResurrectKeepsTransitiveGraph(t *testing.T) {
	log := newDropLog()
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		x := chain(mc, log, "x", 3)
		root.weak = x.Downgrade()
	})

	m := a.MarkAll()
	m.Finalize(func(fc *Finalization, root *testRoot) {
		if !root.weak.IsDead(fc) {
			t.Fatal("x should be dead before resurrection")
		}
		if root.weak.IsDropped() {
			t.Fatal("x should not be dropped while finalizing")
		}
		x, ok := root.weak.Resurrect(fc)
		if !ok {
			t.Fatal("Resurrect failed")
		}
		if root.weak.IsDead(fc) {
			t.Error("x should not be dead after resurrection")
		}
		// Children are revived only once marking resumes.
		if !x.Get().next.Get().IsDead(fc) {
			t.Error("child of x should still look dead within the same callback")
		}
	})
	m.Finalize(func(fc *Finalization, root *testRoot) {
		x, _ := root.weak.Upgrade(fc.Mutation)
		if x.IsNil() {
			t.Fatal("resurrected x cannot be upgraded in a later round")
		}
		for g := x; !g.IsNil(); g = g.Get().next.Get() {
			if g.IsDead(fc) {
				t.Errorf("%s still dead after marking resumed", g.Get().name)
			}
		}
	})
	m.StartSweeping()
	finishCycle(t, a)

	if got := log.total(); got != 0 {
		t.Errorf("drops after resurrection = %d, want 0", got)
	}

	// Nothing holds x now; it goes in the next cycle, exactly once each.
	a.CollectAll()
	if got := log.total(); got != 3 {
		t.Errorf("drops after next cycle = %d, want 3", got)
	}
	for name, n := range log.counts {
		if n != 1 {
			t.Errorf("Drop(%s) ran %d times, want 1", name, n)
		}
	}
}

func TestResurrectStoredInRootSurvives(t *testing.T) {
	log := newDropLog()
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		root.weak = chain(mc, log, "x", 2).Downgrade()
	})

	m := a.MarkAll()
	m.Finalize(func(fc *Finalization, root *testRoot) {
		x, ok := root.weak.Resurrect(fc)
		if !ok {
			t.Fatal("Resurrect failed")
		}
		root.head.Set(fc.Mutation, x)
	})
	m.StartSweeping()
	finishCycle(t, a)
	a.CollectAll()

	if got := log.total(); got != 0 {
		t.Errorf("drops = %d, want 0", got)
	}
}

func TestResurrectDroppedFails(t *testing.T) {
	a := newTestArena()
	a.Enter(func(mc *Mutation, root *testRoot) {
		root.weak = New(mc, node{name: "x"}).Downgrade()
	})
	a.CollectAll()
	a.MarkAll().Finalize(func(fc *Finalization, root *testRoot) {
		if !root.weak.IsDead(fc) {
			t.Error("dropped target should be dead")
		}
		if _, ok := root.weak.Resurrect(fc); ok {
			t.Error("Resurrect of a dropped target succeeded")
		}
	})
}

func TestFinalizationOutsideFinalizePanics(t *testing.T) {
	a := newTestArena()
	var escaped *Finalization
	var w GcWeak[node]
	a.Enter(func(mc *Mutation, root *testRoot) {
		w = New(mc, node{name: "x"}).Downgrade()
	})
	a.MarkAll().Finalize(func(fc *Finalization, root *testRoot) {
		escaped = fc
	})
	expectPanic(t, ErrMutationInactive, func() { w.IsDead(escaped) })
}
