package dmm

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// Phase is the state of an arena's collection cycle.
type Phase int

const (
	// PhaseSleeping is the idle gap between cycles.
	PhaseSleeping Phase = iota
	// PhaseMarking traces the graph incrementally from the root.
	PhaseMarking
	// PhaseFinalizing means marking is complete but nothing has been
	// reclaimed yet. Weak pointers to unmarked objects can no longer be
	// upgraded, only resurrected.
	PhaseFinalizing
	// PhaseSweeping reclaims unmarked allocations one at a time.
	PhaseSweeping
)

func (p Phase) String() string {
	switch p {
	case PhaseSleeping:
		return "sleeping"
	case PhaseMarking:
		return "marking"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseSweeping:
		return "sweeping"
	}
	return "unknown"
}

// collector is the per-arena engine. It owns the allocation list and every
// piece of phase state; nothing here is shared between arenas.
type collector struct {
	id      uuid.UUID
	metrics *Metrics
	phase   Phase
	closed  bool

	// traceRoot traces the arena root. rootTraceable caches the root's
	// NeedsTrace, rootNeedsTrace is set whenever the root may have changed
	// since it was last traced in this cycle.
	traceRoot      func(cc *Tracer)
	rootTraceable  bool
	rootNeedsTrace bool

	all       *gcBox
	sweep     *gcBox
	sweepPrev *gcBox
	pass      uint32

	gray      []*gcBox
	grayAgain []*gcBox
	tracer    Tracer

	active     *Mutation
	finalizing bool
}

func newCollector(p Pacing) *collector {
	return &collector{
		id:      uuid.New(),
		metrics: newMetrics(p),
	}
}

// --- Mutation scopes

// Mutation is the capability to allocate and to write through locks. It is
// valid only inside the callback it was passed to.
type Mutation struct {
	c *collector
}

// Finalization is handed out by MarkedArena.Finalize. Besides everything a
// Mutation allows it can ask whether objects are doomed and resurrect them.
type Finalization struct {
	*Mutation
}

func (mc *Mutation) check() *collector {
	if mc == nil || mc.c.active != mc {
		panic(ErrMutationInactive)
	}
	return mc.c
}

func (fc *Finalization) check() *collector {
	if fc == nil {
		panic(ErrMutationInactive)
	}
	c := fc.Mutation.check()
	if !c.finalizing {
		panic(ErrMutationInactive)
	}
	return c
}

// Metrics returns the arena's allocation metrics.
func (mc *Mutation) Metrics() *Metrics {
	return mc.check().metrics
}

// ArenaID identifies the arena this mutation belongs to.
func (mc *Mutation) ArenaID() uuid.UUID {
	return mc.check().id
}

// AddExternal records n bytes of memory owned by arena objects but allocated
// outside the arena. It counts toward allocation debt like arena bytes.
func (mc *Mutation) AddExternal(n uint64) {
	mc.check().metrics.addExternal(n)
}

// RemoveExternal records that n bytes of external memory were released.
func (mc *Mutation) RemoveExternal(n uint64) {
	mc.check().metrics.removeExternal(n)
}

func (c *collector) begin(finalizing bool) *Mutation {
	if c.closed {
		panic(ErrArenaClosed)
	}
	if c.active != nil {
		panic(ErrReentrantEnter)
	}
	mc := &Mutation{c: c}
	c.active = mc
	c.finalizing = finalizing
	if c.phase == PhaseMarking || c.phase == PhaseFinalizing {
		// The callback receives the root and may change it.
		c.rootNeedsTrace = c.rootTraceable
		if c.phase == PhaseFinalizing && !finalizing && c.rootNeedsTrace {
			c.phase = PhaseMarking
		}
	}
	return mc
}

func (c *collector) end(mc *Mutation) {
	if c.active == mc {
		c.active = nil
		c.finalizing = false
	}
}

func (c *collector) checkIdle() {
	if c.closed {
		panic(ErrArenaClosed)
	}
	if c.active != nil {
		panic(ErrCollectInMutation)
	}
}

// --- Allocation and barriers

func (c *collector) allocate(b *gcBox) {
	b.c = c
	b.live = true
	b.next = c.all
	b.swept = c.pass
	c.all = b
	c.metrics.markAllocation(b.size)

	switch c.phase {
	case PhaseMarking, PhaseFinalizing:
		// The new value may hold pointers the current pass has not seen.
		if b.needsTrace {
			b.color = gray
			c.gray = append(c.gray, b)
			c.phase = PhaseMarking
		} else {
			b.color = black
			c.metrics.markTraced(b.size)
		}
	case PhaseSweeping:
		b.color = white
		if c.sweepPrev == nil {
			c.sweepPrev = b
		}
	default:
		b.color = white
	}
}

// markReachable records that b was reached by tracing.
func (c *collector) markReachable(b *gcBox) {
	if b.c != c {
		panic(ErrForeignPointer)
	}
	if !b.live || b.color != white {
		return
	}
	if b.needsTrace {
		b.color = gray
		c.gray = append(c.gray, b)
	} else {
		b.color = black
		c.metrics.markTraced(b.size)
	}
}

// writeBarrier re-queues a black container that is about to be written, so
// any pointer stored into it is traced before marking completes.
func (c *collector) writeBarrier(b *gcBox) {
	if b == nil || b.color != black || !b.needsTrace {
		return
	}
	if c.phase != PhaseMarking && c.phase != PhaseFinalizing {
		return
	}
	b.color = gray
	c.grayAgain = append(c.grayAgain, b)
	c.phase = PhaseMarking
}

// upgrade decides whether a weak pointer to b may be turned into a strong one.
func (c *collector) upgrade(b *gcBox) bool {
	if !b.live {
		return false
	}
	if c.finalizing {
		// Resurrection may have resumed marking, but inside Finalize only
		// Resurrect can bring a doomed object back.
		return b.color != white
	}
	switch c.phase {
	case PhaseMarking:
		c.markReachable(b)
	case PhaseFinalizing:
		if b.color == white {
			return false
		}
	case PhaseSweeping:
		// Objects the sweeper has not reached yet are still white if they
		// are about to be reclaimed.
		if b.color == white && b.swept != c.pass {
			return false
		}
	}
	return true
}

// resurrect revives a doomed object during finalization.
func (c *collector) resurrect(b *gcBox) bool {
	if b == nil || !b.live {
		return false
	}
	if b.color == white {
		c.markReachable(b)
		if b.color == gray {
			c.phase = PhaseMarking
		}
	}
	return true
}

// --- Collection work

func (c *collector) dirty() bool {
	return c.rootNeedsTrace || len(c.gray) > 0 || len(c.grayAgain) > 0
}

func (c *collector) wake() {
	c.phase = PhaseMarking
	c.rootNeedsTrace = c.rootTraceable
	c.metrics.startCycle(time.Now())
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("arena %s: cycle %d marking, %d bytes allocated", c.id, c.metrics.cycles+1, c.metrics.TotalAllocated())
	}
}

// run performs collection work until budget units have been spent or the
// current cycle ends. With stopAtFinalize set it also stops once marking is
// complete, before anything is reclaimed.
func (c *collector) run(budget float64, stopAtFinalize bool) float64 {
	if c.phase == PhaseSleeping {
		c.wake()
	}
	var spent float64
	for spent < budget {
		switch c.phase {
		case PhaseMarking:
			before := c.metrics.work
			c.markOne()
			spent += c.metrics.work - before
		case PhaseFinalizing:
			if c.dirty() {
				c.phase = PhaseMarking
				continue
			}
			if stopAtFinalize {
				return spent
			}
			c.startSweep()
		case PhaseSweeping:
			before := c.metrics.work
			if !c.sweepOne() {
				return spent
			}
			spent += c.metrics.work - before
		default:
			return spent
		}
	}
	return spent
}

func (c *collector) markOne() {
	var b *gcBox
	if n := len(c.gray); n > 0 {
		b = c.gray[n-1]
		c.gray[n-1] = nil
		c.gray = c.gray[:n-1]
	} else if n := len(c.grayAgain); n > 0 {
		b = c.grayAgain[n-1]
		c.grayAgain[n-1] = nil
		c.grayAgain = c.grayAgain[:n-1]
	}
	if b != nil {
		if b.color != gray {
			return
		}
		c.traceGray(b)
		return
	}
	if c.rootNeedsTrace {
		c.tracer = Tracer{c: c}
		c.traceRoot(&c.tracer)
		c.rootNeedsTrace = false
		return
	}
	c.phase = PhaseFinalizing
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("arena %s: marking complete, %d bytes marked", c.id, c.metrics.markedBytes)
	}
}

// traceGray traces b and blackens it. If Trace panics, b is queued again
// and stays gray.
func (c *collector) traceGray(b *gcBox) {
	traced := false
	defer func() {
		if !traced {
			c.grayAgain = append(c.grayAgain, b)
		}
	}()
	c.tracer = Tracer{c: c, current: b}
	b.vt.trace(b.value, &c.tracer)
	traced = true
	b.color = black
	c.metrics.markTraced(b.size)
}

func (c *collector) startSweep() {
	c.pass++
	c.phase = PhaseSweeping
	c.sweep = c.all
	c.sweepPrev = nil
}

// sweepOne visits the box under the cursor. It returns false once the cycle
// has ended.
func (c *collector) sweepOne() bool {
	b := c.sweep
	if b == nil {
		c.finishCycle()
		return false
	}
	c.sweep = b.next
	c.metrics.markSwept(b.size)
	if b.color == white && b.swept != c.pass {
		if c.sweepPrev == nil {
			c.all = b.next
		} else {
			c.sweepPrev.next = b.next
		}
		b.next = nil
		c.metrics.markFree(b.size)
		b.drop()
		return true
	}
	b.color = white
	b.swept = c.pass
	c.sweepPrev = b
	return true
}

func (c *collector) finishCycle() {
	c.phase = PhaseSleeping
	c.sweep = nil
	c.sweepPrev = nil
	c.metrics.finishCycle(time.Now())
	last := c.metrics.last
	log.Infof("arena %s: cycle %d done, freed %d bytes, %d bytes remain, next wakeup after %d bytes",
		c.id, last.Cycle, last.FreedBytes, last.Remembered, c.metrics.wakeupAmount)
}

// --- Host entry points

func (c *collector) collectDebt() {
	c.checkIdle()
	if debt := c.metrics.AllocationDebt(); debt > 0 {
		c.run(debt, false)
	}
}

func (c *collector) collectAll() {
	c.checkIdle()
	if c.phase != PhaseSleeping {
		// Objects that became unreachable after being marked survive the
		// current cycle, so finish it and run one more.
		c.run(math.Inf(1), false)
	}
	c.run(math.Inf(1), false)
}

func (c *collector) step(budget float64) bool {
	c.checkIdle()
	c.run(budget, false)
	return c.phase == PhaseSleeping
}

func (c *collector) markDebt() bool {
	c.checkIdle()
	if debt := c.metrics.AllocationDebt(); debt > 0 {
		c.run(debt, true)
	}
	return c.phase == PhaseFinalizing && !c.dirty()
}

func (c *collector) markAll() {
	c.checkIdle()
	c.finishMarking()
}

// finishMarking runs marking to completion and leaves the collector in
// PhaseFinalizing. A sweep in progress is finished first.
func (c *collector) finishMarking() {
	if c.phase == PhaseSweeping {
		c.run(math.Inf(1), false)
	}
	if c.phase == PhaseFinalizing && !c.dirty() {
		return
	}
	c.run(math.Inf(1), true)
}

func (c *collector) close() {
	if c.closed {
		return
	}
	if c.active != nil {
		panic(ErrCollectInMutation)
	}
	c.closed = true
	for b := c.all; b != nil; {
		next := b.next
		b.next = nil
		if b.live {
			c.metrics.markFree(b.size)
			b.drop()
		}
		b = next
	}
	c.all, c.sweep, c.sweepPrev = nil, nil, nil
	c.gray, c.grayAgain = nil, nil
	c.phase = PhaseSleeping
	log.Debugf("arena %s: closed", c.id)
}
