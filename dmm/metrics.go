package dmm

import (
	"math"
	"time"
)

// Pacing decides how much collection work is owed for allocation.
//
// After a cycle finishes the collector sleeps until
// max(MinSleep, PauseFactor × TotalAllocated) bytes have been allocated. From
// then on every further allocated byte adds StepMultiplier units of debt, and
// collection work pays it back: marking an allocation costs its size and
// sweeping one costs max(1, size × SweepFactor).
type Pacing struct {
	PauseFactor    float64
	StepMultiplier float64
	MinSleep       uint64
	SweepFactor    float64
}

// DefaultPacing is used by new arenas.
var DefaultPacing = Pacing{
	PauseFactor:    0.5,
	StepMultiplier: 2.0,
	MinSleep:       4096,
	SweepFactor:    0.25,
}

func (p Pacing) normalize() Pacing {
	if p.PauseFactor < 0 || math.IsNaN(p.PauseFactor) {
		p.PauseFactor = 0
	}
	if p.StepMultiplier <= 0 || math.IsNaN(p.StepMultiplier) {
		p.StepMultiplier = DefaultPacing.StepMultiplier
	}
	if p.SweepFactor < 0 || math.IsNaN(p.SweepFactor) {
		p.SweepFactor = 0
	}
	return p
}

// CycleStats summarizes one completed collection cycle.
type CycleStats struct {
	Cycle       uint64
	MarkedBytes uint64
	SweptBytes  uint64
	FreedBytes  uint64
	Remembered  uint64 // bytes still allocated when the cycle ended
	Duration    time.Duration
}

// Metrics holds the allocation accounting of one arena. Counters are only
// updated by the arena's own allocate and collection operations.
type Metrics struct {
	pacing Pacing

	totalAllocated uint64
	allocatedBytes uint64
	freedBytes     uint64
	markedBytes    uint64
	sweptBytes     uint64
	work           float64

	externalBytes uint64
	externalDebt  uint64

	remembered   uint64
	wakeupAmount uint64

	allocations uint64
	frees       uint64
	cycles      uint64
	cycleStart  time.Time
	last        CycleStats
}

func newMetrics(p Pacing) *Metrics {
	m := &Metrics{}
	m.SetPacing(p)
	return m
}

// Pacing returns the pacing parameters in effect.
func (m *Metrics) Pacing() Pacing { return m.pacing }

// SetPacing replaces the pacing parameters. The current sleep threshold is
// recomputed from the size remembered at the end of the last cycle.
func (m *Metrics) SetPacing(p Pacing) {
	m.pacing = p.normalize()
	m.wakeupAmount = m.computeWakeup()
}

func (m *Metrics) computeWakeup() uint64 {
	w := uint64(m.pacing.PauseFactor * float64(m.remembered))
	return max(w, m.pacing.MinSleep)
}

// TotalAllocated is the number of bytes in live allocations plus external
// bytes currently reported.
func (m *Metrics) TotalAllocated() uint64 { return m.totalAllocated + m.externalBytes }

// AllocatedBytes is the number of bytes allocated since the last cycle ended.
func (m *Metrics) AllocatedBytes() uint64 { return m.allocatedBytes }

// FreedBytes is the number of bytes reclaimed in the current cycle.
func (m *Metrics) FreedBytes() uint64 { return m.freedBytes }

// MarkedBytes is the number of bytes traced in the current cycle.
func (m *Metrics) MarkedBytes() uint64 { return m.markedBytes }

// SweptBytes is the number of bytes visited by the sweeper in the current cycle.
func (m *Metrics) SweptBytes() uint64 { return m.sweptBytes }

// ExternalBytes is the external memory currently attributed to the arena.
func (m *Metrics) ExternalBytes() uint64 { return m.externalBytes }

// WakeupAmount is the number of bytes that must be allocated after a cycle
// before the next one starts accruing debt.
func (m *Metrics) WakeupAmount() uint64 { return m.wakeupAmount }

// Allocations is the lifetime count of allocations.
func (m *Metrics) Allocations() uint64 { return m.allocations }

// Frees is the lifetime count of reclaimed allocations.
func (m *Metrics) Frees() uint64 { return m.frees }

// Cycles is the number of completed collection cycles.
func (m *Metrics) Cycles() uint64 { return m.cycles }

// LastCycle returns statistics for the most recently completed cycle.
func (m *Metrics) LastCycle() CycleStats { return m.last }

// AllocationDebt is the amount of collection work currently owed.
func (m *Metrics) AllocationDebt() float64 {
	var debt float64
	if m.allocatedBytes > m.wakeupAmount {
		debt = float64(m.allocatedBytes-m.wakeupAmount) * m.pacing.StepMultiplier
	}
	debt += float64(m.externalDebt) - m.work
	return max(debt, 0)
}

func (m *Metrics) markAllocation(size uintptr) {
	m.totalAllocated += uint64(size)
	m.allocatedBytes += uint64(size)
	m.allocations++
}

func (m *Metrics) markFree(size uintptr) {
	m.totalAllocated -= uint64(size)
	m.freedBytes += uint64(size)
	m.frees++
}

func (m *Metrics) markTraced(size uintptr) {
	m.markedBytes += uint64(size)
	m.work += float64(size)
}

func (m *Metrics) markSwept(size uintptr) {
	m.sweptBytes += uint64(size)
	m.work += max(1, float64(size)*m.pacing.SweepFactor)
}

func (m *Metrics) addExternal(n uint64) {
	m.externalBytes += n
	m.externalDebt += n
}

func (m *Metrics) removeExternal(n uint64) {
	m.externalBytes -= min(n, m.externalBytes)
}

func (m *Metrics) startCycle(now time.Time) {
	m.cycleStart = now
}

func (m *Metrics) finishCycle(now time.Time) {
	m.cycles++
	m.remembered = m.TotalAllocated()
	m.last = CycleStats{
		Cycle:       m.cycles,
		MarkedBytes: m.markedBytes,
		SweptBytes:  m.sweptBytes,
		FreedBytes:  m.freedBytes,
		Remembered:  m.remembered,
	}
	if !m.cycleStart.IsZero() {
		m.last.Duration = now.Sub(m.cycleStart)
	}
	m.allocatedBytes = 0
	m.freedBytes = 0
	m.markedBytes = 0
	m.sweptBytes = 0
	m.work = 0
	m.externalDebt = 0
	m.wakeupAmount = m.computeWakeup()
}
