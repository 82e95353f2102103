package dmm

import (
	"unsafe"
)

// Gc is a strong pointer into an arena. It is a plain value: copy it freely,
// compare it with ==. Its target is kept alive only while it is reachable
// from the arena root, so a Gc held on the Go stack is valid for the rest of
// the mutation callback that produced it and must not be kept past it.
type Gc[T any] struct {
	box *gcBox
}

// Pointer is implemented by Gc and GcWeak.
type Pointer interface {
	header() *gcBox
}

// New allocates v in the arena of mc.
func New[T any, PT interface {
	*T
	Collect
}](mc *Mutation, v T) Gc[T] {
	c := mc.check()
	b := &gcBoxOf[T]{payload: v}
	b.vt = vtableFor[T, PT]()
	b.value = unsafe.Pointer(&b.payload)
	b.size = unsafe.Sizeof(*b)
	b.needsTrace = PT(&b.payload).NeedsTrace()
	c.allocate(&b.gcBox)
	return Gc[T]{box: &b.gcBox}
}

func (g Gc[T]) header() *gcBox { return g.box }

// IsNil reports whether g is the zero Gc.
func (g Gc[T]) IsNil() bool { return g.box == nil }

func (g Gc[T]) deref() *T {
	b := g.box
	if b.c.active == nil {
		panic(ErrNoMutation)
	}
	if !b.live {
		panic(ErrDropped)
	}
	return (*T)(b.value)
}

// Get returns the payload. The result is only valid inside the current
// mutation callback. Writing through it bypasses the write barrier; use
// Write, or keep mutable state in a Lock or RefLock.
func (g Gc[T]) Get() *T {
	return g.deref()
}

// Write runs the write barrier on g's allocation and returns its payload for
// unrestricted mutation until the callback returns.
func (g Gc[T]) Write(mc *Mutation) *T {
	c := mc.check()
	c.writeBarrier(g.box)
	return g.deref()
}

// Downgrade returns a weak pointer to the same allocation.
func (g Gc[T]) Downgrade() GcWeak[T] {
	return GcWeak[T](g)
}

// PtrEq reports whether g and other point to the same allocation.
func (g Gc[T]) PtrEq(other Gc[T]) bool {
	return g.box == other.box
}

// AsPtr returns the payload address without checking liveness.
func (g Gc[T]) AsPtr() *T {
	if g.box == nil {
		return nil
	}
	return (*T)(g.box.value)
}

// Addr returns the payload address as an integer, for hashing and ordering.
func (g Gc[T]) Addr() uintptr {
	return uintptr(unsafe.Pointer(g.AsPtr()))
}

// Size is the number of bytes the allocation is accounted for.
func (g Gc[T]) Size() uintptr {
	return g.box.size
}

// Erase forgets the payload type. Cast restores it.
func (g Gc[T]) Erase() Gc[Unit] {
	return Gc[Unit](g)
}

// IsDead reports whether g's target was not reached by the marking that just
// completed and has not been resurrected since.
func (g Gc[T]) IsDead(fc *Finalization) bool {
	fc.check()
	return isDead(g.box)
}

// Resurrect marks a doomed target reachable again. Everything it references
// is revived once marking resumes, which Finalize and StartSweeping do first.
func (g Gc[T]) Resurrect(fc *Finalization) {
	fc.check().resurrect(g.box)
}

// Trace makes Gc fields traceable. Generated code calls it.
func (g Gc[T]) Trace(cc *Tracer) {
	cc.traceBox(g.box)
}

// NeedsTrace is always true.
func (g Gc[T]) NeedsTrace() bool { return true }

// Cast reinterprets g as a pointer to U. The allocation must really hold a U
// (typically g came from Erase); this is not checked.
func Cast[U, T any](g Gc[T]) Gc[U] {
	return Gc[U]{box: g.box}
}

// FromPtr recovers the Gc for a payload address obtained from Get or AsPtr
// on a Gc[T]. Any other pointer yields an invalid Gc.
func FromPtr[T any](p *T) Gc[T] {
	return Gc[T]{box: boxFromPayload(p)}
}

// PtrEq reports whether two strong or weak pointers refer to the same
// allocation.
func PtrEq(a, b Pointer) bool {
	return a.header() == b.header()
}

func isDead(b *gcBox) bool {
	return b == nil || !b.live || b.color == white
}
