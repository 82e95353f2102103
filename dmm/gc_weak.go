package dmm

// GcWeak is a weak pointer into an arena. It does not keep its target alive
// and can only be dereferenced through Upgrade.
type GcWeak[T any] struct {
	box *gcBox
}

func (w GcWeak[T]) header() *gcBox { return w.box }

// IsNil reports whether w is the zero GcWeak.
func (w GcWeak[T]) IsNil() bool { return w.box == nil }

// Upgrade returns a strong pointer if the target is still alive.
//
// Once marking has completed, a target that was not reached can no longer be
// upgraded even though it has not been reclaimed yet: outside of
// finalization "about to be collected" looks the same as "collected". A
// failed upgrade therefore does not imply IsDropped.
func (w GcWeak[T]) Upgrade(mc *Mutation) (Gc[T], bool) {
	c := mc.check()
	if w.box == nil || !c.upgrade(w.box) {
		return Gc[T]{}, false
	}
	return Gc[T](w), true
}

// IsDropped reports whether the target has been reclaimed. It can be asked
// without a mutation. The zero GcWeak has no target and reports true.
func (w GcWeak[T]) IsDropped() bool {
	return w.box == nil || !w.box.live
}

// IsDead reports whether the target is doomed: not reached by the marking
// that just completed (and not resurrected since), or already reclaimed.
func (w GcWeak[T]) IsDead(fc *Finalization) bool {
	fc.check()
	return isDead(w.box)
}

// Resurrect turns a doomed target back into a reachable one and returns a
// strong pointer to it. Everything the target references is revived once
// marking resumes. It fails only if the target was already reclaimed.
func (w GcWeak[T]) Resurrect(fc *Finalization) (Gc[T], bool) {
	if !fc.check().resurrect(w.box) {
		return Gc[T]{}, false
	}
	return Gc[T](w), true
}

// PtrEq reports whether w and other point to the same allocation.
func (w GcWeak[T]) PtrEq(other GcWeak[T]) bool {
	return w.box == other.box
}

// AsPtr returns the payload address. It must not be dereferenced unless
// the target is known to be alive.
func (w GcWeak[T]) AsPtr() *T {
	if w.box == nil {
		return nil
	}
	return (*T)(w.box.value)
}

// Erase forgets the payload type.
func (w GcWeak[T]) Erase() GcWeak[Unit] {
	return GcWeak[Unit](w)
}

// Trace is a no-op: weak edges never keep their target alive.
func (w GcWeak[T]) Trace(cc *Tracer) {}

// NeedsTrace is false for the same reason.
func (w GcWeak[T]) NeedsTrace() bool { return false }

// CastWeak reinterprets w as a weak pointer to U without checking.
func CastWeak[U, T any](w GcWeak[T]) GcWeak[U] {
	return GcWeak[U]{box: w.box}
}

// WeakFromPtr recovers the weak pointer for a payload address obtained from
// a Gc[T] or GcWeak[T].
func WeakFromPtr[T any](p *T) GcWeak[T] {
	return GcWeak[T]{box: boxFromPayload(p)}
}
