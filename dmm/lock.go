package dmm

// Lock holds a value that can be replaced through a Mutation. It is meant to
// be embedded in an arena allocation: the collector records which allocation
// it was traced from, and every write re-marks that allocation so the new
// value is not missed by an in-progress marking pass.
type Lock[T any] struct {
	value T
	owner *gcBox
}

// NewLock returns a Lock holding v.
func NewLock[T any](v T) Lock[T] {
	return Lock[T]{value: v}
}

// Get returns a copy of the held value.
func (l *Lock[T]) Get() T {
	return l.value
}

// Set stores v.
func (l *Lock[T]) Set(mc *Mutation, v T) {
	mc.check().writeBarrier(l.owner)
	l.value = v
}

// Replace stores v and returns the previous value.
func (l *Lock[T]) Replace(mc *Mutation, v T) T {
	mc.check().writeBarrier(l.owner)
	old := l.value
	l.value = v
	return old
}

// Take resets the lock to the zero value and returns what it held.
func (l *Lock[T]) Take(mc *Mutation) T {
	var zero T
	return l.Replace(mc, zero)
}

func (l *Lock[T]) NeedsTrace() bool { return NeedsTraceOf[T]() }

func (l *Lock[T]) Trace(cc *Tracer) {
	l.owner = cc.current
	traceAt(cc, &l.value)
}

// RefLock is a Lock whose value is accessed in place.
type RefLock[T any] struct {
	value T
	owner *gcBox
}

// NewRefLock returns a RefLock holding v.
func NewRefLock[T any](v T) RefLock[T] {
	return RefLock[T]{value: v}
}

// Borrow returns the held value for reading. Do not write through it.
func (l *RefLock[T]) Borrow() *T {
	return &l.value
}

// BorrowMut runs the write barrier and returns the held value for writing
// until the current callback returns.
func (l *RefLock[T]) BorrowMut(mc *Mutation) *T {
	mc.check().writeBarrier(l.owner)
	return &l.value
}

// Update applies fn to the held value.
func (l *RefLock[T]) Update(mc *Mutation, fn func(v *T)) {
	fn(l.BorrowMut(mc))
}

func (l *RefLock[T]) NeedsTrace() bool { return NeedsTraceOf[T]() }

func (l *RefLock[T]) Trace(cc *Tracer) {
	l.owner = cc.current
	traceAt(cc, &l.value)
}

// GcLock is an allocation holding a single Lock.
type GcLock[T any] = Gc[Lock[T]]

// GcRefLock is an allocation holding a single RefLock.
type GcRefLock[T any] = Gc[RefLock[T]]

// NewGcLock allocates a Lock holding v.
func NewGcLock[T any](mc *Mutation, v T) GcLock[T] {
	return New[Lock[T]](mc, Lock[T]{value: v})
}

// NewGcRefLock allocates a RefLock holding v.
func NewGcRefLock[T any](mc *Mutation, v T) GcRefLock[T] {
	return New[RefLock[T]](mc, RefLock[T]{value: v})
}
