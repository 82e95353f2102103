package dmm

import (
	"math"
	"reflect"
	"sync"
)

// Collect is implemented by every type that can live in, or be reachable
// from, an arena.
//
// NeedsTrace reports whether values of the type can ever hold a handle into
// the arena. It must return the same answer for every value of the type
// without looking at the receiver, which may be nil, and it must return false
// only if Trace is a no-op. Allocations whose payload
// does not need tracing are blackened without ever being queued.
//
// Trace visits the directly-held collectible fields, usually by calling
// cc.Trace on each of them. Implementations are normally generated by
// collectgen from a //dmm:collect directive.
type Collect interface {
	NeedsTrace() bool
	Trace(cc *Tracer)
}

// Dropper is implemented by payloads with custom cleanup. Drop runs exactly
// once, when the sweeper reclaims the allocation or the arena is closed.
//
// Drop must not dereference any Gc it holds: the objects it points to may
// already have been reclaimed in the same sweep. Dereferencing panics with
// ErrNoMutation because sweeping never happens inside a mutation.
type Dropper interface {
	Drop()
}

// Tracer is handed to Collect.Trace while the collector walks the graph.
type Tracer struct {
	c *collector

	// current is the allocation whose payload is being traced, nil while
	// tracing a root. Locks record it so their writes can re-mark it.
	current *gcBox

	// visit replaces marking when set; used by invariant checks.
	visit func(*gcBox)
}

// Trace traces v if its type needs tracing.
func (cc *Tracer) Trace(v Collect) {
	if v != nil && v.NeedsTrace() {
		v.Trace(cc)
	}
}

// TraceAny traces v, or the elements of v if it is a container. Values that
// cannot hold handles are ignored. Pass a pointer to the value when its
// methods have pointer receivers and it holds locks.
func (cc *Tracer) TraceAny(v any) {
	if v == nil {
		return
	}
	traceValue(cc, reflect.ValueOf(v))
}

// TraceGc marks the allocation behind an erased strong pointer as reachable.
func (cc *Tracer) TraceGc(g Gc[Unit]) {
	cc.traceBox(g.box)
}

// TraceGcWeak visits an erased weak pointer. Weak edges never keep their
// target alive, so this only exists to keep the protocol symmetric.
func (cc *Tracer) TraceGcWeak(w GcWeak[Unit]) {}

func (cc *Tracer) traceBox(b *gcBox) {
	if b == nil {
		return
	}
	if cc.visit != nil {
		cc.visit(b)
		return
	}
	cc.c.markReachable(b)
}

// NeedsTraceOf reports whether values of T can hold arena handles. Types
// implementing Collect answer for themselves; slices, arrays, pointers and
// maps need tracing if their elements do, and interface types always do.
// Structs that do not implement Collect are never traced.
func NeedsTraceOf[T any]() bool {
	return needsTraceType(reflect.TypeFor[T]())
}

var (
	collectType     = reflect.TypeFor[Collect]()
	needsTraceCache sync.Map // reflect.Type -> bool, settled answers only
	collectPending  sync.Map // Collect types whose NeedsTrace is running
)

// Walk results carry the depth of the shallowest type on the walk stack the
// answer depends on.
const (
	settled   = math.MaxInt
	unsettled = -1 // answered true for a NeedsTrace still running
)

func needsTraceType(t reflect.Type) bool {
	needs, _ := needsTraceWalk(t, nil)
	return needs
}

// needsTraceWalk answers for t. A type that reaches itself structurally is
// taken not to need tracing until the walk back up proves otherwise. Only
// answers that do not depend on an open cycle are cached.
func needsTraceWalk(t reflect.Type, walking map[reflect.Type]int) (bool, int) {
	if v, ok := needsTraceCache.Load(t); ok {
		return v.(bool), settled
	}
	switch {
	case t.Kind() == reflect.Interface:
		needsTraceCache.Store(t, true)
		return true, settled
	case reflect.PointerTo(t).Implements(collectType), t.Implements(collectType):
		return needsTraceCollect(t)
	}
	if d, ok := walking[t]; ok {
		return false, d
	}
	if walking == nil {
		walking = make(map[reflect.Type]int)
	}
	depth := len(walking)
	walking[t] = depth
	defer delete(walking, t)

	needs, dep := false, settled
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Pointer:
		needs, dep = needsTraceWalk(t.Elem(), walking)
	case reflect.Map:
		kn, kd := needsTraceWalk(t.Key(), walking)
		en, ed := needsTraceWalk(t.Elem(), walking)
		needs, dep = kn || en, min(kd, ed)
	}
	switch {
	case dep == unsettled:
		return needs, unsettled
	case needs || dep >= depth:
		needsTraceCache.Store(t, needs)
		return needs, settled
	}
	return false, dep
}

// needsTraceCollect asks a Collect type for its answer. A NeedsTrace that
// reaches its own type again, directly or through other types, sees true.
// So does a caller racing the first evaluation on another goroutine.
func needsTraceCollect(t reflect.Type) (bool, int) {
	if _, busy := collectPending.LoadOrStore(t, struct{}{}); busy {
		return true, unsettled
	}
	defer collectPending.Delete(t)
	var c Collect
	if reflect.PointerTo(t).Implements(collectType) {
		c = reflect.New(t).Interface().(Collect)
	} else {
		c = reflect.Zero(t).Interface().(Collect)
	}
	needs := c.NeedsTrace()
	needsTraceCache.Store(t, needs)
	return needs, settled
}

// traceAt traces the value at p, whether Collect is implemented by the
// pointer, by the value, or by the elements of a container.
func traceAt[T any](cc *Tracer, p *T) {
	if c, ok := any(p).(Collect); ok {
		cc.Trace(c)
		return
	}
	traceValue(cc, reflect.ValueOf(p).Elem())
}

func traceValue(cc *Tracer, v reflect.Value) {
	t := v.Type()
	if !needsTraceType(t) {
		return
	}
	switch {
	case t.Kind() == reflect.Interface:
		if !v.IsNil() {
			traceValue(cc, v.Elem())
		}
		return
	case reflect.PointerTo(t).Implements(collectType):
		if !v.CanAddr() {
			// Map entries and interface contents are traced through a copy.
			c := reflect.New(t)
			c.Elem().Set(v)
			v = c.Elem()
		}
		cc.Trace(v.Addr().Interface().(Collect))
		return
	case t.Implements(collectType):
		if t.Kind() != reflect.Pointer || !v.IsNil() {
			cc.Trace(v.Interface().(Collect))
		}
		return
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			traceValue(cc, v.Index(i))
		}
	case reflect.Pointer:
		if !v.IsNil() {
			traceValue(cc, v.Elem())
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			traceValue(cc, iter.Key())
			traceValue(cc, iter.Value())
		}
	}
}

// TraceSlice traces every element of s.
func TraceSlice[T any](cc *Tracer, s []T) {
	if !NeedsTraceOf[T]() {
		return
	}
	for i := range s {
		traceAt(cc, &s[i])
	}
}

// TraceMap traces the keys and values of m. Map entries are not addressable,
// so copies are traced; mutate maps through Gc.Write or RefLock.BorrowMut.
func TraceMap[K comparable, V any](cc *Tracer, m map[K]V) {
	keys, values := NeedsTraceOf[K](), NeedsTraceOf[V]()
	if !keys && !values {
		return
	}
	for k, v := range m {
		if keys {
			traceAt(cc, &k)
		}
		if values {
			traceAt(cc, &v)
		}
	}
}

// Unit is the payload type of erased pointers.
type Unit struct{}

func (Unit) NeedsTrace() bool { return false }
func (Unit) Trace(*Tracer)    {}

// Static wraps a value that never holds arena handles, so it is never traced.
type Static[T any] struct {
	Value T
}

// NewStatic wraps v.
func NewStatic[T any](v T) Static[T] {
	return Static[T]{Value: v}
}

func (Static[T]) NeedsTrace() bool { return false }
func (Static[T]) Trace(*Tracer)    {}
