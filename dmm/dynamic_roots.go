package dmm

import (
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
)

// DynamicRootSet keeps stashed values alive across callbacks. The set is
// itself an arena allocation and must be reachable (usually a field of the
// root) for its entries to stay rooted; when the set is reclaimed every
// entry is released.
type DynamicRootSet struct {
	set Gc[rootSet]
}

// DynamicRoot is a handle to a stashed value. It holds no Gc and may be kept
// anywhere, including outside the arena and across goroutines. The value
// stays rooted until Release is called, the handle becomes unreachable, or
// the owning set is reclaimed.
type DynamicRoot struct {
	slot  *rootSlot
	arena uuid.UUID
	set   uuid.UUID
}

type rootSlot struct {
	box      *gcBox
	released atomic.Bool
}

type rootSet struct {
	id    uuid.UUID
	arena uuid.UUID
	slots []*rootSlot
}

// NewDynamicRootSet allocates an empty set in the arena of mc.
func NewDynamicRootSet(mc *Mutation) DynamicRootSet {
	return DynamicRootSet{set: New(mc, rootSet{id: uuid.New(), arena: mc.ArenaID()})}
}

func (s DynamicRootSet) NeedsTrace() bool { return true }

func (s DynamicRootSet) Trace(cc *Tracer) {
	s.set.Trace(cc)
}

// Stash roots the target of p and returns a handle to it. p must be
// reachable, or a weak pointer that can still be upgraded.
func (s DynamicRootSet) Stash(mc *Mutation, p Pointer) *DynamicRoot {
	c := mc.check()
	b := p.header()
	if b == nil || !c.upgrade(b) {
		panic(ErrDropped)
	}
	set := s.set.Write(mc)
	slot := &rootSlot{box: b}
	set.slots = append(set.slots, slot)

	r := &DynamicRoot{slot: slot, arena: set.arena, set: set.id}
	runtime.AddCleanup(r, func(s *rootSlot) {
		s.released.Store(true)
	}, slot)
	return r
}

// Contains reports whether r was stashed in this set and is still rooted.
func (s DynamicRootSet) Contains(r *DynamicRoot) bool {
	if r == nil || s.set.IsNil() || r.slot.released.Load() {
		return false
	}
	set := s.set.Get()
	if r.set != set.id {
		return false
	}
	for _, slot := range set.slots {
		if slot == r.slot {
			return true
		}
	}
	return false
}

// Len returns the number of entries still rooted.
func (s DynamicRootSet) Len() int {
	n := 0
	for _, slot := range s.set.Get().slots {
		if !slot.released.Load() {
			n++
		}
	}
	return n
}

// Fetch returns a strong pointer to the value stashed behind r. It fails with
// ErrMismatchedRootSet if r belongs to another arena, ErrRootReleased if r no
// longer roots anything, and ErrTypeMismatch if the value is not a T.
func Fetch[T any](mc *Mutation, r *DynamicRoot) (Gc[T], error) {
	c := mc.check()
	if r.arena != c.id {
		return Gc[T]{}, fmt.Errorf("%w: root from arena %s used in arena %s", ErrMismatchedRootSet, r.arena, c.id)
	}
	if r.slot.released.Load() || !r.slot.box.live {
		return Gc[T]{}, ErrRootReleased
	}
	want := reflect.TypeFor[T]()
	if have := r.slot.box.vt.typ; have != want {
		return Gc[T]{}, fmt.Errorf("%w: root holds %s, fetched as %s", ErrTypeMismatch, have, want)
	}
	return Gc[T]{box: r.slot.box}, nil
}

// FetchFrom is Fetch for a root that must have been stashed in s. A root
// from any other set, in this arena or another, fails with
// ErrMismatchedRootSet.
func FetchFrom[T any](mc *Mutation, s DynamicRootSet, r *DynamicRoot) (Gc[T], error) {
	mc.check()
	if s.set.IsNil() {
		return Gc[T]{}, fmt.Errorf("%w: fetch from a zero DynamicRootSet", ErrMismatchedRootSet)
	}
	if id := s.set.Get().id; r.set != id {
		return Gc[T]{}, fmt.Errorf("%w: root from set %s fetched from set %s", ErrMismatchedRootSet, r.set, id)
	}
	return Fetch[T](mc, r)
}

// Release stops rooting the value. Further fetches fail.
func (r *DynamicRoot) Release() {
	r.slot.released.Store(true)
}

// Released reports whether r no longer roots its value.
func (r *DynamicRoot) Released() bool {
	return r.slot.released.Load()
}

func (s *rootSet) NeedsTrace() bool { return true }

func (s *rootSet) Trace(cc *Tracer) {
	kept := s.slots[:0]
	for _, slot := range s.slots {
		if slot.released.Load() {
			continue
		}
		kept = append(kept, slot)
		cc.traceBox(slot.box)
	}
	clear(s.slots[len(kept):])
	s.slots = kept
}

// Drop releases every entry.
func (s *rootSet) Drop() {
	for _, slot := range s.slots {
		slot.released.Store(true)
	}
}
