package dmm

import (
	"reflect"
	"sync"
	"unsafe"
)

type color uint8

const (
	white color = iota
	gray
	black
)

func (c color) String() string {
	switch c {
	case white:
		return "white"
	case gray:
		return "gray"
	case black:
		return "black"
	}
	return "invalid"
}

// gcBox is the header every allocation carries. Boxes form an intrusive
// singly linked list owned by their collector; handles only ever point at
// them.
type gcBox struct {
	next  *gcBox
	c     *collector
	vt    *vtable
	value unsafe.Pointer // payload, &gcBoxOf[T].payload
	size  uintptr

	// swept is the sweep pass that last visited the box, or the one running
	// when it was allocated. A white box from an earlier pass is doomed while
	// sweeping.
	swept uint32

	color      color
	live       bool
	needsTrace bool
}

// gcBoxOf keeps header and payload in one Go allocation, so the payload
// address is stable and the header can be recovered from it.
type gcBoxOf[T any] struct {
	gcBox
	payload T
}

func headerOffset[T any]() uintptr {
	var b gcBoxOf[T]
	return unsafe.Offsetof(b.payload)
}

func boxFromPayload[T any](p *T) *gcBox {
	if p == nil {
		return nil
	}
	return (*gcBox)(unsafe.Add(unsafe.Pointer(p), -int(headerOffset[T]())))
}

// vtable holds the type-specific operations of a payload type.
type vtable struct {
	typ   reflect.Type
	trace func(p unsafe.Pointer, cc *Tracer)
	drop  func(p unsafe.Pointer)
}

var vtables sync.Map // reflect.Type -> *vtable

func vtableFor[T any, PT interface {
	*T
	Collect
}]() *vtable {
	typ := reflect.TypeFor[T]()
	if vt, ok := vtables.Load(typ); ok {
		return vt.(*vtable)
	}
	vt := &vtable{
		typ: typ,
		trace: func(p unsafe.Pointer, cc *Tracer) {
			PT((*T)(p)).Trace(cc)
		},
		drop: func(p unsafe.Pointer) {
			t := (*T)(p)
			if d, ok := any(PT(t)).(Dropper); ok {
				d.Drop()
			}
			var zero T
			*t = zero
		},
	}
	actual, _ := vtables.LoadOrStore(typ, vt)
	return actual.(*vtable)
}

// drop runs cleanup and releases the payload's references to Go memory.
// The header stays behind for weak pointers to inspect.
func (b *gcBox) drop() {
	b.live = false
	b.color = white
	b.vt.drop(b.value)
}
