// Package workload is a small interpreter-style heap used to exercise the
// collector: tables, closures, upvalues and userdata that reference each
// other through dmm pointers.
package workload

import (
	"github.com/chazu/tcvm/dmm"
)

//go:generate go run github.com/chazu/tcvm/cmd/collectgen

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindNumber
	KindString
	KindTable
	KindFunc
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindFunc:
		return "function"
	case KindData:
		return "userdata"
	}
	return "nil"
}

// Value is a dynamically typed interpreter value. At most one variant is set.
//
//dmm:collect no_drop, union
type Value struct {
	Num   float64
	Str   string
	Kind  Kind
	Table dmm.Gc[Table]
	Func  dmm.Gc[Closure]
	Data  dmm.Gc[Userdata]
}

func Number(n float64) Value             { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value              { return Value{Kind: KindString, Str: s} }
func TableValue(t dmm.Gc[Table]) Value   { return Value{Kind: KindTable, Table: t} }
func FuncValue(c dmm.Gc[Closure]) Value  { return Value{Kind: KindFunc, Func: c} }
func DataValue(u dmm.Gc[Userdata]) Value { return Value{Kind: KindData, Data: u} }

// IsNil reports whether v holds no variant.
func (v Value) IsNil() bool { return v.Kind == KindNil }

// Pointer returns the heap handle held by v, if any.
func (v Value) Pointer() (dmm.Pointer, bool) {
	switch v.Kind {
	case KindTable:
		return v.Table, true
	case KindFunc:
		return v.Func, true
	case KindData:
		return v.Data, true
	}
	return nil, false
}

// Table is an associative array with an array part, a hash part and an
// optional metatable.
//
//dmm:collect no_drop
type Table struct {
	Array   dmm.RefLock[[]Value]
	Hash    dmm.RefLock[map[string]Value]
	Meta    dmm.Lock[dmm.Gc[Table]]
	Methods dmm.RefLock[[]Entry[dmm.Gc[Closure]]]
}

// NewTable allocates an empty table.
func NewTable(mc *dmm.Mutation) dmm.Gc[Table] {
	return dmm.New(mc, Table{Hash: dmm.NewRefLock(map[string]Value{})})
}

// Get returns the value stored under key.
func (t *Table) Get(key string) Value {
	return (*t.Hash.Borrow())[key]
}

// Set stores v under key; a nil value deletes the key.
func (t *Table) Set(mc *dmm.Mutation, key string, v Value) {
	t.Hash.Update(mc, func(h *map[string]Value) {
		if v.IsNil() {
			delete(*h, key)
			return
		}
		(*h)[key] = v
	})
}

// Keys returns the number of entries in the hash part.
func (t *Table) Keys() int {
	return len(*t.Hash.Borrow())
}

// Len returns the length of the array part.
func (t *Table) Len() int {
	return len(*t.Array.Borrow())
}

// Index returns element i of the array part, or nil when out of range.
func (t *Table) Index(i int) Value {
	a := *t.Array.Borrow()
	if i < 0 || i >= len(a) {
		return Value{}
	}
	return a[i]
}

// Put stores v at index i of the array part, growing it as needed.
func (t *Table) Put(mc *dmm.Mutation, i int, v Value) {
	t.Array.Update(mc, func(a *[]Value) {
		for len(*a) <= i {
			*a = append(*a, Value{})
		}
		(*a)[i] = v
	})
}

// Append adds v to the end of the array part.
func (t *Table) Append(mc *dmm.Mutation, v Value) {
	t.Array.Update(mc, func(a *[]Value) {
		*a = append(*a, v)
	})
}

// Truncate shortens the array part to n elements.
func (t *Table) Truncate(mc *dmm.Mutation, n int) {
	t.Array.Update(mc, func(a *[]Value) {
		if n < len(*a) {
			clear((*a)[n:])
			*a = (*a)[:n]
		}
	})
}

// Define binds a method closure by name.
func (t *Table) Define(mc *dmm.Mutation, name string, c dmm.Gc[Closure]) {
	t.Methods.Update(mc, func(ms *[]Entry[dmm.Gc[Closure]]) {
		for i := range *ms {
			if (*ms)[i].Key == name {
				(*ms)[i].Val = c
				return
			}
		}
		*ms = append(*ms, Entry[dmm.Gc[Closure]]{Key: name, Val: c})
	})
}

// Method looks up a method, falling back to the metatable chain.
func (t *Table) Method(name string) (dmm.Gc[Closure], bool) {
	for cur := t; cur != nil; {
		for _, e := range *cur.Methods.Borrow() {
			if e.Key == name {
				return e.Val, true
			}
		}
		meta := cur.Meta.Get()
		if meta.IsNil() {
			break
		}
		cur = meta.Get()
	}
	return dmm.Gc[Closure]{}, false
}

// Entry is a named slot holding any collectible value.
//
//dmm:collect no_drop, bound=Entry[dmm.Gc[Closure]]
type Entry[V dmm.Collect] struct {
	Key string
	Val V
}

// Closure is a function prototype together with its captured upvalues.
//
//dmm:collect no_drop
type Closure struct {
	Proto    *Proto
	Upvalues []dmm.Gc[Upvalue]
}

// NewClosure allocates a closure capturing one fresh upvalue per value.
func NewClosure(mc *dmm.Mutation, proto *Proto, captured ...Value) dmm.Gc[Closure] {
	ups := make([]dmm.Gc[Upvalue], len(captured))
	for i, v := range captured {
		ups[i] = dmm.New(mc, Upvalue{Value: dmm.NewLock(v)})
	}
	return dmm.New(mc, Closure{Proto: proto, Upvalues: ups})
}

// Proto is compiled function metadata. It never references the heap.
//
//dmm:collect static
type Proto struct {
	Name      string
	Code      []uint32
	Constants []float64
}

// Upvalue is a captured variable shared between closures.
//
//dmm:collect no_drop
type Upvalue struct {
	Value dmm.Lock[Value]
}

// Userdata is an opaque host payload accounted as external memory. Drop
// reports the payload size so the host can settle the external debt.
//
//dmm:collect unsafe_drop
type Userdata struct {
	Bytes []byte
	Env   dmm.Lock[dmm.Gc[Table]]
	Watch dmm.GcWeak[Table]

	release func(n uint64) `gc:"static"`
}

// NewUserdata allocates a userdata with size bytes of external payload.
// release is called with size when the userdata is reclaimed.
func NewUserdata(mc *dmm.Mutation, size int, env dmm.Gc[Table], release func(uint64)) dmm.Gc[Userdata] {
	mc.AddExternal(uint64(size))
	return dmm.New(mc, Userdata{
		Bytes:   make([]byte, size),
		Env:     dmm.NewLock(env),
		release: release,
	})
}

// Drop reports the external payload as released. It must not touch Env or
// Watch.
func (u *Userdata) Drop() {
	if u.release != nil {
		u.release(uint64(len(u.Bytes)))
	}
}

// Counters are host-side statistics kept outside the heap.
type Counters struct {
	Allocated int
	Dropped   int

	pendingExternal uint64
}

// Released records reclaimed external bytes; pass it to NewUserdata.
func (c *Counters) Released(n uint64) {
	c.Dropped++
	c.pendingExternal += n
}

// Settle hands reclaimed external bytes back to the collector.
func (c *Counters) Settle(mc *dmm.Mutation) {
	if c.pendingExternal > 0 {
		mc.RemoveExternal(c.pendingExternal)
		c.pendingExternal = 0
	}
}

// Root is the arena root of an interpreter heap.
//
//dmm:collect no_drop
type Root struct {
	Globals  dmm.Gc[Table]
	Stack    dmm.RefLock[[]Value]
	Registry dmm.DynamicRootSet
	Modules  map[string]dmm.GcWeak[Table]
	Stats    *Counters `gc:"static"`
}

// NewRoot builds an empty root; use it as the arena constructor.
func NewRoot(mc *dmm.Mutation) *Root {
	return &Root{
		Globals:  NewTable(mc),
		Registry: dmm.NewDynamicRootSet(mc),
		Modules:  make(map[string]dmm.GcWeak[Table]),
		Stats:    &Counters{},
	}
}

// Push pushes v on the value stack.
func (r *Root) Push(mc *dmm.Mutation, v Value) {
	r.Stack.Update(mc, func(s *[]Value) { *s = append(*s, v) })
}

// Pop removes and returns the top of the value stack.
func (r *Root) Pop(mc *dmm.Mutation) Value {
	var v Value
	r.Stack.Update(mc, func(s *[]Value) {
		if n := len(*s); n > 0 {
			v = (*s)[n-1]
			(*s)[n-1] = Value{}
			*s = (*s)[:n-1]
		}
	})
	return v
}

// Module returns a cached module table if it is still alive.
func (r *Root) Module(mc *dmm.Mutation, name string) (dmm.Gc[Table], bool) {
	w, ok := r.Modules[name]
	if !ok {
		return dmm.Gc[Table]{}, false
	}
	t, ok := w.Upgrade(mc)
	if !ok {
		delete(r.Modules, name)
	}
	return t, ok
}

// CacheModule remembers t under name without keeping it alive.
func (r *Root) CacheModule(name string, t dmm.Gc[Table]) {
	r.Modules[name] = t.Downgrade()
}
