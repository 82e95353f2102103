package workload

import (
	"fmt"
	"math/rand/v2"

	"github.com/chazu/tcvm/dmm"
)

// Params shape the synthetic mutator driven by a Generator.
type Params struct {
	Allocs   int     // allocations per step
	Retain   float64 // fraction of allocations stored in the live window
	Window   int     // live window slots in the global array
	Userdata int     // external payload bytes per userdata
}

// DefaultParams is a mostly-garbage load with a small live set.
var DefaultParams = Params{Allocs: 64, Retain: 0.1, Window: 256, Userdata: 256}

var benchProto = &Proto{Name: "bench", Code: []uint32{1, 2, 3}}

// Generator allocates and rewires heap objects the way a running program
// would: most allocations die young, a rotating window stays reachable and
// metatables and upvalues get overwritten behind the collector's back.
type Generator struct {
	p      Params
	rng    *rand.Rand
	serial int
}

// NewGenerator returns a deterministic generator for seed.
func NewGenerator(p Params, seed uint64) *Generator {
	if p.Window <= 0 {
		p.Window = 1
	}
	return &Generator{p: p, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Step runs one batch of allocations and mutations.
func (g *Generator) Step(mc *dmm.Mutation, root *Root) {
	root.Stats.Settle(mc)
	globals := root.Globals.Get()

	for i := 0; i < g.p.Allocs; i++ {
		g.serial++
		v := g.allocate(mc, root, globals)
		root.Stats.Allocated++
		if g.rng.Float64() < g.p.Retain {
			globals.Put(mc, g.serial%g.p.Window, v)
		}
	}
	g.rewire(mc, globals)
}

func (g *Generator) allocate(mc *dmm.Mutation, root *Root, globals *Table) Value {
	switch g.rng.IntN(4) {
	case 0:
		t := NewTable(mc)
		t.Get().Set(mc, "id", Number(float64(g.serial)))
		t.Get().Append(mc, g.pick(globals))
		return TableValue(t)
	case 1:
		c := NewClosure(mc, benchProto, g.pick(globals), String(fmt.Sprint(g.serial)))
		return FuncValue(c)
	case 2:
		var env dmm.Gc[Table]
		if v := g.pick(globals); v.Kind == KindTable {
			env = v.Table
		}
		return DataValue(NewUserdata(mc, g.p.Userdata, env, root.Stats.Released))
	default:
		t := NewTable(mc)
		name := fmt.Sprintf("mod%d", g.serial%8)
		root.CacheModule(name, t)
		return TableValue(t)
	}
}

// rewire mutates a few live objects so barriers fire on black containers.
func (g *Generator) rewire(mc *dmm.Mutation, globals *Table) {
	for i := 0; i < 4; i++ {
		a, b := g.pick(globals), g.pick(globals)
		switch {
		case a.Kind == KindTable && b.Kind == KindTable:
			a.Table.Get().Meta.Set(mc, b.Table)
		case a.Kind == KindFunc && len(a.Func.Get().Upvalues) > 0:
			a.Func.Get().Upvalues[0].Get().Value.Set(mc, b)
		case a.Kind == KindTable && b.Kind == KindFunc:
			a.Table.Get().Define(mc, "call", b.Func)
		}
	}
}

func (g *Generator) pick(globals *Table) Value {
	n := globals.Len()
	if n == 0 {
		return Value{}
	}
	return globals.Index(g.rng.IntN(n))
}
