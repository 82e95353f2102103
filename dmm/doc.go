// Package dmm is an incremental tracing collector for the heap of an
// embedded language runtime.
//
// An Arena owns a graph of allocations reachable from one root value. Hosts
// touch the graph only inside Arena.Enter, which hands out a *Mutation:
//
//	arena := dmm.NewArena(func(mc *dmm.Mutation) *Root {
//		return &Root{}
//	})
//	arena.Enter(func(mc *dmm.Mutation, root *Root) {
//		n := dmm.New(mc, Node{Name: "head"})
//		root.Head.Set(mc, n)
//	})
//	arena.CollectDebt()
//
// Between callbacks the host asks for collection work. Work is paced by
// allocation debt (see Pacing) and is done in small units: a marking unit
// traces one allocation, a sweeping unit visits one. Marking is tri-color;
// Lock, RefLock and Gc.Write run the write barrier that keeps black objects
// from pointing at white ones while marking is in progress.
//
// Every type stored in an arena implements Collect. Implementations are
// generated by cmd/collectgen from a //dmm:collect directive:
//
//	//dmm:collect no_drop
//	type Node struct {
//		Next dmm.Gc[Node]
//		Name string
//	}
//
// Go does not track handles held on the stack, so collection never runs
// while a Mutation is active, and Gc pointers must not outlive the callback
// they were obtained in. DynamicRootSet keeps values alive between callbacks.
package dmm
