package collectgen

import (
	"strings"
	"testing"
)

// generateAndCheck generates code for body and type-checks it together with
// the source it was generated from.
func generateAndCheck(t *testing.T, body string) string {
	t.Helper()
	m := mustAnalyze(t, body)
	src, err := Generate(m)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	checkSources(t, map[string]string{
		"heap.go":         heapSource(body),
		"heap_collect.go": string(src),
	})
	return string(src)
}

func expectContains(t *testing.T, src string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(src, w) {
			t.Errorf("generated code missing %q:\n%s", w, src)
		}
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func TestGenerateNode(t *testing.T) {
	src := generateAndCheck(t, nodeSource)
	expectContains(t, src,
		"// Code generated by collectgen. DO NOT EDIT.",
		"package heap",
		`"github.com/chazu/tcvm/dmm"`,
		"func (x *Node) NeedsTrace() bool {\n\treturn true\n}",
		"func (x *Node) Trace(cc *dmm.Tracer) {",
		"x.Next.Trace(cc)",
		"dmm.TraceSlice(cc, x.Kids)",
		"dmm.TraceMap(cc, x.Meta)",
		"dmm.TraceSlice(cc, x.Grid[:])",
		"cc.TraceAny(x.Any)",
		"x.Roots.Trace(cc)",
		"func (*Node) GcMustNotDrop() {}",
		"var _ dmm.Collect = (*Node)(nil)",
		"func (x *Leaf) NeedsTrace() bool {\n\treturn false\n}",
		"func (x *Leaf) Trace(cc *dmm.Tracer) {}",
		"var _ dmm.Collect = (*Leaf)(nil)",
	)
	for _, skipped := range []string{"x.Back", "x.Count", "x.Fixed", "x.Ints", "x.Name", "x.Leaf"} {
		if strings.Contains(src, skipped) {
			t.Errorf("generated code traces %s:\n%s", skipped, src)
		}
	}
	if strings.Contains(src, "func (*Leaf) GcMustNotDrop") {
		t.Error("static types should not get the no_drop marker")
	}
}

func TestGenerateGeneric(t *testing.T) {
	src := generateAndCheck(t, `
//dmm:collect static
type Leaf struct{ N int }

//dmm:collect no_drop, bound=Box[dmm.Gc[Leaf], int]
type Box[P dmm.Collect, Q any] struct {
	Val   P
	Extra Q
}
`)
	expectContains(t, src,
		"func (x *Box[P, Q]) NeedsTrace() bool {\n\treturn dmm.NeedsTraceOf[P]()\n}",
		"cc.TraceAny(x.Val)",
		"func (*Box[P, Q]) GcMustNotDrop() {}",
		"var _ dmm.Collect = (*Box[dmm.Gc[Leaf], int])(nil)",
	)
}

func TestGenerateGenericWithoutBound(t *testing.T) {
	src := generateAndCheck(t, `
//dmm:collect unsafe_drop
type List[P dmm.Collect] struct {
	Items []P
}

func (*List[P]) Drop() {}
`)
	if strings.Contains(src, "var _ dmm.Collect") {
		t.Errorf("generic type without bound got an assertion:\n%s", src)
	}
	expectContains(t, src, "dmm.TraceSlice(cc, x.Items)")
}

func TestGenerateDeferred(t *testing.T) {
	src := generateAndCheck(t, `
type Custom struct{}

func (*Custom) NeedsTrace() bool   { return true }
func (*Custom) Trace(*dmm.Tracer) {}

//dmm:collect unsafe_drop
type User struct {
	C Custom
	P *Custom
}

func (*User) Drop() {}
`)
	expectContains(t, src,
		"return dmm.NeedsTraceOf[Custom]()",
		"cc.Trace(&x.C)",
		"if x.P != nil {\n\t\tcc.Trace(x.P)\n\t}",
	)
	if strings.Contains(src, "GcMustNotDrop") {
		t.Error("unsafe_drop types should not get the no_drop marker")
	}
}

func TestGenerateMutualRecursion(t *testing.T) {
	src := generateAndCheck(t, `
//dmm:collect no_drop
type Outer struct {
	In Inner
	G  dmm.Gc[Outer]
}

//dmm:collect no_drop
type Inner struct {
	Up *Outer
}
`)
	expectContains(t, src,
		"func (x *Outer) NeedsTrace() bool {\n\treturn true\n}",
		"cc.Trace(&x.In)",
		"return dmm.NeedsTraceOf[Outer]()",
	)
}

func TestGenerateGenericMutualRecursion(t *testing.T) {
	src := generateAndCheck(t, `
//dmm:collect no_drop
type Node[V dmm.Collect] struct {
	Out *Edge[V]
}

//dmm:collect no_drop
type Edge[V dmm.Collect] struct {
	To  *Node[V]
	Val V
}
`)
	expectContains(t, src,
		"func (x *Node[V]) NeedsTrace() bool {\n\treturn dmm.NeedsTraceOf[V]()\n}",
		"if x.Out != nil {\n\t\tcc.Trace(x.Out)\n\t}",
		"cc.TraceAny(x.Val)",
	)
	if strings.Contains(src, "dmm.NeedsTraceOf[Edge[V]]()") {
		t.Errorf("Node defers to Edge at run time:\n%s", src)
	}
}

func TestGenerateInterfaceFields(t *testing.T) {
	src := generateAndCheck(t, `
//dmm:collect no_drop
type Holder struct {
	Slot dmm.Lock[any]
	Val  any
	N    int
}
`)
	expectContains(t, src,
		"func (x *Holder) NeedsTrace() bool {\n\treturn true\n}",
		"x.Slot.Trace(cc)",
		"cc.TraceAny(x.Val)",
	)
}

// ---------------------------------------------------------------------------
// Lint
// ---------------------------------------------------------------------------

func TestCheckFindsDropOnMarkedType(t *testing.T) {
	fset, _, pkg := checkSources(t, map[string]string{"heap.go": heapSource(`
type Marked struct{}

func (*Marked) GcMustNotDrop() {}
func (*Marked) Drop()          {}

type Clean struct{}

func (*Clean) GcMustNotDrop() {}

type Unmarked struct{}

func (Unmarked) Drop() {}
`)})
	diags := Check(fset, pkg)
	if len(diags) != 1 {
		t.Fatalf("Check() = %v, want one diagnostic", diags)
	}
	want := "type Marked has a Drop method; no_drop forbids custom cleanup (use unsafe_drop)"
	if diags[0].Message != want {
		t.Errorf("Message = %q, want %q", diags[0].Message, want)
	}
}
