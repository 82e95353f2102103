package collectgen

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"strings"
	"testing"
)

// dmmStub declares the collector API surface the generator and the code it
// emits depend on, so tests can type-check without loading the real package.
const dmmStub = `package dmm

type Collect interface {
	NeedsTrace() bool
	Trace(cc *Tracer)
}

type Tracer struct{}

func (cc *Tracer) Trace(v Collect) {}
func (cc *Tracer) TraceAny(v any)  {}

type Unit struct{}

func (Unit) NeedsTrace() bool { return false }
func (Unit) Trace(*Tracer)    {}

type Gc[T any] struct{ p *T }

func (g Gc[T]) NeedsTrace() bool  { return true }
func (g Gc[T]) Trace(cc *Tracer) {}

type GcWeak[T any] struct{ p *T }

func (w GcWeak[T]) NeedsTrace() bool { return false }
func (w GcWeak[T]) Trace(*Tracer)    {}

type Lock[T any] struct{ v T }

func (l *Lock[T]) NeedsTrace() bool  { return NeedsTraceOf[T]() }
func (l *Lock[T]) Trace(cc *Tracer) {}

type RefLock[T any] struct{ v T }

func (l *RefLock[T]) NeedsTrace() bool  { return NeedsTraceOf[T]() }
func (l *RefLock[T]) Trace(cc *Tracer) {}

type Static[T any] struct{ Value T }

func (Static[T]) NeedsTrace() bool { return false }
func (Static[T]) Trace(*Tracer)    {}

type DynamicRootSet struct{ p *int }

func (s DynamicRootSet) NeedsTrace() bool  { return true }
func (s DynamicRootSet) Trace(cc *Tracer) {}

func NeedsTraceOf[T any]() bool                             { return false }
func TraceSlice[T any](cc *Tracer, s []T)                   {}
func TraceMap[K comparable, V any](cc *Tracer, m map[K]V) {}
`

const testPkgPath = "example.com/heap"

type stubImporter struct {
	dmm *types.Package
}

func (i stubImporter) Import(path string) (*types.Package, error) {
	if path == DmmPath {
		return i.dmm, nil
	}
	return nil, fmt.Errorf("package %s not available in tests", path)
}

// checkSources parses and type-checks the given files as package heap.
func checkSources(t *testing.T, sources map[string]string) (*token.FileSet, []*ast.File, *types.Package) {
	t.Helper()
	fset := token.NewFileSet()

	stub, err := parser.ParseFile(fset, "dmm.go", dmmStub, 0)
	if err != nil {
		t.Fatalf("parsing dmm stub: %v", err)
	}
	dmm, err := (&types.Config{}).Check(DmmPath, fset, []*ast.File{stub}, nil)
	if err != nil {
		t.Fatalf("type-checking dmm stub: %v", err)
	}

	var files []*ast.File
	for name, src := range sources {
		f, err := parser.ParseFile(fset, name, src, parser.ParseComments)
		if err != nil {
			t.Fatalf("parsing %s: %v", name, err)
		}
		files = append(files, f)
	}
	var errs []string
	conf := &types.Config{
		Importer: stubImporter{dmm: dmm},
		Error:    func(err error) { errs = append(errs, err.Error()) },
	}
	pkg, _ := conf.Check(testPkgPath, fset, files, nil)
	if len(errs) > 0 {
		t.Fatalf("type errors:\n%s", strings.Join(errs, "\n"))
	}
	return fset, files, pkg
}

func heapSource(body string) string {
	return "package heap\n\nimport \"github.com/chazu/tcvm/dmm\"\n\nvar _ dmm.Unit\n\n" + body
}

func analyze(t *testing.T, body string) (*PackageModel, error) {
	t.Helper()
	fset, files, pkg := checkSources(t, map[string]string{"heap.go": heapSource(body)})
	return Analyze(fset, files, pkg)
}

func mustAnalyze(t *testing.T, body string) *PackageModel {
	t.Helper()
	m, err := analyze(t, body)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return m
}

func typeNamed(t *testing.T, m *PackageModel, name string) *TypeModel {
	t.Helper()
	for i := range m.Types {
		if m.Types[i].Name == name {
			return &m.Types[i]
		}
	}
	t.Fatalf("type %s not in model", name)
	return nil
}

func fieldNamed(t *testing.T, tm *TypeModel, name string) FieldModel {
	t.Helper()
	for _, f := range tm.Fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("field %s not in %s", name, tm.Name)
	return FieldModel{}
}
