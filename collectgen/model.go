// Package collectgen generates dmm.Collect implementations from
// //dmm:collect directives on struct type declarations.
package collectgen

import (
	"fmt"
	"go/token"
	"go/types"
)

// DmmPath is the import path of the collector package.
const DmmPath = "github.com/chazu/tcvm/dmm"

// PackageModel is the analyzed view of one package: every type carrying a
// directive, with its generation plan.
type PackageModel struct {
	ImportPath string
	Name       string // short package name
	Dir        string
	Types      []TypeModel
}

// TypeModel describes a struct type to generate Collect for.
type TypeModel struct {
	Name       string
	Pos        token.Position
	Directive  Directive
	GoType     *types.Named
	TypeParams []TypeParamModel
	Fields     []FieldModel

	// NeedsTrace is the generated NeedsTrace result. Always wins over
	// Deferred; with neither, the type never needs tracing.
	Always   bool
	Deferred []types.Type
}

// Generic reports whether the type declares type parameters.
func (tm *TypeModel) Generic() bool { return len(tm.TypeParams) > 0 }

// NeedsTrace reports whether values of the type can ever hold handles.
func (tm *TypeModel) NeedsTrace() bool { return tm.Always || len(tm.Deferred) > 0 }

// TypeParamModel is a type parameter of a generic declaration.
type TypeParamModel struct {
	Name       string
	Constraint string
	Heap       bool // the selected heap parameter
}

// FieldModel is one struct field (or union variant) and how it is traced.
type FieldModel struct {
	Name    string
	Pos     token.Position
	GoType  types.Type
	TypeStr string
	Static  bool // tagged gc:"static"
	Trace   TraceKind
}

// TraceKind selects the statement emitted to trace a field.
type TraceKind int

const (
	// TraceNone means the field never holds handles.
	TraceNone TraceKind = iota
	// TraceMethod calls the field's own Trace method: x.F.Trace(cc).
	TraceMethod
	// TraceAddr goes through the tracer so NeedsTrace is honored: cc.Trace(&x.F).
	TraceAddr
	// TracePointer is TraceAddr for a pointer field that may be nil.
	TracePointer
	// TraceSlice uses dmm.TraceSlice; arrays are sliced first.
	TraceSlice
	// TraceMap uses dmm.TraceMap.
	TraceMap
	// TraceDynamic uses cc.TraceAny for interfaces, type parameters and
	// pointers to containers.
	TraceDynamic
)

func (k TraceKind) String() string {
	switch k {
	case TraceNone:
		return "none"
	case TraceMethod:
		return "method"
	case TraceAddr:
		return "addr"
	case TracePointer:
		return "pointer"
	case TraceSlice:
		return "slice"
	case TraceMap:
		return "map"
	case TraceDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Select keeps only the named types, in their declaration order.
func (m *PackageModel) Select(names []string) error {
	if len(names) == 0 {
		return nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var kept []TypeModel
	for _, tm := range m.Types {
		if want[tm.Name] {
			kept = append(kept, tm)
			delete(want, tm.Name)
		}
	}
	for _, n := range names {
		if want[n] {
			return fmt.Errorf("type %s has no //dmm:collect directive in %s", n, m.ImportPath)
		}
	}
	m.Types = kept
	return nil
}
