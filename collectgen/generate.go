package collectgen

import (
	"bytes"
	"fmt"
	"go/types"

	"github.com/dave/jennifer/jen"
)

const (
	recvName   = "x"
	tracerName = "cc"
)

// Generate renders the Collect implementations for every type in m as one
// gofmt-formatted Go file.
func Generate(m *PackageModel) ([]byte, error) {
	f := jen.NewFilePathName(m.ImportPath, m.Name)
	f.HeaderComment("Code generated by collectgen. DO NOT EDIT.")
	f.ImportName(DmmPath, "dmm")

	for i := range m.Types {
		generateType(f, &m.Types[i])
	}

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", m.ImportPath, err)
	}
	return buf.Bytes(), nil
}

func generateType(f *jen.File, tm *TypeModel) {
	recv := func(name string) *jen.Statement {
		t := jen.Op("*").Id(tm.Name)
		if tm.Generic() {
			var params []jen.Code
			for _, tp := range tm.TypeParams {
				params = append(params, jen.Id(tp.Name))
			}
			t = t.Types(params...)
		}
		if name == "" {
			return t
		}
		return jen.Id(name).Add(t)
	}

	f.Func().Params(recv(recvName)).Id("NeedsTrace").Params().Bool().Block(
		jen.Return(needsTraceExpr(tm)),
	)
	f.Line()

	var body []jen.Code
	if tm.NeedsTrace() {
		for _, fm := range tm.Fields {
			if stmt := traceStmt(fm); stmt != nil {
				body = append(body, stmt)
			}
		}
	}
	f.Func().Params(recv(recvName)).Id("Trace").Params(
		jen.Id(tracerName).Op("*").Qual(DmmPath, "Tracer"),
	).Block(body...)

	if tm.Directive.Mode == ModeNoDrop {
		f.Line()
		f.Func().Params(recv("")).Id("GcMustNotDrop").Params().Block()
	}

	switch {
	case tm.Directive.Bound != "" && tm.Directive.Mode != ModeStatic:
		f.Line()
		f.Var().Id("_").Qual(DmmPath, "Collect").Op("=").Parens(jen.Op("*").Id(tm.Directive.Bound)).Call(jen.Nil())
	case !tm.Generic():
		f.Line()
		f.Var().Id("_").Qual(DmmPath, "Collect").Op("=").Parens(jen.Op("*").Id(tm.Name)).Call(jen.Nil())
	}
}

func needsTraceExpr(tm *TypeModel) jen.Code {
	switch {
	case tm.Always:
		return jen.True()
	case len(tm.Deferred) == 0:
		return jen.False()
	}
	expr := jen.Null()
	for i, t := range tm.Deferred {
		if i > 0 {
			expr = expr.Op("||")
		}
		expr = expr.Qual(DmmPath, "NeedsTraceOf").Types(typeCode(t)).Call()
	}
	return expr
}

func traceStmt(fm FieldModel) jen.Code {
	field := func() *jen.Statement { return jen.Id(recvName).Dot(fm.Name) }
	cc := jen.Id(tracerName)

	switch fm.Trace {
	case TraceMethod:
		return field().Dot("Trace").Call(cc)
	case TraceAddr:
		return jen.Id(tracerName).Dot("Trace").Call(jen.Op("&").Add(field()))
	case TracePointer:
		return jen.If(field().Op("!=").Nil()).Block(
			jen.Id(tracerName).Dot("Trace").Call(field()),
		)
	case TraceSlice:
		arg := field()
		if _, ok := types.Unalias(fm.GoType).Underlying().(*types.Array); ok {
			arg = arg.Index(jen.Empty(), jen.Empty())
		}
		return jen.Qual(DmmPath, "TraceSlice").Call(cc, arg)
	case TraceMap:
		return jen.Qual(DmmPath, "TraceMap").Call(cc, field())
	case TraceDynamic:
		return jen.Id(tracerName).Dot("TraceAny").Call(field())
	}
	return nil
}

// typeCode renders t for use as a type argument.
func typeCode(t types.Type) jen.Code {
	switch t := types.Unalias(t).(type) {
	case *types.TypeParam:
		return jen.Id(t.Obj().Name())
	case *types.Named:
		obj := t.Obj()
		var s *jen.Statement
		if obj.Pkg() == nil {
			s = jen.Id(obj.Name())
		} else {
			s = jen.Qual(obj.Pkg().Path(), obj.Name())
		}
		if args := t.TypeArgs(); args.Len() > 0 {
			var codes []jen.Code
			for i := 0; i < args.Len(); i++ {
				codes = append(codes, typeCode(args.At(i)))
			}
			s = s.Types(codes...)
		}
		return s
	case *types.Pointer:
		return jen.Op("*").Add(typeCode(t.Elem()))
	case *types.Slice:
		return jen.Index().Add(typeCode(t.Elem()))
	case *types.Array:
		return jen.Index(jen.Lit(int(t.Len()))).Add(typeCode(t.Elem()))
	case *types.Map:
		return jen.Map(typeCode(t.Key())).Add(typeCode(t.Elem()))
	case *types.Basic:
		return jen.Id(t.Name())
	}
	return jen.Id(types.TypeString(t, func(p *types.Package) string { return p.Name() }))
}
