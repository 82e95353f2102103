package collectgen

import (
	"go/ast"
	"go/token"
	"go/types"
	"reflect"
)

type declared struct {
	obj *types.TypeName
	dir Directive
	ok  bool // the directive parsed cleanly
}

type analyzer struct {
	fset  *token.FileSet
	pkg   *types.Package
	diags Diagnostics

	decls  map[*types.TypeName]*declared
	order  []*declared
	state  map[*types.TypeName]int
	models map[*types.TypeName]*TypeModel

	walking map[string]bool // named types under a structural walk
	ctxt    *types.Context
}

const (
	unvisited = iota
	visiting
	visited
)

// Analyze builds the generation plan for every directive-carrying type in a
// type-checked package. All problems are reported together as Diagnostics.
func Analyze(fset *token.FileSet, files []*ast.File, pkg *types.Package) (*PackageModel, error) {
	a := &analyzer{
		fset:    fset,
		pkg:     pkg,
		decls:   make(map[*types.TypeName]*declared),
		state:   make(map[*types.TypeName]int),
		models:  make(map[*types.TypeName]*TypeModel),
		walking: make(map[string]bool),
		ctxt:    types.NewContext(),
	}
	for _, file := range files {
		a.collectDirectives(file)
	}

	model := &PackageModel{ImportPath: pkg.Path(), Name: pkg.Name()}
	for _, d := range a.order {
		if !d.ok {
			continue
		}
		if tm := a.model(d.obj); tm != nil {
			model.Types = append(model.Types, *tm)
		}
	}
	if err := a.diags.Err(); err != nil {
		return nil, err
	}
	return model, nil
}

func (a *analyzer) collectDirectives(file *ast.File) {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts := spec.(*ast.TypeSpec)
			var comments []*ast.Comment
			if gen.Lparen == token.NoPos && gen.Doc != nil {
				comments = append(comments, gen.Doc.List...)
			}
			if ts.Doc != nil {
				comments = append(comments, ts.Doc.List...)
			}
			a.declare(ts, comments)
		}
	}
}

func (a *analyzer) declare(ts *ast.TypeSpec, comments []*ast.Comment) {
	var found []*ast.Comment
	for _, c := range comments {
		if IsDirective(c.Text) {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return
	}
	obj, _ := a.pkg.Scope().Lookup(ts.Name.Name).(*types.TypeName)
	if obj == nil {
		return
	}
	d := &declared{obj: obj}
	a.decls[obj] = d
	a.order = append(a.order, d)
	if len(found) > 1 {
		a.diags.add(a.fset.Position(found[1].Pos()), "cannot specify multiple //dmm:collect directives; consider merging them")
		return
	}
	dir, diags := ParseDirective(a.fset.Position(found[0].Pos()), found[0].Text)
	a.diags = append(a.diags, diags...)
	d.dir = dir
	d.ok = len(diags) == 0
}

// model analyzes one declared type. It returns nil while the type is being
// analyzed further up the stack, or when it has errors.
func (a *analyzer) model(obj *types.TypeName) *TypeModel {
	switch a.state[obj] {
	case visiting:
		return nil
	case visited:
		return a.models[obj]
	}
	a.state[obj] = visiting
	defer func() { a.state[obj] = visited }()

	d := a.decls[obj]
	pos := a.fset.Position(obj.Pos())
	before := len(a.diags)

	named, _ := obj.Type().(*types.Named)
	if named == nil {
		a.diags.add(pos, "//dmm:collect requires a defined struct type, %s is an alias", obj.Name())
		return nil
	}
	st, ok := named.Underlying().(*types.Struct)
	if !ok {
		a.diags.add(pos, "//dmm:collect requires a struct type, %s is %s", obj.Name(), types.TypeString(named.Underlying(), a.qualifier))
		return nil
	}

	tm := &TypeModel{Name: obj.Name(), Pos: pos, Directive: d.dir, GoType: named}
	heap, hasHeapParams := a.selectHeap(tm, named)

	if d.dir.Mode == ModeNoDrop && hasDrop(named, a.pkg) {
		a.diags.add(pos, "type %s has a Drop method; no_drop forbids custom cleanup (use unsafe_drop)", obj.Name())
	}

	var n need
	for i := 0; i < st.NumFields(); i++ {
		v := st.Field(i)
		fm := FieldModel{
			Name:    v.Name(),
			Pos:     a.fset.Position(v.Pos()),
			GoType:  v.Type(),
			TypeStr: types.TypeString(v.Type(), a.qualifier),
		}
		if value, ok := reflect.StructTag(st.Tag(i)).Lookup("gc"); ok {
			switch {
			case value != "static":
				a.diags.add(fm.Pos, `only gc:"static" is supported on a field`)
			case d.dir.Union:
				a.diags.add(fm.Pos, `gc:"static" is not supported on union variants`)
			default:
				fm.Static = true
			}
		}
		if v.Name() == "_" {
			continue
		}
		if fm.Static || d.dir.Mode == ModeStatic {
			if a.holdsHandles(v.Type(), heap) {
				a.diags.add(fm.Pos, "field %s: type %s holds heap handles but is declared static", fm.Name, fm.TypeStr)
			}
		} else {
			ctx := &fieldContext{field: fm.Name, pos: fm.Pos, heap: heap, exemptParams: hasHeapParams}
			fn, kind := a.classify(v.Type(), ctx)
			if !fn.none() {
				fm.Trace = kind
				n.merge(fn)
			}
		}
		tm.Fields = append(tm.Fields, fm)
	}

	if len(a.diags) > before {
		return nil
	}
	if d.dir.Mode != ModeStatic {
		tm.Always = n.always
		if !n.always {
			tm.Deferred = n.withoutSelf(named)
		}
	}
	a.models[obj] = tm
	return tm
}

// selectHeap records the type parameters and picks the heap parameter.
// hasHeapParams reports whether any parameter is constrained by Collect, in
// which case the unselected ones are exempt from tracing.
func (a *analyzer) selectHeap(tm *TypeModel, named *types.Named) (heap string, hasHeapParams bool) {
	var candidates []string
	tps := named.TypeParams()
	for i := 0; i < tps.Len(); i++ {
		tp := tps.At(i)
		tm.TypeParams = append(tm.TypeParams, TypeParamModel{
			Name:       tp.Obj().Name(),
			Constraint: types.TypeString(tp.Constraint(), a.qualifier),
		})
		if hasCollectMethods(tp.Constraint()) {
			candidates = append(candidates, tp.Obj().Name())
		}
	}

	switch {
	case tm.Directive.Heap != "":
		for _, tp := range tm.TypeParams {
			if tp.Name == tm.Directive.Heap {
				heap = tp.Name
			}
		}
		if heap == "" {
			a.diags.add(tm.Directive.Pos, "heap=%s is not a type parameter of %s", tm.Directive.Heap, tm.Name)
		}
	case len(candidates) == 1:
		heap = candidates[0]
	case len(candidates) > 1:
		a.diags.add(tm.Pos, "type %s declares multiple heap type parameters; select one with heap=<Param>", tm.Name)
	}
	for i := range tm.TypeParams {
		tm.TypeParams[i].Heap = tm.TypeParams[i].Name == heap
	}
	return heap, len(candidates) > 0 || heap != ""
}

func (a *analyzer) qualifier(p *types.Package) string {
	if p == a.pkg {
		return ""
	}
	return p.Name()
}

// ---------------------------------------------------------------------------
// Field classification
// ---------------------------------------------------------------------------

// need is what a field contributes to NeedsTrace: always true, or true when
// one of the deferred types needs tracing at run time.
type need struct {
	always   bool
	deferred []types.Type
}

func (n need) none() bool { return !n.always && len(n.deferred) == 0 }

func (n *need) merge(o need) {
	n.always = n.always || o.always
	for _, t := range o.deferred {
		n.add(t)
	}
}

func (n *need) add(t types.Type) {
	for _, d := range n.deferred {
		if types.Identical(d, t) {
			return
		}
	}
	n.deferred = append(n.deferred, t)
}

// withoutSelf drops references back to the declaring type, which add nothing
// to its own answer. Other instantiations of a generic type are kept.
func (n need) withoutSelf(self *types.Named) []types.Type {
	var out []types.Type
	for _, t := range n.deferred {
		if isSelf(t, self) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isSelf(t types.Type, self *types.Named) bool {
	named, ok := t.(*types.Named)
	if !ok || named.Obj() != self.Obj() {
		return false
	}
	args, params := named.TypeArgs(), self.TypeParams()
	if args.Len() != params.Len() {
		return false
	}
	for i := 0; i < args.Len(); i++ {
		if args.At(i) != types.Type(params.At(i)) {
			return false
		}
	}
	return true
}

// instantiate maps the answer of a generic model onto one of its
// instantiations.
func (a *analyzer) instantiate(tm *TypeModel, t *types.Named) (need, bool) {
	if tm.Always {
		return need{always: true}, true
	}
	params, args := tm.GoType.TypeParams(), t.TypeArgs()
	if params.Len() != args.Len() {
		return need{}, false
	}
	m := make(map[*types.TypeParam]types.Type, params.Len())
	for i := 0; i < params.Len(); i++ {
		m[params.At(i)] = args.At(i)
	}
	var n need
	for _, d := range tm.Deferred {
		s, ok := a.subst(d, m)
		if !ok {
			return need{}, false
		}
		n.add(s)
	}
	return n, true
}

// subst replaces the type parameters of t according to m.
func (a *analyzer) subst(t types.Type, m map[*types.TypeParam]types.Type) (types.Type, bool) {
	switch t := t.(type) {
	case *types.TypeParam:
		if r, ok := m[t]; ok {
			return r, true
		}
	case *types.Named:
		args := t.TypeArgs()
		if args.Len() == 0 {
			return t, true
		}
		list := make([]types.Type, args.Len())
		for i := range list {
			s, ok := a.subst(args.At(i), m)
			if !ok {
				return nil, false
			}
			list[i] = s
		}
		inst, err := types.Instantiate(a.ctxt, t.Origin(), list, false)
		if err != nil {
			return nil, false
		}
		return inst, true
	case *types.Pointer:
		e, ok := a.subst(t.Elem(), m)
		return types.NewPointer(e), ok
	case *types.Slice:
		e, ok := a.subst(t.Elem(), m)
		return types.NewSlice(e), ok
	case *types.Array:
		e, ok := a.subst(t.Elem(), m)
		return types.NewArray(e, t.Len()), ok
	case *types.Map:
		k, ok := a.subst(t.Key(), m)
		if !ok {
			return nil, false
		}
		e, ok := a.subst(t.Elem(), m)
		return types.NewMap(k, e), ok
	}
	return t, true
}

type fieldContext struct {
	field        string
	pos          token.Position
	heap         string
	exemptParams bool
	reported     bool
}

func (a *analyzer) report(ctx *fieldContext, format string, args ...any) {
	if ctx.reported {
		return
	}
	ctx.reported = true
	a.diags.add(ctx.pos, "field %s: "+format, append([]any{ctx.field}, args...)...)
}

// classify decides whether a field type can hold handles and how to trace it.
func (a *analyzer) classify(t types.Type, ctx *fieldContext) (need, TraceKind) {
	switch t := types.Unalias(t).(type) {
	case *types.TypeParam:
		switch {
		case t.Obj().Name() == ctx.heap:
			return need{deferred: []types.Type{t}}, TraceDynamic
		case !ctx.exemptParams:
			a.report(ctx, `type parameter %s must be tagged gc:"static"`, t.Obj().Name())
		}
		return need{}, TraceNone

	case *types.Named:
		return a.classifyNamed(t, ctx)

	case *types.Pointer:
		n, _ := a.classify(t.Elem(), ctx)
		if n.none() {
			return n, TraceNone
		}
		if a.isCollect(t.Elem()) {
			return n, TracePointer
		}
		return n, TraceDynamic

	case *types.Slice:
		n, _ := a.classify(t.Elem(), ctx)
		return n, kindIf(n, TraceSlice)

	case *types.Array:
		n, _ := a.classify(t.Elem(), ctx)
		return n, kindIf(n, TraceSlice)

	case *types.Map:
		n, _ := a.classify(t.Key(), ctx)
		v, _ := a.classify(t.Elem(), ctx)
		n.merge(v)
		return n, kindIf(n, TraceMap)

	case *types.Interface:
		// Any dynamic type may be stored, including a Gc or a Lock.
		return need{always: true}, TraceDynamic

	case *types.Struct:
		if a.structNeeds(t, ctx) {
			a.report(ctx, "type %s holds heap handles but does not implement dmm.Collect", types.TypeString(t, a.qualifier))
		}
	}
	return need{}, TraceNone
}

func (a *analyzer) classifyNamed(t *types.Named, ctx *fieldContext) (need, TraceKind) {
	obj := t.Obj()
	if types.IsInterface(t) {
		return need{always: true}, TraceDynamic
	}
	if isDmm(obj) {
		switch obj.Name() {
		case "Gc", "DynamicRootSet":
			return need{always: true}, TraceMethod
		case "Lock", "RefLock":
			n, _ := a.classify(t.TypeArgs().At(0), ctx)
			return n, kindIf(n, TraceMethod)
		}
		return need{}, TraceNone
	}

	if d := a.decls[obj]; d != nil && obj.Pkg() == a.pkg {
		if !d.ok {
			return need{deferred: []types.Type{t}}, TraceAddr
		}
		tm := a.model(obj)
		if tm == nil {
			return need{deferred: []types.Type{t}}, TraceAddr
		}
		if t.TypeArgs().Len() > 0 {
			// Resolve through the model so that mutually recursive
			// generic types do not defer to each other at run time.
			n, ok := a.instantiate(tm, t)
			if !ok {
				return need{deferred: []types.Type{t}}, TraceAddr
			}
			return n, kindIf(n, TraceAddr)
		}
		n := need{always: tm.Always, deferred: tm.Deferred}
		return n, kindIf(n, TraceAddr)
	}
	if hasCollectMethods(t) {
		return need{deferred: []types.Type{t}}, TraceAddr
	}

	switch u := t.Underlying().(type) {
	case *types.Struct:
		key := types.TypeString(t, nil)
		if a.walking[key] {
			return need{}, TraceNone
		}
		a.walking[key] = true
		defer delete(a.walking, key)
		if a.structNeeds(u, ctx) {
			a.report(ctx, "type %s holds heap handles but does not implement dmm.Collect", types.TypeString(t, a.qualifier))
		}
		return need{}, TraceNone
	default:
		key := types.TypeString(t, nil)
		if a.walking[key] {
			return need{}, TraceNone
		}
		a.walking[key] = true
		defer delete(a.walking, key)
		n, kind := a.classify(u, ctx)
		if kind == TracePointer {
			// Defined pointer types have no methods.
			kind = TraceDynamic
		}
		return n, kind
	}
}

// structNeeds reports whether any field of an untraceable struct could hold
// handles.
func (a *analyzer) structNeeds(st *types.Struct, ctx *fieldContext) bool {
	for i := 0; i < st.NumFields(); i++ {
		if a.holdsHandles(st.Field(i).Type(), ctx.heap) {
			return true
		}
	}
	return false
}

func kindIf(n need, k TraceKind) TraceKind {
	if n.none() {
		return TraceNone
	}
	return k
}

// isCollect reports whether t, or a pointer to it, implements Collect once
// generation has run.
func (a *analyzer) isCollect(t types.Type) bool {
	if types.IsInterface(t) {
		return false
	}
	if named, ok := types.Unalias(t).(*types.Named); ok {
		if isDmm(named.Obj()) {
			return true
		}
		if d := a.decls[named.Obj()]; d != nil && named.Obj().Pkg() == a.pkg {
			return true
		}
	}
	return hasCollectMethods(t)
}

// ---------------------------------------------------------------------------
// Handle containment
// ---------------------------------------------------------------------------

// holdsHandles reports whether a value of t can contain a strong or weak
// handle, looking through every named type.
func (a *analyzer) holdsHandles(t types.Type, heap string) bool {
	switch t := types.Unalias(t).(type) {
	case *types.TypeParam:
		return t.Obj().Name() == heap
	case *types.Named:
		obj := t.Obj()
		if isDmm(obj) {
			switch obj.Name() {
			case "Gc", "GcWeak", "DynamicRootSet", "DynamicRoot":
				return true
			case "Lock", "RefLock":
				return a.holdsHandles(t.TypeArgs().At(0), heap)
			}
			return false
		}
		if d := a.decls[obj]; d != nil && d.ok && d.dir.Mode == ModeStatic {
			return false
		}
		key := types.TypeString(t, nil)
		if a.walking[key] {
			return false
		}
		a.walking[key] = true
		defer delete(a.walking, key)
		return a.holdsHandles(t.Underlying(), heap)
	case *types.Pointer:
		return a.holdsHandles(t.Elem(), heap)
	case *types.Slice:
		return a.holdsHandles(t.Elem(), heap)
	case *types.Array:
		return a.holdsHandles(t.Elem(), heap)
	case *types.Chan:
		return a.holdsHandles(t.Elem(), heap)
	case *types.Map:
		return a.holdsHandles(t.Key(), heap) || a.holdsHandles(t.Elem(), heap)
	case *types.Struct:
		for i := 0; i < t.NumFields(); i++ {
			if a.holdsHandles(t.Field(i).Type(), heap) {
				return true
			}
		}
	case *types.Interface:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Method lookups
// ---------------------------------------------------------------------------

func isDmm(obj *types.TypeName) bool {
	return obj.Pkg() != nil && obj.Pkg().Path() == DmmPath
}

// hasCollectMethods reports whether t or *t has NeedsTrace and Trace
// methods, including through an interface or a type parameter constraint.
func hasCollectMethods(t types.Type) bool {
	return hasMethod(t, "NeedsTrace") && hasMethod(t, "Trace")
}

func hasMethod(t types.Type, name string) bool {
	obj, _, _ := types.LookupFieldOrMethod(t, true, nil, name)
	_, ok := obj.(*types.Func)
	return ok
}

func hasDrop(t types.Type, pkg *types.Package) bool {
	obj, _, _ := types.LookupFieldOrMethod(t, true, pkg, "Drop")
	_, ok := obj.(*types.Func)
	return ok
}
