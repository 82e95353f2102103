package collectgen

import (
	"go/token"
	"go/types"
)

// Check reports every type in pkg that carries the GcMustNotDrop marker but
// has since gained a Drop method.
func Check(fset *token.FileSet, pkg *types.Package) Diagnostics {
	var diags Diagnostics
	scope := pkg.Scope()
	for _, name := range scope.Names() {
		obj, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || obj.IsAlias() {
			continue
		}
		if hasMethod(obj.Type(), "GcMustNotDrop") && hasDrop(obj.Type(), pkg) {
			diags.add(fset.Position(obj.Pos()), "type %s has a Drop method; no_drop forbids custom cleanup (use unsafe_drop)", name)
		}
	}
	return diags
}
