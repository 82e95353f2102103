package collectgen

import (
	"fmt"
	"go/token"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

// GeneratedFile is the name of the file written for a package.
func GeneratedFile(pkgName string) string {
	return pkgName + "_collect.go"
}

// Load loads the package matching pattern and analyzes it.
func Load(pattern string) (*PackageModel, error) {
	pkg, fset, err := load(pattern)
	if err != nil {
		return nil, err
	}
	model, err := Analyze(fset, pkg.Syntax, pkg.Types)
	if err != nil {
		return nil, err
	}
	if len(pkg.GoFiles) > 0 {
		model.Dir = filepath.Dir(pkg.GoFiles[0])
	}
	return model, nil
}

// Lint re-verifies types that carry the GcMustNotDrop marker, catching a
// Drop method added after generation.
func Lint(pattern string) error {
	pkgs, fset, err := loadAll(pattern)
	if err != nil {
		return err
	}
	var diags Diagnostics
	for _, pkg := range pkgs {
		diags = append(diags, Check(fset, pkg.Types)...)
	}
	return diags.Err()
}

func load(pattern string) (*packages.Package, *token.FileSet, error) {
	pkgs, fset, err := loadAll(pattern)
	if err != nil {
		return nil, nil, err
	}
	if len(pkgs) != 1 {
		return nil, nil, fmt.Errorf("loading %s: matched %d packages, want 1", pattern, len(pkgs))
	}
	return pkgs[0], fset, nil
}

func loadAll(pattern string) ([]*packages.Package, *token.FileSet, error) {
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedTypes | packages.NeedSyntax,
		Fset: fset,
	}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s: %w", pattern, err)
	}
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			// A stale generated file must not block regeneration.
			if e.Kind == packages.TypeError && strings.Contains(e.Pos, GeneratedFile(pkg.Name)) {
				continue
			}
			return nil, nil, fmt.Errorf("loading %s: %v", pattern, e)
		}
		if pkg.Types == nil {
			return nil, nil, fmt.Errorf("loading %s: no type information", pkg.PkgPath)
		}
	}
	return pkgs, fset, nil
}
