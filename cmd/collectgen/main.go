// Command collectgen writes dmm.Collect implementations for the struct
// types of a package that carry a //dmm:collect directive.
//
// Typical use is a go:generate line in the package:
//
//	//go:generate go run github.com/chazu/tcvm/cmd/collectgen
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/tcvm/collectgen"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("tcvm.collectgen")

func main() {
	typeNames := flag.String("type", "", "Comma-separated type names to generate (default: every directive)")
	output := flag.String("o", "", "Output file (default: <package>_collect.go in the package directory)")
	check := flag.Bool("check", false, "Only verify that no_drop types still have no Drop method")
	verbose := flag.Int("v", 0, "Log verbosity")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: collectgen [options] [package]\n\n")
		fmt.Fprintf(os.Stderr, "Generates NeedsTrace/Trace methods for //dmm:collect types.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDirective:\n")
		fmt.Fprintf(os.Stderr, "  //dmm:collect <static|no_drop|unsafe_drop>[, bound=T[Args]][, heap=P][, union]\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  collectgen                     # Current package\n")
		fmt.Fprintf(os.Stderr, "  collectgen -type Node,Root .   # Only Node and Root\n")
		fmt.Fprintf(os.Stderr, "  collectgen -check ./...        # Lint no_drop markers\n")
	}
	flag.Parse()
	commonlog.Configure(*verbose, nil)

	pattern := "."
	if flag.NArg() > 0 {
		pattern = flag.Arg(0)
	}

	if *check {
		if err := collectgen.Lint(pattern); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := generate(pattern, *typeNames, *output); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func generate(pattern, typeNames, output string) error {
	model, err := collectgen.Load(pattern)
	if err != nil {
		return err
	}
	if typeNames != "" {
		if err := model.Select(strings.Split(typeNames, ",")); err != nil {
			return err
		}
	}
	if len(model.Types) == 0 {
		log.Infof("%s: no //dmm:collect types", model.ImportPath)
		return nil
	}

	src, err := collectgen.Generate(model)
	if err != nil {
		return err
	}
	if output == "" {
		output = filepath.Join(model.Dir, collectgen.GeneratedFile(model.Name))
	}
	if err := os.WriteFile(output, src, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	log.Infof("wrote %s (%d types)", output, len(model.Types))
	return nil
}
