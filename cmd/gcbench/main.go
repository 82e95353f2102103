// Command gcbench drives a synthetic interpreter heap through the collector
// under the pacing and collection mode of a tcvm.toml file, optionally
// recording metric samples to SQLite.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tcvm/config"
)

var log = commonlog.GetLogger("tcvm.gcbench")

func main() {
	configDir := flag.String("config", "", "Directory containing tcvm.toml (default: search upward from .)")
	steps := flag.Int("steps", 0, "Number of workload steps")
	collect := flag.String("collect", "", "Collection mode: debt, step or all")
	seed := flag.Uint64("seed", 0, "Workload random seed")
	db := flag.String("db", "", "SQLite database to record samples into")
	dump := flag.String("dump", "", "Write the last sample as CBOR to this file")
	finalize := flag.Bool("finalize", false, "Run a finalization pass before every sweep")
	verbose := flag.Int("v", 0, "Log verbosity")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gcbench [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the synthetic workload and reports collector metrics.\n")
		fmt.Fprintf(os.Stderr, "Flags override the values of tcvm.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  gcbench                          # Use ./tcvm.toml or defaults\n")
		fmt.Fprintf(os.Stderr, "  gcbench -collect all -steps 200  # Full collection after every step\n")
		fmt.Fprintf(os.Stderr, "  gcbench -db stats.db -dump last.cbor\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "steps":
			cfg.Bench.Steps = *steps
		case "collect":
			cfg.Bench.Collect = *collect
		case "seed":
			cfg.Bench.Seed = *seed
		case "db":
			cfg.Record.Database = *db
		case "dump":
			cfg.Record.Dump = *dump
		case "v":
			cfg.Log.Verbosity = *verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var logPath *string
	if cfg.Log.File != "" {
		p := cfg.Path(cfg.Log.File)
		logPath = &p
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	rep, err := run(cfg, *finalize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	rep.print(os.Stdout)
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		log.Info("no tcvm.toml found, using defaults")
		cfg = config.Default()
	}
	return cfg, nil
}
