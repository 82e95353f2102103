package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/tcvm/config"
	"github.com/chazu/tcvm/gcstats"
	"github.com/chazu/tcvm/host"
)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Pacing.MinSleep = 1024
	cfg.Bench.Steps = 40
	cfg.Bench.Allocs = 16
	cfg.Bench.Window = 16
	cfg.Record.Every = 10
	cfg.Dir = t.TempDir()
	return cfg
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func TestRunRecordsSamples(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Record.Database = "stats.db"
	cfg.Record.Dump = "last.cbor"

	rep, err := run(cfg, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Samples != 4 {
		t.Errorf("Samples = %d, want 4", rep.Samples)
	}
	if rep.Mode != host.CollectDebt {
		t.Errorf("Mode = %v, want debt", rep.Mode)
	}
	if rep.Summary == nil || rep.Summary.Samples != 4 {
		t.Fatalf("Summary = %+v, want 4 samples", rep.Summary)
	}
	if rep.Last.Step != 40 || rep.Last.Arena != rep.Arena {
		t.Errorf("Last = step %d arena %v, want step 40 arena %v", rep.Last.Step, rep.Last.Arena, rep.Arena)
	}
	if rep.Last.Allocations == 0 {
		t.Error("no allocations recorded")
	}

	data, err := os.ReadFile(filepath.Join(cfg.Dir, "last.cbor"))
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	s, err := gcstats.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Step != 40 || s.TotalAllocated != rep.Last.TotalAllocated {
		t.Errorf("dumped sample = %+v, want %+v", s, rep.Last)
	}

	rec, err := gcstats.OpenRecorder(filepath.Join(cfg.Dir, "stats.db"))
	if err != nil {
		t.Fatalf("OpenRecorder: %v", err)
	}
	defer rec.Close()
	arenas, err := rec.Arenas()
	if err != nil || len(arenas) != 1 || arenas[0] != rep.Arena {
		t.Errorf("Arenas() = %v, %v; want [%v]", arenas, err, rep.Arena)
	}
}

func TestRunPartialFinalSample(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Bench.Steps = 25

	rep, err := run(cfg, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Samples != 3 || rep.Last.Step != 25 {
		t.Errorf("Samples = %d, last step %d; want 3, 25", rep.Samples, rep.Last.Step)
	}
	if rep.Summary != nil {
		t.Error("Summary without a database")
	}
}

func TestRunCollectAllWithFinalizers(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Bench.Collect = "all"
	cfg.Bench.Steps = 5

	rep, err := run(cfg, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Passes != 5 {
		t.Errorf("Passes = %d, want 5", rep.Passes)
	}
	if rep.Last.Cycles < 5 {
		t.Errorf("Cycles = %d, want at least 5", rep.Last.Cycles)
	}
	if rep.Last.Phase != "sleeping" {
		t.Errorf("Phase = %q, want sleeping", rep.Last.Phase)
	}
}

func TestRunUnknownMode(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Bench.Collect = "sometimes"
	if _, err := run(cfg, false); err == nil {
		t.Error("run with an unknown collect mode should fail")
	}
}

func TestReportPrint(t *testing.T) {
	rep, err := run(smallConfig(t), true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var buf bytes.Buffer
	rep.print(&buf)
	out := buf.String()
	for _, want := range []string{"arena", "collect   debt", "steps     40", "cycles"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	src := "[bench]\nsteps = 7\ncollect = \"step\"\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Bench.Steps != 7 || cfg.Bench.Collect != "step" {
		t.Errorf("Bench = %+v, want steps 7 collect step", cfg.Bench)
	}
}
