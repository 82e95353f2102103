package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/tcvm/config"
	"github.com/chazu/tcvm/dmm"
	"github.com/chazu/tcvm/gcstats"
	"github.com/chazu/tcvm/host"
	"github.com/chazu/tcvm/internal/workload"
)

// report is what one benchmark run produced.
type report struct {
	Arena   uuid.UUID
	Mode    host.Mode
	Steps   int
	Elapsed time.Duration
	Samples int
	Passes  int // finalization passes
	Last    gcstats.Sample
	Summary *gcstats.Summary
}

// run drives the workload generator through a host.Worker for the
// configured number of steps, sampling metrics every cfg.Record.Every steps.
func run(cfg *config.Config, finalize bool) (*report, error) {
	mode, err := host.ParseMode(cfg.Bench.Collect)
	if err != nil {
		return nil, err
	}

	arena := dmm.NewArena(workload.NewRoot)
	arena.SetPacing(cfg.PacingConfig())
	defer arena.Close()

	var rec *gcstats.Recorder
	if cfg.Record.Database != "" {
		rec, err = gcstats.OpenRecorder(cfg.Path(cfg.Record.Database))
		if err != nil {
			return nil, err
		}
		defer rec.Close()
	}

	w := host.NewWorker(arena, host.Options{Mode: mode, StepBudget: cfg.Bench.StepBudget})
	defer w.Stop()

	rep := &report{Arena: arena.ID(), Mode: mode, Steps: cfg.Bench.Steps}
	if finalize {
		w.Finalizers().Hook(func(*dmm.Finalization, *workload.Root) {
			rep.Passes++
		})
	}

	gen := workload.NewGenerator(workload.Params{
		Allocs:   cfg.Bench.Allocs,
		Retain:   cfg.Bench.Retain,
		Window:   cfg.Bench.Window,
		Userdata: cfg.Bench.Userdata,
	}, cfg.Bench.Seed)

	every := cfg.Record.Every
	if every <= 0 {
		every = 1
	}

	start := time.Now()
	for step := 1; step <= cfg.Bench.Steps; step++ {
		_, err := w.Do(func(mc *dmm.Mutation, root *workload.Root) any {
			gen.Step(mc, root)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		if step%every == 0 {
			if err := rep.sample(w, rec, int64(step)); err != nil {
				return nil, err
			}
		}
	}
	if rep.Samples == 0 || cfg.Bench.Steps%every != 0 {
		if err := rep.sample(w, rec, int64(cfg.Bench.Steps)); err != nil {
			return nil, err
		}
	}
	rep.Elapsed = time.Since(start)

	if rec != nil {
		sum, err := rec.Summarize(rep.Arena)
		if err != nil {
			return nil, err
		}
		rep.Summary = &sum
	}

	if cfg.Record.Dump != "" {
		data, err := gcstats.Marshal(&rep.Last)
		if err != nil {
			return nil, err
		}
		path := cfg.Path(cfg.Record.Dump)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
	}

	// Stop before reading Passes: the hook runs on the worker goroutine.
	w.Stop()
	return rep, nil
}

func (r *report) sample(w *host.Worker[*workload.Root], rec *gcstats.Recorder, step int64) error {
	var s gcstats.Sample
	if err := w.Inspect(func(a *dmm.Arena[*workload.Root]) {
		s = gcstats.Take(a, step)
	}); err != nil {
		return err
	}
	r.Last = s
	r.Samples++
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("step %d: %s, %d bytes live, debt %.0f", step, s.Phase, s.Live(), s.Debt)
	}
	if rec == nil {
		return nil
	}
	return rec.Record(&s)
}

func (r *report) print(out io.Writer) {
	fmt.Fprintf(out, "arena     %s\n", r.Arena)
	fmt.Fprintf(out, "collect   %s\n", r.Mode)
	fmt.Fprintf(out, "steps     %d in %v\n", r.Steps, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "cycles    %d\n", r.Last.Cycles)
	fmt.Fprintf(out, "live      %d bytes (%d external)\n", r.Last.Live(), r.Last.ExternalBytes)
	fmt.Fprintf(out, "allocs    %d (%d freed)\n", r.Last.Allocations, r.Last.Frees)
	if r.Last.Last != nil {
		fmt.Fprintf(out, "last      cycle %d freed %d bytes in %v\n",
			r.Last.Last.Number, r.Last.Last.FreedBytes, r.Last.Last.Duration)
	}
	if r.Passes > 0 {
		fmt.Fprintf(out, "finalize  %d passes\n", r.Passes)
	}
	if r.Summary != nil {
		fmt.Fprintf(out, "recorded  %d samples, peak %d bytes, mean debt %.1f\n",
			r.Summary.Samples, r.Summary.PeakAllocated, r.Summary.MeanDebt)
	}
}
