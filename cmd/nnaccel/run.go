package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"runtime/pprof"
	"slices"
	"time"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/engine"
	"github.com/samcharles93/nnaccel/internal/logger"
	"github.com/samcharles93/nnaccel/internal/model"
	"github.com/samcharles93/nnaccel/internal/transform"
	"github.com/urfave/cli/v3"
)

type runReport struct {
	Model      string             `json:"model"`
	Mode       string             `json:"mode"`
	Iterations int64              `json:"iterations"`
	Results    []engine.Result    `json:"results"`
	Average    []time.Duration    `json:"average_ns,omitempty"`
	Buffers    map[string][]int64 `json:"buffers"`
}

func runCmd() *cli.Command {
	var (
		warmup     int64
		iterations int64
		outputs    []string
		asJSON     bool
		cpuProfile string
		memProfile string
	)

	flags := append([]cli.Flag{modeFlag()}, deviceFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of untimed runs before measuring",
			Destination: &warmup,
		},
		&cli.Int64Flag{
			Name:        "iterations",
			Aliases:     []string{"n"},
			Usage:       "number of measured runs",
			Value:       1,
			Destination: &iterations,
		},
		&cli.StringSliceFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "buffer to print after the run (repeatable; default all)",
			Destination: &outputs,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the report as JSON",
			Destination: &asJSON,
		},
		&cli.StringFlag{
			Name:        "cpuprofile",
			Usage:       "write cpu profile to file",
			Destination: &cpuProfile,
		},
		&cli.StringFlag{
			Name:        "memprofile",
			Usage:       "write memory profile to file",
			Destination: &memProfile,
		},
	)

	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a model on the accelerator or the host kernels",
		ArgsUsage: "<model.yaml|model.json>",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyExecConfig(cmd, settings)
			log := logger.FromContext(ctx)

			if cmd.Args().Len() != 1 {
				return cli.Exit("error: run needs exactly one model file", 1)
			}
			if iterations < 1 {
				return cli.Exit("error: --iterations must be at least 1", 1)
			}
			opts, label, err := parseRunMode(mode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("could not create CPU profile: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				if err := pprof.StartCPUProfile(f); err != nil {
					return cli.Exit(fmt.Sprintf("could not start CPU profile: %v", err), 1)
				}
				defer pprof.StopCPUProfile()
			}
			if memProfile != "" {
				defer func() {
					f, err := os.Create(memProfile)
					if err != nil {
						fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
						return
					}
					defer func() { _ = f.Close() }()
					if err := pprof.WriteHeapProfile(f); err != nil {
						fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
					}
				}()
			}

			m, err := model.Load(cmd.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = m.Close() }()
			for _, name := range outputs {
				if _, ok := m.Buffer(name); !ok {
					return cli.Exit(fmt.Sprintf("error: unknown output buffer %q", name), 1)
				}
			}

			plan, err := engine.Build(transform.Config{}, m.Operations())
			if err != nil {
				printValidation(os.Stderr, []validation{{Path: cmd.Args().First(), Model: m.Name(), Issues: engine.Issues(err)}})
				return cli.Exit("error: model does not fit the accelerator", 1)
			}

			dev, err := openDevice(ctx, opts.Force && opts.Mode == accel.Hardware)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open device: %v", err), 1)
			}
			var target engine.Device
			if dev != nil {
				defer func() { _ = dev.Close() }()
				target = dev
			}
			eng, err := engine.New(ctx, plan, m.Regions(), target)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = eng.Close() }()

			for i := range int(warmup) {
				log.Debug("warmup run", "run", i+1)
				if _, err := eng.Run(ctx, opts); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			runs := make([][]engine.Result, 0, iterations)
			for i := range int(iterations) {
				results, err := eng.Run(ctx, opts)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: run %d: %v", i+1, err), 1)
				}
				runs = append(runs, results)
			}
			log.Info("model executed", "model", m.Name(), "layers", plan.Len(), "iterations", iterations,
				"device", eng.HasDevice())

			r := runReport{
				Model:      m.Name(),
				Mode:       label,
				Iterations: iterations,
				Results:    runs[len(runs)-1],
				Buffers:    selectBuffers(m, outputs),
			}
			if iterations > 1 {
				r.Average = averageDurations(runs)
			}
			if asJSON {
				return printJSON(os.Stdout, r)
			}
			printRun(os.Stdout, r)
			return nil
		},
	}
}

// parseRunMode maps --mode to engine options; "auto" uses the preference
// list with the device first when one opens.
func parseRunMode(name string) (engine.RunOptions, string, error) {
	m, ok, err := accel.ParseMode(name)
	if err != nil {
		return engine.RunOptions{}, "", err
	}
	if !ok {
		return engine.RunOptions{}, accel.Auto, nil
	}
	return engine.RunOptions{Mode: m, Force: true}, m.String(), nil
}

func selectBuffers(m *model.Model, names []string) map[string][]int64 {
	out := make(map[string][]int64)
	if len(names) == 0 {
		for _, b := range m.Buffers() {
			out[b.Name] = b.Values()
		}
		return out
	}
	for _, name := range names {
		if b, ok := m.Buffer(name); ok {
			out[name] = b.Values()
		}
	}
	return out
}

// averageDurations is the mean duration of each layer across runs.
func averageDurations(runs [][]engine.Result) []time.Duration {
	if len(runs) == 0 {
		return nil
	}
	sums := make([]time.Duration, len(runs[0]))
	for _, results := range runs {
		for i, r := range results {
			if i < len(sums) {
				sums[i] += r.Duration
			}
		}
	}
	for i := range sums {
		sums[i] /= time.Duration(len(runs))
	}
	return sums
}

func printRun(w io.Writer, r runReport) {
	_, _ = fmt.Fprintf(w, "model: %s  mode: %s  iterations: %d\n\n", r.Model, r.Mode, r.Iterations)
	_, _ = fmt.Fprintf(w, "%-6s %-16s %-10s %-32s %12s %12s\n", "LAYER", "NAME", "MODE", "STATUS", "SATURATED", "DURATION")
	for i, res := range r.Results {
		d := res.Duration
		if i < len(r.Average) {
			d = r.Average[i]
		}
		_, _ = fmt.Fprintf(w, "%-6d %-16s %-10s %-32s %12d %12s\n",
			res.Layer, res.Name, res.Mode, res.Status, res.Saturations, d.Round(time.Microsecond))
	}
	if len(r.Buffers) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	for _, name := range sortedKeys(r.Buffers) {
		_, _ = fmt.Fprintf(w, "%s: %v\n", name, r.Buffers[name])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
