package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/samcharles93/nnaccel/internal/engine"
	"github.com/samcharles93/nnaccel/internal/model"
	"github.com/samcharles93/nnaccel/internal/transform"
	"github.com/urfave/cli/v3"
)

type validation struct {
	Path   string         `json:"path"`
	Model  string         `json:"model,omitempty"`
	Valid  bool           `json:"valid"`
	Layers int            `json:"layers"`
	Issues []engine.Issue `json:"issues"`
}

func validateCmd() *cli.Command {
	var (
		describeAll bool
		asJSON      bool
	)

	return &cli.Command{
		Name:      "validate",
		Usage:     "Check model files against the accelerator capabilities",
		ArgsUsage: "<model.yaml|model.json>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "describe-all",
				Usage:       "report every failing operand instead of stopping at the first",
				Value:       true,
				Destination: &describeAll,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return cli.Exit("error: validate needs at least one model file", 1)
			}
			reports := make([]validation, 0, len(paths))
			failed := 0
			for _, p := range paths {
				v := validateFile(p, describeAll)
				if !v.Valid {
					failed++
				}
				reports = append(reports, v)
			}
			if asJSON {
				if err := printJSON(os.Stdout, reports); err != nil {
					return err
				}
			} else {
				printValidation(os.Stdout, reports)
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d models invalid", failed, len(paths)), 1)
			}
			return nil
		},
	}
}

func validateFile(path string, describeAll bool) validation {
	v := validation{Path: path, Issues: []engine.Issue{}}
	m, err := model.Load(path)
	if err != nil {
		v.Issues = engine.Issues(err)
		return v
	}
	defer m.Close()
	v.Model = m.Name()

	plan, err := engine.Build(transform.Config{DescribeAll: describeAll}, m.Operations())
	if err != nil {
		v.Issues = engine.Issues(err)
		return v
	}
	v.Valid = true
	v.Layers = plan.Len()
	return v
}

func printValidation(w io.Writer, reports []validation) {
	for _, v := range reports {
		if v.Valid {
			_, _ = fmt.Fprintf(w, "%s: ok (%d layers)\n", v.Path, v.Layers)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s: %d issue(s)\n", v.Path, len(v.Issues))
		for _, is := range v.Issues {
			where := "model"
			if is.Layer >= 0 {
				where = fmt.Sprintf("layer %d (%s)", is.Layer, is.Name)
			}
			if is.Item != "" {
				where += fmt.Sprintf(" %s %d", is.Item, is.Index)
			}
			_, _ = fmt.Fprintf(w, "  %-32s %-36s %s\n", where, is.Code, is.Message)
		}
	}
}
