package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/urfave/cli/v3"
)

func kernelsCmd() *cli.Command {
	var (
		asJSON       bool
		capabilities bool
	)

	return &cli.Command{
		Name:  "kernels",
		Usage: "List registered kernels, or operand capabilities with --capabilities",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "capabilities",
				Aliases:     []string{"caps"},
				Usage:       "list per-operand capabilities instead of kernels",
				Destination: &capabilities,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if capabilities {
				if asJSON {
					return printJSON(os.Stdout, capabilityRows())
				}
				printCapabilities(os.Stdout, capabilityRows())
				return nil
			}
			listings := kernel.Default().Describe()
			if asJSON {
				return printJSON(os.Stdout, kernelRows(listings))
			}
			printKernels(os.Stdout, listings)
			return nil
		},
	}
}

func printKernels(w io.Writer, listings []kernel.Listing) {
	_, _ = fmt.Fprintf(w, "%-20s %-18s %-36s %s\n", "REGISTRY", "OP", "SIGNATURE", "MODES")
	for _, l := range listings {
		sig := l.Signature.String()
		if l.AliasOf != nil {
			sig += " -> " + l.AliasOf.String()
		}
		_, _ = fmt.Fprintf(w, "%-20s %-18s %-36s %s\n", l.Registry, l.Op, sig, joinModes(l.Modes))
	}
}

type kernelRow struct {
	Registry  string   `json:"registry"`
	Op        string   `json:"op"`
	Signature string   `json:"signature"`
	Modes     []string `json:"modes"`
	AliasOf   string   `json:"alias_of,omitempty"`
}

func kernelRows(listings []kernel.Listing) []kernelRow {
	rows := make([]kernelRow, len(listings))
	for i, l := range listings {
		rows[i] = kernelRow{
			Registry:  l.Registry,
			Op:        l.Op.String(),
			Signature: l.Signature.String(),
			Modes:     strings.Split(joinModes(l.Modes), ","),
		}
		if l.AliasOf != nil {
			rows[i].AliasOf = l.AliasOf.String()
		}
	}
	return rows
}

type capabilityRow struct {
	Operation string            `json:"operation"`
	Operand   string            `json:"operand"`
	Layouts   []string          `json:"layouts,omitempty"`
	Modes     []string          `json:"modes"`
	Dims      map[string]string `json:"dims,omitempty"`
}

func capabilityRows() []capabilityRow {
	var rows []capabilityRow
	for _, op := range capability.Operations() {
		for _, idx := range capability.Operands(op) {
			e, err := capability.Lookup(op, idx)
			if err != nil {
				continue
			}
			row := capabilityRow{
				Operation: op.String(),
				Operand:   capability.OperandName(idx),
				Layouts:   e.Layouts,
				Modes:     make([]string, len(e.Modes)),
			}
			for i, m := range e.Modes {
				row.Modes[i] = m.String()
			}
			if len(e.Dims) > 0 {
				row.Dims = make(map[string]string, len(e.Dims))
				for d, l := range e.Dims {
					row.Dims[d.String()] = l.String()
				}
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func printCapabilities(w io.Writer, rows []capabilityRow) {
	_, _ = fmt.Fprintf(w, "%-18s %-20s %-8s %-40s %s\n", "OPERATION", "OPERAND", "LAYOUT", "MODES", "DIMS")
	for _, r := range rows {
		dims := make([]string, 0, len(r.Dims))
		for d, l := range r.Dims {
			dims = append(dims, d+"="+l)
		}
		slices.Sort(dims)
		_, _ = fmt.Fprintf(w, "%-18s %-20s %-8s %-40s %s\n",
			r.Operation, r.Operand, strings.Join(r.Layouts, "|"), strings.Join(r.Modes, "|"), strings.Join(dims, " "))
	}
}

func joinModes(modes []accel.Mode) string {
	parts := make([]string, len(modes))
	for i, m := range modes {
		parts[i] = m.String()
	}
	return strings.Join(parts, ",")
}
