package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/urfave/cli/v3"
)

type probeReport struct {
	Features   accel.Features `json:"features"`
	NoSimd     bool           `json:"no_simd"`
	Vector     bool           `json:"vector_kernels"`
	Preference []string       `json:"preference"`
	Device     *deviceReport  `json:"device,omitempty"`
	DeviceErr  string         `json:"device_error,omitempty"`
}

type deviceReport struct {
	Index           int    `json:"index"`
	Name            string `json:"name"`
	Path            string `json:"path,omitempty"`
	Version         uint32 `json:"version"`
	Alignment       uint32 `json:"alignment"`
	RecoveryTimeout string `json:"recovery_timeout"`
}

func probeCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "probe",
		Usage: "Report CPU acceleration modes and the accelerator device",
		Flags: append(deviceFlags(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyExecConfig(cmd, settings)

			r := probeReport{
				Features: accel.Detected(),
				NoSimd:   accel.NoSimdEnv(),
				Vector:   kernel.VectorTier,
			}
			dev, err := openDevice(ctx, true)
			switch {
			case err != nil:
				r.DeviceErr = err.Error()
			default:
				info := dev.Info()
				r.Device = &deviceReport{
					Index:           info.Index,
					Name:            info.Name,
					Path:            info.Path,
					Version:         info.Version,
					Alignment:       info.Alignment,
					RecoveryTimeout: dev.Config().RecoveryTimeout.String(),
				}
				_ = dev.Close()
			}
			for _, m := range accel.Preference(r.Device != nil) {
				r.Preference = append(r.Preference, m.String())
			}

			if asJSON {
				return printJSON(os.Stdout, r)
			}
			printProbe(os.Stdout, r)
			return nil
		},
	}
}

func printProbe(w io.Writer, r probeReport) {
	_, _ = fmt.Fprintf(w, "cpu:        sse4.2=%t avx=%t avx2=%t\n", r.Features.SSE42, r.Features.AVX, r.Features.AVX2)
	if r.NoSimd {
		_, _ = fmt.Fprintln(w, "simd:       disabled by NNACCEL_NO_SIMD")
	}
	if !r.Vector {
		_, _ = fmt.Fprintln(w, "kernels:    portable build, avx2 runs the unrolled kernels")
	}
	_, _ = fmt.Fprintf(w, "preference: %v\n", r.Preference)
	if r.Device == nil {
		_, _ = fmt.Fprintf(w, "device:     none (%s)\n", r.DeviceErr)
		return
	}
	d := r.Device
	_, _ = fmt.Fprintf(w, "device:     %d %s\n", d.Index, d.Name)
	if d.Path != "" {
		_, _ = fmt.Fprintf(w, "path:       %s\n", d.Path)
	}
	_, _ = fmt.Fprintf(w, "version:    %#x\n", d.Version)
	_, _ = fmt.Fprintf(w, "alignment:  %d\n", d.Alignment)
	_, _ = fmt.Fprintf(w, "recovery:   %s\n", d.RecoveryTimeout)
}
