package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/predictor"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the inference backend and ffmpeg",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			factory := predictor.NewWorkerFactory(workerConfig(cfg, ctx.consoleLogger()))
			caps, err := factory.Probe(cmd.Context())
			if err != nil {
				return fmt.Errorf("doctor: %w", err)
			}
			printCapabilities(cmd.OutOrStdout(), caps)
			if !caps.Ready {
				return fmt.Errorf("inference backend not ready")
			}
			return nil
		},
	}
}

func printCapabilities(w io.Writer, caps *predictor.Capabilities) {
	fmt.Fprintf(w, "package: %s\n", orDash(caps.PackageVersion))
	fmt.Fprintf(w, "python:  %s %s\n", orDash(caps.Python.Version), caps.Python.Executable)
	gpu := "no"
	if caps.GPU.CUDAAvailable {
		gpu = fmt.Sprintf("yes (%d devices)", caps.GPU.DeviceCount)
	}
	fmt.Fprintf(w, "cuda:    %s\n", gpu)

	rows := depRows("executable", caps.Executables)
	rows = append(rows, depRows("python", caps.Dependencies)...)
	fmt.Fprintln(w, renderTable([]string{"Kind", "Name", "Available", "Detail"}, rows, nil))
}

func depRows(kind string, deps map[string]predictor.DepInfo) [][]string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		d := deps[name]
		avail := "no"
		detail := d.Error
		if d.Available {
			avail = "yes"
			detail = d.Version
			if detail == "" {
				detail = d.Path
			}
		}
		rows = append(rows, []string{kind, name, avail, detail})
	}
	return rows
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
