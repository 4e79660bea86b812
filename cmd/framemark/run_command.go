package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/db"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var in, model, out string
	var yes, keep, record bool
	var flags renderFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Annotate videos with every model and render the confidence timeline",
		Example: `  framemark run -i videos/ -m models/
  framemark run -i clip.mp4 -m polyp.pth -o results --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes && keep {
				return fmt.Errorf("--yes and --keep are mutually exclusive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.consoleLogger()

			inp, err := resolveInputs(in, model, out)
			if err != nil {
				return err
			}

			st, err := newStack(cfg, flags, true, logger)
			if err != nil {
				return err
			}

			req := batch.Request{
				Videos:           inp.Videos,
				Models:           inp.Models,
				OutputRoot:       inp.OutputRoot,
				ConfirmOverwrite: !keep,
				Confirm:          newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr()),
			}
			if yes {
				req.Confirm = batch.ConfirmFunc(func(string) (bool, error) { return true, nil })
			}

			logger.Info("starting batch",
				"videos", len(inp.Videos), "models", len(inp.Models), "output", inp.OutputRoot)

			var repo catalog.Repository
			run := &catalog.Run{
				ID:        catalog.NewID(),
				Status:    catalog.RunStatusRunning,
				Origin:    catalog.RunOriginCLI,
				StartedAt: time.Now(),
			}
			if record {
				database, err := db.New(cfg.DBPath(), logger)
				if err != nil {
					return err
				}
				defer database.Close()
				repo = catalog.NewRepository(database.Conn())
				if err := repo.CreateRun(cmd.Context(), run); err != nil {
					logger.Warn("failed to record run", "error", err)
				}
			}

			sum, runErr := st.controller.Run(cmd.Context(), req)
			printSummary(cmd.OutOrStdout(), sum)

			if repo != nil {
				finishRun(run, sum, runErr)
				if err := repo.FinishRun(context.WithoutCancel(cmd.Context()), run); err != nil {
					logger.Warn("failed to record run result", "error", err)
				}
			}

			if runErr != nil {
				return runErr
			}
			if sum.Failed > 0 {
				return fmt.Errorf("%d pair(s) failed", sum.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "Video file or folder of videos")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Weights file or folder of model subfolders")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output folder (default: <input root>_out)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete an existing output folder without asking")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep an existing output folder without asking")
	cmd.Flags().BoolVar(&record, "record", false, "Record the batch in the run history")
	addRenderFlags(cmd, &flags)
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("model")

	return cmd
}

func addRenderFlags(cmd *cobra.Command, flags *renderFlags) {
	cmd.Flags().IntVar(&flags.maxFrames, "max-frames", 0, "Stop after this many frames per video")
	cmd.Flags().StringVar(&flags.outputExt, "output-ext", "", "Container for rendered videos (default: source extension)")
	cmd.Flags().IntVar(&flags.barHeight, "bar-height", 0, "Height of the confidence strip in pixels")
	cmd.Flags().StringVar(&flags.style, "style", "", "Strip style: band or area")
}

func printSummary(w io.Writer, sum batch.Summary) {
	rows := [][]string{
		{"Processed", strconv.Itoa(sum.Processed)},
		{"Indicated", strconv.Itoa(sum.Indicated)},
		{"Skipped", strconv.Itoa(sum.Skipped)},
		{"Repaired", strconv.Itoa(sum.Repaired)},
		{"Failed", strconv.Itoa(sum.Failed)},
	}
	fmt.Fprintln(w, renderTable([]string{"Pairs", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	for _, m := range sum.SkippedModels {
		fmt.Fprintf(w, "skipped model: %s\n", m)
	}
}

func finishRun(run *catalog.Run, sum batch.Summary, err error) {
	finished := time.Now()
	run.FinishedAt = &finished
	run.Processed = sum.Processed
	run.Indicated = sum.Indicated
	run.Skipped = sum.Skipped
	run.Repaired = sum.Repaired
	run.Failed = sum.Failed
	switch {
	case err == nil:
		run.Status = catalog.RunStatusCompleted
	case errors.Is(err, context.Canceled):
		run.Status = catalog.RunStatusInterrupted
		run.Error = err.Error()
	default:
		run.Status = catalog.RunStatusFailed
		run.Error = err.Error()
	}
}
