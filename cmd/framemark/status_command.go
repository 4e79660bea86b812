package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/models"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var in, model, out, outputExt string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the completion state of every video and model pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			inp, err := resolveInputs(in, model, out)
			if err != nil {
				return err
			}
			if outputExt == "" {
				if cfg, err := ctx.ensureConfig(); err == nil {
					outputExt = cfg.OutputExt()
				}
			}

			ctrl := batch.New(batch.Config{OutputExt: outputExt})
			statuses := ctrl.Status(inp.OutputRoot, inp.Videos, models.Active(inp.Models))
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(statuses, inp.VideoRoot))
			if ctrl.HasPendingWork(inp.OutputRoot, inp.Videos, inp.Models) {
				fmt.Fprintln(cmd.OutOrStdout(), "pending work: yes")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "pending work: no")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "Video file or folder of videos")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Weights file or folder of model subfolders")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output folder (default: <input root>_out)")
	cmd.Flags().StringVar(&outputExt, "output-ext", "", "Container for rendered videos (default: source extension)")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("model")

	return cmd
}

func renderStatus(statuses []batch.PairStatus, videoRoot string) string {
	counts := map[batch.State]int{}
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		counts[s.State]++
		video := s.Video
		if rel, err := filepath.Rel(videoRoot, s.Video); err == nil {
			video = rel
		}
		rows = append(rows, []string{s.Model, video, s.State.String()})
	}
	table := renderTable([]string{"Model", "Video", "State"}, rows, nil)

	summary := [][]string{}
	for _, st := range []batch.State{batch.Complete, batch.CompleteUnindicated, batch.Partial, batch.Orphaned, batch.Missing} {
		summary = append(summary, []string{st.String(), strconv.Itoa(counts[st])})
	}
	return table + "\n" + renderTable([]string{"State", "Pairs"}, summary, []columnAlignment{alignLeft, alignRight})
}
