package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/annotate"
	"github.com/framemark/framemark-agent/internal/export"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/indicator"
)

func newExportEDLCommand() *cobra.Command {
	var sidecar, media, title, minLevel, outDir string
	var fps float64

	cmd := &cobra.Command{
		Use:   "export-edl",
		Short: "Write the flagged segments of a sidecar as a CMX3600 EDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := indicator.ParseBucket(minLevel)
			if err != nil {
				return err
			}
			results, err := annotate.ReadResults(sidecar)
			if err != nil {
				return err
			}

			if media == "" {
				media = strings.TrimSuffix(sidecar, ".json") + ".mp4"
			}
			if title == "" {
				title = fsutil.Stem(sidecar)
			}
			title = strings.ReplaceAll(fsutil.SanitizeName(title, 120), " ", "_")

			clips, _ := export.FromResults(results, level, title, media)
			edl := export.GenerateEDL(clips, title, fps)

			if outDir == "" {
				fmt.Fprint(cmd.OutOrStdout(), edl)
				return nil
			}
			if err := export.ValidateOutputDir(outDir); err != nil {
				return err
			}
			path, err := export.WriteEDL(outDir, title, edl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d clips)\n", path, len(clips))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sidecar, "predictions", "p", "", "Sidecar JSON")
	cmd.Flags().StringVar(&media, "media", "", "Media path written into the EDL (default: sidecar path with .mp4)")
	cmd.Flags().StringVar(&title, "title", "", "EDL title (default: sidecar name)")
	cmd.Flags().StringVar(&minLevel, "min-level", "low", "Lowest confidence level to include")
	cmd.Flags().Float64Var(&fps, "fps", export.DefaultFrameRate, "Frame rate of the video")
	cmd.Flags().StringVar(&outDir, "out", "", "Write <title>.edl into this folder instead of stdout")
	cmd.MarkFlagRequired("predictions")

	return cmd
}
