package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/indicator"
)

func newIndicateCommand(ctx *commandContext) *cobra.Command {
	var video, sidecar, out, bar string
	var flags renderFlags

	cmd := &cobra.Command{
		Use:   "indicate",
		Short: "Render the confidence timeline for an annotated video and its sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := newStack(cfg, flags, true, ctx.consoleLogger())
			if err != nil {
				return err
			}

			if out == "" {
				out = fsutil.WithSuffix(video, "_indicated")
			}
			if err := st.renderer.Render(cmd.Context(), indicator.Paths{
				Video:     video,
				Sidecar:   sidecar,
				Indicated: out,
				Bar:       bar,
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&video, "video", "v", "", "Annotated video")
	cmd.Flags().StringVarP(&sidecar, "predictions", "p", "", "Sidecar JSON of the video")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output video (default: <video>_indicated)")
	cmd.Flags().StringVar(&bar, "bar", "", "Also save the strip as a PNG here")
	cmd.Flags().IntVar(&flags.barHeight, "bar-height", 0, "Height of the confidence strip in pixels")
	cmd.Flags().StringVar(&flags.style, "style", "", "Strip style: band or area")
	cmd.MarkFlagRequired("video")
	cmd.MarkFlagRequired("predictions")

	return cmd
}
