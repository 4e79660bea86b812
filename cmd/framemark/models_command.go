package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/models"
)

func newModelsCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models found under a path",
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := models.Scan(model)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderModels(descs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Weights file or folder of model subfolders")
	cmd.MarkFlagRequired("model")

	return cmd
}

func renderModels(descs []models.Descriptor) string {
	rows := make([][]string, 0, len(descs))
	for _, d := range descs {
		cfg := d.ConfigPath
		if !d.HasConfig() {
			cfg = "- (skipped)"
		}
		rows = append(rows, []string{strconv.Itoa(d.ID), d.Name, d.WeightsPath, cfg})
	}
	return renderTable([]string{"ID", "Name", "Weights", "Config"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft})
}
