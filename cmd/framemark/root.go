package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/config"
	"github.com/framemark/framemark-agent/internal/logging"
)

type commandContext struct {
	configFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.EnvConfig
	configErr  error
}

func newCommandContext(configFlag, logLevel *string) *commandContext {
	return &commandContext{configFlag: configFlag, logLevel: logLevel}
}

// ensureConfig loads the configuration once. --config takes precedence
// over FRAMEMARK_CONFIG.
func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.configOnce.Do(func() {
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				os.Setenv(config.EnvConfigFile, path)
			}
		}
		c.config, c.configErr = config.New()
	})
	return c.config, c.configErr
}

// consoleLogger is used by the interactive commands.
func (c *commandContext) consoleLogger() *slog.Logger {
	level := config.DefaultLogLevel
	if cfg, err := c.ensureConfig(); err == nil {
		level = cfg.LogLevel()
	}
	if c.logLevel != nil && *c.logLevel != "" {
		level = *c.logLevel
	}
	return logging.NewConsoleLogger(os.Stderr, level)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevel string

	ctx := newCommandContext(&configFlag, &logLevel)

	rootCmd := &cobra.Command{
		Use:           "framemark",
		Short:         "Annotate videos with segmentation models and a confidence timeline",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newIndicateCommand(ctx))
	rootCmd.AddCommand(newExportEDLCommand())
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}
