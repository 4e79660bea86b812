package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/framemark/framemark-agent/internal/api"
	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/config"
	"github.com/framemark/framemark-agent/internal/daemon"
	"github.com/framemark/framemark-agent/internal/db"
	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/models"
	"github.com/framemark/framemark-agent/internal/playback"
	"github.com/framemark/framemark-agent/internal/predictor"
	"github.com/framemark/framemark-agent/internal/ui"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the polling daemon and the web API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if headless {
				cfg.SetHeadless(true)
			}
			return serve(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "Run without the system tray")
	return cmd
}

func serve(parent context.Context, cfg *config.EnvConfig, out io.Writer) error {
	startTime := time.Now()

	for _, dir := range []string{cfg.DataDir(), cfg.VideosDir(), cfg.ResultsDir(), cfg.ModelsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting framemark agent", "version", config.Version, "data_dir", cfg.DataDir(), "media_dir", cfg.MediaDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	token, err := ensureAPIToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure api token: %w", err)
	}
	printBanner(out, cfg, token)

	st, err := newStack(cfg, renderFlags{}, false, logger)
	if err != nil {
		return err
	}

	svc := catalog.NewService(repo, catalog.ServiceConfig{
		VideosDir:     cfg.VideosDir(),
		ResultsDir:    cfg.ResultsDir(),
		ThumbnailsDir: filepath.Join(cfg.DataDir(), "thumbnails"),
		OutputExt:     cfg.OutputExt(),
		Thumbnailer:   st.backend,
		Logger:        logger,
	})
	if added, removed, err := svc.Reconcile(parent); err != nil {
		logger.Warn("initial reconcile failed", "error", err)
	} else {
		logger.Info("uploads reconciled", "added", added, "removed", removed)
	}

	registry, err := loadRegistry(parent, cfg.ModelsDir(), repo, logger)
	if err != nil {
		return err
	}

	doctor := predictor.NewCachedDoctor(st.factory, logger)
	go func() {
		probeCtx, cancel := context.WithTimeout(parent, cfg.PredictorTimeoutDoctor())
		defer cancel()
		if caps, err := doctor.Refresh(probeCtx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else if !caps.Ready {
			logger.Warn("inference backend not ready; batches will skip models that fail to load")
		}
	}()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	poller := daemon.New(daemon.Config{
		Controller: st.controller,
		Videos:     svc,
		Models:     registry,
		Runs:       repo,
		OutputRoot: cfg.ResultsDir(),
		Interval:   cfg.PollInterval(),
		LockPath:   cfg.LockPath(),
		Logger:     logger,
	})
	pollErr := make(chan error, 1)
	go func() { pollErr <- poller.Start(ctx) }()

	apiServer := api.NewServer(api.ServerConfig{
		Port:         cfg.Port(),
		Service:      svc,
		Repository:   repo,
		Registry:     registry,
		Poller:       poller,
		Doctor:       doctor,
		Playback:     playback.NewServer(logger),
		RequireToken: cfg.RequireToken(),
		Logger:       logger,
		StartTime:    startTime,
		Version:      config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	quitCh := make(chan struct{})

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Poller:      poller,
			Registry:    registry,
			CountVideos: repo.CountVideos,
			Logger:      logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case <-quitCh:
	case err := <-pollErr:
		if err != nil {
			runErr = fmt.Errorf("poller: %w", err)
			logger.Error("poller stopped", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	select {
	case <-pollErr:
	case <-shutdownCtx.Done():
		logger.Warn("poller did not stop in time")
	}

	logger.Info("shutdown complete")
	return runErr
}

// loadRegistry discovers the models root and restores the selection saved
// by a previous process.
func loadRegistry(ctx context.Context, root string, repo catalog.Repository, logger *slog.Logger) (*models.Registry, error) {
	descs, err := models.Discover(root, logger)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	registry := models.NewRegistry(root, descs, logger)

	name, err := repo.GetConfig(ctx, catalog.ConfigKeySelectedModel)
	if err != nil || name == "" {
		return registry, nil
	}
	for _, d := range descs {
		if d.Name == name {
			registry.Select(d.ID)
			return registry, nil
		}
	}
	logger.Warn("saved model selection no longer present", "model", name)
	return registry, nil
}

func ensureAPIToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, catalog.ConfigKeyAPIToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, catalog.ConfigKeyAPIToken, token); err != nil {
		return "", err
	}

	return token, nil
}

func printBanner(w io.Writer, cfg config.Config, token string) {
	shown := "(not required)"
	if cfg.RequireToken() {
		shown = token
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║  FRAMEMARK AGENT v%-60s║\n", config.Version)
	fmt.Fprintln(w, "╠═══════════════════════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  API URL:   http://127.0.0.1:%-49d║\n", cfg.Port())
	fmt.Fprintf(w, "║  API Token: %-66s║\n", shown)
	fmt.Fprintf(w, "║  Uploads:   %-66s║\n", logging.SanitizePath(cfg.VideosDir()))
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
}
