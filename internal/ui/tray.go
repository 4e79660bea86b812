// Package ui shows the daemon in the system tray.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/framemark/framemark-agent/internal/daemon"
	"github.com/framemark/framemark-agent/internal/models"
)

const refreshInterval = 2 * time.Second

type Tray struct {
	poller   *daemon.Poller
	registry *models.Registry
	count    func(ctx context.Context) (int, error)
	logger   *slog.Logger

	statusItem  *systray.MenuItem
	videosItem  *systray.MenuItem
	modelItem   *systray.MenuItem
	pauseItem   *systray.MenuItem
	triggerItem *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Poller      *daemon.Poller
	Registry    *models.Registry
	CountVideos func(ctx context.Context) (int, error)
	Logger      *slog.Logger
	OnQuit      func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		poller:   cfg.Poller,
		registry: cfg.Registry,
		count:    cfg.CountVideos,
		logger:   cfg.Logger,
		onQuit:   cfg.OnQuit,
		stop:     make(chan struct{}),
	}
}

// Run blocks on the tray event loop. It must be called from the main
// goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	if icon, err := Icon(iconSize); err != nil {
		t.logger.Warn("failed to draw tray icon", "error", err)
	} else {
		systray.SetIcon(icon)
	}
	systray.SetTitle("Framemark")
	systray.SetTooltip("Framemark Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.videosItem = systray.AddMenuItem("Videos: 0", "Uploaded videos")
	t.videosItem.Disable()

	t.modelItem = systray.AddMenuItem("Model: none", "Selected model")
	t.modelItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause processing")
	t.triggerItem = systray.AddMenuItem("Process Now", "Check for new videos now")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Framemark Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-t.triggerItem.ClickedCh:
				if t.poller != nil {
					t.poller.Trigger()
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()
	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		t.refresh()
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
	}
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.poller != nil {
		status := menuStatus(t.poller.IsPaused(), t.poller.IsBusy(), t.poller.IsRunning())
		t.statusItem.SetTitle("Status: " + status)
	}
	if t.count != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		n, err := t.count(ctx)
		cancel()
		if err == nil {
			t.videosItem.SetTitle(fmt.Sprintf("Videos: %d", n))
		}
	}
	if t.registry != nil {
		if m, ok := t.registry.Selected(); ok {
			t.modelItem.SetTitle("Model: " + m.Name)
		} else {
			t.modelItem.SetTitle("Model: none")
		}
	}
}

func menuStatus(paused, busy, running bool) string {
	switch {
	case paused:
		return "Paused"
	case busy:
		return "Processing"
	case running:
		return "Idle"
	default:
		return "Stopped"
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.poller == nil {
		return
	}

	if t.poller.IsPaused() {
		t.poller.Resume()
		t.pauseItem.SetTitle("Pause")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.poller.Pause()
		t.pauseItem.SetTitle("Resume")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}
