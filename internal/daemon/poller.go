// Package daemon keeps the output tree in sync with the uploads directory:
// on every tick (or explicit trigger) it checks for pending pairs and runs
// a batch when there are any.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/models"
)

const DefaultInterval = 5 * time.Second

var (
	ErrAlreadyRunning = errors.New("poller already running")
	// ErrLocked means another process holds the output lock.
	ErrLocked = errors.New("another framemark process owns the data directory")
)

// VideoSource lists the videos to process.
type VideoSource interface {
	BatchVideos(ctx context.Context) ([]batch.Video, error)
}

// ModelSource lists the known models.
type ModelSource interface {
	List() []models.Descriptor
}

// RunStore records batch runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *catalog.Run) error
	FinishRun(ctx context.Context, run *catalog.Run) error
}

type reconciler interface {
	Reconcile(ctx context.Context) (added, removed int, err error)
}

type Config struct {
	Controller *batch.Controller
	Videos     VideoSource
	Models     ModelSource
	Runs       RunStore // optional
	OutputRoot string
	Interval   time.Duration
	LockPath   string // optional
	Logger     *slog.Logger
}

// Poller is the polling loop. Only one batch runs at a time: cycles are
// executed on the loop goroutine.
//
// Models that failed to load and pairs that failed are remembered with a
// stamp of their files. They are left out of later cycles until a file
// changes or Trigger is called, so a broken input does not start a batch
// on every tick.
type Poller struct {
	cfg     Config
	logger  *slog.Logger
	trigger chan string

	running atomic.Bool
	paused  atomic.Bool
	busy    atomic.Bool

	mu      sync.Mutex
	last    *batch.Summary
	lastRun *catalog.Run
	failed  map[string]string // failure key -> file stamp
}

func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Poller{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "daemon"),
		trigger: make(chan string, 1),
		failed:  make(map[string]string),
	}
}

// Start runs the loop until ctx is cancelled. It fails fast when the
// poller already runs or another process holds the lock.
func (p *Poller) Start(ctx context.Context) error {
	if p.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	if p.cfg.LockPath != "" {
		lock := flock.New(p.cfg.LockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ErrLocked
		}
		defer lock.Unlock()
	}

	p.logger.Info("poller started", "interval", p.cfg.Interval.String())

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return nil
		case <-ticker.C:
			p.cycle(ctx, catalog.RunOriginPoll)
		case origin := <-p.trigger:
			p.cycle(ctx, origin)
		}
	}
}

// Trigger asks for a cycle now and retries remembered failures. Triggers
// coalesce while one is queued.
func (p *Poller) Trigger() {
	p.mu.Lock()
	clear(p.failed)
	p.mu.Unlock()
	select {
	case p.trigger <- catalog.RunOriginTrigger:
	default:
	}
}

func (p *Poller) Pause() {
	p.paused.Store(true)
	p.logger.Info("poller paused")
}

func (p *Poller) Resume() {
	p.paused.Store(false)
	p.logger.Info("poller resumed")
}

func (p *Poller) IsPaused() bool {
	return p.paused.Load()
}

func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

// IsBusy reports whether a batch is in progress.
func (p *Poller) IsBusy() bool {
	return p.busy.Load()
}

// LastSummary returns the summary of the last finished batch.
func (p *Poller) LastSummary() (batch.Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return batch.Summary{}, false
	}
	return *p.last, true
}

// LastRun returns the record of the last batch.
func (p *Poller) LastRun() *catalog.Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

func (p *Poller) cycle(ctx context.Context, origin string) {
	if p.paused.Load() {
		return
	}

	if r, ok := p.cfg.Videos.(reconciler); ok {
		if _, _, err := r.Reconcile(ctx); err != nil {
			p.logger.Warn("reconcile failed", "error", err)
		}
	}

	videos, err := p.cfg.Videos.BatchVideos(ctx)
	if err != nil {
		p.logger.Error("failed to list videos", "error", err)
		return
	}
	descs := models.Usable(p.cfg.Models.List())

	pending := p.cfg.Controller.Pending(p.cfg.OutputRoot, videos, descs)
	byName := make(map[string]models.Descriptor, len(descs))
	for _, m := range descs {
		byName[m.Name] = m
	}
	retry := 0
	for _, ps := range pending {
		if !p.blocked(byName[ps.Model], ps.Video) {
			retry++
		}
	}
	if retry == 0 {
		p.logger.Debug("nothing pending", "videos", len(videos), "models", len(descs), "held_back", len(pending))
		return
	}

	p.busy.Store(true)
	defer p.busy.Store(false)

	run := &catalog.Run{
		ID:        catalog.NewID(),
		Status:    catalog.RunStatusRunning,
		Origin:    origin,
		StartedAt: time.Now(),
	}
	log := logging.WithRunID(p.logger, run.ID)
	if p.cfg.Runs != nil {
		if err := p.cfg.Runs.CreateRun(ctx, run); err != nil {
			log.Warn("failed to record run", "error", err)
		}
	}

	sum, err := p.cfg.Controller.Run(ctx, batch.Request{
		Videos:     videos,
		Models:     descs,
		OutputRoot: p.cfg.OutputRoot,
		Skip: func(m models.Descriptor, v batch.Video) bool {
			return p.blocked(m, v.Path)
		},
	})
	p.remember(sum.Failures, byName)

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
	case errors.Is(err, batch.ErrNoInput):
		// inputs vanished between the check and the run
		log.Debug("batch skipped", "reason", err)
		run.Status = catalog.RunStatusCompleted
	default:
		run.Status = catalog.RunStatusFailed
		run.Error = err.Error()
		log.Error("batch failed", "error", err)
	}

	if p.cfg.Runs != nil {
		if err := p.cfg.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("failed to record run result", "error", err)
		}
	}

	p.mu.Lock()
	p.last = &sum
	p.lastRun = run
	p.mu.Unlock()
}

func modelKey(m models.Descriptor) string {
	return "model\x00" + m.Name + "\x00" + m.WeightsPath
}

func pairKey(m models.Descriptor, video string) string {
	return "pair\x00" + m.Name + "\x00" + m.WeightsPath + "\x00" + video
}

// blocked reports whether the model or the pair failed before and none of
// their files changed since. Entries whose files changed are dropped.
func (p *Poller) blocked(m models.Descriptor, video string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.heldLocked(modelKey(m), stamp(m.WeightsPath, m.ConfigPath)) {
		return true
	}
	return p.heldLocked(pairKey(m, video), stamp(m.WeightsPath, m.ConfigPath, video))
}

func (p *Poller) heldLocked(key, current string) bool {
	prev, ok := p.failed[key]
	if !ok {
		return false
	}
	if prev != current {
		delete(p.failed, key)
		return false
	}
	return true
}

func (p *Poller) remember(failures []batch.Failure, byName map[string]models.Descriptor) {
	if len(failures) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range failures {
		m, ok := byName[f.Model]
		if !ok {
			continue
		}
		if f.Video == "" {
			p.failed[modelKey(m)] = stamp(m.WeightsPath, m.ConfigPath)
		} else {
			p.failed[pairKey(m, f.Video)] = stamp(m.WeightsPath, m.ConfigPath, f.Video)
		}
		p.logger.Info("holding back until inputs change", "model", f.Model, "video", f.Video)
	}
}

// HeldBack returns the number of remembered failures.
func (p *Poller) HeldBack() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}

// stamp identifies the current version of files by size and mtime.
func stamp(paths ...string) string {
	var b strings.Builder
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(&b, "%s:-;", path)
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", path, info.Size(), info.ModTime().UnixNano())
	}
	return b.String()
}
