package predictor

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/models"
)

const (
	maxStderrBytes  = 8 * 1024 // tail of worker stderr kept for diagnostics
	maxMessageBytes = 64 << 20
)

// WorkerConfig holds the subprocess backend settings.
type WorkerConfig struct {
	PythonPath    string // empty = auto-detect
	ModuleName    string
	LoadTimeout   time.Duration
	DoctorTimeout time.Duration
	JPEGQuality   int
	ShowBoxes     bool
	// ScoreThreshold is passed to every worker and overrides the model
	// config's SCORE_THRESH_TEST.
	ScoreThreshold float64
	Logger         *slog.Logger
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig(logger *slog.Logger) WorkerConfig {
	return WorkerConfig{
		ModuleName:    "framemark_predictor",
		LoadTimeout:   5 * time.Minute,
		DoctorTimeout: 30 * time.Second,
		JPEGQuality:   92,
		Logger:        logger,

		ScoreThreshold: models.DefaultScoreThreshold,
	}
}

// WorkerFactory loads models into long-lived Python worker processes:
//
//	python -m <module> serve --weights W --config C --threshold T
//
// Messages in both directions are a big-endian uint32 length followed by
// the payload. The agent sends JPEG frames; the worker answers with JSON.
// The first message from the worker is a readiness report.
type WorkerFactory struct {
	cfg WorkerConfig
}

// NewWorkerFactory creates a factory. The python binary is resolved per
// load so a missing interpreter surfaces as a skipped model.
func NewWorkerFactory(cfg WorkerConfig) *WorkerFactory {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 92
	}
	return &WorkerFactory{cfg: cfg}
}

type readyMessage struct {
	Ready   bool     `json:"ready"`
	Classes []string `json:"classes"`
	Device  string   `json:"device"`
	Error   string   `json:"error"`
}

type predictResponse struct {
	Instances []Detection `json:"instances"`
	Error     string      `json:"error"`
}

// Load starts a worker for desc and waits for it to report ready.
func (f *WorkerFactory) Load(ctx context.Context, desc models.Descriptor) (*Loaded, error) {
	mcfg, err := models.LoadConfig(desc.ConfigPath)
	if err != nil {
		return nil, err
	}
	python, err := resolvePython(f.cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	threshold := f.scoreThreshold()
	// The worker outlives ctx; Close stops it.
	cmd := exec.Command(python, f.serveArgs(desc, threshold)...)
	stderr := &syncTail{limit: maxStderrBytes}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}

	logger := logging.WithModel(f.cfg.Logger, desc.Name)
	if own, ok := mcfg.FileScoreThreshold(); ok && own != threshold {
		logger.Info("overriding model score threshold", "config", own, "threshold", threshold)
	}
	logger.Info("starting predictor worker", "module", f.cfg.ModuleName, "threshold", threshold)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	w := &worker{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		quality: f.cfg.JPEGQuality,
		logger:  logger,
	}

	ready, err := w.awaitReady(ctx, f.cfg.LoadTimeout)
	if err != nil {
		w.Close()
		return nil, err
	}
	logger.Info("predictor worker ready", "classes", len(ready.Classes), "device", ready.Device)

	vis := NewOverlay(ready.Classes)
	vis.ShowBoxes = f.cfg.ShowBoxes
	return &Loaded{
		Predictor:  w,
		Visualizer: vis,
		Classes:    ready.Classes,
		Threshold:  threshold,
	}, nil
}

// scoreThreshold falls back to the default for values outside (0, 1].
func (f *WorkerFactory) scoreThreshold() float64 {
	if t := f.cfg.ScoreThreshold; t > 0 && t <= 1 {
		return t
	}
	return models.DefaultScoreThreshold
}

func (f *WorkerFactory) serveArgs(desc models.Descriptor, threshold float64) []string {
	return []string{
		"-u", "-m", f.cfg.ModuleName, "serve",
		"--weights", desc.WeightsPath,
		"--config", desc.ConfigPath,
		"--threshold", strconv.FormatFloat(threshold, 'f', -1, 64),
	}
}

type worker struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  *syncTail
	quality int
	buf     bytes.Buffer
	logger  *slog.Logger
	closed  bool
}

func (w *worker) awaitReady(ctx context.Context, timeout time.Duration) (*readyMessage, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	type result struct {
		msg *readyMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		payload, err := readMessage(w.stdout)
		if err != nil {
			ch <- result{err: w.exitErr(err)}
			return
		}
		var msg readyMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			ch <- result{err: fmt.Errorf("parse ready message: %w", err)}
			return
		}
		if !msg.Ready {
			ch <- result{err: fmt.Errorf("worker not ready: %s", msg.Error)}
			return
		}
		ch <- result{msg: &msg}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-timer.C:
		return nil, fmt.Errorf("worker did not become ready within %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Predict sends one frame and waits for its detections.
func (w *worker) Predict(ctx context.Context, frame *image.RGBA) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorkerExited
	}

	w.buf.Reset()
	if err := jpeg.Encode(&w.buf, frame, &jpeg.Options{Quality: w.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := writeMessage(w.stdin, w.buf.Bytes()); err != nil {
		return nil, w.exitErr(err)
	}
	payload, err := readMessage(w.stdout)
	if err != nil {
		return nil, w.exitErr(err)
	}

	var resp predictResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse prediction: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("worker: %s", resp.Error)
	}
	return resp.Instances, nil
}

// Close ends the worker by closing its stdin, killing it if it lingers.
func (w *worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			w.logger.Debug("predictor worker exited", "error", err)
		}
	case <-time.After(5 * time.Second):
		_ = w.cmd.Process.Kill()
		<-done
		w.logger.Warn("predictor worker killed after close timeout")
	}
	return nil
}

func (w *worker) exitErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %s", ErrWorkerExited, truncate(w.stderr.String(), 512))
	}
	return fmt.Errorf("worker io: %w", err)
}

func writeMessage(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxMessageBytes {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Probe runs the backend's doctor command and adds the video executables.
func (f *WorkerFactory) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		Dependencies: map[string]DepInfo{},
		Executables:  map[string]DepInfo{},
	}
	for _, name := range []string{"ffmpeg", "ffprobe"} {
		if p, err := exec.LookPath(name); err == nil {
			caps.Executables[name] = DepInfo{Available: true, Path: p}
		} else {
			caps.Executables[name] = DepInfo{Error: err.Error()}
		}
	}

	python, err := resolvePython(f.cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.DoctorTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, python, "-m", f.cfg.ModuleName, "doctor", "--json")
	stderr := &syncTail{limit: maxStderrBytes}
	cmd.Stderr = stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("doctor failed: %w: %s", err, truncate(stderr.String(), 512))
	}

	var reported Capabilities
	if err := json.Unmarshal(out, &reported); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}
	caps.PackageVersion = reported.PackageVersion
	caps.Python = reported.Python
	caps.GPU = reported.GPU
	for k, v := range reported.Dependencies {
		caps.Dependencies[k] = v
	}
	caps.Ready = reported.Ready &&
		isAvailable(caps.Executables, "ffmpeg") &&
		isAvailable(caps.Executables, "ffprobe")
	caps.ProbedAt = time.Now()

	f.cfg.Logger.Info("doctor probe complete",
		"ready", caps.Ready,
		"cuda", caps.GPU.CUDAAvailable,
		"package_version", caps.PackageVersion,
	)
	return caps, nil
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New("no python binary found on PATH (tried python3, python)")
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// syncTail keeps the last limit bytes written and is safe to read while
// the process is still writing.
type syncTail struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (s *syncTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(p)
	s.buf.Write(p)
	if s.buf.Len() > s.limit {
		tail := append([]byte(nil), s.buf.Bytes()[s.buf.Len()-s.limit:]...)
		s.buf.Reset()
		s.buf.Write(tail)
	}
	return n, nil
}

func (s *syncTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
