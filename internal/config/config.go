// Package config provides configuration management for the framemark agent.
// Defaults are overridden by an optional TOML file, which is in turn
// overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort         = 8787
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultDataDir      = ".framemark"
	DefaultPollInterval = 5 * time.Second
	DefaultBarHeight    = 50
	DefaultStripStyle   = "band"
	// DefaultScoreThreshold matches models.DefaultScoreThreshold.
	DefaultScoreThreshold = 0.5

	// Environment variable names
	EnvConfigFile      = "FRAMEMARK_CONFIG"
	EnvPort            = "FRAMEMARK_PORT"
	EnvLogLevel        = "FRAMEMARK_LOG_LEVEL"
	EnvLogFormat       = "FRAMEMARK_LOG_FORMAT"
	EnvDataDir         = "FRAMEMARK_DATA_DIR"
	EnvMediaDir        = "FRAMEMARK_MEDIA_DIR"
	EnvPollInterval    = "FRAMEMARK_POLL_INTERVAL"
	EnvOutputExt       = "FRAMEMARK_OUTPUT_EXT"
	EnvMaxFrames       = "FRAMEMARK_MAX_FRAMES"
	EnvPredictorPython = "FRAMEMARK_PREDICTOR_PYTHON"
	EnvPredictorModule = "FRAMEMARK_PREDICTOR_MODULE"
	EnvScoreThreshold  = "FRAMEMARK_SCORE_THRESHOLD"
	EnvHeadless        = "FRAMEMARK_HEADLESS"
	EnvRequireToken    = "FRAMEMARK_REQUIRE_TOKEN"

	// Filenames inside the data directory
	DBFilename     = "framemark.db"
	ConfigFilename = "config.toml"
	LockFilename   = "framemark.lock"

	// Predictor defaults
	DefaultPredictorModule        = "framemark_predictor"
	DefaultPredictorTimeoutDoctor = 30 // seconds
	DefaultPredictorTimeoutLoad   = 300
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	LockPath() string
	MediaDir() string
	VideosDir() string
	ResultsDir() string
	ModelsDir() string
	PollInterval() time.Duration
	OutputExt() string
	MaxFrames() int
	BarHeight() int
	StripStyle() string
	PredictorPython() string
	PredictorModule() string
	PredictorTimeoutDoctor() time.Duration
	PredictorTimeoutLoad() time.Duration
	ScoreThreshold() float64
	Headless() bool
	RequireToken() bool
}

// File is the on-disk TOML layout.
type File struct {
	Server    ServerSection    `toml:"server"`
	Media     MediaSection     `toml:"media"`
	Render    RenderSection    `toml:"render"`
	Predictor PredictorSection `toml:"predictor"`
}

type ServerSection struct {
	Port         int    `toml:"port"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	Headless     bool   `toml:"headless"`
	RequireToken bool   `toml:"require_token"`
}

type MediaSection struct {
	Dir                 string `toml:"dir"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

type RenderSection struct {
	OutputExt  string `toml:"output_ext"`
	MaxFrames  int    `toml:"max_frames"`
	BarHeight  int    `toml:"bar_height"`
	StripStyle string `toml:"strip_style"`
}

type PredictorSection struct {
	Python         string  `toml:"python"`
	Module         string  `toml:"module"`
	ScoreThreshold float64 `toml:"score_threshold"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port         int
	logLevel     string
	logFormat    string
	dataDir      string
	mediaDir     string
	pollInterval time.Duration
	outputExt    string
	maxFrames    int
	barHeight    int
	stripStyle   string
	headless     bool
	requireToken bool

	predictorPython string
	predictorModule string
	scoreThreshold  float64
}

// New creates a new EnvConfig with defaults, the config file and
// environment variable overrides applied in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:         DefaultPort,
		logLevel:     DefaultLogLevel,
		logFormat:    DefaultLogFormat,
		dataDir:      defaultDataDir(),
		pollInterval: DefaultPollInterval,
		barHeight:    DefaultBarHeight,
		stripStyle:   DefaultStripStyle,

		scoreThreshold: DefaultScoreThreshold,
	}

	// The data dir decides where the default config file lives.
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	var file File
	if err := toml.NewDecoder(f).Decode(&file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.applyFile(file)
	return nil
}

func (c *EnvConfig) applyFile(f File) {
	if f.Server.Port != 0 {
		c.port = f.Server.Port
	}
	if f.Server.LogLevel != "" {
		c.logLevel = f.Server.LogLevel
	}
	if f.Server.LogFormat != "" {
		c.logFormat = f.Server.LogFormat
	}
	c.headless = c.headless || f.Server.Headless
	c.requireToken = c.requireToken || f.Server.RequireToken

	if f.Media.Dir != "" {
		c.mediaDir = f.Media.Dir
	}
	if f.Media.PollIntervalSeconds > 0 {
		c.pollInterval = time.Duration(f.Media.PollIntervalSeconds) * time.Second
	}

	if f.Render.OutputExt != "" {
		c.outputExt = normalizeExt(f.Render.OutputExt)
	}
	if f.Render.MaxFrames > 0 {
		c.maxFrames = f.Render.MaxFrames
	}
	if f.Render.BarHeight > 0 {
		c.barHeight = f.Render.BarHeight
	}
	if f.Render.StripStyle != "" {
		c.stripStyle = f.Render.StripStyle
	}

	if f.Predictor.Python != "" {
		c.predictorPython = f.Predictor.Python
	}
	if f.Predictor.Module != "" {
		c.predictorModule = f.Predictor.Module
	}
	if f.Predictor.ScoreThreshold != 0 {
		c.scoreThreshold = f.Predictor.ScoreThreshold
	}
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		c.logFormat = lf
	}
	if md := os.Getenv(EnvMediaDir); md != "" {
		c.mediaDir = md
	}
	if pi := os.Getenv(EnvPollInterval); pi != "" {
		d, err := time.ParseDuration(pi)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollInterval, err)
		}
		c.pollInterval = d
	}
	if ext := os.Getenv(EnvOutputExt); ext != "" {
		c.outputExt = normalizeExt(ext)
	}
	if mf := os.Getenv(EnvMaxFrames); mf != "" {
		n, err := strconv.Atoi(mf)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxFrames, err)
		}
		c.maxFrames = n
	}
	if py := os.Getenv(EnvPredictorPython); py != "" {
		c.predictorPython = py
	}
	if pm := os.Getenv(EnvPredictorModule); pm != "" {
		c.predictorModule = pm
	}
	if st := os.Getenv(EnvScoreThreshold); st != "" {
		v, err := strconv.ParseFloat(st, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvScoreThreshold, err)
		}
		c.scoreThreshold = v
	}
	if h := os.Getenv(EnvHeadless); h != "" {
		c.headless = parseBool(h)
	}
	if rt := os.Getenv(EnvRequireToken); rt != "" {
		c.requireToken = parseBool(rt)
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %s", c.pollInterval)
	}
	if c.maxFrames < 0 {
		return fmt.Errorf("invalid max frames %d", c.maxFrames)
	}
	if c.scoreThreshold <= 0 || c.scoreThreshold > 1 {
		return fmt.Errorf("invalid score threshold %v: must be in (0, 1]", c.scoreThreshold)
	}
	switch c.stripStyle {
	case "band", "area":
	default:
		return fmt.Errorf("invalid strip style %q: want band or area", c.stripStyle)
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns json or console
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LockPath returns the daemon lock file path
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

// MediaDir returns the root of uploads, results and models
func (c *EnvConfig) MediaDir() string {
	if c.mediaDir != "" {
		return c.mediaDir
	}
	return filepath.Join(c.dataDir, "media")
}

func (c *EnvConfig) VideosDir() string {
	return filepath.Join(c.MediaDir(), "videos")
}

func (c *EnvConfig) ResultsDir() string {
	return filepath.Join(c.MediaDir(), "results")
}

func (c *EnvConfig) ModelsDir() string {
	return filepath.Join(c.MediaDir(), "models")
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// OutputExt returns the container extension for rendered videos. Empty
// means the source extension is kept.
func (c *EnvConfig) OutputExt() string {
	return c.outputExt
}

// MaxFrames caps frames per video. Zero disables the cap.
func (c *EnvConfig) MaxFrames() int {
	return c.maxFrames
}

func (c *EnvConfig) BarHeight() int {
	return c.barHeight
}

func (c *EnvConfig) StripStyle() string {
	return c.stripStyle
}

func (c *EnvConfig) PredictorPython() string {
	return c.predictorPython
}

func (c *EnvConfig) PredictorModule() string {
	if c.predictorModule != "" {
		return c.predictorModule
	}
	return DefaultPredictorModule
}

func (c *EnvConfig) PredictorTimeoutDoctor() time.Duration {
	return time.Duration(DefaultPredictorTimeoutDoctor) * time.Second
}

func (c *EnvConfig) PredictorTimeoutLoad() time.Duration {
	return time.Duration(DefaultPredictorTimeoutLoad) * time.Second
}

// ScoreThreshold is the detection floor passed to the inference backend.
func (c *EnvConfig) ScoreThreshold() float64 {
	return c.scoreThreshold
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) RequireToken() bool {
	return c.requireToken
}

// SetHeadless lets the serve command force headless mode from a flag.
func (c *EnvConfig) SetHeadless(v bool) {
	c.headless = v
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
