package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{
		EnvConfigFile, EnvPort, EnvLogLevel, EnvLogFormat, EnvMediaDir,
		EnvPollInterval, EnvOutputExt, EnvMaxFrames, EnvPredictorPython,
		EnvPredictorModule, EnvScoreThreshold, EnvHeadless, EnvRequireToken,
	} {
		t.Setenv(key, "")
	}
	t.Setenv(EnvDataDir, dir)
	return dir
}

func TestNew_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d", cfg.Port())
	}
	if cfg.PollInterval() != DefaultPollInterval {
		t.Errorf("PollInterval = %s", cfg.PollInterval())
	}
	if cfg.VideosDir() != filepath.Join(dir, "media", "videos") {
		t.Errorf("VideosDir = %q", cfg.VideosDir())
	}
	if cfg.ResultsDir() != filepath.Join(dir, "media", "results") {
		t.Errorf("ResultsDir = %q", cfg.ResultsDir())
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.PredictorModule() != DefaultPredictorModule {
		t.Errorf("PredictorModule = %q", cfg.PredictorModule())
	}
	if cfg.OutputExt() != "" || cfg.MaxFrames() != 0 {
		t.Errorf("unexpected render defaults: %q %d", cfg.OutputExt(), cfg.MaxFrames())
	}
	if cfg.ScoreThreshold() != 0.5 {
		t.Errorf("ScoreThreshold = %v", cfg.ScoreThreshold())
	}
	if cfg.BarHeight() != DefaultBarHeight || cfg.StripStyle() != "band" {
		t.Errorf("unexpected strip defaults: %d %q", cfg.BarHeight(), cfg.StripStyle())
	}
}

func TestNew_FileThenEnv(t *testing.T) {
	dir := isolate(t)
	content := `
[server]
port = 9000
log_level = "debug"
require_token = true

[media]
dir = "/srv/media"
poll_interval_seconds = 30

[render]
output_ext = "webm"
max_frames = 100
strip_style = "area"

[predictor]
score_threshold = 0.6
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPort, "9100")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("env should win over file, Port = %d", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel())
	}
	if !cfg.RequireToken() {
		t.Error("RequireToken should be true")
	}
	if cfg.MediaDir() != "/srv/media" {
		t.Errorf("MediaDir = %q", cfg.MediaDir())
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval())
	}
	if cfg.OutputExt() != ".webm" {
		t.Errorf("OutputExt = %q", cfg.OutputExt())
	}
	if cfg.MaxFrames() != 100 || cfg.StripStyle() != "area" {
		t.Errorf("render = %d %q", cfg.MaxFrames(), cfg.StripStyle())
	}
	if cfg.ScoreThreshold() != 0.6 {
		t.Errorf("ScoreThreshold = %v", cfg.ScoreThreshold())
	}
}

func TestNew_ExplicitMissingFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvConfigFile, filepath.Join(dir, "nope.toml"))

	if _, err := New(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"poll interval", EnvPollInterval, "soon"},
		{"max frames", EnvMaxFrames, "-1"},
		{"score threshold not a number", EnvScoreThreshold, "high"},
		{"score threshold above one", EnvScoreThreshold, "1.5"},
		{"score threshold negative", EnvScoreThreshold, "-0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.val)
			if _, err := New(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestNew_HeadlessFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv(EnvHeadless, "yes")
	t.Setenv(EnvPollInterval, "250ms")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Headless() {
		t.Error("Headless should be true")
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Errorf("PollInterval = %s", cfg.PollInterval())
	}
}
