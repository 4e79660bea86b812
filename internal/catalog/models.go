package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Video is an uploaded video tracked by the web app.
type Video struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Filename      string    `json:"filename"`
	Path          string    `json:"-"`
	Size          int64     `json:"size"`
	ThumbnailPath string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"

	RunOriginPoll    = "poll"
	RunOriginTrigger = "trigger"
	RunOriginCLI     = "cli"
)

// Run is one batch executed by the daemon or the CLI.
type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Origin     string     `json:"origin"`
	Processed  int        `json:"processed"`
	Indicated  int        `json:"indicated"`
	Skipped    int        `json:"skipped"`
	Repaired   int        `json:"repaired"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// VideoResult pairs a video with the state of its result for one model.
type VideoResult struct {
	*Video
	State     string `json:"state,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
	HasResult bool   `json:"has_result"`
}

const (
	ConfigKeyAPIToken      = "api_token"
	ConfigKeySelectedModel = "selected_model"
)

func NewID() string {
	return uuid.NewString()
}
