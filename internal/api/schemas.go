package api

import (
	"time"

	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/models"
	"github.com/framemark/framemark-agent/internal/predictor"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string                   `json:"state"`
	LastError     string                   `json:"last_error,omitempty"`
	VideosCount   int                      `json:"videos_count"`
	ModelsCount   int                      `json:"models_count"`
	SelectedModel *ModelResponse           `json:"selected_model,omitempty"`
	LastRun       *RunResponse             `json:"last_run,omitempty"`
	LastSummary   *batch.Summary           `json:"last_summary,omitempty"`
	Predictor     *PredictorStatusResponse `json:"predictor,omitempty"`
}

type PredictorStatusResponse struct {
	Ready         bool   `json:"ready"`
	HasFFmpeg     bool   `json:"has_ffmpeg"`
	CUDAAvailable bool   `json:"cuda_available"`
	Version       string `json:"version,omitempty"`
	LastProbeAt   string `json:"last_probe_at,omitempty"`
}

type ModelResponse struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	HasConfig bool   `json:"has_config"`
	Selected  bool   `json:"selected"`
}

type ModelsResponse struct {
	Models   []ModelResponse `json:"models"`
	Selected int             `json:"selected"`
}

type SelectModelRequest struct {
	ID int `json:"id"`
}

type VideoResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	State        string `json:"state,omitempty"`
	HasResult    bool   `json:"has_result"`
	ResultURL    string `json:"result_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type RunResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Origin     string `json:"origin"`
	Processed  int    `json:"processed"`
	Indicated  int    `json:"indicated"`
	Skipped    int    `json:"skipped"`
	Repaired   int    `json:"repaired"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type RunnerResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
	Busy    bool `json:"busy"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ModelToResponse(d models.Descriptor, selected int) ModelResponse {
	return ModelResponse{
		ID:        d.ID,
		Name:      d.Name,
		HasConfig: d.HasConfig(),
		Selected:  d.ID == selected,
	}
}

func VideoToResponse(v *catalog.VideoResult) VideoResponse {
	resp := VideoResponse{
		ID:        v.ID,
		Title:     v.Title,
		Filename:  v.Filename,
		Size:      v.Size,
		State:     v.State,
		HasResult: v.HasResult,
		ResultURL: v.ResultURL,
		CreatedAt: v.CreatedAt.Format(time.RFC3339),
	}
	if v.ThumbnailPath != "" {
		resp.ThumbnailURL = "/videos/" + v.ID + "/thumbnail"
	}
	return resp
}

func RunToResponse(r *catalog.Run) RunResponse {
	resp := RunResponse{
		ID:        r.ID,
		Status:    r.Status,
		Origin:    r.Origin,
		Processed: r.Processed,
		Indicated: r.Indicated,
		Skipped:   r.Skipped,
		Repaired:  r.Repaired,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func CapabilitiesToResponse(c *predictor.Capabilities) *PredictorStatusResponse {
	resp := &PredictorStatusResponse{
		Ready:         c.Ready,
		HasFFmpeg:     c.Executables["ffmpeg"].Available,
		CUDAAvailable: c.GPU.CUDAAvailable,
		Version:       c.PackageVersion,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
