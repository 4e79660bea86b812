package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/models"
)

const defaultRunsLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))
	r.Get("/models", listModelsHandler(cfg))
	r.Get("/videos", listVideosHandler(cfg))
	r.Get("/videos/{id}/sidecar", sidecarHandler(cfg))
	r.Get("/videos/{id}/edl", edlHandler(cfg))
	r.Get("/runs", listRunsHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/videos/{id}/result", resultHandler(cfg))
		r.Head("/videos/{id}/result", resultHandler(cfg))
		r.Get("/videos/{id}/thumbnail", thumbnailHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		if cfg.RequireToken {
			r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))
		}

		r.Post("/models/select", selectModelHandler(cfg))
		r.Post("/models/rescan", rescanModelsHandler(cfg))
		r.Post("/videos", uploadVideoHandler(cfg))
		r.Delete("/videos/{id}", deleteVideoHandler(cfg))
		r.Post("/videos/{id}/edl", exportEDLHandler(cfg))
		r.Post("/runner/pause", pauseRunnerHandler(cfg))
		r.Post("/runner/resume", resumeRunnerHandler(cfg))
		r.Post("/runner/trigger", triggerRunnerHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{State: "idle"}
		if n, err := cfg.Repository.CountVideos(ctx); err == nil {
			resp.VideosCount = n
		}

		if cfg.Registry != nil {
			resp.ModelsCount = len(cfg.Registry.List())
			if m, ok := cfg.Registry.Selected(); ok {
				mr := ModelToResponse(m, m.ID)
				resp.SelectedModel = &mr
			}
		}

		if p := cfg.Poller; p != nil {
			switch {
			case p.IsPaused():
				resp.State = "paused"
			case p.IsBusy():
				resp.State = "processing"
			case !p.IsRunning():
				resp.State = "stopped"
			}
			if run := p.LastRun(); run != nil {
				rr := RunToResponse(run)
				resp.LastRun = &rr
				if run.Status == catalog.RunStatusFailed {
					resp.LastError = run.Error
				}
			}
			if sum, ok := p.LastSummary(); ok {
				resp.LastSummary = &sum
			}
		}

		if resp.LastError != "" && resp.State == "idle" {
			resp.State = "error"
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Predictor = CapabilitiesToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listModelsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeModels(w, cfg.Registry.List(), cfg.Registry.SelectedID())
	}
}

func writeModels(w http.ResponseWriter, descs []models.Descriptor, selected int) {
	resp := ModelsResponse{Models: make([]ModelResponse, len(descs)), Selected: selected}
	for i, d := range descs {
		resp.Models[i] = ModelToResponse(d, selected)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func selectModelHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		m, err := cfg.Registry.Select(req.ID)
		if err != nil {
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}
		if err := cfg.Repository.SetConfig(r.Context(), catalog.ConfigKeySelectedModel, m.Name); err != nil {
			cfg.Logger.Warn("failed to persist model selection", "error", err)
		}

		WriteJSON(w, http.StatusOK, ModelToResponse(m, m.ID))
	}
}

func rescanModelsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		descs, err := cfg.Registry.Rescan()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if cfg.Poller != nil {
			cfg.Poller.Trigger()
		}
		writeModels(w, descs, cfg.Registry.SelectedID())
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		runs, err := cfg.Repository.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePoller(w, cfg) {
			return
		}
		cfg.Poller.Pause()
		writeRunner(w, cfg)
	}
}

func resumeRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePoller(w, cfg) {
			return
		}
		cfg.Poller.Resume()
		writeRunner(w, cfg)
	}
}

func triggerRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePoller(w, cfg) {
			return
		}
		cfg.Poller.Trigger()
		w.WriteHeader(http.StatusAccepted)
	}
}

func requirePoller(w http.ResponseWriter, cfg ServerConfig) bool {
	if cfg.Poller == nil {
		WriteError(w, http.StatusServiceUnavailable, "runner not available", "RUNNER_UNAVAILABLE")
		return false
	}
	return true
}

func writeRunner(w http.ResponseWriter, cfg ServerConfig) {
	WriteJSON(w, http.StatusOK, RunnerResponse{
		Running: cfg.Poller.IsRunning(),
		Paused:  cfg.Poller.IsPaused(),
		Busy:    cfg.Poller.IsBusy(),
	})
}
