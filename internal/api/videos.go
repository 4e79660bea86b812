package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/framemark/framemark-agent/internal/annotate"
	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/models"
)

const maxUploadMemory = 32 << 20

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var model *models.Descriptor
		if m, ok := cfg.Registry.Selected(); ok {
			model = &m
		}

		videos, err := cfg.Service.ListWithResults(r.Context(), model)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart form", "BAD_REQUEST")
			return
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}

		file, header, err := r.FormFile("video")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "video file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		v, err := cfg.Service.Upload(r.Context(), r.FormValue("title"), header.Filename, file)
		switch {
		case errors.Is(err, catalog.ErrNotVideo), errors.Is(err, catalog.ErrEmptyUpload):
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_VIDEO")
			return
		case err != nil:
			cfg.Logger.Error("upload failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}

		if cfg.Poller != nil {
			cfg.Poller.Trigger()
		}
		WriteJSON(w, http.StatusCreated, VideoToResponse(&catalog.VideoResult{Video: v}))
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := cfg.Service.Delete(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, catalog.ErrVideoNotFound):
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// lookupResult resolves the video in the URL and the artifacts of the
// selected model. It writes the error response itself and reports false
// when there is nothing to serve.
func lookupResult(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*catalog.Video, batch.Artifacts, bool) {
	v, err := cfg.Service.GetVideo(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, catalog.ErrVideoNotFound) {
		WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
		return nil, batch.Artifacts{}, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, batch.Artifacts{}, false
	}

	m, ok := cfg.Registry.Selected()
	if !ok {
		WriteError(w, http.StatusConflict, "no model selected", "NO_MODEL")
		return nil, batch.Artifacts{}, false
	}
	return v, cfg.Service.Artifacts(v, m), true
}

func resultHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, art, ok := lookupResult(w, r, cfg)
		if !ok {
			return
		}
		if batch.Classify(batch.Inspect(art)) != batch.Complete {
			WriteError(w, http.StatusNotFound, "result not ready", "NO_RESULT")
			return
		}
		if err := cfg.Playback.ServeFile(w, r, art.Indicated); err != nil {
			cfg.Logger.Error("playback error", "error", err, "video_id", v.ID)
		}
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Service.GetVideo(r.Context(), chi.URLParam(r, "id"))
		if err != nil || v.ThumbnailPath == "" {
			WriteError(w, http.StatusNotFound, "thumbnail not found", "NOT_FOUND")
			return
		}
		if err := cfg.Playback.ServeFile(w, r, v.ThumbnailPath); err != nil {
			cfg.Logger.Error("thumbnail error", "error", err, "video_id", v.ID)
		}
	}
}

func sidecarHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, art, ok := lookupResult(w, r, cfg)
		if !ok {
			return
		}
		results, ok := readSidecar(w, art)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, results)
	}
}

// readSidecar only trusts a sidecar whose pair has finished processing.
func readSidecar(w http.ResponseWriter, art batch.Artifacts) (*annotate.Results, bool) {
	switch batch.Classify(batch.Inspect(art)) {
	case batch.Complete, batch.CompleteUnindicated:
	default:
		WriteError(w, http.StatusNotFound, "result not ready", "NO_RESULT")
		return nil, false
	}
	results, err := annotate.ReadResults(art.Sidecar)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	return results, true
}
