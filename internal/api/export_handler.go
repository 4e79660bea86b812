package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/export"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/indicator"
)

const defaultEDLLevel = indicator.Low

// edlHandler streams the EDL of a finished result. Query parameters
// min_level and fps tune it.
func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := export.Request{MinLevel: q.Get("min_level")}
		if s := q.Get("fps"); s != "" {
			fps, err := strconv.ParseFloat(s, 64)
			if err != nil || fps <= 0 {
				WriteError(w, http.StatusBadRequest, "fps must be a positive number", "BAD_REQUEST")
				return
			}
			req.FrameRate = fps
		}

		content, _, _, ok := buildEDL(w, r, cfg, req)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content))
	}
}

// exportEDLHandler writes the EDL into a local directory chosen by the
// caller.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		content, title, segs, ok := buildEDL(w, r, cfg, req)
		if !ok {
			return
		}

		out, err := export.WriteEDL(req.OutputDir, title, content)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, export.Response{
			Status:     "ok",
			Format:     "edl",
			OutputPath: out,
			ClipCount:  len(segs),
			Segments:   segs,
		})
	}
}

func buildEDL(w http.ResponseWriter, r *http.Request, cfg ServerConfig, req export.Request) (string, string, []export.Segment, bool) {
	level := defaultEDLLevel
	if req.MinLevel != "" {
		b, err := indicator.ParseBucket(req.MinLevel)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return "", "", nil, false
		}
		level = b
	}

	v, art, ok := lookupResult(w, r, cfg)
	if !ok {
		return "", "", nil, false
	}
	results, ok := readSidecar(w, art)
	if !ok {
		return "", "", nil, false
	}

	title := edlTitle(req.Title, v)
	clips, segs := export.FromResults(results, level, title, v.Path)
	if segs == nil {
		segs = []export.Segment{}
	}
	return export.GenerateEDL(clips, title, req.FrameRate), title, segs, true
}

func edlTitle(requested string, v *catalog.Video) string {
	title := fsutil.SanitizeName(requested, 120)
	if title == "" {
		title = fsutil.SanitizeName(fsutil.Stem(v.Filename), 120)
	}
	if title == "" {
		title = "framemark_export"
	}
	return strings.ReplaceAll(title, " ", "_")
}
