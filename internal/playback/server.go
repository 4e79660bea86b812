package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/framemark/framemark-agent/internal/logging"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
}

// ContentType guesses the media type from the extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{logger: logger}
}

// ServeFile writes path to w honouring GET, HEAD and a single byte range.
// Errors are reported to the client; the returned error is for logging.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		http.Error(w, "cannot open file", http.StatusInternalServerError)
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		http.Error(w, "cannot stat file", http.StatusInternalServerError)
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentType(path))
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))

	if notModified(r, stat.ModTime()) {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	rng, partial, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// malformed ranges are ignored and the whole file is sent
		partial = false
	}

	status := http.StatusOK
	length := size
	if partial {
		status = http.StatusPartialContent
		length = rng.Length()
		h.Set("Content-Range", rng.ContentRange(size))
		if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
			http.Error(w, "seek failed", http.StatusInternalServerError)
			return fmt.Errorf("seek: %w", err)
		}
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.CopyN(w, f, length); err != nil {
		// clients abort range requests all the time while seeking
		s.logger.Debug("playback copy ended early", "file", filepath.Base(path), "error", err)
	}
	return nil
}

func notModified(r *http.Request, modTime time.Time) bool {
	since := r.Header.Get("If-Modified-Since")
	if since == "" || r.Header.Get("Range") != "" {
		return false
	}
	t, err := http.ParseTime(since)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(t)
}
