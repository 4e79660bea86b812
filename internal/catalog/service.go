package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/framemark/framemark-agent/internal/batch"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/models"
)

const (
	maxFilenameLen  = 120
	thumbnailOffset = 1.0
)

var (
	ErrNotVideo      = errors.New("not a supported video file")
	ErrEmptyUpload   = errors.New("upload is empty")
	ErrVideoNotFound = errors.New("video not found")
)

// Thumbnailer grabs a still frame from a video.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path, outPath string, offset float64) error
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	VideosDir     string // uploads land here; the daemon reads from it
	ResultsDir    string // batch output root for uploads
	ThumbnailsDir string
	OutputExt     string
	Thumbnailer   Thumbnailer // optional
	Logger        *slog.Logger
}

type Service struct {
	repo Repository
	cfg  ServiceConfig
	log  *slog.Logger
}

func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, cfg: cfg, log: logging.WithComponent(logger, "catalog")}
}

func (s *Service) Repo() Repository {
	return s.repo
}

// Upload stores r as a new video. The filename is sanitised and prefixed
// with a short id so uploads never collide. An empty title defaults to the
// filename.
func (s *Service) Upload(ctx context.Context, title, filename string, r io.Reader) (*Video, error) {
	name := fsutil.SanitizeFilename(filename, maxFilenameLen)
	if !fsutil.IsVideoFile(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotVideo, filepath.Ext(filename))
	}
	if title == "" {
		title = filepath.Base(filename)
	}
	if err := fsutil.EnsureDir(s.cfg.VideosDir); err != nil {
		return nil, err
	}

	id := NewID()
	dest := filepath.Join(s.cfg.VideosDir, id[:8]+"_"+name)
	size, err := writeUpload(dest, r)
	if err != nil {
		return nil, err
	}

	video := &Video{
		ID:        id,
		Title:     title,
		Filename:  name,
		Path:      dest,
		Size:      size,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("record upload: %w", err)
	}
	s.log.Info("video uploaded", "video_id", video.ID, "filename", name, "size", size)

	s.makeThumbnail(ctx, video)
	return video, nil
}

func writeUpload(dest string, r io.Reader) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmptyUpload
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return n, nil
}

// makeThumbnail is best effort: a video without a thumbnail is still
// processed.
func (s *Service) makeThumbnail(ctx context.Context, v *Video) {
	if s.cfg.Thumbnailer == nil || s.cfg.ThumbnailsDir == "" {
		return
	}
	if err := fsutil.EnsureDir(s.cfg.ThumbnailsDir); err != nil {
		s.log.Warn("thumbnail dir unavailable", "error", err)
		return
	}
	out := filepath.Join(s.cfg.ThumbnailsDir, v.ID+".jpg")
	if err := s.cfg.Thumbnailer.Thumbnail(ctx, v.Path, out, thumbnailOffset); err != nil {
		s.log.Warn("thumbnail failed", "video_id", v.ID, "error", err)
		return
	}
	if err := s.repo.SetVideoThumbnail(ctx, v.ID, out); err != nil {
		s.log.Warn("failed to record thumbnail", "video_id", v.ID, "error", err)
		return
	}
	v.ThumbnailPath = out
}

func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	v, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVideoNotFound
	}
	return v, nil
}

func (s *Service) ListVideos(ctx context.Context) ([]*Video, error) {
	return s.repo.ListVideos(ctx)
}

// Delete removes the video, its thumbnail and every result computed for it.
func (s *Service) Delete(ctx context.Context, id string) error {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if err := fsutil.RemoveFile(v.Path); err != nil {
		return err
	}
	if v.ThumbnailPath != "" {
		if err := fsutil.RemoveFile(v.ThumbnailPath); err != nil {
			s.log.Warn("failed to remove thumbnail", "video_id", id, "error", err)
		}
	}
	if s.cfg.ResultsDir != "" {
		dir := filepath.Join(s.cfg.ResultsDir, fsutil.Stem(v.Path))
		if fsutil.DirExists(dir) {
			if err := fsutil.RemoveDir(dir); err != nil {
				s.log.Warn("failed to remove results", "video_id", id, "error", err)
			}
		}
	}
	if err := s.repo.DeleteVideo(ctx, id); err != nil {
		return err
	}
	s.log.Info("video deleted", "video_id", id)
	return nil
}

// Reconcile brings the table in line with the uploads directory: files
// copied in by hand are recorded, records whose file is gone are dropped.
func (s *Service) Reconcile(ctx context.Context) (added, removed int, err error) {
	paths, err := fsutil.ListFiles(s.cfg.VideosDir, fsutil.VideoExts...)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	for _, p := range paths {
		existing, err := s.repo.GetVideoByPath(ctx, p)
		if err != nil {
			return added, removed, err
		}
		if existing != nil {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		v := &Video{
			ID:        NewID(),
			Title:     filepath.Base(p),
			Filename:  filepath.Base(p),
			Path:      p,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
		if err := s.repo.CreateVideo(ctx, v); err != nil {
			return added, removed, err
		}
		added++
	}

	videos, err := s.repo.ListVideos(ctx)
	if err != nil {
		return added, removed, err
	}
	for _, v := range videos {
		if fsutil.FileExists(v.Path) {
			continue
		}
		if err := s.repo.DeleteVideo(ctx, v.ID); err != nil {
			return added, removed, err
		}
		removed++
	}

	if added > 0 || removed > 0 {
		s.log.Info("uploads reconciled", "added", added, "removed", removed)
	}
	return added, removed, nil
}

// BatchVideos returns the tracked videos as batch inputs, oldest first.
func (s *Service) BatchVideos(ctx context.Context) ([]batch.Video, error) {
	videos, err := s.repo.ListVideos(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]batch.Video, 0, len(videos))
	for _, v := range videos {
		out = append(out, s.batchVideo(v))
	}
	return out, nil
}

func (s *Service) batchVideo(v *Video) batch.Video {
	return batch.Video{Path: v.Path, RelDir: fsutil.RelDir(v.Path, s.cfg.VideosDir)}
}

// Artifacts returns where the results of v for model live.
func (s *Service) Artifacts(v *Video, model models.Descriptor) batch.Artifacts {
	return batch.Layout(s.cfg.ResultsDir, s.batchVideo(v), model, s.cfg.OutputExt)
}

// ListWithResults lists every video with the state of its result for
// model. With no model selected the videos carry no result.
func (s *Service) ListWithResults(ctx context.Context, model *models.Descriptor) ([]*VideoResult, error) {
	videos, err := s.repo.ListVideos(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*VideoResult, 0, len(videos))
	for _, v := range videos {
		vr := &VideoResult{Video: v}
		if model != nil {
			state := batch.Classify(batch.Inspect(s.Artifacts(v, *model)))
			vr.State = state.String()
			if state == batch.Complete {
				vr.HasResult = true
				vr.ResultURL = "/videos/" + v.ID + "/result"
			}
		}
		out = append(out, vr)
	}
	return out, nil
}
