package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/framemark/framemark-agent/internal/db"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/models"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())
	return database, repo
}

type fakeThumbnailer struct {
	calls int
	err   error
}

func (f *fakeThumbnailer) Thumbnail(ctx context.Context, path, outPath string, offset float64) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, []byte("jpeg"), 0644)
}

func setupService(t *testing.T, thumbs Thumbnailer) (*Service, ServiceConfig) {
	_, repo := setupTestDB(t)
	root := t.TempDir()
	cfg := ServiceConfig{
		VideosDir:     filepath.Join(root, "videos"),
		ResultsDir:    filepath.Join(root, "results"),
		ThumbnailsDir: filepath.Join(root, "thumbnails"),
		OutputExt:     ".webm",
		Thumbnailer:   thumbs,
	}
	return NewService(repo, cfg), cfg
}

func TestService_Upload(t *testing.T) {
	thumbs := &fakeThumbnailer{}
	svc, cfg := setupService(t, thumbs)
	ctx := context.Background()

	v, err := svc.Upload(ctx, "", "My Clip.MP4", strings.NewReader("not really a video"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if v.Title != "My Clip.MP4" {
		t.Errorf("Title = %q, want filename", v.Title)
	}
	if v.Filename != "My_Clip.mp4" {
		t.Errorf("Filename = %q, want My_Clip.mp4", v.Filename)
	}
	if filepath.Dir(v.Path) != cfg.VideosDir {
		t.Errorf("Path = %s, want inside %s", v.Path, cfg.VideosDir)
	}
	if !strings.HasSuffix(v.Path, "_My_Clip.mp4") {
		t.Errorf("Path = %s, want id prefix", v.Path)
	}
	if v.Size != int64(len("not really a video")) {
		t.Errorf("Size = %d", v.Size)
	}
	if thumbs.calls != 1 || v.ThumbnailPath == "" {
		t.Errorf("thumbnail not recorded: calls=%d path=%q", thumbs.calls, v.ThumbnailPath)
	}

	got, err := svc.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.Path != v.Path || got.ThumbnailPath != v.ThumbnailPath {
		t.Errorf("stored video = %+v, want %+v", got, v)
	}
}

func TestService_Upload_Rejected(t *testing.T) {
	svc, cfg := setupService(t, nil)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "x", "notes.txt", strings.NewReader("hi")); !errors.Is(err, ErrNotVideo) {
		t.Errorf("Upload(txt) error = %v, want ErrNotVideo", err)
	}
	if _, err := svc.Upload(ctx, "x", "empty.mp4", strings.NewReader("")); !errors.Is(err, ErrEmptyUpload) {
		t.Errorf("Upload(empty) error = %v, want ErrEmptyUpload", err)
	}

	entries, _ := os.ReadDir(cfg.VideosDir)
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files", len(entries))
	}
}

func TestService_Upload_ThumbnailFailureIsNotFatal(t *testing.T) {
	svc, _ := setupService(t, &fakeThumbnailer{err: errors.New("ffmpeg missing")})

	v, err := svc.Upload(context.Background(), "t", "a.webm", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if v.ThumbnailPath != "" {
		t.Errorf("ThumbnailPath = %q, want empty", v.ThumbnailPath)
	}
}

func TestService_Delete(t *testing.T) {
	svc, cfg := setupService(t, &fakeThumbnailer{})
	ctx := context.Background()

	v, err := svc.Upload(ctx, "t", "a.mp4", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	resultDir := filepath.Join(cfg.ResultsDir, fsutil.Stem(v.Path), "polyp")
	if err := os.MkdirAll(resultDir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, v.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if fsutil.FileExists(v.Path) || fsutil.FileExists(v.ThumbnailPath) {
		t.Error("video files not removed")
	}
	if fsutil.DirExists(filepath.Dir(resultDir)) {
		t.Error("results not removed")
	}
	if _, err := svc.GetVideo(ctx, v.ID); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("GetVideo() after delete error = %v", err)
	}
	if err := svc.Delete(ctx, v.ID); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestService_Reconcile(t *testing.T) {
	svc, cfg := setupService(t, nil)
	ctx := context.Background()

	v, err := svc.Upload(ctx, "t", "gone.mp4", strings.NewReader("data"))
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(v.Path)
	if err := os.WriteFile(filepath.Join(cfg.VideosDir, "manual.avi"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	added, removed, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if added != 1 || removed != 1 {
		t.Errorf("Reconcile() = (%d, %d), want (1, 1)", added, removed)
	}

	videos, err := svc.BatchVideos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 1 || filepath.Base(videos[0].Path) != "manual.avi" || videos[0].RelDir != "." {
		t.Errorf("BatchVideos() = %+v", videos)
	}

	added, removed, err = svc.Reconcile(ctx)
	if err != nil || added != 0 || removed != 0 {
		t.Errorf("second Reconcile() = (%d, %d, %v)", added, removed, err)
	}
}

func TestService_Reconcile_NoUploadsDir(t *testing.T) {
	svc, _ := setupService(t, nil)
	if _, _, err := svc.Reconcile(context.Background()); err != nil {
		t.Errorf("Reconcile() error = %v", err)
	}
}

func TestService_ListWithResults(t *testing.T) {
	svc, _ := setupService(t, nil)
	ctx := context.Background()

	done, err := svc.Upload(ctx, "done", "done.mp4", strings.NewReader("data"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Upload(ctx, "todo", "todo.mp4", strings.NewReader("data")); err != nil {
		t.Fatal(err)
	}

	model := models.Descriptor{Name: "polyp", WeightsPath: "/m/polyp.pth", ConfigPath: "/m/c.yaml"}
	art := svc.Artifacts(done, model)
	if !strings.HasSuffix(art.Indicated, "polyp_"+fsutil.Stem(done.Path)+"_indicated.webm") {
		t.Errorf("Indicated = %s", art.Indicated)
	}
	for _, p := range []string{art.Sidecar, art.Indicated} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	list, err := svc.ListWithResults(ctx, &model)
	if err != nil {
		t.Fatalf("ListWithResults() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if !list[0].HasResult || list[0].ResultURL != "/videos/"+done.ID+"/result" {
		t.Errorf("done video = %+v", list[0])
	}
	if list[1].HasResult || list[1].State != "missing" {
		t.Errorf("todo video = %+v", list[1])
	}

	list, err = svc.ListWithResults(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if list[0].HasResult || list[0].State != "" {
		t.Errorf("no model selected: %+v", list[0])
	}
}

func TestRepository_Runs(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	first := &Run{ID: NewID(), Status: RunStatusRunning, Origin: RunOriginPoll, StartedAt: time.Now().Add(-time.Minute)}
	second := &Run{ID: NewID(), Status: RunStatusRunning, Origin: RunOriginTrigger, StartedAt: time.Now()}
	for _, r := range []*Run{first, second} {
		if err := repo.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}

	now := time.Now()
	first.Status = RunStatusCompleted
	first.Processed, first.Indicated, first.Skipped, first.Repaired, first.Failed = 2, 3, 4, 1, 1
	first.FinishedAt = &now
	if err := repo.FinishRun(ctx, first); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	got, err := repo.GetRun(ctx, first.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun() = %v, %v", got, err)
	}
	if got.Status != RunStatusCompleted || got.Processed != 2 || got.Indicated != 3 || got.Skipped != 4 || got.Failed != 1 {
		t.Errorf("GetRun() = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not stored")
	}

	runs, err := repo.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID {
		t.Errorf("ListRuns() not newest first: %+v", runs)
	}

	missing, err := repo.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(missing) = %v, %v", missing, err)
	}
}

func TestRepository_Config(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	v, err := repo.GetConfig(ctx, ConfigKeyAPIToken)
	if err != nil || v != "" {
		t.Errorf("GetConfig(unset) = %q, %v", v, err)
	}
	if err := repo.SetConfig(ctx, ConfigKeyAPIToken, "a"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetConfig(ctx, ConfigKeyAPIToken, "b"); err != nil {
		t.Fatal(err)
	}
	v, _ = repo.GetConfig(ctx, ConfigKeyAPIToken)
	if v != "b" {
		t.Errorf("GetConfig() = %q, want b", v)
	}
}
