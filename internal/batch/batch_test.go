package batch

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/framemark/framemark-agent/internal/annotate"
	"github.com/framemark/framemark-agent/internal/fsutil"
	"github.com/framemark/framemark-agent/internal/indicator"
	"github.com/framemark/framemark-agent/internal/models"
	"github.com/framemark/framemark-agent/internal/predictor/predictortest"
	"github.com/framemark/framemark-agent/internal/videoio/videoiotest"
)

const modelConfig = "DATASETS:\n  TRAIN: [\"polyps_train\"]\nMODEL:\n  ROI_HEADS:\n    SCORE_THRESH_TEST: 0.5\n"

type env struct {
	videoRoot string
	outRoot   string
	backend   *videoiotest.Backend
	factory   *predictortest.Factory
	ctrl      *Controller
	videos    []Video
	models    []models.Descriptor
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// newEnv creates n videos of the given frame count and one model with a
// config. Every frame scores score.
func newEnv(t *testing.T, n, frames int, score float64) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		videoRoot: filepath.Join(dir, "videos"),
		outRoot:   filepath.Join(dir, "out"),
		backend:   videoiotest.New(),
		factory:   &predictortest.Factory{Scores: predictortest.Constant(score)},
	}
	for i := 0; i < n; i++ {
		p := filepath.Join(e.videoRoot, fmt.Sprintf("clip%d.mp4", i))
		if err := e.backend.AddVideo(p, videoiotest.Solid(frames, 16, 8, color.RGBA{R: 90, A: 255}), 25); err != nil {
			t.Fatalf("AddVideo: %v", err)
		}
	}
	writeFile(t, filepath.Join(dir, "models", "polyp", "polyp.pth"), "weights")
	writeFile(t, filepath.Join(dir, "models", "polyp", "config.yaml"), modelConfig)

	var err error
	if e.videos, err = DiscoverVideos(e.videoRoot); err != nil {
		t.Fatalf("DiscoverVideos: %v", err)
	}
	if e.models, err = models.Scan(filepath.Join(dir, "models")); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	e.ctrl = New(Config{
		Factory:  e.factory,
		Pipeline: annotate.New(e.backend, annotate.Options{}, nil),
		Renderer: indicator.NewRenderer(e.backend, indicator.Options{}, nil),
	})
	return e
}

func (e *env) request() Request {
	return Request{Videos: e.videos, Models: e.models, OutputRoot: e.outRoot}
}

func (e *env) artifacts(i int) Artifacts {
	return e.ctrl.Layout(e.outRoot, e.videos[i], e.models[0])
}

func (e *env) run(t *testing.T, req Request) Summary {
	t.Helper()
	sum, err := e.ctrl.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sum
}

func checkSummary(t *testing.T, got, want Summary) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("summary = %+v, want %+v", got, want)
	}
}

func checkState(t *testing.T, art Artifacts, want State) {
	t.Helper()
	if got := Classify(Inspect(art)); got != want {
		t.Errorf("state = %s, want %s", got, want)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		seen Probe
		want State
	}{
		{Probe{}, Missing},
		{Probe{Video: true}, Partial},
		{Probe{Video: true, Indicated: true}, Partial},
		{Probe{Indicated: true}, Missing},
		{Probe{Sidecar: true}, Orphaned},
		{Probe{Sidecar: true, Video: true}, CompleteUnindicated},
		{Probe{Sidecar: true, Video: true, Indicated: true}, Complete},
		{Probe{Sidecar: true, Indicated: true}, Complete},
	}
	for _, c := range cases {
		if got := Classify(c.seen); got != c.want {
			t.Errorf("Classify(%+v) = %s, want %s", c.seen, got, c.want)
		}
	}
	if CompleteUnindicated.String() != "unindicated" {
		t.Errorf("String = %q", CompleteUnindicated.String())
	}
}

func TestLayout(t *testing.T) {
	v := Video{Path: "/in/day1/clip.avi", RelDir: "day1"}
	m := models.Descriptor{Name: "polyp", WeightsPath: "/m/polyp.pth"}

	art := Layout("/out", v, m, "")
	want := Artifacts{
		Dir:       filepath.FromSlash("/out/day1/clip/polyp"),
		Video:     filepath.FromSlash("/out/day1/clip/polyp/polyp_clip.avi"),
		Sidecar:   filepath.FromSlash("/out/day1/clip/polyp/polyp_clip.json"),
		Indicated: filepath.FromSlash("/out/day1/clip/polyp/polyp_clip_indicated.avi"),
		Bar:       filepath.FromSlash("/out/day1/clip/polyp/polyp_clip_bar.png"),
	}
	if art != want {
		t.Errorf("Layout = %+v\nwant %+v", art, want)
	}

	art = Layout("/out", Video{Path: "/in/clip.mp4", RelDir: "."}, m, "webm")
	if art.Video != filepath.FromSlash("/out/clip/polyp/polyp_clip.webm") {
		t.Errorf("Video = %s", art.Video)
	}
	if art.Indicated != filepath.FromSlash("/out/clip/polyp/polyp_clip_indicated.webm") {
		t.Errorf("Indicated = %s", art.Indicated)
	}
}

func TestDiscoverVideos(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp4"), "x")
	writeFile(t, filepath.Join(root, "sub", "b.webm"), "x")
	writeFile(t, filepath.Join(root, "notes.txt"), "x")

	videos, err := DiscoverVideos(root)
	if err != nil {
		t.Fatalf("DiscoverVideos: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(videos))
	}
	if videos[0].RelDir != "." || videos[1].RelDir != "sub" {
		t.Errorf("RelDir = %q, %q", videos[0].RelDir, videos[1].RelDir)
	}
}

func TestRun_TenFrameVideo(t *testing.T) {
	e := newEnv(t, 1, 10, 0.9)

	checkSummary(t, e.run(t, e.request()), Summary{Processed: 1, Indicated: 1})

	art := e.artifacts(0)
	results, err := annotate.ReadResults(art.Sidecar)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if results.NumFrames != 10 || len(results.Predictions) != 10 {
		t.Errorf("num_frames = %d, predictions = %d", results.NumFrames, len(results.Predictions))
	}

	frames := e.backend.Frames(art.Indicated)
	if len(frames) != 10 {
		t.Fatalf("indicated frames = %d", len(frames))
	}
	last := frames[9]
	y := 8 + indicator.DefaultBarHeight/2
	for x := 0; x < 14; x++ {
		if got := last.RGBAAt(x, y); got != indicator.High.Color() {
			t.Errorf("column %d = %v", x, got)
		}
	}
	if !fsutil.FileExists(art.Bar) {
		t.Error("bar image missing")
	}
	if !e.factory.AllClosed() {
		t.Error("predictor left open")
	}
}

func TestRun_SecondRunDoesNothing(t *testing.T) {
	e := newEnv(t, 2, 3, 0.7)

	e.run(t, e.request())
	if e.ctrl.HasPendingWork(e.outRoot, e.videos, e.models) {
		t.Fatal("pending work after a successful run")
	}

	loads := len(e.factory.Loads())
	calls := e.factory.PredictCalls()
	writes := e.backend.Writes.Load()

	checkSummary(t, e.run(t, e.request()), Summary{Skipped: 2})
	if len(e.factory.Loads()) != loads {
		t.Error("model loaded for complete pairs")
	}
	if e.factory.PredictCalls() != calls {
		t.Error("inference ran for complete pairs")
	}
	if e.backend.Writes.Load() != writes {
		t.Error("frames written for complete pairs")
	}
}

func TestRun_PartialIsRepaired(t *testing.T) {
	e := newEnv(t, 1, 4, 0.6)
	e.run(t, e.request())

	// interrupted before the sidecar was written
	art := e.artifacts(0)
	if err := os.Remove(art.Sidecar); err != nil {
		t.Fatal(err)
	}
	checkState(t, art, Partial)
	if !e.ctrl.HasPendingWork(e.outRoot, e.videos, e.models) {
		t.Error("partial pair should be pending")
	}

	checkSummary(t, e.run(t, e.request()), Summary{Processed: 1, Indicated: 1, Repaired: 1})
	checkState(t, art, Complete)
}

func TestRun_OrphanedSidecarIsRepaired(t *testing.T) {
	e := newEnv(t, 1, 4, 0.6)
	e.run(t, e.request())

	art := e.artifacts(0)
	for _, p := range []string{art.Video, art.Indicated} {
		if err := os.Remove(p); err != nil {
			t.Fatal(err)
		}
	}
	checkState(t, art, Orphaned)

	checkSummary(t, e.run(t, e.request()), Summary{Processed: 1, Indicated: 1, Repaired: 1})
}

func TestRun_UnindicatedRunsIndicatorOnly(t *testing.T) {
	e := newEnv(t, 1, 5, 0.8)
	e.run(t, e.request())

	art := e.artifacts(0)
	if err := os.Remove(art.Indicated); err != nil {
		t.Fatal(err)
	}
	checkState(t, art, CompleteUnindicated)
	loads := len(e.factory.Loads())
	calls := e.factory.PredictCalls()

	checkSummary(t, e.run(t, e.request()), Summary{Indicated: 1})
	if len(e.factory.Loads()) != loads || e.factory.PredictCalls() != calls {
		t.Error("indicator-only repair ran inference")
	}
	if n := len(e.backend.Frames(art.Indicated)); n != 5 {
		t.Errorf("indicated frames = %d", n)
	}
}

func TestRun_ConfirmOverwrite(t *testing.T) {
	t.Run("yes wipes outputs", func(t *testing.T) {
		e := newEnv(t, 1, 2, 0.9)
		e.run(t, e.request())
		stray := filepath.Join(e.outRoot, "stray.txt")
		writeFile(t, stray, "x")

		req := e.request()
		req.ConfirmOverwrite = true
		var asked string
		req.Confirm = ConfirmFunc(func(p string) (bool, error) { asked = p; return true, nil })

		sum := e.run(t, req)
		if !strings.Contains(asked, e.outRoot) {
			t.Errorf("prompt %q does not name the output root", asked)
		}
		if fsutil.FileExists(stray) {
			t.Error("output root was not wiped")
		}
		if sum.Processed != 1 {
			t.Errorf("processed = %d", sum.Processed)
		}
	})

	t.Run("no keeps outputs", func(t *testing.T) {
		e := newEnv(t, 1, 2, 0.9)
		e.run(t, e.request())

		req := e.request()
		req.ConfirmOverwrite = true
		req.Confirm = ConfirmFunc(func(string) (bool, error) { return false, nil })

		checkSummary(t, e.run(t, req), Summary{Skipped: 1})
	})

	t.Run("confirm error aborts", func(t *testing.T) {
		e := newEnv(t, 1, 2, 0.9)
		if err := fsutil.EnsureDir(e.outRoot); err != nil {
			t.Fatal(err)
		}

		req := e.request()
		req.ConfirmOverwrite = true
		req.Confirm = ConfirmFunc(func(string) (bool, error) { return false, errors.New("stdin closed") })

		if _, err := e.ctrl.Run(context.Background(), req); err == nil {
			t.Error("expected error")
		}
		if len(e.factory.Loads()) != 0 {
			t.Error("model loaded after aborted confirm")
		}
	})
}

func TestRun_ModelWithoutConfigIsSkipped(t *testing.T) {
	e := newEnv(t, 1, 2, 0.9)
	bare := filepath.Join(t.TempDir(), "bare", "bare.pth")
	writeFile(t, bare, "weights")
	extra, err := models.Scan(filepath.Dir(bare))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if extra[0].HasConfig() {
		t.Fatal("bare model should have no config")
	}

	req := e.request()
	req.Models = append(extra, e.models...)

	sum := e.run(t, req)
	if !reflect.DeepEqual(sum.SkippedModels, []string{"bare"}) {
		t.Errorf("SkippedModels = %v", sum.SkippedModels)
	}
	if sum.Processed != 1 {
		t.Errorf("processed = %d", sum.Processed)
	}
	if loads := e.factory.Loads(); !reflect.DeepEqual(loads, []string{"polyp"}) {
		t.Errorf("loads = %v", loads)
	}
	if e.ctrl.HasPendingWork(e.outRoot, e.videos, req.Models) {
		t.Error("configless models never count as pending")
	}
}

func TestRun_BrokenConfigIsNotPending(t *testing.T) {
	e := newEnv(t, 1, 2, 0.9)
	writeFile(t, e.models[0].ConfigPath, "MODEL: [unclosed\n")

	if e.ctrl.HasPendingWork(e.outRoot, e.videos, e.models) {
		t.Fatal("a model whose config does not parse cannot be pending")
	}

	sum := e.run(t, e.request())
	if !reflect.DeepEqual(sum.SkippedModels, []string{"polyp"}) {
		t.Errorf("SkippedModels = %v", sum.SkippedModels)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].Model != "polyp" || sum.Failures[0].Video != "" {
		t.Errorf("Failures = %+v", sum.Failures)
	}
	if len(e.factory.Loads()) != 0 {
		t.Errorf("loads = %v", e.factory.Loads())
	}
}

func TestRun_LoadFailureSkipsModel(t *testing.T) {
	e := newEnv(t, 2, 2, 0.9)
	e.factory.FailModels = map[string]bool{"polyp": true}

	sum := e.run(t, e.request())
	if !reflect.DeepEqual(sum.SkippedModels, []string{"polyp"}) {
		t.Errorf("SkippedModels = %v", sum.SkippedModels)
	}
	if sum.Processed != 0 || sum.Failed != 0 {
		t.Errorf("processed = %d, failed = %d", sum.Processed, sum.Failed)
	}
	if loads := e.factory.Loads(); !reflect.DeepEqual(loads, []string{"polyp"}) {
		t.Errorf("loads = %v, want one attempt per model", loads)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].Video != "" {
		t.Errorf("Failures = %+v", sum.Failures)
	}
}

func TestRun_PairFailureDoesNotStopBatch(t *testing.T) {
	e := newEnv(t, 2, 4, 0.9)
	e.backend.FailReadAt[e.videos[0].Path] = 1

	sum := e.run(t, e.request())
	if sum.Failed != 1 || sum.Processed != 1 {
		t.Errorf("failed = %d, processed = %d", sum.Failed, sum.Processed)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].Video != e.videos[0].Path {
		t.Errorf("Failures = %+v", sum.Failures)
	}

	bad := e.artifacts(0)
	if fsutil.FileExists(bad.Sidecar) {
		t.Error("sidecar written for a failed pair")
	}
	checkState(t, bad, Partial)
	checkState(t, e.artifacts(1), Complete)
	if !e.factory.AllClosed() {
		t.Error("predictor left open")
	}
}

func TestRun_SkipLeavesPairUntouched(t *testing.T) {
	e := newEnv(t, 2, 2, 0.9)
	req := e.request()
	skipped := e.videos[0].Path
	req.Skip = func(m models.Descriptor, v Video) bool { return v.Path == skipped }

	checkSummary(t, e.run(t, req), Summary{Processed: 1, Indicated: 1})
	checkState(t, e.artifacts(0), Missing)
	checkState(t, e.artifacts(1), Complete)

	pending := e.ctrl.Pending(e.outRoot, e.videos, e.models)
	if len(pending) != 1 || pending[0].Video != skipped || pending[0].State != Missing {
		t.Errorf("Pending = %+v", pending)
	}
}

func TestRun_EmptyInputs(t *testing.T) {
	e := newEnv(t, 1, 1, 0.9)

	_, err := e.ctrl.Run(context.Background(), Request{Models: e.models, OutputRoot: e.outRoot})
	if !errors.Is(err, ErrNoVideos) || !errors.Is(err, ErrNoInput) {
		t.Errorf("no videos: %v", err)
	}

	_, err = e.ctrl.Run(context.Background(), Request{Videos: e.videos, OutputRoot: e.outRoot})
	if !errors.Is(err, ErrNoModels) || !errors.Is(err, ErrNoInput) {
		t.Errorf("no models: %v", err)
	}

	if e.ctrl.HasPendingWork(e.outRoot, nil, e.models) || e.ctrl.HasPendingWork(e.outRoot, e.videos, nil) {
		t.Error("empty inputs reported as pending")
	}
	if fsutil.DirExists(e.outRoot) {
		t.Error("output root created for empty inputs")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	e := newEnv(t, 2, 3, 0.9)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.ctrl.Run(ctx, e.request()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if fsutil.FileExists(e.artifacts(0).Sidecar) {
		t.Error("sidecar written after cancel")
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t, 2, 2, 0.9)
	e.backend.FailReadAt[e.videos[1].Path] = 1

	e.run(t, e.request())

	st := e.ctrl.Status(e.outRoot, e.videos, e.models)
	if len(st) != 2 {
		t.Fatalf("statuses = %d", len(st))
	}
	if st[0].Model != "polyp" || st[0].State != Complete {
		t.Errorf("first = %+v", st[0])
	}
	if st[1].State != Partial {
		t.Errorf("encoder output without a sidecar: state = %s", st[1].State)
	}
}
