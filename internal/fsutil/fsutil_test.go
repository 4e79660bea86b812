package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "sub", "b.AVI"))
	touch(t, filepath.Join(root, "sub", "notes.txt"))
	touch(t, filepath.Join(root, ".cache", "c.mp4"))

	files, err := ListFiles(root, ".mp4", ".avi")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	want := []string{filepath.Join(root, "a.mp4"), filepath.Join(root, "sub", "b.AVI")}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestListFiles_SingleFileRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "clip.mp4")
	touch(t, path)

	files, err := ListFiles(path, VideoExts...)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0] != path {
		t.Errorf("got %v", files)
	}

	if files, _ := ListFiles(path, ".avi"); len(files) != 0 {
		t.Errorf("expected no match, got %v", files)
	}
}

func TestListFiles_MissingRoot(t *testing.T) {
	if _, err := ListFiles(filepath.Join(t.TempDir(), "nope"), ".mp4"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFirstFileAndSubdirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "m1", "b.pth"))
	touch(t, filepath.Join(root, "m1", "a.pth"))
	touch(t, filepath.Join(root, "m1", "cfg.yaml"))
	touch(t, filepath.Join(root, "m2", "weights.pth"))
	touch(t, filepath.Join(root, ".hidden", "x.pth"))

	dirs, err := Subdirs(root)
	if err != nil {
		t.Fatalf("Subdirs: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("Subdirs = %v", dirs)
	}

	got, err := FirstFile(dirs[0], ".pth")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "a.pth" {
		t.Errorf("FirstFile = %q, want a.pth", got)
	}

	got, err = FirstFile(dirs[1], ".yaml")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("FirstFile = %q, want empty", got)
	}
}

func TestExistsAndRemove(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "out", "x.json")
	touch(t, file)

	if !FileExists(file) || FileExists(filepath.Dir(file)) {
		t.Error("FileExists mismatch")
	}
	if !DirExists(filepath.Dir(file)) || DirExists(file) {
		t.Error("DirExists mismatch")
	}

	if err := RemoveFile(file); err != nil {
		t.Fatal(err)
	}
	if err := RemoveFile(file); err != nil {
		t.Errorf("removing a missing file should be fine: %v", err)
	}
	if err := RemoveDir(filepath.Join(root, "out")); err != nil {
		t.Fatal(err)
	}
	if DirExists(filepath.Join(root, "out")) {
		t.Error("dir still present")
	}
	if err := RemoveDir("/"); err == nil {
		t.Error("expected refusal for /")
	}
}

func TestRelDirStemSuffix(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "b", "clip.mp4"))
	touch(t, filepath.Join(root, "top.mp4"))

	if got := RelDir(filepath.Join(root, "a", "b", "clip.mp4"), root); got != filepath.Join("a", "b") {
		t.Errorf("RelDir = %q", got)
	}
	if got := RelDir(filepath.Join(root, "top.mp4"), root); got != "." {
		t.Errorf("RelDir = %q", got)
	}
	if got := RelDir(filepath.Join(root, "top.mp4"), filepath.Join(root, "top.mp4")); got != "." {
		t.Errorf("RelDir for file root = %q", got)
	}

	if got := Stem("/x/y/clip.final.mp4"); got != "clip.final" {
		t.Errorf("Stem = %q", got)
	}
	if got := WithSuffix("/x/m_clip.mp4", "_indicated"); got != "/x/m_clip_indicated.mp4" {
		t.Errorf("WithSuffix = %q", got)
	}
}

func TestWriteReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	in := map[string]int{"a": 1}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out map[string]int
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("got %v", out)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName(" A\nB\rC\tD\x00 ", 100); got != "ABCD" {
		t.Errorf("control chars: got %q", got)
	}
	if got := SanitizeName("bad<>|\"name", 100); got != "bad____name" {
		t.Errorf("disallowed: got %q", got)
	}
	if got := SanitizeName("abcdefghijklmnopqrstuvwxyz", 10); len([]rune(got)) != 10 {
		t.Errorf("max length: got %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My Clip.MP4", "My_Clip.mp4"},
		{"../../etc/passwd.mp4", "passwd.mp4"},
		{`C:\Users\me\run 1.avi`, "run_1.avi"},
		{"<>.webm", "__.webm"},
		{".mp4", "video.mp4"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in, 100); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
