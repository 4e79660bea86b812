package models

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScan_FolderOfWeights(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "mask_rcnn.pth"), "w")
	writeFile(t, filepath.Join(root, "a", "config.yaml"), "MODEL: {}")
	writeFile(t, filepath.Join(root, "b", "nocfg.pth"), "w")

	descs, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("got %d descriptors", len(descs))
	}
	if descs[0].Name != "mask_rcnn" || !descs[0].HasConfig() {
		t.Errorf("descs[0] = %+v", descs[0])
	}
	if descs[1].Name != "nocfg" || descs[1].HasConfig() {
		t.Errorf("descs[1] = %+v", descs[1])
	}
	if active := Active(descs); len(active) != 1 || active[0].Name != "mask_rcnn" {
		t.Errorf("Active = %+v", active)
	}
}

func TestScan_SingleWeightsFile(t *testing.T) {
	root := t.TempDir()
	weights := filepath.Join(root, "model.pth")
	writeFile(t, weights, "w")
	writeFile(t, filepath.Join(root, "cfg.yml"), "")

	descs, err := Scan(weights)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(descs) != 1 || descs[0].WeightsPath != weights {
		t.Fatalf("got %+v", descs)
	}
	if filepath.Base(descs[0].ConfigPath) != "cfg.yml" {
		t.Errorf("ConfigPath = %q", descs[0].ConfigPath)
	}
}

func TestDiscover_SkipsIncompleteFolders(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "m0", "w.pth"), "w")
	writeFile(t, filepath.Join(root, "m0", "c.yaml"), "")
	writeFile(t, filepath.Join(root, "m1", "w.pth"), "w")
	writeFile(t, filepath.Join(root, "m2", "nested", "w2.pth"), "w")
	writeFile(t, filepath.Join(root, "m2", "c2.yaml"), "")

	descs, err := Discover(root, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("got %+v", descs)
	}
	if descs[0].ID != 0 || descs[0].Name != "w" {
		t.Errorf("descs[0] = %+v", descs[0])
	}
	if descs[1].ID != 2 || descs[1].Name != "w2" {
		t.Errorf("descs[1] = %+v", descs[1])
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	writeFile(t, path, `
DATASETS:
  TRAIN: ["endo_train", "extra"]
MODEL:
  ROI_HEADS:
    NUM_CLASSES: 3
    SCORE_THRESH_TEST: 0.7
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Dataset() != "endo_train" {
		t.Errorf("Dataset = %q", cfg.Dataset())
	}
	if th, ok := cfg.FileScoreThreshold(); !ok || th != 0.7 {
		t.Errorf("FileScoreThreshold = %v, %v", th, ok)
	}
	if cfg.NumClasses() != 3 {
		t.Errorf("NumClasses = %d", cfg.NumClasses())
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	writeFile(t, path, "MODEL:\n  DEVICE: cpu\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, ok := cfg.FileScoreThreshold(); ok {
		t.Error("FileScoreThreshold reported a value the file does not set")
	}
	if cfg.Dataset() != "" {
		t.Errorf("Dataset = %q", cfg.Dataset())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(""); err != ErrNoConfig {
		t.Errorf("empty path: got %v", err)
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "MODEL: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestUsable(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, good, "MODEL: {}\n")
	writeFile(t, bad, "MODEL: [unclosed")

	descs := []Descriptor{
		{Name: "good", ConfigPath: good},
		{Name: "bare"},
		{Name: "broken", ConfigPath: bad},
		{Name: "gone", ConfigPath: filepath.Join(dir, "gone.yaml")},
	}
	got := Usable(descs)
	if len(got) != 1 || got[0].Name != "good" {
		t.Errorf("Usable = %+v, want only good", got)
	}
	if len(Usable(nil)) != 0 {
		t.Error("Usable(nil) not empty")
	}
}

func TestRegistry_SelectAndRescan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "alpha.pth"), "w")
	writeFile(t, filepath.Join(root, "a", "c.yaml"), "")
	writeFile(t, filepath.Join(root, "b", "beta.pth"), "w")
	writeFile(t, filepath.Join(root, "b", "c.yaml"), "")

	descs, err := Discover(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(root, descs, nil)

	if _, ok := reg.Selected(); ok {
		t.Fatal("nothing should be selected initially")
	}
	if _, err := reg.Select(42); err == nil {
		t.Fatal("expected error for unknown id")
	}
	m, err := reg.Select(1)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if m.Name != "beta" {
		t.Errorf("selected %q", m.Name)
	}

	// a new model folder sorted first shifts ids, selection follows the name
	writeFile(t, filepath.Join(root, "0new", "gamma.pth"), "w")
	writeFile(t, filepath.Join(root, "0new", "c.yaml"), "")
	if _, err := reg.Rescan(); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	sel, ok := reg.Selected()
	if !ok || sel.Name != "beta" || sel.ID != 2 {
		t.Errorf("selection after rescan = %+v, %v", sel, ok)
	}
	if len(reg.List()) != 3 {
		t.Errorf("List = %+v", reg.List())
	}
}
