package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const DefaultFrameRate = 25.0

// GenerateEDL renders clips as a CMX3600 list. Source timecodes are the
// clip frames; record timecodes lay the clips end to end.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	record := 0
	for i, clip := range clips {
		length := clip.EndFrame - clip.StartFrame
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				framesToTimecode(clip.StartFrame, fps), framesToTimecode(clip.EndFrame, fps),
				framesToTimecode(record, fps), framesToTimecode(record+length, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)
		if clip.Comment != "" {
			lines = append(lines, "* "+clip.Comment)
		}
		record += length
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func framesToTimecode(total int, fps int) string {
	frames := total % fps
	totalSeconds := total / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}

// ValidateOutputDir accepts an existing, clean directory path without
// traversal.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output_dir is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output_dir cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return fmt.Errorf("output_dir must be clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output_dir does not exist")
		}
		return fmt.Errorf("invalid output_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output_dir is not a directory")
	}
	return nil
}

// WriteEDL stores content as <dir>/<name>.edl.
func WriteEDL(dir, name, content string) (string, error) {
	out := filepath.Join(dir, name+".edl")
	if err := os.WriteFile(out, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write edl: %w", err)
	}
	return out, nil
}
