package fsutil

import (
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName strips control characters and replaces anything outside a
// conservative set with '_'. The result is trimmed and cut to maxLen runes
// when maxLen > 0.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

// SanitizeFilename keeps the extension of an uploaded file intact while
// cleaning the stem. Spaces become underscores so the name is shell safe.
func SanitizeFilename(name string, maxLen int) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := SanitizeName(strings.TrimSuffix(base, filepath.Ext(base)), maxLen)
	stem = strings.ReplaceAll(stem, " ", "_")
	stem = strings.Trim(stem, ".")
	if stem == "" {
		stem = "video"
	}
	return stem + SanitizeName(ext, 0)
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}
