package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// PlaceholderName is used when no job name is known or sanitization leaves
// nothing usable.
const PlaceholderName = "untitled"

// RecordingExt is the extension of every recording file, whatever the codec.
const RecordingExt = ".avi"

// MaxNameLength is the maximum length, in characters, of a sanitized job name.
const MaxNameLength = 50

// DayLayout names day-folders.
const DayLayout = "2006-01-02"

var illegalChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// SanitizeForFilename replaces path separators and reserved characters with
// underscores, trims surrounding whitespace and truncates the result to
// MaxNameLength characters.
func SanitizeForFilename(input string) string {
	if input == "" {
		return PlaceholderName
	}

	sanitized := strings.TrimSpace(illegalChars.ReplaceAllString(input, "_"))

	if r := []rune(sanitized); len(r) > MaxNameLength {
		sanitized = strings.TrimSpace(string(r[:MaxNameLength]))
	}

	// A name made only of replaced characters carries no information.
	if sanitized == "" || strings.Trim(sanitized, "_") == "" {
		return PlaceholderName
	}
	return sanitized
}

// RecordingFileName returns <name>_<YYYYMMDD_HHMMSS>.avi for an already
// sanitized job name.
func RecordingFileName(name string, t time.Time) string {
	return name + "_" + t.Format("20060102_150405") + RecordingExt
}

// DayFolder returns the path of the day-folder for t under root.
func DayFolder(root string, t time.Time) string {
	return filepath.Join(root, t.Format(DayLayout))
}

// EnsureDayFolder creates (or reuses) the day-folder for t and returns it.
func EnsureDayFolder(root string, t time.Time) (string, error) {
	dir := DayFolder(root, t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create day folder %s: %w", dir, err)
	}
	return dir, nil
}

// ProbeWritable writes and removes a throwaway file in dir.
func ProbeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("folder %s not writable: %w", dir, err)
	}
	name := f.Name()
	_, werr := f.WriteString("probe")
	cerr := f.Close()
	rerr := os.Remove(name)
	switch {
	case werr != nil:
		return fmt.Errorf("folder %s not writable: %w", dir, werr)
	case cerr != nil:
		return fmt.Errorf("folder %s not writable: %w", dir, cerr)
	case rerr != nil:
		return fmt.Errorf("remove write probe: %w", rerr)
	}
	return nil
}

// UniquePath returns path if nothing exists there, otherwise the first free
// variant with _2, _3, ... inserted before the extension.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		try := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(try); os.IsNotExist(err) {
			return try
		}
	}
}
