package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"reserved characters", "a/b:c*d", "a_b_c_d"},
		{"all reserved", `\/:*?"<>|`, PlaceholderName},
		{"empty", "", PlaceholderName},
		{"whitespace only", "   ", PlaceholderName},
		{"trimmed", "  benchy  ", "benchy"},
		{"keeps spaces inside", "cable clip v2", "cable clip v2"},
		{"unicode kept", "齿轮", "齿轮"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeForFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeForFilename_truncates(t *testing.T) {
	got := SanitizeForFilename(strings.Repeat("x", 200))
	if len(got) != MaxNameLength {
		t.Fatalf("len = %d, want %d", len(got), MaxNameLength)
	}

	// Truncation counts characters, not bytes.
	got = SanitizeForFilename(strings.Repeat("模", 60))
	if n := len([]rune(got)); n != MaxNameLength {
		t.Fatalf("rune len = %d, want %d", n, MaxNameLength)
	}
}

func TestRecordingFileName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	if got := RecordingFileName("benchy", ts); got != "benchy_20260304_050607.avi" {
		t.Errorf("RecordingFileName = %q", got)
	}
	if got := DayFolder("/srv", ts); got != filepath.Join("/srv", "2026-03-04") {
		t.Errorf("DayFolder = %q", got)
	}
}

func TestEnsureDayFolderAndProbe(t *testing.T) {
	root := t.TempDir()
	ts := time.Now()

	dir, err := EnsureDayFolder(root, ts)
	if err != nil {
		t.Fatalf("EnsureDayFolder: %v", err)
	}
	// Reusing an existing folder is fine.
	if _, err := EnsureDayFolder(root, ts); err != nil {
		t.Fatalf("EnsureDayFolder (again): %v", err)
	}
	if err := ProbeWritable(dir); err != nil {
		t.Fatalf("ProbeWritable: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("probe left %d files behind", len(entries))
	}
}

func TestProbeWritable_missingDir(t *testing.T) {
	if err := ProbeWritable(filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Fatal("expected error")
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "job_20260101_000000.avi")
	if got := UniquePath(p); got != p {
		t.Fatalf("free path changed: %q", got)
	}
	if err := os.WriteFile(p, nil, 0644); err != nil {
		t.Fatal(err)
	}
	second := UniquePath(p)
	if second != filepath.Join(dir, "job_20260101_000000_2.avi") {
		t.Fatalf("second = %q", second)
	}
	if err := os.WriteFile(second, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if third := UniquePath(p); third != filepath.Join(dir, "job_20260101_000000_3.avi") {
		t.Fatalf("third = %q", third)
	}
}
