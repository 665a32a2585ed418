// Package fileutil names recording files, manages day-folders and writes the
// sidecar metadata stored next to each recording.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MetadataSuffix replaces the recording extension for sidecar files.
const MetadataSuffix = ".meta.json"

// RecordingMetadata is the sidecar written alongside each recording.
type RecordingMetadata struct {
	Version       string    `json:"version"`
	SessionID     string    `json:"session_id"`
	JobName       string    `json:"job_name"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	Duration      string    `json:"duration"`
	DurationMs    int64     `json:"duration_ms"`
	StopReason    string    `json:"stop_reason"`
	Backend       string    `json:"capture_backend"`
	Address       string    `json:"capture_address"`
	Codec         string    `json:"codec"`
	FrameRate     int       `json:"fps"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FramesWritten int64     `json:"frames_written"`
	FramesDropped int64     `json:"frames_dropped"`
	OutputFile    string    `json:"output_file"`
	Error         string    `json:"error,omitempty"`
}

// WriteMetadata writes a <basepath>.meta.json sidecar next to the recording
// using temp file + rename.
func WriteMetadata(recordingPath string, meta *RecordingMetadata) error {
	metaPath := MetadataPath(recordingPath)
	dir := filepath.Dir(metaPath)

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close metadata temp: %w", err)
	}
	success = true

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// MetadataPath returns <basepath>.meta.json for a recording file path.
func MetadataPath(recordingPath string) string {
	return strings.TrimSuffix(recordingPath, filepath.Ext(recordingPath)) + MetadataSuffix
}
