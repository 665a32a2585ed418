// Package ipc exchanges state with local tools through files in the state
// directory: status.json for reading, cmd.txt for commands.
package ipc

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/printwatch/internal/statemachine"
)

// StatusFileName is the status snapshot inside the state directory.
const StatusFileName = "status.json"

// StatusSnapshot is the daemon state at a point in time.
type StatusSnapshot struct {
	Phase        statemachine.Phase    `json:"phase"`
	ShouldRecord bool                  `json:"should_record"`
	JobName      string                `json:"job_name"`
	PrinterState string                `json:"printer_state,omitempty"`
	Connected    bool                  `json:"status_connected"`
	Session      statemachine.Snapshot `json:"session"`
	LastError    string                `json:"last_error,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// WriteStatus persists the snapshot atomically to <dir>/status.json.
func WriteStatus(dir string, status *StatusSnapshot) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(dir, StatusFileName), status)
}

// ReadStatus loads <dir>/status.json.
func ReadStatus(dir string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	if err != nil {
		return nil, err
	}
	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StatusWriter rewrites status.json every interval and whenever Notify is
// called.
type StatusWriter struct {
	dir      string
	interval time.Duration
	collect  func() *StatusSnapshot
	notify   chan struct{}
}

// NewStatusWriter builds a writer. collect is called for every write.
func NewStatusWriter(dir string, interval time.Duration, collect func() *StatusSnapshot) *StatusWriter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatusWriter{dir: dir, interval: interval, collect: collect, notify: make(chan struct{}, 1)}
}

// Notify requests a write without blocking.
func (w *StatusWriter) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run writes until ctx is cancelled, then writes a final snapshot.
func (w *StatusWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.write()
	for {
		select {
		case <-ctx.Done():
			w.write()
			return ctx.Err()
		case <-ticker.C:
		case <-w.notify:
		}
		w.write()
	}
}

func (w *StatusWriter) write() {
	snap := w.collect()
	snap.Timestamp = time.Now()
	if err := WriteStatus(w.dir, snap); err != nil {
		log.Printf("[STATUS] Write %s: %v", StatusFileName, err)
	}
}

// atomicWriteJSON writes data to path through a temp file and rename.
func atomicWriteJSON(path string, data interface{}) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil
	return os.Rename(tmpPath, path)
}
